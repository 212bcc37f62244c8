package achievements

import "errors"

var (
	ErrUnauthorized    = errors.New("achievements: unauthorized minter")
	ErrAlreadyBadged   = errors.New("achievements: user already holds a badge")
	ErrNonTransferable = errors.New("achievements: badges are non-transferable")
	ErrBadgeNotFound   = errors.New("achievements: badge not found")
)
