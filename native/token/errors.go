package token

import "errors"

var (
	ErrInvalidAsset          = errors.New("token: invalid asset symbol")
	ErrInvalidAmount         = errors.New("token: amount must be positive")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
)
