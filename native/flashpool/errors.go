package flashpool

import "errors"

var (
	ErrNotWhitelisted        = errors.New("flashpool: asset not whitelisted")
	ErrInvalidAmount         = errors.New("flashpool: amount must be positive")
	ErrInsufficientLiquidity = errors.New("flashpool: insufficient liquidity")
	ErrFeeTooHigh            = errors.New("flashpool: fee exceeds maximum basis points")
	ErrUnauthorized          = errors.New("flashpool: unauthorized")
)
