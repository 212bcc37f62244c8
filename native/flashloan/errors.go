package flashloan

import "errors"

var (
	ErrReentrantCall            = errors.New("flashloan: loan session already in flight")
	ErrInvalidReceiver          = errors.New("flashloan: invalid receiver")
	ErrCallbackFailed           = errors.New("flashloan: borrower callback failed")
	ErrRepaymentFailed          = errors.New("flashloan: repayment collection failed")
	ErrBalanceInvariantViolated = errors.New("flashloan: pool balance invariant violated")
)
