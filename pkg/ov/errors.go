package ov

import "errors"

// Typed failures returned by the engine. Callers branch with errors.Is;
// presentation strings live at the RPC boundary.
var (
	// Validation: caller supplied an out-of-domain argument.
	ErrInvalidRate                 = errors.New("invalid rate")
	ErrInvalidFreeWithdrawableRate = errors.New("invalid free withdrawable rate")
	ErrOutOfRange                  = errors.New("out of range")
	ErrLengthMismatch              = errors.New("length mismatch")

	// Precondition: operation not applicable in the current state.
	ErrZeroAmount         = errors.New("zero amount")
	ErrZeroShare          = errors.New("zero share")
	ErrAlreadyInitialized = errors.New("already initialized")
	ErrFrozen             = errors.New("frozen")
	ErrSettled            = errors.New("already settled")
	ErrInvalidTime        = errors.New("invalid time")
	ErrUnsettled          = errors.New("unsettled")
	ErrInvalidRoundId     = errors.New("invalid round id")

	// Risk: the change would violate a margin invariant or slippage bound.
	ErrUnavailable        = errors.New("unavailable")
	ErrCannotClear        = errors.New("cannot clear")
	ErrWithdrawTooMuch    = errors.New("withdraw too much")
	ErrBankruptcy         = errors.New("bankruptcy")
	ErrInsufficientEquity = errors.New("insufficient equity")
	ErrUnacceptableAmount = errors.New("unacceptable amount")
	ErrGasMoreThanAmount  = errors.New("gas more than amount")

	// Access control and account state.
	ErrNotAuthorized  = errors.New("not authorized")
	ErrInvalidAccount = errors.New("invalid account")

	// Oracle failures.
	ErrStalePrice    = errors.New("stale price")
	ErrAboveMaxPrice = errors.New("above max price")
	ErrBelowMinPrice = errors.New("below min price")
)
