package errs

import "errors"

var (
	// ErrNotFound indicates that a referenced alert, user or withdrawal is absent.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the actor lacks rights for the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrInsufficientFunds indicates the user's balance cannot cover the request.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInvalidAmount indicates a non-positive or malformed numeric input.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrCapacityExceeded indicates no responder slot is available for the alert.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrTransientStore indicates a store conflict or timeout that the caller
	// may retry. The service does not retry past its internal bound, so a
	// double submission is never masked.
	ErrTransientStore = errors.New("transient store error")
)
