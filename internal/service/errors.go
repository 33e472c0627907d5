package service

import (
	"errors"
)

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrNotFound         = errors.New("not found")
	ErrSoldOut          = errors.New("sold out")
	ErrBarcodeExhausted = errors.New("unable to generate a unique barcode")
)

// MintFailedError is returned when the minting collaborator did not mint.
// By the time it reaches the caller the reservation has been released.
type MintFailedError struct {
	Reason string
	Err    error
}

func (e *MintFailedError) Error() string {
	return "mint failed: " + e.Reason
}

func (e *MintFailedError) Unwrap() error {
	return e.Err
}
