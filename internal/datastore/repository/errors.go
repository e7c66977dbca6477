package repository

import (
	"errors"

	"gorm.io/gorm"
)

// Sentinel errors returned by the repositories.
var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrMaterialNotFound = errors.New("material not found")
	ErrAlertNotFound    = errors.New("alert not found")

	// ErrAlertExists means an unresolved alert with the same idempotency key
	// is already stored.
	ErrAlertExists = errors.New("unresolved alert already exists")

	ErrInvalidStatus     = errors.New("invalid status")
	ErrInvalidTransition = errors.New("order status cannot move backwards")
	ErrInvalidStock      = errors.New("stock cannot be negative")
)

// isDuplicateKey reports whether err is a unique constraint violation. Every
// handle is opened with TranslateError, so the drivers surface it as
// gorm.ErrDuplicatedKey.
func isDuplicateKey(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
