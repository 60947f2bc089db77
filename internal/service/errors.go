package service

import (
	"errors"
	"fmt"
	"strings"

	"soilify/internal/store"

	"go.uber.org/multierr"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrAuthRequired      = errors.New("authentication required")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrPartialFailure    = errors.New("partial failure")
)

// StockFailure records a stock decrement that did not apply after an order was created.
type StockFailure struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Err       error  `json:"-"`
}

// PartialFailureError is returned together with a created order when one or
// more stock decrements failed. The order stands.
type PartialFailureError struct {
	OrderID  string
	Failures []StockFailure
}

func (e *PartialFailureError) Error() string {
	ids := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		ids[i] = f.ProductID
	}
	return fmt.Sprintf("order %s created but stock update failed for %s", e.OrderID, strings.Join(ids, ", "))
}

func (e *PartialFailureError) Is(target error) bool {
	return target == ErrPartialFailure
}

func (e *PartialFailureError) Unwrap() error {
	var combined error
	for _, f := range e.Failures {
		combined = multierr.Append(combined, f.Err)
	}
	return combined
}

// Warnings returns one message per failed product for display to operators.
func (e *PartialFailureError) Warnings() []string {
	out := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = fmt.Sprintf("stock for product %s was not reduced by %d", f.ProductID, f.Quantity)
	}
	return out
}

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// mapStoreError translates store sentinels into service sentinels.
func mapStoreError(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: %s", ErrConflict, what)
	default:
		return err
	}
}
