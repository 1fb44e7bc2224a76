package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/sneakvault/orders/internal/repositories"
)

var (
	// ErrValidation signals a malformed request. Field details are available through *ValidationError.
	ErrValidation = errors.New("orders: validation failed")
	// ErrUnauthorizedEvent signals a webhook that failed provider verification.
	ErrUnauthorizedEvent = errors.New("orders: unauthorized event")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("orders: order not found")
	// ErrInvalidEvent indicates an event incompatible with the order's lifecycle.
	ErrInvalidEvent = errors.New("orders: invalid event for order")
	// ErrGateway indicates the payment provider could not create an invoice.
	ErrGateway = errors.New("orders: payment gateway failure")
	// ErrStore indicates the order store failed or rejected the write.
	ErrStore = errors.New("orders: store failure")
	// ErrTimeout indicates a store call exceeded its deadline.
	ErrTimeout = errors.New("orders: store timeout")
)

// ValidationError lists the offending fields of a rejected request.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	keys := slices.Sorted(maps.Keys(e.Fields))
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+": "+e.Fields[key])
	}
	return fmt.Sprintf("%s: %s", ErrValidation.Error(), strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type fieldErrors map[string]string

func (f fieldErrors) add(field, msg string) {
	if _, exists := f[field]; !exists {
		f[field] = msg
	}
}

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return &ValidationError{Fields: maps.Clone(f)}
}

func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: conflict: %v", ErrStore, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrStore, err)
}

func isConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
