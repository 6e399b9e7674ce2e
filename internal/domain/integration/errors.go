package integration

import (
	"errors"
	"fmt"
)

var (
	// Platform errors
	ErrPlatformNotConfigured   = errors.New("integration: platform not configured")
	ErrPlatformInvalidResponse = errors.New("integration: invalid platform response")
	ErrPlatformAuthFailed      = errors.New("integration: platform authentication failed")
	ErrTransient               = errors.New("integration: transient platform error")
	ErrProductNotFound         = errors.New("integration: remote product not found")

	// Mapping errors
	ErrMappingInvalidSKU       = errors.New("integration: invalid SKU")
	ErrMappingInvalidProductID = errors.New("integration: invalid platform product ID")
	ErrMappingInvalidDirection = errors.New("integration: invalid sync direction")
	ErrMappingInvalidMargin    = errors.New("integration: margin rate must be positive")
	ErrMappingNotFound         = errors.New("integration: product mapping not found")
	ErrMappingInactive         = errors.New("integration: product mapping is inactive")
)

// TransientError wraps a failure that may succeed when retried
// (timeouts, throttling, 5xx responses).
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("integration: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *TransientError) Unwrap() error {
	return e.Err
}

// Is makes every TransientError match ErrTransient
func (e *TransientError) Is(target error) bool {
	return target == ErrTransient
}

// NewTransientError wraps err as a retryable failure of op
func NewTransientError(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// IsRetryable reports whether err should be retried with backoff
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
