package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/3leaps/annflow/pkg/provider"
)

// Error codes attached to transfer failures in logs.
const (
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeAccessDenied        = "ACCESS_DENIED"
	ErrCodeThrottled           = "THROTTLED"
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrCodeTimeout             = "TIMEOUT"
	ErrCodeSizeMismatch        = "SIZE_MISMATCH"
	ErrCodeInternal            = "INTERNAL"
)

// SizeMismatchError indicates the bytes received differ from the content
// length the store reported.
type SizeMismatchError struct {
	Key      string
	Expected int64
	Got      int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("size mismatch for %s: expected=%d got=%d", e.Key, e.Expected, e.Got)
}

// Classify maps a transfer failure to a stable code.
func Classify(err error) string {
	var sme *SizeMismatchError
	switch {
	case provider.IsNotFound(err):
		return ErrCodeNotFound
	case provider.IsAccessDenied(err):
		return ErrCodeAccessDenied
	case provider.IsThrottled(err):
		return ErrCodeThrottled
	case provider.IsProviderUnavailable(err):
		return ErrCodeProviderUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.As(err, &sme):
		return ErrCodeSizeMismatch
	default:
		return ErrCodeInternal
	}
}
