package fetch

import (
	"context"
	"errors"
	"fmt"

	"github.com/rickgao/barfeed/internal/api"
	"github.com/rickgao/barfeed/internal/auth"
	"github.com/rickgao/barfeed/internal/model"
)

// TransientError is a provider failure for one key that the next cycle may
// not repeat: timeouts, rate limits, unavailability.
type TransientError struct {
	Key    model.Key
	Window model.FetchWindow
	Err    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("fetch %s [%s]: %v", e.Key, e.Window, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Kind classifies err for logs and metrics.
func Kind(err error) string {
	var af *auth.AuthFailure
	switch {
	case err == nil:
		return ""
	case errors.As(err, &af):
		return "auth_failure"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, api.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, api.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, api.ErrUnavailable):
		return "unavailable"
	}
	var te *TransientError
	if errors.As(err, &te) {
		return "provider"
	}
	return "other"
}
