package dispatcher

import (
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/outreach-scheduler/internal/model"
)

var (
	// ErrInvalidRecipient marks an address that will never accept a message.
	ErrInvalidRecipient = errors.New("invalid recipient")
	ErrBreakerOpen      = errors.New("provider circuit open")
)

// RateLimitError is returned when the provider throttles the sending
// identity. RetryAfter is zero when the provider gave no hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter <= 0 {
		return "provider rate limited"
	}
	return fmt.Sprintf("provider rate limited, retry after %s", e.RetryAfter)
}

// OutcomeOf classifies a Send error.
func OutcomeOf(err error) model.SendOutcome {
	if err == nil {
		return model.SendOutcome{Result: model.SendSent}
	}
	var rl *RateLimitError
	switch {
	case errors.As(err, &rl):
		return model.SendOutcome{Result: model.SendRateLimited, RetryAfter: rl.RetryAfter, Detail: err.Error()}
	case errors.Is(err, ErrInvalidRecipient):
		return model.SendOutcome{Result: model.SendInvalidRecipient, Detail: err.Error()}
	default:
		return model.SendOutcome{Result: model.SendTransient, Detail: err.Error()}
	}
}
