package model

import "time"

type SendResult int

const (
	SendSent SendResult = iota
	SendInvalidRecipient
	SendRateLimited
	SendTransient
)

func (r SendResult) String() string {
	switch r {
	case SendSent:
		return "sent"
	case SendInvalidRecipient:
		return "invalid_recipient"
	case SendRateLimited:
		return "rate_limited"
	default:
		return "transient"
	}
}

// SendOutcome is the classified result of a single provider send.
// RetryAfter is only meaningful for SendRateLimited.
type SendOutcome struct {
	Result     SendResult
	RetryAfter time.Duration
	Detail     string
}
