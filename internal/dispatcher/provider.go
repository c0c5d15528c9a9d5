package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/jmehdipour/outreach-scheduler/internal/model"
	"golang.org/x/time/rate"
)

// Provider is the outward send capability. Errors are classified with
// OutcomeOf: ErrInvalidRecipient, *RateLimitError, anything else transient.
type Provider interface {
	Name() string
	Send(ctx context.Context, recipient, text string) error
}

type HTTPProvider struct {
	name     string
	baseURL  string
	sendPath string
	client   *http.Client
	br       *MicroBreaker
	limiter  *rate.Limiter
}

type sendRequest struct {
	Recipient string `json:"recipient"`
	Text      string `json:"text"`
}

type errorResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after"` // seconds
}

func NewHTTPProvider(
	name, baseURL, sendPath string,
	timeoutMs int, maxRPS float64,
	failThreshold, openForMs int,
) *HTTPProvider {
	if timeoutMs <= 0 {
		timeoutMs = 3000
	}

	if failThreshold <= 0 {
		failThreshold = 3
	}

	if openForMs <= 0 {
		openForMs = 15000
	}

	limit := rate.Inf
	if maxRPS > 0 {
		limit = rate.Limit(maxRPS)
	}

	return &HTTPProvider{
		name:     name,
		baseURL:  baseURL,
		sendPath: sendPath,
		client:   &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		br:       NewMicroBreaker(failThreshold, time.Duration(openForMs)*time.Millisecond),
		limiter:  rate.NewLimiter(limit, 1),
	}
}

var _ Provider = (*HTTPProvider)(nil)

func (p *HTTPProvider) Name() string { return p.name }

// Send posts one message. There are no retries here: a transient failure is
// retried by the next dispatch tick.
func (p *HTTPProvider) Send(ctx context.Context, recipient, text string) error {
	if !p.br.TryAcquire() {
		return ErrBreakerOpen
	}
	if err := p.limiter.Wait(ctx); err != nil {
		p.br.OnRelease()
		return err
	}

	err := p.post(ctx, sendRequest{Recipient: recipient, Text: text})
	switch OutcomeOf(err).Result {
	case model.SendSent:
		p.br.OnSuccess()
	case model.SendTransient:
		p.br.OnFailure()
	default:
		// the provider answered; its health is fine
		p.br.OnRelease()
	}
	return err
}

func (p *HTTPProvider) post(ctx context.Context, body sendRequest) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.sendPath, bytes.NewReader(b))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		return err
	}

	defer res.Body.Close()

	if res.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}

	var er errorResponse
	_ = json.NewDecoder(io.LimitReader(res.Body, 64<<10)).Decode(&er)

	switch res.StatusCode {
	case http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: retryAfter(res.Header.Get("Retry-After"), er.RetryAfter)}
	case http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusGone:
		return fmt.Errorf("provider=%s status=%d %s: %w", p.name, res.StatusCode, er.Error, ErrInvalidRecipient)
	default:
		return fmt.Errorf("provider=%s path=%s status=%d", p.name, p.sendPath, res.StatusCode)
	}
}

// retryAfter prefers the header (delta-seconds) over the body hint.
func retryAfter(header string, bodySeconds int) time.Duration {
	if s, err := strconv.Atoi(header); err == nil && s > 0 {
		return time.Duration(s) * time.Second
	}
	if bodySeconds > 0 {
		return time.Duration(bodySeconds) * time.Second
	}
	return 0
}
