package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPClient talks to a ledger service over JSON/HTTP.
type HTTPClient struct {
	base     string
	token    string
	http     *http.Client
	attempts int
	delay    time.Duration
}

func NewHTTPClient(base, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		base:     strings.TrimRight(base, "/"),
		token:    token,
		http:     &http.Client{Timeout: timeout},
		attempts: 3,
		delay:    200 * time.Millisecond,
	}
}

// WithRetry overrides attempt count and initial backoff.
func (c *HTTPClient) WithRetry(attempts int, delay time.Duration) *HTTPClient {
	c.attempts = attempts
	c.delay = delay
	return c
}

type transferBody struct {
	Currency string `json:"currency"`
	From     string `json:"from"`
	To       string `json:"to"`
	Amount   string `json:"amount"`
	Memo     string `json:"memo,omitempty"`
}

func (c *HTTPClient) Transfer(ctx context.Context, t Transfer) error {
	payload, err := json.Marshal(transferBody{
		Currency: t.Currency,
		From:     t.From,
		To:       t.To,
		Amount:   t.Amount.Dec(),
		Memo:     t.Memo,
	})
	if err != nil {
		return fmt.Errorf("ledger: marshal transfer: %w", err)
	}

	status, body, err := doWithRetry(ctx, c.attempts, c.delay, func() (int, []byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/transfers", bytes.NewReader(payload))
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", t.IdempotencyKey)
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return 0, nil, err
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return resp.StatusCode, b, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if status == http.StatusConflict {
		// already applied under this idempotency key
		return nil
	}
	if status >= 400 {
		return fmt.Errorf("%w: status %d: %s", ErrRejected, status, strings.TrimSpace(string(body)))
	}
	return nil
}
