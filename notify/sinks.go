package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type envelope struct {
	Kind        Kind   `json:"kind"`
	AssertionID string `json:"assertion_id"`
	Truthful    *bool  `json:"truthful,omitempty"`
	Token       string `json:"token"`
}

// Webhook POSTs signed notifications to http(s) recipients.
type Webhook struct {
	signer *Signer
	client *http.Client
}

func NewWebhook(signer *Signer, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Webhook{signer: signer, client: &http.Client{Timeout: timeout}}
}

func (w *Webhook) Deliver(ctx context.Context, n Notification) error {
	token, err := w.signer.Sign(n)
	if err != nil {
		return err
	}
	body, err := json.Marshal(envelope{Kind: n.Kind, AssertionID: n.AssertionID.String(), Truthful: n.Truthful, Token: token})
	if err != nil {
		return fmt.Errorf("notify: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.Recipient, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post %s: %w", n.Recipient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: post %s: status %d", n.Recipient, resp.StatusCode)
	}
	return nil
}

// Stream appends signed notifications to a per-recipient redis stream.
type Stream struct {
	signer *Signer
	rdb    *redis.Client
	prefix string
}

func NewStream(signer *Signer, rdb *redis.Client) *Stream {
	return &Stream{signer: signer, rdb: rdb, prefix: "oracle:notify:"}
}

// StreamName is the stream a recipient reads from.
func (s *Stream) StreamName(recipient string) string {
	return s.prefix + recipient
}

func (s *Stream) Deliver(ctx context.Context, n Notification) error {
	token, err := s.signer.Sign(n)
	if err != nil {
		return err
	}
	values := map[string]interface{}{
		"kind":         string(n.Kind),
		"assertion_id": n.AssertionID.String(),
		"token":        token,
	}
	if n.Truthful != nil {
		values["truthful"] = strconv.FormatBool(*n.Truthful)
	}
	if _, err := s.rdb.XAdd(ctx, &redis.XAddArgs{Stream: s.StreamName(n.Recipient), Values: values}).Result(); err != nil {
		return fmt.Errorf("notify: xadd %s: %w", n.Recipient, err)
	}
	return nil
}

// Router sends URL recipients to the webhook sink and everything else to the stream sink.
type Router struct {
	webhook Sink
	stream  Sink
	log     *zap.Logger
}

func NewRouter(webhook, stream Sink, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{webhook: webhook, stream: stream, log: log}
}

func (r *Router) Deliver(ctx context.Context, n Notification) error {
	var sink Sink
	if strings.HasPrefix(n.Recipient, "http://") || strings.HasPrefix(n.Recipient, "https://") {
		sink = r.webhook
	} else {
		sink = r.stream
	}
	if sink == nil {
		r.log.Debug("no sink for recipient", zap.String("account", n.Recipient), zap.String("kind", string(n.Kind)))
		return nil
	}
	return sink.Deliver(ctx, n)
}

// Recorder keeps deliveries in memory. Useful for dev mode and tests.
type Recorder struct {
	mu  sync.Mutex
	got []Notification
	err error
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// FailWith makes subsequent deliveries return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *Recorder) Deliver(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.got = append(r.got, n)
	return nil
}

func (r *Recorder) Delivered() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.got))
	copy(out, r.got)
	return out
}
