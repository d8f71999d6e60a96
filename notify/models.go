package notify

import (
	"context"
	"time"

	"oracleflow/bytes32"
)

type Kind string

const (
	KindResolved Kind = "resolved"
	KindDisputed Kind = "disputed"
)

// Notification tells a consumer about an assertion outcome. Truthful is set
// only for KindResolved.
type Notification struct {
	Kind        Kind       `json:"kind"`
	Recipient   string     `json:"recipient"`
	AssertionID bytes32.ID `json:"assertion_id"`
	Truthful    *bool      `json:"truthful,omitempty"`
	IssuedAt    time.Time  `json:"issued_at"`
}

// Sink delivers a notification at most once. Callers never retry.
type Sink interface {
	Deliver(ctx context.Context, n Notification) error
}

// Nop drops everything.
type Nop struct{}

func (Nop) Deliver(context.Context, Notification) error { return nil }
