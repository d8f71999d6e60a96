package eventlog

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"oracleflow/bytes32"
)

// Aggregate kinds.
const (
	KindAssertion = "assertion"
	KindRequest   = "request"
	KindConfig    = "config"
	KindPolicy    = "policy"
)

// Event names.
const (
	AssertionMade                     = "AssertionMade"
	AssertionDisputed                 = "AssertionDisputed"
	AssertionSettled                  = "AssertionSettled"
	AssertionSettlementPending        = "AssertionSettlementPending"
	AssertionSettlementPayoutFailed   = "AssertionSettlementPayoutFailed"
	AssertionSettlementRetryRequested = "AssertionSettlementRetryRequested"
	AdminPropertiesSet                = "AdminPropertiesSet"
	PriceRequested                    = "PriceRequested"
	VoteCommitted                     = "VoteCommitted"
	RevealPhaseStarted                = "RevealPhaseStarted"
	VoteRevealed                      = "VoteRevealed"
	PriceResolved                     = "PriceResolved"
	LowParticipationTriggered         = "LowParticipationTriggered"
	EmergencyRequired                 = "EmergencyRequired"
	EmergencyPriceResolved            = "EmergencyPriceResolved"
	VotingConfigUpdated               = "VotingConfigUpdated"
	StakeReleased                     = "StakeReleased"
	StakeReleaseFailed                = "StakeReleaseFailed"
	RegistryUpdated                   = "RegistryUpdated"
	ArbitrationResolutionSet          = "ArbitrationResolutionSet"
)

// Event is what services append inside their transaction.
type Event struct {
	AggregateKind string
	AggregateID   bytes32.ID
	Name          string
	Payload       any
}

// Record is a persisted audit entry.
type Record struct {
	ID            uuid.UUID       `json:"id"`
	AggregateKind string          `json:"aggregate_kind"`
	AggregateID   bytes32.ID      `json:"aggregate_id"`
	Name          string          `json:"event"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
}

// OutboxMessage is a record waiting to be relayed.
type OutboxMessage struct {
	ID        uuid.UUID
	Topic     string
	Payload   json.RawMessage
	CreatedAt time.Time
}
