package deposit

import (
	"oracleflow/bytes32"
	"oracleflow/errs"
)

type Action string

const (
	ActionAssertTruth Action = "assert_truth"
	ActionDispute     Action = "dispute_assertion"
	ActionCommitVote  Action = "commit_vote"
)

var (
	ErrMalformed     = errs.New(errs.Admission, "deposit: malformed message")
	ErrUnknownAction = errs.New(errs.Admission, "deposit: unknown action")
	ErrWrongReceiver = errs.New(errs.Admission, "deposit: deposit sent to the wrong escrow")
	ErrWrongCurrency = errs.New(errs.Admission, "deposit: currency not accepted for this action")
	ErrZeroAmount    = errs.New(errs.Admission, "deposit: amount must be positive")
)

// Message is the instruction payload attached to a deposit. Which fields are
// read depends on Action.
type Message struct {
	Action Action `json:"action"`

	// assert_truth
	Claim             string `json:"claim,omitempty"`
	Asserter          string `json:"asserter,omitempty"`
	CallbackRecipient string `json:"callback_recipient,omitempty"`
	EscalationManager string `json:"escalation_manager,omitempty"`
	LivenessSeconds   int64  `json:"liveness_seconds,omitempty"`
	Identifier        string `json:"identifier,omitempty"`
	DomainID          string `json:"domain_id,omitempty"`

	// assert_truth (optional override) and dispute_assertion
	AssertionID string `json:"assertion_id,omitempty"`
	Disputer    string `json:"disputer,omitempty"`

	// commit_vote
	RequestID  string `json:"request_id,omitempty"`
	CommitHash string `json:"commit_hash,omitempty"`
}

// Result describes what a deposit did. Refund is the amount handed back to the sender.
type Result struct {
	Action      Action      `json:"action"`
	AssertionID *bytes32.ID `json:"assertion_id,omitempty"`
	RequestID   *bytes32.ID `json:"request_id,omitempty"`
	Refund      string      `json:"refund"`
}
