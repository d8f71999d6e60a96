package policy

import (
	"context"

	"oracleflow/bytes32"
	"oracleflow/errs"
)

// Whitelist names.
const (
	ListAssertingCallers = "asserting_callers"
	ListAsserters        = "asserters"
	ListDisputers        = "disputers"
)

var (
	ErrUnknownManager         = errs.New(errs.Admission, "policy: unknown escalation manager")
	ErrNotOwner               = errs.New(errs.Forbidden, "policy: caller is not the manager owner")
	ErrAlreadyArbitrated      = errs.New(errs.Conflict, "policy: arbitration already resolved")
	ErrInvalidSettings        = errs.New(errs.Admission, "policy: cannot block only by asserter")
	ErrArbitrationUnsupported = errs.New(errs.Admission, "policy: manager does not arbitrate")
	ErrNotConfigurable        = errs.New(errs.Admission, "policy: manager settings are fixed")
)

// Settings are the flags an assertion freezes when it is created.
type Settings struct {
	BlockByAssertingCaller bool `json:"block_by_asserting_caller" yaml:"block_by_asserting_caller"`
	BlockByAsserter        bool `json:"block_by_asserter" yaml:"block_by_asserter"`
	ValidateDisputers      bool `json:"validate_disputers" yaml:"validate_disputers"`
	ArbitrateViaManager    bool `json:"arbitrate_via_manager" yaml:"arbitrate_via_manager"`
	DiscardOracle          bool `json:"discard_oracle" yaml:"discard_oracle"`
}

// Ref identifies a disputed assertion to its escalation manager. RequestKey is
// the request id the dispute maps to, whether or not a vote was opened.
type Ref struct {
	AssertionID bytes32.ID
	RequestKey  bytes32.ID
}

// Hook is the per-assertion escalation capability.
type Hook interface {
	Address() string
	Settings() Settings
	IsAssertionAllowed(ctx context.Context, claim bytes32.ID, asserter, caller string) (bool, error)
	IsDisputeAllowed(ctx context.Context, assertionID bytes32.ID, disputer string) (bool, error)
	// ResolutionOverride returns nil until the manager has a resolution for ref.
	ResolutionOverride(ctx context.Context, ref Ref) (*bool, error)
}
