package voting

import (
	"time"

	"github.com/holiman/uint256"

	"oracleflow/bytes32"
	"oracleflow/errs"
)

type Phase string

const (
	PhaseCommit   Phase = "commit"
	PhaseReveal   Phase = "reveal"
	PhaseResolved Phase = "resolved"
)

var (
	ErrRequestNotFound     = errs.New(errs.NotFound, "voting: request not found")
	ErrRequestExists       = errs.New(errs.Conflict, "voting: request already exists")
	ErrNotAuthorized       = errs.New(errs.Forbidden, "voting: requester not authorized")
	ErrNotOwner            = errs.New(errs.Forbidden, "voting: caller is not the owner")
	ErrNotCommitPhase      = errs.New(errs.Temporal, "voting: not in commit phase")
	ErrCommitEnded         = errs.New(errs.Temporal, "voting: commit phase has ended")
	ErrCommitNotEnded      = errs.New(errs.Temporal, "voting: commit phase not yet ended")
	ErrNotRevealPhase      = errs.New(errs.Temporal, "voting: not in reveal phase")
	ErrRevealEnded         = errs.New(errs.Temporal, "voting: reveal phase has ended")
	ErrRevealNotEnded      = errs.New(errs.Temporal, "voting: reveal phase not yet ended")
	ErrExtensionsRemaining = errs.New(errs.Temporal, "voting: low participation extensions not exhausted")
	ErrAlreadyCommitted    = errs.New(errs.Conflict, "voting: voter already committed")
	ErrAlreadyRevealed     = errs.New(errs.Conflict, "voting: vote already revealed")
	ErrAlreadyResolved     = errs.New(errs.Conflict, "voting: request already resolved")
	ErrNoCommit            = errs.New(errs.NotFound, "voting: no commitment for voter")
	ErrHashMismatch        = errs.New(errs.Integrity, "voting: reveal does not match commitment")
	ErrZeroStake           = errs.New(errs.Admission, "voting: stake must be positive")
	ErrWrongToken          = errs.New(errs.Admission, "voting: stake currency is not the voting token")
	ErrNotResolved         = errs.New(errs.Temporal, "voting: request not resolved")
)

// Terms are the parameters a request copies from the voting configuration when it opens.
type Terms struct {
	StakeCurrency       string        `json:"stake_currency"`
	CommitDuration      time.Duration `json:"commit_duration"`
	RevealDuration      time.Duration `json:"reveal_duration"`
	MinParticipationBps uint32        `json:"min_participation_bps"`
	SlashRateBps        uint32        `json:"slash_rate_bps"`
	TreasuryBps         uint32        `json:"treasury_bps"`
	MaxExtensions       uint32        `json:"max_extensions"`
}

// Request is one resolution request.
type Request struct {
	ID                bytes32.ID   `json:"id"`
	Identifier        bytes32.ID   `json:"identifier"`
	Time              time.Time    `json:"time"`
	Ancillary         []byte       `json:"ancillary"`
	Requester         string       `json:"requester"`
	Phase             Phase        `json:"phase"`
	CommitEnd         time.Time    `json:"commit_end"`
	RevealEnd         time.Time    `json:"reveal_end"`
	ResolvedPrice     *int64       `json:"resolved_price,omitempty"`
	ExtensionsUsed    uint32       `json:"extensions_used"`
	EmergencyRequired bool         `json:"emergency_required"`
	Emergency         bool         `json:"emergency"`
	Terms             Terms        `json:"terms"`
	TotalCommitted    *uint256.Int `json:"total_committed"`
	TotalRevealed     *uint256.Int `json:"total_revealed"`
	VoterCount        int          `json:"voter_count"`
}

func (r Request) clone() Request {
	r.Ancillary = append([]byte(nil), r.Ancillary...)
	if r.ResolvedPrice != nil {
		p := *r.ResolvedPrice
		r.ResolvedPrice = &p
	}
	r.TotalCommitted = r.TotalCommitted.Clone()
	r.TotalRevealed = r.TotalRevealed.Clone()
	return r
}

// Vote is one voter's commitment on a request.
type Vote struct {
	RequestID   bytes32.ID   `json:"request_id"`
	Voter       string       `json:"voter"`
	Stake       *uint256.Int `json:"stake"`
	CommitHash  bytes32.ID   `json:"commit_hash"`
	Revealed    bool         `json:"revealed"`
	Price       *int64       `json:"price,omitempty"`
	CommittedAt time.Time    `json:"committed_at"`
	RevealedAt  time.Time    `json:"revealed_at"`
}

func (v Vote) clone() Vote {
	v.Stake = v.Stake.Clone()
	if v.Price != nil {
		p := *v.Price
		v.Price = &p
	}
	return v
}

type OutcomeStatus string

const (
	OutcomeResolved          OutcomeStatus = "resolved"
	OutcomeExtended          OutcomeStatus = "reveal_extended"
	OutcomeEmergencyRequired OutcomeStatus = "emergency_required"
)

// Outcome is what ResolvePrice did.
type Outcome struct {
	Status          OutcomeStatus `json:"status"`
	Price           *int64        `json:"price,omitempty"`
	ExtensionsUsed  uint32        `json:"extensions_used"`
	RevealEnd       time.Time     `json:"reveal_end"`
	ReleasesPending bool          `json:"releases_pending"`
}
