package params

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"oracleflow/bytes32"
	"oracleflow/errs"
	"oracleflow/units"
)

var (
	ErrNotOwner        = errs.New(errs.Forbidden, "params: caller is not the owner")
	ErrVersionConflict = errs.New(errs.Conflict, "params: version changed concurrently")
	ErrNotInitialized  = errs.New(errs.NotFound, "params: configuration not initialized")
	ErrInvalid         = errs.New(errs.Admission, "params: invalid configuration")
)

// DefaultIdentifier is the identifier used for plain truth assertions.
var DefaultIdentifier = bytes32.MustFromString("ASSERT_TRUTH")

// OracleParams configure the assertion engine.
type OracleParams struct {
	Version            int64         `json:"version"`
	Owner              string        `json:"owner"`
	BurnedBondFraction *uint256.Int  `json:"burned_bond_fraction"`
	DefaultLiveness    time.Duration `json:"default_liveness"`
	DefaultCurrency    string        `json:"default_currency"`
	DefaultIdentifier  bytes32.ID    `json:"default_identifier"`
	UpdatedBy          string        `json:"updated_by"`
}

// VotingParams configure the resolution engine. Requests copy them at creation.
type VotingParams struct {
	Version             int64         `json:"version"`
	Owner               string        `json:"owner"`
	VotingToken         string        `json:"voting_token"`
	CommitDuration      time.Duration `json:"commit_duration"`
	RevealDuration      time.Duration `json:"reveal_duration"`
	MinParticipationBps uint32        `json:"min_participation_bps"`
	SlashRateBps        uint32        `json:"slash_rate_bps"`
	TreasuryBps         uint32        `json:"treasury_bps"`
	MaxExtensions       uint32        `json:"max_extensions"`
	UpdatedBy           string        `json:"updated_by"`
}

// DefaultOracle returns version-1 oracle parameters.
func DefaultOracle(owner, currency string) OracleParams {
	return OracleParams{
		Version:            1,
		Owner:              owner,
		BurnedBondFraction: units.MustParse("500000000000000000"),
		DefaultLiveness:    2 * time.Hour,
		DefaultCurrency:    currency,
		DefaultIdentifier:  DefaultIdentifier,
		UpdatedBy:          owner,
	}
}

// DefaultVoting returns version-1 voting parameters.
func DefaultVoting(owner, token string) VotingParams {
	return VotingParams{
		Version:             1,
		Owner:               owner,
		VotingToken:         token,
		CommitDuration:      24 * time.Hour,
		RevealDuration:      24 * time.Hour,
		MinParticipationBps: 500,
		SlashRateBps:        1000,
		TreasuryBps:         5000,
		MaxExtensions:       1,
		UpdatedBy:           owner,
	}
}

func (p OracleParams) Validate() error {
	switch {
	case p.Owner == "":
		return fmtInvalid("owner required")
	case p.BurnedBondFraction == nil || p.BurnedBondFraction.IsZero():
		return fmtInvalid("burned bond fraction must be positive")
	case p.BurnedBondFraction.Gt(units.Scale()):
		return fmtInvalid("burned bond fraction above 1e18")
	case p.DefaultLiveness <= 0:
		return fmtInvalid("default liveness must be positive")
	}
	return nil
}

func (p VotingParams) Validate() error {
	switch {
	case p.Owner == "":
		return fmtInvalid("owner required")
	case p.VotingToken == "":
		return fmtInvalid("voting token required")
	case p.CommitDuration <= 0 || p.RevealDuration <= 0:
		return fmtInvalid("phase durations must be positive")
	case p.MinParticipationBps > units.BpsDenominator,
		p.SlashRateBps > units.BpsDenominator,
		p.TreasuryBps > units.BpsDenominator:
		return fmtInvalid("basis points above 10000")
	}
	return nil
}

func fmtInvalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalid, msg)
}
