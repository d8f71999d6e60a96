package registry

import (
	"github.com/holiman/uint256"

	"oracleflow/errs"
)

// Directory names.
const (
	NameOptimisticOracle    = "OptimisticOracle"
	NameVoting              = "Voting"
	NameStore               = "Store"
	NameIdentifierWhitelist = "IdentifierWhitelist"
	NameCollateralWhitelist = "CollateralWhitelist"
)

var (
	ErrCurrencyNotWhitelisted   = errs.New(errs.Admission, "registry: currency not whitelisted")
	ErrIdentifierNotWhitelisted = errs.New(errs.Admission, "registry: identifier not whitelisted")
	ErrNotAuthorized            = errs.New(errs.Forbidden, "registry: requester not authorized")
	ErrNotOwner                 = errs.New(errs.Forbidden, "registry: caller is not the owner")
	ErrUnknownName              = errs.New(errs.NotFound, "registry: directory name not registered")
)

// Currency is a bond currency together with the final fee owed on disputes.
type Currency struct {
	Address     string       `json:"currency"`
	Whitelisted bool         `json:"whitelisted"`
	FinalFee    *uint256.Int `json:"final_fee"`
}
