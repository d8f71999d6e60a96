package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"oracleflow/bytes32"
	"oracleflow/db"
	"oracleflow/eventlog"
	"oracleflow/units"
)

// EventWriter appends audit events in the caller's transaction.
type EventWriter interface {
	Append(ctx context.Context, tx pgx.Tx, ev eventlog.Event) error
}

// OwnerSource reports the account allowed to change registry entries.
type OwnerSource interface {
	Owner(ctx context.Context) (string, error)
}

// OwnerFunc adapts a function to OwnerSource.
type OwnerFunc func(ctx context.Context) (string, error)

func (f OwnerFunc) Owner(ctx context.Context) (string, error) { return f(ctx) }

var registryAggregate = bytes32.MustFromString("registry")

// Service is the read/write front of the fee registry, identifier whitelist,
// authorization registry and directory.
type Service struct {
	pool   db.TxBeginner
	reader db.Querier
	repo   Repository
	events EventWriter
	owner  OwnerSource
	log    *zap.Logger
}

func NewService(pool db.TxBeginner, repo Repository, events EventWriter, owner OwnerSource) *Service {
	if repo == nil {
		repo = NewPGRepository()
	}
	return &Service{pool: pool, reader: db.ReaderOf(pool), repo: repo, events: events, owner: owner, log: zap.NewNop()}
}

func (s *Service) WithLogger(log *zap.Logger) *Service {
	if log != nil {
		s.log = log
	}
	return s
}

// FinalFee returns the fixed fee owed downstream for a whitelisted currency.
func (s *Service) FinalFee(ctx context.Context, currency string) (*uint256.Int, error) {
	c, err := s.repo.GetCurrency(ctx, s.reader, currency)
	if err != nil {
		return nil, err
	}
	if !c.Whitelisted {
		return nil, ErrCurrencyNotWhitelisted
	}
	return c.FinalFee, nil
}

func (s *Service) IsCurrencyWhitelisted(ctx context.Context, currency string) (bool, error) {
	c, err := s.repo.GetCurrency(ctx, s.reader, currency)
	if errors.Is(err, ErrCurrencyNotWhitelisted) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return c.Whitelisted, nil
}

// MinimumBond is ceil(final_fee * 1e18 / burnedFraction): the bond whose burned
// share still covers the final fee.
func (s *Service) MinimumBond(ctx context.Context, currency string, burnedFraction *uint256.Int) (*uint256.Int, error) {
	fee, err := s.FinalFee(ctx, currency)
	if err != nil {
		return nil, err
	}
	return MinimumBond(fee, burnedFraction)
}

// MinimumBond computes the minimum bond for a final fee.
func MinimumBond(finalFee, burnedFraction *uint256.Int) (*uint256.Int, error) {
	if finalFee.IsZero() {
		return units.Zero(), nil
	}
	return units.CeilMulDiv(finalFee, units.Scale(), burnedFraction)
}

func (s *Service) IsIdentifierWhitelisted(ctx context.Context, id bytes32.ID) (bool, error) {
	return s.repo.IdentifierWhitelisted(ctx, s.reader, id)
}

func (s *Service) IsAuthorized(ctx context.Context, account string) (bool, error) {
	return s.repo.RequesterAuthorized(ctx, s.reader, account)
}

// Lookup resolves a directory name to its current address.
func (s *Service) Lookup(ctx context.Context, name string) (string, error) {
	return s.repo.LookupAddress(ctx, s.reader, name)
}

func (s *Service) SetCurrency(ctx context.Context, caller string, c Currency) error {
	if c.FinalFee == nil {
		c.FinalFee = units.Zero()
	}
	return s.mutate(ctx, caller, "currency", c, func(tx pgx.Tx) error {
		return s.repo.UpsertCurrency(ctx, tx, c)
	})
}

func (s *Service) SetIdentifier(ctx context.Context, caller string, id bytes32.ID, allowed bool) error {
	return s.mutate(ctx, caller, "identifier", map[string]any{"identifier": id.Tag(), "whitelisted": allowed}, func(tx pgx.Tx) error {
		return s.repo.SetIdentifier(ctx, tx, id, allowed)
	})
}

func (s *Service) SetAuthorized(ctx context.Context, caller, account string, allowed bool) error {
	return s.mutate(ctx, caller, "requester", map[string]any{"account": account, "authorized": allowed}, func(tx pgx.Tx) error {
		return s.repo.SetRequester(ctx, tx, account, allowed)
	})
}

func (s *Service) SetAddress(ctx context.Context, caller, name, address string) error {
	return s.mutate(ctx, caller, "directory", map[string]any{"name": name, "address": address}, func(tx pgx.Tx) error {
		return s.repo.SetAddress(ctx, tx, name, address)
	})
}

// Seed is the bootstrap path for entries coming from configuration. It skips the owner check.
func (s *Service) Seed(ctx context.Context, currencies []Currency, identifiers []bytes32.ID, requesters []string, directory map[string]string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("registry: begin seed: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range currencies {
		if c.FinalFee == nil {
			c.FinalFee = units.Zero()
		}
		if err := s.repo.UpsertCurrency(ctx, tx, c); err != nil {
			return err
		}
	}
	for _, id := range identifiers {
		if err := s.repo.SetIdentifier(ctx, tx, id, true); err != nil {
			return err
		}
	}
	for _, account := range requesters {
		if err := s.repo.SetRequester(ctx, tx, account, true); err != nil {
			return err
		}
	}
	for name, addr := range directory {
		if err := s.repo.SetAddress(ctx, tx, name, addr); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("registry: commit seed: %w", err)
	}
	return nil
}

func (s *Service) mutate(ctx context.Context, caller, what string, payload any, apply func(pgx.Tx) error) error {
	owner, err := s.owner.Owner(ctx)
	if err != nil {
		return fmt.Errorf("registry: resolve owner: %w", err)
	}
	if caller != owner {
		return ErrNotOwner
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("registry: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := apply(tx); err != nil {
		return err
	}
	if err := s.events.Append(ctx, tx, eventlog.Event{
		AggregateKind: eventlog.KindConfig,
		AggregateID:   registryAggregate,
		Name:          eventlog.RegistryUpdated,
		Payload:       map[string]any{"entry": what, "value": payload, "by": caller},
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("registry: commit %s: %w", what, err)
	}
	s.log.Info("registry updated", zap.String("entry", what), zap.String("account", caller))
	return nil
}
