package params

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"oracleflow/bytes32"
	"oracleflow/db"
	"oracleflow/eventlog"
)

// EventWriter appends audit events in the caller's transaction.
type EventWriter interface {
	Append(ctx context.Context, tx pgx.Tx, ev eventlog.Event) error
}

var (
	oracleAggregate = bytes32.MustFromString("oracle_params")
	votingAggregate = bytes32.MustFromString("voting_params")
)

// Service owns the versioned configuration records. Every update is owner
// gated and compare-and-set on the version the caller last read.
type Service struct {
	pool   db.TxBeginner
	reader db.Querier
	repo   Repository
	events EventWriter
	log    *zap.Logger
}

func NewService(pool db.TxBeginner, repo Repository, events EventWriter) *Service {
	if repo == nil {
		repo = NewPGRepository()
	}
	return &Service{pool: pool, reader: db.ReaderOf(pool), repo: repo, events: events, log: zap.NewNop()}
}

func (s *Service) WithLogger(log *zap.Logger) *Service {
	if log != nil {
		s.log = log
	}
	return s
}

// Bootstrap stores the given parameters as version 1 unless a version already exists.
func (s *Service) Bootstrap(ctx context.Context, oracle OracleParams, voting VotingParams) error {
	if err := oracle.Validate(); err != nil {
		return err
	}
	if err := voting.Validate(); err != nil {
		return err
	}
	oracle.Version, voting.Version = 1, 1

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("params: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.repo.LatestOracle(ctx, tx, false); errors.Is(err, ErrNotInitialized) {
		if err := s.repo.InsertOracle(ctx, tx, oracle); err != nil && !errors.Is(err, ErrVersionConflict) {
			return err
		}
	} else if err != nil {
		return err
	}

	if _, err := s.repo.LatestVoting(ctx, tx, false); errors.Is(err, ErrNotInitialized) {
		if err := s.repo.InsertVoting(ctx, tx, voting); err != nil && !errors.Is(err, ErrVersionConflict) {
			return err
		}
	} else if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("params: commit bootstrap: %w", err)
	}
	return nil
}

func (s *Service) Oracle(ctx context.Context) (OracleParams, error) {
	return s.repo.LatestOracle(ctx, s.reader, false)
}

func (s *Service) Voting(ctx context.Context) (VotingParams, error) {
	return s.repo.LatestVoting(ctx, s.reader, false)
}

// UpdateOracle applies mutate to the latest oracle parameters. expectedVersion 0 skips the version check.
func (s *Service) UpdateOracle(ctx context.Context, caller string, expectedVersion int64, mutate func(*OracleParams)) (OracleParams, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return OracleParams{}, fmt.Errorf("params: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	cur, err := s.repo.LatestOracle(ctx, tx, true)
	if err != nil {
		return OracleParams{}, err
	}
	if caller != cur.Owner {
		return OracleParams{}, ErrNotOwner
	}
	if expectedVersion != 0 && expectedVersion != cur.Version {
		return OracleParams{}, ErrVersionConflict
	}

	next := cur
	next.BurnedBondFraction = cur.BurnedBondFraction.Clone()
	mutate(&next)
	next.Version = cur.Version + 1
	next.UpdatedBy = caller
	if err := next.Validate(); err != nil {
		return OracleParams{}, err
	}

	if err := s.repo.InsertOracle(ctx, tx, next); err != nil {
		return OracleParams{}, err
	}
	if err := s.events.Append(ctx, tx, eventlog.Event{
		AggregateKind: eventlog.KindConfig,
		AggregateID:   oracleAggregate,
		Name:          eventlog.AdminPropertiesSet,
		Payload: map[string]any{
			"version":              next.Version,
			"owner":                next.Owner,
			"default_currency":     next.DefaultCurrency,
			"default_liveness_ns":  int64(next.DefaultLiveness),
			"burned_bond_fraction": next.BurnedBondFraction.Dec(),
			"default_identifier":   next.DefaultIdentifier.Tag(),
		},
	}); err != nil {
		return OracleParams{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return OracleParams{}, fmt.Errorf("params: commit oracle update: %w", err)
	}
	s.log.Info("oracle params updated", zap.Int64("version", next.Version), zap.String("account", caller))
	return next, nil
}

// UpdateVoting applies mutate to the latest voting parameters. Open requests keep the values they copied.
func (s *Service) UpdateVoting(ctx context.Context, caller string, expectedVersion int64, mutate func(*VotingParams)) (VotingParams, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return VotingParams{}, fmt.Errorf("params: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	cur, err := s.repo.LatestVoting(ctx, tx, true)
	if err != nil {
		return VotingParams{}, err
	}
	if caller != cur.Owner {
		return VotingParams{}, ErrNotOwner
	}
	if expectedVersion != 0 && expectedVersion != cur.Version {
		return VotingParams{}, ErrVersionConflict
	}

	next := cur
	mutate(&next)
	next.Version = cur.Version + 1
	next.UpdatedBy = caller
	if err := next.Validate(); err != nil {
		return VotingParams{}, err
	}

	if err := s.repo.InsertVoting(ctx, tx, next); err != nil {
		return VotingParams{}, err
	}
	if err := s.events.Append(ctx, tx, eventlog.Event{
		AggregateKind: eventlog.KindConfig,
		AggregateID:   votingAggregate,
		Name:          eventlog.VotingConfigUpdated,
		Payload:       next,
	}); err != nil {
		return VotingParams{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return VotingParams{}, fmt.Errorf("params: commit voting update: %w", err)
	}
	s.log.Info("voting params updated", zap.Int64("version", next.Version), zap.String("account", caller))
	return next, nil
}
