package params

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"oracleflow/bytes32"
	"oracleflow/db"
	"oracleflow/units"
)

// Repository stores every version of both parameter sets.
type Repository interface {
	LatestOracle(ctx context.Context, q db.Querier, forUpdate bool) (OracleParams, error)
	InsertOracle(ctx context.Context, tx pgx.Tx, p OracleParams) error
	LatestVoting(ctx context.Context, q db.Querier, forUpdate bool) (VotingParams, error)
	InsertVoting(ctx context.Context, tx pgx.Tx, p VotingParams) error
}

type PGRepository struct{}

func NewPGRepository() *PGRepository {
	return &PGRepository{}
}

func (r *PGRepository) LatestOracle(ctx context.Context, q db.Querier, forUpdate bool) (OracleParams, error) {
	query := `
SELECT version, owner, burned_bond_fraction::text, default_liveness_ns, default_currency, default_identifier, updated_by
FROM oracle_params
ORDER BY version DESC
LIMIT 1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var (
		p       OracleParams
		burned  string
		liveNS  int64
		rawIdnt []byte
	)
	err := q.QueryRow(ctx, query).Scan(&p.Version, &p.Owner, &burned, &liveNS, &p.DefaultCurrency, &rawIdnt, &p.UpdatedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return OracleParams{}, ErrNotInitialized
	}
	if err != nil {
		return OracleParams{}, fmt.Errorf("params: load oracle: %w", err)
	}
	if p.BurnedBondFraction, err = units.Parse(burned); err != nil {
		return OracleParams{}, fmt.Errorf("params: load oracle: %w", err)
	}
	if p.DefaultIdentifier, err = bytes32.FromBytes(rawIdnt); err != nil {
		return OracleParams{}, fmt.Errorf("params: load oracle: %w", err)
	}
	p.DefaultLiveness = time.Duration(liveNS)
	return p, nil
}

func (r *PGRepository) InsertOracle(ctx context.Context, tx pgx.Tx, p OracleParams) error {
	_, err := tx.Exec(ctx, `
INSERT INTO oracle_params (version, owner, burned_bond_fraction, default_liveness_ns, default_currency, default_identifier, updated_by)
VALUES ($1, $2, $3::numeric, $4, $5, $6, $7)`,
		p.Version, p.Owner, p.BurnedBondFraction.Dec(), int64(p.DefaultLiveness), p.DefaultCurrency, p.DefaultIdentifier.Bytes(), p.UpdatedBy)
	if db.IsUniqueViolation(err) {
		return ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("params: insert oracle: %w", err)
	}
	return nil
}

func (r *PGRepository) LatestVoting(ctx context.Context, q db.Querier, forUpdate bool) (VotingParams, error) {
	query := `
SELECT version, owner, voting_token, commit_duration_ns, reveal_duration_ns,
       min_participation_bps, slash_rate_bps, treasury_bps, max_extensions, updated_by
FROM voting_params
ORDER BY version DESC
LIMIT 1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var (
		p                  VotingParams
		commitNS, revealNS int64
		minPart, slash     int32
		treasury, maxExt   int32
	)
	err := q.QueryRow(ctx, query).Scan(&p.Version, &p.Owner, &p.VotingToken, &commitNS, &revealNS,
		&minPart, &slash, &treasury, &maxExt, &p.UpdatedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return VotingParams{}, ErrNotInitialized
	}
	if err != nil {
		return VotingParams{}, fmt.Errorf("params: load voting: %w", err)
	}
	p.CommitDuration = time.Duration(commitNS)
	p.RevealDuration = time.Duration(revealNS)
	p.MinParticipationBps = uint32(minPart)
	p.SlashRateBps = uint32(slash)
	p.TreasuryBps = uint32(treasury)
	p.MaxExtensions = uint32(maxExt)
	return p, nil
}

func (r *PGRepository) InsertVoting(ctx context.Context, tx pgx.Tx, p VotingParams) error {
	_, err := tx.Exec(ctx, `
INSERT INTO voting_params (version, owner, voting_token, commit_duration_ns, reveal_duration_ns,
                           min_participation_bps, slash_rate_bps, treasury_bps, max_extensions, updated_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.Version, p.Owner, p.VotingToken, int64(p.CommitDuration), int64(p.RevealDuration),
		int32(p.MinParticipationBps), int32(p.SlashRateBps), int32(p.TreasuryBps), int32(p.MaxExtensions), p.UpdatedBy)
	if db.IsUniqueViolation(err) {
		return ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("params: insert voting: %w", err)
	}
	return nil
}
