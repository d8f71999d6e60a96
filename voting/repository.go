package voting

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

type Repository interface {
	GetRequest(ctx context.Context, q db.Querier, id bytes32.ID, forUpdate bool) (Request, error)
	InsertRequest(ctx context.Context, tx pgx.Tx, r Request) error
	UpdateRequest(ctx context.Context, tx pgx.Tx, r Request) error
	GetVote(ctx context.Context, q db.Querier, id bytes32.ID, voter string, forUpdate bool) (Vote, error)
	InsertVote(ctx context.Context, tx pgx.Tx, v Vote) error
	UpdateVote(ctx context.Context, tx pgx.Tx, v Vote) error
	ListVotes(ctx context.Context, q db.Querier, id bytes32.ID) ([]Vote, error)
}

type PGRepository struct{}

func NewPGRepository() *PGRepository {
	return &PGRepository{}
}

const requestColumns = `id, identifier, request_time_ns, ancillary, requester, phase, commit_end_ns, reveal_end_ns,
       resolved_price, extensions_used, emergency_required, emergency, stake_currency, commit_duration_ns,
       reveal_duration_ns, min_participation_bps, slash_rate_bps, treasury_bps, max_extensions,
       total_committed::text, total_revealed::text, voter_count`

func scanRequest(row pgx.Row) (Request, error) {
	var (
		r                          Request
		id, identifier             []byte
		at, commitEnd              int64
		revealEnd                  *int64
		phase                      string
		commitDur, revealDur       int64
		committed, revealed        string
		minBps, slash, treas, maxE int32
		ext                        int32
	)
	if err := row.Scan(&id, &identifier, &at, &r.Ancillary, &r.Requester, &phase, &commitEnd, &revealEnd,
		&r.ResolvedPrice, &ext, &r.EmergencyRequired, &r.Emergency, &r.Terms.StakeCurrency, &commitDur,
		&revealDur, &minBps, &slash, &treas, &maxE, &committed, &revealed, &r.VoterCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrRequestNotFound
		}
		return Request{}, fmt.Errorf("voting: scan request: %w", err)
	}
	var err error
	if r.ID, err = bytes32.FromBytes(id); err != nil {
		return Request{}, err
	}
	if r.Identifier, err = bytes32.FromBytes(identifier); err != nil {
		return Request{}, err
	}
	if r.TotalCommitted, err = units.Parse(committed); err != nil {
		return Request{}, err
	}
	if r.TotalRevealed, err = units.Parse(revealed); err != nil {
		return Request{}, err
	}
	r.Time = time.Unix(0, at).UTC()
	r.Phase = Phase(phase)
	r.CommitEnd = time.Unix(0, commitEnd).UTC()
	if revealEnd != nil {
		r.RevealEnd = time.Unix(0, *revealEnd).UTC()
	}
	r.ExtensionsUsed = uint32(ext)
	r.Terms.CommitDuration = time.Duration(commitDur)
	r.Terms.RevealDuration = time.Duration(revealDur)
	r.Terms.MinParticipationBps = uint32(minBps)
	r.Terms.SlashRateBps = uint32(slash)
	r.Terms.TreasuryBps = uint32(treas)
	r.Terms.MaxExtensions = uint32(maxE)
	return r, nil
}

func nsOrNil(t time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	ns := t.UnixNano()
	return &ns
}

func (p *PGRepository) GetRequest(ctx context.Context, q db.Querier, id bytes32.ID, forUpdate bool) (Request, error) {
	query := `SELECT ` + requestColumns + ` FROM resolution_requests WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanRequest(q.QueryRow(ctx, query, id.Bytes()))
}

func (p *PGRepository) InsertRequest(ctx context.Context, tx pgx.Tx, r Request) error {
	_, err := tx.Exec(ctx, `
INSERT INTO resolution_requests (id, identifier, request_time_ns, ancillary, requester, phase, commit_end_ns,
    stake_currency, commit_duration_ns, reveal_duration_ns, min_participation_bps, slash_rate_bps,
    treasury_bps, max_extensions)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		r.ID.Bytes(), r.Identifier.Bytes(), r.Time.UnixNano(), r.Ancillary, r.Requester, string(r.Phase),
		r.CommitEnd.UnixNano(), r.Terms.StakeCurrency, int64(r.Terms.CommitDuration), int64(r.Terms.RevealDuration),
		int32(r.Terms.MinParticipationBps), int32(r.Terms.SlashRateBps), int32(r.Terms.TreasuryBps),
		int32(r.Terms.MaxExtensions))
	if db.IsUniqueViolation(err) {
		return ErrRequestExists
	}
	if err != nil {
		return fmt.Errorf("voting: insert request: %w", err)
	}
	return nil
}

func (p *PGRepository) UpdateRequest(ctx context.Context, tx pgx.Tx, r Request) error {
	tag, err := tx.Exec(ctx, `
UPDATE resolution_requests
SET phase = $2, reveal_end_ns = $3, resolved_price = $4, extensions_used = $5, emergency_required = $6,
    emergency = $7, total_committed = $8::numeric, total_revealed = $9::numeric, voter_count = $10
WHERE id = $1`,
		r.ID.Bytes(), string(r.Phase), nsOrNil(r.RevealEnd), r.ResolvedPrice, int32(r.ExtensionsUsed),
		r.EmergencyRequired, r.Emergency, r.TotalCommitted.Dec(), r.TotalRevealed.Dec(), r.VoterCount)
	if err != nil {
		return fmt.Errorf("voting: update request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRequestNotFound
	}
	return nil
}

const voteColumns = `request_id, voter, stake::text, commit_hash, revealed, revealed_price, committed_at_ns, revealed_at_ns`

func scanVote(row pgx.Row) (Vote, error) {
	var (
		v          Vote
		id, hash   []byte
		stake      string
		committed  int64
		revealedAt *int64
	)
	if err := row.Scan(&id, &v.Voter, &stake, &hash, &v.Revealed, &v.Price, &committed, &revealedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Vote{}, ErrNoCommit
		}
		return Vote{}, fmt.Errorf("voting: scan vote: %w", err)
	}
	var err error
	if v.RequestID, err = bytes32.FromBytes(id); err != nil {
		return Vote{}, err
	}
	if v.CommitHash, err = bytes32.FromBytes(hash); err != nil {
		return Vote{}, err
	}
	if v.Stake, err = units.Parse(stake); err != nil {
		return Vote{}, err
	}
	v.CommittedAt = time.Unix(0, committed).UTC()
	if revealedAt != nil {
		v.RevealedAt = time.Unix(0, *revealedAt).UTC()
	}
	return v, nil
}

func (p *PGRepository) GetVote(ctx context.Context, q db.Querier, id bytes32.ID, voter string, forUpdate bool) (Vote, error) {
	query := `SELECT ` + voteColumns + ` FROM votes WHERE request_id = $1 AND voter = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanVote(q.QueryRow(ctx, query, id.Bytes(), voter))
}

func (p *PGRepository) InsertVote(ctx context.Context, tx pgx.Tx, v Vote) error {
	_, err := tx.Exec(ctx, `
INSERT INTO votes (request_id, voter, stake, commit_hash, committed_at_ns)
VALUES ($1, $2, $3::numeric, $4, $5)`,
		v.RequestID.Bytes(), v.Voter, v.Stake.Dec(), v.CommitHash.Bytes(), v.CommittedAt.UnixNano())
	if db.IsUniqueViolation(err) {
		return ErrAlreadyCommitted
	}
	if err != nil {
		return fmt.Errorf("voting: insert vote: %w", err)
	}
	return nil
}

func (p *PGRepository) UpdateVote(ctx context.Context, tx pgx.Tx, v Vote) error {
	if _, err := tx.Exec(ctx, `
UPDATE votes SET revealed = $3, revealed_price = $4, revealed_at_ns = $5
WHERE request_id = $1 AND voter = $2`,
		v.RequestID.Bytes(), v.Voter, v.Revealed, v.Price, nsOrNil(v.RevealedAt)); err != nil {
		return fmt.Errorf("voting: update vote: %w", err)
	}
	return nil
}

func (p *PGRepository) ListVotes(ctx context.Context, q db.Querier, id bytes32.ID) ([]Vote, error) {
	rows, err := q.Query(ctx, `SELECT `+voteColumns+` FROM votes WHERE request_id = $1 ORDER BY committed_at_ns, voter`, id.Bytes())
	if err != nil {
		return nil, fmt.Errorf("voting: list votes: %w", err)
	}
	defer rows.Close()

	var out []Vote
	for rows.Next() {
		v, err := scanVote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
