// Package oracles holds SQL invariants that must return no rows after any
// interleaving of engine calls.
package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_dispute_per_assertion",
			SQL: `SELECT aggregate_id, COUNT(*) FROM oracle_events
                  WHERE aggregate_kind = 'assertion' AND event = 'AssertionDisputed'
                  GROUP BY aggregate_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_dispute_request_exists",
			SQL: `SELECT a.id FROM assertions a
                  LEFT JOIN resolution_requests r ON r.id = a.dispute_request_id
                  WHERE a.dispute_request_id IS NOT NULL AND r.id IS NULL`,
		},
		{
			Name: "O3_settled_has_resolution",
			SQL: `SELECT id FROM assertions
                  WHERE settled AND (settlement_resolution IS NULL OR payout_status = 'none')`,
		},
		{
			Name: "O4_resolved_has_price",
			SQL:  `SELECT id FROM resolution_requests WHERE phase = 'resolved' AND resolved_price IS NULL`,
		},
		{
			Name: "O5_stake_conserved",
			SQL: `SELECT r.id, r.total_committed, SUM(l.amount) FROM resolution_requests r
                  JOIN payout_legs l ON l.source_kind = 'request' AND l.source_ref = r.id
                  WHERE r.phase = 'resolved'
                  GROUP BY r.id, r.total_committed
                  HAVING bool_and(l.status = 'paid') AND SUM(l.amount) <> r.total_committed`,
		},
		{
			Name: "O6_no_reveal_in_commit",
			SQL: `SELECT v.request_id, v.voter FROM votes v
                  JOIN resolution_requests r ON r.id = v.request_id
                  WHERE r.phase = 'commit' AND v.revealed`,
		},
		{
			Name: "O7_bond_conserved",
			SQL: `SELECT a.id, a.bond, SUM(l.amount) FROM assertions a
                  JOIN payout_legs l ON l.source_kind = 'assertion' AND l.source_ref = a.id
                  WHERE a.settled
                  GROUP BY a.id, a.bond, a.disputer
                  HAVING SUM(l.amount) <> a.bond * CASE WHEN a.disputer IS NULL THEN 1 ELSE 2 END`,
		},
		{
			Name: "O8_committed_matches_votes",
			SQL: `SELECT r.id FROM resolution_requests r
                  LEFT JOIN votes v ON v.request_id = r.id
                  GROUP BY r.id, r.total_committed, r.voter_count
                  HAVING COALESCE(SUM(v.stake), 0) <> r.total_committed OR COUNT(v.voter) <> r.voter_count`,
		},
	}
}

// Run executes every oracle and returns the first failure's name and sample
// row, or an empty name when all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", err
		}
	}
	return "", "", nil
}
