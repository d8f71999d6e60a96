package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"oracleflow/assertion"
	"oracleflow/bytes32"
	"oracleflow/eventlog"
	"oracleflow/ledger"
	"oracleflow/params"
	"oracleflow/payout"
	"oracleflow/policy"
	"oracleflow/registry"
	"oracleflow/voting"
)

// AppName tags stress connections so chaos only kills our own backends.
const AppName = "oracleflow-stress"

const (
	Owner        = "owner"
	Currency     = "usdc"
	VoteToken    = "vote"
	Escrow       = "oracle-escrow"
	VotingEscrow = "voting-escrow"
	Treasury     = "treasury"
)

// Stack is the engine set wired over a shared pool and an in-memory ledger.
type Stack struct {
	Pool       *pgxpool.Pool
	Ledger     *ledger.Memory
	Params     *params.Service
	Registry   *registry.Service
	Payouts    *payout.Dispatcher
	Votes      *voting.Service
	Assertions *assertion.Service
}

// Timing are the short windows a stress run uses.
type Timing struct {
	Liveness time.Duration
	Commit   time.Duration
	Reveal   time.Duration
}

// NewStack bootstraps parameters and the registry and wires the services.
func NewStack(ctx context.Context, pool *pgxpool.Pool, timing Timing, log *zap.Logger) (*Stack, error) {
	if log == nil {
		log = zap.NewNop()
	}
	writer := eventlog.NewWriter(eventlog.NewPGStore())
	st := &Stack{Pool: pool, Ledger: ledger.NewMemory()}

	st.Params = params.NewService(pool, params.NewPGRepository(), writer).WithLogger(log)
	oracle := params.DefaultOracle(Owner, Currency)
	oracle.DefaultLiveness = timing.Liveness
	vp := params.DefaultVoting(Owner, VoteToken)
	vp.CommitDuration = timing.Commit
	vp.RevealDuration = timing.Reveal
	vp.MaxExtensions = 2
	if err := st.Params.Bootstrap(ctx, oracle, vp); err != nil {
		return nil, fmt.Errorf("bootstrap params: %w", err)
	}

	st.Registry = registry.NewService(pool, registry.NewPGRepository(), writer,
		registry.OwnerFunc(func(context.Context) (string, error) { return Owner, nil })).WithLogger(log)
	if err := st.Registry.Seed(ctx,
		[]registry.Currency{{Address: Currency, Whitelisted: true, FinalFee: uint256.NewInt(100)}},
		[]bytes32.ID{params.DefaultIdentifier},
		[]string{Escrow},
		map[string]string{
			registry.NameOptimisticOracle: Escrow,
			registry.NameVoting:           VotingEscrow,
			registry.NameStore:            Treasury,
		},
	); err != nil {
		return nil, fmt.Errorf("seed registry: %w", err)
	}

	st.Payouts = payout.NewDispatcher(pool, payout.NewPGRepository(), st.Ledger).WithLogger(log)
	st.Votes = voting.NewService(pool, voting.NewPGRepository(), st.Params, st.Registry, st.Payouts, writer).WithLogger(log)
	st.Assertions = assertion.NewService(pool, assertion.NewPGRepository(), st.Params, st.Registry, st.Votes,
		policy.NewResolver(), st.Payouts, writer).WithLogger(log)
	return st, nil
}
