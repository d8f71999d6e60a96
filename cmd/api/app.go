package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"oracleflow/assertion"
	"oracleflow/auth"
	"oracleflow/config"
	"oracleflow/db"
	"oracleflow/db/memtx"
	"oracleflow/deposit"
	"oracleflow/eventlog"
	"oracleflow/ledger"
	"oracleflow/notify"
	"oracleflow/params"
	"oracleflow/payout"
	"oracleflow/policy"
	"oracleflow/registry"
	"oracleflow/voting"
)

// App holds every wired service. Memory is set in in-process mode.
type App struct {
	Auth       *auth.Service
	Params     *params.Service
	Registry   *registry.Service
	Policies   *policy.Resolver
	Payouts    *payout.Dispatcher
	Votes      *voting.Service
	Assertions *assertion.Service
	Deposits   *deposit.Receiver
	Relay      *eventlog.Relay

	Memory *ledger.Memory

	closers []func()
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

type stores struct {
	pool       db.TxBeginner
	auth       auth.Repository
	params     params.Repository
	registry   registry.Repository
	policy     policy.Store
	payouts    payout.Repository
	events     eventlog.Store
	votes      voting.Repository
	assertions assertion.Repository
}

// NewApp wires the services against Postgres when a database URL is
// configured and against in-process stores otherwise.
func NewApp(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	app := &App{}
	var st stores
	if cfg.Database.URL != "" {
		pool, err := db.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("bootstrap database pool: %w", err)
		}
		app.closers = append(app.closers, pool.Close)
		if _, err := db.Migrate(ctx, pool); err != nil {
			app.Close()
			return nil, err
		}
		st = pgStores(pool)
	} else {
		log.Warn("DATABASE_URL not set, running with in-memory stores")
		st = memoryStores()
	}

	var lg ledger.Ledger
	if cfg.Ledger.URL != "" {
		lg = ledger.NewHTTPClient(cfg.Ledger.URL, cfg.Ledger.Token, cfg.Ledger.Timeout).
			WithRetry(cfg.Ledger.Attempts, 200*time.Millisecond)
	} else {
		app.Memory = ledger.NewMemory()
		lg = app.Memory
	}

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
		app.closers = append(app.closers, func() { _ = rdb.Close() })
	}

	writer := eventlog.NewWriter(st.events)
	app.Auth = auth.NewService(st.auth, cfg.Auth.JWTSecret).WithTokenTTL(cfg.Auth.TokenTTL)
	app.Params = params.NewService(st.pool, st.params, writer).WithLogger(log)
	app.Registry = registry.NewService(st.pool, st.registry, writer, registry.OwnerFunc(func(ctx context.Context) (string, error) {
		p, err := app.Params.Oracle(ctx)
		return p.Owner, err
	})).WithLogger(log)

	policies, err := buildPolicies(cfg.Policies, st.policy)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Policies = policies

	var sink notify.Sink = notify.Nop{}
	if cfg.Notify.SigningSeed != "" {
		signer, err := notify.NewSigner(cfg.Oracle.Escrow, cfg.Notify.SigningSeed)
		if err != nil {
			app.Close()
			return nil, err
		}
		var stream notify.Sink
		if rdb != nil {
			stream = notify.NewStream(signer, rdb)
		}
		sink = notify.NewRouter(notify.NewWebhook(signer, cfg.Notify.WebhookTimeout), stream, log)
	}

	app.Payouts = payout.NewDispatcher(st.pool, st.payouts, lg).WithLogger(log)
	app.Votes = voting.NewService(st.pool, st.votes, app.Params, app.Registry, app.Payouts, writer).WithLogger(log)
	app.Assertions = assertion.NewService(st.pool, st.assertions, app.Params, app.Registry, app.Votes, app.Policies, app.Payouts, writer).
		WithLogger(log).
		WithNotifier(sink)
	app.Deposits = deposit.NewReceiver(app.Assertions, app.Votes, app.Registry, app.Params).WithLogger(log)

	var pub eventlog.Publisher = eventlog.NewLogPublisher(log)
	if rdb != nil {
		pub = eventlog.NewRedisPublisher(rdb, cfg.Redis.EventsStream)
	}
	app.Relay = eventlog.NewRelay(st.events, st.pool, pub, log)

	if err := app.bootstrap(ctx, cfg); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func pgStores(pool *pgxpool.Pool) stores {
	return stores{
		pool:       pool,
		auth:       auth.NewPGRepository(pool),
		params:     params.NewPGRepository(),
		registry:   registry.NewPGRepository(),
		policy:     policy.NewPGStore(pool),
		payouts:    payout.NewPGRepository(),
		events:     eventlog.NewPGStore(),
		votes:      voting.NewPGRepository(),
		assertions: assertion.NewPGRepository(),
	}
}

func memoryStores() stores {
	return stores{
		pool:       memtx.New(),
		auth:       auth.NewMemoryRepository(),
		params:     params.NewMemoryRepository(),
		registry:   registry.NewMemoryRepository(),
		policy:     policy.NewMemoryStore(),
		payouts:    payout.NewMemoryRepository(),
		events:     eventlog.NewMemoryStore(),
		votes:      voting.NewMemoryRepository(),
		assertions: assertion.NewMemoryRepository(),
	}
}

func buildPolicies(cfgs []config.PolicyConfig, store policy.Store) (*policy.Resolver, error) {
	r := policy.NewResolver()
	for _, pc := range cfgs {
		switch pc.Kind {
		case "permissive":
			r.Register(policy.NewPermissive(pc.Address))
		case "disputer_whitelist":
			r.Register(policy.NewDisputerWhitelist(pc.Address, pc.Owner, store))
		case "full":
			full, err := policy.NewFull(pc.Address, pc.Owner, store, pc.Settings)
			if err != nil {
				return nil, fmt.Errorf("policy %s: %w", pc.Address, err)
			}
			r.Register(full)
		default:
			return nil, fmt.Errorf("policy %s: unknown kind %q", pc.Address, pc.Kind)
		}
	}
	return r, nil
}

// bootstrap stores version-1 parameters, seeds the registry and provisions
// configured accounts. Every step is a no-op on an initialized store.
func (a *App) bootstrap(ctx context.Context, cfg config.Config) error {
	oracle, err := cfg.OracleParams()
	if err != nil {
		return err
	}
	if err := a.Params.Bootstrap(ctx, oracle, cfg.VotingParams()); err != nil {
		return fmt.Errorf("bootstrap params: %w", err)
	}
	seed, err := cfg.Seed()
	if err != nil {
		return err
	}
	if err := a.Registry.Seed(ctx, seed.Currencies, seed.Identifiers, seed.Requesters, seed.Directory); err != nil {
		return fmt.Errorf("seed registry: %w", err)
	}
	for _, acct := range cfg.Auth.Accounts {
		if err := a.Auth.Provision(ctx, acct.Name, acct.Password, auth.Role(acct.Role)); err != nil {
			return fmt.Errorf("provision %s: %w", acct.Name, err)
		}
	}
	return nil
}
