// Package config loads the daemon configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"oracleflow/bytes32"
	"oracleflow/params"
	"oracleflow/policy"
	"oracleflow/registry"
	"oracleflow/units"
)

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL          string `yaml:"url"`
	EventsStream string `yaml:"events_stream"`
}

type AccountConfig struct {
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
}

type AuthConfig struct {
	JWTSecret string          `yaml:"jwt_secret"`
	TokenTTL  time.Duration   `yaml:"token_ttl"`
	Accounts  []AccountConfig `yaml:"accounts"`
}

type LedgerConfig struct {
	URL      string        `yaml:"url"`
	Token    string        `yaml:"token"`
	Timeout  time.Duration `yaml:"timeout"`
	Attempts int           `yaml:"attempts"`
}

type NotifyConfig struct {
	// SigningSeed is a hex ed25519 seed; notifications are disabled when empty.
	SigningSeed    string        `yaml:"signing_seed"`
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`
}

type OracleConfig struct {
	Owner              string        `yaml:"owner"`
	DefaultCurrency    string        `yaml:"default_currency"`
	DefaultIdentifier  string        `yaml:"default_identifier"`
	DefaultLiveness    time.Duration `yaml:"default_liveness"`
	BurnedBondFraction string        `yaml:"burned_bond_fraction"`
	Escrow             string        `yaml:"escrow"`
	Treasury           string        `yaml:"treasury"`
}

type VotingConfig struct {
	Owner               string        `yaml:"owner"`
	VotingToken         string        `yaml:"voting_token"`
	CommitDuration      time.Duration `yaml:"commit_duration"`
	RevealDuration      time.Duration `yaml:"reveal_duration"`
	MinParticipationBps uint32        `yaml:"min_participation_bps"`
	SlashRateBps        uint32        `yaml:"slash_rate_bps"`
	TreasuryBps         uint32        `yaml:"treasury_bps"`
	MaxExtensions       uint32        `yaml:"max_extensions"`
	Escrow              string        `yaml:"escrow"`
}

type CurrencyConfig struct {
	Address  string `yaml:"address"`
	FinalFee string `yaml:"final_fee"`
}

type RegistryConfig struct {
	Currencies  []CurrencyConfig `yaml:"currencies"`
	Identifiers []string         `yaml:"identifiers"`
	Requesters  []string         `yaml:"requesters"`
}

// PolicyConfig declares an escalation manager. Kind is permissive,
// disputer_whitelist or full.
type PolicyConfig struct {
	Address  string          `yaml:"address"`
	Kind     string          `yaml:"kind"`
	Owner    string          `yaml:"owner"`
	Settings policy.Settings `yaml:"settings"`
}

type LoggerConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Notify   NotifyConfig   `yaml:"notify"`
	Oracle   OracleConfig   `yaml:"oracle"`
	Voting   VotingConfig   `yaml:"voting"`
	Registry RegistryConfig `yaml:"registry"`
	Policies []PolicyConfig `yaml:"policies"`
	Logger   LoggerConfig   `yaml:"logger"`
}

// Default returns a configuration that runs fully in memory.
func Default() Config {
	return Config{
		HTTP:  HTTPConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Redis: RedisConfig{EventsStream: "oracle:events"},
		Auth:  AuthConfig{JWTSecret: "dev-secret", TokenTTL: 24 * time.Hour},
		Ledger: LedgerConfig{
			Timeout:  5 * time.Second,
			Attempts: 3,
		},
		Notify: NotifyConfig{WebhookTimeout: 5 * time.Second},
		Oracle: OracleConfig{
			Owner:              "owner",
			DefaultCurrency:    "usdc",
			DefaultIdentifier:  "ASSERT_TRUTH",
			DefaultLiveness:    2 * time.Hour,
			BurnedBondFraction: "500000000000000000",
			Escrow:             "oracle-escrow",
			Treasury:           "treasury",
		},
		Voting: VotingConfig{
			Owner:               "owner",
			VotingToken:         "vote",
			CommitDuration:      24 * time.Hour,
			RevealDuration:      24 * time.Hour,
			MinParticipationBps: 500,
			SlashRateBps:        1000,
			TreasuryBps:         5000,
			MaxExtensions:       1,
			Escrow:              "voting-escrow",
		},
		Registry: RegistryConfig{
			Currencies:  []CurrencyConfig{{Address: "usdc", FinalFee: "100"}},
			Identifiers: []string{"ASSERT_TRUTH"},
		},
		Logger: LoggerConfig{Level: "info"},
	}
}

// Load reads path over the defaults, then applies environment overrides. A
// missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Database.URL, "DATABASE_URL")
	set(&c.Redis.URL, "REDIS_URL")
	set(&c.HTTP.Addr, "HTTP_ADDR")
	set(&c.Auth.JWTSecret, "JWT_SECRET")
	set(&c.Ledger.URL, "LEDGER_URL")
	set(&c.Ledger.Token, "LEDGER_TOKEN")
	set(&c.Logger.Level, "LOG_LEVEL")
	if owner := getenv("ORACLE_OWNER"); owner != "" {
		c.Oracle.Owner = owner
		c.Voting.Owner = owner
	}
}

// Validate rejects configurations the engines cannot run with.
func (c Config) Validate() error {
	if _, err := c.OracleParams(); err != nil {
		return err
	}
	if err := c.VotingParams().Validate(); err != nil {
		return fmt.Errorf("config: voting: %w", err)
	}
	if c.Oracle.Escrow == "" || c.Voting.Escrow == "" || c.Oracle.Treasury == "" {
		return errors.New("config: escrow and treasury accounts are required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("config: auth.jwt_secret is required")
	}
	if _, err := c.Seed(); err != nil {
		return err
	}
	for _, p := range c.Policies {
		switch p.Kind {
		case "permissive", "disputer_whitelist", "full":
		default:
			return fmt.Errorf("config: policy %s: unknown kind %q", p.Address, p.Kind)
		}
		if p.Address == "" {
			return errors.New("config: policy address is required")
		}
	}
	return nil
}

// OracleParams converts the oracle section to version-1 parameters.
func (c Config) OracleParams() (params.OracleParams, error) {
	id, err := bytes32.FromString(c.Oracle.DefaultIdentifier)
	if err != nil {
		return params.OracleParams{}, fmt.Errorf("config: oracle.default_identifier: %w", err)
	}
	burned, err := units.Parse(c.Oracle.BurnedBondFraction)
	if err != nil {
		return params.OracleParams{}, fmt.Errorf("config: oracle.burned_bond_fraction: %w", err)
	}
	p := params.DefaultOracle(c.Oracle.Owner, c.Oracle.DefaultCurrency)
	p.DefaultIdentifier = id
	p.DefaultLiveness = c.Oracle.DefaultLiveness
	p.BurnedBondFraction = burned
	if err := p.Validate(); err != nil {
		return params.OracleParams{}, fmt.Errorf("config: oracle: %w", err)
	}
	return p, nil
}

// VotingParams converts the voting section to version-1 parameters.
func (c Config) VotingParams() params.VotingParams {
	p := params.DefaultVoting(c.Voting.Owner, c.Voting.VotingToken)
	p.CommitDuration = c.Voting.CommitDuration
	p.RevealDuration = c.Voting.RevealDuration
	p.MinParticipationBps = c.Voting.MinParticipationBps
	p.SlashRateBps = c.Voting.SlashRateBps
	p.TreasuryBps = c.Voting.TreasuryBps
	p.MaxExtensions = c.Voting.MaxExtensions
	return p
}

// RegistrySeed is what the registry is seeded with at startup.
type RegistrySeed struct {
	Currencies  []registry.Currency
	Identifiers []bytes32.ID
	Requesters  []string
	Directory   map[string]string
}

// Seed converts the registry section. The oracle escrow is always an
// authorized requester so disputes can open votes.
func (c Config) Seed() (RegistrySeed, error) {
	seed := RegistrySeed{
		Requesters: append([]string{c.Oracle.Escrow}, c.Registry.Requesters...),
		Directory: map[string]string{
			registry.NameOptimisticOracle: c.Oracle.Escrow,
			registry.NameVoting:           c.Voting.Escrow,
			registry.NameStore:            c.Oracle.Treasury,
		},
	}
	for _, cur := range c.Registry.Currencies {
		fee := new(uint256.Int)
		if cur.FinalFee != "" {
			var err error
			if fee, err = units.Parse(cur.FinalFee); err != nil {
				return RegistrySeed{}, fmt.Errorf("config: currency %s final_fee: %w", cur.Address, err)
			}
		}
		seed.Currencies = append(seed.Currencies, registry.Currency{Address: cur.Address, Whitelisted: true, FinalFee: fee})
	}
	for _, tag := range c.Registry.Identifiers {
		id, err := bytes32.FromString(tag)
		if err != nil {
			return RegistrySeed{}, fmt.Errorf("config: identifier: %w", err)
		}
		seed.Identifiers = append(seed.Identifiers, id)
	}
	return seed, nil
}
