package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"oracleflow/registry"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("HTTP_ADDR", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" || cfg.Oracle.DefaultLiveness != 2*time.Hour {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oracleflow.yaml")
	doc := `
http:
  addr: ":9000"
oracle:
  default_liveness: 30m
  treasury: store
voting:
  max_extensions: 3
registry:
  currencies:
    - address: dai
      final_fee: "250"
  requesters: [bridge]
policies:
  - address: manager-1
    kind: full
    owner: ops
    settings:
      validate_disputers: true
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("ORACLE_OWNER", "multisig")
	t.Setenv("DATABASE_URL", "postgres://db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":9000" || cfg.Oracle.DefaultLiveness != 30*time.Minute || cfg.Voting.MaxExtensions != 3 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Oracle.Owner != "multisig" || cfg.Voting.Owner != "multisig" || cfg.Database.URL != "postgres://db" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if len(cfg.Policies) != 1 || !cfg.Policies[0].Settings.ValidateDisputers {
		t.Fatalf("policies not parsed: %+v", cfg.Policies)
	}

	seed, err := cfg.Seed()
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if seed.Currencies[0].Address != "dai" || seed.Currencies[0].FinalFee.Uint64() != 250 {
		t.Fatalf("unexpected currencies %+v", seed.Currencies)
	}
	if seed.Requesters[0] != cfg.Oracle.Escrow || seed.Requesters[1] != "bridge" {
		t.Fatalf("unexpected requesters %v", seed.Requesters)
	}
	if seed.Directory[registry.NameStore] != "store" {
		t.Fatalf("unexpected directory %v", seed.Directory)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"bps above denominator": func(c *Config) { c.Voting.SlashRateBps = 10_001 },
		"zero reveal":           func(c *Config) { c.Voting.RevealDuration = 0 },
		"zero burned fraction":  func(c *Config) { c.Oracle.BurnedBondFraction = "0" },
		"burned above one":      func(c *Config) { c.Oracle.BurnedBondFraction = "1000000000000000001" },
		"empty owner":           func(c *Config) { c.Oracle.Owner = "" },
		"unknown policy kind":   func(c *Config) { c.Policies = []PolicyConfig{{Address: "m", Kind: "strict"}} },
		"long identifier":       func(c *Config) { c.Registry.Identifiers = []string{strings.Repeat("X", 33)} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
