// Package config loads process configuration from the environment.
//
// Sources, lowest precedence first:
//   - built-in defaults (struct tags, escrow.DefaultInitDefaults)
//   - a .env file (never overrides variables already set)
//   - the environment
//   - an optional YAML file with escrow initialization defaults
//   - command-line flags registered with RegisterFlags
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"hybrid-swap/internal/escrow"
	"hybrid-swap/internal/hybrid"
)

// Config is the process configuration.
type Config struct {
	RPCEndpoint      string        `env:"SOLANA_RPC_ENDPOINT,default=https://api.devnet.solana.com"`
	WSEndpoint       string        `env:"SOLANA_WS_ENDPOINT"`
	Commitment       string        `env:"SOLANA_COMMITMENT,default=confirmed"`
	RPCRateLimit     float64       `env:"SOLANA_RPC_RATE_LIMIT,default=10"`
	ConfirmTimeout   time.Duration `env:"CONFIRM_TIMEOUT,default=90s"`
	PollInterval     time.Duration `env:"CONFIRM_POLL_INTERVAL,default=2s"`
	ComputeUnitPrice uint64        `env:"COMPUTE_UNIT_PRICE,default=100000"`

	KeypairPath      string `env:"WALLET_KEYPAIR"`
	EscrowProgram    string `env:"ESCROW_PROGRAM_ID"`
	Authority        string `env:"ESCROW_AUTHORITY"`        // empty means the wallet
	OperatingMinimum uint64 `env:"VAULT_OPERATING_MINIMUM"` // 0 means the exchange rate
	DefaultsFile     string `env:"ESCROW_DEFAULTS_FILE"`

	PostgresDSN   string `env:"POSTGRES_DSN"`
	ClickHouseDSN string `env:"CLICKHOUSE_DSN"`
	UseMemory     bool   `env:"USE_MEMORY,default=false"`

	HTTPAddr          string        `env:"HTTP_ADDR,default=:8080"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT,default=30s"`
	PreResolveTimeout time.Duration `env:"PRE_RESOLVE_TIMEOUT,default=2m"`
	MetadataTimeout   time.Duration `env:"METADATA_TIMEOUT,default=5s"`

	LogLevel         string `env:"LOG_LEVEL,default=info"`
	LogConsole       bool   `env:"LOG_CONSOLE,default=false"`
	Env              string `env:"APP_ENV"`
	MetricsNamespace string `env:"METRICS_NAMESPACE,default=hybrid_swap"`

	// Escrow holds the values new escrows are initialized with.
	Escrow escrow.InitDefaults
}

// Load reads envFile when present, then decodes the environment and the
// escrow defaults file. A missing envFile is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := &Config{Escrow: escrow.DefaultInitDefaults()}
	if err := envdecode.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if cfg.DefaultsFile != "" {
		if err := LoadInitDefaults(cfg.DefaultsFile, &cfg.Escrow); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// LoadInitDefaults overlays the YAML document at path onto d. Keys absent
// from the document keep their current values.
func LoadInitDefaults(path string, d *escrow.InitDefaults) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read escrow defaults: %w", err)
	}
	if err := yaml.Unmarshal(data, d); err != nil {
		return fmt.Errorf("parse escrow defaults %s: %w", path, err)
	}
	return nil
}

// RegisterFlags binds flags to cfg using the loaded values as defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.RPCEndpoint, "rpc-endpoint", c.RPCEndpoint, "Solana RPC HTTP endpoint")
	fs.StringVar(&c.WSEndpoint, "ws-endpoint", c.WSEndpoint, "Solana WebSocket endpoint (optional)")
	fs.StringVar(&c.Commitment, "commitment", c.Commitment, "Confirmation commitment: processed, confirmed or finalized")
	fs.StringVar(&c.KeypairPath, "keypair", c.KeypairPath, "Path to the wallet keypair file")
	fs.StringVar(&c.Authority, "authority", c.Authority, "Expected escrow authority (default: the wallet)")
	fs.Uint64Var(&c.OperatingMinimum, "operating-minimum", c.OperatingMinimum, "Vault operating minimum in raw units (0: exchange rate)")
	fs.StringVar(&c.DefaultsFile, "escrow-defaults", c.DefaultsFile, "YAML file with escrow initialization defaults")
	fs.StringVar(&c.PostgresDSN, "postgres-dsn", c.PostgresDSN, "PostgreSQL connection string")
	fs.StringVar(&c.ClickHouseDSN, "clickhouse-dsn", c.ClickHouseDSN, "ClickHouse connection string (optional)")
	fs.BoolVar(&c.UseMemory, "use-memory", c.UseMemory, "Use in-memory storage instead of PostgreSQL")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level")
	fs.DurationVar(&c.ConfirmTimeout, "confirm-timeout", c.ConfirmTimeout, "Confirmation timeout")
}

var commitments = map[string]bool{"processed": true, "confirmed": true, "finalized": true}

// Validate checks required settings and identifier formats.
func (c *Config) Validate() error {
	if c.RPCEndpoint == "" {
		return errors.New("rpc endpoint is required")
	}
	if !commitments[c.Commitment] {
		return fmt.Errorf("unknown commitment %q", c.Commitment)
	}
	if c.ConfirmTimeout <= 0 || c.PollInterval <= 0 {
		return errors.New("confirm timeout and poll interval must be positive")
	}
	if !c.UseMemory && c.PostgresDSN == "" {
		return errors.New("postgres dsn is required (use memory storage otherwise)")
	}
	if _, err := c.ProgramID(); err != nil {
		return err
	}
	if _, err := c.AuthorityKey(); err != nil {
		return err
	}
	if c.Escrow.FeeLocation != "" {
		if _, err := solana.PublicKeyFromBase58(c.Escrow.FeeLocation); err != nil {
			return fmt.Errorf("escrow fee location: %w", err)
		}
	}
	if c.Escrow.IndexRange.Min > c.Escrow.IndexRange.Max {
		return fmt.Errorf("escrow index range %d..%d is empty", c.Escrow.IndexRange.Min, c.Escrow.IndexRange.Max)
	}
	if c.Escrow.ExchangeRate == 0 {
		return errors.New("escrow exchange rate must be positive")
	}
	return nil
}

// ProgramID returns the escrow program, defaulting to MPL-Hybrid.
func (c *Config) ProgramID() (solana.PublicKey, error) {
	if c.EscrowProgram == "" {
		return hybrid.ProgramID, nil
	}
	pk, err := solana.PublicKeyFromBase58(c.EscrowProgram)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("escrow program id: %w", err)
	}
	return pk, nil
}

// AuthorityKey returns the configured authority; zero when unset.
func (c *Config) AuthorityKey() (solana.PublicKey, error) {
	if c.Authority == "" {
		return solana.PublicKey{}, nil
	}
	pk, err := solana.PublicKeyFromBase58(c.Authority)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("escrow authority: %w", err)
	}
	return pk, nil
}
