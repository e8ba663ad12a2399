// Package config builds the service configuration from flags, environment
// variables and an optional .env file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mr-tron/base58"

	"forge-supply/internal/solana"
	"forge-supply/internal/supply"
)

// Defaults.
const (
	DefaultPort             = 3000
	DefaultHost             = "0.0.0.0"
	DefaultRPCEndpoint      = "https://api.mainnet-beta.solana.com"
	DefaultMint             = "2FKq2Bp8u1LbXqk74nSRWV87MXvELTgAHeRHXxHV94hk"
	DefaultAuthority        = "J6kZJ7pM4tavNJdbv8fyv5VAiRUt4iWiFKBZgMDzhzsR"
	DefaultRequestTimeout   = 15 * time.Second
	DefaultRateLimitRPS     = 10.0
	DefaultRateLimitBurst   = 20
	DefaultSnapshotInterval = 5 * time.Minute
)

// Config is the complete runtime configuration.
type Config struct {
	Host string
	Port int

	RPCEndpoint string
	WSEndpoint  string // empty disables the mint watcher
	Commitment  string

	Mint      string
	Authority string

	BalanceConcurrency int
	RequestTimeout     time.Duration

	RateLimitRPS   float64 // 0 disables rate limiting
	RateLimitBurst int

	PostgresDSN   string
	ClickhouseDSN string
	UseMemory     bool

	// SnapshotInterval is the recorder tick. 0 leaves interval recordings off.
	SnapshotInterval time.Duration
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// RecorderEnabled reports whether snapshots should be recorded.
func (c *Config) RecorderEnabled() bool {
	return c.PostgresDSN != "" || c.ClickhouseDSN != "" || c.UseMemory || c.WSEndpoint != ""
}

// Load parses args with environment-backed defaults. getenv is usually os.Getenv.
func Load(args []string, getenv func(string) string) (*Config, error) {
	fs := flag.NewFlagSet("forge-supply", flag.ContinueOnError)

	envOr := func(key, def string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return def
	}

	port, err := envInt(getenv, "PORT", DefaultPort)
	if err != nil {
		return nil, err
	}
	concurrency, err := envInt(getenv, "FORGE_BALANCE_CONCURRENCY", supply.DefaultConcurrency)
	if err != nil {
		return nil, err
	}
	burst, err := envInt(getenv, "FORGE_RATE_LIMIT_BURST", DefaultRateLimitBurst)
	if err != nil {
		return nil, err
	}
	rps, err := envFloat(getenv, "FORGE_RATE_LIMIT_RPS", DefaultRateLimitRPS)
	if err != nil {
		return nil, err
	}
	timeout, err := envDuration(getenv, "FORGE_REQUEST_TIMEOUT", DefaultRequestTimeout)
	if err != nil {
		return nil, err
	}
	interval, err := envDuration(getenv, "FORGE_SNAPSHOT_INTERVAL", 0)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	// The listener accepts connections from any address. The flag exists for
	// binding to loopback in tests; no environment variable changes it.
	fs.StringVar(&cfg.Host, "host", DefaultHost, "HTTP listen host")
	fs.IntVar(&cfg.Port, "port", port, "HTTP listen port")
	fs.StringVar(&cfg.RPCEndpoint, "rpc-endpoint", envOr("SOLANA_RPC_ENDPOINT", DefaultRPCEndpoint), "Solana RPC HTTP endpoint")
	fs.StringVar(&cfg.WSEndpoint, "ws-endpoint", getenv("SOLANA_WS_ENDPOINT"), "Solana WebSocket endpoint (enables mint watcher)")
	fs.StringVar(&cfg.Commitment, "commitment", envOr("SOLANA_COMMITMENT", solana.CommitmentConfirmed), "Commitment level for reads")
	fs.StringVar(&cfg.Mint, "mint", envOr("FORGE_MINT", DefaultMint), "Token mint address")
	fs.StringVar(&cfg.Authority, "authority", envOr("FORGE_AUTHORITY", DefaultAuthority), "Owner of locked token accounts")
	fs.IntVar(&cfg.BalanceConcurrency, "balance-concurrency", concurrency, "Parallel balance reads per request")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", timeout, "Per-request timeout")
	fs.Float64Var(&cfg.RateLimitRPS, "rate-limit-rps", rps, "Requests per second per client (0 disables)")
	fs.IntVar(&cfg.RateLimitBurst, "rate-limit-burst", burst, "Rate limiter burst per client")
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	fs.StringVar(&cfg.ClickhouseDSN, "clickhouse-dsn", getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	fs.BoolVar(&cfg.UseMemory, "use-memory", false, "Record snapshots to in-memory storage")
	fs.DurationVar(&cfg.SnapshotInterval, "snapshot-interval", interval, "Snapshot recording interval")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.SnapshotInterval == 0 && cfg.RecorderEnabled() {
		cfg.SnapshotInterval = DefaultSnapshotInterval
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if err := validateURL(c.RPCEndpoint, "http", "https"); err != nil {
		errs = append(errs, fmt.Errorf("rpc endpoint: %w", err))
	}
	if c.WSEndpoint != "" {
		if err := validateURL(c.WSEndpoint, "ws", "wss"); err != nil {
			errs = append(errs, fmt.Errorf("ws endpoint: %w", err))
		}
	}
	switch c.Commitment {
	case solana.CommitmentProcessed, solana.CommitmentConfirmed, solana.CommitmentFinalized:
	default:
		errs = append(errs, fmt.Errorf("unknown commitment %q", c.Commitment))
	}
	if err := validatePubkey(c.Mint); err != nil {
		errs = append(errs, fmt.Errorf("mint: %w", err))
	}
	if err := validatePubkey(c.Authority); err != nil {
		errs = append(errs, fmt.Errorf("authority: %w", err))
	}
	if c.BalanceConcurrency < 1 {
		errs = append(errs, fmt.Errorf("balance concurrency must be at least 1, got %d", c.BalanceConcurrency))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request timeout must be positive, got %v", c.RequestTimeout))
	}
	if c.RateLimitRPS < 0 {
		errs = append(errs, fmt.Errorf("rate limit rps must not be negative, got %v", c.RateLimitRPS))
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		errs = append(errs, fmt.Errorf("rate limit burst must be at least 1, got %d", c.RateLimitBurst))
	}
	if c.SnapshotInterval < 0 {
		errs = append(errs, fmt.Errorf("snapshot interval must not be negative, got %v", c.SnapshotInterval))
	}

	return errors.Join(errs...)
}

// LoadEnvFile loads KEY=VALUE lines from path into the environment.
// Existing variables are not overridden. A missing file is not an error.
func LoadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read env file: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
	return nil
}

func validatePubkey(addr string) error {
	b, err := base58.Decode(addr)
	if err != nil {
		return fmt.Errorf("invalid base58 %q: %w", addr, err)
	}
	if len(b) != 32 {
		return fmt.Errorf("%q decodes to %d bytes, want 32", addr, len(b))
	}
	return nil
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%q must be a %s URL", raw, strings.Join(schemes, "/"))
}

func envInt(getenv func(string) string, key string, def int) (int, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envFloat(getenv func(string) string, key string, def float64) (float64, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func envDuration(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
