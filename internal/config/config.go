// Package config loads, validates, watches, and diffs the process
// configuration. The file on disk is the single source of runtime truth;
// a Store keeps the live snapshot and classifies what each swap requires
// of the running process.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"solana-copytrader/internal/domain"
	"solana-copytrader/internal/solana"
	"solana-copytrader/internal/strategy"
	"solana-copytrader/internal/stream"
)

// Config is the complete process configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Stream     StreamConfig     `mapstructure:"stream"`
	Filters    FiltersConfig    `mapstructure:"filters"`
	Connection ConnectionConfig `mapstructure:"connection"`
	Execution  ExecutionConfig  `mapstructure:"execution"`
	Strategy   StrategyConfig   `mapstructure:"strategy"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig names the upstream event source and its credential.
type ServerConfig struct {
	Address       string `mapstructure:"address"`
	Authorization string `mapstructure:"authorization"`
	Insecure      bool   `mapstructure:"insecure"`
}

// StreamConfig selects which event stream to subscribe to.
type StreamConfig struct {
	Type string `mapstructure:"type"`
}

// FiltersConfig holds the server-side allow lists. Empty lists mean no
// restriction on that dimension.
type FiltersConfig struct {
	Traders  []string `mapstructure:"traders"`
	Programs []string `mapstructure:"programs"`
	Pool     []string `mapstructure:"pool"`
	Signers  []string `mapstructure:"signers"`
}

// ConnectionConfig tunes the websocket transport and the reconnect backoff.
type ConnectionConfig struct {
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
	KeepAlive         time.Duration `mapstructure:"keep_alive"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	MaxMessageBytes   int64         `mapstructure:"max_message_bytes"`
	MaxAge            time.Duration `mapstructure:"max_age"`
	Buffer            int           `mapstructure:"buffer"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnectDelay time.Duration `mapstructure:"max_reconnect_delay"`
}

// ExecutionConfig holds the trade execution parameters.
type ExecutionConfig struct {
	RPCEndpoint         string        `mapstructure:"rpc_endpoint"`
	QuoteEndpoint       string        `mapstructure:"quote_endpoint"`
	WalletFile          string        `mapstructure:"wallet_file"`
	SlippageBps         int           `mapstructure:"slippage_bps"`
	AllowIndirectRoutes bool          `mapstructure:"allow_indirect_routes"`
	LegacyTransaction   bool          `mapstructure:"legacy_transaction"`
	BroadcastAttempts   int           `mapstructure:"broadcast_attempts"`
	BroadcastDelay      time.Duration `mapstructure:"broadcast_delay"`
	SendMaxRetries      int           `mapstructure:"send_max_retries"`
	ConfirmTimeout      time.Duration `mapstructure:"confirm_timeout"`
	ConfirmPoll         time.Duration `mapstructure:"confirm_poll"`
	Commitment          string        `mapstructure:"commitment"`
	MaxConcurrent       int           `mapstructure:"max_concurrent"`
}

// StrategyConfig holds the evaluator parameters.
type StrategyConfig struct {
	Type            string   `mapstructure:"type"`
	MinBuyAmountRaw uint64   `mapstructure:"min_buy_amount_raw"`
	DenyMints       []string `mapstructure:"deny_mints"`
}

// TelemetryConfig holds reporting configuration.
type TelemetryConfig struct {
	ReportInterval time.Duration `mapstructure:"report_interval"`
	MetricsAddr    string        `mapstructure:"metrics_addr"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads the config file at path, applies defaults and COPYTRADER_*
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	setDefaults(v)

	v.SetEnvPrefix("COPYTRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Stream defaults
	v.SetDefault("stream.type", string(stream.TypeTrades))

	// Connection defaults
	v.SetDefault("connection.handshake_timeout", "10s")
	v.SetDefault("connection.keep_alive", "30s")
	v.SetDefault("connection.idle_timeout", "60s")
	v.SetDefault("connection.write_timeout", "10s")
	v.SetDefault("connection.buffer", 10000)
	v.SetDefault("connection.reconnect_delay", "1s")
	v.SetDefault("connection.max_reconnect_delay", "30s")

	// Execution defaults
	v.SetDefault("execution.rpc_endpoint", "https://api.mainnet-beta.solana.com")
	v.SetDefault("execution.quote_endpoint", "https://quote-api.jup.ag/v6")
	v.SetDefault("execution.slippage_bps", 250)
	v.SetDefault("execution.allow_indirect_routes", true)
	v.SetDefault("execution.broadcast_attempts", 3)
	v.SetDefault("execution.broadcast_delay", "500ms")
	v.SetDefault("execution.confirm_timeout", "30s")
	v.SetDefault("execution.confirm_poll", "500ms")
	v.SetDefault("execution.commitment", solana.CommitmentConfirmed)

	// Strategy defaults
	v.SetDefault("strategy.type", domain.StrategyTypeThreshold)

	// Telemetry defaults
	v.SetDefault("telemetry.report_interval", "30s")
	v.SetDefault("telemetry.metrics_addr", ":9090")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if _, err := stream.ParseType(c.Stream.Type); err != nil {
		return fmt.Errorf("stream.type: %w", err)
	}

	if c.Connection.ReconnectDelay <= 0 {
		return fmt.Errorf("connection.reconnect_delay must be positive")
	}
	if c.Connection.MaxReconnectDelay < c.Connection.ReconnectDelay {
		return fmt.Errorf("connection.max_reconnect_delay must be at least connection.reconnect_delay")
	}

	if c.Execution.RPCEndpoint == "" {
		return fmt.Errorf("execution.rpc_endpoint is required")
	}
	if c.Execution.QuoteEndpoint == "" {
		return fmt.Errorf("execution.quote_endpoint is required")
	}
	if c.Execution.WalletFile == "" {
		return fmt.Errorf("execution.wallet_file is required")
	}
	if c.Execution.SlippageBps < 1 || c.Execution.SlippageBps > 10000 {
		return fmt.Errorf("execution.slippage_bps must be between 1 and 10000")
	}
	if c.Execution.BroadcastAttempts < 1 {
		return fmt.Errorf("execution.broadcast_attempts must be at least 1")
	}
	if c.Execution.MaxConcurrent < 0 {
		return fmt.Errorf("execution.max_concurrent must not be negative")
	}
	switch c.Execution.Commitment {
	case solana.CommitmentProcessed, solana.CommitmentConfirmed, solana.CommitmentFinalized:
	default:
		return fmt.Errorf("execution.commitment must be one of: processed, confirmed, finalized")
	}

	if _, err := strategy.FromParams(c.StrategyParams()); err != nil {
		return fmt.Errorf("strategy: %w", err)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, console")
	}

	return nil
}

// Subscription builds the subscribe payload from the stream and filters
// sections. Empty filter dimensions are omitted entirely rather than sent
// as empty lists.
func (c *Config) Subscription() (stream.SubscribeParams, error) {
	typ, err := stream.ParseType(c.Stream.Type)
	if err != nil {
		return stream.SubscribeParams{}, err
	}
	return stream.SubscribeParams{
		Stream: typ,
		Filters: stream.Filters{
			Trader:  addressList(c.Filters.Traders),
			Program: addressList(c.Filters.Programs),
			Pool:    addressList(c.Filters.Pool),
			Signer:  addressList(c.Filters.Signers),
		},
	}, nil
}

func addressList(addrs []string) *stream.AddressList {
	if len(addrs) == 0 {
		return nil
	}
	return &stream.AddressList{Addresses: addrs}
}

// SessionConfig assembles the transport configuration for one stream
// session from the server, stream, filters, and connection sections.
func (c *Config) SessionConfig() (stream.Config, error) {
	params, err := c.Subscription()
	if err != nil {
		return stream.Config{}, err
	}
	return stream.Config{
		Address:          c.Server.Address,
		Token:            c.Server.Authorization,
		Insecure:         c.Server.Insecure,
		Params:           params,
		HandshakeTimeout: c.Connection.HandshakeTimeout,
		KeepAlive:        c.Connection.KeepAlive,
		IdleTimeout:      c.Connection.IdleTimeout,
		WriteTimeout:     c.Connection.WriteTimeout,
		MaxMessageBytes:  c.Connection.MaxMessageBytes,
		MaxAge:           c.Connection.MaxAge,
		Buffer:           c.Connection.Buffer,
	}, nil
}

// StrategyParams maps the strategy section onto the evaluator factory input.
func (c *Config) StrategyParams() domain.StrategyParams {
	return domain.StrategyParams{
		Type:            c.Strategy.Type,
		MinBuyAmountRaw: c.Strategy.MinBuyAmountRaw,
		DenyMints:       c.Strategy.DenyMints,
	}
}

// Change classifies what a configuration swap requires of the running
// process. RebuildConnection subsumes PatchFilters: a rebuilt connection
// already subscribes with the new parameters, so at most one of the two
// is set.
type Change struct {
	RebuildConnection bool // server address, credential, or TLS mode changed
	PatchFilters      bool // subscription changed on an otherwise intact connection
	StrategyChanged   bool // evaluator must be swapped
	RequiresRestart   bool // settings read once at boot changed
}

// Any reports whether the swap requires any action at all.
func (ch Change) Any() bool {
	return ch.RebuildConnection || ch.PatchFilters || ch.StrategyChanged || ch.RequiresRestart
}

// Diff compares two configurations and classifies the transition.
func Diff(old, new *Config) Change {
	var ch Change
	if old.Server != new.Server {
		ch.RebuildConnection = true
	}
	if !ch.RebuildConnection &&
		(old.Stream != new.Stream || !filtersEqual(old.Filters, new.Filters)) {
		ch.PatchFilters = true
	}
	if !strategyEqual(old.Strategy, new.Strategy) {
		ch.StrategyChanged = true
	}
	if old.Connection != new.Connection ||
		old.Execution != new.Execution ||
		old.Telemetry != new.Telemetry ||
		old.Logging != new.Logging {
		ch.RequiresRestart = true
	}
	return ch
}

func filtersEqual(a, b FiltersConfig) bool {
	return slices.Equal(a.Traders, b.Traders) &&
		slices.Equal(a.Programs, b.Programs) &&
		slices.Equal(a.Pool, b.Pool) &&
		slices.Equal(a.Signers, b.Signers)
}

func strategyEqual(a, b StrategyConfig) bool {
	return a.Type == b.Type &&
		a.MinBuyAmountRaw == b.MinBuyAmountRaw &&
		slices.Equal(a.DenyMints, b.DenyMints)
}
