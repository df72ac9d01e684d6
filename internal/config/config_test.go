package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"solana-copytrader/internal/stream"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
server:
  address: "stream.example.com:443"

execution:
  wallet_file: "/etc/copytrader/wallet.json"

strategy:
  min_buy_amount_raw: 1000000
`

func TestLoad(t *testing.T) {
	content := `
server:
  address: "stream.example.com:443"
  authorization: "secret-token"
  insecure: true

stream:
  type: "dex_pools"

filters:
  traders:
    - "Trader1111111111111111111111111111111111111"
  pool:
    - "Pool111111111111111111111111111111111111111"

connection:
  idle_timeout: 90s
  buffer: 500

execution:
  rpc_endpoint: "http://localhost:8899"
  quote_endpoint: "http://localhost:8080"
  wallet_file: "/etc/copytrader/wallet.json"
  slippage_bps: 100
  allow_indirect_routes: false
  legacy_transaction: true
  broadcast_attempts: 5
  broadcast_delay: 250ms
  confirm_timeout: 45s
  commitment: "finalized"
  max_concurrent: 8

strategy:
  type: "THRESHOLD"
  min_buy_amount_raw: 1000000
  deny_mints:
    - "Mint111111111111111111111111111111111111111"

telemetry:
  report_interval: 10s
  metrics_addr: ":9100"

logging:
  level: "debug"
  format: "console"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Address != "stream.example.com:443" {
		t.Errorf("server.address = %q", cfg.Server.Address)
	}
	if cfg.Server.Authorization != "secret-token" {
		t.Errorf("server.authorization = %q", cfg.Server.Authorization)
	}
	if !cfg.Server.Insecure {
		t.Error("server.insecure not set")
	}
	if cfg.Stream.Type != "dex_pools" {
		t.Errorf("stream.type = %q", cfg.Stream.Type)
	}
	if len(cfg.Filters.Traders) != 1 || len(cfg.Filters.Pool) != 1 {
		t.Errorf("filters = %+v", cfg.Filters)
	}
	if cfg.Connection.IdleTimeout != 90*time.Second {
		t.Errorf("connection.idle_timeout = %v", cfg.Connection.IdleTimeout)
	}
	if cfg.Connection.Buffer != 500 {
		t.Errorf("connection.buffer = %d", cfg.Connection.Buffer)
	}
	// Unset keys in a present section still get defaults.
	if cfg.Connection.KeepAlive != 30*time.Second {
		t.Errorf("connection.keep_alive = %v, want default 30s", cfg.Connection.KeepAlive)
	}
	if cfg.Execution.RPCEndpoint != "http://localhost:8899" {
		t.Errorf("execution.rpc_endpoint = %q", cfg.Execution.RPCEndpoint)
	}
	if cfg.Execution.SlippageBps != 100 {
		t.Errorf("execution.slippage_bps = %d", cfg.Execution.SlippageBps)
	}
	if cfg.Execution.AllowIndirectRoutes {
		t.Error("execution.allow_indirect_routes not overridden")
	}
	if !cfg.Execution.LegacyTransaction {
		t.Error("execution.legacy_transaction not set")
	}
	if cfg.Execution.BroadcastAttempts != 5 {
		t.Errorf("execution.broadcast_attempts = %d", cfg.Execution.BroadcastAttempts)
	}
	if cfg.Execution.BroadcastDelay != 250*time.Millisecond {
		t.Errorf("execution.broadcast_delay = %v", cfg.Execution.BroadcastDelay)
	}
	if cfg.Execution.ConfirmTimeout != 45*time.Second {
		t.Errorf("execution.confirm_timeout = %v", cfg.Execution.ConfirmTimeout)
	}
	if cfg.Execution.Commitment != "finalized" {
		t.Errorf("execution.commitment = %q", cfg.Execution.Commitment)
	}
	if cfg.Execution.MaxConcurrent != 8 {
		t.Errorf("execution.max_concurrent = %d", cfg.Execution.MaxConcurrent)
	}
	if cfg.Strategy.MinBuyAmountRaw != 1000000 {
		t.Errorf("strategy.min_buy_amount_raw = %d", cfg.Strategy.MinBuyAmountRaw)
	}
	if len(cfg.Strategy.DenyMints) != 1 {
		t.Errorf("strategy.deny_mints = %v", cfg.Strategy.DenyMints)
	}
	if cfg.Telemetry.ReportInterval != 10*time.Second {
		t.Errorf("telemetry.report_interval = %v", cfg.Telemetry.ReportInterval)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "console" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Stream.Type != "dex_trades" {
		t.Errorf("stream.type = %q", cfg.Stream.Type)
	}
	if cfg.Connection.HandshakeTimeout != 10*time.Second {
		t.Errorf("connection.handshake_timeout = %v", cfg.Connection.HandshakeTimeout)
	}
	if cfg.Connection.IdleTimeout != 60*time.Second {
		t.Errorf("connection.idle_timeout = %v", cfg.Connection.IdleTimeout)
	}
	if cfg.Connection.Buffer != 10000 {
		t.Errorf("connection.buffer = %d", cfg.Connection.Buffer)
	}
	if cfg.Connection.ReconnectDelay != time.Second || cfg.Connection.MaxReconnectDelay != 30*time.Second {
		t.Errorf("reconnect backoff = %v/%v", cfg.Connection.ReconnectDelay, cfg.Connection.MaxReconnectDelay)
	}
	if cfg.Execution.RPCEndpoint != "https://api.mainnet-beta.solana.com" {
		t.Errorf("execution.rpc_endpoint = %q", cfg.Execution.RPCEndpoint)
	}
	if cfg.Execution.QuoteEndpoint != "https://quote-api.jup.ag/v6" {
		t.Errorf("execution.quote_endpoint = %q", cfg.Execution.QuoteEndpoint)
	}
	if cfg.Execution.SlippageBps != 250 {
		t.Errorf("execution.slippage_bps = %d", cfg.Execution.SlippageBps)
	}
	if !cfg.Execution.AllowIndirectRoutes {
		t.Error("execution.allow_indirect_routes default should be true")
	}
	if cfg.Execution.BroadcastAttempts != 3 {
		t.Errorf("execution.broadcast_attempts = %d", cfg.Execution.BroadcastAttempts)
	}
	if cfg.Execution.BroadcastDelay != 500*time.Millisecond {
		t.Errorf("execution.broadcast_delay = %v", cfg.Execution.BroadcastDelay)
	}
	if cfg.Execution.ConfirmTimeout != 30*time.Second {
		t.Errorf("execution.confirm_timeout = %v", cfg.Execution.ConfirmTimeout)
	}
	if cfg.Execution.Commitment != "confirmed" {
		t.Errorf("execution.commitment = %q", cfg.Execution.Commitment)
	}
	if cfg.Strategy.Type != "THRESHOLD" {
		t.Errorf("strategy.type = %q", cfg.Strategy.Type)
	}
	if cfg.Telemetry.ReportInterval != 30*time.Second {
		t.Errorf("telemetry.report_interval = %v", cfg.Telemetry.ReportInterval)
	}
	if cfg.Telemetry.MetricsAddr != ":9090" {
		t.Errorf("telemetry.metrics_addr = %q", cfg.Telemetry.MetricsAddr)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_Malformed(t *testing.T) {
	if _, err := Load(writeConfig(t, "server: [unclosed")); err == nil {
		t.Fatal("expected error for malformed file")
	}
}

func TestLoad_InvalidRejected(t *testing.T) {
	content := `
server:
  address: "stream.example.com:443"

execution:
  wallet_file: "/etc/copytrader/wallet.json"
  slippage_bps: 20000

strategy:
  min_buy_amount_raw: 1
`
	if _, err := Load(writeConfig(t, content)); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("COPYTRADER_EXECUTION_SLIPPAGE_BPS", "400")
	t.Setenv("COPYTRADER_LOGGING_LEVEL", "warn")

	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Execution.SlippageBps != 400 {
		t.Errorf("execution.slippage_bps = %d, want env override 400", cfg.Execution.SlippageBps)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("logging.level = %q, want env override \"warn\"", cfg.Logging.Level)
	}
}

// validConfig is a baseline that passes Validate; tests mutate one field
// at a time.
func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Address: "stream.example.com:443"},
		Stream: StreamConfig{Type: "dex_trades"},
		Connection: ConnectionConfig{
			ReconnectDelay:    time.Second,
			MaxReconnectDelay: 30 * time.Second,
		},
		Execution: ExecutionConfig{
			RPCEndpoint:       "http://localhost:8899",
			QuoteEndpoint:     "http://localhost:8080",
			WalletFile:        "/tmp/wallet.json",
			SlippageBps:       250,
			BroadcastAttempts: 3,
			Commitment:        "confirmed",
		},
		Strategy: StrategyConfig{Type: "THRESHOLD", MinBuyAmountRaw: 1},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing server address", func(c *Config) { c.Server.Address = "" }, true},
		{"unknown stream type", func(c *Config) { c.Stream.Type = "options" }, true},
		{"missing rpc endpoint", func(c *Config) { c.Execution.RPCEndpoint = "" }, true},
		{"missing wallet file", func(c *Config) { c.Execution.WalletFile = "" }, true},
		{"slippage zero", func(c *Config) { c.Execution.SlippageBps = 0 }, true},
		{"slippage too high", func(c *Config) { c.Execution.SlippageBps = 10001 }, true},
		{"zero reconnect delay", func(c *Config) { c.Connection.ReconnectDelay = 0 }, true},
		{"backoff cap below base", func(c *Config) { c.Connection.MaxReconnectDelay = time.Millisecond }, true},
		{"zero broadcast attempts", func(c *Config) { c.Execution.BroadcastAttempts = 0 }, true},
		{"negative max concurrent", func(c *Config) { c.Execution.MaxConcurrent = -1 }, true},
		{"bad commitment", func(c *Config) { c.Execution.Commitment = "instant" }, true},
		{"threshold without amount", func(c *Config) { c.Strategy.MinBuyAmountRaw = 0 }, true},
		{"allow_all without amount", func(c *Config) { c.Strategy = StrategyConfig{Type: "ALLOW_ALL"} }, false},
		{"unknown strategy", func(c *Config) { c.Strategy.Type = "MARTINGALE" }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "text" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscription(t *testing.T) {
	cfg := validConfig()
	cfg.Stream.Type = "dex_pools"
	cfg.Filters.Traders = []string{"Addr1"}

	params, err := cfg.Subscription()
	if err != nil {
		t.Fatalf("Subscription: %v", err)
	}
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"stream":"dex_pools","filters":{"trader":{"addresses":["Addr1"]}}}`
	if string(raw) != want {
		t.Errorf("subscription payload = %s, want %s", raw, want)
	}
}

func TestSubscription_NoFilters(t *testing.T) {
	params, err := validConfig().Subscription()
	if err != nil {
		t.Fatalf("Subscription: %v", err)
	}
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"stream":"dex_trades","filters":{}}`
	if string(raw) != want {
		t.Errorf("subscription payload = %s, want %s", raw, want)
	}
}

func TestSessionConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Authorization = "tok"
	cfg.Server.Insecure = true
	cfg.Connection = ConnectionConfig{
		HandshakeTimeout: 5 * time.Second,
		IdleTimeout:      2 * time.Minute,
		Buffer:           64,
	}

	sc, err := cfg.SessionConfig()
	if err != nil {
		t.Fatalf("SessionConfig: %v", err)
	}
	if sc.Address != cfg.Server.Address || sc.Token != "tok" || !sc.Insecure {
		t.Errorf("server fields not carried: %+v", sc)
	}
	if sc.HandshakeTimeout != 5*time.Second || sc.IdleTimeout != 2*time.Minute || sc.Buffer != 64 {
		t.Errorf("connection fields not carried: %+v", sc)
	}
	if sc.Params.Stream != stream.TypeTrades {
		t.Errorf("params.stream = %q", sc.Params.Stream)
	}
}

func TestDiff(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   Change
	}{
		{"no change", func(c *Config) {}, Change{}},
		{"server address", func(c *Config) { c.Server.Address = "other.example.com:443" }, Change{RebuildConnection: true}},
		{"credential", func(c *Config) { c.Server.Authorization = "rotated" }, Change{RebuildConnection: true}},
		{"tls mode", func(c *Config) { c.Server.Insecure = true }, Change{RebuildConnection: true}},
		{"stream type", func(c *Config) { c.Stream.Type = "dex_orders" }, Change{PatchFilters: true}},
		{"filters", func(c *Config) { c.Filters.Traders = []string{"Addr1"} }, Change{PatchFilters: true}},
		{"server change subsumes filters", func(c *Config) {
			c.Server.Address = "other.example.com:443"
			c.Filters.Traders = []string{"Addr1"}
		}, Change{RebuildConnection: true}},
		{"strategy threshold", func(c *Config) { c.Strategy.MinBuyAmountRaw = 5 }, Change{StrategyChanged: true}},
		{"deny list", func(c *Config) { c.Strategy.DenyMints = []string{"Mint1"} }, Change{StrategyChanged: true}},
		{"slippage", func(c *Config) { c.Execution.SlippageBps = 50 }, Change{RequiresRestart: true}},
		{"buffer", func(c *Config) { c.Connection.Buffer = 1 }, Change{RequiresRestart: true}},
		{"log level", func(c *Config) { c.Logging.Level = "debug" }, Change{RequiresRestart: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old := validConfig()
			next := validConfig()
			tt.mutate(next)

			got := Diff(old, next)
			if got != tt.want {
				t.Errorf("Diff = %+v, want %+v", got, tt.want)
			}
			if got.Any() != (tt.want != Change{}) {
				t.Errorf("Any() = %v", got.Any())
			}
		})
	}
}
