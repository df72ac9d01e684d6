// Package main runs the copy-trade service: one upstream stream session
// feeding the classification pipeline, with approved intents executed
// against the chain.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"solana-copytrader/internal/app"
	"solana-copytrader/internal/config"
	"solana-copytrader/internal/engine"
	"solana-copytrader/internal/jupiter"
	"solana-copytrader/internal/observability"
	"solana-copytrader/internal/pipeline"
	"solana-copytrader/internal/solana"
	"solana-copytrader/internal/strategy"
	"solana-copytrader/internal/telemetry"
	"solana-copytrader/internal/wallet"
)

const (
	bootProbeTimeout = 10 * time.Second
	drainTimeout     = 30 * time.Second
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	debug := flag.Bool("debug", false, "Force debug-level console logging")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("copytrader", version)
		return
	}

	if err := run(*configPath, *debug); err != nil {
		fmt.Fprintln(os.Stderr, "copytrader:", err)
		os.Exit(1)
	}
}

func run(configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level, format := cfg.Logging.Level, cfg.Logging.Format
	if debug {
		level, format = "debug", "console"
	}
	logger, err := newLogger(level, format)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()
	logger.Info("starting copytrader", zap.String("version", version))

	// Key material is read exactly once and never leaves this process.
	// Only the public half is ever logged.
	signer, err := wallet.Load(cfg.Execution.WalletFile)
	if err != nil {
		return fmt.Errorf("load wallet: %w", err)
	}
	logger.Info("wallet loaded", zap.String("public_key", signer.PublicKey()))

	rpc := solana.NewHTTPClient(cfg.Execution.RPCEndpoint,
		solana.WithConfirmPoll(cfg.Execution.ConfirmPoll))
	if err := probeRPC(rpc, logger); err != nil {
		return err
	}

	quoter := jupiter.NewClient(cfg.Execution.QuoteEndpoint)
	eng := engine.New(quoter, rpc, signer, engineOptions(cfg), logger.Named("engine"))

	eval, err := strategy.FromParams(cfg.StrategyParams())
	if err != nil {
		return fmt.Errorf("build strategy: %w", err)
	}
	logger.Info("strategy configured", zap.String("strategy", eval.Name()))

	// Executions run under their own context so that shutdown can stop
	// consuming the stream while attempts already past broadcast settle.
	execCtx, cancelExec := context.WithCancel(context.Background())
	defer cancelExec()

	telem := telemetry.New(cfg.Telemetry.ReportInterval, logger.Named("telemetry"))
	runner := pipeline.New(execCtx, eng, eval, telem,
		pipeline.Options{MaxConcurrent: cfg.Execution.MaxConcurrent},
		logger.Named("pipeline"))

	var sup *app.Supervisor
	store, err := config.NewStore(configPath, func(old, new *config.Config, change config.Change) {
		sup.ApplyChange(old, new, change)
	}, logger.Named("config"))
	if err != nil {
		return err
	}
	defer store.Close()
	sup = app.New(store, runner, logger.Named("app"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First signal drains gracefully, second one forces the exit.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received, shutting down", zap.String("signal", sig.String()))
		cancel()
		sig = <-sigCh
		logger.Warn("second signal, forcing exit", zap.String("signal", sig.String()))
		os.Exit(1)
	}()

	// The callback above fires only from the watcher, which starts here,
	// after sup is set.
	if err := store.Watch(ctx); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}

	// The aggregator lives on the execution context so outcomes recorded
	// during the drain window still make the final report.
	telemDone := make(chan struct{})
	go func() {
		telem.Run(execCtx)
		close(telemDone)
	}()
	go serveMetrics(ctx, cfg.Telemetry.MetricsAddr, logger)

	runErr := sup.Run(ctx)

	// Stop feeding new work, then give in-flight attempts a window to
	// reach a terminal state before their context goes away.
	cancel()
	if !runner.Drain(drainTimeout) {
		logger.Warn("executions still in flight after drain window, canceling",
			zap.Duration("window", drainTimeout))
	}
	cancelExec()
	<-telemDone

	logger.Info("shutdown complete")
	return runErr
}

func probeRPC(rpc *solana.HTTPClient, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), bootProbeTimeout)
	defer cancel()

	slot, err := rpc.GetSlot(ctx)
	if err != nil {
		return fmt.Errorf("rpc endpoint probe: %w", err)
	}
	logger.Info("rpc endpoint reachable", zap.Uint64("slot", slot))
	return nil
}

func engineOptions(cfg *config.Config) engine.Options {
	return engine.Options{
		SlippageBps:         cfg.Execution.SlippageBps,
		AllowIndirectRoutes: cfg.Execution.AllowIndirectRoutes,
		LegacyTransaction:   cfg.Execution.LegacyTransaction,
		BroadcastAttempts:   cfg.Execution.BroadcastAttempts,
		BroadcastDelay:      cfg.Execution.BroadcastDelay,
		SendMaxRetries:      cfg.Execution.SendMaxRetries,
		ConfirmTimeout:      cfg.Execution.ConfirmTimeout,
		Commitment:          cfg.Execution.Commitment,
	}
}

func serveMetrics(ctx context.Context, addr string, logger *zap.Logger) {
	if addr == "" {
		return
	}

	started := time.Now()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status": "ok",
			"uptime": time.Since(started).Round(time.Second).String(),
		})
	})
	mux.Handle("/metrics", observability.Handler())

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server listening", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", zap.Error(err))
	}
}

func newLogger(level, format string) (*zap.Logger, error) {
	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
