// Package pipeline connects the stream to execution: classify each update,
// project trades onto intents, ask the strategy, and fan approved intents
// out to the engine without blocking consumption.
package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"solana-copytrader/internal/addr"
	"solana-copytrader/internal/classify"
	"solana-copytrader/internal/domain"
	"solana-copytrader/internal/engine"
	"solana-copytrader/internal/observability"
	"solana-copytrader/internal/strategy"
	"solana-copytrader/internal/stream"
	"solana-copytrader/internal/telemetry"
)

// Executor runs one execution attempt. Satisfied by *engine.Engine.
type Executor interface {
	Execute(ctx context.Context, intent domain.TradeIntent) (*engine.Result, error)
}

// Options tune the runner.
type Options struct {
	// MaxConcurrent caps in-flight executions. 0 means unbounded fan-out;
	// when the cap is reached, dispatch blocks the consume loop until a
	// slot frees.
	MaxConcurrent int
	// CacheSize bounds the address resolution cache. 0 selects the
	// package default.
	CacheSize int
}

// Runner is the per-process pipeline. It outlives any single stream
// session: the address cache, the evaluator, and in-flight executions all
// carry across reconnects. Run is called once per session and consumes
// sequentially; executions are the only concurrent stage.
type Runner struct {
	execCtx  context.Context
	executor Executor
	telem    *telemetry.Aggregator
	codec    *addr.Codec
	log      *zap.Logger

	evalMu sync.RWMutex
	eval   strategy.Evaluator

	sem chan struct{} // nil when unbounded

	wg sync.WaitGroup

	highestSlot uint64 // touched only by the consume goroutine
}

// New creates a runner. execCtx governs execution attempts, not stream
// consumption: it must outlive individual sessions so that a reconnect or
// reload never cancels an attempt already in flight.
func New(execCtx context.Context, executor Executor, eval strategy.Evaluator, telem *telemetry.Aggregator, opts Options, log *zap.Logger) *Runner {
	var sem chan struct{}
	if opts.MaxConcurrent > 0 {
		sem = make(chan struct{}, opts.MaxConcurrent)
	}
	return &Runner{
		execCtx:  execCtx,
		executor: executor,
		telem:    telem,
		codec:    addr.NewCodec(opts.CacheSize),
		log:      log,
		eval:     eval,
		sem:      sem,
	}
}

// SetEvaluator swaps the decision policy. Safe to call while Run consumes;
// in-flight executions are unaffected.
func (r *Runner) SetEvaluator(eval strategy.Evaluator) {
	r.evalMu.Lock()
	r.eval = eval
	r.evalMu.Unlock()
	r.log.Info("strategy swapped", zap.String("strategy", eval.Name()))
}

func (r *Runner) evaluator() strategy.Evaluator {
	r.evalMu.RLock()
	defer r.evalMu.RUnlock()
	return r.eval
}

// CacheStats exposes the address cache counters.
func (r *Runner) CacheStats() addr.CacheStats {
	return r.codec.Stats()
}

// Run consumes updates until the channel closes or ctx is canceled. The
// channel belongs to one session; call Run again with the next session's
// channel after a reconnect.
func (r *Runner) Run(ctx context.Context, updates <-chan *stream.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			r.handle(u)
		}
	}
}

func (r *Runner) handle(u *stream.Update) {
	ev := classify.Decode(u, time.Now())

	kind := ev.Kind.String()
	r.telem.Record(kind)
	observability.RecordEvent(kind)
	observability.UpdateLastEvent(ev.ReceivedAt.Unix())
	if ev.Slot > r.highestSlot {
		r.highestSlot = ev.Slot
		observability.UpdateHighestSlot(ev.Slot)
	}

	if ev.Kind != classify.KindTrade {
		return
	}

	intent, ok := r.buildIntent(ev.Trade, ev.Slot)
	stats := r.codec.Stats()
	observability.UpdateCacheStats(stats.Hits, stats.Misses, stats.Evictions)
	if !ok {
		r.telem.Record("decode_error")
		observability.RecordDecodeError()
		return
	}

	if !r.evaluator().Approve(intent) {
		r.telem.Record("rejected")
		observability.RecordIntent("rejected")
		return
	}
	r.telem.Record("approved")
	observability.RecordIntent("approved")

	r.dispatch(intent)
}

// buildIntent projects a trade payload onto an executable intent. Both
// mints are required: unresolvable or absent mints abort construction. An
// invalid pool aborts too, while an absent pool only disables route
// pinning. The trader is advisory; a bad value degrades to absent.
func (r *Runner) buildIntent(trade *stream.TradePayload, slot uint64) (domain.TradeIntent, bool) {
	inputMint, err := r.codec.Resolve(trade.InputMint)
	if err != nil || inputMint == addr.Undefined {
		r.log.Debug("trade dropped: input mint unresolved", zap.Uint64("slot", slot), zap.Error(err))
		return domain.TradeIntent{}, false
	}
	outputMint, err := r.codec.Resolve(trade.OutputMint)
	if err != nil || outputMint == addr.Undefined {
		r.log.Debug("trade dropped: output mint unresolved", zap.Uint64("slot", slot), zap.Error(err))
		return domain.TradeIntent{}, false
	}
	pool, err := r.codec.Resolve(trade.Pool)
	if err != nil {
		r.log.Debug("trade dropped: pool unresolvable", zap.Uint64("slot", slot), zap.Error(err))
		return domain.TradeIntent{}, false
	}
	trader, err := r.codec.Resolve(trade.Trader)
	if err != nil {
		trader = addr.Undefined
	}

	intent := domain.TradeIntent{
		InputMint:    inputMint,
		OutputMint:   outputMint,
		PoolAddress:  pool,
		Trader:       trader,
		BuyAmountRaw: trade.BuyAmountRaw,
		Slot:         slot,
	}
	return intent, intent.Valid()
}

// dispatch hands the intent to the engine on its own goroutine. The
// consume loop keeps going, so a burst of qualifying trades produces
// overlapping attempts, each independent.
func (r *Runner) dispatch(intent domain.TradeIntent) {
	if r.sem != nil {
		r.sem <- struct{}{}
	}
	r.wg.Add(1)
	observability.ExecutionStarted()

	go func() {
		defer r.wg.Done()
		defer observability.ExecutionFinished()
		if r.sem != nil {
			defer func() { <-r.sem }()
		}

		started := time.Now()
		res, err := r.executor.Execute(r.execCtx, intent)

		outcome := engine.Classify(err)
		if err == nil && res != nil {
			outcome = string(res.State)
		}
		r.telem.Record("exec_" + outcome)
		observability.RecordExecution(outcome, time.Since(started).Seconds())

		if err != nil {
			r.log.Warn("execution attempt failed",
				zap.String("outcome", outcome),
				zap.String("input_mint", intent.InputMint),
				zap.String("output_mint", intent.OutputMint),
				zap.Uint64("amount_raw", intent.BuyAmountRaw),
				zap.Error(err))
		}
	}()
}

// Drain waits up to timeout for in-flight executions to settle and reports
// whether they all did.
func (r *Runner) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
