package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"solana-copytrader/internal/domain"
	"solana-copytrader/internal/jupiter"
	"solana-copytrader/internal/solana"
	"solana-copytrader/internal/wallet"
)

// Default execution parameters.
const (
	DefaultSlippageBps       = 250
	DefaultBroadcastAttempts = 3
	DefaultBroadcastDelay    = 500 * time.Millisecond
	DefaultConfirmTimeout    = 30 * time.Second

	manualCheckTimeout = 10 * time.Second
)

// Execution errors. All are terminal for the attempt that raised them.
var (
	ErrNoRoute        = errors.New("no route for pair")
	ErrQuote          = errors.New("quote failed")
	ErrBuild          = errors.New("transaction build failed")
	ErrSignerMismatch = errors.New("transaction fee payer is not the wallet")
	ErrBroadcast      = errors.New("broadcast failed")
)

// State is the terminal state of an execution attempt that produced a
// signature.
type State string

const (
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed_on_chain"
	StateAbandoned State = "abandoned_after_timeout"
)

// Result describes a broadcast attempt. Signature is always set; State
// records how far confirmation got. An abandoned attempt may still land
// on chain after the engine stopped watching.
type Result struct {
	AttemptID   string
	Signature   string
	State       State
	OutAmount   string
	RoutePinned bool
	Elapsed     time.Duration
}

// Quoter is the pricing and transaction-build surface the engine uses.
type Quoter interface {
	Quote(ctx context.Context, req jupiter.QuoteRequest) (*jupiter.QuoteResponse, error)
	SwapTransaction(ctx context.Context, quote *jupiter.QuoteResponse, userPublicKey string, legacy bool) (string, error)
}

// Options configure the engine.
type Options struct {
	SlippageBps         int
	AllowIndirectRoutes bool
	LegacyTransaction   bool
	BroadcastAttempts   int           // total submissions per attempt
	BroadcastDelay      time.Duration // spacing before the second submission, doubling after
	SendMaxRetries      int           // node-side rebroadcast budget
	ConfirmTimeout      time.Duration
	Commitment          string
}

func (o Options) withDefaults() Options {
	if o.SlippageBps <= 0 {
		o.SlippageBps = DefaultSlippageBps
	}
	if o.BroadcastAttempts <= 0 {
		o.BroadcastAttempts = DefaultBroadcastAttempts
	}
	if o.BroadcastDelay <= 0 {
		o.BroadcastDelay = DefaultBroadcastDelay
	}
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = DefaultConfirmTimeout
	}
	if o.Commitment == "" {
		o.Commitment = solana.CommitmentConfirmed
	}
	return o
}

// Engine turns approved trade intents into signed, broadcast, confirmed
// transactions. Attempts are fully independent: the engine holds no
// cross-attempt state, so concurrent intents execute without mutual
// exclusion or ordering.
type Engine struct {
	quoter Quoter
	ledger solana.Ledger
	wallet *wallet.Wallet
	opts   Options
	log    *zap.Logger
}

// New creates an execution engine.
func New(quoter Quoter, ledger solana.Ledger, w *wallet.Wallet, opts Options, log *zap.Logger) *Engine {
	return &Engine{
		quoter: quoter,
		ledger: ledger,
		wallet: w,
		opts:   opts.withDefaults(),
		log:    log,
	}
}

// Execute runs one attempt: quote, pin route, build, sign and broadcast,
// confirm. Failures before a signature exists return an error; once a
// broadcast succeeded the outcome is reported through Result.State.
func (e *Engine) Execute(ctx context.Context, intent domain.TradeIntent) (*Result, error) {
	started := time.Now()
	attemptID := uuid.NewString()
	log := e.log.With(
		zap.String("attempt", attemptID),
		zap.String("input_mint", intent.InputMint),
		zap.String("output_mint", intent.OutputMint),
		zap.Uint64("amount_raw", intent.BuyAmountRaw),
	)

	// The quote venue prices only wrapped assets.
	quote, err := e.quoter.Quote(ctx, jupiter.QuoteRequest{
		InputMint:           solana.WrapMint(intent.InputMint),
		OutputMint:          solana.WrapMint(intent.OutputMint),
		Amount:              intent.BuyAmountRaw,
		SlippageBps:         e.opts.SlippageBps,
		AllowIndirectRoutes: e.opts.AllowIndirectRoutes,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuote, err)
	}
	if quote.OutAmount == "" || len(quote.RoutePlan) == 0 {
		return nil, ErrNoRoute
	}

	// Mirror the observed venue when the route graph offers it. Missing
	// the venue is a soft fallback to the best route, not an error.
	pinned := false
	if intent.PoolAddress != "" {
		for _, leg := range quote.RoutePlan {
			if leg.AmmKey == intent.PoolAddress {
				quote.RoutePlan = []jupiter.RouteLeg{leg}
				pinned = true
				break
			}
		}
		if !pinned {
			log.Debug("observed pool absent from route plan, using best route",
				zap.String("pool", intent.PoolAddress))
		}
	}

	blob, err := e.quoter.SwapTransaction(ctx, quote, e.wallet.PublicKey(), e.opts.LegacyTransaction)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuild, err)
	}

	tx, err := solana.ParseTransactionBase64(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuild, err)
	}
	if tx.FeePayer() != e.wallet.PublicKey() {
		return nil, fmt.Errorf("%w: fee payer %s", ErrSignerMismatch, tx.FeePayer())
	}

	signed, signature, err := tx.Signed(e.wallet.Sign(tx.Message()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuild, err)
	}
	log.Debug("transaction signed",
		zap.Bool("legacy", tx.Legacy()),
		zap.String("signature", signature))

	signature, err = e.broadcast(ctx, signed, log)
	if err != nil {
		return nil, err
	}

	state := e.confirm(ctx, signature, log)
	result := &Result{
		AttemptID:   attemptID,
		Signature:   signature,
		State:       state,
		OutAmount:   quote.OutAmount,
		RoutePinned: pinned,
		Elapsed:     time.Since(started),
	}

	switch state {
	case StateConfirmed:
		log.Info("execution confirmed",
			zap.String("signature", signature),
			zap.String("out_amount", quote.OutAmount),
			zap.Bool("route_pinned", pinned),
			zap.Duration("elapsed", result.Elapsed))
	case StateFailed:
		log.Warn("execution failed on chain", zap.String("signature", signature))
	case StateAbandoned:
		log.Warn("confirmation timed out, returning unverified signature",
			zap.String("signature", signature))
	}

	return result, nil
}

// broadcast submits the signed bytes with pre-flight disabled, retrying
// transient failures up to the attempt budget with a doubling delay.
func (e *Engine) broadcast(ctx context.Context, signed []byte, log *zap.Logger) (string, error) {
	opts := &solana.SendOptions{
		SkipPreflight: true,
		MaxRetries:    e.opts.SendMaxRetries,
	}

	delay := e.opts.BroadcastDelay
	var lastErr error

	for attempt := 1; attempt <= e.opts.BroadcastAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrBroadcast, ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}

		signature, err := e.ledger.SendRawTransaction(ctx, signed, opts)
		if err == nil {
			return signature, nil
		}
		lastErr = err
		log.Warn("broadcast attempt failed", zap.Int("send_attempt", attempt), zap.Error(err))
	}

	return "", fmt.Errorf("%w: %v", ErrBroadcast, lastErr)
}

// confirm waits for the signature up to the confirmation timeout. On
// timeout one manual status check decides: an on-chain error fails the
// attempt, anything else leaves it abandoned with the signature returned.
func (e *Engine) confirm(ctx context.Context, signature string, log *zap.Logger) State {
	confirmCtx, cancel := context.WithTimeout(ctx, e.opts.ConfirmTimeout)
	err := e.ledger.ConfirmTransaction(confirmCtx, signature, e.opts.Commitment)
	cancel()

	if err == nil {
		return StateConfirmed
	}
	if errors.Is(err, solana.ErrTransactionFailed) {
		return StateFailed
	}
	log.Warn("confirmation did not complete", zap.Error(err))

	checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), manualCheckTimeout)
	defer cancel()

	status, err := e.ledger.GetSignatureStatus(checkCtx, signature)
	if err != nil {
		log.Warn("manual status check failed", zap.Error(err))
		return StateAbandoned
	}
	if status.Failed() {
		return StateFailed
	}
	if status.Reached(e.opts.Commitment) {
		return StateConfirmed
	}
	return StateAbandoned
}

// Classify maps an execution error to a stable outcome label for telemetry.
func Classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoRoute):
		return "no_route"
	case errors.Is(err, ErrQuote):
		return "quote_error"
	case errors.Is(err, ErrSignerMismatch), errors.Is(err, ErrBuild):
		return "build_error"
	case errors.Is(err, ErrBroadcast):
		return "broadcast_error"
	default:
		return "error"
	}
}
