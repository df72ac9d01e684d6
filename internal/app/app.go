// Package app supervises the process: it keeps one stream session alive,
// feeds its updates to the pipeline, and routes configuration changes to
// the right mechanism (rebuild, patch, evaluator swap).
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"solana-copytrader/internal/config"
	"solana-copytrader/internal/observability"
	"solana-copytrader/internal/strategy"
	"solana-copytrader/internal/stream"
)

// patchTimeout bounds the unsubscribe/subscribe round trips of a filter
// patch; a hung patch falls back to a rebuild.
const patchTimeout = 10 * time.Second

// Pipeline is the part of the pipeline the supervisor drives. Satisfied by
// *pipeline.Runner.
type Pipeline interface {
	// Run consumes one session's updates until the channel closes.
	Run(ctx context.Context, updates <-chan *stream.Update)
	// SetEvaluator swaps the decision policy live.
	SetEvaluator(eval strategy.Evaluator)
}

// Supervisor owns the session lifecycle. One session is active at a time;
// in-flight executions belong to the pipeline and survive any session
// teardown the supervisor performs.
type Supervisor struct {
	store    *config.Store
	pipeline Pipeline
	log      *zap.Logger

	sessionMu sync.Mutex
	session   *stream.Session
}

// New builds a supervisor. Register ApplyChange as the store's change
// callback before the watcher starts.
func New(store *config.Store, p Pipeline, log *zap.Logger) *Supervisor {
	return &Supervisor{
		store:    store,
		pipeline: p,
		log:      log,
	}
}

// Run connects and consumes until ctx is canceled. The first connect must
// succeed; afterwards the supervisor reconnects on faults and orderly
// stream ends with a doubling backoff that resets once streaming resumes.
func (s *Supervisor) Run(ctx context.Context) error {
	first := true
	var delay time.Duration

	for {
		cfg := s.store.Current()
		sessCfg, err := cfg.SessionConfig()
		if err != nil {
			return fmt.Errorf("app: session config: %w", err)
		}

		session := stream.NewSession(sessCfg, s.log.Named("stream"))
		s.setSession(session)

		if err := session.Start(ctx); err != nil {
			s.setSession(nil)
			if ctx.Err() != nil {
				return nil
			}
			if first {
				return fmt.Errorf("app: initial connect: %w", err)
			}
			if session.Err() == nil {
				// Our own teardown raced the dial; not a fault.
				observability.RecordReconnect("rebuild")
				continue
			}
			delay = s.nextDelay(delay, cfg)
			s.log.Warn("reconnect failed, backing off",
				zap.Duration("delay", delay), zap.Error(err))
			observability.RecordReconnect("fault")
			if !s.sleep(ctx, delay) {
				return nil
			}
			continue
		}

		first = false
		delay = 0 // streaming again: backoff starts over

		s.pipeline.Run(ctx, session.Updates())
		s.setSession(nil)

		if ctx.Err() != nil {
			session.Stop()
			return nil
		}

		switch err := session.Err(); {
		case err == nil:
			// The supervisor stopped it (connection rebuild): reconnect now.
			s.log.Info("rebuilding stream connection")
			observability.RecordReconnect("rebuild")
		case errors.Is(err, stream.ErrStreamEnd):
			delay = s.nextDelay(delay, cfg)
			s.log.Info("stream ended, reconnecting", zap.Duration("delay", delay))
			observability.RecordReconnect("stream_end")
			if !s.sleep(ctx, delay) {
				return nil
			}
		default:
			delay = s.nextDelay(delay, cfg)
			s.log.Warn("stream faulted, reconnecting",
				zap.Duration("delay", delay), zap.Error(err))
			observability.RecordReconnect("fault")
			if !s.sleep(ctx, delay) {
				return nil
			}
		}
	}
}

// ApplyChange routes a configuration swap. Designed as the store's change
// callback; it runs on the watcher goroutine and never blocks on
// executions.
func (s *Supervisor) ApplyChange(old, new *config.Config, change config.Change) {
	if change.StrategyChanged {
		eval, err := strategy.FromParams(new.StrategyParams())
		if err != nil {
			// Load validated the params already; failing here means the
			// factory and the validator disagree.
			s.log.Error("strategy params rejected, keeping current evaluator", zap.Error(err))
		} else {
			s.pipeline.SetEvaluator(eval)
		}
	}

	switch {
	case change.RebuildConnection:
		s.log.Info("server settings changed, rebuilding connection")
		s.stopSession()
	case change.PatchFilters:
		if err := s.patchSession(new); err != nil {
			s.log.Warn("filter patch failed, rebuilding connection instead", zap.Error(err))
			s.stopSession()
		}
	}
}

// patchSession swaps the subscription on the live session. Between
// sessions there is nothing to patch: the next start reads the new config.
func (s *Supervisor) patchSession(cfg *config.Config) error {
	params, err := cfg.Subscription()
	if err != nil {
		return err
	}

	s.sessionMu.Lock()
	session := s.session
	s.sessionMu.Unlock()
	if session == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), patchTimeout)
	defer cancel()
	return session.PatchFilters(ctx, params)
}

func (s *Supervisor) stopSession() {
	s.sessionMu.Lock()
	session := s.session
	s.sessionMu.Unlock()
	if session != nil {
		session.Stop()
	}
}

func (s *Supervisor) setSession(session *stream.Session) {
	s.sessionMu.Lock()
	s.session = session
	s.sessionMu.Unlock()
}

func (s *Supervisor) nextDelay(delay time.Duration, cfg *config.Config) time.Duration {
	base := cfg.Connection.ReconnectDelay
	cap := cfg.Connection.MaxReconnectDelay
	if delay < base {
		return base
	}
	delay *= 2
	if delay > cap {
		return cap
	}
	return delay
}

// sleep waits for the delay unless ctx ends first; reports whether the
// caller should keep going.
func (s *Supervisor) sleep(ctx context.Context, delay time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}
