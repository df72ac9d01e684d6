package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"solana-copytrader/internal/observability"
)

// DebounceWindow coalesces the notification bursts editors and atomic
// replaces produce into a single reload.
const DebounceWindow = 300 * time.Millisecond

// ErrReloadInProgress reports a reload dropped because another one is
// already running. The running reload reads the latest file contents, so
// the dropped one has nothing left to do.
var ErrReloadInProgress = errors.New("config: reload already in progress")

// OnChangeFunc receives the previous and next configuration plus the
// classified change after a successful swap. It is only called when the
// change requires some action.
type OnChangeFunc func(old, new *Config, change Change)

// Store holds the live configuration and swaps it when the backing file
// changes. Readers always get a complete snapshot; a failed reload keeps
// the previous configuration in place.
type Store struct {
	path     string
	log      *zap.Logger
	onChange OnChangeFunc
	debounce time.Duration

	mu      sync.RWMutex
	current *Config

	reloadMu sync.Mutex

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

// NewStore loads the initial configuration from path. A broken file at
// boot is fatal; only later reloads degrade to keeping the previous
// snapshot.
func NewStore(path string, onChange OnChangeFunc, log *zap.Logger) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Store{
		path:     path,
		log:      log,
		onChange: onChange,
		debounce: DebounceWindow,
		current:  cfg,
	}, nil
}

// Current returns the live configuration snapshot.
func (s *Store) Current() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Reload re-reads the backing file and swaps the live configuration. A
// reload arriving while another runs is dropped, not queued. A parse or
// validation failure leaves the previous configuration in place.
func (s *Store) Reload() (Change, error) {
	if !s.reloadMu.TryLock() {
		return Change{}, ErrReloadInProgress
	}
	defer s.reloadMu.Unlock()

	next, err := Load(s.path)
	if err != nil {
		return Change{}, err
	}

	s.mu.Lock()
	prev := s.current
	change := Diff(prev, next)
	s.current = next
	s.mu.Unlock()

	if change.Any() && s.onChange != nil {
		s.onChange(prev, next, change)
	}
	return change, nil
}

// Watch starts reloading the store whenever the backing file changes,
// debounced so save bursts collapse into one reload. It returns once the
// watcher is installed; Close stops it.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: start watcher: %w", err)
	}

	// Watch the directory, not the file: an atomic replace (write to a
	// temp file, rename over) retires the watched inode and would end the
	// watch after the first swap.
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}
	s.watcher = watcher

	s.wg.Add(1)
	go s.watchLoop(ctx)
	return nil
}

func (s *Store) watchLoop(ctx context.Context) {
	defer s.wg.Done()

	// One timer per quiet period: every relevant event pushes the reload
	// out by the debounce window, so a burst fires exactly once.
	var timer *time.Timer
	var timerC <-chan time.Time

	base := filepath.Base(s.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(s.debounce)
				timerC = timer.C
			} else {
				timer.Reset(s.debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			s.triggerReload()

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (s *Store) triggerReload() {
	change, err := s.Reload()
	switch {
	case errors.Is(err, ErrReloadInProgress):
		observability.RecordReload("dropped")
		s.log.Debug("config reload dropped, another in progress")
	case err != nil:
		observability.RecordReload("failed")
		s.log.Error("config reload failed, keeping previous", zap.Error(err))
	default:
		observability.RecordReload("applied")
		s.log.Info("config reloaded",
			zap.Bool("rebuild_connection", change.RebuildConnection),
			zap.Bool("patch_filters", change.PatchFilters),
			zap.Bool("strategy_changed", change.StrategyChanged),
			zap.Bool("requires_restart", change.RequiresRestart),
		)
	}
}

// Close stops the watcher and waits for the watch loop to exit.
func (s *Store) Close() error {
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	s.wg.Wait()
	return err
}
