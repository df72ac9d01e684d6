package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// State is the session lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	// StateClosed covers both an orderly server end and a caller Stop.
	StateClosed
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

var (
	// ErrStreamEnd marks an orderly server-initiated close. It is not a
	// transport fault; callers decide whether to resubscribe.
	ErrStreamEnd = errors.New("stream: orderly end")
	// ErrAlreadyStarted is returned by Start on any state but Idle.
	ErrAlreadyStarted = errors.New("stream: session already started")
	// ErrNotStreaming is returned by PatchFilters outside Streaming.
	ErrNotStreaming = errors.New("stream: session is not streaming")
	// ErrSubscribeRejected wraps a server-side subscription refusal.
	ErrSubscribeRejected = errors.New("stream: subscription rejected")
	// ErrSessionClosed is returned when a call races session shutdown.
	ErrSessionClosed = errors.New("stream: session closed")
)

// ackTimeout bounds the wait for a subscribe/unsubscribe ack when the
// caller's context carries no deadline of its own.
const ackTimeout = 15 * time.Second

// Session owns one connection plus one subscription to the upstream source.
// It is single-use: once the update sequence ends it cannot be restarted;
// build a new Session instead. Stop is safe from any state and any
// goroutine; the resulting teardown error is suppressed (Err returns nil).
type Session struct {
	cfg    Config
	logger *zap.Logger

	state     atomic.Int32
	requestID atomic.Uint64

	connMu sync.Mutex
	conn   *websocket.Conn

	subMu sync.Mutex
	subID string

	pendingMu sync.Mutex
	pending   map[uint64]chan *response

	updates  chan *Update
	done     chan struct{}
	doneOnce sync.Once
	stopOnce sync.Once
	wg       sync.WaitGroup

	teardown atomic.Bool // caller-initiated stop: suppress the read error
	rotated  atomic.Bool // max-age rotation: report as orderly end

	errMu    sync.Mutex
	finished bool
	err      error
}

// NewSession creates an Idle session. Start must be called exactly once.
func NewSession(cfg Config, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Session{
		cfg:     cfg,
		logger:  logger,
		pending: make(map[uint64]chan *response),
		updates: make(chan *Update, cfg.Buffer),
		done:    make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Updates yields the inbound event sequence. The channel closes when the
// session ends for any reason; consult Err afterwards.
func (s *Session) Updates() <-chan *Update {
	return s.updates
}

// Err reports how the session ended: nil for a caller Stop (or a session
// still running), ErrStreamEnd for an orderly server close, any other error
// for a transport fault.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Subscription returns the server-assigned subscription id, empty before
// the first ack.
func (s *Session) Subscription() string {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return s.subID
}

// Start dials the server, issues the configured subscription, and begins
// streaming. On failure the session lands in Faulted and cannot be reused.
func (s *Session) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		return ErrAlreadyStarted
	}

	conn, err := dial(ctx, s.cfg)
	if err != nil {
		if s.teardown.Load() {
			s.setErr(nil)
			s.state.Store(int32(StateClosed))
		} else {
			s.setErr(err)
			s.state.Store(int32(StateFaulted))
		}
		s.closeDone()
		close(s.updates)
		return err
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	s.wg.Add(2)
	go s.readLoop(conn)
	go s.pingLoop(conn)
	if s.cfg.MaxAge > 0 {
		s.wg.Add(1)
		go s.ageLoop()
	}

	subID, err := s.subscribe(ctx, s.cfg.Params)
	if err != nil {
		if s.teardown.Load() {
			// Stop raced the handshake; not a fault.
			s.setErr(nil)
			s.state.Store(int32(StateClosed))
		} else {
			s.setErr(err)
			s.state.Store(int32(StateFaulted))
		}
		s.closeConn(conn)
		s.closeDone()
		return err
	}

	s.subMu.Lock()
	s.subID = subID
	s.subMu.Unlock()

	s.state.Store(int32(StateStreaming))
	s.logger.Info("streaming",
		zap.String("stream", string(s.cfg.Params.Stream)),
		zap.String("subscription", subID))
	return nil
}

// Stop ends the session. Idempotent and safe from Idle, Streaming, Closed,
// or Faulted; the teardown error it provokes is not reported as a fault.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.teardown.Store(true)
		s.closeDone()

		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()
		if conn != nil {
			s.closeConn(conn)
		} else if s.state.CompareAndSwap(int32(StateIdle), int32(StateClosed)) {
			// Never connected: end the sequence ourselves.
			s.setErr(nil)
			close(s.updates)
		}
	})
}

// PatchFilters swaps the subscription on the live connection: unsubscribe
// the current id, subscribe with the new parameters. The connection itself
// is untouched, so no reconnect-level faults are produced.
func (s *Session) PatchFilters(ctx context.Context, params SubscribeParams) error {
	if s.State() != StateStreaming {
		return ErrNotStreaming
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()

	if s.subID != "" {
		resp, err := s.roundTrip(ctx, methodUnsubscribe, unsubscribeParams{Subscription: s.subID})
		if err != nil {
			return fmt.Errorf("unsubscribe: %w", err)
		}
		if resp.Error != nil {
			return fmt.Errorf("unsubscribe: %w", resp.Error)
		}
	}

	subID, err := s.subscribeLocked(ctx, params)
	if err != nil {
		return err
	}
	s.subID = subID
	s.cfg.Params = params
	s.logger.Info("filters patched",
		zap.String("stream", string(params.Stream)),
		zap.String("subscription", subID))
	return nil
}

func (s *Session) subscribe(ctx context.Context, params SubscribeParams) (string, error) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return s.subscribeLocked(ctx, params)
}

func (s *Session) subscribeLocked(ctx context.Context, params SubscribeParams) (string, error) {
	resp, err := s.roundTrip(ctx, methodSubscribe, params)
	if err != nil {
		return "", fmt.Errorf("subscribe: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("%w: %s", ErrSubscribeRejected, resp.Error.Message)
	}
	if resp.Result == nil || resp.Result.Subscription == "" {
		return "", errors.New("stream: subscribe ack missing subscription id")
	}
	return resp.Result.Subscription, nil
}

// roundTrip sends one request and waits for the matching response, which the
// read loop delivers through the pending map.
func (s *Session) roundTrip(ctx context.Context, method string, params any) (*response, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ackTimeout)
		defer cancel()
	}

	id := s.requestID.Add(1)
	ch := make(chan *response, 1)
	s.pendingMu.Lock()
	s.pending[id] = ch
	s.pendingMu.Unlock()

	removePending := func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}

	req := request{ID: id, Method: method, Token: s.cfg.Token, Params: params}
	if err := s.writeJSON(req); err != nil {
		removePending()
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		removePending()
		return nil, ctx.Err()
	case <-s.done:
		removePending()
		return nil, ErrSessionClosed
	}
}

func (s *Session) writeJSON(v any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return ErrSessionClosed
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := s.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// readLoop drains the connection until it dies, dispatching acks to waiters
// and notifications to the updates channel. It owns closing updates and
// recording the terminal error.
func (s *Session) readLoop(conn *websocket.Conn) {
	defer s.wg.Done()

	for {
		if s.cfg.IdleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			s.finish(s.classifyReadError(err))
			return
		}
		s.handleMessage(msg)
	}
}

func (s *Session) classifyReadError(err error) error {
	switch {
	case s.teardown.Load():
		return nil
	case s.rotated.Load():
		return ErrStreamEnd
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		return ErrStreamEnd
	default:
		return fmt.Errorf("stream: transport: %w", err)
	}
}

// finish records the terminal error, moves to the terminal state, and closes
// the update sequence. Called by the read loop when the connection dies; the
// first recorded outcome wins if a Start failure already settled the session.
func (s *Session) finish(err error) {
	if s.setErr(err) {
		if err == nil || errors.Is(err, ErrStreamEnd) {
			s.state.Store(int32(StateClosed))
		} else {
			s.state.Store(int32(StateFaulted))
		}
		switch {
		case err == nil:
		case errors.Is(err, ErrStreamEnd):
			s.logger.Info("stream ended by server")
		default:
			s.logger.Warn("stream faulted", zap.Error(err))
		}
	}
	s.closeDone()

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()

	close(s.updates)
}

// setErr records the terminal outcome once. Reports whether this call was
// the one that settled it.
func (s *Session) setErr(err error) bool {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.finished {
		return false
	}
	s.finished = true
	s.err = err
	return true
}

func (s *Session) handleMessage(msg []byte) {
	var notif notification
	if err := json.Unmarshal(msg, &notif); err != nil {
		s.logger.Debug("discarding unparseable frame", zap.Error(err))
		return
	}

	if notif.Method == methodNotification && notif.Params != nil {
		// Blocking send: the buffer absorbs bursts, the consumer sets the pace.
		select {
		case s.updates <- notif.Params:
		case <-s.done:
		}
		return
	}

	var resp response
	if err := json.Unmarshal(msg, &resp); err != nil || resp.ID == 0 {
		return
	}

	s.pendingMu.Lock()
	ch, ok := s.pending[resp.ID]
	if ok {
		delete(s.pending, resp.ID)
	}
	s.pendingMu.Unlock()

	if ok {
		select {
		case ch <- &resp:
		default:
		}
	}
}

// pingLoop keeps the connection alive with ping control frames.
func (s *Session) pingLoop(conn *websocket.Conn) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				// Connection is likely dead; the read loop surfaces it.
				return
			}
		}
	}
}

// ageLoop rotates the connection once it reaches MaxAge. Rotation looks like
// an orderly stream end to the consumer.
func (s *Session) ageLoop() {
	defer s.wg.Done()

	timer := time.NewTimer(s.cfg.MaxAge)
	defer timer.Stop()

	select {
	case <-s.done:
		return
	case <-timer.C:
		s.rotated.Store(true)
		s.logger.Info("connection reached max age, rotating",
			zap.Duration("max_age", s.cfg.MaxAge))
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()
		if conn != nil {
			s.closeConn(conn)
		}
	}
}

// closeConn attempts a clean websocket close handshake, then tears the
// connection down regardless.
func (s *Session) closeConn(conn *websocket.Conn) {
	deadline := time.Now().Add(s.cfg.WriteTimeout)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	conn.Close()
}

func (s *Session) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}
