package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"solana-copytrader/internal/config"
	"solana-copytrader/internal/domain"
	"solana-copytrader/internal/strategy"
	"solana-copytrader/internal/stream"
)

var upgrader = websocket.Upgrader{}

type testRequest struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Token  string          `json:"token"`
	Params json.RawMessage `json:"params"`
}

// newStreamServer runs handler on each upgraded connection and returns a
// ws:// URL for it.
func newStreamServer(t *testing.T, handler func(*websocket.Conn, *http.Request)) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		handler(conn, r)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func readRequest(t *testing.T, conn *websocket.Conn) testRequest {
	t.Helper()
	var req testRequest
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&req); err != nil {
		t.Errorf("read request: %v", err)
	}
	return req
}

func writeAck(t *testing.T, conn *websocket.Conn, id uint64, subID string) {
	t.Helper()
	ack := map[string]any{"id": id, "result": map[string]string{"subscription": subID}}
	if err := conn.WriteJSON(ack); err != nil {
		t.Errorf("write ack: %v", err)
	}
}

// holdOpen parks the handler until the client goes away.
func holdOpen(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	conn.ReadMessage()
}

// fakePipeline drains updates and records evaluator swaps.
type fakePipeline struct {
	runs atomic.Int32

	mu    sync.Mutex
	evals []strategy.Evaluator
}

func (f *fakePipeline) Run(ctx context.Context, updates <-chan *stream.Update) {
	f.runs.Add(1)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-updates:
			if !ok {
				return
			}
		}
	}
}

func (f *fakePipeline) SetEvaluator(eval strategy.Evaluator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evals = append(f.evals, eval)
}

func (f *fakePipeline) evaluators() []strategy.Evaluator {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]strategy.Evaluator(nil), f.evals...)
}

func writeAppConfig(t *testing.T, address string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "copytrader.yaml")
	content := fmt.Sprintf(`server:
  address: %q
stream:
  type: dex_trades
filters:
  traders:
    - TraderAddr1
connection:
  keep_alive: 50ms
  reconnect_delay: 10ms
  max_reconnect_delay: 40ms
execution:
  wallet_file: /tmp/wallet.json
strategy:
  type: THRESHOLD
  min_buy_amount_raw: 100000000000
`, address)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newTestSupervisor(t *testing.T, address string) (*Supervisor, *config.Store, *fakePipeline) {
	t.Helper()
	store, err := config.NewStore(writeAppConfig(t, address), nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	pipe := &fakePipeline{}
	return New(store, pipe, zaptest.NewLogger(t)), store, pipe
}

// startSupervisor runs sup.Run in the background and returns its result
// channel.
func startSupervisor(sup *Supervisor, ctx context.Context) chan error {
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()
	return done
}

func requireRunStops(t *testing.T, done chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func recvRequest(t *testing.T, ch <-chan testRequest) testRequest {
	t.Helper()
	select {
	case req := <-ch:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for request")
		return testRequest{}
	}
}

func TestRun_FirstConnectFailureIsFatal(t *testing.T) {
	sup, _, pipe := newTestSupervisor(t, "ws://127.0.0.1:1")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := sup.Run(ctx)
	require.Error(t, err)
	require.ErrorContains(t, err, "initial connect")
	require.Zero(t, pipe.runs.Load())
}

func TestRun_ReconnectsAfterFault(t *testing.T) {
	var conns atomic.Int32
	url := newStreamServer(t, func(conn *websocket.Conn, _ *http.Request) {
		n := conns.Add(1)
		req := readRequest(t, conn)
		writeAck(t, conn, req.ID, fmt.Sprintf("sub-%d", n))
		if n == 1 {
			// Kill the TCP connection without a close handshake.
			conn.UnderlyingConn().Close()
			return
		}
		holdOpen(conn)
	})

	sup, _, pipe := newTestSupervisor(t, url)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := startSupervisor(sup, ctx)

	require.Eventually(t, func() bool { return conns.Load() >= 2 },
		3*time.Second, 10*time.Millisecond)

	cancel()
	requireRunStops(t, done)
	require.GreaterOrEqual(t, pipe.runs.Load(), int32(2))
}

func TestRun_ReconnectsAfterOrderlyEnd(t *testing.T) {
	var conns atomic.Int32
	url := newStreamServer(t, func(conn *websocket.Conn, _ *http.Request) {
		n := conns.Add(1)
		req := readRequest(t, conn)
		writeAck(t, conn, req.ID, fmt.Sprintf("sub-%d", n))
		if n == 1 {
			deadline := time.Now().Add(time.Second)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"), deadline)
			return
		}
		holdOpen(conn)
	})

	sup, _, pipe := newTestSupervisor(t, url)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := startSupervisor(sup, ctx)

	require.Eventually(t, func() bool { return conns.Load() >= 2 },
		3*time.Second, 10*time.Millisecond)

	cancel()
	requireRunStops(t, done)
	require.GreaterOrEqual(t, pipe.runs.Load(), int32(2))
}

func TestApplyChange_RebuildConnection(t *testing.T) {
	var conns atomic.Int32
	url := newStreamServer(t, func(conn *websocket.Conn, _ *http.Request) {
		n := conns.Add(1)
		req := readRequest(t, conn)
		writeAck(t, conn, req.ID, fmt.Sprintf("sub-%d", n))
		holdOpen(conn)
	})

	sup, store, pipe := newTestSupervisor(t, url)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := startSupervisor(sup, ctx)

	require.Eventually(t, func() bool { return pipe.runs.Load() == 1 },
		3*time.Second, 10*time.Millisecond)

	cfg := store.Current()
	sup.ApplyChange(cfg, cfg, config.Change{RebuildConnection: true})

	require.Eventually(t, func() bool { return conns.Load() == 2 },
		3*time.Second, 10*time.Millisecond)

	cancel()
	requireRunStops(t, done)
}

func TestApplyChange_PatchFilters(t *testing.T) {
	patchCalls := make(chan testRequest, 2)
	var conns atomic.Int32
	url := newStreamServer(t, func(conn *websocket.Conn, _ *http.Request) {
		conns.Add(1)
		req := readRequest(t, conn)
		writeAck(t, conn, req.ID, "sub-1")

		// The patch arrives as unsubscribe then subscribe.
		req = readRequest(t, conn)
		patchCalls <- req
		conn.WriteJSON(map[string]any{"id": req.ID, "result": map[string]string{}})

		req = readRequest(t, conn)
		patchCalls <- req
		writeAck(t, conn, req.ID, "sub-2")

		holdOpen(conn)
	})

	sup, store, pipe := newTestSupervisor(t, url)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := startSupervisor(sup, ctx)

	require.Eventually(t, func() bool { return pipe.runs.Load() == 1 },
		3*time.Second, 10*time.Millisecond)

	old := store.Current()
	next := *old
	next.Filters.Traders = []string{"OtherTrader"}
	sup.ApplyChange(old, &next, config.Change{PatchFilters: true})

	unsub := recvRequest(t, patchCalls)
	require.Equal(t, "unsubscribe", unsub.Method)

	sub := recvRequest(t, patchCalls)
	require.Equal(t, "subscribe", sub.Method)
	var params stream.SubscribeParams
	require.NoError(t, json.Unmarshal(sub.Params, &params))
	require.NotNil(t, params.Filters.Trader)
	require.Equal(t, []string{"OtherTrader"}, params.Filters.Trader.Addresses)

	// The connection itself survived the patch.
	require.Equal(t, int32(1), conns.Load())

	cancel()
	requireRunStops(t, done)
}

func TestApplyChange_PatchFailureFallsBackToRebuild(t *testing.T) {
	var conns atomic.Int32
	url := newStreamServer(t, func(conn *websocket.Conn, _ *http.Request) {
		n := conns.Add(1)
		req := readRequest(t, conn)
		writeAck(t, conn, req.ID, fmt.Sprintf("sub-%d", n))
		if n == 1 {
			req = readRequest(t, conn) // the unsubscribe
			conn.WriteJSON(map[string]any{
				"id":    req.ID,
				"error": map[string]any{"code": -32002, "message": "filters locked"},
			})
		}
		holdOpen(conn)
	})

	sup, store, pipe := newTestSupervisor(t, url)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := startSupervisor(sup, ctx)

	require.Eventually(t, func() bool { return pipe.runs.Load() == 1 },
		3*time.Second, 10*time.Millisecond)

	old := store.Current()
	next := *old
	next.Filters.Traders = []string{"OtherTrader"}
	sup.ApplyChange(old, &next, config.Change{PatchFilters: true})

	require.Eventually(t, func() bool { return conns.Load() == 2 },
		3*time.Second, 10*time.Millisecond)

	cancel()
	requireRunStops(t, done)
}

func TestApplyChange_SwapsEvaluator(t *testing.T) {
	sup, store, pipe := newTestSupervisor(t, "ws://127.0.0.1:1")

	old := store.Current()
	next := *old
	next.Strategy = config.StrategyConfig{Type: domain.StrategyTypeAllowAll}
	sup.ApplyChange(old, &next, config.Change{StrategyChanged: true})

	evals := pipe.evaluators()
	require.Len(t, evals, 1)
	require.Equal(t, "allow_all", evals[0].Name())
}

func TestApplyChange_BadStrategyParamsKeepCurrent(t *testing.T) {
	sup, store, pipe := newTestSupervisor(t, "ws://127.0.0.1:1")

	// A threshold without an amount never survives Load; hand-built configs
	// can still carry one and must not dislodge the running evaluator.
	old := store.Current()
	next := *old
	next.Strategy = config.StrategyConfig{Type: domain.StrategyTypeThreshold}
	sup.ApplyChange(old, &next, config.Change{StrategyChanged: true})

	require.Empty(t, pipe.evaluators())
}

func TestNextDelay(t *testing.T) {
	sup := New(nil, nil, zaptest.NewLogger(t))
	cfg := &config.Config{
		Connection: config.ConnectionConfig{
			ReconnectDelay:    10 * time.Millisecond,
			MaxReconnectDelay: 40 * time.Millisecond,
		},
	}

	require.Equal(t, 10*time.Millisecond, sup.nextDelay(0, cfg))
	require.Equal(t, 20*time.Millisecond, sup.nextDelay(10*time.Millisecond, cfg))
	require.Equal(t, 40*time.Millisecond, sup.nextDelay(20*time.Millisecond, cfg))
	require.Equal(t, 40*time.Millisecond, sup.nextDelay(40*time.Millisecond, cfg))
	require.Equal(t, 40*time.Millisecond, sup.nextDelay(100*time.Millisecond, cfg))
}
