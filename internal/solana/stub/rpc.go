package stub

import (
	"context"
	"errors"
	"sync"

	"solana-copytrader/internal/solana"
)

// ErrSendFailed is the default error while scripted send failures remain.
var ErrSendFailed = errors.New("send failed")

// Ledger implements solana.Ledger for testing with scripted responses.
type Ledger struct {
	mu sync.Mutex

	// SendFailures fails that many SendRawTransaction calls before the
	// call succeeds with Signature. SendErr overrides the failure error.
	SendFailures int
	SendErr      error
	Signature    string

	// ConfirmErr is returned by ConfirmTransaction. Nil confirms at once.
	ConfirmErr error

	// Statuses are returned by GetSignatureStatus in order; the last entry
	// repeats. An empty slice reports the signature as unseen. StatusErr
	// overrides the scripted statuses.
	Statuses  []*solana.SignatureStatus
	StatusErr error

	sendCalls    int
	confirmCalls int
	statusCalls  int

	lastRaw  []byte
	lastOpts *solana.SendOptions
}

// NewLedger creates a stub ledger that accepts and confirms everything.
func NewLedger() *Ledger {
	return &Ledger{Signature: "StubSignature1111111111111111111111111111111"}
}

// SendRawTransaction consumes a scripted failure or returns Signature.
func (l *Ledger) SendRawTransaction(_ context.Context, raw []byte, opts *solana.SendOptions) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sendCalls++
	l.lastRaw = append([]byte(nil), raw...)
	l.lastOpts = opts

	if l.SendFailures > 0 {
		l.SendFailures--
		if l.SendErr != nil {
			return "", l.SendErr
		}
		return "", ErrSendFailed
	}
	return l.Signature, nil
}

// GetSignatureStatus returns the next scripted status.
func (l *Ledger) GetSignatureStatus(_ context.Context, _ string) (*solana.SignatureStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.statusCalls++
	if l.StatusErr != nil {
		return nil, l.StatusErr
	}
	if len(l.Statuses) == 0 {
		return nil, nil
	}
	status := l.Statuses[0]
	if len(l.Statuses) > 1 {
		l.Statuses = l.Statuses[1:]
	}
	return status, nil
}

// ConfirmTransaction returns the scripted confirmation outcome.
func (l *Ledger) ConfirmTransaction(_ context.Context, _, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.confirmCalls++
	return l.ConfirmErr
}

// SendCalls reports how many times SendRawTransaction was invoked.
func (l *Ledger) SendCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sendCalls
}

// ConfirmCalls reports how many times ConfirmTransaction was invoked.
func (l *Ledger) ConfirmCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.confirmCalls
}

// StatusCalls reports how many times GetSignatureStatus was invoked.
func (l *Ledger) StatusCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statusCalls
}

// LastSend returns the raw bytes and options of the most recent send.
func (l *Ledger) LastSend() ([]byte, *solana.SendOptions) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastRaw, l.lastOpts
}
