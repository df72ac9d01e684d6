// Package classify projects raw stream updates onto semantic events. The
// upstream schema tags each message itself; classification extracts the one
// populated payload so downstream stages switch on a Kind exactly once.
package classify

import (
	"time"

	"solana-copytrader/internal/stream"
)

// Kind is the semantic event variant.
type Kind uint8

const (
	// KindUnknown marks a message with no recognized payload. It carries
	// slot and arrival time only and is a no-op for strategy and execution,
	// but still counts for telemetry.
	KindUnknown Kind = iota
	KindTrade
	KindOrder
	KindPool
	KindTransfer
	KindBalance
	KindTransaction
)

func (k Kind) String() string {
	switch k {
	case KindTrade:
		return "trade"
	case KindOrder:
		return "order"
	case KindPool:
		return "pool"
	case KindTransfer:
		return "transfer"
	case KindBalance:
		return "balance"
	case KindTransaction:
		return "transaction"
	default:
		return "unknown"
	}
}

// Event is a classified message. Exactly one payload pointer is non-nil for
// recognized kinds; none for KindUnknown. ReceivedAt is assigned by the
// consumer and is not event time.
type Event struct {
	Kind       Kind
	Slot       uint64
	ReceivedAt time.Time

	Trade       *stream.TradePayload
	Order       *stream.OrderPayload
	Pool        *stream.PoolPayload
	Transfer    *stream.TransferPayload
	Balance     *stream.BalancePayload
	Transaction *stream.TransactionPayload
}

// Decode classifies one update. It never fails: unrecognized payloads become
// a minimal KindUnknown event.
func Decode(u *stream.Update, receivedAt time.Time) *Event {
	ev := &Event{
		Kind:       KindUnknown,
		Slot:       u.Slot,
		ReceivedAt: receivedAt,
	}

	switch {
	case u.Trade != nil:
		ev.Kind = KindTrade
		ev.Trade = u.Trade
	case u.Order != nil:
		ev.Kind = KindOrder
		ev.Order = u.Order
	case u.Pool != nil:
		ev.Kind = KindPool
		ev.Pool = u.Pool
	case u.Transfer != nil:
		ev.Kind = KindTransfer
		ev.Transfer = u.Transfer
	case u.Balance != nil:
		ev.Kind = KindBalance
		ev.Balance = u.Balance
	case u.Transaction != nil:
		ev.Kind = KindTransaction
		ev.Transaction = u.Transaction
	}

	return ev
}
