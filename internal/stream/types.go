// Package stream owns the subscription to the upstream event source: the
// wire schema, the websocket transport, and the Session lifecycle.
package stream

import (
	"fmt"
	"strings"
)

// Type identifies which event stream a subscription requests.
type Type string

// Stream type tokens as they appear in subscription requests and config
// files. The dex-prefixed ones also accept their bare aliases on parse.
const (
	TypeTrades       Type = "dex_trades"
	TypeOrders       Type = "dex_orders"
	TypePools        Type = "dex_pools"
	TypeTransactions Type = "transactions"
	TypeTransfers    Type = "transfers"
	TypeBalances     Type = "balances"
)

// ParseType normalizes a config token to a stream Type.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dex_trades", "trades":
		return TypeTrades, nil
	case "dex_orders", "orders":
		return TypeOrders, nil
	case "dex_pools", "pools":
		return TypePools, nil
	case "transactions":
		return TypeTransactions, nil
	case "transfers":
		return TypeTransfers, nil
	case "balances", "balance_updates":
		return TypeBalances, nil
	default:
		return "", fmt.Errorf("stream: unknown stream type %q", s)
	}
}

// AddressList is one allow-list dimension of a subscription filter.
type AddressList struct {
	Addresses []string `json:"addresses"`
}

// Filters narrows which events the upstream source delivers. Present
// dimensions are ANDed; a nil dimension means no restriction.
type Filters struct {
	Trader  *AddressList `json:"trader,omitempty"`
	Program *AddressList `json:"program,omitempty"`
	Pool    *AddressList `json:"pool,omitempty"`
	Signer  *AddressList `json:"signer,omitempty"`
}

// SubscribeParams is the payload of a subscribe call.
type SubscribeParams struct {
	Stream  Type    `json:"stream"`
	Filters Filters `json:"filters"`
}

type unsubscribeParams struct {
	Subscription string `json:"subscription"`
}

// request is the client→server envelope. The bearer token rides on every
// subscription-level call, not only the dial handshake.
type request struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Token  string `json:"token,omitempty"`
	Params any    `json:"params,omitempty"`
}

const (
	methodSubscribe    = "subscribe"
	methodUnsubscribe  = "unsubscribe"
	methodNotification = "notification"
)

type subscribeResult struct {
	Subscription string `json:"subscription"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *wireError) Error() string {
	return fmt.Sprintf("upstream error %d: %s", e.Code, e.Message)
}

type response struct {
	ID     uint64           `json:"id"`
	Result *subscribeResult `json:"result,omitempty"`
	Error  *wireError       `json:"error,omitempty"`
}

// Update is one inbound event notification. Exactly one payload pointer is
// set per message; address fields carry raw 32-byte account keys (base64 on
// the wire).
type Update struct {
	Subscription string `json:"subscription"`
	Slot         uint64 `json:"slot"`

	Trade       *TradePayload       `json:"trade,omitempty"`
	Order       *OrderPayload       `json:"order,omitempty"`
	Pool        *PoolPayload        `json:"pool,omitempty"`
	Transfer    *TransferPayload    `json:"transfer,omitempty"`
	Balance     *BalancePayload     `json:"balance,omitempty"`
	Transaction *TransactionPayload `json:"transaction,omitempty"`
}

// TradePayload is an executed swap observed on a venue.
type TradePayload struct {
	Pool          []byte `json:"pool,omitempty"`
	Program       []byte `json:"program,omitempty"`
	InputMint     []byte `json:"inputMint,omitempty"`
	OutputMint    []byte `json:"outputMint,omitempty"`
	Trader        []byte `json:"trader,omitempty"`
	Signer        []byte `json:"signer,omitempty"`
	BuyAmountRaw  uint64 `json:"buyAmountRaw,omitempty"`
	SellAmountRaw uint64 `json:"sellAmountRaw,omitempty"`
}

// OrderPayload is an order placement or cancellation on an order-book venue.
type OrderPayload struct {
	Pool     []byte `json:"pool,omitempty"`
	Trader   []byte `json:"trader,omitempty"`
	OrderID  string `json:"orderId,omitempty"`
	Side     string `json:"side,omitempty"`
	PriceRaw uint64 `json:"priceRaw,omitempty"`
	SizeRaw  uint64 `json:"sizeRaw,omitempty"`
}

// PoolPayload is a liquidity-pool lifecycle or reserve change.
type PoolPayload struct {
	Pool            []byte `json:"pool,omitempty"`
	Program         []byte `json:"program,omitempty"`
	BaseMint        []byte `json:"baseMint,omitempty"`
	QuoteMint       []byte `json:"quoteMint,omitempty"`
	Kind            string `json:"kind,omitempty"`
	BaseReserveRaw  uint64 `json:"baseReserveRaw,omitempty"`
	QuoteReserveRaw uint64 `json:"quoteReserveRaw,omitempty"`
}

// TransferPayload is a token transfer between accounts.
type TransferPayload struct {
	Mint        []byte `json:"mint,omitempty"`
	Source      []byte `json:"source,omitempty"`
	Destination []byte `json:"destination,omitempty"`
	AmountRaw   uint64 `json:"amountRaw,omitempty"`
}

// BalancePayload is a post-transaction balance change on one account.
type BalancePayload struct {
	Account []byte `json:"account,omitempty"`
	Mint    []byte `json:"mint,omitempty"`
	PreRaw  uint64 `json:"preRaw,omitempty"`
	PostRaw uint64 `json:"postRaw,omitempty"`
}

// TransactionPayload is a whole-transaction observation.
type TransactionPayload struct {
	Signature   string `json:"signature,omitempty"`
	Signer      []byte `json:"signer,omitempty"`
	Success     bool   `json:"success,omitempty"`
	FeeLamports uint64 `json:"feeLamports,omitempty"`
}

type notification struct {
	Method string  `json:"method"`
	Params *Update `json:"params"`
}
