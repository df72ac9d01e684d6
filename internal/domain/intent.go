package domain

// TradeIntent is the actionable projection of an observed trade: the swap
// this process would mirror with its own wallet. All addresses are already
// resolved to canonical base58 form; the pipeline never hands an intent with
// an invalid required field to the strategy or the engine.
type TradeIntent struct {
	InputMint    string // mint spent by the observed trader
	OutputMint   string // mint received
	PoolAddress  string // venue of the observed fill; empty = unknown, disables pinning
	Trader       string // observed wallet, informational
	BuyAmountRaw uint64 // input amount in raw base units
	Slot         uint64 // slot the source event was observed at
}

// Valid reports whether the intent carries the fields execution requires.
// PoolAddress and Trader are optional.
func (t TradeIntent) Valid() bool {
	return t.InputMint != "" && t.OutputMint != "" && t.BuyAmountRaw > 0
}
