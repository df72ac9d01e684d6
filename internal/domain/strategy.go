package domain

// StrategyParams carries the strategy configuration handed to the evaluator
// factory. Zero values mean "not set" for optional knobs.
type StrategyParams struct {
	Type            string   // "THRESHOLD" | "ALLOW_ALL"
	MinBuyAmountRaw uint64   // THRESHOLD: approve intents at or above this raw amount
	DenyMints       []string // optional: reject intents touching any of these mints
}

// Strategy type constants
const (
	StrategyTypeThreshold = "THRESHOLD"
	StrategyTypeAllowAll  = "ALLOW_ALL"
)
