package strategy

import (
	"errors"
	"strings"

	"solana-copytrader/internal/domain"
)

// Factory errors
var (
	ErrUnknownStrategyType = errors.New("unknown strategy type")
	ErrMissingThreshold    = errors.New("THRESHOLD requires min_buy_amount_raw > 0")
)

// FromParams creates an Evaluator from domain.StrategyParams. An empty type
// defaults to THRESHOLD. A deny list, when present, is ANDed onto the base
// policy.
func FromParams(params domain.StrategyParams) (Evaluator, error) {
	var base Evaluator

	switch strings.ToUpper(strings.TrimSpace(params.Type)) {
	case "", domain.StrategyTypeThreshold:
		if params.MinBuyAmountRaw == 0 {
			return nil, ErrMissingThreshold
		}
		base = Threshold{MinBuyAmountRaw: params.MinBuyAmountRaw}
	case domain.StrategyTypeAllowAll:
		base = AllowAll{}
	default:
		return nil, ErrUnknownStrategyType
	}

	if len(params.DenyMints) == 0 {
		return base, nil
	}
	return AllOf{NewMintDeny(params.DenyMints), base}, nil
}
