// Package strategy holds the approve/reject decision point of the pipeline.
// Evaluators are pure: no I/O, no blocking, no state mutation, deterministic
// for a given intent, so richer policies can replace the reference ones
// without touching the pipeline.
package strategy

import (
	"solana-copytrader/internal/domain"
)

// Evaluator decides whether an observed trade should be copied.
type Evaluator interface {
	// Approve returns true when the intent passes the policy.
	Approve(intent domain.TradeIntent) bool

	// Name identifies the policy in logs and telemetry.
	Name() string
}

// Threshold approves intents whose input amount is at or above a raw
// minimum. The reference copy policy.
type Threshold struct {
	MinBuyAmountRaw uint64
}

func (t Threshold) Approve(intent domain.TradeIntent) bool {
	return intent.BuyAmountRaw >= t.MinBuyAmountRaw
}

func (t Threshold) Name() string { return "threshold" }

// AllowAll approves everything. Useful for dry runs against a tight filter
// set where the subscription itself is the policy.
type AllowAll struct{}

func (AllowAll) Approve(domain.TradeIntent) bool { return true }

func (AllowAll) Name() string { return "allow_all" }

// MintDeny rejects intents touching any denied mint on either side.
type MintDeny struct {
	deny map[string]struct{}
}

// NewMintDeny builds a deny policy from canonical mint addresses.
func NewMintDeny(mints []string) MintDeny {
	deny := make(map[string]struct{}, len(mints))
	for _, m := range mints {
		deny[m] = struct{}{}
	}
	return MintDeny{deny: deny}
}

func (d MintDeny) Approve(intent domain.TradeIntent) bool {
	if _, ok := d.deny[intent.InputMint]; ok {
		return false
	}
	if _, ok := d.deny[intent.OutputMint]; ok {
		return false
	}
	return true
}

func (d MintDeny) Name() string { return "mint_deny" }

// AllOf approves only when every member approves.
type AllOf []Evaluator

func (a AllOf) Approve(intent domain.TradeIntent) bool {
	for _, e := range a {
		if !e.Approve(intent) {
			return false
		}
	}
	return true
}

func (a AllOf) Name() string {
	if len(a) == 1 {
		return a[0].Name()
	}
	return "all_of"
}
