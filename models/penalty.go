package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PenaltyStrategy computes late-payment penalties on an invoice's outstanding amount.
type PenaltyStrategy interface {
	Name() string
	Penalty(outstanding decimal.Decimal, dueDate time.Time, asOf time.Time, places int32) decimal.Decimal
}

// NoPenalty never charges anything.
type NoPenalty struct{}

func (NoPenalty) Name() string { return "none" }

func (NoPenalty) Penalty(decimal.Decimal, time.Time, time.Time, int32) decimal.Decimal {
	return decimal.Zero
}

// FlatPercentPenalty charges Percent of the outstanding amount once the due date has passed.
type FlatPercentPenalty struct {
	Percent decimal.Decimal
}

func (FlatPercentPenalty) Name() string { return "flat_percent" }

func (p FlatPercentPenalty) Penalty(outstanding decimal.Decimal, dueDate time.Time, asOf time.Time, places int32) decimal.Decimal {
	if !asOf.After(dueDate) || !outstanding.IsPositive() || !p.Percent.IsPositive() {
		return decimal.Zero
	}
	return outstanding.Mul(p.Percent).Div(hundred).Round(places)
}

// PenaltyStrategyFor picks the strategy from the company's penalty_percent.
func PenaltyStrategyFor(cfg CompanyConfig) PenaltyStrategy {
	if cfg.PenaltyPercent.IsPositive() {
		return FlatPercentPenalty{Percent: cfg.PenaltyPercent}
	}
	return NoPenalty{}
}
