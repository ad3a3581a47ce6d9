package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PrepaymentRequest is money advanced by or to a party ahead of invoicing.
// AppliedAmount is the stored sum of its active ledger lines and never exceeds Amount.
type PrepaymentRequest struct {
	ID            int                  `gorm:"primary_key" json:"id"`
	CompanyId     string               `gorm:"size:64;index;not null" json:"company_id"`
	PartyType     PartyType            `gorm:"size:16;not null" json:"party_type"`
	PartyId       int                  `gorm:"index" json:"party_id"`
	Amount        decimal.Decimal      `gorm:"type:decimal(20,4);default:0" json:"amount"`
	CurrencyCode  string               `gorm:"size:3" json:"currency_code"`
	Stage         PrepaymentStage      `gorm:"size:32;index;not null" json:"stage"`
	AppliedAmount decimal.Decimal      `gorm:"type:decimal(20,4);default:0" json:"applied_amount"`
	Notes         string               `gorm:"type:text" json:"notes"`
	IsArchived    bool                 `gorm:"not null;default:false;index" json:"is_archived"`
	StageLogs     []PrepaymentStageLog `gorm:"foreignKey:RequestId" json:"stage_logs,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewPrepaymentRequest struct {
	PartyType    PartyType       `json:"party_type" validate:"required"`
	PartyId      int             `json:"party_id" validate:"gte=0"`
	Amount       decimal.Decimal `json:"amount" validate:"gte=0"`
	CurrencyCode string          `json:"currency_code" validate:"omitempty,len=3"`
	Notes        string          `json:"notes"`
}

func (r PrepaymentRequest) Available() decimal.Decimal {
	return r.Amount.Sub(r.AppliedAmount)
}

// ValidateForSubmit checks the draft->submitted precondition.
func (r PrepaymentRequest) ValidateForSubmit() error {
	if !r.Amount.IsPositive() {
		return NewLedgerError(ErrInvalidAmount, r.ID, fmt.Errorf("amount must be positive, got %s", r.Amount))
	}
	if r.CurrencyCode == "" {
		return NewLedgerError(ErrInvalidCurrency, r.ID, fmt.Errorf("currency is required"))
	}
	return nil
}

type stageKey struct {
	from  PrepaymentStage
	event StageEvent
}

var stageTransitions = map[stageKey]PrepaymentStage{
	{PrepaymentStageDraft, StageEventSubmit}: PrepaymentStageSubmitted,
	{PrepaymentStageDraft, StageEventCancel}: PrepaymentStageCancelled,

	{PrepaymentStageSubmitted, StageEventApprove}: PrepaymentStageApproved,
	{PrepaymentStageSubmitted, StageEventCancel}:  PrepaymentStageCancelled,

	{PrepaymentStageApproved, StageEventDisburse}: PrepaymentStageDisbursed,
	{PrepaymentStageApproved, StageEventCancel}:   PrepaymentStageCancelled,

	{PrepaymentStageDisbursed, StageEventApplyPartial}: PrepaymentStagePartiallyApplied,
	{PrepaymentStageDisbursed, StageEventApplyFull}:    PrepaymentStageFullyApplied,
	{PrepaymentStageDisbursed, StageEventCancel}:       PrepaymentStageCancelled,

	{PrepaymentStagePartiallyApplied, StageEventApplyPartial}:   PrepaymentStagePartiallyApplied,
	{PrepaymentStagePartiallyApplied, StageEventApplyFull}:      PrepaymentStageFullyApplied,
	{PrepaymentStagePartiallyApplied, StageEventUnapplyPartial}: PrepaymentStagePartiallyApplied,
	{PrepaymentStagePartiallyApplied, StageEventUnapplyAll}:     PrepaymentStageDisbursed,
	{PrepaymentStagePartiallyApplied, StageEventCancel}:         PrepaymentStageCancelled,

	{PrepaymentStageFullyApplied, StageEventUnapplyPartial}: PrepaymentStagePartiallyApplied,
	{PrepaymentStageFullyApplied, StageEventUnapplyAll}:     PrepaymentStageDisbursed,
	{PrepaymentStageFullyApplied, StageEventClose}:          PrepaymentStageClosed,
	{PrepaymentStageFullyApplied, StageEventCancel}:         PrepaymentStageCancelled,
}

// StageTransition is the outcome of one event: the destination and the effects the caller must perform.
type StageTransition struct {
	From    PrepaymentStage `json:"from"`
	To      PrepaymentStage `json:"to"`
	Event   StageEvent      `json:"event"`
	Effects []StageEffect   `json:"effects"`
}

func (t StageTransition) Changed() bool {
	return t.From != t.To
}

func (t StageTransition) Has(effect StageEffect) bool {
	for _, e := range t.Effects {
		if e == effect {
			return true
		}
	}
	return false
}

// Transition looks up the explicit transition table. Self transitions carry no effects.
func Transition(from PrepaymentStage, event StageEvent) (StageTransition, error) {
	to, ok := stageTransitions[stageKey{from, event}]
	if !ok {
		return StageTransition{}, NewLedgerError(ErrInvalidStageTransition, 0, fmt.Errorf("cannot %s from %s", event, from))
	}
	t := StageTransition{From: from, To: to, Event: event}
	if to != from {
		t.Effects = []StageEffect{StageEffectCloseLog, StageEffectOpenLog, StageEffectNotify}
	}
	return t, nil
}

// ApplyEvent picks the apply event for the new applied total, treating a
// remainder that rounds to zero at places as fully applied.
func ApplyEvent(applied decimal.Decimal, amount decimal.Decimal, places int32) StageEvent {
	if amount.Sub(applied).Round(places).Sign() <= 0 {
		return StageEventApplyFull
	}
	return StageEventApplyPartial
}

// UnapplyEvent picks the unapply event from the number of lines still active after a reversal.
func UnapplyEvent(activeLines int64) StageEvent {
	if activeLines == 0 {
		return StageEventUnapplyAll
	}
	return StageEventUnapplyPartial
}
