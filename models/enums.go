package models

import (
	"encoding/json"
	"errors"
)

type PartyType string

const (
	PartyTypeCustomer PartyType = "customer"
	PartyTypeSupplier PartyType = "supplier"
	PartyTypeEmployee PartyType = "employee"
	PartyTypeOther    PartyType = "other"
)

func (t PartyType) IsValid() bool {
	switch t {
	case PartyTypeCustomer, PartyTypeSupplier, PartyTypeEmployee, PartyTypeOther:
		return true
	}
	return false
}

// convert input to enum type
func (t *PartyType) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("party type must be string")
	}
	v := PartyType(str)
	if !v.IsValid() {
		return errors.New("invalid party type")
	}
	*t = v
	return nil
}

type PrepaymentStage string

const (
	PrepaymentStageDraft            PrepaymentStage = "draft"
	PrepaymentStageSubmitted        PrepaymentStage = "submitted"
	PrepaymentStageApproved         PrepaymentStage = "approved"
	PrepaymentStageDisbursed        PrepaymentStage = "disbursed"
	PrepaymentStagePartiallyApplied PrepaymentStage = "partially_applied"
	PrepaymentStageFullyApplied     PrepaymentStage = "fully_applied"
	PrepaymentStageClosed           PrepaymentStage = "closed"
	PrepaymentStageCancelled        PrepaymentStage = "cancelled"
)

func (s PrepaymentStage) IsTerminal() bool {
	return s == PrepaymentStageClosed || s == PrepaymentStageCancelled
}

// AcceptsApplications reports whether ledger lines may be created against a request in this stage.
func (s PrepaymentStage) AcceptsApplications() bool {
	return s == PrepaymentStageDisbursed || s == PrepaymentStagePartiallyApplied
}

type StageEvent string

const (
	StageEventSubmit   StageEvent = "submit"
	StageEventApprove  StageEvent = "approve"
	StageEventDisburse StageEvent = "disburse"
	StageEventClose    StageEvent = "close"
	StageEventCancel   StageEvent = "cancel"
	// internal, raised by the reconciliation engine
	StageEventApplyPartial   StageEvent = "apply_partial"
	StageEventApplyFull      StageEvent = "apply_full"
	StageEventUnapplyPartial StageEvent = "unapply_partial"
	StageEventUnapplyAll     StageEvent = "unapply_all"
)

type StageEffect string

const (
	StageEffectCloseLog StageEffect = "close_log"
	StageEffectOpenLog  StageEffect = "open_log"
	StageEffectNotify   StageEffect = "notify"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft  InvoiceStatus = "draft"
	InvoiceStatusOpen   InvoiceStatus = "open"
	InvoiceStatusPaid   InvoiceStatus = "paid"
	InvoiceStatusPosted InvoiceStatus = "posted"
	InvoiceStatusFinal  InvoiceStatus = "final"
)

// IsFinal is true once the accounting collaborator has posted the invoice.
func (s InvoiceStatus) IsFinal() bool {
	return s == InvoiceStatusPosted || s == InvoiceStatusFinal
}

type PaymentStatus string

const (
	PaymentStatusDraft  PaymentStatus = "draft"
	PaymentStatusPosted PaymentStatus = "posted"
)

type OutboxReferenceType string

const (
	OutboxReferenceTypeStageChanged       OutboxReferenceType = "prepayment_stage"
	OutboxReferenceTypeApplied            OutboxReferenceType = "prepayment_applied"
	OutboxReferenceTypeReversed           OutboxReferenceType = "prepayment_reversed"
	OutboxReferenceTypeCurrencyAdjustment OutboxReferenceType = "currency_adjustment"
	OutboxReferenceTypePaymentPosted      OutboxReferenceType = "payment_posted"
	OutboxReferenceTypeDerivedDocument    OutboxReferenceType = "derived_document"
)

type OutboxAction string

const (
	OutboxActionCreate OutboxAction = "C"
	OutboxActionUpdate OutboxAction = "U"
	OutboxActionDelete OutboxAction = "D"
)
