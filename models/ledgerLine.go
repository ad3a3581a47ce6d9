package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PrepaymentLedgerLine allocates part of a request to one invoice.
// Balance = InvoiceTotal - AmountApplied, stored and never negative.
// Reversal soft-deletes the line.
type PrepaymentLedgerLine struct {
	ID              int             `gorm:"primary_key" json:"id"`
	CompanyId       string          `gorm:"size:64;index;not null" json:"company_id"`
	RequestId       int             `gorm:"index;not null" json:"request_id"`
	InvoiceId       int             `gorm:"index;not null" json:"invoice_id"`
	InvoiceTotal    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"invoice_total"`
	AmountApplied   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount_applied"`
	Balance         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"balance"`
	CurrencyCode    string          `gorm:"size:3;not null" json:"currency_code"`
	ApplicationDate time.Time       `gorm:"index;not null" json:"application_date"`
	Note            string          `gorm:"type:text" json:"note"`
	PaymentId       *int            `gorm:"index" json:"payment_id"`
	ReversedAt      *time.Time      `json:"reversed_at"`
	ReversedById    *int            `json:"reversed_by_id"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt       gorm.DeletedAt  `gorm:"index" json:"-"`
}

// ComputeLineBalance returns invoiceTotal - amountApplied, rejecting a negative result.
func ComputeLineBalance(invoiceTotal decimal.Decimal, amountApplied decimal.Decimal) (decimal.Decimal, error) {
	balance := invoiceTotal.Sub(amountApplied)
	if balance.IsNegative() {
		return decimal.Zero, fmt.Errorf("applied %s exceeds invoice total %s", amountApplied, invoiceTotal)
	}
	return balance, nil
}

// SetAmountApplied recomputes the stored balance.
func (l *PrepaymentLedgerLine) SetAmountApplied(amount decimal.Decimal) error {
	balance, err := ComputeLineBalance(l.InvoiceTotal, amount)
	if err != nil {
		return NewLedgerError(ErrInsufficientInvoiceBalance, l.InvoiceId, err)
	}
	l.AmountApplied = amount
	l.Balance = balance
	return nil
}

func (l *PrepaymentLedgerLine) BeforeSave(tx *gorm.DB) error {
	balance, err := ComputeLineBalance(l.InvoiceTotal, l.AmountApplied)
	if err != nil {
		return NewLedgerError(ErrInsufficientInvoiceBalance, l.InvoiceId, err)
	}
	l.Balance = balance
	return nil
}

// PrepaymentApplication is the immutable audit record of one application or reversal.
type PrepaymentApplication struct {
	ID              int             `gorm:"primary_key" json:"id"`
	CompanyId       string          `gorm:"size:64;index;not null" json:"company_id"`
	RequestId       int             `gorm:"index;not null" json:"request_id"`
	InvoiceId       int             `gorm:"index;not null" json:"invoice_id"`
	LedgerLineId    int             `gorm:"index" json:"ledger_line_id"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	ApplicationDate time.Time       `gorm:"index;not null" json:"application_date"`
	Notes           string          `gorm:"type:text" json:"notes"`
	IsReversal      bool            `gorm:"not null;default:false" json:"is_reversal"`
	ActorId         int             `json:"actor_id"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (a *PrepaymentApplication) BeforeUpdate(tx *gorm.DB) error {
	return fmt.Errorf("prepayment application %d is immutable", a.ID)
}
