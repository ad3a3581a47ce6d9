package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Payment is posted all-or-nothing together with its allocation lines.
type Payment struct {
	ID                 int                     `gorm:"primary_key" json:"id"`
	CompanyId          string                  `gorm:"size:64;index;not null" json:"company_id"`
	PaymentDate        time.Time               `gorm:"index;not null" json:"payment_date"`
	CurrencyCode       string                  `gorm:"size:3;not null" json:"currency_code"`
	Amount             decimal.Decimal         `gorm:"type:decimal(20,4);default:0" json:"amount"`
	BookedRate         decimal.Decimal         `gorm:"type:decimal(20,8);default:1" json:"booked_rate"`
	RateVersion        int64                   `json:"rate_version"`
	IsInternalTransfer bool                    `gorm:"not null;default:false" json:"is_internal_transfer"`
	Status             PaymentStatus           `gorm:"size:16;index;not null" json:"status"`
	Approvals          int                     `gorm:"not null;default:0" json:"approvals"`
	Reference          string                  `gorm:"size:64" json:"reference"`
	PostedAt           *time.Time              `json:"posted_at"`
	PostedById         *int                    `json:"posted_by_id"`
	AllocationLines    []PaymentAllocationLine `gorm:"foreignKey:PaymentId" json:"allocation_lines"`
	CreatedAt          time.Time               `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time               `gorm:"autoUpdateTime" json:"updated_at"`
}

type PaymentAllocationLine struct {
	ID           int             `gorm:"primary_key" json:"id"`
	CompanyId    string          `gorm:"size:64;index;not null" json:"company_id"`
	PaymentId    int             `gorm:"index;not null" json:"payment_id"`
	RequestId    int             `gorm:"index;not null" json:"request_id"`
	InvoiceId    int             `gorm:"index;not null" json:"invoice_id"`
	Amount       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	Note         string          `gorm:"type:text" json:"note"`
	LedgerLineId *int            `json:"ledger_line_id"`
}

// BookedCompanyAmount is the payment converted at the rate it was booked with.
func (p Payment) BookedCompanyAmount(places int32) decimal.Decimal {
	rate := p.BookedRate
	if rate.IsZero() {
		rate = decimal.NewFromInt(1)
	}
	return p.Amount.Mul(rate).Round(places)
}

// UsesMultiLinePath reports whether each allocation line must be reconciled separately.
func (p Payment) UsesMultiLinePath() bool {
	return len(p.AllocationLines) > 1 && !p.IsInternalTransfer
}

func (p Payment) ValidateAllocations() error {
	total := decimal.Zero
	for _, l := range p.AllocationLines {
		if !l.Amount.IsPositive() {
			return &LedgerError{Kind: ErrInvalidAmount, Id: p.ID, LineId: l.ID, Err: fmt.Errorf("allocation amount must be positive, got %s", l.Amount)}
		}
		total = total.Add(l.Amount)
	}
	if total.GreaterThan(p.Amount) {
		return NewLedgerError(ErrInvalidAmount, p.ID, fmt.Errorf("allocations %s exceed payment amount %s", total, p.Amount))
	}
	return nil
}

type NewPaymentAllocationLine struct {
	RequestId int             `json:"request_id" validate:"gt=0"`
	InvoiceId int             `json:"invoice_id" validate:"gt=0"`
	Amount    decimal.Decimal `json:"amount" validate:"gt=0"`
	Note      string          `json:"note"`
}

type NewPayment struct {
	PaymentDate        time.Time                  `json:"payment_date" validate:"required"`
	CurrencyCode       string                     `json:"currency_code" validate:"len=3"`
	Amount             decimal.Decimal            `json:"amount" validate:"gt=0"`
	BookedRate         decimal.Decimal            `json:"booked_rate" validate:"gte=0"`
	IsInternalTransfer bool                       `json:"is_internal_transfer"`
	Reference          string                     `json:"reference" validate:"max=64"`
	AllocationLines    []NewPaymentAllocationLine `json:"allocation_lines" validate:"dive"`
}
