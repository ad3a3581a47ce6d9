package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InvoiceRecord mirrors the fields of an external invoice the ledger needs.
type InvoiceRecord struct {
	ID           int             `gorm:"primary_key" json:"id"`
	CompanyId    string          `gorm:"size:64;index;not null" json:"company_id"`
	ContractId   int             `gorm:"index" json:"contract_id"`
	Reference    string          `gorm:"size:64;index" json:"reference"`
	InvoiceDate  time.Time       `gorm:"index;not null" json:"invoice_date"`
	DueDate      *time.Time      `json:"due_date"`
	Total        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total"`
	Outstanding  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"outstanding"`
	CurrencyCode string          `gorm:"size:3;not null" json:"currency_code"`
	Status       InvoiceStatus   `gorm:"size:16;not null" json:"status"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// InvoiceSource is the narrow contract the reconciliation engine needs from the invoicing system.
// Implementations must honour tx so reads and writes join the caller's transaction.
type InvoiceSource interface {
	FindInvoice(tx *gorm.DB, companyId string, invoiceId int) (*InvoiceRecord, error)
	// AdjustOutstanding adds delta (negative on application) to the invoice's outstanding amount.
	AdjustOutstanding(tx *gorm.DB, companyId string, invoiceId int, delta decimal.Decimal) error
}

// GormInvoiceSource reads the invoice_records mirror table.
type GormInvoiceSource struct{}

func (GormInvoiceSource) FindInvoice(tx *gorm.DB, companyId string, invoiceId int) (*InvoiceRecord, error) {
	var inv InvoiceRecord
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("company_id = ? AND id = ?", companyId, invoiceId).
		First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NewLedgerError(ErrInvoiceNotFound, invoiceId, nil)
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s GormInvoiceSource) AdjustOutstanding(tx *gorm.DB, companyId string, invoiceId int, delta decimal.Decimal) error {
	inv, err := s.FindInvoice(tx, companyId, invoiceId)
	if err != nil {
		return err
	}
	outstanding := inv.Outstanding.Add(delta)
	if outstanding.IsNegative() {
		return NewLedgerError(ErrInsufficientInvoiceBalance, invoiceId, fmt.Errorf("outstanding %s cannot absorb %s", inv.Outstanding, delta.Neg()))
	}
	if outstanding.GreaterThan(inv.Total) {
		outstanding = inv.Total
	}
	return tx.Model(&InvoiceRecord{}).
		Where("company_id = ? AND id = ?", companyId, invoiceId).
		Update("outstanding", outstanding).Error
}
