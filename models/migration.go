package models

import (
	"gorm.io/gorm"
)

// MigrateTable creates or updates every ledger table on db.
func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&CompanyConfig{},
		&InvoiceRecord{},
		&PrepaymentRequest{}, &PrepaymentStageLog{},
		&PrepaymentLedgerLine{}, &PrepaymentApplication{},
		&TaxLine{},
		&ExchangeRate{}, &ExchangeDifferencePosting{},
		&Payment{}, &PaymentAllocationLine{},
		&PayrollCommissionFlag{},
		&LedgerOutboxRecord{},
	)
}
