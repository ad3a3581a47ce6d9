package models

import (
	"time"
)

// PayrollCommissionFlag marks a payroll line as eligible for commission settlement.
// Payroll totals are owned by the payroll system.
type PayrollCommissionFlag struct {
	ID            int       `gorm:"primary_key" json:"id"`
	CompanyId     string    `gorm:"size:64;not null;uniqueIndex:uniq_commission_line,priority:1" json:"company_id"`
	PayrollLineId int       `gorm:"not null;uniqueIndex:uniq_commission_line,priority:2" json:"payroll_line_id"`
	Eligible      bool      `gorm:"not null;default:false;index" json:"eligible"`
	StampedById   int       `json:"stamped_by_id"`
	StampedByName string    `gorm:"size:100" json:"stamped_by_name"`
	StampedAt     time.Time `gorm:"not null" json:"stamped_at"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
