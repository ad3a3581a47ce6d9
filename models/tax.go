package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/ledger_backend/config"
	"github.com/mmdatafocus/ledger_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var hundred = decimal.NewFromInt(100)

// ComputeTax returns base * rate / 100 rounded half-up to places.
func ComputeTax(base decimal.Decimal, rate decimal.Decimal, places int32) (decimal.Decimal, error) {
	if rate.IsNegative() {
		return decimal.Zero, NewLedgerError(ErrInvalidTaxRate, 0, fmt.Errorf("rate %s is negative", rate))
	}
	return utils.RoundMoney(base.Mul(rate).Div(hundred), places), nil
}

// TaxLine stores its calculated amount; SetBase and SetRate keep it current.
type TaxLine struct {
	ID               int             `gorm:"primary_key" json:"id"`
	CompanyId        string          `gorm:"size:64;index;not null" json:"company_id"`
	ContractId       int             `gorm:"index;not null" json:"contract_id"`
	Name             string          `gorm:"size:100;not null" json:"name"`
	Rate             decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"rate"`
	BaseAmount       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"base_amount"`
	CalculatedAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"calculated_amount"`
	DecimalPlaces    int32           `gorm:"not null" json:"decimal_places"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewTaxLine struct {
	ContractId int             `json:"contract_id" validate:"gt=0"`
	Name       string          `json:"name" validate:"required,max=100"`
	Rate       decimal.Decimal `json:"rate"`
	// BaseAmount is the owning contract's tax base.
	BaseAmount decimal.Decimal `json:"base_amount"`
}

func (l *TaxLine) SetBase(base decimal.Decimal) error {
	amount, err := ComputeTax(base, l.Rate, l.DecimalPlaces)
	if err != nil {
		return err
	}
	l.BaseAmount = base
	l.CalculatedAmount = amount
	return nil
}

// SetRate leaves the line untouched when rate is rejected.
func (l *TaxLine) SetRate(rate decimal.Decimal) error {
	amount, err := ComputeTax(l.BaseAmount, rate, l.DecimalPlaces)
	if err != nil {
		return NewLedgerError(ErrInvalidTaxRate, l.ID, err)
	}
	l.Rate = rate
	l.CalculatedAmount = amount
	return nil
}

func (l *TaxLine) BeforeSave(tx *gorm.DB) error {
	amount, err := ComputeTax(l.BaseAmount, l.Rate, l.DecimalPlaces)
	if err != nil {
		return err
	}
	l.CalculatedAmount = amount
	return nil
}

func CreateTaxLine(ctx context.Context, input *NewTaxLine, places int32) (*TaxLine, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}

	line := TaxLine{
		CompanyId:     companyId,
		ContractId:    input.ContractId,
		Name:          input.Name,
		DecimalPlaces: places,
	}
	if err := line.SetRate(input.Rate); err != nil {
		return nil, err
	}
	if err := line.SetBase(input.BaseAmount); err != nil {
		return nil, err
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&line).Error; err != nil {
		return nil, err
	}
	return &line, nil
}

// UpdateTaxLine applies whichever of base and rate are given.
func UpdateTaxLine(ctx context.Context, id int, base *decimal.Decimal, rate *decimal.Decimal) (*TaxLine, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}

	line, err := utils.FetchModel[TaxLine](ctx, companyId, id)
	if err != nil {
		return nil, err
	}
	if rate != nil {
		if err := line.SetRate(*rate); err != nil {
			return nil, err
		}
	}
	if base != nil {
		if err := line.SetBase(*base); err != nil {
			return nil, err
		}
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Save(line).Error; err != nil {
		return nil, err
	}
	return line, nil
}
