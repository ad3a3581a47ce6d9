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

// CompanyConfig is the per-company ledger configuration read from the host system.
type CompanyConfig struct {
	ID                       int             `gorm:"primary_key" json:"id"`
	CompanyId                string          `gorm:"size:64;not null;uniqueIndex" json:"company_id"`
	CompanyCurrency          string          `gorm:"size:3;not null" json:"company_currency"`
	ExchangeDiffThreshold    decimal.Decimal `gorm:"type:decimal(20,4)" json:"exchange_diff_threshold"`
	CustomerAdvanceAccountId int             `json:"customer_advance_account_id"`
	SupplierAdvanceAccountId int             `json:"supplier_advance_account_id"`
	LockDate                 *time.Time      `json:"lock_date"`
	Timezone                 string          `gorm:"size:64" json:"timezone"`
	RequiredApprovals        int             `gorm:"not null" json:"required_approvals"`
	CurrencyDecimals         int32           `gorm:"not null" json:"currency_decimals"`
	PenaltyPercent           decimal.Decimal `gorm:"type:decimal(20,4)" json:"penalty_percent"`
	CreatedAt                time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// DefaultCompanyConfig fills the env-level defaults for a company without a stored row.
func DefaultCompanyConfig(companyId string, currency string) CompanyConfig {
	defaults := config.GetLedgerConfig()
	return CompanyConfig{
		CompanyId:             companyId,
		CompanyCurrency:       currency,
		ExchangeDiffThreshold: defaults.ExchangeDiffThreshold,
		RequiredApprovals:     defaults.RequiredApprovals,
		CurrencyDecimals:      defaults.CurrencyDecimals,
	}
}

func GetCompanyConfig(ctx context.Context, companyId string) (*CompanyConfig, error) {
	db := config.GetDB()
	var cfg CompanyConfig
	err := db.WithContext(ctx).Where("company_id = ?", companyId).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// AdvanceAccountFor returns the default advance account for a party type, 0 when none is configured.
func (c CompanyConfig) AdvanceAccountFor(partyType PartyType) int {
	switch partyType {
	case PartyTypeCustomer:
		return c.CustomerAdvanceAccountId
	case PartyTypeSupplier, PartyTypeEmployee:
		return c.SupplierAdvanceAccountId
	}
	return 0
}

// ValidateLockDate rejects transaction dates on or before the company lock date.
func (c CompanyConfig) ValidateLockDate(transactionDate time.Time) error {
	if c.LockDate == nil || c.LockDate.IsZero() {
		return nil
	}
	tDate, err := utils.ConvertToDate(transactionDate, c.Timezone)
	if err != nil {
		return err
	}
	lDate, err := utils.ConvertToDate(*c.LockDate, c.Timezone)
	if err != nil {
		return err
	}
	if !tDate.After(lDate) {
		return NewLedgerError(ErrPeriodLocked, 0, fmt.Errorf("%s is not after lock date %s", tDate.Format("2006-01-02"), lDate.Format("2006-01-02")))
	}
	return nil
}

// LedgerEnv is passed explicitly into every ledger operation.
type LedgerEnv struct {
	Ctx       context.Context
	Company   CompanyConfig
	ActorId   int
	ActorName string
	// Tx, when set, is used instead of opening a new transaction.
	Tx *gorm.DB
	// Clock overrides time.Now for stage logs and application dates.
	Clock func() time.Time
}

func (env LedgerEnv) Context() context.Context {
	if env.Ctx == nil {
		return context.Background()
	}
	return env.Ctx
}

func (env LedgerEnv) Now() time.Time {
	if env.Clock != nil {
		return env.Clock().UTC()
	}
	return time.Now().UTC()
}

func (env LedgerEnv) CompanyId() string {
	return env.Company.CompanyId
}

// DB returns the handle operations should run on.
func (env LedgerEnv) DB() *gorm.DB {
	if env.Tx != nil {
		return env.Tx
	}
	return config.GetDB().WithContext(env.Context())
}

// NewLedgerEnvFromContext builds an env from request context values and the stored company config.
func NewLedgerEnvFromContext(ctx context.Context) (*LedgerEnv, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}
	cfg, err := GetCompanyConfig(ctx, companyId)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, fmt.Errorf("company %s has no ledger configuration", companyId)
		}
		return nil, err
	}
	actorId, _ := utils.GetActorIdFromContext(ctx)
	actorName, _ := utils.GetActorNameFromContext(ctx)
	return &LedgerEnv{
		Ctx:       ctx,
		Company:   *cfg,
		ActorId:   actorId,
		ActorName: actorName,
	}, nil
}
