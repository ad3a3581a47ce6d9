package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/ledger_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ExchangeRate converts one unit of FromCurrency into ToCurrency. Version increases per pair.
type ExchangeRate struct {
	ID           int             `gorm:"primary_key" json:"id"`
	CompanyId    string          `gorm:"size:64;not null;uniqueIndex:uniq_rate_version,priority:1" json:"company_id"`
	FromCurrency string          `gorm:"size:3;not null;uniqueIndex:uniq_rate_version,priority:2" json:"from_currency"`
	ToCurrency   string          `gorm:"size:3;not null;uniqueIndex:uniq_rate_version,priority:3" json:"to_currency"`
	Version      int64           `gorm:"not null;uniqueIndex:uniq_rate_version,priority:4" json:"version"`
	Rate         decimal.Decimal `gorm:"type:decimal(20,8);default:0" json:"rate"`
	EffectiveAt  time.Time       `gorm:"not null" json:"effective_at"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// ExchangeDifferencePosting is unique per (payment, rate version); a repeat settle returns it unchanged.
type ExchangeDifferencePosting struct {
	ID              int             `gorm:"primary_key" json:"id"`
	CompanyId       string          `gorm:"size:64;not null;index" json:"company_id"`
	PaymentId       int             `gorm:"not null;uniqueIndex:uniq_exdiff_payment_version,priority:1" json:"payment_id"`
	RateVersion     int64           `gorm:"not null;uniqueIndex:uniq_exdiff_payment_version,priority:2" json:"rate_version"`
	CurrencyFrom    string          `gorm:"size:3;not null" json:"currency_from"`
	CurrencyTo      string          `gorm:"size:3;not null" json:"currency_to"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	BookedAmount    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"booked_amount"`
	ConvertedAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"converted_amount"`
	Difference      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"difference"`
	IsPosted        bool            `gorm:"not null;default:false" json:"is_posted"`
	OutboxRecordId  *int            `json:"outbox_record_id"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewExchangeRate struct {
	FromCurrency string          `json:"from_currency" validate:"len=3"`
	ToCurrency   string          `json:"to_currency" validate:"len=3,nefield=FromCurrency"`
	Rate         decimal.Decimal `json:"rate" validate:"gt=0"`
	EffectiveAt  time.Time       `json:"effective_at"`
}

func rateCacheKey(companyId, from, to string) string {
	return fmt.Sprintf("ExchangeRate:%s:%s:%s", companyId, strings.ToUpper(from), strings.ToUpper(to))
}

// RegisterExchangeRate stores the next version for the pair on tx.
func RegisterExchangeRate(tx *gorm.DB, companyId string, input NewExchangeRate) (*ExchangeRate, error) {
	from := strings.ToUpper(input.FromCurrency)
	to := strings.ToUpper(input.ToCurrency)

	var latest ExchangeRate
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("company_id = ? AND from_currency = ? AND to_currency = ?", companyId, from, to).
		Order("version DESC").
		First(&latest).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	effectiveAt := input.EffectiveAt
	if effectiveAt.IsZero() {
		effectiveAt = time.Now().UTC()
	}
	rate := ExchangeRate{
		CompanyId:    companyId,
		FromCurrency: from,
		ToCurrency:   to,
		Version:      latest.Version + 1,
		Rate:         input.Rate,
		EffectiveAt:  effectiveAt,
	}
	if err := tx.Create(&rate).Error; err != nil {
		return nil, err
	}
	_ = config.RemoveRedisKey(rateCacheKey(companyId, from, to))
	return &rate, nil
}

// LatestExchangeRate reads the newest version on tx. Use inside postings.
func LatestExchangeRate(tx *gorm.DB, companyId, from, to string) (*ExchangeRate, error) {
	var rate ExchangeRate
	err := tx.Where("company_id = ? AND from_currency = ? AND to_currency = ?", companyId, strings.ToUpper(from), strings.ToUpper(to)).
		Order("version DESC").
		First(&rate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NewLedgerError(ErrExchangeRateNotFound, 0, fmt.Errorf("no rate for %s/%s", from, to))
	}
	if err != nil {
		return nil, err
	}
	return &rate, nil
}

func ExchangeRateByVersion(tx *gorm.DB, companyId, from, to string, version int64) (*ExchangeRate, error) {
	var rate ExchangeRate
	err := tx.Where("company_id = ? AND from_currency = ? AND to_currency = ? AND version = ?", companyId, strings.ToUpper(from), strings.ToUpper(to), version).
		First(&rate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NewLedgerError(ErrExchangeRateNotFound, int(version), fmt.Errorf("no rate version %d for %s/%s", version, from, to))
	}
	if err != nil {
		return nil, err
	}
	return &rate, nil
}

// GetLatestExchangeRate serves reads outside postings through the redis cache.
func GetLatestExchangeRate(ctx context.Context, companyId, from, to string) (*ExchangeRate, error) {
	key := rateCacheKey(companyId, from, to)
	var cached ExchangeRate
	if exists, err := config.GetRedisObject(key, &cached); err == nil && exists {
		return &cached, nil
	}

	rate, err := LatestExchangeRate(config.GetDB().WithContext(ctx), companyId, from, to)
	if err != nil {
		return nil, err
	}
	if err := config.SetRedisObject(key, rate, config.GetLedgerConfig().RateCacheTTL); err != nil {
		config.LogError(config.GetLogger(), "exchange.go", "GetLatestExchangeRate", "caching rate", key, err)
	}
	return rate, nil
}
