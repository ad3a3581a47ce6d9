package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mmdatafocus/ledger_backend/config"
	"github.com/mmdatafocus/ledger_backend/models"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

type SettleInput struct {
	PaymentId int `json:"payment_id" validate:"gt=0"`
	// Amount in CurrencyFrom.
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
	// BookedAmount is Amount as originally booked in company currency.
	BookedAmount decimal.Decimal `json:"booked_amount" validate:"gte=0"`
	CurrencyFrom string          `json:"currency_from" validate:"len=3"`
	RateVersion  int64           `json:"rate_version" validate:"gt=0"`
}

type currencyAdjustmentPayload struct {
	PaymentId       int             `json:"payment_id"`
	RateVersion     int64           `json:"rate_version"`
	CurrencyFrom    string          `json:"currency_from"`
	CurrencyTo      string          `json:"currency_to"`
	BookedAmount    decimal.Decimal `json:"booked_amount"`
	ConvertedAmount decimal.Decimal `json:"converted_amount"`
	Difference      decimal.Decimal `json:"difference"`
}

// Settle books the difference between the converted and booked amounts of a payment.
// A repeat call for the same payment and rate version returns the stored posting.
func (l *Ledger) Settle(env models.LedgerEnv, in SettleInput) (posting *models.ExchangeDifferencePosting, err error) {
	span := l.startSpan(&env, "Ledger.Settle",
		attribute.Int("payment_id", in.PaymentId),
		attribute.Int64("rate_version", in.RateVersion))
	defer func() { endSpan(span, err) }()

	if err := validateSettleInput(in); err != nil {
		return nil, err
	}
	err = l.runInTx(env, func(tx *gorm.DB) error {
		payment, err := lockPayment(tx, env.CompanyId(), in.PaymentId)
		if err != nil {
			return err
		}
		if !strings.EqualFold(in.CurrencyFrom, payment.CurrencyCode) {
			return models.NewLedgerError(models.ErrCurrencyMismatch, payment.ID, fmt.Errorf("payment is in %s, not %s", payment.CurrencyCode, in.CurrencyFrom))
		}
		posting, err = l.settleTx(tx, env, in)
		return err
	})
	if err != nil {
		l.logFailure("Settle", "settling exchange difference", in, err)
		return nil, err
	}
	return posting, nil
}

func validateSettleInput(in SettleInput) error {
	if in.PaymentId <= 0 || in.RateVersion <= 0 || len(in.CurrencyFrom) != 3 {
		return models.NewLedgerError(models.ErrInvalidAmount, in.PaymentId, errors.New("payment id, currency and rate version are required"))
	}
	if !in.Amount.IsPositive() || in.BookedAmount.IsNegative() {
		return models.NewLedgerError(models.ErrInvalidAmount, in.PaymentId, fmt.Errorf("amount %s booked %s", in.Amount, in.BookedAmount))
	}
	return nil
}

func (l *Ledger) settleTx(tx *gorm.DB, env models.LedgerEnv, in SettleInput) (*models.ExchangeDifferencePosting, error) {
	from := strings.ToUpper(in.CurrencyFrom)
	to := env.Company.CompanyCurrency
	if from == to {
		return nil, models.NewLedgerError(models.ErrCurrencyMismatch, in.PaymentId, fmt.Errorf("%s is the company currency", from))
	}

	existing, err := findExchangeDifference(tx, env.CompanyId(), in.PaymentId, in.RateVersion)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	latest, err := models.LatestExchangeRate(tx, env.CompanyId(), from, to)
	if err != nil {
		return nil, err
	}
	if in.RateVersion < latest.Version {
		return nil, models.NewLedgerError(models.ErrStaleExchangeRate, in.PaymentId, fmt.Errorf("version %d, latest %d", in.RateVersion, latest.Version))
	}
	rate, err := models.ExchangeRateByVersion(tx, env.CompanyId(), from, to, in.RateVersion)
	if err != nil {
		return nil, err
	}

	places := env.Company.CurrencyDecimals
	converted := in.Amount.Mul(rate.Rate).Round(places)
	diff := converted.Sub(in.BookedAmount.Round(places))
	threshold := env.Company.ExchangeDiffThreshold
	if !threshold.IsPositive() {
		threshold = config.GetLedgerConfig().ExchangeDiffThreshold
	}

	posting := models.ExchangeDifferencePosting{
		CompanyId:       env.CompanyId(),
		PaymentId:       in.PaymentId,
		RateVersion:     in.RateVersion,
		CurrencyFrom:    from,
		CurrencyTo:      to,
		Amount:          in.Amount,
		BookedAmount:    in.BookedAmount,
		ConvertedAmount: converted,
		Difference:      diff,
		IsPosted:        diff.Abs().GreaterThanOrEqual(threshold),
	}
	if err := tx.Create(&posting).Error; err != nil {
		if isDuplicateKeyErr(err) {
			existing, ferr := findExchangeDifference(tx, env.CompanyId(), in.PaymentId, in.RateVersion)
			if ferr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}

	if posting.IsPosted {
		rec, err := models.EnqueueOutbox(tx, posting.CompanyId, models.OutboxReferenceTypeCurrencyAdjustment, posting.ID, models.OutboxActionCreate, env.Now(), currencyAdjustmentPayload{
			PaymentId:       posting.PaymentId,
			RateVersion:     posting.RateVersion,
			CurrencyFrom:    from,
			CurrencyTo:      to,
			BookedAmount:    posting.BookedAmount,
			ConvertedAmount: converted,
			Difference:      diff,
		})
		if err != nil {
			return nil, err
		}
		posting.OutboxRecordId = &rec.ID
		if err := tx.Model(&posting).Update("outbox_record_id", rec.ID).Error; err != nil {
			return nil, err
		}
	}
	return &posting, nil
}

func findExchangeDifference(tx *gorm.DB, companyId string, paymentId int, rateVersion int64) (*models.ExchangeDifferencePosting, error) {
	var posting models.ExchangeDifferencePosting
	err := tx.Where("company_id = ? AND payment_id = ? AND rate_version = ?", companyId, paymentId, rateVersion).First(&posting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &posting, nil
}
