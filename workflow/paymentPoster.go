package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mmdatafocus/ledger_backend/models"
	"github.com/mmdatafocus/ledger_backend/utils"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

type paymentPostedPayload struct {
	PaymentId    int             `json:"payment_id"`
	Reference    string          `json:"reference"`
	CurrencyCode string          `json:"currency_code"`
	Amount       decimal.Decimal `json:"amount"`
	RateVersion  int64           `json:"rate_version"`
	LedgerLines  []int           `json:"ledger_line_ids"`
	MultiLine    bool            `json:"multi_line"`
}

type derivedDocumentPayload struct {
	PaymentId    int    `json:"payment_id"`
	DocumentType string `json:"document_type"`
	Reference    string `json:"reference"`
}

func (l *Ledger) CreatePayment(env models.LedgerEnv, input *models.NewPayment) (*models.Payment, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	places := env.Company.CurrencyDecimals
	rate := input.BookedRate
	if rate.IsZero() {
		rate = decimal.NewFromInt(1)
	}
	payment := models.Payment{
		CompanyId:          env.CompanyId(),
		PaymentDate:        input.PaymentDate,
		CurrencyCode:       input.CurrencyCode,
		Amount:             utils.RoundMoney(input.Amount, places),
		BookedRate:         rate,
		IsInternalTransfer: input.IsInternalTransfer,
		Status:             models.PaymentStatusDraft,
		Reference:          input.Reference,
	}
	for _, line := range input.AllocationLines {
		payment.AllocationLines = append(payment.AllocationLines, models.PaymentAllocationLine{
			CompanyId: env.CompanyId(),
			RequestId: line.RequestId,
			InvoiceId: line.InvoiceId,
			Amount:    utils.RoundMoney(line.Amount, places),
			Note:      line.Note,
		})
	}
	if err := payment.ValidateAllocations(); err != nil {
		return nil, err
	}
	err := l.runInTx(env, func(tx *gorm.DB) error {
		return tx.Create(&payment).Error
	})
	if err != nil {
		l.logFailure("CreatePayment", "creating payment", input, err)
		return nil, err
	}
	return &payment, nil
}

// ApprovePayment records one approval on a draft payment.
func (l *Ledger) ApprovePayment(env models.LedgerEnv, paymentId int) (*models.Payment, error) {
	var payment *models.Payment
	err := l.runInTx(env, func(tx *gorm.DB) error {
		var err error
		payment, err = lockPayment(tx, env.CompanyId(), paymentId)
		if err != nil {
			return err
		}
		if payment.Status != models.PaymentStatusDraft {
			return models.NewLedgerError(models.ErrInvalidStageTransition, payment.ID, fmt.Errorf("payment is %s", payment.Status))
		}
		payment.Approvals++
		return tx.Model(&models.Payment{}).Where("id = ?", payment.ID).Update("approvals", payment.Approvals).Error
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// PostPayment posts a payment and all of its allocation lines or nothing.
// Every failure is an ErrPostingAborted naming the first failing line and wrapping the cause.
func (l *Ledger) PostPayment(env models.LedgerEnv, paymentId int) (posted *models.Payment, err error) {
	span := l.startSpan(&env, "Ledger.PostPayment", attribute.Int("payment_id", paymentId))
	defer func() { endSpan(span, err) }()

	release := l.obtainBestEffortLock(env.Context(), paymentLockKey(env.CompanyId(), paymentId))
	defer release()

	err = l.runPostingTx(env, func(tx *gorm.DB) error {
		payment, err := lockPayment(tx, env.CompanyId(), paymentId)
		if err != nil {
			return postingAborted(paymentId, 0, err)
		}
		if err := l.validatePosting(env, payment); err != nil {
			return postingAborted(paymentId, 0, err)
		}

		// Exchange-rate refresh against the latest version.
		var latest *models.ExchangeRate
		if payment.CurrencyCode != env.Company.CompanyCurrency {
			latest, err = models.LatestExchangeRate(tx, env.CompanyId(), payment.CurrencyCode, env.Company.CompanyCurrency)
			if err != nil {
				return postingAborted(paymentId, 0, err)
			}
			_, err = l.settleTx(tx, env, SettleInput{
				PaymentId:    payment.ID,
				Amount:       payment.Amount,
				BookedAmount: payment.BookedCompanyAmount(env.Company.CurrencyDecimals),
				CurrencyFrom: payment.CurrencyCode,
				RateVersion:  latest.Version,
			})
			if err != nil {
				return postingAborted(paymentId, 0, err)
			}
			payment.RateVersion = latest.Version
		}

		ledgerLines := make([]int, 0, len(payment.AllocationLines))
		multiLine := payment.UsesMultiLinePath()
		if multiLine {
			for i := range payment.AllocationLines {
				lineId, err := l.postAllocationLine(tx, env, payment, &payment.AllocationLines[i], latest)
				if err != nil {
					return postingAborted(paymentId, payment.AllocationLines[i].ID, err)
				}
				ledgerLines = append(ledgerLines, lineId)
			}
		} else if len(payment.AllocationLines) > 0 {
			line := &payment.AllocationLines[0]
			if payment.IsInternalTransfer {
				return postingAborted(paymentId, line.ID, models.NewLedgerError(models.ErrInvalidAmount, payment.ID, errors.New("internal transfers cannot allocate prepayments")))
			}
			lineId, err := l.postAllocationLine(tx, env, payment, line, latest)
			if err != nil {
				return postingAborted(paymentId, line.ID, err)
			}
			ledgerLines = append(ledgerLines, lineId)
		}

		now := env.Now()
		actorId := env.ActorId
		payment.Status = models.PaymentStatusPosted
		payment.PostedAt = &now
		payment.PostedById = &actorId
		if err := tx.Model(&models.Payment{}).Where("id = ?", payment.ID).Updates(map[string]interface{}{
			"status":       payment.Status,
			"posted_at":    now,
			"posted_by_id": actorId,
			"rate_version": payment.RateVersion,
		}).Error; err != nil {
			return postingAborted(paymentId, 0, err)
		}

		// Post-processing hooks run after commit through the outbox.
		if _, err := models.EnqueueOutbox(tx, payment.CompanyId, models.OutboxReferenceTypePaymentPosted, payment.ID, models.OutboxActionCreate, now, paymentPostedPayload{
			PaymentId:    payment.ID,
			Reference:    payment.Reference,
			CurrencyCode: payment.CurrencyCode,
			Amount:       payment.Amount,
			RateVersion:  payment.RateVersion,
			LedgerLines:  ledgerLines,
			MultiLine:    multiLine,
		}); err != nil {
			return postingAborted(paymentId, 0, err)
		}
		if _, err := models.EnqueueOutbox(tx, payment.CompanyId, models.OutboxReferenceTypeDerivedDocument, payment.ID, models.OutboxActionCreate, now, derivedDocumentPayload{
			PaymentId:    payment.ID,
			DocumentType: "receipt",
			Reference:    payment.Reference,
		}); err != nil {
			return postingAborted(paymentId, 0, err)
		}
		posted = payment
		return nil
	})
	if err != nil {
		err = postingAborted(paymentId, 0, err)
		l.logFailure("PostPayment", "posting payment", paymentId, err)
		return nil, err
	}
	return posted, nil
}

func (l *Ledger) validatePosting(env models.LedgerEnv, payment *models.Payment) error {
	if payment.Status != models.PaymentStatusDraft {
		return models.NewLedgerError(models.ErrInvalidStageTransition, payment.ID, fmt.Errorf("payment is %s", payment.Status))
	}
	if payment.Approvals < env.Company.RequiredApprovals {
		return models.NewLedgerError(models.ErrInsufficientApprovals, payment.ID, fmt.Errorf("%d of %d approvals", payment.Approvals, env.Company.RequiredApprovals))
	}
	if err := enforcePostingGate(env, payment.PaymentDate, payment.ID); err != nil {
		return err
	}
	return payment.ValidateAllocations()
}

// postAllocationLine applies one line in the request's currency. A foreign
// payment allocated to a company-currency request is converted at latest.
func (l *Ledger) postAllocationLine(tx *gorm.DB, env models.LedgerEnv, payment *models.Payment, line *models.PaymentAllocationLine, latest *models.ExchangeRate) (int, error) {
	req, err := lockRequest(tx, env.CompanyId(), line.RequestId)
	if err != nil {
		return 0, err
	}
	amount := line.Amount
	if !strings.EqualFold(payment.CurrencyCode, req.CurrencyCode) {
		if latest == nil || req.CurrencyCode != env.Company.CompanyCurrency {
			return 0, models.NewLedgerError(models.ErrCurrencyMismatch, req.ID, fmt.Errorf("payment %s, request %s", payment.CurrencyCode, req.CurrencyCode))
		}
		amount = line.Amount.Mul(latest.Rate).Round(env.Company.CurrencyDecimals)
	}
	ledgerLine, err := l.applyToInvoiceTx(tx, env, req.ID, line.InvoiceId, amount, line.Note, &payment.ID)
	if err != nil {
		return 0, err
	}
	line.LedgerLineId = &ledgerLine.ID
	if err := tx.Model(&models.PaymentAllocationLine{}).Where("id = ?", line.ID).Update("ledger_line_id", ledgerLine.ID).Error; err != nil {
		return 0, err
	}
	return ledgerLine.ID, nil
}

func postingAborted(paymentId int, lineId int, cause error) error {
	var inner *models.LedgerError
	if errors.As(cause, &inner) {
		if errors.Is(inner.Kind, models.ErrPostingAborted) {
			return cause
		}
		if lineId == 0 {
			lineId = inner.LineId
		}
	}
	return &models.LedgerError{Kind: models.ErrPostingAborted, Id: paymentId, LineId: lineId, Err: cause}
}
