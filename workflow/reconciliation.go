package workflow

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mmdatafocus/ledger_backend/models"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type applicationPayload struct {
	RequestId     int             `json:"request_id"`
	InvoiceId     int             `json:"invoice_id"`
	LedgerLineId  int             `json:"ledger_line_id"`
	Amount        decimal.Decimal `json:"amount"`
	CurrencyCode  string          `json:"currency_code"`
	AdvanceAcctId int             `json:"advance_account_id"`
	PaymentId     *int            `json:"payment_id,omitempty"`
	Stage         string          `json:"stage"`
}

// ApplyToInvoice allocates amount of a disbursed request to an invoice.
// Losers of a concurrent race observe ErrInsufficientPrepaymentBalance.
func (l *Ledger) ApplyToInvoice(env models.LedgerEnv, requestId int, invoiceId int, amount decimal.Decimal, note string) (line *models.PrepaymentLedgerLine, err error) {
	span := l.startSpan(&env, "Ledger.ApplyToInvoice",
		attribute.Int("request_id", requestId),
		attribute.Int("invoice_id", invoiceId),
		attribute.String("amount", amount.String()))
	defer func() { endSpan(span, err) }()

	if !amount.IsPositive() {
		return nil, models.NewLedgerError(models.ErrInvalidAmount, requestId, fmt.Errorf("amount must be positive, got %s", amount))
	}

	release := l.obtainBestEffortLock(env.Context(), requestLockKey(env.CompanyId(), requestId))
	defer release()

	err = l.runInTx(env, func(tx *gorm.DB) error {
		var err error
		line, err = l.applyToInvoiceTx(tx, env, requestId, invoiceId, amount, note, nil)
		return err
	})
	if err != nil {
		l.logFailure("ApplyToInvoice", "applying prepayment", map[string]interface{}{
			"request_id": requestId,
			"invoice_id": invoiceId,
			"amount":     amount.String(),
		}, err)
		return nil, err
	}
	return line, nil
}

// applyToInvoiceTx validates everything before the first write.
func (l *Ledger) applyToInvoiceTx(tx *gorm.DB, env models.LedgerEnv, requestId int, invoiceId int, amount decimal.Decimal, note string, paymentId *int) (*models.PrepaymentLedgerLine, error) {
	places := env.Company.CurrencyDecimals
	amount = amount.Round(places)
	if !amount.IsPositive() {
		return nil, models.NewLedgerError(models.ErrInvalidAmount, requestId, fmt.Errorf("amount rounds to zero at %d places", places))
	}

	req, err := lockRequest(tx, env.CompanyId(), requestId)
	if err != nil {
		return nil, err
	}
	if !req.Stage.AcceptsApplications() {
		if req.Stage == models.PrepaymentStageFullyApplied {
			return nil, models.NewLedgerError(models.ErrInsufficientPrepaymentBalance, req.ID, errors.New("request is fully applied"))
		}
		return nil, models.NewLedgerError(models.ErrInvalidStageTransition, req.ID, fmt.Errorf("cannot apply from %s", req.Stage))
	}
	available := req.Available()
	if amount.GreaterThan(available) {
		return nil, models.NewLedgerError(models.ErrInsufficientPrepaymentBalance, req.ID, fmt.Errorf("available %s < requested %s", available, amount))
	}

	inv, err := l.Invoices.FindInvoice(tx, env.CompanyId(), invoiceId)
	if err != nil {
		return nil, err
	}
	if inv.CurrencyCode != req.CurrencyCode {
		return nil, models.NewLedgerError(models.ErrCurrencyMismatch, inv.ID, fmt.Errorf("invoice %s, request %s", inv.CurrencyCode, req.CurrencyCode))
	}
	if inv.Status.IsFinal() {
		return nil, models.NewLedgerError(models.ErrInvoiceAlreadyFinal, inv.ID, nil)
	}
	if amount.GreaterThan(inv.Outstanding) {
		return nil, models.NewLedgerError(models.ErrInsufficientInvoiceBalance, inv.ID, fmt.Errorf("outstanding %s < requested %s", inv.Outstanding, amount))
	}

	now := env.Now()
	line := models.PrepaymentLedgerLine{
		CompanyId:       req.CompanyId,
		RequestId:       req.ID,
		InvoiceId:       inv.ID,
		InvoiceTotal:    inv.Total,
		CurrencyCode:    req.CurrencyCode,
		ApplicationDate: now,
		Note:            note,
		PaymentId:       paymentId,
	}
	if err := line.SetAmountApplied(amount); err != nil {
		return nil, err
	}
	if err := tx.Create(&line).Error; err != nil {
		return nil, err
	}
	if err := l.Invoices.AdjustOutstanding(tx, env.CompanyId(), inv.ID, amount.Neg()); err != nil {
		return nil, err
	}

	applied := req.AppliedAmount.Add(amount)
	if err := tx.Model(&models.PrepaymentRequest{}).Where("id = ?", req.ID).Update("applied_amount", applied).Error; err != nil {
		return nil, err
	}
	req.AppliedAmount = applied
	if _, err := l.moveStage(tx, env, req, models.ApplyEvent(applied, req.Amount, places)); err != nil {
		return nil, err
	}

	if err := tx.Create(&models.PrepaymentApplication{
		CompanyId:       req.CompanyId,
		RequestId:       req.ID,
		InvoiceId:       inv.ID,
		LedgerLineId:    line.ID,
		Amount:          amount,
		ApplicationDate: now,
		Notes:           note,
		ActorId:         env.ActorId,
	}).Error; err != nil {
		return nil, err
	}
	if _, err := models.EnqueueOutbox(tx, req.CompanyId, models.OutboxReferenceTypeApplied, line.ID, models.OutboxActionCreate, now, applicationPayload{
		RequestId:     req.ID,
		InvoiceId:     inv.ID,
		LedgerLineId:  line.ID,
		Amount:        amount,
		CurrencyCode:  req.CurrencyCode,
		AdvanceAcctId: env.Company.AdvanceAccountFor(req.PartyType),
		PaymentId:     paymentId,
		Stage:         string(req.Stage),
	}); err != nil {
		return nil, err
	}
	return &line, nil
}

// ReverseLine restores a line's amount to its request and soft-deletes the line.
// force allows reversing against a posted or final invoice.
func (l *Ledger) ReverseLine(env models.LedgerEnv, lineId int, force bool) (err error) {
	span := l.startSpan(&env, "Ledger.ReverseLine",
		attribute.Int("line_id", lineId),
		attribute.Bool("force", force))
	defer func() { endSpan(span, err) }()

	err = l.runInTx(env, func(tx *gorm.DB) error {
		var line models.PrepaymentLedgerLine
		err := tx.Unscoped().Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("company_id = ? AND id = ?", env.CompanyId(), lineId).
			First(&line).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.NewLedgerError(models.ErrLineNotFound, lineId, nil)
		}
		if err != nil {
			return err
		}
		if line.DeletedAt.Valid {
			return models.NewLedgerError(models.ErrAlreadyReversed, lineId, nil)
		}

		req, err := lockRequest(tx, env.CompanyId(), line.RequestId)
		if err != nil {
			return err
		}
		inv, err := l.Invoices.FindInvoice(tx, env.CompanyId(), line.InvoiceId)
		if err != nil {
			return err
		}
		if inv.Status.IsFinal() && !force {
			return models.NewLedgerError(models.ErrInvoiceAlreadyFinal, inv.ID, fmt.Errorf("line %d", lineId))
		}

		now := env.Now()
		actorId := env.ActorId
		if err := tx.Model(&models.PrepaymentLedgerLine{}).Where("id = ?", line.ID).Updates(map[string]interface{}{
			"reversed_at":    now,
			"reversed_by_id": &actorId,
		}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.PrepaymentLedgerLine{}, line.ID).Error; err != nil {
			return err
		}
		if err := l.Invoices.AdjustOutstanding(tx, env.CompanyId(), inv.ID, line.AmountApplied); err != nil {
			return err
		}

		applied := req.AppliedAmount.Sub(line.AmountApplied)
		if applied.IsNegative() {
			return models.NewLedgerError(models.ErrLedgerInconsistent, req.ID, fmt.Errorf("applied %s below line %s", req.AppliedAmount, line.AmountApplied))
		}
		if err := tx.Model(&models.PrepaymentRequest{}).Where("id = ?", req.ID).Update("applied_amount", applied).Error; err != nil {
			return err
		}
		req.AppliedAmount = applied

		active, err := countActiveLines(tx, req.ID)
		if err != nil {
			return err
		}
		if _, err := l.moveStage(tx, env, req, models.UnapplyEvent(active)); err != nil {
			return err
		}

		if err := tx.Create(&models.PrepaymentApplication{
			CompanyId:       req.CompanyId,
			RequestId:       req.ID,
			InvoiceId:       inv.ID,
			LedgerLineId:    line.ID,
			Amount:          line.AmountApplied.Neg(),
			ApplicationDate: now,
			Notes:           fmt.Sprintf("reversal of line %d", line.ID),
			IsReversal:      true,
			ActorId:         env.ActorId,
		}).Error; err != nil {
			return err
		}
		_, err = models.EnqueueOutbox(tx, req.CompanyId, models.OutboxReferenceTypeReversed, line.ID, models.OutboxActionDelete, now, applicationPayload{
			RequestId:     req.ID,
			InvoiceId:     inv.ID,
			LedgerLineId:  line.ID,
			Amount:        line.AmountApplied,
			CurrencyCode:  line.CurrencyCode,
			AdvanceAcctId: env.Company.AdvanceAccountFor(req.PartyType),
			PaymentId:     line.PaymentId,
			Stage:         string(req.Stage),
		})
		return err
	})
	if err != nil {
		l.logFailure("ReverseLine", "reversing ledger line", lineId, err)
	}
	return err
}

type LineBalanceCheck struct {
	LineId          int             `json:"line_id"`
	InvoiceId       int             `json:"invoice_id"`
	StoredBalance   decimal.Decimal `json:"stored_balance"`
	ComputedBalance decimal.Decimal `json:"computed_balance"`
	Consistent      bool            `json:"consistent"`
}

type BalanceReport struct {
	RequestId       int                `json:"request_id"`
	Amount          decimal.Decimal    `json:"amount"`
	StoredApplied   decimal.Decimal    `json:"stored_applied"`
	ComputedApplied decimal.Decimal    `json:"computed_applied"`
	Available       decimal.Decimal    `json:"available"`
	Lines           []LineBalanceCheck `json:"lines"`
	Issues          []string           `json:"issues"`
	Consistent      bool               `json:"consistent"`
}

// RecomputeBalances recomputes applied totals and line balances from their inputs.
// It never writes; any mismatch is returned with ErrLedgerInconsistent alongside the report.
func (l *Ledger) RecomputeBalances(env models.LedgerEnv, requestId int) (*BalanceReport, error) {
	db := env.DB()
	var req models.PrepaymentRequest
	err := db.Where("company_id = ? AND id = ?", env.CompanyId(), requestId).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewLedgerError(models.ErrRequestNotFound, requestId, nil)
	}
	if err != nil {
		return nil, err
	}

	var lines []models.PrepaymentLedgerLine
	if err := db.Where("request_id = ?", req.ID).Order("id ASC").Find(&lines).Error; err != nil {
		return nil, err
	}
	var logs []models.PrepaymentStageLog
	if err := db.Where("request_id = ?", req.ID).Order("id ASC").Find(&logs).Error; err != nil {
		return nil, err
	}

	report := BalanceReport{
		RequestId:     req.ID,
		Amount:        req.Amount,
		StoredApplied: req.AppliedAmount,
		Lines:         make([]LineBalanceCheck, 0, len(lines)),
		Issues:        []string{},
	}
	computed := decimal.Zero
	for _, line := range lines {
		computed = computed.Add(line.AmountApplied)
		check := LineBalanceCheck{
			LineId:          line.ID,
			InvoiceId:       line.InvoiceId,
			StoredBalance:   line.Balance,
			ComputedBalance: line.InvoiceTotal.Sub(line.AmountApplied),
		}
		check.Consistent = check.StoredBalance.Equal(check.ComputedBalance) && !check.ComputedBalance.IsNegative()
		if !check.Consistent {
			report.Issues = append(report.Issues, fmt.Sprintf("line %d balance stored %s computed %s", line.ID, check.StoredBalance, check.ComputedBalance))
		}
		report.Lines = append(report.Lines, check)
	}
	report.ComputedApplied = computed
	report.Available = req.Amount.Sub(computed)

	if !computed.Equal(req.AppliedAmount) {
		report.Issues = append(report.Issues, fmt.Sprintf("applied stored %s computed %s", req.AppliedAmount, computed))
	}
	if computed.GreaterThan(req.Amount) {
		report.Issues = append(report.Issues, fmt.Sprintf("applied %s exceeds amount %s", computed, req.Amount))
	}
	if err := models.CheckStageLogContinuity(logs); err != nil {
		report.Issues = append(report.Issues, err.Error())
	}
	if len(logs) > 0 && logs[len(logs)-1].Stage != req.Stage {
		report.Issues = append(report.Issues, fmt.Sprintf("current stage %s but latest log is %s", req.Stage, logs[len(logs)-1].Stage))
	}

	report.Consistent = len(report.Issues) == 0
	if !report.Consistent {
		return &report, models.NewLedgerError(models.ErrLedgerInconsistent, req.ID, fmt.Errorf("%d issues", len(report.Issues)))
	}
	return &report, nil
}

// ListLines returns active lines newest application first, invoice id ascending on ties.
func (l *Ledger) ListLines(env models.LedgerEnv, requestId int) ([]models.PrepaymentLedgerLine, error) {
	if _, err := l.GetRequest(env, requestId); err != nil {
		return nil, err
	}
	var lines []models.PrepaymentLedgerLine
	err := env.DB().
		Where("company_id = ? AND request_id = ?", env.CompanyId(), requestId).
		Order("application_date DESC").
		Order("invoice_id ASC").
		Order("id ASC").
		Find(&lines).Error
	return lines, err
}

// ListApplications returns the audit trail of applications and reversals, newest first.
func (l *Ledger) ListApplications(env models.LedgerEnv, requestId int) ([]models.PrepaymentApplication, error) {
	var apps []models.PrepaymentApplication
	err := env.DB().
		Where("company_id = ? AND request_id = ?", env.CompanyId(), requestId).
		Order("application_date DESC").
		Order("id DESC").
		Find(&apps).Error
	return apps, err
}

// AutoApply spends the request's availability on invoiceIds oldest invoice first.
// Invoices in another currency, final or fully paid are skipped.
func (l *Ledger) AutoApply(env models.LedgerEnv, requestId int, invoiceIds []int) (lines []models.PrepaymentLedgerLine, err error) {
	span := l.startSpan(&env, "Ledger.AutoApply", attribute.Int("request_id", requestId), attribute.Int("invoices", len(invoiceIds)))
	defer func() { endSpan(span, err) }()

	release := l.obtainBestEffortLock(env.Context(), requestLockKey(env.CompanyId(), requestId))
	defer release()

	err = l.runInTx(env, func(tx *gorm.DB) error {
		req, err := lockRequest(tx, env.CompanyId(), requestId)
		if err != nil {
			return err
		}
		invoices := make([]*models.InvoiceRecord, 0, len(invoiceIds))
		seen := make(map[int]bool, len(invoiceIds))
		for _, id := range invoiceIds {
			if seen[id] {
				continue
			}
			seen[id] = true
			inv, err := l.Invoices.FindInvoice(tx, env.CompanyId(), id)
			if err != nil {
				return err
			}
			invoices = append(invoices, inv)
		}
		sort.SliceStable(invoices, func(i, j int) bool {
			if !invoices[i].InvoiceDate.Equal(invoices[j].InvoiceDate) {
				return invoices[i].InvoiceDate.Before(invoices[j].InvoiceDate)
			}
			return invoices[i].ID < invoices[j].ID
		})

		available := req.Available()
		for _, inv := range invoices {
			if !available.IsPositive() {
				break
			}
			if inv.CurrencyCode != req.CurrencyCode || inv.Status.IsFinal() || !inv.Outstanding.IsPositive() {
				continue
			}
			amount := decimal.Min(available, inv.Outstanding)
			line, err := l.applyToInvoiceTx(tx, env, req.ID, inv.ID, amount, "auto-apply", nil)
			if err != nil {
				return err
			}
			lines = append(lines, *line)
			available = available.Sub(line.AmountApplied)
		}
		return nil
	})
	if err != nil {
		l.logFailure("AutoApply", "auto applying prepayment", requestId, err)
		return nil, err
	}
	return lines, nil
}

type PenaltyQuote struct {
	InvoiceId   int             `json:"invoice_id"`
	Strategy    string          `json:"strategy"`
	Outstanding decimal.Decimal `json:"outstanding"`
	Penalty     decimal.Decimal `json:"penalty"`
	AsOf        time.Time       `json:"as_of"`
}

// InvoicePenalty quotes the late penalty on an invoice's outstanding amount using the company strategy.
func (l *Ledger) InvoicePenalty(env models.LedgerEnv, invoiceId int, asOf time.Time) (*PenaltyQuote, error) {
	var inv *models.InvoiceRecord
	err := l.runInTx(env, func(tx *gorm.DB) error {
		var err error
		inv, err = l.Invoices.FindInvoice(tx, env.CompanyId(), invoiceId)
		return err
	})
	if err != nil {
		return nil, err
	}
	strategy := models.PenaltyStrategyFor(env.Company)
	quote := &PenaltyQuote{
		InvoiceId:   inv.ID,
		Strategy:    strategy.Name(),
		Outstanding: inv.Outstanding,
		Penalty:     decimal.Zero,
		AsOf:        asOf,
	}
	if inv.DueDate != nil {
		quote.Penalty = strategy.Penalty(inv.Outstanding, *inv.DueDate, asOf, env.Company.CurrencyDecimals)
	}
	return quote, nil
}

// ListInvoiceLines returns active lines applied to one invoice across requests, oldest first.
func (l *Ledger) ListInvoiceLines(env models.LedgerEnv, invoiceId int) ([]models.PrepaymentLedgerLine, error) {
	var lines []models.PrepaymentLedgerLine
	err := env.DB().
		Where("company_id = ? AND invoice_id = ?", env.CompanyId(), invoiceId).
		Order("application_date ASC").
		Order("id ASC").
		Find(&lines).Error
	return lines, err
}
