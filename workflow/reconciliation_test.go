package workflow

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/ledger_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyScenarioThousandCOP(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(nil, nil)
	env := testEnv()

	req := disbursedRequest(t, l, env, "1000.00", "COP")
	invA := seedInvoice(t, db, "600.00", "COP", jan1)
	invB := seedInvoice(t, db, "900.00", "COP", jan1)

	line, err := l.ApplyToInvoice(env, req.ID, invA.ID, dec("400.00"), "first")
	require.NoError(t, err)
	assert.True(t, line.Balance.Equal(dec("200.00")), line.Balance.String())
	stored := reloadRequest(t, db, req.ID)
	assert.Equal(t, models.PrepaymentStagePartiallyApplied, stored.Stage)
	assert.True(t, stored.Available().Equal(dec("600.00")))
	assert.True(t, reloadInvoice(t, db, invA.ID).Outstanding.Equal(dec("200.00")))

	_, err = l.ApplyToInvoice(env, req.ID, invB.ID, dec("700.00"), "")
	require.ErrorIs(t, err, models.ErrInsufficientPrepaymentBalance)
	assert.True(t, reloadRequest(t, db, req.ID).AppliedAmount.Equal(dec("400.00")))

	_, err = l.ApplyToInvoice(env, req.ID, invB.ID, dec("600.00"), "")
	require.NoError(t, err)
	stored = reloadRequest(t, db, req.ID)
	assert.Equal(t, models.PrepaymentStageFullyApplied, stored.Stage)
	assert.True(t, stored.Available().IsZero())

	_, err = l.ApplyToInvoice(env, req.ID, invB.ID, dec("1.00"), "")
	assert.ErrorIs(t, err, models.ErrInsufficientPrepaymentBalance)
}

func TestApplyValidatesBeforeMutation(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(nil, nil)
	env := testEnv()

	req := disbursedRequest(t, l, env, "1000.00", "COP")
	usd := seedInvoice(t, db, "100.00", "USD", jan1)
	small := seedInvoice(t, db, "50.00", "COP", jan1)
	final := seedInvoice(t, db, "500.00", "COP", jan1)
	require.NoError(t, db.Model(final).Update("status", models.InvoiceStatusFinal).Error)

	cases := []struct {
		name      string
		invoiceId int
		amount    string
		kind      error
	}{
		{"zero amount", small.ID, "0", models.ErrInvalidAmount},
		{"negative amount", small.ID, "-5", models.ErrInvalidAmount},
		{"currency mismatch", usd.ID, "10", models.ErrCurrencyMismatch},
		{"final invoice", final.ID, "10", models.ErrInvoiceAlreadyFinal},
		{"above outstanding", small.ID, "50.01", models.ErrInsufficientInvoiceBalance},
		{"missing invoice", 999, "10", models.ErrInvoiceNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := l.ApplyToInvoice(env, req.ID, tc.invoiceId, dec(tc.amount), "")
			assert.ErrorIs(t, err, tc.kind)
		})
	}

	var lines int64
	require.NoError(t, db.Model(&models.PrepaymentLedgerLine{}).Count(&lines).Error)
	assert.Zero(t, lines)
	stored := reloadRequest(t, db, req.ID)
	assert.True(t, stored.AppliedAmount.IsZero())
	assert.Equal(t, models.PrepaymentStageDisbursed, stored.Stage)
}

func TestApplyRejectedBeforeDisbursement(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(nil, nil)
	env := testEnv()

	req, err := l.CreateRequest(env, &models.NewPrepaymentRequest{PartyType: models.PartyTypeCustomer, Amount: dec("100"), CurrencyCode: "COP"})
	require.NoError(t, err)
	inv := seedInvoice(t, db, "100.00", "COP", jan1)

	_, err = l.ApplyToInvoice(env, req.ID, inv.ID, dec("10"), "")
	assert.ErrorIs(t, err, models.ErrInvalidStageTransition)
}

func TestConcurrentApplicationsNeverOverdraw(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(nil, nil)
	env := testEnv()
	env.Clock = nil

	req := disbursedRequest(t, l, env, "500.00", "COP")
	invoices := []*models.InvoiceRecord{
		seedInvoice(t, db, "400.00", "COP", jan1),
		seedInvoice(t, db, "400.00", "COP", jan1),
	}

	var wg sync.WaitGroup
	errs := make([]error, len(invoices))
	for i, inv := range invoices {
		wg.Add(1)
		go func(i int, invoiceId int) {
			defer wg.Done()
			_, errs[i] = l.ApplyToInvoice(env, req.ID, invoiceId, dec("400.00"), "")
		}(i, inv.ID)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, models.ErrInsufficientPrepaymentBalance)
	}
	assert.Equal(t, 1, succeeded)

	stored := reloadRequest(t, db, req.ID)
	assert.True(t, stored.Available().Equal(dec("100.00")), stored.Available().String())
	report, err := l.RecomputeBalances(env, req.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
}

func TestApplyThenReverseRestoresBalances(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(nil, nil)
	env := testEnv()

	req := disbursedRequest(t, l, env, "1000.00", "COP")
	inv := seedInvoice(t, db, "600.00", "COP", jan1)
	before := reloadRequest(t, db, req.ID).Available()

	line, err := l.ApplyToInvoice(env, req.ID, inv.ID, dec("400.00"), "")
	require.NoError(t, err)
	require.NoError(t, l.ReverseLine(env, line.ID, false))

	stored := reloadRequest(t, db, req.ID)
	assert.True(t, stored.Available().Equal(before))
	assert.Equal(t, models.PrepaymentStageDisbursed, stored.Stage)
	assert.True(t, reloadInvoice(t, db, inv.ID).Outstanding.Equal(dec("600.00")))

	var reversed models.PrepaymentLedgerLine
	require.NoError(t, db.Unscoped().First(&reversed, line.ID).Error)
	assert.True(t, reversed.DeletedAt.Valid)
	require.NotNil(t, reversed.ReversedById)
	assert.Equal(t, env.ActorId, *reversed.ReversedById)

	apps, err := l.ListApplications(env, req.ID)
	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.True(t, apps[0].IsReversal)
	assert.True(t, apps[0].Amount.Equal(dec("-400.00")))
	assert.False(t, apps[1].IsReversal)

	lines, err := l.ListLines(env, req.ID)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestReversePartialKeepsPartiallyApplied(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(nil, nil)
	env := testEnv()

	req := disbursedRequest(t, l, env, "1000.00", "COP")
	invA := seedInvoice(t, db, "600.00", "COP", jan1)
	invB := seedInvoice(t, db, "400.00", "COP", jan1)
	lineA, err := l.ApplyToInvoice(env, req.ID, invA.ID, dec("600.00"), "")
	require.NoError(t, err)
	_, err = l.ApplyToInvoice(env, req.ID, invB.ID, dec("400.00"), "")
	require.NoError(t, err)
	require.Equal(t, models.PrepaymentStageFullyApplied, reloadRequest(t, db, req.ID).Stage)

	require.NoError(t, l.ReverseLine(env, lineA.ID, false))
	stored := reloadRequest(t, db, req.ID)
	assert.Equal(t, models.PrepaymentStagePartiallyApplied, stored.Stage)
	assert.True(t, stored.Available().Equal(dec("600.00")))
}

func TestReverseLineErrors(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(nil, nil)
	env := testEnv()

	req := disbursedRequest(t, l, env, "1000.00", "COP")
	inv := seedInvoice(t, db, "600.00", "COP", jan1)
	line, err := l.ApplyToInvoice(env, req.ID, inv.ID, dec("300.00"), "")
	require.NoError(t, err)

	err = l.ReverseLine(env, 4242, false)
	require.ErrorIs(t, err, models.ErrLineNotFound)
	var le *models.LedgerError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, 4242, le.Id)

	require.NoError(t, db.Model(&models.InvoiceRecord{}).Where("id = ?", inv.ID).Update("status", models.InvoiceStatusPosted).Error)
	err = l.ReverseLine(env, line.ID, false)
	require.ErrorIs(t, err, models.ErrInvoiceAlreadyFinal)
	assert.True(t, reloadRequest(t, db, req.ID).AppliedAmount.Equal(dec("300.00")))

	require.NoError(t, l.ReverseLine(env, line.ID, true))
	err = l.ReverseLine(env, line.ID, true)
	assert.ErrorIs(t, err, models.ErrAlreadyReversed)
}

func TestRecomputeBalancesReportsWithoutRepair(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(nil, nil)
	env := testEnv()

	req := disbursedRequest(t, l, env, "1000.00", "COP")
	inv := seedInvoice(t, db, "600.00", "COP", jan1)
	line, err := l.ApplyToInvoice(env, req.ID, inv.ID, dec("400.00"), "")
	require.NoError(t, err)

	report, err := l.RecomputeBalances(env, req.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.True(t, report.ComputedApplied.Equal(dec("400.00")))
	require.Len(t, report.Lines, 1)
	assert.True(t, report.Lines[0].Consistent)

	require.NoError(t, db.Exec("UPDATE prepayment_requests SET applied_amount = ? WHERE id = ?", "123", req.ID).Error)
	require.NoError(t, db.Exec("UPDATE prepayment_ledger_lines SET balance = ? WHERE id = ?", "1", line.ID).Error)

	report, err = l.RecomputeBalances(env, req.ID)
	require.ErrorIs(t, err, models.ErrLedgerInconsistent)
	require.NotNil(t, report)
	assert.False(t, report.Consistent)
	assert.Len(t, report.Issues, 2)
	assert.False(t, report.Lines[0].Consistent)
	assert.True(t, reloadRequest(t, db, req.ID).AppliedAmount.Equal(dec("123")))

	_, err = l.RecomputeBalances(env, 777)
	assert.ErrorIs(t, err, models.ErrRequestNotFound)
}

func TestListLinesOrdersByDateThenInvoice(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(nil, nil)
	env := testEnv()

	req := disbursedRequest(t, l, env, "1000.00", "COP")
	invA := seedInvoice(t, db, "100.00", "COP", jan1)
	invB := seedInvoice(t, db, "100.00", "COP", jan1)
	invC := seedInvoice(t, db, "100.00", "COP", jan1)

	sameDay := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	fixed := env
	fixed.Clock = func() time.Time { return sameDay }
	_, err := l.ApplyToInvoice(fixed, req.ID, invB.ID, dec("10"), "")
	require.NoError(t, err)
	_, err = l.ApplyToInvoice(fixed, req.ID, invA.ID, dec("10"), "")
	require.NoError(t, err)

	later := env
	later.Clock = func() time.Time { return sameDay.Add(24 * time.Hour) }
	_, err = l.ApplyToInvoice(later, req.ID, invC.ID, dec("10"), "")
	require.NoError(t, err)

	lines, err := l.ListLines(env, req.ID)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, []int{invC.ID, invA.ID, invB.ID}, []int{lines[0].InvoiceId, lines[1].InvoiceId, lines[2].InvoiceId})

	_, err = l.ListLines(env, 999)
	assert.ErrorIs(t, err, models.ErrRequestNotFound)
}

func TestAutoApplyOldestInvoiceFirst(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(nil, nil)
	env := testEnv()

	req := disbursedRequest(t, l, env, "700.00", "COP")
	march := seedInvoice(t, db, "300.00", "COP", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	janFirst := seedInvoice(t, db, "300.00", "COP", jan1)
	janSecond := seedInvoice(t, db, "300.00", "COP", jan1)
	usd := seedInvoice(t, db, "300.00", "USD", jan1)

	lines, err := l.AutoApply(env, req.ID, []int{march.ID, janSecond.ID, usd.ID, janFirst.ID})
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, janFirst.ID, lines[0].InvoiceId)
	assert.Equal(t, janSecond.ID, lines[1].InvoiceId)
	assert.Equal(t, march.ID, lines[2].InvoiceId)
	assert.True(t, lines[2].AmountApplied.Equal(dec("100.00")))

	stored := reloadRequest(t, db, req.ID)
	assert.Equal(t, models.PrepaymentStageFullyApplied, stored.Stage)
	assert.True(t, reloadInvoice(t, db, usd.ID).Outstanding.Equal(dec("300.00")))
}

func TestInvoicePenaltyUsesCompanyStrategy(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(nil, nil)
	env := testEnv()

	inv := seedInvoice(t, db, "1000.00", "COP", jan1)
	due := jan1.AddDate(0, 0, 30)
	require.NoError(t, db.Model(&models.InvoiceRecord{}).Where("id = ?", inv.ID).Update("due_date", due).Error)

	quote, err := l.InvoicePenalty(env, inv.ID, due.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, "none", quote.Strategy)
	assert.True(t, quote.Penalty.IsZero())

	env.Company.PenaltyPercent = dec("1.5")
	quote, err = l.InvoicePenalty(env, inv.ID, due.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, "flat_percent", quote.Strategy)
	assert.True(t, quote.Penalty.Equal(dec("15.00")), quote.Penalty.String())
}
