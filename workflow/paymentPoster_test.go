package workflow

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/ledger_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var paymentDate = time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)

func draftPayment(t *testing.T, l *Ledger, env models.LedgerEnv, currency string, amount string, lines ...models.NewPaymentAllocationLine) *models.Payment {
	t.Helper()
	payment, err := l.CreatePayment(env, &models.NewPayment{
		PaymentDate:     paymentDate,
		CurrencyCode:    currency,
		Amount:          dec(amount),
		Reference:       "RC-0001",
		AllocationLines: lines,
	})
	require.NoError(t, err)
	return payment
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

func TestPostPaymentMultiLine(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(nil, nil)
	env := testEnv()

	req1 := disbursedRequest(t, l, env, "500.00", "COP")
	req2 := disbursedRequest(t, l, env, "500.00", "COP")
	inv1 := seedInvoice(t, db, "300.00", "COP", jan1)
	inv2 := seedInvoice(t, db, "500.00", "COP", jan1)

	payment := draftPayment(t, l, env, "COP", "800.00",
		models.NewPaymentAllocationLine{RequestId: req1.ID, InvoiceId: inv1.ID, Amount: dec("300.00")},
		models.NewPaymentAllocationLine{RequestId: req2.ID, InvoiceId: inv2.ID, Amount: dec("500.00")},
	)
	_, err := l.ApprovePayment(env, payment.ID)
	require.NoError(t, err)

	posted, err := l.PostPayment(env, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPosted, posted.Status)
	for _, line := range posted.AllocationLines {
		assert.NotNil(t, line.LedgerLineId)
	}

	assert.Equal(t, models.PrepaymentStagePartiallyApplied, reloadRequest(t, db, req1.ID).Stage)
	assert.Equal(t, models.PrepaymentStageFullyApplied, reloadRequest(t, db, req2.ID).Stage)

	var ledgerLines []models.PrepaymentLedgerLine
	require.NoError(t, db.Where("payment_id = ?", payment.ID).Find(&ledgerLines).Error)
	assert.Len(t, ledgerLines, 2)

	var hooks []models.LedgerOutboxRecord
	require.NoError(t, db.Where("reference_id = ? AND reference_type IN ?", payment.ID, []models.OutboxReferenceType{
		models.OutboxReferenceTypePaymentPosted, models.OutboxReferenceTypeDerivedDocument,
	}).Find(&hooks).Error)
	assert.Len(t, hooks, 2)

	_, err = l.PostPayment(env, payment.ID)
	require.ErrorIs(t, err, models.ErrPostingAborted)
	assert.ErrorIs(t, err, models.ErrInvalidStageTransition)
}

func TestPostPaymentRollsBackOnFailingLine(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(nil, nil)
	env := testEnv()

	req1 := disbursedRequest(t, l, env, "500.00", "COP")
	req2 := disbursedRequest(t, l, env, "500.00", "COP")
	inv1 := seedInvoice(t, db, "300.00", "COP", jan1)
	inv2 := seedInvoice(t, db, "900.00", "COP", jan1)

	payment := draftPayment(t, l, env, "COP", "1000.00",
		models.NewPaymentAllocationLine{RequestId: req1.ID, InvoiceId: inv1.ID, Amount: dec("300.00")},
		models.NewPaymentAllocationLine{RequestId: req2.ID, InvoiceId: inv2.ID, Amount: dec("600.00")},
	)
	_, err := l.ApprovePayment(env, payment.ID)
	require.NoError(t, err)
	outboxBefore := countRows(t, db, &models.LedgerOutboxRecord{})

	_, err = l.PostPayment(env, payment.ID)
	require.ErrorIs(t, err, models.ErrPostingAborted)
	assert.ErrorIs(t, err, models.ErrInsufficientPrepaymentBalance)
	var le *models.LedgerError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, payment.ID, le.Id)
	assert.Equal(t, payment.AllocationLines[1].ID, le.LineId)

	assert.True(t, reloadRequest(t, db, req1.ID).AppliedAmount.IsZero())
	assert.Equal(t, models.PrepaymentStageDisbursed, reloadRequest(t, db, req1.ID).Stage)
	assert.True(t, reloadInvoice(t, db, inv1.ID).Outstanding.Equal(dec("300.00")))
	assert.Zero(t, countRows(t, db, &models.PrepaymentLedgerLine{}))
	assert.Equal(t, outboxBefore, countRows(t, db, &models.LedgerOutboxRecord{}))

	var stored models.Payment
	require.NoError(t, db.Preload("AllocationLines").First(&stored, payment.ID).Error)
	assert.Equal(t, models.PaymentStatusDraft, stored.Status)
	for _, line := range stored.AllocationLines {
		assert.Nil(t, line.LedgerLineId)
	}
}

func TestPostPaymentValidation(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(nil, nil)
	env := testEnv()

	req := disbursedRequest(t, l, env, "500.00", "COP")
	inv := seedInvoice(t, db, "300.00", "COP", jan1)
	line := models.NewPaymentAllocationLine{RequestId: req.ID, InvoiceId: inv.ID, Amount: dec("100.00")}

	t.Run("approvals", func(t *testing.T) {
		payment := draftPayment(t, l, env, "COP", "100.00", line)
		_, err := l.PostPayment(env, payment.ID)
		require.ErrorIs(t, err, models.ErrPostingAborted)
		assert.ErrorIs(t, err, models.ErrInsufficientApprovals)
	})

	t.Run("lock date", func(t *testing.T) {
		payment := draftPayment(t, l, env, "COP", "100.00", line)
		_, err := l.ApprovePayment(env, payment.ID)
		require.NoError(t, err)

		locked := env
		lockDate := paymentDate
		locked.Company.LockDate = &lockDate
		_, err = l.PostPayment(locked, payment.ID)
		require.ErrorIs(t, err, models.ErrPostingAborted)
		assert.ErrorIs(t, err, models.ErrPeriodLocked)
	})

	t.Run("missing payment", func(t *testing.T) {
		_, err := l.PostPayment(env, 999)
		require.ErrorIs(t, err, models.ErrPostingAborted)
		assert.ErrorIs(t, err, models.ErrPaymentNotFound)
	})

	t.Run("internal transfer cannot allocate", func(t *testing.T) {
		payment, err := l.CreatePayment(env, &models.NewPayment{
			PaymentDate:        paymentDate,
			CurrencyCode:       "COP",
			Amount:             dec("100.00"),
			IsInternalTransfer: true,
			AllocationLines:    []models.NewPaymentAllocationLine{line},
		})
		require.NoError(t, err)
		_, err = l.ApprovePayment(env, payment.ID)
		require.NoError(t, err)
		_, err = l.PostPayment(env, payment.ID)
		require.ErrorIs(t, err, models.ErrPostingAborted)
		assert.ErrorIs(t, err, models.ErrInvalidAmount)
	})

	assert.True(t, reloadRequest(t, db, req.ID).AppliedAmount.IsZero())
}

func TestCreatePaymentRejectsOverAllocation(t *testing.T) {
	newTestDB(t)
	l := NewLedger(nil, nil)
	env := testEnv()

	_, err := l.CreatePayment(env, &models.NewPayment{
		PaymentDate:  paymentDate,
		CurrencyCode: "COP",
		Amount:       dec("100.00"),
		AllocationLines: []models.NewPaymentAllocationLine{
			{RequestId: 1, InvoiceId: 1, Amount: dec("60")},
			{RequestId: 1, InvoiceId: 2, Amount: dec("60")},
		},
	})
	assert.ErrorIs(t, err, models.ErrInvalidAmount)
}

func TestPostForeignPaymentSettlesExchangeDifference(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(nil, nil)
	env := testEnv()

	req := disbursedRequest(t, l, env, "100.00", "USD")
	inv := seedInvoice(t, db, "100.00", "USD", jan1)
	registerRate(t, db, "USD", "4000")
	latest := registerRate(t, db, "USD", "4200")

	payment, err := l.CreatePayment(env, &models.NewPayment{
		PaymentDate:     paymentDate,
		CurrencyCode:    "USD",
		Amount:          dec("100.00"),
		BookedRate:      dec("4000"),
		AllocationLines: []models.NewPaymentAllocationLine{{RequestId: req.ID, InvoiceId: inv.ID, Amount: dec("100.00")}},
	})
	require.NoError(t, err)
	_, err = l.ApprovePayment(env, payment.ID)
	require.NoError(t, err)

	posted, err := l.PostPayment(env, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, latest.Version, posted.RateVersion)

	var posting models.ExchangeDifferencePosting
	require.NoError(t, db.Where("payment_id = ?", payment.ID).First(&posting).Error)
	assert.Equal(t, latest.Version, posting.RateVersion)
	assert.True(t, posting.Difference.Equal(dec("20000")), posting.Difference.String())
	assert.True(t, posting.IsPosted)
	assert.Equal(t, models.PrepaymentStageFullyApplied, reloadRequest(t, db, req.ID).Stage)
}

func TestPostForeignPaymentConvertsIntoCompanyCurrencyRequest(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(nil, nil)
	env := testEnv()

	req := disbursedRequest(t, l, env, "1000000.00", "COP")
	inv := seedInvoice(t, db, "1000000.00", "COP", jan1)
	registerRate(t, db, "USD", "4000")

	payment, err := l.CreatePayment(env, &models.NewPayment{
		PaymentDate:     paymentDate,
		CurrencyCode:    "USD",
		Amount:          dec("100.00"),
		BookedRate:      dec("4000"),
		AllocationLines: []models.NewPaymentAllocationLine{{RequestId: req.ID, InvoiceId: inv.ID, Amount: dec("100.00")}},
	})
	require.NoError(t, err)
	_, err = l.ApprovePayment(env, payment.ID)
	require.NoError(t, err)

	_, err = l.PostPayment(env, payment.ID)
	require.NoError(t, err)

	stored := reloadRequest(t, db, req.ID)
	assert.True(t, stored.AppliedAmount.Equal(dec("400000")), stored.AppliedAmount.String())
	assert.Equal(t, models.PrepaymentStagePartiallyApplied, stored.Stage)
	assert.True(t, reloadInvoice(t, db, inv.ID).Outstanding.Equal(dec("600000")))

	var line models.PrepaymentLedgerLine
	require.NoError(t, db.Where("payment_id = ?", payment.ID).First(&line).Error)
	assert.Equal(t, "COP", line.CurrencyCode)
}

func TestPostPaymentRejectsRequestInOtherCurrency(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(nil, nil)
	env := testEnv()
	registerRate(t, db, "EUR", "4500")

	req := disbursedRequest(t, l, env, "100.00", "USD")
	inv := seedInvoice(t, db, "100.00", "USD", jan1)

	for _, currency := range []string{"COP", "EUR"} {
		t.Run(currency, func(t *testing.T) {
			payment, err := l.CreatePayment(env, &models.NewPayment{
				PaymentDate:     paymentDate,
				CurrencyCode:    currency,
				Amount:          dec("100.00"),
				BookedRate:      dec("4500"),
				AllocationLines: []models.NewPaymentAllocationLine{{RequestId: req.ID, InvoiceId: inv.ID, Amount: dec("100.00")}},
			})
			require.NoError(t, err)
			_, err = l.ApprovePayment(env, payment.ID)
			require.NoError(t, err)

			_, err = l.PostPayment(env, payment.ID)
			require.ErrorIs(t, err, models.ErrPostingAborted)
			assert.ErrorIs(t, err, models.ErrCurrencyMismatch)
			var le *models.LedgerError
			require.True(t, errors.As(err, &le))
			assert.Equal(t, payment.AllocationLines[0].ID, le.LineId)
		})
	}

	assert.True(t, reloadRequest(t, db, req.ID).AppliedAmount.IsZero())
	assert.True(t, reloadInvoice(t, db, inv.ID).Outstanding.Equal(dec("100.00")))
	assert.Zero(t, countRows(t, db, &models.PrepaymentLedgerLine{}))
	assert.Zero(t, countRows(t, db, &models.ExchangeDifferencePosting{}))
}

type recordingPostingLocker struct {
	t          *testing.T
	paymentId  int
	acquireErr error
	acquired   int
	released   int
	// payment status seen through the lock connection at release
	statusAtRelease models.PaymentStatus
}

func (r *recordingPostingLocker) Supports(*gorm.DB) bool { return true }

func (r *recordingPostingLocker) Acquire(conn *gorm.DB, companyId string) error {
	_, inTx := conn.Statement.ConnPool.(*sql.Tx)
	assert.False(r.t, inTx, "lock must be taken outside the posting transaction")
	assert.Equal(r.t, testCompanyId, companyId)
	r.acquired++
	return r.acquireErr
}

func (r *recordingPostingLocker) Release(conn *gorm.DB, companyId string) {
	_, inTx := conn.Statement.ConnPool.(*sql.Tx)
	assert.False(r.t, inTx, "lock must be released after the posting transaction ends")
	var payment models.Payment
	require.NoError(r.t, conn.First(&payment, r.paymentId).Error)
	r.statusAtRelease = payment.Status
	r.released++
}

func TestPostPaymentHoldsCompanyLockUntilCommit(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(nil, nil)
	env := testEnv()

	req := disbursedRequest(t, l, env, "500.00", "COP")
	inv := seedInvoice(t, db, "300.00", "COP", jan1)
	line := models.NewPaymentAllocationLine{RequestId: req.ID, InvoiceId: inv.ID, Amount: dec("300.00")}

	t.Run("released after commit", func(t *testing.T) {
		payment := draftPayment(t, l, env, "COP", "300.00", line)
		_, err := l.ApprovePayment(env, payment.ID)
		require.NoError(t, err)

		locker := &recordingPostingLocker{t: t, paymentId: payment.ID}
		l.PostingLocks = locker
		_, err = l.PostPayment(env, payment.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, locker.acquired)
		assert.Equal(t, 1, locker.released)
		assert.Equal(t, models.PaymentStatusPosted, locker.statusAtRelease)
	})

	t.Run("released after rollback", func(t *testing.T) {
		payment := draftPayment(t, l, env, "COP", "300.00", line)
		_, err := l.ApprovePayment(env, payment.ID)
		require.NoError(t, err)

		locker := &recordingPostingLocker{t: t, paymentId: payment.ID}
		l.PostingLocks = locker
		_, err = l.PostPayment(env, payment.ID)
		require.ErrorIs(t, err, models.ErrPostingAborted)
		assert.Equal(t, 1, locker.released)
		assert.Equal(t, models.PaymentStatusDraft, locker.statusAtRelease)
	})

	t.Run("lock not obtained", func(t *testing.T) {
		payment := draftPayment(t, l, env, "COP", "300.00", line)
		locker := &recordingPostingLocker{t: t, paymentId: payment.ID, acquireErr: errors.New("lock wait timeout")}
		l.PostingLocks = locker
		_, err := l.PostPayment(env, payment.ID)
		require.ErrorIs(t, err, models.ErrPostingAborted)
		assert.Zero(t, locker.released)
	})
}
