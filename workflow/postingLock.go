package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/ledger_backend/config"
	"github.com/mmdatafocus/ledger_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// lockRequest loads the request with SELECT ... FOR UPDATE. This row lock is what serializes
// concurrent applications; the redis lock below only narrows contention.
func lockRequest(tx *gorm.DB, companyId string, requestId int) (*models.PrepaymentRequest, error) {
	var req models.PrepaymentRequest
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("company_id = ? AND id = ?", companyId, requestId).
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewLedgerError(models.ErrRequestNotFound, requestId, nil)
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func lockPayment(tx *gorm.DB, companyId string, paymentId int) (*models.Payment, error) {
	var payment models.Payment
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("AllocationLines", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("company_id = ? AND id = ?", companyId, paymentId).
		First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewLedgerError(models.ErrPaymentNotFound, paymentId, nil)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// obtainBestEffortLock takes a redis lock on key and returns its release func.
// Without redis, or when the lock is busy, it returns a no-op and the DB lock decides.
func (l *Ledger) obtainBestEffortLock(ctx context.Context, key string) func() {
	locker := config.GetRedisLock()
	if locker == nil {
		return func() {}
	}
	lock, err := locker.Obtain(ctx, key, l.LockTTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 10),
	})
	if err != nil {
		msg := "error obtaining redis lock; proceeding without redis lock: " + err.Error()
		if errors.Is(err, redislock.ErrNotObtained) {
			msg = "could not obtain redis lock; proceeding without redis lock"
		}
		l.Logger.WithFields(logrus.Fields{
			"field": "obtainBestEffortLock",
			"key":   key,
		}).Warn(msg)
		return func() {}
	}
	return func() {
		if releaseErr := lock.Release(ctx); releaseErr != nil && !errors.Is(releaseErr, redislock.ErrLockNotHeld) {
			l.Logger.WithFields(logrus.Fields{
				"field": "obtainBestEffortLock",
				"key":   key,
			}).Warn("failed to release redis lock: " + releaseErr.Error())
		}
	}
}

func requestLockKey(companyId string, requestId int) string {
	return fmt.Sprintf("lock:prepayment:%s:%d", companyId, requestId)
}

func paymentLockKey(companyId string, paymentId int) string {
	return fmt.Sprintf("lock:payment:%s:%d", companyId, paymentId)
}

// PostingLocker serializes payment posting per company. Acquire and Release
// run on one dedicated connection around the whole posting transaction.
type PostingLocker interface {
	Supports(db *gorm.DB) bool
	Acquire(conn *gorm.DB, companyId string) error
	Release(conn *gorm.DB, companyId string)
}

type advisoryPostingLocker struct{}

func (advisoryPostingLocker) Supports(db *gorm.DB) bool { return supportsAdvisoryLocks(db) }

func (advisoryPostingLocker) Acquire(conn *gorm.DB, companyId string) error {
	return AcquireCompanyPostingLock(conn, companyId)
}

func (advisoryPostingLocker) Release(conn *gorm.DB, companyId string) {
	ReleaseCompanyPostingLock(conn, companyId)
}

// runPostingTx runs fn in a transaction while holding the company posting lock.
// The lock is released after commit or rollback. Under a caller-supplied
// env.Tx the caller owns the connection and no lock is taken.
func (l *Ledger) runPostingTx(env models.LedgerEnv, fn func(tx *gorm.DB) error) error {
	db := config.GetDB()
	if env.Tx != nil || l.PostingLocks == nil || db == nil || !l.PostingLocks.Supports(db) {
		return l.runInTx(env, fn)
	}
	return db.WithContext(env.Context()).Connection(func(conn *gorm.DB) error {
		conn = conn.Session(&gorm.Session{})
		if err := l.PostingLocks.Acquire(conn, env.CompanyId()); err != nil {
			return err
		}
		defer l.PostingLocks.Release(conn, env.CompanyId())
		return conn.Transaction(fn)
	})
}

// AcquireCompanyPostingLock takes the MySQL advisory lock for companyId.
// GET_LOCK is connection-scoped, so conn must be a dedicated connection.
func AcquireCompanyPostingLock(conn *gorm.DB, companyId string) error {
	lockName := fmt.Sprintf("posting:%s", companyId)
	var ok int
	if err := conn.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire posting lock for company_id=%s", companyId)
	}
	return nil
}

func ReleaseCompanyPostingLock(conn *gorm.DB, companyId string) {
	lockName := fmt.Sprintf("posting:%s", companyId)
	var released int
	_ = conn.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&released).Error
}

func supportsAdvisoryLocks(db *gorm.DB) bool {
	return db.Dialector != nil && db.Dialector.Name() == "mysql"
}
