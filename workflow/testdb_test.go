package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/mmdatafocus/ledger_backend/config"
	"github.com/mmdatafocus/ledger_backend/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testCompanyId = "company-test"

// newTestDB opens a private in-memory database with one connection, so
// concurrent transactions run one after the other like row locks would.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), config.InitConfig())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, models.MigrateTable(db))

	prev := config.GetDB()
	config.SetDB(db)
	t.Cleanup(func() {
		config.SetDB(prev)
		_ = sqlDB.Close()
	})
	return db
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// steppingClock returns a clock that advances one second per call.
func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func testEnv() models.LedgerEnv {
	return models.LedgerEnv{
		Ctx: context.Background(),
		Company: models.CompanyConfig{
			CompanyId:             testCompanyId,
			CompanyCurrency:       "COP",
			ExchangeDiffThreshold: dec("0.01"),
			RequiredApprovals:     1,
			CurrencyDecimals:      2,
		},
		ActorId:   7,
		ActorName: "Ana Torres",
		Clock:     steppingClock(time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)),
	}
}

func seedInvoice(t *testing.T, db *gorm.DB, total string, currency string, invoiceDate time.Time) *models.InvoiceRecord {
	t.Helper()
	inv := models.InvoiceRecord{
		CompanyId:    testCompanyId,
		InvoiceDate:  invoiceDate,
		Total:        dec(total),
		Outstanding:  dec(total),
		CurrencyCode: currency,
		Status:       models.InvoiceStatusOpen,
	}
	require.NoError(t, db.Create(&inv).Error)
	return &inv
}

func disbursedRequest(t *testing.T, l *Ledger, env models.LedgerEnv, amount string, currency string) *models.PrepaymentRequest {
	t.Helper()
	req, err := l.CreateRequest(env, &models.NewPrepaymentRequest{
		PartyType:    models.PartyTypeCustomer,
		PartyId:      11,
		Amount:       dec(amount),
		CurrencyCode: currency,
	})
	require.NoError(t, err)
	for _, step := range []func(models.LedgerEnv, int) (*models.PrepaymentRequest, error){l.Submit, l.Approve, l.Disburse} {
		req, err = step(env, req.ID)
		require.NoError(t, err)
	}
	require.Equal(t, models.PrepaymentStageDisbursed, req.Stage)
	return req
}

func reloadRequest(t *testing.T, db *gorm.DB, id int) models.PrepaymentRequest {
	t.Helper()
	var req models.PrepaymentRequest
	require.NoError(t, db.First(&req, id).Error)
	return req
}

func reloadInvoice(t *testing.T, db *gorm.DB, id int) models.InvoiceRecord {
	t.Helper()
	var inv models.InvoiceRecord
	require.NoError(t, db.First(&inv, id).Error)
	return inv
}

var jan1 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
