package reports

import (
	"bytes"
	"testing"
	"time"

	"github.com/mmdatafocus/ledger_backend/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestWriteApplicationsXLSX(t *testing.T) {
	applied := time.Date(2026, 2, 3, 10, 30, 0, 0, time.UTC)
	req := &models.PrepaymentRequest{
		ID:           42,
		Amount:       decimal.RequireFromString("1000"),
		CurrencyCode: "COP",
		Stage:        models.PrepaymentStagePartiallyApplied,
	}
	apps := []models.PrepaymentApplication{
		{ID: 1, InvoiceId: 7, LedgerLineId: 11, Amount: decimal.RequireFromString("300"), ApplicationDate: applied, ActorId: 12},
		{ID: 2, InvoiceId: 8, LedgerLineId: 12, Amount: decimal.RequireFromString("250.5"), ApplicationDate: applied, ActorId: 12},
		{ID: 3, InvoiceId: 8, LedgerLineId: 12, Amount: decimal.RequireFromString("-250.5"), ApplicationDate: applied, IsReversal: true, Notes: "reversal of line 12", ActorId: 12},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteApplicationsXLSX(&buf, req, apps))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, ApplicationsSheet, f.GetSheetName(0))

	rows, err := f.GetRows(ApplicationsSheet, excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.Equal(t, "Prepayment 42 (COP 1000.00) partially_applied", rows[0][0])
	assert.Equal(t, []string{"Application Id", "Application Date", "Invoice Id", "Ledger Line Id", "Amount", "Reversal", "Notes", "Actor Id"}, rows[1])
	assert.Equal(t, []string{"1", "2026-02-03 10:30:00", "7", "11", "300"}, rows[2][:5])
	assert.Equal(t, "reversal of line 12", rows[4][6])
	assert.Equal(t, []string{"", "", "", "Net applied", "300"}, rows[5])
}

func TestWriteApplicationsXLSXWithoutApplications(t *testing.T) {
	var buf bytes.Buffer
	req := &models.PrepaymentRequest{ID: 5, Amount: decimal.RequireFromString("10"), CurrencyCode: "USD", Stage: models.PrepaymentStageDisbursed}
	require.NoError(t, WriteApplicationsXLSX(&buf, req, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	value, err := f.GetCellValue(ApplicationsSheet, "E3", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	assert.Equal(t, "0", value)
}
