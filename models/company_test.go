package models

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateLockDate(t *testing.T) {
	lock := time.Date(2026, 3, 31, 15, 0, 0, 0, time.UTC)
	cfg := CompanyConfig{LockDate: &lock}

	assert.NoError(t, cfg.ValidateLockDate(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)))

	err := cfg.ValidateLockDate(time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPeriodLocked))

	assert.NoError(t, CompanyConfig{}.ValidateLockDate(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestPenaltyStrategies(t *testing.T) {
	due := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	late := due.AddDate(0, 0, 10)

	none := PenaltyStrategyFor(CompanyConfig{})
	assert.Equal(t, "none", none.Name())
	assert.True(t, none.Penalty(dec("1000"), due, late, 2).IsZero())

	flat := PenaltyStrategyFor(CompanyConfig{PenaltyPercent: dec("2.5")})
	assert.Equal(t, "flat_percent", flat.Name())
	assert.True(t, flat.Penalty(dec("1000"), due, late, 2).Equal(dec("25")))
	assert.True(t, flat.Penalty(dec("1000"), due, due, 2).IsZero(), "not late yet")
	assert.True(t, flat.Penalty(dec("0"), due, late, 2).IsZero())
}

func TestAdvanceAccountFor(t *testing.T) {
	cfg := CompanyConfig{CustomerAdvanceAccountId: 11, SupplierAdvanceAccountId: 22}
	assert.Equal(t, 11, cfg.AdvanceAccountFor(PartyTypeCustomer))
	assert.Equal(t, 22, cfg.AdvanceAccountFor(PartyTypeSupplier))
	assert.Equal(t, 22, cfg.AdvanceAccountFor(PartyTypeEmployee))
	assert.Equal(t, 0, cfg.AdvanceAccountFor(PartyTypeOther))
}

func TestNewLedgerEnvFromContext(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&CompanyConfig{CompanyId: testCompanyId, CompanyCurrency: "COP", RequiredApprovals: 2, CurrencyDecimals: 2}).Error)

	env, err := NewLedgerEnvFromContext(companyContext())
	require.NoError(t, err)
	assert.Equal(t, "COP", env.Company.CompanyCurrency)
	assert.Equal(t, 2, env.Company.RequiredApprovals)
	assert.Equal(t, testCompanyId, env.CompanyId())

	_, err = NewLedgerEnvFromContext(context.Background())
	assert.Error(t, err)
}

func TestPaymentAllocationRules(t *testing.T) {
	p := Payment{ID: 1, Amount: dec("100"), AllocationLines: []PaymentAllocationLine{{ID: 1, Amount: dec("60")}, {ID: 2, Amount: dec("40")}}}
	assert.NoError(t, p.ValidateAllocations())
	assert.True(t, p.UsesMultiLinePath())

	p.IsInternalTransfer = true
	assert.False(t, p.UsesMultiLinePath())

	over := Payment{ID: 2, Amount: dec("50"), AllocationLines: []PaymentAllocationLine{{ID: 3, Amount: dec("60")}}}
	assert.True(t, errors.Is(over.ValidateAllocations(), ErrInvalidAmount))
	assert.False(t, over.UsesMultiLinePath())

	zero := Payment{ID: 3, Amount: dec("50"), AllocationLines: []PaymentAllocationLine{{ID: 4, Amount: dec("0")}}}
	err := zero.ValidateAllocations()
	var le *LedgerError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, 4, le.LineId)

	assert.True(t, Payment{Amount: dec("10"), BookedRate: dec("4000")}.BookedCompanyAmount(2).Equal(dec("40000")))
}
