package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterExchangeRateIncrementsVersionPerPair(t *testing.T) {
	db := newTestDB(t)

	first, err := RegisterExchangeRate(db, testCompanyId, NewExchangeRate{FromCurrency: "usd", ToCurrency: "cop", Rate: dec("4000")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Version)
	assert.Equal(t, "USD", first.FromCurrency)

	second, err := RegisterExchangeRate(db, testCompanyId, NewExchangeRate{FromCurrency: "USD", ToCurrency: "COP", Rate: dec("4100")})
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Version)

	other, err := RegisterExchangeRate(db, testCompanyId, NewExchangeRate{FromCurrency: "EUR", ToCurrency: "COP", Rate: dec("4400")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), other.Version)

	latest, err := LatestExchangeRate(db, testCompanyId, "USD", "COP")
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest.Version)
	assert.True(t, latest.Rate.Equal(dec("4100")))

	v1, err := ExchangeRateByVersion(db, testCompanyId, "USD", "COP", 1)
	require.NoError(t, err)
	assert.True(t, v1.Rate.Equal(dec("4000")))

	_, err = ExchangeRateByVersion(db, testCompanyId, "USD", "COP", 9)
	assert.True(t, errors.Is(err, ErrExchangeRateNotFound))

	_, err = LatestExchangeRate(db, testCompanyId, "GBP", "COP")
	assert.True(t, errors.Is(err, ErrExchangeRateNotFound))
}

func TestGetLatestExchangeRateWithoutRedis(t *testing.T) {
	db := newTestDB(t)
	_, err := RegisterExchangeRate(db, testCompanyId, NewExchangeRate{FromCurrency: "USD", ToCurrency: "COP", Rate: dec("3900.5")})
	require.NoError(t, err)

	rate, err := GetLatestExchangeRate(companyContext(), testCompanyId, "USD", "COP")
	require.NoError(t, err)
	assert.True(t, rate.Rate.Equal(dec("3900.5")))
}

func TestEnqueueOutboxAndStatus(t *testing.T) {
	db := newTestDB(t)
	rec, err := EnqueueOutbox(db.WithContext(companyContext()), testCompanyId, OutboxReferenceTypeApplied, 41, OutboxActionCreate, db.NowFunc(), map[string]int{"line_id": 41})
	require.NoError(t, err)
	assert.Equal(t, OutboxPublishStatusPending, rec.PublishStatus)

	status, err := GetOutboxStatus(companyContext(), OutboxReferenceTypeApplied, 41)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, status.RecordId)
	assert.Equal(t, OutboxPublishStatusPending, status.PublishStatus)

	msg := ConvertToPubSubMessage(*rec)
	assert.Equal(t, testCompanyId, msg.CompanyId)
	assert.JSONEq(t, `{"line_id":41}`, string(msg.Payload))

	assert.Error(t, ReplayOutboxRecord(companyContext(), testCompanyId, rec.ID), "pending records are not replayable")
}
