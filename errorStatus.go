package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/ledger_backend/models"
	"github.com/mmdatafocus/ledger_backend/utils"
)

var (
	notFoundKinds = []error{
		models.ErrRequestNotFound,
		models.ErrLineNotFound,
		models.ErrInvoiceNotFound,
		models.ErrPaymentNotFound,
		models.ErrExchangeRateNotFound,
		utils.ErrorRecordNotFound,
	}
	conflictKinds = []error{
		models.ErrInsufficientPrepaymentBalance,
		models.ErrPrepaymentHasActiveAllocations,
		models.ErrAlreadyReversed,
		models.ErrInvoiceAlreadyFinal,
		models.ErrStaleExchangeRate,
		models.ErrInvalidStageTransition,
		models.ErrInsufficientInvoiceBalance,
		models.ErrPeriodLocked,
		models.ErrInsufficientApprovals,
		models.ErrLedgerInconsistent,
	}
	unprocessableKinds = []error{
		models.ErrInvalidReferenceInput,
		models.ErrInvalidTaxRate,
		models.ErrInvalidAmount,
		models.ErrCurrencyMismatch,
		models.ErrInvalidCurrency,
	}
)

func matchesAny(err error, kinds []error) bool {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}

// errorStatus maps ledger error kinds to HTTP status codes.
// An aborted posting reports the status of the cause it wraps.
func errorStatus(err error) int {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.As(err, &validationErrors):
		return http.StatusBadRequest
	case matchesAny(err, notFoundKinds):
		return http.StatusNotFound
	case matchesAny(err, conflictKinds):
		return http.StatusConflict
	case matchesAny(err, unprocessableKinds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrPostingAborted):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := errorStatus(err)
	body := gin.H{"error": err.Error()}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		body["fields"] = utils.ProcessValidationErrors(err)
	}
	var le *models.LedgerError
	if errors.As(err, &le) {
		body["kind"] = le.Kind.Error()
		if le.Id != 0 {
			body["id"] = le.Id
		}
		if le.LineId != 0 {
			body["line_id"] = le.LineId
		}
	}
	if cid, ok := utils.GetCorrelationIdFromContext(c.Request.Context()); ok {
		body["correlation_id"] = cid
	}
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, body)
}
