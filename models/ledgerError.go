package models

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is against a *LedgerError or any error wrapping one.
var (
	ErrInvalidReferenceInput          = errors.New("invalid reference input")
	ErrInvalidTaxRate                 = errors.New("invalid tax rate")
	ErrPrepaymentHasActiveAllocations = errors.New("prepayment has active allocations")
	ErrInsufficientPrepaymentBalance  = errors.New("insufficient prepayment balance")
	ErrLineNotFound                   = errors.New("ledger line not found")
	ErrAlreadyReversed                = errors.New("ledger line already reversed")
	ErrInvoiceAlreadyFinal            = errors.New("invoice already final")
	ErrStaleExchangeRate              = errors.New("stale exchange rate")
	ErrPostingAborted                 = errors.New("posting aborted")

	ErrInvalidStageTransition     = errors.New("invalid stage transition")
	ErrInvalidAmount              = errors.New("invalid amount")
	ErrCurrencyMismatch           = errors.New("currency mismatch")
	ErrInvalidCurrency            = errors.New("invalid currency")
	ErrInsufficientInvoiceBalance = errors.New("insufficient invoice balance")
	ErrRequestNotFound            = errors.New("prepayment request not found")
	ErrInvoiceNotFound            = errors.New("invoice not found")
	ErrPaymentNotFound            = errors.New("payment not found")
	ErrExchangeRateNotFound       = errors.New("exchange rate not found")
	ErrPeriodLocked               = errors.New("transaction period locked")
	ErrInsufficientApprovals      = errors.New("insufficient approvals")
	ErrLedgerInconsistent         = errors.New("ledger inconsistent")
)

// LedgerError carries the failing identifier alongside its kind.
type LedgerError struct {
	Kind error
	// Id of the request, line, payment or invoice that failed; 0 for pure inputs.
	Id int
	// LineId names the first failing allocation line of a payment post.
	LineId int
	Err    error
}

func NewLedgerError(kind error, id int, err error) *LedgerError {
	return &LedgerError{Kind: kind, Id: id, Err: err}
}

func (e *LedgerError) Error() string {
	msg := e.Kind.Error()
	if e.Id != 0 {
		msg = fmt.Sprintf("%s (id=%d)", msg, e.Id)
	}
	if e.LineId != 0 {
		msg = fmt.Sprintf("%s (line=%d)", msg, e.LineId)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *LedgerError) Is(target error) bool {
	return e.Kind == target
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the outermost LedgerError in err's chain, or nil.
func KindOf(err error) error {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Kind
	}
	return nil
}
