package workflow

import (
	"errors"
	"fmt"

	"github.com/mmdatafocus/ledger_backend/models"
	"github.com/mmdatafocus/ledger_backend/utils"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// CreateRequest stores a draft request and opens its first stage log.
func (l *Ledger) CreateRequest(env models.LedgerEnv, input *models.NewPrepaymentRequest) (result *models.PrepaymentRequest, err error) {
	span := l.startSpan(&env, "Ledger.CreateRequest")
	defer func() { endSpan(span, err) }()

	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if !input.PartyType.IsValid() {
		return nil, fmt.Errorf("invalid party type %q", input.PartyType)
	}

	now := env.Now()
	req := models.PrepaymentRequest{
		CompanyId:    env.CompanyId(),
		PartyType:    input.PartyType,
		PartyId:      input.PartyId,
		Amount:       utils.RoundMoney(input.Amount, env.Company.CurrencyDecimals),
		CurrencyCode: input.CurrencyCode,
		Stage:        models.PrepaymentStageDraft,
		Notes:        input.Notes,
		CreatedAt:    now,
	}

	err = l.runInTx(env, func(tx *gorm.DB) error {
		if err := tx.Create(&req).Error; err != nil {
			return err
		}
		return tx.Create(&models.PrepaymentStageLog{
			CompanyId: req.CompanyId,
			RequestId: req.ID,
			Stage:     req.Stage,
			EnteredAt: now,
			ActorId:   env.ActorId,
			ActorName: env.ActorName,
		}).Error
	})
	if err != nil {
		l.logFailure("CreateRequest", "creating request", input, err)
		return nil, err
	}
	return &req, nil
}

func (l *Ledger) Submit(env models.LedgerEnv, requestId int) (*models.PrepaymentRequest, error) {
	return l.fireEvent(env, requestId, models.StageEventSubmit, func(req *models.PrepaymentRequest) error {
		if req.Stage != models.PrepaymentStageDraft {
			return nil
		}
		return req.ValidateForSubmit()
	})
}

func (l *Ledger) Approve(env models.LedgerEnv, requestId int) (*models.PrepaymentRequest, error) {
	return l.fireEvent(env, requestId, models.StageEventApprove, nil)
}

func (l *Ledger) Disburse(env models.LedgerEnv, requestId int) (*models.PrepaymentRequest, error) {
	return l.fireEvent(env, requestId, models.StageEventDisburse, nil)
}

func (l *Ledger) Close(env models.LedgerEnv, requestId int) (*models.PrepaymentRequest, error) {
	return l.fireEvent(env, requestId, models.StageEventClose, nil)
}

// Cancel is rejected while any active ledger line references the request.
func (l *Ledger) Cancel(env models.LedgerEnv, requestId int) (*models.PrepaymentRequest, error) {
	return l.fireEvent(env, requestId, models.StageEventCancel, nil, func(tx *gorm.DB, req *models.PrepaymentRequest) error {
		active, err := countActiveLines(tx, req.ID)
		if err != nil {
			return err
		}
		if active > 0 {
			return models.NewLedgerError(models.ErrPrepaymentHasActiveAllocations, req.ID, fmt.Errorf("%d active ledger lines", active))
		}
		return nil
	})
}

// fireEvent locks the request, runs the checks and moves the stage in one transaction.
func (l *Ledger) fireEvent(env models.LedgerEnv, requestId int, event models.StageEvent, check func(*models.PrepaymentRequest) error, txChecks ...func(*gorm.DB, *models.PrepaymentRequest) error) (result *models.PrepaymentRequest, err error) {
	span := l.startSpan(&env, "Ledger."+string(event),
		attribute.Int("request_id", requestId),
		attribute.String("event", string(event)))
	defer func() { endSpan(span, err) }()

	release := l.obtainBestEffortLock(env.Context(), requestLockKey(env.CompanyId(), requestId))
	defer release()

	var req *models.PrepaymentRequest
	err = l.runInTx(env, func(tx *gorm.DB) error {
		var err error
		req, err = lockRequest(tx, env.CompanyId(), requestId)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(req); err != nil {
				return err
			}
		}
		for _, c := range txChecks {
			if err := c(tx, req); err != nil {
				return err
			}
		}
		_, err = l.moveStage(tx, env, req, event)
		return err
	})
	if err != nil {
		l.logFailure("fireEvent", string(event), requestId, err)
		return nil, err
	}
	return req, nil
}

// Archive hides a request in a terminal stage from default listings.
func (l *Ledger) Archive(env models.LedgerEnv, requestId int) (*models.PrepaymentRequest, error) {
	var req *models.PrepaymentRequest
	err := l.runInTx(env, func(tx *gorm.DB) error {
		var err error
		req, err = lockRequest(tx, env.CompanyId(), requestId)
		if err != nil {
			return err
		}
		if !req.Stage.IsTerminal() {
			return models.NewLedgerError(models.ErrInvalidStageTransition, req.ID, fmt.Errorf("cannot archive from %s", req.Stage))
		}
		req.IsArchived = true
		return tx.Model(&models.PrepaymentRequest{}).Where("id = ?", req.ID).Update("is_archived", true).Error
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (l *Ledger) GetRequest(env models.LedgerEnv, requestId int) (*models.PrepaymentRequest, error) {
	var req models.PrepaymentRequest
	err := env.DB().Where("company_id = ? AND id = ?", env.CompanyId(), requestId).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewLedgerError(models.ErrRequestNotFound, requestId, nil)
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// StageHistory returns the request's stage logs oldest first.
func (l *Ledger) StageHistory(env models.LedgerEnv, requestId int) ([]models.PrepaymentStageLog, error) {
	if _, err := l.GetRequest(env, requestId); err != nil {
		return nil, err
	}
	var logs []models.PrepaymentStageLog
	err := env.DB().Where("company_id = ? AND request_id = ?", env.CompanyId(), requestId).Order("id ASC").Find(&logs).Error
	return logs, err
}

func countActiveLines(tx *gorm.DB, requestId int) (int64, error) {
	var count int64
	err := tx.Model(&models.PrepaymentLedgerLine{}).Where("request_id = ?", requestId).Count(&count).Error
	return count, err
}
