package workflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/ledger_backend/config"
	"github.com/mmdatafocus/ledger_backend/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("ledger-backend/workflow")

// Ledger runs the prepayment lifecycle, reconciliation, exchange-difference and payment posting operations.
// Every operation takes an explicit LedgerEnv and runs in one transaction.
type Ledger struct {
	Invoices     models.InvoiceSource
	Logger       *logrus.Logger
	LockTTL      time.Duration
	PostingLocks PostingLocker
}

func NewLedger(invoices models.InvoiceSource, logger *logrus.Logger) *Ledger {
	if invoices == nil {
		invoices = models.GormInvoiceSource{}
	}
	if logger == nil {
		logger = config.GetLogger()
	}
	return &Ledger{
		Invoices:     invoices,
		Logger:       logger,
		LockTTL:      config.GetLedgerConfig().LockTTL,
		PostingLocks: advisoryPostingLocker{},
	}
}

// runInTx joins env.Tx through a savepoint when set, otherwise opens a new transaction.
func (l *Ledger) runInTx(env models.LedgerEnv, fn func(tx *gorm.DB) error) error {
	if env.Tx != nil {
		return env.Tx.Transaction(fn)
	}
	db := config.GetDB()
	if db == nil {
		return errors.New("db is nil")
	}
	return db.WithContext(env.Context()).Transaction(fn)
}

func (l *Ledger) startSpan(env *models.LedgerEnv, name string, attrs ...attribute.KeyValue) trace.Span {
	attrs = append(attrs, attribute.String("company_id", env.CompanyId()))
	ctx, span := tracer.Start(env.Context(), name, trace.WithAttributes(attrs...))
	env.Ctx = ctx
	return span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (l *Ledger) logFailure(funcName string, context string, data any, err error) {
	config.LogError(l.Logger, "workflow", funcName, context, data, err)
}

type stageChangedPayload struct {
	RequestId int                    `json:"request_id"`
	From      models.PrepaymentStage `json:"from"`
	To        models.PrepaymentStage `json:"to"`
	Event     models.StageEvent      `json:"event"`
	ActorId   int                    `json:"actor_id"`
	ActorName string                 `json:"actor_name"`
}

// moveStage applies event to req and performs the effects the transition table returns.
func (l *Ledger) moveStage(tx *gorm.DB, env models.LedgerEnv, req *models.PrepaymentRequest, event models.StageEvent) (models.StageTransition, error) {
	tr, err := models.Transition(req.Stage, event)
	if err != nil {
		return tr, models.NewLedgerError(models.ErrInvalidStageTransition, req.ID, fmt.Errorf("cannot %s from %s", event, req.Stage))
	}
	if !tr.Changed() {
		return tr, nil
	}
	now := env.Now()

	if tr.Has(models.StageEffectCloseLog) {
		var open models.PrepaymentStageLog
		err := tx.Where("request_id = ? AND exited_at IS NULL", req.ID).Order("id DESC").First(&open).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return tr, err
		}
		if err == nil {
			if now.Before(open.EnteredAt) {
				now = open.EnteredAt
			}
			open.Close(now)
			if err := tx.Model(&open).Updates(map[string]interface{}{
				"exited_at":        open.ExitedAt,
				"duration_seconds": open.DurationSeconds,
			}).Error; err != nil {
				return tr, err
			}
		}
	}
	if tr.Has(models.StageEffectOpenLog) {
		if err := tx.Create(&models.PrepaymentStageLog{
			CompanyId: req.CompanyId,
			RequestId: req.ID,
			Stage:     tr.To,
			EnteredAt: now,
			ActorId:   env.ActorId,
			ActorName: env.ActorName,
		}).Error; err != nil {
			return tr, err
		}
	}

	if err := tx.Model(&models.PrepaymentRequest{}).Where("id = ?", req.ID).Update("stage", tr.To).Error; err != nil {
		return tr, err
	}
	req.Stage = tr.To

	if tr.Has(models.StageEffectNotify) {
		payload := stageChangedPayload{
			RequestId: req.ID,
			From:      tr.From,
			To:        tr.To,
			Event:     event,
			ActorId:   env.ActorId,
			ActorName: env.ActorName,
		}
		if _, err := models.EnqueueOutbox(tx, req.CompanyId, models.OutboxReferenceTypeStageChanged, req.ID, models.OutboxActionUpdate, now, payload); err != nil {
			return tr, err
		}
	}
	return tr, nil
}
