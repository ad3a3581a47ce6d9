package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mmdatafocus/ledger_backend/config"
	"github.com/mmdatafocus/ledger_backend/utils"
	"gorm.io/gorm"
)

// Outbox publish statuses for LedgerOutboxRecord.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// LedgerOutboxRecord is written in the same transaction as the ledger change.
// The dispatcher publishes it after commit.
type LedgerOutboxRecord struct {
	ID                  int                 `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	CompanyId           string              `gorm:"size:64;not null;index;index:idx_outbox_ref,priority:1" json:"company_id"`
	TransactionDateTime time.Time           `gorm:"index;not null" json:"transaction_date_time"`
	ReferenceId         int                 `gorm:"index:idx_outbox_ref,priority:3" json:"reference_id"`
	ReferenceType       OutboxReferenceType `gorm:"size:32;not null;index:idx_outbox_ref,priority:2" json:"reference_type"`
	Action              OutboxAction        `gorm:"size:1;not null" json:"action"`
	Payload             []byte              `gorm:"type:blob" json:"payload"`
	PublishStatus       string              `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt         *time.Time          `gorm:"index" json:"published_at"`
	PubSubMessageId     *string             `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts     int                 `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt       *time.Time          `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt            *time.Time          `gorm:"index" json:"locked_at"`
	LockedBy            *string             `gorm:"size:100" json:"locked_by"`
	LastPublishError    *string             `gorm:"type:text" json:"last_publish_error"`
	CorrelationId       string              `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt           time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func ConvertToPubSubMessage(record LedgerOutboxRecord) config.PubSubMessage {
	return config.PubSubMessage{
		ID:                  record.ID,
		CompanyId:           record.CompanyId,
		TransactionDateTime: record.TransactionDateTime,
		ReferenceId:         record.ReferenceId,
		ReferenceType:       string(record.ReferenceType),
		Action:              string(record.Action),
		Payload:             record.Payload,
		CorrelationId:       record.CorrelationId,
	}
}

// EnqueueOutbox marshals payload and writes a PENDING record on tx.
func EnqueueOutbox(tx *gorm.DB, companyId string, referenceType OutboxReferenceType, referenceId int, action OutboxAction, transactionTime time.Time, payload any) (*LedgerOutboxRecord, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	correlationId := ""
	if tx.Statement != nil && tx.Statement.Context != nil {
		correlationId, _ = utils.GetCorrelationIdFromContext(tx.Statement.Context)
	}
	rec := LedgerOutboxRecord{
		CompanyId:           companyId,
		TransactionDateTime: transactionTime,
		ReferenceId:         referenceId,
		ReferenceType:       referenceType,
		Action:              action,
		Payload:             data,
		PublishStatus:       OutboxPublishStatusPending,
		CorrelationId:       correlationId,
	}
	if err := tx.Create(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// OutboxStatus is an ops-facing view of the latest outbox row for a reference.
type OutboxStatus struct {
	RecordId         int                 `json:"record_id"`
	ReferenceType    OutboxReferenceType `json:"reference_type"`
	ReferenceId      int                 `json:"reference_id"`
	PublishStatus    string              `json:"publish_status"`
	PublishAttempts  int                 `json:"publish_attempts"`
	NextAttemptAt    *time.Time          `json:"next_attempt_at"`
	LastPublishError *string             `json:"last_publish_error"`
	CreatedAt        time.Time           `json:"created_at"`
	PublishedAt      *time.Time          `json:"published_at"`
}

func GetOutboxStatus(ctx context.Context, referenceType OutboxReferenceType, referenceId int) (*OutboxStatus, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}

	db := config.GetDB()
	var rec LedgerOutboxRecord
	if err := db.WithContext(ctx).
		Where("company_id = ? AND reference_type = ? AND reference_id = ?", companyId, referenceType, referenceId).
		Order("id DESC").
		First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}

	return &OutboxStatus{
		RecordId:         rec.ID,
		ReferenceType:    rec.ReferenceType,
		ReferenceId:      rec.ReferenceId,
		PublishStatus:    rec.PublishStatus,
		PublishAttempts:  rec.PublishAttempts,
		NextAttemptAt:    rec.NextAttemptAt,
		LastPublishError: rec.LastPublishError,
		CreatedAt:        rec.CreatedAt,
		PublishedAt:      rec.PublishedAt,
	}, nil
}

// ReplayOutboxRecord makes a FAILED or DEAD record eligible for the next dispatch.
func ReplayOutboxRecord(ctx context.Context, companyId string, recordId int) error {
	now := time.Now().UTC()
	res := config.GetDB().WithContext(ctx).
		Model(&LedgerOutboxRecord{}).
		Where("id = ? AND company_id = ? AND publish_status IN ?", recordId, companyId, []string{OutboxPublishStatusFailed, OutboxPublishStatusDead}).
		Updates(map[string]interface{}{
			"publish_status":     OutboxPublishStatusFailed,
			"next_attempt_at":    &now,
			"locked_at":          nil,
			"locked_by":          nil,
			"last_publish_error": nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}
