package models

import (
	"fmt"
	"time"
)

// PrepaymentStageLog is one interval a request spent in a stage. ExitedAt is nil while current.
type PrepaymentStageLog struct {
	ID              int             `gorm:"primary_key" json:"id"`
	CompanyId       string          `gorm:"size:64;index;not null" json:"company_id"`
	RequestId       int             `gorm:"index;not null" json:"request_id"`
	Stage           PrepaymentStage `gorm:"size:32;not null" json:"stage"`
	EnteredAt       time.Time       `gorm:"not null" json:"entered_at"`
	ExitedAt        *time.Time      `json:"exited_at"`
	DurationSeconds *int64          `json:"duration_seconds"`
	ActorId         int             `json:"actor_id"`
	ActorName       string          `gorm:"size:100" json:"actor_name"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (l *PrepaymentStageLog) Close(at time.Time) {
	l.ExitedAt = &at
	d := int64(at.Sub(l.EnteredAt) / time.Second)
	l.DurationSeconds = &d
}

// CheckStageLogContinuity verifies logs (ordered by id) are contiguous and only the last is open.
func CheckStageLogContinuity(logs []PrepaymentStageLog) error {
	for i, l := range logs {
		last := i == len(logs)-1
		if l.ExitedAt == nil {
			if !last {
				return fmt.Errorf("stage log %d (%s) is open but not the latest", l.ID, l.Stage)
			}
			continue
		}
		if l.ExitedAt.Before(l.EnteredAt) {
			return fmt.Errorf("stage log %d exits before it enters", l.ID)
		}
		if !last && !l.ExitedAt.Equal(logs[i+1].EnteredAt) {
			return fmt.Errorf("gap between stage log %d and %d", l.ID, logs[i+1].ID)
		}
	}
	return nil
}
