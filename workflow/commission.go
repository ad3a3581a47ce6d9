package workflow

import (
	"github.com/mmdatafocus/ledger_backend/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StampCommission sets the commission eligibility of a payroll line. Restamping overwrites.
func (l *Ledger) StampCommission(env models.LedgerEnv, payrollLineId int, eligible bool) (*models.PayrollCommissionFlag, error) {
	if payrollLineId <= 0 {
		return nil, models.NewLedgerError(models.ErrInvalidReferenceInput, payrollLineId, nil)
	}
	flag := models.PayrollCommissionFlag{
		CompanyId:     env.CompanyId(),
		PayrollLineId: payrollLineId,
		Eligible:      eligible,
		StampedById:   env.ActorId,
		StampedByName: env.ActorName,
		StampedAt:     env.Now(),
	}
	err := l.runInTx(env, func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "company_id"}, {Name: "payroll_line_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"eligible", "stamped_by_id", "stamped_by_name", "stamped_at", "updated_at"}),
		}).Create(&flag).Error; err != nil {
			return err
		}
		var stored models.PayrollCommissionFlag
		if err := tx.Where("company_id = ? AND payroll_line_id = ?", env.CompanyId(), payrollLineId).First(&stored).Error; err != nil {
			return err
		}
		flag = stored
		return nil
	})
	if err != nil {
		l.logFailure("StampCommission", "stamping commission flag", payrollLineId, err)
		return nil, err
	}
	return &flag, nil
}

func (l *Ledger) ListCommissionFlags(env models.LedgerEnv, eligibleOnly bool) ([]models.PayrollCommissionFlag, error) {
	var flags []models.PayrollCommissionFlag
	db := env.DB().Where("company_id = ?", env.CompanyId())
	if eligibleOnly {
		db = db.Where("eligible = ?", true)
	}
	err := db.Order("payroll_line_id ASC").Find(&flags).Error
	return flags, err
}
