package workflow

import (
	"time"

	"github.com/mmdatafocus/ledger_backend/models"
)

// enforcePostingGate validates the company period lock for a posting dated at.
func enforcePostingGate(env models.LedgerEnv, at time.Time, id int) error {
	if err := env.Company.ValidateLockDate(at); err != nil {
		var le *models.LedgerError
		if ok := asLedgerError(err, &le); ok {
			le.Id = id
			return le
		}
		return err
	}
	return nil
}
