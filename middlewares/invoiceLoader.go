package middlewares

import (
	"context"
	"errors"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/ledger_backend/models"
	"github.com/mmdatafocus/ledger_backend/utils"
	"gorm.io/gorm"
)

type invoiceReader struct {
	db *gorm.DB
}

func (r *invoiceReader) getInvoices(ctx context.Context, ids []int) []*dataloader.Result[*models.InvoiceRecord] {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return handleError[*models.InvoiceRecord](len(ids), errors.New("company id is required"))
	}
	var results []models.InvoiceRecord
	err := r.db.WithContext(ctx).Where("company_id = ? AND id IN ?", companyId, ids).Find(&results).Error
	if err != nil {
		return handleError[*models.InvoiceRecord](len(ids), err)
	}

	return generateLoaderResults(results, ids, func(inv models.InvoiceRecord) int { return inv.ID })
}

func GetInvoice(ctx context.Context, id int) (*models.InvoiceRecord, error) {
	loaders := For(ctx)
	return loaders.invoiceLoader.Load(ctx, id)()
}

func GetInvoices(ctx context.Context, ids []int) ([]*models.InvoiceRecord, []error) {
	loaders := For(ctx)
	return loaders.invoiceLoader.LoadMany(ctx, ids)()
}
