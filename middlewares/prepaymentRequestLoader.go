package middlewares

import (
	"context"
	"errors"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/ledger_backend/models"
	"github.com/mmdatafocus/ledger_backend/utils"
	"gorm.io/gorm"
)

type prepaymentRequestReader struct {
	db *gorm.DB
}

func (r *prepaymentRequestReader) getRequests(ctx context.Context, ids []int) []*dataloader.Result[*models.PrepaymentRequest] {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return handleError[*models.PrepaymentRequest](len(ids), errors.New("company id is required"))
	}
	var results []models.PrepaymentRequest
	err := r.db.WithContext(ctx).Where("company_id = ? AND id IN ?", companyId, ids).Find(&results).Error
	if err != nil {
		return handleError[*models.PrepaymentRequest](len(ids), err)
	}

	return generateLoaderResults(results, ids, func(req models.PrepaymentRequest) int { return req.ID })
}

func GetPrepaymentRequests(ctx context.Context, ids []int) ([]*models.PrepaymentRequest, []error) {
	loaders := For(ctx)
	return loaders.requestLoader.LoadMany(ctx, ids)()
}
