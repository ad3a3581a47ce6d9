package main

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/ledger_backend/config"
	"github.com/mmdatafocus/ledger_backend/middlewares"
	"github.com/mmdatafocus/ledger_backend/models"
	"github.com/mmdatafocus/ledger_backend/models/reports"
	"github.com/mmdatafocus/ledger_backend/utils"
	"github.com/mmdatafocus/ledger_backend/workflow"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ledgerHandlers struct {
	ledger *workflow.Ledger
}

func (h *ledgerHandlers) env(c *gin.Context) (models.LedgerEnv, bool) {
	env, err := models.NewLedgerEnvFromContext(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return models.LedgerEnv{}, false
	}
	return *env, true
}

func pathId(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return false
	}
	return true
}

func (h *ledgerHandlers) createRequest(c *gin.Context) {
	env, ok := h.env(c)
	if !ok {
		return
	}
	var input models.NewPrepaymentRequest
	if !bindJSON(c, &input) {
		return
	}
	input.CurrencyCode = strings.ToUpper(input.CurrencyCode)
	req, err := h.ledger.CreateRequest(env, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

func (h *ledgerHandlers) getRequest(c *gin.Context) {
	env, ok := h.env(c)
	if !ok {
		return
	}
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	req, err := h.ledger.GetRequest(env, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *ledgerHandlers) stageEvent(fire func(models.LedgerEnv, int) (*models.PrepaymentRequest, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		env, ok := h.env(c)
		if !ok {
			return
		}
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		req, err := fire(env, id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, req)
	}
}

func (h *ledgerHandlers) stageHistory(c *gin.Context) {
	env, ok := h.env(c)
	if !ok {
		return
	}
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	logs, err := h.ledger.StageHistory(env, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

type ledgerLineView struct {
	models.PrepaymentLedgerLine
	InvoiceReference string               `json:"invoice_reference"`
	InvoiceStatus    models.InvoiceStatus `json:"invoice_status"`
}

func (h *ledgerHandlers) listLines(c *gin.Context) {
	env, ok := h.env(c)
	if !ok {
		return
	}
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	lines, err := h.ledger.ListLines(env, id)
	if err != nil {
		respondError(c, err)
		return
	}

	invoiceIds := make([]int, 0, len(lines))
	for _, l := range lines {
		invoiceIds = append(invoiceIds, l.InvoiceId)
	}
	invoices, errs := middlewares.GetInvoices(c.Request.Context(), utils.UniqueSlice(invoiceIds))
	byId := make(map[int]*models.InvoiceRecord, len(invoices))
	for i, inv := range invoices {
		if inv != nil && (len(errs) <= i || errs[i] == nil) {
			byId[inv.ID] = inv
		}
	}

	views := make([]ledgerLineView, 0, len(lines))
	for _, l := range lines {
		view := ledgerLineView{PrepaymentLedgerLine: l}
		if inv, ok := byId[l.InvoiceId]; ok {
			view.InvoiceReference = inv.Reference
			view.InvoiceStatus = inv.Status
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, views)
}

type invoiceLineView struct {
	models.PrepaymentLedgerLine
	PartyType models.PartyType       `json:"party_type"`
	PartyId   int                    `json:"party_id"`
	Stage     models.PrepaymentStage `json:"stage"`
}

func (h *ledgerHandlers) listInvoiceLines(c *gin.Context) {
	env, ok := h.env(c)
	if !ok {
		return
	}
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	lines, err := h.ledger.ListInvoiceLines(env, id)
	if err != nil {
		respondError(c, err)
		return
	}

	requestIds := make([]int, 0, len(lines))
	for _, l := range lines {
		requestIds = append(requestIds, l.RequestId)
	}
	requests, errs := middlewares.GetPrepaymentRequests(c.Request.Context(), utils.UniqueSlice(requestIds))
	byId := make(map[int]*models.PrepaymentRequest, len(requests))
	for i, req := range requests {
		if req != nil && (len(errs) <= i || errs[i] == nil) {
			byId[req.ID] = req
		}
	}

	views := make([]invoiceLineView, 0, len(lines))
	for _, l := range lines {
		view := invoiceLineView{PrepaymentLedgerLine: l}
		if req, ok := byId[l.RequestId]; ok {
			view.PartyType = req.PartyType
			view.PartyId = req.PartyId
			view.Stage = req.Stage
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, views)
}

func (h *ledgerHandlers) listApplications(c *gin.Context) {
	env, ok := h.env(c)
	if !ok {
		return
	}
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	apps, err := h.ledger.ListApplications(env, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, apps)
}

// exportApplications streams the application history of a request as an XLSX workbook.
func (h *ledgerHandlers) exportApplications(c *gin.Context) {
	env, ok := h.env(c)
	if !ok {
		return
	}
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	req, err := h.ledger.GetRequest(env, id)
	if err != nil {
		respondError(c, err)
		return
	}
	apps, err := h.ledger.ListApplications(env, id)
	if err != nil {
		respondError(c, err)
		return
	}
	var buf bytes.Buffer
	if err := reports.WriteApplicationsXLSX(&buf, req, apps); err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=prepayment-%d-applications.xlsx", id))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

func (h *ledgerHandlers) recomputeBalances(c *gin.Context) {
	env, ok := h.env(c)
	if !ok {
		return
	}
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	report, err := h.ledger.RecomputeBalances(env, id)
	if err != nil && report == nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusConflict
	}
	c.JSON(status, report)
}

type applyRequest struct {
	InvoiceId int             `json:"invoice_id" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Note      string          `json:"note"`
}

func (h *ledgerHandlers) applyToInvoice(c *gin.Context) {
	env, ok := h.env(c)
	if !ok {
		return
	}
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var body applyRequest
	if !bindJSON(c, &body) {
		return
	}
	line, err := h.ledger.ApplyToInvoice(env, id, body.InvoiceId, body.Amount, body.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, line)
}

type autoApplyRequest struct {
	InvoiceIds []int `json:"invoice_ids" binding:"required,min=1"`
}

func (h *ledgerHandlers) autoApply(c *gin.Context) {
	env, ok := h.env(c)
	if !ok {
		return
	}
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var body autoApplyRequest
	if !bindJSON(c, &body) {
		return
	}
	lines, err := h.ledger.AutoApply(env, id, body.InvoiceIds)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, lines)
}

type reverseRequest struct {
	Force bool `json:"force"`
}

func (h *ledgerHandlers) reverseLine(c *gin.Context) {
	env, ok := h.env(c)
	if !ok {
		return
	}
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var body reverseRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &body) {
		return
	}
	if err := h.ledger.ReverseLine(env, id, body.Force); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"line_id": id, "reversed": true})
}

func (h *ledgerHandlers) invoicePenalty(c *gin.Context) {
	env, ok := h.env(c)
	if !ok {
		return
	}
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	asOf := env.Now()
	if v := c.Query("as_of"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "as_of must be YYYY-MM-DD"})
			return
		}
		asOf = t
	}
	quote, err := h.ledger.InvoicePenalty(env, id, asOf)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

type referenceRequest struct {
	ContractId        int                `json:"contract_id"`
	InstallmentNumber int                `json:"installment_number"`
	Beneficiary       models.Beneficiary `json:"beneficiary"`
}

func (h *ledgerHandlers) generateReference(c *gin.Context) {
	var body referenceRequest
	if !bindJSON(c, &body) {
		return
	}
	ref, err := models.GenerateReference(body.ContractId, body.InstallmentNumber, body.Beneficiary)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reference": ref})
}

type computeTaxRequest struct {
	BaseAmount decimal.Decimal `json:"base_amount"`
	Rate       decimal.Decimal `json:"rate"`
}

func (h *ledgerHandlers) computeTax(c *gin.Context) {
	env, ok := h.env(c)
	if !ok {
		return
	}
	var body computeTaxRequest
	if !bindJSON(c, &body) {
		return
	}
	amount, err := models.ComputeTax(body.BaseAmount, body.Rate, env.Company.CurrencyDecimals)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calculated_amount": amount.StringFixed(env.Company.CurrencyDecimals)})
}

func (h *ledgerHandlers) createTaxLine(c *gin.Context) {
	env, ok := h.env(c)
	if !ok {
		return
	}
	var input models.NewTaxLine
	if !bindJSON(c, &input) {
		return
	}
	line, err := models.CreateTaxLine(c.Request.Context(), &input, env.Company.CurrencyDecimals)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, line)
}

type updateTaxLineRequest struct {
	BaseAmount *decimal.Decimal `json:"base_amount"`
	Rate       *decimal.Decimal `json:"rate"`
}

func (h *ledgerHandlers) updateTaxLine(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var body updateTaxLineRequest
	if !bindJSON(c, &body) {
		return
	}
	line, err := models.UpdateTaxLine(c.Request.Context(), id, body.BaseAmount, body.Rate)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, line)
}

func (h *ledgerHandlers) createPayment(c *gin.Context) {
	env, ok := h.env(c)
	if !ok {
		return
	}
	var input models.NewPayment
	if !bindJSON(c, &input) {
		return
	}
	input.CurrencyCode = strings.ToUpper(input.CurrencyCode)
	payment, err := h.ledger.CreatePayment(env, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, payment)
}

func (h *ledgerHandlers) approvePayment(c *gin.Context) {
	env, ok := h.env(c)
	if !ok {
		return
	}
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	payment, err := h.ledger.ApprovePayment(env, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (h *ledgerHandlers) postPayment(c *gin.Context) {
	env, ok := h.env(c)
	if !ok {
		return
	}
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	payment, err := h.ledger.PostPayment(env, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (h *ledgerHandlers) registerExchangeRate(c *gin.Context) {
	env, ok := h.env(c)
	if !ok {
		return
	}
	var input models.NewExchangeRate
	if !bindJSON(c, &input) {
		return
	}
	if err := utils.ValidateStruct(&input); err != nil {
		respondError(c, err)
		return
	}
	var rate *models.ExchangeRate
	err := env.DB().Transaction(func(tx *gorm.DB) error {
		var err error
		rate, err = models.RegisterExchangeRate(tx, env.CompanyId(), input)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rate)
}

func (h *ledgerHandlers) latestExchangeRate(c *gin.Context) {
	env, ok := h.env(c)
	if !ok {
		return
	}
	from := strings.ToUpper(c.Query("from"))
	to := strings.ToUpper(c.DefaultQuery("to", env.Company.CompanyCurrency))
	if len(from) != 3 || len(to) != 3 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from and to must be currency codes"})
		return
	}
	rate, err := models.GetLatestExchangeRate(c.Request.Context(), env.CompanyId(), from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rate)
}

func (h *ledgerHandlers) settle(c *gin.Context) {
	env, ok := h.env(c)
	if !ok {
		return
	}
	var input workflow.SettleInput
	if !bindJSON(c, &input) {
		return
	}
	posting, err := h.ledger.Settle(env, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, posting)
}

type stampCommissionRequest struct {
	Eligible *bool `json:"eligible" binding:"required"`
}

func (h *ledgerHandlers) stampCommission(c *gin.Context) {
	env, ok := h.env(c)
	if !ok {
		return
	}
	id, ok := pathId(c, "payrollLineId")
	if !ok {
		return
	}
	var body stampCommissionRequest
	if !bindJSON(c, &body) {
		return
	}
	flag, err := h.ledger.StampCommission(env, id, *body.Eligible)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, flag)
}

func (h *ledgerHandlers) listCommissionFlags(c *gin.Context) {
	env, ok := h.env(c)
	if !ok {
		return
	}
	eligibleOnly := strings.EqualFold(c.Query("eligible"), "true")
	flags, err := h.ledger.ListCommissionFlags(env, eligibleOnly)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, flags)
}

func outboxStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		refType := models.OutboxReferenceType(c.Query("reference_type"))
		refId, err := strconv.Atoi(c.Query("reference_id"))
		if refType == "" || err != nil || refId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "reference_type and reference_id are required"})
			return
		}
		status, err := models.GetOutboxStatus(c.Request.Context(), refType, refId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

type outboxReplayRequest struct {
	RecordId int `json:"record_id"`
}

func outboxReplayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req outboxReplayRequest
		if !bindJSON(c, &req) {
			return
		}
		if req.RecordId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "record_id is required"})
			return
		}
		companyId, _ := utils.GetCompanyIdFromContext(c.Request.Context())
		if err := models.ReplayOutboxRecord(c.Request.Context(), companyId, req.RecordId); err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "no FAILED or DEAD record with that id"})
				return
			}
			respondError(c, err)
			return
		}
		config.GetLogger().WithField("record_id", req.RecordId).Info("outbox record queued for replay")
		c.JSON(http.StatusOK, gin.H{
			"company_id":     companyId,
			"record_id":      req.RecordId,
			"publish_status": models.OutboxPublishStatusFailed,
		})
	}
}
