package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mmdatafocus/ledger_backend/models"
	"github.com/mmdatafocus/ledger_backend/workflow"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
)

// Resolver serves the ledger operations over GraphQL.
type Resolver struct {
	Ledger *workflow.Ledger
	Tracer trace.Tracer
}

type fieldResolver func(ctx context.Context, env models.LedgerEnv, args map[string]interface{}) (interface{}, error)

func (r *Resolver) fields() map[string]fieldResolver {
	return map[string]fieldResolver{
		"Query.prepaymentRequest":  r.byId(r.Ledger.GetRequest),
		"Query.stageHistory":       r.stageHistory,
		"Query.ledgerLines":        r.ledgerLines,
		"Query.applications":       r.applications,
		"Query.latestExchangeRate": r.latestExchangeRate,

		"Mutation.createPrepaymentRequest":   r.createPrepaymentRequest,
		"Mutation.submitPrepaymentRequest":   r.byId(r.Ledger.Submit),
		"Mutation.approvePrepaymentRequest":  r.byId(r.Ledger.Approve),
		"Mutation.disbursePrepaymentRequest": r.byId(r.Ledger.Disburse),
		"Mutation.cancelPrepaymentRequest":   r.byId(r.Ledger.Cancel),
		"Mutation.closePrepaymentRequest":    r.byId(r.Ledger.Close),
		"Mutation.archivePrepaymentRequest":  r.byId(r.Ledger.Archive),
		"Mutation.applyToInvoice":            r.applyToInvoice,
		"Mutation.autoApply":                 r.autoApply,
		"Mutation.reverseLedgerLine":         r.reverseLedgerLine,
		"Mutation.createPayment":             r.createPayment,
		"Mutation.approvePayment":            r.paymentById(r.Ledger.ApprovePayment),
		"Mutation.postPayment":               r.paymentById(r.Ledger.PostPayment),
		"Mutation.settleExchangeDifference":  r.settleExchangeDifference,
	}
}

func (r *Resolver) byId(fire func(models.LedgerEnv, int) (*models.PrepaymentRequest, error)) fieldResolver {
	return func(_ context.Context, env models.LedgerEnv, args map[string]interface{}) (interface{}, error) {
		id, err := intArg(args, "id")
		if err != nil {
			return nil, err
		}
		return fire(env, id)
	}
}

func (r *Resolver) paymentById(fire func(models.LedgerEnv, int) (*models.Payment, error)) fieldResolver {
	return func(_ context.Context, env models.LedgerEnv, args map[string]interface{}) (interface{}, error) {
		id, err := intArg(args, "id")
		if err != nil {
			return nil, err
		}
		return fire(env, id)
	}
}

func (r *Resolver) stageHistory(_ context.Context, env models.LedgerEnv, args map[string]interface{}) (interface{}, error) {
	id, err := intArg(args, "request_id")
	if err != nil {
		return nil, err
	}
	return r.Ledger.StageHistory(env, id)
}

func (r *Resolver) ledgerLines(_ context.Context, env models.LedgerEnv, args map[string]interface{}) (interface{}, error) {
	id, err := intArg(args, "request_id")
	if err != nil {
		return nil, err
	}
	return r.Ledger.ListLines(env, id)
}

func (r *Resolver) applications(_ context.Context, env models.LedgerEnv, args map[string]interface{}) (interface{}, error) {
	id, err := intArg(args, "request_id")
	if err != nil {
		return nil, err
	}
	return r.Ledger.ListApplications(env, id)
}

func (r *Resolver) latestExchangeRate(ctx context.Context, env models.LedgerEnv, args map[string]interface{}) (interface{}, error) {
	from, _ := args["from"].(string)
	to, _ := args["to"].(string)
	if to == "" {
		to = env.Company.CompanyCurrency
	}
	return models.GetLatestExchangeRate(ctx, env.CompanyId(), strings.ToUpper(from), strings.ToUpper(to))
}

func (r *Resolver) createPrepaymentRequest(_ context.Context, env models.LedgerEnv, args map[string]interface{}) (interface{}, error) {
	var input models.NewPrepaymentRequest
	if err := decodeArg(args, "input", &input); err != nil {
		return nil, err
	}
	input.CurrencyCode = strings.ToUpper(input.CurrencyCode)
	return r.Ledger.CreateRequest(env, &input)
}

func (r *Resolver) applyToInvoice(_ context.Context, env models.LedgerEnv, args map[string]interface{}) (interface{}, error) {
	requestId, err := intArg(args, "request_id")
	if err != nil {
		return nil, err
	}
	invoiceId, err := intArg(args, "invoice_id")
	if err != nil {
		return nil, err
	}
	var amount decimal.Decimal
	if err := decodeArg(args, "amount", &amount); err != nil {
		return nil, err
	}
	note, _ := args["note"].(string)
	return r.Ledger.ApplyToInvoice(env, requestId, invoiceId, amount, note)
}

func (r *Resolver) autoApply(_ context.Context, env models.LedgerEnv, args map[string]interface{}) (interface{}, error) {
	requestId, err := intArg(args, "request_id")
	if err != nil {
		return nil, err
	}
	var invoiceIds []int
	if err := decodeArg(args, "invoice_ids", &invoiceIds); err != nil {
		return nil, err
	}
	return r.Ledger.AutoApply(env, requestId, invoiceIds)
}

func (r *Resolver) reverseLedgerLine(_ context.Context, env models.LedgerEnv, args map[string]interface{}) (interface{}, error) {
	id, err := intArg(args, "id")
	if err != nil {
		return nil, err
	}
	force, _ := args["force"].(bool)
	if err := r.Ledger.ReverseLine(env, id, force); err != nil {
		return nil, err
	}
	return map[string]interface{}{"line_id": id, "reversed": true}, nil
}

func (r *Resolver) createPayment(_ context.Context, env models.LedgerEnv, args map[string]interface{}) (interface{}, error) {
	var input models.NewPayment
	if err := decodeArg(args, "input", &input); err != nil {
		return nil, err
	}
	input.CurrencyCode = strings.ToUpper(input.CurrencyCode)
	return r.Ledger.CreatePayment(env, &input)
}

func (r *Resolver) settleExchangeDifference(_ context.Context, env models.LedgerEnv, args map[string]interface{}) (interface{}, error) {
	var input workflow.SettleInput
	if err := decodeArg(args, "input", &input); err != nil {
		return nil, err
	}
	return r.Ledger.Settle(env, input)
}

func intArg(args map[string]interface{}, name string) (int, error) {
	switch v := args[name].(type) {
	case int64:
		return int(v), nil
	case int:
		return v, nil
	case json.Number:
		n, err := v.Int64()
		return int(n), err
	case float64:
		return int(v), nil
	}
	return 0, fmt.Errorf("argument %s must be an integer", name)
}

// decodeArg converts a normalized argument into dst through its JSON tags.
func decodeArg(args map[string]interface{}, name string, dst interface{}) error {
	b, err := json.Marshal(args[name])
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("argument %s: %w", name, err)
	}
	return nil
}
