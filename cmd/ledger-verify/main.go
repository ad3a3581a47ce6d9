package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/ledger_backend/config"
	"github.com/mmdatafocus/ledger_backend/models"
	"github.com/mmdatafocus/ledger_backend/workflow"
	"github.com/sirupsen/logrus"
)

// ledger-verify recomputes balances for every prepayment request of a company
// and exits 2 when any request is inconsistent.
func main() {
	companyID := flag.String("company-id", "", "Required: company id")
	requestID := flag.Int("request-id", 0, "Optional: verify a single request")
	includeArchived := flag.Bool("include-archived", false, "Also verify archived requests")
	asJSON := flag.Bool("json", false, "Print reports as JSON lines")
	flag.Parse()

	if strings.TrimSpace(*companyID) == "" {
		fmt.Fprintln(os.Stderr, "--company-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := logrus.New()

	ctx := context.Background()
	cfg, err := models.GetCompanyConfig(ctx, *companyID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load company config: %v\n", err)
		os.Exit(1)
	}
	env := models.LedgerEnv{Ctx: ctx, Company: *cfg, ActorName: "ledger-verify"}

	var ids []int
	if *requestID > 0 {
		ids = []int{*requestID}
	} else {
		q := db.Model(&models.PrepaymentRequest{}).Where("company_id = ?", *companyID)
		if !*includeArchived {
			q = q.Where("is_archived = ?", false)
		}
		if err := q.Order("id ASC").Pluck("id", &ids).Error; err != nil {
			fmt.Fprintf(os.Stderr, "list requests: %v\n", err)
			os.Exit(1)
		}
	}

	ledger := workflow.NewLedger(models.GormInvoiceSource{}, logger)
	inconsistent := 0
	for _, id := range ids {
		report, err := ledger.RecomputeBalances(env, id)
		if err != nil && !errors.Is(err, models.ErrLedgerInconsistent) {
			logger.WithFields(logrus.Fields{"request_id": id}).Error(err.Error())
			inconsistent++
			continue
		}
		if !report.Consistent {
			inconsistent++
		}
		if *asJSON {
			b, _ := json.Marshal(report)
			fmt.Println(string(b))
			continue
		}
		if report.Consistent {
			fmt.Printf("request %d ok (applied %s of %s)\n", id, report.ComputedApplied, report.Amount)
			continue
		}
		fmt.Printf("request %d INCONSISTENT\n", id)
		for _, issue := range report.Issues {
			fmt.Printf("  - %s\n", issue)
		}
	}

	fmt.Printf("verified=%d inconsistent=%d\n", len(ids), inconsistent)
	if inconsistent > 0 {
		os.Exit(2)
	}
}
