package reports

import (
	"fmt"
	"io"

	"github.com/mmdatafocus/ledger_backend/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const ApplicationsSheet = "Applications"

var applicationHeadings = []interface{}{
	"Application Id", "Application Date", "Invoice Id", "Ledger Line Id", "Amount", "Reversal", "Notes", "Actor Id",
}

// WriteApplicationsXLSX writes the application history of req as a workbook.
// The last row carries the net applied amount.
func WriteApplicationsXLSX(w io.Writer, req *models.PrepaymentRequest, apps []models.PrepaymentApplication) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), ApplicationsSheet); err != nil {
		return err
	}
	title := fmt.Sprintf("Prepayment %d (%s %s) %s", req.ID, req.CurrencyCode, req.Amount.StringFixed(2), req.Stage)
	if err := f.SetCellValue(ApplicationsSheet, "A1", title); err != nil {
		return err
	}
	if err := f.SetSheetRow(ApplicationsSheet, "A2", &applicationHeadings); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(ApplicationsSheet, "A1", "H2", bold); err != nil {
		return err
	}
	places := 2
	amountStyle, err := f.NewStyle(&excelize.Style{NumFmt: 4, DecimalPlaces: &places})
	if err != nil {
		return err
	}

	net := decimal.Zero
	rowNo := 3
	for _, app := range apps {
		cell, err := excelize.CoordinatesToCellName(1, rowNo)
		if err != nil {
			return err
		}
		row := []interface{}{
			app.ID,
			app.ApplicationDate.Format("2006-01-02 15:04:05"),
			app.InvoiceId,
			app.LedgerLineId,
			app.Amount.InexactFloat64(),
			app.IsReversal,
			app.Notes,
			app.ActorId,
		}
		if err := f.SetSheetRow(ApplicationsSheet, cell, &row); err != nil {
			return err
		}
		net = net.Add(app.Amount)
		rowNo++
	}
	if err := f.SetCellValue(ApplicationsSheet, fmt.Sprint("D", rowNo), "Net applied"); err != nil {
		return err
	}
	if err := f.SetCellValue(ApplicationsSheet, fmt.Sprint("E", rowNo), net.InexactFloat64()); err != nil {
		return err
	}
	if err := f.SetCellStyle(ApplicationsSheet, "E3", fmt.Sprint("E", rowNo), amountStyle); err != nil {
		return err
	}
	if err := f.SetColWidth(ApplicationsSheet, "B", "B", 20); err != nil {
		return err
	}
	if err := f.SetColWidth(ApplicationsSheet, "G", "G", 40); err != nil {
		return err
	}
	return f.Write(w)
}
