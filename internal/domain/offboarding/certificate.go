package offboarding

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Certificate renders a PDF erasure certificate for a deletion run. It carries
// the account id and per-table counts only.
func Certificate(run Run) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Employee erasure certificate", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, "Employee erasure certificate")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 7, fmt.Sprintf("Run: %s", run.ID))
	pdf.Ln(6)
	pdf.Cell(0, 7, fmt.Sprintf("Account: %s", run.UserID))
	pdf.Ln(6)
	pdf.Cell(0, 7, fmt.Sprintf("Status: %s", run.Status))
	pdf.Ln(6)
	pdf.Cell(0, 7, fmt.Sprintf("Started: %s", run.StartedAt.UTC().Format(time.RFC3339)))
	pdf.Ln(6)
	if run.CompletedAt != nil {
		pdf.Cell(0, 7, fmt.Sprintf("Completed: %s", run.CompletedAt.UTC().Format(time.RFC3339)))
		pdf.Ln(6)
	}
	if run.FailedStep != "" {
		pdf.SetTextColor(180, 0, 0)
		pdf.Cell(0, 7, fmt.Sprintf("Stopped at: %s", run.FailedStep))
		pdf.Ln(6)
		pdf.SetTextColor(0, 0, 0)
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(15, 7, "Tier", "1", 0, "C", false, 0, "")
	pdf.CellFormat(75, 7, "Table", "1", 0, "L", false, 0, "")
	pdf.CellFormat(50, 7, "Column", "1", 0, "L", false, 0, "")
	pdf.CellFormat(30, 7, "Rows removed", "1", 1, "R", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	var total int64
	for _, result := range run.Results {
		deleted := fmt.Sprintf("%d", result.Deleted)
		if result.Error != "" {
			deleted = "failed"
		}
		pdf.CellFormat(15, 6, fmt.Sprintf("%d", result.Tier), "1", 0, "C", false, 0, "")
		pdf.CellFormat(75, 6, result.Table, "1", 0, "L", false, 0, "")
		pdf.CellFormat(50, 6, result.Column, "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, deleted, "1", 1, "R", false, 0, "")
		total += result.Deleted
	}
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(140, 7, "Total", "1", 0, "R", false, 0, "")
	pdf.CellFormat(30, 7, fmt.Sprintf("%d", total), "1", 1, "R", false, 0, "")

	identity := "removed"
	if run.Status != StatusCompleted {
		identity = "NOT removed"
	}
	pdf.Ln(4)
	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 7, fmt.Sprintf("Login identity: %s", identity))

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
