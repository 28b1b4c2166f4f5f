package export

import (
	"fmt"

	"github.com/driftai/driftd/pkg/models"
)

const dateLayout = "2006-01-02"

func headersFor(kind string) []string {
	switch kind {
	case models.ExportKindInvoices:
		return []string{"invoice_number", "vendor_id", "invoice_date", "amount", "currency", "status"}
	case models.ExportKindFindings:
		return []string{"id", "vendor_id", "invoice_id", "kind", "description", "billed_amount", "expected_amount", "status", "created_at"}
	case models.ExportKindDisputes:
		return []string{"id", "finding_id", "vendor_id", "amount", "status", "opened_at", "resolved_at"}
	}
	return nil
}

func sheetNameFor(kind string) string {
	switch kind {
	case models.ExportKindInvoices:
		return "Invoices"
	case models.ExportKindFindings:
		return "Findings"
	case models.ExportKindDisputes:
		return "Disputes"
	}
	return "Report"
}

func invoiceRow(inv *models.Invoice) []string {
	return []string{
		inv.InvoiceNumber,
		inv.VendorID.String(),
		inv.InvoiceDate.Format(dateLayout),
		formatCents(inv.AmountCents),
		inv.Currency,
		inv.Status,
	}
}

func findingRow(f *models.Finding) []string {
	return []string{
		f.ID.String(),
		f.VendorID.String(),
		f.InvoiceID.String(),
		f.Kind,
		f.Description,
		formatCents(f.BilledAmountCents),
		formatCents(f.ExpectedAmountCents),
		f.Status,
		f.CreatedAt.UTC().Format(dateLayout),
	}
}

func disputeRow(d *models.Dispute) []string {
	resolved := ""
	if d.ResolvedAt != nil {
		resolved = d.ResolvedAt.UTC().Format(dateLayout)
	}
	return []string{
		d.ID.String(),
		d.FindingID.String(),
		d.VendorID.String(),
		formatCents(d.AmountCents),
		d.Status,
		d.OpenedAt.UTC().Format(dateLayout),
		resolved,
	}
}

// formatCents renders an integer cent amount as a decimal string.
func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
