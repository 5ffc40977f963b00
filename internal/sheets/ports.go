package sheets

import (
	"context"

	"ainopay/internal/core"

	"github.com/google/uuid"
)

// Ports for outbound adapters.
type (
	// PaymentMirror keeps one spreadsheet row per payment.
	PaymentMirror interface {
		// Upsert writes p's row, replacing an existing one with the same id.
		Upsert(ctx context.Context, p core.Payment) (rowRef string, err error)
		// Remove deletes the payment's row. A missing row is not an error.
		Remove(ctx context.Context, paymentID uuid.UUID) error
	}
)

// Header is the first row of a mirror sheet.
var Header = []string{
	"Payment ID", "Transaction Date", "Description", "Amount",
	"Category", "Payment Method", "Status", "Updated At",
}

// Row renders p in Header column order.
func Row(p core.Payment) []string {
	category, method := "", ""
	if p.Category != nil {
		category = p.Category.Name
	}
	if p.PaymentMethod != nil {
		method = p.PaymentMethod.Name
	}
	return []string{
		p.ID.String(),
		p.TransactionDate.UTC().Format("2006-01-02 15:04"),
		p.Description,
		p.Amount.String(),
		category,
		method,
		string(p.Status),
		p.UpdatedAt.UTC().Format("2006-01-02 15:04:05"),
	}
}
