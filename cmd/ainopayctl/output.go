package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"ainopay/internal/core"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	labelStyle  = lipgloss.NewStyle().Bold(true)
)

func renderTable(w io.Writer, headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	fmt.Fprintln(w, t.Render())
}

func success(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, okStyle.Render(fmt.Sprintf(format, args...)))
}

func field(w io.Writer, label string, value any) {
	fmt.Fprintf(w, "%s %v\n", labelStyle.Render(label+":"), value)
}

const dateLayout = "2006-01-02 15:04"

func paymentRows(ps []core.Payment) [][]string {
	rows := make([][]string, 0, len(ps))
	for _, p := range ps {
		category, method := "", ""
		if p.Category != nil {
			category = p.Category.Name
		}
		if p.PaymentMethod != nil {
			method = p.PaymentMethod.Name
		}
		rows = append(rows, []string{
			p.ID.String(),
			p.TransactionDate.Format(dateLayout),
			p.Description,
			p.Amount.String(),
			category,
			method,
			string(p.Status),
		})
	}
	return rows
}

var paymentHeaders = []string{"ID", "Date", "Description", "Amount", "Category", "Method", "Status"}

func printPayment(w io.Writer, p core.Payment) {
	field(w, "ID", p.ID)
	field(w, "Date", p.TransactionDate.Format(dateLayout))
	field(w, "Description", p.Description)
	field(w, "Amount", p.Amount)
	field(w, "Status", p.Status)
	if p.Category != nil {
		field(w, "Category", p.Category.Name)
	}
	if p.PaymentMethod != nil {
		field(w, "Method", p.PaymentMethod.Name)
	}
}
