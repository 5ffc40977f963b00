package core

import (
	"time"

	"github.com/google/uuid"
)

// Pagination defaults for payment listings.
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

var monthNames = [...]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

// PaymentFilter narrows a payment listing. A zero Limit means no pagination.
type PaymentFilter struct {
	Limit     int
	Offset    int
	Status    PaymentStatus
	Search    string
	MinAmount *Money
	MaxAmount *Money
	StartDate *time.Time
	EndDate   *time.Time
}

// Matches applies the filter to a single payment. Storage backends that
// cannot push the filter down use it directly.
func (f PaymentFilter) Matches(p Payment, search func(haystack, needle string) bool) bool {
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.Search != "" && !search(p.Description, f.Search) {
		return false
	}
	if f.MinAmount != nil && p.Amount.Cents < f.MinAmount.Cents {
		return false
	}
	if f.MaxAmount != nil && p.Amount.Cents > f.MaxAmount.Cents {
		return false
	}
	if f.StartDate != nil && p.TransactionDate.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && p.TransactionDate.After(*f.EndDate) {
		return false
	}
	return true
}

// PaymentPage is one page of a filtered listing.
type PaymentPage struct {
	Payments []Payment `json:"payments"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	Limit    int       `json:"limit"`
}

// DashboardStats counts a user's payments. TotalAmount sums completed ones only.
type DashboardStats struct {
	TotalPayments  int   `json:"total_payments"`
	CompletedCount int   `json:"completed_count"`
	PendingCount   int   `json:"pending_count"`
	TotalAmount    Money `json:"total_amount"`
}

// MonthlyStats is the completed total for one calendar month.
type MonthlyStats struct {
	Month       string `json:"month"`
	MonthNumber int    `json:"month_number"`
	TotalAmount Money  `json:"total_amount"`
	Count       int    `json:"count"`
}

// MonthName returns the short English name for month 1-12.
func MonthName(month int) string {
	if month < 1 || month > 12 {
		return ""
	}
	return monthNames[month-1]
}

// AggregateStats folds payments into DashboardStats.
func AggregateStats(payments []Payment) DashboardStats {
	var s DashboardStats
	for _, p := range payments {
		s.TotalPayments++
		switch p.Status {
		case StatusCompleted:
			s.CompletedCount++
			s.TotalAmount.Cents += p.Amount.Cents
		case StatusPending:
			s.PendingCount++
		}
	}
	return s
}

// AggregateMonthly groups completed payments of year by month, ascending.
// Months without completed payments are omitted.
func AggregateMonthly(payments []Payment, year int) []MonthlyStats {
	var buckets [12]MonthlyStats
	for _, p := range payments {
		if p.Status != StatusCompleted {
			continue
		}
		d := p.TransactionDate.UTC()
		if d.Year() != year {
			continue
		}
		b := &buckets[d.Month()-1]
		b.Count++
		b.TotalAmount.Cents += p.Amount.Cents
	}
	out := make([]MonthlyStats, 0, 12)
	for i, b := range buckets {
		if b.Count == 0 {
			continue
		}
		b.MonthNumber = i + 1
		b.Month = monthNames[i]
		out = append(out, b)
	}
	return out
}

// DashboardGroup names the cache group holding a user's dashboard aggregates.
func DashboardGroup(userID uuid.UUID) string {
	return "dashboard:" + userID.String()
}
