package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"ainopay/internal/cache"
	"ainopay/internal/core"
	"ainopay/internal/storage/memory"
)

func TestDashboardService_CachesUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	dash := NewDashboardService(store,
		cache.NewLocalGroupCache[core.DashboardStats](100, time.Minute),
		cache.NewLocalGroupCache[[]core.MonthlyStats](100, time.Minute),
		nil)
	owner := uuid.New()

	add := func(status core.PaymentStatus, cents int64, date time.Time) {
		t.Helper()
		p := core.Payment{
			UserID:          owner,
			Amount:          core.Money{Cents: cents},
			Status:          status,
			PaymentMethodID: methodCash,
			CategoryID:      categoryService,
			Description:     "x",
			TransactionDate: date,
		}
		if err := store.CreatePayment(ctx, &p); err != nil {
			t.Fatal(err)
		}
	}

	add(core.StatusCompleted, 1000, time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC))
	add(core.StatusPending, 500, time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC))

	stats, err := dash.Stats(ctx, owner)
	if err != nil {
		t.Fatal(err)
	}
	want := core.DashboardStats{TotalPayments: 2, CompletedCount: 1, PendingCount: 1, TotalAmount: core.Money{Cents: 1000}}
	if stats != want {
		t.Fatalf("stats = %+v, want %+v", stats, want)
	}

	// Written behind the service's back: the cached value is still served.
	add(core.StatusCompleted, 2000, time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC))
	if stats, _ = dash.Stats(ctx, owner); stats.TotalPayments != 2 {
		t.Fatalf("expected cached stats, got %+v", stats)
	}
	chart, err := dash.Chart(ctx, owner, 2025)
	if err != nil {
		t.Fatal(err)
	}
	if len(chart) != 1 || chart[0].Month != "Jan" || chart[0].TotalAmount.Cents != 3000 || chart[0].Count != 2 {
		t.Fatalf("unexpected chart %+v", chart)
	}

	dash.Invalidate(ctx, owner)
	if stats, _ = dash.Stats(ctx, owner); stats.TotalPayments != 3 || stats.TotalAmount.Cents != 3000 {
		t.Fatalf("expected fresh stats after invalidation, got %+v", stats)
	}
}

func TestDashboardService_ChartDefaultsToCurrentYear(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	dash := NewDashboardService(store, nil, nil, nil)
	dash.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	owner := uuid.New()

	p := core.Payment{
		UserID:          owner,
		Amount:          core.Money{Cents: 700},
		Status:          core.StatusCompleted,
		PaymentMethodID: methodCash,
		CategoryID:      categoryService,
		Description:     "x",
		TransactionDate: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
	}
	if err := store.CreatePayment(ctx, &p); err != nil {
		t.Fatal(err)
	}

	chart, err := dash.Chart(ctx, owner, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(chart) != 1 || chart[0].MonthNumber != 3 {
		t.Fatalf("unexpected chart %+v", chart)
	}

	empty, err := dash.Chart(ctx, owner, 2023)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty chart, got %v %v", empty, err)
	}
}

func TestDashboardService_Recent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	dash := NewDashboardService(store, nil, nil, nil)
	owner := uuid.New()

	for i := 0; i < 7; i++ {
		p := core.Payment{
			UserID:          owner,
			Amount:          core.Money{Cents: 100},
			Status:          core.StatusPending,
			PaymentMethodID: methodCash,
			CategoryID:      categoryService,
			Description:     "x",
			TransactionDate: time.Now(),
		}
		if err := store.CreatePayment(ctx, &p); err != nil {
			t.Fatal(err)
		}
	}

	recent, err := dash.Recent(ctx, owner, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != DefaultRecentLimit {
		t.Fatalf("expected %d recent payments, got %d", DefaultRecentLimit, len(recent))
	}
	if none, _ := dash.Recent(ctx, uuid.New(), 5); none == nil || len(none) != 0 {
		t.Fatalf("expected empty slice, got %v", none)
	}
}
