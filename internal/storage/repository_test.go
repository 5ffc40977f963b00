package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"ainopay/internal/core"
)

var (
	seedCreditCard   = uuid.MustParse("6f1c2a4e-0b1d-4c6e-9a51-3e2f8d7c1a02")
	seedSubscription = uuid.MustParse("9d4b7c2e-5f3a-4e1b-8c6d-2a9f0e1b3c01")
	seedPurchase     = uuid.MustParse("9d4b7c2e-5f3a-4e1b-8c6d-2a9f0e1b3c02")
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "nested", "test.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func mustCreateUser(t *testing.T, repo *SQLiteRepository, email string) core.User {
	t.Helper()
	u := core.User{Email: email, PasswordHash: "hash", FullName: "Test User"}
	if err := repo.CreateUser(context.Background(), &u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func mustCreatePayment(t *testing.T, repo *SQLiteRepository, userID uuid.UUID, cents int64, status core.PaymentStatus, desc string, date time.Time) core.Payment {
	t.Helper()
	p := core.Payment{
		UserID:          userID,
		Amount:          core.Money{Cents: cents},
		Status:          status,
		PaymentMethodID: seedCreditCard,
		CategoryID:      seedSubscription,
		Description:     desc,
		TransactionDate: date,
	}
	if err := repo.CreatePayment(context.Background(), &p); err != nil {
		t.Fatalf("create payment: %v", err)
	}
	return p
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.db")
	for i := 0; i < 2; i++ {
		repo, err := NewSQLiteRepository(path)
		if err != nil {
			t.Fatalf("open #%d: %v", i+1, err)
		}
		if got := repo.SchemaVersion(); got != 2 {
			t.Errorf("open #%d: schema version = %d, want 2", i+1, got)
		}
		repo.Close()
	}
}

func TestSeededLookups(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	cats, err := repo.ListCategories(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"Donation", "Other", "Purchase", "Service", "Subscription"}
	if len(cats) != len(want) {
		t.Fatalf("expected %d categories, got %d", len(want), len(cats))
	}
	for i, c := range cats {
		if c.Name != want[i] {
			t.Fatalf("category %d: expected %s, got %s", i, want[i], c.Name)
		}
	}

	methods, err := repo.ListPaymentMethods(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(methods) != 4 || methods[0].Name != "Bank Transfer" || methods[0].Code != "bank_transfer" {
		t.Fatalf("unexpected methods %+v", methods)
	}

	if _, err := repo.GetPaymentMethod(ctx, uuid.New()); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUsers(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	u := mustCreateUser(t, repo, "Ada@Example.com")
	if u.Role != core.RoleUser {
		t.Fatalf("expected default role user, got %s", u.Role)
	}

	got, err := repo.GetUserByEmail(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("lookup is case-insensitive: %v", err)
	}
	if got.ID != u.ID || got.FullName != "Test User" {
		t.Fatalf("unexpected user %+v", got)
	}

	dup := core.User{Email: "ADA@example.com", PasswordHash: "x", FullName: "Dup"}
	if err := repo.CreateUser(ctx, &dup); !errors.Is(err, core.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	if err := repo.UpdatePassword(ctx, u.ID, "new-hash"); err != nil {
		t.Fatal(err)
	}
	got, _ = repo.GetUserByID(ctx, u.ID)
	if got.PasswordHash != "new-hash" {
		t.Fatalf("password not updated")
	}
	if err := repo.UpdatePassword(ctx, uuid.New(), "x"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPaymentCRUDIsOwnerScoped(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	alice := mustCreateUser(t, repo, "alice@example.com")
	bob := mustCreateUser(t, repo, "bob@example.com")

	p := mustCreatePayment(t, repo, alice.ID, 1299, core.StatusPending, "Netflix", day(2025, 3, 1))

	got, err := repo.GetPayment(ctx, p.ID, alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Category == nil || got.Category.Name != "Subscription" {
		t.Fatalf("expected embedded category, got %+v", got.Category)
	}
	if got.PaymentMethod == nil || got.PaymentMethod.Code != "credit_card" {
		t.Fatalf("expected embedded method, got %+v", got.PaymentMethod)
	}
	if !got.TransactionDate.Equal(p.TransactionDate) || got.SyncStatus != core.SyncPending {
		t.Fatalf("unexpected payment %+v", got)
	}

	if _, err := repo.GetPayment(ctx, p.ID, bob.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("other user must not see payment, got %v", err)
	}

	p.UserID = bob.ID
	p.Description = "hijack"
	if err := repo.UpdatePayment(ctx, &p); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("other user must not update payment, got %v", err)
	}

	p.UserID = alice.ID
	p.Description = "Netflix Premium"
	p.Status = core.StatusCompleted
	p.CategoryID = seedPurchase
	if err := repo.UpdatePayment(ctx, &p); err != nil {
		t.Fatal(err)
	}
	got, _ = repo.GetPayment(ctx, p.ID, alice.ID)
	if got.Description != "Netflix Premium" || got.Status != core.StatusCompleted || got.Category.Name != "Purchase" {
		t.Fatalf("update not applied: %+v", got)
	}

	if err := repo.DeletePayment(ctx, p.ID, bob.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("other user must not delete payment, got %v", err)
	}
	if err := repo.DeletePayment(ctx, p.ID, alice.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.GetPayment(ctx, p.ID, alice.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestCreatePaymentUnknownCategory(t *testing.T) {
	repo := newTestRepo(t)
	u := mustCreateUser(t, repo, "a@example.com")
	p := core.Payment{
		UserID: u.ID, Amount: core.Money{Cents: 1}, Status: core.StatusPending,
		PaymentMethodID: seedCreditCard, CategoryID: uuid.New(),
		Description: "x", TransactionDate: day(2025, 1, 1),
	}
	if err := repo.CreatePayment(context.Background(), &p); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error from foreign key, got %v", err)
	}
}

func TestListPaymentsFilters(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	u := mustCreateUser(t, repo, "a@example.com")
	other := mustCreateUser(t, repo, "b@example.com")

	mustCreatePayment(t, repo, u.ID, 1000, core.StatusCompleted, "Spotify Family", day(2025, 1, 5))
	mustCreatePayment(t, repo, u.ID, 2500, core.StatusPending, "Gym membership", day(2025, 1, 31))
	mustCreatePayment(t, repo, u.ID, 500, core.StatusCompleted, "Coffee 100%", day(2025, 2, 10))
	mustCreatePayment(t, repo, u.ID, 9900, core.StatusFailed, "spotify duo", day(2024, 12, 24))
	mustCreatePayment(t, repo, other.ID, 4200, core.StatusCompleted, "Spotify", day(2025, 1, 6))

	all, total, err := repo.ListPayments(ctx, u.ID, core.PaymentFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 4 || len(all) != 4 {
		t.Fatalf("expected 4 payments, got %d/%d", len(all), total)
	}
	if all[0].Description != "Coffee 100%" || all[3].Description != "spotify duo" {
		t.Fatalf("expected transaction_date desc ordering, got %s .. %s", all[0].Description, all[3].Description)
	}

	page, total, _ := repo.ListPayments(ctx, u.ID, core.PaymentFilter{Limit: 2, Offset: 2})
	if total != 4 || len(page) != 2 || page[0].Description != "Spotify Family" {
		t.Fatalf("unexpected second page %d/%d", len(page), total)
	}

	search, total, _ := repo.ListPayments(ctx, u.ID, core.PaymentFilter{Search: "SPOTIFY"})
	if total != 2 || len(search) != 2 {
		t.Fatalf("expected case-insensitive search to find 2, got %d", total)
	}

	literal, total, _ := repo.ListPayments(ctx, u.ID, core.PaymentFilter{Search: "0%"})
	if total != 1 || literal[0].Description != "Coffee 100%" {
		t.Fatalf("expected %% to be matched literally, got %d", total)
	}

	status, total, _ := repo.ListPayments(ctx, u.ID, core.PaymentFilter{Status: core.StatusCompleted})
	if total != 2 || len(status) != 2 {
		t.Fatalf("expected 2 completed, got %d", total)
	}

	minAmt, maxAmt := core.Money{Cents: 600}, core.Money{Cents: 3000}
	_, total, _ = repo.ListPayments(ctx, u.ID, core.PaymentFilter{MinAmount: &minAmt, MaxAmount: &maxAmt})
	if total != 2 {
		t.Fatalf("expected 2 within amount range, got %d", total)
	}

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 31, 23, 59, 59, 0, time.UTC)
	_, total, _ = repo.ListPayments(ctx, u.ID, core.PaymentFilter{StartDate: &start, EndDate: &end})
	if total != 2 {
		t.Fatalf("expected january payments including the 31st, got %d", total)
	}
}

func TestStats(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	u := mustCreateUser(t, repo, "a@example.com")

	mustCreatePayment(t, repo, u.ID, 1000, core.StatusCompleted, "a", day(2025, 1, 5))
	mustCreatePayment(t, repo, u.ID, 2000, core.StatusCompleted, "b", day(2025, 1, 20))
	mustCreatePayment(t, repo, u.ID, 3000, core.StatusCompleted, "c", day(2025, 3, 2))
	mustCreatePayment(t, repo, u.ID, 4000, core.StatusPending, "d", day(2025, 3, 3))
	mustCreatePayment(t, repo, u.ID, 5000, core.StatusCompleted, "e", day(2024, 3, 3))

	stats, err := repo.PaymentStats(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := core.DashboardStats{TotalPayments: 5, CompletedCount: 4, PendingCount: 1, TotalAmount: core.Money{Cents: 11000}}
	if stats != want {
		t.Fatalf("expected %+v, got %+v", want, stats)
	}

	monthly, err := repo.MonthlyStats(ctx, u.ID, 2025)
	if err != nil {
		t.Fatal(err)
	}
	if len(monthly) != 2 {
		t.Fatalf("expected 2 months, got %+v", monthly)
	}
	if monthly[0].Month != "Jan" || monthly[0].Count != 2 || monthly[0].TotalAmount.Cents != 3000 {
		t.Fatalf("unexpected january %+v", monthly[0])
	}
	if monthly[1].Month != "Mar" || monthly[1].MonthNumber != 3 || monthly[1].TotalAmount.Cents != 3000 {
		t.Fatalf("unexpected march %+v", monthly[1])
	}

	recent, err := repo.RecentPayments(ctx, u.ID, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 recent, got %d", len(recent))
	}
}

func TestRefreshTokens(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	u := mustCreateUser(t, repo, "a@example.com")
	exp := time.Now().Add(time.Hour)

	if err := repo.ReplaceRefreshToken(ctx, core.RefreshToken{UserID: u.ID, Token: "first", ExpiresAt: exp}); err != nil {
		t.Fatal(err)
	}
	if err := repo.ReplaceRefreshToken(ctx, core.RefreshToken{UserID: u.ID, Token: "second", ExpiresAt: exp}); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.GetRefreshToken(ctx, "first"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("issuing a new token must delete the old one, got %v", err)
	}
	got, err := repo.GetRefreshToken(ctx, "second")
	if err != nil {
		t.Fatal(err)
	}
	if got.UserID != u.ID || got.ExpiresAt.Unix() != exp.Unix() {
		t.Fatalf("unexpected token %+v", got)
	}

	if err := repo.DeleteRefreshToken(ctx, "second"); err != nil {
		t.Fatal(err)
	}
	if err := repo.DeleteRefreshToken(ctx, "second"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResetTokensAndPurge(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	u := mustCreateUser(t, repo, "a@example.com")
	now := time.Now()

	if err := repo.CreateResetToken(ctx, core.PasswordResetToken{UserID: u.ID, Token: "live", ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	if err := repo.CreateResetToken(ctx, core.PasswordResetToken{UserID: u.ID, Token: "stale", ExpiresAt: now.Add(-time.Hour)}); err != nil {
		t.Fatal(err)
	}
	if err := repo.ReplaceRefreshToken(ctx, core.RefreshToken{UserID: u.ID, Token: "old", ExpiresAt: now.Add(-time.Minute)}); err != nil {
		t.Fatal(err)
	}

	live, err := repo.GetResetToken(ctx, "live")
	if err != nil {
		t.Fatal(err)
	}
	if live.Used || !live.Usable(now) {
		t.Fatalf("fresh token should be usable: %+v", live)
	}
	if err := repo.MarkResetTokenUsed(ctx, live.ID); err != nil {
		t.Fatal(err)
	}
	if err := repo.MarkResetTokenUsed(ctx, live.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("a token can only be used once, got %v", err)
	}
	live, _ = repo.GetResetToken(ctx, "live")
	if !live.Used {
		t.Fatal("expected token to be marked used")
	}

	n, err := repo.PurgeExpiredTokens(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected 3 purged tokens, got %d", n)
	}
}

func TestCategoryAdmin(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	c := core.Category{Name: "Travel", Description: "Trips"}
	if err := repo.CreateCategory(ctx, &c); err != nil {
		t.Fatal(err)
	}
	dup := core.Category{Name: "travel"}
	if err := repo.CreateCategory(ctx, &dup); !errors.Is(err, core.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	u := mustCreateUser(t, repo, "a@example.com")
	mustCreatePayment(t, repo, u.ID, 100, core.StatusPending, "x", day(2025, 1, 1))
	if err := repo.DeleteCategory(ctx, seedSubscription); !errors.Is(err, core.ErrConflict) {
		t.Fatalf("category in use must not be deleted, got %v", err)
	}
	if err := repo.DeleteCategory(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	if err := repo.DeleteCategory(ctx, c.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSyncStatus(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	u := mustCreateUser(t, repo, "a@example.com")
	a := mustCreatePayment(t, repo, u.ID, 100, core.StatusPending, "a", day(2025, 1, 1))
	b := mustCreatePayment(t, repo, u.ID, 200, core.StatusPending, "b", day(2025, 1, 2))

	pending, err := repo.PendingSync(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}

	if err := repo.MarkSynced(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	if err := repo.MarkSyncError(ctx, b.ID); err != nil {
		t.Fatal(err)
	}
	pending, _ = repo.PendingSync(ctx, 10)
	if len(pending) != 0 {
		t.Fatalf("expected no pending, got %d", len(pending))
	}

	got, err := repo.GetPaymentByID(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SyncStatus != core.SyncError {
		t.Fatalf("expected error status, got %s", got.SyncStatus)
	}

	b.Description = "b2"
	if err := repo.UpdatePayment(ctx, &b); err != nil {
		t.Fatal(err)
	}
	pending, _ = repo.PendingSync(ctx, 10)
	if len(pending) != 1 || pending[0].ID != b.ID {
		t.Fatalf("update should reset mirror state to pending, got %+v", pending)
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`50%_off\`); got != `50\%\_off\\` {
		t.Fatalf("unexpected escape %q", got)
	}
}
