package services

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"ainopay/internal/auth"
	"ainopay/internal/core"
	"ainopay/internal/storage/memory"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var (
	categoryService = uuid.MustParse("9d4b7c2e-5f3a-4e1b-8c6d-2a9f0e1b3c03")
	methodCash      = uuid.MustParse("6f1c2a4e-0b1d-4c6e-9a51-3e2f8d7c1a04")
)

type publishedEvent struct {
	kind      string
	paymentID uuid.UUID
	email     string
	link      string
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (f *fakePublisher) PublishPaymentUpserted(_ context.Context, paymentID, _ uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, publishedEvent{kind: "upserted", paymentID: paymentID})
	return f.err
}

func (f *fakePublisher) PublishPaymentDeleted(_ context.Context, paymentID, _ uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, publishedEvent{kind: "deleted", paymentID: paymentID})
	return f.err
}

func (f *fakePublisher) PublishPasswordReset(_ context.Context, email, link string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, publishedEvent{kind: "reset", email: email, link: link})
	return f.err
}

type fakeMailer struct {
	sent []string
}

func (m *fakeMailer) SendPasswordReset(_ context.Context, to, link string) error {
	m.sent = append(m.sent, to+" "+link)
	return nil
}

type countingInvalidator struct {
	calls map[uuid.UUID]int
}

func (c *countingInvalidator) Invalidate(_ context.Context, userID uuid.UUID) {
	if c.calls == nil {
		c.calls = map[uuid.UUID]int{}
	}
	c.calls[userID]++
}

func newAuthService(t *testing.T, events EventPublisher, mailer *fakeMailer) (*AuthService, *memory.Store) {
	t.Helper()
	store := memory.New()
	jwt, err := auth.NewTokenManager(testSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	svc := NewAuthService(store, store, jwt, mailer, events, AuthConfig{
		RefreshTTL:  24 * time.Hour,
		ResetTTL:    time.Hour,
		FrontendURL: "http://localhost:3000/",
	}, nil)
	return svc, store
}

func resetTokenFrom(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse link %q: %v", link, err)
	}
	if u.Path != "/auth/reset-password" {
		t.Fatalf("unexpected reset path %q", u.Path)
	}
	return u.Query().Get("token")
}

func TestAuthService_RegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc, _ := newAuthService(t, nil, &fakeMailer{})

	resp, err := svc.Register(ctx, RegisterInput{Email: " Ada@Example.com ", Password: "secret1", FullName: "Ada Lovelace"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if resp.Token == "" || resp.RefreshToken == "" || resp.ExpiresIn != 3600 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.User.Email != "ada@example.com" || resp.User.Role != core.RoleUser {
		t.Fatalf("unexpected user %+v", resp.User)
	}

	if _, err := svc.Register(ctx, RegisterInput{Email: "ADA@example.com", Password: "secret1", FullName: "Ada"}); !errors.Is(err, core.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	login, err := svc.Login(ctx, "ada@example.com", "secret1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if login.User.ID != resp.User.ID {
		t.Fatalf("login returned another user")
	}

	if _, err := svc.Login(ctx, "ada@example.com", "wrong-pass"); !errors.Is(err, core.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody@example.com", "secret1"); !errors.Is(err, core.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown email, got %v", err)
	}

	me, err := svc.Me(ctx, resp.User.ID)
	if err != nil || me.Email != "ada@example.com" {
		t.Fatalf("me: %+v %v", me, err)
	}
}

func TestAuthService_RegisterValidation(t *testing.T) {
	svc, _ := newAuthService(t, nil, &fakeMailer{})
	tests := []struct {
		name string
		in   RegisterInput
		want error
	}{
		{"empty email", RegisterInput{Password: "secret1", FullName: "Ada"}, ErrInvalidEmail},
		{"short password", RegisterInput{Email: "a@b.c", Password: "12345", FullName: "Ada"}, ErrWeakPassword},
		{"short name", RegisterInput{Email: "a@b.c", Password: "123456", FullName: "A"}, ErrInvalidFullName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.in)
			if !errors.Is(err, tt.want) || !errors.Is(err, core.ErrValidation) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestAuthService_Refresh(t *testing.T) {
	ctx := context.Background()
	svc, _ := newAuthService(t, nil, &fakeMailer{})

	first, err := svc.Register(ctx, RegisterInput{Email: "ada@example.com", Password: "secret1", FullName: "Ada"})
	if err != nil {
		t.Fatal(err)
	}

	refreshed, err := svc.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.RefreshToken != first.RefreshToken || refreshed.Token == "" {
		t.Fatalf("refresh should keep the refresh token: %+v", refreshed)
	}

	if _, err := svc.Refresh(ctx, "unknown"); !errors.Is(err, core.ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}

	// A new login replaces the previous refresh token.
	second, err := svc.Login(ctx, "ada@example.com", "secret1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Refresh(ctx, first.RefreshToken); !errors.Is(err, core.ErrInvalidToken) {
		t.Fatalf("old refresh token should be revoked, got %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	if _, err := svc.Refresh(ctx, second.RefreshToken); !errors.Is(err, core.ErrTokenExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	if _, err := svc.Refresh(ctx, second.RefreshToken); !errors.Is(err, core.ErrInvalidToken) {
		t.Fatalf("expired token should have been deleted, got %v", err)
	}
}

func TestAuthService_Logout(t *testing.T) {
	ctx := context.Background()
	svc, _ := newAuthService(t, nil, &fakeMailer{})

	resp, err := svc.Register(ctx, RegisterInput{Email: "ada@example.com", Password: "secret1", FullName: "Ada"})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Logout(ctx, resp.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := svc.Logout(ctx, resp.RefreshToken); err != nil {
		t.Fatalf("second logout should be a no-op: %v", err)
	}
	if _, err := svc.Refresh(ctx, resp.RefreshToken); !errors.Is(err, core.ErrInvalidToken) {
		t.Fatalf("expected revoked token, got %v", err)
	}
}

func TestAuthService_ForgotAndResetPassword(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	mailer := &fakeMailer{}
	svc, _ := newAuthService(t, pub, mailer)

	if _, err := svc.Register(ctx, RegisterInput{Email: "ada@example.com", Password: "secret1", FullName: "Ada"}); err != nil {
		t.Fatal(err)
	}

	if err := svc.ForgotPassword(ctx, "nobody@example.com"); err != nil {
		t.Fatalf("unknown email must not fail: %v", err)
	}
	if len(pub.events) != 0 {
		t.Fatalf("unknown email must not publish, got %v", pub.events)
	}

	if err := svc.ForgotPassword(ctx, "Ada@Example.com"); err != nil {
		t.Fatalf("forgot: %v", err)
	}
	if len(pub.events) != 1 || pub.events[0].kind != "reset" || pub.events[0].email != "ada@example.com" {
		t.Fatalf("unexpected events %v", pub.events)
	}
	if len(mailer.sent) != 0 {
		t.Fatalf("mail should go through the queue, sent %v", mailer.sent)
	}
	token := resetTokenFrom(t, pub.events[0].link)

	if err := svc.ResetPassword(ctx, token, "123"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected weak password, got %v", err)
	}
	if err := svc.ResetPassword(ctx, "bogus", "newsecret"); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("expected invalid reset token, got %v", err)
	}
	if err := svc.ResetPassword(ctx, token, "newsecret"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := svc.ResetPassword(ctx, token, "another1"); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("used token must be rejected, got %v", err)
	}

	if _, err := svc.Login(ctx, "ada@example.com", "secret1"); !errors.Is(err, core.ErrInvalidCredentials) {
		t.Fatalf("old password should fail, got %v", err)
	}
	if _, err := svc.Login(ctx, "ada@example.com", "newsecret"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestAuthService_ForgotPasswordFallsBackToMailer(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{err: errors.New("broker down")}
	mailer := &fakeMailer{}
	svc, _ := newAuthService(t, pub, mailer)

	if _, err := svc.Register(ctx, RegisterInput{Email: "ada@example.com", Password: "secret1", FullName: "Ada"}); err != nil {
		t.Fatal(err)
	}
	if err := svc.ForgotPassword(ctx, "ada@example.com"); err != nil {
		t.Fatalf("forgot: %v", err)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("expected direct mail, got %v", mailer.sent)
	}
}

func TestAuthService_ExpiredResetToken(t *testing.T) {
	ctx := context.Background()
	mailer := &fakeMailer{}
	pub := &fakePublisher{}
	svc, _ := newAuthService(t, pub, mailer)

	if _, err := svc.Register(ctx, RegisterInput{Email: "ada@example.com", Password: "secret1", FullName: "Ada"}); err != nil {
		t.Fatal(err)
	}
	if err := svc.ForgotPassword(ctx, "ada@example.com"); err != nil {
		t.Fatal(err)
	}
	token := resetTokenFrom(t, pub.events[0].link)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if err := svc.ResetPassword(ctx, token, "newsecret"); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
}

func newPaymentService(pub EventPublisher) (*PaymentService, *memory.Store, *countingInvalidator) {
	store := memory.New()
	inv := &countingInvalidator{}
	return NewPaymentService(store, store, pub, inv, nil), store, inv
}

func validInput() PaymentInput {
	return PaymentInput{
		Amount:          core.Money{Cents: 1250},
		Status:          core.StatusCompleted,
		PaymentMethodID: methodCash,
		CategoryID:      categoryService,
		Description:     "Internet",
		TransactionDate: time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC),
	}
}

func TestPaymentService_CreateGetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	svc, _, inv := newPaymentService(pub)
	owner, stranger := uuid.New(), uuid.New()

	p, err := svc.Create(ctx, owner, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Status != core.StatusPending {
		t.Errorf("new payments start pending, got %s", p.Status)
	}
	if p.Category == nil || p.Category.Name != "Service" || p.PaymentMethod == nil || p.PaymentMethod.Name != "Cash" {
		t.Errorf("lookups not embedded: %+v", p)
	}
	if inv.calls[owner] != 1 {
		t.Errorf("dashboard should be invalidated once, got %d", inv.calls[owner])
	}

	if _, err := svc.Get(ctx, p.ID, stranger); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("stranger must not see the payment, got %v", err)
	}

	in := validInput()
	in.Description = "Internet (fiber)"
	in.Amount = core.Money{Cents: 2999}
	updated, err := svc.Update(ctx, p.ID, owner, in)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != core.StatusCompleted || updated.Amount.Cents != 2999 || updated.Description != "Internet (fiber)" {
		t.Errorf("unexpected update result %+v", updated)
	}
	if _, err := svc.Update(ctx, p.ID, stranger, in); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("stranger update: %v", err)
	}
	in.Status = "paid"
	if _, err := svc.Update(ctx, p.ID, owner, in); !errors.Is(err, core.ErrInvalidStatus) {
		t.Fatalf("expected invalid status, got %v", err)
	}

	if err := svc.Delete(ctx, p.ID, stranger); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("stranger delete: %v", err)
	}
	if err := svc.Delete(ctx, p.ID, owner); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, p.ID, owner); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("deleted payment still readable: %v", err)
	}

	kinds := make([]string, 0, len(pub.events))
	for _, e := range pub.events {
		if e.paymentID != p.ID {
			t.Errorf("event for unexpected payment %v", e.paymentID)
		}
		kinds = append(kinds, e.kind)
	}
	if len(kinds) != 3 || kinds[0] != "upserted" || kinds[1] != "upserted" || kinds[2] != "deleted" {
		t.Errorf("unexpected events %v", kinds)
	}
}

func TestPaymentService_CreateValidation(t *testing.T) {
	svc, _, _ := newPaymentService(nil)
	owner := uuid.New()

	tests := []struct {
		name   string
		mutate func(*PaymentInput)
		want   error
	}{
		{"zero amount", func(in *PaymentInput) { in.Amount = core.Money{} }, core.ErrInvalidAmount},
		{"empty description", func(in *PaymentInput) { in.Description = "  " }, core.ErrEmptyDescription},
		{"unknown category", func(in *PaymentInput) { in.CategoryID = uuid.New() }, core.ErrInvalidCategory},
		{"unknown method", func(in *PaymentInput) { in.PaymentMethodID = uuid.New() }, core.ErrInvalidMethod},
		{"missing date", func(in *PaymentInput) { in.TransactionDate = time.Time{} }, core.ErrInvalidDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)
			_, err := svc.Create(context.Background(), owner, in)
			if !errors.Is(err, tt.want) || !errors.Is(err, core.ErrValidation) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestPaymentService_PublishFailureIsNotFatal(t *testing.T) {
	svc, _, _ := newPaymentService(&fakePublisher{err: errors.New("broker down")})
	if _, err := svc.Create(context.Background(), uuid.New(), validInput()); err != nil {
		t.Fatalf("create should succeed without the broker: %v", err)
	}
}

func TestPaymentService_ListPagination(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newPaymentService(nil)
	owner := uuid.New()

	for i := 0; i < 3; i++ {
		in := validInput()
		in.TransactionDate = in.TransactionDate.AddDate(0, 0, i)
		if _, err := svc.Create(ctx, owner, in); err != nil {
			t.Fatal(err)
		}
	}

	page, err := svc.List(ctx, owner, 2, 2, core.PaymentFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 3 || len(page.Payments) != 1 || page.Page != 2 || page.Limit != 2 {
		t.Fatalf("unexpected page %+v", page)
	}
	// Oldest transaction date comes last.
	if got := page.Payments[0].TransactionDate; !got.Equal(validInput().TransactionDate) {
		t.Errorf("expected oldest payment on the last page, got %v", got)
	}

	page, _ = svc.List(ctx, owner, 0, 0, core.PaymentFilter{})
	if page.Page != 1 || page.Limit != core.DefaultPageSize || len(page.Payments) != 3 {
		t.Errorf("defaults not applied: %+v", page)
	}
	page, _ = svc.List(ctx, owner, 1, 1000, core.PaymentFilter{})
	if page.Limit != core.MaxPageSize {
		t.Errorf("limit should be capped, got %d", page.Limit)
	}

	empty, _ := svc.List(ctx, uuid.New(), 1, 10, core.PaymentFilter{})
	if empty.Payments == nil || empty.Total != 0 {
		t.Errorf("empty listing should be an empty slice: %+v", empty)
	}
}

func TestPaymentService_Export(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newPaymentService(nil)
	owner := uuid.New()

	in := validInput()
	in.Description = `Rent, "March"`
	if _, err := svc.Create(ctx, owner, in); err != nil {
		t.Fatal(err)
	}

	var buf strings.Builder
	n, err := svc.Export(ctx, owner, core.PaymentFilter{Limit: 1, Offset: 5}, &buf)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 exported row, got %d", n)
	}
	want := "Transaction Date,Description,Amount,Category,Payment Method,Status\n" +
		"2025-03-04 10:30,\"Rent, \"\"March\"\"\",12.50,Service,Cash,pending\n"
	if buf.String() != want {
		t.Fatalf("unexpected csv:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestLookupService(t *testing.T) {
	ctx := context.Background()
	svc := NewLookupService(memory.New())

	cats, err := svc.Categories(ctx)
	if err != nil || len(cats) != 5 || cats[0].Name != "Donation" {
		t.Fatalf("categories: %v %v", cats, err)
	}
	methods, err := svc.PaymentMethods(ctx)
	if err != nil || len(methods) != 4 {
		t.Fatalf("methods: %v %v", methods, err)
	}

	if _, err := svc.CreateCategory(ctx, "x", ""); !errors.Is(err, ErrInvalidCategoryName) {
		t.Fatalf("expected invalid name, got %v", err)
	}
	c, err := svc.CreateCategory(ctx, " Travel ", "Trips")
	if err != nil || c.Name != "Travel" || c.ID == uuid.Nil {
		t.Fatalf("create category: %+v %v", c, err)
	}
	if _, err := svc.CreateCategory(ctx, "travel", ""); !errors.Is(err, core.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := svc.DeleteCategory(ctx, c.ID); err != nil {
		t.Fatalf("delete category: %v", err)
	}
}
