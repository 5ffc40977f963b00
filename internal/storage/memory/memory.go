// Package memory is a map-backed ports.Store for development and tests.
// Contents are lost when the process exits.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ainopay/internal/core"
	"ainopay/internal/ports"
)

var _ ports.Store = (*Store)(nil)

var seedTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Seed lookups share their ids with the SQLite seed migration.
var (
	seedMethods = []core.PaymentMethod{
		{ID: uuid.MustParse("6f1c2a4e-0b1d-4c6e-9a51-3e2f8d7c1a01"), Name: "Bank Transfer", Code: "bank_transfer", IsActive: true, CreatedAt: seedTime},
		{ID: uuid.MustParse("6f1c2a4e-0b1d-4c6e-9a51-3e2f8d7c1a02"), Name: "Credit Card", Code: "credit_card", IsActive: true, CreatedAt: seedTime},
		{ID: uuid.MustParse("6f1c2a4e-0b1d-4c6e-9a51-3e2f8d7c1a03"), Name: "E-Wallet", Code: "e_wallet", IsActive: true, CreatedAt: seedTime},
		{ID: uuid.MustParse("6f1c2a4e-0b1d-4c6e-9a51-3e2f8d7c1a04"), Name: "Cash", Code: "cash", IsActive: true, CreatedAt: seedTime},
	}
	seedCategories = []core.Category{
		{ID: uuid.MustParse("9d4b7c2e-5f3a-4e1b-8c6d-2a9f0e1b3c01"), Name: "Subscription", Description: "Monthly or yearly subscriptions", CreatedAt: seedTime},
		{ID: uuid.MustParse("9d4b7c2e-5f3a-4e1b-8c6d-2a9f0e1b3c02"), Name: "Purchase", Description: "One-time purchases", CreatedAt: seedTime},
		{ID: uuid.MustParse("9d4b7c2e-5f3a-4e1b-8c6d-2a9f0e1b3c03"), Name: "Service", Description: "Service payments", CreatedAt: seedTime},
		{ID: uuid.MustParse("9d4b7c2e-5f3a-4e1b-8c6d-2a9f0e1b3c04"), Name: "Donation", Description: "Charitable donations", CreatedAt: seedTime},
		{ID: uuid.MustParse("9d4b7c2e-5f3a-4e1b-8c6d-2a9f0e1b3c05"), Name: "Other", Description: "Other payments", CreatedAt: seedTime},
	}
)

type Store struct {
	mu         sync.RWMutex
	users      map[uuid.UUID]core.User
	categories map[uuid.UUID]core.Category
	methods    map[uuid.UUID]core.PaymentMethod
	payments   map[uuid.UUID]core.Payment
	refresh    map[string]core.RefreshToken
	resets     map[string]core.PasswordResetToken
	now        func() time.Time
}

// New returns a store holding the default categories and payment methods.
func New() *Store {
	s := &Store{
		users:      make(map[uuid.UUID]core.User),
		categories: make(map[uuid.UUID]core.Category),
		methods:    make(map[uuid.UUID]core.PaymentMethod),
		payments:   make(map[uuid.UUID]core.Payment),
		refresh:    make(map[string]core.RefreshToken),
		resets:     make(map[string]core.PasswordResetToken),
		now:        time.Now,
	}
	for _, c := range seedCategories {
		s.categories[c.ID] = c
	}
	for _, m := range seedMethods {
		s.methods[m.ID] = m
	}
	return s
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

// Users

func (s *Store) CreateUser(_ context.Context, u *core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return fmt.Errorf("%w: email %s", core.ErrConflict, u.Email)
		}
	}
	now := s.now().UTC()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Role == "" {
		u.Role = core.RoleUser
	}
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.ID] = *u
	return nil
}

func (s *Store) GetUserByID(_ context.Context, id uuid.UUID) (core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return core.User{}, core.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return core.User{}, core.ErrNotFound
}

func (s *Store) UpdatePassword(_ context.Context, id uuid.UUID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return core.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = s.now().UTC()
	s.users[id] = u
	return nil
}

// Tokens

func (s *Store) ReplaceRefreshToken(_ context.Context, t core.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, existing := range s.refresh {
		if existing.UserID == t.UserID {
			delete(s.refresh, k)
		}
	}
	if _, taken := s.refresh[t.Token]; taken {
		return core.ErrConflict
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt = s.now().UTC()
	s.refresh[t.Token] = t
	return nil
}

func (s *Store) GetRefreshToken(_ context.Context, token string) (core.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.refresh[token]
	if !ok {
		return core.RefreshToken{}, core.ErrNotFound
	}
	return t, nil
}

func (s *Store) DeleteRefreshToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refresh[token]; !ok {
		return core.ErrNotFound
	}
	delete(s.refresh, token)
	return nil
}

func (s *Store) CreateResetToken(_ context.Context, t core.PasswordResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.resets[t.Token]; taken {
		return core.ErrConflict
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt = s.now().UTC()
	s.resets[t.Token] = t
	return nil
}

func (s *Store) GetResetToken(_ context.Context, token string) (core.PasswordResetToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.resets[token]
	if !ok {
		return core.PasswordResetToken{}, core.ErrNotFound
	}
	return t, nil
}

func (s *Store) MarkResetTokenUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, t := range s.resets {
		if t.ID == id && !t.Used {
			t.Used = true
			s.resets[k] = t
			return nil
		}
	}
	return core.ErrNotFound
}

func (s *Store) PurgeExpiredTokens(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, t := range s.refresh {
		if t.ExpiresAt.Before(now) {
			delete(s.refresh, k)
			n++
		}
	}
	for k, t := range s.resets {
		if t.Used || t.ExpiresAt.Before(now) {
			delete(s.resets, k)
			n++
		}
	}
	return n, nil
}

// Lookups

func (s *Store) ListCategories(context.Context) ([]core.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out, nil
}

func (s *Store) GetCategory(_ context.Context, id uuid.UUID) (core.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.categories[id]
	if !ok {
		return core.Category{}, core.ErrNotFound
	}
	return c, nil
}

func (s *Store) CreateCategory(_ context.Context, c *core.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.categories {
		if strings.EqualFold(existing.Name, c.Name) {
			return fmt.Errorf("%w: category %s", core.ErrConflict, c.Name)
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = s.now().UTC()
	s.categories[c.ID] = *c
	return nil
}

func (s *Store) DeleteCategory(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.categories[id]; !ok {
		return core.ErrNotFound
	}
	for _, p := range s.payments {
		if p.CategoryID == id {
			return fmt.Errorf("%w: category is in use", core.ErrConflict)
		}
	}
	delete(s.categories, id)
	return nil
}

func (s *Store) ListPaymentMethods(context.Context) ([]core.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.PaymentMethod, 0, len(s.methods))
	for _, m := range s.methods {
		if m.IsActive {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetPaymentMethod(_ context.Context, id uuid.UUID) (core.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.methods[id]
	if !ok {
		return core.PaymentMethod{}, core.ErrNotFound
	}
	return m, nil
}

// Payments

// checkRefs must be called with s.mu held.
func (s *Store) checkRefs(p *core.Payment) error {
	if _, ok := s.categories[p.CategoryID]; !ok {
		return core.ErrInvalidCategory
	}
	if _, ok := s.methods[p.PaymentMethodID]; !ok {
		return core.ErrInvalidMethod
	}
	return nil
}

// hydrate attaches lookups to a copy of p. Caller holds s.mu.
func (s *Store) hydrate(p core.Payment) core.Payment {
	if c, ok := s.categories[p.CategoryID]; ok {
		p.Category = &c
	}
	if m, ok := s.methods[p.PaymentMethodID]; ok {
		p.PaymentMethod = &m
	}
	return p
}

func (s *Store) CreatePayment(_ context.Context, p *core.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRefs(p); err != nil {
		return err
	}
	now := s.now().UTC()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt, p.UpdatedAt = now, now
	p.SyncStatus = core.SyncPending
	stored := *p
	stored.Category, stored.PaymentMethod = nil, nil
	s.payments[p.ID] = stored
	return nil
}

func (s *Store) GetPayment(_ context.Context, id, userID uuid.UUID) (core.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok || p.UserID != userID {
		return core.Payment{}, core.ErrNotFound
	}
	return s.hydrate(p), nil
}

func (s *Store) GetPaymentByID(_ context.Context, id uuid.UUID) (core.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok {
		return core.Payment{}, core.ErrNotFound
	}
	return s.hydrate(p), nil
}

func (s *Store) UpdatePayment(_ context.Context, p *core.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.payments[p.ID]
	if !ok || existing.UserID != p.UserID {
		return core.ErrNotFound
	}
	if err := s.checkRefs(p); err != nil {
		return err
	}
	existing.Amount = p.Amount
	existing.Status = p.Status
	existing.PaymentMethodID = p.PaymentMethodID
	existing.CategoryID = p.CategoryID
	existing.Description = p.Description
	existing.TransactionDate = p.TransactionDate
	existing.SyncStatus = core.SyncPending
	existing.UpdatedAt = s.now().UTC()
	s.payments[p.ID] = existing

	p.CreatedAt, p.UpdatedAt, p.SyncStatus = existing.CreatedAt, existing.UpdatedAt, existing.SyncStatus
	return nil
}

func (s *Store) DeletePayment(_ context.Context, id, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok || p.UserID != userID {
		return core.ErrNotFound
	}
	delete(s.payments, id)
	return nil
}

// userPayments returns the user's payments newest transaction first. Caller holds s.mu.
func (s *Store) userPayments(userID uuid.UUID) []core.Payment {
	var out []core.Payment
	for _, p := range s.payments {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TransactionDate.Equal(out[j].TransactionDate) {
			return out[i].TransactionDate.After(out[j].TransactionDate)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(strings.TrimSpace(needle)))
}

func (s *Store) ListPayments(_ context.Context, userID uuid.UUID, f core.PaymentFilter) ([]core.Payment, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []core.Payment
	for _, p := range s.userPayments(userID) {
		if f.Matches(p, containsFold) {
			matched = append(matched, p)
		}
	}
	total := len(matched)
	if f.Limit > 0 {
		start := min(f.Offset, total)
		end := min(start+f.Limit, total)
		matched = matched[start:end]
	}
	out := make([]core.Payment, 0, len(matched))
	for _, p := range matched {
		out = append(out, s.hydrate(p))
	}
	return out, total, nil
}

func (s *Store) RecentPayments(_ context.Context, userID uuid.UUID, limit int) ([]core.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ps := s.userPayments(userID)
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].CreatedAt.After(ps[j].CreatedAt) })
	if len(ps) > limit {
		ps = ps[:limit]
	}
	out := make([]core.Payment, 0, len(ps))
	for _, p := range ps {
		out = append(out, s.hydrate(p))
	}
	return out, nil
}

func (s *Store) PaymentStats(_ context.Context, userID uuid.UUID) (core.DashboardStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return core.AggregateStats(s.userPayments(userID)), nil
}

func (s *Store) MonthlyStats(_ context.Context, userID uuid.UUID, year int) ([]core.MonthlyStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return core.AggregateMonthly(s.userPayments(userID), year), nil
}

// Sync

func (s *Store) PendingSync(_ context.Context, limit int) ([]core.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Payment
	for _, p := range s.payments {
		if p.SyncStatus == core.SyncPending {
			out = append(out, s.hydrate(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) setSync(id uuid.UUID, st core.SyncStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return core.ErrNotFound
	}
	p.SyncStatus = st
	s.payments[id] = p
	return nil
}

func (s *Store) MarkSynced(_ context.Context, id uuid.UUID) error {
	return s.setSync(id, core.SyncSynced)
}

func (s *Store) MarkSyncError(_ context.Context, id uuid.UUID) error {
	return s.setSync(id, core.SyncError)
}
