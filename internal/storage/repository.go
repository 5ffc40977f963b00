package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"ainopay/internal/core"
	"ainopay/internal/ports"

	_ "modernc.org/sqlite"
)

var _ ports.Store = (*SQLiteRepository)(nil)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	schema  uint
	now     func() time.Time
}

// DSN builds a modernc sqlite data source with foreign keys enforced.
func DSN(dbPath string) string {
	return "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := DSN(dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := RunMigrations(dsn)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
		schema:  version,
		now:     time.Now,
	}, nil
}

// SchemaVersion is the migration version the database was opened at.
func (r *SQLiteRepository) SchemaVersion() uint {
	return r.schema
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// mapErr converts driver errors into core sentinels.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return core.ErrNotFound
	case strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %v", core.ErrConflict, err)
	case strings.Contains(err.Error(), "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %v", core.ErrValidation, err)
	}
	return err
}

func notFoundIfNone(n int64, err error) error {
	if err != nil {
		return mapErr(err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// Users

func (r *SQLiteRepository) CreateUser(ctx context.Context, u *core.User) error {
	now := r.now().UTC()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Role == "" {
		u.Role = core.RoleUser
	}
	u.CreatedAt, u.UpdatedAt = now, now
	err := r.queries.CreateUser(ctx, UserRow{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		FullName:     u.FullName,
		Role:         string(u.Role),
		CreatedAt:    formatTime(now),
		UpdatedAt:    formatTime(now),
	})
	if err != nil {
		return fmt.Errorf("create user: %w", mapErr(err))
	}
	slog.InfoContext(ctx, "User saved to SQLite", "user_id", u.ID)
	return nil
}

func (r *SQLiteRepository) GetUserByID(ctx context.Context, id uuid.UUID) (core.User, error) {
	row, err := r.queries.GetUserByID(ctx, id)
	if err != nil {
		return core.User{}, mapErr(err)
	}
	return toUser(row)
}

func (r *SQLiteRepository) GetUserByEmail(ctx context.Context, email string) (core.User, error) {
	row, err := r.queries.GetUserByEmail(ctx, email)
	if err != nil {
		return core.User{}, mapErr(err)
	}
	return toUser(row)
}

func (r *SQLiteRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	n, err := r.queries.UpdateUserPassword(ctx, passwordHash, formatTime(r.now()), id)
	if err := notFoundIfNone(n, err); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func toUser(row UserRow) (core.User, error) {
	created, err := parseTime(row.CreatedAt)
	if err != nil {
		return core.User{}, fmt.Errorf("parse created_at: %w", err)
	}
	updated, err := parseTime(row.UpdatedAt)
	if err != nil {
		return core.User{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return core.User{
		ID:           row.ID,
		Email:        row.Email,
		PasswordHash: row.PasswordHash,
		FullName:     row.FullName,
		Role:         core.Role(row.Role),
		CreatedAt:    created,
		UpdatedAt:    updated,
	}, nil
}

// Tokens

func (r *SQLiteRepository) ReplaceRefreshToken(ctx context.Context, t core.RefreshToken) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	q := r.queries.WithTx(tx)
	if err := q.DeleteUserRefreshTokens(ctx, t.UserID); err != nil {
		return fmt.Errorf("delete old refresh tokens: %w", err)
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	err = q.CreateRefreshToken(ctx, TokenRow{
		ID:        t.ID,
		UserID:    t.UserID,
		Token:     t.Token,
		ExpiresAt: formatTime(t.ExpiresAt),
		CreatedAt: formatTime(r.now()),
	})
	if err != nil {
		return fmt.Errorf("create refresh token: %w", mapErr(err))
	}
	return tx.Commit()
}

func (r *SQLiteRepository) GetRefreshToken(ctx context.Context, token string) (core.RefreshToken, error) {
	row, err := r.queries.GetRefreshToken(ctx, token)
	if err != nil {
		return core.RefreshToken{}, mapErr(err)
	}
	expires, err := parseTime(row.ExpiresAt)
	if err != nil {
		return core.RefreshToken{}, fmt.Errorf("parse expires_at: %w", err)
	}
	created, _ := parseTime(row.CreatedAt)
	return core.RefreshToken{ID: row.ID, UserID: row.UserID, Token: row.Token, ExpiresAt: expires, CreatedAt: created}, nil
}

func (r *SQLiteRepository) DeleteRefreshToken(ctx context.Context, token string) error {
	n, err := r.queries.DeleteRefreshToken(ctx, token)
	return notFoundIfNone(n, err)
}

func (r *SQLiteRepository) CreateResetToken(ctx context.Context, t core.PasswordResetToken) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	err := r.queries.CreateResetToken(ctx, TokenRow{
		ID:        t.ID,
		UserID:    t.UserID,
		Token:     t.Token,
		ExpiresAt: formatTime(t.ExpiresAt),
		CreatedAt: formatTime(r.now()),
	})
	if err != nil {
		return fmt.Errorf("create reset token: %w", mapErr(err))
	}
	return nil
}

func (r *SQLiteRepository) GetResetToken(ctx context.Context, token string) (core.PasswordResetToken, error) {
	row, err := r.queries.GetResetToken(ctx, token)
	if err != nil {
		return core.PasswordResetToken{}, mapErr(err)
	}
	expires, err := parseTime(row.ExpiresAt)
	if err != nil {
		return core.PasswordResetToken{}, fmt.Errorf("parse expires_at: %w", err)
	}
	created, _ := parseTime(row.CreatedAt)
	return core.PasswordResetToken{
		ID:        row.ID,
		UserID:    row.UserID,
		Token:     row.Token,
		ExpiresAt: expires,
		Used:      row.Used,
		CreatedAt: created,
	}, nil
}

func (r *SQLiteRepository) MarkResetTokenUsed(ctx context.Context, id uuid.UUID) error {
	n, err := r.queries.MarkResetTokenUsed(ctx, id)
	return notFoundIfNone(n, err)
}

func (r *SQLiteRepository) PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	n, err := r.queries.PurgeExpiredTokens(ctx, formatTime(now))
	if err != nil {
		return n, fmt.Errorf("purge expired tokens: %w", err)
	}
	return n, nil
}

// Lookups

func (r *SQLiteRepository) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := r.queries.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	out := make([]core.Category, 0, len(rows))
	for _, row := range rows {
		out = append(out, toCategory(row))
	}
	return out, nil
}

func (r *SQLiteRepository) GetCategory(ctx context.Context, id uuid.UUID) (core.Category, error) {
	row, err := r.queries.GetCategory(ctx, id)
	if err != nil {
		return core.Category{}, mapErr(err)
	}
	return toCategory(row), nil
}

func (r *SQLiteRepository) CreateCategory(ctx context.Context, c *core.Category) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = r.now().UTC()
	err := r.queries.CreateCategory(ctx, CategoryRow{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		CreatedAt:   formatTime(c.CreatedAt),
	})
	if err != nil {
		return fmt.Errorf("create category: %w", mapErr(err))
	}
	return nil
}

func (r *SQLiteRepository) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	inUse, err := r.queries.CountCategoryPayments(ctx, id)
	if err != nil {
		return fmt.Errorf("count category payments: %w", err)
	}
	if inUse > 0 {
		return fmt.Errorf("%w: category is used by %d payments", core.ErrConflict, inUse)
	}
	n, err := r.queries.DeleteCategory(ctx, id)
	return notFoundIfNone(n, err)
}

func (r *SQLiteRepository) ListPaymentMethods(ctx context.Context) ([]core.PaymentMethod, error) {
	rows, err := r.queries.ListActivePaymentMethods(ctx)
	if err != nil {
		return nil, fmt.Errorf("list payment methods: %w", err)
	}
	out := make([]core.PaymentMethod, 0, len(rows))
	for _, row := range rows {
		out = append(out, toMethod(row))
	}
	return out, nil
}

func (r *SQLiteRepository) GetPaymentMethod(ctx context.Context, id uuid.UUID) (core.PaymentMethod, error) {
	row, err := r.queries.GetPaymentMethod(ctx, id)
	if err != nil {
		return core.PaymentMethod{}, mapErr(err)
	}
	return toMethod(row), nil
}

func toCategory(row CategoryRow) core.Category {
	created, _ := parseTime(row.CreatedAt)
	return core.Category{ID: row.ID, Name: row.Name, Description: row.Description, CreatedAt: created}
}

func toMethod(row PaymentMethodRow) core.PaymentMethod {
	created, _ := parseTime(row.CreatedAt)
	return core.PaymentMethod{ID: row.ID, Name: row.Name, Code: row.Code, IsActive: row.IsActive, CreatedAt: created}
}

// Payments

func (r *SQLiteRepository) CreatePayment(ctx context.Context, p *core.Payment) error {
	now := r.now().UTC()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt, p.UpdatedAt = now, now
	p.SyncStatus = core.SyncPending
	err := r.queries.CreatePayment(ctx, PaymentRow{
		ID:              p.ID,
		UserID:          p.UserID,
		AmountCents:     p.Amount.Cents,
		Status:          string(p.Status),
		PaymentMethodID: p.PaymentMethodID,
		CategoryID:      p.CategoryID,
		Description:     p.Description,
		TransactionDate: formatTime(p.TransactionDate),
		CreatedAt:       formatTime(now),
		UpdatedAt:       formatTime(now),
	})
	if err != nil {
		return fmt.Errorf("create payment: %w", mapErr(err))
	}

	slog.InfoContext(ctx, "Payment saved to SQLite",
		"payment_id", p.ID,
		"user_id", p.UserID,
		"amount_cents", p.Amount.Cents,
		"status", p.Status)
	return nil
}

func (r *SQLiteRepository) GetPayment(ctx context.Context, id, userID uuid.UUID) (core.Payment, error) {
	row, err := r.queries.GetPayment(ctx, id, userID)
	if err != nil {
		return core.Payment{}, mapErr(err)
	}
	return toPayment(row)
}

func (r *SQLiteRepository) GetPaymentByID(ctx context.Context, id uuid.UUID) (core.Payment, error) {
	row, err := r.queries.GetPaymentByID(ctx, id)
	if err != nil {
		return core.Payment{}, mapErr(err)
	}
	return toPayment(row)
}

func (r *SQLiteRepository) UpdatePayment(ctx context.Context, p *core.Payment) error {
	now := r.now().UTC()
	n, err := r.queries.UpdatePayment(ctx, PaymentRow{
		ID:              p.ID,
		UserID:          p.UserID,
		AmountCents:     p.Amount.Cents,
		Status:          string(p.Status),
		PaymentMethodID: p.PaymentMethodID,
		CategoryID:      p.CategoryID,
		Description:     p.Description,
		TransactionDate: formatTime(p.TransactionDate),
		UpdatedAt:       formatTime(now),
	})
	if err := notFoundIfNone(n, err); err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	p.UpdatedAt = now
	p.SyncStatus = core.SyncPending
	slog.InfoContext(ctx, "Payment updated in SQLite", "payment_id", p.ID, "status", p.Status)
	return nil
}

func (r *SQLiteRepository) DeletePayment(ctx context.Context, id, userID uuid.UUID) error {
	n, err := r.queries.DeletePayment(ctx, id, userID)
	if err := notFoundIfNone(n, err); err != nil {
		return fmt.Errorf("delete payment: %w", err)
	}
	slog.InfoContext(ctx, "Payment deleted from SQLite", "payment_id", id)
	return nil
}

func (r *SQLiteRepository) ListPayments(ctx context.Context, userID uuid.UUID, f core.PaymentFilter) ([]core.Payment, int, error) {
	where, args := paymentWhere(userID, f)

	total, err := r.queries.CountPayments(ctx, where, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}

	suffix := where + "ORDER BY p.transaction_date DESC, p.created_at DESC\n"
	if f.Limit > 0 {
		suffix += "LIMIT ? OFFSET ?\n"
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := r.queries.QueryPayments(ctx, suffix, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}
	payments, err := toPayments(rows)
	if err != nil {
		return nil, 0, err
	}
	return payments, total, nil
}

func (r *SQLiteRepository) RecentPayments(ctx context.Context, userID uuid.UUID, limit int) ([]core.Payment, error) {
	rows, err := r.queries.QueryPayments(ctx,
		"WHERE p.user_id = ?\nORDER BY p.created_at DESC\nLIMIT ?\n", userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent payments: %w", err)
	}
	return toPayments(rows)
}

func (r *SQLiteRepository) PaymentStats(ctx context.Context, userID uuid.UUID) (core.DashboardStats, error) {
	row, err := r.queries.GetPaymentStats(ctx, userID)
	if err != nil {
		return core.DashboardStats{}, fmt.Errorf("payment stats: %w", err)
	}
	return core.DashboardStats{
		TotalPayments:  row.Total,
		CompletedCount: row.CompletedCount,
		PendingCount:   row.PendingCount,
		TotalAmount:    core.Money{Cents: row.CompletedCents},
	}, nil
}

func (r *SQLiteRepository) MonthlyStats(ctx context.Context, userID uuid.UUID, year int) ([]core.MonthlyStats, error) {
	rows, err := r.queries.GetMonthlyStats(ctx, userID, fmt.Sprintf("%04d", year))
	if err != nil {
		return nil, fmt.Errorf("monthly stats: %w", err)
	}
	out := make([]core.MonthlyStats, 0, len(rows))
	for _, row := range rows {
		out = append(out, core.MonthlyStats{
			Month:       core.MonthName(row.Month),
			MonthNumber: row.Month,
			TotalAmount: core.Money{Cents: row.TotalCents},
			Count:       row.Count,
		})
	}
	return out, nil
}

// Sync

func (r *SQLiteRepository) PendingSync(ctx context.Context, limit int) ([]core.Payment, error) {
	rows, err := r.queries.QueryPayments(ctx,
		"WHERE p.sync_status = 'pending'\nORDER BY p.created_at\nLIMIT ?\n", limit)
	if err != nil {
		return nil, fmt.Errorf("get pending sync payments: %w", err)
	}
	return toPayments(rows)
}

// MarkSynced marks a payment as successfully mirrored
func (r *SQLiteRepository) MarkSynced(ctx context.Context, id uuid.UUID) error {
	n, err := r.queries.SetSyncStatus(ctx, string(core.SyncSynced), id)
	if err := notFoundIfNone(n, err); err != nil {
		return fmt.Errorf("mark payment synced: %w", err)
	}
	slog.InfoContext(ctx, "Payment marked as synced", "payment_id", id)
	return nil
}

// MarkSyncError marks a payment as having mirror errors
func (r *SQLiteRepository) MarkSyncError(ctx context.Context, id uuid.UUID) error {
	n, err := r.queries.SetSyncStatus(ctx, string(core.SyncError), id)
	if err := notFoundIfNone(n, err); err != nil {
		return fmt.Errorf("mark payment sync error: %w", err)
	}
	slog.WarnContext(ctx, "Payment marked with sync error", "payment_id", id)
	return nil
}

// paymentWhere renders the filter as a WHERE clause over payments p.
func paymentWhere(userID uuid.UUID, f core.PaymentFilter) (string, []any) {
	clauses := []string{"p.user_id = ?"}
	args := []any{userID}

	if f.Status != "" {
		clauses = append(clauses, "p.status = ?")
		args = append(args, string(f.Status))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		clauses = append(clauses, `LOWER(p.description) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(strings.ToLower(s))+"%")
	}
	if f.MinAmount != nil {
		clauses = append(clauses, "p.amount_cents >= ?")
		args = append(args, f.MinAmount.Cents)
	}
	if f.MaxAmount != nil {
		clauses = append(clauses, "p.amount_cents <= ?")
		args = append(args, f.MaxAmount.Cents)
	}
	if f.StartDate != nil {
		clauses = append(clauses, "p.transaction_date >= ?")
		args = append(args, formatTime(*f.StartDate))
	}
	if f.EndDate != nil {
		clauses = append(clauses, "p.transaction_date <= ?")
		args = append(args, formatTime(*f.EndDate))
	}
	return "WHERE " + strings.Join(clauses, " AND ") + "\n", args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func toPayments(rows []PaymentRow) ([]core.Payment, error) {
	out := make([]core.Payment, 0, len(rows))
	for _, row := range rows {
		p, err := toPayment(row)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func toPayment(row PaymentRow) (core.Payment, error) {
	date, err := parseTime(row.TransactionDate)
	if err != nil {
		return core.Payment{}, fmt.Errorf("parse transaction_date of %s: %w", row.ID, err)
	}
	created, err := parseTime(row.CreatedAt)
	if err != nil {
		return core.Payment{}, fmt.Errorf("parse created_at of %s: %w", row.ID, err)
	}
	updated, err := parseTime(row.UpdatedAt)
	if err != nil {
		return core.Payment{}, fmt.Errorf("parse updated_at of %s: %w", row.ID, err)
	}
	cat := toCategory(row.Category)
	method := toMethod(row.Method)
	return core.Payment{
		ID:              row.ID,
		UserID:          row.UserID,
		Amount:          core.Money{Cents: row.AmountCents},
		Status:          core.PaymentStatus(row.Status),
		PaymentMethodID: row.PaymentMethodID,
		CategoryID:      row.CategoryID,
		Description:     row.Description,
		TransactionDate: date,
		Category:        &cat,
		PaymentMethod:   &method,
		SyncStatus:      core.SyncStatus(row.SyncStatus),
		CreatedAt:       created,
		UpdatedAt:       updated,
	}, nil
}
