package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// timeLayout is fixed-width UTC so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// Rows as stored. Timestamps stay strings until mapped to core types.

type UserRow struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	FullName     string
	Role         string
	CreatedAt    string
	UpdatedAt    string
}

type CategoryRow struct {
	ID          uuid.UUID
	Name        string
	Description string
	CreatedAt   string
}

type PaymentMethodRow struct {
	ID        uuid.UUID
	Name      string
	Code      string
	IsActive  bool
	CreatedAt string
}

type PaymentRow struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	AmountCents     int64
	Status          string
	PaymentMethodID uuid.UUID
	CategoryID      uuid.UUID
	Description     string
	TransactionDate string
	SyncStatus      string
	CreatedAt       string
	UpdatedAt       string
	Category        CategoryRow
	Method          PaymentMethodRow
}

type TokenRow struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Token     string
	ExpiresAt string
	Used      bool
	CreatedAt string
}

const createUser = `-- name: CreateUser :exec
INSERT INTO users (id, email, password_hash, full_name, role, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`

func (q *Queries) CreateUser(ctx context.Context, arg UserRow) error {
	_, err := q.db.ExecContext(ctx, createUser,
		arg.ID, arg.Email, arg.PasswordHash, arg.FullName, arg.Role, arg.CreatedAt, arg.UpdatedAt)
	return err
}

const userColumns = `id, email, password_hash, full_name, role, created_at, updated_at`

const getUserByID = `-- name: GetUserByID :one
SELECT ` + userColumns + ` FROM users WHERE id = ?
`

func (q *Queries) GetUserByID(ctx context.Context, id uuid.UUID) (UserRow, error) {
	return scanUser(q.db.QueryRowContext(ctx, getUserByID, id))
}

const getUserByEmail = `-- name: GetUserByEmail :one
SELECT ` + userColumns + ` FROM users WHERE email = ? COLLATE NOCASE
`

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (UserRow, error) {
	return scanUser(q.db.QueryRowContext(ctx, getUserByEmail, email))
}

func scanUser(row *sql.Row) (UserRow, error) {
	var i UserRow
	err := row.Scan(&i.ID, &i.Email, &i.PasswordHash, &i.FullName, &i.Role, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

const updateUserPassword = `-- name: UpdateUserPassword :execrows
UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?
`

func (q *Queries) UpdateUserPassword(ctx context.Context, hash, updatedAt string, id uuid.UUID) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateUserPassword, hash, updatedAt, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteUserRefreshTokens = `-- name: DeleteUserRefreshTokens :exec
DELETE FROM refresh_tokens WHERE user_id = ?
`

func (q *Queries) DeleteUserRefreshTokens(ctx context.Context, userID uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, deleteUserRefreshTokens, userID)
	return err
}

const createRefreshToken = `-- name: CreateRefreshToken :exec
INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at) VALUES (?, ?, ?, ?, ?)
`

func (q *Queries) CreateRefreshToken(ctx context.Context, arg TokenRow) error {
	_, err := q.db.ExecContext(ctx, createRefreshToken, arg.ID, arg.UserID, arg.Token, arg.ExpiresAt, arg.CreatedAt)
	return err
}

const getRefreshToken = `-- name: GetRefreshToken :one
SELECT id, user_id, token, expires_at, created_at FROM refresh_tokens WHERE token = ?
`

func (q *Queries) GetRefreshToken(ctx context.Context, token string) (TokenRow, error) {
	var i TokenRow
	err := q.db.QueryRowContext(ctx, getRefreshToken, token).
		Scan(&i.ID, &i.UserID, &i.Token, &i.ExpiresAt, &i.CreatedAt)
	return i, err
}

const deleteRefreshToken = `-- name: DeleteRefreshToken :execrows
DELETE FROM refresh_tokens WHERE token = ?
`

func (q *Queries) DeleteRefreshToken(ctx context.Context, token string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteRefreshToken, token)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const createResetToken = `-- name: CreateResetToken :exec
INSERT INTO password_reset_tokens (id, user_id, token, expires_at, used, created_at) VALUES (?, ?, ?, ?, 0, ?)
`

func (q *Queries) CreateResetToken(ctx context.Context, arg TokenRow) error {
	_, err := q.db.ExecContext(ctx, createResetToken, arg.ID, arg.UserID, arg.Token, arg.ExpiresAt, arg.CreatedAt)
	return err
}

const getResetToken = `-- name: GetResetToken :one
SELECT id, user_id, token, expires_at, used, created_at FROM password_reset_tokens WHERE token = ?
`

func (q *Queries) GetResetToken(ctx context.Context, token string) (TokenRow, error) {
	var i TokenRow
	err := q.db.QueryRowContext(ctx, getResetToken, token).
		Scan(&i.ID, &i.UserID, &i.Token, &i.ExpiresAt, &i.Used, &i.CreatedAt)
	return i, err
}

const markResetTokenUsed = `-- name: MarkResetTokenUsed :execrows
UPDATE password_reset_tokens SET used = 1 WHERE id = ? AND used = 0
`

func (q *Queries) MarkResetTokenUsed(ctx context.Context, id uuid.UUID) (int64, error) {
	res, err := q.db.ExecContext(ctx, markResetTokenUsed, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const purgeExpiredRefreshTokens = `-- name: PurgeExpiredRefreshTokens :execrows
DELETE FROM refresh_tokens WHERE expires_at < ?
`

const purgeExpiredResetTokens = `-- name: PurgeExpiredResetTokens :execrows
DELETE FROM password_reset_tokens WHERE expires_at < ? OR used = 1
`

func (q *Queries) PurgeExpiredTokens(ctx context.Context, now string) (int64, error) {
	var total int64
	for _, stmt := range []string{purgeExpiredRefreshTokens, purgeExpiredResetTokens} {
		res, err := q.db.ExecContext(ctx, stmt, now)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

const listCategories = `-- name: ListCategories :many
SELECT id, name, description, created_at FROM categories ORDER BY name
`

func (q *Queries) ListCategories(ctx context.Context) ([]CategoryRow, error) {
	rows, err := q.db.QueryContext(ctx, listCategories)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CategoryRow
	for rows.Next() {
		var i CategoryRow
		if err := rows.Scan(&i.ID, &i.Name, &i.Description, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const getCategory = `-- name: GetCategory :one
SELECT id, name, description, created_at FROM categories WHERE id = ?
`

func (q *Queries) GetCategory(ctx context.Context, id uuid.UUID) (CategoryRow, error) {
	var i CategoryRow
	err := q.db.QueryRowContext(ctx, getCategory, id).Scan(&i.ID, &i.Name, &i.Description, &i.CreatedAt)
	return i, err
}

const createCategory = `-- name: CreateCategory :exec
INSERT INTO categories (id, name, description, created_at) VALUES (?, ?, ?, ?)
`

func (q *Queries) CreateCategory(ctx context.Context, arg CategoryRow) error {
	_, err := q.db.ExecContext(ctx, createCategory, arg.ID, arg.Name, arg.Description, arg.CreatedAt)
	return err
}

const countCategoryPayments = `-- name: CountCategoryPayments :one
SELECT COUNT(*) FROM payments WHERE category_id = ?
`

func (q *Queries) CountCategoryPayments(ctx context.Context, id uuid.UUID) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countCategoryPayments, id).Scan(&n)
	return n, err
}

const deleteCategory = `-- name: DeleteCategory :execrows
DELETE FROM categories WHERE id = ?
`

func (q *Queries) DeleteCategory(ctx context.Context, id uuid.UUID) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteCategory, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const listActivePaymentMethods = `-- name: ListActivePaymentMethods :many
SELECT id, name, code, is_active, created_at FROM payment_methods WHERE is_active = 1 ORDER BY name
`

func (q *Queries) ListActivePaymentMethods(ctx context.Context) ([]PaymentMethodRow, error) {
	rows, err := q.db.QueryContext(ctx, listActivePaymentMethods)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PaymentMethodRow
	for rows.Next() {
		var i PaymentMethodRow
		if err := rows.Scan(&i.ID, &i.Name, &i.Code, &i.IsActive, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const getPaymentMethod = `-- name: GetPaymentMethod :one
SELECT id, name, code, is_active, created_at FROM payment_methods WHERE id = ?
`

func (q *Queries) GetPaymentMethod(ctx context.Context, id uuid.UUID) (PaymentMethodRow, error) {
	var i PaymentMethodRow
	err := q.db.QueryRowContext(ctx, getPaymentMethod, id).Scan(&i.ID, &i.Name, &i.Code, &i.IsActive, &i.CreatedAt)
	return i, err
}

const createPayment = `-- name: CreatePayment :exec
INSERT INTO payments (
    id, user_id, amount_cents, status, payment_method_id, category_id,
    description, transaction_date, sync_status, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?, ?)
`

func (q *Queries) CreatePayment(ctx context.Context, arg PaymentRow) error {
	_, err := q.db.ExecContext(ctx, createPayment,
		arg.ID, arg.UserID, arg.AmountCents, arg.Status, arg.PaymentMethodID, arg.CategoryID,
		arg.Description, arg.TransactionDate, arg.CreatedAt, arg.UpdatedAt)
	return err
}

const updatePayment = `-- name: UpdatePayment :execrows
UPDATE payments
SET amount_cents = ?, status = ?, payment_method_id = ?, category_id = ?,
    description = ?, transaction_date = ?, sync_status = 'pending', updated_at = ?
WHERE id = ? AND user_id = ?
`

func (q *Queries) UpdatePayment(ctx context.Context, arg PaymentRow) (int64, error) {
	res, err := q.db.ExecContext(ctx, updatePayment,
		arg.AmountCents, arg.Status, arg.PaymentMethodID, arg.CategoryID,
		arg.Description, arg.TransactionDate, arg.UpdatedAt, arg.ID, arg.UserID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deletePayment = `-- name: DeletePayment :execrows
DELETE FROM payments WHERE id = ? AND user_id = ?
`

func (q *Queries) DeletePayment(ctx context.Context, id, userID uuid.UUID) (int64, error) {
	res, err := q.db.ExecContext(ctx, deletePayment, id, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// paymentSelect joins the lookups so a payment row is self-contained.
const paymentSelect = `SELECT
    p.id, p.user_id, p.amount_cents, p.status, p.payment_method_id, p.category_id,
    p.description, p.transaction_date, p.sync_status, p.created_at, p.updated_at,
    c.id, c.name, c.description, c.created_at,
    m.id, m.name, m.code, m.is_active, m.created_at
FROM payments p
JOIN categories c ON c.id = p.category_id
JOIN payment_methods m ON m.id = p.payment_method_id
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(s rowScanner) (PaymentRow, error) {
	var i PaymentRow
	err := s.Scan(
		&i.ID, &i.UserID, &i.AmountCents, &i.Status, &i.PaymentMethodID, &i.CategoryID,
		&i.Description, &i.TransactionDate, &i.SyncStatus, &i.CreatedAt, &i.UpdatedAt,
		&i.Category.ID, &i.Category.Name, &i.Category.Description, &i.Category.CreatedAt,
		&i.Method.ID, &i.Method.Name, &i.Method.Code, &i.Method.IsActive, &i.Method.CreatedAt,
	)
	return i, err
}

const getPayment = `-- name: GetPayment :one
` + paymentSelect + `WHERE p.id = ? AND p.user_id = ?
`

func (q *Queries) GetPayment(ctx context.Context, id, userID uuid.UUID) (PaymentRow, error) {
	return scanPayment(q.db.QueryRowContext(ctx, getPayment, id, userID))
}

const getPaymentByID = `-- name: GetPaymentByID :one
` + paymentSelect + `WHERE p.id = ?
`

func (q *Queries) GetPaymentByID(ctx context.Context, id uuid.UUID) (PaymentRow, error) {
	return scanPayment(q.db.QueryRowContext(ctx, getPaymentByID, id))
}

// QueryPayments runs a paymentSelect with a caller-built WHERE/ORDER/LIMIT suffix.
func (q *Queries) QueryPayments(ctx context.Context, suffix string, args ...any) ([]PaymentRow, error) {
	rows, err := q.db.QueryContext(ctx, paymentSelect+suffix, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PaymentRow
	for rows.Next() {
		i, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

// CountPayments counts rows matching a caller-built WHERE clause over payments p.
func (q *Queries) CountPayments(ctx context.Context, where string, args ...any) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM payments p "+where, args...).Scan(&n)
	return n, err
}

const getPaymentStats = `-- name: GetPaymentStats :one
SELECT
    COUNT(*),
    COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN status = 'completed' THEN amount_cents ELSE 0 END), 0)
FROM payments
WHERE user_id = ?
`

type PaymentStatsRow struct {
	Total          int
	CompletedCount int
	PendingCount   int
	CompletedCents int64
}

func (q *Queries) GetPaymentStats(ctx context.Context, userID uuid.UUID) (PaymentStatsRow, error) {
	var i PaymentStatsRow
	err := q.db.QueryRowContext(ctx, getPaymentStats, userID).
		Scan(&i.Total, &i.CompletedCount, &i.PendingCount, &i.CompletedCents)
	return i, err
}

const getMonthlyStats = `-- name: GetMonthlyStats :many
SELECT CAST(substr(transaction_date, 6, 2) AS INTEGER) AS month,
       SUM(amount_cents),
       COUNT(*)
FROM payments
WHERE user_id = ? AND status = 'completed' AND substr(transaction_date, 1, 4) = ?
GROUP BY month
ORDER BY month
`

type MonthlyStatsRow struct {
	Month      int
	TotalCents int64
	Count      int
}

func (q *Queries) GetMonthlyStats(ctx context.Context, userID uuid.UUID, year string) ([]MonthlyStatsRow, error) {
	rows, err := q.db.QueryContext(ctx, getMonthlyStats, userID, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []MonthlyStatsRow
	for rows.Next() {
		var i MonthlyStatsRow
		if err := rows.Scan(&i.Month, &i.TotalCents, &i.Count); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const setSyncStatus = `-- name: SetSyncStatus :execrows
UPDATE payments SET sync_status = ? WHERE id = ?
`

func (q *Queries) SetSyncStatus(ctx context.Context, status string, id uuid.UUID) (int64, error) {
	res, err := q.db.ExecContext(ctx, setSyncStatus, status, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
