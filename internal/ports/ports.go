// Package ports declares the persistence contracts the services depend on.
package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ainopay/internal/core"
)

type (
	// UserRepository stores accounts. Emails are unique case-insensitively.
	UserRepository interface {
		CreateUser(ctx context.Context, u *core.User) error
		GetUserByID(ctx context.Context, id uuid.UUID) (core.User, error)
		GetUserByEmail(ctx context.Context, email string) (core.User, error)
		UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	}

	TokenRepository interface {
		// ReplaceRefreshToken stores t after deleting every other token of t.UserID.
		ReplaceRefreshToken(ctx context.Context, t core.RefreshToken) error
		GetRefreshToken(ctx context.Context, token string) (core.RefreshToken, error)
		DeleteRefreshToken(ctx context.Context, token string) error

		CreateResetToken(ctx context.Context, t core.PasswordResetToken) error
		GetResetToken(ctx context.Context, token string) (core.PasswordResetToken, error)
		MarkResetTokenUsed(ctx context.Context, id uuid.UUID) error

		// PurgeExpiredTokens removes refresh and reset tokens expired before now.
		PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error)
	}

	// PaymentRepository scopes reads and writes to an owner where a userID is taken.
	PaymentRepository interface {
		CreatePayment(ctx context.Context, p *core.Payment) error
		GetPayment(ctx context.Context, id, userID uuid.UUID) (core.Payment, error)
		UpdatePayment(ctx context.Context, p *core.Payment) error
		DeletePayment(ctx context.Context, id, userID uuid.UUID) error
		ListPayments(ctx context.Context, userID uuid.UUID, f core.PaymentFilter) ([]core.Payment, int, error)
		RecentPayments(ctx context.Context, userID uuid.UUID, limit int) ([]core.Payment, error)
		PaymentStats(ctx context.Context, userID uuid.UUID) (core.DashboardStats, error)
		MonthlyStats(ctx context.Context, userID uuid.UUID, year int) ([]core.MonthlyStats, error)
	}

	// SyncRepository is the view of payments used by the sheet mirror.
	SyncRepository interface {
		GetPaymentByID(ctx context.Context, id uuid.UUID) (core.Payment, error)
		PendingSync(ctx context.Context, limit int) ([]core.Payment, error)
		MarkSynced(ctx context.Context, id uuid.UUID) error
		MarkSyncError(ctx context.Context, id uuid.UUID) error
	}

	LookupRepository interface {
		ListCategories(ctx context.Context) ([]core.Category, error)
		GetCategory(ctx context.Context, id uuid.UUID) (core.Category, error)
		CreateCategory(ctx context.Context, c *core.Category) error
		// DeleteCategory fails with core.ErrConflict while payments reference it.
		DeleteCategory(ctx context.Context, id uuid.UUID) error
		// ListPaymentMethods returns active methods only.
		ListPaymentMethods(ctx context.Context) ([]core.PaymentMethod, error)
		GetPaymentMethod(ctx context.Context, id uuid.UUID) (core.PaymentMethod, error)
	}

	// Store is everything a storage backend provides.
	Store interface {
		UserRepository
		TokenRepository
		PaymentRepository
		SyncRepository
		LookupRepository
		Ping(ctx context.Context) error
		Close() error
	}
)
