package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

const (
	StatusPending   PaymentStatus = "pending"
	StatusCompleted PaymentStatus = "completed"
	StatusFailed    PaymentStatus = "failed"
	StatusRefunded  PaymentStatus = "refunded"
)

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncError   SyncStatus = "error"
)

// MaxDescriptionLength bounds Payment.Description in runes.
const MaxDescriptionLength = 500

type (
	Role          string
	PaymentStatus string
	SyncStatus    string

	User struct {
		ID           uuid.UUID `json:"id"`
		Email        string    `json:"email"`
		PasswordHash string    `json:"-"`
		FullName     string    `json:"full_name"`
		Role         Role      `json:"role"`
		CreatedAt    time.Time `json:"created_at"`
		UpdatedAt    time.Time `json:"updated_at"`
	}

	Category struct {
		ID          uuid.UUID `json:"id"`
		Name        string    `json:"name"`
		Description string    `json:"description"`
		CreatedAt   time.Time `json:"created_at"`
	}

	PaymentMethod struct {
		ID        uuid.UUID `json:"id"`
		Name      string    `json:"name"`
		Code      string    `json:"code"`
		IsActive  bool      `json:"is_active"`
		CreatedAt time.Time `json:"created_at"`
	}

	Payment struct {
		ID              uuid.UUID      `json:"id"`
		UserID          uuid.UUID      `json:"user_id"`
		Amount          Money          `json:"amount"`
		Status          PaymentStatus  `json:"status"`
		PaymentMethodID uuid.UUID      `json:"payment_method_id"`
		CategoryID      uuid.UUID      `json:"category_id"`
		Description     string         `json:"description"`
		TransactionDate time.Time      `json:"transaction_date"`
		Category        *Category      `json:"category,omitempty"`
		PaymentMethod   *PaymentMethod `json:"payment_method,omitempty"`
		SyncStatus      SyncStatus     `json:"sync_status,omitempty"`
		CreatedAt       time.Time      `json:"created_at"`
		UpdatedAt       time.Time      `json:"updated_at"`
	}

	// RefreshToken is an opaque long-lived credential exchanged for access tokens.
	RefreshToken struct {
		ID        uuid.UUID
		UserID    uuid.UUID
		Token     string
		ExpiresAt time.Time
		CreatedAt time.Time
	}

	PasswordResetToken struct {
		ID        uuid.UUID
		UserID    uuid.UUID
		Token     string
		ExpiresAt time.Time
		Used      bool
		CreatedAt time.Time
	}
)

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")

	// ErrValidation is the parent of every input validation error below.
	ErrValidation         = errors.New("validation failed")
	ErrInvalidAmount      = fmt.Errorf("%w: amount must be greater than zero", ErrValidation)
	ErrEmptyDescription   = fmt.Errorf("%w: description is required", ErrValidation)
	ErrDescriptionTooLong = fmt.Errorf("%w: description too long (max %d characters)", ErrValidation, MaxDescriptionLength)
	ErrInvalidStatus      = fmt.Errorf("%w: invalid payment status", ErrValidation)
	ErrInvalidDate        = fmt.Errorf("%w: transaction date is required", ErrValidation)
	ErrInvalidCategory    = fmt.Errorf("%w: invalid category", ErrValidation)
	ErrInvalidMethod      = fmt.Errorf("%w: invalid payment method", ErrValidation)
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// ParsePaymentStatus normalizes s and reports whether it names a known status.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	st := PaymentStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", ErrInvalidStatus
	}
	return st, nil
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (p Payment) Validate() error {
	if err := p.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(p.Description) == "" {
		return ErrEmptyDescription
	}
	if len([]rune(p.Description)) > MaxDescriptionLength {
		return ErrDescriptionTooLong
	}
	if !p.Status.Valid() {
		return ErrInvalidStatus
	}
	if p.TransactionDate.IsZero() {
		return ErrInvalidDate
	}
	if p.CategoryID == uuid.Nil {
		return ErrInvalidCategory
	}
	if p.PaymentMethodID == uuid.Nil {
		return ErrInvalidMethod
	}
	return nil
}

// Expired reports whether the token is no longer usable at now.
func (t RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

func (t PasswordResetToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Usable is true for a reset token that is neither consumed nor expired.
func (t PasswordResetToken) Usable(now time.Time) bool {
	return !t.Used && !t.Expired(now)
}
