package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"ainopay/internal/auth"
	"ainopay/internal/core"
	"ainopay/internal/log"
	"ainopay/internal/mail"
	"ainopay/internal/ports"
)

const (
	MinPasswordLength = 6
	MinFullNameLength = 2
	MaxFullNameLength = 100
)

var (
	ErrWeakPassword      = fmt.Errorf("%w: password must be at least %d characters", core.ErrValidation, MinPasswordLength)
	ErrInvalidFullName   = fmt.Errorf("%w: full name must be between %d and %d characters", core.ErrValidation, MinFullNameLength, MaxFullNameLength)
	ErrInvalidEmail      = fmt.Errorf("%w: email is required", core.ErrValidation)
	ErrInvalidResetToken = fmt.Errorf("%w: invalid or expired reset token", core.ErrValidation)
)

// AuthResponse is returned by register, login and refresh.
type AuthResponse struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	User         core.User `json:"user"`
}

type RegisterInput struct {
	Email    string
	Password string
	FullName string
}

type AuthConfig struct {
	RefreshTTL  time.Duration
	ResetTTL    time.Duration
	FrontendURL string
}

// AuthService handles accounts, sessions and password resets.
type AuthService struct {
	users  ports.UserRepository
	tokens ports.TokenRepository
	jwt    *auth.TokenManager
	mailer mail.Sender
	events EventPublisher
	cfg    AuthConfig
	logger *log.Logger
	now    func() time.Time
}

// NewAuthService wires the service. events may be nil, in which case reset
// mails go straight to mailer.
func NewAuthService(users ports.UserRepository, tokens ports.TokenRepository, jwt *auth.TokenManager,
	mailer mail.Sender, events EventPublisher, cfg AuthConfig, logger *log.Logger) *AuthService {
	if logger == nil {
		logger = log.Discard()
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = time.Hour
	}
	return &AuthService{
		users:  users,
		tokens: tokens,
		jwt:    jwt,
		mailer: mailer,
		events: events,
		cfg:    cfg,
		logger: logger.WithComponent(log.ComponentAuth),
		now:    time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (AuthResponse, error) {
	email := normalizeEmail(in.Email)
	fullName := strings.TrimSpace(in.FullName)
	switch {
	case email == "":
		return AuthResponse{}, ErrInvalidEmail
	case len(in.Password) < MinPasswordLength:
		return AuthResponse{}, ErrWeakPassword
	case utf8.RuneCountInString(fullName) < MinFullNameLength || utf8.RuneCountInString(fullName) > MaxFullNameLength:
		return AuthResponse{}, ErrInvalidFullName
	}

	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return AuthResponse{}, fmt.Errorf("register %s: %w", email, core.ErrConflict)
	} else if !errors.Is(err, core.ErrNotFound) {
		return AuthResponse{}, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return AuthResponse{}, err
	}
	user := core.User{
		Email:        email,
		PasswordHash: hash,
		FullName:     fullName,
		Role:         core.RoleUser,
	}
	if err := s.users.CreateUser(ctx, &user); err != nil {
		return AuthResponse{}, err
	}

	s.logger.InfoContext(ctx, "User registered", log.FieldUserID, user.ID)
	return s.issue(ctx, user)
}

func (s *AuthService) Login(ctx context.Context, email, password string) (AuthResponse, error) {
	user, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return AuthResponse{}, core.ErrInvalidCredentials
		}
		return AuthResponse{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := auth.CheckPassword(user.PasswordHash, password); err != nil {
		s.logger.WarnContext(ctx, "Login failed", log.FieldUserID, user.ID)
		return AuthResponse{}, err
	}
	return s.issue(ctx, user)
}

func (s *AuthService) Me(ctx context.Context, userID uuid.UUID) (core.User, error) {
	return s.users.GetUserByID(ctx, userID)
}

// Refresh issues a new access token for a stored refresh token. The refresh
// token itself is returned unchanged. Expired tokens are deleted.
func (s *AuthService) Refresh(ctx context.Context, token string) (AuthResponse, error) {
	rt, err := s.tokens.GetRefreshToken(ctx, token)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return AuthResponse{}, core.ErrInvalidToken
		}
		return AuthResponse{}, fmt.Errorf("lookup refresh token: %w", err)
	}
	if rt.Expired(s.now()) {
		if err := s.tokens.DeleteRefreshToken(ctx, token); err != nil && !errors.Is(err, core.ErrNotFound) {
			s.logger.WarnContext(ctx, "Failed to delete expired refresh token", log.FieldError, err)
		}
		return AuthResponse{}, core.ErrTokenExpired
	}

	user, err := s.users.GetUserByID(ctx, rt.UserID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return AuthResponse{}, core.ErrInvalidToken
		}
		return AuthResponse{}, err
	}
	access, ttl, err := s.jwt.Generate(user)
	if err != nil {
		return AuthResponse{}, err
	}
	return AuthResponse{
		Token:        access,
		RefreshToken: rt.Token,
		ExpiresIn:    int64(ttl / time.Second),
		User:         user,
	}, nil
}

// Logout revokes a refresh token. Unknown tokens are ignored.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.tokens.DeleteRefreshToken(ctx, token); err != nil && !errors.Is(err, core.ErrNotFound) {
		return err
	}
	return nil
}

// ForgotPassword stores a reset token and hands the link to the worker, or
// mails it directly. It reports nothing about whether the address exists.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			s.logger.InfoContext(ctx, "Password reset requested for unknown e-mail")
			return nil
		}
		return fmt.Errorf("lookup user: %w", err)
	}

	now := s.now()
	rt := core.PasswordResetToken{
		ID:        uuid.New(),
		UserID:    user.ID,
		Token:     uuid.NewString(),
		ExpiresAt: now.Add(s.cfg.ResetTTL),
		CreatedAt: now,
	}
	if err := s.tokens.CreateResetToken(ctx, rt); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	link := mail.ResetLink(s.cfg.FrontendURL, rt.Token)
	if s.events != nil {
		err := s.events.PublishPasswordReset(ctx, user.Email, link)
		if err == nil {
			return nil
		}
		s.logger.WarnContext(ctx, "Failed to queue reset mail, sending directly",
			log.FieldUserID, user.ID, log.FieldError, err)
	}
	if s.mailer != nil {
		if err := s.mailer.SendPasswordReset(ctx, user.Email, link); err != nil {
			s.logger.ErrorContext(ctx, "Failed to send reset mail", log.FieldUserID, user.ID, log.FieldError, err)
		}
	}
	return nil
}

func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < MinPasswordLength {
		return ErrWeakPassword
	}
	rt, err := s.tokens.GetResetToken(ctx, token)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return ErrInvalidResetToken
		}
		return fmt.Errorf("lookup reset token: %w", err)
	}
	if !rt.Usable(s.now()) {
		return ErrInvalidResetToken
	}

	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, rt.UserID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := s.tokens.MarkResetTokenUsed(ctx, rt.ID); err != nil {
		return fmt.Errorf("mark reset token used: %w", err)
	}
	s.logger.InfoContext(ctx, "Password reset", log.FieldUserID, rt.UserID)
	return nil
}

// issue signs an access token and replaces the user's refresh token.
func (s *AuthService) issue(ctx context.Context, user core.User) (AuthResponse, error) {
	access, ttl, err := s.jwt.Generate(user)
	if err != nil {
		return AuthResponse{}, err
	}
	now := s.now()
	rt := core.RefreshToken{
		ID:        uuid.New(),
		UserID:    user.ID,
		Token:     uuid.NewString(),
		ExpiresAt: now.Add(s.cfg.RefreshTTL),
		CreatedAt: now,
	}
	if err := s.tokens.ReplaceRefreshToken(ctx, rt); err != nil {
		return AuthResponse{}, fmt.Errorf("store refresh token: %w", err)
	}
	return AuthResponse{
		Token:        access,
		RefreshToken: rt.Token,
		ExpiresIn:    int64(ttl / time.Second),
		User:         user,
	}, nil
}
