package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ainopay/internal/log"
)

const (
	// refreshLead is how long before expiry the session is refreshed.
	refreshLead = 300 * time.Second
	// minRefreshDelay bounds how soon a refresh can be scheduled.
	minRefreshDelay = 60 * time.Second
	refreshTimeout  = 30 * time.Second
)

var (
	// ErrNoRefreshToken is returned when a refresh is attempted without a session.
	ErrNoRefreshToken = errors.New("no refresh token")
	// ErrNoExpiry is returned by Start when the stored session carries no
	// expiry, so there is nothing to schedule from.
	ErrNoExpiry = errors.New("no token expiry")
)

// RefreshFunc exchanges a refresh token for a new session.
type RefreshFunc func(ctx context.Context, refreshToken string) (AuthResult, error)

type stopper interface {
	Stop() bool
}

// RefreshScheduler keeps one timer that refreshes the session shortly
// before the access token expires.
type RefreshScheduler struct {
	creds   CredentialStore
	refresh RefreshFunc
	logout  func()
	logger  *log.Logger

	now       func() time.Time
	afterFunc func(time.Duration, func()) stopper

	mu       sync.Mutex
	timer    stopper
	gen      uint64
	stopped  bool
	inflight sync.WaitGroup
}

// NewRefreshScheduler creates an idle scheduler. logout runs after a failed
// refresh cleared the credentials; it may be nil.
func NewRefreshScheduler(creds CredentialStore, refresh RefreshFunc, logout func(), logger *log.Logger) *RefreshScheduler {
	if logger == nil {
		logger = log.Discard()
	}
	return &RefreshScheduler{
		creds:   creds,
		refresh: refresh,
		logout:  logout,
		logger:  logger.WithComponent(log.ComponentClient),
		now:     time.Now,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
}

// RefreshDelay is max(expiresIn - 5m, 1m).
func RefreshDelay(expiresIn time.Duration) time.Duration {
	return max(expiresIn-refreshLead, minRefreshDelay)
}

// Schedule replaces any pending timer with one firing RefreshDelay(expiresIn)
// from now.
func (s *RefreshScheduler) Schedule(expiresIn time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduleLocked(RefreshDelay(expiresIn))
}

func (s *RefreshScheduler) scheduleLocked(delay time.Duration) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.stopped = false
	s.gen++
	gen := s.gen
	s.timer = s.afterFunc(delay, func() { s.fire(gen) })
	s.logger.Debug("Token refresh scheduled", "in", delay.String())
}

func (s *RefreshScheduler) fire(gen uint64) {
	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	_ = s.RefreshNow(ctx)
}

// Start schedules from the stored expiry. An already expired session is
// refreshed immediately; a session without expiry yields ErrNoExpiry.
func (s *RefreshScheduler) Start(ctx context.Context) error {
	creds, err := s.creds.Load()
	if err != nil {
		return err
	}
	if creds.ExpiresAt.IsZero() {
		s.logger.Warn("No token expiry time available")
		return ErrNoExpiry
	}
	expiresIn := creds.ExpiresAt.Sub(s.now()).Truncate(time.Second)
	if expiresIn <= 0 {
		return s.RefreshNow(ctx)
	}
	s.Schedule(expiresIn)
	return nil
}

// RefreshNow refreshes the session. On success the credentials are saved and
// the next refresh scheduled; on failure they are cleared and logout runs.
func (s *RefreshScheduler) RefreshNow(ctx context.Context) error {
	creds, err := s.creds.Load()
	if err != nil {
		return err
	}
	if creds.RefreshToken == "" {
		s.logger.Warn("No refresh token available")
		s.endSession()
		return ErrNoRefreshToken
	}

	res, err := s.refresh(ctx, creds.RefreshToken)
	if err != nil {
		s.logger.ErrorContext(ctx, "Token refresh failed", log.FieldError, err)
		s.endSession()
		return err
	}
	if err := s.creds.Save(FromAuth(res, s.now())); err != nil {
		s.logger.ErrorContext(ctx, "Failed to save refreshed credentials", log.FieldError, err)
		s.endSession()
		return fmt.Errorf("save credentials: %w", err)
	}

	s.mu.Lock()
	if !s.stopped {
		s.scheduleLocked(RefreshDelay(time.Duration(res.ExpiresIn) * time.Second))
	}
	s.mu.Unlock()
	s.logger.InfoContext(ctx, "Token refreshed successfully")
	return nil
}

func (s *RefreshScheduler) endSession() {
	s.Stop()
	if err := s.creds.Clear(); err != nil {
		s.logger.Warn("Failed to clear credentials", log.FieldError, err)
	}
	if s.logout != nil {
		s.logout()
	}
}

// Stop cancels the pending timer. Safe to call more than once.
func (s *RefreshScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Wait blocks until a refresh started by the timer has finished.
func (s *RefreshScheduler) Wait() {
	s.inflight.Wait()
}

// Pending reports whether a timer is armed.
func (s *RefreshScheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}
