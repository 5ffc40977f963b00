package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ainopay/internal/log"
	"ainopay/internal/ports"
)

// DefaultJanitorInterval runs the purge once a day.
const DefaultJanitorInterval = 24 * time.Hour

// TokenJanitor periodically purges expired refresh and reset tokens.
type TokenJanitor struct {
	tokens   ports.TokenRepository
	interval time.Duration
	logger   *log.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewTokenJanitor(tokens ports.TokenRepository, interval time.Duration, logger *log.Logger) *TokenJanitor {
	if interval <= 0 {
		interval = DefaultJanitorInterval
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &TokenJanitor{
		tokens:   tokens,
		interval: interval,
		logger:   logger.WithComponent(log.ComponentAuth),
		now:      time.Now,
	}
}

// Start purges once and then on every interval. Returns an error if already running.
func (j *TokenJanitor) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return fmt.Errorf("token janitor is already running")
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	stopCh, doneCh := j.stopCh, j.doneCh
	j.mu.Unlock()

	go j.runLoop(ctx, stopCh, doneCh)

	j.logger.InfoContext(ctx, "Token janitor started", "interval", j.interval)
	return nil
}

// Stop signals the loop and waits for it to finish.
func (j *TokenJanitor) Stop(ctx context.Context) error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return nil
	}
	stopCh, doneCh := j.stopCh, j.doneCh
	j.running = false
	j.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		j.logger.InfoContext(ctx, "Token janitor stopped")
		return nil
	case <-ctx.Done():
		j.logger.WarnContext(ctx, "Token janitor stop timed out")
		return ctx.Err()
	}
}

func (j *TokenJanitor) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *TokenJanitor) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.PurgeNow(ctx)

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.PurgeNow(ctx)
		}
	}
}

// PurgeNow runs a single purge and returns how many tokens were removed.
func (j *TokenJanitor) PurgeNow(ctx context.Context) int64 {
	n, err := j.tokens.PurgeExpiredTokens(ctx, j.now())
	if err != nil {
		j.logger.ErrorContext(ctx, "Failed to purge expired tokens", log.FieldError, err)
		return 0
	}
	if n > 0 {
		j.logger.InfoContext(ctx, "Purged expired tokens", "count", n)
	}
	return n
}
