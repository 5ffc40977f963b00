package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ainopay/internal/amqp"
	"ainopay/internal/core"
	"ainopay/internal/log"
	"ainopay/internal/mail"
	"ainopay/internal/ports"
	"ainopay/internal/sheets"
)

var _ amqp.Handler = (*SyncWorker)(nil)

// SyncWorker mirrors payments from the database to a spreadsheet and sends
// queued mails.
type SyncWorker struct {
	repo      ports.SyncRepository
	mirror    sheets.PaymentMirror
	mailer    mail.Sender
	batchSize int
	logger    *log.Logger
}

// NewSyncWorker accepts a nil mirror, in which case payment events are
// acknowledged without mirroring.
func NewSyncWorker(repo ports.SyncRepository, mirror sheets.PaymentMirror, mailer mail.Sender, batchSize int, logger *log.Logger) *SyncWorker {
	if batchSize < 1 {
		batchSize = 10
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &SyncWorker{
		repo:      repo,
		mirror:    mirror,
		mailer:    mailer,
		batchSize: batchSize,
		logger:    logger.WithComponent(log.ComponentWorker),
	}
}

// HandlePaymentUpserted mirrors the current state of a payment.
func (w *SyncWorker) HandlePaymentUpserted(ctx context.Context, msg *amqp.PaymentSyncMessage) error {
	w.logger.InfoContext(ctx, "Processing payment sync message",
		log.FieldPaymentID, msg.PaymentID,
		log.FieldMessageType, amqp.TypePaymentUpserted)

	if w.mirror == nil {
		return nil
	}

	p, err := w.repo.GetPaymentByID(ctx, msg.PaymentID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			// Deleted before we got here; the delete message removes the row.
			w.logger.InfoContext(ctx, "Payment no longer exists, skipping", log.FieldPaymentID, msg.PaymentID)
			return nil
		}
		return fmt.Errorf("get payment from storage: %w", err)
	}

	return w.syncPayment(ctx, p)
}

// HandlePaymentDeleted removes a payment's row from the mirror.
func (w *SyncWorker) HandlePaymentDeleted(ctx context.Context, msg *amqp.PaymentDeleteMessage) error {
	w.logger.InfoContext(ctx, "Processing payment delete message",
		log.FieldPaymentID, msg.PaymentID,
		log.FieldMessageType, amqp.TypePaymentDeleted)

	if w.mirror == nil {
		w.logger.WarnContext(ctx, "No mirror configured, skipping deletion", log.FieldPaymentID, msg.PaymentID)
		return nil
	}
	if err := w.mirror.Remove(ctx, msg.PaymentID); err != nil {
		return fmt.Errorf("remove payment from mirror: %w", err)
	}

	w.logger.InfoContext(ctx, "Successfully removed payment from mirror",
		log.FieldPaymentID, msg.PaymentID,
		"timestamp", msg.Timestamp)
	return nil
}

// HandlePasswordReset delivers a queued reset mail.
func (w *SyncWorker) HandlePasswordReset(ctx context.Context, msg *amqp.PasswordResetMessage) error {
	if w.mailer == nil {
		return errors.New("no mail sender configured")
	}
	if err := w.mailer.SendPasswordReset(ctx, msg.Email, msg.Link); err != nil {
		return fmt.Errorf("send reset mail: %w", err)
	}
	return nil
}

// ProcessPending mirrors up to limit payments still marked pending. This is
// the backup path for lost messages. Returns how many were synced.
func (w *SyncWorker) ProcessPending(ctx context.Context, limit int) (int, error) {
	if w.mirror == nil {
		return 0, nil
	}
	if limit < 1 {
		limit = w.batchSize
	}

	pending, err := w.repo.PendingSync(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("get pending payments: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	w.logger.InfoContext(ctx, "Processing pending payments", "count", len(pending))

	synced := 0
	for _, p := range pending {
		if ctx.Err() != nil {
			return synced, ctx.Err()
		}
		if err := w.syncPayment(ctx, p); err != nil {
			w.logger.ErrorContext(ctx, "Failed to sync payment", log.FieldPaymentID, p.ID, log.FieldError, err)
			continue
		}
		synced++
	}
	return synced, nil
}

// StartupSyncCheck works through a larger backlog once at startup, to
// recover from worker downtime.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	synced, err := w.ProcessPending(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("startup sync: %w", err)
	}
	w.logger.InfoContext(ctx, "Startup sync completed", "synced", synced)
	return nil
}

// RunSweep calls ProcessPending on every tick until ctx is done.
func (w *SyncWorker) RunSweep(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.ProcessPending(ctx, w.batchSize); err != nil && ctx.Err() == nil {
				w.logger.ErrorContext(ctx, "Pending sweep failed", log.FieldError, err)
			}
		}
	}
}

func (w *SyncWorker) syncPayment(ctx context.Context, p core.Payment) error {
	ref, err := w.mirror.Upsert(ctx, p)
	if err != nil {
		if markErr := w.repo.MarkSyncError(ctx, p.ID); markErr != nil {
			w.logger.ErrorContext(ctx, "Failed to mark sync error", log.FieldPaymentID, p.ID, log.FieldError, markErr)
		}
		return fmt.Errorf("upsert to mirror: %w", err)
	}

	// The row is written; a failed status update only means a re-sync later.
	if err := w.repo.MarkSynced(ctx, p.ID); err != nil {
		w.logger.ErrorContext(ctx, "Failed to mark as synced", log.FieldPaymentID, p.ID, log.FieldError, err)
	}

	w.logger.InfoContext(ctx, "Successfully synced payment",
		log.FieldPaymentID, p.ID,
		log.FieldAmountCents, p.Amount.Cents,
		log.FieldSheetRow, ref)
	return nil
}
