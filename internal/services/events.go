package services

import (
	"context"

	"github.com/google/uuid"
)

// EventPublisher announces payment changes and mail jobs to the worker.
// *amqp.Client implements it.
type EventPublisher interface {
	PublishPaymentUpserted(ctx context.Context, paymentID, userID uuid.UUID) error
	PublishPaymentDeleted(ctx context.Context, paymentID, userID uuid.UUID) error
	PublishPasswordReset(ctx context.Context, email, link string) error
}

// DashboardInvalidator drops a user's cached aggregates.
type DashboardInvalidator interface {
	Invalidate(ctx context.Context, userID uuid.UUID)
}
