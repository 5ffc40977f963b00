package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"ainopay/internal/core"
	"ainopay/internal/log"
	"ainopay/internal/ports"
)

// PaymentInput carries the editable fields of a payment. Status is ignored
// on create.
type PaymentInput struct {
	Amount          core.Money
	Status          core.PaymentStatus
	PaymentMethodID uuid.UUID
	CategoryID      uuid.UUID
	Description     string
	TransactionDate time.Time
}

// CSVHeader is the first line of an export.
var CSVHeader = []string{"Transaction Date", "Description", "Amount", "Category", "Payment Method", "Status"}

// PaymentService orchestrates payment operations across storage, the event
// bus and the dashboard cache.
type PaymentService struct {
	payments  ports.PaymentRepository
	lookups   ports.LookupRepository
	events    EventPublisher
	dashboard DashboardInvalidator
	logger    *log.Logger
}

func NewPaymentService(payments ports.PaymentRepository, lookups ports.LookupRepository,
	events EventPublisher, dashboard DashboardInvalidator, logger *log.Logger) *PaymentService {
	if logger == nil {
		logger = log.Discard()
	}
	return &PaymentService{
		payments:  payments,
		lookups:   lookups,
		events:    events,
		dashboard: dashboard,
		logger:    logger.WithComponent(log.ComponentPayment),
	}
}

// Create saves a pending payment owned by userID and returns it with its
// category and method attached.
func (s *PaymentService) Create(ctx context.Context, userID uuid.UUID, in PaymentInput) (core.Payment, error) {
	p := core.Payment{
		UserID:          userID,
		Amount:          in.Amount,
		Status:          core.StatusPending,
		PaymentMethodID: in.PaymentMethodID,
		CategoryID:      in.CategoryID,
		Description:     in.Description,
		TransactionDate: in.TransactionDate.UTC(),
	}
	if err := p.Validate(); err != nil {
		return core.Payment{}, err
	}
	if err := s.checkRefs(ctx, p); err != nil {
		return core.Payment{}, err
	}
	if err := s.payments.CreatePayment(ctx, &p); err != nil {
		return core.Payment{}, fmt.Errorf("save payment: %w", err)
	}

	s.afterWrite(ctx, p.ID, userID, false)
	return s.payments.GetPayment(ctx, p.ID, userID)
}

func (s *PaymentService) Get(ctx context.Context, id, userID uuid.UUID) (core.Payment, error) {
	return s.payments.GetPayment(ctx, id, userID)
}

// Update replaces every editable field of the caller's payment.
func (s *PaymentService) Update(ctx context.Context, id, userID uuid.UUID, in PaymentInput) (core.Payment, error) {
	p, err := s.payments.GetPayment(ctx, id, userID)
	if err != nil {
		return core.Payment{}, err
	}

	p.Amount = in.Amount
	p.Status = in.Status
	p.PaymentMethodID = in.PaymentMethodID
	p.CategoryID = in.CategoryID
	p.Description = in.Description
	p.TransactionDate = in.TransactionDate.UTC()
	if err := p.Validate(); err != nil {
		return core.Payment{}, err
	}
	if err := s.checkRefs(ctx, p); err != nil {
		return core.Payment{}, err
	}
	if err := s.payments.UpdatePayment(ctx, &p); err != nil {
		return core.Payment{}, fmt.Errorf("update payment: %w", err)
	}

	s.afterWrite(ctx, id, userID, false)
	return s.payments.GetPayment(ctx, id, userID)
}

func (s *PaymentService) Delete(ctx context.Context, id, userID uuid.UUID) error {
	if err := s.payments.DeletePayment(ctx, id, userID); err != nil {
		return err
	}
	s.afterWrite(ctx, id, userID, true)
	return nil
}

// List returns one page. page starts at 1; limit defaults to
// core.DefaultPageSize and is capped at core.MaxPageSize.
func (s *PaymentService) List(ctx context.Context, userID uuid.UUID, page, limit int, f core.PaymentFilter) (core.PaymentPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = core.DefaultPageSize
	}
	if limit > core.MaxPageSize {
		limit = core.MaxPageSize
	}
	f.Limit = limit
	f.Offset = (page - 1) * limit

	payments, total, err := s.payments.ListPayments(ctx, userID, f)
	if err != nil {
		return core.PaymentPage{}, fmt.Errorf("list payments: %w", err)
	}
	if payments == nil {
		payments = []core.Payment{}
	}
	return core.PaymentPage{Payments: payments, Total: total, Page: page, Limit: limit}, nil
}

// Export writes every payment matching f as CSV, ignoring pagination.
func (s *PaymentService) Export(ctx context.Context, userID uuid.UUID, f core.PaymentFilter, w io.Writer) (int, error) {
	f.Limit, f.Offset = 0, 0
	payments, _, err := s.payments.ListPayments(ctx, userID, f)
	if err != nil {
		return 0, fmt.Errorf("list payments: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return 0, err
	}
	for _, p := range payments {
		if err := cw.Write(csvRow(p)); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, err
	}

	s.logger.InfoContext(ctx, "Payments exported",
		log.FieldUserID, userID,
		log.FieldOperation, log.OpExport,
		"count", len(payments))
	return len(payments), nil
}

func csvRow(p core.Payment) []string {
	var category, method string
	if p.Category != nil {
		category = p.Category.Name
	}
	if p.PaymentMethod != nil {
		method = p.PaymentMethod.Name
	}
	return []string{
		p.TransactionDate.Format("2006-01-02 15:04"),
		p.Description,
		fmt.Sprintf("%.2f", p.Amount.Float()),
		category,
		method,
		string(p.Status),
	}
}

// checkRefs turns unknown or inactive lookups into validation errors.
func (s *PaymentService) checkRefs(ctx context.Context, p core.Payment) error {
	if _, err := s.lookups.GetCategory(ctx, p.CategoryID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.ErrInvalidCategory
		}
		return fmt.Errorf("lookup category: %w", err)
	}
	m, err := s.lookups.GetPaymentMethod(ctx, p.PaymentMethodID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.ErrInvalidMethod
		}
		return fmt.Errorf("lookup payment method: %w", err)
	}
	if !m.IsActive {
		return core.ErrInvalidMethod
	}
	return nil
}

// afterWrite publishes the change and invalidates the dashboard. Publishing
// is best effort: the payment is already stored and the worker sweep picks
// up anything left pending.
func (s *PaymentService) afterWrite(ctx context.Context, id, userID uuid.UUID, deleted bool) {
	if s.dashboard != nil {
		s.dashboard.Invalidate(ctx, userID)
	}
	if s.events == nil {
		return
	}

	var err error
	if deleted {
		err = s.events.PublishPaymentDeleted(ctx, id, userID)
	} else {
		err = s.events.PublishPaymentUpserted(ctx, id, userID)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish payment event",
			log.FieldPaymentID, id,
			log.FieldUserID, userID,
			log.FieldError, err)
	}
}
