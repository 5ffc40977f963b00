package http

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"ainopay/internal/core"
	"ainopay/internal/log"
	"ainopay/internal/middleware/authn"
	"ainopay/internal/services"
)

type paymentRequest struct {
	Amount          core.Money `json:"amount"`
	Status          string     `json:"status" validate:"omitempty,oneof=pending completed failed refunded"`
	CategoryID      string     `json:"category_id" validate:"required,uuid"`
	PaymentMethodID string     `json:"payment_method_id" validate:"required,uuid"`
	Description     string     `json:"description" validate:"required,max=500"`
	TransactionDate string     `json:"transaction_date" validate:"required"`
}

// input converts the request; requireStatus is set for updates.
func (req paymentRequest) input(requireStatus bool) (services.PaymentInput, *RequestError) {
	date, err := parseTransactionDate(req.TransactionDate)
	if err != nil {
		return services.PaymentInput{}, &RequestError{Message: "Invalid transaction date format"}
	}
	in := services.PaymentInput{
		Amount:          req.Amount,
		PaymentMethodID: uuid.MustParse(req.PaymentMethodID),
		CategoryID:      uuid.MustParse(req.CategoryID),
		Description:     sanitizeInput(req.Description),
		TransactionDate: date,
	}
	if requireStatus {
		if req.Status == "" {
			return services.PaymentInput{}, &RequestError{
				Message: "Validation failed",
				Details: []ValidationError{{Field: "status", Message: "This field is required"}},
			}
		}
		in.Status = core.PaymentStatus(req.Status)
	}
	return in, nil
}

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	q, err := ParsePaymentQuery(r.URL.Query())
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	page, err := s.svc.Payments.List(r.Context(), authn.UserID(r.Context()), q.Page, q.Limit, q.Filter)
	if err != nil {
		writeServiceError(w, r, err, log.OpList)
		return
	}
	NewJSONResponse().Data(page).Write(w)
}

func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		BadRequestError("Invalid payment ID").Write(w)
		return
	}
	p, err := s.svc.Payments.Get(r.Context(), id, authn.UserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err, log.OpRead)
		return
	}
	NewJSONResponse().Data(p).Write(w)
}

func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if rerr := decodeJSON(w, r, &req); rerr != nil {
		rerr.write(w)
		return
	}
	in, rerr := req.input(false)
	if rerr != nil {
		rerr.write(w)
		return
	}

	p, err := s.svc.Payments.Create(r.Context(), authn.UserID(r.Context()), in)
	if err != nil {
		writeServiceError(w, r, err, log.OpCreate)
		return
	}
	s.countCreated()

	NewJSONResponse().
		Status(http.StatusCreated).
		Message("Payment created successfully").
		Data(p).
		Write(w)
}

func (s *Server) handleUpdatePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		BadRequestError("Invalid payment ID").Write(w)
		return
	}
	var req paymentRequest
	if rerr := decodeJSON(w, r, &req); rerr != nil {
		rerr.write(w)
		return
	}
	in, rerr := req.input(true)
	if rerr != nil {
		rerr.write(w)
		return
	}

	p, err := s.svc.Payments.Update(r.Context(), id, authn.UserID(r.Context()), in)
	if err != nil {
		writeServiceError(w, r, err, log.OpUpdate)
		return
	}
	NewJSONResponse().Message("Payment updated successfully").Data(p).Write(w)
}

func (s *Server) handleDeletePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		BadRequestError("Invalid payment ID").Write(w)
		return
	}
	if err := s.svc.Payments.Delete(r.Context(), id, authn.UserID(r.Context())); err != nil {
		writeServiceError(w, r, err, log.OpDelete)
		return
	}
	s.countDeleted()
	NewJSONResponse().Message("Payment deleted successfully").Write(w)
}

// handleExportPayments buffers the CSV so a storage failure can still be
// reported as JSON.
func (s *Server) handleExportPayments(w http.ResponseWriter, r *http.Request) {
	q, err := ParsePaymentQuery(r.URL.Query())
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	var buf bytes.Buffer
	if _, err := s.svc.Payments.Export(r.Context(), authn.UserID(r.Context()), q.Filter, &buf); err != nil {
		writeServiceError(w, r, err, log.OpExport)
		return
	}
	s.countExport()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=payments.csv")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
