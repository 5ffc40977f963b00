// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for decoding and validating request data:
// JSON bodies checked with struct tags, and the query filters shared by the
// payment listing and export endpoints.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"ainopay/internal/core"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

const dateLayout = "2006-01-02"

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	// Report JSON names rather than Go field names.
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// ValidationError is one entry of the details array of a 400 response.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// RequestError is returned by decodeJSON; Details is set for tag failures.
type RequestError struct {
	Message string
	Details []ValidationError
}

func (e *RequestError) Error() string { return e.Message }

func (e *RequestError) write(w http.ResponseWriter) {
	b := BadRequestError(e.Message)
	if len(e.Details) > 0 {
		b.Details(e.Details)
	}
	b.Write(w)
}

// decodeJSON reads a single JSON object into dst and validates its tags.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) *RequestError {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return &RequestError{Message: "Request body too large"}
		case errors.Is(err, io.EOF):
			return &RequestError{Message: "Request body is required"}
		case errors.Is(err, core.ErrValidation):
			return &RequestError{Message: err.Error()}
		default:
			return &RequestError{Message: "Invalid request format"}
		}
	}
	if dec.More() {
		return &RequestError{Message: "Invalid request format"}
	}
	if details := ValidateStruct(dst); len(details) > 0 {
		return &RequestError{Message: "Validation failed", Details: details}
	}
	return nil
}

// ValidateStruct validates obj and returns user-facing messages per field.
func ValidateStruct(obj any) []ValidationError {
	err := validate.Struct(obj)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []ValidationError{{Field: "", Message: err.Error()}}
	}
	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{Field: fe.Field(), Message: fieldMessage(fe)})
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Invalid email format"
	case "min":
		return "Value is too short (minimum " + fe.Param() + " characters)"
	case "max":
		return "Value is too long (maximum " + fe.Param() + " characters)"
	case "oneof":
		return "Value must be one of: " + fe.Param()
	case "uuid", "uuid4":
		return "Invalid UUID format"
	default:
		return "Invalid value"
	}
}

// parseID reads the {id} path value.
func parseID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	return id, err == nil
}

// parseTransactionDate accepts RFC 3339 or a bare YYYY-MM-DD date (UTC midnight).
func parseTransactionDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid transaction date format", core.ErrValidation)
	}
	return t, nil
}

// PaymentQuery is the parsed query string of GET /api/payments and its export.
type PaymentQuery struct {
	Page   int
	Limit  int
	Filter core.PaymentFilter
}

// ParsePaymentQuery reads page, limit and the filter parameters. Unparseable
// numbers or dates are ignored; an unknown status is an error.
func ParsePaymentQuery(q url.Values) (PaymentQuery, error) {
	pq := PaymentQuery{Page: 1, Limit: core.DefaultPageSize}

	if v, err := strconv.Atoi(strings.TrimSpace(q.Get("page"))); err == nil && v > 0 {
		pq.Page = v
	}
	if v, err := strconv.Atoi(strings.TrimSpace(q.Get("limit"))); err == nil && v > 0 {
		pq.Limit = v
	}

	if v := strings.TrimSpace(q.Get("status")); v != "" {
		st, err := core.ParsePaymentStatus(v)
		if err != nil {
			return PaymentQuery{}, err
		}
		pq.Filter.Status = st
	}
	pq.Filter.Search = sanitizeInput(q.Get("search"))

	if v := strings.TrimSpace(q.Get("min_amount")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			m := core.MoneyFromFloat(f)
			pq.Filter.MinAmount = &m
		}
	}
	if v := strings.TrimSpace(q.Get("max_amount")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			m := core.MoneyFromFloat(f)
			pq.Filter.MaxAmount = &m
		}
	}

	if v := strings.TrimSpace(q.Get("start_date")); v != "" {
		if t, err := time.Parse(dateLayout, v); err == nil {
			pq.Filter.StartDate = &t
		}
	}
	if v := strings.TrimSpace(q.Get("end_date")); v != "" {
		if t, err := time.Parse(dateLayout, v); err == nil {
			// Inclusive of the whole end day.
			t = t.Add(23*time.Hour + 59*time.Minute + 59*time.Second)
			pq.Filter.EndDate = &t
		}
	}
	return pq, nil
}

// parseYear reads ?year=, falling back to 0 (current year) when absent or invalid.
func parseYear(q url.Values) int {
	y, err := strconv.Atoi(strings.TrimSpace(q.Get("year")))
	if err != nil || y < 1970 || y > 9999 {
		return 0
	}
	return y
}

// sanitizeInput removes control characters except tab, newline and carriage
// return, and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
