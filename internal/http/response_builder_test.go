package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ainopay/internal/core"
	"ainopay/internal/log"
)

func TestJSONResponseBuilder_Basic(t *testing.T) {
	w := httptest.NewRecorder()

	NewJSONResponse().
		Status(http.StatusCreated).
		Message("Created").
		Data(map[string]int{"n": 1}).
		Write(w)

	if w.Code != http.StatusCreated {
		t.Errorf("Status code = %d, want %d", w.Code, http.StatusCreated)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	want := `{"success":true,"message":"Created","data":{"n":1}}`
	if got := strings.TrimSpace(w.Body.String()); got != want {
		t.Errorf("Body = %s, want %s", got, want)
	}
}

func TestJSONResponseBuilder_CustomHeader(t *testing.T) {
	w := httptest.NewRecorder()
	NewJSONResponse().Header("X-Custom", "v").Write(w)
	if w.Header().Get("X-Custom") != "v" {
		t.Errorf("X-Custom = %q", w.Header().Get("X-Custom"))
	}
}

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name       string
		builder    *JSONResponseBuilder
		wantStatus int
		wantError  string
	}{
		{"bad request", BadRequestError("Invalid input"), http.StatusBadRequest, "Invalid input"},
		{"unauthorized", UnauthorizedError("Token expired"), http.StatusUnauthorized, "Token expired"},
		{"internal server error", InternalServerError("Something broke"), http.StatusInternalServerError, "Something broke"},
		{"not found", NotFoundError("Resource not found"), http.StatusNotFound, "Resource not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.builder.Write(w)

			if w.Code != tt.wantStatus {
				t.Errorf("Status code = %d, want %d", w.Code, tt.wantStatus)
			}
			var env Envelope
			if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
				t.Fatal(err)
			}
			if env.Success || env.Error != tt.wantError {
				t.Errorf("envelope = %+v", env)
			}
		})
	}
}

func TestErrorResponse_EscapesHTML(t *testing.T) {
	w := httptest.NewRecorder()

	BadRequestError("<script>alert('xss')</script>").Write(w)

	if strings.Contains(w.Body.String(), "<script>") {
		t.Error("Error response did not escape HTML")
	}
}

func TestErrorResponse_Details(t *testing.T) {
	w := httptest.NewRecorder()
	(&RequestError{
		Message: "Validation failed",
		Details: []ValidationError{{Field: "email", Message: "Invalid email format"}},
	}).write(w)

	want := `{"success":false,"error":"Validation failed","details":[{"field":"email","message":"Invalid email format"}]}`
	if got := strings.TrimSpace(w.Body.String()); got != want {
		t.Errorf("Body = %s, want %s", got, want)
	}
}

func TestMethodNotAllowedError(t *testing.T) {
	w := httptest.NewRecorder()

	MethodNotAllowedError("GET, POST").Write(w)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Status code = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
	if w.Header().Get("Allow") != "GET, POST" {
		t.Errorf("Allow header = %q, want %q", w.Header().Get("Allow"), "GET, POST")
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantMsg    string
	}{
		{fmt.Errorf("get: %w", core.ErrNotFound), http.StatusNotFound, "Resource not found"},
		{core.ErrConflict, http.StatusConflict, "Conflicts with existing data"},
		{core.ErrInvalidCredentials, http.StatusUnauthorized, "Invalid email or password"},
		{core.ErrTokenExpired, http.StatusUnauthorized, "Token expired"},
		{core.ErrInvalidAmount, http.StatusBadRequest, core.ErrInvalidAmount.Error()},
		{errors.New("disk on fire"), http.StatusInternalServerError, "Internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, msg := statusForError(tt.err)
			if status != tt.wantStatus || msg != tt.wantMsg {
				t.Errorf("statusForError = (%d, %q), want (%d, %q)", status, msg, tt.wantStatus, tt.wantMsg)
			}
		})
	}
}

func TestWriteServiceError_HidesInternalDetails(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(log.NewContext(req.Context(), log.Discard()))
	w := httptest.NewRecorder()

	writeServiceError(w, req, errors.New("sqlite: database is locked"), log.OpRead)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Status code = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "sqlite") {
		t.Errorf("internal error leaked: %s", w.Body)
	}
}
