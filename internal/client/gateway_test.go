package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestGatewayDo_InjectsTokenAndParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/payments", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.False(t, r.URL.Query().Has("search"), "empty params are dropped")
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "yes", r.Header.Get("X-Extra"))
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]int{"total": 7}})
	}))
	defer srv.Close()

	creds := &MemoryCredentials{}
	require.NoError(t, creds.Save(Credentials{Token: "tok-1"}))
	gw := NewGateway(GatewayConfig{BaseURL: srv.URL + "/api/", Credentials: creds})

	env, err := gw.Do(context.Background(), http.MethodGet, "/payments",
		WithParams(url.Values{"page": {"2"}, "search": {""}}),
		WithHeader("X-Extra", "yes"))
	require.NoError(t, err)

	var out struct{ Total int }
	require.NoError(t, env.Decode(&out))
	assert.Equal(t, 7, out.Total)
}

func TestGatewayDo_NoTokenNoHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"email":"a@b.co"}`, string(body))
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "sent"})
	}))
	defer srv.Close()

	gw := NewGateway(GatewayConfig{BaseURL: srv.URL, Credentials: &MemoryCredentials{}})
	env, err := gw.Do(context.Background(), http.MethodPost, "/auth/forgot-password",
		WithJSONBody(map[string]string{"email": "a@b.co"}))
	require.NoError(t, err)
	assert.Equal(t, "sent", env.Message)
}

func TestGatewayDo_UnauthorizedClearsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "Invalid or expired token"})
	}))
	defer srv.Close()

	creds := &MemoryCredentials{}
	require.NoError(t, creds.Save(Credentials{Token: "stale", RefreshToken: "r"}))
	hookCalls := 0
	gw := NewGateway(GatewayConfig{
		BaseURL:        srv.URL,
		Credentials:    creds,
		OnUnauthorized: func() { hookCalls++ },
	})

	_, err := gw.Do(context.Background(), http.MethodGet, "/auth/me")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Invalid or expired token", apiErr.Message)

	got, _ := creds.Load()
	assert.False(t, got.LoggedIn())
	assert.Equal(t, 1, hookCalls)
}

func TestGatewayDo_ValidationDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "Validation failed",
			"details": []map[string]string{{"field": "email", "message": "Invalid email format"}},
		})
	}))
	defer srv.Close()

	creds := &MemoryCredentials{}
	require.NoError(t, creds.Save(Credentials{Token: "keep"}))
	gw := NewGateway(GatewayConfig{BaseURL: srv.URL, Credentials: creds})

	_, err := gw.Do(context.Background(), http.MethodPost, "/auth/register")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, []FieldError{{Field: "email", Message: "Invalid email format"}}, apiErr.Details)
	assert.NotErrorIs(t, err, ErrUnauthorized)
	assert.Contains(t, err.Error(), "email: Invalid email format")

	got, _ := creds.Load()
	assert.True(t, got.LoggedIn(), "only a 401 ends the session")
}

func TestGatewayDo_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	gw := NewGateway(GatewayConfig{BaseURL: srv.URL, Credentials: &MemoryCredentials{}})
	_, err := gw.Do(context.Background(), http.MethodGet, "/x")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Bad Gateway", apiErr.Message)
}

func TestGatewayDo_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	gw := NewGateway(GatewayConfig{BaseURL: base, Credentials: &MemoryCredentials{}})
	_, err := gw.Do(context.Background(), http.MethodGet, "/health")
	require.Error(t, err)

	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}

func TestGatewayDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pending", r.URL.Query().Get("status"))
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=payments.csv")
		_, _ = io.WriteString(w, "a,b\n1,2\n")
	}))
	defer srv.Close()

	gw := NewGateway(GatewayConfig{BaseURL: srv.URL, Credentials: &MemoryCredentials{}})
	var buf bytes.Buffer
	name, n, err := gw.Download(context.Background(), "/payments/export", &buf,
		WithParams(url.Values{"status": {"pending"}}))
	require.NoError(t, err)
	assert.Equal(t, "payments.csv", name)
	assert.EqualValues(t, 8, n)
	assert.Equal(t, "a,b\n1,2\n", buf.String())
}
