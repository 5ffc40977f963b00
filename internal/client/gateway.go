// Package client talks to the AinoPay API: a gateway that carries the
// session's bearer token, a refresh scheduler that keeps the session alive,
// a small TTL cache for lookups and a typed API on top of them.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ainopay/internal/log"
)

// ErrUnauthorized matches every 401 APIError.
var ErrUnauthorized = errors.New("unauthorized")

// FieldError is one entry of an error envelope's details.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
	Details []FieldError
}

func (e *APIError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("api: %d %s", e.Status, e.Message)
	}
	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		parts = append(parts, d.Field+": "+d.Message)
	}
	return fmt.Sprintf("api: %d %s (%s)", e.Status, e.Message, strings.Join(parts, "; "))
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// Envelope is the body shape of every JSON response.
type Envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Details []FieldError    `json:"details,omitempty"`
}

// Decode unmarshals the data member into out.
func (e *Envelope) Decode(out any) error {
	if out == nil || len(e.Data) == 0 || string(e.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

// RequestOption customizes one call.
type RequestOption func(*request) error

type request struct {
	params  url.Values
	headers http.Header
	body    io.Reader
}

// WithParams appends a query string. Empty values are dropped.
func WithParams(params url.Values) RequestOption {
	return func(r *request) error {
		for k, vs := range params {
			for _, v := range vs {
				if v != "" {
					r.params.Add(k, v)
				}
			}
		}
		return nil
	}
}

// WithJSONBody marshals v as the request body.
func WithJSONBody(v any) RequestOption {
	return func(r *request) error {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		r.body = bytes.NewReader(b)
		return nil
	}
}

// WithHeader adds a header, overriding the defaults.
func WithHeader(name, value string) RequestOption {
	return func(r *request) error {
		r.headers.Set(name, value)
		return nil
	}
}

// GatewayConfig configures a Gateway. Credentials is required.
type GatewayConfig struct {
	BaseURL     string
	Credentials CredentialStore
	HTTPClient  *http.Client
	// OnUnauthorized runs after a 401 cleared the credentials.
	OnUnauthorized func()
	Logger         *log.Logger
}

// Gateway sends requests to the API with the stored bearer token.
type Gateway struct {
	baseURL        string
	creds          CredentialStore
	http           *http.Client
	onUnauthorized func()
	logger         *log.Logger
}

func NewGateway(cfg GatewayConfig) *Gateway {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Discard()
	}
	return &Gateway{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		creds:          cfg.Credentials,
		http:           cfg.HTTPClient,
		onUnauthorized: cfg.OnUnauthorized,
		logger:         cfg.Logger.WithComponent(log.ComponentClient),
	}
}

// SetUnauthorizedHook replaces the 401 callback.
func (g *Gateway) SetUnauthorizedHook(fn func()) { g.onUnauthorized = fn }

func (g *Gateway) newRequest(ctx context.Context, method, endpoint string, opts []RequestOption) (*http.Request, error) {
	r := &request{params: url.Values{}, headers: http.Header{}}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	target := g.baseURL + endpoint
	if len(r.params) > 0 {
		target += "?" + r.params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, r.body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, vs := range r.headers {
		req.Header[k] = vs
	}

	creds, err := g.creds.Load()
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if creds.Token != "" {
		req.Header.Set("Authorization", "Bearer "+creds.Token)
	}
	return req, nil
}

// Do sends the request and returns the decoded envelope of a 2xx response.
func (g *Gateway) Do(ctx context.Context, method, endpoint string, opts ...RequestOption) (*Envelope, error) {
	req, err := g.newRequest(ctx, method, endpoint, opts)
	if err != nil {
		return nil, err
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, g.failure(ctx, method, endpoint, resp)
	}

	var env Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if errors.Is(err, io.EOF) {
			return &Envelope{Success: true}, nil
		}
		return nil, fmt.Errorf("%s %s: decode response: %w", method, endpoint, err)
	}
	return &env, nil
}

// Download streams a 2xx body to w and returns the attachment filename,
// if the server sent one.
func (g *Gateway) Download(ctx context.Context, endpoint string, w io.Writer, opts ...RequestOption) (string, int64, error) {
	req, err := g.newRequest(ctx, http.MethodGet, endpoint, opts)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Accept", "*/*")
	resp, err := g.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", 0, g.failure(ctx, http.MethodGet, endpoint, resp)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return "", n, fmt.Errorf("GET %s: read body: %w", endpoint, err)
	}
	return attachmentName(resp.Header.Get("Content-Disposition")), n, nil
}

// failure builds the APIError and ends the session on a 401.
func (g *Gateway) failure(ctx context.Context, method, endpoint string, resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var env Envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err == nil {
		if env.Error != "" {
			apiErr.Message = env.Error
		}
		apiErr.Details = env.Details
	}

	if resp.StatusCode == http.StatusUnauthorized {
		if err := g.creds.Clear(); err != nil {
			g.logger.WarnContext(ctx, "Failed to clear credentials", log.FieldError, err)
		}
		if g.onUnauthorized != nil {
			g.onUnauthorized()
		}
	}

	g.logger.DebugContext(ctx, "API request failed",
		log.FieldMethod, method,
		log.FieldPath, endpoint,
		log.FieldStatusCode, resp.StatusCode,
		log.FieldError, apiErr.Message)
	return apiErr
}

func attachmentName(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}
