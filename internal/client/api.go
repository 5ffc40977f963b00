package client

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"ainopay/internal/core"
	"ainopay/internal/log"
)

// DefaultBaseURL is the API root of a local server.
const DefaultBaseURL = "http://localhost:8080/api"

// AuthResult is returned by register, login and refresh.
type AuthResult struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	User         core.User `json:"user"`
}

// PaymentRequest is the body of create and update. Status is only sent on update.
type PaymentRequest struct {
	Amount          core.Money `json:"amount"`
	Status          string     `json:"status,omitempty"`
	CategoryID      uuid.UUID  `json:"category_id"`
	PaymentMethodID uuid.UUID  `json:"payment_method_id"`
	Description     string     `json:"description"`
	TransactionDate string     `json:"transaction_date"`
}

// ListOptions filters ListPayments and ExportPayments. Zero fields are omitted.
type ListOptions struct {
	Page      int
	Limit     int
	Status    string
	Search    string
	MinAmount string
	MaxAmount string
	StartDate string
	EndDate   string
}

func (o ListOptions) values() url.Values {
	v := url.Values{}
	if o.Page > 0 {
		v.Set("page", strconv.Itoa(o.Page))
	}
	if o.Limit > 0 {
		v.Set("limit", strconv.Itoa(o.Limit))
	}
	v.Set("status", o.Status)
	v.Set("search", o.Search)
	v.Set("min_amount", o.MinAmount)
	v.Set("max_amount", o.MaxAmount)
	v.Set("start_date", o.StartDate)
	v.Set("end_date", o.EndDate)
	return v
}

type Config struct {
	BaseURL     string
	Credentials CredentialStore
	// Storage backs the lookup cache.
	Storage    Storage
	HTTPClient *http.Client
	// OnLogout runs once whenever the session ends on its own: a 401 or a
	// failed refresh.
	OnLogout func()
	Logger   *log.Logger
}

// API is the typed AinoPay client.
type API struct {
	gw        *Gateway
	creds     CredentialStore
	scheduler *RefreshScheduler
	logger    *log.Logger

	categories *Cached[[]core.Category]
	methods    *Cached[[]core.PaymentMethod]
	lookups    singleflight.Group

	onLogout  func()
	loggedOut atomic.Bool
	now       func() time.Time
}

func New(cfg Config) *API {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Credentials == nil {
		cfg.Credentials = &MemoryCredentials{}
	}
	if cfg.Storage == nil {
		cfg.Storage = NewMemoryStorage()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Discard()
	}

	a := &API{
		creds:      cfg.Credentials,
		logger:     cfg.Logger.WithComponent(log.ComponentClient),
		categories: NewCached[[]core.Category](cfg.Storage, "categories", LookupTTL),
		methods:    NewCached[[]core.PaymentMethod](cfg.Storage, "payment_methods", LookupTTL),
		onLogout:   cfg.OnLogout,
		now:        time.Now,
	}
	a.gw = NewGateway(GatewayConfig{
		BaseURL:     cfg.BaseURL,
		Credentials: cfg.Credentials,
		HTTPClient:  cfg.HTTPClient,
		OnUnauthorized: func() {
			a.scheduler.Stop()
			a.sessionEnded()
		},
		Logger: cfg.Logger,
	})
	a.scheduler = NewRefreshScheduler(cfg.Credentials, a.refresh, a.sessionEnded, cfg.Logger)
	return a
}

func (a *API) Gateway() *Gateway { return a.gw }
func (a *API) Scheduler() *RefreshScheduler { return a.scheduler }
func (a *API) Credentials() (Credentials, error) { return a.creds.Load() }

func (a *API) sessionEnded() {
	if a.loggedOut.CompareAndSwap(false, true) && a.onLogout != nil {
		a.onLogout()
	}
}

func (a *API) startSession(res AuthResult) error {
	if err := a.creds.Save(FromAuth(res, a.now())); err != nil {
		return err
	}
	a.loggedOut.Store(false)
	a.scheduler.Schedule(time.Duration(res.ExpiresIn) * time.Second)
	return nil
}

func (a *API) refresh(ctx context.Context, refreshToken string) (AuthResult, error) {
	var res AuthResult
	env, err := a.gw.Do(ctx, http.MethodPost, "/auth/refresh",
		WithJSONBody(map[string]string{"refresh_token": refreshToken}))
	if err != nil {
		return res, err
	}
	if err := env.Decode(&res); err != nil {
		return res, err
	}
	a.loggedOut.Store(false)
	return res, nil
}

func (a *API) authenticate(ctx context.Context, endpoint string, body any) (AuthResult, error) {
	var res AuthResult
	env, err := a.gw.Do(ctx, http.MethodPost, endpoint, WithJSONBody(body))
	if err != nil {
		return res, err
	}
	if err := env.Decode(&res); err != nil {
		return res, err
	}
	return res, a.startSession(res)
}

func (a *API) Register(ctx context.Context, email, password, fullName string) (AuthResult, error) {
	return a.authenticate(ctx, "/auth/register", map[string]string{
		"email": email, "password": password, "full_name": fullName,
	})
}

func (a *API) Login(ctx context.Context, email, password string) (AuthResult, error) {
	return a.authenticate(ctx, "/auth/login", map[string]string{
		"email": email, "password": password,
	})
}

// Logout revokes the refresh token on the server, best effort, and forgets
// the session locally.
func (a *API) Logout(ctx context.Context) error {
	a.scheduler.Stop()
	creds, err := a.creds.Load()
	if err != nil {
		return err
	}
	if creds.RefreshToken != "" {
		if _, err := a.gw.Do(ctx, http.MethodPost, "/auth/logout",
			WithJSONBody(map[string]string{"refresh_token": creds.RefreshToken})); err != nil {
			a.logger.WarnContext(ctx, "Server logout failed", log.FieldError, err)
		}
	}
	a.loggedOut.Store(true)
	return a.creds.Clear()
}

func (a *API) Me(ctx context.Context) (core.User, error) {
	var u core.User
	return u, a.get(ctx, "/auth/me", nil, &u)
}

// ForgotPassword returns the server's message, which never reveals whether
// the address exists.
func (a *API) ForgotPassword(ctx context.Context, email string) (string, error) {
	env, err := a.gw.Do(ctx, http.MethodPost, "/auth/forgot-password",
		WithJSONBody(map[string]string{"email": email}))
	if err != nil {
		return "", err
	}
	return env.Message, nil
}

func (a *API) ResetPassword(ctx context.Context, token, newPassword string) error {
	_, err := a.gw.Do(ctx, http.MethodPost, "/auth/reset-password",
		WithJSONBody(map[string]string{"token": token, "new_password": newPassword}))
	return err
}

func (a *API) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	env, err := a.gw.Do(ctx, http.MethodGet, endpoint, WithParams(params))
	if err != nil {
		return err
	}
	return env.Decode(out)
}

func (a *API) ListPayments(ctx context.Context, opts ListOptions) (core.PaymentPage, error) {
	var page core.PaymentPage
	return page, a.get(ctx, "/payments", opts.values(), &page)
}

func (a *API) GetPayment(ctx context.Context, id uuid.UUID) (core.Payment, error) {
	var p core.Payment
	return p, a.get(ctx, "/payments/"+id.String(), nil, &p)
}

func (a *API) CreatePayment(ctx context.Context, req PaymentRequest) (core.Payment, error) {
	var p core.Payment
	req.Status = ""
	env, err := a.gw.Do(ctx, http.MethodPost, "/payments", WithJSONBody(req))
	if err != nil {
		return p, err
	}
	return p, env.Decode(&p)
}

func (a *API) UpdatePayment(ctx context.Context, id uuid.UUID, req PaymentRequest) (core.Payment, error) {
	var p core.Payment
	env, err := a.gw.Do(ctx, http.MethodPut, "/payments/"+id.String(), WithJSONBody(req))
	if err != nil {
		return p, err
	}
	return p, env.Decode(&p)
}

func (a *API) DeletePayment(ctx context.Context, id uuid.UUID) error {
	_, err := a.gw.Do(ctx, http.MethodDelete, "/payments/"+id.String())
	return err
}

// Categories is served from the lookup cache when fresh. Concurrent misses
// share one request.
func (a *API) Categories(ctx context.Context) ([]core.Category, error) {
	return cachedLookup(ctx, a, a.categories, "categories", "/categories")
}

func (a *API) PaymentMethods(ctx context.Context) ([]core.PaymentMethod, error) {
	return cachedLookup(ctx, a, a.methods, "payment_methods", "/payment-methods")
}

func cachedLookup[T any](ctx context.Context, a *API, c *Cached[[]T], key, endpoint string) ([]T, error) {
	if v, ok := c.Get(); ok {
		return v, nil
	}
	v, err, _ := a.lookups.Do(key, func() (any, error) {
		var out []T
		if err := a.get(ctx, endpoint, nil, &out); err != nil {
			return nil, err
		}
		if err := c.Set(out); err != nil {
			a.logger.WarnContext(ctx, "Failed to cache lookup", "key", key, log.FieldError, err)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]T), nil
}

// CreateCategory needs an admin session. It drops the cached categories.
func (a *API) CreateCategory(ctx context.Context, name, description string) (core.Category, error) {
	var c core.Category
	env, err := a.gw.Do(ctx, http.MethodPost, "/categories",
		WithJSONBody(map[string]string{"name": name, "description": description}))
	if err != nil {
		return c, err
	}
	a.dropLookup(ctx, a.categories, "categories")
	return c, env.Decode(&c)
}

func (a *API) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	if _, err := a.gw.Do(ctx, http.MethodDelete, "/categories/"+id.String()); err != nil {
		return err
	}
	a.dropLookup(ctx, a.categories, "categories")
	return nil
}

// InvalidateLookups drops cached categories and payment methods.
func (a *API) InvalidateLookups() {
	ctx := context.Background()
	a.dropLookup(ctx, a.categories, "categories")
	a.dropLookup(ctx, a.methods, "payment_methods")
}

type clearer interface {
	Clear() error
}

func (a *API) dropLookup(ctx context.Context, c clearer, key string) {
	if err := c.Clear(); err != nil {
		a.logger.WarnContext(ctx, "Failed to drop cached lookup", "key", key, log.FieldError, err)
	}
}

func (a *API) DashboardStats(ctx context.Context) (core.DashboardStats, error) {
	var s core.DashboardStats
	return s, a.get(ctx, "/dashboard/stats", nil, &s)
}

// MonthlyStats returns completed totals per month; year 0 asks for the
// current year.
func (a *API) MonthlyStats(ctx context.Context, year int) ([]core.MonthlyStats, error) {
	params := url.Values{}
	if year > 0 {
		params.Set("year", strconv.Itoa(year))
	}
	var months []core.MonthlyStats
	return months, a.get(ctx, "/dashboard/chart", params, &months)
}

func (a *API) RecentPayments(ctx context.Context) ([]core.Payment, error) {
	var ps []core.Payment
	return ps, a.get(ctx, "/dashboard/recent", nil, &ps)
}

// ExportFilename is the default name of an export saved on day now.
func ExportFilename(now time.Time) string {
	return "payments-" + now.Format("2006-01-02") + ".csv"
}

// ExportPayments streams the CSV export to w and returns the name it should
// be saved under.
func (a *API) ExportPayments(ctx context.Context, opts ListOptions, w io.Writer) (string, int64, error) {
	o := opts
	o.Page, o.Limit = 0, 0
	_, n, err := a.gw.Download(ctx, "/payments/export", w, WithParams(o.values()))
	if err != nil {
		return "", n, err
	}
	return ExportFilename(a.now()), n, nil
}
