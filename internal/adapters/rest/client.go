// Package rest is the client for the hospital REST API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/config"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/domain"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/ports"
)

const idempotencyHeader = "Idempotency-Key"

type Options struct {
	Timeout    time.Duration
	RetryCount int
	Log        *zap.Logger
	// Breaker defaults to the standard Beds-API breaker.
	Breaker *gobreaker.CircuitBreaker
}

// Client implements every REST port. Transport failures and 5xx answers count
// against the circuit breaker; 4xx answers are the server doing its job and
// do not.
type Client struct {
	http *resty.Client
	cb   *gobreaker.CircuitBreaker
	log  *zap.Logger

	mu             sync.RWMutex
	tokens         ports.TokenSource
	onUnauthorized func()
}

var (
	_ ports.BedAPI       = (*Client)(nil)
	_ ports.RequestAPI   = (*Client)(nil)
	_ ports.AlertAPI     = (*Client)(nil)
	_ ports.AnalyticsAPI = (*Client)(nil)
	_ ports.AuthAPI      = (*Client)(nil)
	_ ports.HealthAPI    = (*Client)(nil)
)

func New(baseURL string, opts Options) *Client {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Breaker == nil {
		opts.Breaker = config.NewCircuitBreaker(config.BreakerBedsAPI, opts.Log)
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(200*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err == nil && r != nil && (r.StatusCode() == http.StatusBadGateway || r.StatusCode() == http.StatusServiceUnavailable)
		})

	return &Client{http: httpClient, cb: opts.Breaker, log: opts.Log}
}

// StaticToken is a TokenSource for processes holding a pre-issued token.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

// SetTokenSource sets where the bearer token comes from.
func (c *Client) SetTokenSource(ts ports.TokenSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = ts
}

// OnUnauthorized installs the global handler for 401 answers. It runs on its
// own goroutine.
func (c *Client) OnUnauthorized(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnauthorized = fn
}

func (c *Client) BreakerState() gobreaker.State {
	return c.cb.State()
}

func (c *Client) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.tokens == nil {
		return ""
	}
	return c.tokens.Token()
}

func (c *Client) unauthorized() {
	c.mu.RLock()
	fn := c.onUnauthorized
	c.mu.RUnlock()
	if fn != nil {
		go fn()
	}
}

type call struct {
	method  string
	path    string
	query   url.Values
	body    any
	idemKey string
	out     any
	wrap    []string
}

func (c *Client) do(ctx context.Context, cl call) error {
	res, err := c.cb.Execute(func() (any, error) {
		req := c.http.R().SetContext(ctx)
		if tok := c.token(); tok != "" {
			req.SetAuthToken(tok)
		}
		if cl.query != nil {
			req.SetQueryParamsFromValues(cl.query)
		}
		if cl.body != nil {
			req.SetBody(cl.body)
		}
		if cl.idemKey != "" {
			req.SetHeader(idempotencyHeader, cl.idemKey)
		}

		resp, err := req.Execute(cl.method, cl.path)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrTransport, cl.method, cl.path, err)
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return nil, apiError(resp)
		}
		return resp, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrTransport, cl.method, cl.path, err)
	}
	if err != nil {
		c.log.Warn("API call failed",
			zap.String("method", cl.method),
			zap.String("path", cl.path),
			zap.Error(err),
		)
		return err
	}

	resp := res.(*resty.Response)
	if resp.StatusCode() == http.StatusUnauthorized {
		c.log.Warn("API rejected session", zap.String("path", cl.path))
		c.unauthorized()
		return domain.ErrUnauthorized
	}
	if resp.IsError() {
		return apiError(resp)
	}
	if cl.out == nil {
		return nil
	}
	if err := decode(resp.Body(), cl.out, cl.wrap...); err != nil {
		return fmt.Errorf("decode %s %s: %w", cl.method, cl.path, err)
	}
	return nil
}

// apiError turns a non-2xx answer into an APIError carrying the server's
// message or error text.
func apiError(resp *resty.Response) error {
	e := &domain.APIError{Status: resp.StatusCode()}
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Code    string `json:"code"`
	}
	if json.Unmarshal(resp.Body(), &body) == nil {
		e.Message = body.Message
		if e.Message == "" {
			e.Message = body.Error
		}
		e.Code = body.Code
	}
	return e
}

// decode reads body into out. Lists and records may arrive bare or wrapped in
// an object under "data" or one of wrap.
func decode(body []byte, out any, wrap ...string) error {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil
	}
	if body[0] == '{' {
		var env map[string]json.RawMessage
		if err := json.Unmarshal(body, &env); err != nil {
			return err
		}
		for _, k := range append([]string{"data"}, wrap...) {
			inner := bytes.TrimSpace(env[k])
			if len(inner) > 0 && (inner[0] == '{' || inner[0] == '[') {
				return json.Unmarshal(inner, out)
			}
		}
	}
	return json.Unmarshal(body, out)
}

func bedPath(bedID, suffix string) string {
	return "/beds/" + url.PathEscape(bedID) + suffix
}

func requestPath(id, suffix string) string {
	return "/emergency-requests/" + url.PathEscape(id) + suffix
}

// Beds

func (c *Client) ListBeds(ctx context.Context) ([]*domain.Bed, error) {
	var beds []*domain.Bed
	err := c.do(ctx, call{method: http.MethodGet, path: "/beds", out: &beds, wrap: []string{"beds"}})
	return beds, err
}

func (c *Client) ListOccupiedBeds(ctx context.Context) ([]*domain.Bed, error) {
	var beds []*domain.Bed
	err := c.do(ctx, call{method: http.MethodGet, path: "/beds/occupied", out: &beds, wrap: []string{"beds"}})
	return beds, err
}

func (c *Client) CleaningQueue(ctx context.Context, ward string) ([]*domain.Bed, error) {
	var beds []*domain.Bed
	q := url.Values{}
	if ward != "" {
		q.Set("ward", ward)
	}
	err := c.do(ctx, call{method: http.MethodGet, path: "/beds/cleaning-queue", query: q, out: &beds, wrap: []string{"beds", "queue"}})
	return beds, err
}

func (c *Client) UpdateBedStatus(ctx context.Context, bedID string, u domain.StatusUpdate, idemKey string) (*domain.Bed, error) {
	var bed domain.Bed
	err := c.do(ctx, call{method: http.MethodPatch, path: bedPath(bedID, "/status"), body: u, idemKey: idemKey, out: &bed, wrap: []string{"bed"}})
	if err != nil {
		return nil, err
	}
	return &bed, nil
}

func (c *Client) SetDischargeTime(ctx context.Context, bedID string, u domain.DischargeUpdate, idemKey string) (*domain.Bed, error) {
	var bed domain.Bed
	err := c.do(ctx, call{method: http.MethodPatch, path: bedPath(bedID, "/discharge-time"), body: u, idemKey: idemKey, out: &bed, wrap: []string{"bed"}})
	if err != nil {
		return nil, err
	}
	return &bed, nil
}

func (c *Client) MarkCleaningComplete(ctx context.Context, bedID, notes, idemKey string) (*domain.Bed, error) {
	var bed domain.Bed
	body := domain.CleaningComplete{Notes: notes}
	err := c.do(ctx, call{method: http.MethodPut, path: bedPath(bedID, "/cleaning/mark-complete"), body: body, idemKey: idemKey, out: &bed, wrap: []string{"bed"}})
	if err != nil {
		return nil, err
	}
	return &bed, nil
}

// Emergency requests

func (c *Client) ListEmergencyRequests(ctx context.Context) ([]*domain.EmergencyRequest, error) {
	var reqs []*domain.EmergencyRequest
	err := c.do(ctx, call{method: http.MethodGet, path: "/emergency-requests", out: &reqs, wrap: []string{"requests", "emergencyRequests"}})
	return reqs, err
}

func (c *Client) CreateEmergencyRequest(ctx context.Context, r domain.NewEmergencyRequest, idemKey string) (*domain.EmergencyRequest, error) {
	return c.requestCall(ctx, call{method: http.MethodPost, path: "/emergency-requests", body: r, idemKey: idemKey})
}

func (c *Client) ApproveEmergencyRequest(ctx context.Context, id, bedID string) (*domain.EmergencyRequest, error) {
	body := map[string]string{"bedId": bedID}
	return c.requestCall(ctx, call{method: http.MethodPatch, path: requestPath(id, "/approve"), body: body})
}

func (c *Client) RejectEmergencyRequest(ctx context.Context, id, reason string) (*domain.EmergencyRequest, error) {
	body := map[string]string{"rejectionReason": reason}
	return c.requestCall(ctx, call{method: http.MethodPatch, path: requestPath(id, "/reject"), body: body})
}

func (c *Client) UpdateEmergencyRequestStatus(ctx context.Context, id string, status domain.RequestStatus) (*domain.EmergencyRequest, error) {
	body := map[string]domain.RequestStatus{"status": status}
	return c.requestCall(ctx, call{method: http.MethodPatch, path: requestPath(id, ""), body: body})
}

func (c *Client) requestCall(ctx context.Context, cl call) (*domain.EmergencyRequest, error) {
	var req domain.EmergencyRequest
	cl.out = &req
	cl.wrap = []string{"request", "emergencyRequest"}
	if err := c.do(ctx, cl); err != nil {
		return nil, err
	}
	return &req, nil
}

// Alerts

func (c *Client) ListAlerts(ctx context.Context) ([]*domain.Alert, error) {
	var alerts []*domain.Alert
	err := c.do(ctx, call{method: http.MethodGet, path: "/alerts", out: &alerts, wrap: []string{"alerts"}})
	return alerts, err
}

func (c *Client) DismissAlert(ctx context.Context, id string) error {
	return c.do(ctx, call{method: http.MethodPatch, path: "/alerts/" + url.PathEscape(id) + "/dismiss"})
}

// Analytics

func (c *Client) OccupancySummary(ctx context.Context) (*domain.OccupancySummary, error) {
	var s domain.OccupancySummary
	if err := c.do(ctx, call{method: http.MethodGet, path: "/analytics/occupancy-summary", out: &s, wrap: []string{"summary"}}); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) OccupancyByWard(ctx context.Context) ([]domain.WardOccupancy, error) {
	var wards []domain.WardOccupancy
	err := c.do(ctx, call{method: http.MethodGet, path: "/analytics/occupancy-by-ward", out: &wards, wrap: []string{"wards"}})
	return wards, err
}

func (c *Client) Forecasting(ctx context.Context) (*domain.Forecast, error) {
	var f domain.Forecast
	if err := c.do(ctx, call{method: http.MethodGet, path: "/analytics/forecasting", out: &f, wrap: []string{"forecast"}}); err != nil {
		return nil, err
	}
	return &f, nil
}

// Auth

func (c *Client) Login(ctx context.Context, cr domain.Credentials) (*domain.AuthResult, error) {
	var res domain.AuthResult
	if err := c.do(ctx, call{method: http.MethodPost, path: "/auth/login", body: cr, out: &res}); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Register(ctx context.Context, r domain.Registration) (*domain.AuthResult, error) {
	var res domain.AuthResult
	if err := c.do(ctx, call{method: http.MethodPost, path: "/auth/register", body: r, out: &res}); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) DeleteAccount(ctx context.Context) error {
	return c.do(ctx, call{method: http.MethodDelete, path: "/auth/account"})
}

// Health probes GET /health. Any answer other than 2xx counts as unhealthy.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, call{method: http.MethodGet, path: "/health"})
}
