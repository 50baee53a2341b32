// Package client talks to the erplite HTTP API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"erplite/backend/internal/domain"
)

var (
	ErrUnauthorized = errors.New("erplite unauthorized")
	ErrRateLimited  = errors.New("erplite rate limited")
	ErrNotFound     = errors.New("erplite not found")
	ErrConflict     = errors.New("erplite conflict")
)

type APIError struct {
	StatusCode int
	Status     string
	Message    string
	Violations map[string]string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Status
	}
	if len(e.Violations) == 0 {
		return fmt.Sprintf("erplite api error: %s", msg)
	}
	parts := make([]string, 0, len(e.Violations))
	for field, problem := range e.Violations {
		parts = append(parts, field+"="+problem)
	}
	return fmt.Sprintf("erplite api error: %s (%s)", msg, strings.Join(parts, ", "))
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	}
	return nil
}

type errorBody struct {
	Error      string            `json:"error"`
	Violations map[string]string `json:"violations"`
}

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/api/v1").
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout).
		SetRetryCount(1).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			// Only reads are retried; writes rely on idempotency keys instead.
			if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
				return false
			}
			return err != nil || resp.StatusCode() == http.StatusServiceUnavailable
		})
	if cfg.Token != "" {
		httpClient.SetAuthToken(cfg.Token)
	}

	return &Client{http: httpClient, logger: logger.Named("client")}
}

// Login exchanges credentials for a token and uses it for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (domain.LoginResponse, error) {
	var resp domain.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, domain.LoginRequest{Email: email, Password: password}, &resp); err != nil {
		return domain.LoginResponse{}, err
	}
	c.http.SetAuthToken(resp.AccessToken)
	return resp, nil
}

func (c *Client) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	var resp struct {
		Products []domain.Product `json:"products"`
	}
	query := map[string]string{}
	if includeInactive {
		query["includeInactive"] = "true"
	}
	if err := c.do(ctx, http.MethodGet, "/products", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Products, nil
}

func (c *Client) ProductBySKU(ctx context.Context, sku string) (domain.Product, error) {
	var product domain.Product
	err := c.do(ctx, http.MethodGet, "/products/sku/"+url.PathEscape(strings.TrimSpace(sku)), nil, nil, &product)
	return product, err
}

func (c *Client) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	var product domain.Product
	err := c.do(ctx, http.MethodPost, "/products", nil, req, &product)
	return product, err
}

func (c *Client) Stock(ctx context.Context, productID string) (domain.StockEntry, error) {
	var entry domain.StockEntry
	err := c.do(ctx, http.MethodGet, "/stock/"+url.PathEscape(productID), nil, nil, &entry)
	return entry, err
}

func (c *Client) StockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	var resp struct {
		Movements []domain.StockMovement `json:"movements"`
	}
	query := map[string]string{}
	if limit > 0 {
		query["limit"] = fmt.Sprint(limit)
	}
	if err := c.do(ctx, http.MethodGet, "/stock/"+url.PathEscape(productID)+"/movements", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Movements, nil
}

func (c *Client) StockCount(ctx context.Context, req domain.StockCountRequest) (domain.StockCountResponse, error) {
	var resp domain.StockCountResponse
	err := c.do(ctx, http.MethodPost, "/stock/count", nil, req, &resp)
	return resp, err
}

// ExportStock downloads the stock levels workbook.
func (c *Client) ExportStock(ctx context.Context, location string) ([]byte, error) {
	req := c.http.R().SetContext(ctx).SetHeader("Accept", "*/*")
	if location != "" {
		req.SetQueryParam("location", location)
	}
	resp, err := req.Get("/stock/export")
	if err != nil {
		return nil, fmt.Errorf("erplite request: %w", err)
	}
	if resp.IsError() {
		return nil, apiErrorFromResponse(resp)
	}
	return resp.Body(), nil
}

// RecordSale returns the stored sale and whether the server replayed an
// earlier sale with the same idempotency key.
func (c *Client) RecordSale(ctx context.Context, req domain.SaleRequest) (domain.Sale, bool, error) {
	var sale domain.Sale
	resp, err := c.send(ctx, http.MethodPost, "/sales", nil, req, &sale)
	if err != nil {
		return domain.Sale{}, false, err
	}
	return sale, resp.Header().Get("Idempotent-Replay") == "true", nil
}

func (c *Client) RecordPurchase(ctx context.Context, req domain.PurchaseRequest) (domain.Purchase, bool, error) {
	var purchase domain.Purchase
	resp, err := c.send(ctx, http.MethodPost, "/purchases", nil, req, &purchase)
	if err != nil {
		return domain.Purchase{}, false, err
	}
	return purchase, resp.Header().Get("Idempotent-Replay") == "true", nil
}

func (c *Client) CancelSale(ctx context.Context, id string, req domain.CancelRequest) (domain.Sale, error) {
	var sale domain.Sale
	err := c.do(ctx, http.MethodPost, "/sales/"+url.PathEscape(id)+"/cancel", nil, req, &sale)
	return sale, err
}

func (c *Client) CancelPurchase(ctx context.Context, id string, req domain.CancelRequest) (domain.Purchase, error) {
	var purchase domain.Purchase
	err := c.do(ctx, http.MethodPost, "/purchases/"+url.PathEscape(id)+"/cancel", nil, req, &purchase)
	return purchase, err
}

func (c *Client) RecordPayment(ctx context.Context, req domain.PaymentRequest) (domain.Payment, error) {
	var payment domain.Payment
	err := c.do(ctx, http.MethodPost, "/payments", nil, req, &payment)
	return payment, err
}

// Report fetches a report by type. The body is returned undecoded because
// its shape depends on the type.
func (c *Client) Report(ctx context.Context, reportType string, query map[string]string) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodGet, "/reports/"+url.PathEscape(reportType), query, nil, &raw)
	return raw, err
}

func (c *Client) do(ctx context.Context, method, path string, query map[string]string, body any, result any) error {
	_, err := c.send(ctx, method, path, query, body, result)
	return err
}

func (c *Client) send(ctx context.Context, method, path string, query map[string]string, body any, result any) (*resty.Response, error) {
	req := c.http.R().SetContext(ctx).SetResult(result)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("erplite request: %w", err)
	}
	c.logger.Debug("api call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("duration", resp.Time()),
	)
	if resp.IsError() {
		return nil, apiErrorFromResponse(resp)
	}
	return resp, nil
}

func apiErrorFromResponse(resp *resty.Response) error {
	apiErr := &APIError{
		StatusCode: resp.StatusCode(),
		Status:     resp.Status(),
	}
	var body errorBody
	if err := json.Unmarshal(resp.Body(), &body); err == nil {
		apiErr.Message = body.Error
		apiErr.Violations = body.Violations
	} else {
		apiErr.Message = strings.TrimSpace(resp.String())
	}
	return apiErr
}
