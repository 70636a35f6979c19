// Package client is a Go SDK for the TIP analytics API.
//
// Every analytics call goes through the server's fallback chain, so a
// successful response always carries data; FallbackUsed reports whether that
// data is synthetic.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/finkargo/tip-analytics/internal/core"
)

const (
	organizationHeader = "X-Organization-ID"
	operatorHeader     = "X-Operator-Token"
	defaultTimeout     = 30 * time.Second
)

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tip api: %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

type Client struct {
	baseURL       string
	httpClient    *http.Client
	token         string
	organization  string
	operatorToken string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken sends a bearer token. The server derives the tenant from it.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithOrganization sets the tenant for servers running without auth.
func WithOrganization(orgID string) Option {
	return func(c *Client) { c.organization = orgID }
}

// WithOperatorToken authorizes operator-only calls such as RemoveProvider on
// servers running without auth.
func WithOperatorToken(token string) Option {
	return func(c *Client) { c.operatorToken = token }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Response is the typed form of the server's result envelope.
type Response[T any] struct {
	Success      bool      `json:"success"`
	Data         T         `json:"data"`
	Error        string    `json:"error,omitempty"`
	Provider     string    `json:"provider"`
	FallbackUsed bool      `json:"fallback_used"`
	Timestamp    time.Time `json:"timestamp"`
}

// Get fetches one data type and decodes its payload as T.
func Get[T any](ctx context.Context, c *Client, dataType core.DataType) (Response[T], error) {
	var res Response[T]
	err := c.do(ctx, http.MethodGet, "/api/v1/analytics/"+url.PathEscape(string(dataType)), nil, "", &res)
	return res, err
}

func (c *Client) Inventory(ctx context.Context) (Response[*core.InventoryData], error) {
	return Get[*core.InventoryData](ctx, c, core.DataTypeInventory)
}

func (c *Client) Sales(ctx context.Context) (Response[*core.SalesData], error) {
	return Get[*core.SalesData](ctx, c, core.DataTypeSales)
}

func (c *Client) Suppliers(ctx context.Context) (Response[[]core.SupplierData], error) {
	return Get[[]core.SupplierData](ctx, c, core.DataTypeSupplier)
}

func (c *Client) CrossReference(ctx context.Context) (Response[*core.CrossReferenceData], error) {
	return Get[*core.CrossReferenceData](ctx, c, core.DataTypeCrossReference)
}

func (c *Client) Triangle(ctx context.Context) (Response[*core.TriangleData], error) {
	return Get[*core.TriangleData](ctx, c, core.DataTypeTriangle)
}

func (c *Client) MarketIntelligence(ctx context.Context) (Response[*core.MarketIntelligenceData], error) {
	return Get[*core.MarketIntelligenceData](ctx, c, core.DataTypeMarketIntelligence)
}

// Raw fetches any data type without decoding the payload.
func (c *Client) Raw(ctx context.Context, dataType core.DataType) (Response[json.RawMessage], error) {
	return Get[json.RawMessage](ctx, c, dataType)
}

// AllResponse is the server-side composite of the four core slices.
type AllResponse struct {
	Inventory      Response[*core.InventoryData]      `json:"inventory"`
	Sales          Response[*core.SalesData]          `json:"sales"`
	Suppliers      Response[[]core.SupplierData]      `json:"suppliers"`
	CrossReference Response[*core.CrossReferenceData] `json:"cross_reference"`
	Errors         map[core.DataType]string           `json:"errors,omitempty"`
	AnyError       bool                               `json:"any_error"`
	FallbackUsed   bool                               `json:"fallback_used"`
}

// All fetches the composite in one request.
func (c *Client) All(ctx context.Context) (AllResponse, error) {
	var res AllResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/analytics/all", nil, "", &res)
	return res, err
}

func (c *Client) Health(ctx context.Context) (core.HealthStatus, error) {
	var res core.HealthStatus
	err := c.do(ctx, http.MethodGet, "/api/v1/analytics/health", nil, "", &res)
	return res, err
}

func (c *Client) Providers(ctx context.Context) ([]core.ProviderInfo, error) {
	var res struct {
		Providers []core.ProviderInfo `json:"providers"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/providers", nil, "", &res)
	return res.Providers, err
}

func (c *Client) RemoveProvider(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/providers/"+url.PathEscape(name), nil, "", nil)
}

// Upload sends content as a multipart file. A rejected upload returns the
// server's result together with an *APIError.
func (c *Client) Upload(ctx context.Context, filename string, content io.Reader) (core.UploadResult, error) {
	body, contentType, err := multipartBody(filename, content)
	if err != nil {
		return core.UploadResult{}, err
	}
	var res core.UploadResult
	err = c.do(ctx, http.MethodPost, "/api/v1/analytics/upload", body, contentType, &res)
	return res, err
}

func (c *Client) Validate(ctx context.Context, filename string, content io.Reader) (core.ValidationResult, error) {
	body, contentType, err := multipartBody(filename, content)
	if err != nil {
		return core.ValidationResult{}, err
	}
	var res core.ValidationResult
	err = c.do(ctx, http.MethodPost, "/api/v1/analytics/validate", body, contentType, &res)
	return res, err
}

func (c *Client) Uploads(ctx context.Context, limit int) ([]core.UploadRecord, error) {
	var res struct {
		Uploads []core.UploadRecord `json:"uploads"`
	}
	path := "/api/v1/analytics/uploads?limit=" + strconv.Itoa(limit)
	err := c.do(ctx, http.MethodGet, path, nil, "", &res)
	return res.Uploads, err
}

func multipartBody(filename string, content io.Reader) (*bytes.Buffer, string, error) {
	if filename == "" {
		filename = "upload.csv"
	}
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, "", fmt.Errorf("tip api: read upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &body, w.FormDataContentType(), nil
}

// do sends the request and decodes the body into out. Error responses are
// still decoded into out when they carry a JSON body, so result envelopes
// survive a 4xx or 5xx.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("tip api: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.organization != "" {
		req.Header.Set(organizationHeader, c.organization)
	}
	if c.operatorToken != "" {
		req.Header.Set(operatorHeader, c.operatorToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tip api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("tip api: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if out != nil {
			_ = json.Unmarshal(data, out)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data, resp.Status)}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("tip api: decode response: %w", err)
	}
	return nil
}

func errorMessage(body []byte, fallback string) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" && len(s) < 256 {
		return s
	}
	return fallback
}
