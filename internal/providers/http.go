package providers

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
	"strings"
	"time"

	"github.com/finkargo/tip-analytics/internal/core"
)

// HTTPConfig configures the HTTP-backed providers.
type HTTPConfig struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Body)
}

type httpClient struct {
	prefix  string
	baseURL string
	apiKey  string
	client  *http.Client
}

func newHTTPClient(prefix string, cfg HTTPConfig) (*httpClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%s: base url is required", prefix)
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("%s: invalid base url: %w", prefix, err)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &httpClient{
		prefix:  prefix,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  client,
	}, nil
}

func (c *httpClient) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", c.prefix, err)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

// ping succeeds on any 2xx response from path.
func (c *httpClient) ping(ctx context.Context, path string) error {
	_, err := c.get(ctx, path, nil)
	return err
}

func (c *httpClient) postFile(ctx context.Context, path string, fields map[string]string, filename, content string) ([]byte, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("%s: encode form: %w", c.prefix, err)
		}
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("%s: encode form: %w", c.prefix, err)
	}
	if _, err := io.WriteString(part, content); err != nil {
		return nil, fmt.Errorf("%s: encode form: %w", c.prefix, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%s: encode form: %w", c.prefix, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", c.prefix, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.do(req)
}

func (c *httpClient) do(req *http.Request) ([]byte, error) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: http request: %w", c.prefix, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", c.prefix, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s: %w", c.prefix, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))})
	}
	return data, nil
}

// envelope is the {success, data, error} wrapper some upstreams use.
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

// unwrap strips an optional response envelope and reports upstream-declared failures.
func unwrap(body []byte) (json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Success != nil {
		if !*env.Success {
			msg := env.Error
			if msg == "" {
				msg = env.Message
			}
			if msg == "" {
				msg = "upstream reported failure"
			}
			return nil, errors.New(msg)
		}
		if len(env.Data) > 0 {
			return env.Data, nil
		}
	}
	return body, nil
}

func decodeData(dataType core.DataType, body []byte) (any, error) {
	raw, err := unwrap(body)
	if err != nil {
		return nil, err
	}
	return core.DecodePayload(dataType, raw)
}
