// Package parser talks to the external structural analysis service.
package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/p-dazzeo/realm/internal/apperr"
)

// maxResponseBytes caps how much of a parser response is decoded.
const maxResponseBytes = 64 << 20

// HealthStatus values.
const (
	StatusHealthy     = "healthy"
	StatusUnhealthy   = "unhealthy"
	StatusUnreachable = "unreachable"
)

// Client is the contract the upload service depends on.
type Client interface {
	Parse(ctx context.Context, projectName string, files []File) (*Response, error)
	Health(ctx context.Context) HealthStatus
}

// File is one entry of a parse request.
type File struct {
	Filename     string `json:"filename"`
	RelativePath string `json:"relative_path"`
	Content      string `json:"content"`
	Size         int64  `json:"size"`
}

type parseRequest struct {
	ProjectName string `json:"project_name"`
	Files       []File `json:"files"`
}

// Response is the parse envelope. Only the envelope and the per-file map are
// typed; everything else is kept as raw JSON.
type Response struct {
	Success bool   `json:"success"`
	Version string `json:"version"`
	Data    *Data  `json:"data"`
	Error   string `json:"error,omitempty"`
}

// Data is the structured analysis payload.
type Data struct {
	ProjectSummary json.RawMessage         `json:"project_summary,omitempty"`
	Files          map[string]FileAnalysis `json:"files"`
	Dependencies   json.RawMessage         `json:"dependencies,omitempty"`
	Architecture   json.RawMessage         `json:"architecture,omitempty"`
}

// FileAnalysis holds the parser's view of one file. Raw keeps the original
// object so fields the service does not know about survive storage.
type FileAnalysis struct {
	Language     string          `json:"language,omitempty"`
	Functions    json.RawMessage `json:"functions,omitempty"`
	Classes      json.RawMessage `json:"classes,omitempty"`
	Dependencies json.RawMessage `json:"dependencies,omitempty"`
	Complexity   json.RawMessage `json:"complexity,omitempty"`
	Raw          json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the known fields and retains the raw object.
func (f *FileAnalysis) UnmarshalJSON(b []byte) error {
	type plain FileAnalysis
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*f = FileAnalysis(p)
	f.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// HealthStatus is the outcome of a liveness probe.
type HealthStatus struct {
	Available bool   `json:"available"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	URL       string `json:"url"`
}

// HTTPClient implements Client over HTTP.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// Option customizes an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient swaps the underlying http.Client. Its Timeout is left alone.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		c.httpClient = hc
	}
}

// NewHTTPClient creates a client for the service at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured service URL.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Parse submits files for analysis. Every failure mode, including an
// unsuccessful body, is returned as a parser-kind error.
func (c *HTTPClient) Parse(ctx context.Context, projectName string, files []File) (*Response, error) {
	reqBody, err := json.Marshal(parseRequest{ProjectName: projectName, Files: files})
	if err != nil {
		return nil, apperr.Parser("parse", "failed to encode parser request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/parse", bytes.NewReader(reqBody))
	if err != nil {
		return nil, apperr.Parser("parse", "failed to create parser request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, apperr.Parser("parse", "parser service timed out", err)
		}
		return nil, apperr.Parser("parse", "parser service unavailable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, apperr.Parser("parse",
			fmt.Sprintf("parser service error: %d", resp.StatusCode),
			fmt.Errorf("parser error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var parsed Response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&parsed); err != nil {
		return nil, apperr.Parser("parse", "parser returned an unreadable response", err)
	}
	if !parsed.Success {
		msg := "parser reported failure"
		if parsed.Error != "" {
			msg = "parser failed: " + parsed.Error
		}
		return nil, apperr.Parser("parse", msg, nil)
	}
	if parsed.Data == nil {
		return nil, apperr.Parser("parse", "parser response is missing data", nil)
	}
	return &parsed, nil
}

// Health probes GET /health.
func (c *HTTPClient) Health(ctx context.Context) HealthStatus {
	status := HealthStatus{URL: c.baseURL}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		status.Status = StatusUnreachable
		status.Detail = err.Error()
		return status
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		status.Status = StatusUnreachable
		status.Detail = err.Error()
		return status
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		status.Status = StatusUnhealthy
		status.Detail = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return status
	}
	status.Available = true
	status.Status = StatusHealthy
	return status
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
