package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hugoautomation/gcx-healthcheck-zd/internal/config"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/report"
)

type ErrorKind string

const (
	KindAuth        ErrorKind = "auth"
	KindRateLimited ErrorKind = "rate_limited"
	KindTransient   ErrorKind = "transient"
	KindAPI         ErrorKind = "api"
)

// ScanError classifies a failed scan API call. Only rate-limited and
// transient failures are worth retrying.
type ScanError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan failed (%s, status %d): %s", e.Kind, e.StatusCode, e.Message)
}

func (e *ScanError) Retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindTransient
}

// Request carries the tenant credentials for one scan.
type Request struct {
	Subdomain  string
	AdminEmail string
	APIToken   string
	Version    string
}

type scanBody struct {
	URL      string `json:"url"`
	Email    string `json:"email"`
	APIToken string `json:"api_token"`
	Status   string `json:"status"`
}

// Client calls the external health-scan API.
type Client struct {
	httpClient *http.Client
	apiURL     string
	apiToken   string
	logger     *zap.Logger
}

func NewClient(cfg config.ScanConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		apiURL:     cfg.APIURL,
		apiToken:   cfg.APIToken,
		logger:     logger,
	}
}

// Run performs one scan attempt and parses the response into the typed
// payload at the boundary.
func (c *Client) Run(ctx context.Context, req Request) (*report.Payload, error) {
	body, err := json.Marshal(scanBody{
		URL:      fmt.Sprintf("https://%s.zendesk.com", req.Subdomain),
		Email:    req.AdminEmail,
		APIToken: req.APIToken,
		Status:   "active",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scan request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create scan request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Token", c.apiToken)
	httpReq.Header.Set("User-Agent", "HealthCheck/v"+req.Version)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ScanError{Kind: KindTransient, Message: err.Error()}
	}
	defer resp.Body.Close()

	c.logger.Debug("scan API responded",
		zap.String("subdomain", req.Subdomain),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to parsing
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &ScanError{Kind: KindAuth, StatusCode: resp.StatusCode, Message: "Authentication failed."}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &ScanError{Kind: KindRateLimited, StatusCode: resp.StatusCode, Message: "Rate limit exceeded. Please try again later."}
	case resp.StatusCode == http.StatusBadGateway:
		return nil, &ScanError{Kind: KindTransient, StatusCode: resp.StatusCode, Message: "Upstream temporarily unavailable."}
	default:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &ScanError{Kind: KindAPI, StatusCode: resp.StatusCode, Message: fmt.Sprintf("API Error: %s", detail)}
	}

	var payload report.Payload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &ScanError{Kind: KindAPI, StatusCode: resp.StatusCode, Message: fmt.Sprintf("invalid response body: %v", err)}
	}
	return &payload, nil
}
