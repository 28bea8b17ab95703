// Package httpclient is a Go client for the msgrouter admin API.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrNotAuthenticated is returned by methods called before Authenticate
var ErrNotAuthenticated = errors.New("client not authenticated - call Authenticate() first")

// Client provides HTTP client for the admin API
type Client struct {
	config     Config
	httpClient *http.Client
	token      string
	baseURL    *url.URL
}

// NewClient creates a new admin API client
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	if config.ServerURL == "" {
		return nil, fmt.Errorf("ServerURL is required")
	}
	if config.ClientID == "" {
		return nil, fmt.Errorf("ClientID is required")
	}

	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    baseURL,
	}, nil
}

// Authenticate logs in and stores the token
func (c *Client) Authenticate(ctx context.Context) error {
	authReq := map[string]string{
		"clientId": c.config.ClientID,
	}
	if c.config.Secret != "" {
		authReq["secret"] = c.config.Secret
	}

	var authResp AuthResponse
	if err := c.doRequest(ctx, "POST", "/api/v1/auth/login", authReq, &authResp, false); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	c.token = authResp.Token
	return nil
}

// GetHealth returns the broker health. An unhealthy broker is reported
// through the response, not as an error.
func (c *Client) GetHealth(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	err := c.doRequest(ctx, "GET", "/api/v1/health", nil, &resp, false)
	if err == nil {
		return &resp, nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
		if json.Unmarshal(apiErr.body, &resp) == nil {
			return &resp, nil
		}
	}
	return nil, fmt.Errorf("failed to get health status: %w", err)
}

// Routes

// ListRoutes returns every topic and content route
func (c *Client) ListRoutes(ctx context.Context) (*RoutesResponse, error) {
	var resp RoutesResponse
	if err := c.authed(ctx, "GET", "/api/v1/routes", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}
	return &resp, nil
}

// GetRoute returns a single route by id
func (c *Client) GetRoute(ctx context.Context, id string) (*RouteInfo, error) {
	var resp RouteInfo
	if err := c.authed(ctx, "GET", "/api/v1/routes/"+url.PathEscape(id), nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get route %s: %w", id, err)
	}
	return &resp, nil
}

// EnableRoute activates a route (admin only)
func (c *Client) EnableRoute(ctx context.Context, id string) error {
	if err := c.authed(ctx, "POST", "/api/v1/routes/"+url.PathEscape(id)+"/enable", nil, nil, nil); err != nil {
		return fmt.Errorf("failed to enable route %s: %w", id, err)
	}
	return nil
}

// DisableRoute deactivates a route (admin only)
func (c *Client) DisableRoute(ctx context.Context, id string) error {
	if err := c.authed(ctx, "POST", "/api/v1/routes/"+url.PathEscape(id)+"/disable", nil, nil, nil); err != nil {
		return fmt.Errorf("failed to disable route %s: %w", id, err)
	}
	return nil
}

// DeleteRoute removes a route (admin only)
func (c *Client) DeleteRoute(ctx context.Context, id string) error {
	if err := c.authed(ctx, "DELETE", "/api/v1/routes/"+url.PathEscape(id), nil, nil, nil); err != nil {
		return fmt.Errorf("failed to delete route %s: %w", id, err)
	}
	return nil
}

// Statistics

// GetStats returns broker and DLQ statistics
func (c *Client) GetStats(ctx context.Context) (*StatsResponse, error) {
	var resp StatsResponse
	if err := c.authed(ctx, "GET", "/api/v1/stats", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &resp, nil
}

// ResetStats zeroes the broker counters (admin only)
func (c *Client) ResetStats(ctx context.Context) error {
	if err := c.authed(ctx, "POST", "/api/v1/stats/reset", nil, nil, nil); err != nil {
		return fmt.Errorf("failed to reset stats: %w", err)
	}
	return nil
}

// Messages

// Publish injects a message into the broker (admin only). When every matched
// route fails the returned *APIError carries the delivery report.
func (c *Client) Publish(ctx context.Context, req PublishRequest) (*DeliveryResponse, error) {
	var resp DeliveryResponse
	if err := c.authed(ctx, "POST", "/api/v1/messages", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to publish message: %w", err)
	}
	return &resp, nil
}

// Dead letter queue

// ListDLQ returns up to limit entries; limit <= 0 means all
func (c *Client) ListDLQ(ctx context.Context, limit int) (*DLQListResponse, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp DLQListResponse
	if err := c.authed(ctx, "GET", "/api/v1/dlq", query, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list DLQ: %w", err)
	}
	return &resp, nil
}

// DLQStats returns the DLQ counters
func (c *Client) DLQStats(ctx context.Context) (*DLQStatistics, error) {
	var resp DLQStatistics
	if err := c.authed(ctx, "GET", "/api/v1/dlq/stats", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get DLQ stats: %w", err)
	}
	return &resp, nil
}

// ReplayDLQ replays the entry holding messageID (admin only)
func (c *Client) ReplayDLQ(ctx context.Context, messageID string) (*ReplayResponse, error) {
	var resp ReplayResponse
	path := "/api/v1/dlq/" + url.PathEscape(messageID) + "/replay"
	if err := c.authed(ctx, "POST", path, nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to replay %s: %w", messageID, err)
	}
	return &resp, nil
}

// ReplayAllDLQ replays every entry once (admin only)
func (c *Client) ReplayAllDLQ(ctx context.Context) (*ReplayResponse, error) {
	var resp ReplayResponse
	if err := c.authed(ctx, "POST", "/api/v1/dlq/replay", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to replay DLQ: %w", err)
	}
	return &resp, nil
}

// PurgeDLQ removes entries older than olderThan, or all when it is zero (admin only)
func (c *Client) PurgeDLQ(ctx context.Context, olderThan time.Duration) (*PurgeResponse, error) {
	query := url.Values{}
	if olderThan > 0 {
		query.Set("older_than", olderThan.String())
	}

	var resp PurgeResponse
	if err := c.authed(ctx, "DELETE", "/api/v1/dlq", query, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to purge DLQ: %w", err)
	}
	return &resp, nil
}

// authed performs a request that requires a token
func (c *Client) authed(ctx context.Context, method, path string, query url.Values, reqBody, respBody interface{}) error {
	if c.token == "" {
		return ErrNotAuthenticated
	}
	return c.doRequestWithQuery(ctx, method, path, query, reqBody, respBody, true)
}

// doRequestWithQuery performs an HTTP request with query parameters and optional authentication
func (c *Client) doRequestWithQuery(ctx context.Context, method, path string, queryParams url.Values, reqBody interface{}, respBody interface{}, requireAuth bool) error {
	u := &url.URL{Path: path}
	if len(queryParams) > 0 {
		u.RawQuery = queryParams.Encode()
	}
	fullURL := c.baseURL.ResolveReference(u)

	var jsonBody []byte
	if reqBody != nil {
		var err error
		if jsonBody, err = json.Marshal(reqBody); err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	attempts := 1
	if method == http.MethodGet {
		attempts += c.config.MaxRetries
	}

	var resp *http.Response
	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, fullURL.String(), bytes.NewReader(jsonBody))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		if reqBody != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if requireAuth && c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err = c.httpClient.Do(req)
		if err == nil {
			break
		}
		if attempt >= attempts || ctx.Err() != nil {
			return fmt.Errorf("request failed: %w", err)
		}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return newAPIError(resp.StatusCode, bodyBytes, respBody)
	}

	if respBody != nil && len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, respBody); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

func newAPIError(status int, body []byte, respBody interface{}) *APIError {
	apiErr := &APIError{StatusCode: status, Message: string(bytes.TrimSpace(body)), body: body}

	if delivery, ok := respBody.(*DeliveryResponse); ok && status == http.StatusBadGateway {
		if json.Unmarshal(body, delivery) == nil {
			apiErr.Delivery = delivery
			apiErr.Message = fmt.Sprintf("all %d matched routes failed", delivery.Matched)
			return apiErr
		}
	}

	var errResp ErrorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Message != "" {
		apiErr.Message = errResp.Message
	}
	return apiErr
}

// doRequest performs an HTTP request with optional authentication
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody interface{}, respBody interface{}, requireAuth bool) error {
	return c.doRequestWithQuery(ctx, method, path, nil, reqBody, respBody, requireAuth)
}

// IsAuthenticated returns whether the client has a valid token
func (c *Client) IsAuthenticated() bool {
	return c.token != ""
}

// GetToken returns the current authentication token
func (c *Client) GetToken() string {
	return c.token
}

// SetToken sets the authentication token (useful for testing or token reuse)
func (c *Client) SetToken(token string) {
	c.token = token
}
