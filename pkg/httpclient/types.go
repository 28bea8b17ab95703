package httpclient

import (
	"fmt"
	"time"

	"github.com/rmacdonaldsmith/msgrouter-go/pkg/broker"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/dlq"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/message"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/routingtable"
)

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of the admin API (e.g., "http://localhost:8081")
	ServerURL string

	// ClientID is the identifier for this client
	ClientID string

	// Secret is the admin secret. Empty requests a read-only token.
	Secret string

	// Timeout for HTTP requests
	Timeout time.Duration

	// MaxRetries for GET requests that fail before reaching the server
	MaxRetries int
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// AuthResponse represents the response from authentication
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	IsAdmin   bool      `json:"isAdmin"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// HealthResponse represents the health check response
type HealthResponse = broker.HealthStatus

// RoutesResponse lists topic and content routes
type RoutesResponse struct {
	Routes []routingtable.RouteInfo `json:"routes"`
	Count  int                      `json:"count"`
}

// PublishRequest injects a message into the broker
type PublishRequest struct {
	ID        string               `json:"id,omitempty"`
	Topic     string               `json:"topic"`
	Type      *message.MessageType `json:"type,omitempty"`
	Priority  *message.Priority    `json:"priority,omitempty"`
	Metadata  map[string]string    `json:"metadata,omitempty"`
	Payload   map[string]any       `json:"payload,omitempty"`
	ByContent bool                 `json:"byContent,omitempty"`
}

// DeliveryResponse reports the outcome of an injected message
type DeliveryResponse struct {
	MessageID string            `json:"messageId"`
	Matched   int               `json:"matched"`
	Delivered int               `json:"delivered"`
	Failures  []DeliveryFailure `json:"failures,omitempty"`
}

// DeliveryFailure describes one failed handler invocation
type DeliveryFailure struct {
	RouteID string `json:"routeId"`
	Error   string `json:"error"`
}

// StatsResponse combines broker and DLQ counters
type StatsResponse struct {
	Broker broker.Statistics `json:"broker"`
	DLQ    dlq.Statistics    `json:"dlq"`
}

// DLQListResponse lists dead letter entries oldest first
type DLQListResponse struct {
	Entries []dlq.Entry `json:"entries"`
	Count   int         `json:"count"`
	Total   int         `json:"total"`
}

// ReplayResponse reports how many entries were replayed
type ReplayResponse struct {
	Replayed  int `json:"replayed"`
	Remaining int `json:"remaining"`
}

// PurgeResponse reports how many entries were purged
type PurgeResponse struct {
	Purged    int `json:"purged"`
	Remaining int `json:"remaining"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// APIError is returned for any response with status >= 400
type APIError struct {
	StatusCode int
	Message    string

	// Delivery is set when a published message reached routes that all failed
	Delivery *DeliveryResponse

	body []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// RouteInfo describes a registered route
type RouteInfo = routingtable.RouteInfo

// DLQStatistics holds the dead letter queue counters
type DLQStatistics = dlq.Statistics
