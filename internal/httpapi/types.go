package httpapi

import (
	"time"

	"github.com/rmacdonaldsmith/msgrouter-go/pkg/broker"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/dlq"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/message"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/routingtable"
)

// Request/Response types for the HTTP API

// AuthRequest represents a login request
type AuthRequest struct {
	ClientID string `json:"clientId"`
	Secret   string `json:"secret,omitempty"`
}

// AuthResponse represents a login response
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	IsAdmin   bool      `json:"isAdmin"`
	ExpiresAt time.Time `json:"expiresAt"`
}

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

// HealthResponse represents health check response
type HealthResponse = broker.HealthStatus

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// newDeliveryResponse converts a broker delivery report
func newDeliveryResponse(report broker.DeliveryReport) DeliveryResponse {
	resp := DeliveryResponse{
		MessageID: report.MessageID,
		Matched:   report.Matched,
		Delivered: report.Delivered,
	}
	for _, f := range report.Failures {
		resp.Failures = append(resp.Failures, DeliveryFailure{RouteID: f.RouteID, Error: f.Err.Error()})
	}
	return resp
}
