package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/msgrouter-go/pkg/broker"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/dlq"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/message"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/routingtable"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

// Handlers contains all HTTP request handlers
type Handlers struct {
	broker      broker.Broker
	jwtAuth     *JWTAuth
	adminSecret string
	log         *zap.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(b broker.Broker, jwtAuth *JWTAuth, adminSecret string, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{
		broker:      b,
		jwtAuth:     jwtAuth,
		adminSecret: adminSecret,
		log:         log,
	}
}

// statusFor maps broker errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, broker.ErrRouteNotFound), errors.Is(err, broker.ErrMessageNotFoundInDLQ):
		return http.StatusNotFound
	case errors.Is(err, broker.ErrBrokerNotRunning), errors.Is(err, broker.ErrBrokerClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, broker.ErrNoMatchingRoutes):
		return http.StatusUnprocessableEntity
	case errors.Is(err, dlq.ErrReplayInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeBrokerError writes err with its mapped status
func (h *Handlers) writeBrokerError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Warn("Admin request failed", zap.Error(err))
	}
	writeError(w, err.Error(), status)
}

// decodeJSON validates the content type and decodes the request body into v
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return errors.New("Content-Type must be application/json")
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		return errors.New("Invalid request body")
	}
	return nil
}

// Auth endpoints

// Login handles POST /api/v1/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req AuthRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if len(req.ClientID) < 2 {
		writeError(w, "clientId must be at least 2 characters", http.StatusBadRequest)
		return
	}

	isAdmin, err := Authenticate(req.Secret, h.adminSecret)
	if err != nil {
		h.log.Warn("Rejected login", zap.String("client_id", req.ClientID))
		writeError(w, err.Error(), http.StatusUnauthorized)
		return
	}

	token, expiresAt, err := h.jwtAuth.GenerateToken(req.ClientID, isAdmin)
	if err != nil {
		writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, AuthResponse{
		Token:     token,
		ClientID:  req.ClientID,
		IsAdmin:   isAdmin,
		ExpiresAt: expiresAt,
	}, http.StatusOK)
}

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := h.broker.Health(r.Context())

	statusCode := http.StatusOK
	if !health.Healthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, health, statusCode)
}

// Route endpoints

// ListRoutes handles GET /api/v1/routes
func (h *Handlers) ListRoutes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	routes := append(h.broker.GetRoutes(ctx), h.broker.GetContentRoutes(ctx)...)
	if routes == nil {
		routes = []routingtable.RouteInfo{}
	}
	writeJSON(w, RoutesResponse{Routes: routes, Count: len(routes)}, http.StatusOK)
}

// GetRoute handles GET /api/v1/routes/{id}
func (h *Handlers) GetRoute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	info, err := h.broker.GetRoute(ctx, id)
	if errors.Is(err, broker.ErrRouteNotFound) {
		info, err = h.broker.GetContentRoute(ctx, id)
	}
	if err != nil {
		h.writeBrokerError(w, err)
		return
	}
	writeJSON(w, info, http.StatusOK)
}

// EnableRoute handles POST /api/v1/routes/{id}/enable
func (h *Handlers) EnableRoute(w http.ResponseWriter, r *http.Request) {
	h.changeRoute(w, r, h.broker.EnableRoute, h.broker.EnableContentRoute, "enabled")
}

// DisableRoute handles POST /api/v1/routes/{id}/disable
func (h *Handlers) DisableRoute(w http.ResponseWriter, r *http.Request) {
	h.changeRoute(w, r, h.broker.DisableRoute, h.broker.DisableContentRoute, "disabled")
}

// DeleteRoute handles DELETE /api/v1/routes/{id}
func (h *Handlers) DeleteRoute(w http.ResponseWriter, r *http.Request) {
	h.changeRoute(w, r, h.broker.RemoveRoute, h.broker.RemoveContentRoute, "removed")
}

// changeRoute applies a topic route operation, falling back to the content
// route of the same id
func (h *Handlers) changeRoute(w http.ResponseWriter, r *http.Request, topicOp, contentOp func(ctx context.Context, id string) error, action string) {
	ctx := r.Context()
	id := r.PathValue("id")

	err := topicOp(ctx, id)
	if errors.Is(err, broker.ErrRouteNotFound) {
		err = contentOp(ctx, id)
	}
	if err != nil {
		h.writeBrokerError(w, err)
		return
	}

	h.log.Info("Route changed via admin API",
		zap.String("route_id", id),
		zap.String("action", action),
		zap.String("client_id", GetClientID(r)))
	w.WriteHeader(http.StatusNoContent)
}

// Statistics endpoints

// GetStats handles GET /api/v1/stats
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, StatsResponse{
		Broker: h.broker.Statistics(r.Context()),
		DLQ:    h.broker.DLQStatistics(),
	}, http.StatusOK)
}

// ResetStats handles POST /api/v1/stats/reset
func (h *Handlers) ResetStats(w http.ResponseWriter, r *http.Request) {
	h.broker.ResetStatistics()
	w.WriteHeader(http.StatusNoContent)
}

// Message endpoints

// PublishMessage handles POST /api/v1/messages
func (h *Handlers) PublishMessage(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Topic == "" && !req.ByContent {
		writeError(w, "topic is required", http.StatusBadRequest)
		return
	}

	opts := []message.Option{message.WithPayload(req.Payload)}
	if req.ID != "" {
		opts = append(opts, message.WithID(req.ID))
	}
	if req.Type != nil {
		opts = append(opts, message.WithType(*req.Type))
	}
	if req.Priority != nil {
		opts = append(opts, message.WithPriority(*req.Priority))
	}
	for k, v := range req.Metadata {
		opts = append(opts, message.WithMetadata(k, v))
	}
	msg := message.New(req.Topic, opts...)

	deliver := h.broker.Deliver
	if req.ByContent {
		deliver = h.broker.DeliverByContent
	}

	report, err := deliver(r.Context(), msg)
	if err != nil {
		var dispatchErr *broker.DispatchError
		if errors.As(err, &dispatchErr) {
			// Every matched handler failed; the message is in the DLQ
			writeJSON(w, newDeliveryResponse(report), http.StatusBadGateway)
			return
		}
		h.writeBrokerError(w, err)
		return
	}
	writeJSON(w, newDeliveryResponse(report), http.StatusAccepted)
}

// Dead letter queue endpoints

// ListDLQ handles GET /api/v1/dlq?limit=N
func (h *Handlers) ListDLQ(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries := h.broker.DLQMessages(limit)
	if entries == nil {
		entries = []dlq.Entry{}
	}
	writeJSON(w, DLQListResponse{
		Entries: entries,
		Count:   len(entries),
		Total:   h.broker.DLQSize(),
	}, http.StatusOK)
}

// DLQStats handles GET /api/v1/dlq/stats
func (h *Handlers) DLQStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.broker.DLQStatistics(), http.StatusOK)
}

// ReplayAll handles POST /api/v1/dlq/replay
func (h *Handlers) ReplayAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.broker.IsRunning() {
		h.writeBrokerError(w, broker.ErrBrokerNotRunning)
		return
	}

	n := h.broker.ReplayAllDLQMessages(ctx)
	writeJSON(w, ReplayResponse{Replayed: n, Remaining: h.broker.DLQSize()}, http.StatusOK)
}

// ReplayMessage handles POST /api/v1/dlq/{messageId}/replay
func (h *Handlers) ReplayMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("messageId")
	if err := h.broker.ReplayDLQMessage(r.Context(), id); err != nil {
		h.writeBrokerError(w, err)
		return
	}
	writeJSON(w, ReplayResponse{Replayed: 1, Remaining: h.broker.DLQSize()}, http.StatusOK)
}

// PurgeDLQ handles DELETE /api/v1/dlq[?older_than=<duration>]
func (h *Handlers) PurgeDLQ(w http.ResponseWriter, r *http.Request) {
	var purged int
	if raw := r.URL.Query().Get("older_than"); raw != "" {
		age, err := time.ParseDuration(raw)
		if err != nil || age < 0 {
			writeError(w, fmt.Sprintf("invalid older_than duration %q", raw), http.StatusBadRequest)
			return
		}
		purged = h.broker.PurgeDLQOlderThan(age)
	} else {
		purged = h.broker.PurgeDLQ()
	}

	h.log.Info("DLQ purged via admin API",
		zap.Int("purged", purged),
		zap.String("client_id", GetClientID(r)))
	writeJSON(w, PurgeResponse{Purged: purged, Remaining: h.broker.DLQSize()}, http.StatusOK)
}
