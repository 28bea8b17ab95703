package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rmacdonaldsmith/msgrouter-go/internal/config"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/broker"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/message"
)

func intPtr(v int) *int { return &v }

func newTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	require.NoError(t, cfg.Validate())

	a, err := newApp(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { a.close() })
	return a
}

func TestNewApp_RegistersRoutes(t *testing.T) {
	ctx := context.Background()

	cfg := config.Default()
	cfg.Routes = []config.RouteConfig{
		{ID: "audit", Pattern: "orders.#", Action: config.ActionLog, Priority: intPtr(2)},
		{ID: "broken", Pattern: "orders.eu.*", Action: config.ActionFail, Priority: intPtr(9)},
		{ID: "urgent", Content: &config.ContentConfig{MinPriority: "high"}, Action: config.ActionLog},
		{ID: "parked", Pattern: "billing.#", Action: config.ActionLog, Disabled: true},
	}

	a := newTestApp(t, cfg)

	health := a.broker.Health(ctx)
	assert.Equal(t, 3, health.TopicRoutes)
	assert.Equal(t, 1, health.ContentRoutes)

	parked, err := a.broker.GetRoute(ctx, "parked")
	require.NoError(t, err)
	assert.False(t, parked.Active)

	routes := a.broker.GetRoutes(ctx)
	require.Len(t, routes, 3)
	assert.Equal(t, "audit", routes[0].ID)
	assert.Equal(t, 9, routes[1].Priority)

	require.NoError(t, a.start(ctx))

	// The fail route is captured in the DLQ while the log route succeeds.
	report, err := a.broker.Deliver(ctx, message.New("orders.eu.new", message.WithID("m1")))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Matched)
	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, 1, a.broker.DLQSize())

	entries := a.broker.DLQMessages(0)
	require.Len(t, entries, 1)
	assert.Equal(t, "broken", entries[0].RouteID)

	err = a.broker.RouteByContent(ctx, message.New("", message.WithPriority(message.PriorityHigh)))
	assert.NoError(t, err)

	require.NoError(t, a.shutdown(ctx))
	assert.False(t, a.broker.IsRunning())
}

func TestNewApp_RedisRoutes(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	cfg := config.Default()
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()
	cfg.Redis.DLQChannel = "dead-letters"
	cfg.Routes = []config.RouteConfig{
		{ID: "forward", Pattern: "orders.*", Action: config.ActionRedis, Channel: "orders"},
		{ID: "broken", Pattern: "orders.*", Action: config.ActionFail},
	}

	a := newTestApp(t, cfg)
	require.NoError(t, a.start(ctx))

	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer sub.Close()

	orders := sub.Subscribe(ctx, "msgrouter:orders", "msgrouter:dead-letters")
	defer orders.Close()
	_, err := orders.Receive(ctx)
	require.NoError(t, err)
	// The second subscription confirmation
	_, err = orders.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, a.broker.Route(ctx, message.New("orders.new", message.WithID("m1"))))

	received := map[string][]byte{}
	for len(received) < 2 {
		recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		msg, err := orders.ReceiveMessage(recvCtx)
		cancel()
		require.NoError(t, err)
		received[msg.Channel] = []byte(msg.Payload)
	}

	var forwarded message.Message
	require.NoError(t, json.Unmarshal(received["msgrouter:orders"], &forwarded))
	assert.Equal(t, "m1", forwarded.ID)

	var event map[string]any
	require.NoError(t, json.Unmarshal(received["msgrouter:dead-letters"], &event))
	assert.Equal(t, "dead_letter", event["event"])

	published, failed := a.publisher.Stats()
	assert.Equal(t, uint64(2), published)
	assert.Zero(t, failed)
}

func TestNewApp_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := config.Default()
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = addr

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := newApp(ctx, cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestApp_AdminAPI(t *testing.T) {
	ctx := context.Background()

	cfg := config.Default()
	cfg.Admin.Enabled = true
	cfg.Admin.Addr = "127.0.0.1:0"
	cfg.Admin.JWTSecret = "jwt-secret"
	cfg.Admin.AdminSecret = "admin-secret"
	cfg.Routes = []config.RouteConfig{
		{ID: "audit", Pattern: "#", Action: config.ActionLog},
	}

	a := newTestApp(t, cfg)
	require.NoError(t, a.start(ctx))
	require.NotEmpty(t, a.adminAddr())

	resp, err := http.Get("http://" + a.adminAddr() + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health broker.HealthStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.True(t, health.Healthy)
	assert.Equal(t, 1, health.TopicRoutes)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, a.shutdown(shutdownCtx))

	_, err = http.Get("http://" + a.adminAddr() + "/api/v1/health")
	assert.Error(t, err, "admin API should be closed after shutdown")
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Routes = []config.RouteConfig{
		{ID: "audit", Pattern: "#", Action: config.ActionLog},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, zaptest.NewLogger(t)) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestRootCommand_Check(t *testing.T) {
	path := filepath.Join(t.TempDir(), "msgrouter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
routes:
  - id: audit
    pattern: "orders.#"
    action: log
`), 0o644))

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", path, "--check"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "configuration OK (1 routes)")
}

func TestRootCommand_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "msgrouter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
routes:
  - id: audit
    pattern: "orders.#"
    action: teleport
`), 0o644))

	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", path, "--check"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalidRoute)
}

func TestRootCommand_MissingConfig(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "--check"})

	assert.Error(t, cmd.Execute(), "explicit config path must exist")
}
