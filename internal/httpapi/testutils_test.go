package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	brokerimpl "github.com/rmacdonaldsmith/msgrouter-go/internal/broker"
)

const (
	testSecret      = "test-secret-key"
	testAdminSecret = "test-admin-secret"
)

// testSetup holds common test dependencies
type testSetup struct {
	Broker *brokerimpl.MessageBroker
	Server *Server
	HTTP   *httptest.Server
}

// newTestSetup creates a started broker behind an httptest server
func newTestSetup(t *testing.T, config *brokerimpl.Config) *testSetup {
	t.Helper()

	if config == nil {
		config = brokerimpl.NewConfig()
	}
	b, err := brokerimpl.NewMessageBroker(config)
	if err != nil {
		t.Fatalf("Failed to create broker: %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start broker: %v", err)
	}

	server, err := NewServer(b, Config{SecretKey: testSecret, AdminSecret: testAdminSecret})
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		ts.Close()
		b.Close()
	})

	return &testSetup{Broker: b, Server: server, HTTP: ts}
}

// token creates a JWT token for testing
func (s *testSetup) token(t *testing.T, isAdmin bool) string {
	t.Helper()
	token, _, err := s.Server.jwtAuth.GenerateToken("test-client", isAdmin)
	if err != nil {
		t.Fatalf("Failed to generate test token: %v", err)
	}
	return token
}

// do sends a request with an optional JSON body and token
func (s *testSetup) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, s.HTTP.URL+path, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.HTTP.Client().Do(req)
	if err != nil {
		t.Fatalf("Request %s %s failed: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status %d, got %d. Body: %s", want, resp.StatusCode, body)
	}
}
