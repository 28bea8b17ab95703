package routingtable

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rmacdonaldsmith/msgrouter-go/pkg/message"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		topic   string
		pattern string
		want    bool
	}{
		// Literal patterns
		{"order.placed", "order.placed", true},
		{"order.placed", "order.shipped", false},
		{"order", "order.placed", false},
		{"order.placed", "order", false},

		// Single-segment wildcard
		{"user.created", "user.*", true},
		{"user.admin.created", "user.*", false},
		{"user", "user.*", false},
		{"a.b.c", "*.b.*", true},
		{"a..c", "a.*.c", false},

		// Multi-segment wildcard
		{"order.placed", "order.#", true},
		{"order.placed.confirmed", "order.#", true},
		{"order", "order.#", true},
		{"orders.placed", "order.#", false},
		{"app.user.settings.theme", "*.user.#", true},
		{"user.settings", "*.user.#", false},
		{"anything.at.all", "#", true},

		// Malformed patterns never match
		{"a.b.c", "a.#.c", false},
		{"a.b", "a.#.#", false},
		{"a.b", "", false},
		{"", "#", false},
		{"", "", false},
	}

	for _, tt := range tests {
		if got := Matches(tt.topic, tt.pattern); got != tt.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", tt.topic, tt.pattern, got, tt.want)
		}
	}
}

func TestMatches_LiteralPatternRequiresEqualSegments(t *testing.T) {
	topics := []string{"a", "a.b", "a.b.c", "x.b.c", "a.x.c"}
	patterns := []string{"a", "a.b", "a.b.c", "a.*.c", "*.b.*", "*"}

	for _, topic := range topics {
		for _, pattern := range patterns {
			want := sameShape(topic, pattern)
			if got := Matches(topic, pattern); got != want {
				t.Errorf("Matches(%q, %q) = %v, want %v", topic, pattern, got, want)
			}
		}
	}
}

// sameShape is the reference rule for patterns without "#".
func sameShape(topic, pattern string) bool {
	ts, ps := splitSegments(topic), splitSegments(pattern)
	if len(ts) != len(ps) {
		return false
	}
	for i := range ps {
		if ps[i] != SingleWildcard && ps[i] != ts[i] {
			return false
		}
	}
	return true
}

func splitSegments(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

func TestValidatePattern(t *testing.T) {
	valid := []string{"a", "a.b", "a.*", "*", "#", "a.#", "*.user.#", "a.*.c"}
	for _, pattern := range valid {
		if err := ValidatePattern(pattern); err != nil {
			t.Errorf("ValidatePattern(%q) returned %v, want nil", pattern, err)
		}
	}

	invalid := []string{"", "a.#.b", "#.a", "a..b", ".a", "a.", "a*", "a.b#", "a.#.#"}
	for _, pattern := range invalid {
		if err := ValidatePattern(pattern); !errors.Is(err, ErrInvalidPattern) {
			t.Errorf("ValidatePattern(%q) returned %v, want ErrInvalidPattern", pattern, err)
		}
	}
}

func TestIsWildcard(t *testing.T) {
	if IsWildcard("a.b") {
		t.Error("Expected literal pattern not to be a wildcard")
	}
	if !IsWildcard("a.*") || !IsWildcard("a.#") {
		t.Error("Expected wildcard patterns to be detected")
	}
}

func TestHandlerFunc(t *testing.T) {
	var got *message.Message
	h := HandlerFunc(func(ctx context.Context, msg *message.Message) error {
		got = msg
		return nil
	})

	msg := message.New("a.b")
	if err := h.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle returned %v", err)
	}
	if got != msg {
		t.Error("Expected HandlerFunc to receive the message")
	}
}

func TestRoute_RecordDelivery(t *testing.T) {
	// A route without a live counter is safe to record against
	NewRoute(RouteInfo{ID: "detached"}, nil, nil).RecordDelivery()
}

func TestKind_Text(t *testing.T) {
	data, err := json.Marshal(RouteInfo{ID: "r", Kind: KindContent})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var info RouteInfo
	if err := json.Unmarshal(data, &info); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if info.Kind != KindContent {
		t.Errorf("Expected content kind, got %s", info.Kind)
	}

	var k Kind
	if err := k.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("Expected error for unknown kind")
	}
}
