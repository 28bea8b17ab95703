package routingtable

import (
	"context"

	"github.com/rmacdonaldsmith/msgrouter-go/pkg/message"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/routingtable"
)

// noop is a handler that accepts every message
var noop = routingtable.HandlerFunc(func(ctx context.Context, msg *message.Message) error {
	return nil
})

func routeIDs(routes []routingtable.Route) []string {
	ids := make([]string, 0, len(routes))
	for _, r := range routes {
		ids = append(ids, r.ID)
	}
	return ids
}

func equalIDs(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
