package auditlog

import (
	"context"

	"github.com/fieldworks-labs/protocol-hub/internal/platform/auth"
)

func InsertAuthDeny(ctx context.Context, q QueryRower, service string, event auth.DenyEvent) error {
	_, err := Insert(ctx, q, Event{
		OccurredAt:   event.Time,
		Actor:        "anonymous",
		Action:       "auth." + event.Reason,
		ResourceType: "http",
		ResourceID:   event.Method + " " + event.Path,
		RequestID:    event.RequestID,
		RemoteAddr:   event.RemoteAddr,
		UserAgent:    event.UserAgent,
		Payload: map[string]any{
			"service": service,
			"status":  event.Status,
			"reason":  event.Reason,
			"error":   event.Error,
		},
	})
	return err
}
