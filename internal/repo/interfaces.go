package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fieldworks-labs/protocol-hub/internal/domain"
)

// ErrNotFound covers missing ids, cross-tenant ids, and non-CLOSED records
// alike. Callers must not be able to distinguish the three cases.
var ErrNotFound = errors.New("not found")

// ProtocolListFilter narrows the polling window for one tenant. UpdatedAfter
// is a strict lower bound: records whose updated_at equals the cursor are not
// returned again.
type ProtocolListFilter struct {
	TenantID     string
	UpdatedAfter *time.Time
	Limit        int
	Offset       int
}

// ProtocolRepository exposes finalized execution protocols for polling
// consumers. Every implementation enforces the tenant and CLOSED-status
// filters itself; that discipline is never delegated to callers or to an
// upstream system.
//
// ListClosed returns the metadata projection ordered ascending by updated_at
// with protocol_id as tie-break, plus the total count matching the same
// filter independent of Limit/Offset. An empty window is not an error.
type ProtocolRepository interface {
	ListClosed(ctx context.Context, filter ProtocolListFilter) ([]domain.ProtocolMeta, int, error)
	GetClosed(ctx context.Context, tenantID, id string) (domain.ExecutionProtocol, error)
	GetClosedSnapshot(ctx context.Context, tenantID, id string) (json.RawMessage, error)
}
