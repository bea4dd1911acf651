// Package protocols implements the read-side contract between polling
// consumers and the protocol repositories: input normalization, cursor
// parsing, and the uniform not-found policy. Handlers stay thin; everything
// with a correctness argument lives here.
package protocols

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fieldworks-labs/protocol-hub/internal/domain"
	"github.com/fieldworks-labs/protocol-hub/internal/repo"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// ErrInvalidCursor marks an unparsable updatedAfter value. A bad cursor is
// rejected rather than ignored so a consumer typo cannot silently trigger a
// full resync.
var ErrInvalidCursor = errors.New("invalid cursor timestamp")

// ErrTenantRequired marks a request that reached the service without a
// resolved tenant identity.
var ErrTenantRequired = errors.New("tenant identity required")

type Service struct {
	repo repo.ProtocolRepository
}

func New(r repo.ProtocolRepository) *Service {
	if r == nil {
		return nil
	}
	return &Service{repo: r}
}

// ListRequest carries the raw, untrusted query inputs of a polling call.
type ListRequest struct {
	TenantID     string
	UpdatedAfter string
	Limit        string
	Offset       string
}

type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

type ListResult struct {
	Items      []domain.ProtocolMeta `json:"items"`
	Pagination Pagination            `json:"pagination"`
}

func (s *Service) ListForPolling(ctx context.Context, req ListRequest) (ListResult, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return ListResult{}, ErrTenantRequired
	}

	var updatedAfter *time.Time
	if raw := strings.TrimSpace(req.UpdatedAfter); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return ListResult{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
		}
		utc := parsed.UTC()
		updatedAfter = &utc
	}

	limit := normalizeLimit(req.Limit)
	offset := normalizeOffset(req.Offset)

	items, total, err := s.repo.ListClosed(ctx, repo.ProtocolListFilter{
		TenantID:     tenantID,
		UpdatedAfter: updatedAfter,
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		return ListResult{}, fmt.Errorf("list protocols: %w", err)
	}
	if items == nil {
		items = []domain.ProtocolMeta{}
	}
	return ListResult{
		Items:      items,
		Pagination: Pagination{Limit: limit, Offset: offset, Total: total},
	}, nil
}

func (s *Service) GetProtocol(ctx context.Context, tenantID, rawID string) (domain.ExecutionProtocol, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return domain.ExecutionProtocol{}, ErrTenantRequired
	}
	// A malformed id is reported exactly like an absent one so that format
	// errors and cross-tenant probes are indistinguishable.
	id, ok := domain.CanonicalProtocolID(rawID)
	if !ok {
		return domain.ExecutionProtocol{}, repo.ErrNotFound
	}
	return s.repo.GetClosed(ctx, tenantID, id)
}

func (s *Service) GetSnapshot(ctx context.Context, tenantID, rawID string) (json.RawMessage, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	id, ok := domain.CanonicalProtocolID(rawID)
	if !ok {
		return nil, repo.ErrNotFound
	}
	return s.repo.GetClosedSnapshot(ctx, tenantID, id)
}

// normalizeLimit favors pagination robustness over strictness: absent,
// unparsable, zero, and negative values fall back to the default, and
// anything above MaxLimit is clamped instead of rejected.
func normalizeLimit(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultLimit
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return DefaultLimit
	}
	if v > MaxLimit {
		return MaxLimit
	}
	return v
}

func normalizeOffset(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
