package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fieldworks-labs/protocol-hub/internal/domain"
	"github.com/fieldworks-labs/protocol-hub/internal/repo"
)

// closedProtocolPredicate scopes every query to one tenant's finalized
// records. Records in any other status never leave this package.
const closedProtocolPredicate = `tenant_id = $1 AND status = 'CLOSED'`

const protocolMetaColumns = `protocol_id, site_id, plant_id, status, closed_at, updated_at`

const selectClosedProtocolQuery = `SELECT protocol_id, tenant_id, site_id, plant_id, status, created_at, closed_at, updated_at, snapshot
 FROM execution_protocols
 WHERE tenant_id = $1 AND status = 'CLOSED' AND protocol_id = $2`

const selectClosedSnapshotQuery = `SELECT snapshot
 FROM execution_protocols
 WHERE tenant_id = $1 AND status = 'CLOSED' AND protocol_id = $2`

type ProtocolStore struct {
	db DB
}

func NewProtocolStore(db DB) *ProtocolStore {
	if db == nil {
		return nil
	}
	return &ProtocolStore{db: db}
}

// listClosedQueries builds the count and page queries for a filter. Split out
// so the SQL shape is testable without a database.
func listClosedQueries(filter repo.ProtocolListFilter) (countQuery, pageQuery string, countArgs, pageArgs []any) {
	where := closedProtocolPredicate
	countArgs = []any{strings.TrimSpace(filter.TenantID)}
	if filter.UpdatedAfter != nil {
		countArgs = append(countArgs, filter.UpdatedAfter.UTC())
		where += fmt.Sprintf(" AND updated_at > $%d", len(countArgs))
	}
	countQuery = `SELECT COUNT(*) FROM execution_protocols WHERE ` + where

	pageArgs = append(pageArgs, countArgs...)
	pageQuery = `SELECT ` + protocolMetaColumns + ` FROM execution_protocols WHERE ` + where +
		` ORDER BY updated_at ASC, protocol_id ASC`
	if filter.Limit > 0 {
		pageArgs = append(pageArgs, filter.Limit)
		pageQuery += fmt.Sprintf(" LIMIT $%d", len(pageArgs))
	}
	if filter.Offset > 0 {
		pageArgs = append(pageArgs, filter.Offset)
		pageQuery += fmt.Sprintf(" OFFSET $%d", len(pageArgs))
	}
	return countQuery, pageQuery, countArgs, pageArgs
}

func (s *ProtocolStore) ListClosed(ctx context.Context, filter repo.ProtocolListFilter) ([]domain.ProtocolMeta, int, error) {
	if s == nil || s.db == nil {
		return nil, 0, fmt.Errorf("protocol store not initialized")
	}
	if strings.TrimSpace(filter.TenantID) == "" {
		return nil, 0, fmt.Errorf("tenant id is required")
	}

	countQuery, pageQuery, countArgs, pageArgs := listClosedQueries(filter)

	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count protocols: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, pageQuery, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list protocols: %w", err)
	}
	defer rows.Close()

	items := make([]domain.ProtocolMeta, 0)
	for rows.Next() {
		var (
			meta      domain.ProtocolMeta
			closedAt  time.Time
			updatedAt time.Time
		)
		if err := rows.Scan(&meta.ID, &meta.SiteID, &meta.PlantID, &meta.Status, &closedAt, &updatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan protocol: %w", err)
		}
		meta.ClosedAt = closedAt.UTC()
		meta.UpdatedAt = updatedAt.UTC()
		items = append(items, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list protocols: %w", err)
	}
	return items, total, nil
}

func (s *ProtocolStore) GetClosed(ctx context.Context, tenantID, id string) (domain.ExecutionProtocol, error) {
	if s == nil || s.db == nil {
		return domain.ExecutionProtocol{}, fmt.Errorf("protocol store not initialized")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return domain.ExecutionProtocol{}, fmt.Errorf("tenant id is required")
	}
	canonical, ok := domain.CanonicalProtocolID(id)
	if !ok {
		return domain.ExecutionProtocol{}, repo.ErrNotFound
	}

	var (
		p        domain.ExecutionProtocol
		snapshot []byte
	)
	row := s.db.QueryRowContext(ctx, selectClosedProtocolQuery, tenantID, canonical)
	if err := row.Scan(&p.ID, &p.TenantID, &p.SiteID, &p.PlantID, &p.Status, &p.CreatedAt, &p.ClosedAt, &p.UpdatedAt, &snapshot); err != nil {
		return domain.ExecutionProtocol{}, handleNotFound(err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.ClosedAt = p.ClosedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	p.Snapshot = json.RawMessage(snapshot)
	return p, nil
}

func (s *ProtocolStore) GetClosedSnapshot(ctx context.Context, tenantID, id string) (json.RawMessage, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("protocol store not initialized")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	canonical, ok := domain.CanonicalProtocolID(id)
	if !ok {
		return nil, repo.ErrNotFound
	}

	var snapshot []byte
	row := s.db.QueryRowContext(ctx, selectClosedSnapshotQuery, tenantID, canonical)
	if err := row.Scan(&snapshot); err != nil {
		return nil, handleNotFound(err)
	}
	return json.RawMessage(snapshot), nil
}
