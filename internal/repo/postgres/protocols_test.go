package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/fieldworks-labs/protocol-hub/internal/repo"
)

func TestGetQueriesAreTenantAndStatusScoped(t *testing.T) {
	for _, query := range []string{selectClosedProtocolQuery, selectClosedSnapshotQuery} {
		if !strings.Contains(query, "tenant_id = $1") {
			t.Fatalf("expected tenant predicate in query: %s", query)
		}
		if !strings.Contains(query, "status = 'CLOSED'") {
			t.Fatalf("expected status predicate in query: %s", query)
		}
	}
}

func TestListClosedQueriesWithoutCursor(t *testing.T) {
	countQuery, pageQuery, countArgs, pageArgs := listClosedQueries(repo.ProtocolListFilter{
		TenantID: "tenant-a",
		Limit:    50,
	})

	if !strings.Contains(countQuery, "tenant_id = $1 AND status = 'CLOSED'") {
		t.Fatalf("count query missing scope predicate: %s", countQuery)
	}
	if strings.Contains(countQuery, "updated_at >") {
		t.Fatalf("count query should not carry a cursor predicate: %s", countQuery)
	}
	if len(countArgs) != 1 || countArgs[0] != "tenant-a" {
		t.Fatalf("countArgs=%v", countArgs)
	}

	if !strings.Contains(pageQuery, "ORDER BY updated_at ASC, protocol_id ASC") {
		t.Fatalf("page query missing deterministic ordering: %s", pageQuery)
	}
	if !strings.Contains(pageQuery, "LIMIT $2") {
		t.Fatalf("page query missing limit: %s", pageQuery)
	}
	if strings.Contains(pageQuery, "OFFSET") {
		t.Fatalf("zero offset must not emit an OFFSET clause: %s", pageQuery)
	}
	if len(pageArgs) != 2 || pageArgs[1] != 50 {
		t.Fatalf("pageArgs=%v", pageArgs)
	}
}

func TestListClosedQueriesWithCursorAndOffset(t *testing.T) {
	cursor := time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC)
	countQuery, pageQuery, countArgs, pageArgs := listClosedQueries(repo.ProtocolListFilter{
		TenantID:     "tenant-a",
		UpdatedAfter: &cursor,
		Limit:        100,
		Offset:       200,
	})

	// Strict greater-than is what makes cursor advancement safe.
	if !strings.Contains(countQuery, "updated_at > $2") {
		t.Fatalf("count query missing strict cursor predicate: %s", countQuery)
	}
	if strings.Contains(pageQuery, "updated_at >=") {
		t.Fatalf("cursor must be a strict bound: %s", pageQuery)
	}
	if !strings.Contains(pageQuery, "updated_at > $2") {
		t.Fatalf("page query missing strict cursor predicate: %s", pageQuery)
	}
	if !strings.Contains(pageQuery, "LIMIT $3") || !strings.Contains(pageQuery, "OFFSET $4") {
		t.Fatalf("page query paging clauses wrong: %s", pageQuery)
	}

	if len(countArgs) != 2 {
		t.Fatalf("countArgs=%v", countArgs)
	}
	if got, ok := countArgs[1].(time.Time); !ok || !got.Equal(cursor) {
		t.Fatalf("cursor arg=%v", countArgs[1])
	}
	if len(pageArgs) != 4 || pageArgs[2] != 100 || pageArgs[3] != 200 {
		t.Fatalf("pageArgs=%v", pageArgs)
	}
}

func TestListClosedQueriesCountIgnoresPaging(t *testing.T) {
	countQuery, _, _, _ := listClosedQueries(repo.ProtocolListFilter{
		TenantID: "tenant-a",
		Limit:    10,
		Offset:   30,
	})
	if strings.Contains(countQuery, "LIMIT") || strings.Contains(countQuery, "OFFSET") {
		t.Fatalf("total must be independent of limit/offset: %s", countQuery)
	}
}
