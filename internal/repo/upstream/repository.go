package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fieldworks-labs/protocol-hub/internal/domain"
	"github.com/fieldworks-labs/protocol-hub/internal/repo"
	"golang.org/x/oauth2/clientcredentials"
)

// Repository satisfies repo.ProtocolRepository against the upstream
// source-of-truth REST API instead of local storage. The upstream is asked
// for tenant-scoped, closed-only data, but its answers are re-verified here:
// a row for another tenant or in a non-closed state is a contract violation,
// never passed through.
//
// Upstream surface:
//
//	GET {base}/api/v1/execution-protocols?tenant=&changedSince=&limit=&offset=
//	  -> {"protocols":[...], "total": n}
//	GET {base}/api/v1/execution-protocols/{id}?tenant=
//	  -> one record, 404 when absent
type Repository struct {
	baseURL string
	client  *http.Client
}

// upstreamProtocol is the source system's wire schema. It differs from the
// canonical contract: nested location object, lowercase state names, and
// changedAt as the modification timestamp.
type upstreamProtocol struct {
	ProtocolID string `json:"protocolId"`
	Tenant     string `json:"tenant"`
	Location   struct {
		Site  string `json:"site"`
		Plant string `json:"plant"`
	} `json:"location"`
	State     string          `json:"state"`
	CreatedAt time.Time       `json:"createdAt"`
	ClosedAt  time.Time       `json:"closedAt"`
	ChangedAt time.Time       `json:"changedAt"`
	Document  json.RawMessage `json:"document"`
}

type upstreamListResponse struct {
	Protocols []upstreamProtocol `json:"protocols"`
	Total     int                `json:"total"`
}

func New(ctx context.Context, cfg Config) (*Repository, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	client := cc.Client(ctx)
	client.Timeout = cfg.RequestTimeout
	return NewWithClient(cfg.BaseURL, client)
}

// NewWithClient wires an explicit HTTP client, bypassing the token source.
// Used by tests and by deployments fronted by a service mesh.
func NewWithClient(baseURL string, client *http.Client) (*Repository, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Repository{baseURL: baseURL, client: client}, nil
}

func (r *Repository) ListClosed(ctx context.Context, filter repo.ProtocolListFilter) ([]domain.ProtocolMeta, int, error) {
	tenantID := strings.TrimSpace(filter.TenantID)
	if tenantID == "" {
		return nil, 0, fmt.Errorf("tenant id is required")
	}

	query := url.Values{}
	query.Set("tenant", tenantID)
	query.Set("state", "closed")
	if filter.UpdatedAfter != nil {
		query.Set("changedSince", filter.UpdatedAfter.UTC().Format(time.RFC3339Nano))
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		query.Set("offset", strconv.Itoa(filter.Offset))
	}

	var payload upstreamListResponse
	if err := r.getJSON(ctx, "/api/v1/execution-protocols?"+query.Encode(), &payload); err != nil {
		return nil, 0, err
	}

	items := make([]domain.ProtocolMeta, 0, len(payload.Protocols))
	for _, record := range payload.Protocols {
		entity, err := record.toDomain()
		if err != nil {
			return nil, 0, fmt.Errorf("upstream record %s: %w", record.ProtocolID, err)
		}
		if err := verifyScope(entity, tenantID); err != nil {
			return nil, 0, fmt.Errorf("upstream record %s: %w", record.ProtocolID, err)
		}
		items = append(items, entity.Meta())
	}
	return items, payload.Total, nil
}

func (r *Repository) GetClosed(ctx context.Context, tenantID, id string) (domain.ExecutionProtocol, error) {
	entity, err := r.fetchOne(ctx, tenantID, id)
	if err != nil {
		return domain.ExecutionProtocol{}, err
	}
	return entity, nil
}

func (r *Repository) GetClosedSnapshot(ctx context.Context, tenantID, id string) (json.RawMessage, error) {
	entity, err := r.fetchOne(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	return entity.Snapshot, nil
}

func (r *Repository) fetchOne(ctx context.Context, tenantID, id string) (domain.ExecutionProtocol, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return domain.ExecutionProtocol{}, fmt.Errorf("tenant id is required")
	}
	canonical, ok := domain.CanonicalProtocolID(id)
	if !ok {
		return domain.ExecutionProtocol{}, repo.ErrNotFound
	}

	query := url.Values{}
	query.Set("tenant", tenantID)

	var record upstreamProtocol
	err := r.getJSON(ctx, "/api/v1/execution-protocols/"+canonical+"?"+query.Encode(), &record)
	if err != nil {
		return domain.ExecutionProtocol{}, err
	}

	entity, err := record.toDomain()
	if err != nil {
		return domain.ExecutionProtocol{}, fmt.Errorf("upstream record %s: %w", record.ProtocolID, err)
	}
	// A wrong-tenant or non-closed answer on the single-record path is
	// indistinguishable from absence, same as the storage-backed repository.
	if verifyScope(entity, tenantID) != nil {
		return domain.ExecutionProtocol{}, repo.ErrNotFound
	}
	return entity, nil
}

func (r *Repository) getJSON(ctx context.Context, pathAndQuery string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+pathAndQuery, nil)
	if err != nil {
		return fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("upstream request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return repo.ErrNotFound
	default:
		return fmt.Errorf("upstream status %d", resp.StatusCode)
	}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode upstream response: %w", err)
	}
	return nil
}

func (u upstreamProtocol) toDomain() (domain.ExecutionProtocol, error) {
	canonical, ok := domain.CanonicalProtocolID(u.ProtocolID)
	if !ok {
		return domain.ExecutionProtocol{}, fmt.Errorf("invalid protocol id %q", u.ProtocolID)
	}
	var status domain.ProtocolStatus
	switch strings.ToLower(strings.TrimSpace(u.State)) {
	case "open":
		status = domain.ProtocolStatusOpen
	case "in_review", "review":
		status = domain.ProtocolStatusInReview
	case "closed":
		status = domain.ProtocolStatusClosed
	default:
		return domain.ExecutionProtocol{}, fmt.Errorf("unknown state %q", u.State)
	}
	snapshot := u.Document
	if len(snapshot) == 0 {
		snapshot = json.RawMessage(`{}`)
	}
	return domain.ExecutionProtocol{
		ID:        canonical,
		TenantID:  strings.TrimSpace(u.Tenant),
		SiteID:    strings.TrimSpace(u.Location.Site),
		PlantID:   strings.TrimSpace(u.Location.Plant),
		Status:    status,
		CreatedAt: u.CreatedAt.UTC(),
		ClosedAt:  u.ClosedAt.UTC(),
		UpdatedAt: u.ChangedAt.UTC(),
		Snapshot:  snapshot,
	}, nil
}

func verifyScope(entity domain.ExecutionProtocol, tenantID string) error {
	if entity.TenantID != tenantID {
		return fmt.Errorf("tenant mismatch")
	}
	if entity.Status != domain.ProtocolStatusClosed {
		return fmt.Errorf("record not closed")
	}
	return nil
}
