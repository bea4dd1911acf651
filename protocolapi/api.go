package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/fieldworks-labs/protocol-hub/internal/domain"
	"github.com/fieldworks-labs/protocol-hub/internal/platform/auditlog"
	"github.com/fieldworks-labs/protocol-hub/internal/platform/auth"
	"github.com/fieldworks-labs/protocol-hub/internal/platform/objectstore"
	"github.com/fieldworks-labs/protocol-hub/internal/repo"
	"github.com/fieldworks-labs/protocol-hub/internal/service/protocols"
	"github.com/minio/minio-go/v7"
)

type protocolAPI struct {
	logger     *slog.Logger
	svc        *protocols.Service
	audit      auditlog.QueryRower
	store      *minio.Client
	storeCfg   objectstore.Config
	presignTTL time.Duration
}

func newProtocolAPI(logger *slog.Logger, svc *protocols.Service, audit auditlog.QueryRower) *protocolAPI {
	return &protocolAPI{
		logger:     logger,
		svc:        svc,
		audit:      audit,
		presignTTL: 10 * time.Minute,
	}
}

func (api *protocolAPI) withAttachmentStore(store *minio.Client, cfg objectstore.Config, presignTTL time.Duration) *protocolAPI {
	api.store = store
	api.storeCfg = cfg
	if presignTTL > 0 {
		api.presignTTL = presignTTL
	}
	return api
}

func (api *protocolAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /protocols", api.handleListProtocols)
	mux.HandleFunc("GET /protocols/{protocol_id}", api.handleGetProtocol)
	mux.HandleFunc("GET /protocols/{protocol_id}/snapshot", api.handleGetSnapshot)
	if api.store != nil {
		mux.HandleFunc("GET /protocols/{protocol_id}/attachments/{attachment_id}/download", api.handleDownloadAttachment)
	}
}

func (api *protocolAPI) handleListProtocols(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.requireTenant(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	result, err := api.svc.ListForPolling(r.Context(), protocols.ListRequest{
		TenantID:     identity.TenantID,
		UpdatedAfter: q.Get("updatedAfter"),
		Limit:        q.Get("limit"),
		Offset:       q.Get("offset"),
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, result)
}

// protocolResponse is the full-entity projection, snapshot included.
type protocolResponse struct {
	ID        string                `json:"id"`
	SiteID    string                `json:"siteId"`
	PlantID   string                `json:"plantId"`
	Status    domain.ProtocolStatus `json:"status"`
	CreatedAt time.Time             `json:"createdAt"`
	ClosedAt  time.Time             `json:"closedAt"`
	UpdatedAt time.Time             `json:"updatedAt"`
	Snapshot  json.RawMessage       `json:"snapshot"`
}

func (api *protocolAPI) handleGetProtocol(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.requireTenant(w, r)
	if !ok {
		return
	}

	entity, err := api.svc.GetProtocol(r.Context(), identity.TenantID, r.PathValue("protocol_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	api.writeJSON(w, http.StatusOK, protocolResponse{
		ID:        entity.ID,
		SiteID:    entity.SiteID,
		PlantID:   entity.PlantID,
		Status:    entity.Status,
		CreatedAt: entity.CreatedAt,
		ClosedAt:  entity.ClosedAt,
		UpdatedAt: entity.UpdatedAt,
		Snapshot:  entity.Snapshot,
	})
}

func (api *protocolAPI) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.requireTenant(w, r)
	if !ok {
		return
	}

	rawID := r.PathValue("protocol_id")
	snapshot, err := api.svc.GetSnapshot(r.Context(), identity.TenantID, rawID)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	api.auditSnapshotExport(r, identity, rawID)

	// The snapshot document is the entire response body, not wrapped in an
	// envelope.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(snapshot)
}

// snapshotAttachment is the only part of the snapshot document this service
// interprets: the top-level attachments index used to locate stored blobs.
type snapshotAttachment struct {
	ID          string `json:"id"`
	FileName    string `json:"fileName"`
	ObjectKey   string `json:"objectKey"`
	ContentType string `json:"contentType"`
}

func (api *protocolAPI) handleDownloadAttachment(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.requireTenant(w, r)
	if !ok {
		return
	}

	snapshot, err := api.svc.GetSnapshot(r.Context(), identity.TenantID, r.PathValue("protocol_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	attachment, found := findAttachment(snapshot, r.PathValue("attachment_id"))
	if !found || strings.TrimSpace(attachment.ObjectKey) == "" {
		api.writeError(w, r, http.StatusNotFound, "not_found")
		return
	}

	params := url.Values{}
	params.Set("response-content-disposition", "attachment; filename=\""+sanitizeFilename(attachment.FileName)+"\"")
	if strings.TrimSpace(attachment.ContentType) != "" {
		params.Set("response-content-type", attachment.ContentType)
	}

	presigned, err := api.store.PresignedGetObject(r.Context(), api.storeCfg.BucketAttachments, attachment.ObjectKey, api.presignTTL, params)
	if err != nil {
		api.logger.Error("presign attachment", "request_id", r.Header.Get("X-Request-Id"), "error", err.Error())
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	http.Redirect(w, r, presigned.String(), http.StatusFound)
}

func findAttachment(snapshot json.RawMessage, attachmentID string) (snapshotAttachment, bool) {
	attachmentID = strings.TrimSpace(attachmentID)
	if attachmentID == "" {
		return snapshotAttachment{}, false
	}
	var doc struct {
		Attachments []snapshotAttachment `json:"attachments"`
	}
	if err := json.Unmarshal(snapshot, &doc); err != nil {
		return snapshotAttachment{}, false
	}
	for _, a := range doc.Attachments {
		if a.ID == attachmentID {
			return a, true
		}
	}
	return snapshotAttachment{}, false
}

func sanitizeFilename(name string) string {
	base := path.Base(strings.TrimSpace(name))
	if base == "" || base == "." || base == "/" {
		return "attachment.bin"
	}
	return base
}

func (api *protocolAPI) auditSnapshotExport(r *http.Request, identity auth.Identity, rawID string) {
	if api.audit == nil {
		return
	}
	canonical, ok := domain.CanonicalProtocolID(rawID)
	if !ok {
		return
	}
	actor := strings.TrimSpace(identity.Subject)
	if actor == "" {
		actor = "tenant:" + identity.TenantID
	}
	_, err := auditlog.Insert(r.Context(), api.audit, auditlog.Event{
		Actor:        actor,
		Action:       "protocol.snapshot.export",
		ResourceType: "execution_protocol",
		ResourceID:   canonical,
		TenantID:     identity.TenantID,
		RequestID:    r.Header.Get("X-Request-Id"),
		RemoteAddr:   r.RemoteAddr,
		UserAgent:    r.UserAgent(),
		Payload: map[string]any{
			"service": serviceName,
			"path":    r.URL.Path,
		},
	})
	if err != nil {
		api.logger.Warn("audit snapshot export failed", "request_id", r.Header.Get("X-Request-Id"), "error", err.Error())
	}
}

func (api *protocolAPI) requireTenant(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.TenantID) == "" {
		api.writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return auth.Identity{}, false
	}
	return identity, true
}

func (api *protocolAPI) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, protocols.ErrTenantRequired):
		api.writeError(w, r, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, protocols.ErrInvalidCursor):
		api.writeError(w, r, http.StatusBadRequest, "invalid_cursor")
	case errors.Is(err, repo.ErrNotFound):
		api.writeError(w, r, http.StatusNotFound, "not_found")
	default:
		api.logger.Error("request failed", "request_id", r.Header.Get("X-Request-Id"), "error", err.Error())
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func (api *protocolAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *protocolAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}
