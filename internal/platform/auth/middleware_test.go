package auth

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

type staticAuthenticator struct {
	identity Identity
	err      error
}

func (a staticAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	return a.identity, a.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func TestMiddlewareAttachesIdentity(t *testing.T) {
	var got Identity
	var ok bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	m := Middleware{
		Logger:        testLogger(),
		Authenticator: staticAuthenticator{identity: Identity{TenantID: "tenant-a", Subject: "apikey:k1"}},
	}

	req := httptest.NewRequest(http.MethodGet, "http://example.test/protocols", nil)
	rec := httptest.NewRecorder()
	m.Wrap(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if !ok || got.TenantID != "tenant-a" {
		t.Fatalf("identity=%+v ok=%v", got, ok)
	}
}

func TestMiddlewareDeniesAndAudits(t *testing.T) {
	var audited []DenyEvent
	m := Middleware{
		Logger:        testLogger(),
		Authenticator: staticAuthenticator{err: ErrUnauthenticated},
		Audit: func(ctx context.Context, event DenyEvent) error {
			audited = append(audited, event)
			return nil
		},
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run without identity")
	})

	req := httptest.NewRequest(http.MethodGet, "http://example.test/protocols", nil)
	req.Header.Set("X-Request-Id", "rid-1")
	rec := httptest.NewRecorder()
	m.Wrap(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", rec.Code)
	}
	if len(audited) != 1 {
		t.Fatalf("audited=%d events, want 1", len(audited))
	}
	if audited[0].Reason != "unauthenticated" || audited[0].RequestID != "rid-1" {
		t.Fatalf("deny event=%+v", audited[0])
	}
}

func TestMiddlewareSkipsHealthPrefixes(t *testing.T) {
	m := Middleware{
		Logger:        testLogger(),
		Authenticator: staticAuthenticator{err: ErrUnauthenticated},
		SkipPrefixes:  []string{"/healthz", "/readyz"},
	}

	ran := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ran = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "http://example.test/healthz", nil)
	rec := httptest.NewRecorder()
	m.Wrap(next).ServeHTTP(rec, req)

	if !ran || rec.Code != http.StatusOK {
		t.Fatalf("health endpoint should bypass auth: ran=%v status=%d", ran, rec.Code)
	}
}

func TestCredentialFromRequest(t *testing.T) {
	cases := []struct {
		name   string
		header map[string]string
		want   string
	}{
		{"bearer", map[string]string{"Authorization": "Bearer key-123"}, "key-123"},
		{"bearer case-insensitive", map[string]string{"Authorization": "bearer key-123"}, "key-123"},
		{"basic ignored", map[string]string{"Authorization": "Basic Zm9v"}, ""},
		{"x-api-key", map[string]string{"X-Api-Key": "key-456"}, "key-456"},
		{"none", nil, ""},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "http://example.test/", nil)
		for k, v := range tc.header {
			req.Header.Set(k, v)
		}
		if got := credentialFromRequest(req); got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestAPIKeyQueryLooksUpByHash(t *testing.T) {
	if want := "key_sha256 = $1"; !strings.Contains(selectAPIKeyQuery, want) {
		t.Fatalf("expected %q in api key lookup query", want)
	}
	if strings.Contains(selectAPIKeyQuery, "key_plain") {
		t.Fatalf("plaintext keys must never be queried")
	}
}

func TestHashKeyIsStableHex(t *testing.T) {
	a := HashKey("key-123")
	b := HashKey("key-123")
	if a != b {
		t.Fatalf("hash not deterministic")
	}
	if len(a) != 64 {
		t.Fatalf("hash length=%d, want 64 hex chars", len(a))
	}
	if a == HashKey("key-124") {
		t.Fatalf("distinct keys must not collide trivially")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{Mode: ModeAPIKey}).Validate(); err != nil {
		t.Fatalf("apikey mode needs no extra config: %v", err)
	}
	if err := (Config{Mode: ModeOIDC, TenantClaim: "tenant_id"}).Validate(); err == nil {
		t.Fatalf("oidc mode without issuer must fail validation")
	}
	if err := (Config{Mode: ModeDev}).Validate(); err == nil {
		t.Fatalf("dev mode without tenant must fail validation")
	}
	if err := (Config{Mode: ModeDev, DevTenantID: "t1"}).Validate(); err != nil {
		t.Fatalf("dev mode with tenant: %v", err)
	}
}
