package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/fieldworks-labs/protocol-hub/internal/platform/env"
)

type Mode string

const (
	ModeAPIKey Mode = "apikey"
	ModeOIDC   Mode = "oidc"
	ModeDev    Mode = "dev"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator resolves a caller-supplied credential into a tenant identity.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Identity, error)
}

type Config struct {
	Mode Mode

	TenantClaim   string
	OIDCIssuerURL string
	OIDCClientID  string

	DevTenantID string
}

func ConfigFromEnv() (Config, error) {
	modeRaw := strings.ToLower(strings.TrimSpace(env.String("AUTH_MODE", string(ModeAPIKey))))
	var mode Mode
	switch modeRaw {
	case string(ModeAPIKey):
		mode = ModeAPIKey
	case string(ModeOIDC):
		mode = ModeOIDC
	case string(ModeDev):
		mode = ModeDev
	default:
		return Config{}, fmt.Errorf("AUTH_MODE must be one of: apikey, oidc, dev (got %q)", modeRaw)
	}

	cfg := Config{
		Mode:          mode,
		TenantClaim:   env.String("AUTH_TENANT_CLAIM", "tenant_id"),
		OIDCIssuerURL: env.String("OIDC_ISSUER_URL", ""),
		OIDCClientID:  env.String("OIDC_CLIENT_ID", ""),
		DevTenantID:   env.String("DEV_AUTH_TENANT_ID", "dev-tenant"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeAPIKey:
	case ModeOIDC:
		if strings.TrimSpace(c.OIDCIssuerURL) == "" {
			return errors.New("OIDC_ISSUER_URL is required when AUTH_MODE=oidc")
		}
		if strings.TrimSpace(c.OIDCClientID) == "" {
			return errors.New("OIDC_CLIENT_ID is required when AUTH_MODE=oidc")
		}
		if strings.TrimSpace(c.TenantClaim) == "" {
			return errors.New("AUTH_TENANT_CLAIM is required when AUTH_MODE=oidc")
		}
	case ModeDev:
		if strings.TrimSpace(c.DevTenantID) == "" {
			return errors.New("DEV_AUTH_TENANT_ID is required when AUTH_MODE=dev")
		}
	default:
		return fmt.Errorf("unsupported auth mode: %q", c.Mode)
	}
	return nil
}

// DevAuthenticator resolves every request to a fixed tenant. Local
// development only.
type DevAuthenticator struct {
	TenantID string
}

func (a DevAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	tenantID := strings.TrimSpace(a.TenantID)
	if tenantID == "" {
		return Identity{}, ErrUnauthenticated
	}
	return Identity{TenantID: tenantID, Subject: "dev"}, nil
}

// credentialFromRequest extracts the caller credential: an Authorization
// bearer value or the X-Api-Key header.
func credentialFromRequest(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return strings.TrimSpace(r.Header.Get("X-Api-Key"))
}
