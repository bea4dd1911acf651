package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCAuthenticator verifies machine-to-machine bearer tokens against the
// configured issuer and resolves the tenant from a token claim. There is no
// interactive login flow; consumers obtain tokens out of band.
type OIDCAuthenticator struct {
	cfg      Config
	verifier *oidc.IDTokenVerifier
}

func NewOIDCAuthenticator(ctx context.Context, cfg Config) (*OIDCAuthenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode != ModeOIDC {
		return nil, fmt.Errorf("auth mode must be oidc (got %q)", cfg.Mode)
	}

	provider, err := oidc.NewProvider(ctx, cfg.OIDCIssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}

	return &OIDCAuthenticator{
		cfg:      cfg,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.OIDCClientID}),
	}, nil
}

func (a *OIDCAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	rawToken := credentialFromRequest(r)
	if rawToken == "" {
		return Identity{}, ErrUnauthenticated
	}

	token, err := a.verifier.Verify(ctx, rawToken)
	if err != nil {
		return Identity{}, err
	}

	var claims map[string]any
	if err := token.Claims(&claims); err != nil {
		return Identity{}, err
	}

	tenantID, _ := claims[a.cfg.TenantClaim].(string)
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return Identity{}, fmt.Errorf("token missing %s claim: %w", a.cfg.TenantClaim, ErrUnauthenticated)
	}
	subject, _ := claims["sub"].(string)

	return Identity{TenantID: tenantID, Subject: subject}, nil
}
