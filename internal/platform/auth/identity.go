package auth

import "context"

// Identity is the resolved tenant context attached to a request. TenantID is
// the only field the read paths are allowed to filter on; Subject and KeyID
// exist for audit trails.
type Identity struct {
	TenantID string
	Subject  string
	KeyID    string
}

type ctxKeyIdentity struct{}

func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(ctxKeyIdentity{}).(Identity)
	return v, ok
}
