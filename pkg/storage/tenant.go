package storage

import "context"

type ctxTenant struct{}

// SetTenant returns a copy of ctx scoped to tenant. Stores filter every
// read and write by it, so two tenants never see each other's records.
func SetTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, ctxTenant{}, tenant)
}

// GetTenant returns the tenant ctx is scoped to. The empty string is the
// shared tenant used when authentication is off.
func GetTenant(ctx context.Context) string {
	tenant, _ := ctx.Value(ctxTenant{}).(string)
	return tenant
}
