package authz

import (
	"context"
	"strings"
)

type subjectContextKey struct{}
type tenantContextKey struct{}

// ContextWithSubject stores the authenticated user id in the context.
func ContextWithSubject(ctx context.Context, userID string) context.Context {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, subjectContextKey{}, userID)
}

// SubjectFromContext extracts the authenticated user id from the context.
func SubjectFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(subjectContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// ContextWithTenant stores the request's business unit id in the context.
func ContextWithTenant(ctx context.Context, businessUnitID string) context.Context {
	businessUnitID = strings.TrimSpace(businessUnitID)
	if businessUnitID == "" {
		return ctx
	}
	return context.WithValue(ctx, tenantContextKey{}, businessUnitID)
}

// TenantFromContext returns the business unit id carried by the request.
func TenantFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tenantContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
