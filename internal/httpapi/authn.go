package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"stratex.org/internal/authz"
	"stratex.org/internal/session"
)

const (
	authHeader   = "Authorization"
	bearer       = "Bearer "
	tenantHeader = "X-Business-Unit-Id"
)

var publicPaths = []string{
	"/v1/auth/token",
	"/v1/auth/refresh",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

// withAuth authenticates the bearer access token and stashes the subject id
// and, when the tenant header is present, the business unit id in the
// request context.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.guard == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		subject, err := a.guard.Verify(r.Context(), token)
		if err != nil {
			if errors.Is(err, session.ErrNotAuthenticated) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		ctx := authz.ContextWithSubject(r.Context(), subject)
		if bu := strings.TrimSpace(r.Header.Get(tenantHeader)); bu != "" {
			ctx = authz.ContextWithTenant(ctx, bu)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePermission resolves the caller's permission inside the tenant from
// the request context and writes the refusal itself. Callers bail out when
// it returns false.
func (a *API) requirePermission(w http.ResponseWriter, r *http.Request, permission string) bool {
	subject, ok := authz.SubjectFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	tenant, ok := authz.TenantFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusBadRequest, "x-business-unit-id header is required")
		return false
	}
	decision, err := a.admin.Resolver().Resolve(r.Context(), subject, tenant, permission)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "authorization check failed")
		return false
	}
	if decision != authz.Allow {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return false
	}
	return true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
