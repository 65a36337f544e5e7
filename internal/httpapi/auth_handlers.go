package httpapi

import (
	"net/http"
	"strings"

	"stratex.org/internal/audit"
	"stratex.org/internal/authz"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.sessions == nil {
		writeError(w, r, http.StatusServiceUnavailable, "session service unavailable")
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	pair, err := a.sessions.IssuePair(r.Context(), req.Email, req.Password)
	if err != nil {
		// One refusal for every failure mode so the endpoint does not leak
		// which accounts exist.
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}

	_ = audit.LogEvent(r.Context(), "session.pair.issued", map[string]any{
		"access_expires_at": pair.AccessExpiresAt,
	})
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleAuthRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.sessions == nil {
		writeError(w, r, http.StatusServiceUnavailable, "session service unavailable")
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}

	pair, err := a.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	_ = audit.LogEvent(r.Context(), "session.pair.refreshed", map[string]any{
		"access_expires_at": pair.AccessExpiresAt,
	})
	writeJSON(w, http.StatusOK, pair)
}

// handleAuthLogout moves the caller's watermark, revoking every outstanding
// access and refresh token in one write.
func (a *API) handleAuthLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.sessions == nil {
		writeError(w, r, http.StatusServiceUnavailable, "session service unavailable")
		return
	}

	subject, ok := authz.SubjectFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := a.sessions.LogoutAll(r.Context(), subject); err != nil {
		writeError(w, r, http.StatusInternalServerError, "logout failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "session.logout_all", nil)
	w.WriteHeader(http.StatusNoContent)
}
