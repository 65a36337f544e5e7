package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"stratex.org/internal/audit"
	"stratex.org/internal/authz"
	"stratex.org/internal/credential"
)

type checkRequest struct {
	Permission string `json:"permission"`
}

type checkResponse struct {
	Permission string `json:"permission"`
	Decision   string `json:"decision"`
}

type createUserRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type createUserResponse struct {
	User authz.User `json:"user"`
	// Password is the generated initial credential, returned exactly once.
	Password string `json:"password"`
}

type attachMembershipRequest struct {
	BusinessUnitID  string `json:"business_unit_id"`
	RoleID          string `json:"role_id"`
	IsResponsible   bool   `json:"is_responsible"`
	CopyPermissions bool   `json:"copy_permissions"`
}

type setOverrideRequest struct {
	Permission string `json:"permission"`
	Allowed    bool   `json:"allowed"`
}

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type grantRequest struct {
	Permission string `json:"permission"`
}

// handleAuthzCheck resolves one permission for the caller inside the tenant
// named by the request headers.
func (a *API) handleAuthzCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	subject, ok := authz.SubjectFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	tenant, ok := authz.TenantFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusBadRequest, "x-business-unit-id header is required")
		return
	}

	var req checkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Permission) == "" {
		writeError(w, r, http.StatusBadRequest, "permission is required")
		return
	}

	decision, err := a.admin.Resolver().Resolve(r.Context(), subject, tenant, req.Permission)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkResponse{
		Permission: strings.TrimSpace(req.Permission),
		Decision:   decision.String(),
	})
}

// handleAuthzPermissions returns the caller's full capability matrix for the
// tenant, one decision per catalog permission.
func (a *API) handleAuthzPermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	subject, ok := authz.SubjectFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	tenant, ok := authz.TenantFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusBadRequest, "x-business-unit-id header is required")
		return
	}

	matrix, err := a.admin.Resolver().ResolveAll(r.Context(), subject, tenant)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	out := make(map[string]string, len(matrix))
	for name, decision := range matrix {
		out[name] = decision.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"business_unit_id": tenant,
		"permissions":      out,
	})
}

func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.requirePermission(w, r, "users.create") {
		return
	}

	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, r, http.StatusBadRequest, "email is required")
		return
	}

	password, err := credential.GenerateSecurePassword()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "credential generation failed")
		return
	}
	hash, err := credential.HashPassword(password)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "credential generation failed")
		return
	}

	user := authz.User{
		Email:        req.Email,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
		Active:       true,
	}
	if err := a.store.Users().Create(r.Context(), &user); err != nil {
		handleAuthzError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "user.created", map[string]any{
		"target_user_id": user.ID,
		"email":          user.Email,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", user.ID))
	writeJSON(w, http.StatusCreated, createUserResponse{User: user, Password: password})
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	userID := parts[0]
	switch parts[1] {
	case "memberships":
		a.handleUserMemberships(w, r, userID)
	case "overrides":
		a.handleUserOverrides(w, r, userID)
	case "logout":
		a.handleUserLogout(w, r, userID)
	case "password":
		a.handleUserPassword(w, r, userID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserMemberships(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodPut:
		if !a.requirePermission(w, r, "users.assign") {
			return
		}
		var req attachMembershipRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		m := authz.Membership{
			UserID:         userID,
			BusinessUnitID: req.BusinessUnitID,
			RoleID:         req.RoleID,
			IsResponsible:  req.IsResponsible,
		}
		if err := a.admin.Attach(r.Context(), m, req.CopyPermissions); err != nil {
			handleAuthzError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "membership.attached", map[string]any{
			"target_user_id":   userID,
			"business_unit_id": req.BusinessUnitID,
			"role_id":          req.RoleID,
			"copy_permissions": req.CopyPermissions,
		})
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		if !a.requirePermission(w, r, "users.assign") {
			return
		}
		buID := strings.TrimSpace(r.URL.Query().Get("business_unit_id"))
		if err := a.admin.Detach(r.Context(), userID, buID); err != nil {
			handleAuthzError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "membership.detached", map[string]any{
			"target_user_id":   userID,
			"business_unit_id": buID,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) handleUserOverrides(w http.ResponseWriter, r *http.Request, userID string) {
	tenant, ok := authz.TenantFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusBadRequest, "x-business-unit-id header is required")
		return
	}
	switch r.Method {
	case http.MethodPut:
		if !a.requirePermission(w, r, "users.assign") {
			return
		}
		var req setOverrideRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.admin.SetOverride(r.Context(), userID, tenant, req.Permission, req.Allowed); err != nil {
			handleAuthzError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "override.set", map[string]any{
			"target_user_id": userID,
			"permission":     req.Permission,
			"allowed":        req.Allowed,
		})
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		if !a.requirePermission(w, r, "users.assign") {
			return
		}
		perm := strings.TrimSpace(r.URL.Query().Get("permission"))
		if perm == "" {
			writeError(w, r, http.StatusBadRequest, "permission query parameter is required")
			return
		}
		if err := a.admin.ClearOverride(r.Context(), userID, tenant, perm); err != nil {
			handleAuthzError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "override.cleared", map[string]any{
			"target_user_id": userID,
			"permission":     perm,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPut, http.MethodDelete)
	}
}

// handleUserLogout lets an administrator revoke another user's sessions.
func (a *API) handleUserLogout(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.requirePermission(w, r, "users.update") {
		return
	}
	if err := a.sessions.LogoutAll(r.Context(), userID); err != nil {
		handleAuthzError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "session.revoked", map[string]any{
		"target_user_id": userID,
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleUserPassword rotates the user's credential to a freshly generated
// password and revokes every token issued under the old one.
func (a *API) handleUserPassword(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.requirePermission(w, r, "users.update") {
		return
	}
	password, err := credential.GenerateSecurePassword()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "credential generation failed")
		return
	}
	if err := a.sessions.RotateCredential(r.Context(), userID, password); err != nil {
		handleAuthzError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "credential.rotated", map[string]any{
		"target_user_id": userID,
	})
	writeJSON(w, http.StatusOK, map[string]string{"password": password})
}

func (a *API) handleRolesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !a.requirePermission(w, r, "roles.create") {
			return
		}
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role := authz.Role{Name: req.Name, Description: req.Description}
		if err := a.store.Roles().Create(r.Context(), &role); err != nil {
			handleAuthzError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "role.created", map[string]any{
			"role_id": role.ID,
			"name":    role.Name,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
		writeJSON(w, http.StatusCreated, role)
	case http.MethodGet:
		if !a.requirePermission(w, r, "roles.read") {
			return
		}
		roles, err := a.store.Roles().List(r.Context())
		if err != nil {
			handleAuthzError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": roles})
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "grants" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	roleID := parts[0]

	switch r.Method {
	case http.MethodPost:
		if !a.requirePermission(w, r, "roles.update") {
			return
		}
		var req grantRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.admin.Grant(r.Context(), roleID, req.Permission); err != nil {
			handleAuthzError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "role.granted", map[string]any{
			"role_id":    roleID,
			"permission": req.Permission,
		})
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		if !a.requirePermission(w, r, "roles.update") {
			return
		}
		perm := strings.TrimSpace(r.URL.Query().Get("permission"))
		if perm == "" {
			writeError(w, r, http.StatusBadRequest, "permission query parameter is required")
			return
		}
		if err := a.admin.Revoke(r.Context(), roleID, perm); err != nil {
			handleAuthzError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "role.revoked", map[string]any{
			"role_id":    roleID,
			"permission": perm,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
	}
}

func handleAuthzError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, authz.ErrInvalidInput), errors.Is(err, authz.ErrUnknownPermission):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, authz.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, authz.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
