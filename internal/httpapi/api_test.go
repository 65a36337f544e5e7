package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stratex.org/internal/authz"
	"stratex.org/internal/credential"
	"stratex.org/internal/session"
	"stratex.org/internal/store/memory"
)

const (
	testAdminEmail    = "admin@example.com"
	testAdminPassword = "Adm1nPassw0rd"
	testTenant        = "bu-1"
)

type testEnv struct {
	baseURL string
	client  *http.Client
	store   *memory.Store
	admin   *authz.Service
	adminID string
	now     time.Time
	t       *testing.T
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	store := memory.New()
	if err := authz.EnsureBuiltins(ctx, store.Catalog()); err != nil {
		t.Fatalf("EnsureBuiltins: %v", err)
	}

	adminSvc, err := authz.NewService(store)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	hash, err := credential.HashPassword(testAdminPassword)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	admin := &authz.User{Email: testAdminEmail, Name: "Admin", PasswordHash: hash, Active: true}
	if err := store.Users().Create(ctx, admin); err != nil {
		t.Fatalf("create admin: %v", err)
	}

	role := &authz.Role{Name: authz.RoleAdmin}
	if err := store.Roles().Create(ctx, role); err != nil {
		t.Fatalf("create role: %v", err)
	}
	for _, perm := range []string{
		"users.create", "users.update", "users.assign", "users.read",
		"roles.create", "roles.read", "roles.update",
	} {
		if err := adminSvc.Grant(ctx, role.ID, perm); err != nil {
			t.Fatalf("grant %s: %v", perm, err)
		}
	}
	err = adminSvc.Attach(ctx, authz.Membership{
		UserID:         admin.ID,
		BusinessUnitID: testTenant,
		RoleID:         role.ID,
	}, false)
	if err != nil {
		t.Fatalf("attach admin: %v", err)
	}

	env := &testEnv{
		store:   store,
		admin:   adminSvc,
		adminID: admin.ID,
		now:     time.Now().UTC(),
		t:       t,
	}

	access, err := session.NewAccessStrategy("test-access-secret", time.Hour, "")
	if err != nil {
		t.Fatalf("NewAccessStrategy: %v", err)
	}
	refresh, err := session.NewRefreshStrategy("test-refresh-secret", 24*time.Hour, "")
	if err != nil {
		t.Fatalf("NewRefreshStrategy: %v", err)
	}
	sessions, err := session.NewService(store.Users(), access, refresh,
		session.WithClock(func() time.Time { return env.now }))
	if err != nil {
		t.Fatalf("session.NewService: %v", err)
	}

	api := New(ReadyProbe{}, "test", store, adminSvc, sessions)
	api.rateBurst = 1000
	api.ratePerSec = 1000
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	env.baseURL = srv.URL
	env.client = srv.Client()
	return env
}

func (e *testEnv) do(method, path string, body any, headers map[string]string) *http.Response {
	e.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		e.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		e.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (e *testEnv) login(email, password string) session.TokenPair {
	e.t.Helper()
	resp := e.do(http.MethodPost, "/v1/auth/token", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		e.t.Fatalf("login returned %d", resp.StatusCode)
	}
	var pair session.TokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		e.t.Fatalf("decode token pair: %v", err)
	}
	return pair
}

func (e *testEnv) authHeaders(token string) map[string]string {
	return map[string]string{
		"Authorization":      "Bearer " + token,
		"X-Business-Unit-Id": testTenant,
	}
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthzIsPublic(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(http.MethodGet, "/healthz", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestProtectedPathRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(http.MethodPost, "/v1/authz/check", map[string]string{"permission": "users.read"}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(http.MethodPost, "/v1/auth/token", map[string]string{
		"email":    testAdminEmail,
		"password": "wrong",
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestAuthzCheckDecisions(t *testing.T) {
	env := newTestEnv(t)
	pair := env.login(testAdminEmail, testAdminPassword)
	headers := env.authHeaders(pair.AccessToken)

	cases := []struct {
		permission string
		want       string
	}{
		{"users.create", "allow"},
		{"users.delete", "deny"},
		{"plans.export", "deny"},
		{"users.nonsense", "deny"},
	}
	for _, tc := range cases {
		resp := env.do(http.MethodPost, "/v1/authz/check", map[string]string{"permission": tc.permission}, headers)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", tc.permission, resp.StatusCode)
		}
		var out checkResponse
		decodeBody(t, resp, &out)
		if out.Decision != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.permission, tc.want, out.Decision)
		}
	}
}

func TestAuthzCheckRequiresTenantHeader(t *testing.T) {
	env := newTestEnv(t)
	pair := env.login(testAdminEmail, testAdminPassword)

	resp := env.do(http.MethodPost, "/v1/authz/check",
		map[string]string{"permission": "users.read"},
		map[string]string{"Authorization": "Bearer " + pair.AccessToken})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestPermissionsMatrixCoversCatalog(t *testing.T) {
	env := newTestEnv(t)
	pair := env.login(testAdminEmail, testAdminPassword)

	resp := env.do(http.MethodGet, "/v1/authz/permissions", nil, env.authHeaders(pair.AccessToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out struct {
		BusinessUnitID string            `json:"business_unit_id"`
		Permissions    map[string]string `json:"permissions"`
	}
	decodeBody(t, resp, &out)

	if out.BusinessUnitID != testTenant {
		t.Fatalf("matrix scoped to %q", out.BusinessUnitID)
	}
	if len(out.Permissions) != len(authz.BuiltinPermissionNames()) {
		t.Fatalf("expected %d entries, got %d", len(authz.BuiltinPermissionNames()), len(out.Permissions))
	}
	if out.Permissions["users.create"] != "allow" {
		t.Fatal("granted permission missing from matrix")
	}
	if out.Permissions["goals.delete"] != "deny" {
		t.Fatal("ungranted permission must be deny")
	}
}

func TestUserProvisioningFlow(t *testing.T) {
	env := newTestEnv(t)
	pair := env.login(testAdminEmail, testAdminPassword)
	headers := env.authHeaders(pair.AccessToken)

	resp := env.do(http.MethodPost, "/v1/users", map[string]string{
		"email": "analyst@example.com",
		"name":  "Analyst",
	}, headers)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created createUserResponse
	decodeBody(t, resp, &created)

	if created.Password == "" {
		t.Fatal("generated password must be returned once")
	}
	if n := len(created.Password); n < 12 || n > 20 {
		t.Fatalf("generated password length %d out of range", n)
	}

	// The initial credential works for login.
	env.login("analyst@example.com", created.Password)

	// The new user has no membership yet, so every check denies.
	analystPair := env.login("analyst@example.com", created.Password)
	resp = env.do(http.MethodPost, "/v1/authz/check",
		map[string]string{"permission": "users.read"},
		env.authHeaders(analystPair.AccessToken))
	var out checkResponse
	decodeBody(t, resp, &out)
	if out.Decision != "deny" {
		t.Fatal("user without membership must be denied")
	}
}

func TestMembershipAndOverrideAdministration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pair := env.login(testAdminEmail, testAdminPassword)
	headers := env.authHeaders(pair.AccessToken)

	hash, _ := credential.HashPassword("Spec1alist00")
	user := &authz.User{Email: "spec@example.com", PasswordHash: hash, Active: true}
	if err := env.store.Users().Create(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	role := &authz.Role{Name: authz.RoleSpecialist}
	if err := env.store.Roles().Create(ctx, role); err != nil {
		t.Fatalf("create role: %v", err)
	}
	if err := env.admin.Grant(ctx, role.ID, "plans.read"); err != nil {
		t.Fatalf("grant: %v", err)
	}

	resp := env.do(http.MethodPut, "/v1/users/"+user.ID+"/memberships", map[string]any{
		"business_unit_id": testTenant,
		"role_id":          role.ID,
	}, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("attach: expected 204, got %d", resp.StatusCode)
	}

	decision, err := env.admin.Resolver().Resolve(ctx, user.ID, testTenant, "plans.read")
	if err != nil || decision != authz.Allow {
		t.Fatalf("role grant not effective: %v %v", decision, err)
	}

	// A stored deny beats the role grant.
	resp = env.do(http.MethodPut, "/v1/users/"+user.ID+"/overrides", map[string]any{
		"permission": "plans.read",
		"allowed":    false,
	}, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("override: expected 204, got %d", resp.StatusCode)
	}
	decision, err = env.admin.Resolver().Resolve(ctx, user.ID, testTenant, "plans.read")
	if err != nil || decision != authz.Deny {
		t.Fatalf("override must win: %v %v", decision, err)
	}

	// Clearing restores role evaluation.
	resp = env.do(http.MethodDelete, "/v1/users/"+user.ID+"/overrides?permission=plans.read", nil, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("clear: expected 204, got %d", resp.StatusCode)
	}
	decision, err = env.admin.Resolver().Resolve(ctx, user.ID, testTenant, "plans.read")
	if err != nil || decision != authz.Allow {
		t.Fatalf("clear must fall back to role: %v %v", decision, err)
	}

	// Detach removes everything role-derived.
	resp = env.do(http.MethodDelete, "/v1/users/"+user.ID+"/memberships?business_unit_id="+testTenant, nil, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("detach: expected 204, got %d", resp.StatusCode)
	}
	decision, err = env.admin.Resolver().Resolve(ctx, user.ID, testTenant, "plans.read")
	if err != nil || decision != authz.Deny {
		t.Fatalf("detached user must be denied: %v %v", decision, err)
	}
}

func TestAdministrationRequiresPermission(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	hash, _ := credential.HashPassword("View3rView3r")
	viewer := &authz.User{Email: "viewer@example.com", PasswordHash: hash, Active: true}
	if err := env.store.Users().Create(ctx, viewer); err != nil {
		t.Fatalf("create viewer: %v", err)
	}
	pair := env.login("viewer@example.com", "View3rView3r")

	resp := env.do(http.MethodPost, "/v1/users", map[string]string{
		"email": "sneak@example.com",
	}, env.authHeaders(pair.AccessToken))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestLogoutRevokesOutstandingTokens(t *testing.T) {
	env := newTestEnv(t)
	pair := env.login(testAdminEmail, testAdminPassword)
	headers := env.authHeaders(pair.AccessToken)

	// Jump the clock so the watermark lands strictly after issuance.
	env.now = env.now.Add(2 * time.Second)

	resp := env.do(http.MethodPost, "/v1/auth/logout", nil, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d", resp.StatusCode)
	}

	resp = env.do(http.MethodPost, "/v1/authz/check",
		map[string]string{"permission": "users.read"}, headers)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked token must be rejected, got %d", resp.StatusCode)
	}
}

func TestRefreshRotatesPair(t *testing.T) {
	env := newTestEnv(t)
	pair := env.login(testAdminEmail, testAdminPassword)

	resp := env.do(http.MethodPost, "/v1/auth/refresh", map[string]string{
		"refresh_token": pair.RefreshToken,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d", resp.StatusCode)
	}
	var next session.TokenPair
	decodeBody(t, resp, &next)
	if next.AccessToken == "" || next.RefreshToken == "" {
		t.Fatal("refresh must return a full pair")
	}

	// An access token is not accepted as a refresh token.
	resp = env.do(http.MethodPost, "/v1/auth/refresh", map[string]string{
		"refresh_token": pair.AccessToken,
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestRoleGrantEndpoints(t *testing.T) {
	env := newTestEnv(t)
	pair := env.login(testAdminEmail, testAdminPassword)
	headers := env.authHeaders(pair.AccessToken)

	resp := env.do(http.MethodPost, "/v1/roles", map[string]string{
		"name":        "Operator",
		"description": "Back office operator",
	}, headers)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create role: expected 201, got %d", resp.StatusCode)
	}
	var role authz.Role
	decodeBody(t, resp, &role)

	resp = env.do(http.MethodPost, "/v1/roles/"+role.ID+"/grants", map[string]string{
		"permission": "indicators.read",
	}, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("grant: expected 204, got %d", resp.StatusCode)
	}

	// Unknown permission names are refused, not silently accepted.
	resp = env.do(http.MethodPost, "/v1/roles/"+role.ID+"/grants", map[string]string{
		"permission": "indicators.explode",
	}, headers)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown permission: expected 400, got %d", resp.StatusCode)
	}
}

func TestBearerTokenExtraction(t *testing.T) {
	cases := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc", "abc", false},
		{"bearer abc", "abc", false},
		{"Basic abc", "", true},
		{"Bearer ", "", true},
		{"", "", true},
	}
	for _, tc := range cases {
		got, err := extractBearerToken(tc.header)
		if tc.wantErr != (err != nil) {
			t.Fatalf("%q: unexpected error state: %v", tc.header, err)
		}
		if got != tc.want {
			t.Fatalf("%q: expected %q, got %q", tc.header, tc.want, got)
		}
	}
}

func TestRequestIDPropagates(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(http.MethodGet, "/healthz", nil, map[string]string{
		"X-Request-Id": "req-42",
	})
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Request-Id"); got != "req-42" {
		t.Fatalf("expected request id echoed, got %q", got)
	}

	resp2 := env.do(http.MethodGet, "/healthz", nil, nil)
	defer resp2.Body.Close()
	if resp2.Header.Get("X-Request-Id") == "" {
		t.Fatal("expected generated request id")
	}
}
