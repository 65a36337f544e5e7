// Package memory implements the authorization store contracts with plain
// maps behind a RWMutex. Writes are visible to any read issued after the
// write returns; reads for different tuples never block each other beyond
// the lock. cmd/api falls back to it when no DSN is configured, and the
// resolver and session tests run against it.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"stratex.org/internal/authz"
	"stratex.org/internal/ids"
)

type membershipKey struct {
	userID         string
	businessUnitID string
}

type overrideKey struct {
	userID         string
	businessUnitID string
	permissionID   string
}

type grantKey struct {
	roleID       string
	permissionID string
}

// Store is the in-memory bundle. The zero value is not usable; construct
// with New.
type Store struct {
	mu sync.RWMutex

	modules     map[string]authz.Module     // by id
	moduleCodes map[string]string           // short code -> id
	permissions map[string]authz.Permission // by id
	permNames   map[string]string           // name -> id

	users      map[string]*authz.User
	userEmails map[string]string

	roles     map[string]*authz.Role
	roleNames map[string]string

	memberships map[membershipKey]authz.Membership
	overrides   map[overrideKey]authz.Override
	grants      map[grantKey]time.Time

	now func() time.Time
}

// New constructs an empty store.
func New() *Store {
	return &Store{
		modules:     make(map[string]authz.Module),
		moduleCodes: make(map[string]string),
		permissions: make(map[string]authz.Permission),
		permNames:   make(map[string]string),
		users:       make(map[string]*authz.User),
		userEmails:  make(map[string]string),
		roles:       make(map[string]*authz.Role),
		roleNames:   make(map[string]string),
		memberships: make(map[membershipKey]authz.Membership),
		overrides:   make(map[overrideKey]authz.Override),
		grants:      make(map[grantKey]time.Time),
		now:         time.Now,
	}
}

var _ authz.Store = (*Store)(nil)

func (s *Store) Catalog() authz.CatalogStore        { return (*catalogStore)(s) }
func (s *Store) Memberships() authz.MembershipStore { return (*membershipStore)(s) }
func (s *Store) RoleGrants() authz.RoleGrantStore   { return (*grantStore)(s) }
func (s *Store) Overrides() authz.OverrideStore     { return (*overrideStore)(s) }
func (s *Store) Users() authz.UserStore             { return (*userStore)(s) }
func (s *Store) Roles() authz.RoleStore             { return (*roleStore)(s) }

// Catalog -------------------------------------------------------------------

type catalogStore Store

func (s *catalogStore) ListModules(_ context.Context) ([]authz.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]authz.Module, 0, len(s.modules))
	for _, m := range s.modules {
		out = append(out, m)
	}
	sortByCreated(out, func(m authz.Module) (time.Time, string) { return m.CreatedAt, m.ShortCode })
	return out, nil
}

func (s *catalogStore) ListPermissions(_ context.Context, moduleID string) ([]authz.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []authz.Permission
	for _, p := range s.permissions {
		if p.ModuleID == moduleID {
			out = append(out, p)
		}
	}
	sortByCreated(out, func(p authz.Permission) (time.Time, string) { return p.CreatedAt, p.Name })
	return out, nil
}

func (s *catalogStore) ListAllPermissions(_ context.Context) ([]authz.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]authz.Permission, 0, len(s.permissions))
	for _, p := range s.permissions {
		out = append(out, p)
	}
	sortByCreated(out, func(p authz.Permission) (time.Time, string) { return p.CreatedAt, p.Name })
	return out, nil
}

func (s *catalogStore) FindPermissionByName(_ context.Context, name string) (authz.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.permNames[name]
	if !ok {
		return authz.Permission{}, authz.ErrNotFound
	}
	return s.permissions[id], nil
}

func (s *catalogStore) Ensure(_ context.Context, modules []authz.Module, perms []authz.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	for _, m := range modules {
		if _, ok := s.moduleCodes[m.ShortCode]; ok {
			continue
		}
		if m.ID == "" {
			m.ID = ids.New()
		}
		m.CreatedAt = now
		s.modules[m.ID] = m
		s.moduleCodes[m.ShortCode] = m.ID
	}
	for _, p := range perms {
		if _, ok := s.permNames[p.Name]; ok {
			continue
		}
		if p.ID == "" {
			p.ID = ids.New()
		}
		if p.ModuleID == "" {
			code := p.Name
			if dot := strings.IndexByte(code, '.'); dot > 0 {
				code = code[:dot]
			}
			p.ModuleID = s.moduleCodes[code]
		}
		p.CreatedAt = now
		s.permissions[p.ID] = p
		s.permNames[p.Name] = p.ID
	}
	return nil
}

// Memberships ----------------------------------------------------------------

type membershipStore Store

func (s *membershipStore) Get(_ context.Context, userID, businessUnitID string) (authz.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memberships[membershipKey{userID, businessUnitID}]
	if !ok {
		return authz.Membership{}, authz.ErrNotFound
	}
	return m, nil
}

func (s *membershipStore) Upsert(_ context.Context, m authz.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := membershipKey{m.UserID, m.BusinessUnitID}
	now := s.now().UTC()
	if existing, ok := s.memberships[key]; ok {
		m.CreatedAt = existing.CreatedAt
	} else {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	s.memberships[key] = m
	return nil
}

func (s *membershipStore) Remove(_ context.Context, userID, businessUnitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.memberships, membershipKey{userID, businessUnitID})
	return nil
}

func (s *membershipStore) ListForUser(_ context.Context, userID string) ([]authz.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []authz.Membership
	for key, m := range s.memberships {
		if key.userID == userID {
			out = append(out, m)
		}
	}
	sortByCreated(out, func(m authz.Membership) (time.Time, string) { return m.CreatedAt, m.BusinessUnitID })
	return out, nil
}

// Role grants ----------------------------------------------------------------

type grantStore Store

func (s *grantStore) GrantedPermissionIDs(_ context.Context, roleID string) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{})
	for key := range s.grants {
		if key.roleID == roleID {
			out[key.permissionID] = struct{}{}
		}
	}
	return out, nil
}

func (s *grantStore) Grant(_ context.Context, roleID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := grantKey{roleID, permissionID}
	if _, ok := s.grants[key]; !ok {
		s.grants[key] = s.now().UTC()
	}
	return nil
}

func (s *grantStore) Revoke(_ context.Context, roleID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants, grantKey{roleID, permissionID})
	return nil
}

// Overrides ------------------------------------------------------------------

type overrideStore Store

func (s *overrideStore) Get(_ context.Context, userID, businessUnitID, permissionID string) (bool, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.overrides[overrideKey{userID, businessUnitID, permissionID}]
	if !ok {
		return false, false, nil
	}
	return o.Allowed, true, nil
}

func (s *overrideStore) Set(_ context.Context, o authz.Override) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := overrideKey{o.UserID, o.BusinessUnitID, o.PermissionID}
	now := s.now().UTC()
	if existing, ok := s.overrides[key]; ok {
		o.CreatedAt = existing.CreatedAt
	} else {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	s.overrides[key] = o
	return nil
}

func (s *overrideStore) Clear(_ context.Context, userID, businessUnitID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overrides, overrideKey{userID, businessUnitID, permissionID})
	return nil
}

func (s *overrideStore) ListForUser(_ context.Context, userID, businessUnitID string) ([]authz.Override, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []authz.Override
	for key, o := range s.overrides {
		if key.userID == userID && key.businessUnitID == businessUnitID {
			out = append(out, o)
		}
	}
	sortByCreated(out, func(o authz.Override) (time.Time, string) { return o.CreatedAt, o.PermissionID })
	return out, nil
}

// Users ----------------------------------------------------------------------

type userStore Store

func (s *userStore) Create(_ context.Context, u *authz.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(strings.TrimSpace(u.Email))
	if email == "" {
		return fmt.Errorf("%w: email is required", authz.ErrInvalidInput)
	}
	if _, ok := s.userEmails[email]; ok {
		return authz.ErrConflict
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := s.now().UTC()
	u.Email = email
	u.CreatedAt = now
	u.UpdatedAt = now
	clone := *u
	s.users[u.ID] = &clone
	s.userEmails[email] = u.ID
	return nil
}

func (s *userStore) Find(_ context.Context, id string) (*authz.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, authz.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (s *userStore) FindByEmail(_ context.Context, email string) (*authz.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.userEmails[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, authz.ErrNotFound
	}
	clone := *s.users[id]
	return &clone, nil
}

func (s *userStore) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return authz.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = s.now().UTC()
	return nil
}

func (s *userStore) SetInvalidBefore(_ context.Context, userID string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return authz.ErrNotFound
	}
	watermark := t.UTC()
	u.InvalidBefore = &watermark
	u.UpdatedAt = s.now().UTC()
	return nil
}

func (s *userStore) Deactivate(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return authz.ErrNotFound
	}
	u.Active = false
	u.UpdatedAt = s.now().UTC()
	return nil
}

// Roles ----------------------------------------------------------------------

type roleStore Store

func (s *roleStore) Create(_ context.Context, role *authz.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := strings.TrimSpace(role.Name)
	if name == "" {
		return fmt.Errorf("%w: role name is required", authz.ErrInvalidInput)
	}
	if _, ok := s.roleNames[name]; ok {
		return authz.ErrConflict
	}
	if role.ID == "" {
		role.ID = ids.New()
	}
	now := s.now().UTC()
	role.Name = name
	role.CreatedAt = now
	role.UpdatedAt = now
	clone := *role
	s.roles[role.ID] = &clone
	s.roleNames[name] = role.ID
	return nil
}

func (s *roleStore) Find(_ context.Context, id string) (*authz.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return nil, authz.ErrNotFound
	}
	clone := *r
	return &clone, nil
}

func (s *roleStore) FindByName(_ context.Context, name string) (*authz.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.roleNames[strings.TrimSpace(name)]
	if !ok {
		return nil, authz.ErrNotFound
	}
	clone := *s.roles[id]
	return &clone, nil
}

func (s *roleStore) List(_ context.Context) ([]authz.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]authz.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, *r)
	}
	sortByCreated(out, func(r authz.Role) (time.Time, string) { return r.CreatedAt, r.Name })
	return out, nil
}

// sortByCreated orders by creation time, breaking ties with a stable key so
// listings are deterministic.
func sortByCreated[T any](items []T, key func(T) (time.Time, string)) {
	sort.Slice(items, func(i, j int) bool {
		ti, ki := key(items[i])
		tj, kj := key(items[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return ki < kj
	})
}
