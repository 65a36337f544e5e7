package authz

import (
	"context"
	"time"
)

// CatalogStore holds the static registry of modules and permissions.
// Read-mostly; writes happen only through bootstrap.
type CatalogStore interface {
	ListModules(ctx context.Context) ([]Module, error)
	ListPermissions(ctx context.Context, moduleID string) ([]Permission, error)
	FindPermissionByName(ctx context.Context, name string) (Permission, error)
	ListAllPermissions(ctx context.Context) ([]Permission, error)
	// Ensure inserts any missing catalog rows; existing rows are untouched.
	Ensure(ctx context.Context, modules []Module, perms []Permission) error
}

// MembershipStore holds the role a user has in a business unit.
// Upsert replaces any existing row so a user holds exactly one role per unit.
type MembershipStore interface {
	Get(ctx context.Context, userID, businessUnitID string) (Membership, error)
	Upsert(ctx context.Context, m Membership) error
	Remove(ctx context.Context, userID, businessUnitID string) error
	ListForUser(ctx context.Context, userID string) ([]Membership, error)
}

// RoleGrantStore holds the permission set each role grants.
// Grant and Revoke are idempotent.
type RoleGrantStore interface {
	GrantedPermissionIDs(ctx context.Context, roleID string) (map[string]struct{}, error)
	Grant(ctx context.Context, roleID, permissionID string) error
	Revoke(ctx context.Context, roleID, permissionID string) error
}

// OverrideStore holds explicit per-user allow/deny decisions. Get reports
// ok=false when no override is set, which is distinct from a stored deny.
type OverrideStore interface {
	Get(ctx context.Context, userID, businessUnitID, permissionID string) (allowed bool, ok bool, err error)
	Set(ctx context.Context, o Override) error
	Clear(ctx context.Context, userID, businessUnitID, permissionID string) error
	ListForUser(ctx context.Context, userID, businessUnitID string) ([]Override, error)
}

// UserStore manages accounts and the token watermark.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	// SetInvalidBefore rotates the watermark; a single write invalidates every
	// outstanding token issued before it.
	SetInvalidBefore(ctx context.Context, userID string, t time.Time) error
	Deactivate(ctx context.Context, userID string) error
}

// RoleStore manages the global role registry.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]Role, error)
}

// Store bundles every persistence contract the authorization core needs.
type Store interface {
	Catalog() CatalogStore
	Memberships() MembershipStore
	RoleGrants() RoleGrantStore
	Overrides() OverrideStore
	Users() UserStore
	Roles() RoleStore
}
