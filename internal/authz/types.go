package authz

import "time"

// Company is the top-level account a deployment serves.
type Company struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BusinessUnit is the tenant scope for role assignments and overrides.
// A unit belongs to exactly one company; for authorization purposes it is
// a flat scope identifier.
type BusinessUnit struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is a platform account. Users are deactivated, never deleted.
// InvalidBefore is the token watermark: any bearer token issued before it
// must be rejected. It is nil until the first logout-all or credential
// rotation.
type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Name          string     `json:"name"`
	PasswordHash  string     `json:"-"`
	InvalidBefore *time.Time `json:"invalid_before,omitempty"`
	Active        bool       `json:"active"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Role is a named capability bundle. Roles are global and reusable across
// business units; the set of capabilities comes from role grants.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Module groups permissions under a short code used to namespace
// permission names ("users", "goals", ...).
type Module struct {
	ID        string    `json:"id"`
	ShortCode string    `json:"short_code"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Permission is a single capability named "<module short code>.<action>".
// Names are unique across the catalog.
type Permission struct {
	ID        string    `json:"id"`
	ModuleID  string    `json:"module_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Membership binds a user to a business unit with exactly one role.
// At most one row exists per (user, business unit).
type Membership struct {
	UserID         string    `json:"user_id"`
	BusinessUnitID string    `json:"business_unit_id"`
	RoleID         string    `json:"role_id"`
	IsResponsible  bool      `json:"is_responsible"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Override is an explicit per-user allow/deny that supersedes the
// role-derived grant for the exact (user, business unit, permission) tuple.
type Override struct {
	UserID         string    `json:"user_id"`
	BusinessUnitID string    `json:"business_unit_id"`
	PermissionID   string    `json:"permission_id"`
	Allowed        bool      `json:"allowed"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Decision is the outcome of a permission check.
type Decision bool

const (
	Allow Decision = true
	Deny  Decision = false
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}
