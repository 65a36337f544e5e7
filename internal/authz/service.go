package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Service wraps the store bundle with validated administrative operations:
// membership assignment, role grants, and per-user overrides. Decision
// evaluation lives on Resolver; Service owns the writes that feed it.
type Service struct {
	store    Store
	resolver *Resolver
}

// NewService constructs the administrative service.
func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("authz: store is required")
	}
	resolver, err := NewResolver(store)
	if err != nil {
		return nil, err
	}
	return &Service{store: store, resolver: resolver}, nil
}

// Resolver returns the decision engine bound to the same store.
func (s *Service) Resolver() *Resolver { return s.resolver }

// Attach assigns the role to the user inside the business unit, replacing
// any existing assignment. With copyPermissions the role's current grant set
// is additionally materialized as explicit Allow overrides (a snapshot, not
// a live link to the role).
func (s *Service) Attach(ctx context.Context, m Membership, copyPermissions bool) error {
	m.UserID = strings.TrimSpace(m.UserID)
	m.BusinessUnitID = strings.TrimSpace(m.BusinessUnitID)
	m.RoleID = strings.TrimSpace(m.RoleID)
	if m.UserID == "" || m.BusinessUnitID == "" || m.RoleID == "" {
		return fmt.Errorf("%w: user_id, business_unit_id and role_id are required", ErrInvalidInput)
	}
	if err := s.store.Memberships().Upsert(ctx, m); err != nil {
		return err
	}
	if copyPermissions {
		return s.resolver.CopyRoleGrants(ctx, m.UserID, m.BusinessUnitID, m.RoleID)
	}
	return nil
}

// Detach removes the user's assignment in the business unit.
func (s *Service) Detach(ctx context.Context, userID, businessUnitID string) error {
	userID = strings.TrimSpace(userID)
	businessUnitID = strings.TrimSpace(businessUnitID)
	if userID == "" || businessUnitID == "" {
		return fmt.Errorf("%w: user_id and business_unit_id are required", ErrInvalidInput)
	}
	return s.store.Memberships().Remove(ctx, userID, businessUnitID)
}

// Grant adds a permission to the role's grant set. Granting an
// already-granted permission is a no-op.
func (s *Service) Grant(ctx context.Context, roleID, permissionName string) error {
	perm, err := s.permissionByName(ctx, permissionName)
	if err != nil {
		return err
	}
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	return s.store.RoleGrants().Grant(ctx, roleID, perm.ID)
}

// Revoke removes a permission from the role's grant set. Revoking an absent
// grant is a no-op.
func (s *Service) Revoke(ctx context.Context, roleID, permissionName string) error {
	perm, err := s.permissionByName(ctx, permissionName)
	if err != nil {
		return err
	}
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	return s.store.RoleGrants().Revoke(ctx, roleID, perm.ID)
}

// SetOverride records an explicit allow/deny for the exact tuple. A stored
// deny is a hard deny, distinct from no override at all.
func (s *Service) SetOverride(ctx context.Context, userID, businessUnitID, permissionName string, allowed bool) error {
	perm, err := s.permissionByName(ctx, permissionName)
	if err != nil {
		return err
	}
	userID = strings.TrimSpace(userID)
	businessUnitID = strings.TrimSpace(businessUnitID)
	if userID == "" || businessUnitID == "" {
		return fmt.Errorf("%w: user_id and business_unit_id are required", ErrInvalidInput)
	}
	return s.store.Overrides().Set(ctx, Override{
		UserID:         userID,
		BusinessUnitID: businessUnitID,
		PermissionID:   perm.ID,
		Allowed:        allowed,
	})
}

// ClearOverride removes the explicit decision so the tuple falls back to
// role evaluation.
func (s *Service) ClearOverride(ctx context.Context, userID, businessUnitID, permissionName string) error {
	perm, err := s.permissionByName(ctx, permissionName)
	if err != nil {
		return err
	}
	userID = strings.TrimSpace(userID)
	businessUnitID = strings.TrimSpace(businessUnitID)
	if userID == "" || businessUnitID == "" {
		return fmt.Errorf("%w: user_id and business_unit_id are required", ErrInvalidInput)
	}
	return s.store.Overrides().Clear(ctx, userID, businessUnitID, perm.ID)
}

func (s *Service) permissionByName(ctx context.Context, name string) (Permission, error) {
	if _, err := ParsePermissionName(name); err != nil {
		return Permission{}, err
	}
	perm, err := s.store.Catalog().FindPermissionByName(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Permission{}, fmt.Errorf("%w: %s", ErrUnknownPermission, name)
		}
		return Permission{}, err
	}
	return perm, nil
}
