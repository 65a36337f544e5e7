package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"stratex.org/internal/obs"
)

// Resolver composes the catalog, membership, role-grant and override stores
// into a single allow/deny decision. It holds no mutable state: a single
// instance is safe for concurrent use and may be shared process-wide.
//
// Precedence is fixed regardless of store iteration order:
//  1. unknown permission name -> Deny (fail closed)
//  2. explicit override -> its value, in both directions
//  3. no membership in the business unit -> Deny
//  4. membership -> Allow iff the assigned role grants the permission
//
// A store failure surfaces as Deny plus the error, never as a silent Allow.
type Resolver struct {
	catalog     CatalogStore
	memberships MembershipStore
	grants      RoleGrantStore
	overrides   OverrideStore
}

// NewResolver constructs a Resolver over the given store bundle.
func NewResolver(store Store) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("authz: store is required")
	}
	return &Resolver{
		catalog:     store.Catalog(),
		memberships: store.Memberships(),
		grants:      store.RoleGrants(),
		overrides:   store.Overrides(),
	}, nil
}

// Resolve decides whether the user may exercise the named permission inside
// the business unit. Unknown permission names are a Deny, not an error: the
// defect signal is the warn log and the decision metric.
func (r *Resolver) Resolve(ctx context.Context, userID, businessUnitID, permissionName string) (Decision, error) {
	userID = strings.TrimSpace(userID)
	businessUnitID = strings.TrimSpace(businessUnitID)
	if userID == "" || businessUnitID == "" {
		return Deny, fmt.Errorf("%w: user_id and business_unit_id are required", ErrInvalidInput)
	}
	if _, err := ParsePermissionName(permissionName); err != nil {
		obs.ObserveDecision(Deny.String(), "unknown_permission")
		return Deny, nil
	}

	perm, err := r.catalog.FindPermissionByName(ctx, permissionName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.LogEvent(map[string]any{
				"level":      "warn",
				"msg":        "permission not in catalog",
				"permission": permissionName,
			})
			obs.ObserveDecision(Deny.String(), "unknown_permission")
			return Deny, nil
		}
		obs.ObserveDecision(Deny.String(), "error")
		return Deny, err
	}

	decision, source, err := r.decide(ctx, userID, businessUnitID, perm.ID)
	if err != nil {
		obs.ObserveDecision(Deny.String(), "error")
		return Deny, err
	}
	obs.ObserveDecision(decision.String(), source)
	return decision, nil
}

// decide applies override-then-role precedence for a resolved permission id.
func (r *Resolver) decide(ctx context.Context, userID, businessUnitID, permissionID string) (Decision, string, error) {
	allowed, ok, err := r.overrides.Get(ctx, userID, businessUnitID, permissionID)
	if err != nil {
		return Deny, "", err
	}
	if ok {
		return Decision(allowed), "override", nil
	}

	membership, err := r.memberships.Get(ctx, userID, businessUnitID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Deny, "no_membership", nil
		}
		return Deny, "", err
	}

	granted, err := r.grants.GrantedPermissionIDs(ctx, membership.RoleID)
	if err != nil {
		return Deny, "", err
	}
	if _, ok := granted[permissionID]; ok {
		return Allow, "role", nil
	}
	return Deny, "role", nil
}

// ResolveAll computes the full capability matrix for the user in the business
// unit: every catalog permission name mapped to its decision, applying the
// identical precedence per permission as Resolve would against the same
// store snapshot.
func (r *Resolver) ResolveAll(ctx context.Context, userID, businessUnitID string) (map[string]Decision, error) {
	userID = strings.TrimSpace(userID)
	businessUnitID = strings.TrimSpace(businessUnitID)
	if userID == "" || businessUnitID == "" {
		return nil, fmt.Errorf("%w: user_id and business_unit_id are required", ErrInvalidInput)
	}

	perms, err := r.catalog.ListAllPermissions(ctx)
	if err != nil {
		return nil, err
	}
	overrides, err := r.overrides.ListForUser(ctx, userID, businessUnitID)
	if err != nil {
		return nil, err
	}
	byPermID := make(map[string]bool, len(overrides))
	for _, o := range overrides {
		byPermID[o.PermissionID] = o.Allowed
	}

	granted := map[string]struct{}{}
	membership, err := r.memberships.Get(ctx, userID, businessUnitID)
	switch {
	case err == nil:
		granted, err = r.grants.GrantedPermissionIDs(ctx, membership.RoleID)
		if err != nil {
			return nil, err
		}
	case errors.Is(err, ErrNotFound):
		// no role in this unit; only explicit allows apply
	default:
		return nil, err
	}

	matrix := make(map[string]Decision, len(perms))
	for _, p := range perms {
		if allowed, ok := byPermID[p.ID]; ok {
			matrix[p.Name] = Decision(allowed)
			continue
		}
		_, hasGrant := granted[p.ID]
		matrix[p.Name] = Decision(hasGrant)
	}
	return matrix, nil
}

// CopyRoleGrants materializes the role's current grant set as explicit Allow
// overrides for the user in the business unit. This is a one-time snapshot:
// later edits to the role do not propagate without an explicit re-copy.
func (r *Resolver) CopyRoleGrants(ctx context.Context, userID, businessUnitID, roleID string) error {
	granted, err := r.grants.GrantedPermissionIDs(ctx, roleID)
	if err != nil {
		return err
	}
	for permissionID := range granted {
		err := r.overrides.Set(ctx, Override{
			UserID:         userID,
			BusinessUnitID: businessUnitID,
			PermissionID:   permissionID,
			Allowed:        true,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
