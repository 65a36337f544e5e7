package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"stratex.org/internal/authz"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db), mock
}

func TestFindPermissionByName(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery("select id, module_id, name, created_at from permissions where name=").
		WithArgs("users.read").
		WillReturnRows(sqlmock.NewRows([]string{"id", "module_id", "name", "created_at"}).
			AddRow("perm-1", "mod-1", "users.read", now))

	p, err := store.Catalog().FindPermissionByName(context.Background(), "users.read")
	if err != nil {
		t.Fatalf("FindPermissionByName: %v", err)
	}
	if p.ID != "perm-1" || p.Name != "users.read" {
		t.Fatalf("unexpected permission: %+v", p)
	}

	mock.ExpectQuery("select id, module_id, name, created_at from permissions where name=").
		WithArgs("users.destroy").
		WillReturnRows(sqlmock.NewRows([]string{"id", "module_id", "name", "created_at"}))

	if _, err := store.Catalog().FindPermissionByName(context.Background(), "users.destroy"); !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListPermissionsFiltersByModule(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery("select id, module_id, name, created_at from permissions where module_id=").
		WithArgs("mod-users").
		WillReturnRows(sqlmock.NewRows([]string{"id", "module_id", "name", "created_at"}).
			AddRow("perm-1", "mod-users", "users.read", now).
			AddRow("perm-2", "mod-users", "users.update", now))

	perms, err := store.Catalog().ListPermissions(context.Background(), "mod-users")
	if err != nil {
		t.Fatalf("ListPermissions: %v", err)
	}
	if len(perms) != 2 {
		t.Fatalf("expected 2 permissions, got %d", len(perms))
	}
	if perms[0].Name != "users.read" || perms[1].Name != "users.update" {
		t.Fatalf("unexpected permissions: %+v", perms)
	}
	for _, p := range perms {
		if p.ModuleID != "mod-users" {
			t.Fatalf("permission %s carries module %q", p.Name, p.ModuleID)
		}
	}

	mock.ExpectQuery("select id, module_id, name, created_at from permissions where module_id=").
		WithArgs("mod-empty").
		WillReturnRows(sqlmock.NewRows([]string{"id", "module_id", "name", "created_at"}))

	empty, err := store.Catalog().ListPermissions(context.Background(), "mod-empty")
	if err != nil {
		t.Fatalf("ListPermissions: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no permissions, got %d", len(empty))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMembershipUpsertReplacesAssignment(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("insert into user_business_units").
		WithArgs("user-1", "bu-1", "role-1", true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Memberships().Upsert(context.Background(), authz.Membership{
		UserID:         "user-1",
		BusinessUnitID: "bu-1",
		RoleID:         "role-1",
		IsResponsible:  true,
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMembershipGetNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select user_id, business_unit_id, role_id, is_responsible").
		WithArgs("user-1", "bu-9").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "business_unit_id", "role_id", "is_responsible", "created_at", "updated_at"}))

	_, err := store.Memberships().Get(context.Background(), "user-1", "bu-9")
	if !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOverrideGetDistinguishesNotSet(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("select allowed from user_permissions").
		WithArgs("user-1", "bu-1", "perm-1").
		WillReturnRows(sqlmock.NewRows([]string{"allowed"}).AddRow(false))

	allowed, ok, err := store.Overrides().Get(ctx, "user-1", "bu-1", "perm-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || allowed {
		t.Fatalf("stored deny must be (false, true), got (%v, %v)", allowed, ok)
	}

	mock.ExpectQuery("select allowed from user_permissions").
		WithArgs("user-1", "bu-1", "perm-2").
		WillReturnRows(sqlmock.NewRows([]string{"allowed"}))

	_, ok, err = store.Overrides().Get(ctx, "user-1", "bu-1", "perm-2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("absent override must report ok=false")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGrantedPermissionIDs(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select permission_id from role_permissions where role_id=").
		WithArgs("role-1").
		WillReturnRows(sqlmock.NewRows([]string{"permission_id"}).AddRow("perm-1").AddRow("perm-2"))

	granted, err := store.RoleGrants().GrantedPermissionIDs(context.Background(), "role-1")
	if err != nil {
		t.Fatalf("GrantedPermissionIDs: %v", err)
	}
	if len(granted) != 2 {
		t.Fatalf("expected 2 grants, got %d", len(granted))
	}
	if _, ok := granted["perm-1"]; !ok {
		t.Fatal("perm-1 missing")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserFindScansWatermark(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	watermark := now.Add(-time.Hour)

	cols := []string{"id", "email", "name", "password_hash", "invalid_before", "active", "created_at", "updated_at"}

	mock.ExpectQuery("select id, email, name, password_hash, invalid_before, active").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("user-1", "a@example.com", "A", "hash", watermark, true, now, now))

	u, err := store.Users().Find(ctx, "user-1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if u.InvalidBefore == nil || !u.InvalidBefore.Equal(watermark) {
		t.Fatalf("watermark not scanned: %v", u.InvalidBefore)
	}

	mock.ExpectQuery("select id, email, name, password_hash, invalid_before, active").
		WithArgs("user-2").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("user-2", "b@example.com", "B", "hash", nil, true, now, now))

	u, err = store.Users().Find(ctx, "user-2")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if u.InvalidBefore != nil {
		t.Fatalf("expected nil watermark, got %v", u.InvalidBefore)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSetInvalidBeforeRequiresExistingUser(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("update users set invalid_before=").
		WithArgs("ghost", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Users().SetInvalidBefore(context.Background(), "ghost", time.Now())
	if !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEnsureSeedsCatalogInOneTransaction(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("insert into modules").
		WithArgs(sqlmock.AnyArg(), "users", "Users").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into permissions").
		WithArgs(sqlmock.AnyArg(), "users.read", "users").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Catalog().Ensure(context.Background(),
		[]authz.Module{{ShortCode: "users", Name: "Users"}},
		[]authz.Permission{{Name: "users.read"}},
	)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
