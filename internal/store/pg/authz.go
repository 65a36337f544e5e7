package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"stratex.org/internal/authz"
	"stratex.org/internal/ids"
)

const (
	pgErrUniqueViolation = "23505"
)

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// Catalog -------------------------------------------------------------------

type catalogStore struct{ db *sql.DB }

func (s *catalogStore) ListModules(ctx context.Context) ([]authz.Module, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, short_code, name, created_at from modules order by created_at, short_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []authz.Module
	for rows.Next() {
		var m authz.Module
		if err := rows.Scan(&m.ID, &m.ShortCode, &m.Name, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *catalogStore) ListPermissions(ctx context.Context, moduleID string) ([]authz.Permission, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, module_id, name, created_at from permissions where module_id=$1 order by name`, moduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

func (s *catalogStore) ListAllPermissions(ctx context.Context) ([]authz.Permission, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, module_id, name, created_at from permissions order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

func scanPermissions(rows *sql.Rows) ([]authz.Permission, error) {
	var out []authz.Permission
	for rows.Next() {
		var p authz.Permission
		if err := rows.Scan(&p.ID, &p.ModuleID, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *catalogStore) FindPermissionByName(ctx context.Context, name string) (authz.Permission, error) {
	var p authz.Permission
	err := s.db.QueryRowContext(ctx,
		`select id, module_id, name, created_at from permissions where name=$1`, name,
	).Scan(&p.ID, &p.ModuleID, &p.Name, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Permission{}, authz.ErrNotFound
	}
	if err != nil {
		return authz.Permission{}, err
	}
	return p, nil
}

func (s *catalogStore) Ensure(ctx context.Context, modules []authz.Module, perms []authz.Permission) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range modules {
		if m.ID == "" {
			m.ID = ids.New()
		}
		_, err := tx.ExecContext(ctx,
			`insert into modules(id, short_code, name) values($1,$2,$3)
			 on conflict (short_code) do nothing`,
			m.ID, m.ShortCode, m.Name,
		)
		if err != nil {
			return err
		}
	}
	for _, p := range perms {
		if p.ID == "" {
			p.ID = ids.New()
		}
		code := p.Name
		if dot := strings.IndexByte(code, '.'); dot > 0 {
			code = code[:dot]
		}
		_, err := tx.ExecContext(ctx,
			`insert into permissions(id, module_id, name)
			 select $1, id, $2 from modules where short_code=$3
			 on conflict (name) do nothing`,
			p.ID, p.Name, code,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Memberships ----------------------------------------------------------------

type membershipStore struct{ db *sql.DB }

func (s *membershipStore) Get(ctx context.Context, userID, businessUnitID string) (authz.Membership, error) {
	var m authz.Membership
	err := s.db.QueryRowContext(ctx,
		`select user_id, business_unit_id, role_id, is_responsible, created_at, updated_at
		 from user_business_units where user_id=$1 and business_unit_id=$2`,
		userID, businessUnitID,
	).Scan(&m.UserID, &m.BusinessUnitID, &m.RoleID, &m.IsResponsible, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Membership{}, authz.ErrNotFound
	}
	if err != nil {
		return authz.Membership{}, err
	}
	return m, nil
}

func (s *membershipStore) Upsert(ctx context.Context, m authz.Membership) error {
	// The primary key on (user_id, business_unit_id) enforces one role per
	// tenant; conflicting writes replace the assignment.
	_, err := s.db.ExecContext(ctx,
		`insert into user_business_units(user_id, business_unit_id, role_id, is_responsible)
		 values($1,$2,$3,$4)
		 on conflict (user_id, business_unit_id) do update
		 set role_id=excluded.role_id, is_responsible=excluded.is_responsible, updated_at=now()`,
		m.UserID, m.BusinessUnitID, m.RoleID, m.IsResponsible,
	)
	return err
}

func (s *membershipStore) Remove(ctx context.Context, userID, businessUnitID string) error {
	_, err := s.db.ExecContext(ctx,
		`delete from user_business_units where user_id=$1 and business_unit_id=$2`,
		userID, businessUnitID,
	)
	return err
}

func (s *membershipStore) ListForUser(ctx context.Context, userID string) ([]authz.Membership, error) {
	rows, err := s.db.QueryContext(ctx,
		`select user_id, business_unit_id, role_id, is_responsible, created_at, updated_at
		 from user_business_units where user_id=$1 order by created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []authz.Membership
	for rows.Next() {
		var m authz.Membership
		if err := rows.Scan(&m.UserID, &m.BusinessUnitID, &m.RoleID, &m.IsResponsible, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Role grants ----------------------------------------------------------------

type grantStore struct{ db *sql.DB }

func (s *grantStore) GrantedPermissionIDs(ctx context.Context, roleID string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`select permission_id from role_permissions where role_id=$1`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

func (s *grantStore) Grant(ctx context.Context, roleID, permissionID string) error {
	_, err := s.db.ExecContext(ctx,
		`insert into role_permissions(role_id, permission_id) values($1,$2)
		 on conflict do nothing`,
		roleID, permissionID,
	)
	return err
}

func (s *grantStore) Revoke(ctx context.Context, roleID, permissionID string) error {
	_, err := s.db.ExecContext(ctx,
		`delete from role_permissions where role_id=$1 and permission_id=$2`,
		roleID, permissionID,
	)
	return err
}

// Overrides ------------------------------------------------------------------

type overrideStore struct{ db *sql.DB }

func (s *overrideStore) Get(ctx context.Context, userID, businessUnitID, permissionID string) (bool, bool, error) {
	var allowed bool
	err := s.db.QueryRowContext(ctx,
		`select allowed from user_permissions
		 where user_id=$1 and business_unit_id=$2 and permission_id=$3`,
		userID, businessUnitID, permissionID,
	).Scan(&allowed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return allowed, true, nil
}

func (s *overrideStore) Set(ctx context.Context, o authz.Override) error {
	_, err := s.db.ExecContext(ctx,
		`insert into user_permissions(user_id, business_unit_id, permission_id, allowed)
		 values($1,$2,$3,$4)
		 on conflict (user_id, business_unit_id, permission_id) do update
		 set allowed=excluded.allowed, updated_at=now()`,
		o.UserID, o.BusinessUnitID, o.PermissionID, o.Allowed,
	)
	return err
}

func (s *overrideStore) Clear(ctx context.Context, userID, businessUnitID, permissionID string) error {
	_, err := s.db.ExecContext(ctx,
		`delete from user_permissions
		 where user_id=$1 and business_unit_id=$2 and permission_id=$3`,
		userID, businessUnitID, permissionID,
	)
	return err
}

func (s *overrideStore) ListForUser(ctx context.Context, userID, businessUnitID string) ([]authz.Override, error) {
	rows, err := s.db.QueryContext(ctx,
		`select user_id, business_unit_id, permission_id, allowed, created_at, updated_at
		 from user_permissions where user_id=$1 and business_unit_id=$2 order by created_at`,
		userID, businessUnitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []authz.Override
	for rows.Next() {
		var o authz.Override
		if err := rows.Scan(&o.UserID, &o.BusinessUnitID, &o.PermissionID, &o.Allowed, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Users ----------------------------------------------------------------------

type userStore struct{ db *sql.DB }

func (s *userStore) Create(ctx context.Context, u *authz.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	err := s.db.QueryRowContext(ctx,
		`insert into users(id, email, name, password_hash, active)
		 values($1,$2,$3,$4,$5)
		 returning created_at, updated_at`,
		u.ID, strings.ToLower(strings.TrimSpace(u.Email)), u.Name, u.PasswordHash, u.Active,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return authz.ErrConflict
	}
	return err
}

func (s *userStore) Find(ctx context.Context, id string) (*authz.User, error) {
	return s.findBy(ctx, `id=$1`, id)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*authz.User, error) {
	return s.findBy(ctx, `email=$1`, strings.ToLower(strings.TrimSpace(email)))
}

func (s *userStore) findBy(ctx context.Context, predicate, arg string) (*authz.User, error) {
	var (
		u             authz.User
		invalidBefore sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`select id, email, name, password_hash, invalid_before, active, created_at, updated_at
		 from users where `+predicate, arg,
	).Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &invalidBefore, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authz.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if invalidBefore.Valid {
		t := invalidBefore.Time.UTC()
		u.InvalidBefore = &t
	}
	return &u, nil
}

func (s *userStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	return s.execOne(ctx,
		`update users set password_hash=$2, updated_at=now() where id=$1`,
		userID, passwordHash)
}

func (s *userStore) SetInvalidBefore(ctx context.Context, userID string, t time.Time) error {
	return s.execOne(ctx,
		`update users set invalid_before=$2, updated_at=now() where id=$1`,
		userID, t.UTC())
}

func (s *userStore) Deactivate(ctx context.Context, userID string) error {
	return s.execOne(ctx,
		`update users set active=false, updated_at=now() where id=$1`, userID)
}

func (s *userStore) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return authz.ErrNotFound
	}
	return nil
}

// Roles ----------------------------------------------------------------------

type roleStore struct{ db *sql.DB }

func (s *roleStore) Create(ctx context.Context, role *authz.Role) error {
	if role.ID == "" {
		role.ID = ids.New()
	}
	err := s.db.QueryRowContext(ctx,
		`insert into roles(id, name, description) values($1,$2,$3)
		 returning created_at, updated_at`,
		role.ID, role.Name, role.Description,
	).Scan(&role.CreatedAt, &role.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return authz.ErrConflict
	}
	return err
}

func (s *roleStore) Find(ctx context.Context, id string) (*authz.Role, error) {
	return s.findBy(ctx, `id=$1`, id)
}

func (s *roleStore) FindByName(ctx context.Context, name string) (*authz.Role, error) {
	return s.findBy(ctx, `name=$1`, strings.TrimSpace(name))
}

func (s *roleStore) findBy(ctx context.Context, predicate, arg string) (*authz.Role, error) {
	var role authz.Role
	err := s.db.QueryRowContext(ctx,
		`select id, name, description, created_at, updated_at from roles where `+predicate, arg,
	).Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authz.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &role, nil
}

func (s *roleStore) List(ctx context.Context) ([]authz.Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, name, description, created_at, updated_at from roles order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []authz.Role
	for rows.Next() {
		var role authz.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}
