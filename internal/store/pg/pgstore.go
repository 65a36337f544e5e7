// Package pg implements the authorization store contracts on PostgreSQL
// through the pgx stdlib driver. One Store wraps one *sql.DB pool; open it
// at process start and close it on shutdown.
package pg

import (
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"stratex.org/internal/authz"
)

type Store struct {
	db *sql.DB
}

var _ authz.Store = (*Store)(nil)

// Open connects to PostgreSQL and tunes the pool. Adjust under load tests.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing pool; used by tests with sqlmock.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Catalog() authz.CatalogStore        { return &catalogStore{db: s.db} }
func (s *Store) Memberships() authz.MembershipStore { return &membershipStore{db: s.db} }
func (s *Store) RoleGrants() authz.RoleGrantStore   { return &grantStore{db: s.db} }
func (s *Store) Overrides() authz.OverrideStore     { return &overrideStore{db: s.db} }
func (s *Store) Users() authz.UserStore             { return &userStore{db: s.db} }
func (s *Store) Roles() authz.RoleStore             { return &roleStore{db: s.db} }
