package tokens

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultProfile = "default"

// PostgresStore persists the pair in a shared key/value table, one row per key.
//
// It lets several blogdesk runtimes (e.g. a workstation and a CI runner) share
// a login. Rows are scoped by profile.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
type PostgresStore struct {
	pool    *pgxpool.Pool
	schema  string
	profile string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "blogdesk").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("tokens: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("tokens: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// WithProfile scopes rows to a named profile (default: "default").
func WithProfile(profile string) PostgresOption {
	return func(s *PostgresStore) error {
		profile = strings.TrimSpace(profile)
		if profile == "" {
			return errors.New("tokens: empty profile")
		}
		s.profile = profile
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:    pool,
		schema:  "blogdesk",
		profile: defaultProfile,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("tokens: nil pool")
	}
	return st, nil
}

// EnsureSchema creates the schema and table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return ErrNilStore
	}
	if _, err := s.pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{s.schema}.Sanitize()); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS `+s.table()+` (
  profile    TEXT NOT NULL,
  key        TEXT NOT NULL,
  value      TEXT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (profile, key)
)`)
	return err
}

// Load reads both keys for the profile. Missing rows yield blank fields.
func (s *PostgresStore) Load(ctx context.Context) (Pair, error) {
	if s == nil || s.pool == nil {
		return Pair{}, ErrNilStore
	}

	rows, err := s.pool.Query(ctx,
		`SELECT key, value FROM `+s.table()+` WHERE profile = $1 AND key = ANY($2)`,
		s.profile, []string{KeyAccessToken, KeyRefreshToken},
	)
	if err != nil {
		return Pair{}, err
	}
	defer rows.Close()

	var p Pair
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Pair{}, err
		}
		switch k {
		case KeyAccessToken:
			p.AccessToken = strings.TrimSpace(v)
		case KeyRefreshToken:
			p.RefreshToken = strings.TrimSpace(v)
		}
	}
	return p, rows.Err()
}

// Save upserts both keys in one transaction.
func (s *PostgresStore) Save(ctx context.Context, p Pair) error {
	if s == nil || s.pool == nil {
		return ErrNilStore
	}
	p, err := normalizePair(p)
	if err != nil {
		return err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	upsert := `INSERT INTO ` + s.table() + ` (profile, key, value, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (profile, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`

	for _, kv := range [][2]string{{KeyAccessToken, p.AccessToken}, {KeyRefreshToken, p.RefreshToken}} {
		if _, err := tx.Exec(ctx, upsert, s.profile, kv[0], kv[1], now); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// Clear deletes both keys for the profile (idempotent).
func (s *PostgresStore) Clear(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return ErrNilStore
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.table()+` WHERE profile = $1 AND key = ANY($2)`,
		s.profile, []string{KeyAccessToken, KeyRefreshToken},
	)
	return err
}

func (s *PostgresStore) table() string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{s.schema, "client_storage"}.Sanitize()
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}
