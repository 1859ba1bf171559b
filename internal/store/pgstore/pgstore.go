// Package pgstore implements store.Store on Postgres through a pgx pool.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"kyri56xcaesar/pms-kanban/internal/store"
)

//go:embed db/init.sql
var initSQL string

type Store struct {
	pool *pgxpool.Pool
	Now  func() time.Time
}

// Open connects, pings and applies the schema script.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("could not connect to the database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping the db: %w", err)
	}

	if _, err := pool.Exec(ctx, initSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to execute init sql: %w", err)
	}

	return &Store{
		pool: pool,
		Now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// DSN builds a postgres connection string.
func DSN(user, password, address, name string, sslmode bool) string {
	mode := "disable"
	if sslmode {
		mode = "require"
	}
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s", user, password, address, name, mode)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close(context.Context) error {
	s.pool.Close()
	return nil
}

/* users */

const userColumns = `id, name, email, password_hash, role, created_at, updated_at`

func scanUser(row pgx.Row) (*store.User, error) {
	var u store.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *store.User) error {
	now := s.Now()
	u.ID = uuid.NewString()
	u.Email = store.NormalizeEmail(u.Email)
	u.CreatedAt, u.UpdatedAt = now, now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, u.ID, u.Name, u.Email, u.PasswordHash, u.Role, u.CreatedAt, u.UpdatedAt)
	return mapErr(err, "user "+u.Email)
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	return u, mapErr(err, "user "+id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	email = store.NormalizeEmail(email)
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	return u, mapErr(err, "user "+email)
}

func (s *Store) FindUsers(ctx context.Context, ids []string) ([]store.User, error) {
	ids = store.Dedupe(ids)
	if len(ids) == 0 {
		return []store.User{}, nil
	}

	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]store.User, 0, len(ids))
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (s *Store) ListUsers(ctx context.Context, f store.UserFilter) ([]store.User, int64, error) {
	var w where
	if q := strings.TrimSpace(f.Query); q != "" {
		w.add("(name ILIKE $%d OR email ILIKE $%[1]d)", likePattern(q))
	}

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM users `+w.clause(), w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := `SELECT ` + userColumns + ` FROM users ` + w.clause() + ` ORDER BY name ASC, email ASC` + w.paginate(f.Page)
	rows, err := s.pool.Query(ctx, q, w.args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]store.User, 0, f.Page.Limit)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *u)
	}
	return out, total, rows.Err()
}

/* query helpers */

// where accumulates AND-ed conditions with positional arguments.
// Each condition carries one %d verb for its placeholder index.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, v any) {
	w.args = append(w.args, v)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w *where) clause() string {
	if len(w.conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.conds, " AND ")
}

func (w *where) paginate(p store.Page) string {
	if p.Unbounded() {
		return ""
	}
	w.args = append(w.args, p.Limit, p.Offset())
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(w.args)-1, len(w.args))
}

func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

func mapErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%s: %w", what, store.ErrConflict)
		case codeForeignKeyViolation:
			return fmt.Errorf("%s references a missing row: %w", what, store.ErrNotFound)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}
