// Package postgres implements profile.Service on a Postgres accounts table.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/3leaps/annflow/pkg/profile"
)

// DefaultTable is the profiles table used when none is configured.
const DefaultTable = "profiles"

type Config struct {
	DSN   string
	Table string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("profile config: dsn is required")
	}
	return nil
}

// Service implements profile.Service.
type Service struct {
	db *sql.DB

	getRoleSQL string
	setRoleSQL string
}

var _ profile.Service = (*Service)(nil)

// Open connects with the pq driver and checks connectivity.
func Open(ctx context.Context, cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	connector, err := pq.NewConnector(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse profile dsn: %w", err)
	}
	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect profile db: %w", err)
	}
	return New(db, cfg.Table), nil
}

// New wraps an open database handle.
func New(db *sql.DB, table string) *Service {
	if table == "" {
		table = DefaultTable
	}
	get, set := statements(table)
	return &Service{db: db, getRoleSQL: get, setRoleSQL: set}
}

func statements(table string) (get, set string) {
	t := pq.QuoteIdentifier(table)
	get = fmt.Sprintf(`-- profile.GetRole
SELECT role
FROM %s
WHERE user_id = $1`, t)
	set = fmt.Sprintf(`-- profile.SetRole
UPDATE %s
SET role = $1
WHERE user_id = $2`, t)
	return get, set
}

func (s *Service) GetRole(ctx context.Context, userID string) (profile.Role, error) {
	var role string
	err := s.db.QueryRowContext(ctx, s.getRoleSQL, userID).Scan(&role)
	if err != nil {
		return "", mapError("get role", userID, err)
	}
	return profile.ParseRole(role)
}

func (s *Service) SetRole(ctx context.Context, userID string, role profile.Role) error {
	if _, err := profile.ParseRole(string(role)); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.setRoleSQL, string(role), userID)
	if err != nil {
		return mapError("set role", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError("set role", userID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", profile.ErrNotFound, userID)
	}
	return nil
}

// Close releases the connection pool.
func (s *Service) Close() error {
	return s.db.Close()
}

// ErrSchema indicates the profiles table or its columns are missing.
var ErrSchema = errors.New("profile schema missing")

func mapError(op, userID string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", profile.ErrNotFound, userID)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "undefined_table", "undefined_column":
			return fmt.Errorf("%s %s: %w: %s", op, userID, ErrSchema, pqErr.Message)
		}
	}
	return fmt.Errorf("%s %s: %w", op, userID, err)
}
