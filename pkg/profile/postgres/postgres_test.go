package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/annflow/pkg/profile"
)

func TestConfig_Validate(t *testing.T) {
	assert.Error(t, Config{}.Validate())
	assert.NoError(t, Config{DSN: "postgres://localhost/accounts"}.Validate())

	_, err := Open(context.Background(), Config{})
	assert.Error(t, err)
}

func TestStatements_QuoteTable(t *testing.T) {
	get, set := statements(`weird"name`)
	assert.Contains(t, get, `FROM "weird""name"`)
	assert.Contains(t, set, `UPDATE "weird""name"`)
	assert.Contains(t, get, "WHERE user_id = $1")
	assert.Contains(t, set, "WHERE user_id = $2")
}

func TestMapError(t *testing.T) {
	err := mapError("get role", "u1", sql.ErrNoRows)
	assert.True(t, errors.Is(err, profile.ErrNotFound))

	err = mapError("get role", "u1", &pq.Error{Code: "42P01", Message: `relation "profiles" does not exist`})
	assert.ErrorIs(t, err, ErrSchema)

	other := errors.New("conn refused")
	assert.ErrorIs(t, mapError("set role", "u1", other), other)
}

// TestService_Postgres runs against a live database when
// ANNFLOW_TEST_POSTGRES_DSN is set.
func TestService_Postgres(t *testing.T) {
	dsn := os.Getenv("ANNFLOW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ANNFLOW_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	svc, err := Open(ctx, Config{DSN: dsn, Table: "annflow_profiles_test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	_, err = svc.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS annflow_profiles_test (user_id text PRIMARY KEY, role text NOT NULL)`)
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = svc.db.ExecContext(ctx, `DROP TABLE annflow_profiles_test`) })

	_, err = svc.db.ExecContext(ctx, `INSERT INTO annflow_profiles_test (user_id, role) VALUES ('u1', 'free_user')`)
	require.NoError(t, err)

	role, err := svc.GetRole(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, profile.RoleFree, role)

	require.NoError(t, svc.SetRole(ctx, "u1", profile.RolePremium))
	role, err = svc.GetRole(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, profile.RolePremium, role)

	assert.True(t, errors.Is(svc.SetRole(ctx, "nobody", profile.RolePremium), profile.ErrNotFound))
	_, err = svc.GetRole(ctx, "nobody")
	assert.True(t, errors.Is(err, profile.ErrNotFound))
}
