package postgres

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/solbot/internal/domain"
)

func TestListQuery(t *testing.T) {
	since := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	query, args := listQuery("SELECT * FROM positions WHERE mint = $1", []any{"m"}, "opened_at",
		domain.ListOpts{Since: &since, Limit: 10, Offset: 20})

	assert.Equal(t, "SELECT * FROM positions WHERE mint = $1 AND opened_at >= $2 ORDER BY opened_at DESC LIMIT $3 OFFSET $4", query)
	assert.Equal(t, []any{"m", since, 10, 20}, args)
}

func TestListQueryNoOptions(t *testing.T) {
	query, args := listQuery("SELECT * FROM audit_log WHERE TRUE", nil, "created_at", domain.ListOpts{})
	assert.Equal(t, "SELECT * FROM audit_log WHERE TRUE ORDER BY created_at DESC", query)
	assert.Empty(t, args)
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/solbot?sslmode=disable",
		DSN(ClientConfig{Host: "db", User: "u", Password: "p", Database: "solbot"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x"}))
	assert.Equal(t, "postgres://u:p%40ss%2Fword@db:6543/solbot?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6543, User: "u", Password: "p@ss/word", Database: "solbot", SSLMode: "require"}))
}

func TestMigrationsSorted(t *testing.T) {
	names, err := migrations()
	assert.NoError(t, err)
	assert.NotEmpty(t, names)
	assert.True(t, slices.IsSorted(names))
	assert.Equal(t, "001_init.sql", names[0])
}

func TestMigrationsEmbedded(t *testing.T) {
	data, err := migrationsFS.ReadFile("migrations/001_init.sql")
	assert.NoError(t, err)
	assert.Contains(t, string(data), "positions_active_mint")
}
