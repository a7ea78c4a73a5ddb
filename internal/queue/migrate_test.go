package queue

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPgx5URL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"postgres://u:p@db:5432/bankbot?sslmode=disable", "pgx5://u:p@db:5432/bankbot?sslmode=disable"},
		{"postgresql://db/bankbot", "pgx5://db/bankbot"},
		{"pgx5://db/bankbot", "pgx5://db/bankbot"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, pgx5URL(tt.in))
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"migrations/000001_payout_jobs.up.sql",
		"migrations/000001_payout_jobs.down.sql",
		"migrations/000002_one_processing_per_bank.up.sql",
		"migrations/000002_one_processing_per_bank.down.sql",
	}, names)
}
