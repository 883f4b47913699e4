package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	assert.Equal(t, "001_routing", migrations[0].version)
	assert.Contains(t, migrations[0].sql, "CREATE TABLE IF NOT EXISTS escalation_states")
	assert.True(t, strings.Contains(migrations[0].sql, "(resolved, next_escalation_at)"))

	for i := 1; i < len(migrations); i++ {
		assert.Less(t, migrations[i-1].version, migrations[i].version)
	}
}
