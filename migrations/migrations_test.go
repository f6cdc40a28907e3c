package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrdersMigrations(t *testing.T) {
	all, err := Load()
	require.NoError(t, err)
	require.NotEmpty(t, all)
	assert.Equal(t, 1, all[0].Version)
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i].Version, all[i-1].Version)
	}
	assert.Contains(t, all[0].SQL, "CREATE TABLE IF NOT EXISTS role_assignments")
	assert.Contains(t, all[0].SQL, "tuple_outbox")
}
