package database_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"harmonyshield/internal/config"
	"harmonyshield/internal/database"
	"harmonyshield/internal/database/databasetest"
	"harmonyshield/internal/models"
)

func TestNew_RequiresConfigAndLogger(t *testing.T) {
	_, err := database.New(nil, zap.NewNop())
	assert.Error(t, err)

	_, err = database.New(&config.DatabaseConfig{}, nil)
	assert.Error(t, err)
}

func TestMigratedDatabase(t *testing.T) {
	db := databasetest.New(t)
	require.NoError(t, db.Health(context.Background()))

	for _, model := range models.All() {
		assert.True(t, db.DB().Migrator().HasTable(model))
	}
}

func TestHealth_Uninitialized(t *testing.T) {
	assert.Error(t, database.Wrap(nil, zap.NewNop()).Health(context.Background()))
	assert.NoError(t, database.Wrap(nil, zap.NewNop()).Close())
}
