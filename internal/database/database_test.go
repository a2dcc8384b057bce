package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xelth-com/clipsync/internal/config"
	"github.com/xelth-com/clipsync/internal/models"
)

func TestConnectSQLite(t *testing.T) {
	dir := t.TempDir()
	db, err := Connect(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(dir, "nested", "clipsync.db"),
	}, dir)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.AutoMigrate(&models.CacheEntry{}))
	require.NoError(t, db.Create(&models.CacheEntry{Key: "k", Value: "v"}).Error)

	var entry models.CacheEntry
	require.NoError(t, db.First(&entry, "cache_key = ?", "k").Error)
	assert.Equal(t, "v", entry.Value)
}

func TestConnectRejectsUnknownDriver(t *testing.T) {
	_, err := Connect(config.DatabaseConfig{Driver: "memory"}, t.TempDir())
	assert.Error(t, err)
}
