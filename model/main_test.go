package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/modelrelay/modelrelay/common/config"
)

// setupTestDB points the package at a fresh on-disk SQLite database.
// In-memory SQLite shares poorly across gorm's pooled connections, so a
// temp file is used instead.
func setupTestDB(t *testing.T) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "modelrelay-test.db")
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=3000"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	prev := DB
	DB = db
	UsingSQLite.Store(true)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
		DB = prev
	})

	require.NoError(t, migrate())
}

func TestEnsureSQLitePathCreatesDirectory(t *testing.T) {
	originalSQLitePath := config.SQLitePath
	t.Cleanup(func() {
		config.SQLitePath = originalSQLitePath
	})

	baseDir := t.TempDir()
	dbPath := filepath.Join(baseDir, "nested", "modelrelay.db")
	config.SQLitePath = dbPath

	resolved, err := ensureSQLitePath()
	require.NoError(t, err)

	absExpected, err := filepath.Abs(dbPath)
	require.NoError(t, err)
	require.Equal(t, filepath.Clean(absExpected), resolved)

	info, err := os.Stat(filepath.Dir(absExpected))
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestEnsureSQLitePathFailsWhenUnwritable(t *testing.T) {
	originalSQLitePath := config.SQLitePath
	t.Cleanup(func() {
		config.SQLitePath = originalSQLitePath
	})

	baseDir := t.TempDir()
	lockedDir := filepath.Join(baseDir, "locked")
	require.NoError(t, os.MkdirAll(lockedDir, 0o555))
	t.Cleanup(func() {
		_ = os.Chmod(lockedDir, 0o755)
	})

	config.SQLitePath = filepath.Join(lockedDir, "db.sqlite")

	_, err := ensureSQLitePath()
	require.Error(t, err)
}
