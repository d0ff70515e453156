package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/claude-runner/internal/common/config"
)

func TestOpen_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "runner.db")

	pool, err := Open(config.DatabaseConfig{Driver: "sqlite", Path: path})
	require.NoError(t, err)
	defer func() { _ = pool.Close() }()

	assert.FileExists(t, path)
	assert.Equal(t, "sqlite3", pool.Writer().DriverName())

	_, err = pool.Writer().Exec("CREATE TABLE t (v TEXT)")
	require.NoError(t, err)
	_, err = pool.Writer().Exec("INSERT INTO t (v) VALUES ('x')")
	require.NoError(t, err)

	var v string
	require.NoError(t, pool.Reader().Get(&v, "SELECT v FROM t"))
	assert.Equal(t, "x", v)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "mysql"})
	assert.Error(t, err)
}
