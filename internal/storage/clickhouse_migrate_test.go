package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecer struct {
	statements []string
	failOn     int
}

func (r *recordingExecer) Exec(ctx context.Context, query string, args ...interface{}) error {
	r.statements = append(r.statements, query)
	if r.failOn > 0 && len(r.statements) == r.failOn {
		return errors.New("syntax error")
	}
	return nil
}

func TestSplitSQLStatements(t *testing.T) {
	content := `-- archive table
CREATE TABLE a (
    id String
) ENGINE = MergeTree ORDER BY id;

-- second
CREATE TABLE b (id String) ENGINE = Log;
`
	stmts := splitSQLStatements(content)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "CREATE TABLE a")
	assert.NotContains(t, stmts[0], ";")
	assert.Equal(t, "CREATE TABLE b (id String) ENGINE = Log", stmts[1])
}

func TestRunClickHouseMigrations(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "002_b.sql"), []byte("CREATE TABLE b (x UInt8) ENGINE = Log;"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_a.sql"), []byte("CREATE TABLE a (x UInt8) ENGINE = Log;"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o600))

	exec := &recordingExecer{}
	applied, err := RunClickHouseMigrations(context.Background(), exec, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)
	require.Len(t, exec.statements, 2)
	assert.Contains(t, exec.statements[0], "TABLE a")
	assert.Contains(t, exec.statements[1], "TABLE b")
}

func TestRunClickHouseMigrationsStopsOnError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_a.sql"), []byte("CREATE TABLE a (x UInt8) ENGINE = Log;"), 0o600))

	applied, err := RunClickHouseMigrations(context.Background(), &recordingExecer{failOn: 1}, dir)
	assert.Error(t, err)
	assert.Zero(t, applied)
}

func TestRepositoryMigrationsParse(t *testing.T) {
	stmts := 0
	entries, err := os.ReadDir("../../migrations/clickhouse")
	require.NoError(t, err)
	for _, e := range entries {
		content, err := os.ReadFile(filepath.Join("../../migrations/clickhouse", e.Name()))
		require.NoError(t, err)
		stmts += len(splitSQLStatements(string(content)))
	}
	assert.Positive(t, stmts)
}
