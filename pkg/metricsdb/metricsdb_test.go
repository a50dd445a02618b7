package metricsdb

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobIDs []int64

func (f fakeJobIDs) ListJobIDs() ([]int64, error) { return f, nil }

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func insertSample(t *testing.T, db *DB, table string, jobID int64) {
	t.Helper()
	_, err := db.sql.Exec(fmt.Sprintf(
		"INSERT INTO %s (timestamp, jobId, node, level, value) VALUES (CURRENT_TIMESTAMP, %d, 'cn01', 'core', 1.0)",
		table, jobID))
	require.NoError(t, err)
}

func distinctJobIDs(t *testing.T, db *DB, table string) []int64 {
	t.Helper()
	rows, err := db.ExecuteQuery(fmt.Sprintf("SELECT DISTINCT jobId FROM %s", table))
	require.NoError(t, err)
	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, toInt64(r["jobId"]))
	}
	return ids
}

func TestExecuteQueriesPreservesOrder(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.EnsureJobTable("cpu"))
	insertSample(t, db, "cpu", 1)
	insertSample(t, db, "cpu", 2)

	results, err := db.ExecuteQueries([]string{
		"SELECT COUNT(*) AS n FROM cpu",
		"SELECT COUNT(*) AS n FROM cpu WHERE jobId = 1",
	}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(2), toInt64(results[0][0]["n"]))
	assert.Equal(t, int64(1), toInt64(results[1][0]["n"]))
}

func TestExecuteQueriesBadQueryYieldsEmptyRows(t *testing.T) {
	db := newTestDB(t)

	results, err := db.ExecuteQueries([]string{"SELECT * FROM missing_table"}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Empty(t, results[0])
}

func TestMaintainAddsSymbolIndexes(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.EnsureJobTable("cpu"))

	require.NoError(t, db.Maintain())

	indexed, err := db.tableIndexedColumns("cpu")
	require.NoError(t, err)
	for _, col := range []string{"jobId", "node", "level"} {
		assert.True(t, indexed[col], col)
	}

	// a second run is a no-op, not an error
	require.NoError(t, db.Maintain())
}

func TestPurgeRemovesOrphanJobs(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.EnsureJobTable("cpu"))
	require.NoError(t, db.EnsureJobTable("memory"))

	// metrics store holds {1,2,3,4}; only {1,3} are still registered
	insertSample(t, db, "cpu", 1)
	insertSample(t, db, "cpu", 2)
	insertSample(t, db, "memory", 3)
	insertSample(t, db, "memory", 4)

	require.NoError(t, db.Purge(fakeJobIDs{1, 3}))

	assert.Equal(t, []int64{1}, distinctJobIDs(t, db, "cpu"))
	assert.Equal(t, []int64{3}, distinctJobIDs(t, db, "memory"))
}

func TestPurgeRetainsEmptiedTables(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.EnsureJobTable("io"))
	insertSample(t, db, "io", 2)

	require.NoError(t, db.Purge(fakeJobIDs{1}))

	// the table lost its only job but still exists
	tables, err := db.listTables()
	require.NoError(t, err)
	assert.Contains(t, tables, "io")
	assert.Empty(t, distinctJobIDs(t, db, "io"))
}

func TestPurgeWithNothingRegisteredIsSafe(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.EnsureJobTable("cpu"))

	require.NoError(t, db.Purge(fakeJobIDs{}))
}
