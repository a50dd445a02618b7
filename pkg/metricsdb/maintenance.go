package metricsdb

import (
	"fmt"
	"strings"

	"github.com/xbat/xbatctld/pkg/log"
	"github.com/xbat/xbatctld/pkg/metrics"
)

// indexedColumns are indexed on sight: job lookups and node/level filters
// drive almost every query.
var indexedColumns = map[string]bool{"jobId": true, "node": true, "level": true}

// Maintain adds missing indexes to measurement tables and recovers any
// table left mid-checkpoint by a crash. Runs once at startup.
func (db *DB) Maintain() error {
	logger := log.WithComponent("metricsdb")
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.MetricsMaintenanceDuration)

	tables, err := db.listTables()
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	if len(tables) == 0 {
		return nil
	}

	var indexQueries []string
	for _, table := range tables {
		cols, err := db.tableColumns(table)
		if err != nil {
			logger.Warn().Err(err).Str("table", table).Msg("could not read columns")
			continue
		}
		existingIndexes, err := db.tableIndexedColumns(table)
		if err != nil {
			logger.Warn().Err(err).Str("table", table).Msg("could not read indexes")
			continue
		}
		for _, col := range cols {
			if indexedColumns[col] && !existingIndexes[col] {
				indexQueries = append(indexQueries, fmt.Sprintf(
					"CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s)", table, col, table, col))
			}
		}
	}

	if len(indexQueries) > 0 {
		if _, err := db.ExecuteQueries(indexQueries, ConcurrentQueryLimit); err != nil {
			return err
		}
		logger.Info().Int("count", len(indexQueries)).Msg("added indexes to tables")
	}

	// a passive checkpoint folds any write-ahead log left by a crash
	// back into the main database and is safe to run unconditionally
	if _, err := db.sql.Exec("PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
		logger.Warn().Err(err).Msg("wal checkpoint failed")
	}

	return nil
}

func (db *DB) listTables() ([]string, error) {
	rows, err := db.execute("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rows))
	for _, r := range rows {
		if name, ok := r["name"].(string); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

func (db *DB) tableColumns(table string) ([]string, error) {
	rows, err := db.execute(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	cols := make([]string, 0, len(rows))
	for _, r := range rows {
		if name, ok := r["name"].(string); ok {
			cols = append(cols, name)
		}
	}
	return cols, nil
}

func (db *DB) tableIndexedColumns(table string) (map[string]bool, error) {
	indexed := map[string]bool{}
	indexes, err := db.execute(fmt.Sprintf("PRAGMA index_list(%s)", table))
	if err != nil {
		return nil, err
	}
	for _, idx := range indexes {
		name, ok := idx["name"].(string)
		if !ok {
			continue
		}
		cols, err := db.execute(fmt.Sprintf("PRAGMA index_info(%s)", name))
		if err != nil {
			continue
		}
		for _, c := range cols {
			if colName, ok := c["name"].(string); ok {
				indexed[colName] = true
			}
		}
	}
	return indexed, nil
}

// quoteList renders a comma separated SQL literal list, used to build the
// "jobId NOT IN (...)" purge predicate.
func quoteList(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ",")
}
