// Package metricsdb is the time-series gateway (component C10): a bounded
// concurrent SQL query executor over the per-job measurement tables, plus
// the maintenance and purge housekeeping jobs that keep them in shape.
package metricsdb

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sourcegraph/conc/pool"

	"github.com/xbat/xbatctld/pkg/log"
	"github.com/xbat/xbatctld/pkg/metrics"
)

// ConcurrentQueryLimit bounds how many queries run against the database at
// once.
const ConcurrentQueryLimit = 64

// ConcurrentTablePurgeLimit bounds concurrent per-table purges.
const ConcurrentTablePurgeLimit = 3

// Row is one result row keyed by column name.
type Row map[string]any

// DB is the time-series gateway connection.
type DB struct {
	sql *sql.DB
}

// Open opens the time-series database holding the per-job measurement
// tables the node-side collectors write. It creates no tables itself;
// EnsureJobTable does.
func Open(dataSourceName string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open time-series database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping time-series database: %w", err)
	}
	return &DB{sql: sqlDB}, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.sql.Close()
}

// Ping verifies the connection is still usable, for the health probes.
func (db *DB) Ping() error {
	return db.sql.Ping()
}

// EnsureJobTable creates (if missing) the measurement table for one metric
// kind. Collectors write one table per metric, each carrying the jobId,
// node and level symbol columns.
func (db *DB) EnsureJobTable(table string) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		timestamp DATETIME NOT NULL,
		jobId INTEGER NOT NULL,
		node TEXT NOT NULL,
		level TEXT NOT NULL,
		value REAL NOT NULL
	)`, table)
	_, err := db.sql.Exec(stmt)
	return err
}

// ExecuteQueries runs every query with at most concurrency in flight,
// collecting each query's rows in the same order the queries were given.
func (db *DB) ExecuteQueries(queries []string, concurrency int) ([][]Row, error) {
	if concurrency <= 0 {
		concurrency = ConcurrentQueryLimit
	}
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.MetricsQueryDuration)

	type indexed struct {
		idx  int
		rows []Row
		err  error
	}

	p := pool.NewWithResults[indexed]().WithMaxGoroutines(concurrency)
	for i, q := range queries {
		i, q := i, q
		p.Go(func() indexed {
			rows, err := db.execute(q)
			return indexed{idx: i, rows: rows, err: err}
		})
	}
	results := p.Wait()

	out := make([][]Row, len(queries))
	for _, r := range results {
		if r.err != nil {
			lg := log.WithComponent("metricsdb")
			lg.Error().Err(r.err).Msg("query failed")
			continue
		}
		out[r.idx] = r.rows
	}
	return out, nil
}

// ExecuteQuery runs a single query.
func (db *DB) ExecuteQuery(query string) ([]Row, error) {
	rows, err := db.ExecuteQueries([]string{query}, 1)
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

func (db *DB) execute(query string) ([]Row, error) {
	rows, err := db.sql.Query(query)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		pointers := make([]any, len(cols))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
