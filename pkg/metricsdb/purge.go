package metricsdb

import (
	"fmt"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/xbat/xbatctld/pkg/log"
	"github.com/xbat/xbatctld/pkg/metrics"
)

// JobIDLister is satisfied by the document-store gateway; it is the source
// of truth for which job ids are still registered.
type JobIDLister interface {
	ListJobIDs() ([]int64, error)
}

var purgeMu sync.Mutex

// Purge drops measurement rows for jobs no longer present in the document
// store. It is non-blocking: a purge already in flight causes a new
// request to be skipped rather than queued. Each affected table is rebuilt
// via create-copy/drop/rename rather than DELETE, which also reclaims the
// table's storage in the same pass.
func (db *DB) Purge(store JobIDLister) error {
	if !purgeMu.TryLock() {
		lg := log.WithComponent("metricsdb")
		lg.Info().Msg("purge already in progress, skipping")
		return nil
	}
	defer purgeMu.Unlock()

	logger := log.WithComponent("metricsdb")
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.MetricsPurgeDuration)

	tables, err := db.listTables()
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	if len(tables) == 0 {
		return nil
	}

	tableJobIDs := make(map[string][]int64, len(tables))
	seen := map[int64]bool{}
	for _, table := range tables {
		rows, err := db.execute(fmt.Sprintf("SELECT DISTINCT jobId FROM %s", table))
		if err != nil {
			logger.Warn().Err(err).Str("table", table).Msg("could not list job ids")
			continue
		}
		ids := make([]int64, 0, len(rows))
		for _, r := range rows {
			id := toInt64(r["jobId"])
			ids = append(ids, id)
			seen[id] = true
		}
		tableJobIDs[table] = ids
	}

	if len(seen) == 0 {
		logger.Info().Msg("no jobs found for purge")
		return nil
	}

	registered, err := store.ListJobIDs()
	if err != nil {
		return fmt.Errorf("list registered job ids: %w", err)
	}
	registeredSet := make(map[int64]bool, len(registered))
	for _, id := range registered {
		registeredSet[id] = true
	}

	var toDelete []int64
	for id := range seen {
		if !registeredSet[id] {
			toDelete = append(toDelete, id)
		}
	}
	if len(toDelete) == 0 {
		logger.Info().Msg("no jobs to delete")
		return nil
	}

	var affected []string
	for table, ids := range tableJobIDs {
		for _, id := range ids {
			if !registeredSet[id] {
				affected = append(affected, table)
				break
			}
		}
	}

	logger.Info().Int("count", len(toDelete)).Msg("deleting jobs from time-series store")

	where := fmt.Sprintf("jobId NOT IN (%s)", quoteList(toDelete))
	p := pool.New().WithMaxGoroutines(ConcurrentTablePurgeLimit).WithErrors()
	for _, table := range affected {
		table := table
		p.Go(func() error {
			return db.purgeTable(table, where)
		})
	}
	if err := p.Wait(); err != nil {
		return fmt.Errorf("purge tables: %w", err)
	}

	metrics.MetricsTablesPurgedTotal.Add(float64(len(affected)))
	return nil
}

func (db *DB) purgeTable(table, where string) error {
	backup := table + "_backup"
	if _, err := db.sql.Exec(fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s WHERE %s", backup, table, where)); err != nil {
		return fmt.Errorf("create backup table %s: %w", table, err)
	}
	if _, err := db.sql.Exec(fmt.Sprintf("DROP TABLE %s", table)); err != nil {
		return fmt.Errorf("drop table %s: %w", table, err)
	}
	if _, err := db.sql.Exec(fmt.Sprintf("ALTER TABLE %s RENAME TO %s", backup, table)); err != nil {
		return fmt.Errorf("rename table %s: %w", backup, err)
	}
	return nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
