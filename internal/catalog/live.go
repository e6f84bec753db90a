package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"sql-advisor/internal/model"
)

// metaSource abstracts the live metadata queries so the catalog logic
// can be exercised without a database.
type metaSource interface {
	TableExists(ctx context.Context, host, database, table string) (bool, error)
	Indexes(ctx context.Context, host, database, table string) ([]model.IndexDescriptor, error)
	Databases(ctx context.Context, host string) ([]string, error)
	TableRows(ctx context.Context, host, database, table string) (int64, error)
}

// liveSource runs metadata queries against a MySQL instance. Every call
// acquires the single connection, runs one bounded query, and releases
// on all exit paths.
type liveSource struct {
	conns *ConnManager
	log   *zap.Logger
}

func newLiveSource(conns *ConnManager, log *zap.Logger) *liveSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &liveSource{conns: conns, log: log}
}

func (s *liveSource) TableExists(ctx context.Context, host, database, table string) (bool, error) {
	db, err := s.conns.Acquire(ctx, host, database)
	if err != nil {
		return false, err
	}
	defer s.conns.Release()

	var cnt int
	err = db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?",
		database, table,
	).Scan(&cnt)
	if err != nil {
		return false, fmt.Errorf("%w: %v", model.ErrMetadataUnavailable, err)
	}
	return cnt > 0, nil
}

// Indexes reads the index definitions from information_schema.statistics,
// ordered so multi-column indexes come back in leftmost-prefix order.
func (s *liveSource) Indexes(ctx context.Context, host, database, table string) ([]model.IndexDescriptor, error) {
	db, err := s.conns.Acquire(ctx, host, database)
	if err != nil {
		return nil, err
	}
	defer s.conns.Release()

	rows, err := db.QueryContext(ctx,
		`SELECT index_name, non_unique, column_name
		   FROM information_schema.statistics
		  WHERE table_schema = ? AND table_name = ?
		  ORDER BY index_name, seq_in_index`,
		database, table,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrMetadataUnavailable, err)
	}
	defer rows.Close()

	var out []model.IndexDescriptor
	byName := map[string]int{}
	for rows.Next() {
		var name, column string
		var nonUnique int
		if err := rows.Scan(&name, &nonUnique, &column); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrMetadataUnavailable, err)
		}
		i, ok := byName[name]
		if !ok {
			out = append(out, model.IndexDescriptor{
				Name:    name,
				Unique:  nonUnique == 0,
				Primary: name == "PRIMARY",
			})
			i = len(out) - 1
			byName[name] = i
		}
		out[i].Columns = append(out[i].Columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrMetadataUnavailable, err)
	}
	return out, nil
}

func (s *liveSource) Databases(ctx context.Context, host string) ([]string, error) {
	db, err := s.conns.Acquire(ctx, host, "")
	if err != nil {
		return nil, err
	}
	defer s.conns.Release()

	rows, err := db.QueryContext(ctx, "SHOW DATABASES")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrMetadataUnavailable, err)
	}
	defer rows.Close()

	var dbs []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrMetadataUnavailable, err)
		}
		dbs = append(dbs, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrMetadataUnavailable, err)
	}
	return dbs, nil
}

// TableRows returns the estimated row count. Exact COUNT(*) is avoided:
// the whole point of this tool is to not add load to slow instances.
// Falls back to a rough data-length estimate for large tables whose
// statistics are stale.
func (s *liveSource) TableRows(ctx context.Context, host, database, table string) (int64, error) {
	db, err := s.conns.Acquire(ctx, host, database)
	if err != nil {
		return -1, err
	}
	defer s.conns.Release()

	var tableRows, dataLength sql.NullInt64
	err = db.QueryRowContext(ctx,
		"SELECT table_rows, data_length FROM information_schema.tables WHERE table_schema = ? AND table_name = ?",
		database, table,
	).Scan(&tableRows, &dataLength)
	if err != nil {
		if err == sql.ErrNoRows {
			return -1, model.ErrTableNotFound
		}
		return -1, fmt.Errorf("%w: %v", model.ErrMetadataUnavailable, err)
	}
	if tableRows.Valid && tableRows.Int64 > 0 {
		return tableRows.Int64, nil
	}
	// Stale statistics on a big table: assume ~1KB per row.
	if dataLength.Valid && dataLength.Int64 > 100*1024*1024 {
		est := dataLength.Int64 / 1024
		s.log.Warn("row statistics unavailable, estimating from data length",
			zap.String("table", table), zap.Int64("estimate", est))
		return est, nil
	}
	return -1, nil
}
