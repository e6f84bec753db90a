// Package catalog resolves which database a query's tables live in and
// what indexes those tables carry, from a live instance when possible
// and from a captured structural snapshot when not.
package catalog

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"sql-advisor/internal/model"
)

// systemDatabases are never searched when hunting for a table.
var systemDatabases = map[string]bool{
	"information_schema": true,
	"performance_schema": true,
	"mysql":              true,
	"sys":                true,
}

// Catalog implements model.Catalog. Lookup order: live query in the
// hinted database, then a search across other non-system databases for
// a table of the same name, then the snapshot. Snapshot-derived and
// failed lookups always carry ConfidenceUnknown: the evaluator must
// never confuse "could not check" with "has no index".
type Catalog struct {
	src      metaSource
	snapshot *Snapshot
	exclude  map[string]bool
	log      *zap.Logger
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithSnapshot installs the structural fallback.
func WithSnapshot(s *Snapshot) Option {
	return func(c *Catalog) { c.snapshot = s }
}

// WithExcludedDatabases removes site-specific schemas from the search.
func WithExcludedDatabases(names []string) Option {
	return func(c *Catalog) {
		for _, n := range names {
			c.exclude[n] = true
		}
	}
}

func New(conns *ConnManager, log *zap.Logger, opts ...Option) *Catalog {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Catalog{
		src:     newLiveSource(conns, log),
		exclude: map[string]bool{},
		log:     log,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Profile resolves the index profile for table. On metadata failure it
// still returns a usable profile (possibly snapshot-backed, always
// ConfidenceUnknown) together with the causing error so the caller can
// phrase the diagnosis.
func (c *Catalog) Profile(ctx context.Context, table, databaseHint, hostHint string) (model.TableIndexProfile, error) {
	unknown := model.TableIndexProfile{
		Database:   databaseHint,
		Table:      table,
		Confidence: model.ConfidenceUnknown,
	}
	if table == "" {
		return unknown, model.ErrTableNotFound
	}

	if databaseHint != "" {
		profile, err := c.liveProfile(ctx, table, databaseHint, hostHint)
		if err == nil {
			return profile, nil
		}
		if !errors.Is(err, model.ErrTableNotFound) {
			return c.snapshotFallback(unknown, err)
		}
		// Table absent from the hinted database: widen the search.
	}

	database, err := c.findDatabase(ctx, table, hostHint)
	if err != nil {
		if errors.Is(err, model.ErrTableNotFound) {
			return unknown, model.ErrTableNotFound
		}
		return c.snapshotFallback(unknown, err)
	}
	profile, err := c.liveProfile(ctx, table, database, hostHint)
	if err != nil {
		return c.snapshotFallback(unknown, err)
	}
	return profile, nil
}

func (c *Catalog) liveProfile(ctx context.Context, table, database, host string) (model.TableIndexProfile, error) {
	exists, err := c.src.TableExists(ctx, host, database, table)
	if err != nil {
		return model.TableIndexProfile{}, err
	}
	if !exists {
		return model.TableIndexProfile{}, model.ErrTableNotFound
	}
	indexes, err := c.src.Indexes(ctx, host, database, table)
	if err != nil {
		return model.TableIndexProfile{}, err
	}
	// An empty index list from a confirmed live read really means the
	// table has no indexes.
	return model.TableIndexProfile{
		Database:   database,
		Table:      table,
		Indexes:    indexes,
		Confidence: model.ConfidenceConfirmed,
	}, nil
}

// findDatabase searches all known non-system databases for a table of
// the given name. This bounded search is the deliberate substitute for
// retry-on-error.
func (c *Catalog) findDatabase(ctx context.Context, table, host string) (string, error) {
	dbs, err := c.src.Databases(ctx, host)
	if err != nil {
		return "", err
	}
	for _, db := range dbs {
		if systemDatabases[db] || c.exclude[db] {
			continue
		}
		exists, err := c.src.TableExists(ctx, host, db, table)
		if err != nil {
			return "", err
		}
		if exists {
			return db, nil
		}
	}
	return "", model.ErrTableNotFound
}

func (c *Catalog) snapshotFallback(unknown model.TableIndexProfile, cause error) (model.TableIndexProfile, error) {
	if c.snapshot != nil {
		if indexes, ok := c.snapshot.Indexes(unknown.Table); ok {
			c.log.Warn("live metadata unavailable, using structural snapshot",
				zap.String("table", unknown.Table), zap.Error(cause))
			unknown.Indexes = indexes
			return unknown, model.ErrMetadataUnavailable
		}
	}
	return unknown, model.ErrMetadataUnavailable
}

// RowCount returns the approximate row count, or a negative value when
// it cannot be determined.
func (c *Catalog) RowCount(ctx context.Context, database, table, hostHint string) int64 {
	if database == "" || table == "" {
		return -1
	}
	n, err := c.src.TableRows(ctx, hostHint, database, table)
	if err != nil {
		c.log.Warn("row count unavailable",
			zap.String("database", database), zap.String("table", table), zap.Error(err))
		return -1
	}
	return n
}
