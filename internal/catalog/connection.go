package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"sql-advisor/internal/model"
)

// ConnConfig describes how to reach a business database instance.
// ConnectTimeout is in seconds.
type ConnConfig struct {
	User              string `yaml:"user"`
	Password          string `yaml:"password"`
	Host              string `yaml:"host"`
	Port              int    `yaml:"port"`
	TopologyDB        string `yaml:"topology_db"`
	ConnectTimeout    int    `yaml:"connect_timeout"`
	MaxActiveSessions int    `yaml:"max_active_sessions"`
}

func (c ConnConfig) withDefaults() ConnConfig {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 3306
	}
	if c.TopologyDB == "" {
		c.TopologyDB = "t"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5
	}
	if c.MaxActiveSessions == 0 {
		c.MaxActiveSessions = 10
	}
	return c
}

func (c ConnConfig) timeout() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Second
}

// ConnManager hands out database connections under a hard invariant:
// at most one outbound connection is held at a time. A second Acquire
// while one is open fails fast with ErrConnectionBusy rather than
// queueing, so a misbehaving caller cannot pile load onto the source
// instance.
type ConnManager struct {
	cfg ConnConfig
	log *zap.Logger

	mu     sync.Mutex
	active *sql.DB
}

func NewConnManager(cfg ConnConfig, log *zap.Logger) *ConnManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConnManager{cfg: cfg.withDefaults(), log: log}
}

// Acquire opens a defensively configured connection to the given host
// (or the configured default), preferring a replica resolved through
// the topology lookup. The caller must Release on every exit path.
func (m *ConnManager) Acquire(ctx context.Context, host, database string) (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return nil, model.ErrConnectionBusy
	}

	if host == "" || host == "localhost" {
		host = m.cfg.Host
	}
	if standby := m.standbyFor(ctx, host); standby != "" {
		m.log.Info("using replica host", zap.String("primary", host), zap.String("replica", standby))
		host = standby
	} else {
		m.log.Warn("no replica found, connecting to given host", zap.String("host", host))
	}

	db, err := m.open(host, database, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrMetadataUnavailable, err)
	}
	if err := m.guard(ctx, db, host, database); err != nil {
		_ = db.Close()
		return nil, err
	}
	m.active = db
	return db, nil
}

// Release closes the active connection. Safe to call when none is held.
func (m *ConnManager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		_ = m.active.Close()
		m.active = nil
	}
}

func (m *ConnManager) open(host, database, initCommand string) (*sql.DB, error) {
	cfg := mysql.NewConfig()
	cfg.User = m.cfg.User
	cfg.Passwd = m.cfg.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", host, m.cfg.Port)
	cfg.DBName = database
	cfg.Timeout = m.cfg.timeout()
	cfg.ReadTimeout = m.cfg.timeout()
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	if initCommand != "" {
		cfg.Params["init_command"] = initCommand
	}

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}
	// One analysis touches one statement at a time; keep the pool flat
	// so the single-connection invariant holds at the wire level too.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// guard applies the defensive session policy: refuse busy instances,
// tighten sql_mode for write-capable accounts, and force read-only
// bounded sessions.
func (m *ConnManager) guard(ctx context.Context, db *sql.DB, host, database string) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.timeout())
	defer cancel()

	var activeSessions int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM information_schema.processlist WHERE command != 'Sleep'",
	).Scan(&activeSessions)
	if err != nil {
		return fmt.Errorf("%w: session check failed: %v", model.ErrMetadataUnavailable, err)
	}
	if activeSessions > m.cfg.MaxActiveSessions {
		return fmt.Errorf("%w: instance %s has %d active sessions (limit %d)",
			model.ErrMetadataUnavailable, host, activeSessions, m.cfg.MaxActiveSessions)
	}

	if m.hasWritePrivilege(ctx, db) {
		if _, err := db.ExecContext(ctx,
			"SET SESSION sql_mode='STRICT_TRANS_TABLES,NO_ENGINE_SUBSTITUTION'",
		); err != nil {
			return fmt.Errorf("%w: strict session setup failed: %v", model.ErrMetadataUnavailable, err)
		}
	}

	for _, stmt := range []string{
		"SET SESSION sql_safe_updates=1",
		"SET SESSION sql_select_limit=1000",
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: read-only session setup failed: %v", model.ErrMetadataUnavailable, err)
		}
	}
	return nil
}

func (m *ConnManager) hasWritePrivilege(ctx context.Context, db *sql.DB) bool {
	rows, err := db.QueryContext(ctx,
		"SELECT privilege_type FROM information_schema.user_privileges WHERE grantee LIKE ?",
		"%"+m.cfg.User+"%",
	)
	if err != nil {
		// Cannot inspect privileges: assume the worst and tighten.
		return true
	}
	defer rows.Close()
	for rows.Next() {
		var priv string
		if rows.Scan(&priv) != nil {
			continue
		}
		switch strings.ToUpper(priv) {
		case "INSERT", "UPDATE", "DELETE":
			return true
		}
	}
	return false
}

// standbyFor resolves a replica for the given primary through the
// cluster topology table. The lookup uses its own short-lived
// connection that is closed before the main connection opens, so only
// one connection is ever outstanding. Returns "" when no replica is
// known; the caller then connects to the primary directly.
func (m *ConnManager) standbyFor(ctx context.Context, primary string) string {
	if primary == "" {
		return ""
	}
	db, err := m.open(m.cfg.Host, m.cfg.TopologyDB, "")
	if err != nil {
		m.log.Warn("topology lookup unavailable", zap.Error(err))
		return ""
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.timeout())
	defer cancel()

	var clusterName string
	err = db.QueryRowContext(ctx,
		"SELECT cluster_name FROM cluster WHERE ip = ? AND instance_role = 'M'", primary,
	).Scan(&clusterName)
	if err != nil {
		if err != sql.ErrNoRows {
			m.log.Warn("cluster lookup failed", zap.String("primary", primary), zap.Error(err))
		}
		return ""
	}

	var standby string
	err = db.QueryRowContext(ctx,
		"SELECT ip FROM cluster WHERE cluster_name = ? AND instance_role = 'S' LIMIT 1", clusterName,
	).Scan(&standby)
	if err != nil {
		if err != sql.ErrNoRows {
			m.log.Warn("replica lookup failed", zap.String("cluster", clusterName), zap.Error(err))
		}
		return ""
	}
	return standby
}
