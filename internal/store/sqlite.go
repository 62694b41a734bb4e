// Package store owns the gateway's two SQLite databases: config.db (mode
// 0644, non-sensitive proxy/engine/model configuration) and security.db
// (mode 0600, API keys, security policy, DNS credential metadata).
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Stores bundles the two open database handles the gateway depends on.
type Stores struct {
	Config   *sql.DB
	Security *sql.DB
}

// Open opens both SQLite databases and applies migrations. It does not set
// the security.db file permission; EnforceSecurityPermissions does that,
// called separately by the daemon, and a chmod failure there is only warned
// about and does not abort startup — the file may live on a filesystem that
// doesn't support POSIX permission bits.
func Open(configPath, securityPath string) (*Stores, error) {
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(securityPath), 0o700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	cfgDB, err := openOne(configPath)
	if err != nil {
		return nil, fmt.Errorf("opening config.db: %w", err)
	}

	secDB, err := openOne(securityPath)
	if err != nil {
		cfgDB.Close()
		return nil, fmt.Errorf("opening security.db: %w", err)
	}

	if err := MigrateConfig(cfgDB); err != nil {
		cfgDB.Close()
		secDB.Close()
		return nil, fmt.Errorf("migrating config.db: %w", err)
	}
	if err := MigrateSecurity(secDB); err != nil {
		cfgDB.Close()
		secDB.Close()
		return nil, fmt.Errorf("migrating security.db: %w", err)
	}

	return &Stores{Config: cfgDB, Security: secDB}, nil
}

// EnforceSecurityPermissions chmods security.db to 0600, warning rather than
// failing if the underlying filesystem rejects it.
func EnforceSecurityPermissions(path string, warn func(msg string, args ...any)) {
	if err := os.Chmod(path, 0o600); err != nil {
		warn("could not restrict security.db permissions", "path", path, "error", err)
	}
}

func openOne(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite has no real concurrent-writer story; keep the pool small so
	// "database is locked" surfaces as queueing, not as a storm of retries.
	db.SetMaxOpenConns(5)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Close closes both database handles.
func (s *Stores) Close() error {
	err1 := s.Config.Close()
	err2 := s.Security.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
