// SPDX-License-Identifier: MIT

// Package store implements the durable meeting state store on SQLite.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver
)

// sqliteConfig defines standard SQLite operational parameters.
type sqliteConfig struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

func defaultSQLiteConfig() sqliteConfig {
	return sqliteConfig{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 10,
	}
}

// openSQLite initializes a SQLite connection pool with mandatory PRAGMAs.
// The pragmas ride on the DSN so they apply to every connection in the pool.
func openSQLite(dbPath string, cfg sqliteConfig) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	return db, nil
}
