package repository

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS campaign_events (
	id BIGSERIAL PRIMARY KEY,
	campaign TEXT NOT NULL,
	at_ms BIGINT NOT NULL,
	kind TEXT NOT NULL,
	job_name TEXT NOT NULL DEFAULT '',
	units TEXT NOT NULL DEFAULT '[]',
	detail TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_campaign_events_campaign ON campaign_events(campaign, id);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS campaign_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	campaign TEXT NOT NULL,
	at_ms INTEGER NOT NULL,
	kind TEXT NOT NULL,
	job_name TEXT NOT NULL DEFAULT '',
	units TEXT NOT NULL DEFAULT '[]',
	detail TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_campaign_events_campaign ON campaign_events(campaign, id);
`

// DB is a database handle that knows its driver's placeholder style
type DB struct {
	*sql.DB
	driver string
}

// Open connects to the ledger database. driver is "postgres" or "sqlite".
func Open(driver, dsn string) (*DB, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if driver == DriverSQLite {
		// one writer at a time
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s database: %w", driver, err)
	}
	return &DB{DB: db, driver: driver}, nil
}

// Driver returns the driver name
func (db *DB) Driver() string {
	return db.driver
}

// EnsureSchema creates the ledger table if it doesn't exist.
func (db *DB) EnsureSchema() error {
	schema := sqliteSchema
	if db.driver == DriverPostgres {
		schema = postgresSchema
	}
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Rebind rewrites ? placeholders to $1, $2, ... for Postgres.
func (db *DB) Rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
