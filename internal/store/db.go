// Package store owns the schema and connection pool for the Postgres (or,
// in local/dev mode, SQLite) database behind every other VoxCortex
// component. Other packages reach the database through the *sql.DB that a
// Pool wraps.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect distinguishes the small set of SQL differences between the two
// supported backends (placeholder style, column types).
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

// Pool wraps a *sql.DB with the dialect it was opened against.
type Pool struct {
	DB      *sql.DB
	Dialect Dialect
}

var (
	once     sync.Once
	instance *Pool
	initErr  error
)

// Open returns the process-wide singleton pool, lazily opening it on the
// first call. databaseURL starting with "sqlite://" opens a local SQLite
// file (dev/test); anything else is treated as a Postgres DSN.
//
// pool_pre_ping is approximated with a short ConnMaxLifetime plus an
// explicit Ping on open, rather than a per-checkout liveness probe:
// database/sql's own connection reaper already evicts dead conns within
// that lifetime.
func Open(databaseURL string) (*Pool, error) {
	once.Do(func() {
		instance, initErr = open(databaseURL)
	})
	return instance, initErr
}

func open(databaseURL string) (*Pool, error) {
	dialect := DialectPostgres
	driver := "postgres"
	dsn := databaseURL

	if strings.HasPrefix(databaseURL, "sqlite://") {
		dialect = DialectSQLite
		driver = "sqlite"
		dsn = strings.TrimPrefix(databaseURL, "sqlite://")
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	p := &Pool{DB: db, Dialect: dialect}
	if err := p.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return p, nil
}

// Reset clears the singleton. Test-only: lets independent test cases open
// their own in-memory SQLite pool instead of sharing process state.
func Reset() {
	once = sync.Once{}
	instance = nil
	initErr = nil
}

// Rebind rewrites Postgres-style "$1, $2, ..." placeholders to "?" when the
// pool is running against SQLite. Every store package writes its queries in
// Postgres form (matching the teacher's convention) and calls Rebind before
// executing, rather than maintaining two copies of every statement.
func (p *Pool) Rebind(query string) string {
	if p.Dialect != DialectSQLite {
		return query
	}
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		if query[i] == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			b.WriteByte('?')
			i++
			for i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
				i++
			}
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
