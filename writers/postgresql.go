//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of GoETL.
//
// GoETL is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// GoETL is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with GoETL. If not, see https://www.gnu.org/licenses/.

package writers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/aaronlmathis/marketingetl/core"
)

// This file implements the warehouse side of the load stage: a Store hands out
// transactions, and each transaction bulk-loads whole tables with COPY FROM STDIN.

// Store opens load transactions against the warehouse.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	Close() error
}

// Tx is one all-or-nothing load. Rollback after Commit is a no-op.
type Tx interface {
	// Copy streams every record of src into table, in the given column order,
	// and returns the number of rows sent.
	Copy(ctx context.Context, table string, columns []string, src core.DataSource) (int64, error)
	Commit() error
	Rollback() error
}

// PostgresStoreError wraps PostgreSQL-specific errors with context about the operation.
type PostgresStoreError struct {
	Op    string // The operation being performed (e.g., "copy", "connect")
	Table string // Target table, when the operation has one
	Err   error  // The underlying error
}

// Error returns the error string for PostgresStoreError.
func (e *PostgresStoreError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("postgres store %s %s: %v", e.Op, e.Table, e.Err)
	}
	return fmt.Sprintf("postgres store %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for PostgresStoreError.
func (e *PostgresStoreError) Unwrap() error {
	return e.Err
}

// PostgresStoreStats holds PostgreSQL load statistics.
type PostgresStoreStats struct {
	RowsCopied       int64         // Rows sent through COPY, committed or not
	TablesCopied     int64         // Number of completed COPY statements
	TransactionCount int64         // Number of transactions committed
	RollbackCount    int64         // Number of transactions rolled back
	CopyDuration     time.Duration // Total time spent in COPY
	ConnectionTime   time.Duration // Time spent establishing connection
}

// PostgresStoreOptions configures the PostgreSQL store.
type PostgresStoreOptions struct {
	DSN             string        // PostgreSQL connection string
	MaxOpenConns    int           // Max open connections
	MaxIdleConns    int           // Max idle connections
	ConnMaxLifetime time.Duration // Max connection lifetime
	ConnMaxIdleTime time.Duration // Max idle connection time
	PingTimeout     time.Duration // Timeout for the initial ping
}

// PostgresStoreOption represents a configuration function for PostgresStoreOptions.
type PostgresStoreOption func(*PostgresStoreOptions)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) PostgresStoreOption {
	return func(opts *PostgresStoreOptions) {
		opts.DSN = dsn
	}
}

// WithPostgresConnectionPool configures the connection pool.
func WithPostgresConnectionPool(maxOpen, maxIdle int, maxLifetime, maxIdleTime time.Duration) PostgresStoreOption {
	return func(opts *PostgresStoreOptions) {
		opts.MaxOpenConns = maxOpen
		opts.MaxIdleConns = maxIdle
		opts.ConnMaxLifetime = maxLifetime
		opts.ConnMaxIdleTime = maxIdleTime
	}
}

// WithPostgresPingTimeout bounds the connectivity check done by NewPostgresStore.
func WithPostgresPingTimeout(timeout time.Duration) PostgresStoreOption {
	return func(opts *PostgresStoreOptions) {
		opts.PingTimeout = timeout
	}
}

// withDefaults applies default values to PostgresStoreOptions.
func (opts *PostgresStoreOptions) withDefaults() *PostgresStoreOptions {
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 4
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 1
	}
	if opts.ConnMaxLifetime == 0 {
		opts.ConnMaxLifetime = 5 * time.Minute
	}
	if opts.ConnMaxIdleTime == 0 {
		opts.ConnMaxIdleTime = 1 * time.Minute
	}
	if opts.PingTimeout == 0 {
		opts.PingTimeout = 10 * time.Second
	}
	return opts
}

// PostgresStore implements Store on database/sql with the lib/pq driver.
type PostgresStore struct {
	db    *sql.DB
	stats PostgresStoreStats
	mu    sync.Mutex
}

// NewPostgresStore opens a connection pool and verifies it with a ping.
func NewPostgresStore(ctx context.Context, opts ...PostgresStoreOption) (*PostgresStore, error) {
	options := (&PostgresStoreOptions{}).withDefaults()
	for _, opt := range opts {
		opt(options)
	}
	if options.DSN == "" {
		return nil, &PostgresStoreError{Op: "validate", Err: fmt.Errorf("dsn is required")}
	}

	start := time.Now()

	db, err := sql.Open("postgres", options.DSN)
	if err != nil {
		return nil, &PostgresStoreError{Op: "connect", Err: fmt.Errorf("failed to open database: %w", err)}
	}

	db.SetMaxOpenConns(options.MaxOpenConns)
	db.SetMaxIdleConns(options.MaxIdleConns)
	db.SetConnMaxLifetime(options.ConnMaxLifetime)
	db.SetConnMaxIdleTime(options.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, options.PingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, &PostgresStoreError{Op: "connect", Err: fmt.Errorf("failed to ping database: %w", err)}
	}

	s := NewPostgresStoreFromDB(db)
	s.stats.ConnectionTime = time.Since(start)
	return s, nil
}

// NewPostgresStoreFromDB wraps an already configured pool. The store owns db
// and closes it in Close.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Begin implements the Store interface.
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &PostgresStoreError{Op: "begin", Err: err}
	}
	return &postgresTx{store: s, tx: tx}, nil
}

// Close implements the Store interface.
func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Stats returns a copy of the current load statistics.
func (s *PostgresStore) Stats() PostgresStoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *PostgresStore) record(fn func(*PostgresStoreStats)) {
	s.mu.Lock()
	fn(&s.stats)
	s.mu.Unlock()
}

type postgresTx struct {
	store *PostgresStore
	tx    *sql.Tx
	done  bool
}

// Copy implements the Tx interface.
func (t *postgresTx) Copy(ctx context.Context, table string, columns []string, src core.DataSource) (int64, error) {
	if len(columns) == 0 {
		return 0, &PostgresStoreError{Op: "copy", Table: table, Err: fmt.Errorf("no columns")}
	}

	start := time.Now()

	stmt, err := t.tx.PrepareContext(ctx, pq.CopyIn(table, columns...))
	if err != nil {
		return 0, &PostgresStoreError{Op: "prepare_copy", Table: table, Err: err}
	}
	defer stmt.Close()

	var rows int64
	values := make([]interface{}, len(columns))
	for {
		record, err := src.Read(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return rows, &PostgresStoreError{Op: "read", Table: table, Err: err}
		}
		for i, col := range columns {
			values[i] = convertValue(record[col])
		}
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			return rows, &PostgresStoreError{Op: "copy", Table: table, Err: err}
		}
		rows++
	}

	// An Exec without arguments ends the COPY and reports server-side errors.
	if _, err := stmt.ExecContext(ctx); err != nil {
		return rows, &PostgresStoreError{Op: "copy_end", Table: table, Err: err}
	}

	t.store.record(func(st *PostgresStoreStats) {
		st.RowsCopied += rows
		st.TablesCopied++
		st.CopyDuration += time.Since(start)
	})
	return rows, nil
}

// Commit implements the Tx interface.
func (t *postgresTx) Commit() error {
	if t.done {
		return &PostgresStoreError{Op: "commit", Err: sql.ErrTxDone}
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return &PostgresStoreError{Op: "commit", Err: err}
	}
	t.store.record(func(st *PostgresStoreStats) { st.TransactionCount++ })
	return nil
}

// Rollback implements the Tx interface.
func (t *postgresTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return &PostgresStoreError{Op: "rollback", Err: err}
	}
	t.store.record(func(st *PostgresStoreStats) { st.RollbackCount++ })
	return nil
}

// convertValue maps record values onto what the COPY protocol accepts.
// Empty text is sent as NULL.
func convertValue(value interface{}) interface{} {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		return v
	case time.Time, bool, int64, float64, []byte:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
