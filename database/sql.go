package database

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/gaborage/querytap/connreg"
	"github.com/gaborage/querytap/events"
)

// tracker publishes one query event per statement run through it.
type tracker struct {
	pub events.Publisher
	id  connreg.ID
}

func (t tracker) query(ctx context.Context, query string, run func() (*sql.Rows, error)) (*sql.Rows, error) {
	start := time.Now()
	rows, err := run()
	publish(ctx, t.pub, query, t.id, start, time.Now())
	return rows, err
}

func (t tracker) exec(ctx context.Context, query string, run func() (sql.Result, error)) (sql.Result, error) {
	start := time.Now()
	result, err := run()
	publish(ctx, t.pub, query, t.id, start, time.Now())
	return result, err
}

// row defers the event until the row is read, since sql.Row runs lazily.
func (t tracker) row(ctx context.Context, query string, run func() *sql.Row) *Row {
	start := time.Now()
	return wrapRow(run(), func() {
		publish(ctx, t.pub, query, t.id, start, time.Now())
	})
}

func (t tracker) stmt(st *sql.Stmt, query string) *Stmt {
	return &Stmt{Stmt: st, query: query, tracker: t}
}

// DB wraps sql.DB and publishes a query event for every statement it runs.
type DB struct {
	*sql.DB
	tracker
	registry *connreg.Registry
}

// NewDB wraps db. When registry is non-nil the connection is attached under
// cfg so subscribers can resolve it.
func NewDB(db *sql.DB, pub events.Publisher, registry *connreg.Registry, cfg connreg.Config) *DB {
	w := &DB{DB: db, tracker: tracker{pub: pub}, registry: registry}
	if registry != nil {
		w.id = registry.Attach(db, cfg)
	}
	return w
}

// ConnectionID returns the registry ID of the wrapped pool.
func (db *DB) ConnectionID() connreg.ID {
	return db.id
}

// QueryContext executes a query that returns rows.
func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.query(ctx, query, func() (*sql.Rows, error) {
		return db.DB.QueryContext(ctx, query, args...)
	})
}

// Query executes a query that returns rows.
func (db *DB) Query(query string, args ...any) (*sql.Rows, error) {
	return db.QueryContext(context.Background(), query, args...)
}

// QueryRowContext executes a query expected to return at most one row. The
// event is published when the row is scanned.
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *Row {
	return db.row(ctx, query, func() *sql.Row {
		return db.DB.QueryRowContext(ctx, query, args...)
	})
}

// QueryRow executes a query expected to return at most one row.
func (db *DB) QueryRow(query string, args ...any) *Row {
	return db.QueryRowContext(context.Background(), query, args...)
}

// ExecContext executes a query without returning rows.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.exec(ctx, query, func() (sql.Result, error) {
		return db.DB.ExecContext(ctx, query, args...)
	})
}

// Exec executes a query without returning rows.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	return db.ExecContext(context.Background(), query, args...)
}

// PrepareContext creates a prepared statement whose executions are published.
// Preparing itself publishes nothing.
func (db *DB) PrepareContext(ctx context.Context, query string) (*Stmt, error) {
	st, err := db.DB.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return db.stmt(st, query), nil
}

// Prepare creates a prepared statement whose executions are published.
func (db *DB) Prepare(query string) (*Stmt, error) {
	return db.PrepareContext(context.Background(), query)
}

// BeginTx starts a transaction whose statements are also published.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := db.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{Tx: tx, tracker: db.tracker}, nil
}

// Begin starts a transaction whose statements are also published.
func (db *DB) Begin() (*Tx, error) {
	return db.BeginTx(context.Background(), nil)
}

// Conn returns a single connection whose statements are also published.
func (db *DB) Conn(ctx context.Context) (*Conn, error) {
	c, err := db.DB.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &Conn{Conn: c, tracker: db.tracker}, nil
}

// Close detaches the pool from the registry and closes it.
func (db *DB) Close() error {
	if db.registry != nil {
		db.registry.Detach(db.DB)
	}
	return db.DB.Close()
}

// Conn wraps sql.Conn and publishes a query event for every statement it runs.
type Conn struct {
	*sql.Conn
	tracker
}

// QueryContext executes a query that returns rows on the connection.
func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.query(ctx, query, func() (*sql.Rows, error) {
		return c.Conn.QueryContext(ctx, query, args...)
	})
}

// QueryRowContext executes a single row query on the connection.
func (c *Conn) QueryRowContext(ctx context.Context, query string, args ...any) *Row {
	return c.row(ctx, query, func() *sql.Row {
		return c.Conn.QueryRowContext(ctx, query, args...)
	})
}

// ExecContext executes a query without returning rows on the connection.
func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.exec(ctx, query, func() (sql.Result, error) {
		return c.Conn.ExecContext(ctx, query, args...)
	})
}

// PrepareContext creates a prepared statement on the connection.
func (c *Conn) PrepareContext(ctx context.Context, query string) (*Stmt, error) {
	st, err := c.Conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return c.stmt(st, query), nil
}

// BeginTx starts a transaction on the connection.
func (c *Conn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := c.Conn.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{Tx: tx, tracker: c.tracker}, nil
}

// Tx wraps sql.Tx and publishes a query event for every statement it runs.
type Tx struct {
	*sql.Tx
	tracker
}

// QueryContext executes a query that returns rows within the transaction.
func (tx *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return tx.query(ctx, query, func() (*sql.Rows, error) {
		return tx.Tx.QueryContext(ctx, query, args...)
	})
}

// Query executes a query that returns rows within the transaction.
func (tx *Tx) Query(query string, args ...any) (*sql.Rows, error) {
	return tx.QueryContext(context.Background(), query, args...)
}

// QueryRowContext executes a single row query within the transaction.
func (tx *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *Row {
	return tx.row(ctx, query, func() *sql.Row {
		return tx.Tx.QueryRowContext(ctx, query, args...)
	})
}

// QueryRow executes a single row query within the transaction.
func (tx *Tx) QueryRow(query string, args ...any) *Row {
	return tx.QueryRowContext(context.Background(), query, args...)
}

// ExecContext executes a query without returning rows within the transaction.
func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.exec(ctx, query, func() (sql.Result, error) {
		return tx.Tx.ExecContext(ctx, query, args...)
	})
}

// Exec executes a query without returning rows within the transaction.
func (tx *Tx) Exec(query string, args ...any) (sql.Result, error) {
	return tx.ExecContext(context.Background(), query, args...)
}

// PrepareContext creates a prepared statement for use within the transaction.
func (tx *Tx) PrepareContext(ctx context.Context, query string) (*Stmt, error) {
	st, err := tx.Tx.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return tx.stmt(st, query), nil
}

// Prepare creates a prepared statement for use within the transaction.
func (tx *Tx) Prepare(query string) (*Stmt, error) {
	return tx.PrepareContext(context.Background(), query)
}

// StmtContext returns a transaction-specific copy of an existing statement.
func (tx *Tx) StmtContext(ctx context.Context, stmt *Stmt) *Stmt {
	return tx.stmt(tx.Tx.StmtContext(ctx, stmt.Stmt), stmt.query)
}

// Stmt returns a transaction-specific copy of an existing statement.
func (tx *Tx) Stmt(stmt *Stmt) *Stmt {
	return tx.StmtContext(context.Background(), stmt)
}

// Stmt wraps sql.Stmt and publishes a query event for every execution,
// carrying the SQL text it was prepared with.
type Stmt struct {
	*sql.Stmt
	tracker
	query string
}

// QueryContext executes the prepared statement as a query.
func (s *Stmt) QueryContext(ctx context.Context, args ...any) (*sql.Rows, error) {
	return s.tracker.query(ctx, s.query, func() (*sql.Rows, error) {
		return s.Stmt.QueryContext(ctx, args...)
	})
}

// Query executes the prepared statement as a query.
func (s *Stmt) Query(args ...any) (*sql.Rows, error) {
	return s.QueryContext(context.Background(), args...)
}

// QueryRowContext executes the prepared statement as a single row query.
func (s *Stmt) QueryRowContext(ctx context.Context, args ...any) *Row {
	return s.row(ctx, s.query, func() *sql.Row {
		return s.Stmt.QueryRowContext(ctx, args...)
	})
}

// QueryRow executes the prepared statement as a single row query.
func (s *Stmt) QueryRow(args ...any) *Row {
	return s.QueryRowContext(context.Background(), args...)
}

// ExecContext executes the prepared statement without returning rows.
func (s *Stmt) ExecContext(ctx context.Context, args ...any) (sql.Result, error) {
	return s.exec(ctx, s.query, func() (sql.Result, error) {
		return s.Stmt.ExecContext(ctx, args...)
	})
}

// Exec executes the prepared statement without returning rows.
func (s *Stmt) Exec(args ...any) (sql.Result, error) {
	return s.ExecContext(context.Background(), args...)
}

// Row wraps sql.Row and runs its finish callback once, on the first Scan or
// failing Err.
type Row struct {
	row    *sql.Row
	finish func()
	once   sync.Once
}

func wrapRow(row *sql.Row, finish func()) *Row {
	return &Row{row: row, finish: finish}
}

// Scan copies the columns of the row into dest.
func (r *Row) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	r.done()
	return err
}

// Err returns the error, if any, that was encountered running the query.
func (r *Row) Err() error {
	err := r.row.Err()
	if err != nil {
		r.done()
	}
	return err
}

func (r *Row) done() {
	r.once.Do(r.finish)
}
