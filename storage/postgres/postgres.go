//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

// Package postgres provides the PostgreSQL client used by the catalog and
// session stores, plus the instance info management.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// Register the pgx database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"
)

func init() {
	postgresRegistry = make(map[string][]ClientBuilderOpt)
}

var postgresRegistry map[string][]ClientBuilderOpt

// HandlerFunc processes the rows returned by a query.
type HandlerFunc func(rows *sql.Rows) error

// TxFunc runs inside a transaction.
type TxFunc func(tx *sql.Tx) error

// Client is the narrow postgres surface the stores depend on. Production
// code wraps *sql.DB; tests substitute sqlmock-backed implementations.
type Client interface {
	// ExecContext executes a statement that returns no rows.
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	// Query runs a row-returning query and hands the rows to handler. The
	// rows are closed when handler returns.
	Query(ctx context.Context, handler HandlerFunc, query string, args ...any) error
	// Transaction runs fn inside a transaction, committing when fn returns
	// nil and rolling back otherwise.
	Transaction(ctx context.Context, fn TxFunc) error
	// Ping verifies the database is reachable.
	Ping(ctx context.Context) error
	// Close releases the underlying pool.
	Close() error
}

// ClientBuilder builds a postgres Client.
type ClientBuilder func(ctx context.Context, builderOpts ...ClientBuilderOpt) (Client, error)

var globalBuilder ClientBuilder = DefaultClientBuilder

// SetClientBuilder sets the postgres client builder.
func SetClientBuilder(builder ClientBuilder) {
	globalBuilder = builder
}

// GetClientBuilder gets the postgres client builder.
func GetClientBuilder() ClientBuilder {
	return globalBuilder
}

// DefaultClientBuilder is the default postgres client builder. It opens a
// database/sql pool through the pgx stdlib driver; connections are
// established lazily on first use.
func DefaultClientBuilder(ctx context.Context, builderOpts ...ClientBuilderOpt) (Client, error) {
	o := &ClientBuilderOpts{}
	for _, opt := range builderOpts {
		opt(o)
	}

	if o.ConnString == "" {
		return nil, errors.New("postgres: connection string is empty")
	}

	db, err := sql.Open("pgx", o.ConnString)
	if err != nil {
		return nil, fmt.Errorf("postgres: open connection failed: %w", err)
	}

	if o.MaxIdleConns > 0 {
		db.SetMaxIdleConns(o.MaxIdleConns)
	}
	if o.MaxOpenConns > 0 {
		db.SetMaxOpenConns(o.MaxOpenConns)
	}
	if o.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(o.ConnMaxLifetime)
	}
	if o.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(o.ConnMaxIdleTime)
	}

	return NewClient(db), nil
}

// NewClient wraps an existing *sql.DB as a Client.
func NewClient(db *sql.DB) Client {
	return &client{db: db}
}

type client struct {
	db *sql.DB
}

func (c *client) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.db.ExecContext(ctx, query, args...)
}

func (c *client) Query(ctx context.Context, handler HandlerFunc, query string, args ...any) error {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	if err := handler(rows); err != nil {
		return err
	}
	return rows.Err()
}

func (c *client) Transaction(ctx context.Context, fn TxFunc) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback failed: %s)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

func (c *client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *client) Close() error {
	return c.db.Close()
}

// ClientBuilderOpt is the option for the postgres client.
type ClientBuilderOpt func(*ClientBuilderOpts)

// ClientBuilderOpts is the options for the postgres client.
type ClientBuilderOpts struct {
	// ConnString is the postgres connection string, URL or key=value form.
	ConnString string

	// Connection pool settings.
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// ExtraOptions is the extra options for the postgres client.
	// This option is mainly used for customized client builders.
	ExtraOptions []any
}

// WithClientConnString sets the postgres connection string for clientBuilder.
func WithClientConnString(connString string) ClientBuilderOpt {
	return func(opts *ClientBuilderOpts) {
		opts.ConnString = connString
	}
}

// WithMaxIdleConns sets the maximum number of idle connections in the pool.
func WithMaxIdleConns(n int) ClientBuilderOpt {
	return func(opts *ClientBuilderOpts) {
		opts.MaxIdleConns = n
	}
}

// WithMaxOpenConns sets the maximum number of open connections to the database.
func WithMaxOpenConns(n int) ClientBuilderOpt {
	return func(opts *ClientBuilderOpts) {
		opts.MaxOpenConns = n
	}
}

// WithConnMaxLifetime sets the maximum amount of time a connection may be reused.
func WithConnMaxLifetime(d time.Duration) ClientBuilderOpt {
	return func(opts *ClientBuilderOpts) {
		opts.ConnMaxLifetime = d
	}
}

// WithConnMaxIdleTime sets the maximum amount of time a connection may be idle.
func WithConnMaxIdleTime(d time.Duration) ClientBuilderOpt {
	return func(opts *ClientBuilderOpts) {
		opts.ConnMaxIdleTime = d
	}
}

// WithExtraOptions sets the postgres client extra options for clientBuilder.
// This option is mainly used for customized client builders; it is passed
// through to the builder untouched.
func WithExtraOptions(extraOptions ...any) ClientBuilderOpt {
	return func(opts *ClientBuilderOpts) {
		opts.ExtraOptions = append(opts.ExtraOptions, extraOptions...)
	}
}

// RegisterPostgresInstance registers a postgres instance options.
func RegisterPostgresInstance(name string, opts ...ClientBuilderOpt) {
	postgresRegistry[name] = append(postgresRegistry[name], opts...)
}

// GetPostgresInstance gets the postgres instance options.
func GetPostgresInstance(name string) ([]ClientBuilderOpt, bool) {
	if _, ok := postgresRegistry[name]; !ok {
		return nil, false
	}
	return postgresRegistry[name], true
}
