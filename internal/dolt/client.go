// Package dolt talks to the versioned SQL backend over the MySQL wire
// protocol. A Coordinator owns branch-pinned sessions for branch-sensitive
// work plus a shared ephemeral pool for branch-agnostic reads.
package dolt

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/rohankatakam/memorybank/internal/config"
	"github.com/rohankatakam/memorybank/internal/errors"
	"github.com/rohankatakam/memorybank/internal/logging"
)

// Execer is the statement surface handed to session callbacks. *sqlx.Conn
// satisfies it.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row
}

// Client wraps the ephemeral connection pool.
type Client struct {
	db     *sqlx.DB
	cfg    config.BackendConfig
	logger *slog.Logger
}

// NewClient opens the ephemeral pool and verifies connectivity. Connection
// failures surface immediately rather than on first use.
func NewClient(ctx context.Context, backend config.BackendConfig, pool config.PoolConfig) (*Client, error) {
	db, err := sqlx.Open("mysql", backend.DSN())
	if err != nil {
		return nil, errors.Wrap(err, errors.KindConnectionError, "open backend pool")
	}

	db.SetMaxOpenConns(pool.EphemeralMax)
	db.SetMaxIdleConns(pool.EphemeralMax / 4)
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if pool.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.KindConnectionError,
			fmt.Sprintf("backend unreachable at %s:%d", backend.Host, backend.Port))
	}

	return &Client{
		db:     db,
		cfg:    backend,
		logger: logging.Component("dolt-client"),
	}, nil
}

// DB exposes the ephemeral pool for branch-agnostic reads.
func (c *Client) DB() *sqlx.DB { return c.db }

// Database returns the backing database name, used to build revision-
// qualified table references like `db/branch`.dolt_status.
func (c *Client) Database() string { return c.cfg.Database }

// Conn pins one connection out of the pool. Acquisition waits for a free
// slot until the caller's deadline.
func (c *Client) Conn(ctx context.Context) (*sqlx.Conn, error) {
	conn, err := c.db.Connx(ctx)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			return nil, errors.Wrap(err, errors.KindConnectionError,
				"connection pool saturated, no slot freed before the deadline").
				WithDetail("reason", "saturated")
		}
		return nil, errors.Wrap(err, errors.KindConnectionError, "acquire backend connection")
	}
	return conn, nil
}

// Ping checks pool connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return errors.Wrap(err, errors.KindConnectionError, "backend ping failed")
	}
	return nil
}

// Close shuts the pool down.
func (c *Client) Close() error {
	return c.db.Close()
}

// mapError classifies a backend error into the service taxonomy. Already
// classified errors pass through untouched.
func mapError(err error, op string) error {
	if err == nil {
		return nil
	}
	var classified *errors.Error
	if stderrors.As(err, &classified) {
		return err
	}
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.Wrap(err, errors.KindNotFound, op)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, errors.KindConnectionError, op+": deadline exceeded")
	}
	if stderrors.Is(err, context.Canceled) {
		return errors.Wrap(err, errors.KindConnectionError, op+": canceled")
	}

	var my *mysql.MySQLError
	if stderrors.As(err, &my) {
		switch my.Number {
		case 1062:
			return errors.Wrap(err, errors.KindDuplicate, op).
				WithDetail("mysql_error", int(my.Number))
		case 1452:
			return errors.Wrap(err, errors.KindNotFound, op+": referenced row does not exist").
				WithDetail("mysql_error", int(my.Number))
		case 1451:
			return errors.Wrap(err, errors.KindValidation, op+": row is still referenced").
				WithDetail("mysql_error", int(my.Number))
		case 1146:
			return errors.Wrap(err, errors.KindFatal, op+": table missing, run bootstrap").
				WithDetail("mysql_error", int(my.Number))
		case 1406:
			return errors.Wrap(err, errors.KindValidation, op+": value too long").
				WithDetail("mysql_error", int(my.Number))
		}
		// Dolt reports merge conflicts and constraint violations as plain
		// server errors; let the text drive classification.
		msg := strings.ToLower(my.Message)
		if strings.Contains(msg, "conflict") || strings.Contains(msg, "merge") {
			return errors.Wrap(err, errors.KindCommitFailed, op).
				WithDetail("mysql_error", int(my.Number))
		}
		return errors.Wrap(err, errors.KindFatal, op).
			WithDetail("mysql_error", int(my.Number))
	}

	if errors.IsConnectionError(err) {
		return errors.Wrap(err, errors.KindConnectionError, op)
	}
	return errors.Wrap(err, errors.KindFatal, op)
}
