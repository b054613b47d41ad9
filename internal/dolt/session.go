package dolt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/rohankatakam/memorybank/internal/errors"
	"github.com/rohankatakam/memorybank/internal/logging"
)

// Session is a single pinned connection bound to one branch. All operations
// on a session serialize through its mutex, which is what keeps one writer
// per branch. The bound branch never changes; switching branches means
// switching sessions.
type Session struct {
	mu     sync.Mutex
	client *Client
	branch string
	conn   *sqlx.Conn
	logger *slog.Logger
}

func newSession(ctx context.Context, client *Client, branch string) (*Session, error) {
	s := &Session{
		client: client,
		branch: branch,
		logger: logging.Component("dolt-session").With("branch", branch),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connectLocked(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Branch returns the branch this session is bound to.
func (s *Session) Branch() string { return s.branch }

// Read runs fn on the pinned connection after verifying the active branch.
// A connection failure reconnects, restores the branch, and retries fn once.
func (s *Session) Read(ctx context.Context, fn func(Execer) error) error {
	return s.run(ctx, fn, false)
}

// Write is Read plus working-set hygiene: a failed callback discards any
// half-applied statements with DOLT_RESET so the next operation starts from
// a clean working set.
func (s *Session) Write(ctx context.Context, fn func(Execer) error) error {
	return s.run(ctx, fn, true)
}

func (s *Session) run(ctx context.Context, fn func(Execer) error, isWrite bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLocked(ctx); err != nil {
		return err
	}

	err := fn(s.conn)
	if err == nil {
		return nil
	}
	if !errors.IsConnectionError(err) {
		if isWrite {
			s.discardLocked(ctx)
		}
		return s.failLocked(mapError(err, "backend operation"))
	}
	if ctx.Err() != nil {
		return mapError(err, "backend operation")
	}

	// One reconnect-and-retry, restoring the branch first.
	s.logger.Warn("connection lost, reconnecting", "error", err)
	if rerr := s.reconnectLocked(ctx); rerr != nil {
		return rerr
	}
	if isWrite {
		if rerr := s.discardLocked(ctx); rerr != nil {
			return errors.Wrap(rerr, errors.KindConnectionError,
				"could not clear working set before retry")
		}
	}
	if err := fn(s.conn); err != nil {
		if isWrite && !errors.IsConnectionError(err) {
			s.discardLocked(ctx)
		}
		return s.failLocked(mapError(err, "backend operation (after reconnect)"))
	}
	s.logger.Info("operation recovered after reconnect")
	return nil
}

// failLocked inspects a terminal error before surfacing it. A fatal kind
// poisons the pinned connection; the session's next operation starts from a
// fresh one.
func (s *Session) failLocked(err error) error {
	if errors.HasKind(err, errors.KindFatal) && s.conn != nil {
		s.logger.Warn("fatal error, dropping pinned connection")
		s.conn.Close()
		s.conn = nil
	}
	return err
}

// ensureLocked guarantees a live connection sitting on the bound branch.
func (s *Session) ensureLocked(ctx context.Context) error {
	if s.conn == nil {
		return s.connectLocked(ctx)
	}

	var active string
	err := s.conn.GetContext(ctx, &active, "SELECT ACTIVE_BRANCH()")
	if err != nil {
		if !errors.IsConnectionError(err) {
			return mapError(err, "verify active branch")
		}
		if rerr := s.reconnectLocked(ctx); rerr != nil {
			return rerr
		}
		return nil
	}
	if active != s.branch {
		s.logger.Warn("session drifted off its branch", "found", active)
		return s.checkoutLocked(ctx)
	}
	return nil
}

func (s *Session) connectLocked(ctx context.Context) error {
	conn, err := s.client.Conn(ctx)
	if err != nil {
		return err
	}
	s.conn = conn
	return s.checkoutLocked(ctx)
}

func (s *Session) reconnectLocked(ctx context.Context) error {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	return s.connectLocked(ctx)
}

// checkoutLocked pins the connection to the session branch. Failure here
// means the branch context cannot be restored (the branch may be gone).
func (s *Session) checkoutLocked(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, "CALL DOLT_CHECKOUT(?)", s.branch); err != nil {
		if errors.IsConnectionError(err) {
			return errors.Wrap(err, errors.KindConnectionError,
				fmt.Sprintf("checkout %q", s.branch))
		}
		return errors.Wrap(err, errors.KindBranchContextLost,
			fmt.Sprintf("cannot restore branch %q", s.branch)).
			WithDetail("branch", s.branch)
	}
	return nil
}

// discardLocked throws away uncommitted working-set changes.
func (s *Session) discardLocked(ctx context.Context) error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.ExecContext(ctx, "CALL DOLT_RESET('--hard')"); err != nil {
		s.logger.Warn("failed to discard working set", "error", err)
		return err
	}
	return nil
}

// Close releases the pinned connection.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
