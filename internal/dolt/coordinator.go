package dolt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/rohankatakam/memorybank/internal/config"
	"github.com/rohankatakam/memorybank/internal/errors"
	"github.com/rohankatakam/memorybank/internal/logging"
)

// Coordinator owns the connection topology: one pinned session per branch
// (capped, least-recently-used eviction) plus the shared ephemeral pool. One
// branch is "active" at a time; branch-sensitive operations route to its
// session.
type Coordinator struct {
	client *Client
	cfg    *config.Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	lru      []string
	active   string

	stopHealth chan struct{}
	healthWG   sync.WaitGroup
}

// NewCoordinator connects to the backend and pins a session on the default
// branch. Construction fails fast if the backend is unreachable.
func NewCoordinator(ctx context.Context, cfg *config.Config) (*Coordinator, error) {
	client, err := NewClient(ctx, cfg.Backend, cfg.Pool)
	if err != nil {
		return nil, err
	}

	co := &Coordinator{
		client:     client,
		cfg:        cfg,
		logger:     logging.Component("dolt-coordinator"),
		sessions:   make(map[string]*Session),
		active:     cfg.Branch.Default,
		stopHealth: make(chan struct{}),
	}
	if _, err := co.session(ctx, co.active); err != nil {
		client.Close()
		return nil, err
	}

	co.logger.Info("coordinator ready",
		"host", cfg.Backend.Host, "database", cfg.Backend.Database, "branch", co.active)
	return co, nil
}

// session returns the pinned session for branch, creating and caching it.
func (co *Coordinator) session(ctx context.Context, branch string) (*Session, error) {
	co.mu.Lock()
	if s, ok := co.sessions[branch]; ok {
		co.touchLocked(branch)
		co.mu.Unlock()
		return s, nil
	}
	co.evictLocked()
	co.mu.Unlock()

	// Dial outside the lock; losing a race just builds one extra session.
	s, err := newSession(ctx, co.client, branch)
	if err != nil {
		return nil, err
	}

	co.mu.Lock()
	defer co.mu.Unlock()
	if existing, ok := co.sessions[branch]; ok {
		s.Close()
		co.touchLocked(branch)
		return existing, nil
	}
	co.sessions[branch] = s
	co.lru = append(co.lru, branch)
	return s, nil
}

func (co *Coordinator) touchLocked(branch string) {
	for i, b := range co.lru {
		if b == branch {
			co.lru = append(append(co.lru[:i:i], co.lru[i+1:]...), branch)
			return
		}
	}
	co.lru = append(co.lru, branch)
}

// evictLocked closes the least-recently-used session once the cap is hit.
// The active branch is never evicted.
func (co *Coordinator) evictLocked() {
	max := co.cfg.Pool.PersistentMax
	if max < 1 || len(co.sessions) < max {
		return
	}
	for i, branch := range co.lru {
		if branch == co.active {
			continue
		}
		if s, ok := co.sessions[branch]; ok {
			s.Close()
			delete(co.sessions, branch)
		}
		co.lru = append(co.lru[:i], co.lru[i+1:]...)
		co.logger.Debug("evicted idle branch session", "branch", branch)
		return
	}
}

// Active returns the session for the active branch.
func (co *Coordinator) Active() *Session {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.sessions[co.active]
}

// ActiveBranch returns the branch name current operations land on.
func (co *Coordinator) ActiveBranch() string {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.active
}

// Checkout makes branch the active one, pinning a session for it first. The
// branch must already exist.
func (co *Coordinator) Checkout(ctx context.Context, branch string) error {
	exists, err := co.BranchExists(ctx, branch)
	if err != nil {
		return err
	}
	if !exists {
		return errors.New(errors.KindNotFound,
			fmt.Sprintf("branch %q does not exist", branch)).
			WithDetail("branch", branch)
	}
	if _, err := co.session(ctx, branch); err != nil {
		return err
	}

	co.mu.Lock()
	prev := co.active
	co.active = branch
	co.touchLocked(branch)
	co.mu.Unlock()

	if prev != branch {
		co.logger.Info("active branch switched", "from", prev, "to", branch)
	}
	return nil
}

// Session exposes the pinned session for an arbitrary branch without
// changing the active one.
func (co *Coordinator) Session(ctx context.Context, branch string) (*Session, error) {
	return co.session(ctx, branch)
}

// Ephemeral returns the shared pool for branch-agnostic reads.
func (co *Coordinator) Ephemeral() *sqlx.DB {
	return co.client.DB()
}

// BranchExists consults dolt_branches through the ephemeral pool.
func (co *Coordinator) BranchExists(ctx context.Context, branch string) (bool, error) {
	var n int
	err := co.client.DB().GetContext(ctx, &n,
		"SELECT COUNT(*) FROM dolt_branches WHERE name = ?", branch)
	if err != nil {
		return false, mapError(err, "check branch existence")
	}
	return n > 0, nil
}

// Health describes coordinator state for the health tool.
type Health struct {
	Healthy      bool   `json:"healthy"`
	ActiveBranch string `json:"active_branch"`
	Dirty        bool   `json:"dirty"`
	Sessions     int    `json:"sessions"`
	Error        string `json:"error,omitempty"`
}

// Health pings the pool and verifies the active session still sits on its
// branch.
func (co *Coordinator) Health(ctx context.Context) Health {
	co.mu.Lock()
	h := Health{ActiveBranch: co.active, Sessions: len(co.sessions)}
	co.mu.Unlock()

	if err := co.client.Ping(ctx); err != nil {
		h.Error = err.Error()
		return h
	}

	err := co.Active().Read(ctx, func(e Execer) error {
		return queryDirty(ctx, e, &h.Dirty)
	})
	if err != nil {
		h.Error = err.Error()
		return h
	}
	h.Healthy = true
	return h
}

// StartHealthLoop pings the backend on an interval until Close.
func (co *Coordinator) StartHealthLoop(interval time.Duration) {
	if interval <= 0 {
		return
	}
	co.healthWG.Add(1)
	go func() {
		defer co.healthWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-co.stopHealth:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				h := co.Health(ctx)
				cancel()
				if !h.Healthy {
					co.logger.Warn("health check failed", "error", h.Error)
				}
			}
		}
	}()
}

// Close stops the health loop and releases every connection.
func (co *Coordinator) Close() error {
	close(co.stopHealth)
	co.healthWG.Wait()

	co.mu.Lock()
	for branch, s := range co.sessions {
		s.Close()
		delete(co.sessions, branch)
	}
	co.lru = nil
	co.mu.Unlock()

	return co.client.Close()
}
