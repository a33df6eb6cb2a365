package database

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nfrund/duochat/internal/config"
	"github.com/nfrund/duochat/internal/domain"
	"github.com/nfrund/duochat/internal/metrics"
	"github.com/surrealdb/surrealdb.go"
)

const healthInterval = 30 * time.Second

// backoff spaces out redial attempts after the store loses its session.
type backoff struct {
	attempts int
	base     time.Duration
	max      time.Duration
}

var defaultBackoff = backoff{attempts: 4, base: 100 * time.Millisecond, max: 5 * time.Second}

// delay returns the wait before redial attempt n, doubled per attempt and
// capped at max, plus jitter in [0, 0.25) of the result.
func (b backoff) delay(n int, jitter float64) time.Duration {
	d := float64(b.base) * math.Pow(2, float64(n))
	if d > float64(b.max) {
		d = float64(b.max)
	}
	return time.Duration(d + d*0.25*jitter)
}

type (
	dialFunc  func(ctx context.Context) (*surrealdb.DB, error)
	closeFunc func(ctx context.Context, db *surrealdb.DB) error
)

// connection owns the SurrealDB session behind a SurrealStore. Statements
// that fail with a transport error trigger a redial and one more try; an
// outage that outlasts the backoff surfaces as domain.ErrStoreUnavailable.
type connection struct {
	endpoint string
	dial     dialFunc
	hangUp   closeFunc
	backoff  backoff
	logger   *slog.Logger

	mu sync.RWMutex
	db *surrealdb.DB

	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(cfg config.Provider) *connection {
	c := &connection{
		endpoint: redactDBURL(cfg.GetDBURL()),
		backoff:  defaultBackoff,
		logger:   slog.Default().With("service", "storage", "driver", "surreal"),
		done:     make(chan struct{}),
	}
	c.dial = func(ctx context.Context) (*surrealdb.DB, error) { return dialSurreal(ctx, cfg) }
	c.hangUp = func(ctx context.Context, db *surrealdb.DB) error { return db.Close(ctx) }
	return c
}

// dialSurreal opens a session, signs in and selects the namespace.
func dialSurreal(ctx context.Context, cfg config.Provider) (*surrealdb.DB, error) {
	db, err := surrealdb.FromEndpointURLString(ctx, cfg.GetDBURL())
	if err != nil {
		return nil, NewDBError(errors.Join(ErrNotConnected, err), "connect")
	}
	if cfg.GetDBUser() != "" {
		if _, err := db.SignIn(ctx, &surrealdb.Auth{Username: cfg.GetDBUser(), Password: cfg.GetDBPass()}); err != nil {
			db.Close(ctx)
			return nil, NewDBError(errors.Join(ErrNotConnected, err), "sign in as "+cfg.GetDBUser())
		}
	}
	if err := db.Use(ctx, cfg.GetDBNs(), cfg.GetDBDb()); err != nil {
		db.Close(ctx)
		return nil, NewDBError(errors.Join(ErrNotConnected, err), "use "+cfg.GetDBNs()+"/"+cfg.GetDBDb())
	}
	return db, nil
}

// open dials once. Startup does not retry: a store that cannot be reached at
// boot is a configuration problem.
func (c *connection) open(ctx context.Context) error {
	db, err := c.dial(ctx)
	if err != nil {
		setHealthy(false)
		return domain.Unavailable("surreal.connect", err)
	}
	c.mu.Lock()
	c.db = db
	c.mu.Unlock()
	setHealthy(true)
	c.logger.DebugContext(ctx, "SurrealDB session established", "db_url", c.endpoint)
	return nil
}

// run executes fn against the current session. A transport failure redials
// with backoff and retries fn on the fresh session.
func (c *connection) run(ctx context.Context, fn func(*surrealdb.DB) error) error {
	db := c.session()
	if db == nil {
		return domain.Unavailable("surreal.run", NewDBError(ErrNotConnected, "no session"))
	}
	err := fn(db)
	if err == nil || !isConnectionError(err) {
		return err
	}
	if ctx.Err() != nil {
		return domain.Unavailable("surreal.run", err)
	}

	setHealthy(false)
	c.logger.WarnContext(ctx, "SurrealDB statement lost its session, redialing", "error", err, "db_url", c.endpoint)
	fresh, rerr := c.reconnect(ctx, db)
	if rerr != nil {
		return rerr
	}
	return fn(fresh)
}

// reconnect replaces stale with a new session. When another caller has
// already swapped the session, that one is reused.
func (c *connection) reconnect(ctx context.Context, stale *surrealdb.DB) (*surrealdb.DB, error) {
	var lastErr error
	for n := 0; n < c.backoff.attempts; n++ {
		if n > 0 {
			select {
			case <-ctx.Done():
				return nil, domain.Unavailable("surreal.reconnect", errors.Join(ctx.Err(), lastErr))
			case <-c.done:
				return nil, domain.Unavailable("surreal.reconnect", NewDBError(ErrNotConnected, "connection closed"))
			case <-time.After(c.backoff.delay(n-1, rand.Float64())):
			}
		}

		c.mu.Lock()
		if c.db != nil && c.db != stale {
			db := c.db
			c.mu.Unlock()
			return db, nil
		}
		select {
		case <-c.done:
			c.mu.Unlock()
			return nil, domain.Unavailable("surreal.reconnect", NewDBError(ErrNotConnected, "connection closed"))
		default:
		}
		db, err := c.dial(ctx)
		if err != nil {
			c.mu.Unlock()
			lastErr = err
			metrics.StoreReconnects.WithLabelValues(metrics.ResultFailed).Inc()
			c.logger.DebugContext(ctx, "SurrealDB redial failed", "attempt", n+1, "max_attempts", c.backoff.attempts, "error", err)
			continue
		}
		if c.db != nil {
			_ = c.hangUp(context.WithoutCancel(ctx), c.db)
		}
		c.db = db
		c.mu.Unlock()

		metrics.StoreReconnects.WithLabelValues(metrics.ResultOK).Inc()
		setHealthy(true)
		c.logger.InfoContext(ctx, "SurrealDB session restored", "attempt", n+1, "db_url", c.endpoint)
		return db, nil
	}
	c.logger.ErrorContext(ctx, "SurrealDB unreachable after redial attempts", "attempts", c.backoff.attempts, "error", lastErr, "db_url", c.endpoint)
	return nil, domain.Unavailable("surreal.reconnect", lastErr)
}

// checkHealth asks the server for its version.
func (c *connection) checkHealth(ctx context.Context) error {
	db := c.session()
	if db == nil {
		setHealthy(false)
		return domain.Unavailable("surreal.health", NewDBError(ErrNotConnected, "no session"))
	}
	if _, err := db.Version(ctx); err != nil {
		setHealthy(false)
		return domain.Unavailable("surreal.health", err)
	}
	setHealthy(true)
	return nil
}

// monitor checks health periodically and redials a failed session until
// close is called.
func (c *connection) monitor() {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := c.checkHealth(ctx); err != nil {
				c.logger.WarnContext(ctx, "SurrealDB health check failed", "error", err, "db_url", c.endpoint)
				_, _ = c.reconnect(ctx, c.session())
			}
			cancel()
		case <-c.done:
			return
		}
	}
}

// close stops monitoring and closes the session. Safe to call twice.
func (c *connection) close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.db != nil {
			err = c.hangUp(ctx, c.db)
			c.db = nil
		}
		setHealthy(false)
	})
	return err
}

func (c *connection) session() *surrealdb.DB {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.db
}

func setHealthy(healthy bool) {
	if healthy {
		metrics.StoreHealthy.Set(1)
	} else {
		metrics.StoreHealthy.Set(0)
	}
}

// isConnectionError reports whether err means the session itself is gone,
// as opposed to a statement the server rejected.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotConnected) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "unexpected eof") ||
		strings.Contains(msg, "use of closed network connection")
}

// redactDBURL hides the password in dbURL.
func redactDBURL(dbURL string) string {
	u, err := url.Parse(dbURL)
	if err != nil {
		return "invalid-url"
	}
	return u.Redacted()
}
