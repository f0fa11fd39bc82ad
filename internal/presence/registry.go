// Package presence tracks which connection each online user is reachable on.
//
// Entries are kept as two one-way mappings in a shared Store, prefix+userID to
// connID and prefix+connID to userID. A process-local cache mirrors what this
// process wrote or read and is consulted only when the store fails.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/haasonsaas/parley/internal/observability"
)

// DefaultKeyPrefix namespaces presence keys in the shared store.
const DefaultKeyPrefix = "active:"

// Options configures a Registry.
type Options struct {
	KeyPrefix string

	// Timeout bounds every store call. A call that exceeds it is answered
	// from the cache.
	Timeout time.Duration

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Registry is the presence registry.
type Registry struct {
	store   Store
	cache   *xsync.MapOf[string, string]
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewRegistry creates a registry over store.
func NewRegistry(store Store, opts Options) *Registry {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		store:   store,
		cache:   xsync.NewMapOf[string, string](),
		prefix:  opts.KeyPrefix,
		timeout: opts.Timeout,
		logger:  opts.Logger.With("component", "presence"),
		metrics: opts.Metrics,
	}
}

func (r *Registry) key(id string) string {
	return r.prefix + id
}

// SetOnline maps userID to connID in both directions, replacing any earlier
// connection of the user. The cache is updated even when the store write fails.
func (r *Registry) SetOnline(ctx context.Context, userID, connID string) error {
	userKey, connKey := r.key(userID), r.key(connID)
	r.cache.Store(userKey, connID)
	r.cache.Store(connKey, userID)

	err := r.call(ctx, "set", func(ctx context.Context) error {
		if err := r.store.Set(ctx, userKey, connID); err != nil {
			return err
		}
		return r.store.Set(ctx, connKey, userID)
	})
	if err != nil {
		return fmt.Errorf("set presence for %s: %w", userID, err)
	}
	return nil
}

// Lookup resolves a user id to its connection id, or a connection id to its
// user id. The boolean is false when the id is not present.
func (r *Registry) Lookup(ctx context.Context, id string) (string, bool) {
	if id == "" {
		return "", false
	}
	key := r.key(id)

	var value string
	err := r.call(ctx, "get", func(ctx context.Context) error {
		v, err := r.store.Get(ctx, key)
		value = v
		return err
	})
	switch {
	case err == nil:
		r.cache.Store(key, value)
		r.metrics.PresenceLookup("store", true)
		return value, true
	case errors.Is(err, ErrNotFound):
		r.cache.Delete(key)
		r.metrics.PresenceLookup("store", false)
		return "", false
	}

	cached, ok := r.cache.Load(key)
	r.metrics.PresenceLookup("cache", ok)
	r.logger.DebugContext(ctx, "presence lookup served from cache", "key", key, "hit", ok, "error", err)
	return cached, ok
}

// ConnForUser returns the user's current connection.
func (r *Registry) ConnForUser(ctx context.Context, userID string) (string, bool) {
	return r.Lookup(ctx, userID)
}

// UserForConn returns the user attached to a connection.
func (r *Registry) UserForConn(ctx context.Context, connID string) (string, bool) {
	return r.Lookup(ctx, connID)
}

// IsCurrent reports whether connID is still the user's active connection.
func (r *Registry) IsCurrent(ctx context.Context, userID, connID string) bool {
	current, ok := r.Lookup(ctx, userID)
	return ok && current == connID
}

// Clear removes the connection's entry and the user's entry if it still
// points at connID. It reports whether the user entry was removed, which is
// false when the user has since reconnected elsewhere.
func (r *Registry) Clear(ctx context.Context, connID, userID string) bool {
	connKey := r.key(connID)
	r.cache.Delete(connKey)
	if err := r.call(ctx, "delete", func(ctx context.Context) error {
		return r.store.Delete(ctx, connKey)
	}); err != nil {
		r.logger.WarnContext(ctx, "failed to delete connection presence", "key", connKey, "error", err)
	}
	if userID == "" {
		return false
	}

	userKey := r.key(userID)
	r.cache.Compute(userKey, func(old string, loaded bool) (string, bool) {
		return old, !loaded || old == connID
	})

	var removed bool
	err := r.call(ctx, "compare_and_delete", func(ctx context.Context) error {
		ok, err := r.store.CompareAndDelete(ctx, userKey, connID)
		removed = ok
		return err
	})
	if err != nil {
		r.logger.WarnContext(ctx, "failed to delete user presence", "key", userKey, "error", err)
	}
	return removed
}

// call runs fn with the store timeout. It returns once fn finishes or the
// timeout elapses, whichever comes first, so a store that ignores its context
// cannot stall the caller.
func (r *Registry) call(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("presence store %s: %w", op, ctx.Err())
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		r.metrics.PresenceStoreError(op)
	}
	return err
}
