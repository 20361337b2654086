package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Pruner removes transcript entries older than a retention period.
type Pruner interface {
	PruneTranscripts(ctx context.Context, retention time.Duration) (int64, error)
}

// Registry owns one Manager per session key.
type Registry struct {
	completer Completer
	recorder  Recorder
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*Manager
}

// NewRegistry creates an empty registry. recorder may be nil.
func NewRegistry(completer Completer, recorder Recorder, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		completer: completer,
		recorder:  recorder,
		logger:    logger,
		now:       time.Now,
		sessions:  make(map[string]*Manager),
	}
}

// Get returns the manager for key, creating it on first use. It counts as
// activity, so a sweep racing with the caller cannot evict the result.
func (r *Registry) Get(key string) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.sessions[key]; ok {
		m.touch(r.now())
		return m
	}
	m := NewManager(key, r.completer, r.recorder, r.logger)
	r.sessions[key] = m
	r.logger.Info("Conversation session created", "session_key", key)
	return m
}

// Lookup returns the manager for key without creating one.
func (r *Registry) Lookup(key string) (*Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.sessions[key]
	return m, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep evicts sessions idle for longer than ttl. Sessions with a pending
// turn or a connected subscriber are kept. It returns the evicted keys.
func (r *Registry) Sweep(ttl time.Duration) []string {
	cutoff := r.now().Add(-ttl)

	r.mu.Lock()
	var evicted []*Manager
	for key, m := range r.sessions {
		if m.LastActive().After(cutoff) || m.Subscribers() > 0 || m.State().Pending() {
			continue
		}
		delete(r.sessions, key)
		evicted = append(evicted, m)
	}
	r.mu.Unlock()

	keys := make([]string, 0, len(evicted))
	for _, m := range evicted {
		m.Close()
		keys = append(keys, m.Key())
	}
	return keys
}

// Close shuts down every session and waits for in-flight work.
func (r *Registry) Close() {
	r.mu.Lock()
	managers := make([]*Manager, 0, len(r.sessions))
	for key, m := range r.sessions {
		managers = append(managers, m)
		delete(r.sessions, key)
	}
	r.mu.Unlock()

	for _, m := range managers {
		m.Close()
	}
	for _, m := range managers {
		m.Wait()
	}
}

// SweeperConfig controls the background eviction worker.
type SweeperConfig struct {
	Interval  time.Duration
	TTL       time.Duration
	Retention time.Duration
	Pruner    Pruner
}

// StartSweeper runs a background goroutine that periodically evicts idle
// sessions and prunes old transcript entries until ctx is done.
func (r *Registry) StartSweeper(ctx context.Context, cfg SweeperConfig) {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	ticker := time.NewTicker(cfg.Interval)
	go func() {
		defer ticker.Stop()
		r.logger.Info("Session sweeper started", "interval", cfg.Interval, "ttl", cfg.TTL)

		for {
			select {
			case <-ticker.C:
				r.sweepOnce(ctx, cfg)
			case <-ctx.Done():
				r.logger.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (r *Registry) sweepOnce(ctx context.Context, cfg SweeperConfig) {
	if evicted := r.Sweep(cfg.TTL); len(evicted) > 0 {
		r.logger.Info("Session sweeper evicted idle sessions", "count", len(evicted))
	}

	if cfg.Pruner == nil || cfg.Retention <= 0 {
		return
	}
	deleted, err := cfg.Pruner.PruneTranscripts(ctx, cfg.Retention)
	if err != nil {
		r.logger.Error("Session sweeper failed to prune transcripts", "error", err)
		return
	}
	if deleted > 0 {
		r.logger.Info("Session sweeper pruned transcripts", "count", deleted)
	}
}
