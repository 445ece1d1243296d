package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/shopgraph/shopgraph/internal/observability"
)

// Reaper periodically deletes sessions whose timestamps have expired but
// whose keys Redis has not evicted yet. Expired sessions already read as
// absent; the reaper just reclaims the storage.
type Reaper struct {
	store    *Store
	schedule string
	logger   *slog.Logger
	cron     *cron.Cron
}

// NewReaper builds a Reaper on the given store. schedule is a cron spec,
// e.g. "@every 15m".
func NewReaper(store *Store, schedule string, logger *slog.Logger) *Reaper {
	if schedule == "" {
		schedule = "@every 15m"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{store: store, schedule: schedule, logger: logger}
}

// Start schedules the reap job. Returns an error for an invalid schedule.
func (r *Reaper) Start() error {
	c := cron.New()
	_, err := c.AddFunc(r.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		reaped, err := r.Reap(ctx)
		if err != nil {
			r.logger.Warn("session reap failed", "error", err)
			return
		}
		if reaped > 0 {
			observability.AddSessionsReaped(reaped)
			r.logger.Info("reaped expired sessions", "count", reaped)
		}
	})
	if err != nil {
		return err
	}
	r.cron = c
	c.Start()
	return nil
}

// Stop halts the schedule and waits for a running reap to finish.
func (r *Reaper) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// Reap scans session info keys and deletes timestamp-expired sessions.
// Returns the number of sessions removed.
func (r *Reaper) Reap(ctx context.Context) (int, error) {
	reaped := 0
	iter := r.store.client.Scan(ctx, 0, "session:*:info", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		id := strings.TrimSuffix(strings.TrimPrefix(key, "session:"), ":info")

		data, err := r.store.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return reaped, err
		}

		var info Info
		if err := json.Unmarshal(data, &info); err != nil {
			// Unreadable entry, drop it.
			r.logger.Warn("dropping unreadable session", "key", key, "error", err)
			_ = r.store.Delete(ctx, id)
			reaped++
			continue
		}

		if r.store.now().Sub(info.LastActive) > r.store.sessionTTL {
			if err := r.store.Delete(ctx, id); err != nil {
				return reaped, err
			}
			reaped++
		}
	}
	if err := iter.Err(); err != nil {
		return reaped, err
	}
	return reaped, nil
}
