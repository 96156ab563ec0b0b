// Package scheduler runs rcond's periodic background tasks: daily audit
// pruning, stale session reaping and stats logging.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rcond/internal/config"
	"github.com/energizer-project/rcond/internal/db"
	intnet "github.com/energizer-project/rcond/internal/network"
	"github.com/energizer-project/rcond/internal/util"
)

// Reaper drops idle per-client state, such as API rate limit buckets.
type Reaper interface {
	Cleanup(maxIdle time.Duration) int
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg      *config.Config
	registry *intnet.ConnectionRegistry
	audit    *db.AuditLog
	reapers  []Reaper

	now func() time.Time
}

// NewScheduler creates a new task scheduler. audit may be nil when the
// audit log is disabled.
func NewScheduler(cfg *config.Config, registry *intnet.ConnectionRegistry, audit *db.AuditLog, reapers ...Reaper) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		registry: registry,
		audit:    audit,
		reapers:  reapers,
		now:      time.Now,
	}
}

// Start runs all scheduled tasks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	app := s.cfg.GetApplicationData()

	if s.audit != nil && app.Audit.RetentionDays > 0 {
		go s.runAuditCleanerLoop(ctx)
	}

	if app.Timers.StaleSessionCheckInterval > 0 {
		go s.runTicker(ctx, time.Duration(app.Timers.StaleSessionCheckInterval)*time.Second, s.reapStale)
	}

	if app.Timers.StatsInterval > 0 {
		go s.runTicker(ctx, time.Duration(app.Timers.StatsInterval)*time.Second, s.collectStats)
	}

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runTicker(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// runAuditCleanerLoop prunes the audit log once a day at the configured time.
func (s *Scheduler) runAuditCleanerLoop(ctx context.Context) {
	for {
		nextRun := s.calculateNextCleanupTime()
		sleepDuration := nextRun.Sub(s.now())
		if sleepDuration <= 0 {
			sleepDuration = 24 * time.Hour
		}

		log.Info().
			Time("next_run", nextRun).
			Dur("sleep", sleepDuration).
			Msg("audit cleaner scheduled")

		timer := time.NewTimer(sleepDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.pruneAudit()
		}
	}
}

func (s *Scheduler) pruneAudit() {
	if s.audit == nil {
		return
	}
	days := s.cfg.GetApplicationData().Audit.RetentionDays
	if days <= 0 {
		return
	}
	if _, err := s.audit.Prune(time.Duration(days) * 24 * time.Hour); err != nil {
		log.Warn().Err(err).Msg("audit cleaner failed")
	}
}

// reapStale closes sessions idle past the RCON idle timeout and drops
// idle reaper state. Sessions enforce their own read deadline; this
// catches connections stuck in a write.
func (s *Scheduler) reapStale() {
	if timeout := s.cfg.GetRCON().IdleTimeout(); timeout > 0 && s.registry != nil {
		if n := s.registry.CleanStale(timeout); n > 0 {
			log.Info().Int("count", n).Msg("stale sessions closed")
		}
	}

	for _, r := range s.reapers {
		r.Cleanup(10 * time.Minute)
	}
}

// collectStats logs a snapshot of session and process activity.
func (s *Scheduler) collectStats() {
	proc := util.GetProcessStats()

	ev := log.Info().
		Int("goroutines", proc.Goroutines).
		Str("rss", formatBytes(int64(proc.RSSMB)*1024*1024))
	if s.registry != nil {
		ev = ev.Int("active_sessions", s.registry.Count())
	}
	if s.audit != nil {
		if st, err := s.audit.Stats(); err == nil {
			ev = ev.
				Int("total_sessions", st.Sessions).
				Int("commands", st.Commands).
				Int("auth_failures_24h", st.FailuresLast24)
		}
	}
	ev.Msg("stats collected")
}

// calculateNextCleanupTime returns the next occurrence of the configured
// HH:MM cleanup time, defaulting to 04:00.
func (s *Scheduler) calculateNextCleanupTime() time.Time {
	cleanupTime := s.cfg.GetApplicationData().Audit.CleanupTime
	parts := strings.Split(cleanupTime, ":")

	hour, minute := 4, 0
	if len(parts) >= 2 {
		fmt.Sscanf(parts[0], "%d", &hour)
		fmt.Sscanf(parts[1], "%d", &minute)
	}

	now := s.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// formatBytes formats bytes into human-readable format.
func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
