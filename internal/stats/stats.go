// Package stats aggregates counters for the admin surface: lifetime and
// online connection counts, active sessions, daily message volume, and an
// hourly activity histogram. The recorder observes the core through the
// StatsSink interface and never influences matchmaking.
package stats

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/strangr/chat-server/internal/metrics"
)

// Snapshot is the point-in-time view handed to the admin surface.
type Snapshot struct {
	TotalConnections  int64   `json:"total_connections"`
	OnlineConnections int64   `json:"online_connections"`
	ActiveSessions    int64   `json:"active_sessions"`
	MessagesToday     int64   `json:"messages_today"`
	HourlyActivity    [24]int `json:"hourly_activity"`
}

// Recorder accumulates counters. All methods are goroutine-safe.
type Recorder struct {
	mu    sync.Mutex
	snap  Snapshot
	today int // day-of-year of the last MessagesToday reset
	now   func() time.Time
}

// NewRecorder returns a zeroed recorder.
func NewRecorder() *Recorder {
	r := &Recorder{now: time.Now}
	r.today = r.now().YearDay()
	return r
}

// ConnectionOpened records a new registration: lifetime total, online
// gauge, and the hourly activity bucket for the current hour.
func (r *Recorder) ConnectionOpened() {
	r.mu.Lock()
	r.snap.TotalConnections++
	r.snap.OnlineConnections++
	r.snap.HourlyActivity[r.now().Hour()]++
	r.mu.Unlock()

	metrics.ConnectionsLifetime.Inc()
	metrics.ConnectionsOnline.Inc()
}

// ConnectionClosed records a deregistration. The online gauge never goes
// below zero even if close events outnumber opens.
func (r *Recorder) ConnectionClosed() {
	r.mu.Lock()
	if r.snap.OnlineConnections > 0 {
		r.snap.OnlineConnections--
	}
	r.mu.Unlock()

	metrics.ConnectionsOnline.Dec()
}

// SessionOpened increments the active-session gauge.
func (r *Recorder) SessionOpened() {
	r.mu.Lock()
	r.snap.ActiveSessions++
	r.mu.Unlock()

	metrics.SessionsActive.Inc()
	metrics.SessionsTotal.Inc()
}

// SessionEnded decrements the active-session gauge, clamped at zero.
func (r *Recorder) SessionEnded() {
	r.mu.Lock()
	if r.snap.ActiveSessions > 0 {
		r.snap.ActiveSessions--
	}
	r.mu.Unlock()

	metrics.SessionsActive.Dec()
}

// MessageRelayed increments the daily message counter.
func (r *Recorder) MessageRelayed() {
	r.mu.Lock()
	r.resetIfNewDay()
	r.snap.MessagesToday++
	r.mu.Unlock()

	metrics.MessagesRelayed.Inc()
}

// QueueDepth publishes the current waiting-queue length.
func (r *Recorder) QueueDepth(n int) {
	metrics.QueueWaiting.Set(float64(n))
}

// MatchWait observes the time a matched waiter spent in the queue.
func (r *Recorder) MatchWait(d time.Duration) {
	metrics.MatchWait.Observe(d.Seconds())
}

// Snapshot returns a copy of the current counters.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetIfNewDay()
	return r.snap
}

// resetIfNewDay clears MessagesToday when the calendar day has rolled
// over since the last reset. Callers hold r.mu.
func (r *Recorder) resetIfNewDay() {
	day := r.now().YearDay()
	if day != r.today {
		r.today = day
		r.snap.MessagesToday = 0
	}
}

// StartDailyReset runs a background loop that performs the midnight reset
// even when no messages are flowing, so that admin snapshots roll over
// promptly. It returns immediately.
func StartDailyReset(ctx context.Context, r *Recorder) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.mu.Lock()
				before := r.snap.MessagesToday
				r.resetIfNewDay()
				if before != 0 && r.snap.MessagesToday == 0 {
					log.Printf("[stats] daily message counter reset")
				}
				r.mu.Unlock()
			}
		}
	}()
}
