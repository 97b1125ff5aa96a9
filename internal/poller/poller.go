// Package poller drives the two periodic refresh cycles against the
// cloud API: a frequent device snapshot poll that feeds the snapshot
// history and presence inference, and a slower per-user intervals
// refresh that feeds the session reducers and the session store.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/sleepside/internal/bed"
	"github.com/nugget/sleepside/internal/eightsleep"
)

// SnapshotFetcher provides raw device snapshots. Implemented by the
// eightsleep client; an interface keeps the poller testable without
// the cloud.
type SnapshotFetcher interface {
	Device(ctx context.Context, deviceID string) (eightsleep.Snapshot, error)
}

// IntervalsFetcher provides per-user sleep interval lists.
type IntervalsFetcher interface {
	Intervals(ctx context.Context, userID string) ([]eightsleep.Interval, error)
}

// SessionRecorder receives newly completed sessions for persistence.
type SessionRecorder interface {
	RecordCompleted(userID string, sess *bed.LastSession) error
}

// Config wires the poller to its collaborators.
type Config struct {
	// Snapshots fetches raw device state on the fast cadence.
	Snapshots SnapshotFetcher

	// Intervals fetches sleep interval lists on the slow cadence.
	Intervals IntervalsFetcher

	// DeviceID is the device to poll.
	DeviceID string

	// History receives every fetched snapshot.
	History *bed.History

	// Occupants are the tracked bed sides. Presence is re-evaluated
	// for each after every snapshot poll.
	Occupants []*bed.Occupant

	// Recorder, when non-nil, receives each newly completed session
	// exactly once.
	Recorder SessionRecorder

	// DeviceInterval is the snapshot poll cadence.
	DeviceInterval time.Duration

	// IntervalsInterval is the intervals refresh cadence.
	IntervalsInterval time.Duration

	// Logger for structured logging.
	Logger *slog.Logger
}

// Poller runs both refresh cycles. Fetch failures are logged and the
// cycle skipped; errors from the cloud are never interpreted here.
type Poller struct {
	cfg Config

	mu       sync.Mutex
	recorded map[string]string // user ID → start ts of last persisted session
}

// New creates a poller. Zero intervals get conservative defaults.
func New(cfg Config) *Poller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DeviceInterval <= 0 {
		cfg.DeviceInterval = time.Minute
	}
	if cfg.IntervalsInterval <= 0 {
		cfg.IntervalsInterval = 5 * time.Minute
	}
	return &Poller{
		cfg:      cfg,
		recorded: make(map[string]string),
	}
}

// Start runs both polling loops until ctx is cancelled. It blocks.
func (p *Poller) Start(ctx context.Context) {
	deviceTicker := time.NewTicker(p.cfg.DeviceInterval)
	defer deviceTicker.Stop()
	intervalsTicker := time.NewTicker(p.cfg.IntervalsInterval)
	defer intervalsTicker.Stop()

	// Prime both datasets immediately on start.
	p.PollDevice(ctx)
	p.RefreshIntervals(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-deviceTicker.C:
			p.PollDevice(ctx)
		case <-intervalsTicker.C:
			p.RefreshIntervals(ctx)
		}
	}
}

// PollDevice fetches one snapshot, stores it, and re-evaluates
// presence for every occupant.
func (p *Poller) PollDevice(ctx context.Context) {
	snap, err := p.cfg.Snapshots.Device(ctx, p.cfg.DeviceID)
	if err != nil {
		p.cfg.Logger.Warn("device poll failed", "device_id", p.cfg.DeviceID, "error", err)
		return
	}

	p.cfg.History.Push(snap)
	for _, occ := range p.cfg.Occupants {
		occ.UpdatePresence()
	}

	p.cfg.Logger.Debug("device snapshot stored",
		"device_id", p.cfg.DeviceID,
		"history_len", p.cfg.History.Len(),
	)
}

// RefreshIntervals fetches each occupant's interval list, swaps it
// into the reducer, and hands any newly completed session to the
// recorder.
func (p *Poller) RefreshIntervals(ctx context.Context) {
	for _, occ := range p.cfg.Occupants {
		intervals, err := p.cfg.Intervals.Intervals(ctx, occ.UserID)
		if err != nil {
			p.cfg.Logger.Warn("intervals refresh failed",
				"user_id", occ.UserID, "error", err)
			continue
		}

		occ.SetIntervals(intervals)
		p.cfg.Logger.Debug("intervals refreshed",
			"user_id", occ.UserID, "count", len(intervals))

		p.recordCompleted(occ, intervals)
	}
}

// recordCompleted persists the most recent completed session when it
// has not been recorded yet. Dedup keys on the raw interval start
// timestamp, so a session is written once no matter how many refresh
// cycles see it.
func (p *Poller) recordCompleted(occ *bed.Occupant, intervals []eightsleep.Interval) {
	if p.cfg.Recorder == nil {
		return
	}

	var startTS string
	switch {
	case len(intervals) == 0:
		return
	case intervals[0].Incomplete:
		if len(intervals) < 2 {
			return
		}
		startTS = intervals[1].TS
	default:
		startTS = intervals[0].TS
	}

	p.mu.Lock()
	seen := p.recorded[occ.UserID] == startTS
	p.mu.Unlock()
	if seen {
		return
	}

	sess, err := occ.LastSession()
	if err != nil {
		if errors.Is(err, bed.ErrNoCompletedSession) {
			return
		}
		p.cfg.Logger.Warn("completed session unreadable, not persisting",
			"user_id", occ.UserID, "start_ts", startTS, "error", err)
		return
	}

	if err := p.cfg.Recorder.RecordCompleted(occ.UserID, sess); err != nil {
		p.cfg.Logger.Warn("session persist failed",
			"user_id", occ.UserID, "start_ts", startTS, "error", err)
		return
	}

	p.mu.Lock()
	p.recorded[occ.UserID] = startTS
	p.mu.Unlock()

	p.cfg.Logger.Info("completed session recorded",
		"user_id", occ.UserID,
		"start_ts", startTS,
		"score", sess.Score,
	)
}
