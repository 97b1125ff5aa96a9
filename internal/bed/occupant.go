package bed

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/sleepside/internal/eightsleep"
)

// sessionTimeLayout matches the API's millisecond UTC timestamp text.
const sessionTimeLayout = "2006-01-02T15:04:05.000Z"

// Presence heuristic thresholds. The mattress heats a few degrees
// above target while a body is on it, so a sustained positive heat
// delta at a meaningful absolute level implies occupancy.
const (
	presenceDelta = 8  // minimum heating delta to infer presence
	presenceLevel = 25 // minimum absolute level to infer presence
	absentLevel   = 15 // idle level at or below which the bed is empty
	idleBaseline  = 10 // assumed resting level when not actively heating
)

// Occupant reduces one bed side's raw data into queryable views: the
// in-progress session ("current"), the most recent completed session
// ("last"), live heating values, and a heuristic presence boolean.
//
// The intervals list and snapshot history are owned by the poller;
// the occupant holds non-owning references and recomputes every view
// on read. Presence and the last-observed heating level are the only
// cached state.
type Occupant struct {
	UserID string
	Side   Side

	history *History
	logger  *slog.Logger
	nowFunc func() time.Time

	mu               sync.Mutex
	intervals        []eightsleep.Interval
	lastHeatingLevel *int // delta tracking only, never exposed as current truth
	present          bool
}

// NewOccupant creates an occupant bound to one side of the bed.
// Presence starts as absent until polling evidence says otherwise.
func NewOccupant(userID string, side Side, history *History, logger *slog.Logger) *Occupant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Occupant{
		UserID:  userID,
		Side:    side,
		history: history,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// SetIntervals replaces the occupant's sleep interval list. The swap
// is atomic with respect to readers: a view computation sees either
// the old list or the new one, never a mix.
func (o *Occupant) SetIntervals(intervals []eightsleep.Interval) {
	o.mu.Lock()
	o.intervals = intervals
	o.mu.Unlock()
}

// Intervals returns the current interval list reference. The list is
// treated as immutable; callers must not modify it.
func (o *Occupant) Intervals() []eightsleep.Interval {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.intervals
}

// Present reports the heuristic bed-presence state.
func (o *Occupant) Present() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.present
}

// HeatingValues holds this side's live heating fields from the latest
// snapshot. Nil fields mean the value is not available yet — the
// device has not been polled or the snapshot lacks the field.
type HeatingValues struct {
	Level     *int
	Target    *int
	Active    *bool
	Remaining *int // seconds of heat time left
}

// HeatingValues reads the live heating fields for this side. Values
// always come from the latest snapshot, never from cached state.
func (o *Occupant) HeatingValues() HeatingValues {
	snap, err := o.history.Latest()
	if err != nil {
		snap = nil
	}

	var hv HeatingValues
	if v, ok := o.Side.HeatingLevel(snap); ok {
		hv.Level = &v
	}
	if v, ok := o.Side.TargetLevel(snap); ok {
		hv.Target = &v
	}
	if v, ok := o.Side.NowHeating(snap); ok {
		hv.Active = &v
	}
	if v, ok := o.Side.HeatingRemaining(snap); ok {
		hv.Remaining = &v
	}
	return hv
}

// UpdatePresence runs one step of the bed-presence state machine
// against the latest snapshot. The poller calls it once per device
// poll cycle; the occupant mutex serializes overlapping calls.
//
// The heuristic: while actively heating, the delta is level minus
// target; while idle, level minus an assumed baseline of 10. A delta
// of 8 or more at level 25 or more flips to present; an idle level at
// or below 15, or active heating with a delta under 8, flips to
// absent. Neither matching leaves the state unchanged.
//
// The absent rules are evaluated after the present rule on purpose:
// when both match in one cycle, absent wins. This ordering is carried
// over from the long-lived heuristic and swapping it changes
// observable behavior.
func (o *Occupant) UpdatePresence() {
	snap, err := o.history.Latest()
	if err != nil {
		snap = nil
	}

	level, levelOK := o.Side.HeatingLevel(snap)
	target, targetOK := o.Side.TargetLevel(snap)
	heating, _ := o.Side.NowHeating(snap)

	var delta int
	switch {
	case heating && levelOK && targetOK:
		delta = level - target
	case levelOK:
		delta = level - idleBaseline
	default:
		delta = 0
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if !levelOK {
		// No snapshot yet, or the field is missing. A zero delta
		// satisfies neither transition, so the state holds.
		return
	}

	lvl := level
	o.lastHeatingLevel = &lvl

	was := o.present

	if delta >= presenceDelta && level >= presenceLevel {
		o.present = true
	}

	if !heating && level <= absentLevel {
		o.present = false
	} else if heating && delta < presenceDelta {
		o.present = false
	}

	if o.present != was {
		o.logger.Debug("bed presence changed",
			"user_id", o.UserID,
			"side", o.Side.String(),
			"present", o.present,
			"heating_level", level,
			"heat_delta", delta,
		)
	}
}

// Breakdown sums sleep-stage durations in seconds.
type Breakdown struct {
	Awake int
	Light int
	Deep  int
}

// CurrentSession is the derived view of an in-progress sleep session.
// The timeseries fields are the most recent sample so far; nil means
// the metric has no samples yet. Breakdown and TossAndTurns are
// partial, growing as the session records.
type CurrentSession struct {
	Date         time.Time
	Score        int
	Stage        string
	Breakdown    Breakdown
	BedTemp      *float64
	RoomTemp     *float64
	RespRate     *float64
	HeartRate    *float64
	TossAndTurns int
}

// CurrentSession derives the in-progress session view. It returns
// (nil, nil) when there is no active session — the intervals list is
// empty or its head is complete — which is a normal condition; the
// caller should use LastSession instead. A non-nil error means the
// upstream data is malformed.
func (o *Occupant) CurrentSession() (*CurrentSession, error) {
	o.mu.Lock()
	intervals := o.intervals
	o.mu.Unlock()

	if len(intervals) == 0 || !intervals[0].Incomplete {
		return nil, nil
	}
	head := intervals[0]

	date, err := localizeUTC(head.TS, o.nowFunc())
	if err != nil {
		return nil, err
	}

	cur := &CurrentSession{
		Date:         date,
		Score:        head.Score,
		Breakdown:    sumStages(head.Stages),
		BedTemp:      latestSample(head.Timeseries, eightsleep.MetricBedTemp),
		RoomTemp:     latestSample(head.Timeseries, eightsleep.MetricRoomTemp),
		RespRate:     latestSample(head.Timeseries, eightsleep.MetricRespRate),
		HeartRate:    latestSample(head.Timeseries, eightsleep.MetricHeartRate),
		TossAndTurns: len(head.Timeseries[eightsleep.MetricTossAndTurn]),
	}
	if n := len(head.Stages); n > 0 {
		cur.Stage = head.Stages[n-1].Stage
	}
	return cur, nil
}

// LastSession is the derived view of the most recently completed
// sleep session. The timeseries fields are arithmetic means over the
// whole session.
type LastSession struct {
	Date         time.Time
	Score        int
	Breakdown    Breakdown
	BedTemp      float64
	RoomTemp     float64
	RespRate     float64
	HeartRate    float64
	TossAndTurns int
}

// LastSession derives the completed-session view: intervals[1] when
// the head is still recording, otherwise intervals[0]. It returns
// ErrNoCompletedSession when that index does not exist, and a
// data-integrity error for malformed timestamps or empty timeseries.
func (o *Occupant) LastSession() (*LastSession, error) {
	o.mu.Lock()
	intervals := o.intervals
	o.mu.Unlock()

	var sess eightsleep.Interval
	switch {
	case len(intervals) == 0:
		return nil, ErrNoCompletedSession
	case intervals[0].Incomplete:
		if len(intervals) < 2 {
			return nil, ErrNoCompletedSession
		}
		sess = intervals[1]
	default:
		sess = intervals[0]
	}

	date, err := localizeUTC(sess.TS, o.nowFunc())
	if err != nil {
		return nil, err
	}

	last := &LastSession{
		Date:         date,
		Score:        sess.Score,
		Breakdown:    sumStages(sess.Stages),
		TossAndTurns: len(sess.Timeseries[eightsleep.MetricTossAndTurn]),
	}

	if last.BedTemp, err = meanSample(sess.Timeseries, eightsleep.MetricBedTemp); err != nil {
		return nil, err
	}
	if last.RoomTemp, err = meanSample(sess.Timeseries, eightsleep.MetricRoomTemp); err != nil {
		return nil, err
	}
	if last.RespRate, err = meanSample(sess.Timeseries, eightsleep.MetricRespRate); err != nil {
		return nil, err
	}
	if last.HeartRate, err = meanSample(sess.Timeseries, eightsleep.MetricHeartRate); err != nil {
		return nil, err
	}

	return last, nil
}

// localizeUTC parses UTC wall-clock text and shifts it by the current
// local/UTC offset, taken from now's zone, to approximate local civil
// time. The offset is recomputed on every call rather than converting
// through a fixed zone; this matches long-standing behavior and is
// only accurate for observations near now — a session read from the
// other side of a DST change lands an hour off. The result keeps the
// UTC location marker even though it represents a local reading.
func localizeUTC(ts string, now time.Time) (time.Time, error) {
	t, err := time.Parse(sessionTimeLayout, ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse session timestamp %q: %w", ts, err)
	}
	_, offset := now.Zone()
	return t.Add(time.Duration(offset) * time.Second), nil
}

// sumStages accumulates per-kind stage durations. Unrecognized stage
// kinds are ignored.
func sumStages(stages []eightsleep.Stage) Breakdown {
	var b Breakdown
	for _, s := range stages {
		switch s.Stage {
		case "awake":
			b.Awake += s.Duration
		case "light":
			b.Light += s.Duration
		case "deep":
			b.Deep += s.Duration
		}
	}
	return b
}

// latestSample returns the value of the most recent sample in the
// named timeseries, or nil when the metric has no samples yet.
func latestSample(ts eightsleep.Timeseries, key string) *float64 {
	samples := ts[key]
	if len(samples) == 0 {
		return nil
	}
	v := samples[len(samples)-1].Value
	return &v
}

// meanSample returns the arithmetic mean of the named timeseries. An
// empty series is malformed for a completed session and surfaces as
// ErrEmptyTimeseries rather than a silent zero.
func meanSample(ts eightsleep.Timeseries, key string) (float64, error) {
	samples := ts[key]
	if len(samples) == 0 {
		return 0, fmt.Errorf("%s: %w", key, ErrEmptyTimeseries)
	}

	var sum float64
	for _, s := range samples {
		sum += s.Value
	}
	return sum / float64(len(samples)), nil
}
