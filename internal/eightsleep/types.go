package eightsleep

import (
	"encoding/json"
	"fmt"
)

// Snapshot is one raw device-state reading as returned by the cloud
// API. Field names are side-prefixed (leftHeatingLevel,
// rightNowHeating, ...). A Snapshot is treated as immutable once it
// has been handed to a history or reducer.
type Snapshot map[string]any

// Timeseries metric keys present in session intervals.
const (
	MetricBedTemp     = "tempBedC"
	MetricRoomTemp    = "tempRoomC"
	MetricRespRate    = "respiratoryRate"
	MetricHeartRate   = "heartRate"
	MetricTossAndTurn = "tnt"
)

// Interval is one recorded sleep session, complete or in-progress.
// The API returns intervals newest-first; at most one interval is
// incomplete and it is always at index 0 when present. Score is
// absent (zero) while the session is still being recorded.
type Interval struct {
	ID         string     `json:"id"`
	TS         string     `json:"ts"` // UTC wall-clock text, e.g. 2019-03-12T04:21:00.000Z
	Score      int        `json:"score"`
	Incomplete bool       `json:"incomplete"`
	Stages     []Stage    `json:"stages"`
	Timeseries Timeseries `json:"timeseries"`
}

// Stage is one sleep-stage segment within an interval.
type Stage struct {
	Stage    string `json:"stage"`    // awake, light, or deep
	Duration int    `json:"duration"` // seconds
}

// Timeseries maps a metric name to its ordered samples.
type Timeseries map[string][]Sample

// Sample is one (timestamp, value) pair. The API encodes it as a
// two-element JSON array: ["2019-03-12T04:21:00.000Z", 21.5].
type Sample struct {
	TS    string
	Value float64
}

// UnmarshalJSON decodes the wire format pair array.
func (s *Sample) UnmarshalJSON(data []byte) error {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("timeseries sample: %w", err)
	}
	if pair[0] == nil {
		return fmt.Errorf("timeseries sample: expected [timestamp, value] pair, got %s", data)
	}
	if err := json.Unmarshal(pair[0], &s.TS); err != nil {
		return fmt.Errorf("timeseries sample timestamp: %w", err)
	}
	if pair[1] != nil {
		if err := json.Unmarshal(pair[1], &s.Value); err != nil {
			return fmt.Errorf("timeseries sample value: %w", err)
		}
	}
	return nil
}

// MarshalJSON re-encodes the pair in the API's array form.
func (s Sample) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{s.TS, s.Value})
}
