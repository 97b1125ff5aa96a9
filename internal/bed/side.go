package bed

import (
	"encoding/json"

	"github.com/nugget/sleepside/internal/eightsleep"
)

// Side identifies one half of the bed.
type Side int

const (
	Left Side = iota
	Right
)

// String returns the side name as it appears in API field prefixes.
func (s Side) String() string {
	if s == Right {
		return "right"
	}
	return "left"
}

// fieldKeys holds the snapshot field names for one side. The table is
// built once so accessors index it instead of assembling or comparing
// key strings on every read.
type fieldKeys struct {
	heatingLevel    string
	targetLevel     string
	nowHeating      string
	heatingDuration string
}

var sideKeys = [...]fieldKeys{
	Left: {
		heatingLevel:    "leftHeatingLevel",
		targetLevel:     "leftTargetHeatingLevel",
		nowHeating:      "leftNowHeating",
		heatingDuration: "leftHeatingDuration",
	},
	Right: {
		heatingLevel:    "rightHeatingLevel",
		targetLevel:     "rightTargetHeatingLevel",
		nowHeating:      "rightNowHeating",
		heatingDuration: "rightHeatingDuration",
	},
}

// HeatingLevel reads this side's current heating level from a
// snapshot. ok is false when no snapshot exists yet or the field is
// missing; that is a normal "not yet polled" state, not a fault.
func (s Side) HeatingLevel(snap eightsleep.Snapshot) (int, bool) {
	return intField(snap, sideKeys[s].heatingLevel)
}

// TargetLevel reads this side's target heating level.
func (s Side) TargetLevel(snap eightsleep.Snapshot) (int, bool) {
	return intField(snap, sideKeys[s].targetLevel)
}

// NowHeating reads this side's active-heating flag.
func (s Side) NowHeating(snap eightsleep.Snapshot) (bool, bool) {
	return boolField(snap, sideKeys[s].nowHeating)
}

// HeatingRemaining reads this side's remaining heat time in seconds.
func (s Side) HeatingRemaining(snap eightsleep.Snapshot) (int, bool) {
	return intField(snap, sideKeys[s].heatingDuration)
}

// intField coerces a snapshot value to int. Decoded JSON numbers
// arrive as float64; json.Number appears when callers decode with
// UseNumber.
func intField(snap eightsleep.Snapshot, key string) (int, bool) {
	if snap == nil {
		return 0, false
	}
	switch v := snap[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

func boolField(snap eightsleep.Snapshot, key string) (bool, bool) {
	if snap == nil {
		return false, false
	}
	v, ok := snap[key].(bool)
	return v, ok
}
