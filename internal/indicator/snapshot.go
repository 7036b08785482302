package indicator

import (
	"encoding/json"
	"fmt"
)

// Snapshottable is implemented by indicators that support state serialization.
type Snapshottable interface {
	Indicator
	Snapshot() IndicatorSnapshot
	RestoreFromSnapshot(snap IndicatorSnapshot) error
}

// IndicatorSnapshot holds the serialized state of a single indicator
// instance. Not every field applies to every indicator family — unused
// fields are left zero.
type IndicatorSnapshot struct {
	Type   string `json:"type"`   // "SMA", "EMA", "SMMA", "RSI", "MACD", "BBAND"
	Period int    `json:"period"` // indicator period

	// SMA / BBAND fields
	Buf     []float64 `json:"buf,omitempty"`
	Idx     int       `json:"idx,omitempty"`
	Count   int       `json:"count"`
	Sum     float64   `json:"sum,omitempty"`
	Current float64   `json:"current"`

	// EMA fields
	Multiplier float64 `json:"multiplier,omitempty"`

	// RSI / BBAND (PrevClose doubles as BBAND's lower band) fields
	PrevClose float64 `json:"prev_close,omitempty"`
	AvgGain   float64 `json:"avg_gain,omitempty"`
	AvgLoss   float64 `json:"avg_loss,omitempty"`

	// MACD / BBAND component snapshots
	Fast   *IndicatorSnapshot `json:"fast,omitempty"`
	Slow   *IndicatorSnapshot `json:"slow,omitempty"`
	Signal *IndicatorSnapshot `json:"signal,omitempty"`
}

// SetSnapshot holds indicator snapshots for one (symbol, timeframe) key.
type SetSnapshot struct {
	Key        string              `json:"key"` // model.Candle.Key(): "symbol:timeframe"
	Indicators []IndicatorSnapshot `json:"indicators"`
}

// RegistrySnapshot holds the full state of an indicator Registry.
type RegistrySnapshot struct {
	StreamID string        `json:"stream_id,omitempty"` // broker stream checkpoint marker, live mode only
	Sets     []SetSnapshot `json:"sets"`
	Version  int           `json:"version"` // schema version for forward compat
}

// MarshalJSON serializes the registry snapshot to JSON.
func (rs *RegistrySnapshot) MarshalJSON() ([]byte, error) {
	type Alias RegistrySnapshot
	return json.Marshal((*Alias)(rs))
}

// UnmarshalJSON deserializes the registry snapshot from JSON.
func (rs *RegistrySnapshot) UnmarshalJSON(data []byte) error {
	type Alias RegistrySnapshot
	return json.Unmarshal(data, (*Alias)(rs))
}

// Snapshot captures the full state of a Registry.
func (reg *Registry) Snapshot(streamID string) (*RegistrySnapshot, error) {
	snap := &RegistrySnapshot{StreamID: streamID, Version: 1}

	reg.mu.RLock()
	defer reg.mu.RUnlock()
	for key, set := range reg.sets {
		ss := SetSnapshot{Key: key, Indicators: make([]IndicatorSnapshot, 0, len(set.indicators))}
		for _, ind := range set.indicators {
			si, ok := ind.(Snapshottable)
			if !ok {
				return nil, fmt.Errorf("indicator: %s does not implement Snapshottable", ind.Name())
			}
			ss.Indicators = append(ss.Indicators, si.Snapshot())
		}
		snap.Sets = append(snap.Sets, ss)
	}
	return snap, nil
}

// Restore rebuilds a Registry's live indicator state from a snapshot. It is
// tolerant of config changes: indicators are matched by Type+Period rather
// than position. Matching indicators get their state restored; new
// indicators start cold. Removed indicators are silently skipped.
func (reg *Registry) Restore(snap *RegistrySnapshot) (restored, cold int) {
	for _, ss := range snap.Sets {
		cfgs, ok := reg.configsFor(ss.Key)
		if !ok {
			continue // (symbol, timeframe) no longer configured — skip
		}
		set := reg.createSet(ss.Key, cfgs)

		lookup := make(map[string]IndicatorSnapshot, len(ss.Indicators))
		for _, s := range ss.Indicators {
			lookup[snapKey(s.Type, s.Period)] = s
		}

		for _, ind := range set.indicators {
			s, found := lookup[snapKey(ind.Name(), ind.Period())]
			if !found {
				cold++
				continue
			}
			si, ok := ind.(Snapshottable)
			if !ok {
				cold++
				continue
			}
			if err := si.RestoreFromSnapshot(s); err != nil {
				cold++
				continue
			}
			restored++
		}
	}
	return restored, cold
}

func snapKey(indType string, period int) string {
	return indType + ":" + itoaSnap(period)
}

func itoaSnap(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	buf := [20]byte{}
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
