package indicator

import (
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/sreeanthrds/optionbacktest/internal/engerr"
	"github.com/sreeanthrds/optionbacktest/internal/model"
)

// initTolerance bounds how far a bulk-initialized indicator value may
// deviate from an InitializeFrom+Update replay of the same history before
// the kernel treats it as a fatal initialization error (spec §4.1, §9
// Design Note "Dunder numeric tolerance").
const initTolerance = 1e-6

// Spec names one indicator a strategy document wants computed: family name
// and period, e.g. {"SMA", 20} → "SMA_20".
type Spec struct {
	Type   string
	Period int
}

// Name is the result-map key an indicator's values are published under.
func (s Spec) Name() string { return s.Type + "_" + strconv.Itoa(s.Period) }

// TimeframeSpec groups the indicators that apply to every symbol at one
// candle timeframe (spec §4.1 — indicators are declared per timeframe, not
// per symbol, so every symbol resolved onto that timeframe gets the same
// set).
type TimeframeSpec struct {
	Timeframe  int
	Indicators []Spec
}

// set holds live indicator instances for one (symbol, timeframe) pair.
type set struct {
	indicators []Indicator
	specs      []Spec
}

// Registry computes every configured indicator for every (symbol,
// timeframe) pair it sees. Designed for single-goroutine use within the
// engine's per-tick loop — no internal locking is required there; the
// RWMutex exists solely so a concurrent snapshot/metrics reader never races
// the hot path.
type Registry struct {
	mu      sync.RWMutex
	byTF    map[int][]Spec      // timeframe -> configured indicators
	sets    map[string]*set     // model.Candle.Key() -> live indicator set
}

// NewRegistry builds a Registry from the timeframe specs a strategy
// document declares.
func NewRegistry(specs []TimeframeSpec) *Registry {
	byTF := make(map[int][]Spec, len(specs))
	for _, s := range specs {
		byTF[s.Timeframe] = s.Indicators
	}
	return &Registry{
		byTF: byTF,
		sets: make(map[string]*set),
	}
}

// timeframeOfKey extracts the timeframe embedded in a model.Candle.Key()
// — i.e. the segment after the last ':'.
func timeframeOfKey(key string) (int, bool) {
	i := strings.LastIndexByte(key, ':')
	if i < 0 {
		return 0, false
	}
	tf, err := strconv.Atoi(key[i+1:])
	if err != nil {
		return 0, false
	}
	return tf, true
}

// configsFor resolves the indicator specs configured for the timeframe
// embedded in a model.Candle.Key().
func (reg *Registry) configsFor(key string) ([]Spec, bool) {
	tf, ok := timeframeOfKey(key)
	if !ok {
		return nil, false
	}
	specs, ok := reg.byTF[tf]
	return specs, ok
}

func (reg *Registry) createSet(key string, specs []Spec) *set {
	inds := make([]Indicator, len(specs))
	for i, sp := range specs {
		inds[i] = New(sp.Type, sp.Period)
	}
	s := &set{indicators: inds, specs: specs}
	reg.mu.Lock()
	reg.sets[key] = s
	reg.mu.Unlock()
	return s
}

func (reg *Registry) setFor(key string) (*set, bool) {
	reg.mu.RLock()
	s, ok := reg.sets[key]
	reg.mu.RUnlock()
	return s, ok
}

// BulkInit (re)initializes a (symbol, timeframe)'s indicator set from a
// historical candle slice — used when the data manager seeds a symbol's 20
// candle ring from up to 500 historical candles before live ticks arrive
// (spec §4.1). candles must be ordered oldest-first and share the
// timeframe embedded in key.
func (reg *Registry) BulkInit(key string, candles []model.Candle) {
	specs, ok := reg.configsFor(key)
	if !ok {
		return // no indicators configured for this timeframe
	}
	s, exists := reg.setFor(key)
	if !exists {
		s = reg.createSet(key, specs)
	}
	for _, ind := range s.indicators {
		ind.Bulk(candles)
	}
}

// VerifyInitialization is the kernel's initialization check (spec §4.1):
// for every indicator configured on key's timeframe, run Bulk over the full
// seed+tail history and record its last value, then seed a fresh instance
// from seed via InitializeFrom and replay tail through Update, and compare
// the two last values. Any deviation beyond initTolerance — or a Ready
// mismatch — is reported as a fatal engerr.KindInitialization error (spec
// §7 "indicator bulk/incremental mismatch", §8 invariant 1). Returns nil if
// key's timeframe has no indicators configured or there is no history to
// check.
//
// This runs against disposable indicator instances — it never touches the
// live set BulkInit/Process maintain, so a caller can run it purely as a
// pre-flight check before committing seed to the real set.
func (reg *Registry) VerifyInitialization(key string, seed, tail []model.Candle) error {
	specs, ok := reg.configsFor(key)
	if !ok || len(specs) == 0 {
		return nil
	}
	if len(seed)+len(tail) == 0 {
		return nil
	}

	full := make([]model.Candle, 0, len(seed)+len(tail))
	full = append(full, seed...)
	full = append(full, tail...)

	for _, sp := range specs {
		truth := New(sp.Type, sp.Period)
		truth.Bulk(full)

		replay := New(sp.Type, sp.Period)
		replay.InitializeFrom(seed)
		for _, c := range tail {
			replay.Update(c)
		}

		if truth.Ready() != replay.Ready() {
			return engerr.New(engerr.KindInitialization, "indicator bulk/incremental readiness mismatch").
				WithContext("key", key).
				WithContext("indicator", sp.Name())
		}
		if !truth.Ready() {
			continue
		}
		if diff := math.Abs(truth.Value() - replay.Value()); diff > initTolerance {
			return engerr.New(engerr.KindInitialization, "indicator bulk/incremental value mismatch beyond tolerance").
				WithContext("key", key).
				WithContext("indicator", sp.Name()).
				WithContext("bulk_value", truth.Value()).
				WithContext("replay_value", replay.Value()).
				WithContext("diff", diff)
		}
	}
	return nil
}

// Process feeds one finalized candle into its (symbol, timeframe)'s
// indicator set, creating the set on first sight, and returns every
// configured indicator's resulting value keyed by Spec.Name().
func (reg *Registry) Process(candle model.Candle) map[string]float64 {
	key := candle.Key()
	specs, ok := reg.configsFor(key)
	if !ok {
		return nil
	}
	s, exists := reg.setFor(key)
	if !exists {
		s = reg.createSet(key, specs)
	}

	out := make(map[string]float64, len(s.indicators))
	for i, ind := range s.indicators {
		ind.Update(candle)
		out[s.specs[i].Name()] = ind.Value()
	}
	return out
}

// Peek previews indicator values for a forming (not-yet-finalized) candle
// without mutating any indicator's state. Returns nil if the (symbol,
// timeframe) pair has not seen a finalized candle yet — there is nothing to
// preview from.
func (reg *Registry) Peek(candle model.Candle) map[string]float64 {
	key := candle.Key()
	s, exists := reg.setFor(key)
	if !exists {
		return nil
	}
	out := make(map[string]float64, len(s.indicators))
	for i, ind := range s.indicators {
		out[s.specs[i].Name()] = ind.Peek(candle.Close)
	}
	return out
}

// Ready reports whether every indicator configured for a (symbol,
// timeframe) pair has accumulated enough candles to produce a value.
func (reg *Registry) Ready(key string) bool {
	s, exists := reg.setFor(key)
	if !exists {
		return false
	}
	for _, ind := range s.indicators {
		if !ind.Ready() {
			return false
		}
	}
	return true
}
