package indicator

import "fmt"

// Reload updates the Registry with a new set of timeframe specs. Indicator
// sets for a (symbol, timeframe) whose spec list is unchanged keep their
// accumulated state; sets whose spec list changed are migrated indicator-
// by-indicator (matching by Type+Period, so a strategy edit that only adds
// one indicator doesn't cold-start the others); timeframes no longer
// present are dropped. Returns how many indicator instances were preserved
// vs. created fresh.
func (reg *Registry) Reload(newSpecs []TimeframeSpec) (preserved, created int) {
	newByTF := make(map[int][]Spec, len(newSpecs))
	for _, s := range newSpecs {
		newByTF[s.Timeframe] = s.Indicators
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	newSets := make(map[string]*set, len(reg.sets))
	for key, oldSet := range reg.sets {
		tf, ok := timeframeOfKey(key)
		if !ok {
			continue
		}
		newSpec, stillConfigured := newByTF[tf]
		if !stillConfigured {
			continue // timeframe dropped entirely — discard its sets
		}
		if specsEqual(oldSet.specs, newSpec) {
			newSets[key] = oldSet
			preserved += len(oldSet.indicators)
			continue
		}
		migrated, newCount := migrateSet(oldSet, newSpec)
		newSets[key] = migrated
		preserved += len(migrated.indicators) - newCount
		created += newCount
	}

	reg.byTF = newByTF
	reg.sets = newSets
	return preserved, created
}

func migrateSet(old *set, newSpecs []Spec) (*set, int) {
	oldByName := make(map[string]Indicator, len(old.indicators))
	for i, sp := range old.specs {
		oldByName[sp.Name()] = old.indicators[i]
	}

	created := 0
	inds := make([]Indicator, len(newSpecs))
	for i, sp := range newSpecs {
		if existing, ok := oldByName[sp.Name()]; ok {
			inds[i] = existing
			continue
		}
		inds[i] = New(sp.Type, sp.Period)
		created++
	}
	return &set{indicators: inds, specs: newSpecs}, created
}

func specsEqual(a, b []Spec) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]bool, len(a))
	for _, sp := range a {
		seen[sp.Name()] = true
	}
	for _, sp := range b {
		if !seen[sp.Name()] {
			return false
		}
	}
	return true
}

// ValidateSpecs checks a set of TimeframeSpecs for duplicate timeframes,
// unknown indicator types, and non-positive periods.
func ValidateSpecs(specs []TimeframeSpec) error {
	seen := make(map[int]bool)
	for _, s := range specs {
		if s.Timeframe <= 0 {
			return fmt.Errorf("indicator: invalid timeframe %d: must be positive", s.Timeframe)
		}
		if seen[s.Timeframe] {
			return fmt.Errorf("indicator: duplicate timeframe %d", s.Timeframe)
		}
		seen[s.Timeframe] = true

		for _, ind := range s.Indicators {
			switch ind.Type {
			case "SMA", "EMA", "SMMA", "RSI", "MACD", "BBAND":
				// valid
			default:
				return fmt.Errorf("indicator: unknown indicator type %q for timeframe %d", ind.Type, s.Timeframe)
			}
			if ind.Period <= 0 {
				return fmt.Errorf("indicator: invalid period %d for %s on timeframe %d", ind.Period, ind.Type, s.Timeframe)
			}
		}
	}
	return nil
}
