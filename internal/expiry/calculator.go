// Package expiry resolves an expiry code (W0, W1, M0, Q0, Y0, ...) against
// the sorted list of an underlying's available expiry dates, grounded on
// original_source/expiry_calculator.py: no weekday assumptions (no
// hard-coded "Thursday expiry") — expiry dates come entirely from the
// historical data store.
package expiry

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sreeanthrds/optionbacktest/internal/model"
)

// Calculator resolves expiry codes for a single backtest run. It caches the
// sorted expiry list per (underlying, referenceDate) pair so a repeated
// resolution within the same trading day never re-queries the store.
type Calculator struct {
	store model.HistoricalDataStore

	mu    sync.Mutex
	cache map[cacheKey][]time.Time
}

type cacheKey struct {
	underlying string
	refDate    string // YYYY-MM-DD
}

// New returns a Calculator backed by store.
func New(store model.HistoricalDataStore) *Calculator {
	return &Calculator{
		store: store,
		cache: make(map[cacheKey][]time.Time),
	}
}

// Resolve returns the expiry date a code (e.g. "W0", "M1", "Q0", "Y2")
// denotes for underlying as of referenceDate.
//
//   - W<k>: the (k+1)-th nearest expiry >= referenceDate, in date order.
//   - M<k>: the MAX (last) expiry within the (k+1)-th calendar month that
//     has an expiry >= referenceDate.
//   - Q<k>: the MAX expiry within the (k+1)-th calendar quarter.
//   - Y<k>: the MAX expiry within the (k+1)-th calendar year.
func (c *Calculator) Resolve(underlying, code string, referenceDate time.Time) (time.Time, error) {
	if len(code) < 2 {
		return time.Time{}, fmt.Errorf("expiry: invalid expiry code %q", code)
	}
	kind := code[0]
	offset, err := strconv.Atoi(code[1:])
	if err != nil || offset < 0 {
		return time.Time{}, fmt.Errorf("expiry: invalid expiry code %q", code)
	}

	all, err := c.expiriesFor(underlying, referenceDate)
	if err != nil {
		return time.Time{}, err
	}
	if len(all) == 0 {
		return time.Time{}, fmt.Errorf("expiry: no expiry data available for %q as of %s", underlying, referenceDate.Format("2006-01-02"))
	}

	switch kind {
	case 'W':
		return weeklyExpiry(all, offset, code)
	case 'M':
		return groupedExpiry(all, offset, code, monthKey)
	case 'Q':
		return groupedExpiry(all, offset, code, quarterKey)
	case 'Y':
		return groupedExpiry(all, offset, code, yearKey)
	default:
		return time.Time{}, fmt.Errorf("expiry: invalid expiry type %q in code %q, supported: W, M, Q, Y", string(kind), code)
	}
}

func (c *Calculator) expiriesFor(underlying string, referenceDate time.Time) ([]time.Time, error) {
	key := cacheKey{underlying: underlying, refDate: referenceDate.Format("2006-01-02")}

	c.mu.Lock()
	if cached, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	all, err := c.store.Expiries(underlying, referenceDate)
	if err != nil {
		return nil, fmt.Errorf("expiry: fetching expiries for %q: %w", underlying, err)
	}
	sorted := append([]time.Time(nil), all...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	c.mu.Lock()
	c.cache[key] = sorted
	c.mu.Unlock()
	return sorted, nil
}

// Preload populates the cache for a batch of underlyings ahead of a
// backtest run, avoiding a per-resolution store round trip.
func (c *Calculator) Preload(underlyings []string, referenceDate time.Time) error {
	for _, u := range underlyings {
		if _, err := c.expiriesFor(u, referenceDate); err != nil {
			return err
		}
	}
	return nil
}

func weeklyExpiry(sorted []time.Time, offset int, code string) (time.Time, error) {
	if offset >= len(sorted) {
		return time.Time{}, fmt.Errorf("expiry: not enough expiries for %s, only %d available", code, len(sorted))
	}
	return sorted[offset], nil
}

// groupedExpiry buckets sorted expiries by a grouping key (month/quarter/
// year), keeps the MAX (latest) expiry per group since the input is sorted
// ascending, then returns the group at the requested offset.
func groupedExpiry(sorted []time.Time, offset int, code string, key func(time.Time) string) (time.Time, error) {
	groups := make(map[string]time.Time)
	var order []string
	for _, exp := range sorted {
		k := key(exp)
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = exp // later (larger) timestamp overwrites, sorted input guarantees MAX wins
	}
	if offset >= len(order) {
		return time.Time{}, fmt.Errorf("expiry: not enough groups for %s, only %d available", code, len(order))
	}
	return groups[order[offset]], nil
}

func monthKey(t time.Time) string   { return fmt.Sprintf("%04d%02d", t.Year(), int(t.Month())) }
func quarterKey(t time.Time) string { return fmt.Sprintf("%04d%02d", t.Year(), (int(t.Month())-1)/3+1) }
func yearKey(t time.Time) string    { return fmt.Sprintf("%04d", t.Year()) }
