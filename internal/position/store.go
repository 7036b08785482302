// Package position is the append-only, VPI-keyed position store (spec
// §4.8): open_position stamps a lineage reEntryNum, close_position appends
// to the exit history and flips status, and every tick's latest LTP is
// folded in so live P&L stays current.
//
// Grounded on the teacher's internal/portfolio package (a mutex-guarded
// position map plus a weighted-average-cost PnLTracker), generalized from
// its single-position-per-instrument, int64-paise, "exchange:token"-keyed
// design to the multi-position-per-instrument (options, re-entries),
// float64-rupee, VPI-keyed shape model.Position already defines.
package position

import (
	"fmt"
	"sync"
	"time"

	"github.com/sreeanthrds/optionbacktest/internal/model"
)

// Store is safe for concurrent reads and writes, matching the teacher's
// portfolio.Portfolio/PnLTracker convention even though the engine itself
// runs its tick loop on a single goroutine — the store is also read by
// reporting/dashboard code that may run on another.
type Store struct {
	mu     sync.RWMutex
	seq    int
	byVPI  map[string]*model.Position
	opened []string // insertion order, for deterministic get_all_positions
}

// New returns an empty Store.
func New() *Store {
	return &Store{byVPI: make(map[string]*model.Position)}
}

// nextVPI mints a new Virtual Position Id. No VPI grammar is specified by
// the strategy document format; a simple incrementing sequence is
// sufficient since VPIs are never parsed, only compared and looked up.
func (s *Store) nextVPI() string {
	s.seq++
	return fmt.Sprintf("VPI%d", s.seq)
}

// Open records a new position's entry leg and stamps the reEntryNum
// inherited from the Entry node that filled it (spec §4.8, §8 property 4).
func (s *Store) Open(nodeID, symbol string, side model.Side, qty int64, price float64, t time.Time, reEntryNum int, spot float64) model.Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	vpi := s.nextVPI()
	pos := &model.Position{
		VPI:         vpi,
		NodeID:      nodeID,
		Symbol:      symbol,
		Quantity:    qty,
		Side:        side,
		EntryPrice:  price,
		EntryTime:   t,
		ReEntryNum:  reEntryNum,
		SpotAtEntry: spot,
		Status:      model.PositionOpen,
		LastLTP:     price,
		Transactions: []model.Transaction{
			{Side: side, Price: price, Qty: qty, Time: t},
		},
	}
	s.byVPI[vpi] = pos
	s.opened = append(s.opened, vpi)
	return *pos
}

// Close appends an exit record and flips the position to CLOSED. Returns an
// error if vpi is unknown or already closed — double-closing a position
// would silently corrupt its realized P&L.
func (s *Store) Close(vpi string, price float64, t time.Time, reason, triggerNodeID string, reEntryNum int) (model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.byVPI[vpi]
	if !ok {
		return model.Position{}, fmt.Errorf("position: unknown vpi %q", vpi)
	}
	if pos.Status == model.PositionClosed {
		return model.Position{}, fmt.Errorf("position: vpi %q already closed", vpi)
	}

	pos.Transactions = append(pos.Transactions, model.Transaction{
		Side: pos.Side.Opposite(), Price: price, Qty: pos.Quantity, Time: t,
	})
	pos.ExitHistory = append(pos.ExitHistory, model.ExitRecord{
		Price: price, Time: t, Reason: reason, TriggerNodeID: triggerNodeID, ReEntryNum: reEntryNum,
	})
	pos.Status = model.PositionClosed
	pos.LastLTP = price
	return *pos, nil
}

// Get looks up a single position by VPI.
func (s *Store) Get(vpi string) (model.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.byVPI[vpi]
	if !ok {
		return model.Position{}, false
	}
	return *pos, true
}

// OpenPositions returns every position still OPEN, oldest-entry-first.
func (s *Store) OpenPositions() []model.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Position
	for _, vpi := range s.opened {
		pos := s.byVPI[vpi]
		if pos.Status == model.PositionOpen {
			out = append(out, *pos)
		}
	}
	return out
}

// All returns every position ever opened, oldest-entry-first (spec §4.8
// get_all_positions).
func (s *Store) All() []model.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Position, 0, len(s.opened))
	for _, vpi := range s.opened {
		out = append(out, *s.byVPI[vpi])
	}
	return out
}

// MarkToMarket refreshes every open position's LastLTP from markAt, which
// an engine calls once per tick with the current market view's LTP lookup
// so unrealized P&L is always current (spec §4.8: "updated with every
// tick's latest LTP").
func (s *Store) MarkToMarket(markAt func(symbol string) (float64, bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pos := range s.byVPI {
		if pos.Status != model.PositionOpen {
			continue
		}
		if ltp, ok := markAt(pos.Symbol); ok {
			pos.LastLTP = ltp
		}
	}
}

// TotalPnL sums realized P&L across every closed position and unrealized
// P&L across every still-open one, marking each open position to markAt
// first so the total reflects the caller's current view even if
// MarkToMarket hasn't run yet this tick.
func (s *Store) TotalPnL(markAt func(symbol string) (float64, bool)) (realized, unrealized float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pos := range s.byVPI {
		if pos.Status == model.PositionClosed {
			realized += pos.RealizedPnL()
			continue
		}
		if ltp, ok := markAt(pos.Symbol); ok {
			pos.LastLTP = ltp
		}
		unrealized += pos.UnrealizedPnL()
	}
	return realized, unrealized
}
