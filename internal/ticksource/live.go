package ticksource

import (
	"context"
	"time"

	"github.com/sreeanthrds/optionbacktest/internal/model"
)

// LiveSource merges a live broker feed's unified-symbol tick stream into
// per-second batches. Unlike the backtest variant, it does not buffer and
// drain option ticks separately: once the universe resolver subscribes a
// contract over the live websocket, that contract's ticks simply start
// arriving on the same channel as the index ticks, exactly as a live feed
// would deliver them. Grounded on the teacher's internal/marketdata/ws.
// Ingest (parses raw websocket frames into model.Tick and pushes them onto
// a channel) generalized from a single tick channel into a per-second
// batch merger matching §4.5's batch-oriented Source contract.
type LiveSource struct {
	ticks    <-chan model.SecondTick
	resolver UniverseResolver
	day      time.Time

	out chan batchOrErr
}

type batchOrErr struct {
	batch model.Batch
	err   error
}

// NewLiveSource wraps a channel of unified-symbol second ticks (as
// produced by pkg/broker/live's websocket ingest) into a per-second Source.
func NewLiveSource(ticks <-chan model.SecondTick, resolver UniverseResolver, day time.Time) *LiveSource {
	return &LiveSource{
		ticks:    ticks,
		resolver: resolver,
		day:      day,
		out:      make(chan batchOrErr, 16),
	}
}

// Run pumps the input channel into per-second batches until ctx is
// cancelled or the input channel closes. Must be started in its own
// goroutine before the engine begins calling Next.
func (s *LiveSource) Run(ctx context.Context) {
	defer close(s.out)

	var pending []model.SecondTick
	var pendingSecond time.Time
	havePending := false

	flush := func() {
		if !havePending {
			return
		}
		s.out <- batchOrErr{batch: model.Batch{TS: pendingSecond, Ticks: pending}}
		pending = nil
		havePending = false
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case t, ok := <-s.ticks:
			if !ok {
				flush()
				return
			}
			sec := t.TS.Truncate(time.Second)

			if !isOption(t.Symbol) {
				if _, err := s.resolver.OnUnderlyingTick(t.Symbol, t.LTP, s.day, sec); err != nil {
					s.out <- batchOrErr{err: err}
					return
				}
			}

			if havePending && !sec.Equal(pendingSecond) {
				flush()
			}
			pendingSecond = sec
			havePending = true
			pending = append(pending, t)
		}
	}
}

// Next implements Source, blocking until a batch is ready, the source
// errors, or the underlying channel closes.
func (s *LiveSource) Next() (model.Batch, bool, error) {
	item, ok := <-s.out
	if !ok {
		return model.Batch{}, false, nil
	}
	if item.err != nil {
		return model.Batch{}, false, item.err
	}
	return item.batch, true, nil
}

func isOption(symbol string) bool {
	return model.IsOption(symbol)
}
