package ticksource

import (
	"testing"
	"time"

	"github.com/sreeanthrds/optionbacktest/internal/markethours"
	"github.com/sreeanthrds/optionbacktest/internal/model"
)

func day() time.Time {
	return time.Date(2024, 10, 3, 0, 0, 0, 0, markethours.IST)
}

func at(h, m, s int) time.Time {
	return time.Date(2024, 10, 3, h, m, s, 0, markethours.IST)
}

type stubResolver struct {
	calls []string
	err   error
}

func (r *stubResolver) OnUnderlyingTick(underlying string, spot float64, day, ts time.Time) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.calls = append(r.calls, underlying)
	return nil, nil
}

type stubDrainer struct {
	bySecond map[int64][]model.SecondTick
}

func (d *stubDrainer) TicksAt(ts time.Time) []model.SecondTick {
	return d.bySecond[ts.Unix()]
}

func TestBacktestSourceVisitsEverySecondEvenWithoutTicks(t *testing.T) {
	resolver := &stubResolver{}
	drainer := &stubDrainer{bySecond: map[int64][]model.SecondTick{}}
	src := NewBacktestSource(day(), nil, resolver, drainer)

	count := 0
	for {
		_, ok, err := src.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		count++
	}
	wantSeconds := int(at(15, 30, 0).Sub(at(9, 15, 0)).Seconds()) + 1
	if count != wantSeconds {
		t.Errorf("visited %d seconds, want %d (09:15:00-15:30:00 inclusive)", count, wantSeconds)
	}
}

func TestBacktestSourceFeedsResolverBeforeDraining(t *testing.T) {
	resolver := &stubResolver{}
	optionTick := model.SecondTick{Tick: model.Tick{Symbol: "NIFTY:2024-10-03:OPT:25800:CE", TS: at(9, 17, 2), LTP: 120}}
	drainer := &stubDrainer{bySecond: map[int64][]model.SecondTick{
		at(9, 17, 2).Unix(): {optionTick},
	}}
	indexTicks := []model.SecondTick{
		{Tick: model.Tick{Symbol: "NIFTY", TS: at(9, 17, 2), LTP: 25800}},
	}
	src := NewBacktestSource(day(), indexTicks, resolver, drainer)

	var found *model.Batch
	for {
		b, ok, err := src.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		if b.TS.Equal(at(9, 17, 2)) {
			cp := b
			found = &cp
			break
		}
	}
	if found == nil {
		t.Fatal("expected to reach the 09:17:02 batch")
	}
	if len(found.Ticks) != 2 {
		t.Fatalf("batch ticks = %+v, want index tick + option tick merged", found.Ticks)
	}
	if len(resolver.calls) != 1 || resolver.calls[0] != "NIFTY" {
		t.Errorf("resolver calls = %v, want [NIFTY]", resolver.calls)
	}
}

func TestBacktestSourcePropagatesResolverError(t *testing.T) {
	resolver := &stubResolver{err: errResolverBoom}
	drainer := &stubDrainer{bySecond: map[int64][]model.SecondTick{}}
	indexTicks := []model.SecondTick{
		{Tick: model.Tick{Symbol: "NIFTY", TS: at(9, 15, 0), LTP: 25800}},
	}
	src := NewBacktestSource(day(), indexTicks, resolver, drainer)

	for {
		_, ok, err := src.Next()
		if err != nil {
			return // expected
		}
		if !ok {
			t.Fatal("expected a resolver error before exhaustion")
		}
	}
}

var errResolverBoom = &stubErr{"resolver boom"}

type stubErr struct{ msg string }

func (e *stubErr) Error() string { return e.msg }
