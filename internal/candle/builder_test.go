package candle

import (
	"testing"
	"time"

	"github.com/sreeanthrds/optionbacktest/internal/markethours"
	"github.com/sreeanthrds/optionbacktest/internal/model"
)

func ist(h, m, s int) time.Time {
	return time.Date(2024, 10, 3, h, m, s, 0, markethours.IST)
}

func tick(ts time.Time, o, hi, lo, c float64, vol int64) model.SecondTick {
	return model.SecondTick{Tick: model.Tick{TS: ts}, Open: o, High: hi, Low: lo, Close: c, Volume: vol}
}

func TestBucketStartAlignsToMarketOpen(t *testing.T) {
	got := bucketStart(ist(9, 17, 30), 5)
	want := ist(9, 15, 0)
	if !got.Equal(want) {
		t.Errorf("bucketStart(09:17:30, 5m) = %v, want %v", got, want)
	}

	got = bucketStart(ist(9, 22, 0), 5)
	want = ist(9, 20, 0)
	if !got.Equal(want) {
		t.Errorf("bucketStart(09:22:00, 5m) = %v, want %v", got, want)
	}
}

func TestBucketStartBeforeOpenClampsToOpen(t *testing.T) {
	got := bucketStart(ist(9, 10, 0), 5)
	want := ist(9, 15, 0)
	if !got.Equal(want) {
		t.Errorf("bucketStart before open = %v, want clamp to %v", got, want)
	}
}

func TestProcessMergesWithinBucket(t *testing.T) {
	b := New()
	_, forming, discarded := b.Process("NIFTY", 5, tick(ist(9, 15, 0), 100, 101, 99, 100, 10))
	if discarded {
		t.Fatal("first tick should never be discarded")
	}
	if !forming.BucketStart.Equal(ist(9, 15, 0)) {
		t.Errorf("bucket start = %v, want 09:15:00", forming.BucketStart)
	}

	finalized, forming, discarded := b.Process("NIFTY", 5, tick(ist(9, 16, 0), 100, 105, 98, 103, 5))
	if discarded || finalized != nil {
		t.Fatalf("expected a same-bucket merge, got finalized=%v discarded=%v", finalized, discarded)
	}
	if forming.High != 105 || forming.Low != 98 || forming.Close != 103 || forming.Volume != 15 {
		t.Errorf("merged candle = %+v, want High=105 Low=98 Close=103 Volume=15", forming)
	}
}

func TestProcessFinalizesOnNewBucket(t *testing.T) {
	b := New()
	b.Process("NIFTY", 5, tick(ist(9, 15, 0), 100, 101, 99, 100, 10))
	b.Process("NIFTY", 5, tick(ist(9, 17, 0), 100, 102, 99, 101, 5))

	finalized, forming, discarded := b.Process("NIFTY", 5, tick(ist(9, 20, 0), 102, 103, 101, 102, 8))
	if discarded {
		t.Fatal("new-bucket tick should not be discarded")
	}
	if finalized == nil {
		t.Fatal("expected the prior bucket to finalize")
	}
	if finalized.Close != 101 || finalized.Volume != 15 {
		t.Errorf("finalized candle = %+v, want Close=101 Volume=15", finalized)
	}
	if !forming.BucketStart.Equal(ist(9, 20, 0)) {
		t.Errorf("new forming bucket = %v, want 09:20:00", forming.BucketStart)
	}
}

func TestProcessDiscardsStaleTick(t *testing.T) {
	b := New()
	b.Process("NIFTY", 5, tick(ist(9, 20, 0), 100, 101, 99, 100, 10))

	_, _, discarded := b.Process("NIFTY", 5, tick(ist(9, 10, 0), 90, 91, 89, 90, 1))
	if !discarded {
		t.Fatal("expected a far out-of-order tick to be discarded")
	}
}

func TestForceFlushReturnsAndClearsForming(t *testing.T) {
	b := New()
	b.Process("NIFTY", 5, tick(ist(9, 15, 0), 100, 101, 99, 100, 10))

	c := b.ForceFlush("NIFTY", 5)
	if c == nil {
		t.Fatal("expected a forming candle to flush")
	}
	if c.Close != 100 {
		t.Errorf("flushed candle close = %v, want 100", c.Close)
	}
	if b.ForceFlush("NIFTY", 5) != nil {
		t.Error("expected nil on a second flush with no forming candle")
	}
}

func TestFlushAllDrainsEverySymbolAndTimeframe(t *testing.T) {
	b := New()
	b.Process("NIFTY", 5, tick(ist(9, 15, 0), 100, 101, 99, 100, 10))
	b.Process("BANKNIFTY", 1, tick(ist(9, 15, 0), 200, 201, 199, 200, 5))

	all := b.FlushAll()
	if len(all) != 2 {
		t.Fatalf("FlushAll returned %d candles, want 2", len(all))
	}
	if len(b.states) != 0 {
		t.Error("expected all forming state cleared after FlushAll")
	}
}
