package optionuniverse

import (
	"errors"
	"testing"
	"time"

	"github.com/sreeanthrds/optionbacktest/internal/model"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ts(y int, m time.Month, d, h, mi, s int) time.Time {
	return time.Date(y, m, d, h, mi, s, 0, time.UTC)
}

type stubExpiry struct{ date time.Time }

func (s *stubExpiry) Resolve(underlying, code string, referenceDate time.Time) (time.Time, error) {
	return s.date, nil
}

type stubLoader struct {
	loaded []string
	err    error
}

func (s *stubLoader) LoadOptionContract(contractKey string, day, fromTS time.Time) (float64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.loaded = append(s.loaded, contractKey)
	return 100, nil
}

func niftyPattern(expiryCode string, strike model.StrikeCode, opt model.OptionType) model.OptionPattern {
	return model.OptionPattern{UnderlyingAlias: "NIFTY", ExpiryCode: expiryCode, StrikeCode: strike, OptionType: opt}
}

func TestDiscoveryResolvesOnFirstTick(t *testing.T) {
	exp := &stubExpiry{date: day(2024, 10, 3)}
	loader := &stubLoader{}
	r := NewResolver([]model.OptionPattern{niftyPattern("W0", model.StrikeATM, model.CE)}, exp, loader, nil)

	subscribed, err := r.OnUnderlyingTick("NIFTY", 25800, day(2024, 10, 3), ts(2024, 10, 3, 9, 17, 2))
	if err != nil {
		t.Fatalf("OnUnderlyingTick: %v", err)
	}
	want := "NIFTY:2024-10-03:OPT:25800:CE"
	if len(subscribed) != 1 || subscribed[0] != want {
		t.Fatalf("subscribed = %v, want [%s]", subscribed, want)
	}
	if !r.IsActive(want) {
		t.Error("expected the resolved contract to be active")
	}
}

func TestRebalanceIsAdditiveNotReplacing(t *testing.T) {
	exp := &stubExpiry{date: day(2024, 10, 3)}
	loader := &stubLoader{}
	r := NewResolver([]model.OptionPattern{niftyPattern("W0", model.StrikeATM, model.CE)}, exp, loader, nil)

	r.OnUnderlyingTick("NIFTY", 25800, day(2024, 10, 3), ts(2024, 10, 3, 9, 17, 2))
	subscribed, err := r.OnUnderlyingTick("NIFTY", 25852, day(2024, 10, 3), ts(2024, 10, 3, 10, 0, 0))
	if err != nil {
		t.Fatalf("OnUnderlyingTick: %v", err)
	}
	if len(subscribed) != 1 || subscribed[0] != "NIFTY:2024-10-03:OPT:25850:CE" {
		t.Fatalf("subscribed = %v, want the new ATM-shifted contract only", subscribed)
	}

	active := r.ActiveContracts()
	if len(active) != 2 {
		t.Fatalf("active contracts = %v, want 2 (old contract must not be dropped)", active)
	}
	if !r.IsActive("NIFTY:2024-10-03:OPT:25800:CE") {
		t.Error("original ATM contract must remain active after a shift")
	}
}

func TestSubThresholdMoveDoesNotRebalance(t *testing.T) {
	exp := &stubExpiry{date: day(2024, 10, 3)}
	loader := &stubLoader{}
	r := NewResolver([]model.OptionPattern{niftyPattern("W0", model.StrikeATM, model.CE)}, exp, loader, nil)

	r.OnUnderlyingTick("NIFTY", 25800, day(2024, 10, 3), ts(2024, 10, 3, 9, 17, 2))
	subscribed, err := r.OnUnderlyingTick("NIFTY", 25810, day(2024, 10, 3), ts(2024, 10, 3, 9, 20, 0))
	if err != nil {
		t.Fatalf("OnUnderlyingTick: %v", err)
	}
	if len(subscribed) != 0 {
		t.Errorf("expected no new subscriptions for a sub-interval move, got %v", subscribed)
	}
}

func TestOscillationReusesCachedSymbol(t *testing.T) {
	exp := &stubExpiry{date: day(2024, 10, 3)}
	loader := &stubLoader{}
	r := NewResolver([]model.OptionPattern{niftyPattern("W0", model.StrikeATM, model.CE)}, exp, loader, nil)

	r.OnUnderlyingTick("NIFTY", 25800, day(2024, 10, 3), ts(2024, 10, 3, 9, 17, 2))
	r.OnUnderlyingTick("NIFTY", 25852, day(2024, 10, 3), ts(2024, 10, 3, 10, 0, 0))
	// Shift back down by a full interval: resolves again but hits the
	// symbol cache instead of asking the loader to reload 25800-CE.
	r.OnUnderlyingTick("NIFTY", 25800, day(2024, 10, 3), ts(2024, 10, 3, 10, 5, 0))

	count := 0
	for _, sym := range loader.loaded {
		if sym == "NIFTY:2024-10-03:OPT:25800:CE" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("25800-CE was loaded %d times, want exactly 1 (already active, never reloaded)", count)
	}
}

func TestInvalidStrikeCodeIsResolutionError(t *testing.T) {
	exp := &stubExpiry{date: day(2024, 10, 3)}
	loader := &stubLoader{}
	bad := model.OptionPattern{UnderlyingAlias: "NIFTY", ExpiryCode: "W0", StrikeCode: model.StrikeCode("XYZ"), OptionType: model.CE}
	r := NewResolver([]model.OptionPattern{bad}, exp, loader, nil)

	_, err := r.OnUnderlyingTick("NIFTY", 25800, day(2024, 10, 3), ts(2024, 10, 3, 9, 17, 2))
	if err == nil {
		t.Fatal("expected an error for an invalid strike code")
	}
}

func TestLoaderErrorPropagates(t *testing.T) {
	exp := &stubExpiry{date: day(2024, 10, 3)}
	sentinel := errors.New("store unavailable")
	loader := &stubLoader{err: sentinel}
	r := NewResolver([]model.OptionPattern{niftyPattern("W0", model.StrikeATM, model.CE)}, exp, loader, nil)

	_, err := r.OnUnderlyingTick("NIFTY", 25800, day(2024, 10, 3), ts(2024, 10, 3, 9, 17, 2))
	if !errors.Is(err, sentinel) {
		t.Errorf("expected the loader's error to propagate, got %v", err)
	}
}

func TestBankniftyUsesHundredPointInterval(t *testing.T) {
	exp := &stubExpiry{date: day(2024, 10, 3)}
	loader := &stubLoader{}
	r := NewResolver([]model.OptionPattern{
		{UnderlyingAlias: "BANKNIFTY", ExpiryCode: "W0", StrikeCode: model.StrikeATM, OptionType: model.CE},
	}, exp, loader, nil)

	subscribed, err := r.OnUnderlyingTick("BANKNIFTY", 51234, day(2024, 10, 3), ts(2024, 10, 3, 9, 17, 2))
	if err != nil {
		t.Fatal(err)
	}
	if len(subscribed) != 1 || subscribed[0] != "BANKNIFTY:2024-10-03:OPT:51200:CE" {
		t.Errorf("subscribed = %v, want ATM rounded to the nearest 100", subscribed)
	}
}
