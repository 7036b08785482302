package engerr

import (
	"errors"
	"testing"
)

func TestFatalKinds(t *testing.T) {
	cases := map[Kind]bool{
		KindInitialization: true,
		KindDataIntegrity:  true,
		KindOrderLifecycle: false,
		KindResolution:     false,
	}
	for k, want := range cases {
		if k.Fatal() != want {
			t.Errorf("%s.Fatal() = %v, want %v", k, k.Fatal(), want)
		}
	}
}

func TestWrapNilCauseReturnsNil(t *testing.T) {
	if Wrap(KindResolution, "msg", nil) != nil {
		t.Error("Wrap with a nil cause should return nil")
	}
}

func TestUnwrapAndErrorsIs(t *testing.T) {
	sentinel := errors.New("boom")
	wrapped := Wrap(KindDataIntegrity, "gap in timeline", sentinel)
	if !errors.Is(wrapped, sentinel) {
		t.Error("expected errors.Is to see through EngineError.Unwrap")
	}
}

func TestWithContextChains(t *testing.T) {
	err := New(KindResolution, "unknown pattern").
		WithContext("symbol", "NIFTY").
		WithContext("pattern", "NIFTY:W0:ATM:CE")
	if err.Context["symbol"] != "NIFTY" || err.Context["pattern"] != "NIFTY:W0:ATM:CE" {
		t.Errorf("context = %+v, missing expected keys", err.Context)
	}
}

func TestErrorStringIncludesCause(t *testing.T) {
	sentinel := errors.New("disk full")
	err := Wrap(KindInitialization, "cannot open datastore", sentinel)
	got := err.Error()
	if got == "" {
		t.Fatal("expected non-empty error string")
	}
}
