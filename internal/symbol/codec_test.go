package symbol

import "testing"

func TestToCanonical(t *testing.T) {
	cases := []struct {
		compact string
		want    string
	}{
		{"NIFTY03OCT2425950CE", "NIFTY:2024-10-03:OPT:25950:CE"},
		{"NIFTY03OCT2425950CE.NFO", "NIFTY:2024-10-03:OPT:25950:CE"},
		{"BANKNIFTY28NOV2446000PE.NFO", "BANKNIFTY:2024-11-28:OPT:46000:PE"},
	}
	for _, c := range cases {
		got, err := ToCanonical(c.compact)
		if err != nil {
			t.Fatalf("ToCanonical(%q) error: %v", c.compact, err)
		}
		if got != c.want {
			t.Errorf("ToCanonical(%q) = %q, want %q", c.compact, got, c.want)
		}
	}
}

func TestToCanonicalInvalid(t *testing.T) {
	if _, err := ToCanonical("not-a-ticker"); err == nil {
		t.Fatal("expected error for invalid compact ticker")
	}
}

func TestFromCanonical(t *testing.T) {
	cases := []struct {
		canonical string
		want      string
	}{
		{"NIFTY:2024-10-03:OPT:25950:CE", "NIFTY03OCT2425950CE"},
		{"BANKNIFTY:2024-11-28:OPT:46000:PE", "BANKNIFTY28NOV2446000PE"},
	}
	for _, c := range cases {
		got, err := FromCanonical(c.canonical)
		if err != nil {
			t.Fatalf("FromCanonical(%q) error: %v", c.canonical, err)
		}
		if got != c.want {
			t.Errorf("FromCanonical(%q) = %q, want %q", c.canonical, got, c.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	compacts := []string{"NIFTY03OCT2425950CE", "BANKNIFTY28NOV2446000PE"}
	for _, compact := range compacts {
		canonical, err := ToCanonical(compact)
		if err != nil {
			t.Fatalf("ToCanonical(%q) error: %v", compact, err)
		}
		back, err := FromCanonical(canonical)
		if err != nil {
			t.Fatalf("FromCanonical(%q) error: %v", canonical, err)
		}
		if back != compact {
			t.Errorf("round trip %q -> %q -> %q, want original back", compact, canonical, back)
		}
	}
}

func TestIsCompactFormat(t *testing.T) {
	if !IsCompactFormat("NIFTY03OCT2425950CE") {
		t.Error("expected compact format to match")
	}
	if IsCompactFormat("NIFTY:2024-10-03:OPT:25950:CE") {
		t.Error("canonical format should not match compact pattern")
	}
}

func TestIsCanonicalFormat(t *testing.T) {
	if !IsCanonicalFormat("NIFTY:2024-10-03:OPT:25950:CE") {
		t.Error("expected canonical format to match")
	}
	if IsCanonicalFormat("NIFTY03OCT2425950CE") {
		t.Error("compact format should not match canonical pattern")
	}
}
