package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// OptionType distinguishes call and put contracts.
type OptionType string

const (
	CE OptionType = "CE"
	PE OptionType = "PE"
)

// StrikeCode is the strike-selection literal from a strategy's option
// pattern: ATM, ITM<k> or OTM<k> with 1<=k<=16 (spec §3).
type StrikeCode string

const (
	StrikeATM StrikeCode = "ATM"
)

// ParseStrikeOffset returns the strike offset in units of the underlying's
// strike interval for a StrikeCode: 0 for ATM, -k for ITM<k>, +k for OTM<k>.
func ParseStrikeOffset(code StrikeCode) (int, error) {
	s := string(code)
	switch {
	case s == string(StrikeATM):
		return 0, nil
	case strings.HasPrefix(s, "ITM"):
		k, err := strconv.Atoi(s[3:])
		if err != nil || k < 1 || k > 16 {
			return 0, fmt.Errorf("model: invalid strike code %q", code)
		}
		return -k, nil
	case strings.HasPrefix(s, "OTM"):
		k, err := strconv.Atoi(s[3:])
		if err != nil || k < 1 || k > 16 {
			return 0, fmt.Errorf("model: invalid strike code %q", code)
		}
		return k, nil
	default:
		return 0, fmt.Errorf("model: invalid strike code %q", code)
	}
}

// OptionPattern is a strategy's declarative reference to a dynamic option
// contract: it resolves to exactly one concrete canonical symbol at a given
// (spot, reference_date) via the option universe resolver. Pattern syntax
// never escapes the resolver (spec §9 design note).
type OptionPattern struct {
	UnderlyingAlias string
	ExpiryCode      string // W0, W1, M0, Q0, Y0, ...
	StrikeCode      StrikeCode
	OptionType      OptionType
}

// Key is a stable identity for caching resolved contracts by pattern.
func (p OptionPattern) Key() string {
	return p.UnderlyingAlias + ":" + p.ExpiryCode + ":" + string(p.StrikeCode) + ":" + string(p.OptionType)
}

// CanonicalUnderlying builds the canonical symbol for an index/equity
// underlying: "UNDERLYING".
func CanonicalUnderlying(underlying string) string {
	return underlying
}

// CanonicalFuture builds the canonical symbol for a future contract:
// "UNDERLYING:YYYY-MM-DD:FUT".
func CanonicalFuture(underlying string, expiry time.Time) string {
	return underlying + ":" + expiry.Format("2006-01-02") + ":FUT"
}

// CanonicalOption builds the canonical symbol for an option contract:
// "UNDERLYING:YYYY-MM-DD:OPT:STRIKE:{CE|PE}".
func CanonicalOption(underlying string, expiry time.Time, strike float64, opt OptionType) string {
	return underlying + ":" + expiry.Format("2006-01-02") + ":OPT:" + formatStrike(strike) + ":" + string(opt)
}

// IsOption reports whether a canonical symbol denotes an option contract.
func IsOption(canonical string) bool {
	parts := strings.Split(canonical, ":")
	return len(parts) == 5 && parts[2] == "OPT"
}

// IsFuture reports whether a canonical symbol denotes a future contract.
func IsFuture(canonical string) bool {
	parts := strings.Split(canonical, ":")
	return len(parts) == 3 && parts[2] == "FUT"
}

// Underlying extracts the underlying alias from any canonical symbol form.
func Underlying(canonical string) string {
	i := strings.IndexByte(canonical, ':')
	if i < 0 {
		return canonical
	}
	return canonical[:i]
}

func formatStrike(strike float64) string {
	if strike == float64(int64(strike)) {
		return strconv.FormatInt(int64(strike), 10)
	}
	return strconv.FormatFloat(strike, 'f', 2, 64)
}
