// Package symbol converts between the canonical symbol grammar (spec §3)
// and the compact broker/exchange ticker formats the data stores and
// brokerage APIs actually speak, and resolves canonical symbols to broker
// tokens and lot sizes via a per-broker scrip cache.
package symbol

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sreeanthrds/optionbacktest/internal/model"
)

// compactPattern matches broker compact option tickers such as
// "NIFTY03OCT2425950CE" or "NIFTY03OCT2425950CE.NFO" — grounded on
// original_source/src/symbol_mapping/clickhouse_ticker_converter.py.
var compactPattern = regexp.MustCompile(`^([A-Z]+?)(\d{2})([A-Z]{3})(\d{2})(\d+)(CE|PE)(?:\.[A-Z]+)?$`)

var monthByName = map[string]time.Month{
	"JAN": time.January, "FEB": time.February, "MAR": time.March,
	"APR": time.April, "MAY": time.May, "JUN": time.June,
	"JUL": time.July, "AUG": time.August, "SEP": time.September,
	"OCT": time.October, "NOV": time.November, "DEC": time.December,
}

var monthName = func() map[time.Month]string {
	m := make(map[time.Month]string, 12)
	for name, mo := range monthByName {
		m[mo] = name
	}
	return m
}()

// ToCanonical converts a compact broker option ticker (e.g.
// "NIFTY03OCT2425950CE", optionally suffixed ".NFO"/".BFO") into the
// canonical form "UNDERLYING:YYYY-MM-DD:OPT:STRIKE:{CE|PE}".
func ToCanonical(compact string) (string, error) {
	m := compactPattern.FindStringSubmatch(compact)
	if m == nil {
		return "", fmt.Errorf("symbol: invalid compact ticker %q, expected UNDERLYINGDDMMMYY STRIKE{CE|PE}[.EXCH]", compact)
	}
	underlying, dayStr, monStr, yearStr, strikeStr, optType := m[1], m[2], m[3], m[4], m[5], m[6]

	day, err := strconv.Atoi(dayStr)
	if err != nil {
		return "", fmt.Errorf("symbol: invalid day in ticker %q: %w", compact, err)
	}
	mon, ok := monthByName[monStr]
	if !ok {
		return "", fmt.Errorf("symbol: invalid month %q in ticker %q", monStr, compact)
	}
	yr, err := strconv.Atoi(yearStr)
	if err != nil {
		return "", fmt.Errorf("symbol: invalid year in ticker %q: %w", compact, err)
	}
	strike, err := strconv.ParseFloat(strikeStr, 64)
	if err != nil {
		return "", fmt.Errorf("symbol: invalid strike in ticker %q: %w", compact, err)
	}

	expiry := time.Date(2000+yr, mon, day, 0, 0, 0, 0, time.UTC)
	return model.CanonicalOption(underlying, expiry, strike, model.OptionType(optType)), nil
}

// FromCanonical converts a canonical option symbol
// "UNDERLYING:YYYY-MM-DD:OPT:STRIKE:{CE|PE}" into the compact broker ticker
// form "UNDERLYINGDDMMMYYSTRIKE{CE|PE}".
func FromCanonical(canonical string) (string, error) {
	parts := strings.Split(canonical, ":")
	if len(parts) != 5 || parts[2] != "OPT" {
		return "", fmt.Errorf("symbol: not a canonical option symbol: %q", canonical)
	}
	underlying, dateStr, strikeStr, optType := parts[0], parts[1], parts[3], parts[4]
	if optType != string(model.CE) && optType != string(model.PE) {
		return "", fmt.Errorf("symbol: invalid option type %q in %q", optType, canonical)
	}
	expiry, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return "", fmt.Errorf("symbol: invalid expiry date in %q: %w", canonical, err)
	}
	strike, err := strconv.ParseFloat(strikeStr, 64)
	if err != nil {
		return "", fmt.Errorf("symbol: invalid strike in %q: %w", canonical, err)
	}
	strikeFmt := strconv.FormatInt(int64(strike), 10)
	if strike != float64(int64(strike)) {
		strikeFmt = strconv.FormatFloat(strike, 'f', 2, 64)
	}
	return fmt.Sprintf("%s%02d%s%02d%s%s", underlying, expiry.Day(), monthName[expiry.Month()], expiry.Year()%100, strikeFmt, optType), nil
}

// IsCompactFormat reports whether symbol matches the compact broker ticker
// grammar rather than the canonical grammar.
func IsCompactFormat(sym string) bool {
	return compactPattern.MatchString(sym)
}

// IsCanonicalFormat reports whether symbol matches the canonical option
// grammar "UNDERLYING:YYYY-MM-DD:OPT:STRIKE:{CE|PE}".
func IsCanonicalFormat(sym string) bool {
	parts := strings.Split(sym, ":")
	return len(parts) == 5 && parts[2] == "OPT" && (parts[4] == string(model.CE) || parts[4] == string(model.PE))
}
