package symbol

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// scrip is one row of a broker's scrip master, normalized to the fields the
// resolver needs (spec §4.7), grounded on the column set
// original_source/src/symbol_mapping/symbol_cache_manager.py standardizes
// across AngelOne/Zerodha/AliceBlue/ClickHouse scrip masters.
type scrip struct {
	broker    string
	canonical string
	token     string
	lotSize   int64
	exchange  string
}

// Cache is a pre-loaded, read-only lookup table of broker instrument
// metadata keyed by canonical symbol. It is built once at startup — "missing
// data is a hard error" (spec §4.7): any lookup miss returns an error rather
// than a zero value, since a silently-wrong token or lot size corrupts every
// downstream order.
type Cache struct {
	mu      sync.RWMutex
	byKey   map[string]scrip // key: broker + "|" + canonical
	brokers []string
}

// NewCache returns an empty cache; call LoadBroker for each broker's scrip
// master before using it.
func NewCache() *Cache {
	return &Cache{byKey: make(map[string]scrip)}
}

// LoadBroker ingests one broker's scrip master CSV. The CSV must have a
// header row containing at minimum: tradingsymbol, name, instrument_token,
// expiry, strike, instrument_type, lot_size, exchange — the standardized
// column set every supported broker's file is mapped to before reaching
// this loader.
func (c *Cache) LoadBroker(broker, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("symbol: scrip master not found for broker %q: %w", broker, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("symbol: empty scrip master for broker %q (%s): %w", broker, path, err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	required := []string{"tradingsymbol", "name", "instrument_token", "instrument_type", "lot_size", "exchange"}
	for _, req := range required {
		if _, ok := col[req]; !ok {
			return fmt.Errorf("symbol: scrip master for broker %q (%s) missing required column %q", broker, path, req)
		}
	}

	loaded := 0
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("symbol: failed parsing scrip master for broker %q: %w", broker, err)
		}

		instType := strings.ToUpper(row[col["instrument_type"]])
		underlying := strings.ToUpper(row[col["name"]])
		lotSize, err := strconv.ParseInt(row[col["lot_size"]], 10, 64)
		if err != nil {
			return fmt.Errorf("symbol: invalid lot_size %q for %s in broker %q: %w", row[col["lot_size"]], row[col["tradingsymbol"]], broker, err)
		}

		canonical, err := canonicalFromRow(underlying, instType, col, row)
		if err != nil {
			// A row we don't understand (e.g. an unsupported instrument
			// type) is skipped, not fatal — the file as a whole still
			// loads. Only a wholesale load failure is a hard error.
			continue
		}

		c.mu.Lock()
		c.byKey[broker+"|"+canonical] = scrip{
			broker:    broker,
			canonical: canonical,
			token:     row[col["instrument_token"]],
			lotSize:   lotSize,
			exchange:  row[col["exchange"]],
		}
		c.mu.Unlock()
		loaded++
	}

	if loaded == 0 {
		return fmt.Errorf("symbol: scrip master for broker %q (%s) contained no recognizable instruments", broker, path)
	}

	c.mu.Lock()
	c.brokers = append(c.brokers, broker)
	c.mu.Unlock()
	return nil
}

func canonicalFromRow(underlying, instType string, col map[string]int, row []string) (string, error) {
	switch instType {
	case "CE", "PE":
		expiryCol, ok := col["expiry"]
		if !ok {
			return "", fmt.Errorf("missing expiry column")
		}
		strikeCol, ok := col["strike"]
		if !ok {
			return "", fmt.Errorf("missing strike column")
		}
		strike, err := strconv.ParseFloat(row[strikeCol], 64)
		if err != nil {
			return "", err
		}
		expiry, err := parseExpiryDate(row[expiryCol])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s:%s:OPT:%s:%s", underlying, expiry, formatStrikeForRow(strike), instType), nil
	case "FUT":
		expiryCol, ok := col["expiry"]
		if !ok {
			return "", fmt.Errorf("missing expiry column")
		}
		expiry, err := parseExpiryDate(row[expiryCol])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s:%s:FUT", underlying, expiry), nil
	case "EQ", "INDEX":
		return underlying, nil
	default:
		return "", fmt.Errorf("unsupported instrument type %q", instType)
	}
}

func formatStrikeForRow(strike float64) string {
	if strike == float64(int64(strike)) {
		return strconv.FormatInt(int64(strike), 10)
	}
	return strconv.FormatFloat(strike, 'f', 2, 64)
}

// parseExpiryDate accepts the common broker expiry layouts
// ("2024-10-03", "03-OCT-2024", "2024-10-03 00:00:00") and normalizes to
// YYYY-MM-DD.
func parseExpiryDate(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	layouts := []string{"2006-01-02", "02-Jan-2006", "2006-01-02 15:04:05"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("unrecognized expiry date format %q", raw)
}

// ToBroker resolves a canonical symbol to the given broker's trading token.
// Returns an error if the broker hasn't loaded this instrument — a missing
// mapping must never silently fall back to a different contract.
func (c *Cache) ToBroker(broker, canonical string) (token string, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.byKey[broker+"|"+canonical]
	if !ok {
		return "", fmt.Errorf("symbol: no %s mapping for canonical symbol %q", broker, canonical)
	}
	return s.token, nil
}

// Exchange resolves the exchange segment ("NFO", "BFO", "NSE", ...) a
// broker lists a canonical symbol under.
func (c *Cache) Exchange(broker, canonical string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.byKey[broker+"|"+canonical]
	if !ok {
		return "", fmt.Errorf("symbol: no %s mapping for canonical symbol %q", broker, canonical)
	}
	return s.exchange, nil
}

// LotSize resolves the contract lot size for a canonical symbol under a
// given broker's scrip master.
func (c *Cache) LotSize(broker, canonical string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.byKey[broker+"|"+canonical]
	if !ok {
		return 0, fmt.Errorf("symbol: no %s mapping for canonical symbol %q", broker, canonical)
	}
	return s.lotSize, nil
}

// Brokers lists the broker names successfully loaded into the cache.
func (c *Cache) Brokers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.brokers))
	copy(out, c.brokers)
	return out
}
