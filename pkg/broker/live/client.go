// Package live implements model.OrderPlacer against Angel One's SmartAPI
// HTTP surface, TOTP-authenticated, for the engine's live-trading mode
// (backtests use internal/broker.InstantFill instead).
//
// Adapted from pkg/smartconnect/client.go (trimmed to the login and order
// routes an order placer needs) and the TOTP call site in the teacher's
// cmd/mdengine/main.go (totp.GenerateCode(secret, time.Now()) ahead of
// GenerateSession).
package live

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/sreeanthrds/optionbacktest/internal/model"
	"github.com/sreeanthrds/optionbacktest/internal/symbol"
)

const defaultRootURL = "https://apiconnect.angelone.in"

var routes = map[string]string{
	"login":       "/rest/auth/angelbroking/user/v1/loginByPassword",
	"order.place": "/rest/secure/angelbroking/order/v1/placeOrder",
	"order.cancel": "/rest/secure/angelbroking/order/v1/cancelOrder",
	"order.book":  "/rest/secure/angelbroking/order/v1/getOrderBook",
}

// Config bundles one broker account's login credentials and wiring,
// following the teacher's Config-struct constructor-injection convention.
type Config struct {
	APIKey     string
	ClientCode string
	Password   string
	TOTPSecret string

	// Broker is the Cache's per-broker key ("angelone") this client's
	// symbols are resolved under.
	Broker  string
	Symbols *symbol.Cache

	RootURL string
	Timeout time.Duration
}

// Client is a TOTP-authenticated SmartAPI session implementing
// model.OrderPlacer.
type Client struct {
	cfg  Config
	http *http.Client

	mu          sync.Mutex
	accessToken string
	feedToken   string
	orders      map[string]*model.Order
}

// New returns a Client not yet logged in; call Login before placing orders.
func New(cfg Config) *Client {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRootURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout, Transport: &http.Transport{TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12}}},
		orders: make(map[string]*model.Order),
	}
}

// Login generates a fresh TOTP code from the configured secret and
// exchanges client code/password/TOTP for a session, storing the JWT and
// feed token for subsequent requests.
func (c *Client) Login() error {
	code, err := totp.GenerateCode(c.cfg.TOTPSecret, time.Now())
	if err != nil {
		return fmt.Errorf("live: TOTP generation failed: %w", err)
	}
	res, err := c.post("login", map[string]any{
		"clientcode": c.cfg.ClientCode,
		"password":   c.cfg.Password,
		"totp":       code,
	})
	if err != nil {
		return err
	}
	data, ok := res["data"].(map[string]any)
	if !ok {
		return fmt.Errorf("live: unexpected login response shape")
	}
	jwt, _ := data["jwtToken"].(string)
	feed, _ := data["feedToken"].(string)
	if jwt == "" {
		return fmt.Errorf("live: login response carried no jwtToken")
	}

	c.mu.Lock()
	c.accessToken = jwt
	c.feedToken = feed
	c.mu.Unlock()
	return nil
}

// FeedToken returns the token the websocket ingest authenticates with;
// empty until Login succeeds.
func (c *Client) FeedToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.feedToken
}

func (c *Client) PlaceOrder(sym, exchange string, side model.Side, qty int64, orderType model.OrderType, productType string, price float64) (model.Order, error) {
	token, err := c.cfg.Symbols.ToBroker(c.cfg.Broker, sym)
	if err != nil {
		return model.Order{}, err
	}
	tradingSymbol := sym
	if model.IsOption(sym) {
		if ts, err := symbol.FromCanonical(sym); err == nil {
			tradingSymbol = ts
		}
	}

	priceStr := "0"
	if orderType == model.OrderLimit {
		priceStr = strconv.FormatFloat(price, 'f', 2, 64)
	}
	params := map[string]any{
		"variety":         "NORMAL",
		"tradingsymbol":   tradingSymbol,
		"symboltoken":     token,
		"transactiontype": string(side),
		"exchange":        exchange,
		"ordertype":       string(orderType),
		"producttype":     productType,
		"duration":        "DAY",
		"quantity":        qty,
		"price":           priceStr,
	}

	res, err := c.post("order.place", params)
	if err != nil {
		return model.Order{}, err
	}
	data, ok := res["data"].(map[string]any)
	if !ok {
		return model.Order{}, fmt.Errorf("live: place order: unexpected response shape: %v", res)
	}
	orderID, _ := data["orderid"].(string)
	if orderID == "" {
		return model.Order{}, fmt.Errorf("live: place order: no orderid in response: %v", res)
	}

	o := model.Order{
		OrderID: orderID, Symbol: sym, Exchange: exchange, Side: side,
		Quantity: qty, OrderType: orderType, Price: price, Status: model.OrderPending,
	}
	c.mu.Lock()
	c.orders[orderID] = &o
	c.mu.Unlock()
	return o, nil
}

func (c *Client) GetOrderStatus(orderID string, refreshFromBroker bool) (model.Order, error) {
	c.mu.Lock()
	local, ok := c.orders[orderID]
	c.mu.Unlock()
	if !ok {
		return model.Order{}, fmt.Errorf("live: unknown order %q", orderID)
	}
	if !refreshFromBroker {
		return *local, nil
	}

	res, err := c.get("order.book", nil)
	if err != nil {
		return model.Order{}, err
	}
	rows, _ := res["data"].([]any)
	for _, raw := range rows {
		row, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if id, _ := row["orderid"].(string); id != orderID {
			continue
		}
		applyOrderBookRow(local, row)
		break
	}

	c.mu.Lock()
	updated := *local
	c.mu.Unlock()
	return updated, nil
}

func applyOrderBookRow(o *model.Order, row map[string]any) {
	status, _ := row["orderstatus"].(string)
	o.Status = mapOrderStatus(status)
	if qtyStr, ok := row["filledshares"].(string); ok {
		if qty, err := strconv.ParseInt(qtyStr, 10, 64); err == nil {
			o.FilledQuantity = qty
		}
	}
	if priceStr, ok := row["averageprice"].(string); ok {
		if price, err := strconv.ParseFloat(priceStr, 64); err == nil {
			o.AveragePrice = price
		}
	}
	if reason, ok := row["text"].(string); ok {
		o.RejectionReason = reason
	}
	if o.Status == model.OrderComplete && o.CompletedAt.IsZero() {
		o.CompletedAt = time.Now()
	}
}

func mapOrderStatus(brokerStatus string) model.OrderStatus {
	switch strings.ToLower(brokerStatus) {
	case "complete":
		return model.OrderComplete
	case "rejected":
		return model.OrderRejected
	case "cancelled":
		return model.OrderCancelled
	default: // open, pending, trigger pending, after market order req received, ...
		return model.OrderPending
	}
}

func (c *Client) CancelOrder(orderID string) (bool, string, error) {
	_, err := c.post("order.cancel", map[string]any{"variety": "NORMAL", "orderid": orderID})
	if err != nil {
		return false, err.Error(), err
	}
	c.mu.Lock()
	if o, ok := c.orders[orderID]; ok {
		o.Status = model.OrderCancelled
	}
	c.mu.Unlock()
	return true, "cancelled", nil
}

func (c *Client) GetPendingOrders() ([]model.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.Order
	for _, o := range c.orders {
		if o.Status == model.OrderPending {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (c *Client) requestHeaders() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("X-PrivateKey", c.cfg.APIKey)
	h.Set("X-UserType", "USER")
	h.Set("X-SourceID", "WEB")
	c.mu.Lock()
	token := c.accessToken
	c.mu.Unlock()
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

func (c *Client) post(route string, params map[string]any) (map[string]any, error) {
	return c.do(http.MethodPost, route, params)
}

func (c *Client) get(route string, params map[string]any) (map[string]any, error) {
	return c.do(http.MethodGet, route, params)
}

func (c *Client) do(method, route string, params map[string]any) (map[string]any, error) {
	path, ok := routes[route]
	if !ok {
		return nil, fmt.Errorf("live: unknown route %q", route)
	}
	url := c.cfg.RootURL + path

	var body io.Reader
	if method == http.MethodPost && params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header = c.requestHeaders()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("live: %s %s: %w", method, route, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("live: %s %s: invalid JSON response: %w", method, route, err)
	}
	if errType, ok := out["error_type"].(string); ok && errType != "" {
		msg, _ := out["message"].(string)
		return out, fmt.Errorf("live: %s: %s", errType, msg)
	}
	if status, ok := out["status"].(bool); ok && !status {
		msg, _ := out["message"].(string)
		return out, fmt.Errorf("live: %s %s failed: %s", method, route, msg)
	}
	return out, nil
}
