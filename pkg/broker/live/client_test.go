package live

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sreeanthrds/optionbacktest/internal/model"
	"github.com/sreeanthrds/optionbacktest/internal/symbol"
)

func newTestCache(t *testing.T) *symbol.Cache {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "scrips.csv")
	csv := "tradingsymbol,name,instrument_token,expiry,strike,instrument_type,lot_size,exchange\n" +
		"NIFTY,NIFTY,99926000,,,INDEX,1,NSE\n"
	if err := os.WriteFile(path, []byte(csv), 0o644); err != nil {
		t.Fatalf("write scrip csv: %v", err)
	}
	c := symbol.NewCache()
	if err := c.LoadBroker("angelone", path); err != nil {
		t.Fatalf("LoadBroker: %v", err)
	}
	return c
}

func newTestClient(t *testing.T, mux *http.ServeMux) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(mux)
	c := New(Config{
		APIKey: "key", ClientCode: "client", Password: "pw", TOTPSecret: "JBSWY3DPEHPK3PXP",
		Broker: "angelone", Symbols: newTestCache(t), RootURL: srv.URL,
	})
	return c, srv
}

func TestLoginStoresTokensFromResponse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/auth/angelbroking/user/v1/loginByPassword", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status": true,
			"data":   map[string]any{"jwtToken": "jwt-abc", "feedToken": "feed-xyz"},
		})
	})
	c, srv := newTestClient(t, mux)
	defer srv.Close()

	if err := c.Login(); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if c.FeedToken() != "feed-xyz" {
		t.Errorf("FeedToken = %q, want feed-xyz", c.FeedToken())
	}
	if c.accessToken != "jwt-abc" {
		t.Errorf("accessToken = %q, want jwt-abc", c.accessToken)
	}
}

func TestLoginFailureReturnsError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/auth/angelbroking/user/v1/loginByPassword", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": false, "message": "invalid credentials"})
	})
	c, srv := newTestClient(t, mux)
	defer srv.Close()

	if err := c.Login(); err == nil {
		t.Fatal("expected an error for a failed login")
	}
}

func TestPlaceOrderResolvesSymbolAndReturnsPendingOrder(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/secure/angelbroking/order/v1/placeOrder", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["symboltoken"] != "99926000" {
			t.Errorf("symboltoken = %v, want 99926000", body["symboltoken"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": true,
			"data":   map[string]any{"orderid": "ORD123"},
		})
	})
	c, srv := newTestClient(t, mux)
	defer srv.Close()

	o, err := c.PlaceOrder("NIFTY", "NSE", model.Buy, 50, model.OrderMarket, "INTRADAY", 25800)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if o.OrderID != "ORD123" {
		t.Errorf("OrderID = %q, want ORD123", o.OrderID)
	}
	if o.Status != model.OrderPending {
		t.Errorf("Status = %v, want PENDING (order book not yet polled)", o.Status)
	}
}

func TestPlaceOrderUnknownSymbolErrors(t *testing.T) {
	c, srv := newTestClient(t, http.NewServeMux())
	defer srv.Close()

	if _, err := c.PlaceOrder("BANKNIFTY", "NSE", model.Buy, 25, model.OrderMarket, "INTRADAY", 52000); err == nil {
		t.Error("expected an error for a symbol with no broker mapping")
	}
}

func TestGetOrderStatusRefreshesFromOrderBook(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/secure/angelbroking/order/v1/placeOrder", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": true, "data": map[string]any{"orderid": "ORD1"}})
	})
	mux.HandleFunc("/rest/secure/angelbroking/order/v1/getOrderBook", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status": true,
			"data": []any{
				map[string]any{"orderid": "ORD1", "orderstatus": "complete", "filledshares": "50", "averageprice": "25810.00"},
			},
		})
	})
	c, srv := newTestClient(t, mux)
	defer srv.Close()

	o, err := c.PlaceOrder("NIFTY", "NSE", model.Buy, 50, model.OrderMarket, "INTRADAY", 25800)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	refreshed, err := c.GetOrderStatus(o.OrderID, true)
	if err != nil {
		t.Fatalf("GetOrderStatus: %v", err)
	}
	if refreshed.Status != model.OrderComplete {
		t.Errorf("Status = %v, want COMPLETE", refreshed.Status)
	}
	if refreshed.FilledQuantity != 50 || refreshed.AveragePrice != 25810 {
		t.Errorf("fill = %+v, want qty=50 price=25810", refreshed)
	}
}

func TestGetOrderStatusUnknownOrderErrors(t *testing.T) {
	c, srv := newTestClient(t, http.NewServeMux())
	defer srv.Close()
	if _, err := c.GetOrderStatus("nope", false); err == nil {
		t.Error("expected an error for an unknown order id")
	}
}

func TestCancelOrderMarksLocalStateCancelled(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/secure/angelbroking/order/v1/placeOrder", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": true, "data": map[string]any{"orderid": "ORD1"}})
	})
	mux.HandleFunc("/rest/secure/angelbroking/order/v1/cancelOrder", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": true, "data": map[string]any{}})
	})
	c, srv := newTestClient(t, mux)
	defer srv.Close()

	o, _ := c.PlaceOrder("NIFTY", "NSE", model.Buy, 50, model.OrderMarket, "INTRADAY", 25800)
	ok, _, err := c.CancelOrder(o.OrderID)
	if err != nil || !ok {
		t.Fatalf("CancelOrder: ok=%v err=%v", ok, err)
	}
	status, _ := c.GetOrderStatus(o.OrderID, false)
	if status.Status != model.OrderCancelled {
		t.Errorf("Status = %v, want CANCELLED", status.Status)
	}
}
