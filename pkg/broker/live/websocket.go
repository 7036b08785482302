package live

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sreeanthrds/optionbacktest/internal/model"
	"github.com/sreeanthrds/optionbacktest/internal/symbol"
)

// Adapted from pkg/smartconnect/websocket.go's SmartWebSocketV3 — same
// binary LTP frame layout, subscribe/resubscribe bookkeeping and
// ping/pong heartbeat, trimmed to the LTP-mode-only feed the tick source
// needs (spec §4.5 ticks have no depth/quote fields) and re-targeted to
// emit canonical-symbol model.SecondTick instead of a raw field map.
const (
	wsRootURL         = "wss://smartapisocket.angelone.in/smart-stream"
	heartbeatInterval = 10 * time.Second
	modeLTP           = 1

	exchangeNSECM = 1
	exchangeNSEFO = 2
)

// TokenList groups tokens to subscribe under one exchange segment.
type TokenList struct {
	ExchangeType int
	Tokens       []string
}

// WebSocket streams LTP ticks for subscribed canonical symbols, translated
// from the broker's compact token frames via the shared symbol.Cache.
type WebSocket struct {
	authToken, apiKey, clientCode, feedToken string
	broker                                   string
	symbols                                  *symbol.Cache

	conn   *websocket.Conn
	dialer *websocket.Dialer

	mu         sync.Mutex
	tokenToSym map[string]string // broker token -> canonical symbol
	subscribed []TokenList

	out chan model.SecondTick
}

// NewWebSocket returns a WebSocket ready to Connect and Subscribe. feedToken
// comes from Client.FeedToken() after a successful Login.
func NewWebSocket(authToken, apiKey, clientCode, feedToken, broker string, symbols *symbol.Cache) *WebSocket {
	return &WebSocket{
		authToken:  authToken,
		apiKey:     apiKey,
		clientCode: clientCode,
		feedToken:  feedToken,
		broker:     broker,
		symbols:    symbols,
		dialer:     websocket.DefaultDialer,
		tokenToSym: make(map[string]string),
		out:        make(chan model.SecondTick, 1024),
	}
}

// Ticks is the channel ticksource.NewLiveSource consumes.
func (w *WebSocket) Ticks() <-chan model.SecondTick { return w.out }

// Connect dials the feed socket with the broker's required auth headers.
func (w *WebSocket) Connect() error {
	header := http.Header{}
	header.Add("Authorization", "Bearer "+w.authToken)
	header.Add("x-api-key", w.apiKey)
	header.Add("x-client-code", w.clientCode)
	header.Add("x-feed-token", w.feedToken)

	conn, _, err := w.dialer.Dial(wsRootURL, header)
	if err != nil {
		return fmt.Errorf("live: websocket dial failed: %w", err)
	}
	w.conn = conn
	return nil
}

// Subscribe adds canonical symbols to the live feed, resolving each to its
// broker token and exchange segment via the shared symbol.Cache.
func (w *WebSocket) Subscribe(symbols []string) error {
	byExchange := map[int][]string{}
	w.mu.Lock()
	for _, sym := range symbols {
		token, err := w.symbols.ToBroker(w.broker, sym)
		if err != nil {
			w.mu.Unlock()
			return err
		}
		exchange, err := w.symbols.Exchange(w.broker, sym)
		if err != nil {
			w.mu.Unlock()
			return err
		}
		ex := exchangeNSECM
		if exchange == "NFO" {
			ex = exchangeNSEFO
		}
		byExchange[ex] = append(byExchange[ex], token)
		w.tokenToSym[token] = sym
	}
	w.mu.Unlock()

	var tokenLists []TokenList
	for ex, toks := range byExchange {
		tokenLists = append(tokenLists, TokenList{ExchangeType: ex, Tokens: toks})
	}
	w.mu.Lock()
	w.subscribed = append(w.subscribed, tokenLists...)
	w.mu.Unlock()
	return w.sendSubscribe(tokenLists)
}

func (w *WebSocket) sendSubscribe(tokenLists []TokenList) error {
	type tokenListEntry struct {
		ExchangeType int      `json:"exchangeType"`
		Tokens       []string `json:"tokens"`
	}
	entries := make([]tokenListEntry, 0, len(tokenLists))
	for _, tl := range tokenLists {
		entries = append(entries, tokenListEntry{ExchangeType: tl.ExchangeType, Tokens: tl.Tokens})
	}
	req := map[string]any{
		"correlationID": "backtest-live",
		"action":        1,
		"params": map[string]any{
			"mode":      modeLTP,
			"tokenList": entries,
		},
	}
	return w.conn.WriteJSON(req)
}

// Run reads frames until ctx is cancelled, decoding LTP ticks onto Ticks()
// and answering heartbeat pings.
func (w *WebSocket) Run(ctx context.Context) error {
	defer close(w.out)
	go w.heartbeatLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		_, msg, err := w.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("live: websocket read failed: %w", err)
		}
		if len(msg) < 51 {
			continue // heartbeat text frame or a frame too short to carry an LTP payload
		}
		tick, ok := w.parseLTPFrame(msg)
		if !ok {
			continue
		}
		select {
		case w.out <- tick:
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *WebSocket) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = w.conn.WriteMessage(websocket.TextMessage, []byte("ping"))
		}
	}
}

// parseLTPFrame decodes the binary LTP-mode frame layout: byte 0 subscription
// mode, byte 1 exchange type, bytes 2-26 token (null-padded ASCII), bytes
// 43-50 LTP in paise as an int64.
func (w *WebSocket) parseLTPFrame(b []byte) (model.SecondTick, bool) {
	tokenRaw := b[2:27]
	token := string(bytes.TrimRight(tokenRaw, "\x00"))

	w.mu.Lock()
	sym, ok := w.tokenToSym[token]
	w.mu.Unlock()
	if !ok {
		return model.SecondTick{}, false
	}

	ltpPaise := int64(binary.LittleEndian.Uint64(b[43:51]))
	ltp := float64(ltpPaise) / 100
	now := time.Now()

	return model.SecondTick{
		Tick:  model.Tick{Symbol: sym, TS: now, LTP: ltp},
		Open:  ltp, High: ltp, Low: ltp, Close: ltp,
	}, true
}

// Close tears down the socket connection.
func (w *WebSocket) Close() error {
	if w.conn == nil {
		return nil
	}
	return w.conn.Close()
}
