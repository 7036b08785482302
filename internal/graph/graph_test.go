package graph

import (
	"fmt"
	"testing"
	"time"

	"github.com/sreeanthrds/optionbacktest/internal/markethours"
	"github.com/sreeanthrds/optionbacktest/internal/model"
)

type fakeBroker struct {
	orders map[string]*model.Order
	seq    int
	now    time.Time
}

func newFakeBroker() *fakeBroker { return &fakeBroker{orders: map[string]*model.Order{}} }

func (b *fakeBroker) PlaceOrder(symbol, exchange string, side model.Side, qty int64, orderType model.OrderType, productType string, price float64) (model.Order, error) {
	b.seq++
	id := fmt.Sprintf("ORD%d", b.seq)
	o := model.Order{OrderID: id, Symbol: symbol, Exchange: exchange, Side: side, Quantity: qty, OrderType: orderType, Price: price, Status: model.OrderPending}
	b.orders[id] = &o
	return o, nil
}

func (b *fakeBroker) GetOrderStatus(orderID string, refreshFromBroker bool) (model.Order, error) {
	o, ok := b.orders[orderID]
	if !ok {
		return model.Order{}, fmt.Errorf("no such order %s", orderID)
	}
	if o.Status == model.OrderPending {
		o.Status = model.OrderComplete
		o.FilledQuantity = o.Quantity
		o.AveragePrice = o.Price
		o.CompletedAt = b.now
	}
	return *o, nil
}

func (b *fakeBroker) CancelOrder(orderID string) (bool, string, error) { return true, "", nil }
func (b *fakeBroker) GetPendingOrders() ([]model.Order, error)        { return nil, nil }

type fakePositions struct {
	seq   int
	byVPI map[string]*model.Position
}

func newFakePositions() *fakePositions { return &fakePositions{byVPI: map[string]*model.Position{}} }

func (p *fakePositions) Open(nodeID, symbol string, side model.Side, qty int64, price float64, t time.Time, reEntryNum int, spot float64) model.Position {
	p.seq++
	vpi := fmt.Sprintf("VPI%d", p.seq)
	pos := model.Position{VPI: vpi, NodeID: nodeID, Symbol: symbol, Quantity: qty, Side: side, EntryPrice: price, EntryTime: t, ReEntryNum: reEntryNum, SpotAtEntry: spot, Status: model.PositionOpen, LastLTP: price}
	p.byVPI[vpi] = &pos
	return pos
}

func (p *fakePositions) Close(vpi string, price float64, t time.Time, reason, triggerNodeID string, reEntryNum int) (model.Position, error) {
	pos, ok := p.byVPI[vpi]
	if !ok {
		return model.Position{}, fmt.Errorf("no such position %s", vpi)
	}
	pos.Status = model.PositionClosed
	pos.ExitHistory = append(pos.ExitHistory, model.ExitRecord{Price: price, Time: t, Reason: reason, TriggerNodeID: triggerNodeID, ReEntryNum: reEntryNum})
	return *pos, nil
}

func (p *fakePositions) OpenPositions() []model.Position {
	var out []model.Position
	for _, pos := range p.byVPI {
		if pos.Status == model.PositionOpen {
			out = append(out, *pos)
		}
	}
	return out
}

func (p *fakePositions) Get(vpi string) (model.Position, bool) {
	pos, ok := p.byVPI[vpi]
	if !ok {
		return model.Position{}, false
	}
	return *pos, true
}

func (p *fakePositions) TotalPnL(markAt func(string) (float64, bool)) (realized, unrealized float64) {
	for _, pos := range p.byVPI {
		if pos.Status == model.PositionClosed {
			realized += pos.RealizedPnL()
			continue
		}
		if ltp, ok := markAt(pos.Symbol); ok {
			pos.LastLTP = ltp
		}
		unrealized += pos.UnrealizedPnL()
	}
	return realized, unrealized
}

type fakeData struct {
	*fakeMarket
	loaded []string
}

func (d *fakeData) LoadOptionContract(contractKey string, day, fromTS time.Time) (float64, error) {
	d.loaded = append(d.loaded, contractKey)
	return 0, nil
}

func tradingDay() time.Time {
	return time.Date(2024, 10, 3, 0, 0, 0, 0, markethours.IST)
}

func at(h, m, s int) time.Time {
	return time.Date(2024, 10, 3, h, m, s, 0, markethours.IST)
}

func buildEntryExitChain() (map[string]*model.Node, string) {
	start := &model.Node{ID: "start", Type: model.NodeStart, Children: []string{"entrySignal"}}
	entrySignal := &model.Node{ID: "entrySignal", Type: model.NodeEntrySignal, Parents: []string{"start"}, Children: []string{"entry"},
		Config: model.NodeConfig{Condition: model.Condition{Expr: "ltp >= 100"}}}
	entry := &model.Node{ID: "entry", Type: model.NodeEntry, Parents: []string{"entrySignal"}, Children: []string{"exitSignal"},
		Config: model.NodeConfig{Symbol: "NIFTY", Side: model.Buy, Quantity: 50, OrderType: model.OrderMarket}}
	exitSignal := &model.Node{ID: "exitSignal", Type: model.NodeExitSignal, Parents: []string{"entry"}, Children: []string{"exit"},
		Config: model.NodeConfig{Condition: model.Condition{Expr: "ltp >= 200"}}}
	exit := &model.Node{ID: "exit", Type: model.NodeExit, Parents: []string{"exitSignal"}}

	nodes := map[string]*model.Node{
		"start": start, "entrySignal": entrySignal, "entry": entry, "exitSignal": exitSignal, "exit": exit,
	}
	return nodes, "start"
}

func TestEntryExitLifecycleAndTermination(t *testing.T) {
	nodes, startID := buildEntryExitChain()
	market := &fakeMarket{ltp: map[string]float64{"NIFTY": 100}}
	broker := newFakeBroker()
	positions := newFakePositions()
	data := &fakeData{fakeMarket: market}

	g, err := New(Config{
		Nodes: nodes, StartID: startID, Day: tradingDay(),
		Market: market, Data: data, Resolver: nil, Broker: broker, Positions: positions,
		DefaultTimeframe: 5,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tick := func(ts time.Time) {
		broker.now = ts
		if err := g.Tick(ts); err != nil {
			t.Fatalf("Tick(%v): %v", ts, err)
		}
	}

	tick(at(9, 16, 0)) // entrySignal fires, entry places order (Pending)
	if nodes["entry"].State.Status != model.StatusPending {
		t.Fatalf("entry status = %v, want Pending", nodes["entry"].State.Status)
	}

	tick(at(9, 16, 1)) // entry fills, opens a position, activates exitSignal
	open := positions.OpenPositions()
	if len(open) != 1 {
		t.Fatalf("open positions = %d, want 1", len(open))
	}
	if nodes["exitSignal"].State.Status != model.StatusActive {
		t.Fatalf("exitSignal status = %v, want Active", nodes["exitSignal"].State.Status)
	}

	market.ltp["NIFTY"] = 200
	tick(at(9, 20, 0)) // exitSignal fires; exit sees the position opened on an earlier tick, places order
	if nodes["exit"].State.Status != model.StatusPending {
		t.Fatalf("exit status = %v, want Pending", nodes["exit"].State.Status)
	}

	tick(at(9, 20, 1)) // exit order fills and closes the position
	tick(at(9, 20, 2)) // exit node finds nothing left to target, completes

	if len(positions.OpenPositions()) != 0 {
		t.Fatalf("expected no open positions left, got %d", len(positions.OpenPositions()))
	}
	pos, ok := positions.Get("VPI1")
	if !ok || pos.Status != model.PositionClosed {
		t.Fatalf("position VPI1 = %+v, ok=%v, want closed", pos, ok)
	}
	if len(pos.ExitHistory) != 1 || pos.ExitHistory[0].Price != 200 {
		t.Fatalf("exit history = %+v, want one exit at 200", pos.ExitHistory)
	}

	if g.Terminated() {
		t.Fatal("graph terminated before every node actually went inactive")
	}
	tick(at(9, 20, 3)) // every non-Start node now inactive: converges
	if !g.Terminated() {
		t.Fatal("expected the graph to terminate once every node is inactive")
	}
}

func TestExitTargetsPreviousSentinel(t *testing.T) {
	nodes, startID := buildEntryExitChain()
	nodes["exit"].Config.TargetPositionVPI = previousSentinel

	market := &fakeMarket{ltp: map[string]float64{"NIFTY": 100}}
	broker := newFakeBroker()
	positions := newFakePositions()
	// A position opened by some other node beforehand must NOT be picked
	// over the one this exit's own ancestor Entry fills.
	positions.Open("unrelated", "NIFTY", model.Buy, 10, 90, at(9, 0, 0), 0, 90)

	g, err := New(Config{
		Nodes: nodes, StartID: startID, Day: tradingDay(),
		Market: market, Data: &fakeData{fakeMarket: market}, Broker: broker, Positions: positions,
		DefaultTimeframe: 5,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tick := func(ts time.Time) {
		broker.now = ts
		if err := g.Tick(ts); err != nil {
			t.Fatalf("Tick(%v): %v", ts, err)
		}
	}

	tick(at(9, 16, 0)) // entrySignal fires, entry places order
	tick(at(9, 16, 1)) // entry fills, opens VPI2, activates exitSignal

	market.ltp["NIFTY"] = 200
	tick(at(9, 20, 0)) // exitSignal fires; exit resolves "previous" to VPI2, places order
	if vpi, _ := nodes["exit"].State.Variables["exiting_vpi"].(string); vpi != "VPI2" {
		t.Fatalf("exit targeted vpi = %q, want VPI2 (this node's own ancestor entry's fill)", vpi)
	}

	tick(at(9, 20, 1)) // exit order fills

	unrelated, _ := positions.Get("VPI1")
	if unrelated.Status != model.PositionOpen {
		t.Error("expected the unrelated pre-existing position to be left alone")
	}
	closed, ok := positions.Get("VPI2")
	if !ok || closed.Status != model.PositionClosed {
		t.Fatalf("position VPI2 = %+v, ok=%v, want closed", closed, ok)
	}
}

func TestSquareOffImmediateForceClosesAndFiresOnce(t *testing.T) {
	start := &model.Node{ID: "start", Type: model.NodeStart, Children: []string{"squareoff"}}
	squareoff := &model.Node{ID: "squareoff", Type: model.NodeSquareOff, Parents: []string{"start"},
		Config: model.NodeConfig{ImmediateExit: true}}
	nodes := map[string]*model.Node{"start": start, "squareoff": squareoff}

	market := &fakeMarket{ltp: map[string]float64{"NIFTY": 25800}}
	broker := newFakeBroker()
	positions := newFakePositions()
	positions.Open("external", "NIFTY", model.Buy, 50, 25700, at(9, 20, 0), 0, 25700)

	g, err := New(Config{
		Nodes: nodes, StartID: "start", Day: tradingDay(),
		Market: market, Data: &fakeData{fakeMarket: market}, Broker: broker, Positions: positions,
		DefaultTimeframe: 5,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Simulate a parent condition having already activated squareoff —
	// "immediate" fires simply by being Active (spec §4.6).
	squareoff.State.Status = model.StatusActive

	broker.now = at(9, 20, 1)
	if err := g.Tick(at(9, 20, 1)); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if len(positions.OpenPositions()) != 0 {
		t.Fatal("expected square-off to force-close the open position")
	}
	pos, _ := positions.Get("VPI1")
	if pos.ExitHistory[0].Price != 25800 {
		t.Errorf("force-close price = %v, want last known LTP 25800", pos.ExitHistory[0].Price)
	}
	if squareoff.State.Status != model.StatusInactive {
		t.Errorf("squareoff status = %v, want Inactive", squareoff.State.Status)
	}

	// squareoff is now the only non-Start node and it is Inactive, so the
	// very next tick converges via the generic termination path (spec
	// §4.6 step 2) rather than square-off firing a second time — the
	// idempotent guard means squareoff itself never re-triggers, but the
	// run still cleans up any position still open when everything else
	// has gone quiet.
	positions.Open("external", "NIFTY", model.Sell, 10, 25800, at(9, 21, 0), 0, 25800)
	broker.now = at(9, 21, 1)
	if err := g.Tick(at(9, 21, 1)); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if !g.Terminated() {
		t.Fatal("expected the run to terminate once square-off's lone sibling node is inactive")
	}
	if len(positions.OpenPositions()) != 0 {
		t.Error("expected natural termination to force-close the remaining open position")
	}
}
