// Package graph implements the node scheduler that drives a strategy
// document's entry/exit logic tick by tick (spec §4.6): a three-state
// machine (Inactive/Active/Pending) over a directed graph of typed nodes,
// executed by recursing from a permanent Start root in parent→child order.
//
// Grounded on the teacher's internal/strategy.Engine (a flat signal
// evaluator; generalized here into a stateful graph walk) and
// original_source/src/backtesting/node_manager.py and
// strategy/strategy_executor.py for the state-machine and per-node
// protocol this package reimplements in Go.
package graph

import (
	"fmt"
	"time"

	"github.com/sreeanthrds/optionbacktest/internal/model"
)

// productType is the single order product type this engine trades —
// intraday only, matching the teacher's SmartConnect convention
// (pkg/smartconnect/client.go: "producttype": "INTRADAY").
const productType = "INTRADAY"

func exchangeFor(symbol string) string {
	if model.IsOption(symbol) || model.IsFuture(symbol) {
		return "NFO"
	}
	return "NSE"
}

// outcome is what a node-type-specific logic function reports back to the
// generic execute() protocol.
type outcome struct {
	logicCompleted   bool
	activateChildren bool // only consulted when logicCompleted
}

// Graph holds one strategy document's compiled node set and drives its
// per-tick scheduling.
type Graph struct {
	nodes map[string]*model.Node

	startID string
	day     time.Time

	market   MarketView
	data     DataManager
	resolver PatternResolver
	broker   Broker
	positions PositionStore
	logger    Logger

	defaultTimeframe int

	terminated bool
	now        time.Time
}

// Config bundles a Graph's collaborators, following the teacher's
// constructor-injection convention (no package-level singletons).
type Config struct {
	Nodes            map[string]*model.Node
	StartID          string
	Day              time.Time
	Market           MarketView
	Data             DataManager
	Resolver         PatternResolver
	Broker           Broker
	Positions        PositionStore
	Logger           Logger
	DefaultTimeframe int
}

// New builds a Graph ready to run from its Start node. Every node begins
// Inactive except Start, which begins Active (spec §4.6: "First tick:
// ensures initial state (only self Active)").
func New(cfg Config) (*Graph, error) {
	if _, ok := cfg.Nodes[cfg.StartID]; !ok {
		return nil, fmt.Errorf("graph: start node %q not found", cfg.StartID)
	}
	g := &Graph{
		nodes:            cfg.Nodes,
		startID:          cfg.StartID,
		day:              cfg.Day,
		market:           cfg.Market,
		data:             cfg.Data,
		resolver:         cfg.Resolver,
		broker:           cfg.Broker,
		positions:        cfg.Positions,
		logger:           cfg.Logger,
		defaultTimeframe: cfg.DefaultTimeframe,
	}
	for id, n := range cfg.Nodes {
		if n.State.Variables == nil {
			n.State.Variables = make(map[string]any)
		}
		if id == cfg.StartID {
			n.State.Status = model.StatusActive
		} else {
			n.State.Status = model.StatusInactive
		}
	}
	return g, nil
}

// Terminated reports whether the run has converged: every non-Start node
// Inactive, open positions force-closed.
func (g *Graph) Terminated() bool { return g.terminated }

// Tick runs one scheduling cycle at time now; prices come from the market
// data view. Must be called once per engine tick, after the tick has
// already been folded into the market data view.
func (g *Graph) Tick(now time.Time) error {
	if g.terminated {
		return nil
	}
	g.now = now

	for _, n := range g.nodes {
		n.State.Visited = false
	}

	start := g.nodes[g.startID]
	if started, _ := start.State.Variables["started"].(bool); !started {
		// First tick: Start activates its children once; Start itself stays Active.
		start.State.Variables["started"] = true
		for _, childID := range start.Children {
			g.nodes[childID].State.Status = model.StatusActive
		}
	} else if g.allConverged() {
		g.forceCloseEverything("end of run: all nodes inactive", "termination")
		g.terminated = true
		return nil
	}

	return g.execute(start)
}

// allConverged reports whether every node except the permanent Start root
// is Inactive. Start is excluded: it stays Active for the life of the run
// so it keeps re-entering the graph every tick, and including it here
// would make the all-Inactive convergence check impossible to satisfy —
// an explicit design decision (see DESIGN.md) resolving the spec's
// otherwise-contradictory "Start never itself transitions" + "graph
// terminates when every node is Inactive" requirements.
func (g *Graph) allConverged() bool {
	for id, n := range g.nodes {
		if id == g.startID {
			continue
		}
		if n.State.Status != model.StatusInactive {
			return false
		}
	}
	return true
}

// execute is the generic per-node protocol (spec §4.6 "Per-tick cycle").
// Traversal into children is unconditional: "visited" alone guards against
// a node's logic running twice within one tick on fan-in, not against
// revisiting its subtree. Without this, a node that completed on an
// earlier tick and went Inactive would permanently cut off the scheduler's
// only path to everything beneath it — the completion-triggered recursion
// in the spec's per-tick cycle cascades a freshly activated child's first
// execution into the SAME tick it was activated, but isn't the sole
// traversal mechanism on every subsequent tick.
func (g *Graph) execute(n *model.Node) error {
	if n.State.Visited {
		return nil
	}
	n.State.Visited = true

	if n.State.Status == model.StatusActive || n.State.Status == model.StatusPending {
		out, err := g.runLogic(n)
		if err != nil {
			return err
		}
		if out.logicCompleted {
			n.State.Status = model.StatusInactive
			if out.activateChildren {
				for _, childID := range n.Children {
					child := g.nodes[childID]
					child.State.Status = model.StatusActive
					if n.State.ReEntryNum > child.State.ReEntryNum {
						child.State.ReEntryNum = n.State.ReEntryNum
					}
				}
			}
		}
	}

	for _, childID := range n.Children {
		if err := g.execute(g.nodes[childID]); err != nil {
			return err
		}
	}
	return nil
}

// runLogic dispatches to the type-specific logic function for n. Start
// never completes and never emits orders (spec §4.6): it is a permanent
// root whose only role is to keep every tick's traversal reaching the rest
// of the graph.
func (g *Graph) runLogic(n *model.Node) (outcome, error) {
	switch n.Type {
	case model.NodeStart:
		return outcome{}, nil
	case model.NodeEntrySignal, model.NodeExitSignal, model.NodeReEntrySignal:
		return g.signalLogic(n)
	case model.NodeEntry:
		return g.entryLogic(n)
	case model.NodeExit:
		return g.exitLogic(n)
	case model.NodeSquareOff:
		return g.squareOffLogic(n)
	default:
		return outcome{}, fmt.Errorf("graph: node %q: unhandled type %q", n.ID, n.Type)
	}
}

// forceCloseEverything synthetically exits every still-open position at its
// symbol's last known LTP (spec §4.6 step 2), used both at natural
// termination and by SquareOff's global trigger.
func (g *Graph) forceCloseEverything(reason, triggerNodeID string) {
	for _, pos := range g.positions.OpenPositions() {
		ltp, ok := g.market.LTP(pos.Symbol)
		if !ok {
			ltp = pos.LastLTP
		}
		if _, err := g.positions.Close(pos.VPI, ltp, g.now, reason, triggerNodeID, pos.ReEntryNum); err != nil && g.logger != nil {
			g.logger.Error("force-close failed", "vpi", pos.VPI, "err", err)
		}
	}
	for id, n := range g.nodes {
		if id == g.startID {
			continue
		}
		n.State.Status = model.StatusInactive
	}
}

func conditionContext(g *Graph, n *model.Node) EvalContext {
	return EvalContext{
		Market:           g.market,
		DefaultSymbol:    defaultSymbol(n),
		DefaultTimeframe: g.defaultTimeframe,
	}
}

// defaultSymbol is the underlying a bare (unqualified) identifier in a
// condition expression resolves against: the node's own configured symbol
// if static, or its pattern's underlying alias if dynamic.
func defaultSymbol(n *model.Node) string {
	if n.Config.Symbol != "" {
		return n.Config.Symbol
	}
	if n.Config.Pattern != nil {
		return n.Config.Pattern.UnderlyingAlias
	}
	return ""
}
