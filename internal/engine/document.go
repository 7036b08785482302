// Parsing of the strategy document (spec §6): an opaque graph descriptor
// arriving as already-produced JSON — nodes list (id, type, data), edges
// list (source, target), and a root tradingInstrumentConfig naming the
// underlying, per-timeframe indicators and static exchange context. This
// engine package is the one place that turns that JSON into the
// model.Node map graph.Graph and the indicator.Registry/optionuniverse
// patterns actually run on.
//
// Grounded on original_source/src/backtesting/node_manager.py
// (create_nodes/_build_graph: node+data records, edge adjacency lists) and
// strategy/nodes/{entry_node,exit_node,square_off_node}.py for the
// per-type "data" field names adapted here into NodeConfig. Supersedes the
// teacher's internal/strategy package (a flat OnCandle/Signal callback
// engine with no graph) — the per-tick scheduler in internal/graph now
// owns strategy execution end to end.
package engine

import (
	"encoding/json"
	"fmt"

	"github.com/sreeanthrds/optionbacktest/internal/indicator"
	"github.com/sreeanthrds/optionbacktest/internal/model"
)

// rawDocument mirrors the strategy document's JSON shape (spec §6).
type rawDocument struct {
	Nodes                   []rawNode           `json:"nodes"`
	Edges                   []rawEdge           `json:"edges"`
	TradingInstrumentConfig rawInstrumentConfig `json:"tradingInstrumentConfig"`
}

type rawNode struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type rawEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

type rawInstrumentConfig struct {
	Underlying string             `json:"underlying"`
	Exchange   string             `json:"exchange"`
	Indicators []rawIndicatorSpec `json:"indicators"`
}

type rawIndicatorSpec struct {
	Timeframe int    `json:"timeframe"`
	Type      string `json:"type"`
	Period    int    `json:"period"`
}

// rawPattern is an option pattern as a strategy document encodes it:
// {"underlyingAlias":"NIFTY","expiryCode":"W0","strikeCode":"ATM","optionType":"CE"}.
type rawPattern struct {
	UnderlyingAlias string `json:"underlyingAlias"`
	ExpiryCode      string `json:"expiryCode"`
	StrikeCode      string `json:"strikeCode"`
	OptionType      string `json:"optionType"`
}

// rawSignalData is the "data" payload of EntrySignal/ExitSignal/
// ReEntrySignal nodes.
type rawSignalData struct {
	Expr         string `json:"expr"`
	MaxReEntries int    `json:"maxReEntries"`
}

// rawEntryData is the "data" payload of an Entry node.
type rawEntryData struct {
	Symbol    string      `json:"symbol"`
	Pattern   *rawPattern `json:"pattern"`
	Side      string      `json:"side"`
	Quantity  int64       `json:"quantity"`
	OrderType string      `json:"orderType"`
}

// rawExitData is the "data" payload of an Exit node.
type rawExitData struct {
	Symbol            string      `json:"symbol"`
	Pattern           *rawPattern `json:"pattern"`
	TargetPositionVPI string      `json:"targetPositionVpi"`
}

// rawSquareOffData is the "data" payload of a SquareOff node.
type rawSquareOffData struct {
	ImmediateExit      bool    `json:"immediateExit"`
	ProfitTarget       float64 `json:"profitTarget"`
	LossLimit          float64 `json:"lossLimit"`
	TimeBasedExitAt    string  `json:"timeBasedExitAt"`
	MinutesBeforeClose int     `json:"minutesBeforeClose"`
}

// document is the engine-native result of parsing a strategy document.
type document struct {
	nodes          map[string]*model.Node
	startID        string
	underlying     string
	exchange       string
	patterns       []model.OptionPattern
	timeframeSpecs []indicator.TimeframeSpec
	timeframes     []int
}

// parseDocument decodes raw strategy document JSON into the node map and
// domain config the engine wires into datamanager/optionuniverse/graph.
// Node types matching neither a known kind nor the virtual
// "strategyOverview" marker are reported as an error — node_manager.py
// logs and skips unknown types, but a silently-dropped node in a
// backtest would misrepresent the strategy actually run, so this is
// promoted to a hard parse error here.
func parseDocument(raw []byte) (*document, error) {
	var doc rawDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("engine: invalid strategy document: %w", err)
	}

	nodes := make(map[string]*model.Node, len(doc.Nodes))
	var startID string
	var patterns []model.OptionPattern
	seenPatterns := make(map[string]bool)

	for _, rn := range doc.Nodes {
		if rn.Type == "strategyOverview" {
			continue // virtual, UI-only node (node_manager.py: "Skipped virtual node")
		}
		nodeType, err := mapNodeType(rn.Type)
		if err != nil {
			return nil, fmt.Errorf("engine: node %q: %w", rn.ID, err)
		}

		n := &model.Node{ID: rn.ID, Type: nodeType}
		switch nodeType {
		case model.NodeStart:
			startID = rn.ID
		case model.NodeEntrySignal, model.NodeExitSignal, model.NodeReEntrySignal:
			var d rawSignalData
			if err := decodeData(rn.Data, &d); err != nil {
				return nil, fmt.Errorf("engine: node %q: %w", rn.ID, err)
			}
			n.Config.Condition = model.Condition{Expr: d.Expr}
			n.Config.MaxReEntries = d.MaxReEntries
		case model.NodeEntry:
			var d rawEntryData
			if err := decodeData(rn.Data, &d); err != nil {
				return nil, fmt.Errorf("engine: node %q: %w", rn.ID, err)
			}
			n.Config.Symbol = d.Symbol
			n.Config.Side = model.Side(d.Side)
			n.Config.Quantity = d.Quantity
			n.Config.OrderType = orderTypeOrDefault(d.OrderType)
			if d.Pattern != nil {
				p, err := toOptionPattern(*d.Pattern)
				if err != nil {
					return nil, fmt.Errorf("engine: node %q: %w", rn.ID, err)
				}
				n.Config.Pattern = &p
				if key := p.Key(); !seenPatterns[key] {
					seenPatterns[key] = true
					patterns = append(patterns, p)
				}
			}
		case model.NodeExit:
			var d rawExitData
			if err := decodeData(rn.Data, &d); err != nil {
				return nil, fmt.Errorf("engine: node %q: %w", rn.ID, err)
			}
			n.Config.TargetPositionVPI = d.TargetPositionVPI
			if d.Pattern != nil {
				p, err := toOptionPattern(*d.Pattern)
				if err != nil {
					return nil, fmt.Errorf("engine: node %q: %w", rn.ID, err)
				}
				if key := p.Key(); !seenPatterns[key] {
					seenPatterns[key] = true
					patterns = append(patterns, p)
				}
			}
		case model.NodeSquareOff:
			var d rawSquareOffData
			if err := decodeData(rn.Data, &d); err != nil {
				return nil, fmt.Errorf("engine: node %q: %w", rn.ID, err)
			}
			n.Config.ImmediateExit = d.ImmediateExit
			n.Config.ProfitTarget = d.ProfitTarget
			n.Config.LossLimit = d.LossLimit
			n.Config.TimeBasedExitAt = d.TimeBasedExitAt
			n.Config.MinutesBeforeClose = d.MinutesBeforeClose
		}
		nodes[rn.ID] = n
	}

	if startID == "" {
		return nil, fmt.Errorf("engine: strategy document has no Start node")
	}

	for _, e := range doc.Edges {
		parent, ok := nodes[e.Source]
		if !ok {
			return nil, fmt.Errorf("engine: edge references unknown source node %q", e.Source)
		}
		child, ok := nodes[e.Target]
		if !ok {
			return nil, fmt.Errorf("engine: edge references unknown target node %q", e.Target)
		}
		parent.Children = append(parent.Children, e.Target)
		child.Parents = append(child.Parents, e.Source)
	}

	timeframeSet := make(map[int]bool, len(doc.TradingInstrumentConfig.Indicators))
	byTF := make(map[int][]indicator.Spec)
	for _, is := range doc.TradingInstrumentConfig.Indicators {
		timeframeSet[is.Timeframe] = true
		byTF[is.Timeframe] = append(byTF[is.Timeframe], indicator.Spec{Type: is.Type, Period: is.Period})
	}
	timeframes := make([]int, 0, len(timeframeSet))
	for tf := range timeframeSet {
		timeframes = append(timeframes, tf)
	}
	specs := make([]indicator.TimeframeSpec, 0, len(byTF))
	for tf, ind := range byTF {
		specs = append(specs, indicator.TimeframeSpec{Timeframe: tf, Indicators: ind})
	}

	return &document{
		nodes:          nodes,
		startID:        startID,
		underlying:     doc.TradingInstrumentConfig.Underlying,
		exchange:       doc.TradingInstrumentConfig.Exchange,
		patterns:       patterns,
		timeframeSpecs: specs,
		timeframes:     timeframes,
	}, nil
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func orderTypeOrDefault(s string) model.OrderType {
	if s == "" {
		return model.OrderMarket
	}
	return model.OrderType(s)
}

func toOptionPattern(p rawPattern) (model.OptionPattern, error) {
	if p.UnderlyingAlias == "" || p.ExpiryCode == "" || p.StrikeCode == "" || p.OptionType == "" {
		return model.OptionPattern{}, fmt.Errorf("option pattern missing a required field: %+v", p)
	}
	return model.OptionPattern{
		UnderlyingAlias: p.UnderlyingAlias,
		ExpiryCode:      p.ExpiryCode,
		StrikeCode:      model.StrikeCode(p.StrikeCode),
		OptionType:      model.OptionType(p.OptionType),
	}, nil
}

func mapNodeType(raw string) (model.NodeType, error) {
	switch raw {
	case "startNode", "start":
		return model.NodeStart, nil
	case "entrySignalNode":
		return model.NodeEntrySignal, nil
	case "entryNode", "entry":
		return model.NodeEntry, nil
	case "exitSignalNode":
		return model.NodeExitSignal, nil
	case "exitNode", "exit":
		return model.NodeExit, nil
	case "reEntrySignalNode":
		return model.NodeReEntrySignal, nil
	case "squareOffNode":
		return model.NodeSquareOff, nil
	default:
		return "", fmt.Errorf("unknown node type %q", raw)
	}
}
