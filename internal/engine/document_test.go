package engine

import (
	"testing"

	"github.com/sreeanthrds/optionbacktest/internal/model"
)

const sampleDocument = `{
  "nodes": [
    {"id": "n1", "type": "startNode", "data": {}},
    {"id": "n2", "type": "entrySignalNode", "data": {"expr": "close > open"}},
    {"id": "n3", "type": "entryNode", "data": {
      "pattern": {"underlyingAlias": "NIFTY", "expiryCode": "W0", "strikeCode": "ATM", "optionType": "CE"},
      "side": "BUY", "quantity": 50, "orderType": "MARKET"
    }},
    {"id": "n4", "type": "exitSignalNode", "data": {"expr": "close < open"}},
    {"id": "n5", "type": "exitNode", "data": {"targetPositionVpi": "previous"}},
    {"id": "n6", "type": "squareOffNode", "data": {"timeBasedExitAt": "15:20", "immediateExit": true}},
    {"id": "overview", "type": "strategyOverview", "data": {}}
  ],
  "edges": [
    {"source": "n1", "target": "n2"},
    {"source": "n2", "target": "n3"},
    {"source": "n1", "target": "n4"},
    {"source": "n4", "target": "n5"},
    {"source": "n1", "target": "n6"}
  ],
  "tradingInstrumentConfig": {
    "underlying": "NIFTY",
    "exchange": "NSE",
    "indicators": [{"timeframe": 5, "type": "SMA", "period": 20}]
  }
}`

func TestParseDocumentBuildsNodeGraph(t *testing.T) {
	doc, err := parseDocument([]byte(sampleDocument))
	if err != nil {
		t.Fatalf("parseDocument: %v", err)
	}
	if doc.startID != "n1" {
		t.Errorf("startID = %q, want n1", doc.startID)
	}
	if len(doc.nodes) != 6 {
		t.Errorf("len(nodes) = %d, want 6 (strategyOverview skipped)", len(doc.nodes))
	}
	if _, ok := doc.nodes["overview"]; ok {
		t.Error("virtual strategyOverview node should not appear in the node map")
	}

	entry := doc.nodes["n3"]
	if entry.Type != model.NodeEntry {
		t.Fatalf("n3 type = %v, want NodeEntry", entry.Type)
	}
	if entry.Config.Pattern == nil || entry.Config.Pattern.UnderlyingAlias != "NIFTY" {
		t.Errorf("n3 pattern = %+v, want resolved NIFTY pattern", entry.Config.Pattern)
	}
	if entry.Config.Side != model.Buy {
		t.Errorf("n3 side = %q, want BUY", entry.Config.Side)
	}

	exit := doc.nodes["n5"]
	if exit.Config.TargetPositionVPI != "previous" {
		t.Errorf("n5 targetPositionVpi = %q, want previous", exit.Config.TargetPositionVPI)
	}

	squareOff := doc.nodes["n6"]
	if !squareOff.Config.ImmediateExit {
		t.Error("n6 immediateExit should be true")
	}
	if squareOff.Config.TimeBasedExitAt != "15:20" {
		t.Errorf("n6 timeBasedExitAt = %q, want 15:20", squareOff.Config.TimeBasedExitAt)
	}

	if len(doc.patterns) != 1 || doc.patterns[0].Key() != "NIFTY:W0:ATM:CE" {
		t.Errorf("patterns = %+v, want one NIFTY ATM CE pattern", doc.patterns)
	}
	if len(doc.timeframeSpecs) != 1 || doc.timeframeSpecs[0].Timeframe != 5 {
		t.Errorf("timeframeSpecs = %+v, want one timeframe-5 spec", doc.timeframeSpecs)
	}

	n2 := doc.nodes["n2"]
	if len(n2.Children) != 1 || n2.Children[0] != "n3" {
		t.Errorf("n2.Children = %v, want [n3]", n2.Children)
	}
	n1 := doc.nodes["n1"]
	if len(n1.Children) != 3 {
		t.Errorf("n1.Children = %v, want 3 edges out of start", n1.Children)
	}
}

func TestParseDocumentRejectsUnknownNodeType(t *testing.T) {
	raw := `{"nodes": [{"id": "n1", "type": "mysteryNode", "data": {}}], "edges": [], "tradingInstrumentConfig": {"underlying": "NIFTY"}}`
	if _, err := parseDocument([]byte(raw)); err == nil {
		t.Error("expected an error for an unrecognized node type")
	}
}

func TestParseDocumentRequiresStartNode(t *testing.T) {
	raw := `{"nodes": [{"id": "n1", "type": "entrySignalNode", "data": {"expr": "true"}}], "edges": [], "tradingInstrumentConfig": {"underlying": "NIFTY"}}`
	if _, err := parseDocument([]byte(raw)); err == nil {
		t.Error("expected an error for a document with no Start node")
	}
}

func TestParseDocumentRejectsDanglingEdge(t *testing.T) {
	raw := `{"nodes": [{"id": "n1", "type": "startNode", "data": {}}], "edges": [{"source": "n1", "target": "ghost"}], "tradingInstrumentConfig": {"underlying": "NIFTY"}}`
	if _, err := parseDocument([]byte(raw)); err == nil {
		t.Error("expected an error for an edge referencing an unknown node")
	}
}

func TestParseDocumentInvalidJSON(t *testing.T) {
	if _, err := parseDocument([]byte("not json")); err == nil {
		t.Error("expected an error for malformed JSON")
	}
}
