package model

// NodeType is the sum type over graph node kinds (spec §3, §4.6).
type NodeType string

const (
	NodeStart          NodeType = "Start"
	NodeEntrySignal    NodeType = "EntrySignal"
	NodeEntry          NodeType = "Entry"
	NodeExitSignal     NodeType = "ExitSignal"
	NodeExit           NodeType = "Exit"
	NodeReEntrySignal  NodeType = "ReEntrySignal"
	NodeSquareOff      NodeType = "SquareOff"
)

// NodeStatus is the three-state scheduler status (spec §4.6).
type NodeStatus string

const (
	StatusInactive NodeStatus = "Inactive"
	StatusActive   NodeStatus = "Active"
	StatusPending  NodeStatus = "Pending"
)

// NodeState is the single mutable record keyed by node id that the
// scheduler mutates; node identity and static configuration stay in Node
// (spec §9 design note: a sum type over kinds, variance moved to data).
type NodeState struct {
	Status         NodeStatus
	Visited        bool
	ReEntryNum     int
	PendingOrderID string

	// Variables is a free-form per-node scratchpad a node's logic can read
	// and write across ticks — e.g. an Entry node remembering the contract
	// symbol it already resolved this Pending cycle so re-resolution is
	// idempotent (original_source/check_node_variables.py).
	Variables map[string]any

	// ReEntryFireCount tracks how many times THIS ReEntrySignal node has
	// fired, independent of the ReEntryNum value propagated to children
	// (original_source/debug_reentry_execution.py).
	ReEntryFireCount int
}

// Node is a graph node: identity, relationships, static configuration and
// current state. Nodes reference each other by id only; the scheduler
// borrows the node map immutably while mutating NodeState entries (spec §9
// design note on graph lifetimes).
type Node struct {
	ID       string
	Type     NodeType
	Parents  []string
	Children []string
	Config   NodeConfig
	State    NodeState
}

// NodeConfig holds the type-specific static configuration parsed from the
// strategy document. Only the fields relevant to Type are populated.
type NodeConfig struct {
	// EntrySignal / ExitSignal / ReEntrySignal
	Condition Condition
	MaxReEntries int // ReEntrySignal cap; 0 means unlimited is NOT assumed — must be set explicitly

	// Entry / Exit
	Symbol            string        // static canonical symbol, if not dynamic
	Pattern           *OptionPattern // dynamic option pattern, if set
	Side              Side
	Quantity          int64
	OrderType         OrderType
	TargetPositionVPI string // Exit: explicit VPI, "previous" (nearest ancestor Entry's last fill), or empty for "all open positions"

	// SquareOff
	ImmediateExit        bool
	ProfitTarget         float64 // 0 disables
	LossLimit            float64 // 0 disables
	TimeBasedExitAt      string  // "HH:MM", empty disables
	MinutesBeforeClose   int     // 0 disables
}

// Condition is a boolean expression evaluated against tick context
// (candle series and LTP). Concrete evaluation lives in package graph;
// model only carries the opaque expression the strategy document supplied.
type Condition struct {
	Expr string
}
