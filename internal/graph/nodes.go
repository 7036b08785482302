package graph

import (
	"time"

	"github.com/sreeanthrds/optionbacktest/internal/markethours"
	"github.com/sreeanthrds/optionbacktest/internal/model"
)

// signalLogic implements EntrySignal, ExitSignal and ReEntrySignal: evaluate
// a boolean condition against the current market view; complete (and
// activate children) only once it is true (spec §4.6). A ReEntrySignal that
// fires also bumps its own reEntryNum, capped at Config.MaxReEntries, which
// propagates to children via the generic execute() max-merge.
func (g *Graph) signalLogic(n *model.Node) (outcome, error) {
	fired, err := Evaluate(n.Config.Condition.Expr, conditionContext(g, n))
	if err != nil {
		return outcome{}, err
	}
	if !fired {
		return outcome{logicCompleted: false}, nil
	}

	if n.Type == model.NodeReEntrySignal {
		if n.Config.MaxReEntries > 0 && n.State.ReEntryFireCount >= n.Config.MaxReEntries {
			// Capped out: stays Active forever, never fires again, so
			// downstream re-entry stops for good once the budget is spent.
			return outcome{logicCompleted: false}, nil
		}
		n.State.ReEntryFireCount++
		n.State.ReEntryNum++
	}

	if g.logger != nil {
		g.logger.Info("signal fired", "node", n.ID, "type", n.Type)
	}
	return outcome{logicCompleted: true, activateChildren: true}, nil
}

// entryLogic implements Entry: resolve the target symbol, place an order on
// first execution, then poll for fill on subsequent ticks (spec §4.6).
func (g *Graph) entryLogic(n *model.Node) (outcome, error) {
	if n.State.PendingOrderID != "" {
		return g.pollEntryOrder(n)
	}

	symbol, ready, err := g.resolveTargetSymbol(n)
	if err != nil {
		return outcome{}, err
	}
	if !ready {
		// Underlying spot not observed yet this run — stay Active and
		// retry next tick rather than failing it.
		return outcome{logicCompleted: false}, nil
	}

	price, ok := g.market.LTP(symbol)
	if !ok {
		// Nothing tradeable yet (e.g. a contract whose first tick hasn't
		// arrived this second) — stay Active and retry next tick rather
		// than failing the run.
		return outcome{logicCompleted: false}, nil
	}

	order, err := g.broker.PlaceOrder(symbol, exchangeFor(symbol), n.Config.Side, n.Config.Quantity, n.Config.OrderType, productType, price)
	if err != nil {
		return outcome{}, err
	}
	n.State.PendingOrderID = order.OrderID
	n.State.Status = model.StatusPending
	n.State.Variables["symbol"] = symbol
	if g.logger != nil {
		g.logger.Info("entry order placed", "node", n.ID, "symbol", symbol, "side", n.Config.Side, "order", order.OrderID)
	}
	return outcome{logicCompleted: false}, nil
}

func (g *Graph) pollEntryOrder(n *model.Node) (outcome, error) {
	order, err := g.broker.GetOrderStatus(n.State.PendingOrderID, true)
	if err != nil {
		return outcome{}, err
	}
	switch order.Status {
	case model.OrderComplete:
		symbol, _ := n.State.Variables["symbol"].(string)
		spot, _ := g.market.LTP(defaultSymbol(n))
		pos := g.positions.Open(n.ID, symbol, n.Config.Side, n.Config.Quantity, order.AveragePrice, order.CompletedAt, n.State.ReEntryNum, spot)
		n.State.Variables["position_vpi"] = pos.VPI
		n.State.PendingOrderID = ""
		if g.logger != nil {
			g.logger.Info("entry filled", "node", n.ID, "vpi", pos.VPI, "price", order.AveragePrice)
		}
		return outcome{logicCompleted: true, activateChildren: true}, nil
	case model.OrderRejected, model.OrderCancelled:
		n.State.PendingOrderID = ""
		if g.logger != nil {
			g.logger.Warn("entry order not filled", "node", n.ID, "status", order.Status, "reason", order.RejectionReason)
		}
		// Spec §4.6: "deactivate self without retry; children are not
		// activated" — an explicit exception to the generic protocol's
		// "logic_completed always activates children" rule.
		return outcome{logicCompleted: true, activateChildren: false}, nil
	default: // PARTIALLY_FILLED, PENDING
		return outcome{logicCompleted: false}, nil
	}
}

// resolveTargetSymbol resolves an Entry/Exit node's configured target to a
// concrete canonical symbol, loading the option contract stream if it
// resolves to a dynamic option pattern not already subscribed.
func (g *Graph) resolveTargetSymbol(n *model.Node) (symbol string, ready bool, err error) {
	if n.Config.Pattern == nil {
		return n.Config.Symbol, true, nil
	}
	spot, ok := g.market.LTP(n.Config.Pattern.UnderlyingAlias)
	if !ok {
		return "", false, nil
	}
	symbol, err = g.resolver.Resolve(*n.Config.Pattern, spot, g.day)
	if err != nil {
		return "", false, err
	}
	if model.IsOption(symbol) {
		if _, err := g.data.LoadOptionContract(symbol, g.day, g.now); err != nil {
			return "", false, err
		}
	}
	return symbol, true, nil
}

// exitLogic implements Exit: close one explicitly targeted position, or
// work through every currently open position one at a time when no target
// is configured (spec §4.6; NodeConfig.TargetPositionVPI doc: "empty means
// all open positions"). Exactly one order-affecting action happens per
// tick, matching the "at most one position-affecting event per tick" rule.
func (g *Graph) exitLogic(n *model.Node) (outcome, error) {
	if n.State.PendingOrderID != "" {
		return g.pollExitOrder(n)
	}

	target, ok := g.nextExitTarget(n)
	if !ok {
		return outcome{logicCompleted: true, activateChildren: true}, nil
	}

	// A position opened this very tick defers to next tick, avoiding a
	// same-tick entry/exit race (spec §4.6).
	if target.EntryTime.Equal(g.now) {
		return outcome{logicCompleted: false}, nil
	}

	price, ok := g.market.LTP(target.Symbol)
	if !ok {
		price = target.LastLTP
	}
	order, err := g.broker.PlaceOrder(target.Symbol, exchangeFor(target.Symbol), target.Side.Opposite(), target.Quantity, model.OrderMarket, productType, price)
	if err != nil {
		return outcome{}, err
	}
	n.State.PendingOrderID = order.OrderID
	n.State.Status = model.StatusPending
	n.State.Variables["exiting_vpi"] = target.VPI
	if g.logger != nil {
		g.logger.Info("exit order placed", "node", n.ID, "vpi", target.VPI, "order", order.OrderID)
	}
	return outcome{logicCompleted: false}, nil
}

// previousSentinel is the targetPositionVpi literal a strategy document uses
// to mean "whatever position my nearest ancestor Entry node most recently
// opened", e.g. spec §8 Scenario A: "Exit(targetPositionVpi=previous)".
const previousSentinel = "previous"

// nextExitTarget picks the position this Exit node should act on next: an
// explicit VPI, the "previous" sentinel resolved against the nearest
// ancestor Entry node's last fill, or — when unconfigured — the oldest
// still-open position (a deterministic, repeatable choice across ticks as
// positions close one by one in "all open positions" mode).
func (g *Graph) nextExitTarget(n *model.Node) (model.Position, bool) {
	switch n.Config.TargetPositionVPI {
	case "":
		// falls through to "all open positions" below
	case previousSentinel:
		vpi, ok := g.resolvePreviousPositionVPI(n)
		if !ok {
			return model.Position{}, false
		}
		pos, ok := g.positions.Get(vpi)
		if !ok || pos.Status != model.PositionOpen {
			return model.Position{}, false
		}
		return pos, true
	default:
		pos, ok := g.positions.Get(n.Config.TargetPositionVPI)
		if !ok || pos.Status != model.PositionOpen {
			return model.Position{}, false
		}
		return pos, true
	}
	open := g.positions.OpenPositions()
	if len(open) == 0 {
		return model.Position{}, false
	}
	oldest := open[0]
	for _, p := range open[1:] {
		if p.EntryTime.Before(oldest.EntryTime) {
			oldest = p
		}
	}
	return oldest, true
}

// resolvePreviousPositionVPI walks n's ancestor chain looking for the
// nearest Entry node and returns the VPI it stamped on its last fill
// (State.Variables["position_vpi"], set in pollEntryOrder). Breadth-first
// over Parents, so a diamond-shaped graph still finds a unique nearest Entry
// along whichever path reaches one first.
func (g *Graph) resolvePreviousPositionVPI(n *model.Node) (string, bool) {
	seen := map[string]bool{n.ID: true}
	queue := append([]string{}, n.Parents...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		parent, ok := g.nodes[id]
		if !ok {
			continue
		}
		if parent.Type == model.NodeEntry {
			if vpi, ok := parent.State.Variables["position_vpi"].(string); ok && vpi != "" {
				return vpi, true
			}
		}
		queue = append(queue, parent.Parents...)
	}
	return "", false
}

func (g *Graph) pollExitOrder(n *model.Node) (outcome, error) {
	order, err := g.broker.GetOrderStatus(n.State.PendingOrderID, true)
	if err != nil {
		return outcome{}, err
	}
	vpi, _ := n.State.Variables["exiting_vpi"].(string)
	switch order.Status {
	case model.OrderComplete:
		if _, err := g.positions.Close(vpi, order.AveragePrice, order.CompletedAt, "exit node", n.ID, n.State.ReEntryNum); err != nil {
			return outcome{}, err
		}
		n.State.PendingOrderID = ""
		if g.logger != nil {
			g.logger.Info("exit filled", "node", n.ID, "vpi", vpi, "price", order.AveragePrice)
		}
		// Explicit single-target exits complete once that position
		// closes; "all open positions" mode loops by staying Active
		// until nextExitTarget finds nothing left.
		if n.Config.TargetPositionVPI != "" {
			return outcome{logicCompleted: true, activateChildren: true}, nil
		}
		return outcome{logicCompleted: false}, nil
	case model.OrderRejected, model.OrderCancelled:
		n.State.PendingOrderID = ""
		if g.logger != nil {
			g.logger.Warn("exit order not filled", "node", n.ID, "vpi", vpi, "status", order.Status)
		}
		return outcome{logicCompleted: true, activateChildren: false}, nil
	default:
		return outcome{logicCompleted: false}, nil
	}
}

// squareOffLogic implements SquareOff's three fixed-priority triggers and
// its once-per-run idempotent global action (spec §4.6).
func (g *Graph) squareOffLogic(n *model.Node) (outcome, error) {
	if fired, _ := n.State.Variables["fired"].(bool); fired {
		return outcome{logicCompleted: false}, nil
	}

	reason, fire := g.squareOffTrigger(n)
	if !fire {
		return outcome{logicCompleted: false}, nil
	}

	if pending, err := g.broker.GetPendingOrders(); err == nil {
		for _, o := range pending {
			_, _, _ = g.broker.CancelOrder(o.OrderID)
		}
	}
	g.forceCloseEverything(reason, n.ID)
	n.State.Variables["fired"] = true
	n.State.Status = model.StatusInactive
	if g.logger != nil {
		g.logger.Info("square-off triggered", "node", n.ID, "reason", reason)
	}
	// Global action already reached every node directly; no generic
	// child-activation step applies to SquareOff.
	return outcome{logicCompleted: false}, nil
}

// squareOffTrigger evaluates, in fixed priority order, whether this
// SquareOff node should fire: (1) immediate — simply being Active because a
// parent condition activated it; (2) performance-based — today's realized
// plus unrealized P&L crossing a configured target or limit; (3)
// time-based — a wall-clock cutoff or N minutes before close.
func (g *Graph) squareOffTrigger(n *model.Node) (string, bool) {
	if n.Config.ImmediateExit {
		return "immediate square-off", true
	}

	if n.Config.ProfitTarget > 0 || n.Config.LossLimit > 0 {
		realized, unrealized := g.positions.TotalPnL(g.market.LTP)
		total := realized + unrealized
		if n.Config.ProfitTarget > 0 && total >= n.Config.ProfitTarget {
			return "profit target reached", true
		}
		if n.Config.LossLimit > 0 && total <= -n.Config.LossLimit {
			return "loss limit reached", true
		}
	}

	if n.Config.TimeBasedExitAt != "" {
		if cutoff, err := parseClock(g.day, n.Config.TimeBasedExitAt); err == nil && !g.now.Before(cutoff) {
			return "time-based square-off", true
		}
	}
	if n.Config.MinutesBeforeClose > 0 {
		ist := g.day.In(markethours.IST)
		close := time.Date(ist.Year(), ist.Month(), ist.Day(), markethours.CloseHour, markethours.CloseMinute, 0, 0, markethours.IST)
		cutoff := close.Add(-time.Duration(n.Config.MinutesBeforeClose) * time.Minute)
		if !g.now.Before(cutoff) {
			return "minutes-before-close square-off", true
		}
	}

	return "", false
}

func parseClock(day time.Time, hhmm string) (time.Time, error) {
	t, err := time.ParseInLocation("15:04", hhmm, markethours.IST)
	if err != nil {
		return time.Time{}, err
	}
	ist := day.In(markethours.IST)
	return time.Date(ist.Year(), ist.Month(), ist.Day(), t.Hour(), t.Minute(), 0, 0, markethours.IST), nil
}
