// Condition expression evaluation for EntrySignal, ExitSignal and
// ReEntrySignal nodes. No example repo in the retrieved pack imports an
// expression-evaluation library (govaluate, expr, cel-go, ...), so this is
// a small hand-rolled recursive-descent parser over a minimal grammar
// sufficient for strategy conditions: comparisons and boolean combinators
// over candle fields, indicator values and LTP, e.g.
//
//	close[0] > EMA_21[0] && NIFTY.ltp >= 25800
//	close[1] - close[0] > 10 || RSI_14[0] < 30
//
// An identifier is SYMBOL.FIELD[OFFSET] with SYMBOL and OFFSET optional:
// SYMBOL defaults to the evaluating node's underlying, OFFSET defaults to
// 0 (the most recently completed candle; 1 is one candle before that).
// FIELD is "ltp", an OHLCV field name, or an indicator key as produced by
// indicator.Spec.Name() (e.g. "EMA_21").
package graph

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sreeanthrds/optionbacktest/internal/model"
)

// Window looks up a bounded candle history for (symbol, timeframe); LTP
// looks up the latest traded price for symbol. Satisfied by
// *datamanager.Manager.
type MarketView interface {
	Window(symbol string, timeframe int) []model.WithIndicators
	LTP(symbol string) (float64, bool)
}

// EvalContext carries the defaults an unqualified identifier resolves
// against, and the market data view conditions read from.
type EvalContext struct {
	Market           MarketView
	DefaultSymbol    string
	DefaultTimeframe int
}

// Evaluate parses and evaluates expr against ctx, returning its boolean
// result.
func Evaluate(expr string, ctx EvalContext) (bool, error) {
	p := &parser{lex: newLexer(expr), ctx: ctx}
	p.advance()
	v, err := p.parseOr()
	if err != nil {
		return false, fmt.Errorf("graph: condition %q: %w", expr, err)
	}
	if p.tok.kind != tokEOF || p.tok.text != "" {
		return false, fmt.Errorf("graph: condition %q: unexpected trailing token %q", expr, p.tok.text)
	}
	return truthy(v), nil
}

// value is either a float64 or a bool, the two runtime types expressions
// produce.
type value struct {
	isBool bool
	num    float64
	b      bool
}

func numVal(n float64) value { return value{num: n} }
func boolVal(b bool) value   { return value{isBool: true, b: b} }

func truthy(v value) bool {
	if v.isBool {
		return v.b
	}
	return v.num != 0
}

func asNum(v value) (float64, error) {
	if v.isBool {
		return 0, fmt.Errorf("expected a number, got a boolean")
	}
	return v.num, nil
}

// ── parser: orExpr := andExpr ('||' andExpr)*
//
//	andExpr  := notExpr ('&&' notExpr)*
//	notExpr  := '!' notExpr | comparison
//	comparison := additive ( ('=='|'!='|'<'|'<='|'>'|'>=') additive )?
//	additive := term (('+'|'-') term)*
//	term     := unary (('*'|'/') unary)*
//	unary    := '-' unary | primary
//	primary  := number | identifier | '(' orExpr ')'
type parser struct {
	lex *lexer
	tok token
	ctx EvalContext
}

func (p *parser) advance() { p.tok = p.lex.next() }

func (p *parser) parseOr() (value, error) {
	left, err := p.parseAnd()
	if err != nil {
		return value{}, err
	}
	for p.tok.kind == tokOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return value{}, err
		}
		left = boolVal(truthy(left) || truthy(right))
	}
	return left, nil
}

func (p *parser) parseAnd() (value, error) {
	left, err := p.parseNot()
	if err != nil {
		return value{}, err
	}
	for p.tok.kind == tokAnd {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return value{}, err
		}
		left = boolVal(truthy(left) && truthy(right))
	}
	return left, nil
}

func (p *parser) parseNot() (value, error) {
	if p.tok.kind == tokNot {
		p.advance()
		v, err := p.parseNot()
		if err != nil {
			return value{}, err
		}
		return boolVal(!truthy(v)), nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (value, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return value{}, err
	}
	op := p.tok.kind
	switch op {
	case tokEq, tokNeq, tokLt, tokLte, tokGt, tokGte:
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return value{}, err
		}
		ln, err := asNum(left)
		if err != nil {
			return value{}, err
		}
		rn, err := asNum(right)
		if err != nil {
			return value{}, err
		}
		switch op {
		case tokEq:
			return boolVal(ln == rn), nil
		case tokNeq:
			return boolVal(ln != rn), nil
		case tokLt:
			return boolVal(ln < rn), nil
		case tokLte:
			return boolVal(ln <= rn), nil
		case tokGt:
			return boolVal(ln > rn), nil
		case tokGte:
			return boolVal(ln >= rn), nil
		}
	}
	return left, nil
}

func (p *parser) parseAdditive() (value, error) {
	left, err := p.parseTerm()
	if err != nil {
		return value{}, err
	}
	for p.tok.kind == tokPlus || p.tok.kind == tokMinus {
		op := p.tok.kind
		p.advance()
		right, err := p.parseTerm()
		if err != nil {
			return value{}, err
		}
		ln, err := asNum(left)
		if err != nil {
			return value{}, err
		}
		rn, err := asNum(right)
		if err != nil {
			return value{}, err
		}
		if op == tokPlus {
			left = numVal(ln + rn)
		} else {
			left = numVal(ln - rn)
		}
	}
	return left, nil
}

func (p *parser) parseTerm() (value, error) {
	left, err := p.parseUnary()
	if err != nil {
		return value{}, err
	}
	for p.tok.kind == tokStar || p.tok.kind == tokSlash {
		op := p.tok.kind
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return value{}, err
		}
		ln, err := asNum(left)
		if err != nil {
			return value{}, err
		}
		rn, err := asNum(right)
		if err != nil {
			return value{}, err
		}
		if op == tokStar {
			left = numVal(ln * rn)
		} else {
			if rn == 0 {
				return value{}, fmt.Errorf("division by zero")
			}
			left = numVal(ln / rn)
		}
	}
	return left, nil
}

func (p *parser) parseUnary() (value, error) {
	if p.tok.kind == tokMinus {
		p.advance()
		v, err := p.parseUnary()
		if err != nil {
			return value{}, err
		}
		n, err := asNum(v)
		if err != nil {
			return value{}, err
		}
		return numVal(-n), nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (value, error) {
	switch p.tok.kind {
	case tokNumber:
		n, err := strconv.ParseFloat(p.tok.text, 64)
		if err != nil {
			return value{}, fmt.Errorf("invalid number %q", p.tok.text)
		}
		p.advance()
		return numVal(n), nil
	case tokLParen:
		p.advance()
		v, err := p.parseOr()
		if err != nil {
			return value{}, err
		}
		if p.tok.kind != tokRParen {
			return value{}, fmt.Errorf("expected ')'")
		}
		p.advance()
		return v, nil
	case tokIdent:
		return p.parseIdentifier()
	}
	return value{}, fmt.Errorf("unexpected token %q", p.tok.text)
}

func (p *parser) parseIdentifier() (value, error) {
	parts := strings.SplitN(p.tok.text, ".", 2)
	symbol := p.ctx.DefaultSymbol
	field := parts[0]
	if len(parts) == 2 {
		symbol = parts[0]
		field = parts[1]
	}
	p.advance()

	offset := 0
	if p.tok.kind == tokLBracket {
		p.advance()
		if p.tok.kind != tokNumber {
			return value{}, fmt.Errorf("expected offset number")
		}
		n, err := strconv.Atoi(p.tok.text)
		if err != nil {
			return value{}, fmt.Errorf("invalid offset %q", p.tok.text)
		}
		offset = n
		p.advance()
		if p.tok.kind != tokRBracket {
			return value{}, fmt.Errorf("expected ']'")
		}
		p.advance()
	}

	return p.resolveField(symbol, field, offset)
}

func (p *parser) resolveField(symbol, field string, offset int) (value, error) {
	if strings.EqualFold(field, "ltp") {
		if p.ctx.Market == nil {
			return value{}, fmt.Errorf("no market view available for ltp")
		}
		ltp, ok := p.ctx.Market.LTP(symbol)
		if !ok {
			return value{}, fmt.Errorf("no ltp observed yet for %s", symbol)
		}
		return numVal(ltp), nil
	}

	if p.ctx.Market == nil {
		return value{}, fmt.Errorf("no market view available for %s", field)
	}
	window := p.ctx.Market.Window(symbol, p.ctx.DefaultTimeframe)
	if len(window) == 0 {
		return value{}, fmt.Errorf("no candle history yet for %s", symbol)
	}
	idx := len(window) - 1 - offset
	if idx < 0 || idx >= len(window) {
		return value{}, fmt.Errorf("offset %d out of range for %s (have %d candles)", offset, symbol, len(window))
	}
	c := window[idx]

	switch strings.ToLower(field) {
	case "open":
		return numVal(c.Open), nil
	case "high":
		return numVal(c.High), nil
	case "low":
		return numVal(c.Low), nil
	case "close":
		return numVal(c.Close), nil
	case "volume":
		return numVal(float64(c.Volume)), nil
	}

	if v, ok := c.Indicators[field]; ok {
		return numVal(v), nil
	}
	return value{}, fmt.Errorf("unknown field or indicator %q", field)
}
