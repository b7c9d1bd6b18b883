package iql

import (
	"strconv"
	"strings"
)

// builtins are the predicate functions the executor understands.
var builtins = map[string]bool{
	"tagged":         true,
	"drifted_since":  true,
	"has_edge":       true,
	"created_after":  true,
	"created_before": true,
}

type parser struct {
	tokens []Token
	pos    int
}

// Parse turns query text into an AST. Malformed input returns *SyntaxError.
func Parse(input string) (Query, error) {
	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	q, err := p.parseQuery()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.Type != TokenEOF {
		return nil, p.errf(tok, "unexpected trailing input")
	}
	return q, nil
}

func (p *parser) peek() Token { return p.tokens[p.pos] }
func (p *parser) advance() Token {
	tok := p.tokens[p.pos]
	if tok.Type != TokenEOF {
		p.pos++
	}
	return tok
}

func (p *parser) errf(tok Token, msg string) error {
	return &SyntaxError{Msg: msg, Pos: tok.Pos, Token: tok.Value}
}

func (p *parser) expectKeyword(kw string) (Token, error) {
	tok := p.advance()
	if tok.Type != TokenKeyword || tok.Value != kw {
		return tok, p.errf(tok, "expected "+kw)
	}
	return tok, nil
}

func (p *parser) expectString(what string) (string, error) {
	tok := p.advance()
	if tok.Type != TokenString {
		return "", p.errf(tok, "expected "+what)
	}
	return tok.Value, nil
}

func (p *parser) expectInt(what string) (int, error) {
	tok := p.advance()
	if tok.Type != TokenNumber {
		return 0, p.errf(tok, "expected "+what)
	}
	n, err := strconv.Atoi(tok.Value)
	if err != nil || n < 0 {
		return 0, p.errf(tok, what+" must be a non-negative integer")
	}
	return n, nil
}

func (p *parser) parseQuery() (Query, error) {
	tok := p.advance()
	if tok.Type != TokenKeyword {
		return nil, p.errf(tok, "query must start with FIND or SUMMARIZE")
	}
	switch tok.Value {
	case "FIND":
		return p.parseFind()
	case "SUMMARIZE":
		return p.parseSummarize()
	}
	return nil, p.errf(tok, "query must start with FIND or SUMMARIZE")
}

func (p *parser) parseFind() (Query, error) {
	q := &FindQuery{}
	tok := p.advance()
	switch {
	case tok.Type == TokenIdent && strings.EqualFold(tok.Value, "resources"):
		q.Kind = FindResources

	case tok.Type == TokenKeyword && (tok.Value == "DOWNSTREAM" || tok.Value == "UPSTREAM"):
		if tok.Value == "DOWNSTREAM" {
			q.Kind = FindDownstream
		} else {
			q.Kind = FindUpstream
		}
		if _, err := p.expectKeyword("OF"); err != nil {
			return nil, err
		}
		id, err := p.expectString("node id")
		if err != nil {
			return nil, err
		}
		q.NodeID = id

	case tok.Type == TokenKeyword && tok.Value == "PATH":
		q.Kind = FindPath
		if _, err := p.expectKeyword("FROM"); err != nil {
			return nil, err
		}
		from, err := p.expectString("source node id")
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKeyword("TO"); err != nil {
			return nil, err
		}
		to, err := p.expectString("target node id")
		if err != nil {
			return nil, err
		}
		q.FromID, q.ToID = from, to

	default:
		return nil, p.errf(tok, "expected resources, DOWNSTREAM, UPSTREAM or PATH")
	}

	// Trailing clauses in any order, each at most once.
	seen := map[string]bool{}
	for {
		tok := p.peek()
		if tok.Type != TokenKeyword {
			break
		}
		if seen[tok.Value] {
			return nil, p.errf(tok, "duplicate "+tok.Value+" clause")
		}
		switch tok.Value {
		case "WHERE":
			p.advance()
			expr, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			q.Where = expr
		case "DEPTH":
			if q.Kind != FindDownstream && q.Kind != FindUpstream {
				return nil, p.errf(tok, "DEPTH only applies to DOWNSTREAM/UPSTREAM queries")
			}
			p.advance()
			n, err := p.expectInt("depth")
			if err != nil {
				return nil, err
			}
			q.Depth = n
		case "LIMIT":
			p.advance()
			n, err := p.expectInt("limit")
			if err != nil {
				return nil, err
			}
			q.Limit = n
		default:
			return nil, p.errf(tok, "unexpected "+tok.Value)
		}
		seen[tok.Value] = true
	}
	return q, nil
}

func (p *parser) parseSummarize() (Query, error) {
	tok := p.advance()
	if tok.Type != TokenIdent {
		return nil, p.errf(tok, "expected summarize target")
	}
	q := &SummarizeQuery{Target: strings.ToLower(tok.Value)}
	if q.Target != "resources" {
		return nil, p.errf(tok, "only SUMMARIZE resources is supported")
	}
	if _, err := p.expectKeyword("BY"); err != nil {
		return nil, err
	}
	field, err := p.parseField()
	if err != nil {
		return nil, err
	}
	q.By = field

	if tok := p.peek(); tok.Type == TokenKeyword && tok.Value == "WHERE" {
		p.advance()
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		q.Where = expr
	}
	return q, nil
}

// parseExpr handles OR, the loosest binder.
func (p *parser) parseExpr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.Type != TokenKeyword || tok.Value != "OR" {
			return left, nil
		}
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "OR", Left: left, Right: right}
	}
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.Type != TokenKeyword || tok.Value != "AND" {
			return left, nil
		}
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "AND", Left: left, Right: right}
	}
}

func (p *parser) parseUnary() (Expr, error) {
	if tok := p.peek(); tok.Type == TokenKeyword && tok.Value == "NOT" {
		p.advance()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &NotExpr{Inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	tok := p.peek()
	switch tok.Type {
	case TokenLParen:
		p.advance()
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if closing := p.advance(); closing.Type != TokenRParen {
			return nil, p.errf(closing, "expected ')'")
		}
		return expr, nil

	case TokenIdent:
		if builtins[strings.ToLower(tok.Value)] {
			return p.parseCall()
		}
		return p.parseCompare()
	}
	return nil, p.errf(tok, "expected a comparison, function call or '('")
}

func (p *parser) parseCall() (Expr, error) {
	name := p.advance()
	call := &CallExpr{Fn: strings.ToLower(name.Value), Pos: name.Pos}
	if open := p.advance(); open.Type != TokenLParen {
		return nil, p.errf(open, "expected '(' after "+call.Fn)
	}
	if p.peek().Type == TokenRParen {
		p.advance()
		return call, nil
	}
	for {
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, v)
		next := p.advance()
		switch next.Type {
		case TokenComma:
			continue
		case TokenRParen:
			return call, nil
		default:
			return nil, p.errf(next, "expected ',' or ')'")
		}
	}
}

func (p *parser) parseCompare() (Expr, error) {
	start := p.peek()
	field, err := p.parseField()
	if err != nil {
		return nil, err
	}
	op := p.advance()
	switch {
	case op.Type == TokenOperator:
	case op.Type == TokenKeyword && (op.Value == "LIKE" || op.Value == "IN" || op.Value == "MATCHES"):
	default:
		return nil, p.errf(op, "expected a comparison operator")
	}
	value, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	if op.Value == "IN" && value.Kind != ValueList {
		return nil, p.errf(op, "IN requires a list value")
	}
	return &CompareExpr{Field: field, Op: op.Value, Value: value, Pos: start.Pos}, nil
}

// parseField consumes a dotted identifier path, e.g. tag.env.
func (p *parser) parseField() (string, error) {
	tok := p.advance()
	if tok.Type != TokenIdent {
		return "", p.errf(tok, "expected a field name")
	}
	field := tok.Value
	for p.peek().Type == TokenDot {
		p.advance()
		part := p.advance()
		if part.Type != TokenIdent {
			return "", p.errf(part, "expected an identifier after '.'")
		}
		field += "." + part.Value
	}
	return field, nil
}

func (p *parser) parseValue() (Value, error) {
	tok := p.advance()
	switch tok.Type {
	case TokenString:
		return Value{Kind: ValueString, Str: tok.Value}, nil
	case TokenNumber:
		n, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return Value{}, p.errf(tok, "invalid number")
		}
		return Value{Kind: ValueNumber, Num: n}, nil
	case TokenBool:
		return Value{Kind: ValueBool, Bool: tok.Value == "true"}, nil
	case TokenLBracket:
		list := Value{Kind: ValueList}
		if p.peek().Type == TokenRBracket {
			p.advance()
			return list, nil
		}
		for {
			v, err := p.parseValue()
			if err != nil {
				return Value{}, err
			}
			list.List = append(list.List, v)
			next := p.advance()
			switch next.Type {
			case TokenComma:
				continue
			case TokenRBracket:
				return list, nil
			default:
				return Value{}, p.errf(next, "expected ',' or ']'")
			}
		}
	}
	return Value{}, p.errf(tok, "expected a literal value")
}
