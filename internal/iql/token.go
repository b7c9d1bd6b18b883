// Package iql implements the infrastructure query language: a small
// FIND/SUMMARIZE language with boolean predicates, traversal queries and
// shortest-path queries executed against the graph store.
package iql

import "fmt"

// TokenType classifies one lexed token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenIdent
	TokenString
	TokenNumber
	TokenBool
	TokenKeyword
	TokenOperator // = != > < >= <=
	TokenLParen
	TokenRParen
	TokenLBracket
	TokenRBracket
	TokenComma
	TokenDot
)

func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "end of query"
	case TokenIdent:
		return "identifier"
	case TokenString:
		return "string"
	case TokenNumber:
		return "number"
	case TokenBool:
		return "boolean"
	case TokenKeyword:
		return "keyword"
	case TokenOperator:
		return "operator"
	case TokenLParen:
		return "'('"
	case TokenRParen:
		return "')'"
	case TokenLBracket:
		return "'['"
	case TokenRBracket:
		return "']'"
	case TokenComma:
		return "','"
	case TokenDot:
		return "'.'"
	}
	return "unknown"
}

// Token is one lexical unit with its position in the query text.
type Token struct {
	Type  TokenType
	Value string // keywords are upper-cased, everything else verbatim
	Pos   int    // byte offset of the token start
}

// SyntaxError reports a malformed query with the offending token position.
type SyntaxError struct {
	Msg   string
	Pos   int
	Token string
}

func (e *SyntaxError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("syntax error at position %d: %s", e.Pos, e.Msg)
	}
	return fmt.Sprintf("syntax error at position %d near %q: %s", e.Pos, e.Token, e.Msg)
}

// ExampleQueries are returned alongside syntax errors to guide callers.
var ExampleQueries = []string{
	`FIND resources WHERE provider = "aws" AND status = "running"`,
	`FIND resources WHERE tag.env = "prod" AND costMonthly > 500 LIMIT 20`,
	`FIND DOWNSTREAM OF "aws::us-east-1:database:orders-db" DEPTH 2`,
	`FIND UPSTREAM OF "aws::us-east-1:compute:i-0a1b2c"`,
	`FIND PATH FROM "aws::us-east-1:compute:i-0a1b2c" TO "aws::us-east-1:database:orders-db"`,
	`FIND resources WHERE tagged("team") AND NOT status = "stopped"`,
	`SUMMARIZE resources BY provider WHERE costMonthly > 0`,
}
