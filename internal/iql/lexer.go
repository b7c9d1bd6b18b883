package iql

import (
	"strings"
	"unicode"
)

// keywords are matched case-insensitively and normalized to upper case.
var keywords = map[string]bool{
	"FIND": true, "SUMMARIZE": true, "BY": true, "WHERE": true,
	"LIMIT": true, "DEPTH": true, "DOWNSTREAM": true, "UPSTREAM": true,
	"OF": true, "PATH": true, "FROM": true, "TO": true,
	"AND": true, "OR": true, "NOT": true,
	"LIKE": true, "IN": true, "MATCHES": true,
}

type lexer struct {
	input string
	pos   int
}

// lex tokenizes the whole query up front. Errors carry the byte offset of
// the offending character.
func lex(input string) ([]Token, error) {
	l := &lexer{input: input}
	var tokens []Token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens, nil
		}
	}
}

func (l *lexer) next() (Token, error) {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Pos: l.pos}, nil
	}

	start := l.pos
	c := l.input[l.pos]
	switch {
	case c == '(':
		l.pos++
		return Token{Type: TokenLParen, Value: "(", Pos: start}, nil
	case c == ')':
		l.pos++
		return Token{Type: TokenRParen, Value: ")", Pos: start}, nil
	case c == '[':
		l.pos++
		return Token{Type: TokenLBracket, Value: "[", Pos: start}, nil
	case c == ']':
		l.pos++
		return Token{Type: TokenRBracket, Value: "]", Pos: start}, nil
	case c == ',':
		l.pos++
		return Token{Type: TokenComma, Value: ",", Pos: start}, nil
	case c == '.':
		l.pos++
		return Token{Type: TokenDot, Value: ".", Pos: start}, nil
	case c == '"' || c == '\'':
		return l.lexString(c)
	case c == '=':
		l.pos++
		return Token{Type: TokenOperator, Value: "=", Pos: start}, nil
	case c == '!':
		if l.pos+1 < len(l.input) && l.input[l.pos+1] == '=' {
			l.pos += 2
			return Token{Type: TokenOperator, Value: "!=", Pos: start}, nil
		}
		return Token{}, &SyntaxError{Msg: "expected '=' after '!'", Pos: start, Token: "!"}
	case c == '>' || c == '<':
		op := string(c)
		l.pos++
		if l.pos < len(l.input) && l.input[l.pos] == '=' {
			op += "="
			l.pos++
		}
		return Token{Type: TokenOperator, Value: op, Pos: start}, nil
	case c >= '0' && c <= '9' || c == '-':
		return l.lexNumber()
	case isIdentStart(c):
		return l.lexIdent()
	}
	return Token{}, &SyntaxError{Msg: "unexpected character", Pos: start, Token: string(c)}
}

func (l *lexer) lexString(quote byte) (Token, error) {
	start := l.pos
	l.pos++
	var sb strings.Builder
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if c == '\\' && l.pos+1 < len(l.input) {
			sb.WriteByte(l.input[l.pos+1])
			l.pos += 2
			continue
		}
		if c == quote {
			l.pos++
			return Token{Type: TokenString, Value: sb.String(), Pos: start}, nil
		}
		sb.WriteByte(c)
		l.pos++
	}
	return Token{}, &SyntaxError{Msg: "unterminated string", Pos: start, Token: l.input[start:]}
}

func (l *lexer) lexNumber() (Token, error) {
	start := l.pos
	if l.input[l.pos] == '-' {
		l.pos++
	}
	seenDot := false
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if c == '.' && !seenDot {
			seenDot = true
			l.pos++
			continue
		}
		if c < '0' || c > '9' {
			break
		}
		l.pos++
	}
	value := l.input[start:l.pos]
	if value == "-" {
		return Token{}, &SyntaxError{Msg: "expected digits after '-'", Pos: start, Token: "-"}
	}
	return Token{Type: TokenNumber, Value: value, Pos: start}, nil
}

func (l *lexer) lexIdent() (Token, error) {
	start := l.pos
	for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
		l.pos++
	}
	word := l.input[start:l.pos]
	upper := strings.ToUpper(word)
	switch {
	case keywords[upper]:
		return Token{Type: TokenKeyword, Value: upper, Pos: start}, nil
	case upper == "TRUE" || upper == "FALSE":
		return Token{Type: TokenBool, Value: strings.ToLower(word), Pos: start}, nil
	}
	return Token{Type: TokenIdent, Value: word, Pos: start}, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9') || c == '-'
}
