package expression

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Lexer turns an expression string into tokens.
type Lexer struct {
	input string
	pos   int
}

func NewLexer(input string) *Lexer {
	return &Lexer{input: input}
}

// Tokenize lexes the whole input. The returned slice always ends with an EOF
// token.
func Tokenize(input string) ([]Token, error) {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok, err := l.NextToken()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Kind == EOF {
			return tokens, nil
		}
	}
}

func (l *Lexer) peek() byte {
	if l.pos >= len(l.input) {
		return 0
	}
	return l.input[l.pos]
}

func (l *Lexer) peekNext() byte {
	if l.pos+1 >= len(l.input) {
		return 0
	}
	return l.input[l.pos+1]
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) {
		switch l.input[l.pos] {
		case ' ', '\t', '\n', '\r':
			l.pos++
		default:
			return
		}
	}
}

// NextToken returns the next token or a *SyntaxError.
func (l *Lexer) NextToken() (Token, error) {
	l.skipWhitespace()
	start := l.pos
	if start >= len(l.input) {
		return Token{Kind: EOF, Pos: start}, nil
	}

	ch := l.input[start]
	switch {
	case isDigit(ch):
		return l.readNumber(), nil
	case isIdentStart(ch):
		return l.readIdentifier(), nil
	case ch == '"' || ch == '\'':
		return l.readString(ch)
	}

	single := func(kind TokenKind) (Token, error) {
		l.pos++
		return Token{Kind: kind, Lexeme: l.input[start:l.pos], Pos: start}, nil
	}
	double := func(kind TokenKind) (Token, error) {
		l.pos += 2
		return Token{Kind: kind, Lexeme: l.input[start:l.pos], Pos: start}, nil
	}

	switch ch {
	case '(':
		return single(LPAREN)
	case ')':
		return single(RPAREN)
	case ',':
		return single(COMMA)
	case '.':
		return single(DOT)
	case '+':
		return single(PLUS)
	case '-':
		return single(MINUS)
	case '*':
		return single(STAR)
	case '/':
		return single(SLASH)
	case '!':
		if l.peekNext() == '=' {
			return double(NOT_EQ)
		}
		return single(NOT)
	case '<':
		if l.peekNext() == '=' {
			return double(LTE)
		}
		return single(LT)
	case '>':
		if l.peekNext() == '=' {
			return double(GTE)
		}
		return single(GT)
	case '=':
		if l.peekNext() == '=' {
			return double(EQ)
		}
		return Token{}, syntaxErrorf(start, "unexpected '=' (did you mean '=='?)")
	case '&':
		if l.peekNext() == '&' {
			return double(AND)
		}
		return Token{}, syntaxErrorf(start, "unexpected '&' (did you mean '&&'?)")
	case '|':
		if l.peekNext() == '|' {
			return double(OR)
		}
		return Token{}, syntaxErrorf(start, "unexpected '|' (did you mean '||'?)")
	}

	r, _ := utf8.DecodeRuneInString(l.input[start:])
	return Token{}, syntaxErrorf(start, "unexpected character %q", r)
}

func (l *Lexer) readNumber() Token {
	start := l.pos
	for isDigit(l.peek()) {
		l.pos++
	}
	if l.peek() == '.' && isDigit(l.peekNext()) {
		l.pos++
		for isDigit(l.peek()) {
			l.pos++
		}
	}
	lexeme := l.input[start:l.pos]
	// digits with at most one embedded '.' always parse
	value, _ := strconv.ParseFloat(lexeme, 64)
	return Token{Kind: NUMBER, Lexeme: lexeme, Literal: value, Pos: start}
}

func (l *Lexer) readIdentifier() Token {
	start := l.pos
	for isIdentPart(l.peek()) {
		l.pos++
	}
	lexeme := l.input[start:l.pos]
	if kind, ok := keywords[lexeme]; ok {
		tok := Token{Kind: kind, Lexeme: lexeme, Pos: start}
		switch kind {
		case TRUE:
			tok.Literal = true
		case FALSE:
			tok.Literal = false
		}
		return tok
	}
	return Token{Kind: IDENT, Lexeme: lexeme, Pos: start}
}

func (l *Lexer) readString(quote byte) (Token, error) {
	start := l.pos
	l.pos++ // opening quote
	var b strings.Builder
	for {
		if l.pos >= len(l.input) {
			return Token{}, syntaxErrorf(start, "unterminated string")
		}
		ch := l.input[l.pos]
		if ch == quote {
			l.pos++
			break
		}
		if ch != '\\' {
			b.WriteByte(ch)
			l.pos++
			continue
		}
		if l.pos+1 >= len(l.input) {
			return Token{}, syntaxErrorf(l.pos, "unterminated escape sequence")
		}
		switch esc := l.input[l.pos+1]; esc {
		case '"', '\'', '\\':
			b.WriteByte(esc)
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		default:
			r, _ := utf8.DecodeRuneInString(l.input[l.pos+1:])
			return Token{}, syntaxErrorf(l.pos, "unknown escape sequence '\\%c'", r)
		}
		l.pos += 2
	}
	return Token{Kind: STRING, Lexeme: l.input[start:l.pos], Literal: b.String(), Pos: start}, nil
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

func isIdentStart(ch byte) bool {
	return 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z' || ch == '_'
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch)
}
