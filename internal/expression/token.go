package expression

import "fmt"

// TokenKind identifies the lexical class of a Token.
type TokenKind int

const (
	EOF TokenKind = iota

	// Literals
	NUMBER
	STRING
	IDENT

	// Keywords
	TRUE
	FALSE
	NULL

	// Operators
	AND    // &&
	OR     // ||
	NOT    // !
	EQ     // ==
	NOT_EQ // !=
	LT     // <
	GT     // >
	LTE    // <=
	GTE    // >=
	PLUS   // +
	MINUS  // -
	STAR   // *
	SLASH  // /

	// Delimiters
	LPAREN // (
	RPAREN // )
	COMMA  // ,
	DOT    // .
)

var kindNames = [...]string{
	EOF:    "end of input",
	NUMBER: "number",
	STRING: "string",
	IDENT:  "identifier",
	TRUE:   "true",
	FALSE:  "false",
	NULL:   "null",
	AND:    "&&",
	OR:     "||",
	NOT:    "!",
	EQ:     "==",
	NOT_EQ: "!=",
	LT:     "<",
	GT:     ">",
	LTE:    "<=",
	GTE:    ">=",
	PLUS:   "+",
	MINUS:  "-",
	STAR:   "*",
	SLASH:  "/",
	LPAREN: "(",
	RPAREN: ")",
	COMMA:  ",",
	DOT:    ".",
}

func (k TokenKind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("TokenKind(%d)", int(k))
}

var keywords = map[string]TokenKind{
	"true":  TRUE,
	"false": FALSE,
	"null":  NULL,
}

// Token is one lexical unit. Literal holds the decoded value for NUMBER
// (float64), STRING (string) and boolean keywords; Pos is the byte offset of
// the token's first character.
type Token struct {
	Kind    TokenKind
	Lexeme  string
	Literal any
	Pos     int
}

func (t Token) String() string {
	if t.Kind == EOF {
		return t.Kind.String()
	}
	return fmt.Sprintf("%s %q", t.Kind, t.Lexeme)
}
