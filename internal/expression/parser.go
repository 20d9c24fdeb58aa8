package expression

// Parser builds an AST from a token sequence by recursive descent. Precedence,
// lowest first: || && equality comparison additive multiplicative unary primary.
type Parser struct {
	tokens []Token
	pos    int
}

// Parse lexes and parses src into a Node.
func Parse(src string) (Node, error) {
	tokens, err := Tokenize(src)
	if err != nil {
		return nil, err
	}
	return NewParser(tokens).Parse()
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level expressions.
func MustParse(src string) Node {
	n, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return n
}

func NewParser(tokens []Token) *Parser {
	if len(tokens) == 0 || tokens[len(tokens)-1].Kind != EOF {
		end := 0
		if len(tokens) > 0 {
			last := tokens[len(tokens)-1]
			end = last.Pos + len(last.Lexeme)
		}
		tokens = append(tokens, Token{Kind: EOF, Pos: end})
	}
	return &Parser{tokens: tokens}
}

// Parse parses a single expression and requires that it consumes every token.
func (p *Parser) Parse() (Node, error) {
	n, err := p.or()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.Kind != EOF {
		if tok.Kind == RPAREN {
			return nil, syntaxErrorf(tok.Pos, "unbalanced ')'")
		}
		return nil, syntaxErrorf(tok.Pos, "unexpected %s after expression", tok)
	}
	return n, nil
}

func (p *Parser) peek() Token {
	return p.tokens[p.pos]
}

func (p *Parser) advance() Token {
	tok := p.tokens[p.pos]
	if tok.Kind != EOF {
		p.pos++
	}
	return tok
}

func (p *Parser) match(kinds ...TokenKind) (Token, bool) {
	tok := p.peek()
	for _, k := range kinds {
		if tok.Kind == k {
			p.advance()
			return tok, true
		}
	}
	return tok, false
}

// binaryLevel parses a left-associative chain of the given operators.
func (p *Parser) binaryLevel(next func() (Node, error), kinds ...TokenKind) (Node, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.match(kinds...)
		if !ok {
			return left, nil
		}
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: Operator(tok.Lexeme), Left: left, Right: right}
	}
}

func (p *Parser) or() (Node, error) {
	return p.binaryLevel(p.and, OR)
}

func (p *Parser) and() (Node, error) {
	return p.binaryLevel(p.equality, AND)
}

func (p *Parser) equality() (Node, error) {
	return p.binaryLevel(p.comparison, EQ, NOT_EQ)
}

func (p *Parser) comparison() (Node, error) {
	return p.binaryLevel(p.additive, LT, GT, LTE, GTE)
}

func (p *Parser) additive() (Node, error) {
	return p.binaryLevel(p.multiplicative, PLUS, MINUS)
}

func (p *Parser) multiplicative() (Node, error) {
	return p.binaryLevel(p.unary, STAR, SLASH)
}

func (p *Parser) unary() (Node, error) {
	if tok, ok := p.match(NOT, MINUS); ok {
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: Operator(tok.Lexeme), Operand: operand}, nil
	}
	return p.primary()
}

func (p *Parser) primary() (Node, error) {
	tok := p.advance()
	switch tok.Kind {
	case NUMBER:
		return &Literal{Value: NumberValue(tok.Literal.(float64))}, nil
	case STRING:
		return &Literal{Value: StringValue(tok.Literal.(string))}, nil
	case TRUE, FALSE:
		return &Literal{Value: BoolValue(tok.Kind == TRUE)}, nil
	case NULL:
		return &Literal{Value: Null}, nil
	case LPAREN:
		inner, err := p.or()
		if err != nil {
			return nil, err
		}
		if closing, ok := p.match(RPAREN); !ok {
			return nil, syntaxErrorf(closing.Pos, "expected ')' to close '(' at position %d, found %s", tok.Pos, closing)
		}
		return inner, nil
	case IDENT:
		if p.peek().Kind == LPAREN {
			p.advance()
			return p.call(tok)
		}
		return p.variable(tok)
	case EOF:
		return nil, syntaxErrorf(tok.Pos, "unexpected end of input, expected operand")
	}
	return nil, syntaxErrorf(tok.Pos, "expected operand, found %s", tok)
}

func (p *Parser) variable(first Token) (Node, error) {
	path := first.Lexeme
	for {
		dot, ok := p.match(DOT)
		if !ok {
			return &Variable{Path: path}, nil
		}
		seg, ok := p.match(IDENT)
		if !ok {
			return nil, syntaxErrorf(dot.Pos, "expected identifier after '.'")
		}
		path += "." + seg.Lexeme
	}
}

func (p *Parser) call(name Token) (Node, error) {
	var args []Node
	if _, ok := p.match(RPAREN); ok {
		return &Call{Name: name.Lexeme, Args: args}, nil
	}
	for {
		arg, err := p.or()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)

		tok := p.advance()
		switch tok.Kind {
		case COMMA:
			continue
		case RPAREN:
			return &Call{Name: name.Lexeme, Args: args}, nil
		case EOF:
			return nil, syntaxErrorf(tok.Pos, "unexpected end of input in arguments of '%s'", name.Lexeme)
		}
		return nil, syntaxErrorf(tok.Pos, "expected ',' or ')' in arguments of '%s', found %s", name.Lexeme, tok)
	}
}
