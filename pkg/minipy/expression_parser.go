package minipy

import (
	"strconv"
	"strings"
)

// maxNestingDepth bounds parentheses/bracket nesting so hostile input cannot
// exhaust the stack.
const maxNestingDepth = 64

// ExpressionParser is a recursive-descent parser over the tokens of one expression.
type ExpressionParser struct {
	tokens []Token
	pos    int
	depth  int
}

// ParseExpression parses a complete expression. Trailing tokens are an error.
func ParseExpression(input string) (Expr, error) {
	return parseTokens(Tokenize(input))
}

// parseTokens parses tokens (with or without a trailing EOF) as one expression.
func parseTokens(tokens []Token) (Expr, error) {
	if len(tokens) == 0 || tokens[len(tokens)-1].Type != TOKEN_EOF {
		pos := 0
		if len(tokens) > 0 {
			pos = tokens[len(tokens)-1].Pos + 1
		}
		tokens = append(append([]Token(nil), tokens...), Token{Type: TOKEN_EOF, Pos: pos})
	}
	p := &ExpressionParser{tokens: tokens}
	if p.currentTokenIs(TOKEN_EOF) {
		return nil, newRunError(KindParseFailure, "expected an expression")
	}
	expr, err := p.parseOrExpression()
	if err != nil {
		return nil, err
	}
	if !p.currentTokenIs(TOKEN_EOF) {
		return nil, p.unexpected()
	}
	return expr, nil
}

func (p *ExpressionParser) current() Token {
	return p.tokens[p.pos]
}

func (p *ExpressionParser) nextToken() {
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
}

func (p *ExpressionParser) currentTokenIs(t TokenType) bool {
	return p.current().Type == t
}

func (p *ExpressionParser) expect(t TokenType, what string) error {
	if !p.currentTokenIs(t) {
		return newRunError(KindParseFailure, "expected %s", what)
	}
	p.nextToken()
	return nil
}

func (p *ExpressionParser) unexpected() *RunError {
	tok := p.current()
	switch tok.Type {
	case TOKEN_ILLEGAL:
		if strings.HasPrefix(tok.Value, `"`) || strings.HasPrefix(tok.Value, "'") ||
			strings.HasPrefix(tok.Value, `f"`) || strings.HasPrefix(tok.Value, "f'") ||
			strings.HasPrefix(tok.Value, `F"`) || strings.HasPrefix(tok.Value, "F'") {
			return newRunError(KindParseFailure, "unterminated string literal")
		}
		return newRunError(KindParseFailure, "unexpected character %q", tok.Value)
	case TOKEN_EOF:
		return newRunError(KindParseFailure, "unexpected end of line")
	}
	return newRunError(KindParseFailure, "unexpected %q", tok.Value)
}

func (p *ExpressionParser) enter() error {
	p.depth++
	if p.depth > maxNestingDepth {
		return newRunError(KindParseFailure, "expression nested too deeply")
	}
	return nil
}

func (p *ExpressionParser) leave() {
	p.depth--
}

// parseOrExpression handles 'or' (lowest precedence)
func (p *ExpressionParser) parseOrExpression() (Expr, error) {
	left, err := p.parseAndExpression()
	if err != nil {
		return nil, err
	}
	for p.currentTokenIs(TOKEN_OR) {
		p.nextToken()
		right, err := p.parseAndExpression()
		if err != nil {
			return nil, err
		}
		left = &BoolOp{Op: TOKEN_OR, Left: left, Right: right}
	}
	return left, nil
}

func (p *ExpressionParser) parseAndExpression() (Expr, error) {
	left, err := p.parseNotExpression()
	if err != nil {
		return nil, err
	}
	for p.currentTokenIs(TOKEN_AND) {
		p.nextToken()
		right, err := p.parseNotExpression()
		if err != nil {
			return nil, err
		}
		left = &BoolOp{Op: TOKEN_AND, Left: left, Right: right}
	}
	return left, nil
}

func (p *ExpressionParser) parseNotExpression() (Expr, error) {
	if p.currentTokenIs(TOKEN_NOT) {
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		p.nextToken()
		operand, err := p.parseNotExpression()
		if err != nil {
			return nil, err
		}
		return &UnaryOp{Op: TOKEN_NOT, Operand: operand}, nil
	}
	return p.parseComparison()
}

func isComparisonOp(t TokenType) bool {
	switch t {
	case TOKEN_EQ, TOKEN_NE, TOKEN_LT, TOKEN_LE, TOKEN_GT, TOKEN_GE:
		return true
	}
	return false
}

// parseComparison collects a whole chain so it can be evaluated pairwise.
func (p *ExpressionParser) parseComparison() (Expr, error) {
	first, err := p.parseAdditiveExpression()
	if err != nil {
		return nil, err
	}
	if !isComparisonOp(p.current().Type) {
		return first, nil
	}
	cmp := &Compare{First: first}
	for isComparisonOp(p.current().Type) {
		cmp.Ops = append(cmp.Ops, p.current().Type)
		p.nextToken()
		operand, err := p.parseAdditiveExpression()
		if err != nil {
			return nil, err
		}
		cmp.Operands = append(cmp.Operands, operand)
	}
	return cmp, nil
}

func (p *ExpressionParser) parseAdditiveExpression() (Expr, error) {
	left, err := p.parseMultiplicativeExpression()
	if err != nil {
		return nil, err
	}
	for p.currentTokenIs(TOKEN_PLUS) || p.currentTokenIs(TOKEN_MINUS) {
		op := p.current().Type
		p.nextToken()
		right, err := p.parseMultiplicativeExpression()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *ExpressionParser) parseMultiplicativeExpression() (Expr, error) {
	left, err := p.parseUnaryExpression()
	if err != nil {
		return nil, err
	}
	for {
		switch op := p.current().Type; op {
		case TOKEN_STAR, TOKEN_SLASH, TOKEN_DSLASH, TOKEN_PERCENT:
			p.nextToken()
			right, err := p.parseUnaryExpression()
			if err != nil {
				return nil, err
			}
			left = &BinaryOp{Op: op, Left: left, Right: right}
		default:
			return left, nil
		}
	}
}

func (p *ExpressionParser) parseUnaryExpression() (Expr, error) {
	switch op := p.current().Type; op {
	case TOKEN_MINUS, TOKEN_PLUS:
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		p.nextToken()
		operand, err := p.parseUnaryExpression()
		if err != nil {
			return nil, err
		}
		return &UnaryOp{Op: op, Operand: operand}, nil
	}
	return p.parsePostfixExpression()
}

func (p *ExpressionParser) parsePostfixExpression() (Expr, error) {
	expr, err := p.parsePrimaryExpression()
	if err != nil {
		return nil, err
	}
	for p.currentTokenIs(TOKEN_LBRACKET) {
		if err := p.enter(); err != nil {
			return nil, err
		}
		p.nextToken()
		index, err := p.parseOrExpression()
		p.leave()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TOKEN_RBRACKET, "']'"); err != nil {
			return nil, err
		}
		expr = &Index{Target: expr, Index: index}
	}
	return expr, nil
}

func (p *ExpressionParser) parsePrimaryExpression() (Expr, error) {
	tok := p.current()
	switch tok.Type {
	case TOKEN_INT:
		p.nextToken()
		n, err := strconv.ParseInt(tok.Value, 10, 64)
		if err != nil {
			return nil, newRunError(KindParseFailure, "number %s is too large", tok.Value)
		}
		return &IntLit{Value: n}, nil
	case TOKEN_FLOAT:
		p.nextToken()
		f, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, newRunError(KindParseFailure, "invalid number %s", tok.Value)
		}
		return &FloatLit{Value: f}, nil
	case TOKEN_STRING:
		p.nextToken()
		return &StringLit{Value: tok.Value}, nil
	case TOKEN_FSTRING:
		p.nextToken()
		return parseFString(tok.Value), nil
	case TOKEN_TRUE, TOKEN_FALSE:
		p.nextToken()
		return &BoolLit{Value: tok.Type == TOKEN_TRUE}, nil
	case TOKEN_NAME:
		p.nextToken()
		if p.currentTokenIs(TOKEN_LPAREN) {
			return p.parseCall(tok.Value)
		}
		return &VarRef{Name: tok.Value}, nil
	case TOKEN_LPAREN:
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		p.nextToken()
		inner, err := p.parseOrExpression()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TOKEN_RPAREN, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	case TOKEN_LBRACKET:
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		p.nextToken()
		items, err := p.parseList(TOKEN_RBRACKET, "']'")
		if err != nil {
			return nil, err
		}
		return &ListLit{Items: items}, nil
	case TOKEN_KEYWORD:
		return nil, newRunError(KindParseFailure, "%q cannot be used here", tok.Value)
	}
	return nil, p.unexpected()
}

func (p *ExpressionParser) parseCall(name string) (Expr, error) {
	if name == "print" {
		return nil, newRunError(KindParseFailure, "print() must be on its own line")
	}
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	p.nextToken() // (
	args, err := p.parseList(TOKEN_RPAREN, "')'")
	if err != nil {
		return nil, err
	}
	return &Call{Name: name, Args: args}, nil
}

// parseList parses comma separated expressions up to the closing token.
// A trailing comma is allowed, as in Python.
func (p *ExpressionParser) parseList(closing TokenType, what string) ([]Expr, error) {
	var items []Expr
	for !p.currentTokenIs(closing) {
		item, err := p.parseOrExpression()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if p.currentTokenIs(TOKEN_COMMA) {
			p.nextToken()
			continue
		}
		if !p.currentTokenIs(closing) {
			if p.currentTokenIs(TOKEN_EOF) {
				return nil, newRunError(KindParseFailure, "expected %s", what)
			}
			return nil, p.unexpected()
		}
	}
	p.nextToken()
	return items, nil
}

// parseFString splits an f-string body into literal and placeholder parts.
func parseFString(body string) *FString {
	fs := &FString{}
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			fs.Parts = append(fs.Parts, FStringPart{Literal: lit.String()})
			lit.Reset()
		}
	}
	for i := 0; i < len(body); i++ {
		ch := body[i]
		switch {
		case ch == '{' && i+1 < len(body) && body[i+1] == '{':
			lit.WriteByte('{')
			i++
		case ch == '}' && i+1 < len(body) && body[i+1] == '}':
			lit.WriteByte('}')
			i++
		case ch == '{':
			end := strings.IndexByte(body[i+1:], '}')
			if end < 0 {
				lit.WriteString(body[i:])
				i = len(body)
				continue
			}
			flush()
			raw := body[i+1 : i+1+end]
			part := FStringPart{Placeholder: raw, IsField: true}
			if expr, err := ParseExpression(strings.TrimSpace(raw)); err == nil && !containsCall(expr, "input") {
				part.Expr = expr
			}
			fs.Parts = append(fs.Parts, part)
			i += end + 1
		default:
			lit.WriteByte(ch)
		}
	}
	flush()
	return fs
}

// containsCall reports whether a call to name occurs anywhere in e.
func containsCall(e Expr, name string) bool {
	switch n := e.(type) {
	case *Call:
		if n.Name == name {
			return true
		}
		for _, a := range n.Args {
			if containsCall(a, name) {
				return true
			}
		}
	case *BinaryOp:
		return containsCall(n.Left, name) || containsCall(n.Right, name)
	case *BoolOp:
		return containsCall(n.Left, name) || containsCall(n.Right, name)
	case *UnaryOp:
		return containsCall(n.Operand, name)
	case *Compare:
		if containsCall(n.First, name) {
			return true
		}
		for _, o := range n.Operands {
			if containsCall(o, name) {
				return true
			}
		}
	case *ListLit:
		for _, item := range n.Items {
			if containsCall(item, name) {
				return true
			}
		}
	case *Index:
		return containsCall(n.Target, name) || containsCall(n.Index, name)
	}
	return false
}
