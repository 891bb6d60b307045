package minipy

import (
	"strings"
)

// TokenType identifies a lexical token of the expression language.
type TokenType int

const (
	TOKEN_EOF TokenType = iota
	TOKEN_ILLEGAL
	TOKEN_INT
	TOKEN_FLOAT
	TOKEN_STRING
	TOKEN_FSTRING
	TOKEN_NAME
	TOKEN_TRUE
	TOKEN_FALSE
	TOKEN_AND
	TOKEN_OR
	TOKEN_NOT
	TOKEN_KEYWORD // reserved words that never start an expression (if, for, ...)
	TOKEN_PLUS
	TOKEN_MINUS
	TOKEN_STAR
	TOKEN_SLASH
	TOKEN_DSLASH
	TOKEN_PERCENT
	TOKEN_LPAREN
	TOKEN_RPAREN
	TOKEN_LBRACKET
	TOKEN_RBRACKET
	TOKEN_COMMA
	TOKEN_COLON
	TOKEN_ASSIGN
	TOKEN_PLUS_ASSIGN
	TOKEN_MINUS_ASSIGN
	TOKEN_STAR_ASSIGN
	TOKEN_SLASH_ASSIGN
	TOKEN_EQ
	TOKEN_NE
	TOKEN_LT
	TOKEN_LE
	TOKEN_GT
	TOKEN_GE
)

// Token is one lexical token. For string tokens Value holds the decoded body.
type Token struct {
	Type  TokenType
	Value string
	Pos   int
}

var keywords = map[string]TokenType{
	"True":     TOKEN_TRUE,
	"False":    TOKEN_FALSE,
	"and":      TOKEN_AND,
	"or":       TOKEN_OR,
	"not":      TOKEN_NOT,
	"if":       TOKEN_KEYWORD,
	"elif":     TOKEN_KEYWORD,
	"else":     TOKEN_KEYWORD,
	"for":      TOKEN_KEYWORD,
	"while":    TOKEN_KEYWORD,
	"in":       TOKEN_KEYWORD,
	"def":      TOKEN_KEYWORD,
	"return":   TOKEN_KEYWORD,
	"None":     TOKEN_KEYWORD,
	"import":   TOKEN_KEYWORD,
	"class":    TOKEN_KEYWORD,
	"pass":     TOKEN_KEYWORD,
	"break":    TOKEN_KEYWORD,
	"continue": TOKEN_KEYWORD,
}

// isKeyword reports whether name is reserved and cannot be assigned to.
func isKeyword(name string) bool {
	_, ok := keywords[name]
	return ok
}

// Lexer tokenizes a single logical line.
type Lexer struct {
	input string
	pos   int
	char  byte
}

// NewLexer creates a new lexer for one line of source.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.pos >= len(l.input) {
		l.char = 0
	} else {
		l.char = l.input[l.pos]
	}
	l.pos++
}

func (l *Lexer) peekChar() byte {
	if l.pos >= len(l.input) {
		return 0
	}
	return l.input[l.pos]
}

func (l *Lexer) skipWhitespace() {
	for l.char == ' ' || l.char == '\t' {
		l.readChar()
	}
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isNameStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isNameChar(ch byte) bool {
	return isNameStart(ch) || isDigit(ch)
}

// readString reads a quoted literal starting at the current quote character.
// ok is false when the closing quote is missing.
func (l *Lexer) readString() (body string, ok bool) {
	quote := l.char
	l.readChar()
	var sb strings.Builder
	for l.char != quote {
		if l.char == 0 {
			return sb.String(), false
		}
		if l.char == '\\' {
			switch next := l.peekChar(); next {
			case '\\', '\'', '"':
				sb.WriteByte(next)
				l.readChar()
			case 'n':
				sb.WriteByte('\n')
				l.readChar()
			case 't':
				sb.WriteByte('\t')
				l.readChar()
			default:
				sb.WriteByte('\\')
			}
			l.readChar()
			continue
		}
		sb.WriteByte(l.char)
		l.readChar()
	}
	l.readChar() // closing quote
	return sb.String(), true
}

// readNumber reads \d+ or \d+\.\d*
func (l *Lexer) readNumber() (string, TokenType) {
	start := l.pos - 1
	for isDigit(l.char) {
		l.readChar()
	}
	typ := TOKEN_INT
	if l.char == '.' && !isNameStart(l.peekChar()) {
		typ = TOKEN_FLOAT
		l.readChar()
		for isDigit(l.char) {
			l.readChar()
		}
	}
	return l.input[start : l.pos-1], typ
}

func (l *Lexer) readName() string {
	start := l.pos - 1
	for isNameChar(l.char) {
		l.readChar()
	}
	return l.input[start : l.pos-1]
}

func (l *Lexer) single(t TokenType, pos int) Token {
	tok := Token{Type: t, Value: string(l.char), Pos: pos}
	l.readChar()
	return tok
}

func (l *Lexer) double(t TokenType, pos int) Token {
	tok := Token{Type: t, Value: l.input[pos : pos+2], Pos: pos}
	l.readChar()
	l.readChar()
	return tok
}

// NextToken returns the next token from the input.
func (l *Lexer) NextToken() Token {
	l.skipWhitespace()
	pos := l.pos - 1

	switch l.char {
	case 0:
		return Token{Type: TOKEN_EOF, Pos: pos}
	case '+':
		if l.peekChar() == '=' {
			return l.double(TOKEN_PLUS_ASSIGN, pos)
		}
		return l.single(TOKEN_PLUS, pos)
	case '-':
		if l.peekChar() == '=' {
			return l.double(TOKEN_MINUS_ASSIGN, pos)
		}
		return l.single(TOKEN_MINUS, pos)
	case '*':
		if l.peekChar() == '=' {
			return l.double(TOKEN_STAR_ASSIGN, pos)
		}
		return l.single(TOKEN_STAR, pos)
	case '%':
		return l.single(TOKEN_PERCENT, pos)
	case '/':
		if l.peekChar() == '/' {
			return l.double(TOKEN_DSLASH, pos)
		}
		if l.peekChar() == '=' {
			return l.double(TOKEN_SLASH_ASSIGN, pos)
		}
		return l.single(TOKEN_SLASH, pos)
	case '(':
		return l.single(TOKEN_LPAREN, pos)
	case ')':
		return l.single(TOKEN_RPAREN, pos)
	case '[':
		return l.single(TOKEN_LBRACKET, pos)
	case ']':
		return l.single(TOKEN_RBRACKET, pos)
	case ',':
		return l.single(TOKEN_COMMA, pos)
	case ':':
		return l.single(TOKEN_COLON, pos)
	case '=':
		if l.peekChar() == '=' {
			return l.double(TOKEN_EQ, pos)
		}
		return l.single(TOKEN_ASSIGN, pos)
	case '!':
		if l.peekChar() == '=' {
			return l.double(TOKEN_NE, pos)
		}
		return l.single(TOKEN_ILLEGAL, pos)
	case '<':
		if l.peekChar() == '=' {
			return l.double(TOKEN_LE, pos)
		}
		return l.single(TOKEN_LT, pos)
	case '>':
		if l.peekChar() == '=' {
			return l.double(TOKEN_GE, pos)
		}
		return l.single(TOKEN_GT, pos)
	case '"', '\'':
		body, ok := l.readString()
		if !ok {
			return Token{Type: TOKEN_ILLEGAL, Value: l.input[pos:], Pos: pos}
		}
		return Token{Type: TOKEN_STRING, Value: body, Pos: pos}
	}

	if isDigit(l.char) {
		text, typ := l.readNumber()
		return Token{Type: typ, Value: text, Pos: pos}
	}
	if isNameStart(l.char) {
		if (l.char == 'f' || l.char == 'F') && (l.peekChar() == '"' || l.peekChar() == '\'') {
			l.readChar()
			body, ok := l.readString()
			if !ok {
				return Token{Type: TOKEN_ILLEGAL, Value: l.input[pos:], Pos: pos}
			}
			return Token{Type: TOKEN_FSTRING, Value: body, Pos: pos}
		}
		name := l.readName()
		if typ, ok := keywords[name]; ok {
			return Token{Type: typ, Value: name, Pos: pos}
		}
		return Token{Type: TOKEN_NAME, Value: name, Pos: pos}
	}

	// anything else (curly quotes, '?', '$', non-ASCII) is illegal
	return l.single(TOKEN_ILLEGAL, pos)
}

// Tokenize returns all tokens of the line including the trailing EOF.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TOKEN_EOF || tok.Type == TOKEN_ILLEGAL {
			return tokens
		}
	}
}
