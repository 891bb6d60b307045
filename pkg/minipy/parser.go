package minipy

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/codekids/pyquest/pkg/logger"
)

const tabWidth = 4

// sourceLine is one non-blank, comment-free line of the program.
type sourceLine struct {
	num    int    // 1-based line number in the submitted text
	indent int    // columns, tabs expanded, after dedent
	text   string // content without indentation or comment
}

// Program is a parsed source text.
type Program struct {
	Statements []Statement
}

// prepareSource normalizes and splits source into logical lines.
func prepareSource(source string) []sourceLine {
	source = norm.NFC.String(source)
	source = strings.ReplaceAll(source, "\r\n", "\n")
	source = strings.ReplaceAll(source, "\r", "\n")

	var lines []sourceLine
	minIndent := -1
	for i, raw := range strings.Split(source, "\n") {
		indent, rest := measureIndent(raw)
		text := strings.TrimRight(stripComment(rest), " \t")
		if text == "" {
			continue
		}
		if minIndent < 0 || indent < minIndent {
			minIndent = indent
		}
		lines = append(lines, sourceLine{num: i + 1, indent: indent, text: text})
	}
	for i := range lines {
		lines[i].indent -= minIndent
	}
	return lines
}

// measureIndent returns the indentation width of line and the rest of it.
func measureIndent(line string) (int, string) {
	col := 0
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case ' ':
			col++
		case '\t':
			col = (col/tabWidth + 1) * tabWidth
		default:
			return col, line[i:]
		}
	}
	return col, ""
}

// stripComment removes a trailing # comment that is not inside a string literal.
func stripComment(line string) string {
	var quote byte
	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case quote != 0 && ch == '\\':
			i++
		case quote != 0 && ch == quote:
			quote = 0
		case quote == 0 && (ch == '"' || ch == '\''):
			quote = ch
		case quote == 0 && ch == '#':
			return line[:i]
		}
	}
	return line
}

// programParser classifies prepared lines into statements.
type programParser struct {
	lines []sourceLine
	pos   int
	caps  Capabilities
}

// Parse classifies the whole program. Any line that matches no enabled
// statement shape fails the parse; nothing is executed in that case.
func Parse(source string, caps Capabilities) (*Program, error) {
	p := &programParser{lines: prepareSource(source), caps: caps}
	if len(p.lines) == 0 {
		return nil, newRunError(KindEmptyProgram, "nothing to run")
	}
	prog := &Program{}
	for p.pos < len(p.lines) {
		line := p.lines[p.pos]
		if line.indent > 0 {
			err := newRunError(KindParseFailure, "unexpected indent")
			err.Indentation = true
			return nil, err.atLine(line.num, line.text)
		}
		p.pos++
		stmt, err := p.parseTopLevel(line)
		if err != nil {
			return nil, asRunError(err).atLine(line.num, line.text)
		}
		prog.Statements = append(prog.Statements, stmt)
	}
	return prog, nil
}

func (p *programParser) parseTopLevel(line sourceLine) (Statement, error) {
	tokens := Tokenize(line.text)
	if tokens[0].Type == TOKEN_KEYWORD {
		switch tokens[0].Value {
		case "if":
			return p.parseIf(line, tokens)
		case "for":
			return p.parseFor(line, tokens)
		case "elif", "else":
			err := newRunError(KindParseFailure, "'%s' without a matching 'if'", tokens[0].Value)
			err.Indentation = true
			return nil, err
		}
		return nil, newRunError(KindParseFailure, "'%s' is not supported", tokens[0].Value)
	}
	return p.parseSimple(line, tokens, true)
}

// headerBody returns the tokens between the keyword and the trailing colon.
func headerBody(tokens []Token) ([]Token, error) {
	n := len(tokens)
	if n < 2 || tokens[n-2].Type != TOKEN_COLON {
		if tokens[n-1].Type == TOKEN_ILLEGAL {
			return nil, (&ExpressionParser{tokens: tokens, pos: n - 1}).unexpected()
		}
		return nil, newRunError(KindParseFailure, "expected ':' at the end of the line")
	}
	return tokens[1 : n-2], nil
}

// parseBlock captures the single body line of a header. Further lines indented
// deeper than the header are dropped.
func (p *programParser) parseBlock(header sourceLine) ([]Statement, error) {
	if p.pos >= len(p.lines) || p.lines[p.pos].indent <= header.indent {
		err := newRunError(KindParseFailure, "expected an indented block")
		err.Indentation = true
		return nil, err
	}
	body := p.lines[p.pos]
	p.pos++
	stmt, err := p.parseBody(body)
	if err != nil {
		return nil, err
	}
	for p.pos < len(p.lines) && p.lines[p.pos].indent > header.indent {
		logger.Debug(logger.AreaInterpreter, "dropping extra block line %d: %s", p.lines[p.pos].num, p.lines[p.pos].text)
		p.pos++
	}
	return []Statement{stmt}, nil
}

func (p *programParser) parseBody(body sourceLine) (Statement, error) {
	tokens := Tokenize(body.text)
	if tokens[0].Type == TOKEN_KEYWORD {
		err := newRunError(KindParseFailure, "'%s' cannot be used inside a block", tokens[0].Value)
		return nil, err.atLine(body.num, body.text)
	}
	stmt, err := p.parseSimple(body, tokens, false)
	if err != nil {
		return nil, asRunError(err).atLine(body.num, body.text)
	}
	return stmt, nil
}

func (p *programParser) parseIf(line sourceLine, tokens []Token) (Statement, error) {
	if !p.caps.HasShape(ShapeIf) {
		return nil, newRunError(KindParseFailure, "no statement shape matched")
	}
	stmt := &IfStmt{stmtPos: stmtPos{line: line.num, snippet: line.text}}
	header, kw := line, "if"
	for {
		var cond Expr
		condTokens, err := headerBody(tokens)
		if err != nil {
			return nil, asRunError(err).atLine(header.num, header.text)
		}
		if kw == "else" {
			if len(condTokens) > 0 {
				return nil, newRunError(KindParseFailure, "'else' takes no condition").atLine(header.num, header.text)
			}
		} else {
			cond, err = parseTokens(condTokens)
			if err != nil {
				return nil, asRunError(err).atLine(header.num, header.text)
			}
			if containsCall(cond, "input") {
				return nil, newRunError(KindParseFailure, "input() must be on its own line").atLine(header.num, header.text)
			}
		}
		body, err := p.parseBlock(header)
		if err != nil {
			return nil, asRunError(err).atLine(header.num, header.text)
		}
		if kw == "else" {
			stmt.Else = body
			return stmt, nil
		}
		stmt.Branches = append(stmt.Branches, IfBranch{Cond: cond, Body: body})

		// continue with a following elif/else at the same indentation
		if p.pos >= len(p.lines) || p.lines[p.pos].indent != line.indent {
			return stmt, nil
		}
		next := p.lines[p.pos]
		nextTokens := Tokenize(next.text)
		if nextTokens[0].Type != TOKEN_KEYWORD || (nextTokens[0].Value != "elif" && nextTokens[0].Value != "else") {
			return stmt, nil
		}
		p.pos++
		header, kw, tokens = next, nextTokens[0].Value, nextTokens
	}
}

func (p *programParser) parseFor(line sourceLine, tokens []Token) (Statement, error) {
	body, err := headerBody(tokens)
	if err != nil {
		return nil, err
	}
	if len(body) < 3 || body[0].Type != TOKEN_NAME || body[1].Type != TOKEN_KEYWORD || body[1].Value != "in" {
		return nil, newRunError(KindParseFailure, "expected 'for <name> in ...:'")
	}
	loopVar := body[0].Value
	iterable, err := parseTokens(body[2:])
	if err != nil {
		return nil, err
	}
	if containsCall(iterable, "input") {
		return nil, newRunError(KindParseFailure, "input() must be on its own line")
	}
	pos := stmtPos{line: line.num, snippet: line.text}

	if call, ok := iterable.(*Call); ok && call.Name == "range" {
		if !p.caps.HasShape(ShapeForRange) {
			return nil, newRunError(KindParseFailure, "no statement shape matched")
		}
		block, err := p.parseBlock(line)
		if err != nil {
			return nil, err
		}
		return &ForRangeStmt{stmtPos: pos, Var: loopVar, Args: call.Args, Body: block}, nil
	}
	if !p.caps.HasShape(ShapeForEach) {
		return nil, newRunError(KindParseFailure, "no statement shape matched")
	}
	block, err := p.parseBlock(line)
	if err != nil {
		return nil, err
	}
	return &ForEachStmt{stmtPos: pos, Var: loopVar, Iterable: iterable, Body: block}, nil
}

var augmentedOps = map[TokenType]TokenType{
	TOKEN_ASSIGN:       TOKEN_ASSIGN,
	TOKEN_PLUS_ASSIGN:  TOKEN_PLUS,
	TOKEN_MINUS_ASSIGN: TOKEN_MINUS,
	TOKEN_STAR_ASSIGN:  TOKEN_STAR,
	TOKEN_SLASH_ASSIGN: TOKEN_SLASH,
}

// parseSimple matches the single-line shapes in priority order.
func (p *programParser) parseSimple(line sourceLine, tokens []Token, topLevel bool) (Statement, error) {
	pos := stmtPos{line: line.num, snippet: line.text}

	// 1, 2 and the assignment form of 6
	if len(tokens) >= 3 && tokens[0].Type == TOKEN_NAME {
		if op, ok := augmentedOps[tokens[1].Type]; ok {
			value, err := parseTokens(tokens[2:])
			if err != nil {
				return nil, err
			}
			name := tokens[0].Value
			if convert, _, isInput := isInputCall(value); isInput && op == TOKEN_ASSIGN {
				return p.inputStatement(pos, name, value, convert, topLevel)
			}
			if containsCall(value, "input") {
				return nil, newRunError(KindParseFailure, "input() must be on its own line")
			}
			_, isList := value.(*ListLit)
			shape := ShapeAssign
			if isList && op == TOKEN_ASSIGN {
				shape = ShapeListAssign
			}
			if !p.caps.HasShape(shape) {
				return nil, newRunError(KindParseFailure, "no statement shape matched")
			}
			return &AssignStmt{stmtPos: pos, Name: name, Op: op, Value: value, list: shape == ShapeListAssign}, nil
		}
	}

	// 7: any line starting with print
	if tokens[0].Type == TOKEN_NAME && tokens[0].Value == "print" {
		if !p.caps.HasShape(ShapePrint) {
			return nil, newRunError(KindParseFailure, "no statement shape matched")
		}
		return parsePrint(pos, tokens)
	}

	expr, err := parseTokens(tokens)
	if err != nil {
		return nil, err
	}
	// bare form of 6
	if convert, _, isInput := isInputCall(expr); isInput {
		return p.inputStatement(pos, "", expr, convert, topLevel)
	}
	if containsCall(expr, "input") {
		return nil, newRunError(KindParseFailure, "input() must be on its own line")
	}
	if !p.caps.HasShape(ShapeExpression) {
		return nil, newRunError(KindParseFailure, "no statement shape matched")
	}
	return &ExprStmt{stmtPos: pos, Expr: expr}, nil
}

func (p *programParser) inputStatement(pos stmtPos, name string, value Expr, convert string, topLevel bool) (Statement, error) {
	if !p.caps.HasShape(ShapeInput) {
		return nil, newRunError(KindParseFailure, "no statement shape matched")
	}
	if !topLevel {
		return nil, newRunError(KindParseFailure, "input() cannot be used inside a block")
	}
	if convert != "" && !p.caps.HasBuiltin(convert) {
		err := newRunError(KindUnknownVariable, "name '%s' is not defined", convert)
		err.Name = convert
		return nil, err
	}
	_, call, _ := isInputCall(value)
	if len(call.Args) > 1 {
		return nil, newRunError(KindTypeMismatch, "input expected at most 1 argument, got %d", len(call.Args))
	}
	stmt := &InputStmt{stmtPos: pos, Var: name, Convert: convert}
	if len(call.Args) == 1 {
		if containsCall(call.Args[0], "input") {
			return nil, newRunError(KindParseFailure, "input() must be on its own line")
		}
		stmt.Prompt = call.Args[0]
	}
	return stmt, nil
}

func parsePrint(pos stmtPos, tokens []Token) (Statement, error) {
	if tokens[1].Type != TOKEN_LPAREN {
		return nil, newRunError(KindParseFailure, "missing parentheses in call to 'print'")
	}
	ep := &ExpressionParser{tokens: tokens, pos: 2}
	args, err := ep.parseList(TOKEN_RPAREN, "')'")
	if err != nil {
		return nil, err
	}
	if !ep.currentTokenIs(TOKEN_EOF) {
		return nil, ep.unexpected()
	}
	for _, a := range args {
		if containsCall(a, "input") {
			return nil, newRunError(KindParseFailure, "input() must be on its own line")
		}
	}
	return &PrintStmt{stmtPos: pos, Args: args}, nil
}
