package minipy

// Expr is a node of the expression tree.
type Expr interface {
	exprNode()
}

type StringLit struct{ Value string }
type IntLit struct{ Value int64 }
type FloatLit struct{ Value float64 }
type BoolLit struct{ Value bool }

// VarRef reads a variable from the environment.
type VarRef struct{ Name string }

// BinaryOp is an arithmetic operator: + - * / // %
type BinaryOp struct {
	Op          TokenType
	Left, Right Expr
}

// UnaryOp is unary minus, unary plus or not.
type UnaryOp struct {
	Op      TokenType
	Operand Expr
}

// Compare is a comparison chain: a < b <= c means a < b and b <= c.
type Compare struct {
	First    Expr
	Ops      []TokenType
	Operands []Expr
}

// BoolOp is a short-circuit and/or.
type BoolOp struct {
	Op          TokenType
	Left, Right Expr
}

// FStringPart is either literal text or a {placeholder}.
type FStringPart struct {
	Literal     string
	Placeholder string // raw text between the braces
	Expr        Expr   // nil when the placeholder did not parse
	IsField     bool
}

type FString struct{ Parts []FStringPart }

// Call invokes a builtin by name.
type Call struct {
	Name string
	Args []Expr
}

type ListLit struct{ Items []Expr }

// Index is subscription: target[index].
type Index struct {
	Target, Index Expr
}

func (*StringLit) exprNode() {}
func (*IntLit) exprNode()    {}
func (*FloatLit) exprNode()  {}
func (*BoolLit) exprNode()   {}
func (*VarRef) exprNode()    {}
func (*BinaryOp) exprNode()  {}
func (*UnaryOp) exprNode()   {}
func (*Compare) exprNode()   {}
func (*BoolOp) exprNode()    {}
func (*FString) exprNode()   {}
func (*Call) exprNode()      {}
func (*ListLit) exprNode()   {}
func (*Index) exprNode()     {}

// isInputCall reports whether e is input(...) optionally wrapped in one
// int/float/str conversion. It returns the conversion name ("" for none)
// and the input call.
func isInputCall(e Expr) (convert string, call *Call, ok bool) {
	c, isCall := e.(*Call)
	if !isCall {
		return "", nil, false
	}
	if c.Name == "input" {
		return "", c, true
	}
	switch c.Name {
	case "int", "float", "str":
		if len(c.Args) == 1 {
			if inner, isInner := c.Args[0].(*Call); isInner && inner.Name == "input" {
				return c.Name, inner, true
			}
		}
	}
	return "", nil, false
}
