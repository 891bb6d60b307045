package minipy

// Statement is one classified source statement.
type Statement interface {
	Line() int
	Source() string
	Shape() Shape
}

// stmtPos carries the source position shared by every statement.
type stmtPos struct {
	line    int
	snippet string
}

func (p stmtPos) Line() int      { return p.line }
func (p stmtPos) Source() string { return p.snippet }

// AssignStmt binds name = value, or applies an augmented operator (+=, -=, *=, /=).
type AssignStmt struct {
	stmtPos
	Name  string
	Op    TokenType // TOKEN_ASSIGN for plain assignment
	Value Expr
	list  bool
}

func (s *AssignStmt) Shape() Shape {
	if s.list {
		return ShapeListAssign
	}
	return ShapeAssign
}

// PrintStmt prints its arguments joined by a single space.
type PrintStmt struct {
	stmtPos
	Args []Expr
}

func (*PrintStmt) Shape() Shape { return ShapePrint }

// InputStmt suspends the run until the caller supplies a line of text.
type InputStmt struct {
	stmtPos
	Var     string // empty for a bare input() call
	Prompt  Expr   // nil for input()
	Convert string // "", "int", "float" or "str"
}

func (*InputStmt) Shape() Shape { return ShapeInput }

// ForRangeStmt is for var in range(args): body
type ForRangeStmt struct {
	stmtPos
	Var  string
	Args []Expr
	Body []Statement
}

func (*ForRangeStmt) Shape() Shape { return ShapeForRange }

// ForEachStmt iterates a list or the characters of a string.
type ForEachStmt struct {
	stmtPos
	Var      string
	Iterable Expr
	Body     []Statement
}

func (*ForEachStmt) Shape() Shape { return ShapeForEach }

// IfBranch is one if/elif condition with its body.
type IfBranch struct {
	Cond Expr
	Body []Statement
}

// IfStmt runs the body of the first true branch, else the else body.
type IfStmt struct {
	stmtPos
	Branches []IfBranch
	Else     []Statement
}

func (*IfStmt) Shape() Shape { return ShapeIf }

// ExprStmt evaluates an expression and discards the result.
type ExprStmt struct {
	stmtPos
	Expr Expr
}

func (*ExprStmt) Shape() Shape { return ShapeExpression }
