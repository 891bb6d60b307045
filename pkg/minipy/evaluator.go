package minipy

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	intLiteralPattern   = regexp.MustCompile(`^[+-]?[0-9]+$`)
	floatLiteralPattern = regexp.MustCompile(`^[+-]?([0-9]+\.?[0-9]*|\.[0-9]+)([eE][+-]?[0-9]+)?$`)
)

var opSymbols = map[TokenType]string{
	TOKEN_PLUS:    "+",
	TOKEN_MINUS:   "-",
	TOKEN_STAR:    "*",
	TOKEN_SLASH:   "/",
	TOKEN_DSLASH:  "//",
	TOKEN_PERCENT: "%",
	TOKEN_EQ:      "==",
	TOKEN_NE:      "!=",
	TOKEN_LT:      "<",
	TOKEN_LE:      "<=",
	TOKEN_GT:      ">",
	TOKEN_GE:      ">=",
}

// evaluator evaluates expressions against one run's environment.
type evaluator struct {
	env    *Environment
	caps   Capabilities
	limits Limits
}

// Eval evaluates an expression tree.
func (ev *evaluator) Eval(e Expr) (Value, error) {
	switch n := e.(type) {
	case *StringLit:
		return StringValue(n.Value), nil
	case *IntLit:
		return IntValue(n.Value), nil
	case *FloatLit:
		return FloatValue(n.Value), nil
	case *BoolLit:
		return BoolValue(n.Value), nil
	case *VarRef:
		v, ok := ev.env.Get(n.Name)
		if !ok {
			err := newRunError(KindUnknownVariable, "name '%s' is not defined", n.Name)
			err.Name = n.Name
			return Value{}, err
		}
		return v, nil
	case *ListLit:
		items := make([]Value, 0, len(n.Items))
		for _, item := range n.Items {
			v, err := ev.Eval(item)
			if err != nil {
				return Value{}, err
			}
			items = append(items, v)
		}
		return ListValue(items), nil
	case *UnaryOp:
		return ev.evalUnary(n)
	case *BinaryOp:
		left, err := ev.Eval(n.Left)
		if err != nil {
			return Value{}, err
		}
		right, err := ev.Eval(n.Right)
		if err != nil {
			return Value{}, err
		}
		return ev.binary(n.Op, left, right)
	case *BoolOp:
		left, err := ev.Eval(n.Left)
		if err != nil {
			return Value{}, err
		}
		// and/or yield an operand, not a bool
		if (n.Op == TOKEN_AND) != left.Truthy() {
			return left, nil
		}
		return ev.Eval(n.Right)
	case *Compare:
		return ev.evalCompare(n)
	case *Index:
		return ev.evalIndex(n)
	case *FString:
		return ev.evalFString(n)
	case *Call:
		return ev.evalCall(n)
	}
	return Value{}, newRunError(KindParseFailure, "unsupported expression %T", e)
}

func (ev *evaluator) evalUnary(n *UnaryOp) (Value, error) {
	v, err := ev.Eval(n.Operand)
	if err != nil {
		return Value{}, err
	}
	switch n.Op {
	case TOKEN_NOT:
		return BoolValue(!v.Truthy()), nil
	case TOKEN_MINUS:
		switch v.Kind {
		case KindInt:
			if v.Int == math.MinInt64 {
				return Value{}, newRunError(KindStepLimit, "integer overflow")
			}
			return IntValue(-v.Int), nil
		case KindFloat:
			return FloatValue(-v.Float), nil
		}
	case TOKEN_PLUS:
		if v.IsNumeric() {
			return v, nil
		}
	}
	return Value{}, newRunError(KindTypeMismatch, "bad operand type for unary %s: '%s'", opSymbols[n.Op], v.Kind)
}

func typeMismatch(op TokenType, a, b Value) *RunError {
	if op == TOKEN_PLUS && a.Kind == KindString {
		return newRunError(KindTypeMismatch, `can only concatenate str (not "%s") to str`, b.Kind)
	}
	return newRunError(KindTypeMismatch, "unsupported operand type(s) for %s: '%s' and '%s'", opSymbols[op], a.Kind, b.Kind)
}

// binary applies an arithmetic operator.
func (ev *evaluator) binary(op TokenType, a, b Value) (Value, error) {
	switch {
	case op == TOKEN_PLUS && a.Kind == KindString && b.Kind == KindString:
		if err := ev.checkLength(len(a.Str) + len(b.Str)); err != nil {
			return Value{}, err
		}
		return StringValue(a.Str + b.Str), nil
	case op == TOKEN_PLUS && a.Kind == KindList && b.Kind == KindList:
		if err := ev.checkLength(len(a.List) + len(b.List)); err != nil {
			return Value{}, err
		}
		items := make([]Value, 0, len(a.List)+len(b.List))
		items = append(items, a.List...)
		items = append(items, b.List...)
		return ListValue(items), nil
	case op == TOKEN_STAR && (a.Kind == KindString || a.Kind == KindList) && b.Kind == KindInt:
		return ev.repeat(a, b.Int)
	case op == TOKEN_STAR && a.Kind == KindInt && (b.Kind == KindString || b.Kind == KindList):
		return ev.repeat(b, a.Int)
	}
	if !a.IsNumeric() || !b.IsNumeric() {
		return Value{}, typeMismatch(op, a, b)
	}
	if op == TOKEN_SLASH {
		if b.asFloat() == 0 {
			return Value{}, newRunError(KindZeroDivision, "division by zero")
		}
		return finiteFloat(a.asFloat() / b.asFloat())
	}
	if a.Kind == KindInt && b.Kind == KindInt {
		return intArithmetic(op, a.Int, b.Int)
	}
	v, err := floatArithmetic(op, a.asFloat(), b.asFloat())
	if err != nil {
		return Value{}, err
	}
	return finiteFloat(v.Float)
}

// finiteFloat rejects results that overflowed to infinity, like integer
// overflow does, so every value stays JSON encodable.
func finiteFloat(f float64) (Value, error) {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return Value{}, newRunError(KindStepLimit, "float overflow")
	}
	return FloatValue(f), nil
}

func intArithmetic(op TokenType, a, b int64) (Value, error) {
	overflow := newRunError(KindStepLimit, "integer overflow")
	switch op {
	case TOKEN_PLUS:
		s := a + b
		if (a > 0 && b > 0 && s < 0) || (a < 0 && b < 0 && s >= 0) {
			return Value{}, overflow
		}
		return IntValue(s), nil
	case TOKEN_MINUS:
		s := a - b
		if (a >= 0 && b < 0 && s < 0) || (a < 0 && b > 0 && s >= 0) {
			return Value{}, overflow
		}
		return IntValue(s), nil
	case TOKEN_STAR:
		if a == 0 || b == 0 {
			return IntValue(0), nil
		}
		s := a * b
		if s/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
			return Value{}, overflow
		}
		return IntValue(s), nil
	case TOKEN_DSLASH, TOKEN_PERCENT:
		if b == 0 {
			return Value{}, newRunError(KindZeroDivision, "integer division or modulo by zero")
		}
		if a == math.MinInt64 && b == -1 {
			return Value{}, overflow
		}
		q, r := a/b, a%b
		// Python rounds toward negative infinity
		if r != 0 && (r < 0) != (b < 0) {
			q--
			r += b
		}
		if op == TOKEN_DSLASH {
			return IntValue(q), nil
		}
		return IntValue(r), nil
	}
	return Value{}, newRunError(KindTypeMismatch, "unsupported operator %s", opSymbols[op])
}

func floatArithmetic(op TokenType, a, b float64) (Value, error) {
	switch op {
	case TOKEN_PLUS:
		return FloatValue(a + b), nil
	case TOKEN_MINUS:
		return FloatValue(a - b), nil
	case TOKEN_STAR:
		return FloatValue(a * b), nil
	case TOKEN_DSLASH, TOKEN_PERCENT:
		if b == 0 {
			return Value{}, newRunError(KindZeroDivision, "float division by zero")
		}
		if op == TOKEN_DSLASH {
			return FloatValue(math.Floor(a / b)), nil
		}
		r := math.Mod(a, b)
		if r != 0 && (r < 0) != (b < 0) {
			r += b
		}
		return FloatValue(r), nil
	}
	return Value{}, newRunError(KindTypeMismatch, "unsupported operator %s", opSymbols[op])
}

func (ev *evaluator) checkLength(n int) error {
	if ev.limits.MaxSequenceLength > 0 && n > ev.limits.MaxSequenceLength {
		return newRunError(KindStepLimit, "sequence longer than %d", ev.limits.MaxSequenceLength)
	}
	return nil
}

func (ev *evaluator) repeat(seq Value, times int64) (Value, error) {
	if times < 0 {
		times = 0
	}
	size := len(seq.Str)
	if seq.Kind == KindList {
		size = len(seq.List)
	}
	if size > 0 && times > int64(math.MaxInt32)/int64(size) {
		return Value{}, newRunError(KindStepLimit, "sequence too long")
	}
	if err := ev.checkLength(size * int(times)); err != nil {
		return Value{}, err
	}
	if seq.Kind == KindString {
		return StringValue(strings.Repeat(seq.Str, int(times))), nil
	}
	items := make([]Value, 0, size*int(times))
	for i := int64(0); i < times; i++ {
		for _, item := range seq.List {
			items = append(items, item.Clone())
		}
	}
	return ListValue(items), nil
}

func (ev *evaluator) evalCompare(n *Compare) (Value, error) {
	left, err := ev.Eval(n.First)
	if err != nil {
		return Value{}, err
	}
	for i, op := range n.Ops {
		right, err := ev.Eval(n.Operands[i])
		if err != nil {
			return Value{}, err
		}
		ok, err := compareValues(op, left, right)
		if err != nil {
			return Value{}, err
		}
		if !ok {
			return BoolValue(false), nil
		}
		left = right
	}
	return BoolValue(true), nil
}

// compareValues applies one comparison operator. Equality across kinds is
// simply false; ordering across kinds is a type error.
func compareValues(op TokenType, a, b Value) (bool, error) {
	switch op {
	case TOKEN_EQ:
		return a.Equal(b), nil
	case TOKEN_NE:
		return !a.Equal(b), nil
	}
	cmp, ok := a.compare(b)
	if !ok {
		return false, newRunError(KindTypeMismatch, "'%s' not supported between instances of '%s' and '%s'", opSymbols[op], a.Kind, b.Kind)
	}
	switch op {
	case TOKEN_LT:
		return cmp < 0, nil
	case TOKEN_LE:
		return cmp <= 0, nil
	case TOKEN_GT:
		return cmp > 0, nil
	case TOKEN_GE:
		return cmp >= 0, nil
	}
	return false, newRunError(KindTypeMismatch, "unsupported comparison")
}

func (ev *evaluator) evalIndex(n *Index) (Value, error) {
	target, err := ev.Eval(n.Target)
	if err != nil {
		return Value{}, err
	}
	idx, err := ev.Eval(n.Index)
	if err != nil {
		return Value{}, err
	}
	if target.Kind != KindList && target.Kind != KindString {
		return Value{}, newRunError(KindTypeMismatch, "'%s' object is not subscriptable", target.Kind)
	}
	if idx.Kind != KindInt {
		return Value{}, newRunError(KindTypeMismatch, "%s indices must be integers, not %s", target.Kind, idx.Kind)
	}
	if target.Kind == KindList {
		i, ok := normalizeIndex(idx.Int, len(target.List))
		if !ok {
			return Value{}, newRunError(KindIndexOutOfRange, "list index %d out of range", idx.Int)
		}
		return target.List[i], nil
	}
	runes := []rune(target.Str)
	i, ok := normalizeIndex(idx.Int, len(runes))
	if !ok {
		return Value{}, newRunError(KindIndexOutOfRange, "string index %d out of range", idx.Int)
	}
	return StringValue(string(runes[i])), nil
}

// normalizeIndex resolves negative indices against length.
func normalizeIndex(i int64, length int) (int, bool) {
	if i < 0 {
		i += int64(length)
	}
	if i < 0 || i >= int64(length) {
		return 0, false
	}
	return int(i), true
}

// evalFString renders placeholders with str(). A placeholder that cannot be
// resolved is kept as written.
func (ev *evaluator) evalFString(n *FString) (Value, error) {
	var sb strings.Builder
	for _, part := range n.Parts {
		if !part.IsField {
			sb.WriteString(part.Literal)
			continue
		}
		if part.Expr != nil {
			if v, err := ev.Eval(part.Expr); err == nil {
				sb.WriteString(v.String())
				continue
			}
		}
		sb.WriteString("{" + part.Placeholder + "}")
	}
	if err := ev.checkLength(sb.Len()); err != nil {
		return Value{}, err
	}
	return StringValue(sb.String()), nil
}

func (ev *evaluator) evalCall(n *Call) (Value, error) {
	if n.Name == "input" || n.Name == "print" {
		return Value{}, newRunError(KindParseFailure, "%s() must be on its own line", n.Name)
	}
	if !isBuiltin(n.Name) || !ev.caps.HasBuiltin(n.Name) {
		err := newRunError(KindUnknownVariable, "name '%s' is not defined", n.Name)
		err.Name = n.Name
		return Value{}, err
	}
	args := make([]Value, 0, len(n.Args))
	for _, a := range n.Args {
		v, err := ev.Eval(a)
		if err != nil {
			return Value{}, err
		}
		args = append(args, v)
	}
	return callBuiltin(n.Name, args)
}

func callBuiltin(name string, args []Value) (Value, error) {
	switch name {
	case "type", "len":
		if len(args) != 1 {
			return Value{}, newRunError(KindTypeMismatch, "%s() takes exactly one argument (%d given)", name, len(args))
		}
	default:
		if len(args) > 1 {
			return Value{}, newRunError(KindTypeMismatch, "%s() takes at most 1 argument (%d given)", name, len(args))
		}
		if len(args) == 0 {
			switch name {
			case "int":
				return IntValue(0), nil
			case "float":
				return FloatValue(0), nil
			case "bool":
				return BoolValue(false), nil
			}
			return StringValue(""), nil
		}
	}

	v := args[0]
	switch name {
	case "str":
		return StringValue(v.String()), nil
	case "type":
		return StringValue(v.TypeTag()), nil
	case "bool":
		return BoolValue(v.Truthy()), nil
	case "len":
		switch v.Kind {
		case KindString:
			return IntValue(int64(utf8.RuneCountInString(v.Str))), nil
		case KindList:
			return IntValue(int64(len(v.List))), nil
		}
		return Value{}, newRunError(KindTypeMismatch, "object of type '%s' has no len()", v.Kind)
	case "int":
		return ToInt(v)
	case "float":
		return ToFloat(v)
	}
	return Value{}, newRunError(KindUnknownVariable, "name '%s' is not defined", name)
}

// ToInt converts a value the way int() does.
func ToInt(v Value) (Value, error) {
	switch v.Kind {
	case KindInt:
		return v, nil
	case KindBool:
		return IntValue(boolToInt(v.Bool)), nil
	case KindFloat:
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) || math.Abs(v.Float) >= math.MaxInt64 {
			return Value{}, newRunError(KindConversionFailure, "cannot convert float %s to integer", formatFloat(v.Float))
		}
		return IntValue(int64(v.Float)), nil
	case KindString:
		text := strings.TrimSpace(v.Str)
		if intLiteralPattern.MatchString(text) {
			if n, err := strconv.ParseInt(text, 10, 64); err == nil {
				return IntValue(n), nil
			}
		}
		return Value{}, newRunError(KindConversionFailure, "invalid literal for int() with base 10: %s", v.Repr())
	}
	return Value{}, newRunError(KindTypeMismatch, "int() argument must be a string or a number, not '%s'", v.Kind)
}

// ToFloat converts a value the way float() does. Non-finite results are
// rejected so every value stays JSON encodable.
func ToFloat(v Value) (Value, error) {
	switch v.Kind {
	case KindFloat:
		return v, nil
	case KindInt:
		return FloatValue(float64(v.Int)), nil
	case KindBool:
		return FloatValue(float64(boolToInt(v.Bool))), nil
	case KindString:
		text := strings.TrimSpace(v.Str)
		if floatLiteralPattern.MatchString(text) {
			if f, err := strconv.ParseFloat(text, 64); err == nil {
				return FloatValue(f), nil
			}
		}
		return Value{}, newRunError(KindConversionFailure, "could not convert string to float: %s", v.Repr())
	}
	return Value{}, newRunError(KindTypeMismatch, "float() argument must be a string or a number, not '%s'", v.Kind)
}
