package minipy

import (
	"math"
	"strconv"
	"strings"
)

// Kind is the type tag of a Value.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindList
)

var kindNames = map[Kind]string{
	KindString: "str",
	KindInt:    "int",
	KindFloat:  "float",
	KindBool:   "bool",
	KindList:   "list",
}

// String returns the Python class name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "object"
}

// Value is a runtime value. Only the field selected by Kind is meaningful.
type Value struct {
	Kind  Kind    `json:"kind"`
	Str   string  `json:"str,omitempty"`
	Int   int64   `json:"int,omitempty"`
	Float float64 `json:"float"`
	Bool  bool    `json:"bool,omitempty"`
	List  []Value `json:"list,omitempty"`
}

// Constructors
func StringValue(s string) Value    { return Value{Kind: KindString, Str: s} }
func IntValue(i int64) Value        { return Value{Kind: KindInt, Int: i} }
func FloatValue(f float64) Value    { return Value{Kind: KindFloat, Float: f} }
func BoolValue(b bool) Value        { return Value{Kind: KindBool, Bool: b} }
func ListValue(items []Value) Value { return Value{Kind: KindList, List: items} }

// IsNumeric reports whether the value is an int or a float.
func (v Value) IsNumeric() bool {
	return v.Kind == KindInt || v.Kind == KindFloat
}

func (v Value) asFloat() float64 {
	if v.Kind == KindInt {
		return float64(v.Int)
	}
	return v.Float
}

// TypeTag renders the value's class the way Python's type() prints it.
func (v Value) TypeTag() string {
	return "<class '" + v.Kind.String() + "'>"
}

// Truthy applies Python truthiness.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindString:
		return v.Str != ""
	case KindInt:
		return v.Int != 0
	case KindFloat:
		return v.Float != 0
	case KindBool:
		return v.Bool
	case KindList:
		return len(v.List) > 0
	}
	return false
}

// String renders the value as str() would.
func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return formatFloat(v.Float)
	case KindBool:
		if v.Bool {
			return "True"
		}
		return "False"
	case KindList:
		parts := make([]string, len(v.List))
		for i, item := range v.List {
			parts[i] = item.Repr()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return ""
}

// Repr renders the value as repr() would. Only strings differ from String.
func (v Value) Repr() string {
	if v.Kind != KindString {
		return v.String()
	}
	quote := "'"
	if strings.Contains(v.Str, "'") && !strings.Contains(v.Str, `"`) {
		quote = `"`
	}
	var sb strings.Builder
	sb.WriteString(quote)
	for _, r := range v.Str {
		switch {
		case r == '\\':
			sb.WriteString(`\\`)
		case r == '\n':
			sb.WriteString(`\n`)
		case r == '\t':
			sb.WriteString(`\t`)
		case string(r) == quote:
			sb.WriteString(`\` + quote)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteString(quote)
	return sb.String()
}

// formatFloat mimics Python's float repr: shortest round-trip digits,
// scientific notation below 1e-4 and from 1e16 on.
func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	if f == 0 {
		if math.Signbit(f) {
			return "-0.0"
		}
		return "0.0"
	}
	sci := strconv.FormatFloat(f, 'e', -1, 64)
	exp, err := strconv.Atoi(sci[strings.IndexByte(sci, 'e')+1:])
	if err == nil && (exp < -4 || exp >= 16) {
		// Go writes 1e+16 and 1.5e-05 just like Python does
		return sci
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Equal compares two values with kind-strict semantics. Ints and floats form
// one numeric family; any other cross-kind pair is unequal.
func (v Value) Equal(o Value) bool {
	if v.IsNumeric() && o.IsNumeric() {
		if v.Kind == KindInt && o.Kind == KindInt {
			return v.Int == o.Int
		}
		return v.asFloat() == o.asFloat()
	}
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Str == o.Str
	case KindBool:
		return v.Bool == o.Bool
	case KindList:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(o.List[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// compare orders two values of the same kind. ok is false when the pair has no ordering.
func (v Value) compare(o Value) (cmp int, ok bool) {
	switch {
	case v.IsNumeric() && o.IsNumeric():
		if v.Kind == KindInt && o.Kind == KindInt {
			return compareInts(v.Int, o.Int), true
		}
		a, b := v.asFloat(), o.asFloat()
		switch {
		case a < b:
			return -1, true
		case a > b:
			return 1, true
		}
		return 0, true
	case v.Kind == KindString && o.Kind == KindString:
		// byte order == code point order for UTF-8
		return strings.Compare(v.Str, o.Str), true
	case v.Kind == KindBool && o.Kind == KindBool:
		return compareInts(boolToInt(v.Bool), boolToInt(o.Bool)), true
	}
	return 0, false
}

func compareInts(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Clone deep-copies list values so snapshots do not alias the live environment.
func (v Value) Clone() Value {
	if v.Kind != KindList {
		return v
	}
	items := make([]Value, len(v.List))
	for i, item := range v.List {
		items[i] = item.Clone()
	}
	return ListValue(items)
}
