package minipy

import (
	"fmt"
	"sort"
)

// Shape identifies one statement form the line classifier recognizes.
type Shape int

// Statement shapes in matching priority order
const (
	ShapeListAssign Shape = iota
	ShapeAssign
	ShapeForRange
	ShapeForEach
	ShapeIf
	ShapeInput
	ShapePrint
	ShapeExpression
)

var shapeNames = map[Shape]string{
	ShapeListAssign: "list_assign",
	ShapeAssign:     "assign",
	ShapeForRange:   "for_range",
	ShapeForEach:    "for_each",
	ShapeIf:         "if",
	ShapeInput:      "input",
	ShapePrint:      "print",
	ShapeExpression: "expression",
}

func (s Shape) String() string {
	if name, ok := shapeNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Shape(%d)", int(s))
}

// ParseShape maps a catalog name such as "for_range" to its Shape.
func ParseShape(name string) (Shape, error) {
	for s, n := range shapeNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown statement shape %q", name)
}

// BuiltinNames lists every builtin function the evaluator knows.
var BuiltinNames = []string{"int", "str", "float", "type", "len", "bool"}

// Capabilities is the whitelist of statement shapes and builtins a lesson allows.
// The zero value allows nothing.
type Capabilities struct {
	shapes   map[Shape]bool
	builtins map[string]bool
}

// NewCapabilities builds a whitelist. Unknown builtin names are rejected.
func NewCapabilities(shapes []Shape, builtins []string) (Capabilities, error) {
	c := Capabilities{
		shapes:   make(map[Shape]bool, len(shapes)),
		builtins: make(map[string]bool, len(builtins)),
	}
	for _, s := range shapes {
		if _, ok := shapeNames[s]; !ok {
			return Capabilities{}, fmt.Errorf("unknown statement shape %d", int(s))
		}
		c.shapes[s] = true
	}
	for _, b := range builtins {
		if !isBuiltin(b) {
			return Capabilities{}, fmt.Errorf("unknown builtin %q", b)
		}
		c.builtins[b] = true
	}
	return c, nil
}

// AllCapabilities enables every shape and builtin.
func AllCapabilities() Capabilities {
	shapes := make([]Shape, 0, len(shapeNames))
	for s := range shapeNames {
		shapes = append(shapes, s)
	}
	c, _ := NewCapabilities(shapes, BuiltinNames)
	return c
}

// HasShape reports whether the statement shape is enabled.
func (c Capabilities) HasShape(s Shape) bool { return c.shapes[s] }

// HasBuiltin reports whether the builtin is enabled.
func (c Capabilities) HasBuiltin(name string) bool { return c.builtins[name] }

// Shapes returns the enabled shapes in priority order.
func (c Capabilities) Shapes() []Shape {
	out := make([]Shape, 0, len(c.shapes))
	for s := range c.shapes {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Builtins returns the enabled builtin names, sorted.
func (c Capabilities) Builtins() []string {
	out := make([]string, 0, len(c.builtins))
	for b := range c.builtins {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

func isBuiltin(name string) bool {
	for _, b := range BuiltinNames {
		if b == name {
			return true
		}
	}
	return false
}
