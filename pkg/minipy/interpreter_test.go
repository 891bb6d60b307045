package minipy

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
)

// newTestInterpreter returns an interpreter with every shape and builtin enabled.
func newTestInterpreter() *Interpreter {
	return NewInterpreter(AllCapabilities(), DefaultLimits())
}

func TestRunOutput(t *testing.T) {
	interp := newTestInterpreter()

	tests := []struct {
		name   string
		source string
		want   []string
	}{
		{"hello", `print("Hello")`, []string{"Hello"}},
		{"variable concat", "name = \"Max\"\nprint(\"Hi \" + name)", []string{"Hi Max"}},
		{"number is not text", `print(5 == "5")`, []string{"False"}},
		{"int conversion equals", `print(int("5") == 5)`, []string{"True"}},
		{"int float family", `print(1 == 1.0)`, []string{"True"}},
		{"list index", "x = [\"a\", \"b\", \"c\"]\nprint(x[0])\nprint(x[2])", []string{"a", "c"}},
		{"negative index", "x = [1, 2, 3]\nprint(x[-1])", []string{"3"}},
		{"string index", `print("hello"[1])`, []string{"e"}},
		{"string ordering", `print("apple" < "banana")`, []string{"True"}},
		{"case sensitive equality", `print("Cat" == "cat")`, []string{"False"}},
		{"uppercase before lowercase", `print("Z" < "a")`, []string{"True"}},
		{"bool ordering", `print(False < True)`, []string{"True"}},
		{"type str", `print(type("x"))`, []string{"<class 'str'>"}},
		{"type int", `print(type(5))`, []string{"<class 'int'>"}},
		{"type float", `print(type(5.0))`, []string{"<class 'float'>"}},
		{"type bool", `print(type(True))`, []string{"<class 'bool'>"}},
		{"type list", `print(type([1]))`, []string{"<class 'list'>"}},
		{"true division", `print(10 / 2)`, []string{"5.0"}},
		{"float repr", `print(0.1 + 0.2)`, []string{"0.30000000000000004"}},
		{"half", `print(7 / 2)`, []string{"3.5"}},
		{"floor and modulo", `print(7 // 2, 7 % 3, -7 // 2, -7 % 3)`, []string{"3 1 -4 2"}},
		{"int times float", `print(2 * 1.5)`, []string{"3.0"}},
		{"range", "for i in range(3):\n    print(i)", []string{"0", "1", "2"}},
		{"range start stop step", "for i in range(1, 10, 3):\n    print(i)", []string{"1", "4", "7"}},
		{"range backwards", "for i in range(5, 0, -2):\n    print(i)", []string{"5", "3", "1"}},
		{"empty range", "for i in range(0):\n    print(i)\nprint(\"done\")", []string{"done"}},
		{"for each list", "fruits = [\"apple\", \"kiwi\"]\nfor f in fruits:\n    print(f\"I like {f}\")",
			[]string{"I like apple", "I like kiwi"}},
		{"for each string", "for c in \"hi\":\n    print(c)", []string{"h", "i"}},
		{"if elif else", "age = 12\nif age < 10:\n    print(\"small\")\nelif age < 13:\n    print(\"middle\")\nelse:\n    print(\"big\")",
			[]string{"middle"}},
		{"else branch", "if 1 > 2:\n    print(\"no\")\nelse:\n    print(\"yes\")", []string{"yes"}},
		{"only first body line runs", "for i in range(2):\n    print(\"a\")\n    print(\"b\")\nprint(\"end\")",
			[]string{"a", "a", "end"}},
		{"unresolved placeholder kept", `print(f"Hi {nobody}")`, []string{"Hi {nobody}"}},
		{"escaped braces", `print(f"{{x}}")`, []string{"{x}"}},
		{"placeholder expression", `print(f"{2 + 3} apples")`, []string{"5 apples"}},
		{"augmented assignment", "x = 5\nx += 2\nx *= 3\nprint(x)", []string{"21"}},
		{"or returns operand", `print(0 or "default")`, []string{"default"}},
		{"and returns operand", `print(1 and 2)`, []string{"2"}},
		{"not", `print(not 0)`, []string{"True"}},
		{"chained comparison", `print(1 < 2 < 3, 3 > 2 > 2)`, []string{"True False"}},
		{"several arguments", `print("a", 1, True)`, []string{"a 1 True"}},
		{"empty print", `print()`, []string{""}},
		{"list repr", `print(["a", 'b', 3])`, []string{"['a', 'b', 3]"}},
		{"list repr apostrophe", `print(["it's"])`, []string{`["it's"]`}},
		{"list concat", `print([1] + [2])`, []string{"[1, 2]"}},
		{"list equality", `print([1, 2] == [1, 2])`, []string{"True"}},
		{"comments", "# hello\nprint(\"a # not comment\") # comment", []string{"a # not comment"}},
		{"repeat", `print("ab" * 3)`, []string{"ababab"}},
		{"len", `print(len("hello"), len([1, 2]))`, []string{"5 2"}},
		{"int conversions", `print(int(3.9), int(-3.9), int(True), int(" 42 "))`, []string{"3 -3 1 42"}},
		{"float conversion", `print(float("2.5") + 1)`, []string{"3.5"}},
		{"str conversion", `print("Age: " + str(11))`, []string{"Age: 11"}},
		{"bool builtin", `print(bool(""), bool("x"))`, []string{"False True"}},
		{"apostrophe in double quotes", `print("I don't like that")`, []string{"I don't like that"}},
		{"escapes", `print("a\tb")`, []string{"a\tb"}},
		{"tab indentation", "for i in range(2):\n\tprint(i)", []string{"0", "1"}},
		{"crlf", "print(1)\r\nprint(2)", []string{"1", "2"}},
		{"common indentation removed", "    print(1)\n    print(2)", []string{"1", "2"}},
		{"expression statement", "type(5)\nprint(\"ok\")", []string{"ok"}},
		{"large float", `print(10000000000000000.0)`, []string{"1e+16"}},
		{"small float", `print(0.0001, 0.00001)`, []string{"0.0001 1e-05"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := interp.Run(tt.source)
			if res.Status != StatusFinished {
				t.Fatalf("status = %s, failure = %v", res.Status, res.Failure)
			}
			if !reflect.DeepEqual(res.Output, tt.want) {
				t.Errorf("output = %q, want %q", res.Output, tt.want)
			}
		})
	}
}

func TestRunFailures(t *testing.T) {
	interp := newTestInterpreter()

	tests := []struct {
		name   string
		source string
		kind   ErrorKind
		emoji  string
	}{
		{"index out of range", "x = [\"a\", \"b\", \"c\"]\nprint(x[5])", KindIndexOutOfRange, "[0]"},
		{"text plus number", `print("Age: " + 5)`, KindTypeMismatch, "str"},
		{"cross kind ordering", `print(5 < "6")`, KindTypeMismatch, "str"},
		{"bool arithmetic", `print(True + 1)`, KindTypeMismatch, "str"},
		{"unknown variable", `print(score)`, KindUnknownVariable, `""`},
		{"bad int", `x = int("abc")`, KindConversionFailure, "123"},
		{"division by zero", `print(1 / 0)`, KindZeroDivision, "/0"},
		{"empty", "   \n\n# only a comment", KindEmptyProgram, "..."},
		{"apostrophe", `print('I don't like that')`, KindParseFailure, "'"},
		{"missing paren", `print("hi"`, KindParseFailure, "("},
		{"unexpected indent", "print(\"a\")\n    print(\"b\")", KindParseFailure, ">>"},
		{"header without body", "if 5 > 3:", KindParseFailure, ">>"},
		{"stray else", "else:\n    print(\"x\")", KindParseFailure, ">>"},
		{"missing colon", "if 5 > 3\n    print(\"yes\")", KindParseFailure, ":"},
		{"capital print", `Print("hi")`, KindUnknownVariable, "Aa"},
		{"misspelled print", `pirnt("hi")`, KindUnknownVariable, "abc"},
		{"print without parens", `print "hi"`, KindParseFailure, "("},
		{"input inside block", "for i in range(2):\n    x = input(\"?\")", KindParseFailure, ""},
		{"nested block", "for i in range(2):\n    if i > 0:\n        print(i)", KindParseFailure, ""},
		{"range step zero", "for i in range(1, 5, 0):\n    print(i)", KindTypeMismatch, ""},
		{"unsupported keyword", "while True:\n    print(1)", KindParseFailure, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := interp.Run(tt.source)
			if res.Status != StatusFailed {
				t.Fatalf("status = %s, output = %q", res.Status, res.Output)
			}
			if res.Failure == nil || res.Error == nil {
				t.Fatal("failed result must carry both the failure and the friendly error")
			}
			if res.Failure.Kind != tt.kind {
				t.Errorf("kind = %s, want %s (%v)", res.Failure.Kind, tt.kind, res.Failure)
			}
			if tt.emoji != "" && res.Error.Emoji != tt.emoji {
				t.Errorf("emoji = %q, want %q (title %q)", res.Error.Emoji, tt.emoji, res.Error.Title)
			}
		})
	}
}

func TestFailureKeepsPartialOutput(t *testing.T) {
	res := newTestInterpreter().Run("print(\"a\")\nprint(1 / 0)")
	if res.Status != StatusFailed {
		t.Fatalf("status = %s", res.Status)
	}
	if !reflect.DeepEqual(res.Output, []string{"a"}) {
		t.Errorf("output = %q, want [a]", res.Output)
	}
	if res.Failure.Line != 2 {
		t.Errorf("line = %d, want 2", res.Failure.Line)
	}
	if !errors.Is(res.Failure, ErrZeroDivision) {
		t.Error("failure should wrap ErrZeroDivision")
	}
}

func TestUnbalancedParenTip(t *testing.T) {
	res := newTestInterpreter().Run(`print("hi"`)
	if res.Error == nil {
		t.Fatal("expected a friendly error")
	}
	if !strings.Contains(res.Error.Tip, "1 opening") || !strings.Contains(res.Error.Tip, "0 closing") {
		t.Errorf("tip %q should contain both counts", res.Error.Tip)
	}
}

func TestIdempotence(t *testing.T) {
	interp := newTestInterpreter()
	source := "total = 0\nfor i in range(4):\n    total += i\nprint(total)\nprint(f\"{total} done\")"
	first := interp.Run(source)
	second := interp.Run(source)
	if first.Status != StatusFinished || second.Status != StatusFinished {
		t.Fatalf("statuses = %s, %s", first.Status, second.Status)
	}
	if !reflect.DeepEqual(first.Output, second.Output) {
		t.Errorf("runs differ: %q vs %q", first.Output, second.Output)
	}
	if !reflect.DeepEqual(first.Output, []string{"6", "6 done"}) {
		t.Errorf("output = %q", first.Output)
	}
}

func TestInputPauseResume(t *testing.T) {
	interp := newTestInterpreter()
	res := interp.Run("name = input(\"Name? \")\nprint(f\"Hi {name}\")")
	if res.Status != StatusWaiting {
		t.Fatalf("status = %s, want waiting", res.Status)
	}
	if res.Prompt != "Name? " {
		t.Errorf("prompt = %q", res.Prompt)
	}
	if res.Suspension == nil {
		t.Fatal("waiting result needs a suspension")
	}

	resumed, err := interp.Resume(res.Suspension, "Max")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	want := []string{"Name? ", "Hi Max"}
	if resumed.Status != StatusFinished || !reflect.DeepEqual(resumed.Output, want) {
		t.Errorf("got %s %q, want finished %q", resumed.Status, resumed.Output, want)
	}
	if resumed.Text() != "Name? \nHi Max" {
		t.Errorf("Text() = %q", resumed.Text())
	}
}

func TestInputIsAlwaysText(t *testing.T) {
	interp := newTestInterpreter()
	res := interp.Run("age = input(\"Age? \")\nprint(type(age))")
	resumed, err := interp.Resume(res.Suspension, "11")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got := resumed.Output[len(resumed.Output)-1]; got != "<class 'str'>" {
		t.Errorf("captured input type = %s", got)
	}
}

func TestInputConversion(t *testing.T) {
	interp := newTestInterpreter()
	source := "age = int(input(\"Age? \"))\nprint(age + 1)"

	res := interp.Run(source)
	ok, err := interp.Resume(res.Suspension, "11")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if !reflect.DeepEqual(ok.Output, []string{"Age? ", "12"}) {
		t.Errorf("output = %q", ok.Output)
	}

	res = interp.Run(source)
	bad, err := interp.Resume(res.Suspension, "eleven")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if bad.Status != StatusFailed || bad.Failure.Kind != KindConversionFailure {
		t.Fatalf("status = %s, failure = %v", bad.Status, bad.Failure)
	}
	if !reflect.DeepEqual(bad.Output, []string{"Age? "}) {
		t.Errorf("output before the failure should be kept, got %q", bad.Output)
	}
}

func TestRepeatedResume(t *testing.T) {
	interp := newTestInterpreter()
	res := interp.Run("name = input(\"Name? \")\ncolor = input(\"Color? \")\nprint(f\"{name} likes {color}\")")

	res, err := interp.Resume(res.Suspension, "Ana")
	if err != nil {
		t.Fatalf("first Resume: %v", err)
	}
	if res.Status != StatusWaiting || res.Prompt != "Color? " {
		t.Fatalf("status = %s, prompt = %q", res.Status, res.Prompt)
	}

	res, err = interp.Resume(res.Suspension, "red")
	if err != nil {
		t.Fatalf("second Resume: %v", err)
	}
	want := []string{"Name? ", "Color? ", "Ana likes red"}
	if !reflect.DeepEqual(res.Output, want) {
		t.Errorf("output = %q, want %q", res.Output, want)
	}
}

func TestSuspensionSurvivesJSON(t *testing.T) {
	interp := newTestInterpreter()
	res := interp.Run("items = [\"a\", 1, 2.5, True]\nx = input()\nprint(items, x)")
	if len(res.Output) != 0 {
		t.Errorf("empty prompt must not be printed, got %q", res.Output)
	}

	data, err := json.Marshal(res.Suspension)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var restored Suspension
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	resumed, err := interp.Resume(&restored, "hey")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	want := []string{"['a', 1, 2.5, True] hey"}
	if !reflect.DeepEqual(resumed.Output, want) {
		t.Errorf("output = %q, want %q", resumed.Output, want)
	}
}

func TestNegativeZeroSurvivesJSON(t *testing.T) {
	interp := newTestInterpreter()
	res := interp.Run("x = -0.0\nprint(x)\nname = input(\"?\")\nprint(x)")
	if res.Status != StatusWaiting {
		t.Fatalf("status = %s", res.Status)
	}

	data, err := json.Marshal(res.Suspension)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var restored Suspension
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	resumed, err := interp.Resume(&restored, "")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	want := []string{"-0.0", "?", "-0.0"}
	if !reflect.DeepEqual(resumed.Output, want) {
		t.Errorf("output = %q, want %q", resumed.Output, want)
	}
}

func TestFloatOverflow(t *testing.T) {
	interp := newTestInterpreter()

	tests := []struct {
		name   string
		source string
	}{
		{"multiply", "x = 10.0\nfor i in range(400):\n    x = x * 10.0"},
		{"augmented before input", "x = 10.0\nfor i in range(400):\n    x *= 10.0\nname = input(\"?\")"},
		{"int operand", "x = 10.0\nfor i in range(400):\n    x = x * 10"},
		{"divide", "x = 1.0\nfor i in range(310):\n    x = x / 10.0\ny = 1.0 / x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := interp.Run(tt.source)
			if res.Status != StatusFailed || res.Failure == nil || res.Failure.Kind != KindStepLimit {
				t.Fatalf("status = %s, failure = %v", res.Status, res.Failure)
			}
			if res.Suspension != nil {
				t.Error("a failed run must not leave a suspension")
			}
		})
	}
}

func TestLargeFloatsSurviveJSON(t *testing.T) {
	interp := newTestInterpreter()
	res := interp.Run("x = 10.0\nfor i in range(300):\n    x *= 10.0\nname = input()\nprint(x > 1.0)")
	if res.Status != StatusWaiting {
		t.Fatalf("status = %s, failure = %v", res.Status, res.Failure)
	}
	if _, err := json.Marshal(res.Suspension); err != nil {
		t.Fatalf("Marshal: %v", err)
	}
}

func TestBareInput(t *testing.T) {
	interp := newTestInterpreter()
	res := interp.Run("input(\"Press enter\")\nprint(\"done\")")
	resumed, err := interp.Resume(res.Suspension, "")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if !reflect.DeepEqual(resumed.Output, []string{"Press enter", "done"}) {
		t.Errorf("output = %q", resumed.Output)
	}
}

func TestResumeRejectsInvalidSuspension(t *testing.T) {
	interp := newTestInterpreter()
	if _, err := interp.Resume(nil, "x"); !errors.Is(err, ErrNotWaiting) {
		t.Errorf("nil suspension: err = %v", err)
	}
	if _, err := interp.Resume(&Suspension{Source: "print(1)", Cursor: 1}, "x"); !errors.Is(err, ErrNotWaiting) {
		t.Errorf("cursor not after an input: err = %v", err)
	}
	if _, err := interp.Resume(&Suspension{Source: "x = input(\n", Cursor: 1}, "x"); !errors.Is(err, ErrNotWaiting) {
		t.Errorf("source that no longer parses: err = %v", err)
	}

	caps, err := NewCapabilities([]Shape{ShapePrint}, nil)
	if err != nil {
		t.Fatalf("NewCapabilities: %v", err)
	}
	printOnly := NewInterpreter(caps, DefaultLimits())
	res := interp.Run("name = input()\nprint(name)")
	if _, err := printOnly.Resume(res.Suspension, "x"); !errors.Is(err, ErrNotWaiting) {
		t.Errorf("source outside the capabilities: err = %v", err)
	}
}

func TestStepLimit(t *testing.T) {
	interp := NewInterpreter(AllCapabilities(), Limits{MaxSteps: 50})
	res := interp.Run("for i in range(1000):\n    print(i)")
	if res.Status != StatusFailed || res.Failure.Kind != KindStepLimit {
		t.Fatalf("status = %s, failure = %v", res.Status, res.Failure)
	}
	if len(res.Output) != 49 {
		t.Errorf("printed %d lines before stopping, want 49", len(res.Output))
	}
	if res.Error.Emoji != "loop" {
		t.Errorf("emoji = %q", res.Error.Emoji)
	}
}

func TestOutputAndSequenceLimits(t *testing.T) {
	interp := NewInterpreter(AllCapabilities(), Limits{MaxOutputLines: 2, MaxSequenceLength: 10})

	res := interp.Run("print(1)\nprint(2)\nprint(3)")
	if res.Status != StatusFailed || res.Failure.Kind != KindStepLimit {
		t.Errorf("output limit: status = %s, failure = %v", res.Status, res.Failure)
	}

	res = interp.Run(`print("ab" * 6)`)
	if res.Status != StatusFailed || res.Failure.Kind != KindStepLimit {
		t.Errorf("sequence limit: status = %s, failure = %v", res.Status, res.Failure)
	}
}

func TestCapabilities(t *testing.T) {
	caps, err := NewCapabilities([]Shape{ShapeAssign, ShapePrint}, []string{"str"})
	if err != nil {
		t.Fatalf("NewCapabilities: %v", err)
	}
	interp := NewInterpreter(caps, DefaultLimits())

	tests := []struct {
		name   string
		source string
		status Status
		kind   ErrorKind
	}{
		{"allowed", "x = 5\nprint(str(x))", StatusFinished, 0},
		{"disabled loop", "for i in range(3):\n    print(i)", StatusFailed, KindParseFailure},
		{"disabled list assignment", "x = [1, 2]", StatusFailed, KindParseFailure},
		{"disabled builtin is unknown", "print(type(5))", StatusFailed, KindUnknownVariable},
		{"disabled input", "x = input(\"?\")", StatusFailed, KindParseFailure},
		{"disabled expression statement", "str(5)", StatusFailed, KindParseFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := interp.Run(tt.source)
			if res.Status != tt.status {
				t.Fatalf("status = %s, want %s (%v)", res.Status, tt.status, res.Failure)
			}
			if tt.status == StatusFailed && res.Failure.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", res.Failure.Kind, tt.kind)
			}
		})
	}

	res := interp.Run("print(type(5))")
	if res.Failure.Name != "type" {
		t.Errorf("unknown name = %q, want type", res.Failure.Name)
	}

	if _, err := NewCapabilities(nil, []string{"eval"}); err == nil {
		t.Error("unknown builtin should be rejected")
	}
}

func TestParseShapes(t *testing.T) {
	prog, err := Parse("x = [1]\ny = 2\nfor i in range(2):\n    print(i)\nfor v in x:\n    print(v)\nif y:\n    print(y)\nz = input()\nprint(z)\nlen(x)", AllCapabilities())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []Shape{ShapeListAssign, ShapeAssign, ShapeForRange, ShapeForEach, ShapeIf, ShapeInput, ShapePrint, ShapeExpression}
	var got []Shape
	for _, stmt := range prog.Statements {
		got = append(got, stmt.Shape())
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("shapes = %v, want %v", got, want)
	}
}
