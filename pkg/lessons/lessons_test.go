package lessons

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/codekids/pyquest/pkg/minipy"
)

// runWithInputs runs source and answers every input() prompt in order.
func runWithInputs(t *testing.T, interp *minipy.Interpreter, source string, inputs []string) *minipy.Result {
	t.Helper()
	res := interp.Run(source)
	for res.Status == minipy.StatusWaiting {
		if len(inputs) == 0 {
			t.Fatalf("program asked %q but no answers are left", res.Prompt)
		}
		var err error
		res, err = interp.Resume(res.Suspension, inputs[0])
		if err != nil {
			t.Fatalf("Resume: %v", err)
		}
		inputs = inputs[1:]
	}
	return res
}

func TestDefaultCatalogStartersPass(t *testing.T) {
	catalog, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if len(catalog.All()) < 10 {
		t.Errorf("catalog has %d lessons, want at least 10", len(catalog.All()))
	}

	for _, lesson := range catalog.All() {
		t.Run(lesson.ID, func(t *testing.T) {
			res := runWithInputs(t, lesson.Interpreter(), lesson.Starter, lesson.Inputs)
			if res.Status != minipy.StatusFinished {
				t.Fatalf("starter failed: %v", res.Failure)
			}
			if check := Check(lesson, res); !check.Passed {
				t.Errorf("line %d: got %q, want %q", check.Line, check.Got, check.Expected)
			}
		})
	}
}

func TestLessonCapabilitiesRestrict(t *testing.T) {
	catalog, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	hello, err := catalog.Get("hello")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	res := hello.Interpreter().Run("x = 5")
	if res.Status != minipy.StatusFailed || res.Failure.Kind != minipy.KindParseFailure {
		t.Errorf("assignment should be unavailable in the first lesson, got %s", res.Status)
	}
	if hello.Capabilities().HasBuiltin("int") {
		t.Error("first lesson should not enable int()")
	}
}

func TestGetUnknownLesson(t *testing.T) {
	catalog, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if _, err := catalog.Get("nope"); !errors.Is(err, ErrUnknownLesson) {
		t.Errorf("err = %v, want ErrUnknownLesson", err)
	}
}

func TestParseRejectsBadCatalogs(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", "lessons: []\n"},
		{"unknown field", "lessons:\n  - id: a\n    colour: red\n"},
		{"unknown shape", "lessons:\n  - id: a\n    shapes: [while]\n"},
		{"unknown builtin", "lessons:\n  - id: a\n    builtins: [eval]\n"},
		{"duplicate id", "lessons:\n  - id: a\n  - id: a\n"},
		{"missing id", "lessons:\n  - title: x\n"},
		{"bad delay", "lessons:\n  - id: a\n    chat_delay: soon\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(strings.NewReader(tt.yaml)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestChatDelay(t *testing.T) {
	c, err := Parse(strings.NewReader("lessons:\n  - id: a\n    chat_delay: 250ms\n  - id: b\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	a, _ := c.Get("a")
	b, _ := c.Get("b")
	if a.ChatDelay() != 250*time.Millisecond {
		t.Errorf("a delay = %v", a.ChatDelay())
	}
	if b.ChatDelay() != defaultChatDelay {
		t.Errorf("b delay = %v, want default", b.ChatDelay())
	}
}

func TestCheck(t *testing.T) {
	lesson := &Lesson{ID: "x", Expected: []string{"Name? ", "Hi"}}

	tests := []struct {
		name   string
		res    *minipy.Result
		passed bool
		line   int
	}{
		{"match ignoring trailing space", &minipy.Result{Status: minipy.StatusFinished, Output: []string{"Name?", "Hi  "}}, true, 0},
		{"wrong line", &minipy.Result{Status: minipy.StatusFinished, Output: []string{"Name? ", "Hello"}}, false, 2},
		{"too short", &minipy.Result{Status: minipy.StatusFinished, Output: []string{"Name? "}}, false, 2},
		{"too long", &minipy.Result{Status: minipy.StatusFinished, Output: []string{"Name? ", "Hi", ""}}, false, 3},
		{"not finished", &minipy.Result{Status: minipy.StatusWaiting, Output: []string{"Name? "}}, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Check(lesson, tt.res)
			if got.Passed != tt.passed || got.Line != tt.line {
				t.Errorf("Check = %+v, want passed=%v line=%d", got, tt.passed, tt.line)
			}
		})
	}
}

func TestLogNotifier(t *testing.T) {
	var n RewardNotifier = LogNotifier{}
	if err := n.Credit(context.Background(), "s1", "hello", Reward{XP: 10, Coins: 1}); err != nil {
		t.Errorf("Credit: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := n.Credit(ctx, "s1", "hello", Reward{}); err == nil {
		t.Error("Credit should honour a cancelled context")
	}
}
