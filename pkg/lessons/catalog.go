// Package lessons holds the lesson catalog. Each lesson enables a subset of the
// interpreter's statement shapes and builtins and lists the output its starter
// program is expected to print.
package lessons

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/codekids/pyquest/pkg/configuration"
	"github.com/codekids/pyquest/pkg/logger"
	"github.com/codekids/pyquest/pkg/minipy"
)

//go:embed lessons.yaml
var embeddedCatalog []byte

// ErrUnknownLesson is returned for an id that is not in the catalog.
var ErrUnknownLesson = errors.New("unknown lesson")

const defaultChatDelay = 700 * time.Millisecond

// Reward is what a completed lesson is worth.
type Reward struct {
	XP    int `yaml:"xp" json:"xp"`
	Coins int `yaml:"coins" json:"coins"`
}

// Lesson is one catalog entry.
type Lesson struct {
	ID       string   `yaml:"id" json:"id"`
	Title    string   `yaml:"title" json:"title"`
	Concept  string   `yaml:"concept" json:"concept"`
	Shapes   []string `yaml:"shapes" json:"shapes"`
	Builtins []string `yaml:"builtins" json:"builtins"`
	Starter  string   `yaml:"starter" json:"starter"`
	Inputs   []string `yaml:"inputs" json:"-"` // answers used when self-checking the starter
	Expected []string `yaml:"expected" json:"expected"`
	Reward   Reward   `yaml:"reward" json:"reward"`
	Chat     bool     `yaml:"chat" json:"chat"`
	Delay    string   `yaml:"chat_delay" json:"-"`

	caps      minipy.Capabilities
	chatDelay time.Duration
}

// Summary is the short form used in listings.
type Summary struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Concept string `json:"concept"`
	Chat    bool   `json:"chat"`
	Reward  Reward `json:"reward"`
}

// Capabilities returns the statement shapes and builtins the lesson allows.
func (l *Lesson) Capabilities() minipy.Capabilities {
	return l.caps
}

// Interpreter returns an interpreter restricted to the lesson's capabilities
// with the limits from the configuration.
func (l *Lesson) Interpreter() *minipy.Interpreter {
	return minipy.NewInterpreter(l.caps, minipy.LimitsFromConfig())
}

// ChatDelay is the pause between streamed output lines in chat mode.
func (l *Lesson) ChatDelay() time.Duration {
	return l.chatDelay
}

// Summary returns the listing form of the lesson.
func (l *Lesson) Summary() Summary {
	return Summary{ID: l.ID, Title: l.Title, Concept: l.Concept, Chat: l.Chat, Reward: l.Reward}
}

func (l *Lesson) prepare() error {
	if l.ID == "" {
		return fmt.Errorf("lesson without id")
	}
	shapes := make([]minipy.Shape, 0, len(l.Shapes))
	for _, name := range l.Shapes {
		s, err := minipy.ParseShape(name)
		if err != nil {
			return fmt.Errorf("lesson %s: %w", l.ID, err)
		}
		shapes = append(shapes, s)
	}
	caps, err := minipy.NewCapabilities(shapes, l.Builtins)
	if err != nil {
		return fmt.Errorf("lesson %s: %w", l.ID, err)
	}
	l.caps = caps

	l.chatDelay = configuration.GetDuration("Lessons", "default_chat_delay", defaultChatDelay)
	if l.Delay != "" {
		d, err := time.ParseDuration(l.Delay)
		if err != nil || d < 0 {
			return fmt.Errorf("lesson %s: invalid chat_delay %q", l.ID, l.Delay)
		}
		l.chatDelay = d
	}
	return nil
}

// Catalog is an ordered, immutable set of lessons.
type Catalog struct {
	lessons []*Lesson
	byID    map[string]*Lesson
}

type catalogFile struct {
	Lessons []*Lesson `yaml:"lessons"`
}

// Parse decodes a YAML catalog. Unknown fields, duplicate ids and unknown
// shapes or builtins are errors.
func Parse(r io.Reader) (*Catalog, error) {
	var raw catalogFile
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("lessons: parse catalog: %w", err)
	}
	if len(raw.Lessons) == 0 {
		return nil, fmt.Errorf("lessons: catalog is empty")
	}

	c := &Catalog{byID: make(map[string]*Lesson, len(raw.Lessons))}
	for _, l := range raw.Lessons {
		if err := l.prepare(); err != nil {
			return nil, fmt.Errorf("lessons: %w", err)
		}
		if _, dup := c.byID[l.ID]; dup {
			return nil, fmt.Errorf("lessons: duplicate id %q", l.ID)
		}
		c.byID[l.ID] = l
		c.lessons = append(c.lessons, l)
	}
	return c, nil
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(bytes.NewReader(embeddedCatalog))
}

// Load reads the catalog named by Lessons.catalog_file, or the built-in one
// when the setting is empty.
func Load() (*Catalog, error) {
	path := configuration.GetString("Lessons", "catalog_file", "")
	if path == "" {
		c, err := Default()
		if err == nil {
			logger.Info(logger.AreaLessons, "loaded %d built-in lessons", len(c.lessons))
		}
		return c, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("lessons: %w", err)
	}
	defer file.Close()
	c, err := Parse(file)
	if err != nil {
		return nil, err
	}
	logger.Info(logger.AreaLessons, "loaded %d lessons from %s", len(c.lessons), path)
	return c, nil
}

// Get returns a lesson by id.
func (c *Catalog) Get(id string) (*Lesson, error) {
	if l, ok := c.byID[id]; ok {
		return l, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownLesson, id)
}

// All returns the lessons in catalog order.
func (c *Catalog) All() []*Lesson {
	out := make([]*Lesson, len(c.lessons))
	copy(out, c.lessons)
	return out
}

// Summaries lists every lesson in catalog order.
func (c *Catalog) Summaries() []Summary {
	out := make([]Summary, 0, len(c.lessons))
	for _, l := range c.lessons {
		out = append(out, l.Summary())
	}
	return out
}

// CheckResult tells whether a run printed what the lesson expects.
type CheckResult struct {
	Passed   bool   `json:"passed"`
	Line     int    `json:"line,omitempty"` // 1-based first differing line
	Expected string `json:"expected,omitempty"`
	Got      string `json:"got,omitempty"`
}

// Check compares a finished run's output with the lesson's expected lines.
// Trailing whitespace is ignored. A lesson without expected lines accepts
// any finished run.
func Check(l *Lesson, res *minipy.Result) CheckResult {
	if res == nil || res.Status != minipy.StatusFinished {
		return CheckResult{}
	}
	if len(l.Expected) == 0 {
		return CheckResult{Passed: true}
	}
	n := len(res.Output)
	if len(l.Expected) > n {
		n = len(l.Expected)
	}
	for i := 0; i < n; i++ {
		var got, want string
		if i < len(res.Output) {
			got = strings.TrimRight(res.Output[i], " \t")
		}
		if i < len(l.Expected) {
			want = strings.TrimRight(l.Expected[i], " \t")
		}
		if got != want || i >= len(res.Output) || i >= len(l.Expected) {
			return CheckResult{Line: i + 1, Expected: want, Got: got}
		}
	}
	return CheckResult{Passed: true}
}
