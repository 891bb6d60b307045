package minipy

import (
	"fmt"
	"math"
	"strings"

	"github.com/codekids/pyquest/pkg/configuration"
	"github.com/codekids/pyquest/pkg/kiderrors"
	"github.com/codekids/pyquest/pkg/logger"
)

// Default resource guards, overridable in the [Interpreter] config section.
const (
	DefaultMaxSteps          = 10000
	DefaultMaxOutputLines    = 1000
	DefaultMaxSequenceLength = 100000
)

// Status of a run.
type Status string

const (
	StatusFinished Status = "finished"
	StatusWaiting  Status = "waiting"
	StatusFailed   Status = "failed"
)

// Limits bound the work one run may do. Zero disables a guard.
type Limits struct {
	MaxSteps          int
	MaxOutputLines    int
	MaxSequenceLength int
}

// DefaultLimits returns the built-in guards.
func DefaultLimits() Limits {
	return Limits{
		MaxSteps:          DefaultMaxSteps,
		MaxOutputLines:    DefaultMaxOutputLines,
		MaxSequenceLength: DefaultMaxSequenceLength,
	}
}

// LimitsFromConfig reads the guards from the configuration.
func LimitsFromConfig() Limits {
	return Limits{
		MaxSteps:          configuration.GetInt("Interpreter", "max_steps", DefaultMaxSteps),
		MaxOutputLines:    configuration.GetInt("Interpreter", "max_output_lines", DefaultMaxOutputLines),
		MaxSequenceLength: configuration.GetInt("Interpreter", "max_sequence_length", DefaultMaxSequenceLength),
	}
}

// Suspension is the state of a run paused on input(). It is plain data so it
// can be stored as JSON and resumed by another process.
type Suspension struct {
	Source  string           `json:"source"`
	Cursor  int              `json:"cursor"` // index of the statement after the input
	Env     map[string]Value `json:"env"`
	Output  []string         `json:"output"`
	Var     string           `json:"var,omitempty"`
	Convert string           `json:"convert,omitempty"`
	Steps   int              `json:"steps"`
}

// Result is the outcome of Run or Resume.
type Result struct {
	Status     Status
	Output     []string
	Prompt     string
	Suspension *Suspension
	Failure    *RunError
	Error      *kiderrors.KidFriendlyError
}

// Text joins the output lines the way a console would show them.
func (r *Result) Text() string {
	return strings.Join(r.Output, "\n")
}

// Interpreter runs programs under a fixed set of capabilities and limits.
// It holds no per-run state and is safe for concurrent use.
type Interpreter struct {
	caps   Capabilities
	limits Limits
}

// NewInterpreter creates an interpreter.
func NewInterpreter(caps Capabilities, limits Limits) *Interpreter {
	return &Interpreter{caps: caps, limits: limits}
}

// Capabilities returns the whitelist the interpreter was built with.
func (in *Interpreter) Capabilities() Capabilities {
	return in.caps
}

// Run parses and executes source from a fresh environment.
func (in *Interpreter) Run(source string) (res *Result) {
	defer in.recoverPanic(source, &res)

	prog, err := Parse(source, in.caps)
	if err != nil {
		return in.failure(source, nil, err)
	}
	logger.Debug(logger.AreaInterpreter, "running %d statements", len(prog.Statements))
	m := in.newMachine(source, prog, NewEnvironment(), nil, 0)
	return m.run(0)
}

// Resume continues a suspended run with the text the user typed. The error is
// non-nil only when s does not describe a run waiting for input.
func (in *Interpreter) Resume(s *Suspension, input string) (res *Result, err error) {
	if s == nil {
		return nil, ErrNotWaiting
	}
	defer in.recoverPanic(s.Source, &res)

	prog, err := Parse(s.Source, in.caps)
	if err != nil {
		return nil, fmt.Errorf("%w: suspended program no longer parses: %v", ErrNotWaiting, err)
	}
	if s.Cursor < 1 || s.Cursor > len(prog.Statements) {
		return nil, ErrNotWaiting
	}
	pending, ok := prog.Statements[s.Cursor-1].(*InputStmt)
	if !ok {
		return nil, ErrNotWaiting
	}

	m := in.newMachine(s.Source, prog, restoreEnvironment(s.Env), s.Output, s.Steps)
	value := StringValue(strings.TrimRight(input, "\r\n"))
	switch s.Convert {
	case "int":
		value, err = ToInt(value)
	case "float":
		value, err = ToFloat(value)
	}
	if err != nil {
		return m.fail(err, pending), nil
	}
	if s.Var != "" {
		m.env.Set(s.Var, value)
	}
	return m.run(s.Cursor), nil
}

func (in *Interpreter) recoverPanic(source string, res **Result) {
	if r := recover(); r != nil {
		logger.Error(logger.AreaInterpreter, "recovered from panic: %v", r)
		*res = in.failure(source, nil, newRunError(KindParseFailure, "internal error: %v", r))
	}
}

// failure converts an error into a failed result with a classified message.
func (in *Interpreter) failure(source string, output []string, err error) *Result {
	re := asRunError(err)
	snippet := re.Snippet
	if snippet == "" && re.Kind != KindEmptyProgram {
		snippet = source
	}
	friendly := kiderrors.Classify(snippet, CategoryOf(re))
	logger.Debug(logger.AreaInterpreter, "run failed: %v", re)
	return &Result{Status: StatusFailed, Output: output, Failure: re, Error: &friendly}
}

// CategoryOf maps a failure to the classifier hint.
func CategoryOf(re *RunError) kiderrors.Category {
	switch re.Kind {
	case KindParseFailure:
		if re.Indentation {
			return kiderrors.CategoryIndentation
		}
		return kiderrors.GuessCategory(re.Snippet)
	case KindUnknownVariable:
		return kiderrors.CategoryName
	case KindTypeMismatch:
		return kiderrors.CategoryType
	case KindConversionFailure:
		return kiderrors.CategoryValue
	case KindEmptyProgram:
		return kiderrors.CategoryEmpty
	case KindIndexOutOfRange:
		return kiderrors.CategoryIndex
	case KindZeroDivision:
		return kiderrors.CategoryZeroDivision
	case KindStepLimit:
		return kiderrors.CategoryLoopLimit
	}
	return kiderrors.CategorySyntax
}

// machine is the mutable state of one run.
type machine struct {
	in     *Interpreter
	source string
	prog   *Program
	env    *Environment
	out    *OutputBuffer
	eval   *evaluator
	steps  int
}

func (in *Interpreter) newMachine(source string, prog *Program, env *Environment, output []string, steps int) *machine {
	return &machine{
		in:     in,
		source: source,
		prog:   prog,
		env:    env,
		out:    newOutputBuffer(output, in.limits.MaxOutputLines),
		eval:   &evaluator{env: env, caps: in.caps, limits: in.limits},
		steps:  steps,
	}
}

func (m *machine) fail(err error, stmt Statement) *Result {
	re := asRunError(err).atLine(stmt.Line(), stmt.Source())
	return m.in.failure(m.source, m.out.Lines(), re)
}

// run executes top-level statements from cursor until the end or an input().
func (m *machine) run(cursor int) *Result {
	stmts := m.prog.Statements
	for i := cursor; i < len(stmts); i++ {
		stmt := stmts[i]
		if input, ok := stmt.(*InputStmt); ok {
			if err := m.step(); err != nil {
				return m.fail(err, stmt)
			}
			prompt := ""
			if input.Prompt != nil {
				v, err := m.eval.Eval(input.Prompt)
				if err != nil {
					return m.fail(err, stmt)
				}
				prompt = v.String()
			}
			if prompt != "" {
				if err := m.out.Append(prompt); err != nil {
					return m.fail(err, stmt)
				}
			}
			return &Result{
				Status: StatusWaiting,
				Output: m.out.Lines(),
				Prompt: prompt,
				Suspension: &Suspension{
					Source:  m.source,
					Cursor:  i + 1,
					Env:     m.env.Snapshot(),
					Output:  m.out.Lines(),
					Var:     input.Var,
					Convert: input.Convert,
					Steps:   m.steps,
				},
			}
		}
		if err := m.exec(stmt); err != nil {
			return m.fail(err, stmt)
		}
	}
	return &Result{Status: StatusFinished, Output: m.out.Lines()}
}

func (m *machine) step() error {
	m.steps++
	if limit := m.in.limits.MaxSteps; limit > 0 && m.steps > limit {
		return newRunError(KindStepLimit, "more than %d steps", limit)
	}
	return nil
}

func (m *machine) execBlock(body []Statement) error {
	for _, stmt := range body {
		if err := m.exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// exec runs one statement. Errors carry the position of the innermost statement.
func (m *machine) exec(stmt Statement) error {
	if err := m.step(); err != nil {
		return asRunError(err).atLine(stmt.Line(), stmt.Source())
	}
	if err := m.execStatement(stmt); err != nil {
		return asRunError(err).atLine(stmt.Line(), stmt.Source())
	}
	return nil
}

func (m *machine) execStatement(stmt Statement) error {
	switch s := stmt.(type) {
	case *AssignStmt:
		v, err := m.eval.Eval(s.Value)
		if err != nil {
			return err
		}
		if s.Op != TOKEN_ASSIGN {
			cur, ok := m.env.Get(s.Name)
			if !ok {
				re := newRunError(KindUnknownVariable, "name '%s' is not defined", s.Name)
				re.Name = s.Name
				return re
			}
			if v, err = m.eval.binary(s.Op, cur, v); err != nil {
				return err
			}
		}
		m.env.Set(s.Name, v)
		return nil

	case *PrintStmt:
		parts := make([]string, len(s.Args))
		for i, arg := range s.Args {
			v, err := m.eval.Eval(arg)
			if err != nil {
				return err
			}
			parts[i] = v.String()
		}
		return m.out.Append(strings.Join(parts, " "))

	case *ForRangeStmt:
		return m.execForRange(s)

	case *ForEachStmt:
		iterable, err := m.eval.Eval(s.Iterable)
		if err != nil {
			return err
		}
		var items []Value
		switch iterable.Kind {
		case KindList:
			items = append(items, iterable.List...)
		case KindString:
			for _, r := range iterable.Str {
				items = append(items, StringValue(string(r)))
			}
		default:
			return newRunError(KindTypeMismatch, "'%s' object is not iterable", iterable.Kind)
		}
		for _, item := range items {
			m.env.Set(s.Var, item)
			if err := m.execBlock(s.Body); err != nil {
				return err
			}
		}
		return nil

	case *IfStmt:
		for _, branch := range s.Branches {
			cond, err := m.eval.Eval(branch.Cond)
			if err != nil {
				return err
			}
			if cond.Truthy() {
				return m.execBlock(branch.Body)
			}
		}
		return m.execBlock(s.Else)

	case *ExprStmt:
		_, err := m.eval.Eval(s.Expr)
		return err

	case *InputStmt:
		return newRunError(KindParseFailure, "input() cannot be used inside a block")
	}
	return newRunError(KindParseFailure, "unsupported statement %T", stmt)
}

func (m *machine) execForRange(s *ForRangeStmt) error {
	if len(s.Args) < 1 || len(s.Args) > 3 {
		return newRunError(KindTypeMismatch, "range expected 1 to 3 arguments, got %d", len(s.Args))
	}
	bounds := make([]int64, len(s.Args))
	for i, arg := range s.Args {
		v, err := m.eval.Eval(arg)
		if err != nil {
			return err
		}
		if v.Kind != KindInt {
			return newRunError(KindTypeMismatch, "'%s' object cannot be interpreted as an integer", v.Kind)
		}
		bounds[i] = v.Int
	}
	start, stop, step := int64(0), bounds[0], int64(1)
	if len(bounds) >= 2 {
		start, stop = bounds[0], bounds[1]
	}
	if len(bounds) == 3 {
		step = bounds[2]
	}
	if step == 0 {
		return newRunError(KindTypeMismatch, "range() arg 3 must not be zero")
	}
	for i := start; (step > 0 && i < stop) || (step < 0 && i > stop); i += step {
		m.env.Set(s.Var, IntValue(i))
		if err := m.execBlock(s.Body); err != nil {
			return err
		}
		if (step > 0 && i > math.MaxInt64-step) || (step < 0 && i < math.MinInt64-step) {
			break
		}
	}
	return nil
}
