package minipy

import "sort"

// Environment is the flat variable namespace of one run.
type Environment struct {
	vars map[string]Value
}

// NewEnvironment creates an empty environment.
func NewEnvironment() *Environment {
	return &Environment{vars: make(map[string]Value)}
}

// Get looks up a variable.
func (e *Environment) Get(name string) (Value, bool) {
	v, ok := e.vars[name]
	return v, ok
}

// Set binds a variable, replacing any previous value.
func (e *Environment) Set(name string, v Value) {
	e.vars[name] = v
}

// Names returns the bound names in sorted order.
func (e *Environment) Names() []string {
	names := make([]string, 0, len(e.vars))
	for name := range e.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns a deep copy of the bindings.
func (e *Environment) Snapshot() map[string]Value {
	snap := make(map[string]Value, len(e.vars))
	for name, v := range e.vars {
		snap[name] = v.Clone()
	}
	return snap
}

// restoreEnvironment rebuilds an environment from a snapshot.
func restoreEnvironment(snap map[string]Value) *Environment {
	env := NewEnvironment()
	for name, v := range snap {
		env.vars[name] = v.Clone()
	}
	return env
}

// OutputBuffer collects the lines a run prints.
type OutputBuffer struct {
	lines []string
	limit int
}

func newOutputBuffer(initial []string, limit int) *OutputBuffer {
	lines := make([]string, len(initial))
	copy(lines, initial)
	return &OutputBuffer{lines: lines, limit: limit}
}

// Append adds one line. It fails once the configured limit is reached.
func (o *OutputBuffer) Append(line string) error {
	if o.limit > 0 && len(o.lines) >= o.limit {
		return newRunError(KindStepLimit, "more than %d output lines", o.limit)
	}
	o.lines = append(o.lines, line)
	return nil
}

// Lines returns a copy of the collected lines.
func (o *OutputBuffer) Lines() []string {
	out := make([]string, len(o.lines))
	copy(out, o.lines)
	return out
}
