// Command pyquest-repl runs lesson programs in a terminal. It is meant for
// lesson authors: snippets run with every capability unless a lesson is
// selected, input() prompts are answered at the keyboard, and failures are
// shown the way kids see them.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/peterh/liner"

	"github.com/codekids/pyquest/pkg/configuration"
	"github.com/codekids/pyquest/pkg/lessons"
	"github.com/codekids/pyquest/pkg/minipy"
)

const (
	historyFile = ".pyquest_history"
	promptMain  = ">>> "
	promptCont  = "... "
)

const helpText = `Commands:
  :lessons      list the lessons
  :lesson <id>  restrict snippets to what a lesson allows
  :all          allow everything again
  :starter      run the starter program of the selected lesson
  :quit         exit
A line ending in ':' starts a block; finish it with an empty line.`

func red(s string) string   { return "\x1b[31m" + s + "\x1b[0m" }
func green(s string) string { return "\x1b[32m" + s + "\x1b[0m" }

// asker answers an input() prompt. ok is false when the user gave up.
type asker func(prompt string) (answer string, ok bool)

// repl is the state between snippets.
type repl struct {
	catalog *lessons.Catalog
	lesson  *lessons.Lesson
	interp  *minipy.Interpreter
	out     io.Writer
}

func newREPL(catalog *lessons.Catalog, out io.Writer) *repl {
	return &repl{
		catalog: catalog,
		interp:  minipy.NewInterpreter(minipy.AllCapabilities(), minipy.LimitsFromConfig()),
		out:     out,
	}
}

// execute runs code to completion, asking for every input() answer.
func (r *repl) execute(code string, ask asker) *minipy.Result {
	res := r.interp.Run(code)
	printed := 0
	for res.Status == minipy.StatusWaiting {
		end := len(res.Output)
		if res.Prompt != "" {
			end--
		}
		r.printLines(res.Output[printed:end])
		printed = len(res.Output)

		answer, ok := ask(res.Prompt)
		if !ok {
			fmt.Fprintln(r.out, red("(program stopped)"))
			return res
		}
		next, err := r.interp.Resume(res.Suspension, answer)
		if err != nil {
			fmt.Fprintln(r.out, red(err.Error()))
			return res
		}
		res = next
	}
	r.printLines(res.Output[printed:])

	switch res.Status {
	case minipy.StatusFailed:
		if res.Error != nil {
			fmt.Fprintln(r.out, red(fmt.Sprintf("%s %s", res.Error.Emoji, res.Error.Title)))
			fmt.Fprintln(r.out, res.Error.Explanation)
			fmt.Fprintln(r.out, "Tip: "+res.Error.Tip)
		}
		if res.Failure != nil {
			fmt.Fprintf(r.out, "(%v)\n", res.Failure)
		}
	case minipy.StatusFinished:
		if r.lesson != nil && len(r.lesson.Expected) > 0 {
			check := lessons.Check(r.lesson, res)
			if check.Passed {
				fmt.Fprintln(r.out, green("matches the lesson's expected output"))
			} else {
				fmt.Fprintf(r.out, "%s line %d: expected %q, got %q\n", red("differs:"), check.Line, check.Expected, check.Got)
			}
		}
	}
	return res
}

func (r *repl) printLines(lines []string) {
	for _, line := range lines {
		fmt.Fprintln(r.out, line)
	}
}

// command handles a ':' line and reports whether the REPL should go on.
func (r *repl) command(line string, ask asker) bool {
	name, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(name) {
	case ":quit", ":q":
		return false
	case ":help":
		fmt.Fprintln(r.out, helpText)
	case ":lessons":
		for _, s := range r.catalog.Summaries() {
			fmt.Fprintf(r.out, "%-14s %s\n", s.ID, s.Title)
		}
	case ":lesson":
		lesson, err := r.catalog.Get(arg)
		if err != nil {
			fmt.Fprintln(r.out, red(err.Error()))
			break
		}
		r.lesson = lesson
		r.interp = lesson.Interpreter()
		fmt.Fprintf(r.out, "now using the rules of %q: %s\n", lesson.ID, lesson.Concept)
	case ":all":
		r.lesson = nil
		r.interp = minipy.NewInterpreter(minipy.AllCapabilities(), minipy.LimitsFromConfig())
		fmt.Fprintln(r.out, "all statements and builtins allowed")
	case ":starter":
		if r.lesson == nil {
			fmt.Fprintln(r.out, red("select a lesson first with :lesson <id>"))
			break
		}
		fmt.Fprint(r.out, r.lesson.Starter)
		r.execute(r.lesson.Starter, ask)
	default:
		fmt.Fprintln(r.out, "unknown command, type :help")
	}
	return true
}

// opensBlock reports whether a line is a block header that needs more lines.
func opensBlock(line string) bool {
	return strings.HasSuffix(strings.TrimSpace(line), ":") && !strings.HasPrefix(strings.TrimSpace(line), ":")
}

// readSnippet reads one line, or a block up to the first empty line.
func readSnippet(ln *liner.State) (string, error) {
	first, err := ln.Prompt(promptMain)
	if err != nil {
		return "", err
	}
	if !opensBlock(first) {
		return first, nil
	}
	var b strings.Builder
	b.WriteString(first)
	for {
		line, err := ln.Prompt(promptCont)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(line) == "" {
			return b.String(), nil
		}
		b.WriteByte('\n')
		b.WriteString(line)
	}
}

func main() {
	configPath := flag.String("config", "", "optional settings file for interpreter limits and the lesson catalog")
	lessonID := flag.String("lesson", "", "start with the rules of this lesson")
	flag.Parse()
	os.Exit(run(*configPath, *lessonID, flag.Args()))
}

func run(configPath, lessonID string, files []string) int {
	if configPath != "" {
		if err := configuration.Initialize(configPath); err != nil {
			fmt.Fprintln(os.Stderr, red(err.Error()))
			return 1
		}
	}
	catalog, err := lessons.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		return 1
	}

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	r := newREPL(catalog, os.Stdout)
	ask := func(prompt string) (string, bool) {
		answer, err := ln.Prompt(prompt)
		return answer, err == nil
	}
	if lessonID != "" {
		r.command(":lesson "+lessonID, ask)
	}

	if len(files) > 0 {
		status := 0
		for _, path := range files {
			data, err := os.ReadFile(path)
			if err != nil {
				fmt.Fprintln(os.Stderr, red(err.Error()))
				return 1
			}
			if res := r.execute(string(data), ask); res.Status != minipy.StatusFinished {
				status = 1
			}
		}
		return status
	}

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)
	if f, err := os.Open(histPath); err == nil {
		ln.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			ln.WriteHistory(f)
			f.Close()
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigc)
	go func() {
		<-sigc
		ln.Close()
		os.Exit(130)
	}()

	fmt.Println("PyQuest REPL. Type :help for commands, Ctrl+D to exit.")
	for {
		code, err := readSnippet(ln)
		if errors.Is(err, liner.ErrPromptAborted) {
			fmt.Println("^C")
			continue
		}
		if err != nil {
			fmt.Println()
			return 0
		}
		if strings.TrimSpace(code) == "" {
			continue
		}
		ln.AppendHistory(strings.ReplaceAll(code, "\n", " "))
		if strings.HasPrefix(strings.TrimSpace(code), ":") {
			if !r.command(code, ask) {
				return 0
			}
			continue
		}
		r.execute(code, ask)
	}
}
