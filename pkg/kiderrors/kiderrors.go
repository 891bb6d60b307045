// Package kiderrors turns interpreter failures into short, friendly explanations for children.
package kiderrors

import (
	"fmt"
	"regexp"
	"strings"
)

// Category is the coarse error class a failure belongs to. The values match
// the Python exception names children will meet later.
type Category string

const (
	CategorySyntax       Category = "SyntaxError"
	CategoryName         Category = "NameError"
	CategoryType         Category = "TypeError"
	CategoryValue        Category = "ValueError"
	CategoryIndex        Category = "IndexError"
	CategoryZeroDivision Category = "ZeroDivisionError"
	CategoryIndentation  Category = "IndentationError"
	CategoryEmpty        Category = "EmptyProgram"
	CategoryLoopLimit    Category = "LoopLimit"
)

// KidFriendlyError is the structured message shown in place of a raw error.
// Emoji is a short symbolic key the front end maps to a picture.
type KidFriendlyError struct {
	Title       string `json:"title"`
	Explanation string `json:"explanation"`
	Tip         string `json:"tip"`
	Emoji       string `json:"emoji"`
}

var (
	bareWordPrintPattern = regexp.MustCompile(`print\(\s*[A-Za-z_][A-Za-z0-9_ ]*\)`)
	printCallPattern     = regexp.MustCompile(`print\(.*\)`)
	headerPattern        = regexp.MustCompile(`^(if|for|while|def|elif|else)\b`)
	misspellings         = []string{"pirnt", "prnt", "pritn", "prit"}
	curlyQuotes          = "“”‘’"
)

// Classify picks the single most specific explanation for source. The first
// matching rule wins. It has no side effects.
func Classify(source string, hint Category) KidFriendlyError {
	source = strings.ReplaceAll(source, "\r\n", "\n")
	trimmed := strings.TrimSpace(source)
	lines := nonBlankLines(source)
	opens := strings.Count(source, "(")
	closes := strings.Count(source, ")")
	// text-shape rules only make sense when the code never ran
	syntactic := hint == CategorySyntax || hint == CategoryIndentation || hint == ""

	switch {
	case trimmed == "" || hint == CategoryEmpty:
		return KidFriendlyError{
			Title:       "Nothing to run yet",
			Explanation: "The code box is empty, so Python has nothing to do.",
			Tip:         `Type a line of code first, for example print("Hello!")`,
			Emoji:       "...",
		}
	case syntactic && apostropheBreaksString(lines):
		return KidFriendlyError{
			Title:       "An apostrophe ended your text too early",
			Explanation: "The ' in a word like don't looks exactly like the quote that closes your text, so Python thinks the text stops there.",
			Tip:         `Use double quotes around text that has an apostrophe: print("I don't like that")`,
			Emoji:       "'",
		}
	case syntactic && opens > closes:
		return KidFriendlyError{
			Title:       "A bracket is missing",
			Explanation: "Every ( needs a matching ) to close it.",
			Tip:         fmt.Sprintf("You have %d opening ( and %d closing ). Add the missing ) at the end.", opens, closes),
			Emoji:       "(",
		}
	case syntactic && closes > opens:
		return KidFriendlyError{
			Title:       "One bracket too many",
			Explanation: "There is a ) that was never opened.",
			Tip:         fmt.Sprintf("You have %d opening ( and %d closing ). Remove the extra ).", opens, closes),
			Emoji:       ")",
		}
	case hint == CategoryName && bareWordPrintPattern.MatchString(source):
		return KidFriendlyError{
			Title:       "Your message needs quotes",
			Explanation: "Without quotes Python thinks your words are the name of a variable.",
			Tip:         `Put quotes around your message: print("hello")`,
			Emoji:       `""`,
		}
	case strings.Contains(source, "Print(") && !strings.Contains(source, "print("):
		return KidFriendlyError{
			Title:       "Python cares about capital letters",
			Explanation: "Print and print are different words for Python. Only the small one works.",
			Tip:         "Write print with a small p.",
			Emoji:       "Aa",
		}
	case syntactic && missingColon(lines):
		return KidFriendlyError{
			Title:       "A colon is missing",
			Explanation: "Lines that start with if, for, while or else must end with a colon.",
			Tip:         "Add a : at the end of the line, like this: if age > 10:",
			Emoji:       ":",
		}
	case hint == CategoryIndentation || (syntactic && badIndentation(lines)):
		return KidFriendlyError{
			Title:       "The spaces at the start of a line are wrong",
			Explanation: "Python uses spaces at the start of a line to see which lines belong together.",
			Tip:         "Indent the line after a colon by 4 spaces and start every other line at the left edge.",
			Emoji:       ">>",
		}
	case syntactic && (strings.Count(source, `"`)%2 == 1 || strings.Count(source, "'")%2 == 1):
		return KidFriendlyError{
			Title:       "A quote is missing",
			Explanation: "Text must start and end with the same kind of quote.",
			Tip:         `Check that your text has a quote at both ends: "like this"`,
			Emoji:       `""`,
		}
	case (syntactic || hint == CategoryName) && containsAny(source, misspellings):
		return KidFriendlyError{
			Title:       "Check your spelling",
			Explanation: "Python only knows the word print spelled exactly p-r-i-n-t.",
			Tip:         "Change the word to print.",
			Emoji:       "abc",
		}
	case syntactic && strings.Contains(source, "print") && !strings.Contains(source, "("):
		return KidFriendlyError{
			Title:       "print needs brackets",
			Explanation: "print is a function, and functions need ( ) around what they work on.",
			Tip:         `Write print("hello") instead of print "hello".`,
			Emoji:       "(",
		}
	case syntactic && printCallPattern.MatchString(source) &&
		!strings.ContainsAny(source, `"'`+curlyQuotes):
		return KidFriendlyError{
			Title:       "Your text needs quotes",
			Explanation: "Words you want to show on the screen must be inside quotes.",
			Tip:         `Put quotes inside the brackets: print("hello")`,
			Emoji:       `""`,
		}
	case hint == CategoryType:
		return KidFriendlyError{
			Title:       "Text and numbers do not mix",
			Explanation: "Python cannot add a number to text, or compare text with a number.",
			Tip:         `Turn the number into text first with str(): "Age: " + str(age)`,
			Emoji:       "str",
		}
	case hint == CategoryValue:
		return KidFriendlyError{
			Title:       "That text is not a number",
			Explanation: "int() and float() only work on text made of digits, like \"42\".",
			Tip:         `Make sure the text only has digits in it: int("42")`,
			Emoji:       "123",
		}
	case hint == CategoryIndex:
		return KidFriendlyError{
			Title:       "That spot in the list is empty",
			Explanation: "Lists start counting at 0, so the last item is one less than the length.",
			Tip:         "A list with 3 items has the places 0, 1 and 2.",
			Emoji:       "[0]",
		}
	case hint == CategoryZeroDivision:
		return KidFriendlyError{
			Title:       "You cannot divide by zero",
			Explanation: "Nobody can share things into zero groups, not even Python.",
			Tip:         "Check the number after the / and make sure it is not 0.",
			Emoji:       "/0",
		}
	case strings.ContainsAny(source, curlyQuotes):
		return KidFriendlyError{
			Title:       "Those are fancy quotes",
			Explanation: "Curly quotes from a word processor look nice but Python only understands straight ones.",
			Tip:         `Type the quotes again with the " key on your keyboard.`,
			Emoji:       `""`,
		}
	case hint == CategoryLoopLimit:
		return KidFriendlyError{
			Title:       "Your program ran for too long",
			Explanation: "It did so many steps that we stopped it, so the computer does not get stuck.",
			Tip:         "Use a smaller number in range() or print fewer lines.",
			Emoji:       "loop",
		}
	case hint == CategoryName:
		return KidFriendlyError{
			Title:       "Python does not know that name",
			Explanation: "You used a name before giving it a value, or the spelling is different.",
			Tip:         "Check that you created the variable above this line and spelled it the same way.",
			Emoji:       "?",
		}
	}
	return KidFriendlyError{
		Title:       "Something is not quite right",
		Explanation: "Python could not understand this line.",
		Tip:         "Check three things: print is written in small letters, every ( has a ), and text has quotes at both ends.",
		Emoji:       "?",
	}
}

// GuessCategory derives a coarse hint from the text alone. It is used when the
// failure happened before anything could run.
func GuessCategory(source string) Category {
	source = strings.ReplaceAll(source, "\r\n", "\n")
	lines := nonBlankLines(source)
	switch {
	case len(lines) == 0:
		return CategoryEmpty
	case badIndentation(lines):
		return CategoryIndentation
	case bareWordPrintPattern.MatchString(source):
		return CategoryName
	}
	return CategorySyntax
}

func nonBlankLines(source string) []string {
	var lines []string
	for _, line := range strings.Split(source, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func isLetter(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

// apostropheBreaksString finds 'I don't' style literals: a single-quoted
// string whose closing quote is directly followed by more letters, or a
// double-quoted string that ends with ' and holds an apostrophe.
func apostropheBreaksString(lines []string) bool {
	for _, line := range lines {
		var quote byte
		for i := 0; i < len(line); i++ {
			ch := line[i]
			switch {
			case quote != 0 && ch == '\\':
				i++
			case quote != 0 && ch == quote:
				quote = 0
			case quote == 0 && ch == '\'':
				end := closingQuote(line, i+1, '\'')
				if end >= 0 && end+1 < len(line) && isLetter(line[end+1]) {
					return true
				}
				if end < 0 {
					i = len(line)
				} else {
					i = end
				}
			case quote == 0 && ch == '"':
				if closingQuote(line, i+1, '"') < 0 {
					rest := strings.TrimRight(line[i+1:], " )")
					if strings.HasSuffix(rest, "'") && strings.Count(rest, "'") >= 2 {
						return true
					}
				}
				quote = ch
			}
		}
	}
	return false
}

// closingQuote returns the index of the quote that closes a literal starting at from, or -1.
func closingQuote(line string, from int, quote byte) int {
	for i := from; i < len(line); i++ {
		switch line[i] {
		case '\\':
			i++
		case quote:
			return i
		}
	}
	return -1
}

func missingColon(lines []string) bool {
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if headerPattern.MatchString(trimmed) && !strings.HasSuffix(trimmed, ":") {
			return true
		}
	}
	return false
}

func leadingWhitespace(line string) string {
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}

func indentWidth(line string) int {
	col := 0
	for _, ch := range leadingWhitespace(line) {
		if ch == '\t' {
			col = (col/4 + 1) * 4
		} else {
			col++
		}
	}
	return col
}

// badIndentation reports mixed tabs and spaces, a block header followed by an
// unindented line, or an indented first line.
func badIndentation(lines []string) bool {
	if len(lines) == 0 {
		return false
	}
	if indentWidth(lines[0]) > 0 {
		return true
	}
	usesTabs, usesSpaces := false, false
	for _, line := range lines {
		ws := leadingWhitespace(line)
		usesTabs = usesTabs || strings.Contains(ws, "\t")
		usesSpaces = usesSpaces || strings.Contains(ws, " ")
	}
	if usesTabs && usesSpaces {
		return true
	}
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if headerPattern.MatchString(trimmed) && strings.HasSuffix(trimmed, ":") {
			if i+1 >= len(lines) || indentWidth(lines[i+1]) <= indentWidth(line) {
				return true
			}
		}
	}
	return false
}
