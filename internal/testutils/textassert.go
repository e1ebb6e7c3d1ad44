package testutils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
)

// TestingT is the part of testing.T the asserters need
type TestingT interface {
	Helper()
	Errorf(format string, args ...interface{})
}

type TextAssertOptions struct {
	TrimSpace                bool `default:"false"`
	IgnoreTrailingWhitespace bool `default:"false"`
	IgnoreEmptyLines         bool `default:"false"`
	StripANSI                bool `default:"true"`
	EnableColors             bool `default:"false"`
}

// TextOption configures a TextAsserter
type TextOption func(*TextAssertOptions)

// TextAsserter compares multi-line terminal output and reports a unified diff
type TextAsserter struct {
	t       TestingT
	options TextAssertOptions
}

func NewTextAsserter(t TestingT) *TextAsserter {
	opts := TextAssertOptions{}
	defaults.SetDefaults(&opts)
	return &TextAsserter{t: t, options: opts}
}

func (ta *TextAsserter) WithOptions(opts ...TextOption) *TextAsserter {
	for _, opt := range opts {
		opt(&ta.options)
	}
	return ta
}

func (ta *TextAsserter) GetOptions() TextAssertOptions {
	return ta.options
}

// Assert reports a failure when actual differs from expected after normalization
func (ta *TextAsserter) Assert(actual, expected string) bool {
	ta.t.Helper()
	if diff := ta.Diff(actual, expected); diff != "" {
		ta.t.Errorf("Text assertion failed - unified diff:\n%s", diff)
		return false
	}
	return true
}

// Diff returns the unified diff between expected and actual, "" when equal
func (ta *TextAsserter) Diff(actual, expected string) string {
	a, e := ta.normalize(actual), ta.normalize(expected)
	if a == e {
		return ""
	}
	edits := myers.ComputeEdits("", e, a)
	unified := fmt.Sprint(gotextdiff.ToUnified("expected", "actual", e, edits))
	if !ta.options.EnableColors {
		return unified
	}
	return colorize(unified)
}

var ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// StripANSI removes SGR escape sequences
func StripANSI(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}

func (ta *TextAsserter) normalize(text string) string {
	if ta.options.StripANSI {
		text = StripANSI(text)
	}
	if ta.options.TrimSpace {
		text = strings.TrimSpace(text)
	}

	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		if ta.options.IgnoreTrailingWhitespace {
			line = strings.TrimRight(line, " \t\r")
		}
		if ta.options.IgnoreEmptyLines && strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func colorize(diff string) string {
	red := color.New(color.FgRed)
	red.EnableColor()
	green := color.New(color.FgGreen)
	green.EnableColor()
	cyan := color.New(color.FgCyan)
	cyan.EnableColor()

	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "@@"):
			lines[i] = cyan.Sprint(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = red.Sprint(visibleWhitespace(line))
		case strings.HasPrefix(line, "+"):
			lines[i] = green.Sprint(visibleWhitespace(line))
		}
	}
	return strings.Join(lines, "\n")
}

// visibleWhitespace shows spaces as · tabs as → and CR as ␍
func visibleWhitespace(line string) string {
	return strings.NewReplacer(" ", "·", "\t", "→", "\r", "␍").Replace(line)
}

func WithTrimSpace(trim bool) TextOption {
	return func(o *TextAssertOptions) { o.TrimSpace = trim }
}

func WithIgnoreTrailingWhitespace(ignore bool) TextOption {
	return func(o *TextAssertOptions) { o.IgnoreTrailingWhitespace = ignore }
}

func WithIgnoreEmptyLines(ignore bool) TextOption {
	return func(o *TextAssertOptions) { o.IgnoreEmptyLines = ignore }
}

func WithStripANSI(strip bool) TextOption {
	return func(o *TextAssertOptions) { o.StripANSI = strip }
}

func WithEnableColors(enable bool) TextOption {
	return func(o *TextAssertOptions) { o.EnableColors = enable }
}
