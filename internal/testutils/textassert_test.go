package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// recordingT captures Errorf calls so failing assertions can be inspected
type recordingT struct {
	errors []string
}

func (r *recordingT) Helper() {}
func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func TestTextAsserter_Defaults(t *testing.T) {
	opts := NewTextAsserter(t).GetOptions()

	assert.True(t, opts.StripANSI, "ANSI stripping MUST be on by default")
	assert.False(t, opts.TrimSpace)
	assert.False(t, opts.EnableColors)
}

func TestTextAsserter_Normalization(t *testing.T) {
	tests := []struct {
		name     string
		opts     []TextOption
		actual   string
		expected string
		equal    bool
	}{
		{"identical", nil, "a\nb", "a\nb", true},
		{"ansi stripped", nil, "\x1b[32m>>> CONNECTION ACTIVE <<<\x1b[0m", ">>> CONNECTION ACTIVE <<<", true},
		{"ansi kept", []TextOption{WithStripANSI(false)}, "\x1b[32mok\x1b[0m", "ok", false},
		{"trim", []TextOption{WithTrimSpace(true)}, "\n  ok \n", "ok", true},
		{"trailing whitespace", []TextOption{WithIgnoreTrailingWhitespace(true)}, "ok \r\nnext", "ok\nnext", true},
		{"empty lines", []TextOption{WithIgnoreEmptyLines(true)}, "a\n\n\nb", "a\nb", true},
		{"different", nil, "a", "b", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := &recordingT{}
			ok := NewTextAsserter(rt).WithOptions(tt.opts...).Assert(tt.actual, tt.expected)

			assert.Equal(t, tt.equal, ok)
			assert.Equal(t, !tt.equal, len(rt.errors) == 1)
		})
	}
}

func TestTextAsserter_Diff(t *testing.T) {
	diff := NewTextAsserter(t).Diff("line1\nchanged\n", "line1\nline2\n")

	assert.Contains(t, diff, "--- expected")
	assert.Contains(t, diff, "+++ actual")
	assert.Contains(t, diff, "-line2")
	assert.Contains(t, diff, "+changed")
}

func TestTextAsserter_ColoredDiff(t *testing.T) {
	diff := NewTextAsserter(t).WithOptions(WithEnableColors(true)).Diff("a b", "a\tb")

	assert.Contains(t, diff, "\x1b[", "colored diff MUST contain escape codes")
	assert.Contains(t, StripANSI(diff), "+a·b")
	assert.Contains(t, StripANSI(diff), "-a→b")
}
