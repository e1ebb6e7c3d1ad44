package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineSplitter(t *testing.T) {
	tests := []struct {
		name    string
		chunks  []string
		want    []string
		pending string
	}{
		{"cr", []string{"LED\r"}, []string{"LED"}, ""},
		{"lf", []string{"LED\n"}, []string{"LED"}, ""},
		{"crlf is one terminator", []string{"LED\r\ninfo\r\n"}, []string{"LED", "info"}, ""},
		{"crlf split across chunks", []string{"LED\r", "\ninfo\r"}, []string{"LED", "info"}, ""},
		{"empty line", []string{"\r"}, []string{""}, ""},
		{"lf lf gives two lines", []string{"a\n\n"}, []string{"a", ""}, ""},
		{"partial kept", []string{"pa", "rt"}, nil, "part"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s LineSplitter
			var got []string
			for _, c := range tt.chunks {
				got = append(got, s.Feed([]byte(c))...)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.pending, s.Pending())
		})
	}
}
