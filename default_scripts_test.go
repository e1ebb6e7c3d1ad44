package flipble

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuiltinScripts(t *testing.T) {
	assert.Equal(t, []string{"blink", "info"}, BuiltinScripts())

	for _, name := range []string{"info", "@info", "@info.lua"} {
		script, ok := BuiltinScript(name)
		assert.True(t, ok, "%s MUST resolve", name)
		assert.Contains(t, script, "flipper.send")
	}

	_, ok := BuiltinScript("@missing")
	assert.False(t, ok, "unknown scripts MUST not resolve")
}
