// Package flipble holds the Lua scripts shipped with the flipble binary.
package flipble

import (
	"embed"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed examples/*.lua
var scripts embed.FS

// ScriptPrefix marks a script name as built in, e.g. "@info"
const ScriptPrefix = "@"

// BuiltinScript returns the embedded script called name ("info" or "@info")
func BuiltinScript(name string) (string, bool) {
	name = strings.TrimSuffix(strings.TrimPrefix(name, ScriptPrefix), ".lua")
	data, err := scripts.ReadFile(path.Join("examples", name+".lua"))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// BuiltinScripts lists the embedded script names, sorted
func BuiltinScripts() []string {
	entries, _ := fs.ReadDir(scripts, "examples")
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".lua"))
	}
	sort.Strings(names)
	return names
}
