// Package lua runs Lua scripts against a Flipper console.
//
// Scripts get a global "flipper" table (send, on_data, expect, connected)
// and a global sleep(ms). The Lua state is single threaded: inbound chunks
// are queued and handed to script callbacks only while the script waits in
// sleep or expect, or while the runner lingers after the script returns.
package lua

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"
	"github.com/srg/flipble/internal/ringchan"
)

const (
	SourceStdout = "stdout"
	SourceStderr = "stderr"

	defaultOutputCapacity = 256
)

// OutputRecord is one piece of script output
type OutputRecord struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// Error describes a failed script load or run
type Error struct {
	Type    string // "syntax", "runtime", "api"
	Message string
	Line    int
	Source  string
	Err     error
}

func (e *Error) Error() string {
	var where []string
	if e.Source != "" {
		where = append(where, "in "+e.Source)
	}
	if e.Line > 0 {
		where = append(where, fmt.Sprintf("line %d", e.Line))
	}
	if len(where) == 0 {
		return fmt.Sprintf("lua %s error: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("lua %s error (%s): %s", e.Type, strings.Join(where, ", "), e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Type
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Type == e.Type
	}
	return false
}

var (
	ErrSyntax  = &Error{Type: "syntax"}
	ErrRuntime = &Error{Type: "runtime"}
	ErrAPI     = &Error{Type: "api"}
)

// Engine owns one Lua state and captures everything the script prints
type Engine struct {
	mu     sync.Mutex
	state  *lua.State
	logger *logrus.Logger
	output *ringchan.RingChannel[OutputRecord]
	closed atomic.Bool
}

// discardLogger stands in for a nil logger
func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// NewEngine creates an engine with the standard libraries and print capture installed
func NewEngine(logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = discardLogger()
	}
	e := &Engine{
		logger: logger,
		output: ringchan.New[OutputRecord](defaultOutputCapacity),
		state:  lua.NewState(),
	}
	e.state.OpenLibs()
	e.installPrint()
	return e
}

// Output returns the channel carrying captured output
func (e *Engine) Output() <-chan OutputRecord {
	return e.output.C()
}

// Emit queues an output record as if the script had produced it
func (e *Engine) Emit(source, content string) {
	if e.closed.Load() {
		return
	}
	if e.output.Send(OutputRecord{Content: content, Timestamp: time.Now(), Source: source}) {
		e.logger.Debug("Lua output overflow, oldest record dropped")
	}
}

// With runs fn with exclusive access to the Lua state.
// It returns false when the engine is already closed.
func (e *Engine) With(fn func(L *lua.State)) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return false
	}
	fn(e.state)
	return true
}

// Register installs a global Go function, recovering panics into Lua errors
func (e *Engine) Register(name string, fn lua.LuaGoFunction) {
	e.With(func(L *lua.State) {
		L.PushGoFunction(e.wrap(name, fn))
		L.SetGlobal(name)
	})
}

// pushFunc adds name = fn to the table on top of the stack
func (e *Engine) pushFunc(L *lua.State, name string, fn lua.LuaGoFunction) {
	L.PushString(name)
	L.PushGoFunction(e.wrap(name, fn))
	L.SetTable(-3)
}

func (e *Engine) wrap(name string, fn lua.LuaGoFunction) lua.LuaGoFunction {
	return func(L *lua.State) (n int) {
		defer func() {
			if r := recover(); r != nil {
				if _, ok := r.(*lua.LuaError); ok {
					panic(r)
				}
				e.logger.WithFields(logrus.Fields{"function": name, "panic": r}).Error("Lua API function panicked")
				L.RaiseError(fmt.Sprintf("%s(): internal error: %v", name, r))
			}
		}()
		return fn(L)
	}
}

// SetArgs publishes args to the script as the global table "arg"
func (e *Engine) SetArgs(args map[string]string) {
	e.With(func(L *lua.State) {
		L.NewTable()
		for k, v := range args {
			L.PushString(v)
			L.SetField(-2, k)
		}
		L.SetGlobal("arg")
	})
}

// SetGlobal sets a scalar global
func (e *Engine) SetGlobal(name string, value any) error {
	var err error
	e.With(func(L *lua.State) {
		switch v := value.(type) {
		case string:
			L.PushString(v)
		case int:
			L.PushInteger(int64(v))
		case int64:
			L.PushInteger(v)
		case float64:
			L.PushNumber(v)
		case bool:
			L.PushBoolean(v)
		case nil:
			L.PushNil()
		default:
			err = fmt.Errorf("unsupported type %T for global %s", value, name)
			return
		}
		L.SetGlobal(name)
	})
	return err
}

// GetGlobal reads a scalar global, returning nil for other types
func (e *Engine) GetGlobal(name string) any {
	var out any
	e.With(func(L *lua.State) {
		L.GetGlobal(name)
		defer L.Pop(1)
		switch {
		case L.IsBoolean(-1):
			out = L.ToBoolean(-1)
		case L.IsNumber(-1):
			out = L.ToNumber(-1)
		case L.IsString(-1):
			out = L.ToString(-1)
		}
	})
	return out
}

// Check compiles script without running it
func (e *Engine) Check(script, name string) error {
	if strings.TrimSpace(script) == "" {
		return &Error{Type: "api", Message: "empty script", Source: name}
	}
	var err error
	ok := e.With(func(L *lua.State) {
		if status := L.LoadString(script); status != 0 {
			err = parseError("syntax", name, L.ToString(-1), nil)
		}
		L.Pop(1)
	})
	if !ok {
		return &Error{Type: "api", Message: "engine closed", Source: name}
	}
	return err
}

// Run compiles and executes script, holding the state until it returns.
// Failures are also reported on the output channel as stderr records.
func (e *Engine) Run(script, name string) error {
	if err := e.Check(script, name); err != nil {
		e.Emit(SourceStderr, err.Error()+"\n")
		return err
	}

	var runErr error
	e.With(func(L *lua.State) {
		defer L.SetTop(0)
		start := time.Now()
		if err := L.DoString(script); err != nil {
			runErr = parseError("runtime", name, err.Error(), err)
		}
		e.logger.WithFields(logrus.Fields{
			"script":   name,
			"duration": time.Since(start),
		}).Debug("Lua script finished")
	})
	if runErr != nil {
		e.Emit(SourceStderr, runErr.Error()+"\n")
	}
	return runErr
}

// RunFile loads and runs a script from disk
func (e *Engine) RunFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return e.Run(string(content), path)
}

// Close releases the Lua state and closes the output channel
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Swap(true) {
		return
	}
	if e.state != nil {
		e.state.Close()
		e.state = nil
	}
	e.output.Close()
}

func (e *Engine) installPrint() {
	e.state.PushGoFunction(func(L *lua.State) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			parts = append(parts, toDisplay(L, i))
		}
		e.Emit(SourceStdout, strings.Join(parts, "\t")+"\n")
		return 0
	})
	e.state.SetGlobal("print")
}

func toDisplay(L *lua.State, i int) string {
	switch {
	case L.IsNil(i):
		return "nil"
	case L.IsBoolean(i):
		if L.ToBoolean(i) {
			return "true"
		}
		return "false"
	case L.IsString(i) || L.IsNumber(i):
		return L.ToString(i)
	}
	L.GetGlobal("tostring")
	L.PushValue(i)
	if err := L.Call(1, 1); err != nil {
		return "?"
	}
	s := L.ToString(-1)
	L.Pop(1)
	return s
}

// parseError splits `[string "..."]:12: message` into line and message
func parseError(kind, source, raw string, cause error) *Error {
	msg := strings.TrimSpace(raw)
	if msg == "" {
		msg = "unknown Lua error"
	}
	// first line only, the rest is the traceback
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}

	line := 0
	if i := strings.Index(msg, "]:"); i >= 0 {
		rest := msg[i+2:]
		if j := strings.Index(rest, ":"); j > 0 {
			if _, err := fmt.Sscanf(rest[:j], "%d", &line); err == nil {
				msg = strings.TrimSpace(rest[j+1:])
			} else {
				line = 0
			}
		}
	}
	return &Error{Type: kind, Message: msg, Line: line, Source: source, Err: cause}
}
