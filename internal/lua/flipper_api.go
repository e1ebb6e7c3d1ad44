package lua

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"
	"github.com/srg/flipble/internal/ringchan"
	"github.com/srg/flipble/pkg/flipper"
)

const inboxCapacity = 256

// Console is the Flipper connection a script drives
type Console interface {
	Send(ctx context.Context, text string) error
	OnData(fn func(chunk string)) (cancel func())
	State() flipper.State
}

// FlipperAPI binds a Console to an Engine as the "flipper" table and sleep()
type FlipperAPI struct {
	engine  *Engine
	console Console
	ctx     context.Context
	logger  *logrus.Logger

	inbox       *ringchan.RingChannel[string]
	unsubscribe func()
	dataRef     int // registry ref of the on_data callback, lua.LUA_NOREF if unset
	closeOnce   sync.Once
}

// NewFlipperAPI registers the script API. Inbound chunks are buffered from now on;
// when the script falls behind the oldest chunks are dropped.
func NewFlipperAPI(ctx context.Context, engine *Engine, console Console, logger *logrus.Logger) *FlipperAPI {
	if logger == nil {
		logger = discardLogger()
	}
	api := &FlipperAPI{
		engine:  engine,
		console: console,
		ctx:     ctx,
		logger:  logger,
		inbox:   ringchan.New[string](inboxCapacity),
		dataRef: lua.LUA_NOREF,
	}
	api.unsubscribe = console.OnData(func(chunk string) {
		if api.inbox.Send(chunk) {
			logger.Warn("Script inbox full, oldest chunk dropped")
		}
	})

	engine.With(func(L *lua.State) {
		L.NewTable()
		engine.pushFunc(L, "send", api.send)
		engine.pushFunc(L, "on_data", api.onData)
		engine.pushFunc(L, "expect", api.expect)
		engine.pushFunc(L, "connected", api.connected)
		L.SetGlobal("flipper")
	})
	engine.Register("sleep", api.sleep)
	return api
}

// flipper.send(line) -> true | nil, err
func (api *FlipperAPI) send(L *lua.State) int {
	if !L.IsString(1) {
		L.RaiseError("send() expects a string argument")
		return 0
	}
	line := L.ToString(1)
	if err := api.console.Send(api.ctx, line); err != nil {
		L.PushNil()
		L.PushString(err.Error())
		return 2
	}
	L.PushBoolean(true)
	return 1
}

// flipper.on_data(fn) registers the chunk callback, on_data(nil) removes it
func (api *FlipperAPI) onData(L *lua.State) int {
	if !L.IsNil(1) && !L.IsFunction(1) {
		L.RaiseError("on_data() expects a function or nil")
		return 0
	}
	if api.dataRef != lua.LUA_NOREF {
		L.Unref(lua.LUA_REGISTRYINDEX, api.dataRef)
		api.dataRef = lua.LUA_NOREF
	}
	if L.IsFunction(1) {
		L.PushValue(1)
		api.dataRef = L.Ref(lua.LUA_REGISTRYINDEX)
	}
	return 0
}

// flipper.connected() -> bool
func (api *FlipperAPI) connected(L *lua.State) int {
	L.PushBoolean(api.console.State() == flipper.StateConnected)
	return 1
}

// sleep(ms) waits while delivering inbound chunks to on_data
func (api *FlipperAPI) sleep(L *lua.State) int {
	ms := 0
	if L.IsNumber(1) {
		ms = L.ToInteger(1)
	}
	if err := api.pump(L, time.Duration(ms)*time.Millisecond, nil); err != nil {
		L.RaiseError("sleep() interrupted: " + err.Error())
	}
	return 0
}

// flipper.expect(text, timeout_ms) -> received | nil, "timeout"
// collects inbound text until it contains text. Chunks still reach on_data.
func (api *FlipperAPI) expect(L *lua.State) int {
	if !L.IsString(1) {
		L.RaiseError("expect() expects a string argument")
		return 0
	}
	want := L.ToString(1)
	timeout := 1000
	if L.IsNumber(2) {
		timeout = L.ToInteger(2)
	}

	var received strings.Builder
	matched := false
	err := api.pump(L, time.Duration(timeout)*time.Millisecond, func(chunk string) bool {
		received.WriteString(chunk)
		matched = strings.Contains(received.String(), want)
		return matched
	})
	if err != nil {
		L.RaiseError("expect() interrupted: " + err.Error())
		return 0
	}
	if !matched {
		L.PushNil()
		L.PushString("timeout")
		return 2
	}
	L.PushString(received.String())
	return 1
}

// pump delivers queued chunks until d elapses, stop returns true or the context ends.
// It must run on the goroutine that owns L.
func (api *FlipperAPI) pump(L *lua.State, d time.Duration, stop func(chunk string) bool) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case chunk := <-api.inbox.C():
			api.deliver(L, chunk)
			if stop != nil && stop(chunk) {
				return nil
			}
		case <-timer.C:
			return nil
		case <-api.ctx.Done():
			return api.ctx.Err()
		}
	}
}

func (api *FlipperAPI) deliver(L *lua.State, chunk string) {
	if api.dataRef == lua.LUA_NOREF {
		return
	}
	top := L.GetTop()
	defer L.SetTop(top)

	L.RawGeti(lua.LUA_REGISTRYINDEX, api.dataRef)
	L.PushString(chunk)
	if err := L.Call(1, 0); err != nil {
		api.logger.WithError(err).Debug("on_data callback failed")
		api.engine.Emit(SourceStderr, "on_data callback error: "+err.Error()+"\n")
	}
}

// Drain delivers chunks to the script callback for d after the script returned
func (api *FlipperAPI) Drain(d time.Duration) {
	if d <= 0 {
		return
	}
	api.engine.With(func(L *lua.State) {
		if err := api.pump(L, d, nil); err != nil {
			api.logger.WithError(err).Debug("Drain stopped early")
		}
	})
}

// Close detaches from the console and releases the callback
func (api *FlipperAPI) Close() {
	api.closeOnce.Do(func() {
		api.unsubscribe()
		api.engine.With(func(L *lua.State) {
			if api.dataRef != lua.LUA_NOREF {
				L.Unref(lua.LUA_REGISTRYINDEX, api.dataRef)
				api.dataRef = lua.LUA_NOREF
			}
		})
	})
}
