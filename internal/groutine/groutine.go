// Package groutine starts named goroutines. The name is attached as a pprof
// label and carried in the context.
package groutine

import (
	"context"
	"fmt"
	"runtime/debug"
	"runtime/pprof"

	"github.com/sirupsen/logrus"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts fn on a new goroutine labelled with name.
// If parentCtx is nil, context.Background() is used.
//
//	groutine.Go(ctx, "send-queue", func(ctx context.Context) {
//	    // work
//	})
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		ctx = context.WithValue(ctx, goroutineNameKey, name)
		fn(ctx)
	})
}

// GoSafe is Go with panic recovery. A panic is logged with its stack and
// reported to onPanic when it is not nil.
func GoSafe(parentCtx context.Context, name string, logger *logrus.Logger, fn func(ctx context.Context), onPanic func(err error)) {
	Go(parentCtx, name, func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("goroutine %s panicked: %v", name, r)
				if logger != nil {
					logger.WithFields(logrus.Fields{
						"goroutine": name,
						"stack":     string(debug.Stack()),
					}).Error(err)
				}
				if onPanic != nil {
					onPanic(err)
				}
			}
		}()
		fn(ctx)
	})
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(goroutineNameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
