// Package safego provides panic-recovering goroutine launchers for background work.
package safego

import (
	"context"
	"log/slog"
	"sync"
)

// Go launches fn in a new goroutine. A panic in fn is recovered and logged
// under name instead of crashing the process.
func Go(name string, fn func()) {
	go run(name, fn)
}

func run(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("recovered panic in background goroutine", "task", name, "panic", r)
		}
	}()
	fn()
}

// Group tracks fire-and-forget goroutines so shutdown can wait for them to drain.
// The zero value is ready to use.
type Group struct {
	wg sync.WaitGroup
}

// Go launches fn like the package-level Go and counts it until it returns.
func (g *Group) Go(name string, fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		run(name, fn)
	}()
}

// Wait blocks until every goroutine started through g has returned or ctx is done.
func (g *Group) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
