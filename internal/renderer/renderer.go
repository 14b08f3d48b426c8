// Package renderer draws the live state of a Workspace's running
// processes to the terminal, either as a full-screen tabbed TUI or as an
// incremental line-diffed inline log, and drives the shared render loop
// both variants plug into.
package renderer

import (
	"context"
	"time"

	"github.com/depot-build/depot/internal/workspace"
)

// tickInterval is how often RenderLoop redraws absent any other event.
const tickInterval = 33 * time.Millisecond

// Renderer is implemented by both the FullscreenRenderer and the
// InlineRenderer.
type Renderer interface {
	// Render draws the current state of ws.
	Render(ws *workspace.Workspace)
	// Complete is called exactly once, after the run loop has decided to
	// stop, to let the renderer tear down any terminal state and print a
	// final summary.
	Complete(ws *workspace.Workspace)
	// HandleInput blocks until there is terminal input to react to, or ctx
	// is done. It reports whether the input requests an early exit
	// (Ctrl-C).
	HandleInput(ctx context.Context) (shouldExitEarly bool, err error)
}

// Base is embedded by renderers that don't read terminal input (the
// InlineRenderer): its HandleInput simply parks until ctx is cancelled.
type Base struct{}

func (Base) HandleInput(ctx context.Context) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

type inputResult struct {
	exitEarly bool
	err       error
}

// RenderLoop drives r until ctx is cancelled: it selects, with exit taking
// priority, between ctx cancellation, a HandleInput result, and a 33ms
// render tick. An input result requesting early exit invokes requestExit,
// which is expected to eventually cancel ctx (the Runner owns ctx and
// reacts to the same exit request). On return it calls r.Complete(ws)
// exactly once.
//
// Go's select has no native "biased" mode (unlike the source's
// tokio::select!, where listing exit first gives it priority); the
// leading non-blocking select below approximates that priority by
// checking ctx.Done() before entering the real, blocking select.
func RenderLoop(ctx context.Context, ws *workspace.Workspace, r Renderer, requestExit func()) {
	inputCh := make(chan inputResult, 1)
	go func() {
		for {
			exitEarly, err := r.HandleInput(ctx)
			select {
			case inputCh <- inputResult{exitEarly, err}:
			case <-ctx.Done():
				return
			}
			if exitEarly || err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Complete(ws)
			return
		default:
		}

		select {
		case <-ctx.Done():
			r.Complete(ws)
			return
		case res := <-inputCh:
			if res.exitEarly {
				requestExit()
			}
		case <-ticker.C:
			r.Render(ws)
		}
	}
}
