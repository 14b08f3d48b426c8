// Package runner drives the concurrent execution of a TaskGraph: a
// single-threaded cooperative event loop that spawns every Task whose
// predecessors have Finished, fans in completions, propagates the first
// failure, and persists fingerprints when the loop ends (unless the root
// command is clean).
package runner

import (
	"context"
	"sync"

	"github.com/hashicorp/go-hclog"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/depot-build/depot/internal/renderer"
	"github.com/depot-build/depot/internal/taskgraph"
	"github.com/depot-build/depot/internal/workspace"
)

// Runner owns the event loop over a single materialized Graph.
type Runner struct {
	ws              *workspace.Workspace
	graph           *taskgraph.Graph
	rootCommandName string
	logger          hclog.Logger
	renderer        renderer.Renderer

	exitOnce     sync.Once
	exitRequested chan struct{}
}

// New returns a Runner ready to execute graph against ws. renderer may be
// nil, in which case no live output is drawn (useful for tests).
func New(ws *workspace.Workspace, graph *taskgraph.Graph, rootCommandName string, logger hclog.Logger, r renderer.Renderer) *Runner {
	return &Runner{
		ws:              ws,
		graph:           graph,
		rootCommandName: rootCommandName,
		logger:          logger.Named("runner"),
		renderer:        r,
		exitRequested:   make(chan struct{}),
	}
}

// RequestExit asks the run loop to stop as soon as possible, as if every
// remaining task had failed with no error (a clean, user-requested abort).
// Safe to call multiple times and from any goroutine.
func (r *Runner) RequestExit() {
	r.exitOnce.Do(func() { close(r.exitRequested) })
}

type taskResult struct {
	task *taskgraph.Task
	err  error
}

// Run executes every task in the graph, honoring the two ordering axes
// already encoded as DepGraph edges. It returns the first task error
// encountered (if any tasks were still running when that happened, they
// are cancelled before Run returns), or nil if the whole graph finished
// cleanly or the run was cancelled via RequestExit.
func (r *Runner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var rendererDone chan struct{}
	if r.renderer != nil {
		rendererDone = make(chan struct{})
		go func() {
			renderer.RenderLoop(ctx, r.ws, r.renderer, r.RequestExit)
			close(rendererDone)
		}()
	}

	resultCh := make(chan taskResult)
	taskCancel := make(map[*taskgraph.Task]context.CancelFunc)
	running := 0

	var loopErr error

loop:
	for {
		if r.allFinished() {
			break
		}

		for _, t := range r.graph.Nodes() {
			if t.Status() != taskgraph.Pending || !r.predecessorsFinished(t) {
				continue
			}

			if t.CanSkip() && r.allPredecessorsSkipped(t) {
				t.MarkSkipped()
				continue
			}

			t.MarkRunning()
			running++
			tctx, tcancel := context.WithCancel(ctx)
			taskCancel[t] = tcancel
			go func(t *taskgraph.Task) {
				err := t.Run(tctx, r.ws)
				resultCh <- taskResult{task: t, err: err}
			}(t)
		}

		if running == 0 {
			// Every remaining Pending task is still waiting on a
			// predecessor; go around and re-scan readiness. Termination is
			// guaranteed because the graph is acyclic: something must have
			// just Finished (by skip) to make forward progress possible, or
			// every task really is Finished and the loop will exit above.
			continue
		}

		select {
		case <-r.exitRequested:
			break loop
		default:
		}

		select {
		case <-r.exitRequested:
			break loop
		case res := <-resultCh:
			delete(taskCancel, res.task)
			running--
			if res.err != nil {
				loopErr = errors.Wrapf(res.err, "task %s failed", res.task.Key())
				break loop
			}
			res.task.MarkFinished()
			r.ws.Fingerprints.UpdateTime(res.task.Key())
		}
	}

	var teardownErrs *multierror.Error
	for _, tcancel := range taskCancel {
		tcancel()
	}
	for len(taskCancel) > 0 {
		res := <-resultCh
		delete(taskCancel, res.task)
		if res.err != nil && !errors.Is(res.err, context.Canceled) {
			teardownErrs = multierror.Append(teardownErrs, errors.Wrap(res.err, res.task.Key()))
		}
	}
	if teardownErrs != nil {
		r.logger.Debug("errors while cancelling tasks", "err", teardownErrs.ErrorOrNil())
	}

	cancel()
	if rendererDone != nil {
		<-rendererDone
	}

	// Fingerprints persist even on partial success: tasks that did finish
	// keep their stamps. A save failure is logged, never masking the loop's
	// result.
	if err := r.ws.SaveFingerprints(r.rootCommandName); err != nil {
		r.logger.Warn("failed to persist fingerprints", "err", err)
	}

	return loopErr
}

func (r *Runner) allFinished() bool {
	for _, t := range r.graph.Nodes() {
		if t.Status() != taskgraph.Finished {
			return false
		}
	}
	return true
}

func (r *Runner) predecessorsFinished(t *taskgraph.Task) bool {
	for _, dep := range r.graph.ImmediateDepsFor(t) {
		if dep.Status() != taskgraph.Finished {
			return false
		}
	}
	return true
}

func (r *Runner) allPredecessorsSkipped(t *taskgraph.Task) bool {
	for _, dep := range r.graph.ImmediateDepsFor(t) {
		if !dep.WasSkipped() {
			return false
		}
	}
	return true
}
