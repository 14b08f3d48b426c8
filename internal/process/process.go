// Package process wraps a spawned shell command, capturing its combined
// stdout/stderr line by line into a bounded ring buffer so a renderer can
// display a live tail without retaining unbounded output.
package process

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// clearSequence is the escape sequence a process emits to ask for its
// terminal to be cleared (as e.g. tsc --watch does between compiles).
const clearSequence = "\x1bc"

// Channel identifies which stdio stream a LogLine was captured from.
type Channel int

const (
	Stdout Channel = iota
	Stderr
)

// LogLine is a single captured line of process output.
type LogLine struct {
	Text    string
	Channel Channel
}

// Process supervises a single spawned command for its entire lifetime: one
// Process corresponds to one invocation, it is never restarted.
type Process struct {
	// Script is the short display label: the basename of the spawned
	// program.
	Script string

	logger   hclog.Logger
	id       string
	cmd      *exec.Cmd
	logs     *RingBuffer[LogLine]
	logsMu   sync.Mutex
	finished atomic.Bool
	waitOnce sync.Once
	waitErr  error
	pipeWG   sync.WaitGroup
}

// Spawn starts script (already split into argv) in dir, piping its combined
// output into the returned Process's ring buffer. The process is placed in
// its own process group so Kill can terminate any children it spawns.
func Spawn(ctx context.Context, dir string, argv []string, env []string, logger hclog.Logger, bufferCapacity int) (*Process, error) {
	if len(argv) == 0 {
		return nil, errors.New("cannot spawn an empty command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	setProcessGroup(cmd)
	// On ctx cancellation take down the whole process group, so no
	// grandchild keeps the output pipes open after the kill.
	cmd.Cancel = func() error { return killProcessGroup(cmd) }

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "attaching stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.Wrap(err, "attaching stderr pipe")
	}

	p := &Process{
		Script: filepath.Base(argv[0]),
		logger: logger.Named("process"),
		id:     uuid.NewString(),
		cmd:    cmd,
		logs:   NewRingBuffer[LogLine](bufferCapacity),
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "starting %q", p.Script)
	}

	p.pipeWG.Add(2)
	go p.pipeStdio(stdout, Stdout)
	go p.pipeStdio(stderr, Stderr)

	return p, nil
}

// pipeStdio reads r line by line, stripping a leading clear-screen escape
// sequence from each line (which clears the ring buffer before the
// remainder of the line is pushed), and appends every line to the buffer.
func (p *Process) pipeStdio(r io.Reader, ch Channel) {
	defer p.pipeWG.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, clearSequence) {
			p.logsMu.Lock()
			p.logs.Clear()
			p.logsMu.Unlock()
			line = strings.TrimPrefix(line, clearSequence)
		}
		p.logsMu.Lock()
		p.logs.Push(LogLine{Text: line, Channel: ch})
		p.logsMu.Unlock()
	}
	if err := scanner.Err(); err != nil {
		p.logger.Debug("error reading process output", "id", p.id, "err", err)
	}
}

// Logs returns a snapshot of the currently buffered output lines.
func (p *Process) Logs() []LogLine {
	p.logsMu.Lock()
	defer p.logsMu.Unlock()
	return p.logs.Items()
}

// Wait blocks until both output pipes are drained and the process exits,
// exactly once; subsequent calls return the same result. Finished is set
// regardless of the outcome.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		// cmd.Wait closes the pipes, so the readers must finish first.
		p.pipeWG.Wait()
		p.waitErr = p.cmd.Wait()
		p.finished.Store(true)
	})
	return p.waitErr
}

// WaitForSuccess is Wait, translated into a single pass/fail error: nil on
// exit code 0, an error describing the exit code or signal otherwise.
func (p *Process) WaitForSuccess() error {
	err := p.Wait()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return errors.Errorf("%q exited with code %d", p.Script, exitErr.ExitCode())
	}
	return errors.Wrapf(err, "%q failed", p.Script)
}

// Finished reports whether the process has exited.
func (p *Process) Finished() bool {
	return p.finished.Load()
}

// Kill terminates the process and its process group.
func (p *Process) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return killProcessGroup(p.cmd)
}
