package renderer

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/depot-build/depot/internal/process"
	"github.com/depot-build/depot/internal/ui"
	uiterm "github.com/depot-build/depot/internal/ui/term"
	"github.com/depot-build/depot/internal/workspace"
)

const (
	defaultWidth  = 80
	defaultHeight = 40
)

// InlineRenderer produces pnpm-like incremental output: each tick it builds
// the full frame (every process's captured tail, tree-drawn per package)
// and rewrites only the lines that changed since the previous frame.
type InlineRenderer struct {
	Base

	out    io.Writer
	width  int
	height int

	mu   sync.Mutex
	prev []string
}

// NewInline returns an InlineRenderer writing to out (stdout when nil),
// sized from the tty when out is one and falling back to 80x40 otherwise.
func NewInline(out io.Writer) *InlineRenderer {
	if out == nil {
		out = os.Stdout
	}
	width, height := defaultWidth, defaultHeight
	if f, ok := out.(*os.File); ok {
		if w, h, err := term.GetSize(int(f.Fd())); err == nil {
			width, height = w, h
		}
	}
	return &InlineRenderer{out: out, width: width, height: height}
}

// Render draws the current state of ws, overwriting the previously drawn
// frame in place.
func (r *InlineRenderer) Render(ws *workspace.Workspace) {
	frame := r.buildFrame(ws)

	r.mu.Lock()
	defer r.mu.Unlock()

	common := 0
	for common < len(frame) && common < len(r.prev) && frame[common] == r.prev[common] {
		common++
	}
	if common == len(frame) && common == len(r.prev) {
		return
	}

	if stale := len(r.prev) - common; stale > 0 {
		uiterm.EraseLinesAbove(r.out, stale)
	}
	for _, line := range frame[common:] {
		fmt.Fprintln(r.out, line)
	}
	r.prev = frame
}

// Complete draws one final frame so the terminal retains a summary of every
// process after the run loop stops.
func (r *InlineRenderer) Complete(ws *workspace.Workspace) {
	r.Render(ws)
}

// buildFrame renders the whole workspace state as a slice of lines:
// workspace-scoped processes first, then each package (in display order)
// with any processes, tree-drawn the way pnpm draws its package log.
func (r *InlineRenderer) buildFrame(ws *workspace.Workspace) []string {
	var lines []string

	for _, proc := range ws.Processes() {
		lines = append(lines, "ws/"+proc.Script)
		lines = append(lines, r.processLines(proc, "")...)
	}

	for _, pkg := range ws.PackageDisplayOrder {
		procs := pkg.Processes()
		if len(procs) == 0 {
			continue
		}

		if ws.Monorepo {
			lines = append(lines, pkg.Name)
		}

		for j, proc := range procs {
			lastProcess := j == len(procs)-1
			var header, prefix string
			if ws.Monorepo {
				if lastProcess {
					header = ui.Meta("└─ ")
					prefix = "   "
				} else {
					header = ui.Meta("├─ ")
					prefix = "│  "
				}
			}
			lines = append(lines, header+proc.Script)
			lines = append(lines, r.processLines(proc, prefix)...)
		}
	}

	// Keep the frame inside the viewport so the erase arithmetic never
	// crosses the scrollback boundary.
	if max := r.height - 1; max > 0 && len(lines) > max {
		lines = lines[len(lines)-max:]
	}
	return lines
}

func (r *InlineRenderer) processLines(proc *process.Process, prefix string) []string {
	var lines []string
	for _, log := range proc.Logs() {
		lines = append(lines, ui.Meta(prefix+"│ ")+r.fitWidth(log.Text))
	}
	status := "running..."
	if proc.Finished() {
		status = "finished"
	}
	lines = append(lines, ui.Meta(prefix+"└─ "+status))
	return lines
}

// fitWidth keeps a captured line from wrapping, which would break the
// line-count arithmetic the in-place rewrite depends on. A line that fits
// passes through with its ANSI colors intact; an overlong line is truncated
// in its stripped form.
func (r *InlineRenderer) fitWidth(line string) string {
	stripped := ui.StripAnsi(line)
	budget := r.width - 4
	if budget <= 0 || len([]rune(stripped)) <= budget {
		return strings.TrimRight(line, "\r")
	}
	runes := []rune(stripped)
	return string(runes[:budget])
}
