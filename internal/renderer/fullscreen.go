package renderer

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/depot-build/depot/internal/process"
	"github.com/depot-build/depot/internal/ui"
	"github.com/depot-build/depot/internal/workspace"
)

const (
	enterAltScreen = "\x1b[?1049h\x1b[2J\x1b[H\x1b[?25l"
	leaveAltScreen = "\x1b[?25h\x1b[?1049l"
	resetStyle     = "\x1b[0m"
)

// FullscreenRenderer draws one package's processes at a time in an
// alternate-screen TUI: up to four bordered panes and, in a monorepo, a
// one-line tab bar that lists every package. The left/right arrow keys
// scroll between packages.
type FullscreenRenderer struct {
	out      *os.File
	rawState *term.State

	// selected is a signed counter over arrow presses; the displayed index
	// is selected reduced modulo the package count, so scrolling left from
	// the first package wraps to the last.
	selected atomic.Int64

	keys chan byte

	drawMu sync.Mutex
}

// NewFullscreen puts the terminal into raw mode, enters the alternate
// screen, and starts the stdin reader the arrow-key handling drains.
func NewFullscreen() (*FullscreenRenderer, error) {
	state, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return nil, errors.Wrap(err, "enabling raw terminal mode")
	}

	r := &FullscreenRenderer{
		out:      os.Stdout,
		rawState: state,
		keys:     make(chan byte, 64),
	}
	fmt.Fprint(r.out, enterAltScreen)

	go func() {
		buf := make([]byte, 1)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				close(r.keys)
				return
			}
			if n == 1 {
				r.keys <- buf[0]
			}
		}
	}()

	return r, nil
}

// HandleInput consumes raw keystrokes: Ctrl-C requests an early exit,
// left/right arrows scroll the selected package.
func (r *FullscreenRenderer) HandleInput(ctx context.Context) (bool, error) {
	for {
		var b byte
		var ok bool
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case b, ok = <-r.keys:
			if !ok {
				return false, nil
			}
		}

		switch b {
		case 0x03: // Ctrl-C
			return true, nil
		case 0x1b:
			if r.readArrow(ctx) {
				continue
			}
			return false, nil
		}
	}
}

// readArrow finishes parsing an ESC [ C / ESC [ D sequence whose leading
// ESC has already been consumed. It reports whether input should keep being
// handled (false only on channel close or ctx cancellation).
func (r *FullscreenRenderer) readArrow(ctx context.Context) bool {
	next := func() (byte, bool) {
		select {
		case <-ctx.Done():
			return 0, false
		case b, ok := <-r.keys:
			return b, ok
		}
	}

	b, ok := next()
	if !ok {
		return false
	}
	if b != '[' {
		return true
	}
	b, ok = next()
	if !ok {
		return false
	}
	switch b {
	case 'C':
		r.selected.Add(1)
	case 'D':
		r.selected.Add(-1)
	}
	return true
}

// Render draws the selected package's process panes and the tab bar.
func (r *FullscreenRenderer) Render(ws *workspace.Workspace) {
	r.drawMu.Lock()
	defer r.drawMu.Unlock()

	width, height, err := term.GetSize(int(r.out.Fd()))
	if err != nil {
		width, height = defaultWidth, 24
	}
	if width < 8 || height < 6 {
		return
	}

	n := int64(len(ws.PackageDisplayOrder))
	if n == 0 {
		return
	}
	selected := int(((r.selected.Load() % n) + n) % n)
	pkg := ws.PackageDisplayOrder[selected]
	processes := pkg.Processes()

	var b strings.Builder
	b.WriteString("\x1b[2J")

	paneArea := height
	if ws.Monorepo {
		paneArea--
	}

	topHeight := paneArea * 7 / 10
	bottomHeight := paneArea - topHeight
	leftWidth := width / 2
	rightWidth := width - leftWidth

	slots := []struct{ row, col, h, w int }{
		{1, 1, topHeight, leftWidth},
		{1, leftWidth + 1, topHeight, rightWidth},
		{topHeight + 1, 1, bottomHeight, leftWidth},
		{topHeight + 1, leftWidth + 1, bottomHeight, rightWidth},
	}

	for i, proc := range processes {
		if i >= len(slots) {
			break
		}
		slot := slots[i]
		r.drawPane(&b, proc, slot.row, slot.col, slot.h, slot.w)
	}

	if ws.Monorepo {
		r.drawTabBar(&b, ws, selected, height, width)
	}

	fmt.Fprint(r.out, b.String())
}

// drawPane draws a bordered box titled with the process's script, filled
// with the bottommost lines of its ring buffer. Captured ANSI sequences are
// passed through; each row ends with a style reset so one process's colors
// cannot bleed into a neighboring pane.
func (r *FullscreenRenderer) drawPane(b *strings.Builder, proc *process.Process, row, col, height, width int) {
	if height < 2 || width < 2 {
		return
	}
	inner := width - 2

	title := proc.Script
	if len(title) > inner {
		title = title[:inner]
	}
	fmt.Fprintf(b, "\x1b[%d;%dH", row, col)
	b.WriteString("┌" + title + strings.Repeat("─", inner-len(title)) + "┐")

	logs := proc.Logs()
	visible := height - 2
	if len(logs) > visible {
		logs = logs[len(logs)-visible:]
	}

	for i := 0; i < visible; i++ {
		fmt.Fprintf(b, "\x1b[%d;%dH", row+1+i, col)
		b.WriteString("│")
		var text string
		if i < len(logs) {
			text = logs[i].Text
		}
		stripped := ui.StripAnsi(text)
		if pad := inner - len([]rune(stripped)); pad >= 0 {
			b.WriteString(text + resetStyle + strings.Repeat(" ", pad))
		} else {
			b.WriteString(string([]rune(stripped)[:inner]))
		}
		b.WriteString("│")
	}

	fmt.Fprintf(b, "\x1b[%d;%dH", row+height-1, col)
	b.WriteString("└" + strings.Repeat("─", inner) + "┘")
}

// drawTabBar renders the bottom line labeling every package, bolding the
// selected one.
func (r *FullscreenRenderer) drawTabBar(b *strings.Builder, ws *workspace.Workspace, selected, height, width int) {
	fmt.Fprintf(b, "\x1b[%d;1H", height)
	var tabs []string
	for i, pkg := range ws.PackageDisplayOrder {
		name := pkg.Name
		if i == selected {
			name = ui.Bold(name)
		}
		tabs = append(tabs, name)
	}
	line := strings.Join(tabs, "  ")
	if len([]rune(ui.StripAnsi(line))) > width {
		line = string([]rune(ui.StripAnsi(line))[:width])
	}
	b.WriteString(line + resetStyle)
}

// Complete leaves the alternate screen and restores the terminal before
// printing a final inline frame, so the run's output survives on the
// normal screen.
func (r *FullscreenRenderer) Complete(ws *workspace.Workspace) {
	fmt.Fprint(r.out, leaveAltScreen)
	if r.rawState != nil {
		_ = term.Restore(int(os.Stdin.Fd()), r.rawState)
	}

	final := NewInline(r.out)
	final.Complete(ws)
}
