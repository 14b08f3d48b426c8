// Package term provides cursor movement and line-erase primitives for the
// inline renderer's incremental redraw.
package term

import (
	"io"
	"os"

	"github.com/AlecAivazis/survey/v2/terminal"
)

// fakeFileWriter is a terminal.FileWriter.
// If the underlying writer w does not implement Fd() then a dummy value is
// returned, which lets tests drive the cursor against a bytes.Buffer.
type fakeFileWriter struct {
	w io.Writer
}

func (w *fakeFileWriter) Write(p []byte) (int, error) {
	return w.w.Write(p)
}

func (w *fakeFileWriter) Fd() uintptr {
	if v, ok := w.w.(terminal.FileWriter); ok {
		return v.Fd()
	}
	return 0
}

// Cursor represents the terminal's cursor.
type Cursor struct {
	c *terminal.Cursor
}

// New creates a new cursor that writes to out (stdout when nil).
func New(out io.Writer) *Cursor {
	if out == nil {
		out = os.Stdout
	}
	fw, ok := out.(terminal.FileWriter)
	if !ok {
		fw = &fakeFileWriter{w: out}
	}
	return &Cursor{c: &terminal.Cursor{Out: fw}}
}

// Up moves the cursor up n lines.
func (c *Cursor) Up(n int) {
	_ = c.c.Up(n)
}

// HorizontalAbsolute moves the cursor to column x of the current line.
func (c *Cursor) HorizontalAbsolute(x int) {
	_ = c.c.HorizontalAbsolute(x)
}

// EraseLine erases the current line of fw.
func EraseLine(fw io.Writer) {
	w, ok := fw.(terminal.FileWriter)
	if !ok {
		w = &fakeFileWriter{w: fw}
	}
	terminal.EraseLine(w, terminal.ERASE_LINE_ALL)
}

// EraseLinesAbove erases the current line and the n lines above it, leaving
// the cursor at the start of the topmost erased line.
func EraseLinesAbove(fw io.Writer, n int) {
	c := New(fw)
	for i := 0; i < n; i++ {
		EraseLine(fw)
		c.Up(1)
	}
	EraseLine(fw)
	c.HorizontalAbsolute(0)
}
