// Package ui holds the terminal-facing primitives shared by the CLI and
// the renderers: tty detection, color helpers, and the cli.Ui depot prints
// headline messages through.
package ui

import (
	"io"
	"os"
	"regexp"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/mitchellh/cli"
)

const ansiEscapeStr = "[\u001B\u009B][[\\]()#;?]*(?:(?:(?:[a-zA-Z\\d]*(?:;[a-zA-Z\\d]*)*)?\u0007)|(?:(?:\\d{1,4}(?:;\\d{0,4})*)?[\\dA-PRZcf-ntqry=><~]))"

var ansiRegex = regexp.MustCompile(ansiEscapeStr)

// IsTTY is true when stdout appears to be a tty.
var IsTTY = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

var meta = color.New(color.FgMagenta)
var bold = color.New(color.Bold)
var gray = color.New(color.Faint)

// ErrorPrefix is the colored headline prefix for fatal errors.
var ErrorPrefix = color.New(color.Bold, color.FgRed, color.ReverseVideo).Sprint(" ERROR ")

// Meta colors the tree-drawing glyphs of the inline renderer.
func Meta(str string) string { return meta.Sprint(str) }

// Bold prints out bolded text.
func Bold(str string) string { return bold.Sprint(str) }

// Dim prints out dimmed text.
func Dim(str string) string { return gray.Sprint(str) }

// StripAnsi removes every ANSI escape sequence from str, used when output
// is not going to a terminal.
func StripAnsi(str string) string {
	return ansiRegex.ReplaceAllString(str, "")
}

type stripAnsiWriter struct {
	wrappedWriter io.Writer
}

func (into *stripAnsiWriter) Write(p []byte) (int, error) {
	n, err := into.wrappedWriter.Write(ansiRegex.ReplaceAll(p, []byte{}))
	if err != nil {
		return n, err
	}
	// Write must return a non-nil error if it returns n < len(p), and the
	// byte count after stripping doesn't correspond to the input anyway.
	return len(p), nil
}

// Default returns the cli.Ui depot's commands print through: colored when
// stdout is a tty, with escape sequences stripped when it is not.
func Default() *cli.ColoredUi {
	var outWriter, errWriter io.Writer
	if IsTTY {
		outWriter = os.Stdout
		errWriter = os.Stderr
	} else {
		outWriter = &stripAnsiWriter{wrappedWriter: os.Stdout}
		errWriter = &stripAnsiWriter{wrappedWriter: os.Stderr}
	}

	return &cli.ColoredUi{
		Ui: &cli.BasicUi{
			Reader:      os.Stdin,
			Writer:      outWriter,
			ErrorWriter: errWriter,
		},
		OutputColor: cli.UiColorNone,
		InfoColor:   cli.UiColorNone,
		WarnColor:   cli.UiColor{Code: int(color.FgYellow), Bold: false},
		ErrorColor:  cli.UiColorRed,
	}
}
