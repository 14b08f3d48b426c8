package main

import (
	"os"

	"github.com/depot-build/depot/internal/cmd"
)

// depotVersion is overridden at release time via -ldflags.
var depotVersion = "0.3.2"

func main() {
	os.Exit(cmd.RunWithArgs(os.Args[1:], depotVersion))
}
