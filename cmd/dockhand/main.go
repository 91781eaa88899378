package main

import (
	"os"
	"runtime/debug"

	"github.com/dockhand/dockhand/internal/cli"
)

// version is set via -ldflags at release build time; otherwise the module
// version from build info is used.
var version = ""

func main() {
	os.Exit(cli.Execute(resolveVersion()))
}

func resolveVersion() string {
	if version != "" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}
