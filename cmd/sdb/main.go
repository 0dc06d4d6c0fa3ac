package main

import (
	"os"

	"github.com/go-delve/sdb/cmd/sdb/cmds"
	"github.com/go-delve/sdb/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.SdbVersion.Build = Build
	}
	if err := cmds.New(false).Execute(); err != nil {
		os.Exit(1)
	}
}
