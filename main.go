package main

import (
	"os"

	"github.com/ekaya-inc/portfolio-chat/pkg/cli"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	os.Exit(int(cli.Run(Version)))
}
