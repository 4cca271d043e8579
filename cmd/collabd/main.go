package main

import (
	"os"

	"github.com/collabmate/collabmate/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
