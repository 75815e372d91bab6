package main

import (
	"os"

	"github.com/codeopen/codeopen/cmd/codeopen/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}
