package main

import (
	"os"

	"github.com/autominion/minion/cmd/minion/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
