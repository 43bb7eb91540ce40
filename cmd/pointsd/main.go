package main

import (
	"os"

	"github.com/skillmarket/points/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
