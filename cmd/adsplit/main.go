package main

import (
	"os"

	"github.com/adsplit/adsplit/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
