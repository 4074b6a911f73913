// Package main is the entry point for the epgviewer application.
package main

import (
	"os"

	"github.com/jmylchreest/epgviewer/cmd/epgviewer/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
