package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.New(color.FgRed).Sprint("Error:"), err)
		os.Exit(1)
	}
}
