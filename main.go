package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/babelcloud/gbox/packages/xgrab/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(cmd.ExitCode(err))
	}
}
