package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/babelcloud/gbox/packages/xgrab/internal/ffx"
	"github.com/babelcloud/gbox/packages/xgrab/internal/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Info(ffx.Backend())
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Version:    %s\n", info["Version"])
			fmt.Fprintf(w, "Go version: %s\n", info["GoVersion"])
			fmt.Fprintf(w, "Git commit: %s\n", info["GitCommit"])
			fmt.Fprintf(w, "Built:      %s\n", info["FormattedTime"])
			fmt.Fprintf(w, "OS/Arch:    %s/%s\n", info["OS"], info["Arch"])
			fmt.Fprintf(w, "Backend:    %s\n", info["Backend"])
			return nil
		},
	}
}
