package cmd

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/babelcloud/gbox/packages/xgrab/config"
)

func NewConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Get()
			if err != nil {
				return usageError{err}
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return errors.Wrap(err, "failed to encode config")
			}
			w := cmd.OutOrStdout()
			if file := config.ConfigFileUsed(); file != "" {
				fmt.Fprintf(w, "# loaded from %s\n", file)
			}
			_, err = w.Write(out)
			return err
		},
	}
}
