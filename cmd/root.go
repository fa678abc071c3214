package cmd

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/babelcloud/gbox/packages/xgrab/config"
	"github.com/babelcloud/gbox/packages/xgrab/internal/ffx"
	"github.com/babelcloud/gbox/packages/xgrab/internal/transcode"
	"github.com/babelcloud/gbox/packages/xgrab/internal/util"
)

var (
	verbose    bool
	configFile string

	rootCmd = &cobra.Command{
		Use:   "xgrab",
		Short: "Record the screen into a video file",
		Long: `xgrab captures a display, re-encodes the frames and writes them into a container file
until it is interrupted.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			util.InitLogger(verbose)
			if ffx.Available() {
				config.SetDefault("capture.format", ffx.DefaultCaptureFormat)
				config.SetDefault("encoder.name", ffx.DefaultEncoder)
			}
			if err := config.Load(configFile); err != nil {
				return usageError{err}
			}
			return nil
		},
	}
)

// usageError marks command line and configuration mistakes.
type usageError struct{ error }

func (e usageError) Unwrap() error { return e.error }

func Execute() error {
	return rootCmd.Execute()
}

// ExitCode maps an error returned by Execute to the process exit status.
func ExitCode(err error) int {
	var ue usageError
	if errors.As(err, &ue) {
		return transcode.ExitUsage
	}
	return transcode.ExitCode(err)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: config.yaml in ., $XDG_CONFIG_HOME/xgrab, /etc/xgrab)")
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	rootCmd.AddCommand(NewRecordCommand())
	rootCmd.AddCommand(NewFormatsCommand())
	rootCmd.AddCommand(NewConfigCommand())
	rootCmd.AddCommand(NewVersionCommand())
}
