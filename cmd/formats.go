package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/babelcloud/gbox/packages/xgrab/internal/capture"
	"github.com/babelcloud/gbox/packages/xgrab/internal/codec"
	"github.com/babelcloud/gbox/packages/xgrab/internal/ffx"
	"github.com/babelcloud/gbox/packages/xgrab/internal/mux"
	"github.com/babelcloud/gbox/packages/xgrab/internal/scale"
)

func NewFormatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List capture formats, codecs, scalers and containers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			libav := ffx.Register() == nil
			printFormats(cmd.OutOrStdout(), libav)
			return nil
		},
	}
}

func printFormats(w io.Writer, libav bool) {
	heading := color.New(color.Bold)

	heading.Fprintln(w, "Capture formats:")
	for _, name := range capture.Formats() {
		fmt.Fprintf(w, "  %s\n", name)
	}

	heading.Fprintln(w, "Decoders:")
	for _, name := range codec.Decoders() {
		fmt.Fprintf(w, "  %s\n", name)
	}
	heading.Fprintln(w, "Encoders:")
	for _, name := range codec.Encoders() {
		fmt.Fprintf(w, "  %s\n", name)
	}
	if libav {
		fmt.Fprintf(w, "  %s\n", color.New(color.Faint).Sprint("+ every libavcodec codec by name, e.g. "+ffx.DefaultEncoder))
	}

	heading.Fprintln(w, "Scalers:")
	for _, name := range scale.Backends() {
		fmt.Fprintf(w, "  %s\n", name)
	}

	heading.Fprintln(w, "Containers:")
	for _, f := range mux.Formats() {
		exts := "any"
		if len(f.Extensions) > 0 {
			exts = "." + strings.Join(f.Extensions, ", .")
		}
		fmt.Fprintf(w, "  %-10s %-40s %s\n", color.CyanString(f.Name), f.LongName, exts)
	}
	fmt.Fprintf(w, "\nBackend: %s\n", ffx.Backend())
}
