package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/babelcloud/gbox/packages/xgrab/config"
	"github.com/babelcloud/gbox/packages/xgrab/internal/capture"
	"github.com/babelcloud/gbox/packages/xgrab/internal/ffx"
	"github.com/babelcloud/gbox/packages/xgrab/internal/metrics"
	"github.com/babelcloud/gbox/packages/xgrab/internal/transcode"
	"github.com/babelcloud/gbox/packages/xgrab/internal/util"
)

// recordFlags maps flags onto config keys; set flags override the config
// file and environment.
var recordFlags = map[string]string{
	"input-format": "capture.format",
	"input":        "capture.url",
	"stream":       "capture.stream",
	"option":       "capture.options",
	"output":       "output.path",
	"format":       "output.format",
	"encoder":      "encoder.name",
	"pixel-format": "encoder.pixel_format",
	"bitrate":      "encoder.bit_rate",
	"bufsize":      "encoder.rc_buffer_size",
	"maxrate":      "encoder.rc_max_rate",
	"minrate":      "encoder.rc_min_rate",
	"preset":       "encoder.preset",
	"encoder-opt":  "encoder.options",
	"scaler":       "scale.backend",
	"scale-algo":   "scale.algorithm",
	"duration":     "pipeline.duration",
	"metrics-addr": "metrics.addr",
}

func NewRecordCommand() *cobra.Command {
	var (
		size         string
		noScaleCache bool
		noFlush      bool
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record until interrupted",
		Example: `  xgrab record -o desktop.mp4
  xgrab record -f testsrc -O video_size=640x480 -t 5s -o test.mkv
  xgrab record -f x11grab -i :0.0 -c libx264 -o desktop.mp4   # needs -tags ffmpeg`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			for name, key := range recordFlags {
				if err := config.BindFlag(key, cmd.Flags().Lookup(name)); err != nil {
					return usageError{err}
				}
			}
			if size != "" {
				w, h, err := capture.Options{"size": size}.VideoSize("size")
				if err != nil {
					return usageError{errors.Wrap(err, "--size")}
				}
				config.Set("scale.width", w)
				config.Set("scale.height", h)
			}
			if noScaleCache {
				config.Set("scale.cache", false)
			}
			if noFlush {
				config.Set("pipeline.flush_on_stop", false)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Get()
			if err != nil {
				return usageError{err}
			}
			return runRecord(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringP("input-format", "f", defaultCaptureFormat(), "Capture format (screen, testsrc, x11grab, ...)")
	flags.StringP("input", "i", "", "Capture device or URL, e.g. :0.0 for x11grab or a display index for screen")
	flags.Int("stream", -1, "Input stream index (-1 picks the best video stream)")
	flags.StringToStringP("option", "O", nil, "Capture option key=value (framerate, video_size, ...)")
	flags.StringP("output", "o", "out.mp4", "Output file")
	flags.String("format", "", "Force the container format instead of guessing from the extension")
	flags.StringP("encoder", "c", defaultEncoder(), "Encoder name")
	flags.String("pixel-format", "yuv420p", "Encoder pixel format")
	flags.Int64("bitrate", 2000000, "Target bit rate")
	flags.Int64("bufsize", 4000000, "Rate control buffer size")
	flags.Int64("maxrate", 2000000, "Maximum bit rate")
	flags.Int64("minrate", 2500000, "Minimum bit rate")
	flags.String("preset", "fast", "Encoder preset")
	flags.StringToString("encoder-opt", nil, "Encoder option key=value")
	flags.String("scaler", "native", "Scaler backend (native, swscale)")
	flags.String("scale-algo", "bilinear", "Scaling algorithm (bilinear, bicubic, nearest; fast with native, area with swscale)")
	flags.StringVar(&size, "size", "", "Output size WxH (default: captured size)")
	flags.BoolVar(&noScaleCache, "no-scale-cache", false, "Rebuild the scaling context for every frame")
	flags.BoolVar(&noFlush, "no-flush", false, "Do not drain buffered frames when stopping")
	flags.DurationP("duration", "t", 0, "Stop after this long (0 records until interrupted)")
	flags.String("metrics-addr", "", "Serve /metrics, /healthz and /status on this address")

	return cmd
}

func defaultCaptureFormat() string {
	if ffx.Available() {
		return ffx.DefaultCaptureFormat
	}
	return capture.ScreenFormat
}

func defaultEncoder() string {
	if ffx.Available() {
		return ffx.DefaultEncoder
	}
	return "mjpeg"
}

func transcodeOptions(cfg *config.Config) transcode.Options {
	return transcode.Options{
		CaptureFormat:  cfg.Capture.Format,
		CaptureURL:     cfg.Capture.URL,
		CaptureStream:  cfg.Capture.Stream,
		CaptureOptions: cfg.Capture.Options,
		OutputPath:     cfg.Output.Path,
		OutputFormat:   cfg.Output.Format,
		EncoderName:    cfg.Encoder.Name,
		PixelFormat:    cfg.Encoder.PixelFormat,
		BitRate:        cfg.Encoder.BitRate,
		RCBufferSize:   cfg.Encoder.RCBufferSize,
		RCMaxRate:      cfg.Encoder.RCMaxRate,
		RCMinRate:      cfg.Encoder.RCMinRate,
		Preset:         cfg.Encoder.Preset,
		EncoderOptions: cfg.Encoder.Options,
		Width:          cfg.Scale.Width,
		Height:         cfg.Scale.Height,
		Scaler:         cfg.Scale.Backend,
		ScaleAlgorithm: cfg.Scale.Algorithm,
		ScaleCache:     cfg.Scale.Cache,
		FlushOnStop:    cfg.Pipeline.FlushOnStop,
		Duration:       cfg.Pipeline.Duration,
	}
}

func runRecord(parent context.Context, cfg *config.Config) error {
	if err := ffx.Register(); err != nil {
		util.GetLogger().Debug("libav backend not registered", "reason", err)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Bind before Setup: once the header is written every exit path must
	// go through Run so the trailer gets written.
	var (
		pl  *transcode.Pipeline
		srv *metrics.Server
	)
	if cfg.Metrics.Addr != "" {
		srv = metrics.NewServer(cfg.Metrics.Addr, func() any {
			if pl == nil {
				return nil
			}
			return pl.Status()
		})
		if err := srv.Listen(); err != nil {
			return errors.Wrap(err, "failed to start metrics server")
		}
	}

	pl, err := transcode.Setup(ctx, transcodeOptions(cfg))
	if err != nil {
		if srv != nil {
			_ = srv.Close()
		}
		return err
	}
	defer pl.Close()

	ui := newRecordUI(cfg.Output.Path, srv)
	side := []func(context.Context) error{
		func(ctx context.Context) error {
			ui.track(ctx, pl)
			return nil
		},
	}
	if srv != nil {
		side = append(side, srv.Serve)
	}
	err = supervise(ctx, pl.Run, side...)
	ui.finish(pl.Status(), err)
	return err
}

// supervise runs run alongside side tasks. The side tasks stop when run
// returns, and a failing side task stops run.
func supervise(ctx context.Context, run func(context.Context) error, side ...func(context.Context) error) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancel()
		return run(gctx)
	})
	for _, task := range side {
		g.Go(func() error { return task(gctx) })
	}
	return g.Wait()
}

// recordUI shows a spinner with live counters on a terminal and plain log
// lines otherwise.
type recordUI struct {
	output string
	sp     *spinner.Spinner
}

func newRecordUI(output string, srv *metrics.Server) *recordUI {
	ui := &recordUI{output: output}
	interactive := term.IsTerminal(int(os.Stdout.Fd())) && !util.IsVerbose()

	fmt.Printf("Recording to %s", color.CyanString(output))
	if srv != nil {
		fmt.Printf(", metrics at %s", color.CyanString("http://"+srv.Addr()+"/metrics"))
	}
	fmt.Printf(" (press %s to stop)\n", color.New(color.FgYellow, color.Bold).Sprint("Ctrl+C"))

	if interactive {
		ui.sp = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		ui.sp.Prefix = "  "
		ui.sp.Suffix = " starting"
		ui.sp.Start()
	}
	return ui
}

func (ui *recordUI) track(ctx context.Context, pl *transcode.Pipeline) {
	if ui.sp == nil {
		return
	}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := pl.Status()
			ui.sp.Lock()
			ui.sp.Suffix = fmt.Sprintf(" %s  %d frames  %s", st.Elapsed, st.FramesEncoded, humanBytes(st.BytesWritten))
			ui.sp.Unlock()
		}
	}
}

func (ui *recordUI) finish(st transcode.Status, err error) {
	if ui.sp != nil {
		ui.sp.Stop()
		fmt.Print("\r\033[K")
	}
	if err != nil {
		fmt.Printf("  %s %s\n", color.RedString("✗"), err)
		return
	}
	fmt.Printf("  %s Recorded %d frames (%s) to %s\n",
		color.GreenString("✓"), st.FramesEncoded, humanBytes(st.BytesWritten), color.CyanString(ui.output))
	if st.TransientErrors > 0 {
		fmt.Printf("  %s %d frames dropped after errors, see log\n", color.YellowString("!"), st.TransientErrors)
	}
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
