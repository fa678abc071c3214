package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := decode(newViper())
	require.NoError(t, err)

	assert.Equal(t, "screen", cfg.Capture.Format)
	assert.Equal(t, -1, cfg.Capture.Stream)
	assert.Equal(t, "out.mp4", cfg.Output.Path)
	assert.Equal(t, "yuv420p", cfg.Encoder.PixelFormat)
	assert.Equal(t, int64(2000000), cfg.Encoder.BitRate)
	assert.Equal(t, int64(4000000), cfg.Encoder.RCBufferSize)
	assert.Equal(t, int64(2000000), cfg.Encoder.RCMaxRate)
	assert.Equal(t, int64(2500000), cfg.Encoder.RCMinRate)
	assert.Equal(t, "fast", cfg.Encoder.Preset)
	assert.True(t, cfg.Scale.Cache)
	assert.True(t, cfg.Pipeline.FlushOnStop)
	assert.Zero(t, cfg.Pipeline.Duration)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("XGRAB_ENCODER_BIT_RATE", "500000")
	t.Setenv("XGRAB_OUTPUT_PATH", "/tmp/x.mkv")
	t.Setenv("XGRAB_PIPELINE_DURATION", "7s")

	cfg, err := decode(newViper())
	require.NoError(t, err)
	assert.Equal(t, int64(500000), cfg.Encoder.BitRate)
	assert.Equal(t, "/tmp/x.mkv", cfg.Output.Path)
	assert.Equal(t, 7*time.Second, cfg.Pipeline.Duration)
}

func TestLoadFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "xgrab.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
capture:
  format: testsrc
  options:
    video_size: 64x48
encoder:
  name: libx264
  rc_min_rate: 1000000
scale:
  width: 1280
  height: 720
`), 0o644))

	nv := newViper()
	require.NoError(t, load(nv, file))
	cfg, err := decode(nv)
	require.NoError(t, err)

	assert.Equal(t, "testsrc", cfg.Capture.Format)
	assert.Equal(t, "64x48", cfg.Capture.Options["video_size"])
	assert.Equal(t, "libx264", cfg.Encoder.Name)
	assert.Equal(t, int64(1000000), cfg.Encoder.RCMinRate)
	assert.Equal(t, int64(2000000), cfg.Encoder.RCMaxRate)
	assert.Equal(t, 1280, cfg.Scale.Width)
	assert.Equal(t, file, nv.ConfigFileUsed())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	err := load(newViper(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadWithoutFileIsFine(t *testing.T) {
	t.Chdir(t.TempDir())
	assert.NoError(t, load(newViper(), ""))
}
