package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "XGRAB"

var v *viper.Viper

// Config is the effective configuration of a recording.
type Config struct {
	Capture  CaptureConfig  `mapstructure:"capture" yaml:"capture"`
	Output   OutputConfig   `mapstructure:"output" yaml:"output"`
	Encoder  EncoderConfig  `mapstructure:"encoder" yaml:"encoder"`
	Scale    ScaleConfig    `mapstructure:"scale" yaml:"scale"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

type CaptureConfig struct {
	Format  string            `mapstructure:"format" yaml:"format"`
	URL     string            `mapstructure:"url" yaml:"url"`
	Stream  int               `mapstructure:"stream" yaml:"stream"`
	Options map[string]string `mapstructure:"options" yaml:"options"`
}

type OutputConfig struct {
	Path   string `mapstructure:"path" yaml:"path"`
	Format string `mapstructure:"format" yaml:"format"`
}

type EncoderConfig struct {
	Name         string            `mapstructure:"name" yaml:"name"`
	PixelFormat  string            `mapstructure:"pixel_format" yaml:"pixel_format"`
	BitRate      int64             `mapstructure:"bit_rate" yaml:"bit_rate"`
	RCBufferSize int64             `mapstructure:"rc_buffer_size" yaml:"rc_buffer_size"`
	RCMaxRate    int64             `mapstructure:"rc_max_rate" yaml:"rc_max_rate"`
	RCMinRate    int64             `mapstructure:"rc_min_rate" yaml:"rc_min_rate"`
	Preset       string            `mapstructure:"preset" yaml:"preset"`
	Options      map[string]string `mapstructure:"options" yaml:"options"`
}

type ScaleConfig struct {
	Backend   string `mapstructure:"backend" yaml:"backend"`
	Algorithm string `mapstructure:"algorithm" yaml:"algorithm"`
	Width     int    `mapstructure:"width" yaml:"width"`
	Height    int    `mapstructure:"height" yaml:"height"`
	Cache     bool   `mapstructure:"cache" yaml:"cache"`
}

type PipelineConfig struct {
	Duration    time.Duration `mapstructure:"duration" yaml:"duration"`
	FlushOnStop bool          `mapstructure:"flush_on_stop" yaml:"flush_on_stop"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

func init() {
	v = newViper()
}

func newViper() *viper.Viper {
	nv := viper.New()

	// Defaults reproduce the fixed recording policy: yuv420p, 2 Mbit/s with
	// the rate-control bounds as originally shipped (min above max).
	nv.SetDefault("capture.format", "screen")
	nv.SetDefault("capture.url", "")
	nv.SetDefault("capture.stream", -1)
	nv.SetDefault("capture.options", map[string]string{})

	nv.SetDefault("output.path", "out.mp4")
	nv.SetDefault("output.format", "")

	nv.SetDefault("encoder.name", "mjpeg")
	nv.SetDefault("encoder.pixel_format", "yuv420p")
	nv.SetDefault("encoder.bit_rate", 2000000)
	nv.SetDefault("encoder.rc_buffer_size", 4000000)
	nv.SetDefault("encoder.rc_max_rate", 2000000)
	nv.SetDefault("encoder.rc_min_rate", 2500000)
	nv.SetDefault("encoder.preset", "fast")
	nv.SetDefault("encoder.options", map[string]string{})

	nv.SetDefault("scale.backend", "native")
	nv.SetDefault("scale.algorithm", "bilinear")
	nv.SetDefault("scale.width", 0)
	nv.SetDefault("scale.height", 0)
	nv.SetDefault("scale.cache", true)

	nv.SetDefault("pipeline.duration", time.Duration(0))
	nv.SetDefault("pipeline.flush_on_stop", true)

	nv.SetDefault("metrics.addr", "")

	// Environment variables: XGRAB_ENCODER_BIT_RATE etc.
	nv.SetEnvPrefix(envPrefix)
	nv.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	nv.AutomaticEnv()

	nv.SetConfigName("config")
	nv.SetConfigType("yaml")
	for _, path := range SearchPaths() {
		nv.AddConfigPath(path)
	}
	return nv
}

// SearchPaths lists the directories searched for config.yaml.
func SearchPaths() []string {
	return []string{
		".",
		filepath.Join(xdg.ConfigHome, "xgrab"),
		"/etc/xgrab",
	}
}

// Load reads the config file. With an empty file the search paths are used
// and a missing file is not an error.
func Load(file string) error {
	return load(v, file)
}

func load(nv *viper.Viper, file string) error {
	if file != "" {
		nv.SetConfigFile(file)
	}
	if err := nv.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file == "" && errors.As(err, &notFound) {
			return nil
		}
		return errors.Wrap(err, "failed to read config file")
	}
	return nil
}

// BindFlag lets a command line flag override key when it was set.
func BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return errors.Errorf("no flag for %s", key)
	}
	return v.BindPFlag(key, flag)
}

// Set overrides a key for the rest of the process.
func Set(key string, value any) {
	v.Set(key, value)
}

// SetDefault replaces the built-in default of key.
func SetDefault(key string, value any) {
	v.SetDefault(key, value)
}

// Get returns the effective configuration.
func Get() (*Config, error) {
	return decode(v)
}

func decode(nv *viper.Viper) (*Config, error) {
	var cfg Config
	if err := nv.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	return &cfg, nil
}

// ConfigFileUsed returns the path of the loaded config file, if any.
func ConfigFileUsed() string {
	return v.ConfigFileUsed()
}
