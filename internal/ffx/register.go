//go:build ffmpeg

package ffx

import (
	"sync"

	"github.com/asticode/go-astiav"

	"github.com/babelcloud/gbox/packages/xgrab/internal/capture"
	"github.com/babelcloud/gbox/packages/xgrab/internal/codec"
	"github.com/babelcloud/gbox/packages/xgrab/internal/mux"
	"github.com/babelcloud/gbox/packages/xgrab/internal/scale"
	"github.com/babelcloud/gbox/packages/xgrab/internal/util"
)

var registerOnce sync.Once

func Available() bool { return true }

// Register installs the libav implementations. Native codecs and formats
// registered under the same names keep precedence only where the registries
// give it to them: decoders and encoders fall back to libav, the lavf muxer
// catches any extension no native format claims.
func Register() error {
	registerOnce.Do(func() {
		astiav.RegisterAllDevices()
		installLogCallback()

		for _, name := range DeviceFormats {
			capture.Register(name, openerFor(name))
		}
		capture.Register(ProbeFormat, openerFor(""))
		codec.SetFallbacks(openDecoder, findEncoder)
		scale.Register(ScalerName, newScaler)
		mux.RegisterFormat(&mux.Format{
			Name:     MuxerName,
			LongName: "libavformat, muxer guessed from the file name",
			Open:     openOutput,
			Fallback: true,
		})
		util.GetLogger().Debug("libav backend registered", "devices", DeviceFormats)
	})
	return nil
}

func installLogCallback() {
	level := astiav.LogLevelWarning
	if util.IsVerbose() {
		level = astiav.LogLevelVerbose
	}
	astiav.SetLogLevel(level)

	log := util.GetCompatLogger("libav")
	astiav.SetLogCallback(func(_ astiav.Classer, l astiav.LogLevel, _, msg string) {
		switch {
		case l <= astiav.LogLevelError:
			log.Errorf("%s", msg)
		case l <= astiav.LogLevelWarning:
			log.Warnf("%s", msg)
		case l <= astiav.LogLevelInfo:
			log.Infof("%s", msg)
		default:
			log.Debugf("%s", msg)
		}
	})
}
