//go:build ffmpeg

package ffx

import (
	"github.com/asticode/go-astiav"
	"github.com/pkg/errors"

	"github.com/babelcloud/gbox/packages/xgrab/internal/av"
	"github.com/babelcloud/gbox/packages/xgrab/internal/scale"
)

var swsAlgorithms = map[string]astiav.SoftwareScaleContextFlag{
	"":         astiav.SoftwareScaleContextFlagBilinear,
	"bilinear": astiav.SoftwareScaleContextFlagBilinear,
	"bicubic":  astiav.SoftwareScaleContextFlagBicubic,
	"nearest":  astiav.SoftwareScaleContextFlagPoint,
	"area":     astiav.SoftwareScaleContextFlagArea,
}

// swscaler converts through libswscale with accurate rounding.
type swscaler struct {
	opts  scale.Options
	flags astiav.SoftwareScaleContextFlags
	key   scale.Key
	ctx   *astiav.SoftwareScaleContext
}

func newScaler(opts scale.Options) (scale.Scaler, error) {
	alg, ok := swsAlgorithms[opts.Algorithm]
	if !ok {
		return nil, errors.Wrapf(scale.ErrUnknownScaler, "algorithm %q", opts.Algorithm)
	}
	return &swscaler{
		opts:  opts,
		flags: astiav.NewSoftwareScaleContextFlags(alg, astiav.SoftwareScaleContextFlagAccurateRnd),
	}, nil
}

func (s *swscaler) context(key scale.Key) (*astiav.SoftwareScaleContext, error) {
	if s.ctx != nil && s.key == key {
		return s.ctx, nil
	}
	s.release()
	src, err := toPixelFormat(key.SrcFormat)
	if err != nil {
		return nil, errors.Wrap(scale.ErrUnsupportedFormat, err.Error())
	}
	dst, err := toPixelFormat(key.DstFormat)
	if err != nil {
		return nil, errors.Wrap(scale.ErrUnsupportedFormat, err.Error())
	}
	ctx, err := astiav.CreateSoftwareScaleContext(key.SrcW, key.SrcH, src, key.DstW, key.DstH, dst, s.flags)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create scale context")
	}
	s.ctx, s.key = ctx, key
	return ctx, nil
}

func (s *swscaler) Scale(src *av.Frame, w, h int, pf av.PixelFormat) (*av.Frame, error) {
	if src.IsNull() {
		return nil, av.ErrNullHandle
	}
	if !s.opts.Cache {
		defer s.release()
	}
	ctx, err := s.context(scale.Key{
		SrcW: src.Width(), SrcH: src.Height(), SrcFormat: src.PixelFormat(),
		DstW: w, DstH: h, DstFormat: pf,
	})
	if err != nil {
		return nil, err
	}

	in, err := toFrame(src)
	if err != nil {
		return nil, err
	}
	defer in.Free()
	out := astiav.AllocFrame()
	defer out.Free()
	dpf, _ := toPixelFormat(pf)
	out.SetWidth(w)
	out.SetHeight(h)
	out.SetPixelFormat(dpf)
	if err := ctx.ScaleFrame(in, out); err != nil {
		return nil, errors.Wrap(err, "failed to scale frame")
	}

	dst, err := fromFrame(out)
	if err != nil {
		return nil, err
	}
	return scale.Finish(src, dst, out.Height())
}

func (s *swscaler) release() {
	if s.ctx != nil {
		s.ctx.Free()
		s.ctx = nil
	}
}

func (s *swscaler) Close() error {
	s.release()
	return nil
}
