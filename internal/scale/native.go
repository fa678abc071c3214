package scale

import (
	"image"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"

	"github.com/babelcloud/gbox/packages/xgrab/internal/av"
	"github.com/babelcloud/gbox/packages/xgrab/internal/util"
)

// NativeName is the pure Go scaler.
const NativeName = "native"

func init() {
	Register(NativeName, func(opts Options) (Scaler, error) { return NewNative(opts) })
}

var interpolators = map[string]draw.Interpolator{
	"":         draw.BiLinear,
	"bilinear": draw.BiLinear,
	"bicubic":  draw.CatmullRom,
	"nearest":  draw.NearestNeighbor,
	"fast":     draw.ApproxBiLinear,
}

// Native resamples with golang.org/x/image/draw and converts between RGB and
// YCbCr with rounded integer arithmetic.
type Native struct {
	opts   Options
	interp draw.Interpolator
	ctx    *Context
	builds int
}

func NewNative(opts Options) (*Native, error) {
	interp, ok := interpolators[opts.Algorithm]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownScaler, "algorithm %q", opts.Algorithm)
	}
	return &Native{opts: opts, interp: interp}, nil
}

// Scale implements Scaler.
func (n *Native) Scale(src *av.Frame, w, h int, pf av.PixelFormat) (*av.Frame, error) {
	if src.IsNull() {
		return nil, av.ErrNullHandle
	}
	ctx, err := n.context(keyFor(src, w, h, pf))
	if err != nil {
		return nil, err
	}
	dst, err := av.AllocFrameBuffer(w, h, pf)
	if err != nil {
		return nil, err
	}
	rows, err := ctx.Convert(src, dst)
	if err != nil {
		dst.Free()
		return nil, err
	}
	return Finish(src, dst, rows)
}

func (n *Native) context(key Key) (*Context, error) {
	if n.opts.Cache && n.ctx != nil && n.ctx.key == key {
		return n.ctx, nil
	}
	ctx, err := NewContext(key, n.interp)
	if err != nil {
		return nil, err
	}
	n.builds++
	if n.opts.Cache {
		if n.ctx != nil {
			util.GetLogger().Debug("Scale context rebuilt", "from", n.ctx.key, "to", key)
		}
		n.ctx = ctx
	}
	return ctx, nil
}

func (n *Native) Close() error {
	n.ctx = nil
	return nil
}

// Context is a conversion between one source and one target geometry.
type Context struct {
	key    Key
	interp draw.Interpolator
	// tmp is the intermediate RGBA picture, reused between calls.
	tmp *image.RGBA
}

func NewContext(key Key, interp draw.Interpolator) (*Context, error) {
	for _, pf := range []av.PixelFormat{key.SrcFormat, key.DstFormat} {
		if pf.Planes() == 0 {
			return nil, errors.Wrapf(ErrUnsupportedFormat, "%s", pf)
		}
	}
	if key.SrcW <= 0 || key.SrcH <= 0 || key.DstW <= 0 || key.DstH <= 0 {
		return nil, errors.Wrapf(av.ErrInvalidDimensions, "%dx%d -> %dx%d", key.SrcW, key.SrcH, key.DstW, key.DstH)
	}
	return &Context{key: key, interp: interp}, nil
}

// Convert writes src into dst and returns the number of target rows written.
// A source holding fewer rows than its declared height yields proportionally
// fewer target rows.
func (c *Context) Convert(src, dst *av.Frame) (int, error) {
	if keyFor(src, dst.Width(), dst.Height(), dst.PixelFormat()) != c.key {
		return 0, errors.Errorf("frame geometry does not match scale context %+v", c.key)
	}
	srcRows := sourceRows(src)
	if srcRows == 0 {
		return 0, nil
	}
	outRows := c.key.DstH
	if srcRows < c.key.SrcH {
		outRows = srcRows * c.key.DstH / c.key.SrcH
	}
	if outRows == 0 {
		return 0, nil
	}

	if c.key.SrcW == c.key.DstW && c.key.SrcH == c.key.DstH &&
		c.key.SrcFormat == c.key.DstFormat && c.key.SrcFormat == av.PixelFormatYUV420P {
		return copyYUV(src, dst, outRows), nil
	}

	srcImg := frameImage(src, srcRows)
	rgba := c.intermediate(c.key.DstW, outRows)
	if c.key.SrcW == c.key.DstW && srcRows == outRows {
		draw.Draw(rgba, rgba.Bounds(), srcImg, srcImg.Bounds().Min, draw.Src)
	} else {
		c.interp.Scale(rgba, rgba.Bounds(), srcImg, srcImg.Bounds(), draw.Src, nil)
	}

	switch dst.PixelFormat() {
	case av.PixelFormatYUV420P:
		rgbaToYUV420(rgba, dst, outRows)
	case av.PixelFormatRGBA:
		copyPacked(rgba, dst, outRows, false)
	case av.PixelFormatBGRA, av.PixelFormatBGR0:
		copyPacked(rgba, dst, outRows, true)
	}
	return outRows, nil
}

func (c *Context) intermediate(w, h int) *image.RGBA {
	if c.tmp == nil || c.tmp.Rect.Dx() != w || c.tmp.Rect.Dy() != h {
		c.tmp = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	return c.tmp
}

// sourceRows counts the rows every plane of src can actually supply.
func sourceRows(src *av.Frame) int {
	rows := src.RowsAvailable()
	if src.PixelFormat() == av.PixelFormatYUV420P {
		for i := 1; i < 3; i++ {
			ls := src.Linesize(i)
			if ls <= 0 {
				return 0
			}
			if c := len(src.Plane(i)) / ls * 2; c < rows {
				rows = c
			}
		}
	}
	return rows
}

func frameImage(f *av.Frame, rows int) image.Image {
	rect := image.Rect(0, 0, f.Width(), rows)
	switch f.PixelFormat() {
	case av.PixelFormatYUV420P:
		return &image.YCbCr{
			Y: f.Plane(0), Cb: f.Plane(1), Cr: f.Plane(2),
			YStride: f.Linesize(0), CStride: f.Linesize(1),
			SubsampleRatio: image.YCbCrSubsampleRatio420,
			Rect:           rect,
		}
	case av.PixelFormatRGBA:
		return &image.RGBA{Pix: f.Plane(0), Stride: f.Linesize(0), Rect: rect}
	}
	// BGRA and BGR0 have no image type of their own; swap into RGBA.
	img := image.NewRGBA(rect)
	src, ls := f.Plane(0), f.Linesize(0)
	opaque := f.PixelFormat() == av.PixelFormatBGR0
	for y := 0; y < rows; y++ {
		in, out := src[y*ls:], img.Pix[y*img.Stride:]
		for x := 0; x < f.Width(); x++ {
			out[x*4], out[x*4+1], out[x*4+2], out[x*4+3] = in[x*4+2], in[x*4+1], in[x*4], in[x*4+3]
			if opaque {
				out[x*4+3] = 0xff
			}
		}
	}
	return img
}

func copyYUV(src, dst *av.Frame, rows int) int {
	for i := 0; i < 3; i++ {
		r := rows
		if i > 0 {
			r = (rows + 1) / 2
		}
		sl, dl := src.Linesize(i), dst.Linesize(i)
		w := min(sl, dl)
		for y := 0; y < r; y++ {
			copy(dst.Plane(i)[y*dl:y*dl+w], src.Plane(i)[y*sl:y*sl+w])
		}
	}
	return rows
}

func copyPacked(img *image.RGBA, dst *av.Frame, rows int, swap bool) {
	out, ls := dst.Plane(0), dst.Linesize(0)
	w := dst.Width()
	for y := 0; y < rows; y++ {
		in, o := img.Pix[y*img.Stride:], out[y*ls:]
		copy(o[:w*4], in[:w*4])
		if swap {
			for x := 0; x < w; x++ {
				o[x*4], o[x*4+2] = o[x*4+2], o[x*4]
			}
		}
	}
}

// rgbaToYUV420 converts to BT.601 limited range. Chroma is the rounded mean
// of each 2x2 block.
func rgbaToYUV420(img *image.RGBA, dst *av.Frame, rows int) {
	w := dst.Width()
	yp, ys := dst.Plane(0), dst.Linesize(0)
	up, vp, cs := dst.Plane(1), dst.Plane(2), dst.Linesize(1)

	for cy := 0; cy < (rows+1)/2; cy++ {
		for cx := 0; cx < (w+1)/2; cx++ {
			var sumU, sumV, n int
			for dy := 0; dy < 2; dy++ {
				y := cy*2 + dy
				if y >= rows {
					continue
				}
				for dx := 0; dx < 2; dx++ {
					x := cx*2 + dx
					if x >= w {
						continue
					}
					p := img.Pix[y*img.Stride+x*4:]
					yy, u, v := rgbToYUV(int(p[0]), int(p[1]), int(p[2]))
					yp[y*ys+x] = uint8(yy)
					sumU += u
					sumV += v
					n++
				}
			}
			up[cy*cs+cx] = uint8((sumU + n/2) / n)
			vp[cy*cs+cx] = uint8((sumV + n/2) / n)
		}
	}
}

func rgbToYUV(r, g, b int) (y, u, v int) {
	y = ((66*r+129*g+25*b+128)>>8 + 16)
	u = ((-38*r-74*g+112*b+128)>>8 + 128)
	v = ((112*r-94*g-18*b+128)>>8 + 128)
	return
}
