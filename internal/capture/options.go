package capture

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/babelcloud/gbox/packages/xgrab/internal/av"
)

// Options are format specific key/value settings, named after the matching
// libavdevice options where one exists.
type Options map[string]string

var frameRateAbbr = map[string]av.Rational{
	"ntsc":      av.NewRational(30000, 1001),
	"ntsc-film": av.NewRational(24000, 1001),
	"pal":       av.NewRational(25, 1),
	"film":      av.NewRational(24, 1),
}

// String returns the value for key or def.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok && v != "" {
		return v
	}
	return def
}

// Int returns the integer value for key or def.
func (o Options) Int(key string, def int) (int, error) {
	v, ok := o[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, errors.Wrapf(err, "option %s", key)
	}
	return n, nil
}

// Bool returns the boolean value for key or def.
func (o Options) Bool(key string, def bool) (bool, error) {
	v, ok := o[key]
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, errors.Wrapf(err, "option %s", key)
	}
	return b, nil
}

// FrameRate parses "30", "30000/1001", "29.97" or an abbreviation such as
// "ntsc".
func (o Options) FrameRate(key string, def av.Rational) (av.Rational, error) {
	v := strings.TrimSpace(o[key])
	if v == "" {
		return def, nil
	}
	if r, ok := frameRateAbbr[v]; ok {
		return r, nil
	}
	if num, den, ok := strings.Cut(v, "/"); ok {
		n, err1 := strconv.Atoi(num)
		d, err2 := strconv.Atoi(den)
		if err1 != nil || err2 != nil || n <= 0 || d <= 0 {
			return av.Rational{}, errors.Errorf("option %s: invalid rate %q", key, v)
		}
		return av.NewRational(n, d), nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return av.Rational{}, errors.Errorf("option %s: invalid rate %q", key, v)
	}
	if f == float64(int(f)) {
		return av.NewRational(int(f), 1), nil
	}
	return av.NewRational(int(f*1001+0.5), 1001), nil
}

// VideoSize parses "WxH". A missing key yields 0x0.
func (o Options) VideoSize(key string) (w, h int, err error) {
	v := strings.TrimSpace(o[key])
	if v == "" {
		return 0, 0, nil
	}
	ws, hs, ok := strings.Cut(strings.ToLower(v), "x")
	if !ok {
		return 0, 0, errors.Errorf("option %s: invalid size %q", key, v)
	}
	w, err1 := strconv.Atoi(ws)
	h, err2 := strconv.Atoi(hs)
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, 0, errors.Errorf("option %s: invalid size %q", key, v)
	}
	return w, h, nil
}
