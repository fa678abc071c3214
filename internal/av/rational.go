package av

import "fmt"

// Rational is a num/den pair, used for time bases and frame rates.
type Rational struct {
	Num int
	Den int
}

func NewRational(num, den int) Rational {
	return Rational{Num: num, Den: den}
}

// Invert returns den/num.
func (r Rational) Invert() Rational {
	return Rational{Num: r.Den, Den: r.Num}
}

func (r Rational) IsZero() bool {
	return r.Num == 0 || r.Den == 0
}

func (r Rational) Float64() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// Rescale converts v expressed in from units into to units, rounding to the
// nearest integer.
func Rescale(v int64, from, to Rational) int64 {
	if from.IsZero() || to.IsZero() {
		return v
	}
	num := v * int64(from.Num) * int64(to.Den)
	den := int64(from.Den) * int64(to.Num)
	if den == 0 {
		return v
	}
	if (num < 0) != (den < 0) {
		return (num - den/2) / den
	}
	return (num + den/2) / den
}
