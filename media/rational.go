package media

import (
	"math"
	"math/bits"
)

// Rational is an exact fraction, used for track and container timebases.
type Rational struct {
	Num int64
	Den int64
}

// IsValid reports whether the rational has a nonzero numerator and
// denominator, i.e. can be used as a timebase.
func (r Rational) IsValid() bool {
	return r.Num != 0 && r.Den != 0
}

// Rescale converts v from timebase `from` to timebase `to` using exact
// rational arithmetic with 128-bit intermediates, rounding half away from
// zero. The same rule is applied to pts and dts everywhere so that
// inter-stream timing relationships are preserved over long-running
// streams; rescaling is linear and order-preserving.
func Rescale(v int64, from, to Rational) int64 {
	if !from.IsValid() || !to.IsValid() {
		return v
	}
	// Timebase components are small; the cross-products fit in int64.
	return scale(v, from.Num*to.Den, from.Den*to.Num)
}

// scale computes v*num/den rounded half away from zero. A result that
// does not fit in int64 saturates to MaxInt64 or MinInt64 instead of
// overflowing; timestamps that far out are already beyond any meaningful
// stream position.
func scale(v, num, den int64) int64 {
	neg := false
	if v < 0 {
		v, neg = -v, !neg
	}
	if num < 0 {
		num, neg = -num, !neg
	}
	if den < 0 {
		den, neg = -den, !neg
	}

	hi, lo := bits.Mul64(uint64(v), uint64(num))
	lo, carry := bits.Add64(lo, uint64(den)/2, 0)
	hi += carry
	if hi >= uint64(den) {
		// Quotient exceeds 64 bits; bits.Div64 would panic.
		return saturate(neg)
	}
	q, _ := bits.Div64(hi, lo, uint64(den))

	if neg {
		if q > 1<<63 {
			return math.MinInt64
		}
		return -int64(q)
	}
	if q > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(q)
}

func saturate(neg bool) int64 {
	if neg {
		return math.MinInt64
	}
	return math.MaxInt64
}
