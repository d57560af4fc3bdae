// Package codec provides the bitstream-level helpers shared by the demuxers
// and the transcoding pipeline: timebase math, Annex B conversion, AAC
// configuration synthesis, the audio sample FIFO, and the H.264 parameter
// set cache.
package codec

// Rational is an exact timebase expressed as num/den seconds per tick.
type Rational struct {
	Num int64
	Den int64
}

// Common timebases.
var (
	// TB90k is the MPEG-TS timebase, 90 kHz.
	TB90k = Rational{1, 90000}

	// TBMillis is the video encoder timebase, 1 ms ticks.
	TBMillis = Rational{1, 1000}
)

// SampleRateTB returns the audio encoder timebase for a sample rate, one
// tick per sample.
func SampleRateTB(rate int) Rational {
	return Rational{1, int64(rate)}
}

// Rescale converts a tick count from one timebase to another using integer
// arithmetic, rounding half away from zero:
//
//	q' = round(q * from.Num * to.Den / (from.Den * to.Num))
func Rescale(q int64, from, to Rational) int64 {
	num := from.Num * to.Den
	den := from.Den * to.Num
	if den < 0 {
		num, den = -num, -den
	}
	v := q * num
	if v >= 0 {
		return (v + den/2) / den
	}
	return (v - den/2) / den
}

// ToSeconds returns the tick count as floating seconds, for durations and
// diagnostics only. Timestamp math stays integer.
func (r Rational) ToSeconds(q int64) float64 {
	return float64(q) * float64(r.Num) / float64(r.Den)
}
