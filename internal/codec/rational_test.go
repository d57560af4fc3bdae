package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRescale(t *testing.T) {
	tests := []struct {
		name string
		q    int64
		from Rational
		to   Rational
		want int64
	}{
		{"millis to 90k", 1000, TBMillis, TB90k, 90000},
		{"90k to millis", 90000, TB90k, TBMillis, 1000},
		{"samples 48k to 90k", 1024, SampleRateTB(48000), TB90k, 1920},
		{"samples 44100 to 90k", 1024, SampleRateTB(44100), TB90k, 2090},
		{"identity", 12345, TB90k, TB90k, 12345},
		{"zero", 0, TBMillis, TB90k, 0},
		{"round half away positive", 1, Rational{1, 2}, Rational{1, 1}, 1},
		{"round half away negative", -1, Rational{1, 2}, Rational{1, 1}, -1},
		{"round down", 1, Rational{1, 3}, Rational{1, 1}, 0},
		{"negative pts", -1000, TBMillis, TB90k, -90000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Rescale(tt.q, tt.from, tt.to))
		})
	}
}

func TestRationalToSeconds(t *testing.T) {
	assert.InDelta(t, 2.0, TB90k.ToSeconds(180000), 1e-9)
	assert.InDelta(t, 0.5, TBMillis.ToSeconds(500), 1e-9)
}

// 1024 samples at 44.1 kHz is 2089.79... ticks; half-away rounding must give
// 2090, not 2089.
func TestRescaleRounding(t *testing.T) {
	got := Rescale(1024, SampleRateTB(44100), TB90k)
	assert.Equal(t, int64(2090), got)
}
