package indicators

import "github.com/shopspring/decimal"

const relVolSpikeMultiplier = 1.5

// RelVolReading is the output of one RelativeVolume.Update call.
type RelVolReading struct {
	RelVol float64
	Spike  bool
	Usable bool
}

// RelativeVolume compares the current bar's volume against the mean
// of the prior `window` bars via a fixed-size ring buffer.
type RelativeVolume struct {
	window int
	ring   []decimal.Decimal
	pos    int
	filled bool
}

// NewRelativeVolume constructs a relative-volume indicator over the
// given trailing window (typically 20 bars).
func NewRelativeVolume(window int) *RelativeVolume {
	return &RelativeVolume{window: window, ring: make([]decimal.Decimal, window)}
}

// Update feeds one bar's volume and reports the ratio to the mean of
// the prior window's volumes. The bar itself is excluded from its own
// baseline. Unusable until the ring has window prior observations.
func (r *RelativeVolume) Update(volume decimal.Decimal) RelVolReading {
	if !r.filled {
		r.ring[r.pos] = volume
		r.pos = (r.pos + 1) % r.window
		if r.pos == 0 {
			r.filled = true
		}
		return RelVolReading{Usable: false}
	}

	sum := decimal.Zero
	for _, v := range r.ring {
		sum = sum.Add(v)
	}
	mean := sum.DivRound(decimal.NewFromInt(int64(r.window)), decimalPrecision)

	relVol := 1.0
	if !mean.IsZero() {
		relVol = volume.Div(mean).InexactFloat64()
	}

	r.ring[r.pos] = volume
	r.pos = (r.pos + 1) % r.window

	return RelVolReading{
		RelVol: relVol,
		Spike:  relVol >= relVolSpikeMultiplier,
		Usable: true,
	}
}

// Reset clears the ring buffer for a new session.
func (r *RelativeVolume) Reset() {
	r.ring = make([]decimal.Decimal, r.window)
	r.pos = 0
	r.filled = false
}
