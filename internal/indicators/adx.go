package indicators

import "github.com/shopspring/decimal"

const adxTrendThreshold = 18.0

// ADXReading is the output of one ADX.Update call.
type ADXReading struct {
	PlusDI      float64
	MinusDI     float64
	DX          float64
	ADX         float64
	TrendStrong bool
	Usable      bool
}

// ADX computes the Average Directional Index via Wilder's smoothing of
// +DM/-DM and true range, the way the original feature pipeline does
// it: S_n = S_{n-1}*(p-1)/p + x_n/p. Unusable until p+1 bars have
// been observed.
type ADX struct {
	period int

	havePrev bool
	prevHigh, prevLow, prevClose decimal.Decimal

	smoothedPlusDM, smoothedMinusDM, smoothedTR float64
	haveSmoothed bool

	smoothedDX float64
	haveADX    bool

	barsSeen int
}

// NewADX constructs an ADX indicator over the given period (typically 14).
func NewADX(period int) *ADX {
	return &ADX{period: period}
}

// Update feeds one bar's OHLC and returns the current ADX reading.
func (a *ADX) Update(high, low, close decimal.Decimal) ADXReading {
	a.barsSeen++
	if !a.havePrev {
		a.prevHigh, a.prevLow, a.prevClose = high, low, close
		a.havePrev = true
		return ADXReading{Usable: false}
	}

	upMove := high.Sub(a.prevHigh).InexactFloat64()
	downMove := a.prevLow.Sub(low).InexactFloat64()

	plusDM := 0.0
	if upMove > downMove && upMove > 0 {
		plusDM = upMove
	}
	minusDM := 0.0
	if downMove > upMove && downMove > 0 {
		minusDM = downMove
	}

	hl := high.Sub(low)
	hc := high.Sub(a.prevClose).Abs()
	lc := low.Sub(a.prevClose).Abs()
	tr := decimal.Max(hl, decimal.Max(hc, lc)).InexactFloat64()

	a.prevHigh, a.prevLow, a.prevClose = high, low, close

	p := float64(a.period)
	if !a.haveSmoothed {
		a.smoothedPlusDM += plusDM
		a.smoothedMinusDM += minusDM
		a.smoothedTR += tr
		if a.barsSeen < a.period+1 {
			return ADXReading{Usable: false}
		}
		a.smoothedPlusDM /= p
		a.smoothedMinusDM /= p
		a.smoothedTR /= p
		a.haveSmoothed = true
	} else {
		a.smoothedPlusDM = a.smoothedPlusDM*(p-1)/p + plusDM/p
		a.smoothedMinusDM = a.smoothedMinusDM*(p-1)/p + minusDM/p
		a.smoothedTR = a.smoothedTR*(p-1)/p + tr/p
	}

	if a.smoothedTR == 0 {
		return ADXReading{Usable: false}
	}

	plusDI := 100.0 * a.smoothedPlusDM / a.smoothedTR
	minusDI := 100.0 * a.smoothedMinusDM / a.smoothedTR

	diSum := plusDI + minusDI
	dx := 0.0
	if diSum > 0 {
		dx = 100.0 * absFloat(plusDI-minusDI) / diSum
	}

	if !a.haveADX {
		a.smoothedDX = dx
		a.haveADX = true
	} else {
		a.smoothedDX = a.smoothedDX*(p-1)/p + dx/p
	}

	return ADXReading{
		PlusDI:      plusDI,
		MinusDI:     minusDI,
		DX:          dx,
		ADX:         a.smoothedDX,
		TrendStrong: a.smoothedDX >= adxTrendThreshold,
		Usable:      true,
	}
}

// Reset clears all smoothing state for a new session.
func (a *ADX) Reset() {
	*a = ADX{period: a.period}
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
