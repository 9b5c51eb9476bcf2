package risk_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/orbquant/orb-backtester/internal/risk"
	"github.com/orbquant/orb-backtester/pkg/types"
)

func barAt(ts time.Time, o, h, l, c string) types.Bar {
	return types.Bar{Timestamp: ts, Open: d(o), High: d(h), Low: d(l), Close: d(c), Volume: d("1000")}
}

func TestVolatilityTrailOnlyMovesInFavorableDirection(t *testing.T) {
	v := risk.NewVolatilityTrailingStop(types.Long, d("95"), d("1"))
	ts := time.Now()

	upd := v.Update(barAt(ts, "100", "101", "99", "100.5"), d("100"), d("2"))
	if upd == nil {
		t.Fatalf("expected a stop improvement on the first update")
	}
	if !v.CurrentStop().Equal(d("98")) {
		t.Fatalf("CurrentStop = %s, want 98 (highestFavorable 100 - atrMultiple*atr 2)", v.CurrentStop())
	}

	// A lower highestFavorable on a later bar must not pull the stop down.
	upd = v.Update(barAt(ts.Add(time.Minute), "100", "100", "99", "99.5"), d("99"), d("2"))
	if upd != nil {
		t.Fatalf("expected no update when the candidate stop does not improve")
	}
	if !v.CurrentStop().Equal(d("98")) {
		t.Fatalf("CurrentStop = %s, want unchanged 98", v.CurrentStop())
	}
}

func TestVolatilityTrailShortDirection(t *testing.T) {
	v := risk.NewVolatilityTrailingStop(types.Short, d("105"), d("1"))
	ts := time.Now()

	upd := v.Update(barAt(ts, "100", "100.5", "98", "98.5"), d("98"), d("2"))
	if upd == nil {
		t.Fatalf("expected a stop improvement")
	}
	if !v.CurrentStop().Equal(d("100")) {
		t.Fatalf("CurrentStop = %s, want 100 (highestFavorable 98 + atrMultiple*atr 2)", v.CurrentStop())
	}
}

func TestPivotTrailTracksConfirmedSwingLow(t *testing.T) {
	p := risk.NewPivotTrailingStop(types.Long, d("90"), 1)
	ts := time.Now()

	// Three bars: a low at the center (index 1) confirmed by a higher
	// low on each side, forming one swing low at 95.
	p.Update(barAt(ts, "100", "101", "99", "100.5"), d("101"))
	upd := p.Update(barAt(ts.Add(time.Minute), "99", "100", "95", "99.5"), d("101"))
	_ = upd
	upd = p.Update(barAt(ts.Add(2*time.Minute), "99.5", "100.5", "98", "100"), d("101"))

	if upd == nil {
		t.Fatalf("expected the confirmed swing low to produce a stop update")
	}
	if !p.CurrentStop().Equal(d("95")) {
		t.Fatalf("CurrentStop = %s, want the confirmed swing low 95", p.CurrentStop())
	}
}

func TestPivotTrailIgnoresPivotsAtOrAboveHighestFavorable(t *testing.T) {
	p := risk.NewPivotTrailingStop(types.Long, d("90"), 1)
	ts := time.Now()

	// Same swing-low shape as above, but highestFavorable (94) is now
	// below the pivot (95): the pivot is stale and must be rejected.
	p.Update(barAt(ts, "100", "101", "99", "100.5"), d("94"))
	p.Update(barAt(ts.Add(time.Minute), "99", "100", "95", "99.5"), d("94"))
	upd := p.Update(barAt(ts.Add(2*time.Minute), "99.5", "100.5", "98", "100"), d("94"))

	if upd != nil {
		t.Fatalf("expected no update: the only detected pivot is not below highestFavorable")
	}
	if !p.CurrentStop().Equal(d("90")) {
		t.Fatalf("CurrentStop = %s, want the untouched initial stop 90", p.CurrentStop())
	}
}

func TestHybridTrailKeepsBetterOfVolAndPivot(t *testing.T) {
	h := risk.NewHybridTrailingStop(types.Long, d("90"), d("1"), 1)
	ts := time.Now()

	h.Update(barAt(ts, "100", "101", "99", "100.5"), d("2"))
	h.Update(barAt(ts.Add(time.Minute), "99", "100", "95", "99.5"), d("2"))
	h.Update(barAt(ts.Add(2*time.Minute), "99.5", "100.5", "98", "100"), d("2"))

	// highestFavorable tracks the running bar high (101), so the vol
	// trail sits at 101-2=99, comfortably above the 95 swing-low pivot.
	if !h.CurrentStop().Equal(d("99")) {
		t.Fatalf("CurrentStop = %s, want 99 (the volatility trail, which is tighter than the 95 pivot)", h.CurrentStop())
	}
}

func TestTrailingStopManagerDispatchesByMode(t *testing.T) {
	mgr := risk.NewTrailingStopManager(types.ExitTrailVol, types.Long, d("95"), d("1"), 1)
	ts := time.Now()

	upd := mgr.Update(barAt(ts, "100", "101", "99", "100.5"), d("100"), d("2"))
	if upd == nil {
		t.Fatalf("expected an update from the volatility sub-strategy")
	}
	if !mgr.CurrentStop().Equal(d("98")) {
		t.Fatalf("CurrentStop = %s, want 98 via the vol trail", mgr.CurrentStop())
	}
	if mgr.CheckStopHit(d("97")) == false {
		t.Fatalf("expected a stop hit at price 97 against stop 98 on a long")
	}
	if mgr.CheckStopHit(d("99")) {
		t.Fatalf("did not expect a stop hit at price 99 against stop 98 on a long")
	}
}
