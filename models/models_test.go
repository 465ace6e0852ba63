package models

import (
	"math"
	"testing"
)

func TestFilterPrice(t *testing.T) {
	if FilterPrice(math.MaxFloat64) != nil {
		t.Fatal("absent sentinel survived")
	}
	if FilterPrice(math.NaN()) != nil {
		t.Fatal("NaN survived")
	}
	p := FilterPrice(3500.5)
	if p == nil || *p != 3500.5 {
		t.Fatalf("real price mangled: %v", p)
	}
	z := FilterPrice(0)
	if z == nil || *z != 0 {
		t.Fatal("zero is a valid price")
	}
}

func TestPriceDecimals(t *testing.T) {
	cases := []struct {
		tick float64
		want int
	}{
		{0.2, 1},
		{0.01, 2},
		{0.5, 1},
		{1, 2},
		{5, 2},
	}
	for _, c := range cases {
		inst := Instrument{PriceTick: c.tick}
		if got := inst.PriceDecimals(); got != c.want {
			t.Errorf("PriceDecimals(tick %v) = %d, want %d", c.tick, got, c.want)
		}
	}
}

func TestLevelByName(t *testing.T) {
	price := 3500.0
	tick := Tick{
		Bid1: Level{Price: &price, Volume: 10},
		Ask5: Level{Volume: 3},
	}
	l, ok := tick.LevelByName("bid1")
	if !ok || l.Price == nil || *l.Price != 3500 || l.Volume != 10 {
		t.Fatalf("bid1 = %+v, %v", l, ok)
	}
	if l, ok := tick.LevelByName("ask5"); !ok || l.Volume != 3 {
		t.Fatalf("ask5 = %+v, %v", l, ok)
	}
	if _, ok := tick.LevelByName("mid1"); ok {
		t.Fatal("unknown level accepted")
	}
}

func TestErrorKinds(t *testing.T) {
	if !IsValidation(Validationf("volume <%d> must be a non-zero integer", 0)) {
		t.Fatal("Validationf not recognised")
	}
	if !IsTimeout(&TimeoutError{Op: "query orders"}) {
		t.Fatal("timeout not recognised")
	}
	if IsTimeout(Validationf("x")) || IsValidation(&TimeoutError{}) {
		t.Fatal("error kinds crossed")
	}
	if (&RemoteRejectedError{Code: -2}).Error() != "gateway unhandled request queue full" {
		t.Fatal("queue-full message wrong")
	}
}
