package scheduling

import (
	"testing"
	"time"
)

func scheduleNetValue(s Schedule) float64 {
	total := 0.0
	for _, b := range s.Blocks {
		total += b.OverflowPrice
		switch b.BlockType {
		case Use:
			total += b.Price
		case Charge:
			total -= b.Price
		}
	}
	return total
}

func TestDPBoundNeverBelowOptimizerChoice(t *testing.T) {
	tariffs := s1Tariffs()
	netProd := make([]float64, UnitsPerDay)
	for h := 10; h <= 14; h++ {
		for q := 0; q < 4; q++ {
			netProd[h*4+q] = 1.0
		}
	}
	params := testParams()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	schedule := Optimize(0, tariffs, netProd, 0, 0, now, params)
	optimizerValue := scheduleNetValue(schedule)

	bound := dpBound(netProd, tariffs, 10, params, defaultDPBoundParams())

	if bound < optimizerValue-1e-6 {
		t.Fatalf("expected DP bound (%v) to be at least the optimizer's chosen net value (%v)", bound, optimizerValue)
	}
}
