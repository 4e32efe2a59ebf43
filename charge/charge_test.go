package charge

import (
	"math"
	"testing"
	"time"
)

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestUpdateStoredChargeCostStrictlyIncreasingUnchanged(t *testing.T) {
	cost := UpdateStoredChargeCost([]int{20, 30, 40, 50}, 1.0)
	if !approxEqual(cost, 1.0) {
		t.Fatalf("expected unchanged cost for strictly increasing history, got %v", cost)
	}
}

func TestUpdateStoredChargeCostResetsOnFloorSOC(t *testing.T) {
	cost := UpdateStoredChargeCost([]int{80, 60, 40, 10, 15, 25, 40}, 1.0)
	if cost != 0 {
		t.Fatalf("expected reset to 0 when history touches floor SoC, got %v", cost)
	}
}

func TestUpdateStoredChargeCostDilutesAroundInteriorValley(t *testing.T) {
	cost := UpdateStoredChargeCost([]int{50, 70, 60, 80}, 1.0)
	want := (60.0 / 70.0) * (60.0 / 80.0)
	if !approxEqual(cost, want) {
		t.Fatalf("expected %v, got %v", want, cost)
	}
}

func TestSOCToAvailableChargeClampsFloor(t *testing.T) {
	if c := SOCToAvailableCharge(5, 1.0); c != 0 {
		t.Fatalf("expected 0 below floor, got %v", c)
	}
	if c := SOCToAvailableCharge(60, 2.0); c != 100 {
		t.Fatalf("expected (60-10)*2=100, got %v", c)
	}
}

func TestLastChargeValidWithinWindow(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	fresh := LastCharge{DateTimeEnd: now.Add(-10 * time.Hour)}
	stale := LastCharge{DateTimeEnd: now.Add(-24 * time.Hour)}

	if !fresh.Valid(now) {
		t.Fatalf("expected fresh charge to be valid")
	}
	if stale.Valid(now) {
		t.Fatalf("expected stale charge to be invalid")
	}
}
