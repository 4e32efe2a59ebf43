package sun

import (
	"math"
	"testing"
	"time"
)

func TestDeclinationSeasonalRange(t *testing.T) {
	summer := time.Date(2024, 6, 21, 0, 0, 0, 0, time.UTC)
	winter := time.Date(2024, 12, 21, 0, 0, 0, 0, time.UTC)

	dSummer := Declination(summer)
	dWinter := Declination(winter)

	if dSummer <= 0 {
		t.Fatalf("expected positive declination near summer solstice, got %v", dSummer)
	}
	if dWinter >= 0 {
		t.Fatalf("expected negative declination near winter solstice, got %v", dWinter)
	}
	if math.Abs(dSummer) > 24 || math.Abs(dWinter) > 24 {
		t.Fatalf("declination out of plausible range: summer=%v winter=%v", dSummer, dWinter)
	}
}

func TestElevationNoonVsMidnight(t *testing.T) {
	date := time.Date(2024, 6, 21, 0, 0, 0, 0, time.UTC)
	lat, long := 59.33, 18.07 // Stockholm
	decl := Declination(date)

	noon := date.Add(11 * time.Hour) // approx local solar noon near this longitude
	midnight := date

	elevNoon := Elevation(noon, lat, long, decl)
	elevMidnight := Elevation(midnight, lat, long, decl)

	if elevNoon <= elevMidnight {
		t.Fatalf("expected noon elevation (%v) > midnight elevation (%v)", elevNoon, elevMidnight)
	}
}

func TestDayExtremesOrdering(t *testing.T) {
	date := time.Date(2024, 6, 21, 0, 0, 0, 0, time.UTC)
	ext := DayExtremes(date, 59.33, 18.07)

	if ext.SunriseMin < 0 || ext.SunriseMin > 1439 {
		t.Fatalf("sunrise minute out of range: %d", ext.SunriseMin)
	}
	if ext.SunsetMin < 0 || ext.SunsetMin > 1439 {
		t.Fatalf("sunset minute out of range: %d", ext.SunsetMin)
	}
	if ext.SunsetMin <= ext.SunriseMin {
		t.Fatalf("expected sunset (%d) after sunrise (%d)", ext.SunsetMin, ext.SunriseMin)
	}
	if ext.MaxElevation <= 0 {
		t.Fatalf("expected positive peak elevation in summer, got %v", ext.MaxElevation)
	}
}

func TestDayExtremesWinterShorterThanSummer(t *testing.T) {
	lat, long := 59.33, 18.07
	summer := DayExtremes(time.Date(2024, 6, 21, 0, 0, 0, 0, time.UTC), lat, long)
	winter := DayExtremes(time.Date(2024, 12, 21, 0, 0, 0, 0, time.UTC), lat, long)

	summerLen := summer.SunsetMin - summer.SunriseMin
	winterLen := winter.SunsetMin - winter.SunriseMin

	if winterLen >= summerLen {
		t.Fatalf("expected shorter winter day: summer=%d winter=%d", summerLen, winterLen)
	}
	if winter.MaxElevation >= summer.MaxElevation {
		t.Fatalf("expected lower winter peak elevation: summer=%v winter=%v", summer.MaxElevation, winter.MaxElevation)
	}
}
