// Package sun computes solar geometry (declination, elevation, azimuth)
// and per-day sun extremes (peak elevation, sunrise/sunset minute) used
// by the production estimator.
package sun

import (
	"math"
	"time"

	"github.com/sixdouglas/suncalc"
)

const (
	degToRad = math.Pi / 180.0
	radToDeg = 180.0 / math.Pi

	// axialTilt is Earth's axial tilt in degrees, negated to match the
	// medium-precision declination approximation's sign convention.
	axialTilt = -23.44
)

// Declination returns the solar declination in degrees for the given
// date, using the standard medium-precision approximation.
func Declination(date time.Time) float64 {
	d := float64(date.YearDay())
	inner := 2*math.Pi/365.24*(d-2) + 2*0.0167*math.Sin(2*math.Pi/365.24*(d-2))
	arg := math.Sin(axialTilt*degToRad) * math.Cos(2*math.Pi/365.24*(d+10)+2*0.0167*math.Sin(inner))
	return math.Asin(arg) * radToDeg
}

// equationOfTimeMinutes approximates the equation of time in minutes
// for the given day of year.
func equationOfTimeMinutes(dayOfYear float64) float64 {
	b := 2 * math.Pi * (dayOfYear - 81) / 364
	return 9.87*math.Sin(2*b) - 7.53*math.Cos(b) - 1.5*math.Sin(b)
}

// localSolarTimeHours returns the local solar time (hours, 0-24) for
// the given UTC timestamp and longitude.
func localSolarTimeHours(ts time.Time, long float64) float64 {
	utc := ts.UTC()
	d := float64(utc.YearDay())
	eot := equationOfTimeMinutes(d)
	hours := float64(utc.Hour()) + float64(utc.Minute())/60 + float64(utc.Second())/3600
	return hours + long/15 + eot/60
}

// Elevation returns the sun's elevation angle in degrees at ts for the
// given latitude/longitude and a precomputed declination. Negative
// values mean the sun is below the horizon.
func Elevation(ts time.Time, lat, long, declination float64) float64 {
	solarTime := localSolarTimeHours(ts, long)
	hourAngle := (solarTime - 12) * 15 * degToRad

	latRad := lat * degToRad
	declRad := declination * degToRad

	sinElev := math.Sin(latRad)*math.Sin(declRad) + math.Cos(latRad)*math.Cos(declRad)*math.Cos(hourAngle)
	sinElev = math.Max(-1, math.Min(1, sinElev))
	return math.Asin(sinElev) * radToDeg
}

// Azimuth returns the sun's azimuth angle in degrees (0=north,
// clockwise) at ts for the given latitude/longitude and precomputed
// declination.
func Azimuth(ts time.Time, lat, long, declination float64) float64 {
	solarTime := localSolarTimeHours(ts, long)
	hourAngle := (solarTime - 12) * 15 * degToRad

	latRad := lat * degToRad
	declRad := declination * degToRad
	elevRad := Elevation(ts, lat, long, declination) * degToRad

	cosAz := (math.Sin(declRad) - math.Sin(latRad)*math.Sin(elevRad)) / (math.Cos(latRad) * math.Cos(elevRad))
	cosAz = math.Max(-1, math.Min(1, cosAz))
	az := math.Acos(cosAz) * radToDeg

	if math.Sin(hourAngle) > 0 {
		az = 360 - az
	}
	return az
}

// Extremes holds per-day sun geometry extremes used to scale the PV
// curve and to bound the minute scan in the production estimator.
type Extremes struct {
	MaxElevation float64
	SunriseMin   int // minute of day, 0..1439
	SunsetMin    int
}

// DayExtremes precomputes the peak elevation and sunrise/sunset minute
// for the given local date at (lat, long) by scanning minute-of-day
// elevation against a 0-degree horizon. If the closed-form scan fails
// to bracket a sunrise/sunset within the day (can happen near the
// poles), it falls back to suncalc's almanac-based
// GetTimes/GetPosition.
func DayExtremes(date time.Time, lat, long float64) Extremes {
	return DayExtremesAt(date, lat, long, 0, 0)
}

// DayExtremesAt is DayExtremes generalized with independent
// sunrise/sunset elevation-angle thresholds, matching the
// configurable sunrise_angle/sunset_angle production parameters:
// sunrise is the first minute whose elevation exceeds sunriseAngle,
// sunset the last minute whose elevation exceeds sunsetAngle.
func DayExtremesAt(date time.Time, lat, long, sunriseAngle, sunsetAngle float64) Extremes {
	decl := Declination(date)
	midnight := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)

	maxElev := -90.0
	sunrise, sunset := -1, -1
	for m := 0; m < 1440; m++ {
		ts := midnight.Add(time.Duration(m) * time.Minute)
		elev := Elevation(ts, lat, long, decl)
		if elev > maxElev {
			maxElev = elev
		}
		if sunrise == -1 && elev > sunriseAngle {
			sunrise = m
		}
		if elev > sunsetAngle {
			sunset = m
		}
	}

	if sunrise == -1 || sunset == -1 || sunset <= sunrise {
		return fallbackExtremes(midnight, lat, long, maxElev)
	}

	return Extremes{MaxElevation: maxElev, SunriseMin: sunrise, SunsetMin: sunset}
}

func fallbackExtremes(midnight time.Time, lat, long, maxElev float64) Extremes {
	times := suncalc.GetTimes(midnight, lat, long)
	sunrise := times["sunrise"].Value
	sunset := times["sunset"].Value

	if sunrise.IsZero() || sunset.IsZero() {
		// Polar day or polar night: treat as always-up or always-down.
		pos := suncalc.GetPosition(midnight.Add(12*time.Hour), lat, long)
		if pos.Altitude > 0 {
			return Extremes{MaxElevation: maxElev, SunriseMin: 0, SunsetMin: 1439}
		}
		return Extremes{MaxElevation: maxElev, SunriseMin: 0, SunsetMin: 0}
	}

	sunriseMin := sunrise.Sub(midnight).Minutes()
	sunsetMin := sunset.Sub(midnight).Minutes()
	return Extremes{
		MaxElevation: maxElev,
		SunriseMin:   int(math.Round(sunriseMin)),
		SunsetMin:    int(math.Round(sunsetMin)),
	}
}
