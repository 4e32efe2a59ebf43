// Package production estimates hourly photovoltaic output from a
// weather forecast, geographic sun geometry and a configured
// normalized per-minute PV curve.
package production

import (
	"math"
	"sort"
	"time"

	"github.com/gostonefire/mygrid/sun"
	"gonum.org/v1/gonum/interp"
)

// AzimuthSlope is a linear (m, b) coefficient pair used to derate
// production when the sun's azimuth is far from the panel heading.
type AzimuthSlope struct {
	M float64
	B float64
}

// Params holds the configured, site-specific production parameters
// (spec's "production" TOML group).
type Params struct {
	MinPVPower          float64
	MaxPVPower           float64
	CloudImpactFactor    float64
	SummerSolsticeMonth  int
	SummerSolsticeDay    int
	WinterSolsticeMonth  int
	WinterSolsticeDay    int
	SunriseAngle         float64
	SunsetAngle          float64
	VisibilityAlt        float64
	AzimuthAM            AzimuthSlope
	AzimuthPM            AzimuthSlope
	Diagram              [1440]float64 // normalized per-minute PV curve, sunrise->sunset mapped to 0..1439
}

// ForecastSample is an hour-aligned weather sample feeding the
// production and consumption estimators.
type ForecastSample struct {
	ValidTime time.Time
	TempC     float64
	LowCloud  float64 // cloud-area fraction, percent in [0,100]
	MidCloud  float64
	HighCloud float64
	// CloudFactor is precomputed by the forecast client as
	// prod(1 - c_i/100 * w_i) over the three cloud layers.
	CloudFactor float64
}

// Sample is an hour- or minute-aligned production estimate (kWh for
// that period).
type Sample struct {
	ValidTime time.Time
	Power     float64
}

// Estimator computes PV production estimates for a location given
// configured parameters.
type Estimator struct {
	params Params
	lat    float64
	long   float64
}

// NewEstimator returns an Estimator for the given location and
// production parameters.
func NewEstimator(params Params, lat, long float64) *Estimator {
	return &Estimator{params: params, lat: lat, long: long}
}

// Estimate computes hourly production samples (aligned to the
// forecast) and a finer per-5-minute curve (used for plotting /
// backup), following spec §4.B steps 1-5.
func (e *Estimator) Estimate(forecast []ForecastSample) (hourly []Sample, curve []Sample) {
	now := time.Now()
	maxSouthElev := e.maxSunElevation(now.Year(), e.params.SummerSolsticeMonth, e.params.SummerSolsticeDay)
	minSouthElev := e.maxSunElevation(now.Year(), e.params.WinterSolsticeMonth, e.params.WinterSolsticeDay)

	var minuteSamples []Sample

	for _, v := range forecast {
		daySouthElev, sunriseMin, sunsetMin := e.sunExtremes(v.ValidTime)
		maxDayPower := e.maxDayPower(daySouthElev, minSouthElev, maxSouthElev)

		sunrise := float64(sunriseMin)
		sunset := float64(sunsetMin)
		factor := 1439.0 / (sunset - sunrise)

		cloudFactor := v.CloudFactor*e.params.CloudImpactFactor + (1.0 - e.params.CloudImpactFactor)

		start := float64(v.ValidTime.Hour() * 60)
		end := start + 59.0

		if !((end >= sunrise || start >= sunrise) && (start <= sunset || end <= sunset)) {
			hourly = append(hourly, Sample{ValidTime: v.ValidTime, Power: 0})
			continue
		}

		borderFactor := 1.0
		if sunrise > start && sunrise <= end {
			borderFactor = (end - sunrise) / (end - start)
			start = sunrise
		}
		if sunset < end && sunset >= start {
			borderFactor = (sunset - start) / (end - start)
			end = sunset
		}

		startIdx := int(math.Max(0, math.Round((start-sunrise)*factor)))
		endIdx := int(math.Min(1439, math.Round((end-sunrise)*factor)))

		if startIdx == endIdx {
			hourly = append(hourly, Sample{ValidTime: v.ValidTime, Power: 0})
			continue
		}

		sum := 0.0
		for i := startIdx; i < endIdx; i++ {
			vis, dt := e.visibility(i, factor, sunrise, v.ValidTime)
			power := e.params.Diagram[i] * maxDayPower * vis
			minuteSamples = append(minuteSamples, Sample{ValidTime: dt, Power: power})
			sum += power
		}

		kwh := sum / float64(endIdx-startIdx) * borderFactor * cloudFactor
		hourly = append(hourly, Sample{ValidTime: v.ValidTime, Power: kwh})
	}

	curve = e.factorInCloud(groupOnTime(minuteSamples), forecast)
	return hourly, curve
}

// factorInCloud smooths a per-minute-grouped curve by the cloud
// factor, via a monotonic cubic spline over the forecast's hourly
// cloud factors, so the resulting curve doesn't show hour-boundary
// steps.
func (e *Estimator) factorInCloud(data []Sample, forecast []ForecastSample) []Sample {
	if len(forecast) < 2 || len(data) == 0 {
		return data
	}

	x := make([]float64, len(forecast))
	y := make([]float64, len(forecast))
	for i, f := range forecast {
		x[i] = float64(f.ValidTime.Unix())
		y[i] = f.CloudFactor*e.params.CloudImpactFactor + (1.0 - e.params.CloudImpactFactor)
	}

	var fb interp.FritschButland
	if err := fb.Fit(x, y); err != nil {
		return data
	}

	result := make([]Sample, len(data))
	for i, p := range data {
		t := float64(p.ValidTime.Unix())
		t = math.Max(x[0], math.Min(x[len(x)-1], t))
		factor := fb.Predict(t)
		factor = math.Max(0, math.Min(1, factor))
		result[i] = Sample{ValidTime: p.ValidTime, Power: p.Power * factor}
	}
	return result
}

// groupOnTime buckets per-minute samples into 5-minute averages.
func groupOnTime(data []Sample) []Sample {
	type bucket struct {
		sum   float64
		count float64
	}
	buckets := make(map[int64]*bucket)
	order := make([]int64, 0)

	for _, d := range data {
		key := d.ValidTime.Truncate(5 * time.Minute).Unix()
		b, ok := buckets[key]
		if !ok {
			b = &bucket{}
			buckets[key] = b
			order = append(order, key)
		}
		b.sum += d.Power
		b.count++
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	result := make([]Sample, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		result = append(result, Sample{ValidTime: time.Unix(key, 0).UTC(), Power: b.sum / b.count})
	}
	return result
}

// visibility reduces production when the sun is behind local
// obstructions (configured visibility_alt) or far off panel heading
// in azimuth (configured AM/PM slopes).
func (e *Estimator) visibility(idx int, factor, sunrise float64, date time.Time) (float64, time.Time) {
	visStart := e.params.VisibilityAlt
	visDone := e.params.VisibilityAlt + 2.0

	secondOfDay := int(math.Round((float64(idx)/factor + sunrise) * 60.0))
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	dt := dayStart.Add(time.Duration(secondOfDay) * time.Second)

	decl := sun.Declination(dt)
	alt := sun.Elevation(dt, e.lat, e.long, decl)
	azi := sun.Azimuth(dt, e.lat, e.long, decl)

	var vFactor float64
	if azi < 180.0 {
		azf := math.Min(1.0, azi*e.params.AzimuthAM.M+e.params.AzimuthAM.B)
		var obf float64
		switch {
		case alt < visStart:
			obf = 0.15
		case alt <= visDone:
			obf = 1.0 - (visDone-alt)*0.425
		default:
			obf = 1.0
		}
		vFactor = azf * obf
	} else {
		vFactor = math.Min(1.0, azi*e.params.AzimuthPM.M+e.params.AzimuthPM.B)
	}

	return vFactor, dt
}

// maxDayPower scales [MinPVPower, MaxPVPower] by how close today's
// peak elevation is to the summer solstice peak, relative to the
// winter solstice peak.
func (e *Estimator) maxDayPower(daySouthElev, minSouthElev, maxSouthElev float64) float64 {
	sunTopFactor := math.Max(0, daySouthElev-minSouthElev) / (maxSouthElev - minSouthElev)
	power := (e.params.MaxPVPower-e.params.MinPVPower)*sunTopFactor + e.params.MinPVPower
	return math.Max(e.params.MinPVPower, math.Min(e.params.MaxPVPower, power))
}

// maxSunElevation returns the peak elevation (hourly granularity)
// reached on the given month/day in the given year, used to locate
// the summer/winter solstice peak elevations.
func (e *Estimator) maxSunElevation(year, month, day int) float64 {
	maxElevation := 0.0
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	for hour := 0; hour <= 23; hour++ {
		dt := d.Add(time.Duration(hour) * time.Hour)
		decl := sun.Declination(dt)
		elev := sun.Elevation(dt, e.lat, e.long, decl)
		if elev > maxElevation {
			maxElevation = elev
		}
	}
	return maxElevation
}

// sunExtremes returns (peak elevation, sunrise minute, sunset minute)
// for the day containing ts, using the configured sunrise/sunset
// elevation-angle thresholds.
func (e *Estimator) sunExtremes(ts time.Time) (float64, int, int) {
	ext := sun.DayExtremesAt(ts, e.lat, e.long, e.params.SunriseAngle, e.params.SunsetAngle)
	return ext.MaxElevation, ext.SunriseMin, ext.SunsetMin
}

// DefaultParams returns documented default production parameters,
// matching the literal constants used by the reference implementation
// this spec was distilled from, as a starting point for site tuning.
func DefaultParams() Params {
	return Params{
		MinPVPower:          0.2,
		MaxPVPower:          6.0,
		CloudImpactFactor:   0.75,
		SummerSolsticeMonth: 6,
		SummerSolsticeDay:   21,
		WinterSolsticeMonth: 12,
		WinterSolsticeDay:   21,
		SunriseAngle:        -2,
		SunsetAngle:         -2,
		VisibilityAlt:       5,
		AzimuthAM:           AzimuthSlope{M: (1.0 - 0.0) / (100.0 - 0.0), B: 0.0},
		AzimuthPM:           AzimuthSlope{M: (0.0 - 1.0) / (360.0 - 245.0), B: 0 - 360.0*((0.0-1.0)/(360.0-245.0))},
	}
}
