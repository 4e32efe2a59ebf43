// Package consumption estimates hourly household load from forecast
// temperature and a configured weekday x hour baseline matrix, via a
// monotonic cubic spline over a temperature control curve.
package consumption

import (
	"math"
	"time"

	"gonum.org/v1/gonum/interp"
)

// ControlPoint is one (temperature, load-factor) knot of the
// configured spline curve.
type ControlPoint struct {
	X float64 // temperature, degrees C
	Y float64 // load factor in [0,1]
}

// Params holds the configured, site-specific consumption parameters
// (spec's "consumption" TOML group).
type Params struct {
	MinAvgLoad float64
	MaxAvgLoad float64
	Curve      []ControlPoint
	// Baseline is a 7x24 weekday x hour baseline load matrix (kWh),
	// added to the spline-derived, temperature-driven component.
	// Row 0 = Sunday, matching time.Weekday.
	Baseline [7][24]float64
}

// ForecastSample is the minimal shape this package needs from a
// weather forecast sample.
type ForecastSample struct {
	ValidTime time.Time
	TempC     float64
}

// Sample is an hour-aligned consumption estimate (kWh for that hour).
type Sample struct {
	ValidTime time.Time
	Power     float64
}

// Estimator computes consumption estimates given configured
// parameters.
type Estimator struct {
	params Params
	spline interp.FritschButland
	fitted bool
}

// NewEstimator returns an Estimator built from the configured curve
// and baseline matrix.
func NewEstimator(params Params) *Estimator {
	e := &Estimator{params: params}
	if len(params.Curve) >= 2 {
		x := make([]float64, len(params.Curve))
		y := make([]float64, len(params.Curve))
		for i, c := range params.Curve {
			x[i] = c.X
			y[i] = c.Y
		}
		if err := e.spline.Fit(x, y); err == nil {
			e.fitted = true
		}
	}
	return e
}

// Estimate computes hourly consumption samples aligned with the given
// forecast.
func (e *Estimator) Estimate(forecast []ForecastSample) []Sample {
	result := make([]Sample, len(forecast))
	for i, f := range forecast {
		loadFactor := e.loadFactor(f.TempC)
		power := loadFactor*(e.params.MaxAvgLoad-e.params.MinAvgLoad) + e.params.MinAvgLoad
		power += e.params.Baseline[int(f.ValidTime.Weekday())][f.ValidTime.Hour()]
		result[i] = Sample{ValidTime: f.ValidTime, Power: power}
	}
	return result
}

// loadFactor evaluates the monotonic spline over the configured curve,
// clamped to the curve's domain, returning a value in [0,1].
func (e *Estimator) loadFactor(temp float64) float64 {
	if !e.fitted {
		return 0
	}
	xMin := e.params.Curve[0].X
	xMax := e.params.Curve[len(e.params.Curve)-1].X
	t := math.Max(xMin, math.Min(xMax, temp))
	v := e.spline.Predict(t)
	return math.Max(0, math.Min(1, v))
}

// DefaultCurve returns a documented default inverse temperature/load
// curve: cold means higher load, matching the reference
// implementation's linear-fork scaling convention, generalized to a
// monotonic spline control set.
func DefaultCurve() []ControlPoint {
	return []ControlPoint{
		{X: 0, Y: 1.0},
		{X: 10, Y: 0.5},
		{X: 20, Y: 0.0},
	}
}
