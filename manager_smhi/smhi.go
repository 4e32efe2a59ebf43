// Package manager_smhi retrieves an hourly weather forecast for the
// PV/consumption estimators, using a MET Norway Location Forecast
// client (metclient.go, adapted from the teacher's meteo package) in
// place of the SMHI point forecast the original used, and ports
// original_source/src/manager_smhi/mod.rs's fill_in_gaps backfill so a
// forecast that only covers a partial day still produces one sample
// per hour.
package manager_smhi

import (
	"fmt"
	"sort"
	"time"

	"github.com/gostonefire/mygrid/mgrerrors"
	"github.com/gostonefire/mygrid/production"
)

// cloudLayerWeights approximate how strongly each cloud layer blocks
// direct sun, low cloud mattering most.
const (
	lowCloudWeight  = 1.0
	midCloudWeight  = 0.7
	highCloudWeight = 0.4
)

// Client fetches and normalizes forecasts for a single location.
type Client struct {
	met       *metClient
	lat, long float64

	// last holds the most recently produced forecast, used by
	// fillGaps to backfill hours a newer, shorter-horizon call no
	// longer covers.
	last []production.ForecastSample
}

// NewClient returns a Client for the given coordinates.
func NewClient(userAgent string, lat, long float64) *Client {
	return &Client{
		met:  newMetClient(userAgent),
		lat:  lat,
		long: long,
	}
}

// GetForecast returns one ForecastSample per hour of day (local date
// of dateTime), backfilling any hour MET didn't report data for from
// the previous successful forecast, or by holding the nearest
// available hour's values if there is no previous forecast to draw
// from.
func (c *Client) GetForecast(dateTime time.Time) ([]production.ForecastSample, error) {
	raw, err := c.met.getCompact(round4(c.lat), round4(c.long))
	if err != nil {
		return nil, fmt.Errorf("%w: smhi/met forecast: %v", mgrerrors.CollaboratorTransient, err)
	}
	if raw.Properties == nil {
		return nil, fmt.Errorf("%w: empty forecast response", mgrerrors.CollaboratorPermanent)
	}

	day := dateTime.UTC()
	year, month, date := day.Date()

	samples := make(map[int]production.ForecastSample)
	for _, ts := range raw.Properties.Timeseries {
		t := ts.Time.UTC()
		if t.Year() != year || t.Month() != month || t.Day() != date {
			continue
		}
		if ts.Data == nil || ts.Data.Instant == nil || ts.Data.Instant.Details == nil {
			continue
		}
		d := ts.Data.Instant.Details

		samples[t.Hour()] = production.ForecastSample{
			ValidTime:   t,
			TempC:       derefOr(d.AirTemperature, 0),
			LowCloud:    derefOr(d.CloudAreaFractionLow, 0),
			MidCloud:    derefOr(d.CloudAreaFractionMedium, 0),
			HighCloud:   derefOr(d.CloudAreaFractionHigh, 0),
			CloudFactor: cloudFactor(derefOr(d.CloudAreaFractionLow, 0), derefOr(d.CloudAreaFractionMedium, 0), derefOr(d.CloudAreaFractionHigh, 0)),
		}
	}

	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no forecast hours found for %s", mgrerrors.Scheduling, day.Format("2006-01-02"))
	}

	result := c.fillGaps(samples, day)
	c.last = result
	return result, nil
}

// fillGaps ports fill_in_gaps: sorts the hours MET actually reported,
// then for each reported hour holds its values forward over the
// midpoint to the next reported hour (or hour 23 if it's the last),
// first trying to recover any hour from the previous forecast before
// resorting to the hold-forward rule.
func (c *Client) fillGaps(samples map[int]production.ForecastSample, day time.Time) []production.ForecastSample {
	available := make([]int, 0, len(samples))
	for h := range samples {
		available = append(available, h)
	}
	sort.Ints(available)

	for _, prev := range c.last {
		h := prev.ValidTime.Hour()
		if prev.ValidTime.Year() == day.Year() && prev.ValidTime.YearDay() == day.YearDay() {
			if _, ok := samples[h]; !ok {
				samples[h] = prev
				available = append(available, h)
			}
		}
	}
	sort.Ints(available)

	result := make([]production.ForecastSample, 24)
	nextToSet := 0
	for i, h := range available {
		boundary := 24
		if i+1 < len(available) {
			nextHour := available[i+1]
			boundary = h + (nextHour-h)/2 + 1
		}
		base := samples[h]
		for j := nextToSet; j < boundary; j++ {
			s := base
			s.ValidTime = time.Date(day.Year(), day.Month(), day.Day(), j, 0, 0, 0, time.UTC)
			result[j] = s
		}
		nextToSet = boundary
	}
	return result
}

func cloudFactor(low, mid, high float64) float64 {
	f := 1.0
	f *= 1 - (low/100.0)*lowCloudWeight
	f *= 1 - (mid/100.0)*midCloudWeight
	f *= 1 - (high/100.0)*highCloudWeight
	if f < 0 {
		f = 0
	}
	return f
}

func derefOr(p *float64, fallback float64) float64 {
	if p == nil {
		return fallback
	}
	return *p
}

func round4(v float64) float64 {
	return float64(int64(v*10000+0.5)) / 10000
}
