// Package tariff normalizes raw area spot prices into buy/sell
// tariffs inclusive of fees, taxes, VAT and a configurable sell
// priority.
package tariff

import (
	"math"
	"time"
)

// Params holds the configured fee/tax/VAT constants the adapter
// applies on top of the raw spot price (spec's "charge"-adjacent
// tariff fields, generalized from the reference implementation's
// hardcoded VAT/fee constants).
type Params struct {
	NetFee      float64 // currency/kWh grid fee, VAT included (added without VAT markup)
	SpotFeePct  float64 // fraction of spot price, VAT-exclusive
	EnergyTax   float64 // currency/kWh, VAT included (added without VAT markup)
	VariableFee float64 // currency/kWh, VAT-exclusive
	ExtraFee    float64 // currency/kWh, VAT-exclusive
	VAT         float64 // fraction, e.g. 0.25
	SellExtra   float64 // currency/kWh added to spot for sell price

	// SellPriority biases the optimizer away from selling to grid:
	// the effective sell price used downstream is Sell * SellPriority.
	SellPriority float64
}

// Sample is an hour-aligned tariff sample.
type Sample struct {
	ValidTime time.Time
	Price     float64 // raw area spot price, currency/kWh
	Buy       float64 // buy price, fees/VAT included
	Sell      float64 // sell price, scaled by SellPriority
}

// Adapt converts a raw spot price at a delivery-start timestamp into
// a priced Sample, per spec §4.D.
func Adapt(params Params, ts time.Time, spotPrice float64) Sample {
	buy := params.NetFee +
		(params.SpotFeePct*spotPrice)/(1-params.VAT) +
		params.EnergyTax +
		(spotPrice+params.VariableFee+params.ExtraFee)/(1-params.VAT)

	sell := (spotPrice + params.SellExtra) * params.SellPriority

	return Sample{
		ValidTime: ts,
		Price:     round2(spotPrice),
		Buy:       round2(buy),
		Sell:      round2(sell),
	}
}

// AdaptAll adapts a full sequence of (timestamp, spot price) pairs.
func AdaptAll(params Params, timestamps []time.Time, spotPrices []float64) []Sample {
	n := len(timestamps)
	if len(spotPrices) < n {
		n = len(spotPrices)
	}
	result := make([]Sample, n)
	for i := 0; i < n; i++ {
		result[i] = Adapt(params, timestamps[i], spotPrices[i])
	}
	return result
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// DefaultParams returns documented defaults with zero sell priority
// bias disabled (priority 1.0, i.e. no bias) and no fees, suitable as
// a starting point before site-specific tariff configuration.
func DefaultParams() Params {
	return Params{
		VAT:          0.25,
		SellPriority: 1.0,
	}
}
