package scheduling

import "math"

// dpBound computes, via dynamic programming over a discretized SoC
// state, the maximum achievable net value over a horizon given net
// production and tariffs — an independent cross-check oracle for the
// combinatorial block-search Optimize. It is deliberately unconstrained
// by the block-count/shape rules Optimize enforces (at most two
// Charge+Use pairs, a tariff floor, etc.), so it can only ever do at
// least as well: dpBound(...) >= the net value Optimize selects.
//
// Adapted from the teacher's SOC-discretized MPCController.Optimize
// (package mpc): same forward-DP-table / backward-trace shape,
// re-purposed from kW-rate control decisions to this package's
// unit-indexed kWh blocks. It does not track the stored-charge tariff.
type dpBoundParams struct {
	socSteps int // discretization resolution, e.g. 90 (1% steps)
}

func defaultDPBoundParams() dpBoundParams {
	return dpBoundParams{socSteps: 90}
}

// dpBound returns the best achievable net value starting from socIn
// percent (10-100) with the given per-unit net production and tariffs.
func dpBound(netProd []float64, tariffs Tariffs, socIn int, params BatteryParams, dp dpBoundParams) float64 {
	n := len(netProd)
	steps := dp.socSteps

	// best[soc] = best net value achievable to reach this soc index at
	// the current unit.
	best := make([]float64, steps+1)
	for i := range best {
		best[i] = math.Inf(-1)
	}
	startIdx := socIn - FloorSOC
	if startIdx < 0 {
		startIdx = 0
	}
	if startIdx > steps {
		startIdx = steps
	}
	best[startIdx] = 0

	for u := 0; u < n; u++ {
		next := make([]float64, steps+1)
		for i := range next {
			next[i] = math.Inf(-1)
		}

		for socIdx := 0; socIdx <= steps; socIdx++ {
			if math.IsInf(best[socIdx], -1) {
				continue
			}
			charge := float64(socIdx) * params.SOCKWh
			np := netProd[u]

			// Option 1: let PV/load flow through unconstrained (Hold-like).
			applyTransition(next, socIdx, best[socIdx], charge, np, 0, tariffs, u, params)

			// Option 2: draw from grid at the max per-unit charge rate
			// (Charge-like), in addition to whatever PV/load does.
			applyTransition(next, socIdx, best[socIdx], charge, np, params.unitChargeKWh(), tariffs, u, params)
		}

		best = next
	}

	bestValue := math.Inf(-1)
	for _, v := range best {
		if v > bestValue {
			bestValue = v
		}
	}
	return bestValue
}

func applyTransition(next []float64, fromIdx int, fromValue, charge, netProd, gridDraw float64, tariffs Tariffs, u int, params BatteryParams) {
	delta := netProd
	if delta < 0 {
		delta /= params.DischargeEfficiency
	}

	newCharge := charge + delta + gridDraw
	var overflow float64
	if newCharge > params.BatKWh {
		overflow = newCharge - params.BatKWh
		newCharge = params.BatKWh
	}
	if newCharge < 0 {
		newCharge = 0
	}

	toIdx := int(math.Round(newCharge / params.SOCKWh))
	if toIdx < 0 || toIdx >= len(next) {
		return
	}

	value := fromValue + tariffs.Sell[u]*overflow*params.SellPriority
	if gridDraw > 0 {
		value -= gridDraw * tariffs.Buy[u]
	}
	if netProd < 0 {
		value += math.Abs(netProd) * tariffs.Buy[u]
	}

	if value > next[toIdx] {
		next[toIdx] = value
	}
}
