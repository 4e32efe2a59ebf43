package scheduling

import (
	"math"
	"time"
)

// plan is the optimizer's internal working accumulator — the Go
// analogue of the source's `Blocks` struct: a partial block list plus
// the carry-over state needed to continue the search from where it
// left off.
type plan struct {
	blocks              []Block
	nextStart           int
	nextChargeIn        float64
	nextChargeTariffIn  float64
	nextSOCIn           int
	totalNetValue       float64
}

// Optimize enumerates plausible block plans for one day starting at
// unit `start` and returns the one with the highest expected net
// value (spec §4.F). `netProd` and `tariffs` must be indexed by
// absolute unit-of-day [0, UnitsPerDay).
func Optimize(start int, tariffs Tariffs, netProd []float64, chargeIn, chargeTariffIn float64, dateTime time.Time, params BatteryParams) Schedule {
	record := make(map[int]plan)
	record[0] = createBasePlan(chargeIn, chargeTariffIn, tariffs, netProd, params)

	scheduleID := 0
	for seekFirstCharge := start; seekFirstCharge < UnitsPerDay-1; seekFirstCharge++ {
		for chargeLevelFirst := 0; chargeLevelFirst <= 90; chargeLevelFirst++ {
			scheduleID++

			firstCharge := seekCharge(start, seekFirstCharge, chargeLevelFirst, tariffs, netProd, chargeIn, chargeTariffIn, params)
			for seekFirstUse := firstCharge.nextStart; seekFirstUse < UnitsPerDay; seekFirstUse++ {
				firstUse, ok := seekUse(firstCharge.nextStart, seekFirstUse, tariffs, netProd, firstCharge.nextChargeIn, firstCharge.nextChargeTariffIn, params)
				if !ok {
					continue
				}
				firstCombined := combinePlans(firstCharge, firstUse)
				recordBest(1, firstCombined, tariffs, netProd, params, record)

				for seekSecondCharge := firstCombined.nextStart; seekSecondCharge < UnitsPerDay-1; seekSecondCharge++ {
					for chargeLevelSecond := 0; chargeLevelSecond <= 90; chargeLevelSecond++ {
						secondCharge := seekCharge(firstCombined.nextStart, seekSecondCharge, chargeLevelSecond, tariffs, netProd, firstCombined.nextChargeIn, firstCombined.nextChargeTariffIn, params)
						for seekSecondUse := secondCharge.nextStart; seekSecondUse < UnitsPerDay; seekSecondUse++ {
							secondUse, ok := seekUse(secondCharge.nextStart, seekSecondUse, tariffs, netProd, secondCharge.nextChargeIn, secondCharge.nextChargeTariffIn, params)
							if !ok {
								continue
							}
							secondCombined := combinePlans(secondCharge, secondUse)
							allCombined := combinePlans(firstCombined, secondCombined)
							recordBest(2, allCombined, tariffs, netProd, params, record)
						}
					}
				}
			}
		}
	}

	best := getBest(record)

	schedule := Schedule{DateTime: dateTime, Params: params, Tariffs: tariffs, Blocks: best.blocks}
	for i := range schedule.Blocks {
		schedule.Blocks[i].BlockID = i
	}
	stampAbsoluteTimes(&schedule, dateTime, start)
	return schedule
}

// stampAbsoluteTimes assigns absolute, contiguous UTC time bounds to
// the selected blocks, shifting unit-indexed positions by the
// scheduled-start offset (spec's "time offsetting").
func stampAbsoluteTimes(schedule *Schedule, dayStart time.Time, firstUnit int) {
	cursor := firstUnit
	base := dayStart.Truncate(24 * time.Hour)
	for i := range schedule.Blocks {
		b := &schedule.Blocks[i]
		size := unitSizeOf(schedule.Blocks, i, firstUnit)
		b.StartTime = base.Add(time.Duration(cursor) * UnitDuration)
		b.EndTime = base.Add(time.Duration(cursor+size) * UnitDuration).Add(-time.Nanosecond)
		cursor += size
	}
}

// unitSizeOf returns the number of units a block spans, as recorded in
// its unitsHint during the search.
func unitSizeOf(blocks []Block, i int, firstUnit int) int {
	return blocks[i].unitsHint
}

func getBest(record map[int]plan) plan {
	bestLevel := -1
	bestValue := math.Inf(-1)
	for level, p := range record {
		if p.totalNetValue > bestValue {
			bestValue = p.totalNetValue
			bestLevel = level
		}
	}
	return record[bestLevel]
}

func createBasePlan(chargeIn, chargeTariffIn float64, tariffs Tariffs, netProd []float64, params BatteryParams) plan {
	chargeOut, chargeTariffOut, overflow, overflowPrice := updateForPV(Use, 0, UnitsPerDay, tariffs, netProd, chargeIn, chargeTariffIn, params)

	b := Block{
		BlockType:       Use,
		ChargeTariffIn:  chargeTariffIn,
		ChargeTariffOut: chargeTariffOut,
		Price:           0,
		ChargeIn:        chargeIn,
		ChargeOut:       chargeOut,
		Overflow:        overflow,
		OverflowPrice:   overflowPrice,
		SOCIn:           clampSOC(chargeIn, params),
		SOCOut:          clampSOC(chargeOut, params),
		Status:          Status{Kind: Waiting},
		unitsHint:       UnitsPerDay,
	}

	return plan{
		blocks:             []Block{b},
		nextStart:          UnitsPerDay,
		nextChargeIn:       b.ChargeOut,
		nextChargeTariffIn: b.ChargeTariffOut,
		nextSOCIn:          b.SOCOut,
		totalNetValue:      b.Price + b.OverflowPrice,
	}
}

func combinePlans(a, b plan) plan {
	combined := plan{
		blocks:             append(append([]Block{}, a.blocks...), b.blocks...),
		nextStart:          b.nextStart,
		nextChargeIn:       b.nextChargeIn,
		nextChargeTariffIn: b.nextChargeTariffIn,
		nextSOCIn:          b.nextSOCIn,
		totalNetValue:      a.totalNetValue + b.totalNetValue,
	}
	return combined
}

func recordBest(level int, p plan, tariffs Tariffs, netProd []float64, params BatteryParams, record map[int]plan) {
	if existing, ok := record[level]; ok && existing.totalNetValue >= p.totalNetValue {
		return
	}
	record[level] = trimAndTail(p, tariffs, netProd, params)
}

// trimAndTail drops zero-size blocks and fills any remaining horizon
// tail with a Hold block.
func trimAndTail(p plan, tariffs Tariffs, netProd []float64, params BatteryParams) plan {
	result := p
	result.blocks = nil
	for _, b := range p.blocks {
		if b.unitsHint > 0 {
			result.blocks = append(result.blocks, b)
		}
	}

	if result.nextStart < UnitsPerDay {
		chargeOut, chargeTariffOut, overflow, overflowPrice := updateForPV(Hold, result.nextStart, UnitsPerDay, tariffs, netProd, result.nextChargeIn, result.nextChargeTariffIn, params)
		tail := Block{
			BlockType:       Hold,
			ChargeTariffIn:  result.nextChargeTariffIn,
			ChargeTariffOut: chargeTariffOut,
			ChargeIn:        result.nextChargeIn,
			ChargeOut:       chargeOut,
			Overflow:        overflow,
			OverflowPrice:   overflowPrice,
			SOCIn:           result.nextSOCIn,
			SOCOut:          clampSOC(chargeOut, params),
			Status:          Status{Kind: Waiting},
			unitsHint:       UnitsPerDay - result.nextStart,
		}
		result.blocks = append(result.blocks, tail)
		result.nextStart = UnitsPerDay
		result.nextChargeIn = chargeOut
		result.nextChargeTariffIn = chargeTariffOut
		result.nextSOCIn = tail.SOCOut
	}
	return result
}

// seekCharge builds a leading Hold (from initialStart to start) plus a
// Charge block targeting socLevel percent, starting at unit `start`.
func seekCharge(initialStart, start, socLevel int, tariffs Tariffs, netProd []float64, chargeIn, chargeTariffIn float64, params BatteryParams) plan {
	holdChargeOut, holdTariffOut, overflow, overflowPrice := updateForPV(Hold, initialStart, start, tariffs, netProd, chargeIn, chargeTariffIn, params)
	hold := Block{
		BlockType:       Hold,
		ChargeTariffIn:  chargeTariffIn,
		ChargeTariffOut: holdTariffOut,
		ChargeIn:        chargeIn,
		ChargeOut:       holdChargeOut,
		Overflow:        overflow,
		OverflowPrice:   overflowPrice,
		SOCIn:           clampSOC(chargeIn, params),
		SOCOut:          clampSOC(holdChargeOut, params),
		Status:          Status{Kind: Waiting},
		unitsHint:       start - initialStart,
	}

	need := (float64(socLevel)*params.SOCKWh - holdChargeOut) / params.ChargeEfficiency

	var chargeBlock Block
	if need > 0 {
		price, end := chargeCostChargeEnd(start, need, tariffs, params)
		thisMean := price / need
		mean := need/(need+holdChargeOut)*thisMean + holdChargeOut/(need+holdChargeOut)*holdTariffOut

		chargeBlock = Block{
			BlockType:       Charge,
			ChargeTariffIn:  holdTariffOut,
			ChargeTariffOut: mean,
			Price:           price,
			ChargeIn:        holdChargeOut,
			ChargeOut:       holdChargeOut + need,
			SOCIn:           clampSOC(holdChargeOut, params),
			SOCOut:          clampSOC(holdChargeOut+need, params),
			Status:          Status{Kind: Waiting},
			Tariffs:         &tariffs,
			unitsHint:       end - start,
		}
	} else {
		chargeBlock = Block{
			BlockType:       Charge,
			ChargeTariffIn:  holdTariffOut,
			ChargeTariffOut: holdTariffOut,
			Price:           0,
			ChargeIn:        holdChargeOut,
			ChargeOut:       holdChargeOut,
			SOCIn:           clampSOC(holdChargeOut, params),
			SOCOut:          clampSOC(holdChargeOut, params),
			Status:          Status{Kind: Waiting},
			Tariffs:         &tariffs,
			unitsHint:       0,
		}
	}

	return plan{
		blocks:             []Block{hold, chargeBlock},
		nextStart:          start + chargeBlock.unitsHint,
		nextChargeIn:       chargeBlock.ChargeOut,
		nextChargeTariffIn: chargeBlock.ChargeTariffOut,
		nextSOCIn:          chargeBlock.SOCOut,
		totalNetValue:      hold.Price + hold.OverflowPrice - chargeBlock.Price,
	}
}

// seekUse builds a leading Hold plus a Use block that runs while the
// buy tariff still exceeds the current stored-charge cost (and the
// configured absolute floor) and residual charge remains.
func seekUse(initialStart, seekStart int, tariffs Tariffs, netProd []float64, chargeIn, chargeTariffIn float64, params BatteryParams) (plan, bool) {
	for uStart := seekStart; uStart < UnitsPerDay; uStart++ {
		holdChargeOut, holdTariffOut, holdOverflow, holdOverflowPrice := updateForPV(Hold, initialStart, uStart, tariffs, netProd, chargeIn, chargeTariffIn, params)
		hold := Block{
			BlockType:       Hold,
			ChargeTariffIn:  chargeTariffIn,
			ChargeTariffOut: holdTariffOut,
			ChargeIn:        chargeIn,
			ChargeOut:       holdChargeOut,
			Overflow:        holdOverflow,
			OverflowPrice:   holdOverflowPrice,
			SOCIn:           clampSOC(chargeIn, params),
			SOCOut:          clampSOC(holdChargeOut, params),
			Status:          Status{Kind: Waiting},
			unitsHint:       uStart - initialStart,
		}

		chargeOut, chargeTariffOut, overflow, overflowPrice := holdChargeOut, holdTariffOut, holdOverflow, holdOverflowPrice
		useFloor := math.Max(chargeTariffOut/params.ChargeEfficiency, params.UseTariffFloor)

		for uEnd := uStart; uEnd <= UnitsPerDay; uEnd++ {
			if uEnd > UnitsPerDay-1 || tariffs.Buy[uEnd] <= useFloor {
				if uEnd != uStart {
					return getUsePlan(uStart, uEnd, chargeOut, chargeTariffOut, overflow, overflowPrice, hold, tariffs, netProd, params), true
				}
				break
			}

			chargeOut, chargeTariffOut, overflow, overflowPrice = updateForPV(Use, uStart, uEnd+1, tariffs, netProd, holdChargeOut, holdTariffOut, params)
			useFloor = math.Max(chargeTariffOut/params.ChargeEfficiency, params.UseTariffFloor)

			if math.Round(chargeOut) == 0 {
				if uEnd != uStart {
					return getUsePlan(uStart, uEnd+1, chargeOut, chargeTariffOut, overflow, overflowPrice, hold, tariffs, netProd, params), true
				}
				break
			}
		}
	}

	return plan{}, false
}

func getUsePlan(uStart, uEnd int, chargeOut, chargeTariffOut, overflow, overflowPrice float64, hold Block, tariffs Tariffs, netProd []float64, params BatteryParams) plan {
	uPrice := 0.0
	for i := uStart; i < uEnd; i++ {
		uPrice += math.Abs(math.Min(netProd[i], 0)) * tariffs.Buy[i]
	}

	usage := Block{
		BlockType:       Use,
		ChargeTariffIn:  hold.ChargeTariffOut,
		ChargeTariffOut: chargeTariffOut,
		Price:           uPrice,
		ChargeIn:        hold.ChargeOut,
		ChargeOut:       chargeOut,
		Overflow:        overflow,
		OverflowPrice:   overflowPrice,
		SOCIn:           hold.SOCOut,
		SOCOut:          clampSOC(chargeOut, params),
		Status:          Status{Kind: Waiting},
		unitsHint:       uEnd - uStart,
	}

	return plan{
		blocks:             []Block{hold, usage},
		nextStart:          uStart + usage.unitsHint,
		nextChargeIn:       usage.ChargeOut,
		nextChargeTariffIn: usage.ChargeTariffOut,
		nextSOCIn:          usage.SOCOut,
		totalNetValue:      hold.Price + hold.OverflowPrice + usage.Price + usage.OverflowPrice,
	}
}

// chargeCostChargeEnd computes the cost of drawing `charge` kWh from
// the grid starting at unit `start`, at the configured per-unit charge
// rate, and the unit at which charging completes.
func chargeCostChargeEnd(start int, charge float64, tariffs Tariffs, params BatteryParams) (float64, int) {
	unitRate := params.unitChargeKWh()
	var hourlyCharge []float64
	rem := math.Mod(charge, unitRate)

	for i := 0; i < int(charge/unitRate); i++ {
		hourlyCharge = append(hourlyCharge, unitRate)
	}
	if math.Round(rem*10) != 0 {
		hourlyCharge = append(hourlyCharge, rem)
	}

	end := start + len(hourlyCharge)
	if end > UnitsPerDay {
		end = UnitsPerDay
	}

	price := 0.0
	for i := 0; i < end-start; i++ {
		price += hourlyCharge[i] * tariffs.Buy[start+i]
	}

	return price, end
}

// updateForPV simulates net production (PV minus load) across
// [start,end), blending free PV into the stored-charge cost and
// breaking out overflow beyond battery capacity (spec §4.E part 1).
func updateForPV(blockType BlockType, start, end int, tariffs Tariffs, netProd []float64, chargeIn, chargeTariffIn float64, params BatteryParams) (chargeOut, chargeTariffOut, overflow, overflowPrice float64) {
	minCharge := chargeIn
	holdLevel := 0.0
	if blockType == Hold {
		holdLevel = chargeIn
	}

	chargeTariffOut = chargeTariffIn
	charge := chargeIn

	for i := start; i < end; i++ {
		np := netProd[i]
		if np < 0 {
			np /= params.DischargeEfficiency
		}
		c, o := correctOverflow(math.Max(charge+np, holdLevel), params)
		minCharge = math.Min(minCharge, c)
		charge = c
		overflow += o
		overflowPrice += tariffs.Sell[i] * o * params.SellPriority
	}
	chargeOut = charge

	if chargeOut > chargeIn {
		chargeTariffOut = chargeIn / chargeOut * chargeTariffIn
	}
	if minCharge <= 0 {
		chargeTariffOut = 0
	}

	return chargeOut, chargeTariffOut, overflow, overflowPrice
}

// correctOverflow splits charge into what fits the battery and what
// overflows beyond capacity.
func correctOverflow(charge float64, params BatteryParams) (float64, float64) {
	if charge > params.BatKWh {
		return params.BatKWh, charge - params.BatKWh
	}
	return charge, 0
}

func clampSOC(charge float64, params BatteryParams) int {
	soc := FloorSOC + int(math.Round(math.Min(90, charge/params.SOCKWh)))
	if soc < FloorSOC {
		soc = FloorSOC
	}
	if soc > 100 {
		soc = 100
	}
	return soc
}
