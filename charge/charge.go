// Package charge maintains the stored-charge cost: the mean price per
// kWh of energy currently held in the battery. It is updated two ways
// per spec §4.E — a forward simulation during optimization (see
// updateForPV in package scheduling) and an after-the-fact peak/valley traversal
// of observed SoC history (UpdateStoredChargeCost, this file).
package charge

import "time"

// FloorSOC is the non-usable SoC floor; a peak or valley touching it
// means the battery was fully drained since the last grid charge, so
// any stored-cost memory is void.
const FloorSOC = 10

// LastCharge records the most recent completed grid-charge block, the
// carry-over state fed into the next schedule update.
type LastCharge struct {
	DateTimeEnd     time.Time
	SOCIn           int
	SOCOut          int
	ChargeIn        float64
	ChargeOut       float64
	ChargeTariffIn  float64
	ChargeTariffOut float64
}

// Valid reports whether the LastCharge record is still usable as of
// now (spec: valid only if <= 23h old).
func (l LastCharge) Valid(now time.Time) bool {
	return now.Sub(l.DateTimeEnd) <= 23*time.Hour
}

// SOCToAvailableCharge converts a reported SoC (including the
// non-usable 10% floor) into available kWh.
func SOCToAvailableCharge(soc int, socKWh float64) float64 {
	if soc < FloorSOC {
		soc = FloorSOC
	}
	return float64(soc-FloorSOC) * socKWh
}

type comparison int

const (
	compNA comparison = iota
	compEnd
	compLarger
	compSmaller
	compEqual
)

type valueKind int

const (
	kindNA valueKind = iota
	kindPeak
	kindValley
)

type extremum struct {
	kind  valueKind
	value int
}

// detectExtrema replays the three-state (End/Larger/Smaller/Equal)
// comparison with plateau memory over soc history, producing a
// chronological list of recorded peaks and valleys. Adjacent duplicate
// samples are collapsed via the memory variable so the result is
// independent of how many repeated samples appear on a plateau.
func detectExtrema(socHistory []int) []extremum {
	var result []extremum
	leftMemory := compNA

	for s := range socHistory {
		var left, right comparison
		var kind valueKind

		switch {
		case s == 0:
			left = compEnd
		case socHistory[s] > socHistory[s-1]:
			left = compLarger
		case socHistory[s] < socHistory[s-1]:
			left = compSmaller
		default:
			left = compEqual
		}

		switch {
		case s == len(socHistory)-1:
			right = compEnd
		case socHistory[s] > socHistory[s+1]:
			right = compLarger
		case socHistory[s] < socHistory[s+1]:
			right = compSmaller
		default:
			right = compEqual
		}

		switch {
		case left == compEnd && right == compEqual:
			leftMemory = compEnd
		case left == compLarger && right == compEqual:
			leftMemory = compLarger
		case left == compSmaller && right == compEqual:
			leftMemory = compSmaller
		case left == compEqual && right == compLarger && leftMemory == compSmaller:
			leftMemory = compNA
		case left == compEqual && right == compSmaller && leftMemory == compLarger:
			leftMemory = compNA

		case left == compEnd && right == compLarger:
			kind = kindPeak
		case left == compEqual && right == compEnd && leftMemory == compLarger:
			kind = kindPeak
		case left == compLarger && (right == compLarger || right == compEnd):
			kind = kindPeak
		case left == compEqual && right == compLarger && (leftMemory == compLarger || leftMemory == compEnd):
			kind = kindPeak
			leftMemory = compNA

		case left == compEnd && right == compSmaller:
			kind = kindValley
		case left == compEqual && right == compEnd && leftMemory == compSmaller:
			kind = kindValley
		case left == compSmaller && (right == compSmaller || right == compEnd):
			kind = kindValley
		case left == compEqual && right == compSmaller && (leftMemory == compSmaller || leftMemory == compEnd):
			kind = kindValley
			leftMemory = compNA
		}

		if kind != kindNA {
			result = append(result, extremum{kind: kind, value: socHistory[s]})
		}
	}

	return result
}

// UpdateStoredChargeCost computes a new stored-charge cost given a SoC
// history since the end of the last grid charge and that charge's
// tariff. Every Peak dilutes the running cost using the nearest
// adjacent Valley: the Valley immediately following the Peak if one
// exists, otherwise the Valley immediately preceding it — except the
// very first entry in the detected sequence is never itself used as a
// dilution source, since it represents the starting level rather than
// a genuine fall-then-rise cycle. If any detected Peak or Valley
// touches the non-usable floor (SoC 10), the result is forced to 0:
// the battery was fully drained, so no stored-cost memory survives.
func UpdateStoredChargeCost(socHistory []int, chargeTariffIn float64) float64 {
	extrema := detectExtrema(socHistory)
	cost := chargeTariffIn

	for i, e := range extrema {
		if e.kind != kindPeak || i == 0 {
			continue
		}

		var source *extremum
		if i+1 < len(extrema) {
			source = &extrema[i+1]
		} else if i-1 != 0 {
			source = &extrema[i-1]
		}

		if source != nil {
			cost = float64(source.value) * cost / float64(e.value)
		}
	}

	for _, e := range extrema {
		if e.value <= FloorSOC {
			return 0
		}
	}

	return cost
}
