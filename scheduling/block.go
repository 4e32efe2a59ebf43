// Package scheduling implements the Block/Schedule lifecycle and the
// block-search schedule optimizer (spec §4.F/§4.G). Block time bounds
// are UTC, quarter-hour aligned — the most recent and most composable
// of the source's several time-granularity forks (see UnitDuration).
package scheduling

import (
	"fmt"
	"time"

	"github.com/gostonefire/mygrid/mgrerrors"
)

// UnitDuration is the smallest block granularity: 15 minutes, UTC.
const UnitDuration = 15 * time.Minute

// UnitsPerDay is the number of UnitDuration slots in a calendar day.
const UnitsPerDay = int(24 * time.Hour / UnitDuration)

// FloorSOC is the non-usable SoC floor.
const FloorSOC = 10

// BlockType identifies a block's operating mode.
type BlockType string

const (
	Charge BlockType = "Charge"
	Hold   BlockType = "Hold"
	Use    BlockType = "Use"
)

// StatusKind is a block's lifecycle state.
type StatusKind string

const (
	Waiting StatusKind = "Waiting"
	Started StatusKind = "Started"
	Full    StatusKind = "Full"
	Errored StatusKind = "Error"
)

// Status carries a block's lifecycle state plus, for Full, the SoC and
// time it was observed at.
type Status struct {
	Kind    StatusKind
	FullSOC int
	FullAt  time.Time
}

func (s Status) String() string {
	switch s.Kind {
	case Full:
		return fmt.Sprintf("Full: %d", s.FullSOC)
	default:
		return string(s.Kind)
	}
}

// Tariffs is a per-unit buy/sell price snapshot covering a horizon.
type Tariffs struct {
	Buy  []float64
	Sell []float64
}

// BatteryParams holds the configured battery model (spec's `charge`
// config group).
type BatteryParams struct {
	SOCKWh              float64 // kWh represented by one SoC percentage point
	BatKWh              float64 // usable battery capacity, kWh
	ChargeKWhHour       float64 // max grid-charge rate, kWh per hour
	ChargeEfficiency    float64
	DischargeEfficiency float64
	SellPriority        float64
	UseTariffFloor      float64 // absolute floor below which Use is never scheduled
}

// unitChargeKWh is the max charge deliverable within one UnitDuration.
func (p BatteryParams) unitChargeKWh() float64 {
	return p.ChargeKWhHour * UnitDuration.Hours()
}

// Block is the fundamental planning and execution unit.
type Block struct {
	BlockID         int
	BlockType       BlockType
	StartTime       time.Time
	EndTime         time.Time // inclusive
	SOCIn           int
	SOCOut          int
	ChargeIn        float64
	ChargeOut       float64
	ChargeTariffIn  float64
	ChargeTariffOut float64
	Price           float64
	Overflow        float64
	OverflowPrice   float64
	TrueSOCIn       *int
	Status          Status
	Tariffs         *Tariffs // only set for Charge blocks

	// unitsHint is the block's span in UnitDuration units, known only
	// during optimizer construction and consumed by stampAbsoluteTimes
	// to derive StartTime/EndTime; not part of the persisted shape.
	unitsHint int
}

func (b Block) String() string {
	return fmt.Sprintf("%s %s -> %s: SocIn %3d, SocOut %3d, Cost %5.2f, %s",
		b.BlockType, b.StartTime.Format("15:04"), b.EndTime.Format("15:04"),
		b.SOCIn, b.SOCOut, b.Price, b.Status)
}

// UpdateBlockStatus applies a new status. For a Charge block reaching
// Full, it also recomputes SoC-out/charge-out and blends the newly
// purchased energy's tariff into charge_tariff_out.
func (b *Block) UpdateBlockStatus(status Status, params BatteryParams, actualCost float64) {
	if b.BlockType == Charge && status.Kind == Full {
		soc := status.FullSOC
		if soc > b.SOCIn {
			chargeInBat := float64(soc-b.SOCIn) * params.SOCKWh
			thisMean := actualCost / chargeInBat
			priorWeight := float64(b.SOCIn-FloorSOC) * b.ChargeTariffIn
			newWeight := float64(soc-b.SOCIn) * thisMean
			b.ChargeTariffOut = (priorWeight + newWeight) / float64(soc-FloorSOC)
		}
		b.SOCOut = soc
		b.ChargeOut = float64(soc-FloorSOC) * params.SOCKWh
	}
	b.Status = status
}

// Schedule is a directory of Blocks covering a contiguous horizon.
type Schedule struct {
	DateTime time.Time
	Blocks   []Block
	Params   BatteryParams
	Tariffs  Tariffs
}

// truncateToUnit floors t to the enclosing UnitDuration boundary, UTC.
func truncateToUnit(t time.Time) time.Time {
	return t.UTC().Truncate(UnitDuration)
}

// GetBlockByTime returns the ID of the block covering t. With
// withFallback, if none covers t, the schedule is replaced by a safe
// all-Use fallback block and its ID (0) is returned.
func (s *Schedule) GetBlockByTime(t time.Time, withFallback bool) (int, bool) {
	u := truncateToUnit(t)
	for _, b := range s.Blocks {
		if !u.Before(b.StartTime) && !u.After(b.EndTime) {
			return b.BlockID, true
		}
	}

	if withFallback {
		s.Blocks = fallbackSchedule(s.Params)
		return 0, true
	}
	return 0, false
}

// GetBlockByID returns a pointer to the block with the given ID.
func (s *Schedule) GetBlockByID(id int) *Block {
	for i := range s.Blocks {
		if s.Blocks[i].BlockID == id {
			return &s.Blocks[i]
		}
	}
	return nil
}

// IsUpdateTime reports whether it's time to replan: t lies outside the
// block's bounds, or the block is still Waiting while current.
func (s *Schedule) IsUpdateTime(id int, t time.Time) bool {
	u := truncateToUnit(t)
	b := s.GetBlockByID(id)
	if b == nil {
		return true
	}
	if u.Before(b.StartTime) || u.After(b.EndTime) {
		return true
	}
	return b.Status.Kind == Waiting
}

// IsActiveCharging reports whether block id is a Charge block, started,
// and t falls within its bounds.
func (s *Schedule) IsActiveCharging(id int, t time.Time) bool {
	u := truncateToUnit(t)
	b := s.GetBlockByID(id)
	if b == nil {
		return false
	}
	return !u.Before(b.StartTime) && !u.After(b.EndTime) &&
		b.BlockType == Charge && b.Status.Kind == Started
}

// UpdateScheduling loads a persisted schedule covering t, if any exists
// among the given candidate (start, end, blocks) triples — callers
// obtain these from the backup package's directory scan. It returns
// true if a matching schedule was loaded.
func (s *Schedule) UpdateScheduling(t time.Time, candidates func() ([]ScheduleFile, error)) (bool, error) {
	files, err := candidates()
	if err != nil {
		return false, mgrerrors.Scheduling
	}

	for _, f := range files {
		if !t.Before(f.Start) && t.Before(f.End) {
			s.Blocks = f.Blocks
			return true, nil
		}
	}
	return false, nil
}

// ScheduleFile is a persisted schedule found on disk, with its
// filename-encoded validity window already parsed (see package backup).
type ScheduleFile struct {
	Start  time.Time
	End    time.Time
	Blocks []Block
}

// fallbackSchedule synthesizes a single safe all-Use block, used when no
// schedule can be found or computed. The block has zero StartTime and
// EndTime, so it covers no time and IsUpdateTime reports true for it on
// every call.
func fallbackSchedule(params BatteryParams) []Block {
	return []Block{{
		BlockID:         0,
		BlockType:       Use,
		ChargeIn:        (10 - FloorSOC) * params.SOCKWh,
		ChargeOut:       (10 - FloorSOC) * params.SOCKWh,
		SOCIn:           10,
		SOCOut:          10,
		Status:          Status{Kind: Waiting},
		ChargeTariffIn:  0,
		ChargeTariffOut: 0,
	}}
}
