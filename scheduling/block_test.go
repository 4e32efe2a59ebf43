package scheduling

import (
	"testing"
	"time"
)

func TestGetBlockByTimeFindsCoveringBlock(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	s := Schedule{
		Blocks: []Block{
			{BlockID: 0, StartTime: base, EndTime: base.Add(2*time.Hour - time.Nanosecond)},
			{BlockID: 1, StartTime: base.Add(2 * time.Hour), EndTime: base.Add(4*time.Hour - time.Nanosecond)},
		},
	}

	id, ok := s.GetBlockByTime(base.Add(3*time.Hour+5*time.Minute), false)
	if !ok || id != 1 {
		t.Fatalf("expected block 1, got id=%d ok=%v", id, ok)
	}
}

func TestGetBlockByTimeFallsBack(t *testing.T) {
	s := Schedule{Params: BatteryParams{SOCKWh: 1.0}}
	id, ok := s.GetBlockByTime(time.Now(), true)
	if !ok || id != 0 {
		t.Fatalf("expected fallback block 0, got id=%d ok=%v", id, ok)
	}
	if len(s.Blocks) != 1 || s.Blocks[0].BlockType != Use {
		t.Fatalf("expected a single fallback Use block, got %+v", s.Blocks)
	}
}

func TestIsUpdateTimeOutsideBounds(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	s := Schedule{Blocks: []Block{
		{BlockID: 0, StartTime: base, EndTime: base.Add(time.Hour - time.Nanosecond), Status: Status{Kind: Started}},
	}}

	if !s.IsUpdateTime(0, base.Add(2*time.Hour)) {
		t.Fatalf("expected update time outside block bounds")
	}
	if s.IsUpdateTime(0, base.Add(10*time.Minute)) {
		t.Fatalf("did not expect update time within a Started block")
	}
}

func TestIsUpdateTimeWhenWaiting(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	s := Schedule{Blocks: []Block{
		{BlockID: 0, StartTime: base, EndTime: base.Add(time.Hour - time.Nanosecond), Status: Status{Kind: Waiting}},
	}}

	if !s.IsUpdateTime(0, base.Add(10*time.Minute)) {
		t.Fatalf("expected update time for a Waiting block even within bounds")
	}
}

func TestIsActiveChargingRequiresChargeAndStarted(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	s := Schedule{Blocks: []Block{
		{BlockID: 0, BlockType: Charge, StartTime: base, EndTime: base.Add(time.Hour - time.Nanosecond), Status: Status{Kind: Started}},
		{BlockID: 1, BlockType: Use, StartTime: base.Add(time.Hour), EndTime: base.Add(2*time.Hour - time.Nanosecond), Status: Status{Kind: Started}},
	}}

	if !s.IsActiveCharging(0, base.Add(10*time.Minute)) {
		t.Fatalf("expected active charging for Charge/Started block within bounds")
	}
	if s.IsActiveCharging(1, base.Add(90*time.Minute)) {
		t.Fatalf("Use block must never report active charging")
	}
}

func TestUpdateBlockStatusBlendsTariffOnFull(t *testing.T) {
	params := BatteryParams{SOCKWh: 2.0}
	b := Block{
		BlockType:      Charge,
		SOCIn:          20,
		ChargeTariffIn: 1.0,
	}

	// SoC rose from 20 to 40 (40 kWh added at SOCKWh=2), actual cost 20.0
	// for that energy => this-segment mean price 0.5.
	b.UpdateBlockStatus(Status{Kind: Full, FullSOC: 40}, params, 20.0)

	if b.SOCOut != 40 {
		t.Fatalf("expected SOCOut=40, got %d", b.SOCOut)
	}
	wantChargeOut := float64(40-FloorSOC) * params.SOCKWh
	if b.ChargeOut != wantChargeOut {
		t.Fatalf("expected ChargeOut=%v, got %v", wantChargeOut, b.ChargeOut)
	}
	if b.ChargeTariffOut <= 0 || b.ChargeTariffOut >= b.ChargeTariffIn {
		t.Fatalf("expected blended tariff strictly between 0 and ChargeTariffIn, got %v", b.ChargeTariffOut)
	}
}
