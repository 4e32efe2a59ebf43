package worker

import (
	"errors"
	"log"
	"testing"
	"time"

	"github.com/gostonefire/mygrid/charge"
	"github.com/gostonefire/mygrid/flags"
	"github.com/gostonefire/mygrid/mgrerrors"
	"github.com/gostonefire/mygrid/scheduling"
)

type fakeInverter struct {
	soc           int
	minSOCCalls   []int
	maxSOCCalls   []int
	scheduleCalls int
	disableCalls  int
	failNextN     int
}

func (f *fakeInverter) nextErr() error {
	if f.failNextN > 0 {
		f.failNextN--
		return errors.New("modbus timeout")
	}
	return nil
}

func (f *fakeInverter) GetCurrentSOC() (int, error) { return f.soc, f.nextErr() }
func (f *fakeInverter) SetMinSOCOnGrid(soc int) error {
	if err := f.nextErr(); err != nil {
		return err
	}
	f.minSOCCalls = append(f.minSOCCalls, soc)
	return nil
}
func (f *fakeInverter) SetMaxSOC(soc int) error {
	if err := f.nextErr(); err != nil {
		return err
	}
	f.maxSOCCalls = append(f.maxSOCCalls, soc)
	return nil
}
func (f *fakeInverter) SetBatteryChargingTimeSchedule(enable1 bool, start1, end1 time.Time, enable2 bool, start2, end2 time.Time) error {
	if err := f.nextErr(); err != nil {
		return err
	}
	f.scheduleCalls++
	return nil
}
func (f *fakeInverter) DisableChargeSchedule() error {
	if err := f.nextErr(); err != nil {
		return err
	}
	f.disableCalls++
	return nil
}
func (f *fakeInverter) GetDeviceTime() (time.Time, error) { return time.Time{}, nil }
func (f *fakeInverter) SetDeviceTime(time.Time) error     { return nil }

type fakePersist struct {
	schedules     []scheduling.Schedule
	activeBlocks  []scheduling.Block
	lastCharges   []charge.LastCharge
	candidatesErr error
}

func (f *fakePersist) SaveSchedule(s scheduling.Schedule) error {
	f.schedules = append(f.schedules, s)
	return nil
}
func (f *fakePersist) SaveActiveBlock(b scheduling.Block) error {
	f.activeBlocks = append(f.activeBlocks, b)
	return nil
}
func (f *fakePersist) SaveLastCharge(lc charge.LastCharge) error {
	f.lastCharges = append(f.lastCharges, lc)
	return nil
}
func (f *fakePersist) ScheduleCandidates() ([]scheduling.ScheduleFile, error) {
	return nil, f.candidatesErr
}

func noManual(now time.Time) (bool, bool, error) { return false, false, nil }

func testLogger() *log.Logger {
	return log.New(testWriter{}, "", 0)
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func params() scheduling.BatteryParams {
	return scheduling.BatteryParams{
		SOCKWh:              0.1,
		BatKWh:              9.0,
		ChargeKWhHour:       3.0,
		ChargeEfficiency:    0.95,
		DischargeEfficiency: 0.95,
		SellPriority:        0.1,
		UseTariffFloor:      0.5,
	}
}

// TestSetChargeTransitionsToFullWhenSOCAlreadyMet covers the charge
// block SoC-already-reached branch of step 6 (the scenario where the
// supervisor discovers a Charge block is already topped up at the
// very tick it takes over, mirroring set_full_if_done).
func TestSetChargeTransitionsToFullWhenSOCAlreadyMet(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	block := &scheduling.Block{
		BlockID:   1,
		BlockType: scheduling.Charge,
		StartTime: now,
		EndTime:   now.Add(time.Hour),
		SOCIn:     40,
		SOCOut:    60,
	}
	inv := &fakeInverter{soc: 65}
	s := &Supervisor{cfg: DefaultConfig(), inverter: inv, logger: testLogger(), schedule: scheduling.Schedule{Params: params()}}

	status, err := s.setCharge(65, block, now)
	if err != nil {
		t.Fatalf("setCharge: %v", err)
	}
	if status.Kind != scheduling.Full {
		t.Fatalf("expected Full status, got %v", status.Kind)
	}
	if inv.scheduleCalls != 0 {
		t.Fatalf("expected no charge schedule write once SoC is already met, got %d calls", inv.scheduleCalls)
	}
	if inv.disableCalls != 1 {
		t.Fatalf("expected charge schedule to be disabled, got %d calls", inv.disableCalls)
	}
}

// TestProgramBlockUnderDebugStillTransitionsChargeToFull covers
// invariant 7: gating a block under debug/manual mode suppresses the
// inverter calls but must not suppress the Started-vs-Full decision,
// since skipping it would leave LastCharge unrecorded for a block that
// completes instantly while gated.
func TestProgramBlockUnderDebugStillTransitionsChargeToFull(t *testing.T) {
	flags.SetDebug(true)
	defer flags.SetDebug(false)

	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	block := &scheduling.Block{
		BlockID:   1,
		BlockType: scheduling.Charge,
		StartTime: now,
		EndTime:   now.Add(time.Hour),
		SOCIn:     40,
		SOCOut:    60,
	}
	inv := &fakeInverter{soc: 65}
	s := &Supervisor{cfg: DefaultConfig(), inverter: inv, logger: testLogger(), schedule: scheduling.Schedule{Params: params()}}

	status, err := s.programBlock(block, 65, now)
	if err != nil {
		t.Fatalf("programBlock: %v", err)
	}
	if status.Kind != scheduling.Full {
		t.Fatalf("expected Full status even while gated, got %v", status.Kind)
	}
	if status.FullSOC != 65 {
		t.Fatalf("expected FullSOC to record the observed SoC, got %d", status.FullSOC)
	}
	if inv.scheduleCalls != 0 || inv.disableCalls != 0 || inv.maxSOCCalls != nil || inv.minSOCCalls != nil {
		t.Fatalf("expected no inverter calls while gated, got %+v", inv)
	}
}

// TestProgramBlockUnderDebugStartsChargeWhenSOCNotYetMet covers the
// other half of the same decision: a gated Charge block that hasn't
// reached its target still reports Started, not Full.
func TestProgramBlockUnderDebugStartsChargeWhenSOCNotYetMet(t *testing.T) {
	flags.SetDebug(true)
	defer flags.SetDebug(false)

	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	block := &scheduling.Block{
		BlockID:   1,
		BlockType: scheduling.Charge,
		StartTime: now,
		EndTime:   now.Add(time.Hour),
		SOCIn:     40,
		SOCOut:    60,
	}
	inv := &fakeInverter{soc: 45}
	s := &Supervisor{cfg: DefaultConfig(), inverter: inv, logger: testLogger(), schedule: scheduling.Schedule{Params: params()}}

	status, err := s.programBlock(block, 45, now)
	if err != nil {
		t.Fatalf("programBlock: %v", err)
	}
	if status.Kind != scheduling.Started {
		t.Fatalf("expected Started status, got %v", status.Kind)
	}
	if inv.scheduleCalls != 0 || inv.disableCalls != 0 {
		t.Fatalf("expected no inverter calls while gated, got %+v", inv)
	}
}

// TestSetHoldSplitsSurplusAboveMaxMinSOC mirrors the Rust original's
// set_hold surplus-splitting rule.
func TestSetHoldSplitsSurplusAboveMaxMinSOC(t *testing.T) {
	inv := &fakeInverter{}
	s := &Supervisor{cfg: DefaultConfig(), inverter: inv, logger: testLogger()}

	status, err := s.setHold(80, 60)
	if err != nil {
		t.Fatalf("setHold: %v", err)
	}
	if status.Kind != scheduling.Started {
		t.Fatalf("expected Started status, got %v", status.Kind)
	}
	want := 60 + (80-60)/2
	if got := inv.minSOCCalls[0]; got != want {
		t.Fatalf("expected min SoC %d, got %d", want, got)
	}
}

// TestSetHoldLeavesSOCUnchangedBelowMaxMinSOC covers the branch where
// the reported SoC is already at or below the configured floor, so no
// surplus exists to split.
func TestSetHoldLeavesSOCUnchangedBelowMaxMinSOC(t *testing.T) {
	inv := &fakeInverter{}
	s := &Supervisor{cfg: DefaultConfig(), inverter: inv, logger: testLogger()}

	status, err := s.setHold(50, 60)
	if err != nil {
		t.Fatalf("setHold: %v", err)
	}
	if status.Kind != scheduling.Started {
		t.Fatalf("expected Started status, got %v", status.Kind)
	}
	if got := inv.minSOCCalls[0]; got != 50 {
		t.Fatalf("expected min SoC to stay at reported 50, got %d", got)
	}
}

// TestRetryExhaustsAfterConfiguredAttempts covers step 8's retry
// policy: the inverter call fails every time, so retry must give up
// after exactly RetryAttempts tries and surface a transient error.
func TestRetryExhaustsAfterConfiguredAttempts(t *testing.T) {
	inv := &fakeInverter{failNextN: 100}
	cfg := DefaultConfig()
	cfg.RetryAttempts = 2
	cfg.RetryBackoff = time.Millisecond
	s := &Supervisor{cfg: cfg, inverter: inv, logger: testLogger()}

	err := s.retry("probe", func() error { _, err := inv.GetCurrentSOC(); return err })
	if err == nil {
		t.Fatal("expected retry exhaustion error")
	}
	if calls := 100 - inv.failNextN; calls != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", calls)
	}
	if !errors.Is(err, mgrerrors.CollaboratorTransient) {
		t.Fatalf("expected a transient collaborator error, got %v", err)
	}
}

// TestRetrySucceedsAfterTransientFailure covers the recovery path: the
// second attempt succeeds, so the call must not propagate an error.
func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	inv := &fakeInverter{failNextN: 1}
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	s := &Supervisor{cfg: cfg, inverter: inv, logger: testLogger()}

	if err := s.retry("probe", func() error { _, err := inv.GetCurrentSOC(); return err }); err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
}

// TestUpdateScheduleFallsBackToOptimizerWhenNoFileCovers covers step
// 5's two-step fallback: no persisted schedule covers now, so the
// optimizer is consulted and its result adopted.
func TestUpdateScheduleFallsBackToOptimizerWhenNoFileCovers(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	persist := &fakePersist{}
	optimizerCalled := false
	optimize := func(t time.Time) (scheduling.Schedule, error) {
		optimizerCalled = true
		return scheduling.Schedule{DateTime: t, Params: params()}, nil
	}

	s := &Supervisor{
		cfg:      DefaultConfig(),
		persist:  persist,
		optimize: optimize,
		logger:   testLogger(),
		schedule: scheduling.Schedule{Params: params()},
	}

	if err := s.updateSchedule(now); err != nil {
		t.Fatalf("updateSchedule: %v", err)
	}
	if !optimizerCalled {
		t.Fatal("expected the optimizer to be consulted when no schedule file covers now")
	}
}

// TestTickAdoptsPersistedActiveBlockWithoutReplanning mirrors scenario
// S6 (mid-block process restart): an active block already covers now
// and is not yet at its update time, so Tick must not touch the
// schedule or call the optimizer.
func TestTickAdoptsPersistedActiveBlockWithoutReplanning(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 5, 0, 0, time.UTC)
	block := scheduling.Block{
		BlockID:   1,
		BlockType: scheduling.Use,
		StartTime: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2024, 6, 1, 10, 45, 0, 0, time.UTC),
		Status:    scheduling.Status{Kind: scheduling.Started},
	}
	sched := scheduling.Schedule{Params: params(), Blocks: []scheduling.Block{block}}

	persist := &fakePersist{}
	optimizerCalled := false
	optimize := func(t time.Time) (scheduling.Schedule, error) {
		optimizerCalled = true
		return scheduling.Schedule{}, nil
	}

	s := NewSupervisor(DefaultConfig(), &fakeInverter{soc: 50}, persist, noManual, optimize, testLogger(), sched, now)

	if err := s.Tick(now); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if optimizerCalled {
		t.Fatal("expected no replanning while the active block is still current and started")
	}
	if len(persist.schedules) != 0 {
		t.Fatal("expected no schedule persistence on a tick that only adopts the existing active block")
	}
}
