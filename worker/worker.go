// Package worker implements the single-threaded 10-second supervisor
// tick (spec §4.H): read the clock, gate on manual/debug mode, watch
// an active Charge block for early completion, replan at update-time,
// program the inverter for whichever block is now active, and persist
// state. Grounded on original_source/src/worker.rs's run/set_charge/
// set_full_if_done/set_hold/set_use. The teacher's PeriodicTask
// idiom (named goroutine, initial delay, time.Ticker, context
// cancellation, stop channel — scheduler/scheduler.go) is re-expressed
// directly as Run's own ticker loop; no separate task type exists.
package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gostonefire/mygrid/charge"
	"github.com/gostonefire/mygrid/flags"
	"github.com/gostonefire/mygrid/mgrerrors"
	"github.com/gostonefire/mygrid/scheduling"
)

// Inverter is the narrow capability surface the supervisor drives.
// manager_inverter.Client satisfies it.
type Inverter interface {
	GetCurrentSOC() (int, error)
	SetMinSOCOnGrid(soc int) error
	SetMaxSOC(soc int) error
	SetBatteryChargingTimeSchedule(enable1 bool, start1, end1 time.Time, enable2 bool, start2, end2 time.Time) error
	DisableChargeSchedule() error
	GetDeviceTime() (time.Time, error)
	SetDeviceTime(time.Time) error
}

// Persistence is what the supervisor needs from package backup,
// injected so worker has no hard dependency on the filesystem layout.
type Persistence interface {
	SaveSchedule(s scheduling.Schedule) error
	SaveActiveBlock(b scheduling.Block) error
	SaveLastCharge(lc charge.LastCharge) error
	ScheduleCandidates() ([]scheduling.ScheduleFile, error)
}

// ManualCheck reports whether today should run in manual (skip) mode
// (active) and whether that differs from the previous mode
// (transitioned), which the caller logs. Satisfied by package manual.
type ManualCheck func(now time.Time) (active bool, transitioned bool, err error)

// Optimizer computes a fresh Schedule for "now" when no persisted one
// covers it — package scheduling.Optimize wrapped with the current
// production/consumption/tariff inputs and charge carry-over.
type Optimizer func(now time.Time) (scheduling.Schedule, error)

// Config holds the supervisor's tunables (spec §4.H step 8 and the
// clock-check cadence of step 3).
type Config struct {
	RetryAttempts    int
	RetryBackoff     time.Duration
	ChargeCheckEvery time.Duration // step 4's "at least 5 minutes"
	ClockCheckHour   int           // UTC hour at which the daily clock check runs
}

// DefaultConfig matches spec §4.H's stated defaults.
func DefaultConfig() Config {
	return Config{
		RetryAttempts:    3,
		RetryBackoff:     10 * time.Second,
		ChargeCheckEvery: 5 * time.Minute,
		ClockCheckHour:   3,
	}
}

// Supervisor holds the running state of the tick loop.
type Supervisor struct {
	cfg      Config
	inverter Inverter
	persist  Persistence
	manual   ManualCheck
	optimize Optimizer
	logger   *log.Logger

	schedule        scheduling.Schedule
	activeBlock     int
	haveActiveBlock bool
	lastChargeCheck time.Time
	lastClockCheck  time.Time
}

// NewSupervisor constructs a Supervisor. schedule is the initial
// schedule recovered at startup (possibly empty, in which case the
// first tick replans).
func NewSupervisor(cfg Config, inverter Inverter, persist Persistence, manual ManualCheck, optimize Optimizer, logger *log.Logger, schedule scheduling.Schedule, now time.Time) *Supervisor {
	s := &Supervisor{
		cfg:      cfg,
		inverter: inverter,
		persist:  persist,
		manual:   manual,
		optimize: optimize,
		logger:   logger,
		schedule: schedule,
	}
	if id, ok := schedule.GetBlockByTime(now, false); ok {
		s.activeBlock, s.haveActiveBlock = id, true
	}
	return s
}

// Run starts the 10-second tick loop; it blocks until ctx is
// cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := s.Tick(now.UTC()); err != nil {
				s.logger.Printf("supervisor tick error: %v", err)
			}
		}
	}
}

// Tick runs one iteration of the 8-step loop.
func (s *Supervisor) Tick(now time.Time) error {
	if transitioned, active, err := s.checkManual(now); err != nil {
		return err
	} else if transitioned {
		if active {
			s.logger.Print("manual mode activated for today")
		} else {
			s.logger.Print("manual mode deactivated for today")
		}
	}

	if now.Hour() == s.cfg.ClockCheckHour && now.YearDay() != s.lastClockCheck.YearDay() {
		if err := s.checkInverterClock(now); err != nil {
			s.logger.Printf("inverter clock check failed: %v", err)
		}
		s.lastClockCheck = now
	}

	if s.haveActiveBlock && s.schedule.IsActiveCharging(s.activeBlock, now) {
		if now.Sub(s.lastChargeCheck) > s.cfg.ChargeCheckEvery {
			if err := s.checkChargeComplete(now); err != nil {
				return err
			}
			s.lastChargeCheck = now
		}
	}

	if !s.haveActiveBlock || s.schedule.IsUpdateTime(s.activeBlock, now) {
		if err := s.updateSchedule(now); err != nil {
			return err
		}

		id, ok := s.schedule.GetBlockByTime(now, true)
		if !ok {
			return fmt.Errorf("%w: fallback schedule produced no block", mgrerrors.Scheduling)
		}
		if s.haveActiveBlock && id == s.activeBlock && id == 0 {
			return nil
		}

		block := s.schedule.GetBlockByID(id)
		if block == nil {
			return fmt.Errorf("%w: active block not found", mgrerrors.Scheduling)
		}

		soc, err := s.getCurrentSOC()
		if err != nil {
			return err
		}

		status, err := s.programBlock(block, soc, now)
		if err != nil {
			block.UpdateBlockStatus(scheduling.Status{Kind: scheduling.Errored}, s.schedule.Params, 0)
			s.persistState()
			return err
		}
		block.UpdateBlockStatus(status, s.schedule.Params, 0)

		s.activeBlock, s.haveActiveBlock = id, true
		s.persistState()
	}

	return nil
}

func (s *Supervisor) checkManual(now time.Time) (transitioned, active bool, err error) {
	active, transitioned, err = s.manual(now)
	if err != nil {
		return false, false, err
	}
	flags.SetManual(active)
	return transitioned, active, nil
}

func (s *Supervisor) checkInverterClock(now time.Time) error {
	deviceTime, err := s.inverter.GetDeviceTime()
	if err != nil {
		return err
	}
	if diff := now.Sub(deviceTime); diff > time.Minute || diff < -time.Minute {
		return s.inverter.SetDeviceTime(now)
	}
	return nil
}

func (s *Supervisor) checkChargeComplete(now time.Time) error {
	block := s.schedule.GetBlockByID(s.activeBlock)
	if block == nil {
		return fmt.Errorf("%w: active block not found", mgrerrors.Scheduling)
	}

	soc, err := s.getCurrentSOC()
	if err != nil {
		return err
	}

	if soc >= block.SOCOut {
		status, err := s.setFull(soc, now)
		if err != nil {
			return err
		}
		block.UpdateBlockStatus(status, s.schedule.Params, 0)
		s.persistState()
	}
	return nil
}

// updateSchedule implements step 5: try a persisted schedule covering
// now, else the optimizer, else leave the schedule as-is (the
// subsequent GetBlockByTime(now, true) call fabricates the emergency
// fallback).
func (s *Supervisor) updateSchedule(now time.Time) error {
	loaded, err := s.schedule.UpdateScheduling(now, s.persist.ScheduleCandidates)
	if err != nil {
		return err
	}
	if loaded {
		return nil
	}

	fresh, err := s.optimize(now)
	if err != nil {
		s.logger.Printf("schedule optimization failed, falling back: %v", err)
		return nil
	}
	s.schedule = fresh
	return nil
}

// programBlock implements step 6: pick the status a block transitions
// to, and, outside manual/debug mode, drive the inverter to match it.
// Under flags.ManualOrDebug the inverter calls are suppressed, but the
// Started-vs-Full decision still runs so a Charge block whose target
// SoC is already met still transitions to Full and gets its LastCharge
// recorded, same as normal mode (spec invariant 7: block states
// transition identically regardless of gating).
func (s *Supervisor) programBlock(block *scheduling.Block, soc int, now time.Time) (scheduling.Status, error) {
	if flags.ManualOrDebug() {
		if block.BlockType == scheduling.Charge && chargeComplete(soc, block) {
			return scheduling.Status{Kind: scheduling.Full, FullSOC: soc, FullAt: now}, nil
		}
		return scheduling.Status{Kind: scheduling.Started}, nil
	}

	switch block.BlockType {
	case scheduling.Charge:
		return s.setCharge(soc, block, now)
	case scheduling.Hold:
		return s.setHold(soc, block.SOCIn)
	case scheduling.Use:
		return s.setUse()
	default:
		return scheduling.Status{}, fmt.Errorf("%w: unknown block type %q", mgrerrors.Scheduling, block.BlockType)
	}
}

// chargeComplete reports whether soc has already reached a Charge
// block's target, the shared test behind both the live setCharge path
// and the manual/debug status shortcut above.
func chargeComplete(soc int, block *scheduling.Block) bool {
	return soc >= block.SOCOut
}

// setCharge implements step 6's Charge branch.
func (s *Supervisor) setCharge(soc int, block *scheduling.Block, now time.Time) (scheduling.Status, error) {
	if chargeComplete(soc, block) {
		return s.setFull(soc, now)
	}

	if err := s.retry("set max soc", func() error { return s.inverter.SetMaxSOC(block.SOCOut) }); err != nil {
		return scheduling.Status{}, err
	}
	end := block.EndTime.Add(scheduling.UnitDuration)
	if err := s.retry("set charging schedule", func() error {
		return s.inverter.SetBatteryChargingTimeSchedule(true, block.StartTime, end, false, time.Time{}, time.Time{})
	}); err != nil {
		return scheduling.Status{}, err
	}

	return scheduling.Status{Kind: scheduling.Started}, nil
}

func (s *Supervisor) setFull(soc int, now time.Time) (scheduling.Status, error) {
	if flags.ManualOrDebug() {
		return scheduling.Status{Kind: scheduling.Full, FullSOC: soc, FullAt: now}, nil
	}

	minSOC := soc
	if minSOC < 10 {
		minSOC = 10
	}
	if minSOC > 100 {
		minSOC = 100
	}

	if err := s.retry("disable charge schedule", s.inverter.DisableChargeSchedule); err != nil {
		return scheduling.Status{}, err
	}
	if err := s.retry("set min soc on grid", func() error { return s.inverter.SetMinSOCOnGrid(minSOC) }); err != nil {
		return scheduling.Status{}, err
	}
	if err := s.retry("set max soc", func() error { return s.inverter.SetMaxSOC(100) }); err != nil {
		return scheduling.Status{}, err
	}

	return scheduling.Status{Kind: scheduling.Full, FullSOC: soc, FullAt: now}, nil
}

// setHold implements step 6's Hold branch: splits unused surplus
// between the hold and the following block.
func (s *Supervisor) setHold(soc, maxMinSOC int) (scheduling.Status, error) {
	minSOC := soc
	if soc > maxMinSOC {
		minSOC = maxMinSOC + (soc-maxMinSOC)/2
	}
	if minSOC < 10 {
		minSOC = 10
	}
	if minSOC > 100 {
		minSOC = 100
	}

	if err := s.retry("disable charge schedule", s.inverter.DisableChargeSchedule); err != nil {
		return scheduling.Status{}, err
	}
	if err := s.retry("set min soc on grid", func() error { return s.inverter.SetMinSOCOnGrid(minSOC) }); err != nil {
		return scheduling.Status{}, err
	}
	if err := s.retry("set max soc", func() error { return s.inverter.SetMaxSOC(100) }); err != nil {
		return scheduling.Status{}, err
	}

	return scheduling.Status{Kind: scheduling.Started}, nil
}

func (s *Supervisor) setUse() (scheduling.Status, error) {
	if err := s.retry("disable charge schedule", s.inverter.DisableChargeSchedule); err != nil {
		return scheduling.Status{}, err
	}
	if err := s.retry("set min soc on grid", func() error { return s.inverter.SetMinSOCOnGrid(10) }); err != nil {
		return scheduling.Status{}, err
	}
	if err := s.retry("set max soc", func() error { return s.inverter.SetMaxSOC(100) }); err != nil {
		return scheduling.Status{}, err
	}

	return scheduling.Status{Kind: scheduling.Started}, nil
}

func (s *Supervisor) getCurrentSOC() (int, error) {
	var soc int
	err := s.retry("get current soc", func() error {
		var err error
		soc, err = s.inverter.GetCurrentSOC()
		return err
	})
	return soc, err
}

// retry implements step 8: up to RetryAttempts tries with a fixed
// back-off. It does not check manual/debug mode itself; programBlock
// and setFull skip the state-changing calls in that mode.
func (s *Supervisor) retry(label string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.cfg.RetryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		s.logger.Printf("%s: attempt %d/%d failed: %v", label, attempt, s.cfg.RetryAttempts, err)
		if attempt < s.cfg.RetryAttempts {
			time.Sleep(s.cfg.RetryBackoff)
		}
	}
	return fmt.Errorf("%w: %s exhausted retries: %v", mgrerrors.CollaboratorTransient, label, err)
}

func (s *Supervisor) persistState() {
	if err := s.persist.SaveSchedule(s.schedule); err != nil {
		s.logger.Printf("save schedule: %v", err)
	}
	if block := s.schedule.GetBlockByID(s.activeBlock); block != nil {
		if err := s.persist.SaveActiveBlock(*block); err != nil {
			s.logger.Printf("save active block: %v", err)
		}
		if block.Status.Kind == scheduling.Full {
			lc := charge.LastCharge{
				DateTimeEnd:     block.Status.FullAt,
				SOCIn:           block.SOCIn,
				SOCOut:          block.SOCOut,
				ChargeIn:        block.ChargeIn,
				ChargeOut:       block.ChargeOut,
				ChargeTariffIn:  block.ChargeTariffIn,
				ChargeTariffOut: block.ChargeTariffOut,
			}
			if err := s.persist.SaveLastCharge(lc); err != nil {
				s.logger.Printf("save last charge: %v", err)
			}
		}
	}
}
