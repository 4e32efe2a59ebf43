package backup

import (
	"os"
	"testing"
	"time"

	"github.com/gostonefire/mygrid/charge"
	"github.com/gostonefire/mygrid/scheduling"
)

func dirFileCount(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func TestLastChargeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	lc := charge.LastCharge{
		DateTimeEnd:     now.Add(-time.Hour),
		SOCIn:           20,
		SOCOut:          60,
		ChargeIn:        10,
		ChargeOut:       50,
		ChargeTariffIn:  0.5,
		ChargeTariffOut: 0.4,
	}

	if err := SaveLastCharge(dir, lc); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := LoadLastCharge(dir, now)
	if err != nil || !ok {
		t.Fatalf("expected load ok, got ok=%v err=%v", ok, err)
	}
	if got.SOCIn != lc.SOCIn || got.SOCOut != lc.SOCOut || got.ChargeTariffOut != lc.ChargeTariffOut {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, lc)
	}
}

func TestLastChargeRejectedWhenStale(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	lc := charge.LastCharge{DateTimeEnd: now.Add(-24 * time.Hour)}

	if err := SaveLastCharge(dir, lc); err != nil {
		t.Fatalf("save: %v", err)
	}

	_, ok, err := LoadLastCharge(dir, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected a last_charge.json older than 23h to be rejected")
	}
}

func TestActiveBlockAdoptedWithoutReplanning(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	b := scheduling.Block{
		BlockID:   3,
		BlockType: scheduling.Charge,
		StartTime: start,
		EndTime:   start.Add(30*time.Minute - time.Nanosecond),
		Status:    scheduling.Status{Kind: scheduling.Started},
	}

	if err := SaveActiveBlock(dir, b); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Restart mid-block: the active block should be adopted as-is.
	got, ok, err := LoadActiveBlock(dir, start.Add(10*time.Minute))
	if err != nil || !ok {
		t.Fatalf("expected active block to be adopted on restart, ok=%v err=%v", ok, err)
	}
	if got.BlockID != b.BlockID {
		t.Fatalf("expected adopted block id %d, got %d", b.BlockID, got.BlockID)
	}

	// Restart after the block's bounds: must be rejected, forcing a replan.
	_, ok, err = LoadActiveBlock(dir, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected an active block outside its bounds to be rejected")
	}
}

func TestScheduleCandidatesParsesFileNameWindow(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24*time.Hour - time.Nanosecond)
	s := scheduling.Schedule{
		Blocks: []scheduling.Block{
			{BlockID: 0, StartTime: start, EndTime: end, BlockType: scheduling.Use},
		},
	}

	if err := SaveSchedule(dir, s); err != nil {
		t.Fatalf("save: %v", err)
	}

	files, err := ScheduleCandidates(dir)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected exactly one timestamped schedule candidate, got %d", len(files))
	}
	if !files[0].Start.Equal(start) {
		t.Fatalf("expected parsed start %v, got %v", start, files[0].Start)
	}
	if len(files[0].Blocks) != 1 {
		t.Fatalf("expected one block carried through, got %d", len(files[0].Blocks))
	}
}

func TestLoadScheduleRejectsWhenNotCoveringToday(t *testing.T) {
	dir := t.TempDir()
	yesterday := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	s := scheduling.Schedule{
		Blocks: []scheduling.Block{
			{BlockID: 0, StartTime: yesterday, EndTime: yesterday.Add(24*time.Hour - time.Nanosecond)},
		},
	}
	if err := SaveSchedule(dir, s); err != nil {
		t.Fatalf("save: %v", err)
	}

	_, ok, err := LoadSchedule(dir, yesterday.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected a schedule not covering today to be rejected")
	}
}

func TestSweepRetentionRemovesOldTimestampedCopies(t *testing.T) {
	dir := t.TempDir()
	old := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	recent := old.Add(72 * time.Hour)

	if err := SaveBaseData(dir, old, nil, nil, nil); err != nil {
		t.Fatalf("save old: %v", err)
	}
	if err := SaveBaseData(dir, recent, nil, nil, nil); err != nil {
		t.Fatalf("save recent: %v", err)
	}

	entries, err := dirFileCount(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	// Only the rolling base_data.json plus the still-fresh timestamped
	// copy should remain; the stale one is swept by the second save.
	if entries != 2 {
		t.Fatalf("expected 2 files after retention sweep, got %d", entries)
	}
}
