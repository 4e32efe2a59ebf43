package statusserver

import (
	"testing"
	"time"

	"github.com/gostonefire/mygrid/backup"
	"github.com/gostonefire/mygrid/scheduling"
)

func TestNewServerDisabledForNonPositivePort(t *testing.T) {
	if s := NewServer(t.TempDir(), t.TempDir(), 0); s != nil {
		t.Fatal("expected a nil server for port 0")
	}
}

func TestBuildStatusReportsDegradedWithNoSchedule(t *testing.T) {
	s := NewServer(t.TempDir(), t.TempDir(), 8099)
	doc := s.buildStatus()
	if doc.Status != "degraded" {
		t.Fatalf("expected degraded status with no schedule file, got %q", doc.Status)
	}
	if doc.HasSchedule {
		t.Fatal("expected HasSchedule false")
	}
}

func TestBuildStatusReportsScheduleAndActiveBlock(t *testing.T) {
	scheduleDir := t.TempDir()
	backupDir := t.TempDir()
	now := time.Now().UTC()

	sched := scheduling.Schedule{
		DateTime: now,
		Blocks: []scheduling.Block{
			{BlockID: 1, BlockType: scheduling.Charge, StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour)},
		},
	}
	if err := backup.SaveSchedule(scheduleDir, sched); err != nil {
		t.Fatalf("SaveSchedule: %v", err)
	}

	block := scheduling.Block{
		BlockID:   1,
		BlockType: scheduling.Charge,
		StartTime: now.Add(-time.Hour),
		EndTime:   now.Add(time.Hour),
		SOCIn:     30,
		SOCOut:    80,
		Status:    scheduling.Status{Kind: scheduling.Started},
	}
	if err := backup.SaveActiveBlock(backupDir, block); err != nil {
		t.Fatalf("SaveActiveBlock: %v", err)
	}

	s := NewServer(backupDir, scheduleDir, 8099)
	doc := s.buildStatus()

	if doc.Status != "healthy" {
		t.Fatalf("expected healthy status, got %q", doc.Status)
	}
	if !doc.HasSchedule || doc.BlockCount != 1 {
		t.Fatalf("expected one persisted block, got HasSchedule=%v BlockCount=%d", doc.HasSchedule, doc.BlockCount)
	}
	if doc.ActiveBlock == nil || doc.ActiveBlock.BlockID != 1 || doc.ActiveBlock.SOCOut != 80 {
		t.Fatalf("unexpected active block: %+v", doc.ActiveBlock)
	}
}
