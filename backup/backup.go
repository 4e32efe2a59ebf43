// Package backup implements atomic JSON persistence of recoverable
// supervisor state and time-bounded schedule files (spec §4.I).
// Grounded on original_source/src/backup.rs's save_backup/load_backup
// shape, generalized from a single nightly snapshot into the spec's
// fuller set of named files, and on original_source/src/scheduler.rs's
// filename-encoded schedule validity window.
package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gostonefire/mygrid/charge"
	"github.com/gostonefire/mygrid/consumption"
	"github.com/gostonefire/mygrid/mgrerrors"
	"github.com/gostonefire/mygrid/production"
	"github.com/gostonefire/mygrid/scheduling"
)

const (
	baseDataFileName    = "base_data.json"
	lastChargeFileName  = "last_charge.json"
	activeBlockFileName = "active_block.json"
	scheduleFileName    = "schedule.json"

	retentionWindow = 48 * time.Hour
	scheduleTimeFmt = "200601021504"
)

// writeJSONAtomic serializes v as pretty JSON into a temp file in dir
// and renames it into place, so a reader never observes a partial
// write. No third-party atomic-file library appears anywhere in the
// example pack, so this is the one ambient concern left to the
// standard library: os.CreateTemp + os.Rename is the idiomatic Go
// primitive for the operation and there's nothing to wrap it in.
func writeJSONAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return mgrerrors.PersistenceIO
	}
	tmpName := tmp.Name()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return mgrerrors.PersistenceIO
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return mgrerrors.PersistenceIO
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return mgrerrors.PersistenceIO
	}
	return nil
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, mgrerrors.PersistenceIO
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, mgrerrors.PersistenceIO
	}
	return true, nil
}

// BaseData is the scheduler's daily inputs, kept for diagnosis and
// retained for 48h under a timestamped filename.
type BaseData struct {
	DateTime    time.Time                   `json:"date_time"`
	Forecast    []production.ForecastSample `json:"forecast"`
	Production  []production.Sample         `json:"production"`
	Consumption []consumption.Sample        `json:"consumption"`
}

// SaveBaseData writes base_data.json and a retained timestamped copy,
// then sweeps any timestamped copies older than the retention window.
func SaveBaseData(dir string, dateTime time.Time, forecast []production.ForecastSample, prod []production.Sample, cons []consumption.Sample) error {
	data := BaseData{DateTime: dateTime, Forecast: forecast, Production: prod, Consumption: cons}

	if err := writeJSONAtomic(filepath.Join(dir, baseDataFileName), data); err != nil {
		return err
	}

	timestamped := fmt.Sprintf("%s_%s", dateTime.UTC().Format("20060102150405"), baseDataFileName)
	if err := writeJSONAtomic(filepath.Join(dir, timestamped), data); err != nil {
		return err
	}

	return sweepRetention(dir, baseDataFileName, dateTime)
}

// sweepRetention removes timestamped_<name> files older than the
// retention window, relative to now.
func sweepRetention(dir, name string, now time.Time) error {
	suffix := "_" + name
	entries, err := os.ReadDir(dir)
	if err != nil {
		return mgrerrors.PersistenceIO
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		stamp := strings.TrimSuffix(e.Name(), suffix)
		ts, err := time.ParseInLocation("20060102150405", stamp, time.UTC)
		if err != nil {
			continue
		}
		if now.Sub(ts) > retentionWindow {
			os.Remove(filepath.Join(dir, e.Name()))
		}
	}
	return nil
}

// SaveLastCharge writes last_charge.json.
func SaveLastCharge(dir string, lc charge.LastCharge) error {
	return writeJSONAtomic(filepath.Join(dir, lastChargeFileName), lc)
}

// LoadLastCharge loads last_charge.json, rejecting it if older than
// 23h (per spec, LastCharge.Valid).
func LoadLastCharge(dir string, now time.Time) (charge.LastCharge, bool, error) {
	var lc charge.LastCharge
	ok, err := readJSON(filepath.Join(dir, lastChargeFileName), &lc)
	if err != nil || !ok {
		return charge.LastCharge{}, false, err
	}
	if !lc.Valid(now) {
		return charge.LastCharge{}, false, nil
	}
	return lc, true, nil
}

// SaveActiveBlock writes active_block.json.
func SaveActiveBlock(dir string, b scheduling.Block) error {
	return writeJSONAtomic(filepath.Join(dir, activeBlockFileName), b)
}

// LoadActiveBlock loads active_block.json, rejecting it if now falls
// outside its bounds.
func LoadActiveBlock(dir string, now time.Time) (scheduling.Block, bool, error) {
	var b scheduling.Block
	ok, err := readJSON(filepath.Join(dir, activeBlockFileName), &b)
	if err != nil || !ok {
		return scheduling.Block{}, false, err
	}
	if now.Before(b.StartTime) || now.After(b.EndTime) {
		return scheduling.Block{}, false, nil
	}
	return b, true, nil
}

// SaveSchedule writes the rolling schedule.json and a time-bounded
// copy named <start>_<end>_schedule.json, one entry per planning
// update.
func SaveSchedule(dir string, s scheduling.Schedule) error {
	if err := writeJSONAtomic(filepath.Join(dir, scheduleFileName), s); err != nil {
		return err
	}
	if len(s.Blocks) == 0 {
		return nil
	}

	start := s.Blocks[0].StartTime
	end := s.Blocks[len(s.Blocks)-1].EndTime
	name := fmt.Sprintf("%s_%s_schedule.json", start.UTC().Format(scheduleTimeFmt), end.UTC().Format(scheduleTimeFmt))
	return writeJSONAtomic(filepath.Join(dir, name), s)
}

// LoadSchedule loads schedule.json, rejecting it unless one of its
// blocks covers now's calendar day (in now's location).
func LoadSchedule(dir string, now time.Time) (scheduling.Schedule, bool, error) {
	var s scheduling.Schedule
	ok, err := readJSON(filepath.Join(dir, scheduleFileName), &s)
	if err != nil || !ok {
		return scheduling.Schedule{}, false, err
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)
	for _, b := range s.Blocks {
		if b.StartTime.Before(dayEnd) && !b.EndTime.Before(dayStart) {
			return s, true, nil
		}
	}
	return scheduling.Schedule{}, false, nil
}

// ScheduleCandidates scans dir for <start>_<end>_schedule.json files
// and returns their parsed validity windows and blocks, for
// scheduling.Schedule.UpdateScheduling.
func ScheduleCandidates(dir string) ([]scheduling.ScheduleFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, mgrerrors.PersistenceIO
	}

	var out []scheduling.ScheduleFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), "_schedule.json") {
			continue
		}
		start, end, err := parseScheduleFileName(e.Name())
		if err != nil {
			continue
		}

		var s scheduling.Schedule
		if _, err := readJSON(filepath.Join(dir, e.Name()), &s); err != nil {
			continue
		}
		out = append(out, scheduling.ScheduleFile{Start: start, End: end, Blocks: s.Blocks})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// parseScheduleFileName parses the "<start>_<end>_schedule.json"
// convention (spec §4.I), both halves %Y%m%d%H%M, UTC.
func parseScheduleFileName(name string) (start, end time.Time, err error) {
	const suffix = "_schedule.json"
	if !strings.HasSuffix(name, suffix) {
		return time.Time{}, time.Time{}, mgrerrors.Scheduling
	}
	stem := strings.TrimSuffix(name, suffix)
	parts := strings.SplitN(stem, "_", 2)
	if len(parts) != 2 {
		return time.Time{}, time.Time{}, mgrerrors.Scheduling
	}

	start, err = time.ParseInLocation(scheduleTimeFmt, parts[0], time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, mgrerrors.Scheduling
	}
	end, err = time.ParseInLocation(scheduleTimeFmt, parts[1], time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, mgrerrors.Scheduling
	}
	return start, end, nil
}

// Store binds the spec's two persistence directories (files.backup_dir
// for base_data/last_charge/active_block, files.schedule_dir for
// schedule.json and its time-windowed copies) to the package-level
// save/load functions, giving callers like package worker a narrow,
// directory-free interface (worker.Persistence) to depend on.
type Store struct {
	BackupDir   string
	ScheduleDir string
}

func (s Store) SaveSchedule(sch scheduling.Schedule) error {
	return SaveSchedule(s.ScheduleDir, sch)
}

func (s Store) SaveActiveBlock(b scheduling.Block) error {
	return SaveActiveBlock(s.BackupDir, b)
}

func (s Store) SaveLastCharge(lc charge.LastCharge) error {
	return SaveLastCharge(s.BackupDir, lc)
}

func (s Store) ScheduleCandidates() ([]scheduling.ScheduleFile, error) {
	return ScheduleCandidates(s.ScheduleDir)
}

// WriteDeviceHistoryCSV writes the "time,pvPower,ldPower" device
// history CSV for a single day, per spec §6's device_history format.
func WriteDeviceHistoryCSV(statsDir string, day time.Time, timestamps []string, pv, load []float64) error {
	n := len(timestamps)
	if len(pv) < n {
		n = len(pv)
	}
	if len(load) < n {
		n = len(load)
	}

	path := filepath.Join(statsDir, day.UTC().Format("20060102")+".csv")
	f, err := os.Create(path)
	if err != nil {
		return mgrerrors.PersistenceIO
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, "time,pvPower,ldPower"); err != nil {
		return mgrerrors.PersistenceIO
	}
	for i := 0; i < n; i++ {
		if _, err := fmt.Fprintf(f, "%s,%v,%v\n", timestamps[i], pv[i], load[i]); err != nil {
			return mgrerrors.PersistenceIO
		}
	}
	return nil
}
