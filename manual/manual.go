// Package manual checks a small JSON file of calendar dates to decide
// whether today runs in manual (operator-controlled) mode, suppressing
// all state-changing inverter calls for the day. Grounded on
// original_source/src/manual.rs's check_manual; the "skip" fork
// (skips.rs) is the same mechanism under an earlier name and is
// superseded by this one.
package manual

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gostonefire/mygrid/mgrerrors"
)

const dateLayout = "2006-01-02"

type manualDates struct {
	Dates []string `json:"dates"`
}

// Check reads manualFile, if it exists, and reports whether now's
// local calendar date is listed. transitioned is true only when the
// mode differs from wasManual, mirroring the Rust original's
// Option<bool>-returns-only-on-change contract, re-expressed as an
// explicit bool since Go has no idiomatic "no-op by default" return.
func Check(manualFile string, wasManual bool, now time.Time) (active, transitioned bool, err error) {
	active = false

	if _, statErr := os.Stat(manualFile); statErr == nil {
		data, readErr := os.ReadFile(manualFile)
		if readErr != nil {
			return false, false, fmt.Errorf("%w: read manual file: %v", mgrerrors.PersistenceIO, readErr)
		}

		var dates manualDates
		if jsonErr := json.Unmarshal(data, &dates); jsonErr != nil {
			return false, false, fmt.Errorf("%w: parse manual file: %v", mgrerrors.Configuration, jsonErr)
		}

		today := now.Local().Format(dateLayout)
		for _, d := range dates.Dates {
			if d == today {
				active = true
				break
			}
		}
	} else if !os.IsNotExist(statErr) {
		return false, false, fmt.Errorf("%w: stat manual file: %v", mgrerrors.PersistenceIO, statErr)
	}

	return active, active != wasManual, nil
}
