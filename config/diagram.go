package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gostonefire/mygrid/mgrerrors"
)

// pvDiagramFile mirrors original_source/src/config.rs's PVDiagram
// shape: a flat 1440-entry, minute-resolution, normalized PV curve.
type pvDiagramFile struct {
	PVData []float64 `json:"pv_data"`
}

// consumptionDiagramFile mirrors ConsumptionDiagram: a 7x24
// weekday-by-hour baseline load matrix, row 0 = Sunday.
type consumptionDiagramFile struct {
	Day [7][24]float64 `json:"day"`
}

// LoadPVDiagram reads files.pv_diagram (spec §6), a JSON object whose
// pv_data array holds 1440 entries, into the fixed-size array
// production.Params.Diagram expects.
func LoadPVDiagram(path string) ([1440]float64, error) {
	var out [1440]float64

	data, err := os.ReadFile(path)
	if err != nil {
		return out, fmt.Errorf("%w: read pv diagram %s: %v", mgrerrors.Configuration, path, err)
	}

	var f pvDiagramFile
	if err := json.Unmarshal(data, &f); err != nil {
		return out, fmt.Errorf("%w: parse pv diagram %s: %v", mgrerrors.Configuration, path, err)
	}
	if len(f.PVData) != 1440 {
		return out, fmt.Errorf("%w: pv diagram length mismatch: got %d, want 1440", mgrerrors.Configuration, len(f.PVData))
	}

	copy(out[:], f.PVData)
	return out, nil
}

// LoadConsumptionDiagram reads files.cons_diagram (spec §6), a 7x24
// weekday-by-hour baseline load matrix.
func LoadConsumptionDiagram(path string) ([7][24]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return [7][24]float64{}, fmt.Errorf("%w: read consumption diagram %s: %v", mgrerrors.Configuration, path, err)
	}

	var f consumptionDiagramFile
	if err := json.Unmarshal(data, &f); err != nil {
		return [7][24]float64{}, fmt.Errorf("%w: parse consumption diagram %s: %v", mgrerrors.Configuration, path, err)
	}

	return f.Day, nil
}
