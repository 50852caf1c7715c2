package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/afero"

	"github.com/cispa/ampfuzz/internal/cond"
)

// Snapshot is the JSON-serializable view of a Chart, written out in full
// every display cycle (angora's chart.json). Unexported internal fields
// (Counter/Average, byte-count multisets) are flattened to plain numbers
// so the file is readable without this package's types.
type Snapshot struct {
	UptimeSeconds float64             `json:"uptime_seconds"`
	NumExec       int64               `json:"num_exec"`
	NumRounds     int64               `json:"num_rounds"`
	MaxRounds     int64               `json:"max_rounds"`
	Density       float64             `json:"density_percent"`
	Speed         float64             `json:"executions_per_second"`
	AvgExecTimeUs float64             `json:"avg_exec_time_us"`
	AvgEdgeNum    float64             `json:"avg_edge_num"`
	NumInputs     int64               `json:"num_inputs"`
	NumHangs      int64               `json:"num_hangs"`
	NumCrashes    int64               `json:"num_crashes"`
	NumAmps       int64               `json:"num_amps"`
	NumPaths      int                 `json:"num_paths"`
	NumAmpPaths   int                 `json:"num_amp_paths"`
	BestAmpFactor float64             `json:"best_amp_factor"`
	CurrentType   string              `json:"current_type"`
	FuzzByType    map[string]fuzzJSON `json:"fuzz_by_type"`
}

type fuzzJSON struct {
	NumConds   int64 `json:"num_conds"`
	NumExec    int64 `json:"num_exec"`
	NumInputs  int64 `json:"num_inputs"`
	NumHangs   int64 `json:"num_hangs"`
	NumCrashes int64 `json:"num_crashes"`
	NumAmps    int64 `json:"num_amps"`
}

// Snapshot builds the JSON-serializable view under the chart's lock.
func (c *Chart) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	byType := make(map[string]fuzzJSON, len(c.Fuzz))
	for i := range c.Fuzz {
		s := &c.Fuzz[i]
		byType[cond.FuzzType(i).String()] = fuzzJSON{
			NumConds:   s.NumConds.Load(),
			NumExec:    s.NumExec.Load(),
			NumInputs:  s.NumInputs.Load(),
			NumHangs:   s.NumHangs.Load(),
			NumCrashes: s.NumCrashes.Load(),
			NumAmps:    s.NumAmps.Load(),
		}
	}

	return Snapshot{
		UptimeSeconds: time.Since(c.InitTime).Seconds(),
		NumExec:       c.NumExec.Load(),
		NumRounds:     c.NumRounds.Load(),
		MaxRounds:     c.MaxRounds.Load(),
		Density:       c.Density.Value(),
		Speed:         c.Speed.Value(),
		AvgExecTimeUs: c.AvgExecTimeUs.Value(),
		AvgEdgeNum:    c.AvgEdgeNum.Value(),
		NumInputs:     c.NumInputs.Load(),
		NumHangs:      c.NumHangs.Load(),
		NumCrashes:    c.NumCrashes.Load(),
		NumAmps:       c.NumAmps.Load(),
		NumPaths:      len(c.Paths),
		NumAmpPaths:   len(c.PathAmplification),
		BestAmpFactor: c.BestAmp.AsFactor(),
		CurrentType:   c.FuzzType.String(),
		FuzzByType:    byType,
	}
}

// WriteJSON overwrites path with the Chart's current snapshot (chart.json).
func WriteJSON(fs afero.Fs, path string, c *Chart) error {
	data, err := json.MarshalIndent(c.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("stats: marshaling snapshot: %w", err)
	}
	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		return fmt.Errorf("stats: writing %s: %w", path, err)
	}
	return nil
}

// CSVWriter appends one mini-log row per call (angora.csv), writing the
// header on the very first call.
type CSVWriter struct {
	fs    afero.Fs
	path  string
	wrote bool
}

func fileAppendFlags() int { return os.O_APPEND | os.O_CREATE | os.O_WRONLY }

// NewCSVWriter prepares path for appended rows. It only checks whether
// the file exists; if it doesn't, the first WriteRow creates it and writes
// the header row first.
func NewCSVWriter(fs afero.Fs, path string) (*CSVWriter, error) {
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, fmt.Errorf("stats: checking %s: %w", path, err)
	}
	return &CSVWriter{fs: fs, path: path, wrote: exists}, nil
}

// WriteRow appends c's mini-log row, writing the header first if this is
// a fresh file.
func (w *CSVWriter) WriteRow(c *Chart) error {
	f, err := w.fs.OpenFile(w.path, fileAppendFlags(), 0o644)
	if err != nil {
		return fmt.Errorf("stats: opening %s: %w", w.path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if !w.wrote {
		if err := cw.Write(c.MiniLogHdr()); err != nil {
			return fmt.Errorf("stats: writing csv header: %w", err)
		}
		w.wrote = true
	}
	if err := cw.Write(c.MiniLog()); err != nil {
		return fmt.Errorf("stats: writing csv row: %w", err)
	}
	cw.Flush()
	return cw.Error()
}
