package filter

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/banshee-data/potree-clip/internal/geom"
)

// StatusError is the report status of a run that stopped on an error.
const StatusError = "ERROR"

// Report is the JSON document describing a run. Field names follow the
// format consumed by existing clients, spaces included.
type Report struct {
	Status      string            `json:"status"`
	Message     string            `json:"message,omitempty"`
	Durations   map[string]string `json:"durations"`
	Estimate    ReportEstimate    `json:"estimate"`
	Progress    ReportProgress    `json:"progress"`
	PointClouds []ReportCloud     `json:"pointclouds"`
	ClipRegions []geom.ClipRegion `json:"clip regions"`
}

// ReportEstimate is the total estimate of a run.
type ReportEstimate struct {
	Nodes  int64 `json:"nodes"`
	Points int64 `json:"points"`
}

// ReportProgress mirrors Progress with report field names.
type ReportProgress struct {
	ProcessedNodes  int64 `json:"processed nodes"`
	ProcessedPoints int64 `json:"processed points"`
	AcceptedPoints  int64 `json:"accepted points"`
	DiscardedPoints int64 `json:"discarded points"`
}

// ReportCloud describes one input cloud.
type ReportCloud struct {
	Path           string    `json:"path"`
	Transform      []float64 `json:"transform"`
	Estimate       *Estimate `json:"estimate"`
	FilterDuration string    `json:"filterDuration,omitempty"`
}

// Report returns a snapshot of the run's report. It is safe to call at any
// time, including while Filter is running.
func (r *Run) Report() Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	rep := Report{
		Status:    string(r.state),
		Durations: map[string]string{},
		Estimate:  ReportEstimate{Nodes: r.total.NumNodes, Points: r.total.NumPoints},
		Progress: ReportProgress{
			ProcessedNodes:  r.progress.Nodes,
			ProcessedPoints: r.progress.Points,
			AcceptedPoints:  r.progress.Accepted,
			DiscardedPoints: r.progress.Discarded,
		},
		ClipRegions: r.regions,
	}
	if r.err != nil {
		rep.Status = StatusError
		rep.Message = r.err.Error()
	}
	if !r.estimateEnd.IsZero() {
		rep.Durations["estimate"] = formatSeconds(r.estimateEnd.Sub(r.estimateStart))
	}
	if !r.filterEnd.IsZero() {
		rep.Durations["filter"] = formatSeconds(r.filterEnd.Sub(r.filterStart))
	}
	for _, c := range r.clouds {
		rc := ReportCloud{
			Path:      c.spec.Path,
			Transform: append([]float64(nil), c.transform[:]...),
			Estimate:  c.estimate,
		}
		if c.filtered {
			rc.FilterDuration = formatSeconds(c.duration)
		}
		rep.PointClouds = append(rep.PointClouds, rc)
	}
	return rep
}

// OutputDir returns the directory passed to Filter.
func (r *Run) OutputDir() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outDir
}

func (r *Run) writeReport() error {
	rep := r.Report()
	data, err := json.MarshalIndent(rep, "", "\t")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	path := filepath.Join(r.OutputDir(), ReportFile)
	if err := r.fsys.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.3fs", d.Seconds())
}
