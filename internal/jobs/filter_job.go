package jobs

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/banshee-data/potree-clip/internal/events"
	"github.com/banshee-data/potree-clip/internal/filter"
	"github.com/banshee-data/potree-clip/internal/fsutil"
	"github.com/banshee-data/potree-clip/internal/geom"
	"github.com/banshee-data/potree-clip/internal/timeutil"
)

// progressInterval throttles progress events per job.
const progressInterval = time.Second

// FilterJobConfig describes a region filter job.
type FilterJobConfig struct {
	Clouds  []filter.CloudSpec
	Regions []geom.ClipRegion
	// OutputDirectory is the parent of the job's own output directory,
	// which is named after the job id.
	OutputDirectory string
	Concurrency     int
	FileSystem      fsutil.FileSystem
	Clock           timeutil.Clock
	Publisher       events.Publisher
}

// FilterJob runs a filter.Run in the background.
type FilterJob struct {
	lifecycle
	run    *filter.Run
	fsys   fsutil.FileSystem
	parent string
	outDir string

	progressMu  sync.Mutex
	lastPublish time.Time
}

// NewFilterJob prepares a filter job; nothing is read until Estimate or Start.
func NewFilterJob(cfg FilterJobConfig) *FilterJob {
	fsys := cfg.FileSystem
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	j := &FilterJob{fsys: fsys, parent: cfg.OutputDirectory}
	j.init(KindFilter, cfg.Clock, cfg.Publisher)
	j.outDir = filepath.Join(cfg.OutputDirectory, j.id)

	opts := []filter.Option{
		filter.WithFileSystem(fsys),
		filter.WithClock(j.clock),
		filter.WithProgressHook(j.onProgress),
	}
	if cfg.Concurrency > 0 {
		opts = append(opts, filter.WithConcurrency(cfg.Concurrency))
	}
	j.run = filter.New(cfg.Clouds, cfg.Regions, opts...)
	return j
}

// Estimate sizes the job without reading point data. Start reuses the result.
func (j *FilterJob) Estimate(ctx context.Context) (filter.Estimate, error) {
	return j.run.Estimate(ctx)
}

// Start creates the output directory and filters in the background.
func (j *FilterJob) Start(ctx context.Context) error {
	if err := j.fsys.MkdirAll(j.parent, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	ctx, err := j.activate(ctx)
	if err != nil {
		return err
	}
	go func() {
		j.finish(j.run.Filter(ctx, j.outDir))
	}()
	return nil
}

// Status includes the filter progress.
func (j *FilterJob) Status() Status {
	s := j.status()
	p := j.run.Progress()
	s.Progress = &p
	s.OutputDir = j.outDir
	return s
}

// Report returns the current filter report.
func (j *FilterJob) Report() filter.Report {
	return j.run.Report()
}

// OutputDir is where result_<i>.las and report.json are written.
func (j *FilterJob) OutputDir() string {
	return j.outDir
}

func (j *FilterJob) onProgress(p filter.Progress) {
	now := j.clock.Now()
	j.progressMu.Lock()
	if !j.lastPublish.IsZero() && now.Sub(j.lastPublish) < progressInterval {
		j.progressMu.Unlock()
		return
	}
	j.lastPublish = now
	j.progressMu.Unlock()

	j.publish(events.Event{
		Type:      events.TypeProgress,
		Nodes:     p.Nodes,
		Points:    p.Points,
		Accepted:  p.Accepted,
		Discarded: p.Discarded,
	})
}
