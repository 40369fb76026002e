// Package filter extracts the points of Potree octrees that fall inside clip
// regions and writes them to LAS files, one per input cloud.
package filter

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/potree-clip/internal/fsutil"
	"github.com/banshee-data/potree-clip/internal/geom"
	"github.com/banshee-data/potree-clip/internal/las"
	"github.com/banshee-data/potree-clip/internal/monitoring"
	"github.com/banshee-data/potree-clip/internal/potree"
	"github.com/banshee-data/potree-clip/internal/timeutil"
)

// ErrAlreadyRun is returned when Filter is called more than once on a Run.
var ErrAlreadyRun = errors.New("filter already called on this run; create a new run")

// DefaultConcurrency caps the nodes of one cloud filtered at the same time.
const DefaultConcurrency = 10

// ReportFile is the name of the report written next to the results.
const ReportFile = "report.json"

// State is the lifecycle state of a Run.
type State string

const (
	StateUndefined  State = "UNDEFINED"
	StateEstimating State = "ESTIMATING"
	StateFiltering  State = "FILTERING"
	StateFinished   State = "FINISHED"
)

// CloudSpec names an input cloud and its local-to-world transform. A nil
// Transform is the identity.
type CloudSpec struct {
	Path      string
	Transform *geom.Matrix4
}

// Estimate is the metadata-only cost of a run.
type Estimate struct {
	NumNodes  int64 `json:"numNodes"`
	NumPoints int64 `json:"numPoints"`
}

// Add returns the sum of e and o.
func (e Estimate) Add(o Estimate) Estimate {
	return Estimate{NumNodes: e.NumNodes + o.NumNodes, NumPoints: e.NumPoints + o.NumPoints}
}

// Progress counts work done by Filter.
type Progress struct {
	Nodes     int64 `json:"nodes"`
	Points    int64 `json:"points"`
	Accepted  int64 `json:"accepted"`
	Discarded int64 `json:"discarded"`
}

// Option configures a Run.
type Option func(*Run)

// WithFileSystem sets the filesystem used for reading and writing.
func WithFileSystem(fsys fsutil.FileSystem) Option {
	return func(r *Run) { r.fsys = fsys }
}

// WithClock sets the clock used for timestamps.
func WithClock(c timeutil.Clock) Option {
	return func(r *Run) { r.clock = c }
}

// WithConcurrency caps the number of nodes filtered in parallel per cloud.
func WithConcurrency(n int) Option {
	return func(r *Run) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithProgressHook registers fn to be called after every filtered node.
func WithProgressHook(fn func(Progress)) Option {
	return func(r *Run) { r.onProgress = fn }
}

type cloudRun struct {
	spec      CloudSpec
	transform geom.Matrix4
	cloud     *potree.Cloud
	local     []geom.ClipRegion
	visible   []*potree.Node
	estimate  *Estimate
	duration  time.Duration
	filtered  bool
}

// Run is one region-filtering invocation over several clouds and regions.
// Estimate may be called before Filter; Filter may be called once.
type Run struct {
	fsys        fsutil.FileSystem
	clock       timeutil.Clock
	concurrency int
	onProgress  func(Progress)

	regions []geom.ClipRegion
	clouds  []*cloudRun

	mu            sync.Mutex
	state         State
	filterCalled  bool
	estimated     bool
	total         Estimate
	progress      Progress
	estimateStart time.Time
	estimateEnd   time.Time
	filterStart   time.Time
	filterEnd     time.Time
	outDir        string
	err           error
}

// New returns a Run over clouds, keeping points inside any of regions.
// Regions are given in world space.
func New(clouds []CloudSpec, regions []geom.ClipRegion, opts ...Option) *Run {
	r := &Run{
		fsys:        fsutil.OSFileSystem{},
		clock:       timeutil.RealClock{},
		concurrency: DefaultConcurrency,
		regions:     regions,
		state:       StateUndefined,
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, spec := range clouds {
		t := geom.Identity()
		if spec.Transform != nil {
			t = *spec.Transform
		}
		r.clouds = append(r.clouds, &cloudRun{spec: spec, transform: t})
	}
	return r
}

// State returns the current lifecycle state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Progress returns a copy of the progress counters.
func (r *Run) Progress() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// Err returns the error that stopped the run, if any.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Estimate loads every cloud's metadata and hierarchy, finds the nodes
// visible through the regions and sizes their point files without reading
// them. Any cloud failing aborts the estimate.
func (r *Run) Estimate(ctx context.Context) (Estimate, error) {
	r.mu.Lock()
	if r.filterCalled {
		r.mu.Unlock()
		return Estimate{}, ErrAlreadyRun
	}
	r.mu.Unlock()
	return r.estimate(ctx)
}

func (r *Run) estimate(ctx context.Context) (Estimate, error) {
	r.mu.Lock()
	r.state = StateEstimating
	r.estimateStart = r.clock.Now()
	r.mu.Unlock()

	var total Estimate
	for i, c := range r.clouds {
		est, err := r.estimateCloud(ctx, c)
		if err != nil {
			r.fail(err)
			return Estimate{}, fmt.Errorf("estimate point cloud %d (%s): %w", i, c.spec.Path, err)
		}
		total = total.Add(est)
	}

	r.mu.Lock()
	r.total = total
	r.estimated = true
	r.estimateEnd = r.clock.Now()
	elapsed := r.estimateEnd.Sub(r.estimateStart)
	r.mu.Unlock()

	monitoring.Logf("[Run] Estimated %d nodes, %d points across %d point clouds in %v",
		total.NumNodes, total.NumPoints, len(r.clouds), elapsed)
	return total, nil
}

func (r *Run) estimateCloud(ctx context.Context, c *cloudRun) (Estimate, error) {
	cloud, err := potree.Open(r.fsys, c.spec.Path)
	if err != nil {
		return Estimate{}, err
	}
	inv, err := c.transform.Invert()
	if err != nil {
		return Estimate{}, fmt.Errorf("point cloud transform: %w", err)
	}
	local, err := geom.TransformRegions(r.regions, inv)
	if err != nil {
		return Estimate{}, fmt.Errorf("clip regions to local space: %w", err)
	}
	visible, err := cloud.FindVisibleNodes(ctx, local)
	if err != nil {
		return Estimate{}, err
	}

	var bytes int64
	for _, n := range visible {
		// The root is always listed; it only costs points when it is hit.
		if n.Level() == 0 && !geom.AnyIntersectsBox(local, n.Box) {
			continue
		}
		size, err := cloud.PointsSize(n.Name)
		if err != nil {
			return Estimate{}, fmt.Errorf("stat node %s: %w", n.Name, err)
		}
		bytes += size
	}

	est := Estimate{
		NumNodes:  int64(len(visible)),
		NumPoints: bytes / int64(cloud.Attributes.Bytes()),
	}
	r.mu.Lock()
	c.cloud, c.local, c.visible, c.estimate = cloud, local, visible, &est
	r.mu.Unlock()
	return est, nil
}

// Filter writes result_<i>.las for every cloud and report.json into outDir,
// which must not exist yet. Clouds are processed one after another; nodes of
// a cloud are filtered concurrently. The first error aborts the whole run.
func (r *Run) Filter(ctx context.Context, outDir string) error {
	r.mu.Lock()
	if r.filterCalled {
		r.mu.Unlock()
		return ErrAlreadyRun
	}
	r.filterCalled = true
	estimated := r.estimated
	r.mu.Unlock()

	if !estimated {
		if _, err := r.estimate(ctx); err != nil {
			return err
		}
	}

	if err := r.fsys.Mkdir(outDir, 0755); err != nil {
		r.fail(err)
		return fmt.Errorf("create output directory: %w", err)
	}

	r.mu.Lock()
	r.outDir = outDir
	r.state = StateFiltering
	r.filterStart = r.clock.Now()
	r.mu.Unlock()
	monitoring.Logf("[Run] Filtering %d point clouds into %s", len(r.clouds), outDir)

	for i, c := range r.clouds {
		path := filepath.Join(outDir, ResultFile(i))
		if err := r.filterCloud(ctx, c, path); err != nil {
			err = fmt.Errorf("filter point cloud %d (%s): %w", i, c.spec.Path, err)
			r.fail(err)
			return multierr.Append(err, r.writeReport())
		}
	}

	r.mu.Lock()
	r.state = StateFinished
	r.filterEnd = r.clock.Now()
	p := r.progress
	r.mu.Unlock()

	monitoring.Logf("[Run] Finished: %d nodes, %d points, %d accepted, %d discarded",
		p.Nodes, p.Points, p.Accepted, p.Discarded)
	return r.writeReport()
}

// ResultFile is the name of the LAS file written for cloud i.
func ResultFile(i int) string {
	return fmt.Sprintf("result_%d.las", i)
}

func (r *Run) filterCloud(ctx context.Context, c *cloudRun, path string) error {
	start := r.clock.Now()
	cloud := c.cloud

	nf, err := NewNodeFilter(cloud.Attributes, cloud.Scale(), c.local, cloud.BoundingBox.Min, cloud.Scale())
	if err != nil {
		return err
	}

	f, err := r.fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	header := las.NewHeader(cloud.Scale(), cloud.BoundingBox)
	now := r.clock.Now()
	header.CreationDay = uint16(now.YearDay())
	header.CreationYear = uint16(now.Year())
	w, err := las.NewWriter(f, header)
	if err != nil {
		return multierr.Append(err, f.Close())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, node := range c.visible {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := cloud.ReadPoints(node.Name)
			if err != nil {
				return fmt.Errorf("read node %s: %w", node.Name, err)
			}
			res, err := nf.Filter(data, node.Box.Min)
			if err != nil {
				return fmt.Errorf("node %s: %w", node.Name, err)
			}
			if err := w.WriteRecords(res.Records); err != nil {
				return err
			}
			r.record(res)
			return nil
		})
	}
	err = g.Wait()
	if err == nil {
		// Surface cancellation that stopped scheduling before any task saw it.
		err = ctx.Err()
	}
	if cerr := w.Close(); cerr != nil {
		err = multierr.Append(err, cerr)
	}
	if err != nil {
		return err
	}

	r.mu.Lock()
	c.duration = r.clock.Since(start)
	c.filtered = true
	r.mu.Unlock()

	monitoring.Logf("[Run] %s: %d visible nodes, %d points written to %s",
		c.spec.Path, len(c.visible), w.Count(), path)
	return nil
}

func (r *Run) record(res NodeResult) {
	r.mu.Lock()
	r.progress.Nodes++
	r.progress.Points += int64(res.Points)
	r.progress.Accepted += int64(res.Accepted)
	r.progress.Discarded += int64(res.Discarded)
	r.filterEnd = r.clock.Now()
	p := r.progress
	hook := r.onProgress
	r.mu.Unlock()

	if hook != nil {
		hook(p)
	}
}

func (r *Run) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
	monitoring.Logf("[Run] Failed: %v", err)
}
