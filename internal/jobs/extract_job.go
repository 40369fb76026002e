package jobs

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/potree-clip/internal/events"
	"github.com/banshee-data/potree-clip/internal/fsutil"
	"github.com/banshee-data/potree-clip/internal/geom"
	"github.com/banshee-data/potree-clip/internal/monitoring"
	"github.com/banshee-data/potree-clip/internal/timeutil"
)

// ExtractNameLayout names extraction results after their start time.
const ExtractNameLayout = "2006.01.02_15.04.05"

// ExtractRegionJobConfig describes a region extraction delegated to an
// external executable.
type ExtractRegionJobConfig struct {
	Executable string
	CloudPath  string
	// Box maps the unit cube [-0.5, 0.5]^3 onto the region to extract.
	Box             geom.Matrix4
	MinLevel        int
	MaxLevel        int
	OutputDirectory string
	// FileSystem creates the output directory. Defaults to the OS.
	FileSystem fsutil.FileSystem
	Clock      timeutil.Clock
	Publisher  events.Publisher
}

// ExtractRegionJob runs the region extraction executable as a child
// process.
type ExtractRegionJob struct {
	extraction
	cfg ExtractRegionJobConfig
}

// NewExtractRegionJob validates cfg and prepares the job.
func NewExtractRegionJob(cfg ExtractRegionJobConfig) (*ExtractRegionJob, error) {
	if cfg.Executable == "" {
		return nil, errors.New("region extraction executable not configured")
	}
	if err := checkLevels(cfg.MinLevel, cfg.MaxLevel); err != nil {
		return nil, err
	}
	j := &ExtractRegionJob{cfg: cfg}
	j.extraction = extraction{
		tag:        "ExtractRegionJob",
		executable: cfg.Executable,
		outputDir:  cfg.OutputDirectory,
		fsys:       cfg.FileSystem,
		args:       j.Args,
	}
	j.init(KindExtractRegion, cfg.Clock, cfg.Publisher)
	return j, nil
}

// Args returns the command line passed to the executable.
func (j *ExtractRegionJob) Args() []string {
	return []string{
		j.cfg.CloudPath,
		"--box", joinFloats(j.cfg.Box[:]),
		"--min-level", strconv.Itoa(j.cfg.MinLevel),
		"--max-level", strconv.Itoa(j.cfg.MaxLevel),
		"-o", j.OutputPath(),
	}
}

// ExtractProfileJobConfig describes an elevation profile extraction
// delegated to an external executable.
type ExtractProfileJobConfig struct {
	Executable string
	CloudPath  string
	// Coordinates is the profile polyline in the horizontal plane.
	Coordinates []r2.Vec
	// Width is the full thickness of the profile band around the polyline.
	Width           float64
	MinLevel        int
	MaxLevel        int
	OutputDirectory string
	// FileSystem creates the output directory. Defaults to the OS.
	FileSystem fsutil.FileSystem
	Clock      timeutil.Clock
	Publisher  events.Publisher
}

// ExtractProfileJob runs the profile extraction executable as a child
// process.
type ExtractProfileJob struct {
	extraction
	cfg ExtractProfileJobConfig
}

// NewExtractProfileJob validates cfg and prepares the job.
func NewExtractProfileJob(cfg ExtractProfileJobConfig) (*ExtractProfileJob, error) {
	if cfg.Executable == "" {
		return nil, errors.New("profile extraction executable not configured")
	}
	if len(cfg.Coordinates) < 2 {
		return nil, fmt.Errorf("profile needs at least 2 coordinates, got %d", len(cfg.Coordinates))
	}
	if !(cfg.Width > 0) {
		return nil, fmt.Errorf("invalid profile width %g", cfg.Width)
	}
	if err := checkLevels(cfg.MinLevel, cfg.MaxLevel); err != nil {
		return nil, err
	}
	j := &ExtractProfileJob{cfg: cfg}
	j.extraction = extraction{
		tag:        "ExtractProfileJob",
		executable: cfg.Executable,
		outputDir:  cfg.OutputDirectory,
		fsys:       cfg.FileSystem,
		args:       j.Args,
	}
	j.init(KindExtractProfile, cfg.Clock, cfg.Publisher)
	return j, nil
}

// Args returns the command line passed to the executable. Coordinates are
// written as "{x, y},{x, y},...".
func (j *ExtractProfileJob) Args() []string {
	coords := make([]string, len(j.cfg.Coordinates))
	for i, c := range j.cfg.Coordinates {
		coords[i] = fmt.Sprintf("{%s, %s}",
			strconv.FormatFloat(c.X, 'g', -1, 64), strconv.FormatFloat(c.Y, 'g', -1, 64))
	}
	return []string{
		j.cfg.CloudPath,
		"--coordinates", strings.Join(coords, ","),
		"--width", strconv.FormatFloat(j.cfg.Width, 'g', -1, 64),
		"--min-level", strconv.Itoa(j.cfg.MinLevel),
		"--max-level", strconv.Itoa(j.cfg.MaxLevel),
		"-o", j.OutputPath(),
	}
}

// extraction runs an external executable that writes one LAS file into the
// job's output directory. The job finishes when the process exits.
type extraction struct {
	lifecycle
	tag        string
	executable string
	outputDir  string
	fsys       fsutil.FileSystem
	args       func() []string
	outPath    string
}

// Start launches the executable.
func (j *extraction) Start(ctx context.Context) error {
	ctx, err := j.activate(ctx)
	if err != nil {
		return err
	}

	name := j.status().Started.Format(ExtractNameLayout)
	dir := filepath.Join(j.outputDir, j.id)
	j.mu.Lock()
	j.outPath = filepath.Join(dir, name+".las")
	j.mu.Unlock()
	fsys := j.fsys
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		err = fmt.Errorf("create output directory: %w", err)
		j.finish(err)
		return err
	}

	args := j.args()
	cmd := exec.CommandContext(ctx, j.executable, args...)
	out := &strings.Builder{}
	cmd.Stdout = out
	cmd.Stderr = out
	monitoring.Logf("[%s] %s: %s %s", j.tag, j.id, j.executable, strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		err = fmt.Errorf("start %s: %w", j.executable, err)
		j.finish(err)
		return err
	}

	go func() {
		err := cmd.Wait()
		if err != nil {
			if msg := strings.TrimSpace(out.String()); msg != "" {
				err = fmt.Errorf("%w: %s", err, lastLine(msg))
			}
		}
		j.finish(err)
	}()
	return nil
}

// Status reports the extraction state.
func (j *extraction) Status() Status {
	s := j.status()
	s.OutputDir = filepath.Join(j.outputDir, j.id)
	return s
}

// OutputPath is the LAS file the executable writes. It is empty before Start.
func (j *extraction) OutputPath() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.outPath
}

func checkLevels(minLevel, maxLevel int) error {
	if minLevel < 0 || maxLevel < minLevel {
		return fmt.Errorf("invalid level range [%d, %d]", minLevel, maxLevel)
	}
	return nil
}

func joinFloats(v []float64) string {
	s := make([]string, len(v))
	for i, f := range v {
		s[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strings.Join(s, ",")
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
