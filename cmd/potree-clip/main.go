// Command potree-clip filters Potree point clouds by clip regions, either
// locally or by submitting the work to a potree-server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/banshee-data/potree-clip/internal/api"
	"github.com/banshee-data/potree-clip/internal/filter"
	"github.com/banshee-data/potree-clip/internal/jobs"
	"github.com/banshee-data/potree-clip/internal/version"
)

type options struct {
	request      string
	regions      string
	boxes        [][]float64
	outDir       string
	estimateOnly bool
	concurrency  int
	server       string
	pollInterval time.Duration
	showVersion  bool
	clouds       []string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	o := &options{}
	fs := flag.NewFlagSet("potree-clip", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: potree-clip [flags] <cloud.js>...")
		fs.PrintDefaults()
	}
	fs.StringVar(&o.request, "request", "", "JSON file with a full filter request (pointclouds, regions, boxes)")
	fs.StringVar(&o.regions, "regions", "", "JSON array of regions, each an array of [nx,ny,nz,d] planes")
	fs.Func("box", "16 comma separated column-major values mapping the unit cube onto a box (repeatable)", func(v string) error {
		parts := strings.Split(v, ",")
		box := make([]float64, len(parts))
		for i, p := range parts {
			f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return fmt.Errorf("box value %d: %w", i, err)
			}
			box[i] = f
		}
		o.boxes = append(o.boxes, box)
		return nil
	})
	fs.StringVar(&o.outDir, "o", "", "Output directory; must not exist for local runs")
	fs.BoolVar(&o.estimateOnly, "estimate", false, "Only print the estimate")
	fs.IntVar(&o.concurrency, "concurrency", filter.DefaultConcurrency, "Nodes filtered in parallel per cloud")
	fs.StringVar(&o.server, "server", "", "Base URL of a potree-server to submit the work to")
	fs.DurationVar(&o.pollInterval, "poll", time.Second, "Job status poll interval in server mode")
	fs.BoolVar(&o.showVersion, "version", false, "Print the version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	o.clouds = fs.Args()
	return o, nil
}

// buildRequest merges the request file, the region flags and the cloud
// arguments.
func (o *options) buildRequest() (api.FilterRequest, error) {
	var req api.FilterRequest
	if o.request != "" {
		data, err := os.ReadFile(o.request)
		if err != nil {
			return req, err
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return req, fmt.Errorf("parse %s: %w", o.request, err)
		}
	}
	if o.regions != "" {
		var regions [][][]float64
		if err := json.Unmarshal([]byte(o.regions), &regions); err != nil {
			return req, fmt.Errorf("parse -regions: %w", err)
		}
		req.Regions = append(req.Regions, regions...)
	}
	req.Boxes = append(req.Boxes, o.boxes...)
	for _, c := range o.clouds {
		req.PointClouds = append(req.PointClouds, api.CloudRequest{Path: c})
	}
	return req, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if o.showVersion {
		fmt.Fprintln(stdout, version.String())
		return nil
	}
	req, err := o.buildRequest()
	if err != nil {
		return err
	}
	if !o.estimateOnly && o.outDir == "" {
		return errors.New("-o is required")
	}
	if o.server != "" {
		return runRemote(ctx, o, req, stdout)
	}
	return runLocal(ctx, o, req, stdout)
}

func runLocal(ctx context.Context, o *options, req api.FilterRequest, stdout io.Writer) error {
	clouds, err := req.CloudSpecs(filepath.Abs)
	if err != nil {
		return err
	}
	regions, err := req.ClipRegions()
	if err != nil {
		return err
	}

	r := filter.New(clouds, regions, filter.WithConcurrency(o.concurrency))
	est, err := r.Estimate(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "estimate: %d nodes, %d points\n", est.NumNodes, est.NumPoints)
	if o.estimateOnly {
		return nil
	}

	if err := r.Filter(ctx, o.outDir); err != nil {
		return err
	}
	p := r.Progress()
	fmt.Fprintf(stdout, "filtered: %d nodes, %d points, %d accepted, %d discarded\n",
		p.Nodes, p.Points, p.Accepted, p.Discarded)
	fmt.Fprintf(stdout, "results in %s\n", o.outDir)
	return nil
}

func runRemote(ctx context.Context, o *options, req api.FilterRequest, stdout io.Writer) error {
	c := api.NewClient(o.server, nil)
	if o.estimateOnly {
		est, err := c.Estimate(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "estimate: %d nodes, %d points\n", est.Nodes, est.Points)
		return nil
	}

	started, err := c.Filter(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "estimate: %d nodes, %d points\n", started.Nodes, started.Points)
	log.Printf("submitted job %s to %s", started.ID, o.server)

	st, err := waitForJob(ctx, c, started.ID, o.pollInterval)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, cerr := c.Cancel(cctx, started.ID); cerr != nil {
				log.Printf("cancel job %s: %v", started.ID, cerr)
			}
		}
		return err
	}
	if st.State != jobs.StateFinished {
		return fmt.Errorf("job %s %s: %s", st.ID, st.State, st.Message)
	}

	if err := os.MkdirAll(o.outDir, 0755); err != nil {
		return err
	}
	path := filepath.Join(o.outDir, st.ID+".zip")
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := c.Download(ctx, st.ID, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if st.Progress != nil {
		fmt.Fprintf(stdout, "filtered: %d nodes, %d points, %d accepted, %d discarded\n",
			st.Progress.Nodes, st.Progress.Points, st.Progress.Accepted, st.Progress.Discarded)
	}
	fmt.Fprintf(stdout, "results in %s\n", path)
	return nil
}

// waitForJob polls job id until it reaches a terminal state.
func waitForJob(ctx context.Context, c *api.Client, id string, interval time.Duration) (jobs.Status, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		st, err := c.Job(ctx, id)
		if err != nil {
			return st, err
		}
		if st.State.Terminal() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatalf("potree-clip: %v", err)
	}
}
