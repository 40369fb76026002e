package main

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/potree-clip/internal/api"
	"github.com/banshee-data/potree-clip/internal/config"
	"github.com/banshee-data/potree-clip/internal/fsutil"
	"github.com/banshee-data/potree-clip/internal/jobs"
	"github.com/banshee-data/potree-clip/internal/monitoring"
	"github.com/banshee-data/potree-clip/internal/testutil"
)

const boxRegion = `[[[1,0,0,-2],[-1,0,0,4],[0,1,0,-2],[0,-1,0,4],[0,0,1,-2],[0,0,-1,4]]]`

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func writeCloud(t *testing.T, dir string) string {
	t.Helper()
	return testutil.WriteOctree(t, fsutil.OSFileSystem{}, dir, testutil.Octree{
		BoundingBox: r3.NewBox(0, 0, 0, 10, 10, 10),
		Scale:       0.01,
		Nodes: map[string][]testutil.Point{
			"r":  {{X: 3, Y: 3, Z: 3}, {X: 9, Y: 9, Z: 9}},
			"r0": {{X: 2.5, Y: 2.5, Z: 2.5}, {X: 0.5, Y: 0.5, Z: 0.5}},
		},
	})
}

func TestRunLocal(t *testing.T) {
	dir := t.TempDir()
	cloud := writeCloud(t, filepath.Join(dir, "sample"))
	out := filepath.Join(dir, "out")

	var stdout bytes.Buffer
	err := run(context.Background(), []string{"-regions", boxRegion, "-o", out, cloud}, &stdout, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "estimate: 2 nodes, 4 points\n"+
		"filtered: 2 nodes, 4 points, 2 accepted, 2 discarded\n"+
		"results in "+out+"\n", stdout.String())
	assert.FileExists(t, filepath.Join(out, "result_0.las"))
	assert.FileExists(t, filepath.Join(out, "report.json"))

	// A second run into the same directory is refused.
	err = run(context.Background(), []string{"-regions", boxRegion, "-o", out, cloud}, io.Discard, io.Discard)
	assert.ErrorIs(t, err, os.ErrExist)
}

func TestRunLocalEstimateWithBox(t *testing.T) {
	dir := t.TempDir()
	cloud := writeCloud(t, filepath.Join(dir, "sample"))

	var stdout bytes.Buffer
	err := run(context.Background(), []string{"-estimate", "-box", "2,0,0,0,0,2,0,0,0,0,2,0,3,3,3,1", cloud}, &stdout, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "estimate: 2 nodes, 4 points\n", stdout.String())
}

func TestRunRequestFile(t *testing.T) {
	dir := t.TempDir()
	cloud := writeCloud(t, filepath.Join(dir, "sample"))
	req := filepath.Join(dir, "request.json")
	body := `{"pointclouds":[{"path":` + quote(cloud) + `,"transform":[1,0,0,0,0,1,0,0,0,0,1,0,100,0,0,1]}],"regions":` + boxRegion + `}`
	require.NoError(t, os.WriteFile(req, []byte(body), 0644))

	var stdout bytes.Buffer
	err := run(context.Background(), []string{"-estimate", "-request", req}, &stdout, io.Discard)
	require.NoError(t, err)
	// The cloud is moved away from the region.
	assert.Equal(t, "estimate: 1 nodes, 0 points\n", stdout.String())
}

func quote(s string) string {
	return `"` + s + `"`
}

func TestRunErrors(t *testing.T) {
	ctx := context.Background()
	assert.EqualError(t, run(ctx, []string{"-regions", boxRegion, "x/cloud.js"}, io.Discard, io.Discard), "-o is required")
	assert.Error(t, run(ctx, []string{"-regions", "[", "-o", "x"}, io.Discard, io.Discard))
	assert.Error(t, run(ctx, []string{"-box", "1,a", "-o", "x"}, io.Discard, io.Discard))
	assert.Error(t, run(ctx, []string{"-estimate", "-regions", boxRegion}, io.Discard, io.Discard), "no clouds")
	assert.Error(t, run(ctx, []string{"-estimate", filepath.Join(t.TempDir(), "cloud.js")}, io.Discard, io.Discard), "no regions")
}

func TestRunVersion(t *testing.T) {
	var stdout bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-version"}, &stdout, io.Discard))
	assert.Contains(t, stdout.String(), "dev")
}

func TestRunRemote(t *testing.T) {
	root := t.TempDir()
	writeCloud(t, filepath.Join(root, "clouds", "sample"))
	output := filepath.Join(root, "server-output")
	registry := jobs.NewRegistry()
	t.Cleanup(func() { _ = registry.Shutdown(context.Background()) })
	srv := httptest.NewServer(api.NewServer(&config.Settings{
		SearchRoots:     []string{root},
		OutputDirectory: &output,
	}, registry).ServeMux())
	t.Cleanup(srv.Close)

	out := filepath.Join(t.TempDir(), "download")
	var stdout bytes.Buffer
	err := run(context.Background(), []string{
		"-server", srv.URL, "-poll", "10ms", "-regions", boxRegion, "-o", out,
		"clouds/sample/cloud.js",
	}, &stdout, io.Discard)
	require.NoError(t, err)

	list := registry.List()
	require.Len(t, list, 1)
	zipPath := filepath.Join(out, list[0].ID+".zip")
	assert.FileExists(t, zipPath)
	assert.Contains(t, stdout.String(), "filtered: 2 nodes, 4 points, 2 accepted, 2 discarded\n")
	assert.Contains(t, stdout.String(), "results in "+zipPath)

	stdout.Reset()
	require.NoError(t, run(context.Background(), []string{
		"-server", srv.URL, "-estimate", "-regions", boxRegion, "clouds/sample/cloud.js",
	}, &stdout, io.Discard))
	assert.Equal(t, "estimate: 2 nodes, 4 points\n", stdout.String())
}
