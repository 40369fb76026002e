package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/banshee-data/potree-clip/internal/httputil"
	"github.com/banshee-data/potree-clip/internal/jobs"
)

// Client talks to a remote potree-server.
type Client struct {
	base string
	http httputil.HTTPClient
}

// NewClient returns a client for the server at baseURL. A nil hc uses
// http.DefaultClient.
func NewClient(baseURL string, hc httputil.HTTPClient) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: hc}
}

// Estimate sizes a request on the server.
func (c *Client) Estimate(ctx context.Context, req FilterRequest) (EstimateResponse, error) {
	var resp EstimateResponse
	err := httputil.DoJSON(ctx, c.http, http.MethodPost, c.base+"/api/estimate", req, &resp)
	return resp, err
}

// Filter starts a filter job and returns its id.
func (c *Client) Filter(ctx context.Context, req FilterRequest) (StartedResponse, error) {
	var resp StartedResponse
	err := httputil.DoJSON(ctx, c.http, http.MethodPost, c.base+"/api/filter", req, &resp)
	return resp, err
}

// Job fetches the status of job id.
func (c *Client) Job(ctx context.Context, id string) (jobs.Status, error) {
	var st jobs.Status
	err := httputil.DoJSON(ctx, c.http, http.MethodGet, c.base+"/api/jobs/"+id, nil, &st)
	return st, err
}

// Cancel cancels job id.
func (c *Client) Cancel(ctx context.Context, id string) (jobs.Status, error) {
	var st jobs.Status
	err := httputil.DoJSON(ctx, c.http, http.MethodDelete, c.base+"/api/jobs/"+id, nil, &st)
	return st, err
}

// Download copies the zipped outputs of job id to w.
func (c *Client) Download(ctx context.Context, id string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+jobs.DownloadLink(id), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &httputil.ResponseError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("download %s failed", id)}
	}
	_, err = io.Copy(w, resp.Body)
	return err
}
