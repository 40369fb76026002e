package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/potree-clip/internal/config"
	"github.com/banshee-data/potree-clip/internal/filter"
	"github.com/banshee-data/potree-clip/internal/geom"
	"github.com/banshee-data/potree-clip/internal/httputil"
	"github.com/banshee-data/potree-clip/internal/jobs"
	"github.com/banshee-data/potree-clip/internal/security"
)

const maxRequestBody = 1 << 20

// CloudRequest names one input cloud. Transform is 16 column-major values
// mapping cloud coordinates to world coordinates; empty means identity.
type CloudRequest struct {
	Path      string    `json:"path"`
	Transform []float64 `json:"transform,omitempty"`
}

// FilterRequest is the body of estimate and filter requests. Each region is
// a list of [nx, ny, nz, d] planes; each box is a 16 value column-major
// matrix mapping the unit cube onto the box.
type FilterRequest struct {
	PointClouds []CloudRequest `json:"pointclouds"`
	Regions     [][][]float64  `json:"regions,omitempty"`
	Boxes       [][]float64    `json:"boxes,omitempty"`
}

// ExtractRequest is the body of an extract request.
type ExtractRequest struct {
	Path     string    `json:"path"`
	Box      []float64 `json:"box"`
	MinLevel int       `json:"minLevel"`
	MaxLevel int       `json:"maxLevel"`
}

// ProfileRequest is the body of an elevation profile request. Each
// coordinate is [x, y] or [x, y, z]; z is ignored.
type ProfileRequest struct {
	Path        string      `json:"path"`
	Coordinates [][]float64 `json:"coordinates"`
	Width       float64     `json:"width"`
	MinLevel    int         `json:"minLevel"`
	MaxLevel    int         `json:"maxLevel"`
}

// Polyline returns the horizontal profile coordinates of req.
func (req *ProfileRequest) Polyline() ([]r2.Vec, error) {
	line := make([]r2.Vec, len(req.Coordinates))
	for i, c := range req.Coordinates {
		if len(c) != 2 && len(c) != 3 {
			return nil, badRequestf("coordinates[%d]: want 2 or 3 values, got %d", i, len(c))
		}
		line[i] = r2.Vec{X: c[0], Y: c[1]}
	}
	return line, nil
}

// requestError marks a client mistake.
type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func badRequestf(format string, args ...interface{}) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

// decodeBody reads a JSON body of at most maxRequestBody bytes.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequestf("empty request body")
		}
		return badRequestf("invalid request body: %v", err)
	}
	return nil
}

// decodeFilterRequest reads a FilterRequest from a POST body or from the
// JSON encoded pointclouds, regions and boxes query parameters of a GET.
func decodeFilterRequest(w http.ResponseWriter, r *http.Request) (FilterRequest, error) {
	var req FilterRequest
	if r.Method == http.MethodPost {
		return req, decodeBody(w, r, &req)
	}
	q := r.URL.Query()
	params := []struct {
		name string
		dst  interface{}
	}{
		{"pointclouds", &req.PointClouds},
		{"regions", &req.Regions},
		{"boxes", &req.Boxes},
	}
	for _, p := range params {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(raw), p.dst); err != nil {
			return req, badRequestf("invalid %s parameter: %v", p.name, err)
		}
	}
	return req, nil
}

// CloudSpecs maps every requested cloud through locate and parses its
// transform.
func (req FilterRequest) CloudSpecs(locate func(string) (string, error)) ([]filter.CloudSpec, error) {
	if len(req.PointClouds) == 0 {
		return nil, badRequestf("no point clouds given")
	}
	clouds := make([]filter.CloudSpec, 0, len(req.PointClouds))
	for i, c := range req.PointClouds {
		path, err := locate(c.Path)
		if err != nil {
			return nil, err
		}
		spec := filter.CloudSpec{Path: path}
		if len(c.Transform) > 0 {
			m, err := geom.MatrixFromSlice(c.Transform)
			if err != nil {
				return nil, badRequestf("pointclouds[%d]: %v", i, err)
			}
			spec.Transform = &m
		}
		clouds = append(clouds, spec)
	}
	return clouds, nil
}

// ClipRegions parses the plane regions and boxes of req.
func (req FilterRequest) ClipRegions() ([]geom.ClipRegion, error) {
	if len(req.Regions)+len(req.Boxes) == 0 {
		return nil, badRequestf("no regions given")
	}
	regions := make([]geom.ClipRegion, 0, len(req.Regions)+len(req.Boxes))
	for i, raw := range req.Regions {
		f, err := geom.FrustumFromArrays(raw)
		if err != nil {
			return nil, badRequestf("regions[%d]: %v", i, err)
		}
		regions = append(regions, f)
	}
	for i, raw := range req.Boxes {
		m, err := geom.MatrixFromSlice(raw)
		if err != nil {
			return nil, badRequestf("boxes[%d]: %v", i, err)
		}
		b, err := geom.NewOrientedBox(m)
		if err != nil {
			return nil, badRequestf("boxes[%d]: %v", i, err)
		}
		regions = append(regions, b)
	}
	return regions, nil
}

// resolve turns a request into filter inputs, locating every cloud under
// the configured search roots.
func (s *Server) resolve(req FilterRequest) ([]filter.CloudSpec, []geom.ClipRegion, error) {
	clouds, err := req.CloudSpecs(func(p string) (string, error) {
		return security.ResolveCloudPath(s.settings.GetSearchRoots(), p)
	})
	if err != nil {
		return nil, nil, err
	}
	regions, err := req.ClipRegions()
	if err != nil {
		return nil, nil, err
	}
	return clouds, regions, nil
}

// writeError maps err onto a status code and writes it as a JSON error.
func writeError(w http.ResponseWriter, err error) {
	var re *requestError
	switch {
	case errors.As(err, &re):
		httputil.BadRequest(w, re.msg)
	case errors.Is(err, geom.ErrSingularTransform):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, security.ErrPathNotResolvable), errors.Is(err, jobs.ErrJobNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, jobs.ErrJobNotActive):
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, config.ErrEstimateTooLarge):
		httputil.WriteJSONError(w, http.StatusRequestEntityTooLarge, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}
