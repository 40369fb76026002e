package api

import (
	"net/http"

	"github.com/banshee-data/potree-clip/internal/filter"
	"github.com/banshee-data/potree-clip/internal/geom"
	"github.com/banshee-data/potree-clip/internal/httputil"
	"github.com/banshee-data/potree-clip/internal/jobs"
	"github.com/banshee-data/potree-clip/internal/monitoring"
	"github.com/banshee-data/potree-clip/internal/security"
)

// EstimateResponse answers an estimate request.
type EstimateResponse struct {
	Status string `json:"status"`
	Nodes  int64  `json:"nodes"`
	Points int64  `json:"points"`
}

// StartedResponse answers a request that started a job.
type StartedResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
	Nodes  int64  `json:"nodes,omitempty"`
	Points int64  `json:"points,omitempty"`
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	req, err := decodeFilterRequest(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	clouds, regions, err := s.resolve(req)
	if err != nil {
		writeError(w, err)
		return
	}
	run := filter.New(clouds, regions,
		filter.WithFileSystem(s.fsys),
		filter.WithConcurrency(s.settings.GetNodeConcurrency()))
	est, err := run.Estimate(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, EstimateResponse{Status: "ESTIMATED", Nodes: est.NumNodes, Points: est.NumPoints})
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	req, err := decodeFilterRequest(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	clouds, regions, err := s.resolve(req)
	if err != nil {
		writeError(w, err)
		return
	}

	job := jobs.NewFilterJob(jobs.FilterJobConfig{
		Clouds:          clouds,
		Regions:         regions,
		OutputDirectory: s.settings.GetOutputDirectory(),
		Concurrency:     s.settings.GetNodeConcurrency(),
		FileSystem:      s.fsys,
		Clock:           s.clock,
		Publisher:       s.publisher,
	})
	est, err := job.Estimate(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.settings.Admit(est.NumNodes, est.NumPoints); err != nil {
		monitoring.Logf("[API] Rejected filter request: %v", err)
		writeError(w, err)
		return
	}
	if err := s.registry.Start(jobContext(r), job); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, StartedResponse{
		Status: "WORKING",
		ID:     job.ID(),
		Nodes:  est.NumNodes,
		Points: est.NumPoints,
	})
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	exe := s.settings.GetExtractRegionExe()
	if exe == "" {
		httputil.WriteJSONError(w, http.StatusNotImplemented, "region extraction is not configured")
		return
	}
	var req ExtractRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	path, err := security.ResolveCloudPath(s.settings.GetSearchRoots(), req.Path)
	if err != nil {
		writeError(w, err)
		return
	}
	box, err := geom.MatrixFromSlice(req.Box)
	if err != nil {
		writeError(w, badRequestf("box: %v", err))
		return
	}
	job, err := jobs.NewExtractRegionJob(jobs.ExtractRegionJobConfig{
		Executable:      exe,
		CloudPath:       path,
		Box:             box,
		MinLevel:        req.MinLevel,
		MaxLevel:        req.MaxLevel,
		OutputDirectory: s.settings.GetOutputDirectory(),
		FileSystem:      s.fsys,
		Clock:           s.clock,
		Publisher:       s.publisher,
	})
	if err != nil {
		writeError(w, badRequestf("%v", err))
		return
	}
	if err := s.registry.Start(jobContext(r), job); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, StartedResponse{Status: "WORKING", ID: job.ID()})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	exe := s.settings.GetExtractProfileExe()
	if exe == "" {
		httputil.WriteJSONError(w, http.StatusNotImplemented, "profile extraction is not configured")
		return
	}
	var req ProfileRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	path, err := security.ResolveCloudPath(s.settings.GetSearchRoots(), req.Path)
	if err != nil {
		writeError(w, err)
		return
	}
	line, err := req.Polyline()
	if err != nil {
		writeError(w, err)
		return
	}
	job, err := jobs.NewExtractProfileJob(jobs.ExtractProfileJobConfig{
		Executable:      exe,
		CloudPath:       path,
		Coordinates:     line,
		Width:           req.Width,
		MinLevel:        req.MinLevel,
		MaxLevel:        req.MaxLevel,
		OutputDirectory: s.settings.GetOutputDirectory(),
		FileSystem:      s.fsys,
		Clock:           s.clock,
		Publisher:       s.publisher,
	})
	if err != nil {
		writeError(w, badRequestf("%v", err))
		return
	}
	if err := s.registry.Start(jobContext(r), job); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, StartedResponse{Status: "WORKING", ID: job.ID()})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.registry.List())
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		job, err := s.registry.Get(id)
		if err != nil {
			writeError(w, err)
			return
		}
		httputil.WriteJSONOK(w, job.Status())
	case http.MethodDelete:
		if err := s.registry.Cancel(id); err != nil {
			writeError(w, err)
			return
		}
		job, err := s.registry.Get(id)
		if err != nil {
			writeError(w, err)
			return
		}
		httputil.WriteJSONOK(w, job.Status())
	default:
		httputil.MethodNotAllowed(w)
	}
}

// reporter is implemented by jobs that keep a filter report.
type reporter interface {
	Report() filter.Report
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	job, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	rep, ok := job.(reporter)
	if !ok {
		httputil.NotFound(w, "job has no report")
		return
	}
	httputil.WriteJSONOK(w, rep.Report())
}
