package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/potree-clip/internal/httputil"
)

// dashboardJobs caps the bars drawn on the dashboard.
const dashboardJobs = 50

// jobPoints is one bar group on the dashboard.
type jobPoints struct {
	label     string
	accepted  int64
	discarded int64
}

// dashboardRows prefers the job database, which outlives the registry TTL,
// and falls back to the jobs still in memory.
func (s *Server) dashboardRows() ([]jobPoints, error) {
	var rows []jobPoints
	if s.history != nil {
		recs, err := s.history.RecentJobs(dashboardJobs)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			rows = append(rows, jobPoints{
				label:     shortID(rec.ID),
				accepted:  rec.AcceptedPoints,
				discarded: rec.DiscardedPoints,
			})
		}
		return rows, nil
	}
	for _, st := range s.registry.List() {
		if st.Progress == nil {
			continue
		}
		rows = append(rows, jobPoints{
			label:     shortID(st.ID),
			accepted:  st.Progress.Accepted,
			discarded: st.Progress.Discarded,
		})
		if len(rows) == dashboardJobs {
			break
		}
	}
	return rows, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	rows, err := s.dashboardRows()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("load jobs: %v", err))
		return
	}

	x := make([]string, 0, len(rows))
	accepted := make([]opts.BarData, 0, len(rows))
	discarded := make([]opts.BarData, 0, len(rows))
	for _, row := range rows {
		x = append(x, row.label)
		accepted = append(accepted, opts.BarData{Value: row.accepted})
		discarded = append(discarded, opts.BarData{Value: row.discarded})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "640px"}),
		charts.WithTitleOpts(opts.Title{Title: "Filter jobs", Subtitle: s.clock.Now().Format(time.RFC3339)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("accepted", accepted, charts.WithBarChartOpts(opts.BarChart{Stack: "points"})).
		AddSeries("discarded", discarded, charts.WithBarChartOpts(opts.BarChart{Stack: "points"}))

	page := components.NewPage()
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
