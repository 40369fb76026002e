package api

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/klauspost/compress/zip"

	"github.com/banshee-data/potree-clip/internal/fsutil"
	"github.com/banshee-data/potree-clip/internal/httputil"
	"github.com/banshee-data/potree-clip/internal/jobs"
	"github.com/banshee-data/potree-clip/internal/monitoring"
)

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	job, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	st := job.Status()
	if st.State != jobs.StateFinished {
		httputil.WriteJSONError(w, http.StatusConflict, fmt.Sprintf("job is %s", st.State))
		return
	}
	names, err := s.fsys.ReadDir(st.OutputDir)
	if err != nil {
		writeError(w, fmt.Errorf("list job outputs: %w", err))
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.zip", st.ID))
	if err := writeZip(w, s.fsys, st.OutputDir, names); err != nil {
		// Headers are already sent; all that is left is to log.
		monitoring.Logf("[API] download of %s failed: %v", st.ID, err)
	}
}

// writeZip archives the regular files dir/names into w.
func writeZip(w io.Writer, fsys fsutil.FileSystem, dir string, names []string) error {
	zw := zip.NewWriter(w)
	for _, name := range names {
		path := filepath.Join(dir, name)
		info, err := fsys.Stat(path)
		if err != nil {
			return err
		}
		if info.IsDir() {
			continue
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = name
		hdr.Method = zip.Deflate
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		f, err := fsys.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(fw, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("archive %s: %w", name, err)
		}
	}
	return zw.Close()
}
