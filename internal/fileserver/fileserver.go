// SPDX-License-Identifier: MIT

// Package fileserver exposes the storage root over HTTP for remote-mode
// artifact stores: static reads under /files/ and multipart uploads under
// /upload/<kind>/<meetingId>.
package fileserver

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/renameio/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/civicast/civicast/internal/artifact"
	"github.com/civicast/civicast/internal/fsutil"
	"github.com/civicast/civicast/internal/log"
	"github.com/civicast/civicast/internal/metrics"
)

// meetingIDRe is the inbound meeting identifier contract. Stricter than the
// internal sanitizer on purpose: reject instead of rewrite at the edge.
var meetingIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

// maxUploadBytes bounds a single upload. Raw meeting videos run to a few GB.
const maxUploadBytes = 8 << 30

// Server serves the storage root.
type Server struct {
	root    string
	started time.Time
	logger  zerolog.Logger
}

// New returns a server rooted at storageRoot.
func New(storageRoot string) *Server {
	return &Server{
		root:    storageRoot,
		started: time.Now(),
		logger:  log.WithComponent("fileserver"),
	}
}

// Router assembles the HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.observe)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Get("/files/*", s.handleFile)
	r.Head("/files/*", s.handleFile)

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(60, time.Minute))
		r.Post("/upload/*", s.handleUpload)
	})

	return r
}

// observe records per-route request counters.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "other"
		switch {
		case strings.HasPrefix(r.URL.Path, "/files/"):
			route = "files"
		case strings.HasPrefix(r.URL.Path, "/upload/"):
			route = "upload"
		case r.URL.Path == "/health":
			route = "health"
		}
		metrics.IncFileRequest(route, strconv.Itoa(ww.Status()))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"storage_root":   s.root,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

// handleFile serves a static file under the storage root. Dotfiles and any
// path resolving outside the root are refused.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	rel := chi.URLParam(r, "*")
	if rel == "" || hasDotSegment(rel) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	full, err := fsutil.ConfineRelPath(s.root, rel)
	if err != nil {
		if os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}
		s.logger.Warn().Err(err).Str(log.FieldPath, rel).Msg("file request refused")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if err := fsutil.IsRegularFile(full); err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, full)
}

// hasDotSegment reports whether any path element starts with a dot.
func hasDotSegment(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

type uploadResponse struct {
	Success bool   `json:"success"`
	Path    string `json:"path,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleUpload stores a multipart upload at the canonical path of
// (kind, meetingId). The wildcard is parsed by hand so malformed paths fail
// validation instead of being routed elsewhere.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	parts := strings.SplitN(chi.URLParam(r, "*"), "/", 2)
	if len(parts) != 2 {
		writeJSON(w, http.StatusBadRequest, uploadResponse{Error: "expected /upload/<kind>/<meetingId>"})
		return
	}
	kind, ok := artifact.ParseKind(parts[0])
	if !ok {
		writeJSON(w, http.StatusBadRequest, uploadResponse{Error: "unknown artifact kind"})
		return
	}
	meetingID := parts[1]
	if !meetingIDRe.MatchString(meetingID) {
		writeJSON(w, http.StatusBadRequest, uploadResponse{Error: "invalid meeting id"})
		return
	}

	rel := kind.RelPath(meetingID)
	dest, err := fsutil.ConfineRelPath(s.root, rel)
	if err != nil {
		s.logger.Warn().Err(err).Str(log.FieldPath, rel).Msg("upload refused")
		writeJSON(w, http.StatusForbidden, uploadResponse{Error: "path outside storage root"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, uploadResponse{Error: "missing file field"})
		return
	}
	defer file.Close()

	if err := s.storeUpload(dest, file); err != nil {
		s.logger.Error().Err(err).Str(log.FieldPath, rel).Msg("upload failed")
		writeJSON(w, http.StatusInternalServerError, uploadResponse{Error: "storage failure"})
		return
	}

	s.logger.Info().Str(log.FieldPath, rel).Msg("artifact uploaded")
	writeJSON(w, http.StatusOK, uploadResponse{Success: true, Path: rel})
}

// storeUpload writes the upload atomically: the destination either keeps its
// previous content or holds the complete new file, and the temporary file is
// removed on every failure path.
func (s *Server) storeUpload(dest string, src io.Reader) error {
	if err := fsutil.EnsureDir(filepath.Dir(dest)); err != nil {
		return err
	}
	t, err := renameio.TempFile("", dest)
	if err != nil {
		return err
	}
	defer t.Cleanup()

	if _, err := io.Copy(t, src); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
