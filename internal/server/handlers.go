package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/conneroisu/sitebuild/internal/errors"
	"github.com/conneroisu/sitebuild/internal/version"
)

// handleStatic serves files below the root. HTML pages get the reload
// client injected; everything else goes through http.FileServer.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := path.Clean("/" + r.URL.Path)
	full := filepath.Join(s.opts.Root, filepath.FromSlash(name))
	if strings.HasSuffix(r.URL.Path, "/") {
		full = filepath.Join(full, "index.html")
	}

	info, err := os.Stat(full)
	if err != nil || info.IsDir() || !isHTML(full) {
		http.FileServer(http.Dir(s.opts.Root)).ServeHTTP(w, r)
		return
	}

	data, err := os.ReadFile(full)
	if err != nil {
		http.Error(w, "Failed to read file", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeContent(w, r, info.Name(), info.ModTime(), bytes.NewReader(injectScript(data, ScriptPath)))
}

func isHTML(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".html", ".htm":
		return true
	}
	return false
}

func (s *Server) handleScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	fmt.Fprintf(w, clientScript, ReloadPath)
}

// handleHealth returns the server health status for health checks
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   version.Short(),
		"clients":   s.hub.Clients(),
		"root":      s.opts.Root,
	}

	s.writeJSON(w, r, health)
}

// handleErrors lists the per-file failures of recent runs.
func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reports := []errors.Report{}
	if s.opts.Errors != nil {
		reports = append(reports, s.opts.Errors.Reports()...)
	}

	s.writeJSON(w, r, map[string]interface{}{
		"errors": reports,
		"count":  len(reports),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn(r.Context(), err, "Failed to encode response")
	}
}

// logRequests logs each request at debug level.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug(r.Context(), "Request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start).String())
	})
}
