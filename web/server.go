// Package web implements the root's read-only HTTP view of the overlay.
//
// All aggregate state is computed on demand by fanning the query through
// the tree; nothing is cached. Aggregation failures surface as 502 with a
// text body, empty results as 404, success as 200 JSON.
package web

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ParaToolsInc/snapped/log"
	"github.com/ParaToolsInc/snapped/metrics"
	"github.com/ParaToolsInc/snapped/tbon"
)

//go:embed static/view.html
var viewPage []byte

// Server serves the HTTP view for a root node.
type Server struct {
	node *tbon.Tbon
	log  *log.Logger
}

// NewServer creates a view server over the given root node.
func NewServer(node *tbon.Tbon, logger *log.Logger) *Server {
	return &Server{node: node, log: logger}
}

// RegisterRoutes sets up the HTTP routes on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/keys/", s.handleKeys)
	mux.HandleFunc("/hist/", s.handleHistogram)
	mux.HandleFunc("/values/", s.handleValues)
	mux.Handle("/metrics", promhttp.Handler())
}

// ListenAndServe starts the view server on the specified address.
func (s *Server) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	s.log.Info("http view listening", map[string]any{"addr": addr})
	return httpServer.ListenAndServe()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.Error(w, "No such API endpoint", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(viewPage)
}

func (s *Server) handleKeys(w http.ResponseWriter, _ *http.Request) {
	start := time.Now()
	keys, err := s.node.ListKeys()
	metrics.ObserveQuery("ListKeys", err, start)
	if err != nil {
		http.Error(w, fmt.Sprintf("Error processing list: %v", err), http.StatusBadGateway)
		return
	}
	sort.Strings(keys)
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, keys)
}

func (s *Server) handleHistogram(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/hist/")

	start := time.Now()
	ts, h, err := s.node.Histogram(key)
	metrics.ObserveQuery("Histogram", err, start)
	if err != nil {
		http.Error(w, fmt.Sprintf("Error processing histogram: %v", err), http.StatusBadGateway)
		return
	}

	summary := h.Summarize(ts)
	if len(summary.Buckets) == 0 {
		http.Error(w, fmt.Sprintf("No datapoints found for key '%s'", key), http.StatusNotFound)
		return
	}
	writeJSON(w, summary)
}

func (s *Server) handleValues(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/values/")

	start := time.Now()
	values, err := s.node.Values(key)
	metrics.ObserveQuery("Values", err, start)
	if err != nil {
		http.Error(w, fmt.Sprintf("Error processing values: %v", err), http.StatusBadGateway)
		return
	}
	if len(values) == 0 {
		http.Error(w, fmt.Sprintf("No data found for key '%s'", key), http.StatusNotFound)
		return
	}
	writeJSON(w, values)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
