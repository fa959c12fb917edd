package httpapi

import (
	"embed"
	"io/fs"
	"net/http"

	"github.com/antoniostano/heygemini/internal/observability"
)

//go:embed static/*
var windowAssets embed.FS

// newStaticHandler serves the chat window. The page is small and changes
// with every release, so browsers always revalidate it.
func newStaticHandler() http.Handler {
	sub, err := fs.Sub(windowAssets, "static")
	if err != nil {
		return http.NotFoundHandler()
	}
	files := http.FileServer(http.FS(sub))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		files.ServeHTTP(w, r)
	})
}

type latencyResponse struct {
	observability.TurnStageSnapshot
	State string `json:"state,omitempty"`
}

// handlePerfLatency reports the rolling per-stage latency window along with
// the current conversation state.
func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	resp := latencyResponse{TurnStageSnapshot: s.metrics.SnapshotTurnStages()}
	if s.session != nil {
		resp.State = s.session.State().String()
	}
	respondJSON(w, http.StatusOK, resp)
}
