package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/antoniostano/heygemini/internal/memory"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// handleHistory lists persisted turns, oldest first. conversation_id narrows
// the listing to one conversation.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusServiceUnavailable, "history_disabled", "history store not configured")
		return
	}
	limit := defaultHistoryLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	conversationID := strings.TrimSpace(r.URL.Query().Get("conversation_id"))

	records, err := s.history.RecentContext(r.Context(), conversationID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "history_read_failed", err.Error())
		return
	}
	if records == nil {
		records = []memory.TurnRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"turns": records})
}
