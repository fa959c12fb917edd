package httpapi

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/antoniostano/heygemini/internal/config"
)

type settingsResponse struct {
	AssistantName       string `json:"assistant_name"`
	ElevenLabsVoiceID   string `json:"elevenlabs_voice_id"`
	HasGoogleAPIKey     bool   `json:"has_google_api_key"`
	HasElevenLabsAPIKey bool   `json:"has_elevenlabs_api_key"`
	ToolServer          string `json:"tool_server,omitempty"`
	// RestartRequired is set when the saved name differs from the one the
	// running session listens for.
	RestartRequired bool `json:"restart_required"`
}

// settingsUpdate is a partial update; nil fields are left unchanged.
type settingsUpdate struct {
	AssistantName     *string `json:"assistant_name"`
	GoogleAPIKey      *string `json:"GOOGLE_API_KEY"`
	ElevenLabsAPIKey  *string `json:"ELEVENLABS_API_KEY"`
	ElevenLabsVoiceID *string `json:"ELEVENLABS_VOICE_ID"`
}

var errSettingsPath = errors.New("settings path not configured")

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	if strings.TrimSpace(s.settingsPath) == "" {
		respondError(w, http.StatusServiceUnavailable, "settings_unavailable", errSettingsPath.Error())
		return
	}
	s.settingsMu.Lock()
	settings, err := config.LoadSettings(s.settingsPath)
	s.settingsMu.Unlock()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "settings_read_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.settingsView(settings))
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(s.settingsPath) == "" {
		respondError(w, http.StatusServiceUnavailable, "settings_unavailable", errSettingsPath.Error())
		return
	}
	var req settingsUpdate
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.AssistantName != nil && strings.TrimSpace(*req.AssistantName) == "" {
		respondError(w, http.StatusBadRequest, "invalid_assistant_name", "assistant_name must not be blank")
		return
	}

	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()
	settings, err := config.LoadSettings(s.settingsPath)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "settings_read_failed", err.Error())
		return
	}
	if req.AssistantName != nil {
		settings.AssistantName = strings.TrimSpace(*req.AssistantName)
	}
	if req.GoogleAPIKey != nil {
		settings.GoogleAPIKey = strings.TrimSpace(*req.GoogleAPIKey)
	}
	if req.ElevenLabsAPIKey != nil {
		settings.ElevenLabsAPIKey = strings.TrimSpace(*req.ElevenLabsAPIKey)
	}
	if req.ElevenLabsVoiceID != nil {
		settings.ElevenLabsVoiceID = strings.TrimSpace(*req.ElevenLabsVoiceID)
	}
	if err := config.SaveSettings(s.settingsPath, settings); err != nil {
		respondError(w, http.StatusInternalServerError, "settings_write_failed", err.Error())
		return
	}
	log.Printf("settings: saved %s", s.settingsPath)
	respondJSON(w, http.StatusOK, s.settingsView(settings))
}

func (s *Server) settingsView(settings config.Settings) settingsResponse {
	out := settingsResponse{
		AssistantName:       settings.AssistantName,
		ElevenLabsVoiceID:   settings.ElevenLabsVoiceID,
		HasGoogleAPIKey:     strings.TrimSpace(settings.GoogleAPIKey) != "",
		HasElevenLabsAPIKey: strings.TrimSpace(settings.ElevenLabsAPIKey) != "",
	}
	if cmd, args, _, ok := settings.ToolServerCommand(); ok {
		out.ToolServer = strings.TrimSpace(strings.Join(append([]string{cmd}, args...), " "))
	}
	if s.session != nil {
		out.RestartRequired = settings.ActivationName() != s.session.ActivationName()
	}
	return out
}
