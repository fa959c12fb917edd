package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

const (
	settingsFileName = ".ai_virtual_assistant_settings.json"

	DefaultAssistantName = "gemini"
	// DefaultElevenLabsVoiceID is the premade "Rachel" voice.
	DefaultElevenLabsVoiceID = "21m00Tcm4TlvDq8ikWAM"
)

// Settings is the user-editable preference file shared with the settings
// command and the chat window. Keys the program does not know about are kept
// and written back unchanged.
type Settings struct {
	AssistantName     string `json:"assistant_name"`
	GoogleAPIKey      string `json:"GOOGLE_API_KEY"`
	ElevenLabsAPIKey  string `json:"ELEVENLABS_API_KEY"`
	ElevenLabsVoiceID string `json:"ELEVENLABS_VOICE_ID"`

	MCPUseExternalPythonServer  bool              `json:"mcp_use_external_python_server"`
	MCPExternalPythonScriptPath string            `json:"mcp_external_python_script_path"`
	MCPServerType               string            `json:"mcp_server_type"`
	MCPExternalCommand          string            `json:"mcp_external_command"`
	MCPExternalArgs             []string          `json:"mcp_external_args"`
	MCPExternalEnv              map[string]string `json:"mcp_external_env"`

	extra map[string]json.RawMessage
}

type settingsFields Settings

// DefaultSettings returns the settings used when no file exists.
func DefaultSettings() Settings {
	return Settings{
		AssistantName:     DefaultAssistantName,
		ElevenLabsVoiceID: DefaultElevenLabsVoiceID,
		MCPServerType:     "local",
		MCPExternalArgs:   []string{},
	}
}

// DefaultSettingsPath resolves ~/.ai_virtual_assistant_settings.json.
func DefaultSettingsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, settingsFileName), nil
}

// LoadSettings reads the settings file at path. A missing file yields the
// defaults; a malformed file is logged and also yields the defaults.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read settings: %w", err)
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		log.Printf("settings: ignoring malformed %s: %v", path, err)
		return DefaultSettings(), nil
	}
	if strings.TrimSpace(s.AssistantName) == "" {
		s.AssistantName = DefaultAssistantName
	}
	if strings.TrimSpace(s.ElevenLabsVoiceID) == "" {
		s.ElevenLabsVoiceID = DefaultElevenLabsVoiceID
	}
	return s, nil
}

// SaveSettings writes s to path as indented JSON.
func SaveSettings(path string, s Settings) error {
	raw, err := json.MarshalIndent(s, "", "    ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(raw, '\n'), 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// WithEnvFallback fills empty API keys from the environment. The result is
// meant for runtime use; saving it would persist the environment values.
func (s Settings) WithEnvFallback() Settings {
	if strings.TrimSpace(s.GoogleAPIKey) == "" {
		s.GoogleAPIKey = strings.TrimSpace(os.Getenv("GOOGLE_API_KEY"))
	}
	if strings.TrimSpace(s.ElevenLabsAPIKey) == "" {
		s.ElevenLabsAPIKey = strings.TrimSpace(os.Getenv("ELEVENLABS_API_KEY"))
	}
	return s
}

// ActivationName is the lowercased wake word.
func (s Settings) ActivationName() string {
	name := strings.ToLower(strings.TrimSpace(s.AssistantName))
	if name == "" {
		return DefaultAssistantName
	}
	return name
}

// ToolServerCommand describes the external tool process to launch. ok is
// false when no tool server is configured.
func (s Settings) ToolServerCommand() (command string, args []string, env map[string]string, ok bool) {
	if s.MCPUseExternalPythonServer {
		script := strings.TrimSpace(s.MCPExternalPythonScriptPath)
		if script == "" {
			return "", nil, nil, false
		}
		return "python3", []string{script}, s.MCPExternalEnv, true
	}
	command = strings.TrimSpace(s.MCPExternalCommand)
	if command == "" {
		return "", nil, nil, false
	}
	return command, append([]string(nil), s.MCPExternalArgs...), s.MCPExternalEnv, true
}

// MarshalJSON writes known fields merged over any preserved unknown keys.
func (s Settings) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(settingsFields(s))
	if err != nil {
		return nil, err
	}
	if len(s.extra) == 0 {
		return known, nil
	}
	merged := make(map[string]json.RawMessage, len(s.extra)+10)
	for k, v := range s.extra {
		merged[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes known fields over the current values and keeps the
// rest for MarshalJSON.
func (s *Settings) UnmarshalJSON(data []byte) error {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	fields := settingsFields(*s)
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	for _, key := range knownSettingsKeys {
		delete(all, key)
	}
	*s = Settings(fields)
	if len(all) > 0 {
		s.extra = all
	} else {
		s.extra = nil
	}
	return nil
}

var knownSettingsKeys = []string{
	"assistant_name",
	"GOOGLE_API_KEY",
	"ELEVENLABS_API_KEY",
	"ELEVENLABS_VOICE_ID",
	"mcp_use_external_python_server",
	"mcp_external_python_script_path",
	"mcp_server_type",
	"mcp_external_command",
	"mcp_external_args",
	"mcp_external_env",
}
