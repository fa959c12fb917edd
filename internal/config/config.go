package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the assistant process.
// User-editable preferences (assistant name, API keys, tool server) live in
// the settings file instead; see Settings.
type Config struct {
	BindAddr              string
	ShutdownTimeout       time.Duration
	InactivityTimeout     time.Duration
	StreamShutdownTimeout time.Duration
	MetricsNamespace      string
	HistoryWindow         int

	AllowAnyOrigin bool
	SettingsPath   string
	UIMode         string
	Debug          bool
	SpeakReplies   bool

	STTProvider string

	ElevenLabsAPIBaseURL      string
	ElevenLabsWSBaseURL       string
	ElevenLabsTTSModel        string
	ElevenLabsSTTModel        string
	ElevenLabsTTSOutputFormat string

	LocalWhisperCLI       string
	LocalWhisperModelPath string
	LocalWhisperLanguage  string
	LocalWhisperThreads   int
	LocalWhisperBeamSize  int
	LocalWhisperBestOf    int

	LLMProvider     string
	LLMModel        string
	LLMHTTPURL      string
	LLMCLIPath      string
	LLMToolRounds   int
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string

	DatabaseURL       string
	HistorySQLitePath string

	MicPauseThreshold     time.Duration
	MicCommandTimeout     time.Duration
	MicPhraseLimit        time.Duration
	MicCommandPhraseLimit time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", "127.0.0.1:8765"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "assistant"),
		SettingsPath:     stringsTrimSpace("APP_SETTINGS_PATH"),
		UIMode:           strings.ToLower(envOrDefault("APP_UI", "web")),
		STTProvider:      strings.ToLower(envOrDefault("STT_PROVIDER", "auto")),

		ElevenLabsAPIBaseURL: envOrDefault("ELEVENLABS_API_BASE_URL", "https://api.elevenlabs.io"),
		ElevenLabsWSBaseURL:  envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		ElevenLabsTTSModel:   envOrDefault("ELEVENLABS_TTS_MODEL_ID", "eleven_multilingual_v2"),
		ElevenLabsSTTModel:   envOrDefault("ELEVENLABS_STT_MODEL_ID", "scribe_v1"),
		// The chat window plays raw PCM through WebAudio.
		ElevenLabsTTSOutputFormat: envOrDefault("ELEVENLABS_TTS_OUTPUT_FORMAT", "pcm_16000"),

		LocalWhisperCLI:       envOrDefault("LOCAL_WHISPER_CLI", "whisper-cli"),
		LocalWhisperModelPath: envOrDefault("LOCAL_WHISPER_MODEL_PATH", ".models/whisper/ggml-base.en.bin"),
		LocalWhisperLanguage:  envOrDefault("LOCAL_WHISPER_LANGUAGE", "en"),
		// 0 means "auto" (picked based on CPU count).
		LocalWhisperThreads:  0,
		LocalWhisperBeamSize: 1,
		LocalWhisperBestOf:   1,

		LLMProvider:     strings.ToLower(envOrDefault("LLM_PROVIDER", "auto")),
		LLMModel:        stringsTrimSpace("LLM_MODEL"),
		LLMHTTPURL:      stringsTrimSpace("LLM_HTTP_URL"),
		LLMCLIPath:      envOrDefault("LLM_CLI_PATH", "llm"),
		LLMToolRounds:   4,
		OpenAIAPIKey:    stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:   stringsTrimSpace("OPENAI_BASE_URL"),
		AnthropicAPIKey: stringsTrimSpace("ANTHROPIC_API_KEY"),

		DatabaseURL:       stringsTrimSpace("DATABASE_URL"),
		HistorySQLitePath: stringsTrimSpace("HISTORY_SQLITE_PATH"),

		HistoryWindow:         10,
		ShutdownTimeout:       5 * time.Second,
		InactivityTimeout:     15 * time.Second,
		StreamShutdownTimeout: 3 * time.Second,
		MicPauseThreshold:     2 * time.Second,
		MicCommandTimeout:     5 * time.Second,
		MicPhraseLimit:        5 * time.Second,
		MicCommandPhraseLimit: 30 * time.Second,
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"APP_INACTIVITY_TIMEOUT", &cfg.InactivityTimeout},
		{"APP_STREAM_SHUTDOWN_TIMEOUT", &cfg.StreamShutdownTimeout},
		{"MIC_PAUSE_THRESHOLD", &cfg.MicPauseThreshold},
		{"MIC_COMMAND_TIMEOUT", &cfg.MicCommandTimeout},
		{"MIC_PHRASE_LIMIT", &cfg.MicPhraseLimit},
		{"MIC_COMMAND_PHRASE_LIMIT", &cfg.MicCommandPhraseLimit},
	}
	for _, d := range durations {
		*d.dst, err = durationFromEnv(d.key, *d.dst)
		if err != nil {
			return Config{}, err
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"APP_HISTORY_WINDOW", &cfg.HistoryWindow},
		{"LLM_TOOL_ROUNDS", &cfg.LLMToolRounds},
		{"LOCAL_WHISPER_THREADS", &cfg.LocalWhisperThreads},
		{"LOCAL_WHISPER_BEAM_SIZE", &cfg.LocalWhisperBeamSize},
		{"LOCAL_WHISPER_BEST_OF", &cfg.LocalWhisperBestOf},
	}
	for _, n := range ints {
		*n.dst, err = intFromEnv(n.key, *n.dst)
		if err != nil {
			return Config{}, err
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"APP_ALLOW_ANY_ORIGIN", &cfg.AllowAnyOrigin},
		{"APP_DEBUG", &cfg.Debug},
		{"APP_SPEAK_REPLIES", &cfg.SpeakReplies},
	}
	for _, b := range bools {
		*b.dst, err = boolFromEnv(b.key, *b.dst)
		if err != nil {
			return Config{}, err
		}
	}

	if cfg.InactivityTimeout < time.Second {
		return Config{}, fmt.Errorf("APP_INACTIVITY_TIMEOUT must be at least 1s")
	}
	if cfg.StreamShutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_STREAM_SHUTDOWN_TIMEOUT must be positive")
	}
	if cfg.HistoryWindow <= 0 {
		return Config{}, fmt.Errorf("APP_HISTORY_WINDOW must be positive")
	}
	if cfg.MicPauseThreshold <= 0 || cfg.MicCommandTimeout <= 0 || cfg.MicPhraseLimit <= 0 || cfg.MicCommandPhraseLimit <= 0 {
		return Config{}, fmt.Errorf("MIC_* durations must be positive")
	}
	if cfg.LLMToolRounds < 0 {
		return Config{}, fmt.Errorf("LLM_TOOL_ROUNDS must be >= 0")
	}
	if cfg.LocalWhisperThreads < 0 {
		return Config{}, fmt.Errorf("LOCAL_WHISPER_THREADS must be >= 0")
	}
	if cfg.LocalWhisperBeamSize <= 0 {
		return Config{}, fmt.Errorf("LOCAL_WHISPER_BEAM_SIZE must be positive")
	}
	if cfg.LocalWhisperBestOf <= 0 {
		return Config{}, fmt.Errorf("LOCAL_WHISPER_BEST_OF must be positive")
	}
	switch cfg.UIMode {
	case "web", "console":
	default:
		return Config{}, fmt.Errorf("APP_UI must be web or console, got %q", cfg.UIMode)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
