package app

import (
	"fmt"
	"strings"

	"github.com/antoniostano/heygemini/internal/config"
	"github.com/antoniostano/heygemini/internal/conversation"
	"github.com/antoniostano/heygemini/internal/stt"
	"github.com/antoniostano/heygemini/internal/tts"
)

type speechSetup struct {
	transcriber stt.Transcriber
	speaker     conversation.Speaker
	sttDetail   string
	ttsDetail   string
}

func resolveSpeech(cfg config.Config, settings config.Settings, sink tts.AudioSink) (speechSetup, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.STTProvider))
	if mode == "" {
		mode = "auto"
	}

	tryElevenLabs := func() (stt.Transcriber, bool, error) {
		if strings.TrimSpace(settings.ElevenLabsAPIKey) == "" {
			return nil, false, nil
		}
		t, err := stt.NewElevenLabs(stt.ElevenLabsConfig{
			APIKey:     settings.ElevenLabsAPIKey,
			BaseURL:    cfg.ElevenLabsAPIBaseURL,
			ModelID:    cfg.ElevenLabsSTTModel,
			Language:   cfg.LocalWhisperLanguage,
			MaxRetries: 2,
		})
		if err != nil {
			return nil, false, err
		}
		return t, true, nil
	}

	tryWhisper := func() (stt.Transcriber, error) {
		return stt.NewWhisperCLI(stt.WhisperConfig{
			CLI:       cfg.LocalWhisperCLI,
			ModelPath: cfg.LocalWhisperModelPath,
			Language:  cfg.LocalWhisperLanguage,
			Threads:   cfg.LocalWhisperThreads,
			BeamSize:  cfg.LocalWhisperBeamSize,
			BestOf:    cfg.LocalWhisperBestOf,
		})
	}

	var out speechSetup
	switch mode {
	case "elevenlabs":
		t, ok, err := tryElevenLabs()
		if err != nil {
			return speechSetup{}, fmt.Errorf("elevenlabs stt init failed: %w", err)
		}
		if !ok {
			return speechSetup{}, fmt.Errorf("STT_PROVIDER=elevenlabs but ELEVENLABS_API_KEY is not set")
		}
		out.transcriber, out.sttDetail = t, "elevenlabs"
	case "whisper":
		t, err := tryWhisper()
		if err != nil {
			return speechSetup{}, fmt.Errorf("whisper stt init failed: %w", err)
		}
		out.transcriber, out.sttDetail = t, "whisper.cpp"
	case "mock":
		out.transcriber, out.sttDetail = stt.Mock{}, "mock"
	case "auto":
		if t, ok, err := tryElevenLabs(); err == nil && ok {
			out.transcriber, out.sttDetail = t, "elevenlabs"
			break
		}
		if t, err := tryWhisper(); err == nil {
			out.transcriber, out.sttDetail = t, "whisper.cpp"
			break
		}
		out.transcriber, out.sttDetail = stt.Mock{}, "mock (typed input only; no elevenlabs key and whisper.cpp unavailable)"
	default:
		return speechSetup{}, fmt.Errorf("invalid STT_PROVIDER: %q (expected auto|elevenlabs|whisper|mock)", cfg.STTProvider)
	}

	if !cfg.SpeakReplies {
		out.ttsDetail = "off"
		return out, nil
	}
	if strings.TrimSpace(settings.ElevenLabsAPIKey) == "" {
		out.speaker, out.ttsDetail = tts.LogSpeaker{}, "log only (no elevenlabs key)"
		return out, nil
	}
	sp, err := tts.NewElevenLabs(tts.ElevenLabsConfig{
		APIKey:       settings.ElevenLabsAPIKey,
		WSBaseURL:    cfg.ElevenLabsWSBaseURL,
		VoiceID:      settings.ElevenLabsVoiceID,
		ModelID:      cfg.ElevenLabsTTSModel,
		OutputFormat: cfg.ElevenLabsTTSOutputFormat,
		MaxRetries:   1,
	}, sink)
	if err != nil {
		return speechSetup{}, fmt.Errorf("elevenlabs tts init failed: %w", err)
	}
	out.speaker, out.ttsDetail = sp, "elevenlabs ("+settings.ElevenLabsVoiceID+")"
	return out, nil
}
