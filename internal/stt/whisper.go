package stt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/antoniostano/heygemini/internal/audio"
)

// WhisperConfig locates a whisper.cpp CLI build and its model.
type WhisperConfig struct {
	CLI       string
	ModelPath string
	Language  string
	Threads   int
	BeamSize  int
	BestOf    int
}

// WhisperCLI transcribes by running the whisper.cpp CLI on a temp WAV file.
type WhisperCLI struct {
	cliPath   string
	modelPath string
	language  string
	threads   int
	beamSize  int
	bestOf    int
}

// NewWhisperCLI resolves the CLI and model and fills defaults.
func NewWhisperCLI(cfg WhisperConfig) (*WhisperCLI, error) {
	cli := strings.TrimSpace(cfg.CLI)
	if cli == "" {
		cli = "whisper-cli"
	}
	cliPath, err := exec.LookPath(cli)
	if err != nil {
		return nil, fmt.Errorf("whisper.cpp CLI not found (%s)", cli)
	}
	modelPath := strings.TrimSpace(cfg.ModelPath)
	if modelPath == "" {
		return nil, fmt.Errorf("LOCAL_WHISPER_MODEL_PATH is required")
	}
	if !filepath.IsAbs(modelPath) {
		if wd, err := os.Getwd(); err == nil {
			modelPath = filepath.Join(wd, modelPath)
		}
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("whisper.cpp model not found: %s", modelPath)
	}
	language := strings.TrimSpace(cfg.Language)
	if language == "" {
		language = "en"
	}
	threads := cfg.Threads
	if threads < 0 {
		return nil, fmt.Errorf("LOCAL_WHISPER_THREADS must be >= 0")
	}
	if threads == 0 {
		threads = min(max(runtime.NumCPU(), 2), 8)
	}
	return &WhisperCLI{
		cliPath:   cliPath,
		modelPath: modelPath,
		language:  language,
		threads:   threads,
		beamSize:  max(cfg.BeamSize, 1),
		bestOf:    max(cfg.BestOf, 1),
	}, nil
}

func (w *WhisperCLI) args(wavPath, outPrefix string) []string {
	return []string{
		"-m", w.modelPath,
		"-f", wavPath,
		"-l", w.language,
		"-otxt",
		"-of", outPrefix,
		"-nt",
		"-t", strconv.Itoa(w.threads),
		"-bs", strconv.Itoa(w.beamSize),
		"-bo", strconv.Itoa(w.bestOf),
	}
}

// Transcribe implements Transcriber.
func (w *WhisperCLI) Transcribe(ctx context.Context, seg audio.Segment) (string, error) {
	if text, ok := typedText(seg); ok {
		return text, nil
	}
	if len(seg.PCM) == 0 {
		return "", ErrNotUnderstood
	}
	tmpDir, err := os.MkdirTemp("", "heygemini-whisper-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmpDir)

	wavPath := filepath.Join(tmpDir, "audio.wav")
	if err := audio.WriteWAVFile(wavPath, seg); err != nil {
		return "", err
	}
	outPrefix := filepath.Join(tmpDir, "out")

	cmd := exec.CommandContext(ctx, w.cliPath, w.args(wavPath, outPrefix)...)
	cmd.Stdout = io.Discard
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		detail := strings.TrimSpace(stderr.String())
		// whisper.cpp is chatty on stderr; keep the tail.
		if len(detail) > 4<<10 {
			detail = strings.TrimSpace(detail[len(detail)-(4<<10):])
		}
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("%w: whisper.cpp failed: %s", ErrServiceUnavailable, detail)
	}

	b, err := os.ReadFile(outPrefix + ".txt")
	if err != nil {
		return "", fmt.Errorf("%w: read whisper output: %v", ErrServiceUnavailable, err)
	}
	return cleanTranscript(string(b))
}

// cleanTranscript drops whisper's non-speech markers such as "[BLANK_AUDIO]"
// and "(wind blowing)".
func cleanTranscript(raw string) (string, error) {
	text := stripBracketed(raw)
	if text == "" {
		return "", ErrNotUnderstood
	}
	return text, nil
}

func stripBracketed(text string) string {
	var b strings.Builder
	depth := 0
	for _, r := range text {
		switch {
		case r == '(' || r == '[':
			depth++
		case (r == ')' || r == ']') && depth > 0:
			depth--
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

var _ Transcriber = (*WhisperCLI)(nil)
