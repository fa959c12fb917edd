// Package app assembles the assistant from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/antoniostano/heygemini/internal/audio"
	"github.com/antoniostano/heygemini/internal/config"
	"github.com/antoniostano/heygemini/internal/conversation"
	"github.com/antoniostano/heygemini/internal/httpapi"
	"github.com/antoniostano/heygemini/internal/listener"
	"github.com/antoniostano/heygemini/internal/llm"
	"github.com/antoniostano/heygemini/internal/memory"
	"github.com/antoniostano/heygemini/internal/mic"
	"github.com/antoniostano/heygemini/internal/observability"
	"github.com/antoniostano/heygemini/internal/toolproc"
	"github.com/antoniostano/heygemini/internal/tts"
	"github.com/antoniostano/heygemini/internal/ui"
)

// Options are inputs that do not come from the environment.
type Options struct {
	// Console receives the chat window when Config.UIMode is "console".
	Console io.Writer
	NoColor bool
}

type BuildResult struct {
	Config       config.Config
	Settings     config.Settings
	SettingsPath string

	API     *httpapi.Server
	Session *conversation.Session
	Window  *ui.Window
	Mic     *mic.StreamDevice
	Metrics *observability.Metrics

	Backend string
	STT     string
	TTS     string

	dispatcher *ui.Dispatcher
	tools      *toolproc.Manager
	store      memory.Store
}

func Build(ctx context.Context, cfg config.Config, opts Options) (*BuildResult, error) {
	settingsPath := cfg.SettingsPath
	if strings.TrimSpace(settingsPath) == "" {
		p, err := config.DefaultSettingsPath()
		if err != nil {
			return nil, err
		}
		settingsPath = p
	}
	saved, err := config.LoadSettings(settingsPath)
	if err != nil {
		return nil, fmt.Errorf("settings load failed: %w", err)
	}
	settings := saved.WithEnvFallback()

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	sqlitePath := cfg.HistorySQLitePath
	if strings.TrimSpace(cfg.DatabaseURL) == "" && strings.TrimSpace(sqlitePath) == "" {
		if p, err := memory.DefaultSQLitePath(); err == nil {
			sqlitePath = p
		}
	}
	store, err := memory.NewStore(ctx, cfg.DatabaseURL, sqlitePath)
	if err != nil {
		return nil, fmt.Errorf("history store init failed: %w", err)
	}

	res := &BuildResult{
		Config:       cfg,
		Settings:     settings,
		SettingsPath: settingsPath,
		Metrics:      metrics,
		store:        store,
	}

	var toolProvider llm.ToolProvider
	if command, args, env, ok := settings.ToolServerCommand(); ok {
		res.tools = toolproc.NewManager(toolproc.ServerConfig{Command: command, Args: args, Env: env})
		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		if err := res.tools.Connect(connectCtx); err != nil {
			log.Printf("tool server unavailable, will retry on first use: %v", err)
		}
		cancel()
		toolProvider = res.tools
	}

	backend, err := buildBackend(ctx, cfg, settings, toolProvider)
	if err != nil {
		res.release()
		return nil, err
	}
	res.Backend = llm.Describe(backend)

	res.dispatcher = ui.NewDispatcher()
	res.Window = ui.NewWindow(res.dispatcher)
	res.Window.SetStatus(conversation.StatusInitializing)
	if cfg.UIMode == "console" && opts.Console != nil {
		res.Window.Subscribe(ui.NewConsoleRenderer(opts.Console, opts.NoColor))
	}

	var api *httpapi.Server
	speech, err := resolveSpeech(cfg, settings, tts.SinkFunc(func(chunk tts.Chunk) {
		if api != nil {
			api.PlayAudio(chunk)
		}
	}))
	if err != nil {
		res.release()
		return nil, err
	}
	res.STT, res.TTS = speech.sttDetail, speech.ttsDetail

	res.Mic = mic.NewStreamDevice(audio.DefaultSampleRate)
	guard := mic.NewGuard(res.Mic, time.Second)
	wake := listener.NewWakeWordListener(guard, speech.transcriber, mic.ListenOptions{
		PhraseLimit:    cfg.MicPhraseLimit,
		PauseThreshold: cfg.MicPauseThreshold,
	}, metrics, cfg.Debug)
	commands := listener.NewCommandCapture(guard, speech.transcriber, mic.ListenOptions{
		StartTimeout:   cfg.MicCommandTimeout,
		PhraseLimit:    cfg.MicCommandPhraseLimit,
		PauseThreshold: cfg.MicPauseThreshold,
	}, metrics)

	executor := conversation.NewExecutor()
	res.Session = conversation.NewSession(conversation.Config{
		ActivationName:    settings.ActivationName(),
		InactivityTimeout: cfg.InactivityTimeout,
		HistoryWindow:     cfg.HistoryWindow,
	}, conversation.Deps{
		Listener: wake,
		Commands: commands,
		Streamer: conversation.NewResponseStreamer(backend, executor, res.Window, metrics),
		Executor: executor,
		UI:       res.Window,
		Speaker:  speech.speaker,
		Recorder: memory.NewRecorder(store),
		Metrics:  metrics,
	})

	api = httpapi.New(httpapi.Options{
		Config:       cfg,
		SettingsPath: settingsPath,
		Window:       res.Window,
		Session:      res.Session,
		Mic:          res.Mic,
		History:      store,
		Metrics:      metrics,
	})
	res.API = api
	return res, nil
}

func buildBackend(ctx context.Context, cfg config.Config, settings config.Settings, tools llm.ToolProvider) (llm.Adapter, error) {
	if strings.EqualFold(strings.TrimSpace(cfg.LLMProvider), "mcp") {
		if tools == nil {
			return nil, errors.New("LLM_PROVIDER=mcp but no tool server is configured in settings")
		}
		return toolproc.NewAdapter(tools), nil
	}
	backend, err := llm.NewAdapter(ctx, llm.Config{
		Mode:            cfg.LLMProvider,
		Model:           cfg.LLMModel,
		GoogleAPIKey:    settings.GoogleAPIKey,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		OpenAIBaseURL:   cfg.OpenAIBaseURL,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		HTTPURL:         cfg.LLMHTTPURL,
		CLIPath:         cfg.LLMCLIPath,
		Tools:           tools,
		ToolRounds:      cfg.LLMToolRounds,
	})
	if err != nil {
		return nil, fmt.Errorf("llm backend init failed: %w", err)
	}
	return backend, nil
}

// Shutdown stops the session, then the chat window, then releases the tool
// process and history store. It does not block past ctx.
func (b *BuildResult) Shutdown(ctx context.Context) error {
	var errs []error
	streamCtx, cancel := context.WithTimeout(ctx, b.Config.StreamShutdownTimeout)
	defer cancel()
	if err := b.Session.Shutdown(streamCtx); err != nil {
		log.Printf("session shutdown: %v", err)
		errs = append(errs, err)
	}
	if b.dispatcher != nil {
		b.dispatcher.Stop()
	}
	if err := b.release(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (b *BuildResult) release() error {
	if b.tools != nil {
		b.tools.Close()
	}
	if b.dispatcher != nil {
		b.dispatcher.Stop()
	}
	if b.store != nil {
		if err := b.store.Close(); err != nil {
			return fmt.Errorf("history store close: %w", err)
		}
	}
	return nil
}
