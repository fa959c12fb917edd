package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/antoniostano/heygemini/internal/app"
	"github.com/antoniostano/heygemini/internal/config"
)

type runFlags struct {
	ui      string
	addr    string
	debug   bool
	speak   bool
	noColor bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.ui, "ui", "", "chat window: web or console (default from APP_UI)")
	cmd.Flags().StringVar(&f.addr, "addr", "", "chat window listen address (default from APP_BIND_ADDR)")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "log every background transcript")
	cmd.Flags().BoolVar(&f.speak, "speak", false, "speak replies aloud")
	cmd.Flags().BoolVar(&f.noColor, "no-color", false, "disable colored console output")
}

func (f runFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	if f.ui != "" {
		switch f.ui {
		case "web", "console":
			cfg.UIMode = f.ui
		default:
			return fmt.Errorf("--ui must be web or console, got %q", f.ui)
		}
	}
	if f.addr != "" {
		cfg.BindAddr = f.addr
	}
	if cmd.Flags().Changed("debug") {
		cfg.Debug = f.debug
	}
	if cmd.Flags().Changed("speak") {
		cfg.SpeakReplies = f.speak
	}
	return nil
}

func newRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the assistant (default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAssistantCmd(cmd, flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func runAssistantCmd(cmd *cobra.Command, flags runFlags) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := flags.apply(cmd, &cfg); err != nil {
		return err
	}
	return serve(cmd.Context(), cfg, flags.noColor)
}

func serve(parent context.Context, cfg config.Config, noColor bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := app.Build(ctx, cfg, app.Options{Console: os.Stdout, NoColor: noColor})
	if err != nil {
		return err
	}
	log.Printf("llm backend: %s", res.Backend)
	log.Printf("speech recognition: %s", res.STT)
	log.Printf("speech output: %s", res.TTS)
	log.Printf("settings: %s (activation name %q)", res.SettingsPath, res.Session.ActivationName())

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: res.API.Router(),
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Printf("chat window on http://%s/ui/", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	if err := res.Session.Start(); err != nil {
		_ = httpServer.Close()
		_ = res.Shutdown(context.Background())
		return err
	}
	if cfg.UIMode == "console" {
		go readConsole(ctx, os.Stdin, res)
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Printf("shutdown signal received")
	case err := <-serveErr:
		runErr = fmt.Errorf("listen error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}
	if err := res.Shutdown(shutdownCtx); err != nil {
		log.Printf("assistant shutdown: %v", err)
	}
	log.Printf("shutdown complete")
	return runErr
}

// readConsole turns typed lines into utterances. "/wake" starts a
// conversation without saying the name.
func readConsole(ctx context.Context, in io.Reader, res *app.BuildResult) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case line == "/wake":
			res.Session.OnWakeWord()
		default:
			if !res.Mic.FeedText(line) {
				log.Printf("console: input queue full, dropped %q", line)
			}
		}
	}
}
