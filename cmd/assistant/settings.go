package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/antoniostano/heygemini/internal/config"
)

func newSettingsCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the settings file",
	}
	cmd.PersistentFlags().StringVar(&path, "file", "", "settings file (default ~/.ai_virtual_assistant_settings.json)")

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the current settings with keys masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := settingsPath(path)
			if err != nil {
				return err
			}
			s, err := config.LoadSettings(p)
			if err != nil {
				return err
			}
			printSettings(cmd.OutOrStdout(), p, s)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set-name NAME",
		Short: "Change the assistant name (takes effect on restart)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return fmt.Errorf("assistant name cannot be blank")
			}
			return updateSettings(cmd.OutOrStdout(), path, func(s *config.Settings) {
				s.AssistantName = name
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set-voice VOICE_ID",
		Short: "Change the ElevenLabs voice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			voice := strings.TrimSpace(args[0])
			if voice == "" {
				return fmt.Errorf("voice id cannot be blank")
			}
			return updateSettings(cmd.OutOrStdout(), path, func(s *config.Settings) {
				s.ElevenLabsVoiceID = voice
			})
		},
	})
	return cmd
}

func settingsPath(flag string) (string, error) {
	if p := strings.TrimSpace(flag); p != "" {
		return p, nil
	}
	return config.DefaultSettingsPath()
}

func updateSettings(out io.Writer, flag string, mutate func(*config.Settings)) error {
	p, err := settingsPath(flag)
	if err != nil {
		return err
	}
	s, err := config.LoadSettings(p)
	if err != nil {
		return err
	}
	mutate(&s)
	if err := config.SaveSettings(p, s); err != nil {
		return err
	}
	color.New(color.FgGreen).Fprintf(out, "saved %s\n", p)
	printSettings(out, p, s)
	return nil
}

func printSettings(out io.Writer, path string, s config.Settings) {
	label := color.New(color.FgCyan)
	row := func(k, v string) {
		label.Fprintf(out, "%-20s", k)
		fmt.Fprintln(out, v)
	}
	row("file", path)
	row("assistant name", s.AssistantName)
	row("activation name", s.ActivationName())
	row("elevenlabs voice", s.ElevenLabsVoiceID)
	row("google api key", maskKey(s.GoogleAPIKey))
	row("elevenlabs api key", maskKey(s.ElevenLabsAPIKey))
	if command, args, _, ok := s.ToolServerCommand(); ok {
		row("tool server", strings.TrimSpace(command+" "+strings.Join(args, " ")))
	} else {
		row("tool server", "none")
	}
}

func maskKey(key string) string {
	key = strings.TrimSpace(key)
	switch {
	case key == "":
		return "(not set)"
	case len(key) <= 8:
		return "****"
	default:
		return key[:4] + "..." + key[len(key)-4:]
	}
}
