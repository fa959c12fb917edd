package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"unicode/utf8"
)

// CLIAdapter runs a local command-line model runner (for example `llm` or
// `ollama run <model>`) with the prompt as its final argument and streams
// its stdout as the reply.
type CLIAdapter struct {
	binaryPath string
	args       []string
}

// NewCLIAdapter accepts a binary path optionally followed by fixed arguments,
// separated by spaces.
func NewCLIAdapter(command string) *CLIAdapter {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return &CLIAdapter{}
	}
	return &CLIAdapter{binaryPath: fields[0], args: fields[1:]}
}

func (a *CLIAdapter) StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	if a.binaryPath == "" {
		return Response{}, errors.New("llm cli path is empty")
	}
	prompt := BuildPrompt(req)
	if prompt == "" {
		return Response{}, errors.New("llm cli: empty prompt")
	}
	args := append(append([]string(nil), a.args...), SystemPrompt+"\n\n"+prompt)

	cmd := exec.CommandContext(ctx, a.binaryPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Response{}, fmt.Errorf("llm cli stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return Response{}, fmt.Errorf("llm cli start: %w", err)
	}

	var (
		out     strings.Builder
		carry   []byte
		buf     = make([]byte, 4096)
		sinkErr error
	)
	for {
		n, readErr := stdout.Read(buf)
		if n > 0 && sinkErr == nil {
			chunk := append(carry, buf[:n]...)
			valid := validUTF8Prefix(chunk)
			carry = append([]byte(nil), chunk[valid:]...)
			if valid > 0 {
				text := string(chunk[:valid])
				if out.Len() == 0 {
					text = strings.TrimLeft(text, " \t\r\n")
				}
				if text != "" {
					out.WriteString(text)
					if onDelta != nil {
						sinkErr = onDelta(text)
					}
				}
			}
		}
		if readErr != nil {
			break
		}
	}
	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		// exec.CommandContext may surface "signal: killed" instead of context cancellation.
		return Response{}, ctx.Err()
	}
	if sinkErr != nil {
		return Response{}, sinkErr
	}
	if waitErr != nil {
		errText := strings.TrimSpace(stderr.String())
		if errText != "" {
			return Response{}, fmt.Errorf("llm cli failed: %w: %s", waitErr, errText)
		}
		return Response{}, fmt.Errorf("llm cli failed: %w", waitErr)
	}
	return Response{Text: strings.TrimSpace(out.String())}, nil
}

// validUTF8Prefix returns the length of the longest prefix of b that does not
// end inside a multi-byte rune.
func validUTF8Prefix(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return len(b)
			}
			return i
		}
	}
	return len(b)
}
