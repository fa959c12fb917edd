package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/antoniostano/heygemini/internal/llm"
	"github.com/antoniostano/heygemini/internal/observability"
)

// ErrBackend marks a failed reply stream.
var ErrBackend = errors.New("backend error")

// ResponseStreamer runs one backend call per turn on the executor and
// forwards fragments to the chat window as they arrive.
type ResponseStreamer struct {
	backend llm.Adapter
	exec    *Executor
	ui      UISink
	metrics *observability.Metrics
	name    string
}

func NewResponseStreamer(backend llm.Adapter, exec *Executor, ui UISink, metrics *observability.Metrics) *ResponseStreamer {
	return &ResponseStreamer{
		backend: backend,
		exec:    exec,
		ui:      ui,
		metrics: metrics,
		name:    llm.Describe(backend),
	}
}

// Stream sends window to the backend and blocks until the task completes.
// On failure the chat window gets a visible error fragment and the returned
// error wraps ErrBackend, or is ctx's error when the session is shutting down.
// The assistant message is always closed.
func (r *ResponseStreamer) Stream(ctx context.Context, conversationID string, window []Turn) (string, error) {
	req := llm.Request{
		ConversationID: conversationID,
		History:        make([]llm.Message, 0, len(window)),
	}
	for _, t := range window {
		role := llm.RoleUser
		if t.Role == RoleAssistant {
			role = llm.RoleAssistant
		}
		req.History = append(req.History, llm.Message{Role: role, Content: t.Content})
	}

	r.ui.StartAssistantMessage()
	defer r.ui.EndAssistantMessage()

	started := time.Now()
	var first sync.Once
	task, err := r.exec.Submit(ctx, func(taskCtx context.Context) (string, error) {
		resp, err := r.backend.StreamResponse(taskCtx, req, func(delta string) error {
			if delta == "" {
				return nil
			}
			first.Do(func() { r.metrics.ObserveFirstFragmentLatency(time.Since(started)) })
			r.ui.UpdateAssistantMessage(delta)
			return nil
		})
		return resp.Text, err
	})
	if err != nil {
		return "", r.fail(ctx, err)
	}

	select {
	case <-task.Done():
	case <-ctx.Done():
		// Not waiting for the task: fragments it sends after the deferred
		// EndAssistantMessage are dropped by the window.
		task.Cancel()
		return "", ctx.Err()
	}

	text, err := task.Result()
	if err != nil {
		return "", r.fail(ctx, err)
	}
	r.metrics.ObserveStage("reply_stream", time.Since(started))
	return strings.TrimSpace(text), nil
}

func (r *ResponseStreamer) fail(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	r.metrics.ObserveBackendError(r.name)
	r.ui.UpdateAssistantMessage(errorFragment(err))
	return fmt.Errorf("%w: %v", ErrBackend, err)
}

func errorFragment(err error) string {
	return fmt.Sprintf(" [Error: %v]", err)
}
