package conversation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/heygemini/internal/observability"
)

// Status lines published to the chat window.
const (
	StatusInitializing     = "Initializing..."
	StatusListeningCommand = "Listening for command..."
	StatusListeningFollow  = "Listening..."
	StatusThinking         = "Thinking..."
)

// IdleStatus is shown while waiting for the activation name.
func IdleStatus(activationName string) string {
	return fmt.Sprintf("Listening for '%s'", activationName)
}

const defaultHistoryWindow = 10

// Config tunes a Session.
type Config struct {
	ActivationName    string
	InactivityTimeout time.Duration
	// HistoryWindow is how many trailing turns are sent to the backend.
	HistoryWindow int
}

// Deps are the collaborators a Session drives. Speaker, Recorder and Metrics
// may be nil.
type Deps struct {
	Listener WakeListener
	Commands CommandSource
	Streamer *ResponseStreamer
	Executor *Executor
	UI       UISink
	Speaker  Speaker
	Recorder TurnRecorder
	Metrics  *observability.Metrics
}

// Session is the conversation state machine.
//
// State writers: the turn loop performs every transition; the inactivity
// timer only ever performs Continuous -> Idle by compare-and-set; Shutdown
// forces Idle. The wake-word listener runs if and only if the state is Idle
// and the session is open.
type Session struct {
	cfg  Config
	deps Deps

	state atomic.Int32
	timer InactivityTimer

	ctx    context.Context
	cancel context.CancelFunc

	// loopMu guards closed, running and loops.Add so Shutdown can wait for
	// loops. running is set from wake until the listener is back after the
	// conversation, so at most one turn loop exists at a time.
	loopMu  sync.Mutex
	closed  bool
	running bool
	loops   sync.WaitGroup

	// lifeMu serialises listener restarts with Shutdown.
	lifeMu sync.Mutex

	histMu  sync.RWMutex
	history []Turn
}

func NewSession(cfg Config, deps Deps) *Session {
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = DefaultInactivityTimeout
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = defaultHistoryWindow
	}
	cfg.ActivationName = strings.ToLower(strings.TrimSpace(cfg.ActivationName))
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{cfg: cfg, deps: deps, ctx: ctx, cancel: cancel}
}

// ActivationName returns the lowercased wake word.
func (s *Session) ActivationName() string { return s.cfg.ActivationName }

func (s *Session) State() State { return State(s.state.Load()) }

// History returns a copy of every turn so far.
func (s *Session) History() []Turn {
	s.histMu.RLock()
	defer s.histMu.RUnlock()
	return append([]Turn(nil), s.history...)
}

// Start begins wake-word listening.
func (s *Session) Start() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.isClosed() {
		return errors.New("session closed")
	}
	if err := s.deps.Listener.Start(s.cfg.ActivationName, s.OnWakeWord); err != nil {
		return fmt.Errorf("start wake word listener: %w", err)
	}
	s.deps.UI.SetStatus(IdleStatus(s.cfg.ActivationName))
	return nil
}

// OnWakeWord is the detection callback. It runs on the listener goroutine,
// so it only claims the session and hands off to a new turn loop.
func (s *Session) OnWakeWord() {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.closed || s.running {
		return
	}
	if !s.transition(Idle, SingleTurn) {
		return
	}
	s.running = true
	s.loops.Add(1)
	go s.runLoop()
}

func (s *Session) runLoop() {
	defer s.loops.Done()
	conversationID := uuid.NewString()
	started := time.Now()
	defer func() {
		s.exitConversation()
		s.deps.Metrics.ObserveStage("turn_total", time.Since(started))
	}()

	s.deps.Listener.Stop()
	s.deps.Metrics.ObserveStage("wake_to_capture", time.Since(started))
	s.deps.UI.SetStatus(StatusListeningCommand)

	text, ok := s.capture()
	if !ok || s.State() != SingleTurn {
		return
	}
	if !s.runTurn(conversationID, text) {
		return
	}
	if !s.transition(SingleTurn, Continuous) {
		return
	}
	s.startTimer()

	for s.State() == Continuous {
		s.deps.UI.SetStatus(StatusListeningFollow)
		text, ok := s.capture()
		if s.State() != Continuous {
			if ok {
				log.Printf("conversation: dropping command heard after the conversation ended: %q", text)
			}
			return
		}
		if !ok {
			// The timer keeps running across empty captures so silence
			// adds up to the inactivity timeout.
			if !s.timer.Pending() {
				s.startTimer()
			}
			continue
		}
		if !s.timer.Cancel() {
			log.Printf("conversation: dropping command heard after the conversation ended: %q", text)
			return
		}
		if !s.runTurn(conversationID, text) {
			return
		}
		if s.State() != Continuous {
			return
		}
		s.startTimer()
	}
}

func (s *Session) capture() (string, bool) {
	started := time.Now()
	text, ok := s.deps.Commands.Capture(s.ctx)
	s.deps.Metrics.ObserveStage("command_capture", time.Since(started))
	return text, ok
}

// runTurn appends the user turn, streams the reply and appends the assistant
// turn. It reports false when the conversation must end.
func (s *Session) runTurn(conversationID, text string) bool {
	s.appendTurn(conversationID, RoleUser, text)
	s.deps.UI.AddMessage(SenderUser, text)
	s.deps.UI.SetStatus(StatusThinking)

	reply, err := s.deps.Streamer.Stream(s.ctx, conversationID, s.window())
	if err != nil {
		if s.ctx.Err() == nil {
			log.Printf("conversation: reply failed: %v", err)
		}
		s.toIdle()
		return false
	}
	if reply == "" {
		return true
	}
	s.appendTurn(conversationID, RoleAssistant, reply)
	if sp := s.deps.Speaker; sp != nil {
		go func() {
			if err := sp.Speak(s.ctx, reply); err != nil && s.ctx.Err() == nil {
				log.Printf("conversation: speak failed: %v", err)
			}
		}()
	}
	return true
}

func (s *Session) appendTurn(conversationID string, role Role, content string) {
	s.histMu.Lock()
	s.history = append(s.history, Turn{
		ID:      uuid.NewString(),
		Role:    role,
		Content: content,
		At:      time.Now().UTC(),
	})
	s.histMu.Unlock()
	s.deps.Metrics.ObserveTurn(string(role))
	if s.deps.Recorder != nil {
		s.deps.Recorder.Record(s.ctx, conversationID, string(role), content)
	}
}

// window snapshots the trailing turns sent to the backend.
func (s *Session) window() []Turn {
	s.histMu.RLock()
	defer s.histMu.RUnlock()
	start := len(s.history) - s.cfg.HistoryWindow
	if start < 0 {
		start = 0
	}
	return append([]Turn(nil), s.history[start:]...)
}

func (s *Session) startTimer() {
	s.timer.Start(s.cfg.InactivityTimeout, func() {
		if s.transition(Continuous, Idle) {
			log.Printf("conversation: no command for %s, ending conversation", s.cfg.InactivityTimeout)
		}
	})
}

// exitConversation runs once at the end of every turn loop. Wake calls wait
// on loopMu until the listener is back, so a new loop never starts while this
// one still owns the microphone.
func (s *Session) exitConversation() {
	s.toIdle()
	s.timer.Cancel()

	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	s.running = false
	if s.closed {
		return
	}
	s.deps.UI.SetStatus(IdleStatus(s.cfg.ActivationName))
	if err := s.deps.Listener.Start(s.cfg.ActivationName, s.OnWakeWord); err != nil {
		log.Printf("BUG: conversation: restart wake word listener: %v", err)
		s.deps.Metrics.ObserveInvariantViolation("listener_restart")
	}
}

func (s *Session) toIdle() {
	for {
		cur := s.State()
		if cur == Idle || s.transition(cur, Idle) {
			return
		}
	}
}

func (s *Session) transition(from, to State) bool {
	if !s.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	s.deps.Metrics.ObserveTransition(from.String(), to.String())
	return true
}

func (s *Session) isClosed() bool {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	return s.closed
}

// Shutdown stops the session: Idle, timer cancelled, listener stopped,
// streaming tasks cancelled or abandoned at ctx's deadline, turn loop joined.
// It never blocks past ctx.
func (s *Session) Shutdown(ctx context.Context) error {
	s.lifeMu.Lock()
	s.loopMu.Lock()
	if s.closed {
		s.loopMu.Unlock()
		s.lifeMu.Unlock()
		return nil
	}
	s.closed = true
	s.loopMu.Unlock()

	s.toIdle()
	s.timer.Cancel()
	s.deps.Listener.Stop()
	s.lifeMu.Unlock()

	s.cancel()

	var errs []error
	if s.deps.Executor != nil {
		if err := s.deps.Executor.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stream executor: %w", err))
		}
	}

	joined := make(chan struct{})
	go func() {
		s.loops.Wait()
		close(joined)
	}()
	select {
	case <-joined:
	case <-ctx.Done():
		log.Printf("conversation: turn loop did not exit before the shutdown deadline")
		errs = append(errs, fmt.Errorf("turn loop: %w", ctx.Err()))
	}
	return errors.Join(errs...)
}
