package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/antoniostano/heygemini/internal/audio"
	"github.com/antoniostano/heygemini/internal/conversation"
	"github.com/antoniostano/heygemini/internal/observability"
	"github.com/antoniostano/heygemini/internal/protocol"
)

type probeOptions struct {
	baseURL        string
	turns          int
	texts          []string
	wavPaths       []string
	chunkMS        int
	realtime       float64
	turnTimeout    time.Duration
	interTurnDelay time.Duration
}

var defaultProbeUtterances = []string{
	"Reply in three words: how are you?",
	"Reply in three words: what is Go?",
	"Reply in three words: favourite colour?",
}

// probeClip is one replayed utterance: typed text, or PCM when pcm is set.
type probeClip struct {
	label      string
	text       string
	pcm        []byte
	sampleRate int
}

type turnResult struct {
	label      string
	firstDelta time.Duration
	total      time.Duration
	reply      string
}

// wsEnvelope is the union of every field the probe reads from server events.
type wsEnvelope struct {
	Type   protocol.MessageType `json:"type"`
	Sender string               `json:"sender"`
	Text   string               `json:"text"`
	Status string               `json:"status"`
	Code   string               `json:"code"`
	Detail string               `json:"detail"`
}

func newProbeCmd() *cobra.Command {
	var (
		opts     probeOptions
		textsRaw string
	)
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Replay utterances against a running assistant and report reply latency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.texts = splitTexts(textsRaw)
			if err := opts.validate(); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 8*time.Minute)
			defer cancel()
			return runProbe(ctx, cmd.OutOrStdout(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.baseURL, "base-url", "http://127.0.0.1:8080", "assistant base URL")
	f.IntVar(&opts.turns, "turns", 3, "number of turns to replay")
	f.StringVar(&textsRaw, "texts", "", "typed utterances separated by '|'")
	f.StringSliceVar(&opts.wavPaths, "wav", nil, "16-bit mono WAV files to replay as microphone audio instead of text")
	f.IntVar(&opts.chunkMS, "chunk-ms", 45, "audio chunk size in milliseconds")
	f.Float64Var(&opts.realtime, "realtime", 3.0, "chunk pacing multiplier (1.0=realtime)")
	f.DurationVar(&opts.turnTimeout, "turn-timeout", 30*time.Second, "how long to wait for each reply")
	f.DurationVar(&opts.interTurnDelay, "inter-turn", 200*time.Millisecond, "delay between turns")
	return cmd
}

func splitTexts(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func (o *probeOptions) validate() error {
	o.baseURL = strings.TrimRight(strings.TrimSpace(o.baseURL), "/")
	if o.baseURL == "" {
		return fmt.Errorf("--base-url is required")
	}
	if o.turns <= 0 {
		return fmt.Errorf("--turns must be > 0")
	}
	if o.chunkMS < 10 || o.chunkMS > 2000 {
		return fmt.Errorf("--chunk-ms must be in [10,2000]")
	}
	if o.realtime <= 0 {
		return fmt.Errorf("--realtime must be > 0")
	}
	if o.turnTimeout < time.Second {
		o.turnTimeout = time.Second
	}
	if len(o.texts) == 0 && len(o.wavPaths) == 0 {
		o.texts = append([]string(nil), defaultProbeUtterances...)
	}
	return nil
}

func loadClips(opts probeOptions) ([]probeClip, error) {
	var clips []probeClip
	for _, path := range opts.wavPaths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		seg, err := audio.DecodeWAV(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if len(seg.PCM) < audio.BytesPerSample {
			return nil, fmt.Errorf("%s: no audio", path)
		}
		clips = append(clips, probeClip{label: path, pcm: seg.PCM, sampleRate: seg.SampleRate})
	}
	if len(clips) > 0 {
		return clips, nil
	}
	for _, text := range opts.texts {
		clips = append(clips, probeClip{label: text, text: text})
	}
	return clips, nil
}

func runProbe(ctx context.Context, out io.Writer, opts probeOptions) error {
	clips, err := loadClips(opts)
	if err != nil {
		return fmt.Errorf("prepare utterances: %w", err)
	}
	wsURL, err := windowWSURL(opts.baseURL)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	events := make(chan wsEnvelope, 256)
	readErr := make(chan error, 1)
	go readLoop(conn, events, readErr)

	p := &prober{conn: conn, events: events, readErr: readErr, timeout: opts.turnTimeout}
	snap, err := p.await(func(ev wsEnvelope) bool { return ev.Type == protocol.TypeWindowSnapshot })
	if err != nil {
		return fmt.Errorf("await window snapshot: %w", err)
	}
	p.status = snap.Status
	fmt.Fprintf(out, "probe: connected to %s status=%q turns=%d\n", wsURL, snap.Status, opts.turns)

	results := make([]turnResult, 0, opts.turns)
	for i := 0; i < opts.turns; i++ {
		clip := clips[i%len(clips)]
		res, err := p.turn(clip, opts.chunkMS, opts.realtime)
		if err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		fmt.Fprintf(out, "probe: turn %d/%d first_delta=%s total=%s reply=%q\n",
			i+1, opts.turns, res.firstDelta.Round(time.Millisecond), res.total.Round(time.Millisecond), res.reply)
		results = append(results, res)
		if opts.interTurnDelay > 0 && i < opts.turns-1 {
			time.Sleep(opts.interTurnDelay)
		}
	}
	printProbeSummary(out, results)

	snapshot, err := fetchLatency(ctx, opts.baseURL)
	if err != nil {
		fmt.Fprintf(out, "probe: server latency unavailable: %v\n", err)
		return nil
	}
	printStageSnapshot(out, snapshot)
	return nil
}

type prober struct {
	conn    *websocket.Conn
	events  <-chan wsEnvelope
	readErr <-chan error
	timeout time.Duration
	status  string
	seq     int
}

// await consumes events until match accepts one, tracking the latest status.
func (p *prober) await(match func(wsEnvelope) bool) (wsEnvelope, error) {
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	for {
		select {
		case ev := <-p.events:
			if ev.Type == protocol.TypeStatus {
				p.status = ev.Text
			}
			if ev.Type == protocol.TypeErrorEvent {
				return ev, fmt.Errorf("server error %s: %s", ev.Code, ev.Detail)
			}
			if match(ev) {
				return ev, nil
			}
		case err := <-p.readErr:
			return wsEnvelope{}, err
		case <-timer.C:
			return wsEnvelope{}, fmt.Errorf("timeout after %s", p.timeout)
		}
	}
}

func listening(status string) bool {
	return status == conversation.StatusListeningCommand || status == conversation.StatusListeningFollow
}

func (p *prober) turn(clip probeClip, chunkMS int, realtime float64) (turnResult, error) {
	if !listening(p.status) {
		if err := p.conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeClientControl, Action: protocol.ActionWake}); err != nil {
			return turnResult{}, fmt.Errorf("send wake: %w", err)
		}
	}
	if !listening(p.status) {
		if _, err := p.await(func(wsEnvelope) bool { return listening(p.status) }); err != nil {
			return turnResult{}, fmt.Errorf("await listening: %w", err)
		}
	}

	started := time.Now()
	if clip.pcm != nil {
		if err := p.sendAudio(clip, chunkMS, realtime); err != nil {
			return turnResult{}, fmt.Errorf("send audio: %w", err)
		}
	} else if err := p.conn.WriteJSON(protocol.ClientText{Type: protocol.TypeClientText, Text: clip.text}); err != nil {
		return turnResult{}, fmt.Errorf("send text: %w", err)
	}

	res := turnResult{label: clip.label}
	end, err := p.await(func(ev wsEnvelope) bool {
		if ev.Type == protocol.TypeAssistantDelta && res.firstDelta == 0 {
			res.firstDelta = time.Since(started)
		}
		return ev.Type == protocol.TypeAssistantEnd
	})
	if err != nil {
		return turnResult{}, fmt.Errorf("await assistant_end: %w", err)
	}
	res.total = time.Since(started)
	res.reply = end.Text
	// The session publishes the follow-up status right after the reply.
	p.status = ""
	if _, err := p.await(func(ev wsEnvelope) bool { return ev.Type == protocol.TypeStatus }); err != nil {
		return turnResult{}, fmt.Errorf("await status: %w", err)
	}
	return res, nil
}

func (p *prober) sendAudio(clip probeClip, chunkMS int, realtime float64) error {
	for _, chunk := range chunkPCM(clip.pcm, clip.sampleRate, chunkMS) {
		p.seq++
		msg := protocol.ClientAudioChunk{
			Type:        protocol.TypeClientAudioChunk,
			Seq:         p.seq,
			PCM16Base64: base64.StdEncoding.EncodeToString(chunk),
			SampleRate:  clip.sampleRate,
			TSMs:        time.Now().UnixMilli(),
		}
		if err := p.conn.WriteJSON(msg); err != nil {
			return err
		}
		pause := time.Duration(float64(audio.PCMDuration(len(chunk), clip.sampleRate)) / realtime)
		if pause <= 0 {
			pause = 10 * time.Millisecond
		}
		time.Sleep(pause)
	}
	return nil
}

// chunkPCM splits PCM16LE mono audio into sample-aligned chunks of about chunkMS.
func chunkPCM(pcm []byte, sampleRate, chunkMS int) [][]byte {
	size := audio.BytesFor(time.Duration(chunkMS)*time.Millisecond, sampleRate)
	if size < audio.BytesPerSample {
		size = audio.BytesPerSample
	}
	size -= size % audio.BytesPerSample
	usable := len(pcm) - len(pcm)%audio.BytesPerSample
	var out [][]byte
	for off := 0; off < usable; off += size {
		end := off + size
		if end > usable {
			end = usable
		}
		out = append(out, pcm[off:end])
	}
	return out
}

func windowWSURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = ""
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, events chan<- wsEnvelope, readErr chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErr <- err:
			default:
			}
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		// Speech output is not needed for timing.
		if env.Type == protocol.TypeAssistantAudio {
			continue
		}
		events <- env
	}
}

func fetchLatency(ctx context.Context, baseURL string) (observability.TurnStageSnapshot, error) {
	var out observability.TurnStageSnapshot
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/perf/latency", nil)
	if err != nil {
		return out, err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	res, err := client.Do(req)
	if err != nil {
		return out, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return out, fmt.Errorf("HTTP %d", res.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

func printProbeSummary(out io.Writer, results []turnResult) {
	if len(results) == 0 {
		return
	}
	var first, total time.Duration
	for _, r := range results {
		first += r.firstDelta
		total += r.total
	}
	n := time.Duration(len(results))
	color.New(color.Bold).Fprintln(out, "client latency")
	fmt.Fprintf(out, "  turns=%d avg_first_delta=%s avg_total=%s\n",
		len(results), (first / n).Round(time.Millisecond), (total / n).Round(time.Millisecond))
}

func printStageSnapshot(out io.Writer, snap observability.TurnStageSnapshot) {
	color.New(color.Bold).Fprintln(out, "server stages")
	if len(snap.Stages) == 0 {
		fmt.Fprintln(out, "  no samples")
		return
	}
	for _, s := range snap.Stages {
		fmt.Fprintf(out, "  %-18s n=%-4d p50=%7.1fms p95=%7.1fms last=%7.1fms\n", s.Stage, s.Samples, s.P50MS, s.P95MS, s.LastMS)
	}
}
