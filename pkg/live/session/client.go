// Package session implements the client side of a real-time voice
// conversation with a live generative-audio model.
//
// A [Client] owns at most one connection at a time. Connect acquires the
// output engine, the microphone and the socket in that order and sends a
// single setup envelope; once the server acknowledges setup the capture
// pipeline starts forwarding microphone blocks and model audio is scheduled
// gaplessly on the output clock. Disconnect tears everything down in a fixed
// order and is safe to call from any state, including while Connect is still
// in flight.
//
// Events are delivered through a [Listener]. The client keeps no transcript
// history.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/livetutor/pkg/audio"
	"github.com/MrWong99/livetutor/pkg/audio/capture"
	"github.com/MrWong99/livetutor/pkg/audio/playback"
	"github.com/MrWong99/livetutor/pkg/live/transport"
	"github.com/MrWong99/livetutor/pkg/live/wire"
)

const (
	tracerName = "github.com/MrWong99/livetutor/pkg/live/session"

	// outboxSize bounds queued outbound messages. Capture blocks are dropped
	// when the queue is full; text turns wait.
	outboxSize = 32

	releaseTimeout = 5 * time.Second
)

// Client is a live voice session client. All methods are safe for concurrent
// use.
type Client struct {
	cfg      Config
	backend  audio.Backend
	listener Listener
	dial     transport.DialFunc
	metrics  Metrics
	log      *slog.Logger
	tracer   trace.Tracer

	mu    sync.Mutex
	state State
	sess  *session

	// failed is the last session that ended in StateError. Its release may
	// still be running when Disconnect is called.
	failed *session
}

// session holds everything owned by one connection. Resource fields are
// attached under Client.mu while the session is current and read by release
// after it has been detached.
type session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger
	outbox chan []byte

	output audio.OutputEngine
	sched  *playback.Scheduler
	input  audio.InputDevice
	pipe   *capture.Pipeline
	conn   transport.Conn

	setupTimer    *time.Timer
	turnTimer     *time.Timer
	turnGen       uint64
	suppressUntil time.Time

	releaseOnce sync.Once
	released    chan struct{}
}

// New creates a Client. backend supplies the audio devices; l receives
// events and may be nil.
func New(cfg Config, backend audio.Backend, l Listener, opts ...Option) *Client {
	if l == nil {
		l = Funcs{}
	}
	c := &Client{
		cfg:      cfg,
		backend:  backend,
		listener: l,
		dial:     transport.Dialer(),
		metrics:  nopMetrics{},
		log:      slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the id of the current connection, or "" when there is
// none.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.id
}

// ── Connect ───────────────────────────────────────────────────────────────────

// Connect opens a new connection using cc as the conversation context.
//
// It is only legal from [StateDisconnected]; in any other state it returns
// [ErrInvalidState] and has no effect. On success the setup envelope has been
// sent and the client waits in [StateConnecting] for the server's
// acknowledgement, after which [Listener.OnReady] fires. On failure every
// acquired resource is released, the client moves to [StateError], the error
// is reported once through [Listener.OnError] and returned as an [*Error].
//
// If Disconnect runs while Connect is in progress, Connect releases what it
// acquired and returns [ErrAborted].
func (c *Client) Connect(ctx context.Context, cc Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: connect from %s", ErrInvalidState, st)
	}
	s := c.newSession()
	c.sess = s
	c.failed = nil
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	ctx, span := c.tracer.Start(ctx, "session.connect", trace.WithAttributes(
		attribute.String("session.id", s.id),
		attribute.String("session.model", c.cfg.Model),
	))
	defer span.End()

	start := time.Now()
	err := c.connect(ctx, s, cc)
	c.metrics.RecordConnect(ctx, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if !errors.Is(err, ErrAborted) {
			c.fail(s, err)
		}
		return err
	}
	return nil
}

func (c *Client) newSession() *session {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &session{
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		log:    c.log.With("session_id", id),
		outbox:   make(chan []byte, outboxSize),
		released: make(chan struct{}),
	}
}

func (c *Client) connect(ctx context.Context, s *session, cc Context) error {
	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}
	// Disconnect cancels s.ctx, which aborts any acquisition still in flight.
	ctx, cancel := context.WithCancel(ctx)
	defer context.AfterFunc(s.ctx, cancel)()
	defer cancel()

	out, err := c.backend.OpenOutput(ctx)
	if err != nil {
		return c.acquireErr(s, KindDevice, "open output", err)
	}
	if !c.attach(s, func() {
		s.output = out
		s.sched = playback.New(out)
	}) {
		closeCtx, done := context.WithTimeout(context.Background(), releaseTimeout)
		defer done()
		_ = out.Close(closeCtx)
		return ErrAborted
	}

	in, err := c.backend.OpenInput(ctx, c.cfg.captureConfig())
	if err != nil {
		kind := KindPermissionDenied
		if errors.Is(err, context.DeadlineExceeded) {
			kind = KindTransport
			err = fmt.Errorf("connect timeout: %w", err)
		}
		return c.acquireErr(s, kind, "open input", err)
	}
	if !c.attach(s, func() { s.input = in }) {
		_ = in.Close()
		return ErrAborted
	}

	conn, err := c.dial(ctx, transport.EndpointURL(c.cfg.BaseURL, c.cfg.APIKey))
	if err != nil {
		return c.acquireErr(s, KindTransport, "dial", err)
	}
	if !c.attach(s, func() { s.conn = conn }) {
		_ = conn.Close()
		return ErrAborted
	}

	data, err := wire.Encode(c.setupMessage(cc))
	if err != nil {
		return &Error{Kind: KindTransport, Op: "encode setup", Err: err}
	}
	if err := conn.Send(ctx, data); err != nil {
		return c.acquireErr(s, KindTransport, "send setup", err)
	}

	if !c.attach(s, func() {
		go c.receiveLoop(s)
		go c.writeLoop(s)
		if c.cfg.SetupTimeout > 0 {
			s.setupTimer = time.AfterFunc(c.cfg.SetupTimeout, func() { c.setupTimedOut(s) })
		}
	}) {
		return ErrAborted
	}

	s.log.Info("session: setup sent", "model", c.cfg.Model, "voice", c.voice(cc))
	return nil
}

func (c *Client) setupMessage(cc Context) *wire.Setup {
	msg := &wire.Setup{
		Model: c.cfg.Model,
		GenerationConfig: wire.GenerationConfig{
			ResponseModalities: []string{wire.ModalityAudio},
			Temperature:        c.cfg.Temperature,
			TopP:               c.cfg.TopP,
			TopK:               c.cfg.TopK,
		},
	}
	if v := c.voice(cc); v != "" {
		msg.GenerationConfig.SpeechConfig = &wire.SpeechConfig{
			VoiceConfig: wire.VoiceConfig{
				PrebuiltVoiceConfig: wire.PrebuiltVoiceConfig{VoiceName: v},
			},
		}
	}
	if text := cc.instruction(); text != "" {
		msg.SystemInstruction = &wire.Content{Parts: []wire.Part{{Text: text}}}
	}
	if c.cfg.InputTranscription {
		msg.InputAudioTranscription = &struct{}{}
	}
	if c.cfg.OutputTranscription {
		msg.OutputAudioTranscription = &struct{}{}
	}
	return msg
}

func (c *Client) voice(cc Context) string {
	if cc.VoiceID != "" {
		return cc.VoiceID
	}
	return c.cfg.Voice
}

// attach runs fn under the lock if s is still the current session.
func (c *Client) attach(s *session, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != s {
		return false
	}
	fn()
	return true
}

func (c *Client) isCurrent(s *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess == s
}

func (c *Client) acquireErr(s *session, kind Kind, op string, err error) error {
	if !c.isCurrent(s) {
		return ErrAborted
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func (c *Client) setupTimedOut(s *session) {
	c.mu.Lock()
	pending := c.sess == s && c.state == StateConnecting
	c.mu.Unlock()
	if pending {
		c.fail(s, &Error{Kind: KindSetupRejected, Op: "await setup", Err: ErrSetupTimeout})
	}
}

// fail moves a current session to StateError, releases its resources and
// reports err once. It is a no-op for a session that is no longer current.
func (c *Client) fail(s *session, err error) {
	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.sess = nil
	c.failed = s
	c.setStateLocked(StateError)
	c.mu.Unlock()

	s.log.Error("session: failed", "err", err, "state", prev)

	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	s.release(ctx)

	c.listener.OnError(err)
	if prev.Connected() {
		c.listener.OnConnectionChange(false)
	}
	if prev == StateModelSpeaking {
		c.listener.OnModelSpeaking(false)
	}
}

// ── Disconnect ────────────────────────────────────────────────────────────────

// Disconnect ends the current connection and returns the client to
// [StateDisconnected]. It is idempotent, safe from every state and never
// fails: teardown errors are logged at debug level. ctx bounds the wait for
// the output engine to close and the settling delay. From [StateError] it
// waits for the failed session's teardown to finish.
//
// Teardown order: capture pipeline, input device, socket, playback
// scheduler, output engine, then [Config.SettleDelay].
func (c *Client) Disconnect(ctx context.Context) {
	c.mu.Lock()
	s := c.sess
	failed := c.failed
	prev := c.state
	c.sess = nil
	c.failed = nil
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if prev == StateDisconnected {
		return
	}
	if s != nil {
		s.release(ctx)
		s.log.Info("session: disconnected", "state", prev)
	}
	if failed != nil {
		failed.awaitRelease(ctx)
	}

	if prev.Connected() {
		c.listener.OnConnectionChange(false)
	}
	if prev == StateModelSpeaking {
		c.listener.OnModelSpeaking(false)
	}

	if c.cfg.SettleDelay > 0 {
		t := time.NewTimer(c.cfg.SettleDelay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
	}
}

// release tears the session down in order. Only the first call has effect.
func (s *session) release(ctx context.Context) {
	s.releaseOnce.Do(func() {
		defer close(s.released)

		if s.setupTimer != nil {
			s.setupTimer.Stop()
		}
		if s.turnTimer != nil {
			s.turnTimer.Stop()
		}

		if s.pipe != nil {
			s.pipe.Stop()
		}
		if s.input != nil {
			if err := s.input.Close(); err != nil {
				s.log.Debug("session: close input", "err", err)
			}
		}

		// Cancelling first detaches the loops so the close below is not
		// reported as a transport failure.
		s.cancel()
		if s.conn != nil {
			if err := s.conn.Close(); err != nil {
				s.log.Debug("session: close socket", "err", err)
			}
		}

		if s.sched != nil {
			s.sched.StopAll()
		}
		if s.output != nil {
			if err := s.output.Close(ctx); err != nil {
				s.log.Debug("session: close output", "err", err)
			}
		}
	})
}

// awaitRelease blocks until a release started elsewhere has finished or ctx
// is done.
func (s *session) awaitRelease(ctx context.Context) {
	select {
	case <-s.released:
	case <-ctx.Done():
		s.log.Debug("session: gave up waiting for release", "err", ctx.Err())
	}
}

// ── Outbound ──────────────────────────────────────────────────────────────────

// SendTextMessage sends text as a complete user turn and reports it as a
// final user transcript delta.
func (c *Client) SendTextMessage(ctx context.Context, text string) error {
	s, err := c.connectedSession()
	if err != nil {
		return err
	}
	if err := c.sendText(ctx, s, text); err != nil {
		return err
	}
	c.transcript(s, TranscriptDelta{Role: RoleUser, Text: text, IsFinal: true})
	return nil
}

// SendVoiceOnlyGreeting sends text exactly like SendTextMessage but mutes
// transcript callbacks for [Config.GreetingSuppression], so a synthetic
// kick-off prompt and the start of the reply stay out of the visible
// conversation.
func (c *Client) SendVoiceOnlyGreeting(ctx context.Context, text string) error {
	s, err := c.connectedSession()
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.sess == s {
		s.suppressUntil = time.Now().Add(c.cfg.GreetingSuppression)
	}
	c.mu.Unlock()
	return c.sendText(ctx, s, text)
}

func (c *Client) connectedSession() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || !c.state.Connected() {
		return nil, ErrNotConnected
	}
	return c.sess, nil
}

func (c *Client) sendText(ctx context.Context, s *session, text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("session: empty message")
	}
	data, err := wire.Encode(wire.NewUserText(text))
	if err != nil {
		return err
	}
	select {
	case s.outbox <- data:
		return nil
	case <-s.ctx.Done():
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writeLoop drains the outbox onto the socket so every outbound message
// after setup leaves in call order.
func (c *Client) writeLoop(s *session) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case data := <-s.outbox:
			if err := s.conn.Send(s.ctx, data); err != nil {
				if s.ctx.Err() != nil {
					return
				}
				c.fail(s, &Error{Kind: KindTransport, Op: "send", Err: err})
				return
			}
		}
	}
}

// gate reports whether captured audio is forwarded for s right now.
func (c *Client) gate(s *session) func() bool {
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.sess == s && c.state.AcceptsAudio(c.cfg.FullDuplex)
	}
}

func (c *Client) sendAudio(s *session) func(audio.Frame) {
	return func(f audio.Frame) {
		data, err := wire.Encode(wire.NewRealtimeAudio(wire.PCMMIMEType(f.SampleRate()), f.Base64()))
		if err != nil {
			return
		}
		select {
		case s.outbox <- data:
			c.metrics.RecordFrameSent(s.ctx, f.Len())
		case <-s.ctx.Done():
		default:
			s.log.Debug("session: outbox full, dropping capture block")
		}
	}
}

func (c *Client) reportLevel(s *session) func(float64) {
	return func(level float64) {
		if c.isCurrent(s) {
			c.listener.OnInputLevel(level)
		}
	}
}

// ── Inbound ───────────────────────────────────────────────────────────────────

// receiveLoop reads and dispatches server messages in arrival order until the
// session is released or the socket fails.
func (c *Client) receiveLoop(s *session) {
	for {
		m, err := s.conn.Receive(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				return
			}
			kind := KindTransport
			if c.State() == StateConnecting {
				kind = KindSetupRejected
			}
			c.fail(s, &Error{Kind: kind, Op: "receive", Err: err})
			return
		}

		msg, err := wire.Decode(m.Data)
		if err != nil {
			reason := "malformed"
			if errors.Is(err, wire.ErrUnknownEnvelope) {
				reason = "unknown"
			}
			s.log.Warn("session: dropping inbound message", "err", err, "binary", m.Binary, "bytes", len(m.Data))
			c.metrics.RecordDecodeError(s.ctx, reason)
			continue
		}
		if !c.isCurrent(s) {
			return
		}
		c.dispatch(s, msg)
	}
}

func (c *Client) dispatch(s *session, msg wire.Inbound) {
	switch v := msg.(type) {
	case *wire.SetupComplete:
		c.handleSetupComplete(s)
	case *wire.ServerContent:
		c.handleServerContent(s, v)
	case *wire.ToolCall:
		names := make([]string, 0, len(v.FunctionCalls))
		for _, fc := range v.FunctionCalls {
			names = append(names, fc.Name)
		}
		s.log.Info("session: ignoring tool call", "functions", names)
	case *wire.ToolCallCancellation:
		s.log.Debug("session: tool call cancelled", "ids", v.IDs)
	case *wire.GoAway:
		s.log.Warn("session: server going away", "time_left", v.TimeLeft)
		c.reportError(s, &Error{Kind: KindTransport, Op: "go away", Err: fmt.Errorf("server closing connection in %s", v.TimeLeft)})
	case *wire.ServerError:
		if c.State() == StateConnecting {
			c.fail(s, &Error{Kind: KindSetupRejected, Op: "setup", Err: v})
			return
		}
		s.log.Warn("session: server error", "code", v.Code, "status", v.Status, "message", v.Message)
		c.reportError(s, &Error{Kind: KindTransport, Op: "server", Err: v})
	default:
		s.log.Warn("session: unhandled envelope", "type", fmt.Sprintf("%T", msg))
	}
}

// reportError delivers a non-fatal error for a current session.
func (c *Client) reportError(s *session, err error) {
	if c.isCurrent(s) {
		c.listener.OnError(err)
	}
}

func (c *Client) handleSetupComplete(s *session) {
	c.mu.Lock()
	if c.sess != s || c.state != StateConnecting {
		c.mu.Unlock()
		s.log.Warn("session: unexpected setupComplete")
		return
	}
	if s.setupTimer != nil {
		s.setupTimer.Stop()
	}
	c.setStateLocked(StateReady)
	pipe := capture.New(s.input, c.cfg.Capture, c.gate(s), c.sendAudio(s), c.reportLevel(s))
	s.pipe = pipe
	c.mu.Unlock()

	if err := pipe.Start(); err != nil {
		c.fail(s, &Error{Kind: KindPermissionDenied, Op: "start capture", Err: err})
		return
	}

	s.log.Info("session: ready")
	c.listener.OnConnectionChange(true)
	c.listener.OnReady()
}

func (c *Client) handleServerContent(s *session, sc *wire.ServerContent) {
	if parts := sc.AudioParts(); len(parts) > 0 {
		c.handleAudio(s, parts)
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.Text != "" {
				s.log.Debug("session: model text part", "len", len(p.Text))
			}
		}
	}

	if t := sc.InputTranscription; t != nil && t.Text != "" {
		c.transcript(s, TranscriptDelta{Role: RoleUser, Text: t.Text, IsFinal: t.Finished})
	}
	if t := sc.OutputTranscription; t != nil && t.Text != "" {
		c.transcript(s, TranscriptDelta{Role: RoleModel, Text: t.Text, IsFinal: t.Finished})
	}

	// Interruption wins over a turnComplete carried in the same message.
	switch {
	case sc.Interrupted:
		c.handleInterrupted(s)
	case sc.TurnComplete:
		c.scheduleTurnComplete(s)
	}
}

func (c *Client) handleAudio(s *session, parts []wire.InlineData) {
	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return
	}
	// New audio supersedes a pending end-of-turn transition.
	s.turnGen++
	if s.turnTimer != nil {
		s.turnTimer.Stop()
		s.turnTimer = nil
	}
	started := false
	if c.state == StateReady || c.state == StateListening {
		c.setStateLocked(StateModelSpeaking)
		started = true
	}
	c.mu.Unlock()

	if started {
		c.listener.OnModelSpeaking(true)
	}

	for _, p := range parts {
		raw, err := audio.DecodeBase64(p.Data)
		if err != nil {
			s.log.Warn("session: dropping audio part", "err", err)
			c.metrics.RecordDecodeError(s.ctx, "audio")
			continue
		}
		c.metrics.RecordChunkReceived(s.ctx, len(raw))
		c.listener.OnAudioChunk(raw)

		buf := audio.PCM16ToFloat(raw, wire.SampleRateOf(p.MIMEType, audio.OutputSampleRate))
		if _, err := s.sched.Enqueue(buf); err != nil {
			s.log.Warn("session: schedule audio", "err", err)
		}
	}
}

// handleInterrupted stops all playback and returns to listening at once.
func (c *Client) handleInterrupted(s *session) {
	s.sched.StopAll()

	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return
	}
	s.turnGen++
	if s.turnTimer != nil {
		s.turnTimer.Stop()
		s.turnTimer = nil
	}
	wasSpeaking := c.state == StateModelSpeaking
	if c.state.Connected() {
		c.setStateLocked(StateListening)
	}
	c.mu.Unlock()

	s.log.Debug("session: interrupted", "was_speaking", wasSpeaking)
	c.metrics.RecordBargeIn(s.ctx)
	if wasSpeaking {
		c.listener.OnModelSpeaking(false)
	}
}

// scheduleTurnComplete arranges the transition to listening for the moment
// all scheduled audio has played, plus the configured margin.
func (c *Client) scheduleTurnComplete(s *session) {
	delay := time.Duration((s.sched.FinishTime()-s.sched.Now())*float64(time.Second)) + c.cfg.TurnCompleteMargin

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != s {
		return
	}
	s.turnGen++
	gen := s.turnGen
	if s.turnTimer != nil {
		s.turnTimer.Stop()
	}
	s.turnTimer = time.AfterFunc(delay, func() { c.completeTurn(s, gen) })
}

func (c *Client) completeTurn(s *session, gen uint64) {
	c.mu.Lock()
	if c.sess != s || s.turnGen != gen {
		c.mu.Unlock()
		return
	}
	// The output clock can lag wall time; wait for the scheduler to drain.
	if !s.sched.HasFinished() {
		c.mu.Unlock()
		c.scheduleTurnComplete(s)
		return
	}
	s.turnTimer = nil
	wasSpeaking := c.state == StateModelSpeaking
	if c.state.Connected() {
		c.setStateLocked(StateListening)
	}
	c.mu.Unlock()

	if wasSpeaking {
		c.listener.OnModelSpeaking(false)
	}
}

// transcript delivers d unless s is stale or inside a greeting window.
func (c *Client) transcript(s *session, d TranscriptDelta) {
	c.mu.Lock()
	ok := c.sess == s && !time.Now().Before(s.suppressUntil)
	c.mu.Unlock()
	if ok {
		c.listener.OnTranscript(d)
	}
}

// setStateLocked records a transition. c.mu must be held.
func (c *Client) setStateLocked(to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.log.Debug("session: state change", "from", from, "to", to)
	c.metrics.RecordStateChange(context.Background(), from, to)
}
