// Package app wires the livetutor subsystems into a running voice client.
//
// The App owns the full lifecycle: New builds the session client, context
// source and observability plumbing from the config; Run connects, greets the
// student, serves the console and the operations endpoints, and reconnects
// after transport failures; Shutdown disconnects.
//
// For testing, inject doubles via functional options (WithBackend,
// WithSessionOptions, WithInput, ...). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/livetutor/internal/config"
	"github.com/MrWong99/livetutor/internal/contextapi"
	"github.com/MrWong99/livetutor/internal/observe"
	"github.com/MrWong99/livetutor/pkg/audio"
	"github.com/MrWong99/livetutor/pkg/audio/capture"
	"github.com/MrWong99/livetutor/pkg/audio/portaudio"
	"github.com/MrWong99/livetutor/pkg/live/session"
)

// disconnectTimeout bounds the final Disconnect when Run returns.
const disconnectTimeout = 5 * time.Second

// ContextSource returns the conversation context for a segment.
// *contextapi.Client implements it.
type ContextSource interface {
	Fetch(ctx context.Context, segmentID string) (contextapi.Context, error)
}

type eventKind int

const (
	eventReady eventKind = iota
	eventFailed
)

type event struct {
	kind eventKind
	err  error
}

// App owns all subsystem lifetimes of one livetutor process.
type App struct {
	segment     string
	backend     audio.Backend
	contexts    ContextSource
	metrics     *observe.Metrics
	console     *Console
	input       io.Reader
	levels      *slog.LevelVar
	watchPath   string
	watcher     *config.Watcher
	sessOpts    []session.Option
	reconnector *Reconnector

	events chan event

	mu       sync.Mutex
	cfg      *config.Config
	pending  *config.Config
	client   *session.Client
	current  contextapi.Context
	greeted  bool
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithBackend injects the audio backend instead of PortAudio.
func WithBackend(b audio.Backend) Option {
	return func(a *App) { a.backend = b }
}

// WithContextSource injects the context source instead of one built from
// context_api.
func WithContextSource(s ContextSource) Option {
	return func(a *App) { a.contexts = s }
}

// WithSessionOptions passes extra options to every session client.
func WithSessionOptions(opts ...session.Option) Option {
	return func(a *App) { a.sessOpts = append(a.sessOpts, opts...) }
}

// WithMetrics sets the metrics instruments. The default is
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithInput sets the console input. The default is os.Stdin.
func WithInput(r io.Reader) Option {
	return func(a *App) { a.input = r }
}

// WithOutput sets the console output. The default is os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.console = NewConsole(w) }
}

// WithLevelVar lets config reloads change the log level of the process.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levels = lv }
}

// WithConfigWatch hot-reloads the config file at path while Run is active.
func WithConfigWatch(path string) Option {
	return func(a *App) { a.watchPath = path }
}

// New creates an App for segment. cfg must already be validated.
func New(cfg *config.Config, segment string, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		segment: segment,
		input:   os.Stdin,
		events:  make(chan event, 8),
	}
	for _, o := range opts {
		o(a)
	}

	if a.console == nil {
		a.console = NewConsole(os.Stdout)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.backend == nil {
		a.backend = portaudio.New(portaudio.WithOutputFrames(cfg.Audio.OutputFrames))
	}
	if a.contexts == nil && cfg.ContextAPI.BaseURL != "" {
		api := cfg.ContextAPI
		a.contexts = contextapi.NewClient(api.BaseURL, api.Timeout,
			contextapi.WithCache(contextapi.NewCache(api.CacheTTL, nil)),
			contextapi.WithBreaker(contextapi.NewBreaker(api.FailureThreshold, api.ResetTimeout, nil)),
			contextapi.WithMetrics(a.metrics),
		)
	}
	if cfg.Session.Reconnect.Enabled {
		a.reconnector = NewReconnector(cfg.Session.Reconnect)
	}
	if a.watchPath != "" {
		w, err := config.NewWatcher(a.watchPath, a.onConfigChange)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.watcher = w
	}

	a.client = a.newClient(cfg)
	return a, nil
}

// SessionConfig maps the file configuration onto the session client's.
func SessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		APIKey:              cfg.Live.APIKey,
		BaseURL:             cfg.Live.BaseURL,
		Model:               cfg.Live.Model,
		Voice:               cfg.Live.Voice,
		Temperature:         cfg.Live.Temperature,
		TopP:                cfg.Live.TopP,
		TopK:                cfg.Live.TopK,
		InputTranscription:  cfg.Live.InputTranscription,
		OutputTranscription: cfg.Live.OutputTranscription,
		FullDuplex:          cfg.Live.FullDuplex,
		SettleDelay:         cfg.Session.SettleDelay,
		GreetingSuppression: cfg.Session.GreetingSuppression,
		TurnCompleteMargin:  cfg.Session.TurnCompleteMargin,
		SetupTimeout:        cfg.Session.SetupTimeout,
		ConnectTimeout:      cfg.Session.ConnectTimeout,
		Capture: capture.Config{
			SampleRate:    audio.InputSampleRate,
			BlockSize:     cfg.Audio.BlockSize,
			LevelInterval: cfg.Audio.LevelInterval,
			LevelGain:     cfg.Audio.LevelGain,
		},
		EchoCancellation: config.Enabled(cfg.Audio.EchoCancellation),
		NoiseSuppression: config.Enabled(cfg.Audio.NoiseSuppression),
		AutoGainControl:  config.Enabled(cfg.Audio.AutoGainControl),
	}
}

func (a *App) newClient(cfg *config.Config) *session.Client {
	opts := append([]session.Option{
		session.WithMetrics(a.metrics),
		session.WithTracer(observe.Tracer()),
	}, a.sessOpts...)
	return session.New(SessionConfig(cfg), a.backend, &listener{Console: a.console, app: a}, opts...)
}

// Client returns the current session client.
func (a *App) Client() *session.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client
}

// State returns the state of the current session client.
func (a *App) State() session.State {
	return a.Client().State()
}

// listener forwards session callbacks to the console and turns the ones the
// run loop reacts to into events.
type listener struct {
	*Console
	app *App
}

func (l *listener) OnReady() {
	l.Console.OnReady()
	l.app.notify(event{kind: eventReady})
}

func (l *listener) OnError(err error) {
	l.Console.OnError(err)
	if l.app.State() == session.StateError {
		l.app.notify(event{kind: eventFailed, err: err})
	}
}

func (a *App) notify(ev event) {
	select {
	case a.events <- ev:
	default:
		slog.Warn("app: event queue full, dropping event", "kind", ev.kind)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run connects the session and blocks until ctx is cancelled, the user types
// /quit, or the session fails for good. Operations endpoints and the config
// watcher run alongside and stop with it.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	runCtx, stop := context.WithCancel(gctx)
	defer stop()

	if addr := a.config().Server.ListenAddr; addr != "" {
		a.serveOps(runCtx, g, addr)
	}
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(runCtx) })
	}
	g.Go(func() error {
		defer stop()
		return a.loop(runCtx)
	})

	return g.Wait()
}

func (a *App) loop(ctx context.Context) error {
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		a.Client().Disconnect(dctx)
	}()

	lines := a.readLines(ctx)
	if err := a.connect(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev := <-a.events:
			switch ev.kind {
			case eventReady:
				a.greet(ctx)
			case eventFailed:
				if a.State() != session.StateError {
					continue
				}
				if a.reconnector == nil {
					return ev.err
				}
				if err := a.reconnector.Run(ctx, a.reconnect); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
			}

		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if quit := a.handleLine(ctx, line); quit {
				return nil
			}
		}
	}
}

// connect fetches the context and opens a new session. A failed fetch is
// reported like a connection error before any device or socket is opened.
func (a *App) connect(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, "app.connect",
		trace.WithAttributes(attribute.String("segment.id", a.segment)))
	defer span.End()
	log := observe.Logger(ctx, nil)

	cc, err := a.fetchContext(ctx)
	if err != nil {
		err = &session.Error{Kind: session.KindTransport, Op: "fetch context", Err: err}
		span.RecordError(err)
		log.Warn("app: context unavailable", "segment", a.segment, "err", err)
		a.console.OnError(err)
		return err
	}

	a.mu.Lock()
	a.current = cc
	if a.pending != nil {
		a.cfg = a.pending
		a.pending = nil
		a.client = a.newClient(a.cfg)
		log.Info("app: applied new live settings", "model", a.cfg.Live.Model, "voice", a.cfg.Live.Voice)
	}
	client := a.client
	a.mu.Unlock()

	return client.Connect(ctx, session.Context{
		SystemInstruction: cc.SystemInstruction,
		ContextText:       cc.ContextText,
		VoiceID:           cc.VoiceID,
	})
}

func (a *App) reconnect(ctx context.Context) error {
	a.Client().Disconnect(ctx)
	return a.connect(ctx)
}

func (a *App) fetchContext(ctx context.Context) (contextapi.Context, error) {
	if a.contexts == nil {
		p := a.config().Prompt
		return contextapi.Context{
			SystemInstruction:    p.SystemInstruction,
			ContextText:          p.ContextText,
			IntroductionPrompt:   p.IntroductionPrompt,
			TransitionBackPrompt: p.TransitionBackPrompt,
		}, nil
	}
	cc, err := a.contexts.Fetch(ctx, a.segment)
	if err != nil {
		return contextapi.Context{}, fmt.Errorf("segment %q: %w", a.segment, err)
	}
	return cc, nil
}

// greet sends the voice-only kick-off prompt: the introduction on the first
// ready session, the transition-back prompt after a reconnect.
func (a *App) greet(ctx context.Context) {
	a.mu.Lock()
	prompt := a.current.TransitionBackPrompt
	if !a.greeted {
		prompt = a.current.IntroductionPrompt
	}
	a.greeted = true
	a.mu.Unlock()

	if strings.TrimSpace(prompt) == "" {
		return
	}
	if err := a.Client().SendVoiceOnlyGreeting(ctx, prompt); err != nil {
		slog.Warn("app: send greeting", "err", err)
	}
}

func (a *App) config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// ─── Console input ───────────────────────────────────────────────────────────

func (a *App) readLines(ctx context.Context) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(a.input)
		for sc.Scan() {
			select {
			case ch <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// handleLine executes one console line and reports whether to quit.
func (a *App) handleLine(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
	case line == "/quit" || line == "/exit":
		return true
	case line == "/help":
		a.console.Help()
	case line == "/resume":
		a.mu.Lock()
		prompt := a.current.TransitionBackPrompt
		a.mu.Unlock()
		if prompt == "" {
			a.console.Status("no transition prompt for this segment")
			return false
		}
		if err := a.Client().SendVoiceOnlyGreeting(ctx, prompt); err != nil {
			a.console.Status("cannot resume: %v", err)
		}
	case line == "/reconnect":
		if err := a.reconnect(ctx); err != nil && !errors.Is(err, session.ErrAborted) {
			slog.Warn("app: manual reconnect failed", "err", err)
		}
	case strings.HasPrefix(line, "/"):
		a.console.Status("unknown command %s (try /help)", line)
	default:
		if err := a.Client().SendTextMessage(ctx, line); err != nil {
			a.console.Status("not sent: %v", err)
		}
	}
	return false
}

// ─── Config reload ───────────────────────────────────────────────────────────

func (a *App) onConfigChange(_, newCfg *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.levels != nil {
		a.levels.Set(d.NewLogLevel.SlogLevel())
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}

	a.mu.Lock()
	switch {
	case d.LiveChanged:
		a.pending = newCfg
	case d.PromptChanged:
		a.cfg = newCfg
	}
	a.mu.Unlock()

	if d.LiveChanged {
		a.console.Status("live settings changed; type /reconnect to apply")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("app: config sections changed that need a restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown disconnects the session. It is safe to call more than once and
// after Run returned.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "session_id", a.Client().SessionID())
		a.Client().Disconnect(ctx)
	})
	return ctx.Err()
}
