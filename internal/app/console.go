package app

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/livetutor/pkg/audio"
	"github.com/MrWong99/livetutor/pkg/live/session"
)

// consoleTheme is the colour scheme of the transcript console.
type consoleTheme struct {
	User  lipgloss.Color
	Model lipgloss.Color
	Dim   lipgloss.Color
	Error lipgloss.Color
}

var defaultTheme = consoleTheme{
	User:  lipgloss.Color("#58a6ff"),
	Model: lipgloss.Color("#00ff9f"),
	Dim:   lipgloss.Color("#6e7681"),
	Error: lipgloss.Color("#ff5f5f"),
}

type consoleStyles struct {
	user   lipgloss.Style
	model  lipgloss.Style
	status lipgloss.Style
	err    lipgloss.Style
}

// Console renders the live conversation to a terminal. It implements
// [session.Listener]. Transcript deltas of one speaker are written on the
// same line until a final delta or a change of speaker.
type Console struct {
	styles consoleStyles

	mu      sync.Mutex
	w       io.Writer
	open    bool
	role    session.Role
	speaker bool

	level atomic.Uint64
}

var _ session.Listener = (*Console)(nil)

// NewConsole returns a Console writing to w. Colours are only emitted when w
// is a terminal.
func NewConsole(w io.Writer) *Console {
	r := lipgloss.NewRenderer(w)
	t := defaultTheme
	return &Console{
		w: w,
		styles: consoleStyles{
			user:   r.NewStyle().Bold(true).Foreground(t.User),
			model:  r.NewStyle().Bold(true).Foreground(t.Model),
			status: r.NewStyle().Foreground(t.Dim),
			err:    r.NewStyle().Bold(true).Foreground(t.Error),
		},
	}
}

// OnTranscript implements [session.Listener].
func (c *Console) OnTranscript(d session.TranscriptDelta) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open || c.role != d.Role {
		c.endLineLocked()
		label := c.styles.model.Render("Tutor:")
		if d.Role == session.RoleUser {
			label = c.styles.user.Render("You:")
		}
		fmt.Fprint(c.w, label, " ")
		c.open = true
		c.role = d.Role
	}
	fmt.Fprint(c.w, d.Text)
	if d.IsFinal {
		c.endLineLocked()
	}
}

// OnAudioChunk implements [session.Listener].
func (c *Console) OnAudioChunk([]byte) {}

// OnError implements [session.Listener].
func (c *Console) OnError(err error) {
	msg := "error: " + err.Error()
	switch {
	case session.IsKind(err, session.KindPermissionDenied):
		msg += " (check that the terminal may use the microphone)"
	case errors.Is(err, audio.ErrOutputUnavailable):
		msg += " (no playback device)"
	}
	c.println(c.styles.err.Render(msg))
}

// OnConnectionChange implements [session.Listener].
func (c *Console) OnConnectionChange(connected bool) {
	if connected {
		c.Status("● connected")
		return
	}
	c.Status("○ disconnected")
}

// OnModelSpeaking implements [session.Listener].
func (c *Console) OnModelSpeaking(speaking bool) {
	c.mu.Lock()
	c.speaker = speaking
	c.mu.Unlock()
}

// OnReady implements [session.Listener].
func (c *Console) OnReady() {
	c.Status("ready: speak, or type a message (/help for commands)")
}

// OnInputLevel implements [session.Listener].
func (c *Console) OnInputLevel(level float64) {
	c.level.Store(math.Float64bits(level))
}

// InputLevel returns the last reported microphone level in [0, 1].
func (c *Console) InputLevel() float64 {
	return math.Float64frombits(c.level.Load())
}

// ModelSpeaking reports whether the tutor is currently audible.
func (c *Console) ModelSpeaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaker
}

// Status prints a dimmed status line.
func (c *Console) Status(format string, args ...any) {
	c.println(c.styles.status.Render(fmt.Sprintf(format, args...)))
}

// Help prints the console commands.
func (c *Console) Help() {
	c.Status("commands: /resume  /reconnect  /help  /quit; any other line is sent as a message")
}

func (c *Console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLineLocked()
	fmt.Fprintln(c.w, s)
}

func (c *Console) endLineLocked() {
	if c.open {
		fmt.Fprintln(c.w)
		c.open = false
	}
}
