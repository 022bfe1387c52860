// Package transport carries live-session envelopes over a persistent
// websocket connection.
//
// A [Conn] is a thin, concurrency-safe wrapper around a
// [github.com/coder/websocket] connection that sends text frames, reports
// whether each received frame was text or binary, and keeps the connection
// alive with periodic pings until it is closed.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	// DefaultBaseURL is the public websocket root of the live endpoint.
	DefaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	bidiPath = "/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	defaultKeepaliveInterval = 20 * time.Second
	defaultKeepaliveTimeout  = 5 * time.Second

	// Model audio arrives base64-encoded inside JSON; a single message can be
	// far larger than the library's 32 KiB default.
	defaultReadLimit = 16 << 20
)

// ErrClosed is returned by Send and Receive after Close.
var ErrClosed = errors.New("transport: connection closed")

// Message is one received frame.
type Message struct {
	// Binary is true when the frame arrived as a binary websocket message.
	Binary bool
	Data   []byte
}

// Conn is a bidirectional message connection.
type Conn interface {
	// Send writes data as one text frame.
	Send(ctx context.Context, data []byte) error

	// Receive blocks until the next frame arrives, ctx is cancelled, or the
	// connection fails.
	Receive(ctx context.Context) (Message, error)

	// Close terminates the connection. Safe to call more than once.
	Close() error
}

// DialFunc opens a Conn to url.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// EndpointURL builds the BidiGenerateContent URL under base with the API key
// as the key query parameter.
func EndpointURL(base, apiKey string) string {
	if base == "" {
		base = DefaultBaseURL
	}
	return strings.TrimRight(base, "/") + bidiPath + "?key=" + url.QueryEscape(apiKey)
}

// ── Options ────────────────────────────────────────────────────────────────────

// Option configures Dial.
type Option func(*options)

type options struct {
	keepaliveInterval time.Duration
	keepaliveTimeout  time.Duration
	readLimit         int64
	header            http.Header
	httpClient        *http.Client
}

// WithKeepalive overrides the ping interval and per-ping timeout. A
// non-positive interval disables pings.
func WithKeepalive(interval, timeout time.Duration) Option {
	return func(o *options) {
		o.keepaliveInterval = interval
		o.keepaliveTimeout = timeout
	}
}

// WithReadLimit sets the maximum accepted message size in bytes.
func WithReadLimit(n int64) Option {
	return func(o *options) { o.readLimit = n }
}

// WithHeader adds HTTP headers to the upgrade request.
func WithHeader(h http.Header) Option {
	return func(o *options) { o.header = h }
}

// WithHTTPClient sets the client used for the upgrade request.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// Dialer returns a DialFunc that applies opts to every connection.
func Dialer(opts ...Option) DialFunc {
	return func(ctx context.Context, url string) (Conn, error) {
		return Dial(ctx, url, opts...)
	}
}

// ── Dial ───────────────────────────────────────────────────────────────────────

// Dial opens a websocket connection to url.
//
// ctx bounds only the handshake; the returned Conn lives until Close.
func Dial(ctx context.Context, url string, opts ...Option) (Conn, error) {
	o := options{
		keepaliveInterval: defaultKeepaliveInterval,
		keepaliveTimeout:  defaultKeepaliveTimeout,
		readLimit:         defaultReadLimit,
	}
	for _, opt := range opts {
		opt(&o)
	}

	header := http.Header{"Content-Type": []string{"application/json"}}
	for k, v := range o.header {
		header[k] = v
	}

	ws, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: header,
		HTTPClient: o.httpClient,
	})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("transport: dial: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("transport: dial: %w", err)
	}
	ws.SetReadLimit(o.readLimit)

	connCtx, cancel := context.WithCancel(context.Background())
	c := &conn{
		ws:     ws,
		ctx:    connCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if o.keepaliveInterval > 0 {
		go c.keepaliveLoop(o.keepaliveInterval, o.keepaliveTimeout)
	} else {
		close(c.done)
	}
	return c, nil
}

// conn implements Conn over a websocket.
type conn struct {
	ws     *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

var _ Conn = (*conn)(nil)

func (c *conn) Send(ctx context.Context, data []byte) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	ctx, stop := mergeCancel(ctx, c.ctx)
	defer stop()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		if c.ctx.Err() != nil {
			return ErrClosed
		}
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}

func (c *conn) Receive(ctx context.Context) (Message, error) {
	if c.ctx.Err() != nil {
		return Message{}, ErrClosed
	}
	ctx, stop := mergeCancel(ctx, c.ctx)
	defer stop()

	typ, data, err := c.ws.Read(ctx)
	if err != nil {
		if c.ctx.Err() != nil {
			return Message{}, ErrClosed
		}
		return Message{}, fmt.Errorf("transport: receive: %w", err)
	}
	return Message{Binary: typ == websocket.MessageBinary, Data: data}, nil
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done
		err := c.ws.Close(websocket.StatusNormalClosure, "session closed")
		if err != nil && !isClosedErr(err) {
			c.closeErr = fmt.Errorf("transport: close: %w", err)
		}
	})
	return c.closeErr
}

func (c *conn) keepaliveLoop(interval, timeout time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, timeout)
			_ = c.ws.Ping(pingCtx)
			cancel()
		}
	}
}

// CloseStatus reports the websocket close code carried by err, or -1.
func CloseStatus(err error) int {
	return int(websocket.CloseStatus(err))
}

func isClosedErr(err error) bool {
	var ce websocket.CloseError
	return errors.As(err, &ce) || errors.Is(err, net.ErrClosed)
}

// mergeCancel returns a context that is done when either parent or other is.
func mergeCancel(parent, other context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(other, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
