package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	// ErrUnknownEnvelope is returned by [Decode] for well-formed JSON that
	// matches none of the known inbound kinds.
	ErrUnknownEnvelope = errors.New("wire: unknown envelope")

	// ErrMalformed is returned by [Decode] when the body is not a JSON object.
	ErrMalformed = errors.New("wire: malformed envelope")
)

// outboundMessage is the on-wire shape of every client message.
type outboundMessage struct {
	Setup         *Setup         `json:"setup,omitempty"`
	RealtimeInput *RealtimeInput `json:"realtimeInput,omitempty"`
	ClientContent *ClientContent `json:"clientContent,omitempty"`
}

// inboundMessage is the on-wire shape of every server message.
type inboundMessage struct {
	SetupComplete        *json.RawMessage      `json:"setupComplete,omitempty"`
	ServerContent        *ServerContent        `json:"serverContent,omitempty"`
	ToolCall             *ToolCall             `json:"toolCall,omitempty"`
	ToolCallCancellation *ToolCallCancellation `json:"toolCallCancellation,omitempty"`
	GoAway               *GoAway               `json:"goAway,omitempty"`
	Error                *ServerError          `json:"error,omitempty"`
}

// Encode marshals an outbound envelope into its JSON wire form.
func Encode(msg Outbound) ([]byte, error) {
	var m outboundMessage
	switch v := msg.(type) {
	case *Setup:
		m.Setup = v
	case *RealtimeInput:
		m.RealtimeInput = v
	case *ClientContent:
		m.ClientContent = v
	default:
		return nil, fmt.Errorf("wire: encode: unsupported envelope %T", msg)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("wire: encode: %w", err)
	}
	return data, nil
}

var utf8BOM = []byte{0xef, 0xbb, 0xbf}

// Decode parses one server message. It accepts the body of either a text or
// a binary frame: the live endpoint delivers JSON in binary frames on some
// transports, so a binary body is validated as UTF-8 and decoded the same way.
func Decode(body []byte) (Inbound, error) {
	body = bytes.TrimPrefix(body, utf8BOM)
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' || !utf8.Valid(body) {
		return nil, ErrMalformed
	}

	var m inboundMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	switch {
	case m.Error != nil:
		return m.Error, nil
	case m.SetupComplete != nil:
		return &SetupComplete{}, nil
	case m.ServerContent != nil:
		return m.ServerContent, nil
	case m.ToolCall != nil:
		return m.ToolCall, nil
	case m.ToolCallCancellation != nil:
		return m.ToolCallCancellation, nil
	case m.GoAway != nil:
		return m.GoAway, nil
	}
	return nil, ErrUnknownEnvelope
}

// ── Constructors ─────────────────────────────────────────────────────────────

// NewRealtimeAudio wraps base64 PCM data in a realtime input envelope.
func NewRealtimeAudio(mimeType, b64 string) *RealtimeInput {
	return &RealtimeInput{Audio: InlineData{MIMEType: mimeType, Data: b64}}
}

// NewUserText builds a single complete user turn carrying text.
func NewUserText(text string) *ClientContent {
	return &ClientContent{
		Turns: []Content{{
			Role:  RoleUser,
			Parts: []Part{{Text: text}},
		}},
		TurnComplete: true,
	}
}

// AudioParts returns the inline-data parts of a model turn in order.
func (sc *ServerContent) AudioParts() []InlineData {
	if sc.ModelTurn == nil {
		return nil
	}
	var out []InlineData
	for _, p := range sc.ModelTurn.Parts {
		if p.InlineData != nil && p.InlineData.Data != "" {
			out = append(out, *p.InlineData)
		}
	}
	return out
}

// PCMMIMEType returns the linear PCM MIME type for rate.
func PCMMIMEType(rate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(rate)
}

// SampleRateOf extracts the rate parameter of a PCM MIME type such as
// "audio/pcm;rate=24000". It returns def when the parameter is missing or
// invalid.
func SampleRateOf(mimeType string, def int) int {
	for _, param := range strings.Split(mimeType, ";")[1:] {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(k, "rate") {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return n
		}
	}
	return def
}
