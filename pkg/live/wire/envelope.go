// Package wire defines the JSON envelope protocol spoken with the live
// generative-audio endpoint (BidiGenerateContent).
//
// Every message on the socket is one JSON object whose single top-level key
// names its kind. Outbound kinds implement [Outbound] and inbound kinds
// implement [Inbound]; both interfaces are sealed with an unexported method so
// the variant sets are closed to this package and every consumer switch is
// written against a known list. Binary audio travels base64-encoded inside the
// JSON, never as separate binary frames.
package wire

import "encoding/json"

// MIME types used for inline audio.
const (
	MIMETypeInputPCM  = "audio/pcm;rate=16000"
	MIMETypeOutputPCM = "audio/pcm;rate=24000"
)

// Response modalities accepted in [GenerationConfig].
const (
	ModalityAudio = "AUDIO"
	ModalityText  = "TEXT"
)

// Roles used in content turns.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Outbound is a client-to-server envelope.
type Outbound interface {
	outbound()
}

// Inbound is a server-to-client envelope.
type Inbound interface {
	inbound()
}

// ── Shared content types ─────────────────────────────────────────────────────

// Part is one piece of a content turn: either text or inline binary data.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData carries base64-encoded binary content.
type InlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Content is a role-tagged list of parts.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// ── Outbound ─────────────────────────────────────────────────────────────────

// Setup is the first and only setup message of a session.
type Setup struct {
	Model             string           `json:"model"`
	GenerationConfig  GenerationConfig `json:"generationConfig"`
	SystemInstruction *Content         `json:"systemInstruction,omitempty"`

	// Transcription toggles; present-but-empty objects enable them.
	InputAudioTranscription  *struct{} `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{} `json:"outputAudioTranscription,omitempty"`
}

// GenerationConfig holds the sampling parameters and requested voice.
type GenerationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	Temperature        *float64      `json:"temperature,omitempty"`
	TopP               *float64      `json:"topP,omitempty"`
	TopK               *int          `json:"topK,omitempty"`
	SpeechConfig       *SpeechConfig `json:"speechConfig,omitempty"`
}

// SpeechConfig selects the synthesised voice.
type SpeechConfig struct {
	VoiceConfig VoiceConfig `json:"voiceConfig"`
}

// VoiceConfig wraps a prebuilt voice selection.
type VoiceConfig struct {
	PrebuiltVoiceConfig PrebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

// PrebuiltVoiceConfig names a voice offered by the service.
type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

// RealtimeInput carries one captured audio block.
type RealtimeInput struct {
	Audio InlineData `json:"audio"`
}

// ClientContent injects text turns into the conversation.
type ClientContent struct {
	Turns        []Content `json:"turns"`
	TurnComplete bool      `json:"turnComplete"`
}

func (*Setup) outbound()         {}
func (*RealtimeInput) outbound() {}
func (*ClientContent) outbound() {}

// ── Inbound ──────────────────────────────────────────────────────────────────

// SetupComplete acknowledges the setup message.
type SetupComplete struct{}

// ServerContent carries model output and turn signals.
type ServerContent struct {
	ModelTurn           *Content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	GenerationComplete  bool           `json:"generationComplete,omitempty"`
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
}

// Transcription is a text rendering of input or output speech.
type Transcription struct {
	Text     string `json:"text"`
	Finished bool   `json:"finished,omitempty"`
}

// ToolCall is a function-call request from the model. This client logs it
// and does not execute anything.
type ToolCall struct {
	FunctionCalls []FunctionCall `json:"functionCalls"`
}

// FunctionCall is one requested invocation.
type FunctionCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// ToolCallCancellation withdraws earlier tool calls.
type ToolCallCancellation struct {
	IDs []string `json:"ids"`
}

// GoAway announces that the server will close the connection soon.
type GoAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

// ServerError is an error object sent in place of content.
type ServerError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	if e.Status != "" {
		return "live: " + e.Status + ": " + e.Message
	}
	return "live: " + e.Message
}

func (*SetupComplete) inbound()        {}
func (*ServerContent) inbound()        {}
func (*ToolCall) inbound()             {}
func (*ToolCallCancellation) inbound() {}
func (*GoAway) inbound()               {}
func (*ServerError) inbound()          {}
