package wire

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestEncode_Setup(t *testing.T) {
	t.Parallel()

	temp := 0.7
	msg := &Setup{
		Model: "models/gemini-live",
		GenerationConfig: GenerationConfig{
			ResponseModalities: []string{ModalityAudio},
			Temperature:        &temp,
			SpeechConfig: &SpeechConfig{VoiceConfig: VoiceConfig{
				PrebuiltVoiceConfig: PrebuiltVoiceConfig{VoiceName: "Puck"},
			}},
		},
		SystemInstruction: &Content{Parts: []Part{{Text: "be kind"}}},
	}
	data, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(raw) != 1 {
		t.Fatalf("top-level keys = %d, want 1: %s", len(raw), data)
	}
	setup, ok := raw["setup"]
	if !ok {
		t.Fatalf("missing setup key: %s", data)
	}
	if setup["model"] != "models/gemini-live" {
		t.Errorf("model = %v", setup["model"])
	}
	gc := setup["generationConfig"].(map[string]any)
	if gc["temperature"] != 0.7 {
		t.Errorf("temperature = %v", gc["temperature"])
	}
	if _, ok := gc["topK"]; ok {
		t.Error("unset topK should be omitted")
	}
	if !strings.Contains(string(data), `"voiceName":"Puck"`) {
		t.Errorf("voice missing: %s", data)
	}
}

func TestEncode_RealtimeInput(t *testing.T) {
	t.Parallel()

	data, err := Encode(NewRealtimeAudio(MIMETypeInputPCM, "AAAA"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := `{"realtimeInput":{"audio":{"mimeType":"audio/pcm;rate=16000","data":"AAAA"}}}`
	if string(data) != want {
		t.Errorf("got  %s\nwant %s", data, want)
	}
}

func TestEncode_ClientContent(t *testing.T) {
	t.Parallel()

	data, err := Encode(NewUserText("hello"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := `{"clientContent":{"turns":[{"role":"user","parts":[{"text":"hello"}]}],"turnComplete":true}}`
	if string(data) != want {
		t.Errorf("got  %s\nwant %s", data, want)
	}
}

func TestDecode_Kinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{"setup complete", `{"setupComplete":{}}`, "*wire.SetupComplete"},
		{"server content", `{"serverContent":{"turnComplete":true}}`, "*wire.ServerContent"},
		{"tool call", `{"toolCall":{"functionCalls":[{"id":"1","name":"f"}]}}`, "*wire.ToolCall"},
		{"tool cancel", `{"toolCallCancellation":{"ids":["1"]}}`, "*wire.ToolCallCancellation"},
		{"go away", `{"goAway":{"timeLeft":"5s"}}`, "*wire.GoAway"},
		{"error", `{"error":{"code":400,"message":"bad"}}`, "*wire.ServerError"},
		{"bom prefix", "\ufeff{\"setupComplete\":{}}", "*wire.SetupComplete"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg, err := Decode([]byte(tt.body))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got := typeName(msg); got != tt.want {
				t.Errorf("type = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecode_ServerContentFields(t *testing.T) {
	t.Parallel()

	body := `{"serverContent":{
		"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"AQI="}},{"text":"hi"},{"inlineData":{"mimeType":"audio/pcm","data":"AwQ="}}]},
		"interrupted":true,
		"inputTranscription":{"text":"hello"},
		"outputTranscription":{"text":"hi there"}}}`
	msg, err := Decode([]byte(body))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	sc := msg.(*ServerContent)
	if !sc.Interrupted || sc.TurnComplete {
		t.Errorf("flags: interrupted=%v turnComplete=%v", sc.Interrupted, sc.TurnComplete)
	}
	parts := sc.AudioParts()
	if len(parts) != 2 || parts[0].Data != "AQI=" || parts[1].Data != "AwQ=" {
		t.Errorf("audio parts = %+v", parts)
	}
	if sc.InputTranscription.Text != "hello" || sc.OutputTranscription.Text != "hi there" {
		t.Errorf("transcriptions = %+v / %+v", sc.InputTranscription, sc.OutputTranscription)
	}
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	if _, err := Decode([]byte(`{"somethingNew":{}}`)); !errors.Is(err, ErrUnknownEnvelope) {
		t.Errorf("unknown: err = %v, want ErrUnknownEnvelope", err)
	}
	for _, body := range []string{"", "[]", "not json", "{\"serverContent\":", "\xff\xfe{}"} {
		if _, err := Decode([]byte(body)); !errors.Is(err, ErrMalformed) {
			t.Errorf("Decode(%q) err = %v, want ErrMalformed", body, err)
		}
	}
}

func TestServerError_Error(t *testing.T) {
	t.Parallel()

	e := &ServerError{Code: 403, Message: "denied", Status: "PERMISSION_DENIED"}
	if got := e.Error(); got != "live: PERMISSION_DENIED: denied" {
		t.Errorf("Error() = %q", got)
	}
}

func TestAudioParts_NoModelTurn(t *testing.T) {
	t.Parallel()

	if got := (&ServerContent{}).AudioParts(); got != nil {
		t.Errorf("AudioParts = %v, want nil", got)
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *SetupComplete:
		return "*wire.SetupComplete"
	case *ServerContent:
		return "*wire.ServerContent"
	case *ToolCall:
		return "*wire.ToolCall"
	case *ToolCallCancellation:
		return "*wire.ToolCallCancellation"
	case *GoAway:
		return "*wire.GoAway"
	case *ServerError:
		return "*wire.ServerError"
	}
	return "unknown"
}

func TestSampleRateOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mime string
		want int
	}{
		{"audio/pcm;rate=24000", 24000},
		{"audio/pcm; rate=16000", 16000},
		{"audio/pcm;RATE=8000", 8000},
		{"audio/pcm", 24000},
		{"audio/pcm;rate=abc", 24000},
		{"audio/pcm;rate=-5", 24000},
		{"", 24000},
	}
	for _, tt := range tests {
		if got := SampleRateOf(tt.mime, 24000); got != tt.want {
			t.Errorf("SampleRateOf(%q) = %d, want %d", tt.mime, got, tt.want)
		}
	}
	if got := PCMMIMEType(16000); got != MIMETypeInputPCM {
		t.Errorf("PCMMIMEType(16000) = %q", got)
	}
}
