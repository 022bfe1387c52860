package session

// Role identifies who produced a transcript delta.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// TranscriptDelta is one piece of conversation text. The client keeps no
// history; the receiver accumulates deltas if it needs to.
type TranscriptDelta struct {
	Role    Role
	Text    string
	IsFinal bool
}

// Listener receives session events. Methods are called from the session's
// internal goroutines with no lock held; implementations must not block for
// long and may call back into the Client.
type Listener interface {
	OnTranscript(d TranscriptDelta)
	OnAudioChunk(pcm []byte)
	OnError(err error)
	OnConnectionChange(connected bool)
	OnModelSpeaking(speaking bool)
	OnReady()
	OnInputLevel(level float64)
}

// Funcs adapts optional functions to a [Listener]. Nil fields are skipped.
type Funcs struct {
	Transcript       func(TranscriptDelta)
	AudioChunk       func([]byte)
	Error            func(error)
	ConnectionChange func(bool)
	ModelSpeaking    func(bool)
	Ready            func()
	InputLevel       func(float64)
}

var _ Listener = Funcs{}

func (f Funcs) OnTranscript(d TranscriptDelta) {
	if f.Transcript != nil {
		f.Transcript(d)
	}
}

func (f Funcs) OnAudioChunk(pcm []byte) {
	if f.AudioChunk != nil {
		f.AudioChunk(pcm)
	}
}

func (f Funcs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

func (f Funcs) OnConnectionChange(connected bool) {
	if f.ConnectionChange != nil {
		f.ConnectionChange(connected)
	}
}

func (f Funcs) OnModelSpeaking(speaking bool) {
	if f.ModelSpeaking != nil {
		f.ModelSpeaking(speaking)
	}
}

func (f Funcs) OnReady() {
	if f.Ready != nil {
		f.Ready()
	}
}

func (f Funcs) OnInputLevel(level float64) {
	if f.InputLevel != nil {
		f.InputLevel(level)
	}
}
