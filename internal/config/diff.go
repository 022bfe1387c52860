package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// LogLevelChanged is applied immediately.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PromptChanged takes effect on the next connect.
	PromptChanged bool

	// LiveChanged covers model, voice and sampling parameters; it takes
	// effect on the next connect.
	LiveChanged bool

	// RestartRequired lists changed sections that are only read at startup.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.PromptChanged && !d.LiveChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Prompt != new.Prompt {
		d.PromptChanged = true
	}
	if !liveEqual(old.Live, new.Live) {
		d.LiveChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.LogFormat != new.Server.LogFormat {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !audioEqual(old.Audio, new.Audio) {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Session != new.Session {
		d.RestartRequired = append(d.RestartRequired, "session")
	}
	if old.ContextAPI != new.ContextAPI {
		d.RestartRequired = append(d.RestartRequired, "context_api")
	}
	return d
}

func liveEqual(a, b LiveConfig) bool {
	return a.APIKey == b.APIKey &&
		a.BaseURL == b.BaseURL &&
		a.Model == b.Model &&
		a.Voice == b.Voice &&
		ptrEqual(a.Temperature, b.Temperature) &&
		ptrEqual(a.TopP, b.TopP) &&
		ptrEqual(a.TopK, b.TopK) &&
		a.InputTranscription == b.InputTranscription &&
		a.OutputTranscription == b.OutputTranscription &&
		a.FullDuplex == b.FullDuplex
}

func audioEqual(a, b AudioConfig) bool {
	return a.BlockSize == b.BlockSize &&
		a.LevelInterval == b.LevelInterval &&
		a.LevelGain == b.LevelGain &&
		Enabled(a.EchoCancellation) == Enabled(b.EchoCancellation) &&
		Enabled(a.NoiseSuppression) == Enabled(b.NoiseSuppression) &&
		Enabled(a.AutoGainControl) == Enabled(b.AutoGainControl) &&
		a.OutputFrames == b.OutputFrames
}

// ptrEqual compares the pointed-to values; two nil pointers are equal.
func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
