// Package core defines the core domain types and interfaces for the speech service.
package core

import "context"

// VoiceIdentity uniquely identifies a synthesis voice by the pair of on-disk
// files that define it. It is immutable once resolved and serves as the key
// for the in-memory voice cache.
type VoiceIdentity struct {
	ModelPath  string
	ConfigPath string
}

// SynthesisConfig holds the prosody parameters for a single synthesis request.
// A nil *SynthesisConfig means "use the engine's built-in defaults", which is
// distinct from a present config whose optional fields are individually unset.
type SynthesisConfig struct {
	SpeakerID      *int
	LengthScale    *float64
	NoiseScale     *float64
	NoiseWScale    *float64
	Volume         float64
	NormalizeAudio bool
}

// SpeechSynthesizer renders text to a single-channel WAV file on disk.
type SpeechSynthesizer interface {
	SynthesizeToFile(ctx context.Context, text, outputPath string, cfg *SynthesisConfig) error
}

// RecognitionModel is a loaded, reusable speech recognition model. Loading
// the model is the dominant cost; streams created from it are cheap and
// stateless across calls.
type RecognitionModel interface {
	NewStream(sampleRate int) (RecognitionStream, error)
	Dir() string
}

// RecognitionStream is an incremental recognizer for one audio stream.
// AcceptWaveform reports whether the recognizer finalized an utterance
// boundary. Result returns the most recently finalized utterance text;
// FinalResult flushes the remainder after end-of-stream.
type RecognitionStream interface {
	AcceptWaveform(data []byte) bool
	Result() string
	FinalResult() string
	Close()
}

// ObjectStore is a key-value blob store used to move audio payloads between
// the service and remote callers.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}
