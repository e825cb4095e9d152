// Package vosk adapts the Vosk recognition engine to the service's
// incremental recognition interfaces.
package vosk

import (
	"encoding/json"
	"fmt"

	voskapi "github.com/alphacep/vosk-api/go"

	"github.com/book-expert/speech-service/internal/core"
)

// Model wraps a loaded Vosk model together with the directory that produced
// it. At most one instance lives in process memory at a time; loading is the
// dominant cost and the model is stateless across calls.
type Model struct {
	model *voskapi.VoskModel
	dir   string
}

// LoadModel loads the recognition model from an unpacked model directory.
func LoadModel(dir string) (*Model, error) {
	model, err := voskapi.NewModel(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load recognition model from %s: %w", dir, err)
	}

	return &Model{
		model: model,
		dir:   dir,
	}, nil
}

// Dir returns the model directory this handle was loaded from.
func (m *Model) Dir() string {
	return m.dir
}

// NewStream creates an incremental recognizer for one audio stream at the
// given sample rate.
func (m *Model) NewStream(sampleRate int) (core.RecognitionStream, error) {
	recognizer, err := voskapi.NewRecognizer(m.model, float64(sampleRate))
	if err != nil {
		return nil, fmt.Errorf("failed to create recognizer at %d Hz: %w", sampleRate, err)
	}

	return &stream{recognizer: recognizer}, nil
}

// stream adapts a Vosk recognizer to core.RecognitionStream.
type stream struct {
	recognizer *voskapi.VoskRecognizer
}

func (s *stream) AcceptWaveform(data []byte) bool {
	return s.recognizer.AcceptWaveform(data) != 0
}

func (s *stream) Result() string {
	return textField(s.recognizer.Result())
}

func (s *stream) FinalResult() string {
	return textField(s.recognizer.FinalResult())
}

func (s *stream) Close() {
	s.recognizer.Free()
}

// resultPayload is the subset of the Vosk JSON result the service consumes.
type resultPayload struct {
	Text string `json:"text"`
}

// textField extracts the "text" field from a Vosk JSON result. Unparsable
// payloads yield the empty string, which downstream treats as "no speech".
func textField(raw string) string {
	var payload resultPayload

	err := json.Unmarshal([]byte(raw), &payload)
	if err != nil {
		return ""
	}

	return payload.Text
}
