package speech_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/speech"
)

const testSampleRate = 16000

// fakeStream scripts the recognizer: AcceptWaveform reports an utterance
// boundary on exactly one call index (0 means never).
type fakeStream struct {
	boundaryAt  int
	resultText  string
	finalText   string
	acceptCalls int
	bytesFed    int
	closed      bool
}

func (s *fakeStream) AcceptWaveform(data []byte) bool {
	s.acceptCalls++
	s.bytesFed += len(data)

	return s.boundaryAt != 0 && s.acceptCalls == s.boundaryAt
}

func (s *fakeStream) Result() string      { return s.resultText }
func (s *fakeStream) FinalResult() string { return s.finalText }
func (s *fakeStream) Close()              { s.closed = true }

type fakeModel struct {
	stream         *fakeStream
	newStreamCalls int
	sampleRate     int
}

func (m *fakeModel) NewStream(sampleRate int) (core.RecognitionStream, error) {
	m.newStreamCalls++
	m.sampleRate = sampleRate

	return m.stream, nil
}

func (m *fakeModel) Dir() string { return "fake-model" }

// writeWAV writes a PCM WAV file of the given shape filled with silence.
func writeWAV(t *testing.T, path string, numChannels, bitDepth, frames int) {
	t.Helper()

	file, err := os.Create(path)
	require.NoError(t, err)

	encoder := wav.NewEncoder(file, testSampleRate, bitDepth, numChannels, 1)

	buffer := &audio.IntBuffer{
		Data: make([]int, frames*numChannels),
		Format: &audio.Format{
			NumChannels: numChannels,
			SampleRate:  testSampleRate,
		},
		SourceBitDepth: bitDepth,
	}

	require.NoError(t, encoder.Write(buffer))
	require.NoError(t, encoder.Close())
	require.NoError(t, file.Close())
}

func TestTranscribe_JoinsUtteranceFragments(t *testing.T) {
	t.Parallel()

	audioPath := filepath.Join(t.TempDir(), "speech.wav")
	writeWAV(t, audioPath, 1, 16, 9000)

	stream := &fakeStream{boundaryAt: 1, resultText: "hello", finalText: "world"}
	model := &fakeModel{stream: stream}

	text, err := speech.Transcribe(audioPath, model)
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)

	// 9000 frames arrive as chunks of 4000, 4000, and 1000.
	assert.Equal(t, 3, stream.acceptCalls)
	assert.Equal(t, 9000*2, stream.bytesFed)
	assert.Equal(t, testSampleRate, model.sampleRate)
	assert.True(t, stream.closed)
}

func TestTranscribe_FinalResultAlone(t *testing.T) {
	t.Parallel()

	audioPath := filepath.Join(t.TempDir(), "speech.wav")
	writeWAV(t, audioPath, 1, 16, 4000)

	stream := &fakeStream{finalText: "just the tail"}
	model := &fakeModel{stream: stream}

	text, err := speech.Transcribe(audioPath, model)
	require.NoError(t, err)
	assert.Equal(t, "just the tail", text)
}

func TestTranscribe_EmptyFragmentsAreDropped(t *testing.T) {
	t.Parallel()

	audioPath := filepath.Join(t.TempDir(), "speech.wav")
	writeWAV(t, audioPath, 1, 16, 8000)

	// A boundary whose Result is empty must not produce doubled spaces.
	stream := &fakeStream{boundaryAt: 1, resultText: "", finalText: "tail"}
	model := &fakeModel{stream: stream}

	text, err := speech.Transcribe(audioPath, model)
	require.NoError(t, err)
	assert.Equal(t, "tail", text)
}

func TestTranscribe_SilenceYieldsNoSpeechSentinel(t *testing.T) {
	t.Parallel()

	audioPath := filepath.Join(t.TempDir(), "silence.wav")
	writeWAV(t, audioPath, 1, 16, 4000)

	stream := &fakeStream{}
	model := &fakeModel{stream: stream}

	text, err := speech.Transcribe(audioPath, model)
	require.NoError(t, err)
	assert.Equal(t, speech.NoSpeechResult, text)
}

func TestTranscribe_StereoIsRejectedBeforeRecognition(t *testing.T) {
	t.Parallel()

	audioPath := filepath.Join(t.TempDir(), "stereo.wav")
	writeWAV(t, audioPath, 2, 16, 4000)

	model := &fakeModel{stream: &fakeStream{}}

	text, err := speech.Transcribe(audioPath, model)
	require.NoError(t, err)
	assert.Equal(t, speech.FormatMismatchResult, text)
	assert.Zero(t, model.newStreamCalls, "format mismatch must not touch the recognizer")
}

func TestTranscribe_EightBitIsRejected(t *testing.T) {
	t.Parallel()

	audioPath := filepath.Join(t.TempDir(), "8bit.wav")
	writeWAV(t, audioPath, 1, 8, 4000)

	model := &fakeModel{stream: &fakeStream{}}

	text, err := speech.Transcribe(audioPath, model)
	require.NoError(t, err)
	assert.Equal(t, speech.FormatMismatchResult, text)
	assert.Zero(t, model.newStreamCalls)
}

func TestTranscribe_MissingFileFails(t *testing.T) {
	t.Parallel()

	model := &fakeModel{stream: &fakeStream{}}

	_, err := speech.Transcribe(filepath.Join(t.TempDir(), "missing.wav"), model)
	require.Error(t, err)
	assert.Zero(t, model.newStreamCalls)
}

func TestTranscribe_NonWavFileFails(t *testing.T) {
	t.Parallel()

	audioPath := filepath.Join(t.TempDir(), "not-audio.wav")
	require.NoError(t, os.WriteFile(audioPath, []byte("plain text"), 0o600))

	model := &fakeModel{stream: &fakeStream{}}

	_, err := speech.Transcribe(audioPath, model)
	require.Error(t, err)
	assert.Zero(t, model.newStreamCalls)
}
