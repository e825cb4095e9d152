package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/book-expert/logger"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/params"
	"github.com/book-expert/speech-service/internal/protocol"
	"github.com/book-expert/speech-service/internal/provision"
	"github.com/book-expert/speech-service/internal/server"
	"github.com/book-expert/speech-service/internal/speech"
)

type stubSynthesizer struct {
	lastCfg *core.SynthesisConfig
}

func (s *stubSynthesizer) SynthesizeToFile(
	_ context.Context, _, outputPath string, cfg *core.SynthesisConfig,
) error {
	s.lastCfg = cfg

	return os.WriteFile(outputPath, []byte("RIFF"), 0o600)
}

type stubStream struct {
	finalText string
}

func (s *stubStream) AcceptWaveform([]byte) bool { return false }
func (s *stubStream) Result() string             { return "" }
func (s *stubStream) FinalResult() string        { return s.finalText }
func (s *stubStream) Close()                     {}

type stubModel struct {
	finalText string
}

func (m *stubModel) NewStream(int) (core.RecognitionStream, error) {
	return &stubStream{finalText: m.finalText}, nil
}

func (m *stubModel) Dir() string { return "stub-model" }

type noDownloader struct{}

func (noDownloader) Download(_ context.Context, _, _ string) error {
	return os.ErrNotExist
}

// newTestServer builds a server whose models are pre-provisioned fakes. With
// recognitionReady false the recognition model is unreachable, so warmup
// fails while synthesis still works.
func newTestServer(t *testing.T, recognitionReady bool) (*server.Server, *stubSynthesizer) {
	t.Helper()

	log, err := logger.New(t.TempDir(), "server-test.log")
	require.NoError(t, err)

	modelsDir := t.TempDir()
	voice := provision.DefaultVoice
	require.NoError(t, os.WriteFile(filepath.Join(modelsDir, voice+".onnx"), []byte("m"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(modelsDir, voice+".onnx.json"), []byte("{}"), 0o600))

	recognitionDir := t.TempDir()
	if !recognitionReady {
		recognitionDir = filepath.Join(recognitionDir, "missing")
	}

	env := map[string]string{
		provision.EnvVoskModelPath: recognitionDir,
	}
	lookup := func(name string) string { return env[name] }

	synth := &stubSynthesizer{}

	voices := provision.NewVoiceProvisioner(modelsDir, lookup, noDownloader{}, log)
	recognition := provision.NewRecognitionProvisioner(t.TempDir(), "", lookup, noDownloader{}, log)
	cache := speech.NewVoiceCache(func(core.VoiceIdentity) (core.SpeechSynthesizer, error) {
		return synth, nil
	})
	loadRecognition := func(string) (core.RecognitionModel, error) {
		return &stubModel{finalText: "hello from stub"}, nil
	}

	svc := speech.NewService(
		params.NewResolver(lookup), voices, recognition, cache, loadRecognition, log,
	)

	return server.New(svc, log), synth
}

// serve runs a full session over the given input and returns the response
// lines.
func serve(t *testing.T, srv *server.Server, input string) []string {
	t.Helper()

	var out bytes.Buffer

	err := srv.Serve(context.Background(), strings.NewReader(input), &out)
	require.NoError(t, err)

	raw := strings.TrimRight(out.String(), "\n")
	if raw == "" {
		return nil
	}

	return strings.Split(raw, "\n")
}

func writeMonoWAV(t *testing.T, path string) {
	t.Helper()

	file, err := os.Create(path)
	require.NoError(t, err)

	encoder := wav.NewEncoder(file, 16000, 16, 1, 1)
	buffer := &audio.IntBuffer{
		Data:           make([]int, 4000),
		Format:         &audio.Format{NumChannels: 1, SampleRate: 16000},
		SourceBitDepth: 16,
	}

	require.NoError(t, encoder.Write(buffer))
	require.NoError(t, encoder.Close())
	require.NoError(t, file.Close())
}

func TestServe_UnknownCmdExactLine(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, true)

	lines := serve(t, srv, `{"id":"1","cmd":"ping"}`+"\n")
	require.Len(t, lines, 1)
	assert.Equal(t, `{"id":"1","ok":false,"error":"Unknown cmd: ping"}`, lines[0])
}

func TestServe_UnknownCmdIsLowercasedAndTrimmed(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, true)

	lines := serve(t, srv, `{"id":"1","cmd":"  PiNg "}`+"\n")
	require.Len(t, lines, 1)

	var response protocol.Response
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &response))
	assert.Equal(t, "Unknown cmd: ping", response.Error)
}

func TestServe_InvalidJSONKeepsLoopAlive(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, true)

	input := "this is not json\n" + `{"id":"2","cmd":"warmup"}` + "\n"

	lines := serve(t, srv, input)
	require.Len(t, lines, 2)

	assert.True(t, strings.HasPrefix(lines[0], `{"id":null,"ok":false,`),
		"a parse failure has no id to echo")

	var second protocol.Response
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.True(t, second.OK)
	assert.Equal(t, speech.WarmupResult, second.Result)
}

func TestServe_BlankLinesProduceNoResponse(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, true)

	input := "\n   \n\t\n" + `{"id":"3","cmd":"warmup"}` + "\n\n"

	lines := serve(t, srv, input)
	require.Len(t, lines, 1)
}

func TestServe_WarmupResponse(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, true)

	lines := serve(t, srv, `{"id":"w","cmd":"warmup"}`+"\n")
	require.Len(t, lines, 1)
	assert.Equal(t, `{"id":"w","ok":true,"result":"OK"}`, lines[0])
}

func TestServe_TTSRoundTrip(t *testing.T) {
	t.Parallel()

	srv, synth := newTestServer(t, true)
	outputPath := filepath.Join(t.TempDir(), "out.wav")

	request, err := json.Marshal(map[string]any{
		"id":          "t1",
		"cmd":         "tts",
		"text":        "hello",
		"output_path": outputPath,
		"speaker_id":  "3",
	})
	require.NoError(t, err)

	lines := serve(t, srv, string(request)+"\n")
	require.Len(t, lines, 1)

	var response protocol.Response
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &response))
	assert.True(t, response.OK)
	assert.Equal(t, outputPath, response.OutputPath)
	assert.Empty(t, response.Text)
	assert.Empty(t, response.Result)

	// The string-typed speaker id reaches the engine as an integer.
	require.NotNil(t, synth.lastCfg)
	require.NotNil(t, synth.lastCfg.SpeakerID)
	assert.Equal(t, 3, *synth.lastCfg.SpeakerID)
}

func TestServe_TTSWithoutOutputPathFails(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, true)

	lines := serve(t, srv, `{"id":"t2","cmd":"tts","text":"hello"}`+"\n")
	require.Len(t, lines, 1)

	var response protocol.Response
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &response))
	assert.False(t, response.OK)
	assert.NotEmpty(t, response.Error)
}

func TestServe_STTRoundTrip(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, true)
	audioPath := filepath.Join(t.TempDir(), "speech.wav")
	writeMonoWAV(t, audioPath)

	request, err := json.Marshal(map[string]any{
		"id":         "s1",
		"cmd":        "stt",
		"audio_path": audioPath,
	})
	require.NoError(t, err)

	lines := serve(t, srv, string(request)+"\n")
	require.Len(t, lines, 1)

	var response protocol.Response
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &response))
	assert.True(t, response.OK)
	assert.Equal(t, "hello from stub", response.Text)
	assert.Empty(t, response.OutputPath)
}

func TestServe_RequestsAnsweredInOrder(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, true)

	input := `{"id":"a","cmd":"warmup"}` + "\n" +
		`{"id":"b","cmd":"nope"}` + "\n" +
		`{"id":"c","cmd":"warmup"}` + "\n"

	lines := serve(t, srv, input)
	require.Len(t, lines, 3)

	for i, wantID := range []string{"a", "b", "c"} {
		var response protocol.Response

		require.NoError(t, json.Unmarshal([]byte(lines[i]), &response))
		require.NotNil(t, response.ID)
		assert.Equal(t, wantID, *response.ID)
	}
}

func TestServe_StartupWarmupFailureDoesNotBlockServing(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, false)

	// The implicit startup warmup fails (recognition model missing) but the
	// loop must still answer requests that do not need that model.
	lines := serve(t, srv, `{"id":"1","cmd":"ping"}`+"\n")
	require.Len(t, lines, 1)
	assert.Equal(t, `{"id":"1","ok":false,"error":"Unknown cmd: ping"}`, lines[0])
}

func TestHandle_MissingIDEchoesNull(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, true)

	response := srv.Handle(context.Background(), protocol.Request{Cmd: "bogus"})

	data, err := json.Marshal(response)
	require.NoError(t, err)
	assert.Equal(t, `{"id":null,"ok":false,"error":"Unknown cmd: bogus"}`, string(data))
}
