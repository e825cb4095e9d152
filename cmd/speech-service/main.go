// main package for the speech-service
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/speech-service/internal/config"
	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/engine/piper"
	"github.com/book-expert/speech-service/internal/engine/vosk"
	"github.com/book-expert/speech-service/internal/objectstore"
	"github.com/book-expert/speech-service/internal/params"
	"github.com/book-expert/speech-service/internal/pathutil"
	"github.com/book-expert/speech-service/internal/provision"
	"github.com/book-expert/speech-service/internal/server"
	"github.com/book-expert/speech-service/internal/speech"
	"github.com/book-expert/speech-service/internal/worker"
)

// Invocation modes.
const (
	modeTTS    = "tts"
	modeSTT    = "stt"
	modeWarmup = "warmup"
	modeServe  = "serve"
	modeWorker = "worker"
)

// Positional argument counts.
const (
	minArgsTTS = 1
	minArgsSTT = 1
)

const usageText = `usage: speech-service <mode> [args]

  tts <text> [output.wav [voice [style [speaker_id]]]]
  stt <audio.wav>
  warmup
  serve
  worker
`

// Static errors.
var (
	ErrMissingMode  = errors.New("missing mode argument")
	ErrUnknownMode  = errors.New("unknown mode")
	ErrMissingText  = errors.New("tts requires a text argument")
	ErrMissingAudio = errors.New("stt requires an audio path argument")
	ErrBadSpeakerID = errors.New("speaker_id argument must be an integer")
)

func main() {
	err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	// A local .env is a convenience for development setups; absence is
	// the normal case.
	_ = godotenv.Load()

	bootstrapLog, err := logger.New(os.TempDir(), "speech-service-bootstrap.log")
	if err != nil {
		return fmt.Errorf("failed to create bootstrap logger: %w", err)
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(cfg.Paths.BaseLogsDir, "speech-service.log")
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usageText)

		return ErrMissingMode
	}

	svc := buildService(cfg, log)

	return dispatchMode(cfg, svc, log, args[0], args[1:])
}

// resolveModelsDir prefers an already populated directory, checking the
// configured location first and the user cache second. When neither exists
// yet the configured location wins and is created on first provisioning.
func resolveModelsDir(configured string, cacheSubdirs ...string) string {
	cached := filepath.Join(pathutil.GetCacheDir(), filepath.Join(cacheSubdirs...))

	found, err := pathutil.FirstExistingDir(configured, cached)
	if err != nil || found == "" {
		return configured
	}

	return found
}

// buildService wires the resolver, provisioners, engines, and caches into
// one service instance.
func buildService(cfg *config.Config, log *logger.Logger) *speech.Service {
	downloader := provision.NewHTTPDownloader(0)

	voiceModelsDir := resolveModelsDir(cfg.Paths.VoiceModelsDir, "models", "piper")
	modelsDir := resolveModelsDir(cfg.Paths.ModelsDir, "models")

	voices := provision.NewVoiceProvisioner(voiceModelsDir, nil, downloader, log)
	recognition := provision.NewRecognitionProvisioner(
		modelsDir, cfg.Speech.RecognitionModel, nil, downloader, log,
	)

	voiceCache := speech.NewVoiceCache(func(identity core.VoiceIdentity) (core.SpeechSynthesizer, error) {
		return piper.New(cfg.Speech.PiperBinary, identity, log), nil
	})

	loadRecognition := func(dir string) (core.RecognitionModel, error) {
		return vosk.LoadModel(dir)
	}

	return speech.NewService(
		params.NewResolver(nil), voices, recognition, voiceCache, loadRecognition, log,
	)
}

func dispatchMode(
	cfg *config.Config,
	svc *speech.Service,
	log *logger.Logger,
	mode string,
	args []string,
) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch mode {
	case modeTTS:
		return runTTS(ctx, cfg, svc, args)
	case modeSTT:
		return runSTT(ctx, svc, args)
	case modeWarmup:
		return runWarmup(ctx, svc)
	case modeServe:
		return server.New(svc, log).Serve(ctx, os.Stdin, os.Stdout)
	case modeWorker:
		return runWorker(ctx, cfg, svc, log)
	default:
		fmt.Fprint(os.Stderr, usageText)

		return fmt.Errorf("%w: %s", ErrUnknownMode, mode)
	}
}

// runTTS synthesizes one text. With an explicit output path nothing is
// printed; with a generated path the path is printed so the caller can find
// the file.
func runTTS(ctx context.Context, cfg *config.Config, svc *speech.Service, args []string) error {
	if len(args) < minArgsTTS {
		return ErrMissingText
	}

	request := speech.SynthesisRequest{
		Text:       args[0],
		OutputPath: "",
		Voice:      "",
		Style:      "",
		SpeakerID:  nil,
	}

	explicitOutput := len(args) > 1 && args[1] != ""
	if explicitOutput {
		request.OutputPath = args[1]
	} else {
		request.OutputPath = filepath.Join(cfg.Paths.OutputDir, uuid.NewString()+".wav")
	}

	if len(args) > 2 {
		request.Voice = args[2]
	}

	if len(args) > 3 {
		request.Style = args[3]
	}

	if len(args) > 4 && args[4] != "" {
		speakerID, err := strconv.Atoi(args[4])
		if err != nil {
			return fmt.Errorf("%w: %q", ErrBadSpeakerID, args[4])
		}

		request.SpeakerID = &speakerID
	}

	outputPath, err := svc.Synthesize(ctx, request)
	if err != nil {
		return err
	}

	if !explicitOutput {
		fmt.Println(outputPath)
	}

	return nil
}

func runSTT(ctx context.Context, svc *speech.Service, args []string) error {
	if len(args) < minArgsSTT {
		return ErrMissingAudio
	}

	text, err := svc.Transcribe(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Println(text)

	return nil
}

func runWarmup(ctx context.Context, svc *speech.Service) error {
	result, err := svc.Warmup(ctx)
	if err != nil {
		return err
	}

	fmt.Println(result)

	return nil
}

// runWorker serves the wire protocol over NATS until interrupted.
func runWorker(ctx context.Context, cfg *config.Config, svc *speech.Service, log *logger.Logger) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	var store core.ObjectStore

	if cfg.NATS.AudioObjectStoreBucket != "" {
		jetstreamContext, jsErr := natsConnection.JetStream()
		if jsErr != nil {
			return fmt.Errorf("failed to create JetStream context: %w", jsErr)
		}

		store, err = objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
		if err != nil {
			return err
		}
	}

	natsWorker, err := worker.NewNatsWorker(
		natsConnection, cfg.NATS.Subject, server.New(svc, log), store, log,
	)
	if err != nil {
		return err
	}

	log.System("speech-service worker listening on subject: %s", cfg.NATS.Subject)

	return natsWorker.Run(ctx)
}
