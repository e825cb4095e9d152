// Package speech orchestrates synthesis and transcription over lazily
// provisioned, process-lifetime cached models.
package speech

import (
	"context"
	"errors"

	"github.com/book-expert/logger"
	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/params"
	"github.com/book-expert/speech-service/internal/provision"
)

// WarmupResult is the fixed success marker returned by a warmup operation.
const WarmupResult = "OK"

// Static errors.
var (
	ErrOutputPathEmpty = errors.New("output path cannot be empty")
	ErrAudioPathEmpty  = errors.New("audio path cannot be empty")
)

// LoadRecognitionFunc loads a recognition model from an unpacked model
// directory.
type LoadRecognitionFunc func(dir string) (core.RecognitionModel, error)

// SynthesisRequest carries the caller-supplied fields of one tts operation.
type SynthesisRequest struct {
	Text       string
	OutputPath string
	Voice      string
	Style      string
	SpeakerID  *int
}

// Service owns the process-wide mutable state: the voice cache and the
// recognition-model singleton. Operations receive it by handle rather than
// reaching for ambient globals, so tests can construct a fresh instance per
// case.
type Service struct {
	log              *logger.Logger
	resolver         *params.Resolver
	voices           *provision.VoiceProvisioner
	recognition      *provision.RecognitionProvisioner
	voiceCache       *VoiceCache
	loadRecognition  LoadRecognitionFunc
	recognitionModel core.RecognitionModel
}

// NewService wires the resolver, provisioners, cache, and recognition loader
// into one service instance.
func NewService(
	resolver *params.Resolver,
	voices *provision.VoiceProvisioner,
	recognition *provision.RecognitionProvisioner,
	voiceCache *VoiceCache,
	loadRecognition LoadRecognitionFunc,
	log *logger.Logger,
) *Service {
	return &Service{
		log:              log,
		resolver:         resolver,
		voices:           voices,
		recognition:      recognition,
		voiceCache:       voiceCache,
		loadRecognition:  loadRecognition,
		recognitionModel: nil,
	}
}

// Synthesize provisions and loads the requested voice, resolves the layered
// synthesis parameters, and renders text into a WAV file. It returns the
// output path on success.
func (s *Service) Synthesize(ctx context.Context, req SynthesisRequest) (string, error) {
	if req.OutputPath == "" {
		return "", ErrOutputPathEmpty
	}

	identity, err := s.voices.Ensure(ctx, req.Voice)
	if err != nil {
		return "", err
	}

	synthesizer, err := s.voiceCache.GetOrLoad(identity)
	if err != nil {
		return "", err
	}

	cfg, err := s.resolver.Resolve(req.Style, req.SpeakerID)
	if err != nil {
		return "", err
	}

	err = synthesizer.SynthesizeToFile(ctx, req.Text, req.OutputPath, cfg)
	if err != nil {
		return "", err
	}

	return req.OutputPath, nil
}

// Transcribe converts a recorded WAV file to text using the lazily loaded
// recognition model singleton.
func (s *Service) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if audioPath == "" {
		return "", ErrAudioPathEmpty
	}

	model, err := s.recognitionHandle(ctx)
	if err != nil {
		return "", err
	}

	return Transcribe(audioPath, model)
}

// Warmup eagerly provisions and loads both model families so the first real
// request pays no model cost. It returns the fixed success marker.
func (s *Service) Warmup(ctx context.Context) (string, error) {
	_, err := s.recognitionHandle(ctx)
	if err != nil {
		return "", err
	}

	identity, err := s.voices.Ensure(ctx, "")
	if err != nil {
		return "", err
	}

	_, err = s.voiceCache.GetOrLoad(identity)
	if err != nil {
		return "", err
	}

	return WarmupResult, nil
}

// recognitionHandle returns the process-wide recognition model, provisioning
// and loading it on first use. The model is chosen at first use and never
// swapped for the process lifetime.
func (s *Service) recognitionHandle(ctx context.Context) (core.RecognitionModel, error) {
	if s.recognitionModel != nil {
		return s.recognitionModel, nil
	}

	dir, err := s.recognition.Ensure(ctx)
	if err != nil {
		return nil, err
	}

	model, err := s.loadRecognition(dir)
	if err != nil {
		return nil, err
	}

	s.recognitionModel = model

	return model, nil
}
