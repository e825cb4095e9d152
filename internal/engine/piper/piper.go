// Package piper implements speech synthesis by invoking the piper binary.
package piper

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/speech-service/internal/core"
)

// DefaultBinary is the piper executable resolved from PATH when the service
// configuration does not name one.
const DefaultBinary = "piper"

// Command-line flags of the piper CLI.
const (
	flagModel       = "--model"
	flagConfig      = "--config"
	flagOutputFile  = "--output-file"
	flagSpeaker     = "--speaker"
	flagLengthScale = "--length-scale"
	flagNoiseScale  = "--noise-scale"
	flagNoiseWScale = "--noise-w-scale"
	flagVolume      = "--volume"
	flagNoNormalize = "--no-normalize"
)

// Error messages.
const (
	errSynthesisFailedMsg = "speech synthesis failed"
	errTextEmptyMsg       = "text cannot be empty"
)

// ErrSynthesisFailed is returned when the underlying engine rejects a
// synthesis request. The engine's own diagnostics are attached.
var ErrSynthesisFailed = errors.New(errSynthesisFailedMsg)

// Synthesizer is a loaded voice handle: a piper binary bound to one voice
// identity. Instances are cached per identity for the process lifetime.
type Synthesizer struct {
	binaryPath string
	voice      core.VoiceIdentity
	log        *logger.Logger
}

// New creates a synthesizer for the given voice. The binary path falls back
// to DefaultBinary when empty; existence of the voice files is the
// provisioner's responsibility.
func New(binaryPath string, voice core.VoiceIdentity, log *logger.Logger) *Synthesizer {
	if binaryPath == "" {
		binaryPath = DefaultBinary
	}

	return &Synthesizer{
		binaryPath: binaryPath,
		voice:      voice,
		log:        log,
	}
}

// Voice returns the identity this synthesizer was loaded for.
func (s *Synthesizer) Voice() core.VoiceIdentity {
	return s.voice
}

// SynthesizeToFile renders text into a WAV file at outputPath, overwriting
// any existing file. A nil cfg keeps the engine's built-in defaults. On
// failure the output file contents are undefined; callers must not trust a
// partial file.
func (s *Synthesizer) SynthesizeToFile(
	ctx context.Context,
	text, outputPath string,
	cfg *core.SynthesisConfig,
) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: %s", ErrSynthesisFailed, errTextEmptyMsg)
	}

	args := buildArgs(s.voice, outputPath, cfg)

	// #nosec G204 -- the binary path comes from service configuration and
	// all arguments are flag-value pairs built above.
	cmd := exec.CommandContext(ctx, s.binaryPath, args...)
	cmd.Stdin = strings.NewReader(text)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf(
			"%w: piper execution failed: %w (output: %s)",
			ErrSynthesisFailed, err, strings.TrimSpace(string(output)),
		)
	}

	s.log.Info("Synthesized %d characters to %s", len(text), outputPath)

	return nil
}

// buildArgs translates a resolved synthesis configuration into piper CLI
// flags. Absent optional fields are omitted so the engine applies its own
// defaults.
func buildArgs(voice core.VoiceIdentity, outputPath string, cfg *core.SynthesisConfig) []string {
	args := []string{
		flagModel, voice.ModelPath,
		flagConfig, voice.ConfigPath,
		flagOutputFile, outputPath,
	}

	if cfg == nil {
		return args
	}

	if cfg.SpeakerID != nil {
		args = append(args, flagSpeaker, strconv.Itoa(*cfg.SpeakerID))
	}

	if cfg.LengthScale != nil {
		args = append(args, flagLengthScale, formatFloat(*cfg.LengthScale))
	}

	if cfg.NoiseScale != nil {
		args = append(args, flagNoiseScale, formatFloat(*cfg.NoiseScale))
	}

	if cfg.NoiseWScale != nil {
		args = append(args, flagNoiseWScale, formatFloat(*cfg.NoiseWScale))
	}

	args = append(args, flagVolume, formatFloat(cfg.Volume))

	if !cfg.NormalizeAudio {
		args = append(args, flagNoNormalize)
	}

	return args
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
