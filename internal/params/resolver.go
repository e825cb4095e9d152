// Package params resolves layered synthesis parameters into a single
// configuration.
//
// Precedence per field, highest first: explicit call argument, environment
// override, active style preset, compiled-in default. When nothing at all is
// set the resolver returns nil so that the engine's own defaulting behavior
// is preserved exactly.
package params

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/book-expert/speech-service/internal/core"
)

// Environment variable names recognized by the resolver.
const (
	EnvStyle       = "PIPER_TTS_STYLE"
	EnvSpeakerID   = "PIPER_SPEAKER_ID"
	EnvLengthScale = "PIPER_LENGTH_SCALE"
	EnvNoiseScale  = "PIPER_NOISE_SCALE"
	EnvNoiseWScale = "PIPER_NOISE_W_SCALE"
	EnvVolume      = "PIPER_VOLUME"
)

// Style names with defined behavior. Any other name resolves to the empty
// preset, identical to StyleDefault.
const (
	StyleDefault  = "default"
	StyleCheerful = "cheerful"
)

// defaultVolume is the resolver's fallback volume, used only when a config is
// produced and neither the environment nor the preset supplies a volume. The
// cheerful preset carries its own, slightly hotter, volume; the two defaults
// are distinct tuning sources and must not be unified.
const defaultVolume = 1.0

// Error message format constants.
const (
	errFmtInvalidFloat = "%w: invalid float for %s: %q"
	errFmtInvalidInt   = "%w: invalid int for %s: %q"
)

// ErrInvalidEnvValue is returned when a recognized environment variable holds
// a non-empty value that does not parse. Malformed values fail fast and are
// never silently ignored.
var ErrInvalidEnvValue = errors.New("invalid environment value")

// preset is a named bundle of prosody defaults selected by a style name.
type preset struct {
	lengthScale *float64
	noiseScale  *float64
	noiseWScale *float64
	volume      *float64
}

func (p preset) empty() bool {
	return p.lengthScale == nil && p.noiseScale == nil &&
		p.noiseWScale == nil && p.volume == nil
}

// stylePresets maps style names to their prosody defaults. The cheerful
// preset is tuned to be a bit brighter and less robotic without sounding
// noisy.
var stylePresets = map[string]preset{
	StyleCheerful: {
		lengthScale: floatPtr(0.88),
		noiseScale:  floatPtr(0.80),
		noiseWScale: floatPtr(0.90),
		volume:      floatPtr(1.05),
	},
}

// LookupFunc reads one environment variable, returning the empty string when
// it is unset. Injecting a lookup lets tests resolve against a fixed
// environment without mutating the real process environment.
type LookupFunc func(name string) string

// Resolver merges style presets, environment overrides, and explicit call
// arguments into one synthesis configuration.
type Resolver struct {
	lookup LookupFunc
}

// NewResolver creates a resolver reading from the given lookup. A nil lookup
// falls back to the process environment.
func NewResolver(lookup LookupFunc) *Resolver {
	if lookup == nil {
		lookup = os.Getenv
	}

	return &Resolver{lookup: lookup}
}

// Resolve produces the synthesis configuration for one request. A nil style
// argument selection falls back to the environment default style, then to
// StyleDefault; comparison is case-insensitive and whitespace-trimmed, and
// unknown names resolve to the empty preset rather than erroring.
//
// Resolve returns (nil, nil) when, after merging, nothing was set anywhere:
// the engine's built-in defaults then apply unchanged.
func (r *Resolver) Resolve(style string, speakerID *int) (*core.SynthesisConfig, error) {
	active := r.activePreset(style)

	envSpeakerID, err := r.envInt(EnvSpeakerID)
	if err != nil {
		return nil, err
	}

	lengthScale, err := r.envFloat(EnvLengthScale)
	if err != nil {
		return nil, err
	}

	noiseScale, err := r.envFloat(EnvNoiseScale)
	if err != nil {
		return nil, err
	}

	noiseWScale, err := r.envFloat(EnvNoiseWScale)
	if err != nil {
		return nil, err
	}

	volume, err := r.envFloat(EnvVolume)
	if err != nil {
		return nil, err
	}

	finalSpeakerID := speakerID
	if finalSpeakerID == nil {
		finalSpeakerID = envSpeakerID
	}

	// If nothing is set, return nil to keep the engine defaults.
	allUnset := lengthScale == nil && noiseScale == nil &&
		noiseWScale == nil && volume == nil
	if finalSpeakerID == nil && active.empty() && allUnset {
		return nil, nil
	}

	return &core.SynthesisConfig{
		SpeakerID:      finalSpeakerID,
		LengthScale:    firstFloat(lengthScale, active.lengthScale),
		NoiseScale:     firstFloat(noiseScale, active.noiseScale),
		NoiseWScale:    firstFloat(noiseWScale, active.noiseWScale),
		Volume:         volumeOrDefault(volume, active.volume),
		NormalizeAudio: true,
	}, nil
}

// activePreset selects the preset for the effective style name. Explicit
// argument wins, then the environment default style, then StyleDefault.
func (r *Resolver) activePreset(style string) preset {
	if style == "" {
		style = r.lookup(EnvStyle)
	}

	if style == "" {
		style = StyleDefault
	}

	name := strings.ToLower(strings.TrimSpace(style))

	return stylePresets[name]
}

// envFloat parses an optional float environment variable. Unset or blank
// values yield nil; malformed values fail with ErrInvalidEnvValue naming the
// variable and the raw string.
func (r *Resolver) envFloat(name string) (*float64, error) {
	raw := r.lookup(name)
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return nil, fmt.Errorf(errFmtInvalidFloat, ErrInvalidEnvValue, name, raw)
	}

	return &value, nil
}

// envInt parses an optional integer environment variable with the same
// contract as envFloat.
func (r *Resolver) envInt(name string) (*int, error) {
	raw := r.lookup(name)
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf(errFmtInvalidInt, ErrInvalidEnvValue, name, raw)
	}

	return &value, nil
}

// firstFloat returns the first non-nil value, or nil when both are unset.
func firstFloat(values ...*float64) *float64 {
	for _, value := range values {
		if value != nil {
			return value
		}
	}

	return nil
}

// volumeOrDefault resolves the always-concrete volume field.
func volumeOrDefault(override, presetVolume *float64) float64 {
	if override != nil {
		return *override
	}

	if presetVolume != nil {
		return *presetVolume
	}

	return defaultVolume
}

func floatPtr(value float64) *float64 {
	return &value
}
