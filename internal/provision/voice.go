package provision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/pathutil"
)

// Environment variables recognized by the voice provisioner.
const (
	EnvPiperVoice        = "PIPER_VOICE"
	EnvPiperModelsDir    = "PIPER_MODELS_DIR"
	EnvPiperAutoDownload = "PIPER_AUTO_DOWNLOAD"
)

// Voice model defaults and file naming.
const (
	DefaultVoice        = "en_US-amy-low"
	defaultVoiceBaseURL = "https://huggingface.co/rhasspy/piper-voices/resolve/main"
	voiceModelExt       = ".onnx"
	voiceConfigExt      = ".onnx.json"
	autoDownloadOn      = "1"
)

// VoiceProvisioner guarantees that a named synthesis voice (a model file and
// its JSON sidecar) is present on local storage.
type VoiceProvisioner struct {
	modelsDir  string
	baseURL    string
	lookup     LookupFunc
	downloader Downloader
	log        *logger.Logger
}

// NewVoiceProvisioner creates a voice provisioner. modelsDir is the
// conventional storage location used when PIPER_MODELS_DIR is unset. A nil
// lookup falls back to the process environment.
func NewVoiceProvisioner(
	modelsDir string,
	lookup LookupFunc,
	downloader Downloader,
	log *logger.Logger,
) *VoiceProvisioner {
	if lookup == nil {
		lookup = os.Getenv
	}

	return &VoiceProvisioner{
		modelsDir:  modelsDir,
		baseURL:    defaultVoiceBaseURL,
		lookup:     lookup,
		downloader: downloader,
		log:        log,
	}
}

// Ensure resolves the voice name (explicit override, then PIPER_VOICE, then
// the compiled-in default) and returns the identity of its on-disk files,
// downloading them first when they are missing and auto-download is enabled.
func (p *VoiceProvisioner) Ensure(ctx context.Context, voiceOverride string) (core.VoiceIdentity, error) {
	voice := strings.TrimSpace(voiceOverride)
	if voice == "" {
		voice = strings.TrimSpace(p.lookup(EnvPiperVoice))
	}

	if voice == "" {
		voice = DefaultVoice
	}

	modelsDir := p.lookup(EnvPiperModelsDir)
	if modelsDir == "" {
		modelsDir = p.modelsDir
	}

	err := pathutil.EnsureDir(modelsDir)
	if err != nil {
		return core.VoiceIdentity{}, err
	}

	identity := core.VoiceIdentity{
		ModelPath:  filepath.Join(modelsDir, voice+voiceModelExt),
		ConfigPath: filepath.Join(modelsDir, voice+voiceConfigExt),
	}

	if fileExists(identity.ModelPath) && fileExists(identity.ConfigPath) {
		return identity, nil
	}

	if autoDownloadEnabled(p.lookup, EnvPiperAutoDownload) {
		downloadErr := p.downloadVoice(ctx, voice, identity)
		if downloadErr != nil {
			return core.VoiceIdentity{}, downloadErr
		}

		if fileExists(identity.ModelPath) && fileExists(identity.ConfigPath) {
			return identity, nil
		}
	}

	return core.VoiceIdentity{}, fmt.Errorf(
		"%w: piper voice %q (expected %s and %s; set %s/%s or enable %s)",
		ErrModelNotFound, voice,
		identity.ModelPath, identity.ConfigPath,
		EnvPiperVoice, EnvPiperModelsDir, EnvPiperAutoDownload,
	)
}

// downloadVoice fetches the model file and its config sidecar from the voice
// repository.
func (p *VoiceProvisioner) downloadVoice(ctx context.Context, voice string, identity core.VoiceIdentity) error {
	modelURL, configURL, err := voiceURLs(p.baseURL, voice)
	if err != nil {
		return err
	}

	p.log.Info("Downloading piper voice %q from %s", voice, modelURL)

	err = p.downloader.Download(ctx, modelURL, identity.ModelPath)
	if err != nil {
		return fmt.Errorf("%w: voice model download failed: %w", ErrProvisioningFailed, err)
	}

	err = p.downloader.Download(ctx, configURL, identity.ConfigPath)
	if err != nil {
		return fmt.Errorf("%w: voice config download failed: %w", ErrProvisioningFailed, err)
	}

	return nil
}

// voiceURLs derives the repository URLs for a voice name shaped like
// "en_US-amy-low": family "en", locale "en_US", speaker "amy", quality "low".
func voiceURLs(baseURL, voice string) (modelURL, configURL string, err error) {
	locale, remainder, ok := strings.Cut(voice, "-")
	if !ok {
		return "", "", fmt.Errorf("%w: malformed voice name %q", ErrModelNotFound, voice)
	}

	lastDash := strings.LastIndex(remainder, "-")
	if lastDash <= 0 || lastDash == len(remainder)-1 {
		return "", "", fmt.Errorf("%w: malformed voice name %q", ErrModelNotFound, voice)
	}

	speaker := remainder[:lastDash]
	quality := remainder[lastDash+1:]

	family, _, _ := strings.Cut(locale, "_")
	prefix := fmt.Sprintf("%s/%s/%s/%s/%s/%s", baseURL, family, locale, speaker, quality, voice)

	return prefix + voiceModelExt, prefix + voiceConfigExt, nil
}

// autoDownloadEnabled reports whether the given toggle is on. An unset
// variable defaults to on; the literal "1" is the only "on" representation.
func autoDownloadEnabled(lookup LookupFunc, name string) bool {
	raw := lookup(name)
	if raw == "" {
		raw = autoDownloadOn
	}

	return raw == autoDownloadOn
}
