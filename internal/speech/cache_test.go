package speech_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/speech"
)

var errLoadBoom = errors.New("load failed")

type countingSynthesizer struct {
	identity core.VoiceIdentity
}

func (s *countingSynthesizer) SynthesizeToFile(
	_ context.Context, _, _ string, _ *core.SynthesisConfig,
) error {
	return nil
}

func TestVoiceCache_LoadsEachIdentityOnce(t *testing.T) {
	t.Parallel()

	loads := 0
	cache := speech.NewVoiceCache(func(identity core.VoiceIdentity) (core.SpeechSynthesizer, error) {
		loads++

		return &countingSynthesizer{identity: identity}, nil
	})

	identity := core.VoiceIdentity{ModelPath: "a.onnx", ConfigPath: "a.onnx.json"}

	first, err := cache.GetOrLoad(identity)
	require.NoError(t, err)

	second, err := cache.GetOrLoad(identity)
	require.NoError(t, err)

	assert.Same(t, first, second, "repeat lookups must return the cached handle")
	assert.Equal(t, 1, loads)
}

func TestVoiceCache_DistinctIdentitiesLoadSeparately(t *testing.T) {
	t.Parallel()

	loads := 0
	cache := speech.NewVoiceCache(func(identity core.VoiceIdentity) (core.SpeechSynthesizer, error) {
		loads++

		return &countingSynthesizer{identity: identity}, nil
	})

	first, err := cache.GetOrLoad(core.VoiceIdentity{ModelPath: "a.onnx", ConfigPath: "a.onnx.json"})
	require.NoError(t, err)

	second, err := cache.GetOrLoad(core.VoiceIdentity{ModelPath: "b.onnx", ConfigPath: "b.onnx.json"})
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, 2, loads)
}

func TestVoiceCache_FailedLoadIsNotCached(t *testing.T) {
	t.Parallel()

	loads := 0
	cache := speech.NewVoiceCache(func(identity core.VoiceIdentity) (core.SpeechSynthesizer, error) {
		loads++
		if loads == 1 {
			return nil, errLoadBoom
		}

		return &countingSynthesizer{identity: identity}, nil
	})

	identity := core.VoiceIdentity{ModelPath: "a.onnx", ConfigPath: "a.onnx.json"}

	_, err := cache.GetOrLoad(identity)
	require.ErrorIs(t, err, errLoadBoom)

	handle, err := cache.GetOrLoad(identity)
	require.NoError(t, err)
	assert.NotNil(t, handle)
	assert.Equal(t, 2, loads, "a failed load must be retried, not memoized")
}
