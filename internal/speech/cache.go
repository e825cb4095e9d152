package speech

import (
	"sync"

	"github.com/book-expert/speech-service/internal/core"
)

// LoadVoiceFunc loads a synthesizer handle for a voice identity. Loading is
// the expensive step the cache exists to avoid repeating.
type LoadVoiceFunc func(identity core.VoiceIdentity) (core.SpeechSynthesizer, error)

// VoiceCache memoizes loaded voice handles keyed by their resolved file-path
// identity. There is no eviction, TTL, or size bound: the model count is
// bounded by the distinct voices requested in a process lifetime, and the
// cache lives exactly as long as the process.
type VoiceCache struct {
	mu     sync.Mutex
	load   LoadVoiceFunc
	loaded map[core.VoiceIdentity]core.SpeechSynthesizer
}

// NewVoiceCache creates an empty cache around the given loader.
func NewVoiceCache(load LoadVoiceFunc) *VoiceCache {
	return &VoiceCache{
		load:   load,
		loaded: make(map[core.VoiceIdentity]core.SpeechSynthesizer),
	}
}

// GetOrLoad returns the cached handle for identity, invoking the loader on a
// miss. The lock covers the whole miss-then-insert sequence so concurrent
// embeddings never load the same voice twice.
func (c *VoiceCache) GetOrLoad(identity core.VoiceIdentity) (core.SpeechSynthesizer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	handle, ok := c.loaded[identity]
	if ok {
		return handle, nil
	}

	handle, err := c.load(identity)
	if err != nil {
		return nil, err
	}

	c.loaded[identity] = handle

	return handle, nil
}
