// Package protocol defines the line-delimited JSON wire contract of the
// speech service.
//
// One JSON object per UTF-8 line is a full message; there is no batching and
// no length framing. Field names, the ok boolean, and the error string key
// are a durable external contract and must be preserved byte-for-byte. The
// per-command result keys (text for stt, output_path for tts, result for
// warmup) are intentionally distinct for caller convenience.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Command names.
const (
	CmdTTS    = "tts"
	CmdSTT    = "stt"
	CmdWarmup = "warmup"
)

// Request is one inbound message. ID is opaque and caller-supplied; it is
// echoed verbatim so the caller can correlate responses.
type Request struct {
	ID         *string      `json:"id"`
	Cmd        string       `json:"cmd"`
	Text       string       `json:"text,omitempty"`
	OutputPath string       `json:"output_path,omitempty"`
	AudioPath  string       `json:"audio_path,omitempty"`
	AudioKey   string       `json:"audio_key,omitempty"`
	Voice      string       `json:"voice,omitempty"`
	Style      string       `json:"style,omitempty"`
	SpeakerID  *OptionalInt `json:"speaker_id,omitempty"`
}

// Response is one outbound message. Exactly one is written per non-blank
// request line, in the order requests were read.
type Response struct {
	ID         *string `json:"id"`
	OK         bool    `json:"ok"`
	Result     string  `json:"result,omitempty"`
	Text       string  `json:"text,omitempty"`
	OutputPath string  `json:"output_path,omitempty"`
	AudioKey   string  `json:"audio_key,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// OptionalInt accepts a JSON number or a numeric string, treating a blank
// string the same as an absent field. Existing callers send speaker ids in
// both shapes.
type OptionalInt struct {
	Value int
	Set   bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *OptionalInt) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		o.Set = false

		return nil
	}

	if trimmed[0] == '"' {
		var raw string

		err := json.Unmarshal(trimmed, &raw)
		if err != nil {
			return fmt.Errorf("failed to parse speaker id: %w", err)
		}

		raw = strings.TrimSpace(raw)
		if raw == "" {
			o.Set = false

			return nil
		}

		value, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid speaker id %q: %w", raw, err)
		}

		o.Value = value
		o.Set = true

		return nil
	}

	var value int

	err := json.Unmarshal(trimmed, &value)
	if err != nil {
		return fmt.Errorf("invalid speaker id %s: %w", trimmed, err)
	}

	o.Value = value
	o.Set = true

	return nil
}

// MarshalJSON implements json.Marshaler.
func (o OptionalInt) MarshalJSON() ([]byte, error) {
	if !o.Set {
		return []byte("null"), nil
	}

	return []byte(strconv.Itoa(o.Value)), nil
}

// Ptr returns the contained value as an optional pointer, nil when unset.
func (o *OptionalInt) Ptr() *int {
	if o == nil || !o.Set {
		return nil
	}

	value := o.Value

	return &value
}
