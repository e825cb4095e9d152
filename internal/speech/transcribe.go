package speech

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/book-expert/speech-service/internal/core"
)

// framesPerChunk is the number of audio frames fed to the recognizer per
// incremental step.
const framesPerChunk = 4000

// WAV format requirements for transcription input.
const (
	requiredChannels   = 1
	requiredBitDepth   = 16
	wavAudioFormatPCM  = 1
	bytesPerPCM16Frame = 2
)

// Sentinel transcription results. These are deliberately ordinary successful
// results, not errors: callers distinguish them by content, exactly like a
// real transcript.
const (
	// FormatMismatchResult is returned when the input audio is not mono
	// 16-bit linear PCM.
	FormatMismatchResult = "STT error: Audio must be WAV mono PCM 16-bit."

	// NoSpeechResult is returned when the recognizer produced no text at
	// all for a valid-format input.
	NoSpeechResult = "Could not understand audio"
)

// Transcribe converts a recorded WAV file to text using an incremental
// recognizer created from model.
//
// The audio format is validated before any recognizer work. Audio is then
// read in fixed-size frame chunks; whenever the recognizer finalizes an
// utterance boundary its text is captured, with one final capture after
// end-of-stream. Non-empty fragments are joined with single spaces.
func Transcribe(audioPath string, model core.RecognitionModel) (string, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("failed to open audio file %s: %w", audioPath, err)
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()

	if decoder.Err() != nil {
		return "", fmt.Errorf("failed to read WAV header of %s: %w", audioPath, decoder.Err())
	}

	if decoder.NumChans != requiredChannels ||
		decoder.BitDepth != requiredBitDepth ||
		decoder.WavAudioFormat != wavAudioFormatPCM {
		return FormatMismatchResult, nil
	}

	stream, err := model.NewStream(int(decoder.SampleRate))
	if err != nil {
		return "", err
	}
	defer stream.Close()

	fragments, err := feedChunks(decoder, stream)
	if err != nil {
		return "", err
	}

	fragments = append(fragments, stream.FinalResult())

	text := strings.TrimSpace(strings.Join(nonEmpty(fragments), " "))
	if text == "" {
		return NoSpeechResult, nil
	}

	return text, nil
}

// feedChunks streams the decoded PCM frames into the recognizer, capturing
// the text of each finalized utterance.
func feedChunks(decoder *wav.Decoder, stream core.RecognitionStream) ([]string, error) {
	buffer := &audio.IntBuffer{
		Data: make([]int, framesPerChunk),
		Format: &audio.Format{
			NumChannels: requiredChannels,
			SampleRate:  int(decoder.SampleRate),
		},
		SourceBitDepth: requiredBitDepth,
	}

	var fragments []string

	for {
		frames, err := decoder.PCMBuffer(buffer)
		if err != nil {
			return nil, fmt.Errorf("failed to read audio frames: %w", err)
		}

		if frames == 0 {
			return fragments, nil
		}

		if stream.AcceptWaveform(pcm16Bytes(buffer.Data[:frames])) {
			fragments = append(fragments, stream.Result())
		}
	}
}

// pcm16Bytes re-encodes decoded samples as little-endian 16-bit PCM, the
// byte layout incremental recognizers consume.
func pcm16Bytes(samples []int) []byte {
	data := make([]byte, bytesPerPCM16Frame*len(samples))
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(data[bytesPerPCM16Frame*i:], uint16(int16(sample)))
	}

	return data
}

func nonEmpty(fragments []string) []string {
	kept := fragments[:0]

	for _, fragment := range fragments {
		if fragment != "" {
			kept = append(kept, fragment)
		}
	}

	return kept
}
