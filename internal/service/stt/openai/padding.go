package openai

import (
	"time"

	"speech-session-service/internal/audio"
)

// PaddingBytes returns how many bytes of silence must be appended so that
// streamedBytes of PCM16 mono at sampleRate reaches floor. It is zero when
// the floor is already met.
func PaddingBytes(streamedBytes int, floor time.Duration, sampleRate int) int {
	if floor <= 0 || sampleRate <= 0 {
		return 0
	}
	// ceil(floor * sampleRate) in whole samples
	minSamples := int((floor.Nanoseconds()*int64(sampleRate) + int64(time.Second) - 1) / int64(time.Second))
	streamedSamples := streamedBytes / audio.BytesPerSample
	if streamedSamples >= minSamples {
		return 0
	}
	return (minSamples - streamedSamples) * audio.BytesPerSample
}
