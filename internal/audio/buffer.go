// Package audio implements the PCM accumulation buffer that collects raw
// audio chunks for the duration of a recording and hands the result to the
// transcriber adapter.
package audio

import (
	"errors"
	"fmt"
)

// MaxDurationSeconds bounds how much audio a single recording may
// accumulate before further appends are rejected.
const MaxDurationSeconds = 60

// ErrOverflow is returned by Append when appending chunk would exceed
// MaxDurationSeconds of audio.
var ErrOverflow = errors.New("audio buffer overflow")

// ErrMisaligned is returned by Append when a chunk's length is not a
// multiple of the buffer's sample width.
var ErrMisaligned = errors.New("audio chunk is not sample-aligned")

// ErrUnsupportedSampleWidth is returned by ToSamples when the buffer was
// not created with 16-bit samples, the only width the transcriber accepts.
var ErrUnsupportedSampleWidth = errors.New("unsupported sample width")

// Buffer accumulates raw little-endian PCM bytes for one recording.
type Buffer struct {
	sampleRate  int
	channels    int
	sampleWidth int

	byteRate int
	maxBytes int

	data []byte
}

// New creates a Buffer for the given format, as announced in a
// start_audio frame.
func New(sampleRate, channels, sampleWidth int) *Buffer {
	byteRate := sampleRate * channels * sampleWidth
	return &Buffer{
		sampleRate:  sampleRate,
		channels:    channels,
		sampleWidth: sampleWidth,
		byteRate:    byteRate,
		maxBytes:    MaxDurationSeconds * byteRate,
	}
}

// Append adds a chunk of PCM bytes to the buffer. It returns ErrMisaligned
// if the chunk length is not a multiple of the sample width, and
// ErrOverflow if appending it would exceed MaxDurationSeconds.
func (b *Buffer) Append(chunk []byte) error {
	if len(chunk)%b.sampleWidth != 0 {
		return fmt.Errorf("%w: %d bytes is not a multiple of sample width %d", ErrMisaligned, len(chunk), b.sampleWidth)
	}
	if b.totalBytes()+len(chunk) > b.maxBytes {
		return fmt.Errorf("%w: %d bytes exceeds %ds limit (%d bytes)", ErrOverflow, b.totalBytes()+len(chunk), MaxDurationSeconds, b.maxBytes)
	}
	b.data = append(b.data, chunk...)
	return nil
}

func (b *Buffer) totalBytes() int { return len(b.data) }

// ToSamples converts the accumulated 16-bit signed little-endian PCM bytes
// to float32 samples normalized to [-1.0, 1.0], the format the
// transcriber engine expects. It returns ErrUnsupportedSampleWidth if the
// buffer was not created with 16-bit samples.
func (b *Buffer) ToSamples() ([]float32, error) {
	if b.sampleWidth != 2 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedSampleWidth, b.sampleWidth)
	}
	n := len(b.data) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(uint16(b.data[2*i]) | uint16(b.data[2*i+1])<<8)
		samples[i] = float32(v) / 32768.0
	}
	return samples, nil
}

// Reset clears the buffer so it can be reused for the next recording.
func (b *Buffer) Reset() {
	b.data = nil
}

// DurationSeconds estimates the buffered audio's duration from its byte
// count and format.
func (b *Buffer) DurationSeconds() float64 {
	if b.byteRate == 0 {
		return 0
	}
	return float64(b.totalBytes()) / float64(b.byteRate)
}

// IsEmpty reports whether the buffer currently holds no audio.
func (b *Buffer) IsEmpty() bool {
	return b.totalBytes() == 0
}
