// Package transcriber adapts a local speech-to-text engine to the
// gateway's async, timeout-bounded transcription contract: accumulated
// PCM samples in, a single finished transcript out, never partials.
package transcriber

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEmptyResult is returned when the engine produced no text at all.
var ErrEmptyResult = errors.New("transcription produced empty result")

// ErrTimeout is returned when transcription did not finish within the
// caller-supplied timeout.
var ErrTimeout = errors.New("transcription timed out")

// Engine is the pluggable speech-to-text backend. A single Engine instance
// is shared across sessions; Transcribe must be safe to call concurrently
// from multiple goroutines (the concrete whisper.cpp engine achieves this
// by opening a fresh decoding context per call against a shared model).
type Engine interface {
	Transcribe(samples []float32, language string) (string, error)
}

// Adapter runs an Engine off the session's goroutine, bounding it with a
// timeout and normalizing empty results into ErrEmptyResult.
type Adapter struct {
	engine Engine
}

// New builds an Adapter around the given Engine.
func New(engine Engine) *Adapter {
	return &Adapter{engine: engine}
}

// Transcribe runs the engine in a worker goroutine and waits for either a
// result or ctx cancellation / timeout expiry, whichever comes first. A
// worker that finishes after the deadline leaks until it returns, same as
// the single dedicated executor thread in the reference implementation.
func (a *Adapter) Transcribe(ctx context.Context, samples []float32, language string, timeout time.Duration) (string, error) {
	if a.engine == nil {
		return "", fmt.Errorf("transcriber: no engine configured")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)

	go func() {
		text, err := a.engine.Transcribe(samples, language)
		done <- result{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ErrTimeout
	case r := <-done:
		if r.err != nil {
			return "", r.err
		}
		text := strings.TrimSpace(r.text)
		if text == "" {
			return "", ErrEmptyResult
		}
		return text, nil
	}
}
