package transcriber

import (
	"errors"
	"fmt"
	"io"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Compile-time assertion that WhisperEngine satisfies Engine.
var _ Engine = (*WhisperEngine)(nil)

// WhisperEngine runs speech-to-text locally via whisper.cpp's CGO
// bindings. The model is loaded once and shared; each Transcribe call
// opens its own decoding context, since a whisper.cpp context is not
// safe for concurrent use but the model is.
//
// Decoding is pinned to greedy, single-pass, context-free parameters
// (beam width 1, no previous-text conditioning) so repeated calls with
// the same audio produce the same transcript.
type WhisperEngine struct {
	model whisperlib.Model
}

// NewWhisperEngine loads a whisper.cpp model from modelPath. device and
// computeType are accepted for parity with the model-selection knobs
// exposed to operators, though whisper.cpp's Go bindings select their
// backend at build time rather than per call.
func NewWhisperEngine(modelPath, device, computeType string) (*WhisperEngine, error) {
	if modelPath == "" {
		return nil, errors.New("transcriber: model path must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("transcriber: load model %q: %w", modelPath, err)
	}
	return &WhisperEngine{model: model}, nil
}

// Close releases the underlying model.
func (e *WhisperEngine) Close() error {
	if e.model == nil {
		return nil
	}
	return e.model.Close()
}

// Transcribe runs one inference pass over samples and returns the
// concatenated segment text.
func (e *WhisperEngine) Transcribe(samples []float32, language string) (string, error) {
	wctx, err := e.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("transcriber: create context: %w", err)
	}

	if language != "" {
		if err := wctx.SetLanguage(language); err != nil {
			return "", fmt.Errorf("transcriber: set language %q: %w", language, err)
		}
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("transcriber: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("transcriber: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}
