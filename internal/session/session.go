// Package session implements the gateway's per-connection state machine:
// dispatching inbound frames, driving the voice and text paths, and
// guaranteeing every error path that leaves a busy state ends back at
// status=idle. Rejected frames (invalid state or invalid frame) send only
// an error frame and leave the state unchanged.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kyle-deprow/g2-gateway/internal/agentclient"
	"github.com/kyle-deprow/g2-gateway/internal/audio"
	"github.com/kyle-deprow/g2-gateway/internal/logging"
	"github.com/kyle-deprow/g2-gateway/internal/protocol"
	"github.com/kyle-deprow/g2-gateway/internal/transcriber"
)

// State is a gateway session's processing state.
type State string

const (
	StateIdle         State = "idle"
	StateRecording    State = "recording"
	StateTranscribing State = "transcribing"
	StateThinking     State = "thinking"
	StateStreaming    State = "streaming"
)

// maxRecordingSeconds bounds how long a client may stream audio before the
// gateway forces the session back to idle, independent of the audio
// buffer's own byte-based overflow limit.
const maxRecordingSeconds = 90 * time.Second

var mockDeltas = []string{"This is a ", "mock response ", "from the gateway."}

// Conn is the subset of *websocket.Conn the session depends on, so tests
// can substitute an in-memory implementation.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, data []byte, err error)
	Close() error
}

// ResponseHandler turns a text message into a stream of assistant-delta
// frames pushed through send. Close releases any resources the handler
// holds (e.g. an upstream agent connection) and may be called more than
// once.
type ResponseHandler interface {
	Handle(ctx context.Context, message string, send func(protocol.Frame) error) error
	Close() error
}

// MockResponseHandler is the default handler when no upstream agent is
// configured: it returns a small set of canned deltas.
type MockResponseHandler struct{}

func (MockResponseHandler) Handle(ctx context.Context, _ string, send func(protocol.Frame) error) error {
	select {
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := send(protocol.StatusFrame(protocol.StatusStreaming)); err != nil {
		return err
	}
	for _, delta := range mockDeltas {
		if err := send(protocol.AssistantFrame(delta)); err != nil {
			return err
		}
	}
	return send(protocol.EndFrame())
}

func (MockResponseHandler) Close() error { return nil }

// OpenClawResponseHandler forwards messages to the upstream agent service
// and relays its streamed deltas.
type OpenClawResponseHandler struct {
	Client *agentclient.Client
}

func (h *OpenClawResponseHandler) Handle(ctx context.Context, message string, send func(protocol.Frame) error) error {
	stream, err := h.Client.SendMessage(ctx, message, "")
	if err != nil {
		return err
	}
	if err := send(protocol.StatusFrame(protocol.StatusStreaming)); err != nil {
		return err
	}
	for {
		delta, err := stream.Next(ctx)
		if errors.Is(err, agentclient.ErrStreamEnded) {
			break
		}
		if err != nil {
			return err
		}
		if err := send(protocol.AssistantFrame(delta)); err != nil {
			return err
		}
	}
	return send(protocol.EndFrame())
}

func (h *OpenClawResponseHandler) Close() error { return h.Client.Close() }

// Session manages a single WebSocket connection end to end.
type Session struct {
	ID   string
	conn Conn

	writeMu sync.Mutex

	state       State
	handler     ResponseHandler
	transcriber *transcriber.Adapter

	audioBuffer     *audio.Buffer
	recordingStart  time.Time
	recordingActive bool

	agentTimeout time.Duration
	logger       logging.Logger
}

// New builds a Session around an already-upgraded connection.
func New(id string, conn Conn, handler ResponseHandler, tr *transcriber.Adapter, agentTimeout time.Duration, logger logging.Logger) *Session {
	return &Session{
		ID:           id,
		conn:         conn,
		state:        StateIdle,
		handler:      handler,
		transcriber:  tr,
		agentTimeout: agentTimeout,
		logger:       logger,
	}
}

// Conn exposes the underlying connection, used by the listener to close a
// replaced session from the outside.
func (s *Session) Conn() Conn { return s.conn }

func (s *Session) sendFrame(frame protocol.Frame) error {
	raw, err := protocol.Serialize(frame)
	if err != nil {
		return fmt.Errorf("session: serialize outbound frame: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, raw)
}

func (s *Session) sendBestEffort(frame protocol.Frame) {
	if err := s.sendFrame(frame); err != nil {
		s.logger.Warnw("failed to send frame", "session", s.ID, "type", frame["type"], "error", err)
	}
}

// Run drives the session until reading from the connection fails. ctx
// bounds the transcription and agent calls Run makes; cancelling it does
// not interrupt a blocked read.
func (s *Session) Run(ctx context.Context) error {
	if err := s.sendFrame(protocol.ConnectedFrame("1.0")); err != nil {
		return err
	}
	if err := s.sendFrame(protocol.StatusFrame(StatusOf(s.state))); err != nil {
		return err
	}

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}

		if messageType == websocket.BinaryMessage {
			s.handleBinary(data)
			continue
		}

		frame, err := protocol.ParseInbound(data)
		if err != nil {
			s.sendBestEffort(protocol.ErrorFrame(protocol.ErrorCodeInvalidFrame, err.Error()))
			continue
		}
		s.dispatch(ctx, frame)
	}
}

// StatusOf maps a session State to its wire Status representation; the
// two enums share values today but are kept distinct so the wire
// vocabulary (which also has "loading" and "error") can grow independently
// of the internal state machine.
func StatusOf(s State) protocol.Status {
	return protocol.Status(s)
}

func (s *Session) dispatch(ctx context.Context, frame protocol.Frame) {
	switch frame.Type() {
	case "text":
		if s.state != StateIdle {
			s.sendBestEffort(protocol.ErrorFrame(protocol.ErrorCodeInvalidState, "Cannot process text while session is busy"))
			return
		}
		s.handleText(ctx, frame.Message())

	case "pong":
		s.logger.Infow("received pong", "session", s.ID)

	case "start_audio":
		if s.state != StateIdle {
			s.sendBestEffort(protocol.ErrorFrame(protocol.ErrorCodeInvalidState, "Cannot start audio while session is busy"))
			return
		}
		s.handleStartAudio(frame)

	case "stop_audio":
		if s.state != StateRecording {
			s.sendBestEffort(protocol.ErrorFrame(protocol.ErrorCodeInvalidState, "Cannot stop audio — not recording"))
			return
		}
		s.handleStopAudio(ctx)

	default:
		s.sendBestEffort(protocol.ErrorFrame(protocol.ErrorCodeInvalidFrame, fmt.Sprintf("Unhandled frame type: %s", frame.Type())))
	}
}

func (s *Session) handleBinary(data []byte) {
	if s.state != StateRecording {
		s.logger.Warnw("binary frame received while not recording", "session", s.ID)
		return
	}
	if s.audioBuffer == nil {
		s.logger.Warnw("binary frame received but no audio buffer", "session", s.ID)
		return
	}

	if s.recordingActive && time.Since(s.recordingStart) > maxRecordingSeconds {
		s.logger.Warnw("recording exceeded limit, auto-stopping", "session", s.ID, "limit", maxRecordingSeconds)
		s.audioBuffer.Reset()
		s.audioBuffer = nil
		s.recordingActive = false
		s.state = StateIdle
		s.sendBestEffort(protocol.ErrorFrame(protocol.ErrorCodeBufferOverflow, fmt.Sprintf("Recording exceeded %ds limit", int(maxRecordingSeconds.Seconds()))))
		s.sendBestEffort(protocol.StatusFrame(protocol.StatusIdle))
		return
	}

	if err := s.audioBuffer.Append(data); err != nil {
		switch {
		case errors.Is(err, audio.ErrOverflow):
			s.logger.Errorf("audio buffer overflow: %v", err)
			s.resetToIdleAfterAudioError(protocol.ErrorCodeBufferOverflow, "Audio buffer overflow")
		case errors.Is(err, audio.ErrMisaligned):
			s.logger.Errorf("invalid PCM data: %v", err)
			s.resetToIdleAfterAudioError(protocol.ErrorCodeInvalidFrame, "Invalid audio data format")
		default:
			s.logger.Errorf("unexpected audio buffer error: %v", err)
			s.resetToIdleAfterAudioError(protocol.ErrorCodeInternalError, "Internal audio error")
		}
	}
}

func (s *Session) resetToIdleAfterAudioError(code protocol.ErrorCode, detail string) {
	if s.audioBuffer != nil {
		s.audioBuffer.Reset()
	}
	s.audioBuffer = nil
	s.recordingActive = false
	s.state = StateIdle
	s.sendBestEffort(protocol.ErrorFrame(code, detail))
	s.sendBestEffort(protocol.StatusFrame(protocol.StatusIdle))
}

func (s *Session) handleStartAudio(frame protocol.Frame) {
	sampleRate := frame.SampleRate()
	channels := frame.Channels()
	sampleWidth := frame.SampleWidth()

	if sampleWidth != 2 {
		s.sendBestEffort(protocol.ErrorFrame(protocol.ErrorCodeInvalidFrame,
			fmt.Sprintf("Unsupported sample width: %d (only 16-bit PCM supported)", sampleWidth)))
		return
	}
	if sampleRate < 8000 || sampleRate > 48000 {
		s.sendBestEffort(protocol.ErrorFrame(protocol.ErrorCodeInvalidFrame,
			fmt.Sprintf("Invalid sample rate: %d (expected 8000-48000)", sampleRate)))
		return
	}
	if channels != 1 && channels != 2 {
		s.sendBestEffort(protocol.ErrorFrame(protocol.ErrorCodeInvalidFrame,
			fmt.Sprintf("Invalid channels: %d (must be 1 or 2)", channels)))
		return
	}

	s.audioBuffer = audio.New(sampleRate, channels, sampleWidth)
	s.recordingStart = time.Now()
	s.recordingActive = true
	s.state = StateRecording
	s.sendBestEffort(protocol.StatusFrame(protocol.StatusRecording))
}

func (s *Session) handleStopAudio(ctx context.Context) {
	s.state = StateTranscribing
	s.recordingActive = false
	s.sendBestEffort(protocol.StatusFrame(protocol.StatusTranscribing))

	buf := s.audioBuffer
	s.audioBuffer = nil

	if buf == nil || buf.IsEmpty() {
		s.state = StateIdle
		s.sendBestEffort(protocol.ErrorFrame(protocol.ErrorCodeTranscriptionFailed, "No audio data received"))
		s.sendBestEffort(protocol.StatusFrame(protocol.StatusIdle))
		return
	}

	if s.transcriber == nil {
		s.logger.Warnw("no transcriber configured, skipping transcription", "session", s.ID)
		s.state = StateIdle
		s.sendBestEffort(protocol.ErrorFrame(protocol.ErrorCodeTranscriptionFailed, "Transcriber not configured"))
		s.sendBestEffort(protocol.StatusFrame(protocol.StatusIdle))
		return
	}

	samples, err := buf.ToSamples()
	if err != nil {
		s.logger.Errorf("cannot convert audio buffer: %v", err)
		s.state = StateIdle
		s.sendBestEffort(protocol.ErrorFrame(protocol.ErrorCodeInvalidFrame, "Invalid audio data format"))
		s.sendBestEffort(protocol.StatusFrame(protocol.StatusIdle))
		return
	}

	text, err := s.transcriber.Transcribe(ctx, samples, "en", 30*time.Second)
	if err != nil {
		switch {
		case errors.Is(err, transcriber.ErrTimeout):
			s.logger.Errorf("transcription timed out")
			s.state = StateIdle
			s.sendBestEffort(protocol.ErrorFrame(protocol.ErrorCodeTimeout, "Transcription timed out"))
		case errors.Is(err, transcriber.ErrEmptyResult):
			s.logger.Errorf("transcription failed: %v", err)
			s.state = StateIdle
			s.sendBestEffort(protocol.ErrorFrame(protocol.ErrorCodeTranscriptionFailed, "Transcription failed"))
		default:
			s.logger.Errorf("transcription failed with unexpected engine error: %v", err)
			s.state = StateIdle
			s.sendBestEffort(protocol.ErrorFrame(protocol.ErrorCodeInternalError, "Internal transcription error"))
		}
		s.sendBestEffort(protocol.StatusFrame(protocol.StatusIdle))
		return
	}

	s.sendBestEffort(protocol.TranscriptionFrame(text))
	s.handleText(ctx, text)
}

func (s *Session) handleText(ctx context.Context, message string) {
	s.state = StateThinking
	s.sendBestEffort(protocol.StatusFrame(protocol.StatusThinking))

	turnCtx, cancel := context.WithTimeout(ctx, s.agentTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.handler.Handle(turnCtx, message, s.sendFrame)
	}()

	select {
	case <-turnCtx.Done():
		if errors.Is(turnCtx.Err(), context.DeadlineExceeded) {
			s.logger.Errorf("agent cycle timed out after %s", s.agentTimeout)
			_ = s.handler.Close()
			s.sendBestEffort(protocol.ErrorFrame(protocol.ErrorCodeTimeout,
				fmt.Sprintf("Agent cycle exceeded %ds timeout", int(s.agentTimeout.Seconds()))))
		}
	case err := <-done:
		if err != nil {
			var agentErr *agentclient.ErrAgentError
			_ = s.handler.Close()
			if errors.As(err, &agentErr) {
				s.logger.Errorf("openclaw error: %v", err)
				s.sendBestEffort(protocol.ErrorFrame(protocol.ErrorCodeOpenClawError, "Agent communication error"))
			} else {
				s.logger.Errorf("response handler error: %v", err)
				s.sendBestEffort(protocol.ErrorFrame(protocol.ErrorCodeOpenClawError, "Response processing failed"))
			}
		}
	}

	s.state = StateIdle
	s.sendBestEffort(protocol.StatusFrame(protocol.StatusIdle))
}
