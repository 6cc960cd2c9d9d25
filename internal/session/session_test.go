package session

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyle-deprow/g2-gateway/internal/protocol"
	"github.com/kyle-deprow/g2-gateway/internal/transcriber"
)

// fakeConn is an in-memory Conn: inbound messages are read in order from
// the in slice, outbound writes accumulate in sent, and a read after in is
// exhausted returns an error at once.
type fakeConn struct {
	mu     sync.Mutex
	in     []wireMsg
	idx    int
	sent   []protocol.Frame
	closed bool
}

type wireMsg struct {
	kind int
	data []byte
}

func newFakeConn(msgs ...wireMsg) *fakeConn {
	return &fakeConn{in: msgs}
}

func textMsg(s string) wireMsg { return wireMsg{kind: websocket.TextMessage, data: []byte(s)} }
func binMsg(b []byte) wireMsg  { return wireMsg{kind: websocket.BinaryMessage, data: b} }

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var frame protocol.Frame
	_ = json.Unmarshal(data, &frame)
	c.sent = append(c.sent, frame)
	return nil
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idx >= len(c.in) {
		return 0, nil, errors.New("fakeConn: no more messages")
	}
	m := c.in[c.idx]
	c.idx++
	return m.kind, m.data, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) framesSent() []protocol.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Frame, len(c.sent))
	copy(out, c.sent)
	return out
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any)            {}
func (nopLogger) Info(...any)                      {}
func (nopLogger) Infof(string, ...any)             {}
func (nopLogger) Errorf(string, ...any)            {}
func (nopLogger) Warnw(string, ...any)             {}
func (nopLogger) Infow(string, ...any)             {}
func (nopLogger) Benchmark(string, time.Duration)  {}
func (nopLogger) Sync() error                      { return nil }

func pcmChunk(n int) []byte {
	b := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(i))
	}
	return b
}

func lastFrameOfType(frames []protocol.Frame, t string) (protocol.Frame, bool) {
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Type() == t {
			return frames[i], true
		}
	}
	return nil, false
}

func countFramesOfType(frames []protocol.Frame, t string) int {
	n := 0
	for _, f := range frames {
		if f.Type() == t {
			n++
		}
	}
	return n
}

func TestMockTextRoundTrip(t *testing.T) {
	conn := newFakeConn(textMsg(`{"type":"text","message":"hello"}`))
	s := New("sess-1", conn, MockResponseHandler{}, nil, time.Second, nopLogger{})
	_ = s.Run(context.Background())

	frames := conn.framesSent()
	assert.Equal(t, 1, countFramesOfType(frames, "end"))
	last, ok := lastFrameOfType(frames, "status")
	require.True(t, ok)
	assert.Equal(t, "idle", last["status"])
}

func TestTextRejectedWhileBusy(t *testing.T) {
	conn := newFakeConn(
		textMsg(`{"type":"start_audio","sampleRate":16000,"channels":1,"sampleWidth":2}`),
		textMsg(`{"type":"text","message":"hi"}`),
	)
	s := New("sess-2", conn, MockResponseHandler{}, nil, time.Second, nopLogger{})
	_ = s.Run(context.Background())

	frames := conn.framesSent()
	errFrame, ok := lastFrameOfType(frames, "error")
	require.True(t, ok)
	assert.Equal(t, "INVALID_STATE", errFrame["code"])
}

func TestStartAudioValidation(t *testing.T) {
	conn := newFakeConn(textMsg(`{"type":"start_audio","sampleRate":1,"channels":1,"sampleWidth":2}`))
	s := New("sess-3", conn, MockResponseHandler{}, nil, time.Second, nopLogger{})
	_ = s.Run(context.Background())

	frames := conn.framesSent()
	errFrame, ok := lastFrameOfType(frames, "error")
	require.True(t, ok)
	assert.Equal(t, "INVALID_FRAME", errFrame["code"])
	assert.Equal(t, StateIdle, s.state)
}

type stubEngine struct{ text string }

func (e stubEngine) Transcribe(samples []float32, language string) (string, error) {
	return e.text, nil
}

func TestVoicePathTranscribesThenRunsAgent(t *testing.T) {
	conn := newFakeConn(
		textMsg(`{"type":"start_audio","sampleRate":16000,"channels":1,"sampleWidth":2}`),
		binMsg(pcmChunk(100)),
		textMsg(`{"type":"stop_audio"}`),
	)
	tr := transcriber.New(stubEngine{text: "what is the weather"})
	s := New("sess-4", conn, MockResponseHandler{}, tr, time.Second, nopLogger{})
	_ = s.Run(context.Background())

	frames := conn.framesSent()
	transcription, ok := lastFrameOfType(frames, "transcription")
	require.True(t, ok)
	assert.Equal(t, "what is the weather", transcription["text"])
	assert.Equal(t, 1, countFramesOfType(frames, "end"))
}

func TestStopAudioWithNoTranscriberFails(t *testing.T) {
	conn := newFakeConn(
		textMsg(`{"type":"start_audio","sampleRate":16000,"channels":1,"sampleWidth":2}`),
		binMsg(pcmChunk(10)),
		textMsg(`{"type":"stop_audio"}`),
	)
	s := New("sess-5", conn, MockResponseHandler{}, nil, time.Second, nopLogger{})
	_ = s.Run(context.Background())

	frames := conn.framesSent()
	errFrame, ok := lastFrameOfType(frames, "error")
	require.True(t, ok)
	assert.Equal(t, "TRANSCRIPTION_FAILED", errFrame["code"])
}

func TestStopAudioWhileIdleRejectedAndStaysIdle(t *testing.T) {
	conn := newFakeConn(textMsg(`{"type":"stop_audio"}`))
	s := New("sess-6", conn, MockResponseHandler{}, nil, time.Second, nopLogger{})
	_ = s.Run(context.Background())

	// stop_audio while idle is rejected without any state transition, so
	// the session is already (and remains) idle.
	assert.Equal(t, StateIdle, s.state)

	frames := conn.framesSent()
	errFrame, ok := lastFrameOfType(frames, "error")
	require.True(t, ok)
	assert.Equal(t, "INVALID_STATE", errFrame["code"])
}
