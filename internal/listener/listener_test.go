package listener

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyle-deprow/g2-gateway/internal/config"
	"github.com/kyle-deprow/g2-gateway/internal/session"
)

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any)           {}
func (nopLogger) Info(...any)                     {}
func (nopLogger) Infof(string, ...any)            {}
func (nopLogger) Errorf(string, ...any)           {}
func (nopLogger) Warnw(string, ...any)            {}
func (nopLogger) Infow(string, ...any)            {}
func (nopLogger) Benchmark(string, time.Duration) {}
func (nopLogger) Sync() error                     { return nil }

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestAuthHandshakeAcceptsValidToken(t *testing.T) {
	cfg := &config.Config{GatewayHost: "127.0.0.1", GatewayPort: 0, GatewayToken: "sekret", AuthTimeoutSeconds: 1, AgentTimeoutSeconds: 5}
	l := New(cfg, nopLogger{}, nil, func() session.ResponseHandler { return session.MockResponseHandler{} })
	srv := httptest.NewServer(http.HandlerFunc(l.ServeHTTP))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": "sekret"}))

	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(raw), "connected")
}

func TestAuthHandshakeRejectsInvalidToken(t *testing.T) {
	cfg := &config.Config{GatewayHost: "127.0.0.1", GatewayPort: 0, GatewayToken: "sekret", AuthTimeoutSeconds: 1, AgentTimeoutSeconds: 5}
	l := New(cfg, nopLogger{}, nil, func() session.ResponseHandler { return session.MockResponseHandler{} })
	srv := httptest.NewServer(http.HandlerFunc(l.ServeHTTP))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": "wrong"}))

	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok)
	assert.Equal(t, 4001, closeErr.Code)
}

func TestSingleConnectionReplacement(t *testing.T) {
	cfg := &config.Config{GatewayHost: "127.0.0.1", GatewayPort: 0, AuthTimeoutSeconds: 1, AgentTimeoutSeconds: 5}
	l := New(cfg, nopLogger{}, nil, func() session.ResponseHandler { return session.MockResponseHandler{} })
	srv := httptest.NewServer(http.HandlerFunc(l.ServeHTTP))
	defer srv.Close()

	first, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL), nil)
	require.NoError(t, err)
	defer first.Close()
	_, _, err = first.ReadMessage() // connected
	require.NoError(t, err)
	_, _, err = first.ReadMessage() // status=idle
	require.NoError(t, err)

	second, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL), nil)
	require.NoError(t, err)
	defer second.Close()

	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = first.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
}
