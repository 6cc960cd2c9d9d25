// Package listener implements the gateway's connection accept path: the
// token auth handshake, origin filtering, frame-size cap, and the
// single-connection replacement policy.
package listener

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kyle-deprow/g2-gateway/internal/agentclient"
	"github.com/kyle-deprow/g2-gateway/internal/config"
	"github.com/kyle-deprow/g2-gateway/internal/logging"
	"github.com/kyle-deprow/g2-gateway/internal/session"
	"github.com/kyle-deprow/g2-gateway/internal/transcriber"
)

// maxFrameBytes caps an inbound WebSocket message at 64 KiB.
const maxFrameBytes = 64 * 1024

// Listener accepts WebSocket connections, authenticates them, and runs
// exactly one live Session at a time: a new connection replaces whatever
// session currently holds the slot.
type Listener struct {
	cfg         *config.Config
	logger      logging.Logger
	transcriber *transcriber.Adapter
	handlerFor  func() session.ResponseHandler

	upgrader websocket.Upgrader

	mu      sync.Mutex
	current *session.Session
}

// New builds a Listener. handlerFor is called once per accepted
// connection to obtain that session's ResponseHandler (a fresh
// OpenClawResponseHandler wrapping a fresh agentclient.Client, or a
// shared MockResponseHandler).
func New(cfg *config.Config, logger logging.Logger, tr *transcriber.Adapter, handlerFor func() session.ResponseHandler) *Listener {
	l := &Listener{
		cfg:         cfg,
		logger:      logger,
		transcriber: tr,
		handlerFor:  handlerFor,
	}
	l.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     l.checkOrigin,
	}
	return l
}

// DefaultHandlerFactory builds the ResponseHandler selection logic from
// config: an explicit OpenClaw token wires an OpenClawResponseHandler,
// otherwise sessions fall back to the mock handler.
func DefaultHandlerFactory(cfg *config.Config) func() session.ResponseHandler {
	if cfg.OpenClawGatewayToken == "" {
		return func() session.ResponseHandler { return session.MockResponseHandler{} }
	}
	return func() session.ResponseHandler {
		client := agentclient.New(cfg.OpenClawHost, cfg.OpenClawPort, cfg.OpenClawGatewayToken)
		return &session.OpenClawResponseHandler{Client: client}
	}
}

func (l *Listener) checkOrigin(r *http.Request) bool {
	allowed := l.cfg.AllowedOrigins()
	if allowed == nil {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, a := range allowed {
		if a == origin {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the connection, authenticates it, and runs a Session
// for its lifetime.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("token") != "" {
		l.logger.Warnw("client attempted query-string token auth (deprecated and disabled)", "remote", r.RemoteAddr)
	}

	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Errorf("upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	if l.cfg.RequiresAuth() {
		if !l.authenticate(conn) {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(4001, "Unauthorized"),
				time.Now().Add(time.Second))
			_ = conn.Close()
			return
		}
	}

	id := uuid.NewString()
	handler := l.handlerFor()
	sess := session.New(id, conn, handler, l.transcriber, time.Duration(l.cfg.AgentTimeoutSeconds)*time.Second, l.logger)

	old := l.claim(sess)
	if old != nil {
		l.logger.Infow("replacing existing connection", "new_session", id)
		_ = old.Conn().WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Replaced by new connection"))
		_ = old.Conn().Close()
	}

	if err := sess.Run(context.Background()); err != nil {
		l.logger.Infow("connection closed", "session", id, "reason", err)
	}
	l.release(sess)
	_ = handler.Close()
	_ = conn.Close()
}

func (l *Listener) claim(s *session.Session) *session.Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	old := l.current
	l.current = s
	return old
}

func (l *Listener) release(s *session.Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == s {
		l.current = nil
	}
}

// authFrame is the first message a client must send when the gateway
// requires a token: {"type":"auth","token":"..."}.
type authFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

func (l *Listener) authenticate(conn *websocket.Conn) bool {
	timeout := time.Duration(l.cfg.AuthTimeoutSeconds * float64(time.Second))
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})

	messageType, raw, err := conn.ReadMessage()
	if err != nil || messageType != websocket.TextMessage {
		return false
	}

	var frame authFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return false
	}
	if frame.Type != "auth" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(frame.Token), []byte(l.cfg.GatewayToken)) == 1
}

// Addr formats the configured listen address for net/http.ListenAndServe.
func (l *Listener) Addr() string {
	return fmt.Sprintf("%s:%d", l.cfg.GatewayHost, l.cfg.GatewayPort)
}
