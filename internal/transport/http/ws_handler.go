package http

import (
	"context"
	"errors"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/Hammer-Institute/boiler/internal/auth"
	"github.com/Hammer-Institute/boiler/internal/gateway"
	"github.com/Hammer-Institute/boiler/internal/proto"
)

// WSHandler upgrades gateway connections and feeds them into the protocol
// state machine. Token verification happens before the upgrade; only
// authenticated identities reach the gateway.
type WSHandler struct {
	gw          *gateway.Gateway
	authService *auth.Service
	log         *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(gw *gateway.Gateway, authService *auth.Service, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{gw: gw, authService: authService, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	token := r.URL.Query().Get("token")
	user, err := h.authService.VerifyConnectionToken(r.Context(), token)
	if err != nil {
		stdhttp.Error(w, "invalid token", stdhttp.StatusUnauthorized)
		return
	}

	// Cosmetic only; a decode failure degrades to a placeholder and never
	// affects the connection.
	displayName := h.authService.DisplayName(token)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}

	sess, err := h.gw.Attach(&wsConn{conn: conn}, user)
	if err != nil {
		if errors.Is(err, gateway.ErrAlreadyConnected) {
			// Second session for a live identity: close the new connection
			// with no error frame, leaving the original untouched.
			h.log.Info().Int64("user_id", user.ID).Str("display_name", displayName).Msg("duplicate connection rejected")
			conn.Close(websocket.StatusPolicyViolation, "")
			return
		}
		h.log.Warn().Err(err).Int64("user_id", user.ID).Msg("failed to attach session")
		conn.Close(websocket.StatusInternalError, "")
		return
	}
	defer sess.Close("connection closed")

	h.log.Info().
		Int64("user_id", user.ID).
		Str("display_name", displayName).
		Str("session_id", sess.ID).
		Msg("gateway connection open")

	// Frames are read and handled one at a time, so a connection's traffic
	// is processed strictly in arrival order.
	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			h.readClosed(err, sess)
			return
		}
		if err := sess.Handle(ctx, data); err != nil {
			h.log.Debug().Err(err).Str("session_id", sess.ID).Msg("session terminated")
			return
		}
	}
}

func (h *WSHandler) readClosed(err error, sess *gateway.Session) {
	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
		return
	}
	h.log.Debug().Err(err).Str("session_id", sess.ID).Msg("ws read ended")
}

// wsConn adapts a websocket connection to the gateway transport interface.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) WriteFrame(ctx context.Context, frame proto.Outbound) error {
	return wsjson.Write(ctx, c.conn, frame)
}

func (c *wsConn) Close(reason string) {
	_ = c.conn.Close(websocket.StatusNormalClosure, reason)
}
