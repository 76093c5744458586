package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// chatFrame is both directions of the chat socket. Clients send Message;
// the server answers with Reply, or Error and Code.
type chatFrame struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Reply   string `json:"reply,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

const (
	frameUser  = "user_message"
	frameReply = "assistant_reply"
	frameError = "error"

	wsReadTimeout  = 10 * time.Minute
	wsWriteTimeout = 10 * time.Second
)

// handleChatWS runs turns for one owner over a socket. Frames are handled in
// arrival order; each reply is written before the next frame is read.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	if owner == "" {
		owner = s.opts.DefaultOwner
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	log := s.opts.Observer.Log()
	log.Info().Str("owner", owner).Str("request_id", requestIDFrom(ctx)).Msg("chat socket opened")

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for {
		var in chatFrame
		if err := conn.ReadJSON(&in); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Str("owner", owner).Err(err).Msg("chat socket read failed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		out := s.chatReply(ctx, owner, in)
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(out); err != nil {
			log.Warn().Str("owner", owner).Err(err).Msg("chat socket write failed")
			return
		}
	}
}

func (s *Server) chatReply(ctx context.Context, owner string, in chatFrame) chatFrame {
	if in.Type != "" && in.Type != frameUser {
		return chatFrame{Type: frameError, Code: "invalid_client_message", Error: "unsupported frame type " + in.Type}
	}
	req := messageRequest{Owner: owner, Message: in.Message}
	if status, code, msg := s.inbound(&req); status != 0 {
		return chatFrame{Type: frameError, Code: code, Error: msg}
	}
	return chatFrame{Type: frameReply, Reply: s.opts.Agent.HandleTurn(ctx, owner, in.Message)}
}
