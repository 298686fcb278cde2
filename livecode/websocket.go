package livecode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/isdmx/livecode/sandbox"
)

// Message types of the websocket protocol.
const (
	MsgWelcome = "welcome"
	MsgPing    = "ping"
	MsgPong    = "pong"
	MsgQuit    = "quit"
	MsgGoodbye = "goodbye"
	MsgExec    = "exec"
	MsgError   = "error"
)

type envelope struct {
	MsgType string `json:"msgtype"`
}

type statusMessage struct {
	MsgType string `json:"msgtype"`
	Message string `json:"message,omitempty"`
}

type errorMessage struct {
	MsgType string          `json:"msgtype"`
	Error   string          `json:"error"`
	Msg     json.RawMessage `json:"msg,omitempty"`
}

func (s *Server) handleLivecode(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket handshake failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "handler exited unexpectedly")

	ctx := r.Context()
	if err := wsjson.Write(ctx, conn, statusMessage{MsgType: MsgWelcome, Message: "welcome to livecode"}); err != nil {
		s.logger.Debug("failed to greet client", zap.Error(err))
		return
	}

	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			if isClientGone(err) {
				return
			}
			s.logger.Warn("failed to read websocket message", zap.Error(err))
			conn.Close(websocket.StatusUnsupportedData, "invalid message")
			return
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			if err := wsjson.Write(ctx, conn, errorMessage{MsgType: MsgError, Error: "message is not a JSON object"}); err != nil {
				return
			}
			continue
		}

		switch env.MsgType {
		case MsgPing:
			err = wsjson.Write(ctx, conn, statusMessage{MsgType: MsgPong})
		case MsgQuit:
			_ = wsjson.Write(ctx, conn, statusMessage{MsgType: MsgGoodbye})
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case MsgExec:
			s.wsExec(ctx, conn, raw)
			conn.Close(websocket.StatusNormalClosure, "")
			return
		default:
			err = wsjson.Write(ctx, conn, errorMessage{
				MsgType: MsgError,
				Error:   fmt.Sprintf("Unknown message type: %s", env.MsgType),
				Msg:     raw,
			})
		}
		if err != nil {
			s.logger.Debug("failed to write websocket message", zap.Error(err))
			return
		}
	}
}

// wsExec runs one request and forwards its messages. The client may only
// close the connection from now on; CloseRead cancels ctx when it does.
func (s *Server) wsExec(ctx context.Context, conn *websocket.Conn, raw json.RawMessage) {
	var req sandbox.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		_ = wsjson.Write(ctx, conn, errorMessage{MsgType: MsgError, Error: "invalid exec message: " + err.Error(), Msg: raw})
		return
	}

	ctx, cancel := context.WithCancel(conn.CloseRead(ctx))
	defer cancel()

	messages, err := s.executor.Execute(ctx, req)
	if err != nil {
		s.logger.Warn("exec rejected", zap.String("runtime", req.Runtime), zap.Error(err))
		_ = wsjson.Write(ctx, conn, errorMessage{MsgType: MsgError, Error: err.Error()})
		return
	}

	for msg := range messages {
		if err := wsjson.Write(ctx, conn, msg); err != nil {
			s.logger.Debug("client went away during exec", zap.Error(err))
			cancel()
			// Wait for teardown; the channel closes once the sandbox is gone.
			for range messages {
			}
			return
		}
	}
}

func isClientGone(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusNoStatusRcvd:
		return true
	}
	return errors.Is(err, context.Canceled)
}
