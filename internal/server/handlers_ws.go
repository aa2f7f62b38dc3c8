package server

import (
	"context"
	"net/http"

	"nhooyr.io/websocket"
)

func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // allow any origin (token auth is sufficient)
	})
	if err != nil {
		s.log.Warnf("ws: accept failed for %s: %v", s.runID, err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	if s.streamLogs(ctx, conn) {
		conn.Close(websocket.StatusNormalClosure, "done")
	}
}

// streamLogs sends the backlog, then live lines until the run finishes. It
// reports false when the client went away first.
func (s *Server) streamLogs(ctx context.Context, conn *websocket.Conn) bool {
	backlog, ch, unsub := s.hub.Subscribe(s.runID)
	defer unsub()

	for _, line := range backlog {
		if err := conn.Write(ctx, websocket.MessageText, []byte(line)); err != nil {
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return false
		case line, ok := <-ch:
			if !ok {
				return true
			}
			if err := conn.Write(ctx, websocket.MessageText, []byte(line)); err != nil {
				return false
			}
		}
	}
}
