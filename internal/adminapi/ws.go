package adminapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type upgrader struct {
	ws websocket.Upgrader
}

func newUpgrader() *upgrader {
	return &upgrader{ws: websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// Operators connect from arbitrary admin tooling; the bearer
		// token already gates access, so origin isn't a meaningful
		// second check here.
		CheckOrigin: func(r *http.Request) bool { return true },
	}}
}

const wsWriteTimeout = 5 * time.Second

// handleWebsocket upgrades the connection and streams every registry
// change as a JSON message until the client disconnects.
func (s *Server) handleWebsocket(c *gin.Context) {
	conn, err := s.upgrader.ws.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	changes, cancel := s.registry.Changes(32)
	defer cancel()

	for m := range changes {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(toMemberView(m)); err != nil {
			return
		}
	}
}
