package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/snditnz/verbumcare-demo-sub003/internal/events"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Demo deployments run the app and the API on different origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamEvents upgrades GET /api/voice/stream/:ownerId to a websocket and
// relays the owner's progress events until either side disconnects. Missed
// events are not replayed; clients reconcile with the status endpoint.
func streamEvents(hub *events.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID, err := uuid.Parse(c.Param("ownerId"))
		if err != nil {
			failMsg(c, http.StatusBadRequest, "invalid owner id")
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote its own error response.
			return
		}

		sub := hub.Subscribe(ownerID)
		defer sub.Close()
		defer conn.Close()

		// Reader goroutine only notices the client going away.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			case <-c.Request.Context().Done():
				return
			}
		}
	}
}
