package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

// StreamTraining handles GET /training/stream. It upgrades to a websocket and
// pushes the training status once per tick interval until the client leaves.
func (h *Handler) StreamTraining(c *gin.Context) {
	id := c.Query("id")
	if _, err := h.orch.TrainingStatus(id); err != nil {
		h.fail(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	// The client only sends control frames; reading surfaces its close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.streamInterval)
	defer ticker.Stop()

	for {
		rec, err := h.orch.TrainingStatus(id)
		if err != nil {
			return
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(h.converter.TrainingResponse(rec)); err != nil {
			log.Debug().Err(err).Msg("Training stream closed")
			return
		}

		select {
		case <-ticker.C:
		case <-gone:
			return
		case <-c.Request.Context().Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return
		}
	}
}
