package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/carelink/realtime/internal/core"
)

const writeWait = 5 * time.Second

func (e *Endpoint) writePump(ctx context.Context, c *Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", e.name).Msg("writePump set deadline")
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Error().Err(err).Str("module", e.name).Msg("writePump write error")
				return
			}
		}
	}
}

func (e *Endpoint) readPump(ctx context.Context, c *Conn) {
	defer func() {
		log.Info().Str("module", e.name).Str("conn", string(c.id)).Msg("readPump closing")
		e.conns.Remove(c.id)
		e.handler.HandleDisconnect(ctx, c)
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.ws.ReadMessage()
			if err != nil {
				return
			}
			var env core.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				log.Error().Err(err).Str("module", e.name).Msg("bad json")
				continue
			}
			e.handler.HandleFrame(ctx, c, env)
		}
	}
}
