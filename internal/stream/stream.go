package stream

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/henry-inxide/WhatsApp-server/pkg/events"
	"github.com/henry-inxide/WhatsApp-server/pkg/log"
)

// Upgrade rejects plain HTTP requests on the stream endpoint before the
// WebSocket handler takes over.
func Upgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// Handler pushes every broker event to the connected client as JSON. The
// connection closes when the client goes away or its subscription lapses.
func Handler(broker *events.Broker) fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		defer conn.Close()

		sub, cancel := broker.Subscribe()
		defer cancel()

		remote := conn.RemoteAddr().String()
		log.Logger().WithField("remote_ip", remote).Info("Event stream client connected")

		// Drain client frames so close handshakes and pings are handled,
		// and so we notice the peer going away.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case evt, ok := <-sub:
				if !ok {
					return
				}
				if err := conn.WriteJSON(evt); err != nil {
					log.Logger().WithField("remote_ip", remote).WithError(err).Warn("Event stream write failed")
					return
				}
			case <-done:
				log.Logger().WithField("remote_ip", remote).Info("Event stream client disconnected")
				return
			}
		}
	})
}
