package internal

import (
	"github.com/gofiber/fiber/v2"

	"github.com/henry-inxide/WhatsApp-server/pkg/auth"
	"github.com/henry-inxide/WhatsApp-server/pkg/events"
	"github.com/henry-inxide/WhatsApp-server/pkg/metrics"
	"github.com/henry-inxide/WhatsApp-server/pkg/router"
	"github.com/henry-inxide/WhatsApp-server/pkg/store"
	pkgWhatsApp "github.com/henry-inxide/WhatsApp-server/pkg/whatsapp"

	ctlIndex "github.com/henry-inxide/WhatsApp-server/internal/index"
	ctlMessage "github.com/henry-inxide/WhatsApp-server/internal/message"
	ctlSession "github.com/henry-inxide/WhatsApp-server/internal/session"
	ctlStream "github.com/henry-inxide/WhatsApp-server/internal/stream"
)

func Routes(app *fiber.App, registry *pkgWhatsApp.Registry, st *store.Store, broker *events.Broker) {
	// Route for Index
	// ---------------------------------------------
	if router.BaseURL == "" {
		app.Get("/", ctlIndex.Index)
	} else {
		app.Get(router.BaseURL, ctlIndex.Index)
		app.Get(router.BaseURL+"/", ctlIndex.Index)
	}

	// Route for Prometheus metrics
	// ---------------------------------------------
	app.Get(router.BaseURL+"/metrics", metrics.Handler())

	// Route for Event Stream (WebSocket)
	// ---------------------------------------------
	app.Use(router.BaseURL+"/ws", ctlStream.Upgrade())
	app.Get(router.BaseURL+"/ws", ctlStream.Handler(broker))

	// Routes for Panel API (optional Basic authentication)
	// ---------------------------------------------
	api := app.Group(router.BaseURL+"/api", auth.PanelAuth())

	api.Post("/create-session", ctlSession.Create(registry))
	api.Get("/sessions", ctlSession.List(registry))
	api.Post("/sessions/:name/reconnect", ctlSession.Reconnect(registry))
	api.Post("/sessions/:name/logout", ctlSession.Logout(registry))
	api.Delete("/sessions/:name", ctlSession.Delete(registry))

	api.Post("/send-message", ctlMessage.Send(registry))
	api.Post("/send-image", ctlMessage.SendImage(registry))
	api.Get("/messages", ctlMessage.History(st))
}
