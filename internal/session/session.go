package session

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	typPanel "github.com/henry-inxide/WhatsApp-server/internal/types"
	"github.com/henry-inxide/WhatsApp-server/pkg/log"
	"github.com/henry-inxide/WhatsApp-server/pkg/router"
	"github.com/henry-inxide/WhatsApp-server/pkg/store"
	"github.com/henry-inxide/WhatsApp-server/pkg/validation"
	pkgWhatsApp "github.com/henry-inxide/WhatsApp-server/pkg/whatsapp"
)

func respondError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, pkgWhatsApp.ErrSessionNameEmpty),
		errors.Is(err, pkgWhatsApp.ErrNoActiveSession):
		return router.ResponseBadRequest(c, err.Error())
	case errors.Is(err, store.ErrSessionNotFound):
		return router.ResponseNotFound(c, err.Error())
	default:
		return router.ResponseInternalError(c, err.Error())
	}
}

// Create starts session setup. The QR code and connection outcome arrive
// over the event stream, not in this response.
func Create(registry *pkgWhatsApp.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req typPanel.RequestCreateSession
		if err := c.BodyParser(&req); err != nil {
			log.Print(c).Warn("Failed to parse body request")
			return router.ResponseBadRequest(c, "Failed to parse body request")
		}

		if err := validation.ValidateSessionName(req.SessionName); err != nil {
			log.SessionOp(req.SessionName, "create").Warn(err.Error())
			return router.ResponseBadRequest(c, err.Error())
		}

		if err := registry.Create(c.UserContext(), req.SessionName); err != nil {
			log.SessionOp(req.SessionName, "create").WithError(err).Error("Failed to create session")
			return respondError(c, err)
		}

		log.SessionOp(req.SessionName, "create").Info("Session setup started")
		return router.ResponseSuccess(c, "Session created, scan QR")
	}
}

// List returns all persisted sessions, newest first, as a bare array.
func List(registry *pkgWhatsApp.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sessions, err := registry.List(c.UserContext())
		if err != nil {
			log.Print(c).WithError(err).Error("Failed to list sessions")
			return router.ResponseInternalError(c, err.Error())
		}
		return router.ResponseJSON(c, sessions)
	}
}

// Reconnect re-runs session setup for a known name, reusing saved
// credentials.
func Reconnect(registry *pkgWhatsApp.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		name := c.Params("name")
		if err := validation.ValidateSessionName(name); err != nil {
			return router.ResponseBadRequest(c, err.Error())
		}

		if err := registry.Reconnect(c.UserContext(), name); err != nil {
			log.SessionOp(name, "reconnect").WithError(err).Error("Failed to reconnect session")
			return respondError(c, err)
		}

		log.SessionOp(name, "reconnect").Info("Session reconnect started")
		return router.ResponseSuccess(c, "Session reconnect started")
	}
}

// Logout unlinks the session's device. The operator must create a new
// session to relink.
func Logout(registry *pkgWhatsApp.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		name := c.Params("name")
		if err := validation.ValidateSessionName(name); err != nil {
			return router.ResponseBadRequest(c, err.Error())
		}

		if err := registry.Logout(c.UserContext(), name); err != nil {
			log.SessionOp(name, "logout").WithError(err).Error("Failed to logout session")
			return respondError(c, err)
		}

		log.SessionOp(name, "logout").Info("Session logged out")
		return router.ResponseSuccess(c, "Session logged out")
	}
}

// Delete removes a session administratively, unlinking first when live.
func Delete(registry *pkgWhatsApp.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		name := c.Params("name")
		if err := validation.ValidateSessionName(name); err != nil {
			return router.ResponseBadRequest(c, err.Error())
		}

		if err := registry.Delete(c.UserContext(), name); err != nil {
			log.SessionOp(name, "delete").WithError(err).Error("Failed to delete session")
			return respondError(c, err)
		}

		log.SessionOp(name, "delete").Info("Session deleted")
		return router.ResponseSuccess(c, "Session deleted")
	}
}
