package index

import (
	"github.com/gofiber/fiber/v2"

	"github.com/henry-inxide/WhatsApp-server/pkg/router"
)

// Index reports that the backend is up.
func Index(c *fiber.Ctx) error {
	return router.ResponseSuccess(c, "WhatsApp control panel backend is running")
}
