package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/henry-inxide/WhatsApp-server/pkg/env"
	"github.com/henry-inxide/WhatsApp-server/pkg/router"
)

var panelUsername, panelPassword string

func init() {
	panelUsername, _ = env.GetEnvString("PANEL_AUTH_USERNAME")
	panelPassword, _ = env.GetEnvString("PANEL_AUTH_PASSWORD")
}

// Enabled reports whether panel authentication is configured. The default
// single-operator deployment runs without credentials.
func Enabled() bool {
	return panelUsername != "" && panelPassword != ""
}

// PanelAuth validates HTTP basic credentials against the configured
// operator account. A no-op when no credentials are configured.
func PanelAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !Enabled() {
			return c.Next()
		}

		header := c.Get("Authorization")
		if header == "" {
			return router.ResponseAuthenticate(c)
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "basic") {
			return router.ResponseUnauthorized(c, "Invalid Authorization header format")
		}

		decoded, err := base64.StdEncoding.DecodeString(parts[1])
		if err != nil {
			return router.ResponseUnauthorized(c, "Invalid basic auth encoding")
		}

		creds := strings.SplitN(string(decoded), ":", 2)
		if len(creds) != 2 {
			return router.ResponseUnauthorized(c, "Invalid basic auth credentials")
		}

		userOK := subtle.ConstantTimeCompare([]byte(creds[0]), []byte(panelUsername)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(creds[1]), []byte(panelPassword)) == 1
		if !userOK || !passOK {
			return router.ResponseUnauthorized(c, "Invalid username or password")
		}

		return c.Next()
	}
}
