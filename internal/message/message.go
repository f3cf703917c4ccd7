package message

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

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
	case errors.Is(err, pkgWhatsApp.ErrNoActiveSession),
		errors.Is(err, pkgWhatsApp.ErrSendRateExceeded):
		return router.ResponseBadRequest(c, err.Error())
	case errors.Is(err, store.ErrSessionNotFound):
		return router.ResponseNotFound(c, err.Error())
	default:
		return router.ResponseInternalError(c, err.Error())
	}
}

// Send delivers a text message through a connected session. A failed
// delivery is still recorded in history with a failed status.
func Send(registry *pkgWhatsApp.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req typPanel.RequestSendMessage
		if err := c.BodyParser(&req); err != nil {
			log.Print(c).Warn("Failed to parse body request")
			return router.ResponseBadRequest(c, "Failed to parse body request")
		}

		if err := validateSendRequest(req.SessionName, req.Phone, req.Message); err != nil {
			return router.ResponseBadRequest(c, err.Error())
		}

		record, err := registry.Send(c.UserContext(), req.SessionName, req.Phone, req.Message)
		if err != nil {
			log.SessionOp(req.SessionName, "send-message").WithError(err).Error("Failed to send message")
			return respondError(c, err)
		}

		log.SessionOp(req.SessionName, "send-message").Info("Message sent")
		return router.ResponseSuccessWithData(c, "Message sent", record)
	}
}

// SendImage delivers an image with an optional caption. The image arrives
// base64 encoded, with or without a data URI prefix.
func SendImage(registry *pkgWhatsApp.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req typPanel.RequestSendImage
		if err := c.BodyParser(&req); err != nil {
			log.Print(c).Warn("Failed to parse body request")
			return router.ResponseBadRequest(c, "Failed to parse body request")
		}

		if err := validation.ValidateSessionName(req.SessionName); err != nil {
			return router.ResponseBadRequest(c, err.Error())
		}
		if err := validation.ValidatePhone(req.Phone); err != nil {
			return router.ResponseBadRequest(c, err.Error())
		}

		image, mimeType, err := decodeImagePayload(req.Image)
		if err != nil {
			return router.ResponseBadRequest(c, err.Error())
		}

		record, err := registry.SendImage(c.UserContext(), req.SessionName, req.Phone, image, mimeType, req.Caption)
		if err != nil {
			log.SessionOp(req.SessionName, "send-image").WithError(err).Error("Failed to send image")
			return respondError(c, err)
		}

		log.SessionOp(req.SessionName, "send-image").Info("Image sent")
		return router.ResponseSuccessWithData(c, "Image sent", record)
	}
}

// History lists recorded messages, optionally filtered to one session via
// the session query parameter.
func History(st *store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sessionName := c.Query("session")

		var (
			messages []store.Message
			err      error
		)
		if sessionName == "" {
			messages, err = st.ListAllMessages(c.UserContext())
		} else {
			if err := validation.ValidateSessionName(sessionName); err != nil {
				return router.ResponseBadRequest(c, err.Error())
			}
			messages, err = st.ListMessages(c.UserContext(), sessionName)
		}
		if errors.Is(err, store.ErrSessionNotFound) {
			return router.ResponseNotFound(c, err.Error())
		}
		if err != nil {
			log.Print(c).WithError(err).Error("Failed to list messages")
			return router.ResponseInternalError(c, err.Error())
		}
		return router.ResponseJSON(c, messages)
	}
}

func validateSendRequest(sessionName string, phone string, body string) error {
	if err := validation.ValidateSessionName(sessionName); err != nil {
		return err
	}
	if err := validation.ValidatePhone(phone); err != nil {
		return err
	}
	return validation.ValidateMessage(body)
}

// decodeImagePayload accepts raw base64 or a data URI and returns the bytes
// plus a sniffed content type.
func decodeImagePayload(payload string) ([]byte, string, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, "", errors.New("image is required")
	}

	if strings.HasPrefix(payload, "data:") {
		_, encoded, found := strings.Cut(payload, ",")
		if !found {
			return nil, "", errors.New("malformed image data URI")
		}
		payload = encoded
	}

	image, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", errors.New("image is not valid base64")
	}

	mimeType := http.DetectContentType(image)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, "", errors.New("payload is not an image")
	}
	return image, mimeType, nil
}
