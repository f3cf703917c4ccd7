package router

import (
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/henry-inxide/WhatsApp-server/pkg/log"
)

// SuccessResponse is the panel's success envelope.
type SuccessResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse carries a caller-visible error message.
type ErrorResponse struct {
	Error string `json:"error"`
}

func logSuccess(c *fiber.Ctx, code int, message string) {
	if message == "" {
		message = http.StatusText(code)
	}
	log.Print(c).Info(fmt.Sprintf("%d %v", code, message))
}

func logError(c *fiber.Ctx, code int, message string) {
	if message == "" {
		message = http.StatusText(code)
	}
	log.Print(c).Error(fmt.Sprintf("%d %v", code, message))
}

func ResponseSuccess(c *fiber.Ctx, message string) error {
	logSuccess(c, http.StatusOK, message)
	return c.Status(http.StatusOK).JSON(SuccessResponse{Success: true, Message: message})
}

func ResponseSuccessWithData(c *fiber.Ctx, message string, data interface{}) error {
	logSuccess(c, http.StatusOK, message)
	return c.Status(http.StatusOK).JSON(SuccessResponse{Success: true, Message: message, Data: data})
}

// ResponseJSON writes a raw JSON body without the envelope. Used by list
// endpoints whose consumers expect a bare array.
func ResponseJSON(c *fiber.Ctx, data interface{}) error {
	logSuccess(c, http.StatusOK, "")
	return c.Status(http.StatusOK).JSON(data)
}

func ResponseNoContent(c *fiber.Ctx) error {
	return c.SendStatus(http.StatusNoContent)
}

func ResponseBadRequest(c *fiber.Ctx, message string) error {
	logError(c, http.StatusBadRequest, message)
	if message == "" {
		message = http.StatusText(http.StatusBadRequest)
	}
	return c.Status(http.StatusBadRequest).JSON(ErrorResponse{Error: message})
}

func ResponseNotFound(c *fiber.Ctx, message string) error {
	logError(c, http.StatusNotFound, message)
	if message == "" {
		message = http.StatusText(http.StatusNotFound)
	}
	return c.Status(http.StatusNotFound).JSON(ErrorResponse{Error: message})
}

func ResponseAuthenticate(c *fiber.Ctx) error {
	c.Set("WWW-Authenticate", `Basic realm="Authentication Required"`)
	return ResponseUnauthorized(c, "")
}

func ResponseUnauthorized(c *fiber.Ctx, message string) error {
	logError(c, http.StatusUnauthorized, message)
	if message == "" {
		message = http.StatusText(http.StatusUnauthorized)
	}
	return c.Status(http.StatusUnauthorized).JSON(ErrorResponse{Error: message})
}

func ResponseInternalError(c *fiber.Ctx, message string) error {
	logError(c, http.StatusInternalServerError, message)
	if message == "" {
		message = http.StatusText(http.StatusInternalServerError)
	}
	return c.Status(http.StatusInternalServerError).JSON(ErrorResponse{Error: message})
}
