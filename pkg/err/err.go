package errprocess

import (
	"errors"

	"chat_stream_service/internal/chat/domain"
	"chat_stream_service/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Set set err info
func Set(errMsg string) error {
	logger.Log.Error(errMsg)
	return errors.New(errMsg)
}

// Status map a domain error to the http status returned to clients
func Status(err error) int {
	switch {
	case err == nil:
		return fiber.StatusOK
	case errors.Is(err, domain.ErrMessageNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrNotMessageOwner):
		return fiber.StatusForbidden
	case errors.Is(err, domain.ErrInvalidReaction),
		errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, domain.ErrUploadFailure):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrStoreUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// Respond log err and write {"error": ...} with the mapped status
func Respond(c *fiber.Ctx, err error, fields ...zap.Field) error {
	status := Status(err)
	if status >= fiber.StatusInternalServerError {
		logger.Log.Error(err.Error(), append(fields, zap.String("path", c.Path()))...)
	} else {
		logger.Log.Warn(err.Error(), append(fields, zap.String("path", c.Path()))...)
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
