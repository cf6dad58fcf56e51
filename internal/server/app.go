package server

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/velop/velop/internal/logging"
)

// AppOptions controls how the Fiber application is assembled.
type AppOptions struct {
	Logger *logrus.Logger
}

const contextKeyRequestID = "_velop_request_id"

// NewApp builds a Fiber application with panic recovery, request IDs and a
// JSON error handler. Stages and route handlers are appended by the caller.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ErrorHandler:  errorHandler(opts.Logger),
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	return app, nil
}

// requestIDMiddleware 负责生成请求 ID，并写入响应头。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set(fiber.HeaderXRequestID, reqID)
		return c.Next()
	}
}

// errorHandler 将请求级错误统一渲染为 {"error": code}。
func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "internal_error"

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			code = fiberErr.Code
			message = errorCode(fiberErr)
		}

		fields := logging.RequestFields(RequestID(c), c.Method(), c.Path(), code)
		fields["action"] = "request_error"
		entry := logger.WithFields(fields).WithError(err)
		if code >= fiber.StatusInternalServerError {
			entry.Error("request failed")
		} else {
			entry.Debug("request rejected")
		}

		if reqID := RequestID(c); reqID != "" {
			c.Set(fiber.HeaderXRequestID, reqID)
		}
		return c.Status(code).JSON(fiber.Map{
			"error": message,
		})
	}
}

// errorCode 将 fiber.Error 的消息转换为 snake_case 错误码，例如 "Not Found" -> "not_found"。
func errorCode(err *fiber.Error) string {
	msg := strings.TrimSpace(err.Message)
	if msg == "" {
		msg = fiber.ErrInternalServerError.Message
	}
	return strings.ReplaceAll(strings.ToLower(msg), " ", "_")
}

// RequestID returns the request identifier stored by the request ID middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
