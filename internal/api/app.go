// internal/api/app.go

// Package api exposes the onboarding wizard over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	apperrors "merchant-onboarding/internal/common/errors"
	"merchant-onboarding/internal/common/logger"
	"merchant-onboarding/internal/models"
	"merchant-onboarding/internal/onboarding/sequencer"
	"merchant-onboarding/internal/onboarding/service"
	"merchant-onboarding/internal/onboarding/wizard"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service is implemented by service.Service.
type Service interface {
	Start(ctx context.Context, actor sequencer.Actor, req service.StartRequest) (*wizard.View, error)
	Get(ctx context.Context, actor sequencer.Actor, id string) (*wizard.View, error)
	SelectCustomerType(ctx context.Context, actor sequencer.Actor, id, customerType string) (*service.Outcome, error)
	SubmitStep(ctx context.Context, actor sequencer.Actor, id, step string, in wizard.Input) (*service.Outcome, error)
	Back(ctx context.Context, actor sequencer.Actor, id string) (*service.Outcome, error)
	Submit(ctx context.Context, actor sequencer.Actor, id string) (*service.Outcome, error)
	Cancel(ctx context.Context, actor sequencer.Actor, id string) error
	ListFranchises(ctx context.Context, query string) ([]models.FranchiseOption, error)
}

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

type Config struct {
	BodyLimit        int
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	AllowedOrigins   []string
	MaxDocumentBytes int64
	ReadinessChecks  map[string]Check
}

// New builds the fiber app with every route mounted.
func New(config *Config, svc Service, log logger.Logger) *fiber.App {
	log = log.WithFields(map[string]interface{}{"component": "api"})

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return ErrorHandler(c, err, log)
		},
		DisableStartupMessage: true,
		BodyLimit:             config.BodyLimit,
		ReadTimeout:           config.ReadTimeout,
		WriteTimeout:          config.WriteTimeout,
	})

	app.Use(requestid.New())
	app.Use(fiberrecover.New(fiberrecover.Config{EnableStackTrace: true}))
	if len(config.AllowedOrigins) > 0 {
		app.Use(cors.New(cors.Config{
			AllowOrigins: strings.Join(config.AllowedOrigins, ","),
			AllowMethods: "GET,POST,DELETE,OPTIONS",
			AllowHeaders: "Origin, Content-Type, Accept, " + HeaderUserType + ", " + HeaderFranchiseID,
		}))
	}

	app.Get("/health", healthCheck)
	app.Get("/ready", readinessCheck(config.ReadinessChecks))
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	h := &handlers{svc: svc, maxDocumentBytes: config.MaxDocumentBytes, logger: log}

	v1 := app.Group("/v1/onboarding", ActorMiddleware())
	v1.Get("/franchises", h.listFranchises)

	sessions := v1.Group("/sessions")
	sessions.Post("/", h.start)
	sessions.Get("/:id", h.get)
	sessions.Delete("/:id", h.cancel)
	sessions.Post("/:id/customer-type", h.selectCustomerType)
	sessions.Post("/:id/steps/:kind", h.submitStep)
	sessions.Post("/:id/back", h.back)
	sessions.Post("/:id/submit", h.submit)

	return app
}

func healthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func readinessCheck(checks map[string]Check) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		status := fiber.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = fiber.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		state := "ready"
		if status != fiber.StatusOK {
			state = "not_ready"
		}
		return c.Status(status).JSON(fiber.Map{
			"status": state,
			"checks": results,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// ErrorRes is the body of every error response.
type ErrorRes struct {
	Error *apperrors.StandardError `json:"error"`
}

// ErrorHandler renders application errors as JSON with a status matching
// the error code. Fiber errors keep their own status.
func ErrorHandler(c *fiber.Ctx, err error, log logger.Logger) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code := apperrors.ErrCodeInvalidRequest
		switch fe.Code {
		case fiber.StatusNotFound:
			code = apperrors.ErrCodeNotFound
		case fiber.StatusInternalServerError:
			code = apperrors.ErrCodeInternal
		}
		return c.Status(fe.Code).JSON(ErrorRes{Error: &apperrors.StandardError{
			Code:      code,
			Message:   fe.Message,
			Timestamp: time.Now().UTC(),
		}})
	}

	stdErr := apperrors.Normalize(err)
	status := StatusFor(stdErr.Code)

	fields := map[string]interface{}{
		"httpStatusCode": status,
		"httpMethod":     c.Method(),
		"httpPath":       c.Path(),
		"errorCode":      string(stdErr.Code),
		"details":        stdErr.Details,
	}
	if status >= fiber.StatusInternalServerError {
		log.Error("request failed", fields)
	} else {
		log.Debug("request rejected", fields)
	}

	return c.Status(status).JSON(ErrorRes{Error: stdErr})
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeValidationFailed:
		return http.StatusUnprocessableEntity
	case apperrors.ErrCodeSessionNotFound, apperrors.ErrCodeEntityNotFound, apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeStepMismatch, apperrors.ErrCodeInvalidCustomerType, apperrors.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case apperrors.ErrCodeSubmissionInFlight, apperrors.ErrCodeSessionConflict, apperrors.ErrCodeSessionClosed:
		return http.StatusConflict
	case apperrors.ErrCodeSubmissionFailed:
		return http.StatusBadGateway
	case apperrors.ErrCodeBackendTimeout:
		return http.StatusGatewayTimeout
	case apperrors.ErrCodeCacheUnavailable, apperrors.ErrCodeDatabaseConnectionFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
