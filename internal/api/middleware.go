// internal/api/middleware.go
package api

import (
	"strings"

	apperrors "merchant-onboarding/internal/common/errors"
	"merchant-onboarding/internal/onboarding/sequencer"

	"github.com/gofiber/fiber/v2"
)

// Headers set by the gateway after authentication.
const (
	HeaderUserType    = "X-User-Type"
	HeaderFranchiseID = "X-Franchise-Id"
)

const actorKey = "actor"

// ActorMiddleware reads the acting user from the gateway headers.
func ActorMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userType := strings.ToLower(strings.TrimSpace(c.Get(HeaderUserType)))
		franchiseID := strings.TrimSpace(c.Get(HeaderFranchiseID))

		switch userType {
		case sequencer.UserTypeAdmin:
			franchiseID = ""
		case sequencer.UserTypeFranchise:
			if franchiseID == "" {
				return apperrors.NewInvalidRequestError(HeaderFranchiseID + " is required for franchise users")
			}
		case "":
			return apperrors.NewInvalidRequestError(HeaderUserType + " header is required")
		default:
			return apperrors.NewInvalidRequestError("unknown user type " + userType)
		}

		c.Locals(actorKey, sequencer.Actor{UserType: userType, FranchiseID: franchiseID})
		return c.Next()
	}
}

func actorFrom(c *fiber.Ctx) sequencer.Actor {
	actor, _ := c.Locals(actorKey).(sequencer.Actor)
	return actor
}
