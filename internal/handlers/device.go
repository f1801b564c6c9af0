package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/google/uuid"
)

const (
	DeviceCookie = "gc_device"
	deviceLocal  = "device"
	deviceMaxAge = 365 * 24 * time.Hour
)

// Device gives every browser a stable id. The profile and the controller
// are keyed by it.
func Device() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// the id outlives the request as a map key and store namespace, so it
		// must not alias fasthttp's reused buffer
		id := utils.CopyString(c.Cookies(DeviceCookie))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
			c.Cookie(&fiber.Cookie{
				Name:     DeviceCookie,
				Value:    id,
				Path:     "/",
				HTTPOnly: true,
				SameSite: fiber.CookieSameSiteLaxMode,
				Expires:  time.Now().Add(deviceMaxAge),
			})
		}
		c.Locals(deviceLocal, id)
		return c.Next()
	}
}

func DeviceID(c *fiber.Ctx) string {
	id, _ := c.Locals(deviceLocal).(string)
	return id
}
