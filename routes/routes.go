package routes

import (
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	controller "outreach/controllers"
	"outreach/middleware"
)

// Handlers bundles the controllers mounted under /api/v1
type Handlers struct {
	Dispatch  *controller.DispatchController
	Selection *controller.SelectionController
	Contacts  *controller.ContactController
	Sequences *controller.SequenceController
	Progress  *controller.ProgressHub

	DispatchRateLimit int
	Redis             *redis.Client
	Logger            *logrus.Logger
}

func SetupRoutes(app *fiber.App, h Handlers) {
	if h.Logger == nil {
		h.Logger = logrus.StandardLogger()
	}

	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Selection baseline routes
	sel := api.Group("/selection")
	sel.Put("/baseline", h.Selection.SetBaseline)
	sel.Delete("/baseline", h.Selection.ClearBaseline)

	// Dispatch routes
	dispatch := api.Group("/dispatch")
	dispatch.Post("/", middleware.DispatchRateLimiter(h.DispatchRateLimit, h.Redis), h.Dispatch.Dispatch)
	dispatch.Use("/progress", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	dispatch.Get("/progress", websocket.New(controller.HandleDispatchProgressWS(
		h.Progress, h.Logger.WithField("component", "progress_ws"),
	)))

	// Contact routes
	contacts := api.Group("/contacts")
	contacts.Get("/", h.Contacts.GetContacts)
	contacts.Post("/", h.Contacts.CreateContact)
	contacts.Post("/demo", h.Contacts.CreateDemoContact)
	contacts.Get("/:email", h.Contacts.GetContact)
	contacts.Post("/:email/:action", h.Contacts.Transition)

	api.Get("/sequences", h.Sequences.GetSequences)
	api.Get("/quota", h.Dispatch.Quota)

	h.Logger.Info("API routes initialized successfully")
}
