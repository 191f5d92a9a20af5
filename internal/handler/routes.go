package handler

import (
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/lingosum/intake/internal/config"
	"github.com/lingosum/intake/internal/middleware"
	ws "github.com/lingosum/intake/internal/websocket"
)

// Handlers groups everything mounted by RegisterRoutes. Batches and Hub are
// optional.
type Handlers struct {
	Intake    *IntakeHandler
	Batches   *BatchHandler
	Summarize *SummarizeHandler
	Hub       *ws.Hub
}

// RegisterRoutes mounts the health check, the intake API and the session
// WebSocket stream on app
func RegisterRoutes(app *fiber.App, h *Handlers, auth fiber.Handler, rl *middleware.RateLimiter, limits config.RateLimitConfig) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// API routes
	api := app.Group("/api", auth)

	// Session routes
	sessions := api.Group("/sessions")
	sessions.Post("/", h.Intake.CreateSession)
	sessions.Get("/:sessionId", h.Intake.GetSession)
	sessions.Delete("/:sessionId", h.Intake.CloseSession)
	sessions.Post("/:sessionId/files", rl.UploadLimit(limits.UploadPerHour), h.Intake.AddFiles)
	sessions.Post("/:sessionId/shared", rl.UploadLimit(limits.UploadPerHour), h.Intake.AttachShared)
	sessions.Delete("/:sessionId/files/:handle", h.Intake.RemoveFile)
	sessions.Post("/:sessionId/batches", rl.BatchLimit(limits.BatchPerHour), h.Intake.StartBatch)

	// Batch job routes
	if h.Batches != nil {
		batches := api.Group("/batches")
		batches.Get("/:jobId", h.Batches.Status)
		batches.Get("/:jobId/result", h.Batches.Result)
	}

	// Text intake routes
	api.Post("/summarize", rl.SummarizeLimit(limits.SummarizePerMin), h.Summarize.Summarize)
	api.Get("/languages", h.Summarize.Languages)

	if h.Hub == nil {
		return
	}

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}, auth)

	app.Get("/ws/sessions/:sessionId", websocket.New(func(c *websocket.Conn) {
		h.Hub.HandleConnection(c, strings.Clone(c.Params("sessionId")))
	}))
}
