package router

import (
	"context"

	"chat_stream_service/internal/chat/app"
	"chat_stream_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes 注册 chat 相關的路由
func RegisterRoutes(r *fiber.App, chatHTTP *app.ChatHTTPHandler, chatWebsocket *app.ChatWebsocketHandler) {
	r.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	r.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := r.Group("/", middlewares.JWTMiddleware())

	api.Get("/ws", websocket.New(func(c *websocket.Conn) {
		chatWebsocket.HandleConnection(context.Background(), c)
	}))

	conv := api.Group("/conversations/:id")
	conv.Get("/messages", chatHTTP.ListMessages)
	conv.Post("/messages/lookup", chatHTTP.LookupMessages)
	conv.Post("/messages", chatHTTP.SendMessage)
	conv.Post("/messages/:mid/reactions", chatHTTP.AddReaction)
	conv.Delete("/messages/:mid/reactions", chatHTTP.RemoveReaction)
	conv.Post("/read", chatHTTP.MarkRead)
	conv.Post("/attachments", chatHTTP.UploadAttachment)

	api.Patch("/messages/:id", chatHTTP.EditMessage)
	api.Delete("/messages/:id", chatHTTP.DeleteMessage)
}
