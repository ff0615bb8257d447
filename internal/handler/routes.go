// Code scaffolded by goctl. Safe to edit.
// goctl 1.9.2

package handler

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest"

	"chatpipe/internal/svc"
)

// RegisterHandlers wires the REST routes onto the server.
func RegisterHandlers(server *rest.Server, serverCtx *svc.ServiceContext) {
	server.AddRoutes(
		[]rest.Route{
			{
				Method:  http.MethodGet,
				Path:    "/v1/models/parse",
				Handler: ParseModelHandler(serverCtx),
			},
			{
				Method:  http.MethodGet,
				Path:    "/v1/chatbots",
				Handler: ListChatbotsHandler(serverCtx),
			},
			{
				Method:  http.MethodGet,
				Path:    "/v1/chatbots/:id",
				Handler: GetChatbotHandler(serverCtx),
			},
			{
				Method:  http.MethodPost,
				Path:    "/v1/chatbots/:id/refresh",
				Handler: RefreshChatbotHandler(serverCtx),
			},
			{
				Method:  http.MethodDelete,
				Path:    "/v1/chatbots/:id",
				Handler: DeleteChatbotHandler(serverCtx),
			},
			{
				Method:  http.MethodGet,
				Path:    "/v1/healthz",
				Handler: HealthHandler(serverCtx),
			},
		},
	)
}
