package handler

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest/httpx"

	"chatpipe/internal/svc"
	"chatpipe/internal/types"
)

// HealthHandler reports liveness, the number of registered chatbots and the
// installed pipeline plugins.
func HealthHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		infos := svcCtx.Plugins.Plugins()
		plugins := make([]types.PluginSummary, 0, len(infos))
		for _, info := range infos {
			plugins = append(plugins, types.PluginSummary{
				Name:        info.Name,
				Description: info.Description,
				Version:     info.Version,
			})
		}
		httpx.OkJsonCtx(r.Context(), w, &types.HealthResp{
			Status:   "ok",
			Env:      svcCtx.Config.Env,
			Chatbots: len(svcCtx.Pipelines.Chatbots()),
			Plugins:  plugins,
		})
	}
}
