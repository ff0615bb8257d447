package handler

import (
	"net/http"
	"strings"

	"github.com/zeromicro/go-zero/rest/httpx"

	"chatpipe/internal/svc"
	"chatpipe/internal/types"
	"chatpipe/pkg/modelid"
)

// ParseModelHandler decomposes a model identifier into provider, name,
// version and deployment extras, and echoes the canonical wire form.
func ParseModelHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ParseModelReq
		if err := httpx.Parse(r, &req); err != nil {
			writeBadRequest(w, r, err)
			return
		}

		id := strings.TrimSpace(req.ID)
		parsed, err := modelid.Parse(id)
		if err != nil {
			writeError(w, r, err)
			return
		}

		httpx.OkJsonCtx(r.Context(), w, &types.ParseModelResp{
			Input:     id,
			Provider:  string(parsed.Provider),
			Name:      parsed.Name,
			Version:   parsed.Version,
			URL:       parsed.URL,
			Prefix:    parsed.Prefix,
			Canonical: parsed.String(),
		})
	}
}
