package handler

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/rest/httpx"

	"chatpipe/internal/repo"
	"chatpipe/internal/svc"
	"chatpipe/internal/types"
	"chatpipe/pkg/journal"
	"chatpipe/pkg/pipeline"
)

// ListChatbotsHandler lists chatbot summaries, optionally filtered by tag.
func ListChatbotsHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ListChatbotsReq
		if err := httpx.Parse(r, &req); err != nil {
			writeBadRequest(w, r, err)
			return
		}

		var (
			summaries []repo.ChatbotSummary
			err       error
		)
		if tag := strings.TrimSpace(req.Tag); tag != "" {
			summaries, err = svcCtx.Store.ListChatbotsByTag(r.Context(), tag)
		} else {
			summaries, err = svcCtx.Store.ListChatbots(r.Context())
		}
		if err != nil {
			writeError(w, r, err)
			return
		}

		resp := &types.ListChatbotsResp{
			Chatbots: make([]types.ChatbotSummary, 0, len(summaries)),
			Total:    len(summaries),
		}
		for _, s := range summaries {
			resp.Chatbots = append(resp.Chatbots, toSummary(s))
		}
		httpx.OkJsonCtx(r.Context(), w, resp)
	}
}

// GetChatbotHandler returns one chatbot's summary, params, supported models
// and the model keys that currently hold a built pipeline.
func GetChatbotHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ChatbotPathReq
		if err := httpx.Parse(r, &req); err != nil {
			writeBadRequest(w, r, err)
			return
		}

		sum, err := svcCtx.Store.Summary(r.Context(), req.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		cfg, err := svcCtx.Store.Config(r.Context(), req.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}

		httpx.OkJsonCtx(r.Context(), w, &types.ChatbotDetailResp{
			ChatbotSummary:  toSummary(sum),
			Params:          cfg.Params,
			SupportedModels: toModelSettings(cfg.SupportedModels),
			Pipelines:       svcCtx.Pipelines.ModelKeys(req.ID),
		})
	}
}

// RefreshChatbotHandler re-reads one chatbot's config from the store,
// rebuilds its pipelines, and journals the outcome.
func RefreshChatbotHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ChatbotPathReq
		if err := httpx.Parse(r, &req); err != nil {
			writeBadRequest(w, r, err)
			return
		}
		ctx := r.Context()

		cfg, err := svcCtx.Store.Config(ctx, req.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}

		updateErr := svcCtx.Pipelines.UpdateChatbots(ctx, svcCtx.Store, []string{req.ID})

		digest, err := pipeline.ConfigDigest(cfg)
		if err != nil {
			logx.WithContext(ctx).Errorf("digest chatbot %s: %v", req.ID, err)
		}
		keys := svcCtx.Pipelines.ModelKeys(req.ID)

		rec := &journal.RefreshRecord{
			Action:       journal.ActionUpdate,
			ChatbotID:    req.ID,
			PipelineType: cfg.PipelineType,
			ModelKeys:    keys,
			ConfigDigest: digest,
			Success:      updateErr == nil,
		}
		if updateErr != nil {
			rec.ErrorMessage = updateErr.Error()
			rec.Failed = unbuiltKeys(cfg, keys)
		}
		journalPath, jerr := svcCtx.Journal.WriteRefresh(rec)
		if jerr != nil {
			logx.WithContext(ctx).Errorf("journal refresh %s: %v", req.ID, jerr)
		}

		if updateErr != nil {
			writeError(w, r, updateErr)
			return
		}
		httpx.OkJsonCtx(ctx, w, &types.RefreshChatbotResp{
			ChatbotID: req.ID,
			Digest:    digest,
			Pipelines: keys,
			Journal:   journalPath,
		})
	}
}

// DeleteChatbotHandler removes a chatbot from the store and evicts its
// pipelines. File-defined chatbots are rejected as read-only.
func DeleteChatbotHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ChatbotPathReq
		if err := httpx.Parse(r, &req); err != nil {
			writeBadRequest(w, r, err)
			return
		}
		ctx := r.Context()

		if err := svcCtx.Store.DeleteChatbot(ctx, req.ID); err != nil {
			writeError(w, r, err)
			return
		}
		svcCtx.Pipelines.DeleteChatbot(req.ID)

		if _, err := svcCtx.Journal.WriteRefresh(&journal.RefreshRecord{
			Action:    journal.ActionDelete,
			ChatbotID: req.ID,
			Success:   true,
		}); err != nil {
			logx.WithContext(ctx).Errorf("journal delete %s: %v", req.ID, err)
		}

		httpx.OkJsonCtx(ctx, w, &types.DeleteChatbotResp{ChatbotID: req.ID, Deleted: true})
	}
}

func toSummary(s repo.ChatbotSummary) types.ChatbotSummary {
	out := types.ChatbotSummary{
		ChatbotID:    s.ChatbotID,
		PipelineType: s.PipelineType,
		PresetID:     s.PresetID,
		Tags:         s.Tags,
		Enabled:      s.Enabled,
	}
	if !s.UpdateTime.IsZero() {
		out.UpdatedAt = s.UpdateTime.UTC().Format(time.RFC3339)
	}
	return out
}

func toModelSettings(models []pipeline.ModelSettings) []types.ModelSetting {
	out := make([]types.ModelSetting, 0, len(models))
	for _, m := range models {
		out = append(out, types.ModelSetting{
			ModelID:   m.ModelID,
			Name:      m.Name,
			Kwargs:    redactKwargs(m.Kwargs),
			EnvKwargs: envNames(m.EnvKwargs),
		})
	}
	return out
}

// redactKwargs strips credential material before kwargs leave the service.
func redactKwargs(kwargs map[string]any) map[string]any {
	if len(kwargs) == 0 {
		return nil
	}
	out := make(map[string]any, len(kwargs))
	for k, v := range kwargs {
		if pipeline.IsCredentialKey(k) || k == "api_key" {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// envNames returns the environment variable names a model entry consults,
// sorted. The values stay in the environment.
func envNames(envKwargs map[string]string) []string {
	if len(envKwargs) == 0 {
		return nil
	}
	names := make([]string, 0, len(envKwargs))
	for _, name := range envKwargs {
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// unbuiltKeys lists the model keys the config wants that have no pipeline
// in cache, for the journal's failure record.
func unbuiltKeys(cfg pipeline.ChatbotConfig, built []string) []string {
	have := make(map[string]struct{}, len(built))
	for _, k := range built {
		have[k] = struct{}{}
	}
	var missing []string
	for _, m := range cfg.SupportedModels {
		if m.Name == "" {
			continue
		}
		if _, ok := have[m.Key()]; !ok {
			missing = append(missing, m.Key())
		}
	}
	return missing
}
