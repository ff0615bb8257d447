package handler

import (
	"errors"
	"net/http"

	"github.com/zeromicro/go-zero/rest/httpx"

	"chatpipe/internal/repo"
	"chatpipe/internal/types"
	"chatpipe/pkg/modelid"
	"chatpipe/pkg/pipeline"
)

// writeError maps domain errors onto HTTP statuses. Anything unrecognised
// is treated as an internal failure.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pipeline.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, repo.ErrReadOnly):
		status = http.StatusConflict
	case isBadRequest(err):
		status = http.StatusBadRequest
	}
	httpx.WriteJsonCtx(r.Context(), w, status, types.ErrorResp{Error: err.Error()})
}

// writeBadRequest reports request decoding failures.
func writeBadRequest(w http.ResponseWriter, r *http.Request, err error) {
	httpx.WriteJsonCtx(r.Context(), w, http.StatusBadRequest, types.ErrorResp{Error: err.Error()})
}

func isBadRequest(err error) bool {
	return errors.Is(err, modelid.ErrInvalidProvider) ||
		errors.Is(err, modelid.ErrInvalidFormat) ||
		errors.Is(err, modelid.ErrInvalidEncodedURL) ||
		errors.Is(err, modelid.ErrModelNotMatched) ||
		errors.Is(err, modelid.ErrMissingURL)
}
