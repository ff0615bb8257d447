package repo

import (
	"errors"

	"github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	cachekeys "chatpipe/internal/cache"
	"chatpipe/internal/model"
	"chatpipe/pkg/catalog"
)

// Dependencies bundles the generated goctl model and shared infrastructure
// required by the chatbot config store implementations.
type Dependencies struct {
	DBConn sqlx.SqlConn
	Cache  cache.Cache
	TTL    cachekeys.TTLSet

	ChatbotConfigsModel model.ChatbotConfigsModel

	// Fallback serves file-defined chatbots when the database misses or the
	// deployment runs without Postgres entirely.
	Fallback *FileStore

	// Prompts and Processors are stamped onto every config handed out so
	// pipeline builders can resolve the identifiers named in chatbot params.
	Prompts    map[string]catalog.PromptBuilderCatalog
	Processors map[string]catalog.RequestProcessorCatalog
}

// NewStore constructs the chatbot config store, validating required
// dependencies. With a database model it returns the cached DB-backed repo;
// otherwise the file fallback serves everything directly.
func NewStore(deps Dependencies) (Store, error) {
	if deps.ChatbotConfigsModel == nil {
		if deps.Fallback == nil {
			return nil, errors.New("repo: need a chatbot configs model or a file fallback")
		}
		return deps.Fallback, nil
	}
	return newConfigRepo(deps), nil
}
