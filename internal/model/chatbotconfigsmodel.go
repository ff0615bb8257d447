package model

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
	"github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

var _ ChatbotConfigsModel = (*customChatbotConfigsModel)(nil)

type (
	// ChatbotConfigsModel is an interface to be customized, add more methods here,
	// and implement the added methods in customChatbotConfigsModel.
	ChatbotConfigsModel interface {
		chatbotConfigsModel
		FindEnabled(ctx context.Context) ([]ChatbotConfigs, error)
		FindByChatbotIds(ctx context.Context, chatbotIds []string) ([]ChatbotConfigs, error)
		FindByTags(ctx context.Context, tags []string) ([]ChatbotConfigs, error)
	}

	customChatbotConfigsModel struct {
		*defaultChatbotConfigsModel
	}
)

// NewChatbotConfigsModel returns a model for the database table.
func NewChatbotConfigsModel(conn sqlx.SqlConn, c cache.CacheConf, opts ...cache.Option) ChatbotConfigsModel {
	return &customChatbotConfigsModel{
		defaultChatbotConfigsModel: newChatbotConfigsModel(conn, c, opts...),
	}
}

// FindEnabled returns every enabled chatbot row ordered by chatbot ID.
func (m *customChatbotConfigsModel) FindEnabled(ctx context.Context) ([]ChatbotConfigs, error) {
	query := fmt.Sprintf("select %s from %s where enabled = true order by chatbot_id", chatbotConfigsRows, m.table)

	var rows []ChatbotConfigs
	if err := m.QueryRowsNoCacheCtx(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("chatbot_configs.FindEnabled query: %w", err)
	}
	return rows, nil
}

// FindByChatbotIds bulk-fetches rows for the given chatbot IDs, enabled or not.
// When chatbotIds is empty it returns nothing.
func (m *customChatbotConfigsModel) FindByChatbotIds(ctx context.Context, chatbotIds []string) ([]ChatbotConfigs, error) {
	if len(chatbotIds) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf("select %s from %s where chatbot_id = ANY($1) order by chatbot_id", chatbotConfigsRows, m.table)

	var rows []ChatbotConfigs
	if err := m.QueryRowsNoCacheCtx(ctx, &rows, query, pq.Array(chatbotIds)); err != nil {
		return nil, fmt.Errorf("chatbot_configs.FindByChatbotIds query: %w", err)
	}
	return rows, nil
}

// FindByTags returns enabled rows whose tags contain every given tag.
func (m *customChatbotConfigsModel) FindByTags(ctx context.Context, tags []string) ([]ChatbotConfigs, error) {
	payload, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("chatbot_configs.FindByTags encode tags: %w", err)
	}
	query := fmt.Sprintf("select %s from %s where enabled = true and tags @> $1::jsonb order by chatbot_id", chatbotConfigsRows, m.table)

	var rows []ChatbotConfigs
	if err := m.QueryRowsNoCacheCtx(ctx, &rows, query, string(payload)); err != nil {
		return nil, fmt.Errorf("chatbot_configs.FindByTags query: %w", err)
	}
	return rows, nil
}
