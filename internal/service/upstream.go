package service

import (
	"context"
	"io"
)

// CompletionRequest 是发往上游 /api/v0/chat/completion 的请求体
type CompletionRequest struct {
	ChatSessionID   string  `json:"chat_session_id"`
	ParentMessageID *int64  `json:"parent_message_id"`
	Prompt          string  `json:"prompt"`
	RefFileIDs      []int64 `json:"ref_file_ids"`
	ThinkingEnabled bool    `json:"thinking_enabled"`
	SearchEnabled   bool    `json:"search_enabled"`
}

// FeatureQuota 账号的功能配额
type FeatureQuota struct {
	Thinking QuotaEntry `json:"thinking"`
	Search   QuotaEntry `json:"search"`
}

type QuotaEntry struct {
	Available bool   `json:"available"`
	Quota     int64  `json:"quota"`
	Used      int64  `json:"used"`
	Message   string `json:"message"`
}

// DeepSeekClient 是上游 DeepSeek 网页端 API 的客户端抽象。
// 由 repository 层实现，服务层只依赖此接口。
type DeepSeekClient interface {
	TokenRefresher

	// CreateChatSession 新建上游会话，返回 chat_session_id
	CreateChatSession(ctx context.Context, accessToken string) (string, error)

	// CreatePowChallenge 请求目标路径的工作量证明挑战
	CreatePowChallenge(ctx context.Context, accessToken, targetPath string) (*PowChallenge, error)

	// StreamCompletion 发起补全并返回 SSE 字节流，调用方负责 Close
	StreamCompletion(ctx context.Context, accessToken, powResponse string, request *CompletionRequest) (io.ReadCloser, error)

	// GetFeatureQuota 查询账号的思考/搜索配额
	GetFeatureQuota(ctx context.Context, accessToken string) (*FeatureQuota, error)
}
