// Package ctxkey 定义用于 context.Value 的类型安全 key
package ctxkey

// Key 定义 context key 的类型，避免使用内置 string 类型
type Key string

const (
	// RequestID 为服务端生成/透传的请求 ID。
	RequestID Key = "ctx_request_id"

	// APIKey 认证后的租户密钥，由 API Key 认证中间件设置
	APIKey Key = "ctx_api_key"

	// Model 请求模型标识（用于统一请求链路日志字段）。
	Model Key = "ctx_model"

	// AccountEmail 当前请求最终命中的账号邮箱（用于统一请求链路日志字段）。
	AccountEmail Key = "ctx_account_email"

	// ConversationID 当前请求绑定的会话 ID。
	ConversationID Key = "ctx_conversation_id"
)
