package domain

// Session state constants
const (
	SessionStateReserved = "reserved"
	SessionStateActive   = "active"
	SessionStateIdle     = "idle"
	SessionStateExpired  = "expired"
)

// API key status constants
const (
	APIKeyStatusActive   = "active"
	APIKeyStatusDisabled = "disabled"
	APIKeyStatusExpired  = "expired"
)

// Account status constants
const (
	AccountStatusActive   = "active"
	AccountStatusDisabled = "disabled"
	AccountStatusError    = "error"
)

// APIKeyPrefix 是下发给租户的密钥前缀
const APIKeyPrefix = "dsk-"

// 上游错误码
const (
	// UpstreamCodeInvalidToken 表示 refresh token 已失效，需要从缓存中驱逐
	UpstreamCodeInvalidToken = 40003
)

// Model name constants. DeepSeek 网页端通过模型名后缀区分联网搜索与深度思考。
const (
	ModelDefault = "deepseek"
)

// KnownModels 是 /v1/models 暴露的模型列表
var KnownModels = []string{
	"deepseek",
	"deepseek-search",
	"deepseek-think",
	"deepseek-r1",
	"deepseek-r1-search",
	"deepseek-think-search",
	"deepseek-think-silent",
	"deepseek-r1-silent",
	"deepseek-search-silent",
	"deepseek-think-fold",
	"deepseek-r1-fold",
}
