package handler

import (
	"strconv"
	"time"

	"github.com/Wei-Shaw/ds2api/internal/pkg/response"
	"github.com/Wei-Shaw/ds2api/internal/service"
	"github.com/Wei-Shaw/ds2api/internal/util/dserror"

	"github.com/gin-gonic/gin"
)

// AdminHandler 处理租户密钥与上游账号的管理端点
type AdminHandler struct {
	apiKeys  *service.APIKeyService
	accounts *service.AccountService
	pool     *service.SessionPoolManager
	gateway  *service.GatewayService
}

func NewAdminHandler(
	apiKeys *service.APIKeyService,
	accounts *service.AccountService,
	pool *service.SessionPoolManager,
	gateway *service.GatewayService,
) *AdminHandler {
	return &AdminHandler{apiKeys: apiKeys, accounts: accounts, pool: pool, gateway: gateway}
}

// CreateAPIKeyRequest 创建密钥请求体，expires_days 为 0 表示永久
type CreateAPIKeyRequest struct {
	Name        string `json:"name" binding:"required"`
	ExpiresDays int    `json:"expires_days"`
}

// CreateAPIKey 处理 POST /api/v1/admin/api-keys
func (h *AdminHandler) CreateAPIKey(c *gin.Context) {
	var req CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	if req.ExpiresDays < 0 {
		response.BadRequest(c, "expires_days must be >= 0")
		return
	}

	ttl := time.Duration(req.ExpiresDays) * 24 * time.Hour
	key, err := h.apiKeys.Generate(c.Request.Context(), req.Name, ttl)
	if err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.Success(c, key)
}

// ListAPIKeys 处理 GET /api/v1/admin/api-keys
func (h *AdminHandler) ListAPIKeys(c *gin.Context) {
	keys, err := h.apiKeys.List(c.Request.Context())
	if err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.Success(c, keys)
}

// UpdateStatusRequest 修改状态请求体
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateAPIKeyStatus 处理 PUT /api/v1/admin/api-keys/:id/status
func (h *AdminHandler) UpdateAPIKeyStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	if err := h.apiKeys.SetStatus(c.Request.Context(), id, req.Status); err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.Success(c, gin.H{"id": id, "status": req.Status})
}

// DeleteAPIKey 处理 DELETE /api/v1/admin/api-keys/:id
func (h *AdminHandler) DeleteAPIKey(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.apiKeys.Delete(c.Request.Context(), id); err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.Success(c, gin.H{"id": id})
}

// RegisterAccountRequest 把一个已拿到 refresh token 的上游账号挂到租户名下
type RegisterAccountRequest struct {
	APIKey       string `json:"api_key" binding:"required"`
	Email        string `json:"email" binding:"required"`
	RefreshToken string `json:"refresh_token" binding:"required"`
	Note         string `json:"note"`
}

// RegisterAccount 处理 POST /api/v1/admin/accounts
func (h *AdminHandler) RegisterAccount(c *gin.Context) {
	var req RegisterAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	account, err := h.accounts.Add(c.Request.Context(), req.APIKey, req.Email, req.RefreshToken, req.Note)
	if err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.Success(c, account)
}

// ListAccounts 处理 GET /api/v1/admin/accounts（可选 ?api_key= 过滤）
func (h *AdminHandler) ListAccounts(c *gin.Context) {
	var (
		accounts any
		err      error
	)
	if apiKey := c.Query("api_key"); apiKey != "" {
		accounts, err = h.accounts.ListByAPIKey(c.Request.Context(), apiKey)
	} else {
		accounts, err = h.accounts.List(c.Request.Context())
	}
	if err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.Success(c, accounts)
}

// UpdateAccountStatus 处理 PUT /api/v1/admin/accounts/:id/status
func (h *AdminHandler) UpdateAccountStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	if err := h.accounts.SetStatus(c.Request.Context(), id, req.Status); err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.Success(c, gin.H{"id": id, "status": req.Status})
}

// UpdateAccountTokenRequest 更新账号凭证请求体
type UpdateAccountTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// UpdateAccountToken 处理 PUT /api/v1/admin/accounts/:id/refresh-token
func (h *AdminHandler) UpdateAccountToken(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req UpdateAccountTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	if err := h.accounts.UpdateRefreshToken(c.Request.Context(), id, req.RefreshToken); err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.Success(c, gin.H{"id": id})
}

// DeleteAccount 处理 DELETE /api/v1/admin/accounts/:id
func (h *AdminHandler) DeleteAccount(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.accounts.Delete(c.Request.Context(), id); err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.Success(c, gin.H{"id": id})
}

// PoolStats 处理 GET /api/v1/admin/session-pools/:key/stats
func (h *AdminHandler) PoolStats(c *gin.Context) {
	stats, err := h.pool.Stats(c.Param("key"))
	if err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.Success(c, stats)
}

// AccountQuota 处理 GET /api/v1/admin/accounts/:id/quota，
// 查询账号在上游的思考/搜索配额。
func (h *AdminHandler) AccountQuota(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	account, err := h.accounts.Get(c.Request.Context(), id)
	if err != nil {
		response.ErrorFrom(c, err)
		return
	}
	quota, err := h.gateway.FeatureQuota(c.Request.Context(), account.RefreshToken)
	if err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.Success(c, quota)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.ErrorFrom(c, dserror.New(dserror.KindInvalidRequest, "invalid id: %s", c.Param("id")))
		return 0, false
	}
	return id, true
}
