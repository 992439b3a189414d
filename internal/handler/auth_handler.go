package handler

import (
	"github.com/Wei-Shaw/ds2api/internal/pkg/logger"
	"github.com/Wei-Shaw/ds2api/internal/pkg/response"
	"github.com/Wei-Shaw/ds2api/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuthHandler 处理管理端登录
type AuthHandler struct {
	adminAuth *service.AdminAuthService
}

func NewAuthHandler(adminAuth *service.AdminAuthService) *AuthHandler {
	return &AuthHandler{adminAuth: adminAuth}
}

// LoginRequest 登录请求体
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	TotpCode string `json:"totp_code"`
}

// LoginResponse 登录响应（匹配前端期望）
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   int64  `json:"expires_at"`
}

// Login 处理 POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request: "+err.Error())
		return
	}

	token, expiresAt, err := h.adminAuth.Login(req.Username, req.Password, req.TotpCode)
	if err != nil {
		logger.FromContext(c.Request.Context()).Warn("admin login rejected",
			zap.String("component", "auth_handler"),
			zap.String("username", req.Username),
			zap.String("client_ip", c.ClientIP()))
		response.Unauthorized(c, "Invalid credentials")
		return
	}

	response.Success(c, LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt.Unix(),
	})
}
