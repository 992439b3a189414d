package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Wei-Shaw/ds2api/internal/domain"
	"github.com/Wei-Shaw/ds2api/internal/pkg/ctxkey"
	"github.com/Wei-Shaw/ds2api/internal/pkg/logger"
	"github.com/Wei-Shaw/ds2api/internal/pkg/response"
	middleware2 "github.com/Wei-Shaw/ds2api/internal/server/middleware"
	"github.com/Wei-Shaw/ds2api/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
)

// ChatHandler 处理 OpenAI 兼容的网关端点
type ChatHandler struct {
	gateway *service.GatewayService
	apiKeys *service.APIKeyService
}

func NewChatHandler(gateway *service.GatewayService, apiKeys *service.APIKeyService) *ChatHandler {
	return &ChatHandler{gateway: gateway, apiKeys: apiKeys}
}

// Completions 处理 POST /v1/chat/completions。
// 请求体中的 conversation_id 用于续接多轮对话，响应的 id 即下一轮应回传的值。
func (h *ChatHandler) Completions(c *gin.Context) {
	apiKey := middleware2.APIKeyFromContext(c)
	if apiKey == "" {
		response.OpenAIError(c, http.StatusUnauthorized, "authentication_error", "Invalid API key")
		return
	}

	var request domain.ChatCompletionRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		response.OpenAIError(c, http.StatusBadRequest, "invalid_request_error", "Failed to parse request body: "+err.Error())
		return
	}
	if len(request.Messages) == 0 {
		response.OpenAIError(c, http.StatusBadRequest, "invalid_request_error", "messages cannot be empty")
		return
	}
	if strings.TrimSpace(request.Model) == "" {
		request.Model = domain.ModelDefault
	}
	request.Model = strings.ToLower(request.Model)

	// 模型与会话 ID 记入 context 供访问日志使用
	ctx := context.WithValue(c.Request.Context(), ctxkey.Model, request.Model)
	if request.ConversationID != "" {
		ctx = context.WithValue(ctx, ctxkey.ConversationID, request.ConversationID)
	}
	c.Request = c.Request.WithContext(ctx)

	if request.Stream {
		h.streamCompletion(c, apiKey, &request)
		return
	}

	result, err := h.gateway.ChatCompletion(c.Request.Context(), apiKey, &request, request.ConversationID)
	if err != nil {
		response.OpenAIErrorFrom(c, err)
		return
	}
	h.apiKeys.RecordUsage(c.Request.Context(), apiKey)

	c.JSON(http.StatusOK, gin.H{
		"id":      result.ConversationID,
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   result.Model,
		"choices": []gin.H{{
			"index": 0,
			"message": gin.H{
				"role":    "assistant",
				"content": result.Content,
			},
			"finish_reason": "stop",
		}},
		"usage": gin.H{
			"prompt_tokens":     1,
			"completion_tokens": 1,
			"total_tokens":      2,
		},
	})
}

func (h *ChatHandler) streamCompletion(c *gin.Context, apiKey string, request *domain.ChatCompletionRequest) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.OpenAIError(c, http.StatusInternalServerError, "api_error", "Streaming unsupported")
		return
	}

	created := time.Now().Unix()
	streamStarted := false
	startStream := func() {
		if streamStarted {
			return
		}
		streamStarted = true
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Writer.WriteHeader(http.StatusOK)
	}

	err := h.gateway.ChatCompletionStream(c.Request.Context(), apiKey, request, request.ConversationID,
		func(chunk service.StreamChunk) error {
			startStream()
			payload, err := buildStreamChunk(chunk, request.Model, created)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", payload); err != nil {
				return err
			}
			if chunk.Done {
				if _, err := fmt.Fprint(c.Writer, "data: [DONE]\n\n"); err != nil {
					return err
				}
			}
			flusher.Flush()
			return nil
		})
	if err != nil {
		if !streamStarted {
			response.OpenAIErrorFrom(c, err)
			return
		}
		// 流已开始，错误只能以 SSE 事件形式收尾
		h.emitStreamError(c, flusher, err)
		return
	}
	h.apiKeys.RecordUsage(c.Request.Context(), apiKey)
}

// buildStreamChunk 组装一条 chat.completion.chunk JSON
func buildStreamChunk(chunk service.StreamChunk, model string, created int64) (string, error) {
	payload, err := sjson.Set("", "id", chunk.ConversationID)
	if err != nil {
		return "", err
	}
	payload, _ = sjson.Set(payload, "object", "chat.completion.chunk")
	payload, _ = sjson.Set(payload, "created", created)
	payload, _ = sjson.Set(payload, "model", model)
	payload, _ = sjson.Set(payload, "choices.0.index", 0)
	if chunk.Done {
		payload, _ = sjson.Set(payload, "choices.0.delta", struct{}{})
		payload, err = sjson.Set(payload, "choices.0.finish_reason", "stop")
	} else {
		payload, _ = sjson.Set(payload, "choices.0.delta.role", "assistant")
		payload, err = sjson.Set(payload, "choices.0.delta.content", chunk.Content)
	}
	return payload, err
}

func (h *ChatHandler) emitStreamError(c *gin.Context, flusher http.Flusher, err error) {
	logger.FromContext(c.Request.Context()).Warn("stream aborted",
		zap.String("component", "chat_handler"),
		zap.Error(err))

	payload, jerr := sjson.Set("", "error.message", err.Error())
	if jerr != nil {
		return
	}
	payload, _ = sjson.Set(payload, "error.type", "api_error")
	if _, werr := fmt.Fprintf(c.Writer, "data: %s\n\n", payload); werr != nil {
		return
	}
	flusher.Flush()
}

// Models 处理 GET /v1/models
func (h *ChatHandler) Models(c *gin.Context) {
	models := make([]gin.H, 0, len(domain.KnownModels))
	for _, id := range domain.KnownModels {
		models = append(models, gin.H{
			"id":       id,
			"object":   "model",
			"created":  1677610602,
			"owned_by": "deepseek",
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   models,
	})
}
