package service

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"

	"github.com/Wei-Shaw/ds2api/internal/domain"
	"github.com/Wei-Shaw/ds2api/internal/pkg/ctxkey"
	"github.com/Wei-Shaw/ds2api/internal/pkg/logger"
	"github.com/Wei-Shaw/ds2api/internal/util/convid"
	"github.com/Wei-Shaw/ds2api/internal/util/dserror"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// StreamChunk 是推给客户端的一段增量内容
type StreamChunk struct {
	ConversationID string
	Content        string
	Done           bool
}

// ChatResult 是非流式请求的聚合结果
type ChatResult struct {
	ConversationID string
	Model          string
	Content        string
}

// GatewayService 把一次 OpenAI 形态的聊天请求编排为一轮上游调用：
// 占用账号会话 → 取 access token → 解 PoW → 发补全 → 翻译流式回包 → 释放账号。
type GatewayService struct {
	pool      *SessionPoolManager
	tokens    *TokenCache
	upstream  DeepSeekClient
	solver    *ChallengeSolver
	processor *MessageProcessor

	retry         RetryPolicy
	acquireBudget time.Duration
}

func NewGatewayService(
	pool *SessionPoolManager,
	tokens *TokenCache,
	upstream DeepSeekClient,
	solver *ChallengeSolver,
	processor *MessageProcessor,
	retry RetryPolicy,
	acquireBudget time.Duration,
) *GatewayService {
	return &GatewayService{
		pool:          pool,
		tokens:        tokens,
		upstream:      upstream,
		solver:        solver,
		processor:     processor,
		retry:         retry,
		acquireBudget: acquireBudget,
	}
}

// openedTurn 是一次成功打开的上游补全流
type openedTurn struct {
	body       io.ReadCloser
	upstreamID string
	parentSeed int64
}

// ChatCompletionStream 执行一轮对话并通过 emit 回调推送增量。
// emit 返回错误时中断下游读取（客户端断开）。
func (g *GatewayService) ChatCompletionStream(ctx context.Context, apiKey string, request *domain.ChatCompletionRequest, requestedConvID string, emit func(StreamChunk) error) error {
	acquireCtx, cancel := context.WithTimeout(ctx, g.acquireBudget)
	convID, sess, err := g.pool.AcquireSession(acquireCtx, apiKey, requestedConvID)
	cancel()
	if err != nil {
		return err
	}
	defer g.pool.ReleaseSession(convID)

	// 命中的账号记入 context，本轮请求链路的日志都带上账号邮箱
	ctx = context.WithValue(ctx, ctxkey.AccountEmail, sess.AccountEmail)
	ctx = logger.IntoContext(ctx, logger.FromContext(ctx).With(
		zap.String("account_email", sess.AccountEmail)))

	// 失败可整轮重试：流一旦打开就不再重试
	turn, err := WithRetry(ctx, g.retry, "chat_completion",
		func(ctx context.Context) (*openedTurn, error) {
			return g.openTurn(ctx, sess, request, requestedConvID)
		})
	if err != nil {
		return err
	}
	defer turn.body.Close()

	lastMsgID, err := g.relayStream(ctx, turn, convID, request.Model, emit)

	// 无论流是否完整，已知的上游坐标都要记下来供下一轮续接
	if turn.upstreamID != "" {
		parent := lastMsgID
		if parent == 0 {
			parent = turn.parentSeed
		}
		g.pool.BindUpstream(convID, turn.upstreamID, parent)
	}
	return err
}

// ChatCompletion 非流式：聚合全部增量后一次性返回
func (g *GatewayService) ChatCompletion(ctx context.Context, apiKey string, request *domain.ChatCompletionRequest, requestedConvID string) (*ChatResult, error) {
	var sb strings.Builder
	var convID string
	err := g.ChatCompletionStream(ctx, apiKey, request, requestedConvID, func(chunk StreamChunk) error {
		convID = chunk.ConversationID
		sb.WriteString(chunk.Content)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &ChatResult{
		ConversationID: convID,
		Model:          request.Model,
		Content:        sb.String(),
	}, nil
}

// openTurn 完成 token、上游会话与 PoW 三步准备并打开补全流
func (g *GatewayService) openTurn(ctx context.Context, sess *Session, request *domain.ChatCompletionRequest, requestedConvID string) (*openedTurn, error) {
	accessToken, err := g.tokens.Acquire(ctx, sess.RefreshToken)
	if err != nil {
		return nil, err
	}

	upstreamID := sess.UpstreamID
	parentMsgID := sess.ParentMsgID
	if upstreamID == "" {
		// 客户端带来的 "<session>@<parent>" 形态 ID 直接作为上游坐标续聊
		if sid, parent, ok := convid.Parse(requestedConvID); ok {
			upstreamID, parentMsgID = sid, parent
		} else {
			upstreamID, err = g.upstream.CreateChatSession(ctx, accessToken)
			if err != nil {
				g.evictOnInvalidToken(sess.RefreshToken, err)
				return nil, err
			}
			parentMsgID = 0
		}
	}

	challenge, err := g.upstream.CreatePowChallenge(ctx, accessToken, completionTargetPath)
	if err != nil {
		g.evictOnInvalidToken(sess.RefreshToken, err)
		return nil, err
	}
	powResponse, err := g.solver.Solve(ctx, challenge)
	if err != nil {
		return nil, err
	}

	parent := parentMsgID
	body, err := g.upstream.StreamCompletion(ctx, accessToken, powResponse, &CompletionRequest{
		ChatSessionID:   upstreamID,
		ParentMessageID: &parent,
		Prompt:          g.processor.PrepareMessages(request.Messages),
		RefFileIDs:      []int64{},
		ThinkingEnabled: domain.IsThinkingModel(request.Model),
		SearchEnabled:   domain.IsSearchModel(request.Model),
	})
	if err != nil {
		g.evictOnInvalidToken(sess.RefreshToken, err)
		return nil, err
	}
	return &openedTurn{body: body, upstreamID: upstreamID, parentSeed: parentMsgID}, nil
}

const completionTargetPath = "/api/v0/chat/completion"

// relayStream 逐行解析上游 SSE 并推送处理后的增量，返回最后的消息 ID
func (g *GatewayService) relayStream(ctx context.Context, turn *openedTurn, convID, model string, emit func(StreamChunk) error) (int64, error) {
	state := &streamState{}
	var lastMsgID int64

	scanner := bufio.NewScanner(turn.body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return lastMsgID, ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			if payload == "[DONE]" {
				break
			}
			continue
		}

		event := gjson.Parse(payload)
		if id := event.Get("message_id").Int(); id != 0 {
			lastMsgID = id
		}
		content := event.Get("choices.0.delta.content")
		if !content.Exists() {
			continue
		}

		out, keep := g.processor.ProcessStreamContent(content.String(), model, state)
		if !keep || out == "" {
			continue
		}
		if err := emit(StreamChunk{ConversationID: convID, Content: out}); err != nil {
			return lastMsgID, err
		}
	}
	if err := scanner.Err(); err != nil {
		logger.FromContext(ctx).Warn("upstream stream ended abnormally",
			zap.String("component", "gateway"),
			zap.String("conversation_id", convID),
			zap.Error(err))
		return lastMsgID, dserror.Wrap(dserror.KindUpstreamUnavailable, err, "read completion stream")
	}

	// search 模式补发累计的来源信息
	if refs := g.processor.AddSearchReferences("", state); refs != "" {
		if err := emit(StreamChunk{ConversationID: convID, Content: refs}); err != nil {
			return lastMsgID, err
		}
	}
	return lastMsgID, emit(StreamChunk{ConversationID: convID, Done: true})
}

func (g *GatewayService) evictOnInvalidToken(refreshToken string, err error) {
	if dserror.UpstreamCode(err) == domain.UpstreamCodeInvalidToken {
		g.tokens.Evict(refreshToken)
	}
}

// FeatureQuota 查询指定会话账号的功能配额
func (g *GatewayService) FeatureQuota(ctx context.Context, refreshToken string) (*FeatureQuota, error) {
	accessToken, err := g.tokens.Acquire(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	quota, err := g.upstream.GetFeatureQuota(ctx, accessToken)
	if err != nil {
		g.evictOnInvalidToken(refreshToken, err)
		return nil, err
	}
	return quota, nil
}
