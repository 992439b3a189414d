package service

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Wei-Shaw/ds2api/internal/domain"
	"github.com/Wei-Shaw/ds2api/internal/pkg/ctxkey"
	"github.com/Wei-Shaw/ds2api/internal/util/dserror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"
)

type fakeUpstream struct {
	refreshCalls    int32
	sessionCalls    int32
	completionCalls int32
	refreshErr      error
	completionErr   error
	failFirstN      int32
	sseBody         string
	lastRequest     *CompletionRequest
	seenEmail       string
}

func (f *fakeUpstream) RefreshToken(ctx context.Context, refreshToken string) (string, error) {
	atomic.AddInt32(&f.refreshCalls, 1)
	if email, ok := ctx.Value(ctxkey.AccountEmail).(string); ok {
		f.seenEmail = email
	}
	if f.refreshErr != nil {
		return "", f.refreshErr
	}
	return "at-" + refreshToken, nil
}

func (f *fakeUpstream) CreateChatSession(ctx context.Context, accessToken string) (string, error) {
	n := atomic.AddInt32(&f.sessionCalls, 1)
	return fmt.Sprintf("a1b2c3d4-e5f6-7890-abcd-ef12345678%02d", n), nil
}

func (f *fakeUpstream) CreatePowChallenge(ctx context.Context, accessToken, targetPath string) (*PowChallenge, error) {
	sum := sha3.Sum256([]byte("salt_1700000000_7"))
	return &PowChallenge{
		Algorithm:  powAlgorithm,
		Challenge:  hex.EncodeToString(sum[:]),
		Salt:       "salt",
		ExpireAt:   1700000000,
		TargetPath: targetPath,
	}, nil
}

func (f *fakeUpstream) StreamCompletion(ctx context.Context, accessToken, powResponse string, request *CompletionRequest) (io.ReadCloser, error) {
	n := atomic.AddInt32(&f.completionCalls, 1)
	f.lastRequest = request
	if f.completionErr != nil && n <= f.failFirstN {
		return nil, f.completionErr
	}
	body := f.sseBody
	if body == "" {
		body = "data: {\"message_id\":12,\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n\n" +
			"data: {\"message_id\":12,\"choices\":[{\"delta\":{\"content\":\" world\"}}]}\n\n" +
			"data: [DONE]\n\n"
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f *fakeUpstream) GetFeatureQuota(ctx context.Context, accessToken string) (*FeatureQuota, error) {
	return &FeatureQuota{Thinking: QuotaEntry{Available: true, Quota: 10}}, nil
}

func newTestGateway(t *testing.T, upstream *fakeUpstream) *GatewayService {
	t.Helper()
	pool := NewSessionPoolManager(time.Hour)
	pool.AddAccount("sk-tenant-a", "a@example.com", "rt-a")
	tokens := NewTokenCache(upstream, time.Hour)
	return NewGatewayService(pool, tokens, upstream, NewChallengeSolver(), NewMessageProcessor(),
		RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}, 2*time.Second)
}

func chatRequest(model string) *domain.ChatCompletionRequest {
	return &domain.ChatCompletionRequest{
		Model: model,
		Messages: []domain.ChatMessage{
			{Role: "user", Content: domain.MessageContent{Text: "hi"}},
		},
	}
}

func TestChatCompletion_EndToEnd(t *testing.T) {
	upstream := &fakeUpstream{}
	g := newTestGateway(t, upstream)

	result, err := g.ChatCompletion(context.Background(), "sk-tenant-a", chatRequest("deepseek"), "")
	require.NoError(t, err)
	assert.Equal(t, "Hello world", result.Content)
	assert.NotEmpty(t, result.ConversationID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&upstream.refreshCalls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&upstream.completionCalls))

	// 账号已释放：下一轮能立即获取
	_, err = g.ChatCompletion(context.Background(), "sk-tenant-a", chatRequest("deepseek"), "")
	require.NoError(t, err)
}

// 命中的账号邮箱随 context 下传，上游调用与日志能按账号归因
func TestChatCompletion_AccountEmailInContext(t *testing.T) {
	upstream := &fakeUpstream{}
	g := newTestGateway(t, upstream)

	_, err := g.ChatCompletion(context.Background(), "sk-tenant-a", chatRequest("deepseek"), "")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", upstream.seenEmail)
}

func TestChatCompletion_ModelFlagsForwarded(t *testing.T) {
	upstream := &fakeUpstream{}
	g := newTestGateway(t, upstream)

	_, err := g.ChatCompletion(context.Background(), "sk-tenant-a", chatRequest("deepseek-r1-search"), "")
	require.NoError(t, err)
	require.NotNil(t, upstream.lastRequest)
	assert.True(t, upstream.lastRequest.ThinkingEnabled)
	assert.True(t, upstream.lastRequest.SearchEnabled)
}

func TestChatCompletion_MultiTurnReusesUpstreamSession(t *testing.T) {
	upstream := &fakeUpstream{}
	g := newTestGateway(t, upstream)

	result, err := g.ChatCompletion(context.Background(), "sk-tenant-a", chatRequest("deepseek"), "")
	require.NoError(t, err)
	firstSession := upstream.lastRequest.ChatSessionID

	_, err = g.ChatCompletion(context.Background(), "sk-tenant-a", chatRequest("deepseek"), result.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, firstSession, upstream.lastRequest.ChatSessionID)
	require.NotNil(t, upstream.lastRequest.ParentMessageID)
	assert.Equal(t, int64(12), *upstream.lastRequest.ParentMessageID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&upstream.sessionCalls))
}

func TestChatCompletion_ClientSuppliedUpstreamCoordinates(t *testing.T) {
	upstream := &fakeUpstream{}
	g := newTestGateway(t, upstream)

	convID := "a1b2c3d4-e5f6-7890-abcd-ef1234567890@5"
	_, err := g.ChatCompletion(context.Background(), "sk-tenant-a", chatRequest("deepseek"), convID)
	require.NoError(t, err)
	assert.Equal(t, "a1b2c3d4-e5f6-7890-abcd-ef1234567890", upstream.lastRequest.ChatSessionID)
	assert.Equal(t, int64(5), *upstream.lastRequest.ParentMessageID)
	assert.Zero(t, atomic.LoadInt32(&upstream.sessionCalls))
}

func TestChatCompletion_RetriesTransientFailure(t *testing.T) {
	upstream := &fakeUpstream{
		completionErr: dserror.New(dserror.KindUpstreamUnavailable, "upstream hiccup"),
		failFirstN:    2,
	}
	g := newTestGateway(t, upstream)

	result, err := g.ChatCompletion(context.Background(), "sk-tenant-a", chatRequest("deepseek"), "")
	require.NoError(t, err)
	assert.Equal(t, "Hello world", result.Content)
	assert.Equal(t, int32(3), atomic.LoadInt32(&upstream.completionCalls))
}

func TestChatCompletion_ExhaustedRetriesReleasesAccount(t *testing.T) {
	upstream := &fakeUpstream{
		completionErr: dserror.New(dserror.KindUpstreamUnavailable, "down"),
		failFirstN:    100,
	}
	g := newTestGateway(t, upstream)

	_, err := g.ChatCompletion(context.Background(), "sk-tenant-a", chatRequest("deepseek"), "")
	require.Error(t, err)
	assert.Equal(t, dserror.KindUpstreamUnavailable, dserror.KindOf(err))

	stats, err := g.pool.Stats("sk-tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.AvailableAccounts)
}

func TestChatCompletionStream_EmitsChunks(t *testing.T) {
	upstream := &fakeUpstream{}
	g := newTestGateway(t, upstream)

	var chunks []StreamChunk
	err := g.ChatCompletionStream(context.Background(), "sk-tenant-a", chatRequest("deepseek"), "",
		func(chunk StreamChunk) error {
			chunks = append(chunks, chunk)
			return nil
		})
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "Hello", chunks[0].Content)
	assert.Equal(t, " world", chunks[1].Content)
	assert.True(t, chunks[2].Done)
}

func TestChatCompletionStream_CitationsStripped(t *testing.T) {
	upstream := &fakeUpstream{
		sseBody: "data: {\"choices\":[{\"delta\":{\"content\":\"fact [citation:3] here\"}}]}\n\ndata: [DONE]\n\n",
	}
	g := newTestGateway(t, upstream)

	var content strings.Builder
	err := g.ChatCompletionStream(context.Background(), "sk-tenant-a", chatRequest("deepseek"), "",
		func(chunk StreamChunk) error {
			content.WriteString(chunk.Content)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, "fact  here", content.String())
}

func TestChatCompletion_InvalidTokenEvictsAndRecovers(t *testing.T) {
	upstream := &fakeUpstream{
		completionErr: dserror.New(dserror.KindRefreshFailed, "token revoked").
			WithUpstreamCode(domain.UpstreamCodeInvalidToken),
		failFirstN: 1,
	}
	g := newTestGateway(t, upstream)

	// 首次尝试 40003 → 缓存被驱逐 → 重试重新刷新后成功
	result, err := g.ChatCompletion(context.Background(), "sk-tenant-a", chatRequest("deepseek"), "")
	require.NoError(t, err)
	assert.Equal(t, "Hello world", result.Content)
	assert.Equal(t, int32(2), atomic.LoadInt32(&upstream.refreshCalls))
}

func TestFeatureQuota(t *testing.T) {
	upstream := &fakeUpstream{}
	g := newTestGateway(t, upstream)

	quota, err := g.FeatureQuota(context.Background(), "rt-a")
	require.NoError(t, err)
	assert.True(t, quota.Thinking.Available)
	assert.Equal(t, int64(10), quota.Thinking.Quota)
}
