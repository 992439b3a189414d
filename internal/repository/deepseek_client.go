package repository

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"github.com/Wei-Shaw/ds2api/internal/config"
	"github.com/Wei-Shaw/ds2api/internal/domain"
	"github.com/Wei-Shaw/ds2api/internal/pkg/httpclient"
	"github.com/Wei-Shaw/ds2api/internal/pkg/logger"
	"github.com/Wei-Shaw/ds2api/internal/service"
	"github.com/Wei-Shaw/ds2api/internal/util/dserror"

	"github.com/google/uuid"
	"github.com/imroc/req/v3"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	pathUserCurrent     = "/api/v0/users/current"
	pathSessionCreate   = "/api/v0/chat_session/create"
	pathPowChallenge    = "/api/v0/chat/create_pow_challenge"
	pathChatCompletion  = "/api/v0/chat/completion"
	pathFeatureQuota    = "/api/v0/users/feature_quota"
	completionPowTarget = "/api/v0/chat/completion"
)

// NewDeepSeekClient 按配置构建上游客户端
func NewDeepSeekClient(cfg *config.Config) service.DeepSeekClient {
	return &deepseekClient{
		baseURL:       strings.TrimRight(cfg.DeepSeek.BaseURL, "/"),
		clientFactory: func() *req.Client { return createUpstreamClient(cfg) },
	}
}

type deepseekClient struct {
	baseURL       string
	clientFactory func() *req.Client
}

func createUpstreamClient(cfg *config.Config) *req.Client {
	client := req.C().
		SetTimeout(time.Duration(cfg.DeepSeek.TimeoutSeconds) * time.Second).
		SetCookieJar(nil)

	// 伪装浏览器 TLS 指纹，绕过上游的客户端识别
	if cfg.DeepSeek.Impersonate {
		client.ImpersonateChrome()
	}
	if proxyURL := strings.TrimSpace(cfg.DeepSeek.ProxyURL); proxyURL != "" {
		// socks5/socks5h 走共享拨号器，http/https 交给 req 的代理配置
		if dial, err := httpclient.ProxyDialContext(proxyURL); err != nil {
			logger.L().Error("invalid upstream proxy url",
				zap.String("component", "deepseek_client"),
				zap.Error(err))
		} else if dial != nil {
			client.SetDial(dial)
		} else {
			client.SetProxyURL(proxyURL)
		}
	}
	return client
}

func (c *deepseekClient) newRequest(ctx context.Context, accessToken string) *req.Request {
	return c.clientFactory().R().
		SetContext(ctx).
		SetHeader("Accept", "*/*").
		SetHeader("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8").
		SetHeader("Content-Type", "application/json").
		SetHeader("Origin", "https://chat.deepseek.com").
		SetHeader("Referer", "https://chat.deepseek.com/").
		SetHeader("X-App-Version", "20241129.1").
		SetHeader("X-Client-Platform", "web").
		SetHeader("X-Client-Version", "1.0.0-always").
		SetHeader("X-Client-Locale", "zh_CN").
		SetHeader("Cookie", syntheticCookie()).
		SetBearerAuthToken(accessToken)
}

// RefreshToken 用账号凭证换取 access token。
// 上游把有效 token 直接回在用户信息里，凭证失效时返回业务码 40003。
func (c *deepseekClient) RefreshToken(ctx context.Context, refreshToken string) (string, error) {
	resp, err := c.newRequest(ctx, refreshToken).Get(c.baseURL + pathUserCurrent)
	if err != nil {
		return "", dserror.Wrap(dserror.KindUpstreamUnavailable, err, "refresh token request")
	}
	body := resp.Bytes()
	if err := c.checkBizError(resp, body, "refresh token"); err != nil {
		return "", err
	}

	token := gjson.GetBytes(body, "data.biz_data.user.token").String()
	if token == "" {
		return "", dserror.New(dserror.KindRefreshFailed, "no token in user info response")
	}
	return token, nil
}

// CreateChatSession 新建上游会话
func (c *deepseekClient) CreateChatSession(ctx context.Context, accessToken string) (string, error) {
	resp, err := c.newRequest(ctx, accessToken).
		SetBody(map[string]any{"character_id": nil}).
		Post(c.baseURL + pathSessionCreate)
	if err != nil {
		return "", dserror.Wrap(dserror.KindUpstreamUnavailable, err, "create chat session request")
	}
	body := resp.Bytes()
	if err := c.checkBizError(resp, body, "create chat session"); err != nil {
		return "", err
	}

	sessionID := gjson.GetBytes(body, "data.biz_data.id").String()
	if sessionID == "" {
		return "", dserror.New(dserror.KindUpstreamUnavailable, "no session id in create response")
	}
	logger.L().Debug("upstream chat session created",
		zap.String("component", "deepseek_client"),
		zap.String("session_id", sessionID))
	return sessionID, nil
}

// CreatePowChallenge 获取目标路径的 PoW 挑战
func (c *deepseekClient) CreatePowChallenge(ctx context.Context, accessToken, targetPath string) (*service.PowChallenge, error) {
	if targetPath == "" {
		targetPath = completionPowTarget
	}
	resp, err := c.newRequest(ctx, accessToken).
		SetBody(map[string]any{"target_path": targetPath}).
		Post(c.baseURL + pathPowChallenge)
	if err != nil {
		return nil, dserror.Wrap(dserror.KindUpstreamUnavailable, err, "create pow challenge request")
	}
	body := resp.Bytes()
	if err := c.checkBizError(resp, body, "create pow challenge"); err != nil {
		return nil, err
	}

	raw := gjson.GetBytes(body, "data.biz_data.challenge")
	if !raw.Exists() {
		return nil, dserror.New(dserror.KindUpstreamUnavailable, "no challenge in response")
	}
	challenge := &service.PowChallenge{
		Algorithm:  raw.Get("algorithm").String(),
		Challenge:  raw.Get("challenge").String(),
		Salt:       raw.Get("salt").String(),
		Signature:  raw.Get("signature").String(),
		Difficulty: raw.Get("difficulty").Int(),
		ExpireAt:   raw.Get("expire_at").Int(),
		TargetPath: raw.Get("target_path").String(),
	}
	if challenge.TargetPath == "" {
		challenge.TargetPath = targetPath
	}
	return challenge, nil
}

// StreamCompletion 发起补全请求并返回 SSE 字节流
func (c *deepseekClient) StreamCompletion(ctx context.Context, accessToken, powResponse string, request *service.CompletionRequest) (io.ReadCloser, error) {
	client := c.clientFactory()
	client.DisableAutoReadResponse()

	resp, err := client.R().
		SetContext(ctx).
		SetHeader("Accept", "text/event-stream").
		SetHeader("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8").
		SetHeader("Content-Type", "application/json").
		SetHeader("Origin", "https://chat.deepseek.com").
		SetHeader("Referer", "https://chat.deepseek.com/").
		SetHeader("X-Ds-Pow-Response", powResponse).
		SetHeader("Cookie", syntheticCookie()).
		SetBearerAuthToken(accessToken).
		SetBody(request).
		Post(c.baseURL + pathChatCompletion)
	if err != nil {
		return nil, dserror.Wrap(dserror.KindUpstreamUnavailable, err, "completion request")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, c.bizErrorFromBody(resp.StatusCode, body, "completion")
	}
	return resp.Body, nil
}

// GetFeatureQuota 查询思考/搜索配额
func (c *deepseekClient) GetFeatureQuota(ctx context.Context, accessToken string) (*service.FeatureQuota, error) {
	resp, err := c.newRequest(ctx, accessToken).Get(c.baseURL + pathFeatureQuota)
	if err != nil {
		return nil, dserror.Wrap(dserror.KindUpstreamUnavailable, err, "feature quota request")
	}
	body := resp.Bytes()
	if err := c.checkBizError(resp, body, "feature quota"); err != nil {
		return nil, err
	}

	biz := gjson.GetBytes(body, "data.biz_data")
	quota := &service.FeatureQuota{}
	for field, entry := range map[string]*service.QuotaEntry{
		"thinking": &quota.Thinking,
		"search":   &quota.Search,
	} {
		node := biz.Get(field)
		entry.Available = node.Get("available").Bool()
		entry.Quota = node.Get("quota").Int()
		entry.Used = node.Get("used").Int()
		entry.Message = node.Get("message").String()
	}
	return quota, nil
}

// checkBizError 统一处理 HTTP 状态与业务码
func (c *deepseekClient) checkBizError(resp *req.Response, body []byte, op string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if code := gjson.GetBytes(body, "code").Int(); code != 0 {
			return c.bizErrorFromBody(resp.StatusCode, body, op)
		}
		return nil
	}
	return c.bizErrorFromBody(resp.StatusCode, body, op)
}

func (c *deepseekClient) bizErrorFromBody(status int, body []byte, op string) error {
	code, msg := dserror.ExtractUpstreamError(body)
	if msg == "" {
		msg = fmt.Sprintf("status %d", status)
	}
	if code == domain.UpstreamCodeInvalidToken {
		return dserror.New(dserror.KindRefreshFailed, "%s: %s", op, msg).
			WithUpstreamCode(code)
	}
	err := dserror.New(dserror.KindUpstreamUnavailable, "%s: %s", op, msg)
	if code != 0 {
		err = err.WithUpstreamCode(code)
	}
	return err
}

// syntheticCookie 构造一个形似真实浏览器会话的 Cookie 串
func syntheticCookie() string {
	nowMS := time.Now().UnixMilli()
	nowS := time.Now().Unix()
	u := func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") }
	return fmt.Sprintf(
		"intercom-HWWAFSESTIME=%d; HWWAFSESID=%s; Hm_lvt_%s=%d,%d,%d; Hm_lpvt_%s=%d; _frid=%s; _fr_ssid=%s; _fr_pvid=%s",
		nowMS, randomHex(18), u(), nowS, nowS, nowS, u(), nowS, u(), u(), u())
}

func randomHex(n int) string {
	const hexChars = "0123456789abcdef"
	b := make([]byte, n)
	for i := range b {
		b[i] = hexChars[rand.Intn(len(hexChars))]
	}
	return string(b)
}
