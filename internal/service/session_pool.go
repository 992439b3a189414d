package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Wei-Shaw/ds2api/internal/domain"
	"github.com/Wei-Shaw/ds2api/internal/pkg/logger"
	"github.com/Wei-Shaw/ds2api/internal/util/dserror"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Session 表示一个绑定到具体账号的多轮会话
type Session struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	AccountEmail   string    `json:"account_email"`
	RefreshToken   string    `json:"-"`
	State          string    `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
	LastUsedAt     time.Time `json:"last_used_at"`
	TurnCount      int       `json:"turn_count"`

	// 上游会话坐标：首轮建立后续轮复用
	UpstreamID  string `json:"-"`
	ParentMsgID int64  `json:"-"`
}

// PoolStats 是单个租户会话池的统计信息
type PoolStats struct {
	TotalAccounts     int `json:"total_accounts"`
	AvailableAccounts int `json:"available_accounts"`
	ActiveSessions    int `json:"active_sessions"`
	TotalSessions     int `json:"total_sessions"`
}

// accountPool 持有单个上游账号的全部会话状态。
// permit 容量为 1：同一账号任意时刻至多一个活跃会话。
type accountPool struct {
	email              string
	refreshToken       string
	permit             *semaphore.Weighted
	sessions           map[string]*Session // conversationID -> session
	activeConversation string
	lastActivity       time.Time
}

func newAccountPool(email, refreshToken string, now time.Time) *accountPool {
	return &accountPool{
		email:        email,
		refreshToken: refreshToken,
		permit:       semaphore.NewWeighted(1),
		sessions:     make(map[string]*Session),
		lastActivity: now,
	}
}

func (p *accountPool) available() bool {
	return p.activeConversation == ""
}

// loadScore 越低越优先。忙碌账号重罚但不排除：全忙时选择闲置最久的等待。
func (p *accountPool) loadScore(now time.Time) float64 {
	score := 0.0
	if !p.available() {
		score += 1000
	}
	score += 0.1 * float64(len(p.sessions))
	score += 0.01 * now.Sub(p.lastActivity).Seconds()
	return score
}

// getOrCreateSession 必须在持有账号 permit 和管理器写锁时调用
func (p *accountPool) getOrCreateSession(conversationID string, now time.Time) *Session {
	if conversationID != "" {
		if sess, ok := p.sessions[conversationID]; ok && sess.State != domain.SessionStateExpired {
			sess.LastUsedAt = now
			return sess
		}
	}
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	sess := &Session{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		AccountEmail:   p.email,
		RefreshToken:   p.refreshToken,
		State:          domain.SessionStateReserved,
		CreatedAt:      now,
		LastUsedAt:     now,
	}
	p.sessions[conversationID] = sess
	p.lastActivity = now
	return sess
}

func (p *accountPool) activate(sess *Session, now time.Time) {
	sess.State = domain.SessionStateActive
	sess.LastUsedAt = now
	p.activeConversation = sess.ConversationID
	p.lastActivity = now
}

type route struct {
	apiKey string
	email  string
}

// SessionPoolManager 按租户管理账号池与会话路由。
//
// 锁规则：pools 与 routes 各由一把读写锁保护；账号 permit 的等待永远发生在
// 所有池级锁之外，避免一个忙账号阻塞无关租户。
type SessionPoolManager struct {
	mu    sync.RWMutex
	pools map[string]map[string]*accountPool // apiKey -> email -> pool

	routeMu sync.RWMutex
	routes  map[string]route // conversationID -> (apiKey, email)

	sessionTimeout time.Duration
	now            func() time.Time

	releaseHook func(conversationID string)
}

func NewSessionPoolManager(sessionTimeout time.Duration) *SessionPoolManager {
	return &SessionPoolManager{
		pools:          make(map[string]map[string]*accountPool),
		routes:         make(map[string]route),
		sessionTimeout: sessionTimeout,
		now:            time.Now,
	}
}

// AddAccount 将账号挂到指定租户下；重复添加仅更新 refresh token。
func (m *SessionPoolManager) AddAccount(apiKey, email, refreshToken string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tenant, ok := m.pools[apiKey]
	if !ok {
		tenant = make(map[string]*accountPool)
		m.pools[apiKey] = tenant
	}
	if existing, ok := tenant[email]; ok {
		existing.refreshToken = refreshToken
		return
	}
	tenant[email] = newAccountPool(email, refreshToken, m.now())
	logger.L().Info("account added to session pool",
		zap.String("component", "session_pool"),
		zap.String("email", email))
}

// RemoveAccount 从租户下摘除账号并清理其全部会话路由
func (m *SessionPoolManager) RemoveAccount(apiKey, email string) bool {
	m.mu.Lock()
	tenant, ok := m.pools[apiKey]
	if !ok {
		m.mu.Unlock()
		return false
	}
	pool, ok := tenant[email]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(tenant, email)
	conversations := make([]string, 0, len(pool.sessions))
	for convID := range pool.sessions {
		conversations = append(conversations, convID)
	}
	m.mu.Unlock()

	m.routeMu.Lock()
	for _, convID := range conversations {
		delete(m.routes, convID)
	}
	m.routeMu.Unlock()
	return true
}

// AcquireSession 为一次请求占用一个账号会话。
// conversationID 为空时开启新会话；非空且已有路由时复用同一账号（会话亲和）。
// 返回的 Session 为快照副本，调用方负责在任何退出路径上调用 ReleaseSession。
func (m *SessionPoolManager) AcquireSession(ctx context.Context, apiKey, conversationID string) (string, *Session, error) {
	// 1. 会话亲和：已有路由且租户匹配则直接复用该账号
	if conversationID != "" {
		m.routeMu.RLock()
		r, ok := m.routes[conversationID]
		m.routeMu.RUnlock()
		if ok && r.apiKey == apiKey {
			return m.acquireOnAccount(ctx, apiKey, r.email, conversationID)
		}
	}

	// 2. 选择负载最低的账号（只持读锁，不在锁内等 permit）
	email, err := m.selectAccount(apiKey)
	if err != nil {
		return "", nil, err
	}
	return m.acquireOnAccount(ctx, apiKey, email, conversationID)
}

// selectAccount 返回负载得分最低的账号邮箱。
// 遍历按邮箱排序，保证同分时选择的确定性。
func (m *SessionPoolManager) selectAccount(apiKey string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tenant, ok := m.pools[apiKey]
	if !ok {
		return "", dserror.New(dserror.KindTenantNotFound, "unknown api key")
	}
	if len(tenant) == 0 {
		return "", dserror.New(dserror.KindNoAccountsAvailable, "no accounts registered for this api key")
	}

	emails := make([]string, 0, len(tenant))
	for email := range tenant {
		emails = append(emails, email)
	}
	sort.Strings(emails)

	now := m.now()
	best := emails[0]
	bestScore := tenant[best].loadScore(now)
	for _, email := range emails[1:] {
		if score := tenant[email].loadScore(now); score < bestScore {
			best = email
			bestScore = score
		}
	}
	return best, nil
}

func (m *SessionPoolManager) acquireOnAccount(ctx context.Context, apiKey, email, conversationID string) (string, *Session, error) {
	m.mu.RLock()
	pool, ok := m.lookupLocked(apiKey, email)
	var permit *semaphore.Weighted
	if ok {
		permit = pool.permit
	}
	m.mu.RUnlock()
	if !ok {
		return "", nil, dserror.New(dserror.KindNoAccountsAvailable, "account %s no longer registered", email)
	}

	// 等待账号 permit。此处不持任何池级锁；ctx 超时/取消时不改动任何状态。
	if err := permit.Acquire(ctx, 1); err != nil {
		return "", nil, dserror.Wrap(dserror.KindAccountBusyTimeout, err, "account %s busy", email)
	}

	m.mu.Lock()
	pool, ok = m.lookupLocked(apiKey, email)
	if !ok {
		m.mu.Unlock()
		permit.Release(1)
		return "", nil, dserror.New(dserror.KindNoAccountsAvailable, "account %s removed while waiting", email)
	}
	now := m.now()
	sess := pool.getOrCreateSession(conversationID, now)
	pool.activate(sess, now)
	snapshot := *sess
	convID := sess.ConversationID
	m.mu.Unlock()

	m.routeMu.Lock()
	m.routes[convID] = route{apiKey: apiKey, email: email}
	m.routeMu.Unlock()

	logger.L().Debug("session acquired",
		zap.String("component", "session_pool"),
		zap.String("conversation_id", convID),
		zap.String("email", email))
	return convID, &snapshot, nil
}

func (m *SessionPoolManager) lookupLocked(apiKey, email string) (*accountPool, bool) {
	tenant, ok := m.pools[apiKey]
	if !ok {
		return nil, false
	}
	pool, ok := tenant[email]
	return pool, ok
}

// ReleaseSession 释放会话占用的账号。幂等：无持有者时为空操作。
func (m *SessionPoolManager) ReleaseSession(conversationID string) {
	m.routeMu.RLock()
	r, ok := m.routes[conversationID]
	m.routeMu.RUnlock()
	if !ok {
		return
	}

	m.mu.Lock()
	pool, ok := m.lookupLocked(r.apiKey, r.email)
	if !ok {
		m.mu.Unlock()
		return
	}
	sess, ok := pool.sessions[conversationID]
	if !ok || sess.State != domain.SessionStateActive {
		m.mu.Unlock()
		return
	}
	now := m.now()
	sess.State = domain.SessionStateIdle
	sess.LastUsedAt = now
	sess.TurnCount++
	if pool.activeConversation == conversationID {
		pool.activeConversation = ""
	}
	pool.lastActivity = now
	permit := pool.permit
	m.mu.Unlock()

	permit.Release(1)
	logger.L().Debug("session released",
		zap.String("component", "session_pool"),
		zap.String("conversation_id", conversationID),
		zap.String("email", r.email))

	if m.releaseHook != nil {
		m.releaseHook(conversationID)
	}
}

// SetReleaseHook 注册会话释放后的回调（用于挂接延迟清理）。
// 只应在启动阶段调用一次。
func (m *SessionPoolManager) SetReleaseHook(hook func(conversationID string)) {
	m.releaseHook = hook
}

// SweepExpired 移除所有闲置超时的会话及其路由，返回清理数量。
// 作为 permit 泄漏的兜底：清掉仍标记 Active 的超时会话时同时归还 permit。
func (m *SessionPoolManager) SweepExpired() int {
	now := m.now()
	total := 0
	var leaked []*semaphore.Weighted

	m.mu.Lock()
	for apiKey, tenant := range m.pools {
		for email, pool := range tenant {
			for convID, sess := range pool.sessions {
				if now.Sub(sess.LastUsedAt) <= m.sessionTimeout {
					continue
				}
				if pool.activeConversation == convID {
					// 正常情况下活跃会话不应超时；出现说明 permit 泄漏，回收并继续
					logger.L().Warn("expired session was still active, reclaiming leaked permit",
						zap.String("component", "session_pool"),
						zap.String("api_key", apiKey),
						zap.String("email", email),
						zap.String("conversation_id", convID))
					pool.activeConversation = ""
					leaked = append(leaked, pool.permit)
				}
				delete(pool.sessions, convID)
				total++
			}
		}
	}

	if total > 0 {
		m.routeMu.Lock()
		for convID, r := range m.routes {
			pool, ok := m.lookupLocked(r.apiKey, r.email)
			if !ok {
				delete(m.routes, convID)
				continue
			}
			if _, ok := pool.sessions[convID]; !ok {
				delete(m.routes, convID)
			}
		}
		m.routeMu.Unlock()
	}
	m.mu.Unlock()

	for _, permit := range leaked {
		permit.Release(1)
	}

	if total > 0 {
		logger.L().Info("expired sessions swept",
			zap.String("component", "session_pool"),
			zap.Int("count", total))
	}
	return total
}

// SweepConversation 检查单个会话是否闲置超时，超时则移除并返回 true。
// 由释放后挂在时间轮上的延迟任务调用；周期性 SweepExpired 仍是兜底。
func (m *SessionPoolManager) SweepConversation(conversationID string) bool {
	m.routeMu.RLock()
	r, ok := m.routes[conversationID]
	m.routeMu.RUnlock()
	if !ok {
		return false
	}

	m.mu.Lock()
	pool, ok := m.lookupLocked(r.apiKey, r.email)
	if !ok {
		m.mu.Unlock()
		return false
	}
	sess, ok := pool.sessions[conversationID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if sess.State == domain.SessionStateActive || m.now().Sub(sess.LastUsedAt) <= m.sessionTimeout {
		m.mu.Unlock()
		return false
	}
	delete(pool.sessions, conversationID)
	m.mu.Unlock()

	m.routeMu.Lock()
	delete(m.routes, conversationID)
	m.routeMu.Unlock()
	return true
}

// BindUpstream 记录会话对应的上游会话坐标，每轮结束后更新父消息 ID
func (m *SessionPoolManager) BindUpstream(conversationID, upstreamID string, parentMsgID int64) {
	m.routeMu.RLock()
	r, ok := m.routes[conversationID]
	m.routeMu.RUnlock()
	if !ok {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	pool, ok := m.lookupLocked(r.apiKey, r.email)
	if !ok {
		return
	}
	if sess, ok := pool.sessions[conversationID]; ok {
		sess.UpstreamID = upstreamID
		sess.ParentMsgID = parentMsgID
	}
}

// Stats 返回租户会话池统计
func (m *SessionPoolManager) Stats(apiKey string) (*PoolStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tenant, ok := m.pools[apiKey]
	if !ok {
		return nil, dserror.New(dserror.KindTenantNotFound, "unknown api key")
	}

	stats := &PoolStats{TotalAccounts: len(tenant)}
	for _, pool := range tenant {
		if pool.available() {
			stats.AvailableAccounts++
		} else {
			stats.ActiveSessions++
		}
		stats.TotalSessions += len(pool.sessions)
	}
	return stats, nil
}

// SessionTimeout 返回池的会话闲置超时
func (m *SessionPoolManager) SessionTimeout() time.Duration {
	return m.sessionTimeout
}
