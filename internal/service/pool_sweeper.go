package service

import (
	"context"
	"sync"
	"time"

	"github.com/Wei-Shaw/ds2api/internal/config"
	"github.com/Wei-Shaw/ds2api/internal/pkg/logger"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// PoolSweeper 驱动所有周期性清理：
//   - 会话释放后在时间轮上挂一个到点检查，闲置超时即回收；
//   - cron 周期兜底扫描整池（时间轮任务丢失或进程重启后路由重建的场景）；
//   - 同步清理 token 刷新锁表和过期 API Key。
type PoolSweeper struct {
	pool        *SessionPoolManager
	tokens      *TokenCache
	apiKeys     *APIKeyService
	timingWheel *TimingWheelService

	sweepInterval     time.Duration
	lockPruneInterval time.Duration

	cron      *cron.Cron
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewPoolSweeper(
	cfg *config.Config,
	pool *SessionPoolManager,
	tokens *TokenCache,
	apiKeys *APIKeyService,
	timingWheel *TimingWheelService,
) *PoolSweeper {
	s := &PoolSweeper{
		pool:              pool,
		tokens:            tokens,
		apiKeys:           apiKeys,
		timingWheel:       timingWheel,
		sweepInterval:     time.Duration(cfg.Pool.SweepIntervalSeconds) * time.Second,
		lockPruneInterval: time.Duration(cfg.Pool.LockPruneIntervalSecs) * time.Second,
		cron:              cron.New(cron.WithSeconds()),
	}

	// 释放即挂延迟检查，到点时若仍闲置则回收
	pool.SetReleaseHook(func(conversationID string) {
		timingWheel.Schedule("sweep:"+conversationID, pool.SessionTimeout()+time.Second, func() {
			if s.pool.SweepConversation(conversationID) {
				logger.L().Debug("idle session reclaimed by deferred check",
					zap.String("component", "pool_sweeper"),
					zap.String("conversation_id", conversationID))
			}
		})
	})
	return s
}

// Start 注册并启动全部周期任务
func (s *PoolSweeper) Start() error {
	var startErr error
	s.startOnce.Do(func() {
		if _, err := s.cron.AddFunc(everySeconds(s.sweepInterval), s.sweepOnce); err != nil {
			startErr = err
			return
		}
		if _, err := s.cron.AddFunc(everySeconds(s.lockPruneInterval), s.pruneOnce); err != nil {
			startErr = err
			return
		}
		// 过期 Key 的落库状态翻转低频执行即可
		if _, err := s.cron.AddFunc("0 */5 * * * *", s.cleanupAPIKeys); err != nil {
			startErr = err
			return
		}
		s.cron.Start()
		logger.L().Info("pool sweeper started",
			zap.String("component", "pool_sweeper"),
			zap.Duration("sweep_interval", s.sweepInterval),
			zap.Duration("lock_prune_interval", s.lockPruneInterval))
	})
	return startErr
}

func (s *PoolSweeper) Stop() {
	s.stopOnce.Do(func() {
		ctx := s.cron.Stop()
		<-ctx.Done()
		logger.L().Info("pool sweeper stopped",
			zap.String("component", "pool_sweeper"))
	})
}

func (s *PoolSweeper) sweepOnce() {
	s.pool.SweepExpired()
}

func (s *PoolSweeper) pruneOnce() {
	s.tokens.PruneLocks()
}

func (s *PoolSweeper) cleanupAPIKeys() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.apiKeys.CleanupExpired(ctx); err != nil {
		logger.L().Warn("api key cleanup failed",
			zap.String("component", "pool_sweeper"),
			zap.Error(err))
	}
}

func everySeconds(interval time.Duration) string {
	secs := int(interval.Seconds())
	if secs < 1 {
		secs = 1
	}
	return "@every " + time.Duration(secs*int(time.Second)).String()
}
