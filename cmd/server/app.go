package main

import (
	"log"
	"net/http"

	"github.com/Wei-Shaw/ds2api/internal/config"
	"github.com/Wei-Shaw/ds2api/internal/repository"
	"github.com/Wei-Shaw/ds2api/internal/service"

	"github.com/redis/go-redis/v9"
)

// Application 聚合启动与停机需要的全部对象
type Application struct {
	Config   *config.Config
	Server   *http.Server
	Accounts *service.AccountService
	Sweeper  *service.PoolSweeper
	Cleanup  func()
}

// provideCleanup 按依赖逆序关停后台组件
func provideCleanup(
	sweeper *service.PoolSweeper,
	timingWheel *service.TimingWheelService,
	authCache *service.APIKeyAuthCache,
	db *repository.DB,
	rdb *redis.Client,
) func() {
	return func() {
		cleanupSteps := []struct {
			name string
			fn   func() error
		}{
			{"PoolSweeper", func() error {
				sweeper.Stop()
				return nil
			}},
			{"TimingWheel", func() error {
				timingWheel.Stop()
				return nil
			}},
			{"APIKeyAuthCache", func() error {
				authCache.Close()
				return nil
			}},
			{"Redis", func() error {
				if rdb == nil {
					return nil
				}
				return rdb.Close()
			}},
			{"Database", func() error {
				return db.Close()
			}},
		}

		for _, step := range cleanupSteps {
			if err := step.fn(); err != nil {
				log.Printf("[Cleanup] %s failed: %v", step.name, err)
			}
		}
	}
}
