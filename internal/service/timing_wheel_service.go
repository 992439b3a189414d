package service

import (
	"sync"
	"time"

	"github.com/Wei-Shaw/ds2api/internal/pkg/logger"

	"github.com/zeromicro/go-zero/core/collection"
)

var newTimingWheel = collection.NewTimingWheel

// TimingWheelService 包装 go-zero 的时间轮做延迟任务调度
type TimingWheelService struct {
	tw       *collection.TimingWheel
	stopOnce sync.Once
}

// NewTimingWheelService 创建时间轮：1 秒刻度，3600 槽位，最长支持 1 小时延迟
func NewTimingWheelService() (*TimingWheelService, error) {
	tw, err := newTimingWheel(time.Second, 3600, func(key, value any) {
		if fn, ok := value.(func()); ok {
			fn()
		}
	})
	if err != nil {
		return nil, err
	}
	return &TimingWheelService{tw: tw}, nil
}

func (s *TimingWheelService) Stop() {
	s.stopOnce.Do(func() {
		s.tw.Stop()
		logger.L().Info("timing wheel stopped")
	})
}

// Schedule 注册一次性延迟任务；同名任务会被覆盖
func (s *TimingWheelService) Schedule(name string, delay time.Duration, fn func()) {
	_ = s.tw.SetTimer(name, fn, delay)
}

// Cancel 取消尚未触发的任务
func (s *TimingWheelService) Cancel(name string) {
	_ = s.tw.RemoveTimer(name)
}
