package service

import (
	"errors"
	"testing"
	"time"

	"github.com/zeromicro/go-zero/core/collection"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTimingWheelService_InitFail(t *testing.T) {
	orig := newTimingWheel
	newTimingWheel = func(interval time.Duration, numSlots int, execute collection.Execute) (*collection.TimingWheel, error) {
		return nil, errors.New("init fail")
	}
	defer func() { newTimingWheel = orig }()

	svc, err := NewTimingWheelService()
	require.Error(t, err)
	assert.Nil(t, svc)
}

func TestTimingWheelService_ScheduleRuns(t *testing.T) {
	svc, err := NewTimingWheelService()
	require.NoError(t, err)
	defer svc.Stop()

	done := make(chan struct{})
	svc.Schedule("test-task", time.Second, func() { close(done) })

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled task never ran")
	}
}

func TestTimingWheelService_Cancel(t *testing.T) {
	svc, err := NewTimingWheelService()
	require.NoError(t, err)
	defer svc.Stop()

	ran := make(chan struct{}, 1)
	svc.Schedule("cancel-me", time.Second, func() { ran <- struct{}{} })
	svc.Cancel("cancel-me")

	select {
	case <-ran:
		t.Fatal("canceled task still ran")
	case <-time.After(2500 * time.Millisecond):
	}
}

func TestTimingWheelService_StopIdempotent(t *testing.T) {
	svc, err := NewTimingWheelService()
	require.NoError(t, err)
	svc.Stop()
	svc.Stop()
}
