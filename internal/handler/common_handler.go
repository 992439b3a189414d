package handler

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// CommonHandler 提供健康检查等通用端点
type CommonHandler struct {
	startedAt time.Time
}

func NewCommonHandler() *CommonHandler {
	return &CommonHandler{startedAt: time.Now()}
}

// Health 处理 GET /health，附带进程与系统资源快照
func (h *CommonHandler) Health(c *gin.Context) {
	system := gin.H{
		"goroutines": runtime.NumGoroutine(),
	}

	// 系统指标采集失败不影响健康判定
	if percents, err := cpu.PercentWithContext(c.Request.Context(), 0, false); err == nil && len(percents) > 0 {
		system["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(c.Request.Context()); err == nil {
		system["memory_percent"] = vm.UsedPercent
		system["memory_total_mb"] = vm.Total / 1024 / 1024
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"system":         system,
	})
}
