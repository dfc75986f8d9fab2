// Health HTTP handlers.
//
//   - GET /health                     gateway liveness
//   - GET {API_BASE_PATH}/phishguard/health  gateway, upstream and process figures
//
// The detailed check always answers 200: an unreachable AI service is
// reported in the body, not through the status.
package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/tbourn/phishguard-gateway/internal/services"
)

// healthTimeout bounds the upstream probe.
const healthTimeout = 5 * time.Second

// LivenessResponse is the gateway liveness body.
type LivenessResponse struct {
	Status    string `json:"status"    example:"ok"`
	Uptime    int64  `json:"uptime"    example:"3600"`
	Timestamp string `json:"timestamp" example:"2025-01-01T00:00:00Z"`
}

// SystemInfo describes the gateway process.
type SystemInfo struct {
	Goroutines    int     `json:"goroutines"`
	NumCPU        int     `json:"numCPU"`
	RSSBytes      uint64  `json:"rssBytes,omitempty"`
	CPUPercent    float64 `json:"cpuPercent,omitempty"`
	HostMemUsedPc float64 `json:"hostMemoryUsedPercent,omitempty"`
	UptimeSeconds int64   `json:"uptime"`
}

// HealthResponse is the detailed health body.
type HealthResponse struct {
	Gateway   string                  `json:"gateway" example:"ok"`
	Upstream  services.UpstreamHealth `json:"upstream"`
	System    SystemInfo              `json:"system"`
	Timestamp string                  `json:"timestamp"`
}

// Liveness godoc
// @ID          liveness
// @Summary     Gateway liveness
// @Tags        Health
// @Produce     json
// @Success     200  {object}  handlers.LivenessResponse
// @Router      /health [get]
func (h *Handlers) Liveness(c *gin.Context) {
	ok(c, http.StatusOK, LivenessResponse{
		Status:    "ok",
		Uptime:    int64(time.Since(h.startedAt).Seconds()),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Health godoc
// @ID          health
// @Summary     Detailed health
// @Description Probes the AI service (5s timeout) and reports process figures.
// @Tags        Health
// @Produce     json
// @Success     200  {object}  handlers.HealthResponse
// @Router      /phishguard/health [get]
func (h *Handlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	ok(c, http.StatusOK, HealthResponse{
		Gateway:   "ok",
		Upstream:  h.pg.Health(ctx),
		System:    h.system(ctx),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// system collects best-effort process figures; unavailable ones stay zero.
func (h *Handlers) system(ctx context.Context) SystemInfo {
	info := SystemInfo{
		Goroutines:    runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	}
	if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if mi, err := p.MemoryInfoWithContext(ctx); err == nil {
			info.RSSBytes = mi.RSS
		}
		if pc, err := p.CPUPercentWithContext(ctx); err == nil {
			info.CPUPercent = pc
		}
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.HostMemUsedPc = vm.UsedPercent
	}
	return info
}
