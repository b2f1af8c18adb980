// Package metrics samples local CPU and memory usage.
package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/goterm/internal/common"
	"github.com/dmitrijs2005/goterm/internal/logging"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

type Stats struct {
	// Timestamp is Unix milliseconds.
	Timestamp int64       `json:"timestamp"`
	CPU       CPUStats    `json:"cpu"`
	Memory    MemoryStats `json:"memory"`
}

type CPUStats struct {
	Total   float64   `json:"total"`
	PerCore []float64 `json:"perCore"`
}

type MemoryStats struct {
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"usedPercent"`
}

type Sampler interface {
	Sample(ctx context.Context) (Stats, error)
}

// HostSampler reads the local host through gopsutil. CPU percentages are
// measured since the previous call.
type HostSampler struct{}

func (HostSampler) Sample(ctx context.Context) (Stats, error) {
	perCore, err := cpu.PercentWithContext(ctx, 0, true)
	if err != nil {
		return Stats{}, fmt.Errorf("cpu per core: %w", err)
	}
	total, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Stats{}, fmt.Errorf("cpu total: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("memory: %w", err)
	}

	s := Stats{
		Timestamp: time.Now().UnixMilli(),
		CPU:       CPUStats{PerCore: perCore},
		Memory: MemoryStats{
			Total:       vm.Total,
			Used:        vm.Used,
			Free:        vm.Free,
			UsedPercent: vm.UsedPercent,
		},
	}
	switch {
	case len(total) > 0:
		s.CPU.Total = total[0]
	case len(perCore) > 0:
		var sum float64
		for _, v := range perCore {
			sum += v
		}
		s.CPU.Total = sum / float64(len(perCore))
	}
	return s, nil
}

// Collector samples periodically, publishes each sample as an event and
// serves the latest one.
type Collector struct {
	sampler  Sampler
	interval time.Duration
	emitter  common.Emitter
	logger   logging.Logger

	mu     sync.Mutex
	last   Stats
	lastAt time.Time
}

func NewCollector(s Sampler, interval time.Duration, e common.Emitter, l logging.Logger) *Collector {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Collector{sampler: s, interval: interval, emitter: e, logger: l.With("module", "metrics")}
}

// Stats returns the cached sample while it is younger than the interval,
// otherwise samples now.
func (c *Collector) Stats(ctx context.Context) (Stats, error) {
	c.mu.Lock()
	if !c.lastAt.IsZero() && time.Since(c.lastAt) < c.interval {
		s := c.last
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	return c.sample(ctx)
}

func (c *Collector) sample(ctx context.Context) (Stats, error) {
	s, err := c.sampler.Sample(ctx)
	if err != nil {
		return Stats{}, err
	}
	c.mu.Lock()
	c.last = s
	c.lastAt = time.Now()
	c.mu.Unlock()
	return s, nil
}

// Run samples every interval until ctx is done.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s, err := c.sample(ctx)
			if err != nil {
				c.logger.Warn(ctx, "sampling failed", "error", err)
				continue
			}
			c.emitter.Emit(common.EventSystemStats, s)
		}
	}
}
