package load

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	hostload "github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/obsidianstack/vigil/pkg/types"
)

// Sampler reads host load for push reports.
//
// CPU is the one-minute load average divided by the logical CPU count, so 1.0
// means every core is busy. RAM is the share of memory not available to new
// allocations.
type Sampler struct {
	loadAvg  func(ctx context.Context) (*hostload.AvgStat, error)
	cpuCount func(ctx context.Context, logical bool) (int, error)
	vmem     func(ctx context.Context) (*mem.VirtualMemoryStat, error)
}

// NewSampler returns a Sampler backed by gopsutil.
func NewSampler() *Sampler {
	return &Sampler{
		loadAvg:  hostload.AvgWithContext,
		cpuCount: cpu.CountsWithContext,
		vmem:     mem.VirtualMemoryWithContext,
	}
}

// Sample returns the current host load.
func (s *Sampler) Sample(ctx context.Context) (types.ReportLoad, error) {
	avg, err := s.loadAvg(ctx)
	if err != nil {
		return types.ReportLoad{}, fmt.Errorf("load: read load average: %w", err)
	}

	cores, err := s.cpuCount(ctx, true)
	if err != nil {
		return types.ReportLoad{}, fmt.Errorf("load: count cpus: %w", err)
	}
	if cores < 1 {
		cores = 1
	}

	vm, err := s.vmem(ctx)
	if err != nil {
		return types.ReportLoad{}, fmt.Errorf("load: read memory: %w", err)
	}

	var ram float64
	if vm.Total > 0 && vm.Available <= vm.Total {
		ram = float64(vm.Total-vm.Available) / float64(vm.Total)
	}

	return types.ReportLoad{
		CPU: avg.Load1 / float64(cores),
		RAM: ram,
	}, nil
}
