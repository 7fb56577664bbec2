package load

import (
	"context"
	"errors"
	"testing"

	hostload "github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeSampler(load1 float64, cores int, total, available uint64) *Sampler {
	return &Sampler{
		loadAvg: func(context.Context) (*hostload.AvgStat, error) {
			return &hostload.AvgStat{Load1: load1}, nil
		},
		cpuCount: func(context.Context, bool) (int, error) { return cores, nil },
		vmem: func(context.Context) (*mem.VirtualMemoryStat, error) {
			return &mem.VirtualMemoryStat{Total: total, Available: available}, nil
		},
	}
}

func TestSample_Ratios(t *testing.T) {
	s := fakeSampler(3.0, 4, 1000, 250)

	got, err := s.Sample(context.Background())

	require.NoError(t, err)
	assert.InDelta(t, 0.75, got.CPU, 1e-9)
	assert.InDelta(t, 0.75, got.RAM, 1e-9)
	assert.Nil(t, got.Queue)
}

func TestSample_ZeroCoresTreatedAsOne(t *testing.T) {
	s := fakeSampler(0.5, 0, 1000, 1000)

	got, err := s.Sample(context.Background())

	require.NoError(t, err)
	assert.InDelta(t, 0.5, got.CPU, 1e-9)
	assert.Zero(t, got.RAM)
}

func TestSample_Errors(t *testing.T) {
	boom := errors.New("boom")

	s := fakeSampler(1, 1, 1, 1)
	s.loadAvg = func(context.Context) (*hostload.AvgStat, error) { return nil, boom }
	_, err := s.Sample(context.Background())
	assert.ErrorIs(t, err, boom)

	s = fakeSampler(1, 1, 1, 1)
	s.vmem = func(context.Context) (*mem.VirtualMemoryStat, error) { return nil, boom }
	_, err = s.Sample(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestNewSampler_ReadsHost(t *testing.T) {
	got, err := NewSampler().Sample(context.Background())
	if err != nil {
		t.Skipf("host load unavailable: %v", err)
	}
	assert.GreaterOrEqual(t, got.CPU, 0.0)
	assert.GreaterOrEqual(t, got.RAM, 0.0)
	assert.LessOrEqual(t, got.RAM, 1.0)
}
