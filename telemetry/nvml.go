//go:build linux || windows

package telemetry

import (
	"context"
	"fmt"
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// NVML reads memory info straight from the NVIDIA driver, the same
// numbers the OS task manager shows.
type NVML struct {
	once    sync.Once
	initErr error
	opened  bool
}

func NewNVML() *NVML { return &NVML{} }

func (n *NVML) Name() string { return "nvml" }

func (n *NVML) init() error {
	n.once.Do(func() {
		if ret := nvml.Init(); ret != nvml.SUCCESS {
			n.initErr = fmt.Errorf("nvml init: %s", nvml.ErrorString(ret))
			return
		}
		n.opened = true
	})
	return n.initErr
}

func (n *NVML) Sample(_ context.Context, index int) (Sample, error) {
	if err := n.init(); err != nil {
		return Sample{}, err
	}
	dev, ret := nvml.DeviceGetHandleByIndex(index)
	if ret != nvml.SUCCESS {
		return Sample{}, fmt.Errorf("nvml device %d: %s", index, nvml.ErrorString(ret))
	}
	mem, ret := dev.GetMemoryInfo()
	if ret != nvml.SUCCESS {
		return Sample{}, fmt.Errorf("nvml memory info: %s", nvml.ErrorString(ret))
	}
	name, ret := dev.GetName()
	if ret != nvml.SUCCESS {
		name = fmt.Sprintf("GPU %d", index)
	}
	return Sample{Name: name, Free: mem.Free, Total: mem.Total}, nil
}

// Close releases the driver handle if it was opened.
func (n *NVML) Close() {
	if n.opened {
		nvml.Shutdown()
	}
}
