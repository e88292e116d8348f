// Package hardware gathers static descriptive strings about the host.
package hardware

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"codeberg.org/mutker/pulsecore/internal/logger"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

const (
	UnknownCPU         = "Unknown CPU"
	UnknownGPU         = "N/A"
	UnknownDisk        = "Unknown disk"
	UnknownMotherboard = "Unknown motherboard"
	UnknownVendor      = "Unknown vendor"

	bytesPerGB = 1024 * 1024 * 1024

	dmiBoardName = "class/dmi/id/board_name"
	dmiVendor    = "class/dmi/id/sys_vendor"
	blockDir     = "block"
)

// Info describes the machine. Every field is populated; unknown values carry
// a placeholder.
type Info struct {
	CPUModel    string   `json:"cpu_model"`
	GPUModel    string   `json:"gpu_model"`
	RAMSpec     string   `json:"ram_spec"`
	DiskModels  []string `json:"disk_models"`
	Motherboard string   `json:"motherboard"`
	DeviceBrand string   `json:"device_brand"`
}

type Collector struct {
	sys fs.FS
	log logger.Logger

	cpuModel   func(context.Context) (string, error)
	memTotal   func(context.Context) (uint64, error)
	partitions func(context.Context) ([]string, error)
}

// NewCollector reads DMI and block device data from /sys and the rest
// through gopsutil.
func NewCollector(log logger.Logger) *Collector {
	return &Collector{
		sys:        os.DirFS("/sys"),
		log:        log.With("hardware"),
		cpuModel:   cpuModel,
		memTotal:   memTotal,
		partitions: partitionDevices,
	}
}

// Collect never fails. gpuName comes from the GPU reader and may be empty.
func (c *Collector) Collect(ctx context.Context, gpuName string) Info {
	info := Info{
		CPUModel:    UnknownCPU,
		GPUModel:    UnknownGPU,
		DiskModels:  c.diskModels(ctx),
		Motherboard: c.readDMI(dmiBoardName, UnknownMotherboard),
		DeviceBrand: c.readDMI(dmiVendor, UnknownVendor),
	}

	if name, err := c.cpuModel(ctx); err != nil {
		c.log.Debug().Err(err).Msg("Failed to read CPU model")
	} else if name = strings.TrimSpace(name); name != "" {
		info.CPUModel = name
	}

	if name := strings.TrimSpace(gpuName); name != "" {
		info.GPUModel = name
	}

	var totalGB float64
	if total, err := c.memTotal(ctx); err != nil {
		c.log.Debug().Err(err).Msg("Failed to read memory size")
	} else {
		totalGB = float64(total) / bytesPerGB
	}
	info.RAMSpec = fmt.Sprintf("%.0f GB", max(totalGB, 1))

	return info
}

func (c *Collector) readDMI(name, fallback string) string {
	data, err := fs.ReadFile(c.sys, name)
	if err != nil {
		return fallback
	}
	if v := strings.TrimSpace(string(data)); v != "" {
		return v
	}
	return fallback
}

func (c *Collector) diskModels(ctx context.Context) []string {
	var models []string

	entries, err := fs.ReadDir(c.sys, blockDir)
	if err == nil {
		for _, e := range entries {
			if isVirtualBlock(e.Name()) {
				continue
			}
			data, err := fs.ReadFile(c.sys, path.Join(blockDir, e.Name(), "device", "model"))
			if err != nil {
				continue
			}
			if model := strings.TrimSpace(string(data)); model != "" {
				models = append(models, model)
			}
		}
	}

	if len(models) == 0 {
		devices, err := c.partitions(ctx)
		if err != nil {
			c.log.Debug().Err(err).Msg("Failed to list partitions")
		}
		models = devices
	}

	if len(models) == 0 {
		return []string{UnknownDisk}
	}
	return models
}

func isVirtualBlock(name string) bool {
	for _, prefix := range []string{"loop", "ram", "zram", "dm-", "md", "sr"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func cpuModel(ctx context.Context) (string, error) {
	infos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return "", err
	}
	if len(infos) == 0 {
		return "", nil
	}
	return infos[0].ModelName, nil
}

func memTotal(ctx context.Context) (uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.Total, nil
}

func partitionDevices(ctx context.Context) ([]string, error) {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(parts))
	devices := make([]string, 0, len(parts))
	for _, p := range parts {
		if p.Device == "" || seen[p.Device] {
			continue
		}
		seen[p.Device] = true
		devices = append(devices, p.Device)
	}
	return devices, nil
}
