package telemetry

import (
	"strings"

	"codeberg.org/mutker/pulsecore/internal/errors"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
)

// cpuSensorKeys match temperature sensors that report the CPU package or
// cores on common drivers.
var cpuSensorKeys = []string{"coretemp", "k10temp", "zenpower", "cpu", "package", "tctl", "tdie"}

type hostSource struct{}

// NewHostSource returns a Source backed by gopsutil.
func NewHostSource() Source {
	return hostSource{}
}

func (hostSource) CPUPercent() (float64, error) {
	// Interval 0 measures against the previous call
	values, err := cpu.Percent(0, false)
	if err != nil {
		return 0, errors.New().Wrap(ErrCounterRead, err)
	}
	if len(values) == 0 {
		return 0, errors.New().WithMessage(ErrCounterRead, "no cpu usage reported")
	}
	return values[0], nil
}

func (hostSource) CPUFrequencies() ([]float64, error) {
	infos, err := cpu.Info()
	if err != nil {
		return nil, errors.New().Wrap(ErrCounterRead, err)
	}

	freqs := make([]float64, 0, len(infos))
	for _, info := range infos {
		if info.Mhz > 0 {
			freqs = append(freqs, info.Mhz)
		}
	}
	return freqs, nil
}

func (hostSource) CPUTemperature() (float64, error) {
	// Partial results come back with a warnings error; use what was read
	temps, err := host.SensorsTemperatures()
	if len(temps) == 0 {
		if err != nil {
			return 0, errors.New().Wrap(ErrSensorUnavailable, err)
		}
		return 0, errors.New().WithMessage(ErrSensorUnavailable, "no temperature sensors")
	}

	found := false
	var hottest float64
	for _, t := range temps {
		if !isCPUSensor(t.SensorKey) || t.Temperature <= 0 {
			continue
		}
		if !found || t.Temperature > hottest {
			hottest = t.Temperature
			found = true
		}
	}

	if !found {
		return 0, errors.New().WithMessage(ErrSensorUnavailable, "no cpu temperature sensor")
	}
	return hottest, nil
}

func (hostSource) Memory() (uint64, uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.New().Wrap(ErrCounterRead, err)
	}
	return vm.Used, vm.Total, nil
}

func (hostSource) Volumes() ([]Volume, error) {
	partitions, err := disk.Partitions(false)
	if err != nil {
		return nil, errors.New().Wrap(ErrCounterRead, err)
	}

	seen := make(map[string]bool, len(partitions))
	volumes := make([]Volume, 0, len(partitions))
	for _, p := range partitions {
		if seen[p.Device] {
			continue
		}

		usage, err := disk.Usage(p.Mountpoint)
		if err != nil || usage.Total == 0 {
			continue
		}

		seen[p.Device] = true
		volumes = append(volumes, Volume{
			Device: p.Device,
			Total:  usage.Total,
			Free:   usage.Free,
		})
	}

	return volumes, nil
}

func (hostSource) DiskIO() (IOCounters, error) {
	stats, err := disk.IOCounters()
	if err != nil {
		return IOCounters{}, errors.New().Wrap(ErrCounterRead, err)
	}

	var total IOCounters
	for _, s := range stats {
		total.In = saturatingAdd(total.In, s.ReadBytes)
		total.Out = saturatingAdd(total.Out, s.WriteBytes)
	}
	return total, nil
}

func (hostSource) NetIO() (IOCounters, error) {
	stats, err := net.IOCounters(true)
	if err != nil {
		return IOCounters{}, errors.New().Wrap(ErrCounterRead, err)
	}

	var total IOCounters
	for _, s := range stats {
		if isLoopback(s.Name) {
			continue
		}
		total.In = saturatingAdd(total.In, s.BytesRecv)
		total.Out = saturatingAdd(total.Out, s.BytesSent)
	}
	return total, nil
}

func isCPUSensor(key string) bool {
	key = strings.ToLower(key)
	for _, k := range cpuSensorKeys {
		if strings.Contains(key, k) {
			return true
		}
	}
	return false
}

func isLoopback(name string) bool {
	name = strings.ToLower(name)
	return name == "lo" || strings.HasPrefix(name, "lo0") || strings.Contains(name, "loopback")
}
