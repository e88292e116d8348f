package telemetry

import (
	"math"
	"time"

	"codeberg.org/mutker/pulsecore/internal/errors"
	"codeberg.org/mutker/pulsecore/internal/logger"
)

const (
	bytesPerMB = 1024 * 1024
	bytesPerGB = 1024 * 1024 * 1024

	minElapsed = time.Millisecond
)

// Field names used in Degradation entries.
const (
	FieldCPUUsage       = "cpu.usage_pct"
	FieldCPUFrequency   = "cpu.frequency_mhz"
	FieldCPUTemperature = "cpu.temperature_c"
	FieldGPUUsage       = "gpu.usage_pct"
	FieldGPUTemperature = "gpu.temperature_c"
	FieldGPUMemoryUsed  = "gpu.memory_used_mb"
	FieldGPUMemoryTotal = "gpu.memory_total_mb"
	FieldMemory         = "memory"
	FieldDisk           = "disk"
	FieldDiskIO         = "disk.io"
	FieldNetwork        = "network"
	FieldNetworkLatency = "network.latency_ms"
	FieldPower          = "power_watts"
)

type Option func(*Sampler)

// WithClock replaces the wall clock used for timestamps and rate intervals.
func WithClock(now func() time.Time) Option {
	return func(s *Sampler) {
		s.now = now
	}
}

// Sampler turns raw counters into rate-normalized snapshots. It is not safe
// for concurrent use; one goroutine owns it.
type Sampler struct {
	src Source
	gpu GPUReader
	log logger.Logger
	now func() time.Time

	net      IOCounters
	netValid bool
	disk     IOCounters
	diskOK   bool
	prevTick time.Time

	degraded map[string]bool
}

// NewSampler creates a sampler and captures the network baseline, so the
// first Collect reports the rate since construction. gpu may be nil.
func NewSampler(src Source, gpu GPUReader, log logger.Logger, opts ...Option) *Sampler {
	s := &Sampler{
		src:      src,
		gpu:      gpu,
		log:      log.With("sampler"),
		now:      time.Now,
		degraded: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}

	if counters, err := src.NetIO(); err == nil {
		s.net = counters
		s.netValid = true
	}
	s.prevTick = s.now()

	return s
}

// Collect produces one snapshot. It never fails: anything that cannot be read
// is left absent and listed in the snapshot's Degraded entries.
func (s *Sampler) Collect() Snapshot {
	now := s.now()
	elapsed := max(now.Sub(s.prevTick), minElapsed).Seconds()

	snap := Snapshot{Timestamp: now.UTC()}
	var degraded []Degradation
	degrade := func(field string, err error) {
		degraded = append(degraded, Degradation{Field: field, Reason: err.Error()})
	}

	s.collectCPU(&snap.CPU, degrade)
	s.collectGPU(&snap, degrade)

	if used, total, err := s.src.Memory(); err != nil {
		degrade(FieldMemory, err)
	} else {
		snap.Memory = MemoryMetrics{
			UsedMB:   float64(used) / bytesPerMB,
			TotalMB:  float64(total) / bytesPerMB,
			UsagePct: percent(float64(used), float64(total)),
		}
	}

	if volumes, err := s.src.Volumes(); err != nil {
		degrade(FieldDisk, err)
	} else {
		snap.Disk = diskUsage(volumes)
	}

	if io, err := s.src.DiskIO(); err != nil {
		degrade(FieldDiskIO, err)
		s.diskOK = false
	} else {
		if s.diskOK {
			read := rate(io.In, s.disk.In, elapsed)
			write := rate(io.Out, s.disk.Out, elapsed)
			snap.Disk.ReadBytesPerSec = &read
			snap.Disk.WriteBytesPerSec = &write
		} else {
			degrade(FieldDiskIO, errors.New().New(ErrNoBaseline))
		}
		s.disk = io
		s.diskOK = true
	}

	if io, err := s.src.NetIO(); err != nil {
		degrade(FieldNetwork, err)
		s.netValid = false
	} else {
		if s.netValid {
			snap.Network.DownloadBytesPerSec = rate(io.In, s.net.In, elapsed)
			snap.Network.UploadBytesPerSec = rate(io.Out, s.net.Out, elapsed)
		} else {
			degrade(FieldNetwork, errors.New().New(ErrNoBaseline))
		}
		s.net = io
		s.netValid = true
	}

	// Latency is measured on demand by the probe, never per tick
	degrade(FieldNetworkLatency, errors.New().WithMessage(ErrSensorUnavailable, "not sampled"))

	s.prevTick = now
	snap.Degraded = degraded
	s.trackDegradation(degraded)

	return snap
}

func (s *Sampler) collectCPU(m *CPUMetrics, degrade func(string, error)) {
	if pct, err := s.src.CPUPercent(); err != nil {
		degrade(FieldCPUUsage, err)
	} else {
		m.UsagePct = clampPct(pct)
	}

	freqs, err := s.src.CPUFrequencies()
	switch {
	case err != nil:
		degrade(FieldCPUFrequency, err)
	case len(freqs) == 0:
		degrade(FieldCPUFrequency, errors.New().WithMessage(ErrSensorUnavailable, "no cores reported"))
	default:
		var sum float64
		for _, f := range freqs {
			sum += f
		}
		avg := sum / float64(len(freqs))
		m.FrequencyMHz = &avg
	}

	if temp, err := s.src.CPUTemperature(); err != nil {
		degrade(FieldCPUTemperature, err)
	} else {
		m.TemperatureC = &temp
	}
}

func (s *Sampler) collectGPU(snap *Snapshot, degrade func(string, error)) {
	var (
		reading GPUReading
		err     error
	)
	if s.gpu == nil {
		err = errors.New().WithMessage(ErrSensorUnavailable, "no GPU reader")
	} else {
		reading, err = s.gpu.ReadGPU()
	}

	fields := []struct {
		name string
		src  *float64
		dst  **float64
		pct  bool
	}{
		{FieldGPUUsage, reading.UsagePct, &snap.GPU.UsagePct, true},
		{FieldGPUTemperature, reading.TemperatureC, &snap.GPU.TemperatureC, false},
		{FieldGPUMemoryUsed, reading.MemoryUsedMB, &snap.GPU.MemoryUsedMB, false},
		{FieldGPUMemoryTotal, reading.MemoryTotalMB, &snap.GPU.MemoryTotalMB, false},
		{FieldPower, reading.PowerWatts, &snap.PowerWatts, false},
	}

	for _, f := range fields {
		switch {
		case err != nil:
			degrade(f.name, err)
		case f.src == nil:
			degrade(f.name, errors.New().WithMessage(ErrSensorUnavailable, "not supported by device"))
		default:
			v := *f.src
			if f.pct {
				v = clampPct(v)
			}
			*f.dst = &v
		}
	}
}

// trackDegradation logs fields as they start and stop failing rather than
// on every tick.
func (s *Sampler) trackDegradation(current []Degradation) {
	seen := make(map[string]bool, len(current))
	for _, d := range current {
		seen[d.Field] = true
		if !s.degraded[d.Field] {
			s.log.Debug().
				Str("field", d.Field).
				Str("reason", d.Reason).
				Msg("Metric unavailable")
		}
	}

	for field := range s.degraded {
		if !seen[field] {
			s.log.Debug().Str("field", field).Msg("Metric recovered")
		}
	}

	s.degraded = seen
}

func diskUsage(volumes []Volume) DiskMetrics {
	var total, used float64
	for _, v := range volumes {
		t := float64(v.Total) / bytesPerGB
		free := float64(v.Free) / bytesPerGB
		total += t
		used += max(0, t-free)
	}

	return DiskMetrics{
		UsedGB:   used,
		TotalGB:  total,
		UsagePct: percent(used, total),
	}
}

// rate is the per-second delta between two cumulative counters. A counter
// that went backwards yields 0.
func rate(current, previous uint64, seconds float64) float64 {
	if current < previous {
		return 0
	}
	return float64(current-previous) / seconds
}

func percent(part, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return clampPct(part / total * 100)
}

func clampPct(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(math.Max(v, 0), 100)
}

// saturatingAdd adds without wrapping past the maximum.
func saturatingAdd(a, b uint64) uint64 {
	if sum := a + b; sum >= a {
		return sum
	}
	return math.MaxUint64
}
