package telemetry

import "time"

// Source reads raw host counters. Each method may fail independently; the
// sampler turns a failure into an absent field.
type Source interface {
	CPUPercent() (float64, error)
	CPUFrequencies() ([]float64, error)
	CPUTemperature() (float64, error)
	Memory() (used, total uint64, err error)
	Volumes() ([]Volume, error)
	DiskIO() (IOCounters, error)
	NetIO() (IOCounters, error)
}

// GPUReader reads the current state of the primary GPU.
type GPUReader interface {
	ReadGPU() (GPUReading, error)
}

// Volume is one mounted filesystem, in bytes.
type Volume struct {
	Device string
	Total  uint64
	Free   uint64
}

// IOCounters are cumulative byte counters. For network counters In is bytes
// received and Out is bytes sent; for disks In is read and Out is written.
type IOCounters struct {
	In  uint64
	Out uint64
}

// GPUReading holds whatever the device reported. Nil fields are unsupported.
type GPUReading struct {
	UsagePct      *float64
	TemperatureC  *float64
	MemoryUsedMB  *float64
	MemoryTotalMB *float64
	PowerWatts    *float64
}

// Snapshot is one telemetry reading. Optional values are nil when they could
// not be read, with the reason listed in Degraded.
type Snapshot struct {
	Timestamp  time.Time      `json:"timestamp"`
	CPU        CPUMetrics     `json:"cpu"`
	GPU        GPUMetrics     `json:"gpu"`
	Memory     MemoryMetrics  `json:"memory"`
	Disk       DiskMetrics    `json:"disk"`
	Network    NetworkMetrics `json:"network"`
	PowerWatts *float64       `json:"power_watts"`
	Degraded   []Degradation  `json:"degraded,omitempty"`
}

type CPUMetrics struct {
	UsagePct     float64  `json:"usage_pct"`
	FrequencyMHz *float64 `json:"frequency_mhz"`
	TemperatureC *float64 `json:"temperature_c"`
}

type GPUMetrics struct {
	UsagePct      *float64 `json:"usage_pct"`
	TemperatureC  *float64 `json:"temperature_c"`
	MemoryUsedMB  *float64 `json:"memory_used_mb"`
	MemoryTotalMB *float64 `json:"memory_total_mb"`
}

type MemoryMetrics struct {
	UsedMB   float64 `json:"used_mb"`
	TotalMB  float64 `json:"total_mb"`
	UsagePct float64 `json:"usage_pct"`
}

type DiskMetrics struct {
	UsedGB           float64  `json:"used_gb"`
	TotalGB          float64  `json:"total_gb"`
	UsagePct         float64  `json:"usage_pct"`
	ReadBytesPerSec  *float64 `json:"read_bytes_per_sec"`
	WriteBytesPerSec *float64 `json:"write_bytes_per_sec"`
}

type NetworkMetrics struct {
	DownloadBytesPerSec float64  `json:"download_bytes_per_sec"`
	UploadBytesPerSec   float64  `json:"upload_bytes_per_sec"`
	LatencyMs           *float64 `json:"latency_ms"`
}

// Degradation names a field that could not be read and why.
type Degradation struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}
