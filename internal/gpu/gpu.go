// Package gpu reads utilization, temperature, memory and power draw from the
// primary NVIDIA GPU through NVML.
package gpu

import (
	"sync"

	"codeberg.org/mutker/pulsecore/internal/errors"
	"codeberg.org/mutker/pulsecore/internal/logger"
	"codeberg.org/mutker/pulsecore/internal/telemetry"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

const (
	bytesPerMB        = 1024 * 1024
	milliWattsToWatts = 1000
)

// Reader implements telemetry.GPUReader for device 0.
type Reader struct {
	lib    library
	device device
	name   string
	log    logger.Logger
	mu     sync.Mutex
}

var _ telemetry.GPUReader = (*Reader)(nil)

// Open initializes NVML and selects the first device. It fails on hosts
// without an NVIDIA driver; callers treat that as "no GPU".
func Open(log logger.Logger) (*Reader, error) {
	return open(&nvmlLibrary{}, log)
}

func open(lib library, log logger.Logger) (*Reader, error) {
	errFactory := errors.New()
	log = log.With("gpu")

	if err := lib.Initialize(); err != nil {
		return nil, err
	}

	count, err := lib.GetDeviceCount()
	if err != nil {
		lib.Shutdown()
		return nil, err
	}
	if count == 0 {
		lib.Shutdown()
		return nil, errFactory.WithMessage(ErrDeviceNotFound, "No NVIDIA GPU found")
	}

	dev, err := lib.GetDevice(0)
	if err != nil {
		lib.Shutdown()
		return nil, err
	}

	r := &Reader{lib: lib, device: dev, log: log}

	if name, ret := dev.GetName(); IsNVMLSuccess(ret) {
		r.name = name
		log.Info().Str("name", name).Int("devices", count).Msg("Detected GPU")
	} else {
		log.Warn().
			Err(errFactory.Wrap(ErrDeviceInfoFailed, newNVMLError(ret))).
			Msg("Failed to get GPU name")
	}

	return r, nil
}

// Name is the device model, empty when NVML could not report it.
func (r *Reader) Name() string {
	return r.name
}

// ReadGPU reads every supported metric. Metrics the device does not support
// are left nil. It fails once the reader has been closed or when the driver
// reports the device as lost.
func (r *Reader) ReadGPU() (telemetry.GPUReading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.device == nil {
		return telemetry.GPUReading{}, errors.New().New(ErrNotInitialized)
	}

	var (
		reading telemetry.GPUReading
		lost    bool
	)
	ok := func(ret nvml.Return) bool {
		lost = lost || ret == nvml.ERROR_GPU_IS_LOST
		return IsNVMLSuccess(ret)
	}

	if util, ret := r.device.GetUtilizationRates(); ok(ret) {
		reading.UsagePct = float(util.Gpu)
	}

	if temp, ret := r.device.GetTemperature(nvml.TEMPERATURE_GPU); ok(ret) {
		reading.TemperatureC = float(temp)
	}

	if mem, ret := r.device.GetMemoryInfo(); ok(ret) {
		reading.MemoryUsedMB = float(float64(mem.Used) / bytesPerMB)
		reading.MemoryTotalMB = float(float64(mem.Total) / bytesPerMB)
	}

	if power, ret := r.device.GetPowerUsage(); ok(ret) {
		reading.PowerWatts = float(float64(power) / milliWattsToWatts)
	}

	if lost {
		return reading, errors.New().Wrap(ErrReadFailed, newNVMLError(nvml.ERROR_GPU_IS_LOST))
	}

	return reading, nil
}

func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.device == nil {
		return nil
	}
	r.device = nil

	if err := r.lib.Shutdown(); err != nil {
		return err
	}

	r.log.Debug().Msg("NVML shut down")

	return nil
}

func float[T uint32 | float64](v T) *float64 {
	f := float64(v)
	return &f
}
