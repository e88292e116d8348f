package gpu

import (
	"codeberg.org/mutker/pulsecore/internal/errors"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// nvmlLibrary is the library backed by the system NVML. It is only ever
// used by one Reader, which serializes calls.
type nvmlLibrary struct {
	loaded bool
}

func (l *nvmlLibrary) Initialize() error {
	if l.loaded {
		return nil
	}

	if err := check(nvml.Init(), ErrInitFailed); err != nil {
		return err
	}
	l.loaded = true

	return nil
}

func (l *nvmlLibrary) Shutdown() error {
	if !l.loaded {
		return nil
	}

	if err := check(nvml.Shutdown(), ErrShutdownFailed); err != nil {
		return err
	}
	l.loaded = false

	return nil
}

func (l *nvmlLibrary) GetDeviceCount() (int, error) {
	if !l.loaded {
		return 0, errors.New().New(ErrNotInitialized)
	}

	count, ret := nvml.DeviceGetCount()
	return count, check(ret, ErrDeviceNotFound)
}

// GetDevice returns the handle at index; nvml.Device satisfies device.
func (l *nvmlLibrary) GetDevice(index int) (device, error) {
	if !l.loaded {
		return nil, errors.New().New(ErrNotInitialized)
	}

	handle, ret := nvml.DeviceGetHandleByIndex(index)
	if err := check(ret, ErrDeviceNotFound); err != nil {
		return nil, err
	}

	return handle, nil
}

// check wraps a failed NVML return in code.
func check(ret nvml.Return, code errors.ErrorCode) error {
	if IsNVMLSuccess(ret) {
		return nil
	}
	return errors.New().Wrap(code, newNVMLError(ret))
}
