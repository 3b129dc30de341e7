package viewgrid

import "strings"

// A Device selects where splats are rasterized.
type Device int

const (
	DeviceAuto Device = iota
	DeviceGPU
	DeviceCPU
)

// ParseDevice parses a device name. The name "cuda" is an alias for "gpu"
// and the empty string means "auto".
func ParseDevice(s string) (Device, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return DeviceAuto, nil
	case "gpu", "cuda":
		return DeviceGPU, nil
	case "cpu":
		return DeviceCPU, nil
	default:
		return 0, invalidInputf("unknown device: %q", s)
	}
}

func (d Device) String() string {
	switch d {
	case DeviceAuto:
		return "auto"
	case DeviceGPU:
		return "gpu"
	case DeviceCPU:
		return "cpu"
	default:
		return "unknown"
	}
}

// ResolveDevice turns a requested device into a concrete one, given whether
// an accelerator could be initialized.
//
// DeviceAuto becomes DeviceGPU when gpuReady is true and DeviceCPU
// otherwise. An explicit DeviceGPU request without an accelerator fails
// with a *RenderError wrapping gpuErr.
func ResolveDevice(requested Device, gpuReady bool, gpuErr error) (Device, error) {
	switch requested {
	case DeviceCPU:
		return DeviceCPU, nil
	case DeviceGPU:
		if !gpuReady {
			return 0, &RenderError{Reason: "gpu requested but unavailable", Err: gpuErr}
		}
		return DeviceGPU, nil
	case DeviceAuto:
		if !gpuReady {
			Logger().Warn("gpu unavailable, falling back to cpu", "error", gpuErr)
			return DeviceCPU, nil
		}
		return DeviceGPU, nil
	default:
		return 0, invalidInputf("unknown device: %d", int(requested))
	}
}
