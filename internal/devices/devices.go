package devices

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingName is returned if device is missing name
	ErrMissingName = errors.New("supported device is missing required name")
	// ErrMissingFriendly is returned if friendly name for device is missing
	ErrMissingFriendly = errors.New("supported device is missing required friendly name")
	// ErrMissingFamily is returned if family name for device is missing
	ErrMissingFamily = errors.New("supported device is missing required family name")
	// ErrMissingKernelManifest is returned if a kernel mapping has no manifest
	ErrMissingKernelManifest = errors.New("kernel source is missing required manifest")
	// ErrMissingKernelBuildScript is returned if a kernel mapping has no build script
	ErrMissingKernelBuildScript = errors.New("kernel source is missing required build script")
	// ErrMissingKernelOutputDir is returned if a kernel mapping does not say where its images are built
	ErrMissingKernelOutputDir = errors.New("kernel source is missing required output dir")
	// ErrDuplicateDevice is returned if the same device name is added twice
	ErrDuplicateDevice = errors.New("device is listed more than once")
)

// KernelSource maps a device to the kernel tree it is built from
type KernelSource struct {
	// Name is the kernel tree name, shared by devices of the same SoC (e.g. zuma)
	Name string
	// Manifest is the repo manifest URL of the kernel tree
	Manifest string
	// Branch of the manifest. Empty means the OS version is used.
	Branch string
	// BuildScript is run from the root of the kernel tree
	BuildScript string
	// OutputDir is relative to the kernel tree and holds the built images
	OutputDir string
}

// Device contains details and metadata about a device
type Device struct {
	Name     string
	Friendly string
	Family   string
	// Kernel is nil if the kernel for this device cannot be built separately
	Kernel *KernelSource
	// PreinitDevice is the partition Magisk uses for preinit data, empty if unknown
	PreinitDevice string
}

// SupportedDevices contains all the supported devices, their details, and sort order
type SupportedDevices struct {
	supportedDevices map[string]*Device
	deviceSortOrder  []string
}

// NewSupportedDevices takes in all devices, validates them, and returns initialized SupportedDevices
// which contains helper functions to get details about the supported devices
func NewSupportedDevices(devices ...*Device) (*SupportedDevices, error) {
	var deviceSortOrder []string
	supportedDevices := map[string]*Device{}
	for _, device := range devices {
		if device.Name == "" {
			return nil, ErrMissingName
		}
		if device.Friendly == "" {
			return nil, fmt.Errorf("'%v': %w", device.Name, ErrMissingFriendly)
		}
		if device.Family == "" {
			return nil, fmt.Errorf("'%v': %w", device.Name, ErrMissingFamily)
		}
		if device.Kernel != nil {
			if device.Kernel.Manifest == "" {
				return nil, fmt.Errorf("'%v': %w", device.Name, ErrMissingKernelManifest)
			}
			if device.Kernel.BuildScript == "" {
				return nil, fmt.Errorf("'%v': %w", device.Name, ErrMissingKernelBuildScript)
			}
			if device.Kernel.OutputDir == "" {
				return nil, fmt.Errorf("'%v': %w", device.Name, ErrMissingKernelOutputDir)
			}
		}
		if _, ok := supportedDevices[device.Name]; ok {
			return nil, fmt.Errorf("'%v': %w", device.Name, ErrDuplicateDevice)
		}
		deviceSortOrder = append(deviceSortOrder, device.Name)
		supportedDevices[device.Name] = device
	}

	return &SupportedDevices{
		supportedDevices: supportedDevices,
		deviceSortOrder:  deviceSortOrder,
	}, nil
}

// IsSupportedDevice takes device name (e.g. husky) and returns boolean support value
func (s *SupportedDevices) IsSupportedDevice(device string) bool {
	_, ok := s.supportedDevices[device]
	return ok
}

// GetDeviceDetails takes device name (e.g. husky) and returns full Device details
func (s *SupportedDevices) GetDeviceDetails(device string) *Device {
	return s.supportedDevices[device]
}

// KernelSource returns the kernel mapping of device, if it has one
func (s *SupportedDevices) KernelSource(device string) (*KernelSource, bool) {
	d, ok := s.supportedDevices[device]
	if !ok || d.Kernel == nil {
		return nil, false
	}
	return d.Kernel, true
}

// PreinitDevice returns the Magisk preinit partition of device, if it is known
func (s *SupportedDevices) PreinitDevice(device string) (string, bool) {
	d, ok := s.supportedDevices[device]
	if !ok || d.PreinitDevice == "" {
		return "", false
	}
	return d.PreinitDevice, true
}

// GetDeviceFriendlyNames returns list of all supported device friendly names (e.g. Pixel 8 Pro)
func (s *SupportedDevices) GetDeviceFriendlyNames() []string {
	var output []string
	for _, device := range s.deviceSortOrder {
		output = append(output, s.supportedDevices[device].Friendly)
	}
	return output
}

// GetDeviceCodeNames returns list of all supported devices code names (e.g. husky)
func (s *SupportedDevices) GetDeviceCodeNames() []string {
	return s.deviceSortOrder
}

// GetSupportedDevicesOutput returns a nicely formatted comma separated list of codename (friendly name)
func (s *SupportedDevices) GetSupportedDevicesOutput() string {
	var supportDevicesOutput []string
	supportedDevicesFriendly := s.GetDeviceFriendlyNames()
	for i, d := range s.GetDeviceCodeNames() {
		supportDevicesOutput = append(supportDevicesOutput, fmt.Sprintf("%v (%v)", d, supportedDevicesFriendly[i]))
	}
	return strings.Join(supportDevicesOutput, ", ")
}
