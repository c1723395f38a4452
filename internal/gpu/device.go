// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

var (
	// ErrNoDevice is returned when no GPU device could be acquired.
	ErrNoDevice = errors.New("gpu: no device")

	// ErrNoHALProvider is returned when a device provider does not expose
	// its hal device and queue.
	ErrNoHALProvider = errors.New("gpu: provider does not expose HAL types")
)

// Device is a hal device and queue, either opened here or borrowed from
// the host. A nil *Device is valid and means CPU-only operation.
type Device struct {
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	name     string
	external bool // shared device, not destroyed on Close
}

// NewDevice opens the first discrete or integrated Vulkan adapter, falling
// back to whatever adapter is listed first.
func NewDevice() (*Device, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("%w: vulkan backend not available", ErrNoDevice)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("%w: create instance: %v", ErrNoDevice, err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("%w: no GPU adapters found", ErrNoDevice)
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("%w: open device: %v", ErrNoDevice, err)
	}
	slogger().Info("gpu: device opened", "adapter", selected.Info.Name)
	return &Device{
		instance: instance,
		device:   openDev.Device,
		queue:    openDev.Queue,
		name:     selected.Info.Name,
	}, nil
}

// Wrap borrows an already open device and queue. Close leaves them alone.
func Wrap(device hal.Device, queue hal.Queue) *Device {
	if device == nil || queue == nil {
		return nil
	}
	return &Device{device: device, queue: queue, name: "shared", external: true}
}

// FromProvider borrows the host's device. The provider must also
// implement HalDevice() any and HalQueue() any returning hal.Device and
// hal.Queue.
func FromProvider(provider gpucontext.DeviceProvider) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	if provider == nil {
		return nil, ErrNoHALProvider
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNoHALProvider
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrNoHALProvider)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNoHALProvider)
	}
	slogger().Info("gpu: using shared device")
	return Wrap(device, queue), nil
}

// Available reports whether d can run GPU work.
func (d *Device) Available() bool { return d != nil && d.device != nil && d.queue != nil }

// Name returns the adapter name.
func (d *Device) Name() string {
	if d == nil {
		return "none"
	}
	return d.name
}

// HAL returns the underlying device and queue.
func (d *Device) HAL() (hal.Device, hal.Queue) {
	if d == nil {
		return nil, nil
	}
	return d.device, d.queue
}

// Close destroys an owned device. Shared devices are only released.
func (d *Device) Close() {
	if d == nil {
		return
	}
	if !d.external {
		if d.device != nil {
			d.device.Destroy()
		}
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
	d.device = nil
	d.queue = nil
	d.instance = nil
}
