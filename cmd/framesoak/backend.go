package main

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/vkngwrapper/forge/backend/noop"
	"github.com/vkngwrapper/forge/backend/vulkan"
	"github.com/vkngwrapper/forge/backend/webgpu"
	"github.com/vkngwrapper/forge/driver"
)

// openedBackend is a driver device plus whatever it takes to present from it
type openedBackend struct {
	device driver.Device
	// swapChain is nil unless the display is enabled
	swapChain driver.SwapChain
}

func (b *openedBackend) destroy() {
	if b.swapChain != nil {
		b.swapChain.Destroy()
	}
	b.device.Destroy()
}

func openBackend(logger *slog.Logger, cfg *Config) (*openedBackend, error) {
	switch cfg.Backend {
	case backendNoop:
		device := noop.New(logger, noop.Options{})
		opened := &openedBackend{device: device}
		if cfg.Display.Enabled {
			opened.swapChain = noop.NewSwapChain(device, cfg.Display.BufferCount, cfg.Display.Width, cfg.Display.Height, driver.FormatR8G8B8A8Unorm)
		}
		return opened, nil
	case backendVulkan:
		device, err := vulkan.CreateHeadless(logger, "framesoak", vulkan.HeadlessOptions{
			Options: vulkan.Options{
				ExternallySynchronized: cfg.Device.ExternallySynchronized,
			},
			Debug:               cfg.Vulkan.Debug,
			PhysicalDeviceIndex: cfg.Vulkan.PhysicalDevice,
		})
		if err != nil {
			return nil, err
		}
		return &openedBackend{device: device}, nil
	case backendWebGPU:
		device, err := webgpu.CreateFromBackend(logger, gputypes.BackendVulkan, webgpu.Options{})
		if err != nil {
			return nil, err
		}
		return &openedBackend{device: device}, nil
	case backendWebGPUNoop:
		device, err := webgpu.CreateNoop(logger, webgpu.Options{})
		if err != nil {
			return nil, err
		}
		return &openedBackend{device: device}, nil
	}

	return nil, errors.Newf("unknown backend %q", cfg.Backend)
}
