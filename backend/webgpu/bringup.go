package webgpu

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	"github.com/vkngwrapper/forge/driver"

	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// CreateNoop opens a device on the hal's noop backend, which accepts every call and executes nothing
func CreateNoop(logger *slog.Logger, options Options) (*Device, error) {
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating noop instance")
	}
	return openInstance(logger, instance, options)
}

// CreateFromBackend opens a device on the first discrete or integrated adapter of a registered hal
// backend, falling back to the first adapter found
func CreateFromBackend(logger *slog.Logger, backendType gputypes.Backend, options Options) (*Device, error) {
	backend, ok := hal.GetBackend(backendType)
	if !ok {
		return nil, errors.Mark(errors.Newf("hal backend %v is not available", backendType), driver.ErrUnsupported)
	}

	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "creating %v instance", backendType), driver.ErrUnsupported)
	}
	return openInstance(logger, instance, options)
}

func openInstance(logger *slog.Logger, instance hal.Instance, options Options) (*Device, error) {
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, errors.Mark(errors.New("no GPU adapters found"), driver.ErrUnsupported)
	}

	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, errors.Wrapf(err, "opening adapter %q", selected.Info.Name)
	}

	device, err := New(logger, openDev.Device, openDev.Queue, options)
	if err != nil {
		openDev.Device.Destroy()
		instance.Destroy()
		return nil, err
	}

	logger.Debug("webgpu device opened", slog.String("Adapter", selected.Info.Name))
	device.teardown = func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	return device, nil
}
