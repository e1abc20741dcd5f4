package vulkan

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v2/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/v2/khr_portability_subset"
	"github.com/vkngwrapper/forge/driver"
)

// HeadlessOptions configures CreateHeadless
type HeadlessOptions struct {
	Options
	// Debug enables ext_debug_utils, when available, and logs validation messages
	Debug bool
	// PhysicalDeviceIndex selects the physical device to use
	PhysicalDeviceIndex int
}

func debugMessengerInfo(logger *slog.Logger) ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback: func(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
			level := slog.LevelWarn
			if severity&ext_debug_utils.SeverityError != 0 {
				level = slog.LevelError
			}
			logger.Log(context.Background(), level, "vulkan debug message",
				slog.Any("Type", msgType),
				slog.String("Message", data.Message),
			)
			return false
		},
	}
}

// CreateHeadless creates an instance and a device with a single graphics queue, with no surface
// support. The returned Device destroys both when it is destroyed.
func CreateHeadless(logger *slog.Logger, applicationName string, options HeadlessOptions) (*Device, error) {
	loader, err := core.CreateSystemLoader()
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "loading vulkan"), driver.ErrUnsupported)
	}

	instanceExtensions, _, err := loader.AvailableExtensions()
	if err != nil {
		return nil, err
	}

	var instanceExtensionNames []string
	var flags core1_0.InstanceCreateFlags
	if _, ok := instanceExtensions[khr_portability_enumeration.ExtensionName]; ok {
		instanceExtensionNames = append(instanceExtensionNames, khr_portability_enumeration.ExtensionName)
		flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	_, debugAvailable := instanceExtensions[ext_debug_utils.ExtensionName]
	debug := options.Debug && debugAvailable
	instanceInfo := core1_0.InstanceCreateInfo{
		ApplicationName:       applicationName,
		ApplicationVersion:    common.CreateVersion(1, 0, 0),
		EngineName:            "forge",
		EngineVersion:         common.CreateVersion(1, 0, 0),
		APIVersion:            common.Vulkan1_1,
		EnabledExtensionNames: instanceExtensionNames,
		Flags:                 flags,
	}
	if debug {
		instanceInfo.EnabledExtensionNames = append(instanceInfo.EnabledExtensionNames, ext_debug_utils.ExtensionName)
		instanceInfo.NextOptions = common.NextOptions{Next: debugMessengerInfo(logger)}
	}

	instance, _, err := loader.CreateInstance(nil, instanceInfo)
	if err != nil {
		return nil, errors.Wrap(err, "creating vulkan instance")
	}

	var debugMessenger ext_debug_utils.DebugUtilsMessenger
	if debug {
		debugLoader := ext_debug_utils.CreateExtensionFromInstance(instance)
		debugMessenger, _, err = debugLoader.CreateDebugUtilsMessenger(instance, nil, debugMessengerInfo(logger))
		if err != nil {
			instance.Destroy(nil)
			return nil, errors.Wrap(err, "creating debug messenger")
		}
	}

	destroyInstance := func() {
		if debugMessenger != nil {
			debugMessenger.Destroy(nil)
		}
		instance.Destroy(nil)
	}

	physicalDevice, vkDevice, err := createHeadlessDevice(instance, options.PhysicalDeviceIndex)
	if err != nil {
		destroyInstance()
		return nil, err
	}

	device, err := New(logger, physicalDevice, vkDevice, options.Options)
	if err != nil {
		vkDevice.Destroy(nil)
		destroyInstance()
		return nil, err
	}

	device.teardown = func() {
		vkDevice.Destroy(nil)
		destroyInstance()
	}
	return device, nil
}

func createHeadlessDevice(instance core1_0.Instance, physicalDeviceIndex int) (core1_0.PhysicalDevice, core1_0.Device, error) {
	gpus, _, err := instance.EnumeratePhysicalDevices()
	if err != nil {
		return nil, nil, errors.Wrap(err, "enumerating physical devices")
	}
	if physicalDeviceIndex < 0 || physicalDeviceIndex >= len(gpus) {
		return nil, nil, errors.Mark(errors.Newf("physical device %d requested, but %d are present", physicalDeviceIndex, len(gpus)), driver.ErrUnsupported)
	}
	physicalDevice := gpus[physicalDeviceIndex]

	graphicsFamily := -1
	for queueIndex, queueFamily := range physicalDevice.QueueFamilyProperties() {
		if queueFamily.QueueFlags&core1_0.QueueGraphics != 0 {
			graphicsFamily = queueIndex
			break
		}
	}
	if graphicsFamily < 0 {
		return nil, nil, errors.Mark(errors.New("physical device has no graphics queue family"), driver.ErrUnsupported)
	}

	var deviceExtensionNames []string
	deviceExtensions, _, err := physicalDevice.EnumerateDeviceExtensionProperties()
	if err != nil {
		return nil, nil, err
	}
	if _, ok := deviceExtensions[khr_portability_subset.ExtensionName]; ok {
		deviceExtensionNames = append(deviceExtensionNames, khr_portability_subset.ExtensionName)
	}

	device, _, err := physicalDevice.CreateDevice(nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos: []core1_0.DeviceQueueCreateInfo{
			{
				QueueFamilyIndex: graphicsFamily,
				QueuePriorities:  []float32{0.0},
			},
		},
		EnabledExtensionNames: deviceExtensionNames,
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "creating vulkan device")
	}

	return physicalDevice, device, nil
}
