package vulkan

import (
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_1"
	"github.com/vkngwrapper/extensions/v2/khr_dedicated_allocation"
	"github.com/vkngwrapper/extensions/v2/khr_get_memory_requirements2"
	khr_get_memory_requirements2_shim "github.com/vkngwrapper/extensions/v2/khr_get_memory_requirements2/shim"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"
)

// extensionData records which optional device functionality is active
type extensionData struct {
	DedicatedAllocations  bool
	GetMemoryRequirements khr_get_memory_requirements2_shim.Shim
	Swapchain             khr_swapchain.Extension
}

func newExtensionData(device core1_0.Device) *extensionData {
	data := &extensionData{}

	device11 := core1_1.PromoteDevice(device)
	if device11 != nil {
		// Core 1.1 includes khr_get_memory_requirements2 and khr_dedicated_allocation
		data.DedicatedAllocations = true
		data.GetMemoryRequirements = device11
	}

	if data.GetMemoryRequirements == nil && device.IsDeviceExtensionActive(khr_get_memory_requirements2.ExtensionName) {
		extension := khr_get_memory_requirements2.CreateExtensionFromDevice(device)
		data.GetMemoryRequirements = khr_get_memory_requirements2_shim.NewShim(extension, device)
	}

	if data.GetMemoryRequirements != nil && !data.DedicatedAllocations &&
		device.IsDeviceExtensionActive(khr_dedicated_allocation.ExtensionName) {
		data.DedicatedAllocations = true
	}

	if device.IsDeviceExtensionActive(khr_swapchain.ExtensionName) {
		data.Swapchain = khr_swapchain.CreateExtensionFromDevice(device)
	}

	return data
}
