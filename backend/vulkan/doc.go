// Package vulkan implements the driver interfaces over vkngwrapper.
//
// Every committed resource gets its own VkDeviceMemory, using a dedicated allocation when
// khr_dedicated_allocation (or core 1.1) reports that one is preferred. Fences are 64-bit timelines
// emulated with a queue of binary VkFences, so only core 1.0 is required. A cross-queue Queue.Wait
// blocks the calling goroutine instead of the GPU.
//
// Descriptor heaps are CPU tables: each slot records the image view or buffer range last written to
// it. Binding those tables to descriptor sets is left to higher-level pipeline code, which can reach
// the slots through Device.Descriptor.
package vulkan
