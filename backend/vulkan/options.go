package vulkan

import vkdriver "github.com/vkngwrapper/core/v2/driver"

// Options configures a Device. It is valid to leave every field blank.
type Options struct {
	// QueueFamilies is the queue family used for each command list type, indexed by
	// driver.CommandListType. The device must have been created with one queue from each listed family.
	// When empty, the first graphics family is used for every type.
	QueueFamilies []int
	// HeapSizeLimits caps the bytes allocated from each memory heap. Zero entries are unlimited. When
	// provided, the length must equal the number of memory heaps.
	HeapSizeLimits []int
	// AllocationCallbacks is passed to every vkngwrapper create and destroy call
	AllocationCallbacks *vkdriver.AllocationCallbacks
	// ExternallySynchronized skips the mutexes guarding mapped memory
	ExternallySynchronized bool
}
