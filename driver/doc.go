// Package driver defines the explicit-GPU interface that the rest of forge is written against.
//
// A backend (Vulkan, WebGPU HAL, or the in-memory noop driver) implements Device and the objects it
// creates. The interfaces follow the explicit model: command lists are recorded against command
// allocators, submitted to queues, and completion is observed through fences carrying monotonically
// increasing 64-bit values. Nothing in this package tracks state; resource states, allocator reuse and
// descriptor allocation live in the packages built on top of it.
package driver

//go:generate mockgen -destination ../internal/mocks/driver.go -package mocks github.com/vkngwrapper/forge/driver CommandAllocator,CommandList,DescriptorHeap,Device,Fence,Queue,Resource,SwapChain
