package vulkan

import (
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_surface"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"
	"github.com/vkngwrapper/forge/driver"
)

// ErrOutOfDate is marked on Present errors caused by the surface changing under the swap chain. The
// caller is expected to resize the swap chain.
var ErrOutOfDate = errors.New("swap chain is out of date")

// SwapChain is the vulkan driver.SwapChain. The next image is acquired on the CPU right after creation and
// after every present, so CurrentBackBufferIndex is always an image the caller may render into.
type SwapChain struct {
	device      *Device
	surface     khr_surface.Surface
	bufferCount int
	format      driver.Format
	presentMode khr_surface.PresentMode

	mutex      sync.Mutex
	swapchain  khr_swapchain.Swapchain
	width      uint32
	height     uint32
	buffers    []*Resource
	references []int
	semaphores []core1_0.Semaphore
	current    int
}

var _ driver.SwapChain = &SwapChain{}

// NewSwapChain creates a swap chain with bufferCount images on surface. The device must have been
// created with khr_swapchain enabled.
func NewSwapChain(device *Device, surface khr_surface.Surface, bufferCount int, width, height uint32, format driver.Format, presentMode khr_surface.PresentMode) (*SwapChain, error) {
	if device.extensions.Swapchain == nil {
		return nil, errors.Mark(errors.Newf("%s is not active on the device", khr_swapchain.ExtensionName), driver.ErrUnsupported)
	}
	if VulkanFormat(format) == core1_0.FormatUndefined {
		return nil, errors.Mark(errors.Newf("format %s has no vulkan equivalent", format), driver.ErrUnsupported)
	}

	swapChain := &SwapChain{
		device:      device,
		surface:     surface,
		bufferCount: bufferCount,
		format:      format,
		presentMode: presentMode,
	}

	err := swapChain.create(width, height)
	if err != nil {
		swapChain.destroyBuffers()
		return nil, err
	}
	return swapChain, nil
}

func (s *SwapChain) create(width, height uint32) error {
	capabilities, _, err := s.surface.PhysicalDeviceSurfaceCapabilities(s.device.physicalDevice)
	if err != nil {
		return errors.Wrap(err, "querying surface capabilities")
	}

	imageCount := max(s.bufferCount, capabilities.MinImageCount)
	if capabilities.MaxImageCount > 0 {
		imageCount = min(imageCount, capabilities.MaxImageCount)
	}

	swapchain, res, err := s.device.extensions.Swapchain.CreateSwapchain(s.device.device, s.device.options.AllocationCallbacks, khr_swapchain.SwapchainCreateInfo{
		Surface: s.surface,

		MinImageCount:    imageCount,
		ImageFormat:      VulkanFormat(s.format),
		ImageColorSpace:  khr_surface.ColorSpaceSRGBNonlinear,
		ImageExtent:      core1_0.Extent2D{Width: int(width), Height: int(height)},
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageColorAttachment | core1_0.ImageUsageTransferDst,

		ImageSharingMode: core1_0.SharingModeExclusive,

		PreTransform:   capabilities.CurrentTransform,
		CompositeAlpha: khr_surface.CompositeAlphaOpaque,
		PresentMode:    s.presentMode,
		Clipped:        true,
	})
	if err != nil {
		return resultError(res, err, "creating swap chain")
	}
	s.swapchain = swapchain
	s.width = width
	s.height = height

	images, _, err := swapchain.SwapchainImages()
	if err != nil {
		return errors.Wrap(err, "getting swap chain images")
	}

	s.buffers = make([]*Resource, 0, len(images))
	s.references = make([]int, len(images))
	for i, image := range images {
		resource := &Resource{
			device: s.device,
			desc: driver.ResourceDesc{
				Label:            "Swap Chain Image",
				Dimension:        driver.DimensionTexture2D,
				Heap:             driver.HeapDefault,
				Width:            uint64(width),
				Height:           height,
				DepthOrArraySize: 1,
				MipLevels:        1,
				Format:           s.format,
				SampleCount:      1,
				Flags:            driver.ResourceFlagAllowRenderTarget,
			},
			image:      image,
			swapChain:  s,
			imageIndex: i,
		}
		s.buffers = append(s.buffers, resource)

		err = s.device.initializeLayout(resource, driver.ResourceStatePresent)
		if err != nil {
			return err
		}

		semaphore, res, err := s.device.device.CreateSemaphore(s.device.options.AllocationCallbacks, core1_0.SemaphoreCreateInfo{})
		if err != nil {
			return resultError(res, err, "creating present semaphore")
		}
		s.semaphores = append(s.semaphores, semaphore)
	}

	s.device.logger.Debug("SwapChain::create",
		slog.Int("ImageCount", len(images)),
		slog.Int("Width", int(width)),
		slog.Int("Height", int(height)),
	)
	return s.acquire()
}

// acquire blocks until the presentation engine hands over the next image
func (s *SwapChain) acquire() error {
	fence, err := s.device.acquireFence()
	if err != nil {
		return err
	}

	index, res, err := s.swapchain.AcquireNextImage(common.NoTimeout, nil, fence)
	if err != nil {
		fence.Destroy(s.device.options.AllocationCallbacks)
		if res == khr_swapchain.VKErrorOutOfDate {
			return errors.Mark(errors.Wrap(err, "acquiring swap chain image"), ErrOutOfDate)
		}
		return resultError(res, err, "acquiring swap chain image")
	}

	res, err = fence.Wait(common.NoTimeout)
	if err != nil {
		fence.Destroy(s.device.options.AllocationCallbacks)
		return resultError(res, err, "waiting for swap chain image")
	}

	s.current = index
	return s.device.releaseFence(fence)
}

func (s *SwapChain) destroyBuffers() {
	for _, buffer := range s.buffers {
		buffer.releaseViews()
	}
	s.buffers = nil
	s.references = nil

	for _, semaphore := range s.semaphores {
		semaphore.Destroy(s.device.options.AllocationCallbacks)
	}
	s.semaphores = nil

	if s.swapchain != nil {
		s.swapchain.Destroy(s.device.options.AllocationCallbacks)
		s.swapchain = nil
	}
}

func (s *SwapChain) BufferCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return len(s.buffers)
}

func (s *SwapChain) Buffer(index int) (driver.Resource, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if index < 0 || index >= len(s.buffers) {
		return nil, errors.Newf("swap chain has no buffer %d", index)
	}

	s.references[index]++
	return s.buffers[index], nil
}

func (s *SwapChain) release(index int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.references[index] == 0 {
		panic(errors.AssertionFailedf("swap chain buffer %d released more times than it was acquired", index))
	}
	s.references[index]--
}

func (s *SwapChain) CurrentBackBufferIndex() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.current
}

func (s *SwapChain) Format() driver.Format {
	return s.format
}

func (s *SwapChain) Size() (uint32, uint32) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.width, s.height
}

// Present presents the current image once the work already submitted to queue has finished. The present
// mode chosen at creation governs vertical sync; syncInterval is not used.
func (s *SwapChain) Present(queue driver.Queue, syncInterval int) error {
	vkQueue, ok := queue.(*Queue)
	if !ok {
		return errors.Newf("vulkan swap chain cannot present on queue of type %T", queue)
	}
	if vkQueue.listType != driver.CommandListDirect {
		return errors.Newf("swap chains present on the %s queue, not %s", driver.CommandListDirect, vkQueue.listType)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	semaphore := s.semaphores[s.current]
	err := vkQueue.submit(nil, []core1_0.SubmitInfo{
		{
			SignalSemaphores: []core1_0.Semaphore{semaphore},
		},
	})
	if err != nil {
		return err
	}

	vkQueue.mutex.Lock()
	res, err := s.device.extensions.Swapchain.QueuePresent(vkQueue.queue, khr_swapchain.PresentInfo{
		WaitSemaphores: []core1_0.Semaphore{semaphore},
		Swapchains:     []khr_swapchain.Swapchain{s.swapchain},
		ImageIndices:   []int{s.current},
	})
	vkQueue.mutex.Unlock()
	if res == khr_swapchain.VKErrorOutOfDate {
		return errors.Mark(errors.Wrap(err, "presenting swap chain image"), ErrOutOfDate)
	} else if err != nil && res != khr_swapchain.VKSuboptimal {
		return resultError(res, err, "presenting swap chain image")
	}

	return s.acquire()
}

func (s *SwapChain) ResizeBuffers(width, height uint32) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for index, references := range s.references {
		if references > 0 {
			return errors.Newf("cannot resize swap chain: buffer %d has %d outstanding references", index, references)
		}
	}

	err := s.device.WaitIdle()
	if err != nil {
		return err
	}

	s.destroyBuffers()
	return s.create(width, height)
}

func (s *SwapChain) Destroy() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for index, references := range s.references {
		if references > 0 {
			s.device.logger.Warn("SwapChain::Destroy called with outstanding buffer references",
				slog.Int("Buffer", index), slog.Int("References", references))
		}
	}

	err := s.device.WaitIdle()
	if err != nil {
		s.device.logger.Warn("SwapChain::Destroy could not idle the device", slog.Any("Error", err))
	}
	s.destroyBuffers()
}
