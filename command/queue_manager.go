package command

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/forge/driver"
)

// QueueManager owns the graphics, compute and copy queues of a device and routes fence values to the
// queue that issued them
type QueueManager struct {
	logger *slog.Logger
	device driver.Device
	queues [driver.CommandListTypeCount]*CommandQueue
}

func NewQueueManager(logger *slog.Logger) *QueueManager {
	manager := &QueueManager{logger: logger}
	for i := range manager.queues {
		manager.queues[i] = NewCommandQueue(logger, driver.CommandListType(i))
	}
	return manager
}

// Create creates every queue. On failure the queues already created are shut down again.
func (m *QueueManager) Create(device driver.Device) error {
	m.device = device

	for _, queue := range m.queues {
		err := queue.Create(device)
		if err != nil {
			m.Shutdown()
			return err
		}
	}

	return nil
}

func (m *QueueManager) Device() driver.Device {
	return m.device
}

func (m *QueueManager) Queue(listType driver.CommandListType) *CommandQueue {
	if listType < 0 || listType >= driver.CommandListTypeCount {
		panic(errors.AssertionFailedf("called QueueManager::Queue with invalid command list type %d", listType))
	}
	return m.queues[listType]
}

func (m *QueueManager) GraphicsQueue() *CommandQueue { return m.queues[driver.CommandListDirect] }
func (m *QueueManager) ComputeQueue() *CommandQueue  { return m.queues[driver.CommandListCompute] }
func (m *QueueManager) CopyQueue() *CommandQueue     { return m.queues[driver.CommandListCopy] }

// QueueForFence is the queue that issued fenceValue
func (m *QueueManager) QueueForFence(fenceValue uint64) *CommandQueue {
	return m.Queue(FenceValueType(fenceValue))
}

// CreateNewCommandList creates a command list in the recording state together with the allocator it
// records into
func (m *QueueManager) CreateNewCommandList(listType driver.CommandListType) (driver.CommandList, driver.CommandAllocator, error) {
	queue := m.Queue(listType)

	allocator, err := queue.RequestAllocator()
	if err != nil {
		return nil, nil, err
	}

	list, err := m.device.CreateCommandList(listType, allocator)
	if err != nil {
		queue.ReturnAllocator(allocator)
		return nil, nil, errors.Wrapf(err, "creating %s command list", listType)
	}

	return list, allocator, nil
}

// IsFenceComplete reports whether the queue that issued fenceValue has passed it
func (m *QueueManager) IsFenceComplete(fenceValue uint64) bool {
	return m.QueueForFence(fenceValue).IsFenceComplete(fenceValue)
}

// WaitForFence blocks until the queue that issued fenceValue has passed it
func (m *QueueManager) WaitForFence(fenceValue uint64) error {
	return m.QueueForFence(fenceValue).WaitForFence(fenceValue)
}

// StallForFence makes consumer wait on the GPU for fenceValue, which may come from any queue
func (m *QueueManager) StallForFence(consumer driver.CommandListType, fenceValue uint64) error {
	producer := m.QueueForFence(fenceValue)
	if producer.listType == consumer {
		return nil
	}
	return m.Queue(consumer).StallForFence(producer, fenceValue)
}

// IdleGPU blocks until every queue has finished all submitted work
func (m *QueueManager) IdleGPU() error {
	for _, queue := range m.queues {
		if !queue.IsReady() {
			continue
		}

		err := queue.WaitForIdle()
		if err != nil {
			return err
		}
	}

	return nil
}

func (m *QueueManager) BuildStatsString(writer *jwriter.Writer) {
	obj := writer.Object()
	defer obj.End()

	for _, queue := range m.queues {
		if queue.IsReady() {
			queue.BuildStatsString(obj.Name(queue.Type().String()))
		}
	}
}

// Shutdown destroys every queue. The GPU must be idle.
func (m *QueueManager) Shutdown() {
	for _, queue := range m.queues {
		queue.Shutdown()
	}
}
