package graphics

import (
	"log/slog"

	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/forge/driver"
	"github.com/vkngwrapper/forge/internal/utils"
)

// ContextManager recycles CommandContexts per command list type
type ContextManager struct {
	logger *slog.Logger
	device *Device

	mutex      utils.OptionalMutex
	pool       [driver.CommandListTypeCount][]*CommandContext
	available  [driver.CommandListTypeCount]utils.Queue[*CommandContext]
	checkedOut *swiss.Map[*CommandContext, driver.CommandListType]
}

func newContextManager(logger *slog.Logger, device *Device, useMutex bool) *ContextManager {
	return &ContextManager{
		logger:     logger,
		device:     device,
		checkedOut: swiss.NewMap[*CommandContext, driver.CommandListType](8),
		mutex: utils.OptionalMutex{
			UseMutex: useMutex,
		},
	}
}

// AllocateContext checks out a recording context of listType, reusing a finished one when available
func (m *ContextManager) AllocateContext(listType driver.CommandListType) (*CommandContext, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if listType < 0 || listType >= driver.CommandListTypeCount {
		panic("called ContextManager::AllocateContext with an invalid command list type")
	}

	context, ok := m.available[listType].Pop()
	if ok {
		err := context.Reset()
		if err != nil {
			m.available[listType].Push(context)
			return nil, err
		}
	} else {
		context = newCommandContext(m.device, m, listType)
		err := context.Initialize()
		if err != nil {
			return nil, err
		}
		m.pool[listType] = append(m.pool[listType], context)

		m.logger.Debug("ContextManager::AllocateContext created context",
			slog.String("Type", listType.String()),
			slog.Int("PoolSize", len(m.pool[listType])),
		)
	}

	m.checkedOut.Put(context, listType)
	return context, nil
}

// FreeContext returns a finished context for reuse
func (m *ContextManager) FreeContext(context *CommandContext) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.checkedOut.Delete(context) {
		panic("called ContextManager::FreeContext with a context that is not checked out")
	}
	context.label = ""
	m.available[context.listType].Push(context)
}

// ContextCount is the number of contexts of listType ever created
func (m *ContextManager) ContextCount(listType driver.CommandListType) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return len(m.pool[listType])
}

// CheckedOutCount is the number of contexts currently recording
func (m *ContextManager) CheckedOutCount() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.checkedOut.Count()
}

func (m *ContextManager) BuildStatsString(writer *jwriter.Writer) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	obj := writer.Object()
	defer obj.End()

	for listType, contexts := range m.pool {
		typeObj := obj.Name(driver.CommandListType(listType).String()).Object()
		typeObj.Name("Contexts").Int(len(contexts))
		typeObj.Name("Available").Int(m.available[listType].Len())
		typeObj.End()
	}
	obj.Name("CheckedOut").Int(m.checkedOut.Count())
}

// DestroyAllContexts destroys every context's command list. The GPU must be idle. Contexts still
// checked out are reported and destroyed too.
func (m *ContextManager) DestroyAllContexts() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.checkedOut.Iter(func(context *CommandContext, listType driver.CommandListType) bool {
		m.logger.Warn("ContextManager::DestroyAllContexts context was never finished",
			slog.String("Label", context.label),
			slog.String("Type", listType.String()),
		)
		return false
	})

	for listType, contexts := range m.pool {
		for _, context := range contexts {
			context.list.Destroy()
			context.list = nil
			context.allocator = nil
		}
		m.pool[listType] = nil
		m.available[listType].Clear()
	}
	m.checkedOut = swiss.NewMap[*CommandContext, driver.CommandListType](8)
}
