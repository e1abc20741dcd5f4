package graphics

import (
	"github.com/vkngwrapper/forge/driver"
)

// barrierBatchCapacity is the number of barriers a context accumulates before it must flush
const barrierBatchCapacity = 16

type barrierBatch struct {
	barriers [barrierBatchCapacity]driver.Barrier
	count    int
}

// push appends barrier and reports whether the batch is now full
func (b *barrierBatch) push(barrier driver.Barrier) bool {
	if b.count == barrierBatchCapacity {
		panic("pushed a barrier onto a full batch")
	}

	b.barriers[b.count] = barrier
	b.count++
	return b.count == barrierBatchCapacity
}

func (b *barrierBatch) len() int {
	return b.count
}

func (b *barrierBatch) pending() []driver.Barrier {
	return b.barriers[:b.count]
}

func (b *barrierBatch) clear() {
	clear(b.barriers[:b.count])
	b.count = 0
}
