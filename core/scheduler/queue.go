package scheduler

import (
	"container/heap"
	"sync"

	"campaign-orchestrator/core/models"
)

// UnitQueue is a priority queue of pending checkpoints, newest first
type UnitQueue struct {
	units []*queuedUnit
	mu    sync.Mutex
}

type queuedUnit struct {
	Unit  models.WorkUnit
	Index int // for heap.Interface
}

// NewUnitQueue creates a new unit queue
func NewUnitQueue() *UnitQueue {
	uq := &UnitQueue{
		units: make([]*queuedUnit, 0),
	}
	heap.Init(uq)
	return uq
}

// Enqueue adds a unit to the queue
func (uq *UnitQueue) Enqueue(u models.WorkUnit) {
	uq.mu.Lock()
	defer uq.mu.Unlock()
	heap.Push(uq, &queuedUnit{Unit: u})
}

// Drain removes and returns every queued unit in priority order.
func (uq *UnitQueue) Drain() []models.WorkUnit {
	uq.mu.Lock()
	defer uq.mu.Unlock()

	units := make([]models.WorkUnit, 0, uq.Len())
	for uq.Len() > 0 {
		item := heap.Pop(uq).(*queuedUnit)
		units = append(units, item.Unit)
	}
	return units
}

// Len returns the number of queued units
func (uq *UnitQueue) Len() int {
	return len(uq.units)
}

// Less orders by descending ordinal, then by path
func (uq *UnitQueue) Less(i, j int) bool {
	a, b := uq.units[i].Unit, uq.units[j].Unit
	if a.Ordinal != b.Ordinal {
		return a.Ordinal > b.Ordinal
	}
	return a.ID < b.ID
}

// Swap swaps two units
func (uq *UnitQueue) Swap(i, j int) {
	uq.units[i], uq.units[j] = uq.units[j], uq.units[i]
	uq.units[i].Index = i
	uq.units[j].Index = j
}

// Push implements heap.Interface
func (uq *UnitQueue) Push(x interface{}) {
	item := x.(*queuedUnit)
	item.Index = len(uq.units)
	uq.units = append(uq.units, item)
}

// Pop implements heap.Interface
func (uq *UnitQueue) Pop() interface{} {
	old := uq.units
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.Index = -1
	uq.units = old[0 : n-1]
	return item
}
