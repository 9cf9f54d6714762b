// Package frame keeps per swapchain slot lists of resources that must
// outlive the recording of a frame until the device is done with it.
package frame

import (
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
	"github.com/spaghettifunk/kiln/engine/renderer/resources"
)

type slot struct {
	resources []resources.Resource
}

// Arena co-owns resources used by in-flight frames. Every reference taken
// in a slot is dropped the next time that slot is switched to, which the
// frame loop only does after waiting on the slot fence.
type Arena struct {
	registry *resources.Registry
	slots    []slot
	current  int
}

func NewArena(registry *resources.Registry, slotCount int) *Arena {
	if slotCount < 1 {
		core.Fatalf("frame arena needs at least one slot, got %d", slotCount)
	}
	return &Arena{
		registry: registry,
		slots:    make([]slot, slotCount),
	}
}

func (a *Arena) SlotCount() int {
	return len(a.slots)
}

func (a *Arena) Current() int {
	return a.current
}

// Pending is the number of references held by slot i.
func (a *Arena) Pending(i int) int {
	if i < 0 || i >= len(a.slots) {
		return 0
	}
	return len(a.slots[i].resources)
}

// SwitchToFrame makes slot i current after releasing everything it held
// from its previous occupation.
func (a *Arena) SwitchToFrame(i int) {
	if i < 0 || i >= len(a.slots) {
		core.Fatalf("frame slot %d out of range [0, %d)", i, len(a.slots))
	}
	a.release(i)
	a.current = i
}

func (a *Arena) release(i int) {
	s := &a.slots[i]
	for _, res := range s.resources {
		a.registry.Deref(res)
	}
	s.resources = s.resources[:0]
}

func (a *Arena) AddBufferRef(h resources.BufferHandle) {
	a.registry.Ref(h)
	a.slots[a.current].resources = append(a.slots[a.current].resources, h)
}

func (a *Arena) AddImageRef(h resources.ImageHandle) {
	a.registry.Ref(h)
	a.slots[a.current].resources = append(a.slots[a.current].resources, h)
}

// CreateAndUploadTransient creates a buffer holding data whose only owner
// is the current slot. Callers must not Deref it.
func (a *Arena) CreateAndUploadTransient(usage gpu.BufferUsage, memory gpu.MemoryFlags, data resources.HostData, tag string) resources.BufferHandle {
	h := a.registry.CreateBufferWithData(usage, memory, data, tag)
	a.slots[a.current].resources = append(a.slots[a.current].resources, h)
	return h
}

// CreateTransientImage creates an image owned by the current slot.
func (a *Arena) CreateTransientImage(info resources.ImageCreateInfo, tag string) resources.ImageHandle {
	h := a.registry.CreateImage(info, tag)
	a.slots[a.current].resources = append(a.slots[a.current].resources, h)
	return h
}

// CleanupAll releases every slot. The device must be idle.
func (a *Arena) CleanupAll() {
	for i := range a.slots {
		a.release(i)
	}
}

// Resize changes the number of slots after a swapchain recreation. Slots
// that go away are released, so the device must be idle.
func (a *Arena) Resize(slotCount int) {
	if slotCount < 1 {
		core.Fatalf("frame arena needs at least one slot, got %d", slotCount)
	}
	for i := slotCount; i < len(a.slots); i++ {
		a.release(i)
	}
	if slotCount <= len(a.slots) {
		a.slots = a.slots[:slotCount]
	} else {
		a.slots = append(a.slots, make([]slot, slotCount-len(a.slots))...)
	}
	if a.current >= slotCount {
		a.current = 0
	}
}
