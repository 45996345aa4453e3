package scheduler

import (
	"runtime"
	"sync/atomic"
)

// cacheLineSize is the typical CPU cache line size (64 bytes on x86-64)
const cacheLineSize = 64

type pad [cacheLineSize]byte

// opKind identifies a submission carried through the inbox.
type opKind uint8

const (
	opRegister opKind = iota + 1
	opUnregister
	opReclassify
	opEffect
	opPhysics
	opAudio
)

// op is one submission. Only the fields relevant to kind are set.
type op struct {
	kind    opKind
	handle  Handle
	effect  EffectRequest
	physics PhysicsRequest
	audio   AudioRequest
}

type inboxSlot struct {
	seq atomic.Uint64
	op  op
}

// Inbox is a bounded lock-free MPSC ring buffer that lets goroutines other than
// the tick goroutine submit work. Submissions are applied at the start of the
// next Tick, in claim order.
//
// Each slot carries a sequence number so the consumer never reads a slot that a
// producer has claimed but not finished writing.
//
// Memory layout keeps the producer and consumer cursors on separate cache lines:
// [pad][head][pad][tail][pad][slots...]
type Inbox struct {
	_    pad
	head atomic.Uint64 // next slot to claim (producers)
	_    pad
	tail atomic.Uint64 // next slot to read (consumer)
	_    pad

	mask    uint64
	slots   []inboxSlot
	dropped atomic.Uint64
}

// NewInbox creates an inbox. capacity is rounded up to a power of 2.
func NewInbox(capacity int) *Inbox {
	size := 1
	for size < capacity {
		size <<= 1
	}

	in := &Inbox{
		mask:  uint64(size - 1),
		slots: make([]inboxSlot, size),
	}
	for i := range in.slots {
		in.slots[i].seq.Store(uint64(i))
	}
	return in
}

// push claims a slot and writes o. Returns false if the inbox is full.
// Safe for multiple concurrent producers.
func (in *Inbox) push(o op) bool {
	for {
		pos := in.head.Load()
		slot := &in.slots[pos&in.mask]
		seq := slot.seq.Load()

		switch {
		case seq == pos:
			if in.head.CompareAndSwap(pos, pos+1) {
				slot.op = o
				slot.seq.Store(pos + 1) // publish
				return true
			}
		case seq < pos:
			// Slot still holds an unread op from the previous lap.
			in.dropped.Add(1)
			return false
		}

		// Another producer won the slot; retry
		runtime.Gosched()
	}
}

// pop reads the next published op. Single consumer only.
func (in *Inbox) pop() (op, bool) {
	pos := in.tail.Load()
	slot := &in.slots[pos&in.mask]
	if slot.seq.Load() != pos+1 {
		return op{}, false // empty, or claimed but not yet written
	}

	o := slot.op
	slot.op = op{}
	slot.seq.Store(pos + in.mask + 1) // free for the next lap
	in.tail.Store(pos + 1)
	return o, true
}

// TrySubmitRegister queues a Register. Returns false if the inbox is full.
func (in *Inbox) TrySubmitRegister(h Handle) bool {
	return in.push(op{kind: opRegister, handle: h})
}

// TrySubmitUnregister queues an Unregister.
func (in *Inbox) TrySubmitUnregister(h Handle) bool {
	return in.push(op{kind: opUnregister, handle: h})
}

// TrySubmitReclassify queues a Reclassify.
func (in *Inbox) TrySubmitReclassify(h Handle) bool {
	return in.push(op{kind: opReclassify, handle: h})
}

// TrySubmitEffect queues a QueueEffect.
func (in *Inbox) TrySubmitEffect(req EffectRequest) bool {
	return in.push(op{kind: opEffect, effect: req})
}

// TrySubmitPhysics queues a QueuePhysics.
func (in *Inbox) TrySubmitPhysics(req PhysicsRequest) bool {
	return in.push(op{kind: opPhysics, physics: req})
}

// TrySubmitAudio queues a QueueAudio. Admission against the per-tick audio cap
// happens when the inbox is drained, not here.
func (in *Inbox) TrySubmitAudio(req AudioRequest) bool {
	return in.push(op{kind: opAudio, audio: req})
}

// Len returns the approximate number of pending submissions.
// This is a snapshot and may be stale immediately.
func (in *Inbox) Len() int {
	head := in.head.Load()
	tail := in.tail.Load()
	if head < tail {
		return 0
	}
	return int(head - tail)
}

// Cap returns the inbox capacity.
func (in *Inbox) Cap() int {
	return int(in.mask + 1)
}

// Dropped returns how many submissions were rejected because the inbox was full.
func (in *Inbox) Dropped() uint64 {
	return in.dropped.Load()
}
