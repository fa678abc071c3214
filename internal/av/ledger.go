package av

import (
	"fmt"
	"sync/atomic"
)

// Kind names a class of owned resource tracked by the ledger.
type Kind int

const (
	KindPacket Kind = iota
	KindFrame
	KindDecoder
	KindEncoder
	KindInput
	KindOutput
	kindCount
)

func (k Kind) String() string {
	switch k {
	case KindPacket:
		return "packet"
	case KindFrame:
		return "frame"
	case KindDecoder:
		return "decoder"
	case KindEncoder:
		return "encoder"
	case KindInput:
		return "input"
	case KindOutput:
		return "output"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Ledger counts allocations and releases per resource kind.
type Ledger struct {
	allocated [kindCount]atomic.Int64
	released  [kindCount]atomic.Int64
}

// DefaultLedger records every handle created through this package.
var DefaultLedger = &Ledger{}

func (l *Ledger) alloc(k Kind)   { l.allocated[k].Add(1) }
func (l *Ledger) release(k Kind) { l.released[k].Add(1) }

// Counts is a point-in-time copy of the ledger for one kind.
type Counts struct {
	Allocated int64
	Released  int64
}

// Snapshot is a point-in-time copy of the whole ledger.
type Snapshot map[Kind]Counts

// Snapshot copies the current counters.
func (l *Ledger) Snapshot() Snapshot {
	s := make(Snapshot, kindCount)
	for k := Kind(0); k < kindCount; k++ {
		s[k] = Counts{
			Allocated: l.allocated[k].Load(),
			Released:  l.released[k].Load(),
		}
	}
	return s
}

// Since returns the counters accumulated after base was taken.
func (s Snapshot) Since(base Snapshot) Snapshot {
	d := make(Snapshot, len(s))
	for k, c := range s {
		b := base[k]
		d[k] = Counts{Allocated: c.Allocated - b.Allocated, Released: c.Released - b.Released}
	}
	return d
}

// Outstanding is the number of handles allocated but not yet released.
func (s Snapshot) Outstanding() int64 {
	var n int64
	for _, c := range s {
		n += c.Allocated - c.Released
	}
	return n
}

// Resource is embedded by codec and container implementations to get
// release-once accounting.
type Resource struct {
	kind     Kind
	live     atomic.Bool
	attached bool
}

// Track registers the resource in the default ledger. It must be called once,
// when the underlying state has been successfully allocated.
func (r *Resource) Track(k Kind) {
	r.kind = k
	r.attached = true
	r.live.Store(true)
	DefaultLedger.alloc(k)
}

// Release marks the resource released. Only the first call returns true.
func (r *Resource) Release() bool {
	if r == nil || !r.attached {
		return false
	}
	if !r.live.CompareAndSwap(true, false) {
		return false
	}
	DefaultLedger.release(r.kind)
	return true
}

// Released reports whether Release has already run.
func (r *Resource) Released() bool {
	return r == nil || !r.live.Load()
}
