// Package inputs contains the external-value receivers: an Art-Net
// listener, an sACN listener and a MIDI CC injector. One adapter runs per
// enabled universe input; every adapter validates its source, gates writes
// to the universe's configured channel range and never terminates the
// pipeline on a decode error.
package inputs

import (
	"context"
	"net"
	"sync/atomic"

	"github.com/zitlem/DMXX-sub001/internal/channeltable"
)

// Adapter is the lifecycle contract shared by all input receivers.
type Adapter interface {
	Start(ctx context.Context) error
	Stop()
	Stats() Stats
}

// Stats are the diagnostic counters of one adapter.
type Stats struct {
	Received uint64 // frames or events seen on the wire
	Dropped  uint64 // malformed or out-of-sequence, discarded silently
	Filtered uint64 // rejected by source or universe filters
	Writes   uint64 // channel values written to the table
}

type counters struct {
	received atomic.Uint64
	dropped  atomic.Uint64
	filtered atomic.Uint64
	writes   atomic.Uint64
}

func (c *counters) stats() Stats {
	return Stats{
		Received: c.received.Load(),
		Dropped:  c.dropped.Load(),
		Filtered: c.filtered.Load(),
		Writes:   c.writes.Load(),
	}
}

// Target is where an adapter lands its writes: one universe's channel table
// with its gated range, the injected remap lookup and a non-blocking monitor
// notification.
type Target struct {
	Universe   string
	Table      *channeltable.Table
	RangeStart int
	RangeEnd   int
	Remap      func(int) int // nil means identity
	Notify     func()        // invoked once per applied frame or event
}

// Write remaps ch, gates it against the configured range and stores v as the
// channel's external value. It reports whether the write was applied.
func (t *Target) Write(ch int, v uint8) bool {
	if t.Remap != nil {
		ch = t.Remap(ch)
	}
	if ch < t.RangeStart || ch > t.RangeEnd {
		return false
	}
	t.Table.SetExternal(ch, v)
	return true
}

func (t *Target) notify() {
	if t.Notify != nil {
		t.Notify()
	}
}

// sourceFilter applies the allow/deny lists and the ignore-self rule to a
// sender address. Filtered frames are dropped silently.
type sourceFilter struct {
	allow map[string]bool
	deny  map[string]bool
	self  map[string]bool
}

func newSourceFilter(allow, deny []string, ignoreSelf bool) *sourceFilter {
	f := &sourceFilter{}
	if len(allow) > 0 {
		f.allow = make(map[string]bool, len(allow))
		for _, a := range allow {
			f.allow[a] = true
		}
	}
	if len(deny) > 0 {
		f.deny = make(map[string]bool, len(deny))
		for _, d := range deny {
			f.deny[d] = true
		}
	}
	if ignoreSelf {
		f.self = localAddrs()
	}
	return f
}

func (f *sourceFilter) ok(ip net.IP) bool {
	s := ip.String()
	if f.self != nil && f.self[s] {
		return false
	}
	if f.deny != nil && f.deny[s] {
		return false
	}
	if f.allow != nil && !f.allow[s] {
		return false
	}
	return true
}

// localAddrs collects the host's own IPv4 addresses for the ignore-self
// filter.
func localAddrs() map[string]bool {
	out := map[string]bool{}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return out
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			out[v4.String()] = true
		}
	}
	return out
}
