// Package channeltable holds the shared per-universe channel state: 512
// cells written concurrently by input adapters and the control API and read
// by the dispatch and monitor paths.
//
// Each cell packs value, presence and a write sequence into a single
// atomic word, so writers never block each other and a dispatch tick can
// snapshot the table without taking a lock. The sequence comes from one
// table-wide monotonic counter captured at write time; LTP merging compares
// these sequences, never wall-clock time.
package channeltable

import (
	"sync/atomic"

	"github.com/zitlem/DMXX-sub001/internal/dmx"
)

// Word layout: bit 63 = presence/park flag, bits 55-48 = value,
// bits 47-0 = write sequence.
const (
	flagBit  = uint64(1) << 63
	valueOff = 48
	seqMask  = (uint64(1) << valueOff) - 1
)

func pack(flag bool, value uint8, seq uint64) uint64 {
	w := uint64(value)<<valueOff | seq&seqMask
	if flag {
		w |= flagBit
	}
	return w
}

func unpack(w uint64) (flag bool, value uint8, seq uint64) {
	return w&flagBit != 0, uint8(w >> valueOff), w & seqMask
}

type cell struct {
	fader    atomic.Uint64 // flag unused, always set once written
	external atomic.Uint64 // flag = value present
	park     atomic.Uint64 // flag = parked, seq unused
}

// Table is the channel state for one universe.
type Table struct {
	seq   atomic.Uint64
	cells [dmx.ChannelCount]cell
}

// New returns an empty table: all faders zero, no external values, nothing
// parked.
func New() *Table {
	return &Table{}
}

// ChannelState is the decoded state of one channel as captured by Snapshot.
type ChannelState struct {
	Fader       uint8
	FaderSeq    uint64
	External    uint8
	ExternalSeq uint64
	HasExternal bool
	Parked      bool
	ParkValue   uint8
}

// Snapshot is a consistent per-cell copy of the whole table, indexed 0-511
// for channels 1-512.
type Snapshot [dmx.ChannelCount]ChannelState

func valid(ch int) bool {
	return ch >= dmx.MinChannel && ch <= dmx.MaxChannel
}

// SetFader records a fader (control API) write for channel ch (1-512).
func (t *Table) SetFader(ch int, v uint8) {
	if !valid(ch) {
		return
	}
	t.cells[ch-1].fader.Store(pack(true, v, t.seq.Add(1)))
}

// SetExternal records an external (input adapter) write for channel ch.
func (t *Table) SetExternal(ch int, v uint8) {
	if !valid(ch) {
		return
	}
	t.cells[ch-1].external.Store(pack(true, v, t.seq.Add(1)))
}

// ClearExternal forgets the external value of one channel.
func (t *Table) ClearExternal(ch int) {
	if !valid(ch) {
		return
	}
	t.cells[ch-1].external.Store(0)
}

// ClearAllExternal forgets every external value, used when a universe input
// is disabled or reconfigured.
func (t *Table) ClearAllExternal() {
	for i := range t.cells {
		t.cells[i].external.Store(0)
	}
}

// Park freezes channel ch at value v until Unpark.
func (t *Table) Park(ch int, v uint8) {
	if !valid(ch) {
		return
	}
	t.cells[ch-1].park.Store(pack(true, v, 0))
}

// Unpark releases a parked channel.
func (t *Table) Unpark(ch int) {
	if !valid(ch) {
		return
	}
	t.cells[ch-1].park.Store(0)
}

// Fader returns the current fader value of channel ch.
func (t *Table) Fader(ch int) uint8 {
	if !valid(ch) {
		return 0
	}
	_, v, _ := unpack(t.cells[ch-1].fader.Load())
	return v
}

// External returns the current external value of channel ch and whether one
// has been received.
func (t *Table) External(ch int) (uint8, bool) {
	if !valid(ch) {
		return 0, false
	}
	ok, v, _ := unpack(t.cells[ch-1].external.Load())
	return v, ok
}

// Parked returns the park state of channel ch.
func (t *Table) Parked(ch int) (uint8, bool) {
	if !valid(ch) {
		return 0, false
	}
	ok, v, _ := unpack(t.cells[ch-1].park.Load())
	return v, ok
}

// Snapshot captures every cell with one atomic load each. Each channel is
// internally consistent; the caller treats the result as the state of this
// tick.
func (t *Table) Snapshot() Snapshot {
	var s Snapshot
	for i := range t.cells {
		c := &t.cells[i]
		_, fv, fs := unpack(c.fader.Load())
		eok, ev, es := unpack(c.external.Load())
		pok, pv, _ := unpack(c.park.Load())
		s[i] = ChannelState{
			Fader:       fv,
			FaderSeq:    fs,
			External:    ev,
			ExternalSeq: es,
			HasExternal: eok,
			Parked:      pok,
			ParkValue:   pv,
		}
	}
	return s
}

// ExternalFrame returns the raw external values as a frame plus a presence
// mask, for input-monitor consumers.
func (t *Table) ExternalFrame() (dmx.Frame, [dmx.ChannelCount]bool) {
	var f dmx.Frame
	var present [dmx.ChannelCount]bool
	for i := range t.cells {
		ok, v, _ := unpack(t.cells[i].external.Load())
		f[i] = v
		present[i] = ok
	}
	return f, present
}

// FaderFrame returns the current fader values as a frame.
func (t *Table) FaderFrame() dmx.Frame {
	var f dmx.Frame
	for i := range t.cells {
		_, v, _ := unpack(t.cells[i].fader.Load())
		f[i] = v
	}
	return f
}
