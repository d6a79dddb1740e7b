package inputs

import (
	"context"
	"strings"
	"sync"

	"github.com/zitlem/DMXX-sub001/internal/dmx"
	"github.com/zitlem/DMXX-sub001/internal/logger"
)

// MIDIEvent is one control-change event as captured by the (externally
// owned) MIDI layer, tagged with the device it came from.
type MIDIEvent struct {
	Device     string
	Channel    int // MIDI channel 0-15
	Controller int // CC number 0-127
	Value      uint8
}

// MIDIMapping binds one CC to a DMX channel. Device "any" (or empty) and
// Channel -1 act as wildcards; the mapping table itself is owned by the
// configuration layer and injected resolved.
type MIDIMapping struct {
	Device     string
	Channel    int
	Controller int
	DMXChannel int
}

// Matches reports whether the mapping applies to ev.
func (m MIDIMapping) Matches(ev MIDIEvent) bool {
	if m.Controller != ev.Controller {
		return false
	}
	if m.Channel != -1 && m.Channel != ev.Channel {
		return false
	}
	if m.Device != "" && !strings.EqualFold(m.Device, "any") && m.Device != ev.Device {
		return false
	}
	return true
}

// MIDIInjector turns CC events into external channel writes. A write is
// universe-agnostic: it lands on every target the engine currently exposes
// (one per universe with MIDI input enabled), each gated by its own range.
type MIDIInjector struct {
	log     logger.Logger
	events  <-chan MIDIEvent
	targets func() []*Target
	mu      sync.RWMutex
	maps    []MIDIMapping
	once    sync.Once
	done    chan struct{}
	c       counters
}

// NewMIDIInjector builds an injector consuming events; targets is queried
// live so enabling or disabling a universe input takes effect immediately.
func NewMIDIInjector(log logger.Logger, events <-chan MIDIEvent, targets func() []*Target) *MIDIInjector {
	return &MIDIInjector{
		log:     log,
		events:  events,
		targets: targets,
		done:    make(chan struct{}),
	}
}

// SetMappings replaces the CC mapping table.
func (m *MIDIInjector) SetMappings(maps []MIDIMapping) {
	m.mu.Lock()
	m.maps = append([]MIDIMapping(nil), maps...)
	m.mu.Unlock()
}

// Start begins consuming events.
func (m *MIDIInjector) Start(ctx context.Context) error {
	go m.consume(ctx)
	m.log.With(logger.Fields{"module": "midi"}).Info("CC injector started")
	return nil
}

// Stop halts the injector.
func (m *MIDIInjector) Stop() {
	m.once.Do(func() { close(m.done) })
}

// Stats returns the diagnostic counters.
func (m *MIDIInjector) Stats() Stats { return m.c.stats() }

func (m *MIDIInjector) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case ev, ok := <-m.events:
			if !ok {
				return
			}
			m.c.received.Add(1)
			m.handle(ev)
		}
	}
}

func (m *MIDIInjector) handle(ev MIDIEvent) {
	m.mu.RLock()
	maps := m.maps
	m.mu.RUnlock()

	matched := false
	for _, mp := range maps {
		if !mp.Matches(ev) {
			continue
		}
		matched = true
		v := dmx.ScaleMIDI(ev.Value)
		for _, t := range m.targets() {
			if t.Write(mp.DMXChannel, v) {
				m.c.writes.Add(1)
				t.notify()
			}
		}
	}
	if !matched {
		m.c.filtered.Add(1)
	}
}
