// Package engine coordinates the pipeline: it owns the per-universe channel
// tables, the global bypass/highlight/grandmaster state, the input adapters
// and output sets, and exposes the control surface the console layer calls.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zitlem/DMXX-sub001/internal/config"
	"github.com/zitlem/DMXX-sub001/internal/dmx"
	"github.com/zitlem/DMXX-sub001/internal/inputs"
	"github.com/zitlem/DMXX-sub001/internal/logger"
	"github.com/zitlem/DMXX-sub001/internal/monitor"
)

// ErrUniverseNotFound is returned by any operation naming an unknown
// universe.
var ErrUniverseNotFound = errors.New("engine: universe not found")

// displayInterval is the cadence at which show and output values are pushed
// to monitor subscribers. Independent of output cadences so display traffic
// does not multiply with output count.
const displayInterval = 40 * time.Millisecond

// highlightState is the process-wide diagnostic solo mode, owned here and
// read by the resolve path.
type highlightState struct {
	active   bool
	universe string // empty means every universe is in scope
	channels map[int]bool
}

// Engine is the pipeline coordinator.
type Engine struct {
	log logger.Logger
	bus *monitor.Bus

	mu        sync.RWMutex // guards universes, highlight and ctx
	universes map[string]*Universe
	hl        highlightState
	ctx       context.Context

	globalGM atomic.Uint32
	bypass   atomic.Bool

	highlightOverridesPark bool

	midi       *inputs.MIDIInjector
	midiEvents chan inputs.MIDIEvent
}

// New builds an engine from a validated configuration snapshot.
func New(log logger.Logger, cfg *config.Config, bus *monitor.Bus) (*Engine, error) {
	e := &Engine{
		log:                    log,
		bus:                    bus,
		universes:              make(map[string]*Universe),
		highlightOverridesPark: cfg.Global.HighlightOverridesPark,
		midiEvents:             make(chan inputs.MIDIEvent, 64),
	}
	e.globalGM.Store(uint32(cfg.Global.Grandmaster))

	for i := range cfg.Universes {
		u, err := e.newUniverse(&cfg.Universes[i])
		if err != nil {
			return nil, fmt.Errorf("universe %q: %w", cfg.Universes[i].ID, err)
		}
		e.universes[u.id] = u
	}

	e.midi = inputs.NewMIDIInjector(log, e.midiEvents, e.midiTargets)
	e.midi.SetMappings(midiMappings(cfg.MIDIMappings))

	return e, nil
}

func midiMappings(confs []config.MIDIMappingConf) []inputs.MIDIMapping {
	maps := make([]inputs.MIDIMapping, 0, len(confs))
	for _, m := range confs {
		maps = append(maps, inputs.MIDIMapping{
			Device:     m.Device,
			Channel:    m.MIDIChannel,
			Controller: m.CC,
			DMXChannel: m.Channel,
		})
	}
	return maps
}

// Start launches every enabled input adapter and output, the MIDI injector
// and the display publisher. ctx cancellation stops everything.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	e.ctx = ctx
	e.mu.Unlock()

	if err := e.midi.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MIDI injector: %w", err)
	}

	e.mu.RLock()
	universes := make([]*Universe, 0, len(e.universes))
	for _, u := range e.universes {
		universes = append(universes, u)
	}
	e.mu.RUnlock()

	for _, u := range universes {
		if err := e.startUniverse(ctx, u); err != nil {
			return err
		}
	}

	go e.displayLoop(ctx)
	return nil
}

func (e *Engine) startUniverse(ctx context.Context, u *Universe) error {
	u.mu.RLock()
	enabled := u.inputCfg.Enabled
	u.mu.RUnlock()
	if enabled {
		if err := e.startInput(ctx, u); err != nil {
			// Input transport failures are local: log, stay degraded, the
			// universe still resolves from faders.
			e.log.With(logger.Fields{"module": "engine", "universe": u.id}).
				Errorf("input adapter failed to start: %v", err)
		}
	}
	return u.outputs.Start(ctx)
}

// context returns the lifecycle context, nil before Start or after Stop.
func (e *Engine) context() context.Context {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ctx
}

// Stop halts all adapters and outputs. In-flight sends complete; no ticks
// follow.
func (e *Engine) Stop() {
	e.midi.Stop()

	e.mu.Lock()
	universes := make([]*Universe, 0, len(e.universes))
	for _, u := range e.universes {
		universes = append(universes, u)
	}
	e.ctx = nil
	e.mu.Unlock()

	// Output drivers mid-tick resolve through e.mu; waiting for them while
	// holding the lock would never return.
	for _, u := range universes {
		e.stopInput(u)
		u.outputs.Stop()
	}
}

// MIDIEvents is the channel the externally owned MIDI layer feeds CC events
// into.
func (e *Engine) MIDIEvents() chan<- inputs.MIDIEvent {
	return e.midiEvents
}

// SetMIDIMappings replaces the injected CC mapping table.
func (e *Engine) SetMIDIMappings(maps []inputs.MIDIMapping) {
	e.midi.SetMappings(maps)
}

// MIDIStats reports the injector's diagnostic counters.
func (e *Engine) MIDIStats() inputs.Stats {
	return e.midi.Stats()
}

// midiTargets exposes a live view of every universe with MIDI input
// enabled; a CC write lands on all of them, each gated by its own range.
func (e *Engine) midiTargets() []*inputs.Target {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var targets []*inputs.Target
	for _, u := range e.universes {
		u.mu.RLock()
		ok := u.inputCfg.Kind == dmx.InputMIDI && u.inputCfg.Enabled
		u.mu.RUnlock()
		if ok {
			targets = append(targets, e.inputTarget(u))
		}
	}
	return targets
}

// SetBypass toggles the process-wide bypass: external input keeps being
// received but no longer reaches the output path.
func (e *Engine) SetBypass(on bool) {
	e.bypass.Store(on)
	e.log.With(logger.Fields{"module": "engine"}).Infof("bypass %v", on)
}

// Bypass reports the current bypass state.
func (e *Engine) Bypass() bool {
	return e.bypass.Load()
}

// SetGrandmaster sets the global master level.
func (e *Engine) SetGrandmaster(v uint8) {
	e.globalGM.Store(uint32(v))
}

// Grandmaster returns the global master level.
func (e *Engine) Grandmaster() uint8 {
	return uint8(e.globalGM.Load())
}

// SetHighlight activates the diagnostic solo mode for the given channels.
// An empty universe scopes the highlight to every universe.
func (e *Engine) SetHighlight(universe string, channels []int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if universe != "" {
		if _, exists := e.universes[universe]; !exists {
			return ErrUniverseNotFound
		}
	}
	set := make(map[int]bool, len(channels))
	for _, ch := range channels {
		if ch < dmx.MinChannel || ch > dmx.MaxChannel {
			return fmt.Errorf("highlight channel %d out of range 1-512", ch)
		}
		set[ch] = true
	}
	e.hl = highlightState{active: true, universe: universe, channels: set}
	return nil
}

// ClearHighlight deactivates the solo mode.
func (e *Engine) ClearHighlight() {
	e.mu.Lock()
	e.hl = highlightState{}
	e.mu.Unlock()
}

// highlightSnapshot copies the highlight state for one resolve pass.
func (e *Engine) highlightSnapshot() highlightState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.hl
}

func (e *Engine) universe(id string) (*Universe, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	u, exists := e.universes[id]
	if !exists {
		return nil, ErrUniverseNotFound
	}
	return u, nil
}

// Universes lists the configured universe ids.
func (e *Engine) Universes() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.universes))
	for id := range e.universes {
		ids = append(ids, id)
	}
	return ids
}

// displayLoop pushes show and output updates for every universe on a fixed
// cadence so monitor subscribers never have to poll.
func (e *Engine) displayLoop(ctx context.Context) {
	t := time.NewTicker(displayInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.mu.RLock()
			universes := make([]*Universe, 0, len(e.universes))
			for _, u := range e.universes {
				universes = append(universes, u)
			}
			e.mu.RUnlock()

			for _, u := range universes {
				e.bus.Publish(monitor.Update{Universe: u.id, Kind: monitor.KindShow, Data: e.resolveChannels(u, false)})
				e.bus.Publish(monitor.Update{Universe: u.id, Kind: monitor.KindOutput, Data: e.resolveFinal(u)})
			}
		}
	}
}

// publishInput pushes the raw external frame of one universe; called by
// input adapters after each applied frame, never blocking them.
func (e *Engine) publishInput(u *Universe) {
	f, _ := u.table.ExternalFrame()
	e.bus.Publish(monitor.Update{Universe: u.id, Kind: monitor.KindInput, Data: f})
}
