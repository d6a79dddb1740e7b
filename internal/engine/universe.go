package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zitlem/DMXX-sub001/internal/channeltable"
	"github.com/zitlem/DMXX-sub001/internal/config"
	"github.com/zitlem/DMXX-sub001/internal/dmx"
	"github.com/zitlem/DMXX-sub001/internal/inputs"
	"github.com/zitlem/DMXX-sub001/internal/outputs"
)

// Universe is one 512-channel address space: its table, master level,
// input/merge configuration and output set.
type Universe struct {
	id    string
	label string
	color string

	table *channeltable.Table
	gm    atomic.Uint32

	mu          sync.RWMutex // guards the configuration below
	inputCfg    config.InputConf
	adapter     inputs.Adapter // nil while the input is not running
	passthrough dmx.PassthroughMode
	policy      dmx.MergePolicy
	remap       map[int]int

	outputs *outputs.Set
}

func (e *Engine) newUniverse(cfg *config.UniverseConf) (*Universe, error) {
	u := &Universe{
		id:          cfg.ID,
		label:       cfg.Label,
		color:       cfg.Color,
		table:       channeltable.New(),
		inputCfg:    cfg.Input,
		passthrough: cfg.Passthrough,
		policy:      cfg.Merge,
		remap:       cfg.RemapTable(),
	}
	u.gm.Store(uint32(cfg.Grandmaster))
	u.outputs = outputs.NewSet(e.log, cfg.ID, func() dmx.Frame { return e.resolveFinal(u) })

	for i := range cfg.Outputs {
		o := &cfg.Outputs[i]
		if err := u.outputs.Add(outputConfig(o), o.Enabled); err != nil {
			return nil, err
		}
	}
	return u, nil
}

func outputConfig(o *config.OutputConf) outputs.Config {
	return outputs.Config{
		ID:       o.ID,
		Type:     o.Type,
		Target:   o.Target,
		Port:     o.Port,
		Universe: uint16(o.ProtocolUniverse),
		Mode:     o.Mode,
		Interval: time.Duration(o.IntervalMS) * time.Millisecond,
	}
}

// inputTarget builds the write target an adapter lands on for u.
func (e *Engine) inputTarget(u *Universe) *inputs.Target {
	u.mu.RLock()
	start, end := u.inputCfg.RangeStart, u.inputCfg.RangeEnd
	remap := u.remap
	u.mu.RUnlock()

	t := &inputs.Target{
		Universe:   u.id,
		Table:      u.table,
		RangeStart: start,
		RangeEnd:   end,
		Notify:     func() { e.publishInput(u) },
	}
	if len(remap) > 0 {
		m := remap
		t.Remap = func(ch int) int {
			if dst, ok := m[ch]; ok {
				return dst
			}
			return ch
		}
	}
	return t
}

// startInput launches the protocol adapter for u's configured input kind.
// MIDI input has no per-universe adapter; the shared injector discovers the
// universe through midiTargets.
func (e *Engine) startInput(ctx context.Context, u *Universe) error {
	// inputTarget takes u.mu itself, so the target and adapter are built
	// before the write lock; the lock only installs the result.
	u.mu.RLock()
	in := u.inputCfg
	running := u.adapter != nil
	u.mu.RUnlock()
	if running {
		return nil
	}

	target := e.inputTarget(u)
	var adapter inputs.Adapter
	switch in.Kind {
	case dmx.InputArtNet:
		adapter = inputs.NewArtNetListener(e.log, inputs.ArtNetConfig{
			Bind:         in.Bind,
			Universe:     uint16(in.ProtocolUniverse),
			AllowSources: in.AllowSources,
			DenySources:  in.DenySources,
			IgnoreSelf:   in.IgnoreSelf,
		}, target)
	case dmx.InputSACN:
		adapter = inputs.NewSACNListener(e.log, inputs.SACNConfig{
			Bind:         in.Bind,
			Universe:     uint16(in.ProtocolUniverse),
			AllowSources: in.AllowSources,
			DenySources:  in.DenySources,
			IgnoreSelf:   in.IgnoreSelf,
		}, target)
	default:
		return nil
	}

	if err := adapter.Start(ctx); err != nil {
		return err
	}

	u.mu.Lock()
	if u.adapter != nil {
		// Lost the race to a concurrent start; keep the installed one.
		u.mu.Unlock()
		adapter.Stop()
		return nil
	}
	u.adapter = adapter
	u.mu.Unlock()
	return nil
}

func (e *Engine) stopInput(u *Universe) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.adapter != nil {
		u.adapter.Stop()
		u.adapter = nil
	}
}

// SetFader writes one fader value, the control-API merge input.
func (e *Engine) SetFader(universe string, ch int, v uint8) error {
	u, err := e.universe(universe)
	if err != nil {
		return err
	}
	if ch < dmx.MinChannel || ch > dmx.MaxChannel {
		return fmt.Errorf("channel %d out of range 1-512", ch)
	}
	u.table.SetFader(ch, v)
	return nil
}

// SetFaders writes a sparse batch of fader values, e.g. a scene recall.
func (e *Engine) SetFaders(universe string, values map[int]uint8) error {
	u, err := e.universe(universe)
	if err != nil {
		return err
	}
	for ch := range values {
		if ch < dmx.MinChannel || ch > dmx.MaxChannel {
			return fmt.Errorf("channel %d out of range 1-512", ch)
		}
	}
	for ch, v := range values {
		u.table.SetFader(ch, v)
	}
	return nil
}

// Park freezes a channel's output contribution at v until Unpark.
func (e *Engine) Park(universe string, ch int, v uint8) error {
	u, err := e.universe(universe)
	if err != nil {
		return err
	}
	if ch < dmx.MinChannel || ch > dmx.MaxChannel {
		return fmt.Errorf("channel %d out of range 1-512", ch)
	}
	u.table.Park(ch, v)
	return nil
}

// Unpark releases a parked channel.
func (e *Engine) Unpark(universe string, ch int) error {
	u, err := e.universe(universe)
	if err != nil {
		return err
	}
	u.table.Unpark(ch)
	return nil
}

// SetUniverseGrandmaster sets one universe's master level.
func (e *Engine) SetUniverseGrandmaster(universe string, v uint8) error {
	u, err := e.universe(universe)
	if err != nil {
		return err
	}
	u.gm.Store(uint32(v))
	return nil
}

// SetPassthrough changes how merged external values reach output and
// display.
func (e *Engine) SetPassthrough(universe string, mode dmx.PassthroughMode) error {
	if !mode.Valid() {
		return fmt.Errorf("unknown passthrough mode %q", mode)
	}
	u, err := e.universe(universe)
	if err != nil {
		return err
	}
	u.mu.Lock()
	u.passthrough = mode
	u.mu.Unlock()
	return nil
}

// SetMergePolicy switches a universe between HTP and LTP.
func (e *Engine) SetMergePolicy(universe string, policy dmx.MergePolicy) error {
	if !policy.Valid() {
		return fmt.Errorf("unknown merge policy %q", policy)
	}
	u, err := e.universe(universe)
	if err != nil {
		return err
	}
	u.mu.Lock()
	u.policy = policy
	u.mu.Unlock()
	return nil
}

// SetRemap replaces the injected channel-remapping table for a universe.
// The table is owned by the configuration layer; the engine only applies it.
func (e *Engine) SetRemap(universe string, remap map[int]int) error {
	for src, dst := range remap {
		if src < dmx.MinChannel || src > dmx.MaxChannel || dst < dmx.MinChannel || dst > dmx.MaxChannel {
			return fmt.Errorf("remap %d -> %d out of range 1-512", src, dst)
		}
	}
	u, err := e.universe(universe)
	if err != nil {
		return err
	}
	u.mu.Lock()
	u.remap = remap
	restart := u.adapter != nil
	u.mu.Unlock()

	// A running adapter holds the old lookup; cycle it.
	if restart {
		e.stopInput(u)
		if ctx := e.context(); ctx != nil {
			return e.startInput(ctx, u)
		}
	}
	return nil
}

// SetInputEnabled enables or disables a universe's external input. Disabling
// stops the adapter and forgets received values; merge falls back to faders.
func (e *Engine) SetInputEnabled(universe string, enabled bool) error {
	u, err := e.universe(universe)
	if err != nil {
		return err
	}

	u.mu.Lock()
	if u.inputCfg.Enabled == enabled {
		u.mu.Unlock()
		return nil
	}
	u.inputCfg.Enabled = enabled
	u.mu.Unlock()

	if !enabled {
		e.stopInput(u)
		u.table.ClearAllExternal()
		return nil
	}
	if ctx := e.context(); ctx != nil {
		return e.startInput(ctx, u)
	}
	return nil
}

// InputStats reports the adapter counters for a universe, zero when no
// adapter is running.
func (e *Engine) InputStats(universe string) (inputs.Stats, error) {
	u, err := e.universe(universe)
	if err != nil {
		return inputs.Stats{}, err
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.adapter == nil {
		return inputs.Stats{}, nil
	}
	return u.adapter.Stats(), nil
}

// AddOutput validates and registers a new output for a universe.
func (e *Engine) AddOutput(universe string, cfg config.OutputConf) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	u, err := e.universe(universe)
	if err != nil {
		return err
	}
	return u.outputs.Add(outputConfig(&cfg), cfg.Enabled)
}

// UpdateOutput replaces an output's transport configuration.
func (e *Engine) UpdateOutput(universe string, cfg config.OutputConf) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	u, err := e.universe(universe)
	if err != nil {
		return err
	}
	return u.outputs.Update(outputConfig(&cfg))
}

// RemoveOutput stops and forgets an output.
func (e *Engine) RemoveOutput(universe, id string) error {
	u, err := e.universe(universe)
	if err != nil {
		return err
	}
	return u.outputs.Remove(id)
}

// SetOutputEnabled toggles one output without touching its siblings.
func (e *Engine) SetOutputEnabled(universe, id string, enabled bool) error {
	u, err := e.universe(universe)
	if err != nil {
		return err
	}
	return u.outputs.SetEnabled(id, enabled)
}

// OutputStatuses reports the health of every output of a universe.
func (e *Engine) OutputStatuses(universe string) ([]outputs.Status, error) {
	u, err := e.universe(universe)
	if err != nil {
		return nil, err
	}
	return u.outputs.Statuses(), nil
}

// OutputSnapshot returns the final post-grandmaster frame plus the master
// levels, for the output-monitor display.
func (e *Engine) OutputSnapshot(universe string) (dmx.Frame, uint8, uint8, error) {
	u, err := e.universe(universe)
	if err != nil {
		return dmx.Frame{}, 0, 0, err
	}
	return e.resolveFinal(u), e.Grandmaster(), uint8(u.gm.Load()), nil
}

// ShowSnapshot returns the pre-scaling display frame, honoring passthrough
// visibility, park and highlight.
func (e *Engine) ShowSnapshot(universe string) (dmx.Frame, error) {
	u, err := e.universe(universe)
	if err != nil {
		return dmx.Frame{}, err
	}
	return e.resolveChannels(u, false), nil
}

// InputSnapshot returns the raw external values and their presence mask.
// It reflects adapter writes even when passthrough or bypass keeps them off
// the output.
func (e *Engine) InputSnapshot(universe string) (dmx.Frame, [dmx.ChannelCount]bool, error) {
	u, err := e.universe(universe)
	if err != nil {
		return dmx.Frame{}, [dmx.ChannelCount]bool{}, err
	}
	f, present := u.table.ExternalFrame()
	return f, present, nil
}
