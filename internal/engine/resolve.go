package engine

import (
	"math"

	"github.com/zitlem/DMXX-sub001/internal/channeltable"
	"github.com/zitlem/DMXX-sub001/internal/dmx"
)

// resolveChannels produces one universe's pre-scaling frame from a single
// table snapshot: merge, then passthrough visibility, then park, then
// highlight. forOutput selects which side of the passthrough gate applies;
// park and highlight act on both sides.
func (e *Engine) resolveChannels(u *Universe, forOutput bool) dmx.Frame {
	snap := u.table.Snapshot()

	u.mu.RLock()
	inputActive := u.inputCfg.Enabled && u.inputCfg.Kind != dmx.InputNone
	start, end := u.inputCfg.RangeStart, u.inputCfg.RangeEnd
	mode := u.passthrough
	policy := u.policy
	u.mu.RUnlock()

	bypass := e.bypass.Load()
	visible := mode.FeedsOutput()
	if !forOutput {
		visible = mode.FeedsDisplay()
	}

	var out dmx.Frame
	for i := range snap {
		cs := &snap[i]
		v := cs.Fader

		ch := i + 1
		if visible && inputActive && !bypass && cs.HasExternal && ch >= start && ch <= end {
			v = mergeValue(policy, cs)
		}
		if cs.Parked {
			v = cs.ParkValue
		}
		out[i] = v
	}

	e.applyHighlight(u, &snap, &out)
	return out
}

// mergeValue combines the fader and external values of one channel.
func mergeValue(policy dmx.MergePolicy, cs *channeltable.ChannelState) uint8 {
	if policy == dmx.MergeHTP {
		if cs.External > cs.Fader {
			return cs.External
		}
		return cs.Fader
	}
	// LTP: the later write wins; ties go to the external source, which is
	// typically the higher-rate one.
	if cs.ExternalSeq >= cs.FaderSeq {
		return cs.External
	}
	return cs.Fader
}

// applyHighlight overlays the diagnostic solo mode: highlighted channels go
// to full, everything else in scope goes dark. Whether a parked channel is
// exempt is the configured precedence.
func (e *Engine) applyHighlight(u *Universe, snap *channeltable.Snapshot, out *dmx.Frame) {
	hl := e.highlightSnapshot()
	if !hl.active || (hl.universe != "" && hl.universe != u.id) {
		return
	}

	for i := range out {
		if !e.highlightOverridesPark && snap[i].Parked {
			continue
		}
		if hl.channels[i+1] {
			out[i] = dmx.MaxValue
		} else {
			out[i] = 0
		}
	}
}

// resolveFinal applies the two grandmaster levels to the show frame:
// round(show * global/255 * universe/255), the output-side view only.
func (e *Engine) resolveFinal(u *Universe) dmx.Frame {
	show := e.resolveChannels(u, true)

	g := e.globalGM.Load()
	ug := u.gm.Load()
	if g == dmx.MaxValue && ug == dmx.MaxValue {
		return show
	}

	scale := float64(g) / dmx.MaxValue * float64(ug) / dmx.MaxValue
	for i := range show {
		show[i] = uint8(math.Round(float64(show[i]) * scale))
	}
	return show
}
