// Package dmx holds the shared vocabulary of the pipeline: channel and value
// bounds, the 512-byte frame, and the configuration enums every other
// package speaks in.
package dmx

const (
	// ChannelCount is the number of channels in one DMX universe.
	ChannelCount = 512

	// MinChannel and MaxChannel bound the 1-based channel addressing used
	// throughout the control surface.
	MinChannel = 1
	MaxChannel = 512

	// MaxValue is the largest value a channel or grandmaster can carry.
	MaxValue = 255
)

// Frame wraps the 512 byte array for convenience.
type Frame [ChannelCount]byte

// MergePolicy selects how a fader value and an external input value are
// combined for one channel.
type MergePolicy string

const (
	// MergeHTP resolves to the higher of the two values.
	MergeHTP MergePolicy = "htp"
	// MergeLTP resolves to whichever value was written most recently.
	MergeLTP MergePolicy = "ltp"
)

// Valid reports whether p is a known merge policy.
func (p MergePolicy) Valid() bool {
	return p == MergeHTP || p == MergeLTP
}

// PassthroughMode gates where a merged external value is visible: the output
// path, the display path, both, or neither.
type PassthroughMode string

const (
	PassthroughOff          PassthroughMode = "off"
	PassthroughViewOnly     PassthroughMode = "view_only"
	PassthroughOutputOnly   PassthroughMode = "output_only"
	PassthroughFadersOutput PassthroughMode = "faders_output"
)

// Valid reports whether m is a known passthrough mode.
func (m PassthroughMode) Valid() bool {
	switch m {
	case PassthroughOff, PassthroughViewOnly, PassthroughOutputOnly, PassthroughFadersOutput:
		return true
	}
	return false
}

// FeedsOutput reports whether the merge result may reach the output path.
func (m PassthroughMode) FeedsOutput() bool {
	return m == PassthroughOutputOnly || m == PassthroughFadersOutput
}

// FeedsDisplay reports whether the merge result may reach display consumers.
func (m PassthroughMode) FeedsDisplay() bool {
	return m == PassthroughViewOnly || m == PassthroughFadersOutput
}

// InputKind identifies the protocol feeding a universe's external values.
type InputKind string

const (
	InputNone   InputKind = "none"
	InputArtNet InputKind = "artnet_input"
	InputSACN   InputKind = "sacn_input"
	InputMIDI   InputKind = "midi_input"
)

// Valid reports whether k is a known input kind.
func (k InputKind) Valid() bool {
	switch k {
	case InputNone, InputArtNet, InputSACN, InputMIDI:
		return true
	}
	return false
}

// DeviceType identifies an output transport.
type DeviceType string

const (
	DeviceArtNet DeviceType = "artnet"
	DeviceSACN   DeviceType = "sacn"
	DeviceDummy  DeviceType = "dummy"
)

// Valid reports whether t is a known device type.
func (t DeviceType) Valid() bool {
	return t == DeviceArtNet || t == DeviceSACN || t == DeviceDummy
}

// CastMode selects how an output addresses the wire.
type CastMode string

const (
	CastUnicast   CastMode = "unicast"
	CastMulticast CastMode = "multicast"
	CastBroadcast CastMode = "broadcast"
)

// Valid reports whether c is a known cast mode.
func (c CastMode) Valid() bool {
	return c == CastUnicast || c == CastMulticast || c == CastBroadcast
}

// ScaleMIDI maps a 7-bit MIDI control value (0-127) onto the 0-255 channel
// domain so that 0 stays 0 and 127 becomes 255.
func ScaleMIDI(v uint8) uint8 {
	if v > 127 {
		v = 127
	}
	return uint8((int(v)*MaxValue + 63) / 127)
}
