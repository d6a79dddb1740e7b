// Package config loads and validates the pipeline configuration. Validation
// runs before anything reaches the engine, so the core never sees an
// out-of-range channel, grandmaster or transport setting.
package config

import (
	"fmt"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/zitlem/DMXX-sub001/internal/dmx"
)

// Config is the top level of the TOML file.
type Config struct {
	Logger       LogConf           `toml:"logger"`
	Global       GlobalConf        `toml:"global"`
	Monitor      MonitorConf       `toml:"monitor"`
	Universes    []UniverseConf    `toml:"universe"`
	MIDIMappings []MIDIMappingConf `toml:"midi-mapping"`
}

// LogConf holds logger settings.
type LogConf struct {
	Level string `toml:"log-level"` // Level - logging level.
}

// GlobalConf holds process-wide pipeline settings.
type GlobalConf struct {
	Grandmaster            int  `toml:"grandmaster"`              // Grandmaster - global master level 0-255.
	HighlightOverridesPark bool `toml:"highlight-overrides-park"` // HighlightOverridesPark - precedence when both apply.
}

// MonitorConf configures the optional MQTT monitor bridge.
type MonitorConf struct {
	Enabled     bool   `toml:"enabled"`
	ClientID    string `toml:"clientID"`     // ClientID - client name.
	Host        string `toml:"server"`       // Host - MQTT server address.
	Port        string `toml:"port"`         // Port - MQTT server port.
	User        string `toml:"user"`         // User - MQTT login.
	Password    string `toml:"password"`     // Password - MQTT password.
	TopicPrefix string `toml:"topic-prefix"` // TopicPrefix - leading topic segment.
	Qos         byte   `toml:"qos"`          // Qos - quality of service.
}

// UniverseConf describes one universe: its input, outputs and merge setup.
type UniverseConf struct {
	ID          string              `toml:"id"`
	Label       string              `toml:"label"`
	Grandmaster int                 `toml:"grandmaster"`
	Color       string              `toml:"color"` // cosmetic master-fader color
	Passthrough dmx.PassthroughMode `toml:"passthrough"`
	Merge       dmx.MergePolicy     `toml:"merge"`
	Input       InputConf           `toml:"input"`
	Outputs     []OutputConf        `toml:"output"`
	Remap       map[string]int      `toml:"remap"` // raw input channel -> destination channel
}

// InputConf describes a universe's external input.
type InputConf struct {
	Kind             dmx.InputKind `toml:"kind"`
	Enabled          bool          `toml:"enabled"`
	Bind             string        `toml:"bind"`              // listen address for artnet/sacn
	ProtocolUniverse int           `toml:"protocol-universe"` // Art-Net port-address or sACN universe
	RangeStart       int           `toml:"range-start"`
	RangeEnd         int           `toml:"range-end"`
	AllowSources     []string      `toml:"allow-sources"`
	DenySources      []string      `toml:"deny-sources"`
	IgnoreSelf       bool          `toml:"ignore-self"`
}

// OutputConf describes one output transport of a universe.
type OutputConf struct {
	ID               string         `toml:"id"`
	Type             dmx.DeviceType `toml:"type"`
	Target           string         `toml:"target"`
	Port             int            `toml:"port"`
	ProtocolUniverse int            `toml:"protocol-universe"`
	Mode             dmx.CastMode   `toml:"mode"`
	IntervalMS       int            `toml:"interval-ms"`
	Enabled          bool           `toml:"enabled"`
}

// MIDIMappingConf maps one MIDI CC onto a DMX channel.
type MIDIMappingConf struct {
	Device      string `toml:"device"`       // device name or "any"
	MIDIChannel int    `toml:"midi-channel"` // 0-15 or -1 for any
	CC          int    `toml:"cc"`
	Channel     int    `toml:"channel"`
}

// NewConfig loads, normalizes and validates the file at path.
func NewConfig(path string) (*Config, error) {
	cfg := Config{
		Logger: LogConf{Level: "info"},
		Global: GlobalConf{Grandmaster: dmx.MaxValue, HighlightOverridesPark: true},
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return &cfg, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return &cfg, err
	}
	return &cfg, nil
}

// normalize fills defaults that cannot be pre-set on slice elements.
func (c *Config) normalize() {
	for i := range c.Universes {
		u := &c.Universes[i]
		if u.Passthrough == "" {
			u.Passthrough = dmx.PassthroughFadersOutput
		}
		if u.Merge == "" {
			u.Merge = dmx.MergeHTP
		}
		if u.Input.Kind == "" {
			u.Input.Kind = dmx.InputNone
		}
		if u.Input.RangeStart == 0 && u.Input.RangeEnd == 0 {
			u.Input.RangeStart, u.Input.RangeEnd = dmx.MinChannel, dmx.MaxChannel
		}
		for j := range u.Outputs {
			o := &u.Outputs[j]
			if o.Mode == "" {
				o.Mode = dmx.CastUnicast
			}
			if o.IntervalMS == 0 {
				o.IntervalMS = 33
			}
		}
	}
}

// Validate rejects any setting the engine must never see.
func (c *Config) Validate() error {
	if c.Global.Grandmaster < 0 || c.Global.Grandmaster > dmx.MaxValue {
		return fmt.Errorf("global grandmaster %d out of range 0-%d", c.Global.Grandmaster, dmx.MaxValue)
	}

	seen := map[string]bool{}
	for i := range c.Universes {
		u := &c.Universes[i]
		if u.ID == "" {
			return fmt.Errorf("universe %d: missing id", i)
		}
		if seen[u.ID] {
			return fmt.Errorf("universe %q: duplicate id", u.ID)
		}
		seen[u.ID] = true
		if err := u.validate(); err != nil {
			return fmt.Errorf("universe %q: %w", u.ID, err)
		}
	}

	for i, m := range c.MIDIMappings {
		if m.MIDIChannel < -1 || m.MIDIChannel > 15 {
			return fmt.Errorf("midi-mapping %d: midi-channel %d out of range", i, m.MIDIChannel)
		}
		if m.CC < 0 || m.CC > 127 {
			return fmt.Errorf("midi-mapping %d: cc %d out of range 0-127", i, m.CC)
		}
		if m.Channel < dmx.MinChannel || m.Channel > dmx.MaxChannel {
			return fmt.Errorf("midi-mapping %d: channel %d out of range 1-512", i, m.Channel)
		}
	}
	return nil
}

func (u *UniverseConf) validate() error {
	if u.Grandmaster < 0 || u.Grandmaster > dmx.MaxValue {
		return fmt.Errorf("grandmaster %d out of range 0-%d", u.Grandmaster, dmx.MaxValue)
	}
	if !u.Passthrough.Valid() {
		return fmt.Errorf("unknown passthrough mode %q", u.Passthrough)
	}
	if !u.Merge.Valid() {
		return fmt.Errorf("unknown merge policy %q", u.Merge)
	}
	if !u.Input.Kind.Valid() {
		return fmt.Errorf("unknown input kind %q", u.Input.Kind)
	}
	in := &u.Input
	if in.RangeStart < dmx.MinChannel || in.RangeEnd > dmx.MaxChannel || in.RangeStart > in.RangeEnd {
		return fmt.Errorf("input range [%d,%d] invalid", in.RangeStart, in.RangeEnd)
	}
	if in.ProtocolUniverse < 0 || in.ProtocolUniverse > 0xffff {
		return fmt.Errorf("protocol universe %d out of range", in.ProtocolUniverse)
	}

	seen := map[string]bool{}
	for i := range u.Outputs {
		o := &u.Outputs[i]
		if o.ID == "" {
			return fmt.Errorf("output %d: missing id", i)
		}
		if seen[o.ID] {
			return fmt.Errorf("output %q: duplicate id", o.ID)
		}
		seen[o.ID] = true
		if err := o.Validate(); err != nil {
			return fmt.Errorf("output %q: %w", o.ID, err)
		}
	}

	for raw, dst := range u.Remap {
		src, err := strconv.Atoi(raw)
		if err != nil || src < dmx.MinChannel || src > dmx.MaxChannel {
			return fmt.Errorf("remap source %q out of range 1-512", raw)
		}
		if dst < dmx.MinChannel || dst > dmx.MaxChannel {
			return fmt.Errorf("remap %s -> %d: destination out of range 1-512", raw, dst)
		}
	}
	return nil
}

// Validate checks one output configuration; also used by the engine when an
// output is added or updated at runtime.
func (o *OutputConf) Validate() error {
	if !o.Type.Valid() {
		return fmt.Errorf("unknown device type %q", o.Type)
	}
	if !o.Mode.Valid() {
		return fmt.Errorf("unknown cast mode %q", o.Mode)
	}
	if o.Type != dmx.DeviceDummy {
		// Broadcast and sACN multicast derive their destination; only
		// unicast strictly needs a target.
		if o.Mode == dmx.CastUnicast && o.Target == "" {
			return fmt.Errorf("missing target address")
		}
		// Port zero means the protocol default.
		if o.Port < 0 || o.Port > 0xffff {
			return fmt.Errorf("port %d out of range", o.Port)
		}
	}
	if o.ProtocolUniverse < 0 || o.ProtocolUniverse > 0xffff {
		return fmt.Errorf("protocol universe %d out of range", o.ProtocolUniverse)
	}
	if o.IntervalMS < 1 || o.IntervalMS > 10000 {
		return fmt.Errorf("interval %dms out of range", o.IntervalMS)
	}
	return nil
}

// RemapTable converts the string-keyed TOML table into the injected form the
// engine consumes. Call only after Validate.
func (u *UniverseConf) RemapTable() map[int]int {
	if len(u.Remap) == 0 {
		return nil
	}
	m := make(map[int]int, len(u.Remap))
	for raw, dst := range u.Remap {
		src, _ := strconv.Atoi(raw)
		m[src] = dst
	}
	return m
}
