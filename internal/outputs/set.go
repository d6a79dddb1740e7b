package outputs

import (
	"context"
	"fmt"
	"sync"

	"github.com/zitlem/DMXX-sub001/internal/logger"
)

// Set manages the outputs of one universe. Every output has an independent
// lifecycle: adding, removing or toggling one never touches its siblings.
// Re-enabling builds a fresh driver, so protocols that number their frames
// restart from a clean sequence.
type Set struct {
	log      logger.Logger
	universe string
	source   Source
	mu       sync.Mutex
	ctx      context.Context
	outputs  map[string]*entry
}

type entry struct {
	cfg     Config
	enabled bool
	driver  Driver // nil while disabled
}

// NewSet builds an empty set feeding from source.
func NewSet(log logger.Logger, universe string, source Source) *Set {
	return &Set{
		log:      log,
		universe: universe,
		source:   source,
		outputs:  make(map[string]*entry),
	}
}

// Start records the lifecycle context and launches every enabled output.
func (s *Set) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx = ctx
	for id, e := range s.outputs {
		if !e.enabled || e.driver != nil {
			continue
		}
		if err := s.launch(e); err != nil {
			// One broken output must not hold back the others.
			s.log.With(logger.Fields{"module": "output", "universe": s.universe, "output": id}).
				Errorf("failed to start: %v", err)
		}
	}
	return nil
}

// Stop halts every running output.
func (s *Set) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.outputs {
		if e.driver != nil {
			e.driver.Stop()
			e.driver = nil
		}
	}
	s.ctx = nil
}

func (s *Set) launch(e *entry) error {
	d := New(s.log, e.cfg, s.source)
	if err := d.Start(s.ctx); err != nil {
		return err
	}
	e.driver = d
	return nil
}

// Add registers a new output and starts it when enabled and the set is
// running.
func (s *Set) Add(cfg Config, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.outputs[cfg.ID]; exists {
		return fmt.Errorf("output %q already exists", cfg.ID)
	}
	e := &entry{cfg: cfg, enabled: enabled}
	s.outputs[cfg.ID] = e
	if enabled && s.ctx != nil {
		return s.launch(e)
	}
	return nil
}

// Update replaces an output's transport configuration, restarting it if it
// is currently running.
func (s *Set) Update(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.outputs[cfg.ID]
	if !exists {
		return fmt.Errorf("output %q not found", cfg.ID)
	}
	if e.driver != nil {
		e.driver.Stop()
		e.driver = nil
	}
	e.cfg = cfg
	if e.enabled && s.ctx != nil {
		return s.launch(e)
	}
	return nil
}

// Remove stops and forgets an output.
func (s *Set) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.outputs[id]
	if !exists {
		return fmt.Errorf("output %q not found", id)
	}
	if e.driver != nil {
		e.driver.Stop()
	}
	delete(s.outputs, id)
	return nil
}

// SetEnabled toggles one output. Disabling stops its cadence loop before
// returning; enabling starts a fresh driver.
func (s *Set) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.outputs[id]
	if !exists {
		return fmt.Errorf("output %q not found", id)
	}
	if e.enabled == enabled {
		return nil
	}
	e.enabled = enabled
	if !enabled {
		if e.driver != nil {
			e.driver.Stop()
			e.driver = nil
		}
		return nil
	}
	if s.ctx != nil {
		return s.launch(e)
	}
	return nil
}

// Statuses reports every output of the universe, running or not.
func (s *Set) Statuses() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.outputs))
	for id, e := range s.outputs {
		if e.driver != nil {
			out = append(out, e.driver.Status())
			continue
		}
		out = append(out, Status{ID: id, Type: e.cfg.Type})
	}
	return out
}

// Driver exposes a running driver by id, mainly for dummy-output
// inspection in diagnostics.
func (s *Set) Driver(id string) (Driver, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.outputs[id]
	if !exists || e.driver == nil {
		return nil, false
	}
	return e.driver, true
}
