// Package outputs fans resolved universe frames out to the wire. Every
// enabled output runs its own cadence loop and fails independently: a send
// error degrades that output only, and the next tick retries.
package outputs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zitlem/DMXX-sub001/internal/dmx"
	"github.com/zitlem/DMXX-sub001/internal/logger"
)

// Source produces the final (post-grandmaster) frame for a tick. The engine
// supplies one per universe; it must be cheap and safe for concurrent use.
type Source func() dmx.Frame

// Config describes one output transport.
type Config struct {
	ID       string
	Type     dmx.DeviceType
	Target   string // destination host or group; may be empty for broadcast
	Port     int
	Universe uint16 // protocol universe / port-address on the wire
	Mode     dmx.CastMode
	Interval time.Duration
	Priority uint8 // sACN only; zero means the protocol default
}

// Driver is the capability contract every transport implements.
type Driver interface {
	Start(ctx context.Context) error
	Stop()
	Status() Status
}

// Status reports one output's health.
type Status struct {
	ID        string
	Type      dmx.DeviceType
	Running   bool
	Degraded  bool
	LastError string
	Sent      uint64
	Errors    uint64
}

// New builds the driver for cfg. cfg must already be validated.
func New(log logger.Logger, cfg Config, src Source) Driver {
	switch cfg.Type {
	case dmx.DeviceArtNet:
		return newArtNetOutput(log, cfg, src)
	case dmx.DeviceSACN:
		return newSACNOutput(log, cfg, src)
	default:
		return newDummyOutput(log, cfg, src)
	}
}

// runner owns the cadence loop shared by all drivers. The send callback does
// the per-protocol encode and transmit; the sequence counter restarts at
// zero with every Start.
type runner struct {
	log      logger.Logger
	cfg      Config
	source   Source
	send     func(frame dmx.Frame, seq uint8) error
	running  atomic.Bool
	degraded atomic.Bool
	lastErr  atomic.Value // string
	sent     atomic.Uint64
	errs     atomic.Uint64
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

func (r *runner) start(ctx context.Context) {
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	r.once = sync.Once{}
	r.running.Store(true)
	go r.loop(ctx)
}

func (r *runner) loop(ctx context.Context) {
	defer close(r.done)
	defer r.running.Store(false)

	t := time.NewTicker(r.cfg.Interval)
	defer t.Stop()

	var seq uint8
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-t.C:
			seq++
			if err := r.send(r.source(), seq); err != nil {
				r.errs.Add(1)
				r.lastErr.Store(err.Error())
				if r.degraded.CompareAndSwap(false, true) {
					r.log.With(logger.Fields{"module": "output", "output": r.cfg.ID}).
						Errorf("send failed, retrying on next tick: %v", err)
				}
			} else {
				r.sent.Add(1)
				if r.degraded.CompareAndSwap(true, false) {
					r.log.With(logger.Fields{"module": "output", "output": r.cfg.ID}).
						Info("send recovered")
				}
			}
		}
	}
}

// halt stops the cadence loop and waits for it; no further ticks occur after
// halt returns.
func (r *runner) halt() {
	if !r.running.Load() {
		return
	}
	r.once.Do(func() { close(r.stop) })
	<-r.done
}

func (r *runner) status() Status {
	s := Status{
		ID:       r.cfg.ID,
		Type:     r.cfg.Type,
		Running:  r.running.Load(),
		Degraded: r.degraded.Load(),
		Sent:     r.sent.Load(),
		Errors:   r.errs.Load(),
	}
	if e, ok := r.lastErr.Load().(string); ok {
		s.LastError = e
	}
	return s
}
