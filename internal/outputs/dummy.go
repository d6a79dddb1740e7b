package outputs

import (
	"context"
	"sync"

	"github.com/zitlem/DMXX-sub001/internal/dmx"
	"github.com/zitlem/DMXX-sub001/internal/logger"
)

// dummyOutput exercises the dispatch path without touching the network. It
// keeps the last frame it "sent" so tests and diagnostics can inspect it.
type dummyOutput struct {
	runner
	mu    sync.Mutex
	last  dmx.Frame
	ticks uint64
}

func newDummyOutput(log logger.Logger, cfg Config, src Source) *dummyOutput {
	o := &dummyOutput{}
	o.runner = runner{log: log, cfg: cfg, source: src, send: o.transmit}
	return o
}

func (o *dummyOutput) Start(ctx context.Context) error {
	o.start(ctx)
	o.log.With(logger.Fields{"module": "output", "output": o.cfg.ID}).
		Infof("dummy output, every %s", o.cfg.Interval)
	return nil
}

func (o *dummyOutput) Stop() { o.halt() }

func (o *dummyOutput) Status() Status { return o.status() }

func (o *dummyOutput) transmit(frame dmx.Frame, _ uint8) error {
	o.mu.Lock()
	o.last = frame
	o.ticks++
	o.mu.Unlock()
	return nil
}

// LastFrame returns the most recent frame and whether any tick has run.
func (o *dummyOutput) LastFrame() (dmx.Frame, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last, o.ticks > 0
}
