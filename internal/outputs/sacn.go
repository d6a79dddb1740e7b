package outputs

import (
	"context"
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/zitlem/DMXX-sub001/internal/dmx"
	"github.com/zitlem/DMXX-sub001/internal/logger"
	"github.com/zitlem/DMXX-sub001/internal/sacn"
)

const sacnSourceName = "DMXX core"

// sacnOutput transmits E1.31 data packets to a unicast target or the
// universe multicast group. Each instance carries its own CID, generated
// at construction.
type sacnOutput struct {
	runner
	cid  [16]byte
	conn *net.UDPConn
}

func newSACNOutput(log logger.Logger, cfg Config, src Source) *sacnOutput {
	o := &sacnOutput{cid: [16]byte(uuid.New())}
	o.runner = runner{log: log, cfg: cfg, source: src, send: o.transmit}
	return o
}

func (o *sacnOutput) Start(ctx context.Context) error {
	var addr *net.UDPAddr
	switch o.cfg.Mode {
	case dmx.CastMulticast:
		addr = &net.UDPAddr{IP: sacn.MulticastGroup(o.cfg.Universe), Port: sacn.Port}
	default:
		port := o.cfg.Port
		if port == 0 {
			port = sacn.Port
		}
		a, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", o.cfg.Target, port))
		if err != nil {
			return fmt.Errorf("failed to resolve sACN target %q: %w", o.cfg.Target, err)
		}
		addr = a
	}

	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return fmt.Errorf("failed to open sACN socket to %s: %w", addr, err)
	}
	o.conn = conn

	o.start(ctx)
	o.log.With(logger.Fields{"module": "output", "output": o.cfg.ID}).
		Infof("sACN output to %s, universe %d, every %s", addr, o.cfg.Universe, o.cfg.Interval)
	return nil
}

func (o *sacnOutput) Stop() {
	o.halt()
	if o.conn != nil {
		o.conn.Close()
	}
}

func (o *sacnOutput) Status() Status { return o.status() }

func (o *sacnOutput) transmit(frame dmx.Frame, seq uint8) error {
	b := sacn.Encode(o.cid, sacnSourceName, o.cfg.Priority, seq, o.cfg.Universe, frame[:])
	if _, err := o.conn.Write(b); err != nil {
		return fmt.Errorf("e1.31 send: %w", err)
	}
	return nil
}
