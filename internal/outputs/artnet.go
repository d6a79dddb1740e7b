package outputs

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"syscall"

	"github.com/Haba1234/go-artnet/packet"
	"github.com/zitlem/DMXX-sub001/internal/dmx"
	"github.com/zitlem/DMXX-sub001/internal/logger"
)

// artnetOutput transmits ArtDMX frames to a configured unicast or broadcast
// target. It does not rely on node discovery: the transport is exactly what
// the configuration says.
type artnetOutput struct {
	runner
	conn *net.UDPConn
}

func newArtNetOutput(log logger.Logger, cfg Config, src Source) *artnetOutput {
	o := &artnetOutput{}
	o.runner = runner{log: log, cfg: cfg, source: src, send: o.transmit}
	return o
}

func (o *artnetOutput) Start(ctx context.Context) error {
	target := o.cfg.Target
	if target == "" && o.cfg.Mode == dmx.CastBroadcast {
		target = "255.255.255.255"
	}
	port := o.cfg.Port
	if port == 0 {
		port = 6454
	}
	addr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", target, port))
	if err != nil {
		return fmt.Errorf("failed to resolve art-net target %q: %w", target, err)
	}
	o.conn, err = net.DialUDP("udp4", nil, addr)
	if err != nil {
		return fmt.Errorf("failed to open art-net socket to %s: %w", addr, err)
	}
	if o.cfg.Mode == dmx.CastBroadcast {
		if err := enableBroadcast(o.conn); err != nil {
			o.conn.Close()
			return fmt.Errorf("failed to enable broadcast on %s: %w", addr, err)
		}
	}

	o.start(ctx)
	o.log.With(logger.Fields{"module": "output", "output": o.cfg.ID}).
		Infof("art-net output to %s, port-address %d, every %s", addr, o.cfg.Universe, o.cfg.Interval)
	return nil
}

func (o *artnetOutput) Stop() {
	o.halt()
	if o.conn != nil {
		o.conn.Close()
	}
}

func (o *artnetOutput) Status() Status { return o.status() }

func (o *artnetOutput) transmit(frame dmx.Frame, seq uint8) error {
	p := packet.NewArtDMXPacket()
	p.Sequence = seq
	p.Net, p.SubUni = splitPortAddress(o.cfg.Universe)
	p.Length = dmx.ChannelCount
	p.Data = frame

	b, err := p.MarshalBinary()
	if err != nil {
		return fmt.Errorf("artdmx encode: %w", err)
	}
	if _, err := o.conn.Write(b); err != nil {
		return fmt.Errorf("artdmx send: %w", err)
	}
	return nil
}

// splitPortAddress splits a 16-bit port-address into the wire bytes: high
// byte Net, low byte SubUni.
func splitPortAddress(universe uint16) (netByte, subUni uint8) {
	v := make([]uint8, 2)
	binary.BigEndian.PutUint16(v, universe)
	return v[0], v[1]
}

// enableBroadcast sets SO_BROADCAST so writes to a broadcast address are
// permitted.
func enableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	err = raw.Control(func(fd uintptr) {
		serr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return serr
}
