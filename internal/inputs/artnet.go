package inputs

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/Haba1234/go-artnet/packet"
	"github.com/zitlem/DMXX-sub001/internal/dmx"
	"github.com/zitlem/DMXX-sub001/internal/logger"
)

// ArtNetConfig configures one Art-Net listener.
type ArtNetConfig struct {
	Bind         string // listen address, default ":6454"
	Universe     uint16 // port-address: high byte Net, low byte SubUni
	AllowSources []string
	DenySources  []string
	IgnoreSelf   bool
}

// ArtNetListener receives ArtDMX frames for one universe and writes the
// gated channel range into the table.
type ArtNetListener struct {
	log    logger.Logger
	cfg    ArtNetConfig
	target *Target
	filter *sourceFilter
	conn   *net.UDPConn
	once   sync.Once
	done   chan struct{}
	c      counters
}

// NewArtNetListener builds a listener writing into target.
func NewArtNetListener(log logger.Logger, cfg ArtNetConfig, target *Target) *ArtNetListener {
	if cfg.Bind == "" {
		cfg.Bind = ":6454"
	}
	return &ArtNetListener{
		log:    log,
		cfg:    cfg,
		target: target,
		filter: newSourceFilter(cfg.AllowSources, cfg.DenySources, cfg.IgnoreSelf),
		done:   make(chan struct{}),
	}
}

// Start binds the socket and begins receiving.
func (l *ArtNetListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp4", l.cfg.Bind)
	if err != nil {
		return fmt.Errorf("failed to resolve art-net bind address %q: %w", l.cfg.Bind, err)
	}
	l.conn, err = net.ListenUDP("udp4", addr)
	if err != nil {
		return fmt.Errorf("failed to bind art-net listener on %q: %w", l.cfg.Bind, err)
	}

	go func() {
		select {
		case <-ctx.Done():
			l.Stop()
		case <-l.done:
		}
	}()
	go l.receive()

	l.log.With(logger.Fields{"module": "art-net", "universe": l.target.Universe}).
		Infof("listening on %s for port-address %d", l.cfg.Bind, l.cfg.Universe)
	return nil
}

// Stop closes the socket; the receive loop exits once the blocked read
// returns.
func (l *ArtNetListener) Stop() {
	l.once.Do(func() {
		close(l.done)
		if l.conn != nil {
			l.conn.Close()
		}
	})
}

// Stats returns the diagnostic counters.
func (l *ArtNetListener) Stats() Stats { return l.c.stats() }

// Addr reports the bound listen address, nil before Start.
func (l *ArtNetListener) Addr() net.Addr {
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

func (l *ArtNetListener) receive() {
	buf := make([]byte, 2048)
	for {
		n, src, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-l.done:
				return
			default:
			}
			l.log.With(logger.Fields{"module": "art-net", "universe": l.target.Universe}).
				Errorf("read error: %v", err)
			return
		}
		l.c.received.Add(1)

		if !l.filter.ok(src.IP) {
			l.c.filtered.Add(1)
			continue
		}

		p, err := packet.Unmarshal(buf[:n])
		if err != nil {
			l.c.dropped.Add(1)
			continue
		}
		d, ok := p.(*packet.ArtDMXPacket)
		if !ok {
			// Poll and reply traffic is normal on the wire, not an error.
			l.c.dropped.Add(1)
			continue
		}
		if l.portAddress(d) != l.cfg.Universe {
			l.c.filtered.Add(1)
			continue
		}

		l.apply(d)
	}
}

// portAddress reassembles the 16-bit Art-Net address the same way the
// dispatcher splits it: high byte Net, low byte SubUni.
func (l *ArtNetListener) portAddress(d *packet.ArtDMXPacket) uint16 {
	v := []byte{d.Net, d.SubUni}
	return binary.BigEndian.Uint16(v)
}

func (l *ArtNetListener) apply(d *packet.ArtDMXPacket) {
	n := int(d.Length)
	if n > dmx.ChannelCount {
		n = dmx.ChannelCount
	}
	wrote := false
	for i := 0; i < n; i++ {
		if l.target.Write(i+1, d.Data[i]) {
			l.c.writes.Add(1)
			wrote = true
		}
	}
	if wrote {
		l.target.notify()
	}
}
