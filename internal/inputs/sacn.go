package inputs

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/zitlem/DMXX-sub001/internal/dmx"
	"github.com/zitlem/DMXX-sub001/internal/logger"
	"github.com/zitlem/DMXX-sub001/internal/sacn"
)

// SACNConfig configures one sACN listener.
type SACNConfig struct {
	Bind         string // unicast listen address; empty joins the universe multicast group
	Universe     uint16 // E1.31 universe 1-63999
	AllowSources []string
	DenySources  []string
	IgnoreSelf   bool
}

// SACNListener receives E1.31 data packets for one universe.
type SACNListener struct {
	log     logger.Logger
	cfg     SACNConfig
	target  *Target
	filter  *sourceFilter
	conn    *net.UDPConn
	once    sync.Once
	done    chan struct{}
	c       counters
	lastSeq uint8
	haveSeq bool
}

// NewSACNListener builds a listener writing into target.
func NewSACNListener(log logger.Logger, cfg SACNConfig, target *Target) *SACNListener {
	return &SACNListener{
		log:    log,
		cfg:    cfg,
		target: target,
		filter: newSourceFilter(cfg.AllowSources, cfg.DenySources, cfg.IgnoreSelf),
		done:   make(chan struct{}),
	}
}

// Start opens the socket (joining the universe multicast group when no
// unicast bind is configured) and begins receiving.
func (l *SACNListener) Start(ctx context.Context) error {
	var err error
	if l.cfg.Bind == "" {
		group := &net.UDPAddr{IP: sacn.MulticastGroup(l.cfg.Universe), Port: sacn.Port}
		l.conn, err = net.ListenMulticastUDP("udp4", nil, group)
		if err != nil {
			return fmt.Errorf("failed to join sACN multicast group %s: %w", group, err)
		}
	} else {
		addr, rerr := net.ResolveUDPAddr("udp4", l.cfg.Bind)
		if rerr != nil {
			return fmt.Errorf("failed to resolve sACN bind address %q: %w", l.cfg.Bind, rerr)
		}
		l.conn, err = net.ListenUDP("udp4", addr)
		if err != nil {
			return fmt.Errorf("failed to bind sACN listener on %q: %w", l.cfg.Bind, err)
		}
	}

	go func() {
		select {
		case <-ctx.Done():
			l.Stop()
		case <-l.done:
		}
	}()
	go l.receive()

	l.log.With(logger.Fields{"module": "sacn", "universe": l.target.Universe}).
		Infof("listening for E1.31 universe %d", l.cfg.Universe)
	return nil
}

// Stop closes the socket.
func (l *SACNListener) Stop() {
	l.once.Do(func() {
		close(l.done)
		if l.conn != nil {
			l.conn.Close()
		}
	})
}

// Stats returns the diagnostic counters.
func (l *SACNListener) Stats() Stats { return l.c.stats() }

func (l *SACNListener) receive() {
	buf := make([]byte, 1024)
	for {
		n, src, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-l.done:
				return
			default:
			}
			l.log.With(logger.Fields{"module": "sacn", "universe": l.target.Universe}).
				Errorf("read error: %v", err)
			return
		}
		l.c.received.Add(1)

		if !l.filter.ok(src.IP) {
			l.c.filtered.Add(1)
			continue
		}

		p, err := sacn.Decode(buf[:n])
		if err != nil {
			l.c.dropped.Add(1)
			continue
		}
		if p.Universe != l.cfg.Universe {
			l.c.filtered.Add(1)
			continue
		}
		// Preview-data packets carry values not meant for output.
		if p.Options&0x80 != 0 {
			l.c.filtered.Add(1)
			continue
		}
		if l.stale(p.Sequence) {
			l.c.dropped.Add(1)
			continue
		}

		l.apply(p.Data)
	}
}

// stale applies the E1.31 sequence rule: a packet is discarded when its
// sequence number is between 0 and -20 (exclusive) of the previous one.
func (l *SACNListener) stale(seq uint8) bool {
	if !l.haveSeq {
		l.haveSeq = true
		l.lastSeq = seq
		return false
	}
	diff := int8(seq - l.lastSeq)
	if diff <= 0 && diff > -20 {
		return true
	}
	l.lastSeq = seq
	return false
}

func (l *SACNListener) apply(data []byte) {
	n := len(data)
	if n > dmx.ChannelCount {
		n = dmx.ChannelCount
	}
	wrote := false
	for i := 0; i < n; i++ {
		if l.target.Write(i+1, data[i]) {
			l.c.writes.Add(1)
			wrote = true
		}
	}
	if wrote {
		l.target.notify()
	}
}
