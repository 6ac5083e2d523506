// Package netprobe implements ICMP echo probe sessions.
package netprobe

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/bft-labs/tagcam/internal/ports"
)

// Socket networks accepted by Config.Network.
const (
	// NetworkUDP uses unprivileged ICMP datagram sockets
	// (net.ipv4.ping_group_range must include the process group).
	NetworkUDP = "udp4"

	// NetworkRaw uses a raw socket and needs CAP_NET_RAW.
	NetworkRaw = "ip4:icmp"
)

const protocolICMP = 1

// Config contains configuration for the echo prober.
type Config struct {
	// Network is NetworkUDP or NetworkRaw. Empty means NetworkUDP.
	Network string

	// PayloadSize is the echo payload length in bytes.
	PayloadSize int
}

// EchoProber implements ports.EchoProber with ICMP echo requests.
type EchoProber struct {
	network  string
	payload  []byte
	id       int
	resolver *net.Resolver
	logger   ports.Logger
}

// New creates an ICMP echo prober.
func New(cfg Config, logger ports.Logger) *EchoProber {
	if cfg.Network == "" {
		cfg.Network = NetworkUDP
	}
	if cfg.PayloadSize <= 0 {
		cfg.PayloadSize = 32
	}
	payload := make([]byte, cfg.PayloadSize)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}
	return &EchoProber{
		network:  cfg.Network,
		payload:  payload,
		id:       os.Getpid() & 0xffff,
		resolver: net.DefaultResolver,
		logger:   logger,
	}
}

// StartProbe resolves target and starts an echo session in the background.
func (p *EchoProber) StartProbe(ctx context.Context, target string, cfg ports.ProbeConfig, cb ports.ProbeCallbacks) (ports.ProbeSession, error) {
	ip, err := p.resolve(ctx, target)
	if err != nil {
		return nil, err
	}

	conn, err := icmp.ListenPacket(p.network, "0.0.0.0")
	if err != nil {
		return nil, fmt.Errorf("open icmp socket: %w", err)
	}

	var dst net.Addr = &net.IPAddr{IP: ip}
	if p.network == NetworkUDP {
		dst = &net.UDPAddr{IP: ip}
	}

	s := &session{
		conn:    conn,
		dst:     dst,
		id:      p.id,
		checkID: p.network != NetworkUDP,
		payload: p.payload,
		cfg:     cfg,
		cb:      cb,
		stop:    make(chan struct{}),
	}
	p.logger.Debug("probe session started",
		ports.String("target", target),
		ports.String("addr", ip.String()),
		ports.Int("count", cfg.Count),
	)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.stop:
		}
	}()
	go s.run()
	return s, nil
}

func (p *EchoProber) resolve(ctx context.Context, target string) (net.IP, error) {
	if ip := net.ParseIP(target); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
		return nil, fmt.Errorf("%s is not an IPv4 address", target)
	}

	addrs, err := p.resolver.LookupIPAddr(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", target, err)
	}
	for _, a := range addrs {
		if v4 := a.IP.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, fmt.Errorf("resolve %s: no IPv4 address", target)
}

type session struct {
	conn    *icmp.PacketConn
	dst     net.Addr
	id      int
	checkID bool
	payload []byte
	cfg     ports.ProbeConfig
	cb      ports.ProbeCallbacks

	once sync.Once
	stop chan struct{}
}

// Stop ends the session. Callbacks are not invoked after Stop returns,
// except one that is already running.
func (s *session) Stop() {
	s.once.Do(func() {
		close(s.stop)
		s.conn.Close()
	})
}

func (s *session) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *session) run() {
	sent, received := 0, 0
	buf := make([]byte, 1500)

	for seq := 1; seq <= s.cfg.Count; seq++ {
		if seq > 1 {
			select {
			case <-s.stop:
				return
			case <-time.After(s.cfg.Interval):
			}
		}
		if s.stopped() {
			return
		}

		msg, err := encodeEcho(s.id, seq, s.payload)
		if err != nil {
			return
		}
		start := time.Now()
		if _, err := s.conn.WriteTo(msg, s.dst); err != nil {
			if s.stopped() {
				return
			}
			sent++
			s.timeout(seq)
			continue
		}
		sent++

		if rtt, ok := s.await(buf, seq, start); ok {
			received++
			if s.stopped() {
				return
			}
			if s.cb.OnReply != nil {
				s.cb.OnReply(seq, rtt)
			}
			continue
		}
		if s.stopped() {
			return
		}
		s.timeout(seq)
	}

	if !s.stopped() && s.cb.OnEnd != nil {
		s.cb.OnEnd(sent, received)
	}
	s.Stop()
}

func (s *session) timeout(seq int) {
	if s.cb.OnTimeout != nil {
		s.cb.OnTimeout(seq)
	}
}

// await reads until the reply for seq arrives or the per-probe timeout
// expires.
func (s *session) await(buf []byte, seq int, start time.Time) (time.Duration, bool) {
	deadline := start.Add(s.cfg.Timeout)
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return 0, false
	}
	for {
		n, _, err := s.conn.ReadFrom(buf)
		if err != nil {
			// Deadline expiry or a closed socket.
			return 0, false
		}
		if matchReply(buf[:n], s.id, seq, s.checkID) {
			return time.Since(start), true
		}
	}
}

// encodeEcho builds an ICMPv4 echo request.
func encodeEcho(id, seq int, payload []byte) ([]byte, error) {
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{ID: id, Seq: seq, Data: payload},
	}
	return msg.Marshal(nil)
}

// matchReply reports whether b is the echo reply for seq. Datagram sockets
// rewrite the identifier, so it is only checked on raw sockets.
func matchReply(b []byte, id, seq int, checkID bool) bool {
	msg, err := icmp.ParseMessage(protocolICMP, b)
	if err != nil || msg.Type != ipv4.ICMPTypeEchoReply {
		return false
	}
	echo, ok := msg.Body.(*icmp.Echo)
	if !ok || echo.Seq != seq {
		return false
	}
	return !checkID || echo.ID == id
}
