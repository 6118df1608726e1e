package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/pingsantohq/pathprobe/pkg/types"
)

const (
	protocolICMP     = 1
	protocolICMPv6   = 58
	readBufferSize   = 1500
	echoPayloadBytes = "pathprobe"
)

// packetConn is the subset of *icmp.PacketConn the prober needs, plus
// traffic-class marking for either address family.
type packetConn interface {
	WriteTo(b []byte, dst net.Addr) (int, error)
	ReadFrom(b []byte) (int, net.Addr, error)
	SetReadDeadline(t time.Time) error
	SetTOS(tos int) error
	Close() error
}

type listenFunc func(network, address string) (packetConn, error)

type resolveFunc func(ctx context.Context, host string) (net.IP, error)

// ICMPProber sends one DSCP-marked echo request per Probe call over a
// dedicated socket and waits for the matching reply.
type ICMPProber struct {
	privileged bool
	listen     listenFunc
	resolve    resolveFunc
	now        func() time.Time
	id         int
	seq        atomic.Uint32
}

type Option func(*ICMPProber)

// WithUnprivileged switches to datagram ICMP sockets, which some kernels
// allow without raw-socket privileges. The kernel owns the echo ID there.
func WithUnprivileged() Option {
	return func(p *ICMPProber) {
		p.privileged = false
	}
}

func WithNow(now func() time.Time) Option {
	return func(p *ICMPProber) {
		if now != nil {
			p.now = now
		}
	}
}

func WithResolver(fn func(ctx context.Context, host string) (net.IP, error)) Option {
	return func(p *ICMPProber) {
		if fn != nil {
			p.resolve = fn
		}
	}
}

func withListener(fn listenFunc) Option {
	return func(p *ICMPProber) {
		if fn != nil {
			p.listen = fn
		}
	}
}

func NewICMPProber(opts ...Option) *ICMPProber {
	p := &ICMPProber{
		privileged: true,
		listen:     listenICMP,
		resolve:    resolveIP,
		now:        time.Now,
		id:         os.Getpid() & 0xffff,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe never returns an error value: resolution, socket, marking and send
// problems are classified as StatusError, a missing reply as StatusFailure.
// The context only bounds name resolution; once sent, the probe runs until
// a reply arrives or the timeout expires.
func (p *ICMPProber) Probe(ctx context.Context, req Request) Outcome {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ip, err := p.resolve(ctx, req.Destination)
	if err != nil {
		return failed(fmt.Errorf("resolve %q: %w", req.Destination, err))
	}

	v6 := ip.To4() == nil
	network, address := p.network(v6)
	conn, err := p.listen(network, address)
	if err != nil {
		return failed(fmt.Errorf("listen %s: %w", network, err))
	}
	defer conn.Close()

	if err := conn.SetTOS(types.TOS(req.TrafficClass)); err != nil {
		return failed(fmt.Errorf("set dscp %d: %w", req.TrafficClass, err))
	}

	seq := int(p.seq.Add(1) & 0xffff)
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   p.id,
			Seq:  seq,
			Data: []byte(echoPayloadBytes),
		},
	}
	if v6 {
		msg.Type = ipv6.ICMPTypeEchoRequest
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return failed(fmt.Errorf("marshal echo: %w", err))
	}

	start := p.now()
	if err := conn.SetReadDeadline(start.Add(timeout)); err != nil {
		return failed(fmt.Errorf("set read deadline: %w", err))
	}
	if _, err := conn.WriteTo(wire, p.destination(ip)); err != nil {
		return failed(fmt.Errorf("send echo to %s: %w", ip, err))
	}

	buf := make([]byte, readBufferSize)
	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			if isTimeout(err) {
				return failure()
			}
			return failed(fmt.Errorf("read reply: %w", err))
		}
		if p.matches(buf[:n], peer, ip, seq, v6) {
			return success(p.now().Sub(start))
		}
	}
}

func (p *ICMPProber) network(v6 bool) (string, string) {
	switch {
	case p.privileged && v6:
		return "ip6:ipv6-icmp", "::"
	case p.privileged:
		return "ip4:icmp", "0.0.0.0"
	case v6:
		return "udp6", "::"
	default:
		return "udp4", "0.0.0.0"
	}
}

func (p *ICMPProber) destination(ip net.IP) net.Addr {
	if p.privileged {
		return &net.IPAddr{IP: ip}
	}
	return &net.UDPAddr{IP: ip}
}

func (p *ICMPProber) matches(packet []byte, peer net.Addr, want net.IP, seq int, v6 bool) bool {
	proto := protocolICMP
	if v6 {
		proto = protocolICMPv6
	}
	msg, err := icmp.ParseMessage(proto, packet)
	if err != nil {
		return false
	}
	if msg.Type != ipv4.ICMPTypeEchoReply && msg.Type != ipv6.ICMPTypeEchoReply {
		return false
	}
	echo, ok := msg.Body.(*icmp.Echo)
	if !ok || echo.Seq != seq {
		return false
	}
	if p.privileged && echo.ID != p.id {
		return false
	}
	return peerIP(peer).Equal(want)
}

func peerIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.IPAddr:
		return a.IP
	case *net.UDPAddr:
		return a.IP
	default:
		return nil
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func resolveIP(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	for _, addr := range addrs {
		if addr.IP.To4() != nil {
			return addr.IP, nil
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no addresses for %q", host)
	}
	return addrs[0].IP, nil
}

type icmpConn struct {
	*icmp.PacketConn
	v6 bool
}

func listenICMP(network, address string) (packetConn, error) {
	conn, err := icmp.ListenPacket(network, address)
	if err != nil {
		return nil, err
	}
	return icmpConn{PacketConn: conn, v6: network == "ip6:ipv6-icmp" || network == "udp6"}, nil
}

func (c icmpConn) SetTOS(tos int) error {
	if c.v6 {
		pc := c.IPv6PacketConn()
		if pc == nil {
			return errors.New("no ipv6 packet conn")
		}
		return pc.SetTrafficClass(tos)
	}
	pc := c.IPv4PacketConn()
	if pc == nil {
		return errors.New("no ipv4 packet conn")
	}
	return pc.SetTOS(tos)
}
