package probe

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/pingsantohq/pathprobe/pkg/types"
)

// fakeConn answers echo requests according to reply; a nil reply never
// answers so reads run into the deadline.
type fakeConn struct {
	mu       sync.Mutex
	tos      int
	deadline time.Time
	inbox    chan []byte
	peer     net.Addr
	reply    func(req *icmp.Echo) []*icmp.Message
	writeErr error
	closed   bool
}

func newFakeConn(peer net.Addr, reply func(req *icmp.Echo) []*icmp.Message) *fakeConn {
	return &fakeConn{inbox: make(chan []byte, 8), peer: peer, reply: reply}
}

func (c *fakeConn) WriteTo(b []byte, dst net.Addr) (int, error) {
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	msg, err := icmp.ParseMessage(protocolICMP, b)
	if err != nil {
		return 0, err
	}
	echo := msg.Body.(*icmp.Echo)
	if c.reply != nil {
		for _, out := range c.reply(echo) {
			wire, err := out.Marshal(nil)
			if err != nil {
				return 0, err
			}
			c.inbox <- wire
		}
	}
	return len(b), nil
}

func (c *fakeConn) ReadFrom(b []byte) (int, net.Addr, error) {
	c.mu.Lock()
	deadline := c.deadline
	c.mu.Unlock()
	select {
	case pkt := <-c.inbox:
		return copy(b, pkt), c.peer, nil
	case <-time.After(time.Until(deadline)):
		return 0, nil, os.ErrDeadlineExceeded
	}
}

func (c *fakeConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) SetTOS(tos int) error {
	c.tos = tos
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func echoReply(id, seq int) *icmp.Message {
	return &icmp.Message{
		Type: ipv4.ICMPTypeEchoReply,
		Body: &icmp.Echo{ID: id, Seq: seq, Data: []byte(echoPayloadBytes)},
	}
}

func newTestProber(conn *fakeConn, listenErr error) *ICMPProber {
	return NewICMPProber(withListener(func(network, address string) (packetConn, error) {
		if listenErr != nil {
			return nil, listenErr
		}
		return conn, nil
	}))
}

func TestProbeSuccess(t *testing.T) {
	peer := &net.IPAddr{IP: net.ParseIP("10.0.0.1")}
	conn := newFakeConn(peer, func(req *icmp.Echo) []*icmp.Message {
		return []*icmp.Message{echoReply(req.ID, req.Seq)}
	})
	p := newTestProber(conn, nil)

	out := p.Probe(context.Background(), Request{Destination: "10.0.0.1", TrafficClass: 46, Timeout: time.Second})
	if out.Status != types.StatusSuccess {
		t.Fatalf("expected success got %s (%v)", out.Status, out.Err)
	}
	if out.Latency <= 0 || out.Latency > time.Second {
		t.Fatalf("unexpected latency %s", out.Latency)
	}
	if conn.tos != 0xb8 {
		t.Fatalf("expected EF marking 0xb8 to be applied, got %#x", conn.tos)
	}
	if !conn.closed {
		t.Fatalf("expected socket to be closed after probe")
	}
}

func TestProbeIgnoresUnrelatedReplies(t *testing.T) {
	peer := &net.IPAddr{IP: net.ParseIP("10.0.0.1")}
	conn := newFakeConn(peer, func(req *icmp.Echo) []*icmp.Message {
		return []*icmp.Message{
			echoReply(req.ID+1, req.Seq),
			echoReply(req.ID, req.Seq+1),
			{Type: ipv4.ICMPTypeEcho, Body: &icmp.Echo{ID: req.ID, Seq: req.Seq}},
		}
	})
	p := newTestProber(conn, nil)

	out := p.Probe(context.Background(), Request{Destination: "10.0.0.1", Timeout: 50 * time.Millisecond})
	if out.Status != types.StatusFailure {
		t.Fatalf("expected failure for unmatched replies got %s", out.Status)
	}
}

func TestProbeRejectsReplyFromOtherPeer(t *testing.T) {
	peer := &net.IPAddr{IP: net.ParseIP("10.9.9.9")}
	conn := newFakeConn(peer, func(req *icmp.Echo) []*icmp.Message {
		return []*icmp.Message{echoReply(req.ID, req.Seq)}
	})
	p := newTestProber(conn, nil)

	out := p.Probe(context.Background(), Request{Destination: "10.0.0.1", Timeout: 50 * time.Millisecond})
	if out.Status != types.StatusFailure {
		t.Fatalf("expected failure got %s", out.Status)
	}
}

func TestProbeTimeoutIsFailure(t *testing.T) {
	conn := newFakeConn(&net.IPAddr{IP: net.ParseIP("10.0.0.1")}, nil)
	p := newTestProber(conn, nil)

	start := time.Now()
	out := p.Probe(context.Background(), Request{Destination: "10.0.0.1", Timeout: 40 * time.Millisecond})
	if out.Status != types.StatusFailure {
		t.Fatalf("expected failure got %s", out.Status)
	}
	if out.Err != nil {
		t.Fatalf("failure must not carry an error: %v", out.Err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("probe returned before timeout: %s", elapsed)
	}
}

func TestProbePermissionDeniedIsError(t *testing.T) {
	p := newTestProber(nil, &net.OpError{Op: "listen", Net: "ip4:icmp", Err: os.NewSyscallError("socket", syscall.EPERM)})

	out := p.Probe(context.Background(), Request{Destination: "10.0.0.1", Timeout: time.Second})
	if out.Status != types.StatusError {
		t.Fatalf("expected error status got %s", out.Status)
	}
	if !errors.Is(out.Err, syscall.EPERM) {
		t.Fatalf("expected EPERM cause got %v", out.Err)
	}
}

func TestProbeSendErrorIsError(t *testing.T) {
	conn := newFakeConn(&net.IPAddr{IP: net.ParseIP("10.0.0.1")}, nil)
	conn.writeErr = errors.New("network is unreachable")
	p := newTestProber(conn, nil)

	out := p.Probe(context.Background(), Request{Destination: "10.0.0.1", Timeout: time.Second})
	if out.Status != types.StatusError {
		t.Fatalf("expected error status got %s", out.Status)
	}
}

func TestProbeResolveErrorIsError(t *testing.T) {
	p := NewICMPProber(WithResolver(func(ctx context.Context, host string) (net.IP, error) {
		return nil, errors.New("no such host")
	}))

	out := p.Probe(context.Background(), Request{Destination: "nowhere.invalid"})
	if out.Status != types.StatusError || out.Err == nil {
		t.Fatalf("expected resolve error got %+v", out)
	}
}

func TestRoundMillis(t *testing.T) {
	cases := map[time.Duration]float64{
		12345678 * time.Nanosecond: 12.35,
		1 * time.Millisecond:       1,
		4999 * time.Microsecond:    5,
		0:                          0,
	}
	for in, want := range cases {
		if got := RoundMillis(in); got != want {
			t.Fatalf("RoundMillis(%s) = %v want %v", in, got, want)
		}
	}
}

func TestNetworkSelection(t *testing.T) {
	privileged := NewICMPProber()
	if network, _ := privileged.network(false); network != "ip4:icmp" {
		t.Fatalf("unexpected network %s", network)
	}
	if network, _ := privileged.network(true); network != "ip6:ipv6-icmp" {
		t.Fatalf("unexpected network %s", network)
	}

	unprivileged := NewICMPProber(WithUnprivileged())
	if network, _ := unprivileged.network(false); network != "udp4" {
		t.Fatalf("unexpected network %s", network)
	}
	if _, ok := unprivileged.destination(net.ParseIP("10.0.0.1")).(*net.UDPAddr); !ok {
		t.Fatalf("expected udp destination for unprivileged socket")
	}
}
