// Package stack is the dispatch loop of a node: it pulls frames from the
// NIC, answers ARP and ICMP echo, delivers UDP to port handlers and rejects
// everything else with ICMP unreachable. Sends never wait for ARP: an
// unresolved destination queues a request and drops the packet.
package stack

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"stmeth/arp"
	"stmeth/eth"
	"stmeth/pkg/timer"
)

var (
	// ErrNoARP is returned by sends whose next hop is not in the ARP table.
	// A request has been queued and the packet dropped.
	ErrNoARP = errors.New("stack: no ARP entry")
	// ErrNoGateway is returned by sends off the local subnet when no
	// gateway is configured.
	ErrNoGateway = errors.New("stack: no gateway")
	// ErrNotIPv4 is returned for destinations that are not IPv4 addresses.
	ErrNotIPv4 = errors.New("stack: not an IPv4 address")
)

// Ephemeral source ports used when SendUDP is given port 0.
const (
	EphemeralPortBegin = 49152
	EphemeralPortEnd   = 65535
)

const agingInterval = 1000 // ms

// NIC is the frame engine the stack runs on, eth.Driver in a node.
type NIC interface {
	Transmit(header, payload []byte) error
	Receive() ([]byte, error)
	Release()
}

// Datagram is a received UDP datagram. Its addresses and payload alias the
// receive buffer and are only valid during the handler call.
type Datagram struct {
	Src     net.IP
	Dst     net.IP
	SrcPort uint16
	DstPort uint16
	Payload []byte
}

// UDPHandler consumes datagrams for one local port. It runs inside Poll and
// must not call back into the Stack; a non-nil reply is sent to the source
// address and port of d instead.
type UDPHandler func(d Datagram) (reply []byte)

type Config struct {
	IP      net.IP
	Netmask net.IP
	Gateway net.IP
	MAC     net.HardwareAddr

	ARP     arp.Config
	LogMask LogMask
	Logger  logrus.FieldLogger
}

// Stats are counters of a Stack. LastReceive is the uptime in seconds of
// the last frame received.
type Stats struct {
	Received    uint64
	FrameErrors uint64
	ARP         uint64
	ICMP        uint64
	UDP         uint64
	TCP         uint64
	Unknown     uint64
	Sent        uint64
	SendErrors  uint64
	Unreachable uint64
	LastReceive int64
}

// Stack is safe for concurrent use; the receive path and every send
// serialize on one lock so the NIC sees a single caller.
type Stack struct {
	mu sync.Mutex

	nic   NIC
	clock *timer.Clock
	log   logrus.FieldLogger
	mask  uint32

	ip      net.IP
	netmask net.IPMask
	gateway net.IP
	mac     net.HardwareAddr

	table    *arp.Table
	resolver *arp.Resolver
	aging    *timer.Countdown

	handlers map[uint16]UDPHandler
	ephPort  uint16
	pingSeq  uint16

	stats Stats
}

func New(nic NIC, clock *timer.Clock, cfg Config) (*Stack, error) {
	ip := cfg.IP.To4()
	if ip == nil {
		return nil, errors.Wrapf(ErrNotIPv4, "address %v", cfg.IP)
	}
	mask := cfg.Netmask.To4()
	if mask == nil {
		return nil, errors.Wrapf(ErrNotIPv4, "netmask %v", cfg.Netmask)
	}
	if len(cfg.MAC) != 6 {
		return nil, errors.Errorf("stack: invalid hardware address %v", cfg.MAC)
	}
	if cfg.ARP.TableSize == 0 {
		cfg.ARP = arp.DefaultConfig
	}

	s := &Stack{
		nic:      nic,
		clock:    clock,
		ip:       ip,
		netmask:  net.IPMask(mask),
		gateway:  cfg.Gateway.To4(),
		mac:      append(net.HardwareAddr(nil), cfg.MAC...),
		handlers: make(map[uint16]UDPHandler),
		aging:    clock.NewCountdown(),
		mask:     uint32(cfg.LogMask),
	}
	s.log = cfg.Logger
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	s.log = s.log.WithField("component", "stack")

	s.table = arp.NewTable(cfg.ARP.TableSize, cfg.ARP.MaxAge)
	s.table.SetPrivateOnly(cfg.ARP.PrivateOnly)
	s.resolver = arp.NewResolver(s.table, clock, cfg.ARP, s.sendARPRequest, s.log)
	s.aging.Set(agingInterval)
	return s, nil
}

func (s *Stack) SetLogMask(m LogMask) {
	atomic.StoreUint32(&s.mask, uint32(m))
}

func (s *Stack) LogMask() LogMask {
	return LogMask(atomic.LoadUint32(&s.mask))
}

func (s *Stack) enabled(m LogMask) bool {
	return s.LogMask()&m != 0
}

// HandleUDP registers h for datagrams to port. A nil h removes the handler.
func (s *Stack) HandleUDP(port uint16, h UDPHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h == nil {
		delete(s.handlers, port)
		return
	}
	s.handlers[port] = h
}

// Poll runs one iteration of the loop: at most one received frame is
// dispatched and released, the ARP resolver gets a chance to send and the
// ARP table is aged once a second. It reports whether it did any work.
func (s *Stack) Poll() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	worked := false
	frame, err := s.nic.Receive()
	switch errors.Cause(err) {
	case nil:
		worked = true
		s.stats.Received++
		s.stats.LastReceive = s.clock.Uptime()
		s.dispatch(frame)
		s.nic.Release()
	case eth.ErrNoFrame:
	case eth.ErrFrameError:
		s.stats.FrameErrors++
		if s.enabled(LogError) {
			s.log.Warn("rx frame error")
		}
	default:
		if s.enabled(LogError) {
			s.log.WithError(err).Warn("receive")
		}
	}

	sent, err := s.resolver.Poll()
	if err != nil && s.enabled(LogError) {
		s.log.WithError(err).Warn("arp request")
	}
	if sent {
		worked = true
	}

	if s.aging.Elapsed() {
		s.table.Age(1)
		s.aging.Set(agingInterval)
	}
	return worked
}

// Run polls until ctx is done, sleeping idle between polls that found
// nothing to do.
func (s *Stack) Run(ctx context.Context, idle time.Duration) error {
	t := time.NewTicker(idle)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if s.Poll() {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// RequestARP queues a resolution of ip.
func (s *Stack) RequestARP(ip net.IP) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolver.Request(ip)
}

func (s *Stack) ARPEntries() []arp.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Entries()
}

// ARPLimits returns the table capacity and the age in seconds at which
// entries are evicted.
func (s *Stack) ARPLimits() (size, maxAge int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Cap(), s.table.MaxAge()
}

func (s *Stack) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Addr returns the configured address, netmask and gateway.
func (s *Stack) Addr() (ip net.IP, netmask net.IPMask, gateway net.IP) {
	return s.ip, s.netmask, s.gateway
}

func (s *Stack) HardwareAddr() net.HardwareAddr {
	return s.mac
}
