package arp

import (
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"stmeth/pkg/timer"
)

// ErrPendingFull is returned by Request when the pending queue is full.
var ErrPendingFull = errors.New("arp: pending request queue full")

// DefaultConfig is the table and resolver configuration of a node.
var DefaultConfig = Config{
	TableSize:     16,
	MaxAge:        300,
	PendingSize:   8,
	RetryInterval: 50 * time.Millisecond,
}

type Config struct {
	TableSize int
	// MaxAge in seconds.
	MaxAge      int
	PendingSize int
	// RetryInterval paces the requests sent for pending addresses.
	RetryInterval time.Duration
	PrivateOnly   bool
}

// SendFunc transmits a broadcast ARP request for ip.
type SendFunc func(ip net.IP) error

// Resolver decouples needing an address from having it: Request queues an
// address and Poll, driven by the caller's loop, sends one request at a
// time at most once per retry interval. Nobody ever waits for a reply.
type Resolver struct {
	table    *Table
	send     SendFunc
	retry    *timer.Countdown
	interval int64
	log      logrus.FieldLogger

	pending [][4]byte
	head    int
	n       int
}

func NewResolver(table *Table, clock *timer.Clock, cfg Config, send SendFunc, log logrus.FieldLogger) *Resolver {
	if cfg.PendingSize < 1 {
		cfg.PendingSize = DefaultConfig.PendingSize
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := &Resolver{
		table:    table,
		send:     send,
		retry:    clock.NewCountdown(),
		interval: cfg.RetryInterval.Milliseconds(),
		log:      log.WithField("component", "arp"),
		pending:  make([][4]byte, cfg.PendingSize),
	}
	r.retry.Set(r.interval)
	return r
}

// Request queues ip for resolution. The queue is bounded and does not
// merge duplicates.
func (r *Resolver) Request(ip net.IP) error {
	ip4 := ip.To4()
	if ip4 == nil {
		return errors.Errorf("arp: not an IPv4 address: %v", ip)
	}
	if r.n == len(r.pending) {
		return ErrPendingFull
	}
	copy(r.pending[(r.head+r.n)%len(r.pending)][:], ip4)
	r.n++
	return nil
}

func (r *Resolver) Pending() int {
	return r.n
}

func (r *Resolver) dequeue() (net.IP, bool) {
	if r.n == 0 {
		return nil, false
	}
	ip := r.pending[r.head]
	r.head = (r.head + 1) % len(r.pending)
	r.n--
	return net.IPv4(ip[0], ip[1], ip[2], ip[3]).To4(), true
}

// Poll runs once per loop iteration. When the retry interval has elapsed it
// takes the oldest pending address and, unless it has been resolved
// meanwhile, sends a request for it and restarts the interval. It reports
// whether a request was sent.
func (r *Resolver) Poll() (bool, error) {
	if !r.retry.Elapsed() {
		return false, nil
	}
	ip, ok := r.dequeue()
	if !ok {
		return false, nil
	}
	if _, found := r.table.Find(ip); found {
		return false, nil
	}

	err := r.send(ip)
	r.retry.Set(r.interval)
	if err != nil {
		return false, errors.Wrapf(err, "arp request for %v", ip)
	}
	r.log.WithField("ip", ip.String()).Debug("sent request")
	return true, nil
}
