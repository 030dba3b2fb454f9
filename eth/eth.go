// Package eth drives the STM32F1 Ethernet MAC through its DMA descriptor
// rings. Transmit copies a two part frame into the next TX descriptor and
// hands it to DMA; Receive exposes the current RX buffer in place until
// Release gives it back.
package eth

import (
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrQueueFull is returned by Transmit when the next TX descriptor is
	// still owned by DMA.
	ErrQueueFull = errors.New("eth: tx queue full")
	// ErrNoFrame is returned by Receive when the current RX descriptor is
	// still owned by DMA.
	ErrNoFrame = errors.New("eth: no frame")
	// ErrFrameError is returned by Receive for errored or partial frames;
	// the descriptor has already been released.
	ErrFrameError = errors.New("eth: frame error")
	// ErrTimeout is returned when the MAC or PHY does not confirm an
	// operation within the configured retries.
	ErrTimeout = errors.New("eth: timeout")
	// ErrFrameTooLarge is returned by Transmit when header and payload do
	// not fit one TX buffer.
	ErrFrameTooLarge = errors.New("eth: frame too large")
	// ErrNotInitialized is returned before a successful Init.
	ErrNotInitialized = errors.New("eth: not initialized")
)

// Device is the register window of the MAC. Register accesses are 32 bit
// and atomic. SetDescriptorLists stands for writing DMATDLAR and DMARDLAR:
// it tells the DMA engine where the descriptor lists live.
type Device interface {
	ReadReg(off uint32) uint32
	WriteReg(off, v uint32)
	SetDescriptorLists(tx, rx *Ring)
}

// DefaultOptions is the Options used by New when nil is given.
var DefaultOptions = Options{
	NumTxDesc:        4,
	NumRxDesc:        4,
	TxBufSize:        1524,
	RxBufSize:        1524,
	PHYAddr:          0,
	MDIORetries:      10000,
	AutoNegRetries:   50,
	AutoNegPollDelay: 100 * time.Millisecond,
	PHYResetDelay:    600 * time.Millisecond,
}

// Options are the ring sizes and hardware wait bounds of a Driver.
type Options struct {
	NumTxDesc int
	NumRxDesc int
	// TxBufSize bounds header plus payload of one frame. RxBufSize must be a
	// multiple of 4.
	TxBufSize int
	RxBufSize int

	PHYAddr uint8

	// MDIORetries bounds every busy bit poll, MDIO and DMA reset alike.
	MDIORetries int
	// AutoNegRetries bounds the wait for autonegotiation during Init.
	AutoNegRetries   int
	AutoNegPollDelay time.Duration
	PHYResetDelay    time.Duration

	// Delay is the millisecond delay primitive; time.Sleep when nil.
	Delay  func(time.Duration)
	Logger logrus.FieldLogger
}

// Stats are counters of a Driver.
type Stats struct {
	Transmitted   uint64
	QueueFull     uint64
	Received      uint64
	FrameErrors   uint64
	PHYInterrupts uint64
}

func (s *Stats) incPHYInterrupts() {
	atomic.AddUint64(&s.PHYInterrupts, 1)
}

// Driver owns the descriptor rings and their buffers for the lifetime of
// the process. Transmit, Receive and Release belong to one polling context;
// the PHY methods may be called concurrently from an interrupt context and
// serialize on the MDIO bus.
type Driver struct {
	dev  Device
	opts Options
	log  logrus.FieldLogger

	// mu guards the MDIO bus and MACCR read-modify-write
	mu sync.Mutex

	tx *Ring
	rx *Ring

	mac         net.HardwareAddr
	initialized bool
	stats       Stats
}

// New returns a Driver for dev. Nothing touches the hardware until Init.
func New(dev Device, options *Options) *Driver {
	if options == nil {
		options = &DefaultOptions
	}
	d := &Driver{dev: dev, opts: *options}
	if d.opts.Delay == nil {
		d.opts.Delay = time.Sleep
	}
	if d.opts.MDIORetries <= 0 {
		d.opts.MDIORetries = DefaultOptions.MDIORetries
	}
	d.log = d.opts.Logger
	if d.log == nil {
		d.log = logrus.StandardLogger()
	}
	d.log = d.log.WithField("component", "eth")
	return d
}

// Init resets the DMA engine and the PHY, enables autonegotiation, programs
// the MAC for the negotiated speed and duplex, sets up both descriptor rings
// and starts transmission and reception.
//
// Every hardware wait is bounded. A DMA reset or MDIO transaction that does
// not complete returns ErrTimeout. Autonegotiation that does not complete is
// not an error: Init logs it and continues with the link down, and the next
// PHY interrupt applies speed and duplex.
func (d *Driver) Init(mac net.HardwareAddr) error {
	if len(mac) != 6 {
		return errors.Errorf("eth: invalid hardware address %v", mac)
	}
	if d.opts.NumTxDesc < 1 || d.opts.NumRxDesc < 1 {
		return errors.New("eth: rings need at least one descriptor")
	}
	if d.opts.RxBufSize%4 != 0 || d.opts.RxBufSize > int(RxDesc_RBS2>>RxDesc_RBS2Shift) {
		return errors.Errorf("eth: invalid rx buffer size %d", d.opts.RxBufSize)
	}
	if d.opts.TxBufSize > int(TxDesc_TBS1) {
		return errors.Errorf("eth: invalid tx buffer size %d", d.opts.TxBufSize)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.dev.WriteReg(DMABMR, d.dev.ReadReg(DMABMR)|DMABMR_SR)
	if !d.pollClear(DMABMR, DMABMR_SR) {
		return errors.Wrap(ErrTimeout, "dma software reset")
	}

	if err := d.phyWrite(PHY_BCR, PHY_BCR_RESET); err != nil {
		return errors.Wrap(err, "phy reset")
	}
	d.opts.Delay(d.opts.PHYResetDelay)

	if err := d.phyWrite(PHY_BCR, PHY_BCR_AUTONEGO); err != nil {
		return errors.Wrap(err, "phy autonegotiation")
	}
	negotiated, err := d.waitAutoNeg()
	if err != nil {
		return errors.Wrap(err, "phy autonegotiation")
	}

	ls := LinkStatus{}
	if negotiated {
		if ls, err = d.linkStatus(); err != nil {
			return errors.Wrap(err, "phy link status")
		}
	} else {
		d.log.WithField("retries", d.opts.AutoNegRetries).Warn("autonegotiation not complete, continuing with link down")
	}
	d.applyLink(ls)

	rv := d.dev.ReadReg(DMAOMR) & dmaomrKeep
	d.dev.WriteReg(DMAOMR, rv|DMAOMR_RSF|DMAOMR_TSF)

	rv = d.dev.ReadReg(DMABMR) & dmabmrKeep
	d.dev.WriteReg(DMABMR, rv|DMABMR_AAB|DMABMR_PBL16)

	d.setHardwareAddr(mac)

	d.tx = newRing(d.opts.NumTxDesc, d.opts.TxBufSize)
	d.rx = newRing(d.opts.NumRxDesc, d.opts.RxBufSize)
	for i := range d.rx.Descs {
		desc := &d.rx.Descs[i]
		desc.Buf2 = uint32(i * d.opts.RxBufSize)
		desc.Ctrl = uint32(d.opts.RxBufSize) << RxDesc_RBS2Shift
		if i == d.rx.Len()-1 {
			desc.Ctrl |= RxDesc_RER
		}
		desc.SetStatus(RxDesc_OWN)
	}
	d.dev.WriteReg(DMATDLAR, 0)
	d.dev.WriteReg(DMARDLAR, 0)
	d.dev.SetDescriptorLists(d.tx, d.rx)

	d.dev.WriteReg(MACCR, d.dev.ReadReg(MACCR)|MACCR_TE|MACCR_RE)
	d.dev.WriteReg(DMAOMR, d.dev.ReadReg(DMAOMR)|DMAOMR_ST|DMAOMR_SR)

	if err := d.phyWrite(PHY_IMR, PHY_INT_AUTONEGO_COMPLETE|PHY_INT_LINK_DOWN); err != nil {
		return errors.Wrap(err, "phy interrupt mask")
	}

	d.initialized = true
	d.log.WithFields(logrus.Fields{
		"mac":  d.mac.String(),
		"link": ls.String(),
		"tx":   d.tx.Len(),
		"rx":   d.rx.Len(),
	}).Info("eth up")
	return nil
}

func (d *Driver) pollClear(reg, mask uint32) bool {
	for i := 0; i < d.opts.MDIORetries; i++ {
		if d.dev.ReadReg(reg)&mask == 0 {
			return true
		}
	}
	return false
}

func (d *Driver) waitAutoNeg() (bool, error) {
	for i := 0; i < d.opts.AutoNegRetries; i++ {
		bsr, err := d.phyRead(PHY_BSR)
		if err != nil {
			return false, err
		}
		if bsr&PHY_BSR_AUTONEGO_COMPLETE != 0 {
			return true, nil
		}
		d.opts.Delay(d.opts.AutoNegPollDelay)
	}
	return false, nil
}

// SetHardwareAddr programs the MAC address filter.
func (d *Driver) SetHardwareAddr(mac net.HardwareAddr) error {
	if len(mac) != 6 {
		return errors.Errorf("eth: invalid hardware address %v", mac)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setHardwareAddr(mac)
	return nil
}

func (d *Driver) setHardwareAddr(mac net.HardwareAddr) {
	d.mac = append(net.HardwareAddr(nil), mac...)
	d.dev.WriteReg(MACA0HR, uint32(mac[5])<<8|uint32(mac[4]))
	d.dev.WriteReg(MACA0LR, binary.LittleEndian.Uint32(mac[0:4]))
}

func (d *Driver) HardwareAddr() net.HardwareAddr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mac
}

// Transmit copies header and payload into the next TX descriptor's buffer
// and hands the descriptor to DMA with full checksum insertion requested.
// It never waits: a descriptor still owned by DMA is ErrQueueFull and the
// caller decides when to retry.
func (d *Driver) Transmit(header, payload []byte) error {
	if !d.initialized {
		return ErrNotInitialized
	}
	hlen, plen := len(header), len(payload)
	if hlen+plen > d.tx.BufSize {
		return errors.Wrapf(ErrFrameTooLarge, "%d bytes, buffer is %d", hlen+plen, d.tx.BufSize)
	}

	cur := d.tx.Cur()
	desc := &d.tx.Descs[cur]
	if desc.Owner() == OwnerHardware {
		atomic.AddUint64(&d.stats.QueueFull, 1)
		return ErrQueueFull
	}

	slot := d.tx.Slot(cur)
	copy(slot, header)
	copy(slot[hlen:], payload)

	base := uint32(cur * d.tx.BufSize)
	desc.Buf1 = base
	desc.Buf2 = base + uint32(hlen)
	desc.Ctrl = uint32(plen)<<16 + uint32(hlen)

	var endOfRing uint32
	if d.tx.Next(cur) == 0 {
		endOfRing = TxDesc_TER
	}
	desc.SetStatus(TxDesc_OWN | TxDesc_LS | TxDesc_FS | TxDesc_CIC_Full | endOfRing)
	d.tx.advance()
	atomic.AddUint64(&d.stats.Transmitted, 1)

	d.dev.WriteReg(DMATPDR, 0)
	return nil
}

// TxDone reports whether the transmit engine is suspended for lack of
// descriptors, which means everything handed to it has been sent. It samples
// the DMA status register, not the descriptors.
func (d *Driver) TxDone() bool {
	return d.dev.ReadReg(DMASR)&DMASR_TBUS != 0
}

// Receive returns the frame in the current RX descriptor, without its CRC.
// The slice aliases the driver's buffer and stays valid until Release.
// Calling Receive again before Release returns the same frame.
//
// ErrNoFrame means DMA still owns the descriptor. ErrFrameError means the
// descriptor held an errored or partial frame; it has been released already
// and the caller must not call Release for it.
func (d *Driver) Receive() ([]byte, error) {
	if !d.initialized {
		return nil, ErrNotInitialized
	}
	desc := &d.rx.Descs[d.rx.Cur()]
	switch desc.RxState() {
	case RxEmpty:
		return nil, ErrNoFrame
	case RxError:
		d.frameError(desc)
		return nil, ErrFrameError
	}

	n := desc.FrameLength() - 4
	buf := d.rx.Buffer(desc.Buf2, n)
	if n < 0 || n > d.rx.BufSize || buf == nil {
		d.frameError(desc)
		return nil, ErrFrameError
	}
	atomic.AddUint64(&d.stats.Received, 1)
	return buf, nil
}

func (d *Driver) frameError(desc *Desc) {
	atomic.AddUint64(&d.stats.FrameErrors, 1)
	d.log.WithField("status", desc.Status()).Debug("rx frame error")
	d.Release()
}

// Release gives the current RX descriptor back to DMA and moves to the next
// one. It does nothing if DMA already owns the descriptor.
func (d *Driver) Release() {
	if !d.initialized {
		return
	}
	desc := &d.rx.Descs[d.rx.Cur()]
	if desc.Owner() == OwnerHardware {
		return
	}
	desc.SetStatus(RxDesc_OWN)
	d.rx.advance()
	d.dev.WriteReg(DMARPDR, 0)
}

// Rings exposes the descriptor rings for inspection. Nil before Init.
func (d *Driver) Rings() (tx, rx *Ring) {
	return d.tx, d.rx
}

func (d *Driver) Stats() Stats {
	return Stats{
		Transmitted:   atomic.LoadUint64(&d.stats.Transmitted),
		QueueFull:     atomic.LoadUint64(&d.stats.QueueFull),
		Received:      atomic.LoadUint64(&d.stats.Received),
		FrameErrors:   atomic.LoadUint64(&d.stats.FrameErrors),
		PHYInterrupts: atomic.LoadUint64(&d.stats.PHYInterrupts),
	}
}
