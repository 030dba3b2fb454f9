// Package softmac is the STM32F1 Ethernet MAC as a Go value. It implements
// eth.Device: a register file, a DMA engine walking the descriptor rings the
// driver hands it, an MDIO bus with a LAN8720 behind it, checksum insertion
// and the receive address filter. Transmitted frames go to an io.Writer and
// received frames come in through Inject, so the driver can run against a
// TAP device or a test capture.
package softmac

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"stmeth/eth"
	"stmeth/layers"
)

// minimum frame length without FCS; shorter frames are padded
const minFrameLen = 60

// DefaultOptions is used by New when nil is given.
var DefaultOptions = Options{
	PHYAddr:     0,
	MDIOLatency: 2,
}

type Options struct {
	PHYAddr uint8
	// MDIOLatency is the number of MACMIIAR reads that still see the busy
	// bit after a transaction starts.
	MDIOLatency int
	Logger      logrus.FieldLogger
}

// Stats are counters of the simulated MAC.
type Stats struct {
	TxFrames   uint64
	TxErrors   uint64
	RxFrames   uint64
	RxMissed   uint64
	RxFiltered uint64
}

// MAC is safe for concurrent use: the driver, the wire reader and the
// transmit loop may all run in different goroutines.
type MAC struct {
	mu   sync.Mutex
	opts Options
	log  logrus.FieldLogger

	regs map[uint32]uint32

	phy          phy
	mdioBusy     int
	unresponsive bool

	tx, rx       *eth.Ring
	txCur, rxCur int

	wire  io.Writer
	kick  chan struct{}
	irq   chan struct{}
	stats Stats
}

// New returns a MAC in its reset state whose transmitted frames are written
// to wire. The PHY starts with the link down.
func New(wire io.Writer, options *Options) *MAC {
	if options == nil {
		options = &DefaultOptions
	}
	m := &MAC{
		opts: *options,
		regs: make(map[uint32]uint32),
		wire: wire,
		kick: make(chan struct{}, 1),
		irq:  make(chan struct{}, 1),
	}
	m.log = m.opts.Logger
	if m.log == nil {
		m.log = logrus.StandardLogger()
	}
	m.log = m.log.WithField("component", "softmac")
	m.phy.addr = m.opts.PHYAddr
	m.phy.reset()
	m.regs[eth.MACCR] = 0x00008000
	m.resetDMA()
	return m
}

func (m *MAC) resetDMA() {
	m.regs[eth.DMABMR] = 0x00002100
	m.regs[eth.DMAOMR] = 0
	m.regs[eth.DMASR] = 0
	m.regs[eth.DMAIER] = 0
	m.txCur, m.rxCur = 0, 0
}

func (m *MAC) ReadReg(off uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := m.regs[off]
	if off == eth.MACMIIAR && v&eth.MACMIIAR_MB != 0 && !m.unresponsive {
		if m.mdioBusy > 0 {
			m.mdioBusy--
		}
		if m.mdioBusy == 0 {
			m.regs[off] &^= eth.MACMIIAR_MB
		}
	}
	return v
}

func (m *MAC) WriteReg(off, v uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch off {
	case eth.MACMIIAR:
		m.regs[off] = v
		if v&eth.MACMIIAR_MB != 0 && !m.unresponsive {
			m.mdio(v)
		}
	case eth.DMABMR:
		if v&eth.DMABMR_SR != 0 {
			m.resetDMA()
			return
		}
		m.regs[off] = v
	case eth.DMASR:
		// write one to clear
		m.regs[off] &^= v
	case eth.DMATPDR:
		// poll demand resumes a suspended engine
		m.regs[eth.DMASR] &^= eth.DMASR_TBUS
		m.kickTx()
	case eth.DMARPDR:
		m.regs[eth.DMASR] &^= eth.DMASR_RBUS
	default:
		m.regs[off] = v
	}
}

func (m *MAC) mdio(v uint32) {
	pa := uint8(v>>eth.MACMIIAR_PAShift) & 0x1f
	reg := uint16(v>>eth.MACMIIAR_MRShift) & 0x1f
	write := v&eth.MACMIIAR_MW != 0

	switch {
	case pa != m.phy.addr:
		if !write {
			m.regs[eth.MACMIIDR] = 0xffff
		}
	case write:
		m.phy.write(reg, uint16(m.regs[eth.MACMIIDR]))
	default:
		m.regs[eth.MACMIIDR] = uint32(m.phy.read(reg))
	}

	m.mdioBusy = m.opts.MDIOLatency
	if m.mdioBusy <= 0 {
		m.regs[eth.MACMIIAR] &^= eth.MACMIIAR_MB
	}
}

// SetUnresponsive makes MDIO transactions never complete, as with a missing
// or hung PHY.
func (m *MAC) SetUnresponsive(b bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unresponsive = b
}

// SetDescriptorLists latches the descriptor list base addresses and resets
// the DMA's own cursors to the start of each list.
func (m *MAC) SetDescriptorLists(tx, rx *eth.Ring) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tx, m.rx = tx, rx
	m.txCur, m.rxCur = 0, 0
}

// SetLink changes the cable state seen by the PHY. Coming up completes
// autonegotiation with the given speed and duplex. A transition that raises
// an unmasked PHY interrupt is signalled on IRQ.
func (m *MAC) SetLink(up, speed100, fullDuplex bool) {
	m.mu.Lock()
	assert := m.phy.setLink(up, speed100, fullDuplex)
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"up":       up,
		"speed100": speed100,
		"fd":       fullDuplex,
	}).Debug("link change")

	if assert {
		select {
		case m.irq <- struct{}{}:
		default:
		}
	}
	if up {
		m.kickTx()
	}
}

// IRQ delivers PHY interrupt line assertions.
func (m *MAC) IRQ() <-chan struct{} {
	return m.irq
}

// HardwareAddr returns the address programmed into MACA0HR/MACA0LR.
func (m *MAC) HardwareAddr() net.HardwareAddr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hardwareAddr()
}

func (m *MAC) hardwareAddr() net.HardwareAddr {
	mac := make(net.HardwareAddr, 6)
	binary.LittleEndian.PutUint32(mac[0:4], m.regs[eth.MACA0LR])
	hr := m.regs[eth.MACA0HR]
	mac[4], mac[5] = byte(hr), byte(hr>>8)
	return mac
}

func (m *MAC) kickTx() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Run processes the transmit ring every time the driver writes the
// transmit poll demand register, until ctx is done.
func (m *MAC) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.kick:
			m.ProcessTx()
		}
	}
}

// Listen injects every frame read from r until r fails or ctx is done.
func (m *MAC) Listen(ctx context.Context, r io.Reader, mtu int) error {
	buf := make([]byte, mtu+layers.LengthEthernet)
	for {
		n, err := r.Read(buf)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return errors.Wrap(err, "softmac: wire read")
		}
		m.Inject(buf[:n])
	}
}

func (m *MAC) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
