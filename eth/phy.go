package eth

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// LinkStatus is the autonegotiation result as reported by the PHY.
type LinkStatus struct {
	Up         bool
	Speed      uint16
	FullDuplex bool
}

func (ls LinkStatus) String() string {
	if !ls.Up {
		return "DOWN"
	}
	duplex := "HD"
	if ls.FullDuplex {
		duplex = "FD"
	}
	return fmt.Sprintf("%dM %s", ls.Speed, duplex)
}

// mdioWait polls MACMIIAR until the busy bit clears, at most
// Options.MDIORetries times.
func (d *Driver) mdioWait() error {
	for i := 0; i < d.opts.MDIORetries; i++ {
		if d.dev.ReadReg(MACMIIAR)&MACMIIAR_MB == 0 {
			return nil
		}
	}
	return ErrTimeout
}

func (d *Driver) mdioAddr(reg uint16) uint32 {
	return uint32(d.opts.PHYAddr)<<MACMIIAR_PAShift |
		uint32(reg&0x1f)<<MACMIIAR_MRShift |
		MACMIIAR_CR
}

func (d *Driver) phyRead(reg uint16) (uint16, error) {
	d.dev.WriteReg(MACMIIAR, d.mdioAddr(reg)|MACMIIAR_MB)
	if err := d.mdioWait(); err != nil {
		return 0, errors.Wrapf(err, "phy read reg %d", reg)
	}
	return uint16(d.dev.ReadReg(MACMIIDR)), nil
}

func (d *Driver) phyWrite(reg, v uint16) error {
	d.dev.WriteReg(MACMIIDR, uint32(v))
	d.dev.WriteReg(MACMIIAR, d.mdioAddr(reg)|MACMIIAR_MW|MACMIIAR_MB)
	if err := d.mdioWait(); err != nil {
		return errors.Wrapf(err, "phy write reg %d", reg)
	}
	return nil
}

// PHYReadReg reads a PHY register over MDIO.
func (d *Driver) PHYReadReg(reg uint16) (uint16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phyRead(reg)
}

// PHYWriteReg writes a PHY register over MDIO.
func (d *Driver) PHYWriteReg(reg, v uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phyWrite(reg, v)
}

// LinkUp reports the BSR link status bit. An MDIO failure reads as down.
func (d *Driver) LinkUp() bool {
	bsr, err := d.PHYReadReg(PHY_BSR)
	if err != nil {
		d.log.WithError(err).Debug("link state unknown")
		return false
	}
	return bsr&PHY_BSR_LINK_UP != 0
}

func (d *Driver) LinkStatus() (LinkStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.linkStatus()
}

func (d *Driver) linkStatus() (LinkStatus, error) {
	var ls LinkStatus
	bsr, err := d.phyRead(PHY_BSR)
	if err != nil {
		return ls, err
	}
	if bsr&PHY_BSR_LINK_UP == 0 {
		return ls, nil
	}
	ls.Up = true

	sr, err := d.phyRead(PHY_SR)
	if err != nil {
		return ls, err
	}
	ls.Speed = 10
	if sr&PHY_SR_100M != 0 {
		ls.Speed = 100
	}
	ls.FullDuplex = sr&PHY_SR_FD != 0
	return ls, nil
}

// applyLink programs MACCR speed and duplex from the PHY result and enables
// IPv4 checksum checking and pad/CRC stripping. Caller holds d.mu.
func (d *Driver) applyLink(ls LinkStatus) {
	var speed uint32
	if ls.Speed == 100 {
		speed |= MACCR_FES
	}
	if ls.FullDuplex {
		speed |= MACCR_DM
	}
	// TE and RE survive so a reprogram after Init keeps the MAC running
	rv := d.dev.ReadReg(MACCR) & (maccrKeep | MACCR_TE | MACCR_RE)
	d.dev.WriteReg(MACCR, rv|speed|MACCR_IPCO|MACCR_APCS)
}

// OnPHYInterrupt services the PHY interrupt line: it reads (and so clears)
// the PHY interrupt source register and, when the link is up, reprograms the
// MAC speed and duplex to the negotiated values. The raw interrupt bits are
// returned for logging.
func (d *Driver) OnPHYInterrupt() (uint16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	isr, err := d.phyRead(PHY_ISR)
	if err != nil {
		return 0, err
	}
	d.stats.incPHYInterrupts()

	ls, err := d.linkStatus()
	if err != nil {
		return isr, err
	}
	if ls.Up {
		d.applyLink(ls)
	}
	d.log.WithFields(logrus.Fields{
		"isr":  fmt.Sprintf("%#04x", isr),
		"link": ls.String(),
	}).Debug("phy interrupt")
	return isr, nil
}
