package softmac

import "stmeth/eth"

// LAN8720A identifiers
const (
	phyID1 uint16 = 0x0007
	phyID2 uint16 = 0xc0f1

	// 100BASE-TX FD/HD, 10BASE-T FD/HD, autonegotiation ability
	bsrAbilities uint16 = 0x7809
)

// phy models the registers of a LAN8720 the driver uses.
type phy struct {
	addr uint8

	bcr uint16
	imr uint16
	isr uint16

	link       bool
	speed100   bool
	fullDuplex bool
}

func (p *phy) reset() {
	p.bcr = eth.PHY_BCR_100M | eth.PHY_BCR_AUTONEGO | eth.PHY_BCR_FULL_DUPLEX
	p.imr = 0
	p.isr = 0
}

func (p *phy) autoNegComplete() bool {
	return p.bcr&eth.PHY_BCR_AUTONEGO != 0 && p.link
}

func (p *phy) read(reg uint16) uint16 {
	switch reg {
	case eth.PHY_BCR:
		return p.bcr
	case eth.PHY_BSR:
		v := bsrAbilities
		if p.link {
			v |= eth.PHY_BSR_LINK_UP
		}
		if p.autoNegComplete() {
			v |= eth.PHY_BSR_AUTONEGO_COMPLETE
		}
		return v
	case eth.PHY_ID1:
		return phyID1
	case eth.PHY_ID2:
		return phyID2
	case eth.PHY_ISR:
		v := p.isr
		p.isr = 0
		return v
	case eth.PHY_IMR:
		return p.imr
	case eth.PHY_SR:
		if !p.autoNegComplete() {
			return 0
		}
		v := eth.PHY_SR_10M
		if p.speed100 {
			v = eth.PHY_SR_100M
		}
		if p.fullDuplex {
			v |= eth.PHY_SR_FD
		}
		return v
	}
	return 0
}

func (p *phy) write(reg, v uint16) {
	switch reg {
	case eth.PHY_BCR:
		if v&eth.PHY_BCR_RESET != 0 {
			p.reset()
			return
		}
		p.bcr = v
	case eth.PHY_IMR:
		p.imr = v
	}
}

// setLink updates the line state and latches the matching interrupt source.
// It reports whether the interrupt line asserts.
func (p *phy) setLink(up, speed100, fullDuplex bool) bool {
	was := p.link
	p.link, p.speed100, p.fullDuplex = up, speed100, fullDuplex

	switch {
	case up && p.bcr&eth.PHY_BCR_AUTONEGO != 0:
		p.isr |= eth.PHY_INT_AUTONEGO_COMPLETE
	case !up && was:
		p.isr |= eth.PHY_INT_LINK_DOWN
	}
	return p.isr&p.imr != 0
}
