package softmac

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"stmeth/eth"
	"stmeth/layers"
	"stmeth/utils/checksum"
)

// ProcessTx walks the transmit ring from the DMA cursor, sending every
// descriptor DMA owns and handing it back. Reaching a CPU owned descriptor
// suspends transmission (DMASR TBUS). With the link down nothing is sent
// and descriptors stay with DMA. It returns the number of frames sent.
func (m *MAC) ProcessTx() int {
	return m.processTx(-1)
}

// StepTx sends at most one frame, the oldest one DMA owns.
func (m *MAC) StepTx() bool {
	return m.processTx(1) == 1
}

func (m *MAC) processTx(limit int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tx == nil || m.regs[eth.MACCR]&eth.MACCR_TE == 0 || m.regs[eth.DMAOMR]&eth.DMAOMR_ST == 0 {
		return 0
	}

	n := 0
	for n != limit {
		d := &m.tx.Descs[m.txCur]
		st := d.Status()
		if st&eth.TxDesc_OWN == 0 {
			m.regs[eth.DMASR] |= eth.DMASR_TBUS
			break
		}
		if !m.phy.link {
			break
		}
		m.regs[eth.DMASR] &^= eth.DMASR_TBUS

		if frame := m.gather(d); frame == nil {
			st |= eth.TxDesc_ES
			m.stats.TxErrors++
		} else {
			if cic := st & eth.TxDesc_CIC; cic != 0 {
				insertChecksums(frame, cic)
			}
			if _, err := m.wire.Write(pad(frame)); err != nil {
				m.log.WithError(err).Warn("wire write")
				st |= eth.TxDesc_ES
				m.stats.TxErrors++
			} else {
				m.stats.TxFrames++
			}
		}

		d.SetStatus(st &^ eth.TxDesc_OWN)
		if st&eth.TxDesc_TER != 0 {
			m.txCur = 0
		} else {
			m.txCur = m.tx.Next(m.txCur)
		}
		m.regs[eth.DMASR] |= eth.DMASR_TS
		n++
	}
	return n
}

// gather copies buffer 1 and buffer 2 of a TX descriptor into one frame.
func (m *MAC) gather(d *eth.Desc) []byte {
	hlen := int(d.Ctrl & eth.TxDesc_TBS1)
	plen := int(d.Ctrl&eth.TxDesc_TBS2) >> 16
	b1 := m.tx.Buffer(d.Buf1, hlen)
	b2 := m.tx.Buffer(d.Buf2, plen)
	if b1 == nil || b2 == nil || hlen+plen == 0 {
		return nil
	}
	frame := make([]byte, 0, hlen+plen)
	frame = append(frame, b1...)
	return append(frame, b2...)
}

func pad(frame []byte) []byte {
	if len(frame) >= minFrameLen {
		return frame
	}
	return append(frame, make([]byte, minFrameLen-len(frame))...)
}

// Inject delivers a frame from the wire, without FCS, to the receive DMA.
// The MAC pads it, appends the FCS and stores it across as many receive
// descriptors as it needs. It reports whether the frame was stored; frames
// are dropped when reception is off, the link is down, the address filter
// rejects them or DMA owns too few descriptors.
func (m *MAC) Inject(frame []byte) bool {
	return m.inject(frame, 0)
}

// InjectBadFCS delivers a frame whose FCS check fails. It is stored with
// the error summary and CRC error bits set.
func (m *MAC) InjectBadFCS(frame []byte) bool {
	return m.inject(frame, eth.RxDesc_ES|eth.RxDesc_CE)
}

func (m *MAC) inject(frame []byte, errBits uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rx == nil || m.regs[eth.MACCR]&eth.MACCR_RE == 0 || m.regs[eth.DMAOMR]&eth.DMAOMR_SR == 0 {
		return false
	}
	if !m.phy.link || len(frame) < layers.LengthEthernet {
		return false
	}
	if !m.accept(layers.Ethernet(frame)) {
		m.stats.RxFiltered++
		return false
	}

	data := pad(append([]byte(nil), frame...))
	fcs := crc32.ChecksumIEEE(data)
	if errBits != 0 {
		fcs = ^fcs
	}
	data = append(data, 0, 0, 0, 0)
	binary.LittleEndian.PutUint32(data[len(data)-4:], fcs)

	if !m.store(data, errBits) {
		m.regs[eth.DMASR] |= eth.DMASR_RBUS
		m.stats.RxMissed++
		m.log.WithField("len", len(frame)).Debug("rx missed, no descriptor")
		return false
	}
	m.regs[eth.DMASR] |= eth.DMASR_RS
	m.stats.RxFrames++
	return true
}

func (m *MAC) accept(frame layers.Ethernet) bool {
	if m.regs[eth.MACFFR]&eth.MACFFR_PM != 0 {
		return true
	}
	dst := frame.GetDstAddress()
	if bytes.Equal(dst, layers.BroadcastAddress) {
		return true
	}
	return bytes.Equal(dst, m.hardwareAddr())
}

func (m *MAC) rxNext(i int) int {
	if m.rx.Descs[i].Ctrl&eth.RxDesc_RER != 0 {
		return 0
	}
	return m.rx.Next(i)
}

func rxBufSize(d *eth.Desc) int {
	return int(d.Ctrl&eth.RxDesc_RBS2) >> eth.RxDesc_RBS2Shift
}

// store writes data into consecutive DMA owned descriptors starting at the
// receive cursor. Nothing is written unless the whole frame fits.
func (m *MAC) store(data []byte, errBits uint32) bool {
	need := 0
	for i, left := m.rxCur, len(data); left > 0; i = m.rxNext(i) {
		d := &m.rx.Descs[i]
		size := rxBufSize(d)
		if d.Owner() != eth.OwnerHardware || size <= 0 || m.rx.Buffer(d.Buf2, size) == nil {
			return false
		}
		left -= size
		need++
		if need > m.rx.Len() {
			return false
		}
	}

	off := 0
	for k := 0; k < need; k++ {
		d := &m.rx.Descs[m.rxCur]
		n := rxBufSize(d)
		if n > len(data)-off {
			n = len(data) - off
		}
		copy(m.rx.Buffer(d.Buf2, n), data[off:off+n])
		off += n

		var st uint32
		if k == 0 {
			st |= eth.RxDesc_FS
		}
		if k == need-1 {
			st |= eth.RxDesc_LS | uint32(len(data))<<eth.RxDesc_FLShift | errBits
		}
		d.SetStatus(st)
		m.rxCur = m.rxNext(m.rxCur)
	}
	return true
}

// insertChecksums fills the IPv4 header checksum and, unless cic asks for
// the header only, the ICMP, UDP or TCP checksum. Fragments and malformed
// packets are left alone.
func insertChecksums(frame []byte, cic uint32) {
	if len(frame) < layers.LengthEthernet+layers.LengthIPv4Min {
		return
	}
	if layers.Ethernet(frame).GetEthernetType() != layers.EthernetTypeIPv4 {
		return
	}
	ip := layers.IPv4(frame[layers.LengthEthernet:])
	ihl := int(ip.GetIHL())
	if ip.GetVersion() != 4 || ihl < layers.LengthIPv4Min || ihl > len(ip) {
		return
	}
	ip.SetChecksum(0)
	ip.SetChecksum(checksum.TCPIPChecksum(ip[:ihl], 0))
	if cic == eth.TxDesc_CIC_IPV4Header {
		return
	}

	total := int(ip.GetTotalLen())
	if total < ihl || total > len(ip) || ip.IsFlagMoreFrag() || ip.GetFragOff() != 0 {
		return
	}
	payload := ip[ihl:total]

	var base uint32
	if cic == eth.TxDesc_CIC_Full {
		base = checksum.PseudoHeaderSum(ip.GetSrcAddr(), ip.GetDstAddr(), ip.GetProtocol(), uint16(len(payload)))
	}

	switch ip.GetProtocol() {
	case layers.IPProtocolICMPv4:
		if len(payload) < layers.LengthICMPv4 {
			return
		}
		icmp := layers.ICMPv4(payload)
		icmp.SetChecksum(0)
		icmp.SetChecksum(checksum.TCPIPChecksum(payload, 0))
	case layers.IPProtocolUDP:
		if len(payload) < layers.LengthUDP {
			return
		}
		udp := layers.UDP(payload)
		udp.SetChecksum(0)
		c := checksum.TCPIPChecksum(payload, base)
		if c == 0 {
			c = 0xffff
		}
		udp.SetChecksum(c)
	case layers.IPProtocolTCP:
		if len(payload) < layers.LengthTCPMin {
			return
		}
		tcp := layers.TCP(payload)
		tcp.SetChecksum(0)
		tcp.SetChecksum(checksum.TCPIPChecksum(payload, base))
	}
}
