package layers

import (
	"encoding/binary"
	"net"
)

const (
	ARPRequest uint16 = 0x0001
	ARPReply   uint16 = 0x0002
)

const (
	// According to pcap-linktype(7) and http://www.tcpdump.org/linktypes.html
	LinkTypeNull     uint16 = 0
	LinkTypeEthernet uint16 = 1
	LinkTypeAX25     uint16 = 3
	LinkTypeRaw      uint16 = 101
	LinkTypeIPv4     uint16 = 228
	LinkTypeIPv6     uint16 = 229
)

// ARP is an Ethernet/IPv4 ARP packet.
//  [0:2]   hardware type        [2:4]   protocol type
//  [4]     hardware addr length [5]     protocol addr length
//  [6:8]   opcode
//  [8:14]  sender MAC           [14:18] sender IP
//  [18:24] target MAC           [24:28] target IP
type ARP []byte

const LengthARP = 28

// length of the fixed part preceding the addresses
const lengthARPFixed = 8

func (a ARP) GetLinkType() uint16 {
	return binary.BigEndian.Uint16(a[0:2])
}

func (a ARP) SetLinkType(u uint16) {
	binary.BigEndian.PutUint16(a[0:2], u)
}

func (a ARP) GetProtocolType() EthernetType {
	return EthernetType(binary.BigEndian.Uint16(a[2:4]))
}

func (a ARP) SetProtocolType(u EthernetType) {
	binary.BigEndian.PutUint16(a[2:4], uint16(u))
}

func (a ARP) GetLinkAddressLength() uint8 {
	return a[4]
}

func (a ARP) SetLinkAddressLength(u uint8) {
	a[4] = u
}

func (a ARP) GetProtocolAddressLength() uint8 {
	return a[5]
}

func (a ARP) SetProtocolAddressLength(u uint8) {
	a[5] = u
}

func (a ARP) GetOpCode() uint16 {
	return binary.BigEndian.Uint16(a[6:8])
}

func (a ARP) SetOpCode(u uint16) {
	binary.BigEndian.PutUint16(a[6:8], u)
}

func (a ARP) GetSenderHardwareAddr() net.HardwareAddr {
	return net.HardwareAddr(a[lengthARPFixed : lengthARPFixed+6])
}

func (a ARP) SetSenderHardwareAddr(addr net.HardwareAddr) {
	copy(a[lengthARPFixed:lengthARPFixed+6], addr[0:6])
}

func (a ARP) GetSenderProtocolAddr() net.IP {
	return net.IP(a[lengthARPFixed+6 : lengthARPFixed+10])
}

func (a ARP) SetSenderProtocolAddr(ip net.IP) {
	copy(a[lengthARPFixed+6:lengthARPFixed+10], ip.To4())
}

func (a ARP) GetTargetHardwareAddr() net.HardwareAddr {
	return net.HardwareAddr(a[lengthARPFixed+10 : lengthARPFixed+16])
}

func (a ARP) SetTargetHardwareAddr(addr net.HardwareAddr) {
	copy(a[lengthARPFixed+10:lengthARPFixed+16], addr[0:6])
}

func (a ARP) GetTargetProtocolAddr() net.IP {
	return net.IP(a[lengthARPFixed+16 : lengthARPFixed+20])
}

func (a ARP) SetTargetProtocolAddr(ip net.IP) {
	copy(a[lengthARPFixed+16:lengthARPFixed+20], ip.To4())
}

// IsEthernetIPv4 reports whether the fixed fields describe an Ethernet/IPv4
// mapping with the given opcode.
func (a ARP) IsEthernetIPv4(op uint16) bool {
	return len(a) >= LengthARP &&
		a.GetLinkType() == LinkTypeEthernet &&
		a.GetProtocolType() == EthernetTypeIPv4 &&
		a.GetLinkAddressLength() == 6 &&
		a.GetProtocolAddressLength() == 4 &&
		a.GetOpCode() == op
}

// SetEthernetIPv4 writes the fixed fields of an Ethernet/IPv4 packet.
func (a ARP) SetEthernetIPv4(op uint16) {
	a.SetLinkType(LinkTypeEthernet)
	a.SetProtocolType(EthernetTypeIPv4)
	a.SetLinkAddressLength(6)
	a.SetProtocolAddressLength(4)
	a.SetOpCode(op)
}
