package layers

import (
	"encoding/binary"
	"net"
)

type EthernetType uint16

const (
	EthernetTypeIPv4                        EthernetType = 0x0800
	EthernetTypeARP                         EthernetType = 0x0806
	EthernetTypeIPv6                        EthernetType = 0x86DD
	EthernetTypeCiscoDiscovery              EthernetType = 0x2000
	EthernetTypeNortelDiscovery             EthernetType = 0x01a2
	EthernetTypeTransparentEthernetBridging EthernetType = 0x6558
	EthernetTypeDot1Q                       EthernetType = 0x8100
	EthernetTypePPP                         EthernetType = 0x880b
	EthernetTypePPPoEDiscovery              EthernetType = 0x8863
	EthernetTypePPPoESession                EthernetType = 0x8864
	EthernetTypeMPLSUnicast                 EthernetType = 0x8847
	EthernetTypeMPLSMulticast               EthernetType = 0x8848
	EthernetTypeEAPOL                       EthernetType = 0x888e
	EthernetTypeLinkLayerDiscovery          EthernetType = 0x88cc
)

const LengthEthernet = 14

// BroadcastAddress is ff:ff:ff:ff:ff:ff.
var BroadcastAddress = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// Ethernet is the layer for Ethernet frame headers.
// [0:6] is DstMAC, [6:12] is SrcMAC
// [12:14] is EthernetType
type Ethernet []byte

func (e Ethernet) GetDstAddress() net.HardwareAddr {
	return net.HardwareAddr(e[0:6])
}

func (e Ethernet) GetSrcAddress() net.HardwareAddr {
	return net.HardwareAddr(e[6:12])
}

func (e Ethernet) GetEthernetType() EthernetType {
	return EthernetType(binary.BigEndian.Uint16(e[12:14]))
}

func (e Ethernet) SetDstAddress(addr net.HardwareAddr) {
	copy(e[0:6], addr[0:6])
}

func (e Ethernet) SetSrcAddress(addr net.HardwareAddr) {
	copy(e[6:12], addr[0:6])
}

func (e Ethernet) SetEthernetType(typ EthernetType) {
	binary.BigEndian.PutUint16(e[12:14], uint16(typ))
}

// Make fills the whole header.
func (e Ethernet) Make(dst, src net.HardwareAddr, typ EthernetType) {
	e.SetDstAddress(dst)
	e.SetSrcAddress(src)
	e.SetEthernetType(typ)
}

// Payload returns what follows the header.
func (e Ethernet) Payload() []byte {
	return e[LengthEthernet:]
}
