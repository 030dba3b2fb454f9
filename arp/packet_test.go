package arp

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	glayers "github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stmeth/layers"
)

var (
	myIP  = net.IPv4(10, 0, 0, 2)
	myMAC = net.HardwareAddr{0x02, 0x11, 0x22, 0x33, 0x44, 0x55}
)

func packet(op uint16, senderMAC net.HardwareAddr, senderIP net.IP, targetMAC net.HardwareAddr, targetIP net.IP) layers.ARP {
	pkt := layers.ARP(make([]byte, layers.LengthARP))
	pkt.SetEthernetIPv4(op)
	pkt.SetSenderHardwareAddr(senderMAC)
	pkt.SetSenderProtocolAddr(senderIP)
	pkt.SetTargetHardwareAddr(targetMAC)
	pkt.SetTargetProtocolAddr(targetIP)
	return pkt
}

func TestProcessReply_Resolved(t *testing.T) {
	tab := NewTable(16, 300)
	pkt := packet(layers.ARPReply, macA, ipA, myMAC, myIP)

	assert.Equal(t, ReplyResolved, tab.ProcessReply(pkt, myIP))
	mac, ok := tab.Find(ipA)
	require.True(t, ok)
	assert.Equal(t, macA, mac)
}

func TestProcessReply_Gratuitous(t *testing.T) {
	tab := NewTable(16, 300)
	pkt := packet(layers.ARPReply, macB, ipA, layers.BroadcastAddress, ipA)

	assert.Equal(t, ReplyGratuitous, tab.ProcessReply(pkt, myIP))
	assert.Equal(t, 0, tab.Len(), "gratuitous reply must not add")

	tab.AddOrUpdate(ipA, macA)
	tab.Age(20)
	assert.Equal(t, ReplyGratuitous, tab.ProcessReply(pkt, myIP))
	mac, _ := tab.Find(ipA)
	assert.Equal(t, macB, mac)
	e, _ := tab.Entry(0)
	assert.Equal(t, 0, e.Age)
}

func TestProcessReply_Ignored(t *testing.T) {
	tab := NewTable(16, 300)

	other := packet(layers.ARPReply, macA, ipA, macB, ipB)
	assert.Equal(t, ReplyIgnored, tab.ProcessReply(other, myIP))

	request := packet(layers.ARPRequest, macA, ipA, myMAC, myIP)
	assert.Equal(t, ReplyIgnored, tab.ProcessReply(request, myIP))

	bad := packet(layers.ARPReply, macA, ipA, myMAC, myIP)
	bad.SetLinkType(6)
	assert.Equal(t, ReplyIgnored, tab.ProcessReply(bad, myIP))

	bad = packet(layers.ARPReply, macA, ipA, myMAC, myIP)
	bad.SetProtocolAddressLength(16)
	assert.Equal(t, ReplyIgnored, tab.ProcessReply(bad, myIP))

	assert.Equal(t, ReplyIgnored, tab.ProcessReply(layers.ARP(make([]byte, 10)), myIP))
	assert.Equal(t, 0, tab.Len())
}

func TestProcessRequest_Answered(t *testing.T) {
	tab := NewTable(16, 300)
	pkt := packet(layers.ARPRequest, macA, ipA, make(net.HardwareAddr, 6), myIP)

	assert.Equal(t, RequestAnswered, tab.ProcessRequest(pkt, myIP, myMAC))
	_, ok := tab.Find(ipA)
	assert.True(t, ok)

	assert.Equal(t, layers.ARPReply, pkt.GetOpCode())
	assert.Equal(t, myMAC, pkt.GetSenderHardwareAddr())
	assert.True(t, pkt.GetSenderProtocolAddr().Equal(myIP))
	assert.Equal(t, macA, pkt.GetTargetHardwareAddr())
	assert.True(t, pkt.GetTargetProtocolAddr().Equal(ipA))
}

func TestProcessRequest_Announcement(t *testing.T) {
	tab := NewTable(16, 300)
	pkt := packet(layers.ARPRequest, macB, ipA, make(net.HardwareAddr, 6), ipA)
	before := append([]byte(nil), pkt...)

	assert.Equal(t, RequestAnnouncement, tab.ProcessRequest(pkt, myIP, myMAC))
	assert.Equal(t, 0, tab.Len())
	assert.Equal(t, before, []byte(pkt))

	tab.AddOrUpdate(ipA, macA)
	assert.Equal(t, RequestAnnouncement, tab.ProcessRequest(pkt, myIP, myMAC))
	mac, _ := tab.Find(ipA)
	assert.Equal(t, macB, mac)
}

func TestProcessRequest_Ignored(t *testing.T) {
	tab := NewTable(16, 300)

	pkt := packet(layers.ARPRequest, macA, ipA, make(net.HardwareAddr, 6), ipB)
	assert.Equal(t, RequestIgnored, tab.ProcessRequest(pkt, myIP, myMAC))

	reply := packet(layers.ARPReply, macA, ipA, myMAC, myIP)
	assert.Equal(t, RequestIgnored, tab.ProcessRequest(reply, myIP, myMAC))
	assert.Equal(t, 0, tab.Len())
}

func TestMakeRequest(t *testing.T) {
	frame := make([]byte, layers.LengthEthernet+layers.LengthARP)
	layers.Ethernet(frame).Make(layers.BroadcastAddress, myMAC, layers.EthernetTypeARP)
	for i := layers.LengthEthernet; i < len(frame); i++ {
		frame[i] = 0xee
	}
	MakeRequest(layers.ARP(frame[layers.LengthEthernet:]), myIP, myMAC, ipA)

	pkt := gopacket.NewPacket(frame, glayers.LayerTypeEthernet, gopacket.NoCopy)
	l, ok := pkt.Layer(glayers.LayerTypeARP).(*glayers.ARP)
	require.True(t, ok)
	assert.Equal(t, uint16(glayers.ARPRequest), l.Operation)
	assert.Equal(t, []byte(myMAC), l.SourceHwAddress)
	assert.Equal(t, []byte(myIP.To4()), l.SourceProtAddress)
	assert.Equal(t, make([]byte, 6), l.DstHwAddress)
	assert.Equal(t, []byte(ipA.To4()), l.DstProtAddress)
}
