package arp

import (
	"bytes"
	"net"

	"stmeth/layers"
)

// ReplyResult tells what ProcessReply did with a packet.
type ReplyResult int

const (
	ReplyIgnored ReplyResult = iota
	// ReplyResolved: a reply addressed to us, the sender was added.
	ReplyResolved
	// ReplyGratuitous: a gratuitous reply, an existing binding was refreshed.
	ReplyGratuitous
)

// RequestResult tells what ProcessRequest did with a packet.
type RequestResult int

const (
	RequestIgnored RequestResult = iota
	// RequestAnswered: the packet now holds the reply to send back.
	RequestAnswered
	// RequestAnnouncement: a self announcement, an existing binding was
	// refreshed and nothing is to be sent.
	RequestAnnouncement
)

func (r ReplyResult) String() string {
	switch r {
	case ReplyResolved:
		return "resolved"
	case ReplyGratuitous:
		return "gratuitous"
	}
	return "ignored"
}

func (r RequestResult) String() string {
	switch r {
	case RequestAnswered:
		return "answered"
	case RequestAnnouncement:
		return "announcement"
	}
	return "ignored"
}

// sighting is the sender and target of a packet, copied out so the buffer
// can be rewritten.
type sighting struct {
	senderMAC net.HardwareAddr
	senderIP  net.IP
	targetIP  net.IP
}

func read(pkt layers.ARP) sighting {
	return sighting{
		senderMAC: append(net.HardwareAddr(nil), pkt.GetSenderHardwareAddr()...),
		senderIP:  append(net.IP(nil), pkt.GetSenderProtocolAddr()...),
		targetIP:  append(net.IP(nil), pkt.GetTargetProtocolAddr()...),
	}
}

// ProcessReply learns from an ARP reply. A reply to myIP adds the sender; a
// gratuitous one only refreshes an existing binding. Anything that is not a
// well formed Ethernet/IPv4 reply is ignored.
func (t *Table) ProcessReply(pkt layers.ARP, myIP net.IP) ReplyResult {
	if !pkt.IsEthernetIPv4(layers.ARPReply) {
		return ReplyIgnored
	}
	s := read(pkt)
	switch {
	case bytes.Equal(s.targetIP, myIP.To4()):
		t.AddOrUpdate(s.senderIP, s.senderMAC)
		return ReplyResolved
	case bytes.Equal(s.targetIP, s.senderIP):
		t.Update(s.senderIP, s.senderMAC)
		return ReplyGratuitous
	}
	return ReplyIgnored
}

// ProcessRequest learns from an ARP request. A request for myIP adds the
// sender and rewrites pkt into the reply, for the caller to send back to
// the requester. A self announcement only refreshes an existing binding.
func (t *Table) ProcessRequest(pkt layers.ARP, myIP net.IP, myMAC net.HardwareAddr) RequestResult {
	if !pkt.IsEthernetIPv4(layers.ARPRequest) {
		return RequestIgnored
	}
	s := read(pkt)
	switch {
	case bytes.Equal(s.targetIP, myIP.To4()):
		t.AddOrUpdate(s.senderIP, s.senderMAC)

		pkt.SetOpCode(layers.ARPReply)
		pkt.SetTargetHardwareAddr(s.senderMAC)
		pkt.SetTargetProtocolAddr(s.senderIP)
		pkt.SetSenderHardwareAddr(myMAC)
		pkt.SetSenderProtocolAddr(myIP)
		return RequestAnswered
	case bytes.Equal(s.targetIP, s.senderIP):
		t.Update(s.senderIP, s.senderMAC)
		return RequestAnnouncement
	}
	return RequestIgnored
}

// MakeRequest fills pkt with a request for ip.
func MakeRequest(pkt layers.ARP, myIP net.IP, myMAC net.HardwareAddr, ip net.IP) {
	pkt.SetEthernetIPv4(layers.ARPRequest)
	pkt.SetSenderHardwareAddr(myMAC)
	pkt.SetSenderProtocolAddr(myIP)
	pkt.SetTargetHardwareAddr(make(net.HardwareAddr, 6))
	pkt.SetTargetProtocolAddr(ip)
}
