package stack

import (
	"net"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"stmeth/arp"
	"stmeth/layers"
)

const (
	lengthUDPHeaders  = layers.LengthEthernet + layers.LengthIPv4Min + layers.LengthUDP
	lengthICMPHeaders = layers.LengthEthernet + layers.LengthIPv4Min + layers.LengthICMPv4

	maxIPPayload = 0xffff - layers.LengthIPv4Min
)

// pingData is the payload of echo requests sent by Ping.
var pingData = []byte{1, 2, 3, 4, 5, 6, 7, 8}

func itoa(port uint16) string {
	return strconv.Itoa(int(port))
}

func (s *Stack) sameSubnet(ip net.IP) bool {
	return ip.Mask(s.netmask).Equal(s.ip.Mask(s.netmask))
}

func (s *Stack) broadcast(ip net.IP) bool {
	if ip.Equal(net.IPv4bcast) {
		return true
	}
	for i := range ip {
		if ip[i]|s.netmask[i] != 0xff {
			return false
		}
	}
	return s.sameSubnet(ip)
}

// route returns the hardware address of the next hop towards dst. An
// unresolved next hop is queued for ARP and reported as ErrNoARP.
func (s *Stack) route(dst net.IP) (net.HardwareAddr, error) {
	if s.broadcast(dst) {
		return layers.BroadcastAddress, nil
	}
	hop := dst
	if !s.sameSubnet(dst) {
		if s.gateway == nil || s.gateway[0] == 0 {
			return nil, errors.Wrapf(ErrNoGateway, "route to %v", dst)
		}
		hop = s.gateway
	}
	if mac, ok := s.table.Find(hop); ok {
		return mac, nil
	}
	if err := s.resolver.Request(hop); err != nil && s.enabled(LogARP) {
		s.log.WithField("ip", hop.String()).WithError(err).Warn("arp request not queued")
	}
	return nil, errors.Wrapf(ErrNoARP, "next hop %v", hop)
}

func (s *Stack) transmit(header, payload []byte) error {
	if err := s.nic.Transmit(header, payload); err != nil {
		s.stats.SendErrors++
		if s.enabled(LogError) {
			s.log.WithError(err).Warn("transmit")
		}
		return err
	}
	s.stats.Sent++
	return nil
}

func (s *Stack) ephemeralPort() uint16 {
	if s.ephPort < EphemeralPortBegin || s.ephPort == EphemeralPortEnd {
		s.ephPort = EphemeralPortBegin
	} else {
		s.ephPort++
	}
	return s.ephPort
}

// SendUDP sends payload from srcPort to dst:dstPort. A zero srcPort picks
// the next ephemeral port. Checksums are left to the NIC.
func (s *Stack) SendUDP(dst net.IP, srcPort, dstPort uint16, payload []byte) error {
	dst4 := dst.To4()
	if dst4 == nil {
		return errors.Wrapf(ErrNotIPv4, "send udp to %v", dst)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendUDP(dst4, srcPort, dstPort, payload)
}

func (s *Stack) sendUDP(dst net.IP, srcPort, dstPort uint16, payload []byte) error {
	if len(payload) > maxIPPayload-layers.LengthUDP {
		return errors.Errorf("stack: udp payload of %d bytes too large", len(payload))
	}
	mac, err := s.route(dst)
	if err != nil {
		return err
	}
	if srcPort == 0 {
		srcPort = s.ephemeralPort()
	}

	var hdr [lengthUDPHeaders]byte
	layers.Ethernet(hdr[:]).Make(mac, s.mac, layers.EthernetTypeIPv4)
	ip := layers.IPv4(hdr[layers.LengthEthernet:])
	u := layers.UDP(hdr[layers.LengthEthernet+layers.LengthIPv4Min:])
	u.Make(srcPort, dstPort, uint16(len(payload)))
	ip.Make(u.GetLen(), layers.IPProtocolUDP, s.ip, dst)

	if err := s.transmit(hdr[:], payload); err != nil {
		return err
	}
	if s.enabled(LogUDP) {
		s.log.WithFields(logrus.Fields{
			"dst":   net.JoinHostPort(dst.String(), itoa(dstPort)),
			"sport": srcPort,
			"len":   len(payload),
		}).Info("udp sent")
	}
	return nil
}

// SendICMP sends an ICMP message whose 4 byte data word is data, followed
// by payload.
func (s *Stack) SendICMP(dst net.IP, typ, code uint8, data uint32, payload []byte) error {
	dst4 := dst.To4()
	if dst4 == nil {
		return errors.Wrapf(ErrNotIPv4, "send icmp to %v", dst)
	}
	if len(payload) > maxIPPayload-layers.LengthICMPv4 {
		return errors.Errorf("stack: icmp payload of %d bytes too large", len(payload))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendICMP(dst4, typ, code, data, payload)
}

func (s *Stack) sendICMP(dst net.IP, typ, code uint8, data uint32, payload []byte) error {
	mac, err := s.route(dst)
	if err != nil {
		return err
	}

	var hdr [lengthICMPHeaders]byte
	layers.Ethernet(hdr[:]).Make(mac, s.mac, layers.EthernetTypeIPv4)
	ip := layers.IPv4(hdr[layers.LengthEthernet:])
	ip.Make(uint16(layers.LengthICMPv4+len(payload)), layers.IPProtocolICMPv4, s.ip, dst)
	layers.ICMPv4(hdr[layers.LengthEthernet+layers.LengthIPv4Min:]).Make(typ, code, data)

	return s.transmit(hdr[:], payload)
}

// Ping sends an echo request with identifier 0 and the next sequence
// number, which it returns.
func (s *Stack) Ping(dst net.IP) (uint16, error) {
	dst4 := dst.To4()
	if dst4 == nil {
		return 0, errors.Wrapf(ErrNotIPv4, "ping %v", dst)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingSeq++
	seq := s.pingSeq
	err := s.sendICMP(dst4, layers.ICMPv4TypeEchoRequest, 0, uint32(seq), pingData)
	if s.enabled(LogICMP) {
		s.log.WithFields(logrus.Fields{
			"dst": dst4.String(),
			"seq": seq,
		}).WithError(err).Info("icmp echo request sent")
	}
	return seq, err
}

// sendARPRequest broadcasts a who-has for ip. It runs from the resolver
// inside Poll, under the lock.
func (s *Stack) sendARPRequest(ip net.IP) error {
	var frame [layers.LengthEthernet + layers.LengthARP]byte
	e := layers.Ethernet(frame[:])
	e.Make(layers.BroadcastAddress, s.mac, layers.EthernetTypeARP)
	arp.MakeRequest(layers.ARP(e.Payload()), s.ip, s.mac, ip)
	if err := s.transmit(frame[:layers.LengthEthernet], frame[layers.LengthEthernet:]); err != nil {
		return err
	}
	if s.enabled(LogARP) {
		s.log.WithField("ip", ip.String()).Info("arp request sent")
	}
	return nil
}
