package stack

import (
	"net"

	"github.com/sirupsen/logrus"

	"stmeth/arp"
	"stmeth/layers"
)

// dispatch handles one received frame. The caller holds the lock and
// releases the frame afterwards; anything sent from here is copied out by
// the NIC before that.
func (s *Stack) dispatch(frame []byte) {
	if len(frame) < layers.LengthEthernet {
		s.stats.Unknown++
		return
	}
	e := layers.Ethernet(frame)
	switch typ := e.GetEthernetType(); typ {
	case layers.EthernetTypeARP:
		s.stats.ARP++
		s.handleARP(e)
	case layers.EthernetTypeIPv4:
		s.handleIPv4(layers.IPv4(e.Payload()))
	default:
		s.stats.Unknown++
		if s.enabled(LogETH) {
			s.log.WithFields(logrus.Fields{
				"type": typ,
				"src":  e.GetSrcAddress().String(),
			}).Info("unknown ethertype")
		}
	}
}

func (s *Stack) handleARP(e layers.Ethernet) {
	pkt := layers.ARP(e.Payload())
	if len(pkt) < layers.LengthARP {
		return
	}

	switch r := s.table.ProcessReply(pkt, s.ip); r {
	case arp.ReplyResolved, arp.ReplyGratuitous:
		if s.enabled(LogARP) {
			s.log.WithFields(logrus.Fields{
				"ip":  pkt.GetSenderProtocolAddr().String(),
				"mac": pkt.GetSenderHardwareAddr().String(),
			}).Infof("arp %v", r)
		}
		return
	}

	if s.table.ProcessRequest(pkt, s.ip, s.mac) != arp.RequestAnswered {
		return
	}
	// pkt now holds the reply, addressed back to the requester.
	e.Make(pkt.GetTargetHardwareAddr(), s.mac, layers.EthernetTypeARP)
	err := s.transmit(e[:layers.LengthEthernet], pkt[:layers.LengthARP])
	if s.enabled(LogARP) && err == nil {
		s.log.WithField("ip", pkt.GetTargetProtocolAddr().String()).Info("arp replied")
	}
}

func (s *Stack) handleIPv4(p layers.IPv4) {
	if len(p) < layers.LengthIPv4Min || p.GetVersion() != 4 {
		s.stats.Unknown++
		return
	}
	ihl := int(p.GetIHL())
	if ihl < layers.LengthIPv4Min || ihl > len(p) || int(p.GetTotalLen()) < ihl {
		s.stats.Unknown++
		return
	}
	src, dst := p.GetSrcAddr(), p.GetDstAddr()
	unicast := dst.Equal(s.ip)

	switch proto := p.GetProtocol(); proto {
	case layers.IPProtocolICMPv4:
		s.stats.ICMP++
		s.handleICMP(p, src)
	case layers.IPProtocolUDP:
		s.stats.UDP++
		s.handleUDP(p, src, dst, unicast)
	case layers.IPProtocolTCP:
		s.stats.TCP++
		t := layers.TCP(p.Payload())
		if s.enabled(LogTCP) && len(t) >= layers.LengthTCPMin {
			s.log.WithFields(logrus.Fields{
				"src":   net.JoinHostPort(src.String(), itoa(t.GetSrcPort())),
				"dport": t.GetDstPort(),
			}).Info("tcp segment")
		}
		// no TCP here; a unicast segment gets protocol unreachable quoting
		// the IP and TCP headers.
		if !unicast || len(t) < layers.LengthTCPMin {
			return
		}
		n := ihl + int(t.GetDataOffset())
		if n > len(p) || int(t.GetDataOffset()) < layers.LengthTCPMin {
			n = ihl + layers.LengthTCPMin
		}
		s.unreachable(src, layers.ICMPv4CodeProtocol, p[:n])
	default:
		s.stats.Unknown++
		if s.enabled(LogIPv4) {
			s.log.WithFields(logrus.Fields{
				"proto": proto,
				"src":   src.String(),
			}).Info("unknown ip protocol")
		}
	}
}

func (s *Stack) handleICMP(p layers.IPv4, src net.IP) {
	m := layers.ICMPv4(p.Payload())
	if len(m) < layers.LengthICMPv4 {
		return
	}
	switch m.GetType() {
	case layers.ICMPv4TypeEchoRequest:
		err := s.sendICMP(src, layers.ICMPv4TypeEchoReply, 0, m.GetData(), m[layers.LengthICMPv4:])
		if s.enabled(LogICMP) {
			s.log.WithFields(logrus.Fields{
				"src": src.String(),
				"seq": m.GetSequence(),
			}).WithError(err).Info("icmp echo request")
		}
	case layers.ICMPv4TypeEchoReply:
		if s.enabled(LogICMP) {
			s.log.WithFields(logrus.Fields{
				"src": src.String(),
				"seq": m.GetSequence(),
			}).Info("icmp echo reply")
		}
	case layers.ICMPv4TypeDestinationUnreachable:
		if s.enabled(LogICMP) {
			s.log.WithFields(logrus.Fields{
				"src":  src.String(),
				"code": m.GetCode(),
			}).Info("icmp destination unreachable")
		}
	}
}

func (s *Stack) handleUDP(p layers.IPv4, src, dst net.IP, unicast bool) {
	u := layers.UDP(p.Payload())
	if len(u) < layers.LengthUDP {
		return
	}
	ulen := int(u.GetLen())
	if ulen < layers.LengthUDP || ulen > len(u) {
		ulen = len(u)
	}
	sport, dport := u.GetSrcPort(), u.GetDstPort()
	if s.enabled(LogUDP) {
		s.log.WithFields(logrus.Fields{
			"src":   net.JoinHostPort(src.String(), itoa(sport)),
			"dport": dport,
			"len":   ulen - layers.LengthUDP,
		}).Info("udp datagram")
	}

	if h, ok := s.handlers[dport]; ok {
		reply := h(Datagram{
			Src:     src,
			Dst:     dst,
			SrcPort: sport,
			DstPort: dport,
			Payload: u[layers.LengthUDP:ulen],
		})
		if reply == nil {
			return
		}
		if err := s.sendUDP(src, dport, sport, reply); err != nil && s.enabled(LogUDP) {
			s.log.WithError(err).Warn("udp reply")
		}
		return
	}
	if unicast {
		s.unreachable(src, layers.ICMPv4CodePort, p[:int(p.GetIHL())+layers.LengthUDP])
	}
}

// unreachable answers with ICMP destination unreachable quoting quote.
func (s *Stack) unreachable(dst net.IP, code uint8, quote []byte) {
	err := s.sendICMP(dst, layers.ICMPv4TypeDestinationUnreachable, code, 0, quote)
	if err == nil {
		s.stats.Unreachable++
	}
	if s.enabled(LogICMP) {
		s.log.WithFields(logrus.Fields{
			"dst":  dst.String(),
			"code": code,
		}).WithError(err).Info("icmp destination unreachable sent")
	}
}
