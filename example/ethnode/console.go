package main

import (
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/abiosoft/ishell"
	"github.com/pkg/errors"

	"stmeth/eth"
	"stmeth/stack"
)

const nodeKey = "$node"

// hardwareAddresser is implemented by wires with a host side MAC, such as a tap.
type hardwareAddresser interface {
	HardwareAddr() (net.HardwareAddr, error)
}

// PHY registers that are reserved on the LAN8720 and not dumped.
func reservedPHYReg(reg uint16) bool {
	return (reg >= 7 && reg <= 16) || (reg >= 19 && reg <= 25) || reg == 28
}

func newConsole(n *node) *ishell.Shell {
	sh := ishell.New()
	sh.Set(nodeKey, n)
	sh.SetPrompt(fmt.Sprintf("%s > ", n.stack.HardwareAddr()))
	for _, cmd := range commands {
		sh.AddCmd(cmd)
	}
	return sh
}

func nodeFrom(c *ishell.Context) *node {
	return c.Get(nodeKey).(*node)
}

func parseIP(c *ishell.Context) (net.IP, bool) {
	if len(c.Args) < 1 {
		c.Err(errors.New("IP required"))
		return nil, false
	}
	ip := net.ParseIP(c.Args[0]).To4()
	if ip == nil {
		c.Err(errors.Errorf("invalid IP %q", c.Args[0]))
		return nil, false
	}
	return ip, true
}

var commands = []*ishell.Cmd{
	&StatCmd,
	&PHYRegsCmd,
	&PingCmd,
	&UDPCmd,
	&ARPCmd,
	&ARPTableCmd,
	&LogMaskCmd,
	&LinkCmd,
}

var (
	// StatCmd prints addresses, link state and counters.
	StatCmd = ishell.Cmd{
		Name:    "stat",
		Aliases: []string{"s"},
		Help:    "show uptime, addresses, link and counters",
		Func: func(c *ishell.Context) {
			n := nodeFrom(c)
			ip, nm, gw := n.stack.Addr()
			st := n.stack.Stats()
			ds := n.drv.Stats()
			ms := n.mac.Stats()

			c.Printf("uptime %d\n", n.clock.Uptime())
			c.Printf("lastethrx %d\n", st.LastReceive)
			c.Printf("uid %s\n", hex.EncodeToString(n.uid))
			c.Println("---")
			c.Printf("ip %v\n", ip)
			c.Printf("nm %v\n", net.IP(nm))
			c.Printf("gw %v\n", gw)
			c.Printf("mac %v\n", n.stack.HardwareAddr())
			if hw, ok := n.wire.(hardwareAddresser); ok {
				if mac, err := hw.HardwareAddr(); err == nil {
					c.Printf("hostmac %v\n", mac)
				}
			}
			if ls, err := n.drv.LinkStatus(); err != nil {
				c.Printf("link %v\n", err)
			} else {
				c.Printf("link %v\n", ls)
			}
			c.Println("---")
			c.Printf("eth tx %d full %d rx %d err %d phyint %d\n",
				ds.Transmitted, ds.QueueFull, ds.Received, ds.FrameErrors, ds.PHYInterrupts)
			c.Printf("wire tx %d err %d rx %d missed %d filtered %d\n",
				ms.TxFrames, ms.TxErrors, ms.RxFrames, ms.RxMissed, ms.RxFiltered)
			c.Printf("stack rx %d arp %d icmp %d udp %d tcp %d unknown %d\n",
				st.Received, st.ARP, st.ICMP, st.UDP, st.TCP, st.Unknown)
			c.Printf("stack tx %d err %d unreach %d\n", st.Sent, st.SendErrors, st.Unreachable)
		},
	}

	// PHYRegsCmd dumps the PHY registers.
	PHYRegsCmd = ishell.Cmd{
		Name: "phyregs",
		Help: "dump PHY registers",
		Func: func(c *ishell.Context) {
			n := nodeFrom(c)
			for reg := uint16(0); reg < 32; reg++ {
				if reservedPHYReg(reg) {
					continue
				}
				v, err := n.drv.PHYReadReg(reg)
				if err != nil {
					c.Err(err)
					return
				}
				c.Printf("%02d %04x\n", reg, v)
			}
		},
	}

	// PingCmd sends one echo request.
	PingCmd = ishell.Cmd{
		Name: "ping",
		Help: "IP",
		Func: func(c *ishell.Context) {
			ip, ok := parseIP(c)
			if !ok {
				return
			}
			seq, err := nodeFrom(c).stack.Ping(ip)
			if err != nil {
				c.Err(err)
				return
			}
			c.Printf("seq %d\n", seq)
		},
	}

	// UDPCmd sends the rest of the line as one datagram.
	UDPCmd = ishell.Cmd{
		Name: "udp",
		Help: "IP PORT TEXT",
		Func: func(c *ishell.Context) {
			ip, ok := parseIP(c)
			if !ok {
				return
			}
			if len(c.Args) < 3 {
				c.Err(errors.New("PORT and TEXT required"))
				return
			}
			port, err := strconv.ParseUint(c.Args[1], 10, 16)
			if err != nil {
				c.Err(errors.Errorf("invalid PORT: %v", err))
				return
			}
			text := strings.Join(c.Args[2:], " ")
			if err = nodeFrom(c).stack.SendUDP(ip, 0, uint16(port), []byte(text)); err != nil {
				c.Err(err)
				return
			}
			c.Println("OK")
		},
	}

	// ARPCmd queues an ARP request.
	ARPCmd = ishell.Cmd{
		Name: "arp",
		Help: "IP",
		Func: func(c *ishell.Context) {
			ip, ok := parseIP(c)
			if !ok {
				return
			}
			if err := nodeFrom(c).stack.RequestARP(ip); err != nil {
				c.Err(err)
				return
			}
			c.Println("OK")
		},
	}

	// ARPTableCmd lists the ARP table.
	ARPTableCmd = ishell.Cmd{
		Name:    "arptable",
		Aliases: []string{"at"},
		Help:    "list ARP table",
		Func: func(c *ishell.Context) {
			st := nodeFrom(c).stack
			size, maxAge := st.ARPLimits()
			c.Printf("size %d maxage %d\n", size, maxAge)
			entries := st.ARPEntries()
			if len(entries) == 0 {
				c.Println("empty")
				return
			}
			for i, e := range entries {
				c.Printf("%d %-15s %s %d\n", i, e.IP, e.MAC, e.Age)
			}
		},
	}

	// LogMaskCmd shows or sets the protocol log mask.
	LogMaskCmd = ishell.Cmd{
		Name: "logmask",
		Help: "[HEX]",
		Func: func(c *ishell.Context) {
			st := nodeFrom(c).stack
			if len(c.Args) > 0 {
				m, err := stack.ParseLogMask(c.Args[0])
				if err != nil {
					c.Err(errors.Errorf("invalid mask: %v", err))
					return
				}
				st.SetLogMask(m)
			}
			c.Printf("logmask %04x %v\n", uint16(st.LogMask()), st.LogMask())
		},
	}

	// LinkCmd shows the link or plugs and unplugs the simulated cable.
	LinkCmd = ishell.Cmd{
		Name: "link",
		Help: "[up|down|10|100]",
		Func: func(c *ishell.Context) {
			n := nodeFrom(c)
			if len(c.Args) > 0 {
				switch c.Args[0] {
				case "up", "100":
					n.mac.SetLink(true, true, true)
				case "10":
					n.mac.SetLink(true, false, true)
				case "down":
					n.mac.SetLink(false, false, false)
				default:
					c.Err(errors.Errorf("invalid link state %q", c.Args[0]))
					return
				}
			}
			ls, err := n.drv.LinkStatus()
			if err != nil {
				c.Err(err)
				return
			}
			bsr, _ := n.drv.PHYReadReg(eth.PHY_BSR)
			c.Printf("link %v bsr %04x\n", ls, bsr)
		},
	}
)
