package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"stmeth/eth"
	"stmeth/eth/softmac"
	"stmeth/pkg/hwid"
	"stmeth/pkg/tap"
	"stmeth/pkg/timer"
	"stmeth/stack"
	"stmeth/utils/raw"
)

const appID = "stmeth"

// node is everything the console reaches into.
type node struct {
	mac   *softmac.MAC
	drv   *eth.Driver
	stack *stack.Stack
	clock *timer.Clock
	uid   []byte
	wire  io.ReadWriteCloser
}

func main() {
	wireKind := flag.String("wire", "tap", "wire backend: tap, or raw to bind an existing interface")
	ifName := flag.String("if", "stmeth0", "tap interface to create or interface to bind")
	hostAddr := flag.String("host", "192.168.7.1/24", "address assigned to the host side of the tap, empty to leave it alone")
	localIP := flag.String("ip", "192.168.7.2", "node ip address")
	netmask := flag.String("netmask", "255.255.255.0", "node netmask")
	gateway := flag.String("gw", "192.168.7.1", "default gateway, empty for none")
	localMAC := flag.String("mac", "", "node mac address, derived from the machine id when empty")
	logMask := flag.String("logmask", "ffff", "hex protocol log mask")
	echoPort := flag.Uint("echo", 7, "udp echo port, 0 to disable")
	interactive := flag.Bool("console", true, "run the interactive console")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	ip := net.ParseIP(*localIP).To4()
	if ip == nil {
		log.Fatalf("parse ip failed: %s", *localIP)
	}
	nm := net.ParseIP(*netmask).To4()
	if nm == nil {
		log.Fatalf("parse netmask failed: %s", *netmask)
	}
	var gw net.IP
	if *gateway != "" {
		if gw = net.ParseIP(*gateway).To4(); gw == nil {
			log.Fatalf("parse gateway failed: %s", *gateway)
		}
	}
	mask, err := stack.ParseLogMask(*logMask)
	if err != nil {
		log.Fatalf("parse logmask failed: %v", err)
	}

	hw, uid, err := hwid.FromMachineID(appID)
	if err != nil {
		log.WithError(err).Warn("no machine id, using a fixed unique id")
		uid = []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0, 0, 0, 0, 0, 0}
		hw, _ = hwid.FromUniqueID(uid)
	}
	if *localMAC != "" {
		if hw, err = net.ParseMAC(*localMAC); err != nil {
			log.Fatal(err)
		}
	}

	dev, err := openWire(*wireKind, *ifName, *hostAddr)
	if err != nil {
		log.Fatal(err)
	}
	defer dev.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGHUP, syscall.SIGINT)
	defer cancel()

	mac := softmac.New(dev, &softmac.Options{
		MDIOLatency: softmac.DefaultOptions.MDIOLatency,
		Logger:      log.WithField("module", "softmac"),
	})
	mac.SetLink(true, true, true)
	go mac.Run(ctx)
	go func() {
		if err := mac.Listen(ctx, dev, 1500); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("wire closed")
			cancel()
		}
	}()

	opts := eth.DefaultOptions
	opts.Logger = log.WithField("module", "eth")
	drv := eth.New(mac, &opts)
	if err = drv.Init(hw); err != nil {
		log.Fatalf("eth init failed: %v", err)
	}

	clock := timer.NewClock()
	clock.Start(time.Millisecond)
	defer clock.Stop()

	st, err := stack.New(drv, clock, stack.Config{
		IP:      ip,
		Netmask: nm,
		Gateway: gw,
		MAC:     hw,
		LogMask: mask,
		Logger:  log.WithField("module", "stack"),
	})
	if err != nil {
		log.Fatal(err)
	}
	if *echoPort != 0 {
		st.HandleUDP(uint16(*echoPort), func(d stack.Datagram) []byte {
			return append([]byte(nil), d.Payload...)
		})
	}

	n := &node{mac: mac, drv: drv, stack: st, clock: clock, uid: uid, wire: dev}
	go n.watchPHY(ctx)
	go func() {
		if err := st.Run(ctx, time.Millisecond); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("stack stopped")
		}
	}()

	log.WithFields(log.Fields{
		"wire": *wireKind,
		"if":   *ifName,
		"ip":   ip.String(),
		"mac":  hw.String(),
	}).Info("node up")

	if *interactive {
		newConsole(n).Run()
		cancel()
		return
	}
	<-ctx.Done()
}

func openWire(kind, name, hostAddr string) (io.ReadWriteCloser, error) {
	switch kind {
	case "raw":
		s, err := raw.Open(name)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "tap":
	default:
		return nil, errors.Errorf("unknown wire %q", kind)
	}

	dev, err := tap.Open(name)
	if err != nil {
		return nil, err
	}
	var host *net.IPNet
	if hostAddr != "" {
		ip, ipnet, err := net.ParseCIDR(hostAddr)
		if err != nil {
			dev.Close()
			return nil, errors.Wrap(err, "parse host address failed")
		}
		ipnet.IP = ip
		host = ipnet
	}
	if err = dev.Up(host); err != nil {
		dev.Close()
		return nil, err
	}
	return dev, nil
}

// watchPHY services the PHY interrupt line.
func (n *node) watchPHY(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.mac.IRQ():
			isr, err := n.drv.OnPHYInterrupt()
			if err != nil {
				log.WithError(err).Error("phy interrupt")
				continue
			}
			if n.stack.LogMask()&stack.LogPHY != 0 {
				ls, _ := n.drv.LinkStatus()
				log.WithFields(log.Fields{
					"isr":  fmt.Sprintf("%#04x", isr),
					"link": ls.String(),
				}).Info("phy interrupt")
			}
		}
	}
}
