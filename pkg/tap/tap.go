// Package tap attaches a node to the host through a Linux TAP interface:
// frames the node transmits are written to the device and frames the host
// sends come back as reads.
package tap

import (
	"net"
	"os"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

const cloneDevice = "/dev/net/tun"

// Device is an attached TAP interface. It is an io.ReadWriteCloser of
// whole Ethernet frames without FCS.
type Device struct {
	*os.File
	Name string
}

// ifreq as TUNSETIFF expects it
type req struct {
	Name  [unix.IFNAMSIZ]byte
	Flags uint16
	pad   [0x28 - unix.IFNAMSIZ - 2]byte
}

// Open attaches to the TAP interface name, creating it when it does not
// exist. An existing interface must be a TAP, not a TUN.
func Open(name string) (*Device, error) {
	if len(name) >= unix.IFNAMSIZ {
		return nil, errors.Errorf("tap: interface name %q too long", name)
	}
	if err := check(name); err != nil {
		return nil, err
	}

	fd, err := unix.Open(cloneDevice, os.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s failed", cloneDevice)
	}

	var r req
	copy(r.Name[:], name)
	r.Flags = unix.IFF_TAP | unix.IFF_NO_PI
	if err = ioctl(uintptr(fd), unix.TUNSETIFF, uintptr(unsafe.Pointer(&r))); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "ioctl TUNSETIFF with IFF_TAP and IFF_NO_PI failed")
	}

	return &Device{
		File: os.NewFile(uintptr(fd), name),
		Name: name,
	}, nil
}

func check(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		if _, ok := err.(netlink.LinkNotFoundError); ok {
			return nil
		}
		return errors.Wrap(err, "get link by name failed")
	}
	tap, ok := link.(*netlink.Tuntap)
	if !ok {
		return errors.Errorf("tap: %s is a %s link, not tuntap", name, link.Type())
	}
	if tap.Mode != netlink.TUNTAP_MODE_TAP {
		return errors.Errorf("tap: %s is a tun device", name)
	}
	return nil
}

// Up brings the interface up and, when addr is not nil, assigns it to the
// host side.
func (d *Device) Up(addr *net.IPNet) error {
	link, err := netlink.LinkByName(d.Name)
	if err != nil {
		return errors.Wrap(err, "get link by name failed")
	}
	if addr != nil {
		err = netlink.AddrReplace(link, &netlink.Addr{IPNet: addr})
		if err != nil {
			return errors.Wrapf(err, "assign %v to %s failed", addr, d.Name)
		}
	}
	if err = netlink.LinkSetUp(link); err != nil {
		return errors.Wrapf(err, "set %s up failed", d.Name)
	}
	return nil
}

// HardwareAddr returns the host side MAC address of the interface.
func (d *Device) HardwareAddr() (net.HardwareAddr, error) {
	link, err := netlink.LinkByName(d.Name)
	if err != nil {
		return nil, errors.Wrap(err, "get link by name failed")
	}
	return link.Attrs().HardwareAddr, nil
}

func ioctl(fd uintptr, request uintptr, argp uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, request, argp)
	if errno != 0 {
		return os.NewSyscallError("ioctl", errno)
	}
	return nil
}
