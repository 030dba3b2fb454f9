// Package hwid derives a node's MAC address from a unique device ID, the
// way an MCU uses its factory ID register.
package hwid

import (
	"encoding/hex"
	"net"

	"github.com/denisbrodbeck/machineid"
	"github.com/pkg/errors"
)

// UniqueIDLen is the length of an STM32F1 unique device ID.
const UniqueIDLen = 12

// FromUniqueID takes the first six bytes of uid as the MAC address with the
// first octet forced to 0x02, a locally administered unicast address.
func FromUniqueID(uid []byte) (net.HardwareAddr, error) {
	if len(uid) < 6 {
		return nil, errors.Errorf("hwid: unique id of %d bytes too short", len(uid))
	}
	mac := make(net.HardwareAddr, 6)
	copy(mac, uid)
	mac[0] = 0x02
	return mac, nil
}

// MachineUniqueID stands in for the device ID register on a host: it is
// derived from the machine id, keyed by appID so the raw id is not exposed.
func MachineUniqueID(appID string) ([]byte, error) {
	id, err := machineid.ProtectedID(appID)
	if err != nil {
		return nil, errors.Wrap(err, "hwid: read machine id")
	}
	b, err := hex.DecodeString(id)
	if err != nil {
		return nil, errors.Wrap(err, "hwid: decode machine id")
	}
	if len(b) < UniqueIDLen {
		return nil, errors.Errorf("hwid: machine id of %d bytes too short", len(b))
	}
	return b[:UniqueIDLen], nil
}

// FromMachineID returns the MAC address for this host together with the
// unique ID it came from.
func FromMachineID(appID string) (net.HardwareAddr, []byte, error) {
	uid, err := MachineUniqueID(appID)
	if err != nil {
		return nil, nil, err
	}
	mac, err := FromUniqueID(uid)
	return mac, uid, err
}
