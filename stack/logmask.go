package stack

import (
	"strconv"
	"strings"
)

// LogMask selects which protocol diagnostics are logged.
type LogMask uint16

const (
	LogError LogMask = 0x01
	LogETH   LogMask = 0x02
	LogIPv4  LogMask = 0x04
	LogUDP   LogMask = 0x08
	LogTCP   LogMask = 0x10
	LogICMP  LogMask = 0x20
	LogPHY   LogMask = 0x40
	LogARP   LogMask = 0x80

	LogAll LogMask = 0xffff
)

var logMaskNames = []struct {
	m    LogMask
	name string
}{
	{LogError, "error"},
	{LogETH, "eth"},
	{LogIPv4, "ipv4"},
	{LogUDP, "udp"},
	{LogTCP, "tcp"},
	{LogICMP, "icmp"},
	{LogPHY, "phy"},
	{LogARP, "arp"},
}

func (m LogMask) String() string {
	var names []string
	for _, n := range logMaskNames {
		if m&n.m != 0 {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// ParseLogMask accepts a hex mask such as "ff" or "0x24".
func ParseLogMask(s string) (LogMask, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, err
	}
	return LogMask(v), nil
}
