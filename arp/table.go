// Package arp keeps IPv4 to Ethernet address bindings and turns ARP
// packets into table updates and replies.
package arp

import (
	"bytes"
	"net"
)

// Entry is one IP to MAC binding. Age counts seconds since the binding was
// last seen.
type Entry struct {
	IP  net.IP
	MAC net.HardwareAddr
	Age int
}

type entry struct {
	ip  [4]byte
	mac [6]byte
	age int
}

func (e *entry) export() Entry {
	return Entry{
		IP:  net.IPv4(e.ip[0], e.ip[1], e.ip[2], e.ip[3]).To4(),
		MAC: append(net.HardwareAddr(nil), e.mac[:]...),
		Age: e.age,
	}
}

// Table is a fixed capacity ARP cache. New bindings go to a ring insertion
// slot that overwrites the oldest inserted entry once the table is full;
// aging removes entries and compacts the table. Table is not safe for
// concurrent use.
type Table struct {
	entries     []entry
	cnt         int
	idx         int
	maxAge      int
	privateOnly bool
}

func NewTable(size, maxAge int) *Table {
	if size < 1 {
		size = 1
	}
	return &Table{
		entries: make([]entry, size),
		maxAge:  maxAge,
	}
}

// SetPrivateOnly restricts AddOrUpdate to addresses whose first octet is
// 10, 172 or 192.
func (t *Table) SetPrivateOnly(b bool) {
	t.privateOnly = b
}

func (t *Table) Len() int {
	return t.cnt
}

func (t *Table) Cap() int {
	return len(t.entries)
}

func (t *Table) MaxAge() int {
	return t.maxAge
}

func (t *Table) find(ip net.IP) int {
	ip4 := ip.To4()
	if ip4 == nil {
		return -1
	}
	for i := 0; i < t.cnt; i++ {
		if bytes.Equal(t.entries[i].ip[:], ip4) {
			return i
		}
	}
	return -1
}

// Find returns the MAC bound to ip.
func (t *Table) Find(ip net.IP) (net.HardwareAddr, bool) {
	i := t.find(ip)
	if i < 0 {
		return nil, false
	}
	return append(net.HardwareAddr(nil), t.entries[i].mac[:]...), true
}

// Update refreshes an existing binding and resets its age. It reports
// whether ip was in the table.
func (t *Table) Update(ip net.IP, mac net.HardwareAddr) bool {
	i := t.find(ip)
	if i < 0 || len(mac) != 6 {
		return false
	}
	copy(t.entries[i].mac[:], mac)
	t.entries[i].age = 0
	return true
}

// AddOrUpdate refreshes the binding for ip or inserts it at the ring slot.
func (t *Table) AddOrUpdate(ip net.IP, mac net.HardwareAddr) {
	ip4 := ip.To4()
	if ip4 == nil || len(mac) != 6 {
		return
	}
	if t.privateOnly && !private(ip4) {
		return
	}
	if t.Update(ip4, mac) {
		return
	}

	e := &t.entries[t.idx]
	copy(e.ip[:], ip4)
	copy(e.mac[:], mac)
	e.age = 0
	t.idx = (t.idx + 1) % len(t.entries)
	if t.cnt < len(t.entries) {
		t.cnt++
	}
}

func private(ip4 net.IP) bool {
	switch ip4[0] {
	case 10, 172, 192:
		return true
	}
	return false
}

// Age adds sec seconds to every entry and evicts those that reach the
// maximum age. An evicted slot is filled with the last entry and the next
// insertion goes right after the remaining entries.
func (t *Table) Age(sec int) {
	for i := 0; i < t.cnt; i++ {
		t.entries[i].age += sec
		if t.entries[i].age < t.maxAge {
			continue
		}
		t.cnt--
		t.idx = t.cnt
		if i == t.cnt {
			break
		}
		t.entries[i] = t.entries[t.cnt]
		// the moved entry has not aged yet
		i--
	}
}

// Entry returns the i'th entry in table order.
func (t *Table) Entry(i int) (Entry, bool) {
	if i < 0 || i >= t.cnt {
		return Entry{}, false
	}
	return t.entries[i].export(), true
}

func (t *Table) Entries() []Entry {
	es := make([]Entry, 0, t.cnt)
	for i := 0; i < t.cnt; i++ {
		es = append(es, t.entries[i].export())
	}
	return es
}
