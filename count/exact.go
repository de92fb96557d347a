package count

import (
	"encoding/binary"
	"net/netip"

	"github.com/RoaringBitmap/roaring/v2"
)

// ExactCounter counts distinct strings exactly. Dotted-quad IPv4 strings are
// kept in a compressed bitmap; anything else falls back to a set of strings.
// netip accepts exactly one textual form per IPv4 address, so both
// representations count distinct strings.
type ExactCounter struct {
	ipv4   *roaring.Bitmap
	others map[string]struct{}
}

func NewExactCounter() *ExactCounter {
	return &ExactCounter{
		ipv4:   roaring.New(),
		others: make(map[string]struct{}),
	}
}

func (c *ExactCounter) AddString(s string) {
	if addr, err := netip.ParseAddr(s); err == nil && addr.Is4() {
		ip := addr.As4()
		c.ipv4.Add(binary.BigEndian.Uint32(ip[:]))
		return
	}
	c.others[s] = struct{}{}
}

func (c *ExactCounter) Add(data []byte) {
	c.AddString(string(data))
}

// Count returns the exact number of distinct values added.
func (c *ExactCounter) Count() uint64 {
	return c.ipv4.GetCardinality() + uint64(len(c.others))
}

func (c *ExactCounter) Reset() {
	c.ipv4.Clear()
	clear(c.others)
}
