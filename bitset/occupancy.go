// Package bitset tracks which sketch registers have left their initial zero
// state, so the number of empty registers is available without a scan.
package bitset

import (
	"github.com/bits-and-blooms/bitset"
)

// Occupancy is a fixed-size set of register indexes.
type Occupancy struct {
	set  *bitset.BitSet
	size uint
}

// NewOccupancy returns an empty set able to hold indexes in [0, size).
func NewOccupancy(size uint) *Occupancy {
	return &Occupancy{bitset.New(size), size}
}

// FromRegisters marks every index whose register is non-zero.
func FromRegisters(registers []uint8) *Occupancy {
	o := NewOccupancy(uint(len(registers)))
	for i, r := range registers {
		if r != 0 {
			o.set.Set(uint(i))
		}
	}
	return o
}

func (o *Occupancy) Size() uint {
	return o.size
}

func (o *Occupancy) Has(index uint) bool {
	return o.set.Test(index)
}

// Insert marks index as occupied. Indexes outside the set are ignored.
func (o *Occupancy) Insert(index uint) {
	if index < o.size {
		o.set.Set(index)
	}
}

// Occupied returns the number of marked indexes.
func (o *Occupancy) Occupied() uint {
	return o.set.Count()
}

// Empty returns the number of unmarked indexes.
func (o *Occupancy) Empty() uint {
	return o.size - o.set.Count()
}

// Union marks every index marked in other. Both sets must have the same size.
func (o *Occupancy) Union(other *Occupancy) {
	o.set.InPlaceUnion(other.set)
}

func (o *Occupancy) Clear() {
	o.set.ClearAll()
}

func (o *Occupancy) Clone() *Occupancy {
	return &Occupancy{o.set.Clone(), o.size}
}

func (o *Occupancy) Equals(other *Occupancy) bool {
	return o.size == other.size && o.set.Equal(other.set)
}
