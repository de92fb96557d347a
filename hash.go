// Package hllcount holds what the sketch backends share: the hash functions,
// the Redis client and a few small helpers.
package hllcount

import (
	"fmt"
	"strings"

	"github.com/twmb/murmur3"
	"github.com/zeebo/xxh3"
)

// HashKind selects the hash function a sketch uses. It is fixed for the
// lifetime of a sketch; registers filled by different kinds are not comparable.
type HashKind uint8

const (
	// Murmur3 is MurmurHash3 x86_32 with seed 0.
	Murmur3 HashKind = iota
	// XXH3 is the 64 bit XXH3 hash.
	XXH3
)

// Bits returns the width of the hash value in bits.
func (k HashKind) Bits() uint {
	switch k {
	case XXH3:
		return 64
	default:
		return 32
	}
}

// Valid reports whether k names a known hash.
func (k HashKind) Valid() bool {
	return k == Murmur3 || k == XXH3
}

// Sum hashes data. 32 bit hashes are returned in the low bits.
func (k HashKind) Sum(data []byte) uint64 {
	if k == XXH3 {
		return xxh3.Hash(data)
	}
	return uint64(murmur3.Sum32(data))
}

// SumString hashes s without copying it.
func (k HashKind) SumString(s string) uint64 {
	if k == XXH3 {
		return xxh3.HashString(s)
	}
	return uint64(murmur3.StringSum32(s))
}

func (k HashKind) String() string {
	switch k {
	case Murmur3:
		return "murmur3"
	case XXH3:
		return "xxh3"
	default:
		return fmt.Sprintf("HashKind(%d)", uint8(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k HashKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("hllcount: unknown hash kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *HashKind) UnmarshalText(text []byte) error {
	kind, err := ParseHashKind(string(text))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// ParseHashKind maps a name such as "murmur3" or "xxh3" to its HashKind.
func ParseHashKind(name string) (HashKind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "murmur3", "murmur", "":
		return Murmur3, nil
	case "xxh3":
		return XXH3, nil
	default:
		return 0, fmt.Errorf("hllcount: unknown hash %q", name)
	}
}
