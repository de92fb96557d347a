package count

import (
	"errors"
	"fmt"
	"math"
	"math/bits"

	"github.com/kwertop/hllcount"
)

const (
	MinPrecision     uint8 = 4
	MaxPrecision     uint8 = 16
	DefaultPrecision uint8 = 14
)

var (
	// ErrInvalidPrecision is returned when a precision outside
	// [MinPrecision, MaxPrecision] is requested.
	ErrInvalidPrecision = errors.New("hllcount: invalid precision")
	// ErrUnknownHash is returned for a hash kind the package doesn't know.
	ErrUnknownHash = errors.New("hllcount: unknown hash")
	// ErrIncompatible is returned when merging or comparing sketches whose
	// precision or hash differ.
	ErrIncompatible = errors.New("hllcount: incompatible sketches")
	// ErrCorrupt is returned when imported sketch data is inconsistent.
	ErrCorrupt = errors.New("hllcount: corrupt sketch data")
)

// Config fixes the shape of a sketch. It is copied into each sketch at
// construction and never changes afterwards.
type Config struct {
	Precision uint8
	Hash      hllcount.HashKind
}

// DefaultConfig is precision 14 (16384 registers) with MurmurHash3.
func DefaultConfig() Config {
	return Config{Precision: DefaultPrecision, Hash: hllcount.Murmur3}
}

// Validate checks the precision range and the hash kind.
func (c Config) Validate() error {
	if c.Precision < MinPrecision || c.Precision > MaxPrecision {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidPrecision, c.Precision, MinPrecision, MaxPrecision)
	}
	if !c.Hash.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownHash, uint8(c.Hash))
	}
	return nil
}

// NumRegisters returns m = 2^precision.
func (c Config) NumRegisters() uint64 {
	return 1 << c.Precision
}

// MaxRank is the largest rank a register can hold, the residual width.
func (c Config) MaxRank() uint8 {
	return uint8(c.Hash.Bits() - uint(c.Precision))
}

// StandardError returns the expected relative error 1.04/sqrt(m).
func (c Config) StandardError() float64 {
	return 1.04 / math.Sqrt(float64(c.NumRegisters()))
}

// AbstractHyperLogLog carries what every sketch backend shares: the config
// and the hash-to-register mapping.
type AbstractHyperLogLog struct {
	config       Config
	numRegisters uint64
	alpha        float64
}

// MakeAbstractHyperLogLog validates config and precomputes the constants.
func MakeAbstractHyperLogLog(config Config) (*AbstractHyperLogLog, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	m := config.NumRegisters()
	return &AbstractHyperLogLog{
		config:       config,
		numRegisters: m,
		alpha:        getAlpha(m),
	}, nil
}

func (h *AbstractHyperLogLog) Config() Config {
	return h.config
}

func (h *AbstractHyperLogLog) Precision() uint8 {
	return h.config.Precision
}

func (h *AbstractHyperLogLog) NumRegisters() uint64 {
	return h.numRegisters
}

func (h *AbstractHyperLogLog) StandardError() float64 {
	return h.config.StandardError()
}

func (h *AbstractHyperLogLog) compatible(other *AbstractHyperLogLog) error {
	if h.config != other.config {
		return fmt.Errorf("%w: precision %d/%s and %d/%s", ErrIncompatible,
			h.config.Precision, h.config.Hash, other.config.Precision, other.config.Hash)
	}
	return nil
}

// getAlpha is the bias correction used by Estimate for every m.
func getAlpha(m uint64) float64 {
	return 0.7213 / (1 + 1.079/float64(m))
}

// getTieredAlpha is the published constant table used by EstimateTiered.
func getTieredAlpha(m uint64) float64 {
	switch m {
	case 16:
		return 0.673
	case 32:
		return 0.697
	case 64:
		return 0.709
	default:
		return getAlpha(m)
	}
}

// rank returns the 1-based position of the lowest set bit of w, and 1 for w == 0.
func rank(w uint64) uint8 {
	if w == 0 {
		return 1
	}
	return uint8(bits.TrailingZeros64(w)) + 1
}

// registerIndexAndRank splits a hash: the low precision bits pick the
// register, the remaining high bits are ranked.
func (h *AbstractHyperLogLog) registerIndexAndRank(hash uint64) (uint64, uint8) {
	index := hash & (h.numRegisters - 1)
	w := hash >> h.config.Precision
	return index, rank(w)
}

func (h *AbstractHyperLogLog) locate(data []byte) (uint64, uint8) {
	return h.registerIndexAndRank(h.config.Hash.Sum(data))
}

func (h *AbstractHyperLogLog) locateString(s string) (uint64, uint8) {
	return h.registerIndexAndRank(h.config.Hash.SumString(s))
}

// getEstimation applies alpha * m^2 / z and truncates toward zero.
func (h *AbstractHyperLogLog) getEstimation(z float64) uint64 {
	m := float64(h.numRegisters)
	return uint64(h.alpha * m * m / z)
}

// getTieredEstimation applies the small and large range corrections of the
// published algorithm to the raw estimate. zeros is the count of empty registers.
func (h *AbstractHyperLogLog) getTieredEstimation(z float64, zeros uint64) uint64 {
	m := float64(h.numRegisters)
	estimation := getTieredAlpha(h.numRegisters) * m * m / z
	if estimation <= 2.5*m {
		if zeros > 0 {
			estimation = m * math.Log(m/float64(zeros))
		}
		return uint64(estimation)
	}
	if h.config.Hash.Bits() == 32 {
		twoPow32 := math.Pow(2, 32)
		if estimation > twoPow32/30 {
			estimation = -twoPow32 * math.Log(1-estimation/twoPow32)
		}
	}
	return uint64(estimation)
}

// harmonicSum returns the sum of 2^-r over the registers.
func harmonicSum(registers []uint8) float64 {
	z := 0.0
	for _, r := range registers {
		z += math.Ldexp(1, -int(r))
	}
	return z
}

// histogramSum computes the harmonic sum from counts[r] = number of registers
// holding r. For 32 bit hashes every partial sum is exact, so the result is
// identical to harmonicSum over the same registers.
func histogramSum(counts []uint64) float64 {
	z := 0.0
	for r, n := range counts {
		z += float64(n) * math.Ldexp(1, -r)
	}
	return z
}
