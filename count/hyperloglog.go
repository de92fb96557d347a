package count

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/kwertop/hllcount"
	"github.com/kwertop/hllcount/bitset"
)

const binaryFormatVersion uint8 = 1

// HyperLogLog is the in-memory sketch. It is not safe for concurrent use;
// see SyncHyperLogLog.
type HyperLogLog struct {
	AbstractHyperLogLog
	registers []uint8
	occupied  *bitset.Occupancy
}

type hyperLogLogJSON struct {
	Precision uint8             `json:"p"`
	Hash      hllcount.HashKind `json:"h"`
	Registers []uint8           `json:"r"`
	Key       string            `json:"k,omitempty"`
}

// NewHyperLogLog creates a sketch with 2^precision registers and the default hash.
func NewHyperLogLog(precision uint8) (*HyperLogLog, error) {
	config := DefaultConfig()
	config.Precision = precision
	return NewHyperLogLogWithConfig(config)
}

func NewHyperLogLogWithConfig(config Config) (*HyperLogLog, error) {
	abstractLog, err := MakeAbstractHyperLogLog(config)
	if err != nil {
		return nil, err
	}
	h := &HyperLogLog{
		AbstractHyperLogLog: *abstractLog,
		registers:           make([]uint8, abstractLog.numRegisters),
		occupied:            bitset.NewOccupancy(uint(abstractLog.numRegisters)),
	}
	return h, nil
}

// Add records data. Adding the same value again never changes the sketch.
func (h *HyperLogLog) Add(data []byte) {
	h.set(h.locate(data))
}

// AddString is Add for strings, without a byte slice copy.
func (h *HyperLogLog) AddString(s string) {
	h.set(h.locateString(s))
}

func (h *HyperLogLog) set(index uint64, r uint8) {
	if r > h.registers[index] {
		h.registers[index] = r
		h.occupied.Insert(uint(index))
	}
}

// Estimate returns the cardinality estimate floor(alpha * m^2 / sum(2^-r))
// with alpha = 0.7213/(1+1.079/m) and no range corrections. An empty sketch
// estimates about alpha*m (11817 at precision 14), and estimates stay biased
// upward until the distinct count reaches a few times m.
func (h *HyperLogLog) Estimate() uint64 {
	return h.getEstimation(harmonicSum(h.registers))
}

// EstimateTiered returns the estimate with linear counting for small
// cardinalities and, for 32 bit hashes, the large range correction.
func (h *HyperLogLog) EstimateTiered() uint64 {
	return h.getTieredEstimation(harmonicSum(h.registers), h.ZeroRegisters())
}

func (h *HyperLogLog) ZeroRegisters() uint64 {
	return uint64(h.occupied.Empty())
}

// Registers returns a copy of the register array.
func (h *HyperLogLog) Registers() []uint8 {
	registers := make([]uint8, len(h.registers))
	copy(registers, h.registers)
	return registers
}

func (h *HyperLogLog) Reset() {
	clear(h.registers)
	h.occupied.Clear()
}

func (h *HyperLogLog) Clone() *HyperLogLog {
	return &HyperLogLog{
		AbstractHyperLogLog: h.AbstractHyperLogLog,
		registers:           h.Registers(),
		occupied:            h.occupied.Clone(),
	}
}

// Merge folds g into h by taking the element-wise maximum of the registers.
// The result equals the sketch of the union of both input streams.
func (h *HyperLogLog) Merge(g *HyperLogLog) error {
	if err := h.compatible(&g.AbstractHyperLogLog); err != nil {
		return err
	}
	for i, r := range g.registers {
		h.registers[i] = hllcount.Max(h.registers[i], r)
	}
	h.occupied.Union(g.occupied)
	return nil
}

// Equals reports whether g has the same config and registers as h.
func (h *HyperLogLog) Equals(g *HyperLogLog) bool {
	if h.config != g.config {
		return false
	}
	return bytes.Equal(h.registers, g.registers)
}

// Export JSON marshals the sketch.
func (h *HyperLogLog) Export() ([]byte, error) {
	return json.Marshal(hyperLogLogJSON{h.config.Precision, h.config.Hash, h.registers, ""})
}

// Import replaces the sketch with JSON produced by Export.
func (h *HyperLogLog) Import(data []byte) error {
	var g hyperLogLogJSON
	if err := json.Unmarshal(data, &g); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return h.load(Config{Precision: g.Precision, Hash: g.Hash}, g.Registers)
}

func (h *HyperLogLog) load(config Config, registers []uint8) error {
	abstractLog, err := MakeAbstractHyperLogLog(config)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if err := checkRegisters(config, registers); err != nil {
		return err
	}
	h.AbstractHyperLogLog = *abstractLog
	h.registers = registers
	h.occupied = bitset.FromRegisters(registers)
	return nil
}

func checkRegisters(config Config, registers []uint8) error {
	if uint64(len(registers)) != config.NumRegisters() {
		return fmt.Errorf("%w: %d registers for precision %d", ErrCorrupt, len(registers), config.Precision)
	}
	maxRank := config.MaxRank()
	for i, r := range registers {
		if r > maxRank {
			return fmt.Errorf("%w: register %d holds %d, max is %d", ErrCorrupt, i, r, maxRank)
		}
	}
	return nil
}

// WriteTo writes the binary form: version, precision, hash kind, registers.
func (h *HyperLogLog) WriteTo(stream io.Writer) (int64, error) {
	header := []byte{binaryFormatVersion, h.config.Precision, uint8(h.config.Hash)}
	n, err := stream.Write(header)
	if err != nil {
		return int64(n), err
	}
	m, err := stream.Write(h.registers)
	return int64(n + m), err
}

// ReadFrom replaces the sketch with the binary form written by WriteTo.
func (h *HyperLogLog) ReadFrom(stream io.Reader) (int64, error) {
	var header [3]byte
	if n, err := io.ReadFull(stream, header[:]); err != nil {
		return int64(n), err
	}
	if header[0] != binaryFormatVersion {
		return int64(len(header)), fmt.Errorf("%w: unsupported version %d", ErrCorrupt, header[0])
	}
	config := Config{Precision: header[1], Hash: hllcount.HashKind(header[2])}
	if err := config.Validate(); err != nil {
		return int64(len(header)), fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	registers := make([]uint8, config.NumRegisters())
	n, err := io.ReadFull(stream, registers)
	read := int64(len(header) + n)
	if err != nil {
		return read, err
	}
	return read, h.load(config, registers)
}
