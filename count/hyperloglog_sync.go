package count

import (
	"sync"
)

// SyncHyperLogLog guards a HyperLogLog with a read-write lock so several
// producers can feed one sketch.
type SyncHyperLogLog struct {
	mu     sync.RWMutex
	sketch *HyperLogLog
}

// NewSyncHyperLogLog creates a locked sketch for config.
func NewSyncHyperLogLog(config Config) (*SyncHyperLogLog, error) {
	sketch, err := NewHyperLogLogWithConfig(config)
	if err != nil {
		return nil, err
	}
	return &SyncHyperLogLog{sketch: sketch}, nil
}

func (s *SyncHyperLogLog) Add(data []byte) {
	s.mu.Lock()
	s.sketch.Add(data)
	s.mu.Unlock()
}

func (s *SyncHyperLogLog) AddString(data string) {
	s.mu.Lock()
	s.sketch.AddString(data)
	s.mu.Unlock()
}

func (s *SyncHyperLogLog) Estimate() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sketch.Estimate()
}

func (s *SyncHyperLogLog) EstimateTiered() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sketch.EstimateTiered()
}

// Merge folds g into the guarded sketch. g must not be modified concurrently.
func (s *SyncHyperLogLog) Merge(g *HyperLogLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sketch.Merge(g)
}

// Snapshot returns an independent copy of the current sketch.
func (s *SyncHyperLogLog) Snapshot() *HyperLogLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sketch.Clone()
}
