package buffer

import (
	"sync/atomic"
	"time"
)

// Statistics tracks buffer activity. All methods are safe for concurrent use.
type Statistics struct {
	writes    atomic.Int64
	reads     atomic.Int64
	overflows atomic.Int64
	drops     atomic.Int64
	rejects   atomic.Int64

	currentSize atomic.Int64
	maxSize     atomic.Int64
	startTime   time.Time
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

func (s *Statistics) recordWrite() { s.writes.Add(1) }
func (s *Statistics) recordRead(n int) { s.reads.Add(int64(n)) }
func (s *Statistics) recordOverflow() { s.overflows.Add(1) }
func (s *Statistics) recordDrop() { s.drops.Add(1) }
func (s *Statistics) recordReject() { s.rejects.Add(1) }

func (s *Statistics) updateSize(size int) {
	n := int64(size)
	s.currentSize.Store(n)
	for {
		m := s.maxSize.Load()
		if n <= m || s.maxSize.CompareAndSwap(m, n) {
			return
		}
	}
}

// Writes returns the number of accepted writes.
func (s *Statistics) Writes() int64 { return s.writes.Load() }

// Reads returns the number of items removed by readers.
func (s *Statistics) Reads() int64 { return s.reads.Load() }

// Overflows returns how often a write found the buffer full.
func (s *Statistics) Overflows() int64 { return s.overflows.Load() }

// Drops returns how many items the overflow policy discarded.
func (s *Statistics) Drops() int64 { return s.drops.Load() }

// Rejects returns how many writes failed under the Reject policy.
func (s *Statistics) Rejects() int64 { return s.rejects.Load() }

// CurrentSize returns the last observed number of items.
func (s *Statistics) CurrentSize() int64 { return s.currentSize.Load() }

// MaxSize returns the high-water mark.
func (s *Statistics) MaxSize() int64 { return s.maxSize.Load() }

// Uptime returns how long the buffer has existed.
func (s *Statistics) Uptime() time.Duration { return time.Since(s.startTime) }

// StatsSummary is a point-in-time copy of Statistics.
type StatsSummary struct {
	Writes      int64         `json:"writes"`
	Reads       int64         `json:"reads"`
	Overflows   int64         `json:"overflows"`
	Drops       int64         `json:"drops"`
	Rejects     int64         `json:"rejects"`
	CurrentSize int64         `json:"current_size"`
	MaxSize     int64         `json:"max_size"`
	Uptime      time.Duration `json:"uptime"`
}

// Summary returns a snapshot of all statistics.
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		Writes:      s.Writes(),
		Reads:       s.Reads(),
		Overflows:   s.Overflows(),
		Drops:       s.Drops(),
		Rejects:     s.Rejects(),
		CurrentSize: s.CurrentSize(),
		MaxSize:     s.MaxSize(),
		Uptime:      s.Uptime(),
	}
}
