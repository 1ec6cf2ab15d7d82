package pagecache

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// Stats is a point-in-time snapshot of cache activity counters.
type Stats struct {
	TotalRequests uint64
	Hits          uint64
	Misses        uint64
	HitRate       float64 // percent, 0-100
	BytesRead     uint64
	BytesWritten  uint64
}

// Stats returns the current cache activity counters.
func (c *Cache) Stats() Stats {
	requests := c.requests.Load()
	misses := c.misses.Load()
	hits := requests - misses

	var hitRate float64
	if requests > 0 {
		hitRate = float64(hits) / float64(requests) * 100
	}

	return Stats{
		TotalRequests: requests,
		Hits:          hits,
		Misses:        misses,
		HitRate:       hitRate,
		BytesRead:     c.bytesR.Load(),
		BytesWritten:  c.bytesW.Load(),
	}
}

// String renders the stats with human-readable byte counts, for log lines.
func (s Stats) String() string {
	return fmt.Sprintf(
		"requests=%d hits=%d misses=%d hit_rate=%.1f%% read=%s written=%s",
		s.TotalRequests, s.Hits, s.Misses, s.HitRate,
		humanize.Bytes(s.BytesRead), humanize.Bytes(s.BytesWritten),
	)
}
