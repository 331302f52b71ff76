package extractor

import (
	"fmt"
	"strings"
	"sync/atomic"
)

type counters struct {
	attempts   atomic.Int64
	successes  atomic.Int64
	failures   atomic.Int64
	noCaptions atomic.Int64
	skipped    atomic.Int64
}

// StrategyStats is a point-in-time copy of one strategy's counters.
type StrategyStats struct {
	Name       string `json:"name"`
	Attempts   int64  `json:"attempts"`
	Successes  int64  `json:"successes"`
	Failures   int64  `json:"failures"`
	NoCaptions int64  `json:"no_captions"`
	Skipped    int64  `json:"skipped"`
}

// Stats returns counters for every strategy in run order.
func (c *Chain) Stats() []StrategyStats {
	out := make([]StrategyStats, 0, len(c.strategies))
	for _, s := range c.strategies {
		st := c.stats[s.Name()]
		out = append(out, StrategyStats{
			Name:       s.Name(),
			Attempts:   st.attempts.Load(),
			Successes:  st.successes.Load(),
			Failures:   st.failures.Load(),
			NoCaptions: st.noCaptions.Load(),
			Skipped:    st.skipped.Load(),
		})
	}
	return out
}

// FormatStats renders stats one strategy per line.
func FormatStats(stats []StrategyStats) string {
	var sb strings.Builder
	for _, s := range stats {
		fmt.Fprintf(&sb, "%-14s attempts=%d ok=%d failed=%d no_captions=%d skipped=%d\n",
			s.Name, s.Attempts, s.Successes, s.Failures, s.NoCaptions, s.Skipped)
	}
	return sb.String()
}
