package streak

import (
	"fmt"
	"sort"

	"github.com/smallbiznis/ecopoints/internal/config"
)

// Milestone is a streak length that earns a one-time bonus.
type Milestone struct {
	Days   int   `json:"days"`
	Points int64 `json:"points"`
}

// Milestones is ordered by Days ascending with no duplicates.
type Milestones []Milestone

func NewMilestones(cfg []config.MilestoneConfig) (Milestones, error) {
	out := make(Milestones, 0, len(cfg))
	seen := make(map[int]struct{}, len(cfg))
	for _, m := range cfg {
		if m.Days <= 0 || m.Points <= 0 {
			return nil, fmt.Errorf("invalid milestone %d:%d", m.Days, m.Points)
		}
		if _, ok := seen[m.Days]; ok {
			return nil, fmt.Errorf("duplicate milestone for %d days", m.Days)
		}
		seen[m.Days] = struct{}{}
		out = append(out, Milestone{Days: m.Days, Points: m.Points})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Days < out[j].Days })
	return out, nil
}

// Exact returns the milestone whose length equals days.
func (ms Milestones) Exact(days int) (Milestone, bool) {
	i := sort.Search(len(ms), func(i int) bool { return ms[i].Days >= days })
	if i < len(ms) && ms[i].Days == days {
		return ms[i], true
	}
	return Milestone{}, false
}

// Next returns the smallest milestone strictly longer than current.
func (ms Milestones) Next(current int) (Milestone, bool) {
	i := sort.Search(len(ms), func(i int) bool { return ms[i].Days > current })
	if i < len(ms) {
		return ms[i], true
	}
	return Milestone{}, false
}
