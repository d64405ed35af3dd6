package shader

import "sync/atomic"

// Stats counts shading-system activity. All fields are updated with
// atomic operations so groups being built or compiled on different
// goroutines share one instance without locking.
type Stats struct {
	Masters         atomic.Int64
	Instances       atomic.Int64
	InstancesMerged atomic.Int64
	GroupsCompiled  atomic.Int64
	LayersCompiled  atomic.Int64
	ParamBindErrors atomic.Int64
}

// Snapshot returns a plain copy of the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Masters:         s.Masters.Load(),
		Instances:       s.Instances.Load(),
		InstancesMerged: s.InstancesMerged.Load(),
		GroupsCompiled:  s.GroupsCompiled.Load(),
		LayersCompiled:  s.LayersCompiled.Load(),
		ParamBindErrors: s.ParamBindErrors.Load(),
	}
}

// StatsSnapshot is a point-in-time view of Stats.
type StatsSnapshot struct {
	Masters         int64
	Instances       int64
	InstancesMerged int64
	GroupsCompiled  int64
	LayersCompiled  int64
	ParamBindErrors int64
}
