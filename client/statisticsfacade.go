package client

import (
	"github.com/nimbusdb/goclient/internal/stats"
)

// Statistics exposes spec.md §6's `statistics.*`: snapshot/reset/summary/
// by-node, permitted only when StatisticsEnabled is set. NodeConnection
// answers directly from its own collection; ClusterConnection fans out
// across children and summarizes, per spec.md §4.6.
type Statistics struct {
	conn Connection
}

// NewStatistics constructs the statistics facade for conn.
func NewStatistics(conn Connection) *Statistics {
	return &Statistics{conn: conn}
}

func (s *Statistics) guard() error {
	if !s.conn.settings().StatisticsEnabled {
		return newError(PermissionDenied, "statistics_enabled is false")
	}
	return nil
}

// Lifetime returns the never-reset lifetime snapshot (summarized across
// children for a cluster connection).
func (s *Statistics) Lifetime() (stats.Snapshot, error) {
	if err := s.guard(); err != nil {
		return stats.Snapshot{}, err
	}
	return s.conn.statisticsSource().lifetime(), nil
}

// ByProcedure returns a snapshot per procedure name.
func (s *Statistics) ByProcedure() (map[string]stats.Snapshot, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	return s.conn.statisticsSource().byProcedure(), nil
}

// ByNode returns a snapshot per endpoint — a single entry for a standalone
// node connection, one per pool member for a cluster connection.
func (s *Statistics) ByNode() (map[string]stats.Snapshot, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	return s.conn.statisticsSource().byNode(), nil
}

// Summary returns the associative/commutative aggregation (spec.md §4.3)
// over every procedure's counters.
func (s *Statistics) Summary() (stats.Snapshot, error) {
	if err := s.guard(); err != nil {
		return stats.Snapshot{}, err
	}
	byProc := s.conn.statisticsSource().byProcedure()
	snaps := make([]stats.Snapshot, 0, len(byProc))
	for _, snap := range byProc {
		snaps = append(snaps, snap)
	}
	return stats.Summarize(snaps), nil
}

// Reset clears every per-procedure counter (not the lifetime counter).
func (s *Statistics) Reset(ignorePending bool) error {
	if err := s.guard(); err != nil {
		return err
	}
	s.conn.statisticsSource().reset(ignorePending)
	return nil
}
