package engine

import "sync/atomic"

// Stats mirrors the reference component's SST_ELI_DOCUMENT_STATISTICS
// block and spec.md §6.6: running counters with no guarantee of atomicity
// across counters (each counter is independently consistent, the set as a
// whole is not a snapshot).
type Stats struct {
	Inserts             atomic.Uint64
	Searches            atomic.Uint64
	Deletes             atomic.Uint64 // unused: delete has no async implementation, see DESIGN.md
	RemoteReads         atomic.Uint64
	RemoteWrites        atomic.Uint64
	TotalLatencyNanos   atomic.Uint64
	OperationsCompleted atomic.Uint64
}

func (s *Stats) recordRead()             { s.RemoteReads.Add(1) }
func (s *Stats) recordWrite()            { s.RemoteWrites.Add(1) }
func (s *Stats) recordInsert()           { s.Inserts.Add(1) }
func (s *Stats) recordSearch()           { s.Searches.Add(1) }
func (s *Stats) recordCompletion(latencyNanos int64) {
	s.OperationsCompleted.Add(1)
	if latencyNanos > 0 {
		s.TotalLatencyNanos.Add(uint64(latencyNanos))
	}
}

// Snapshot is a point-in-time, non-atomic-as-a-whole copy for reporting.
type Snapshot struct {
	Inserts, Searches, Deletes             uint64
	RemoteReads, RemoteWrites              uint64
	TotalLatencyNanos, OperationsCompleted uint64
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Inserts:             s.Inserts.Load(),
		Searches:            s.Searches.Load(),
		Deletes:             s.Deletes.Load(),
		RemoteReads:         s.RemoteReads.Load(),
		RemoteWrites:        s.RemoteWrites.Load(),
		TotalLatencyNanos:   s.TotalLatencyNanos.Load(),
		OperationsCompleted: s.OperationsCompleted.Load(),
	}
}
