package worktable

import (
	"github.com/pathscale/worktable/cdcindex"
	"github.com/pathscale/worktable/pagestore"
)

// Event is a type-erased cdcindex.ChangeEvent[K] — a Table is generic over
// many index key types (the primary key plus one per secondary index), but
// the persistence engine it forwards batches to is not, so every event
// crosses that boundary with its node identities boxed as any.
type Event struct {
	ID        uint64
	Kind      cdcindex.EventKind
	OldNodeID any
	NodeID    any
	NewNodeID any
	Key       any
	Link      pagestore.Link
}

func eraseEvents[K comparable](evs []cdcindex.ChangeEvent[K]) []Event {
	if evs == nil {
		return nil
	}
	out := make([]Event, len(evs))
	for i, ev := range evs {
		out[i] = Event{
			ID:        ev.ID,
			Kind:      ev.Kind,
			OldNodeID: ev.OldNodeID,
			NodeID:    ev.NodeID,
			NewNodeID: ev.NewNodeID,
			Key:       ev.Entry.Key,
			Link:      ev.Entry.Value,
		}
	}
	return out
}

// Op describes one committed mutation, forwarded to a PersistenceSink in
// the order spec.md §4.8 requires the engine to write it: data first, then
// index events in declared index order.
type Op struct {
	Link            pagestore.Link
	Bytes           []byte
	Deleted         bool
	PrimaryEvents   []Event
	SecondaryEvents map[string][]Event
	// SecondaryOrder is the table's declared secondary-index order, so a
	// persistence engine applies SecondaryEvents in that order rather than
	// Go's unspecified map iteration order.
	SecondaryOrder []string
}

// PersistenceSink receives every committed Op. A *persistence.Engine
// implements this; tests and in-memory-only tables leave it nil.
type PersistenceSink interface {
	Apply(Op) error
}
