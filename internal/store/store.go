// Package store defines the capability-narrow interfaces that the archive
// coordinator and combined feed consume without branching on backend
// (postgres, embedded sqlite). A composition root picks a concrete
// implementation by tagged-variant dispatch on config.Backend; nothing
// above this package imports a driver directly.
//
// Import Path: eventcore.dev/eventcore/internal/store
package store

import (
	"context"

	"eventcore.dev/eventcore/internal/domain"
)

// HotStore is the append-and-read surface over the relational backing
// store (spec §4.1). Implementations own the stream-header invariants.
type HotStore interface {
	// Append writes events atomically: version assignment, global-position
	// assignment, and header upsert happen in one transaction.
	// defaultRetentionMode is stamped on a newly created header only; an
	// existing header's retention_mode is left untouched (spec §4.1 step
	// 6). The policy lookup itself lives in the retention policy
	// provider, a layer above this interface (spec §4.7); callers resolve
	// it before calling Append.
	Append(ctx context.Context, domainName, streamID string, expected domain.ExpectedVersion, events []domain.NewEvent, defaultRetentionMode domain.RetentionMode) (newLastVersion int32, err error)

	// ReadStream returns events with stream_version >= fromVersionInclusive,
	// optionally filtered by namespace, ascending, capped at maxCount.
	ReadStream(ctx context.Context, domainName, streamID, namespace string, fromVersionInclusive int32, maxCount int) ([]domain.Event, error)

	// ReadAllForwards returns one page of events with global_position >
	// fromPositionExclusive, optionally filtered by domain/namespace, in
	// strict global-position order. Each call is one independent
	// read-only transaction; the caller drives pagination by feeding the
	// last returned position back in as fromPositionExclusive.
	ReadAllForwards(ctx context.Context, domainName, namespace string, fromPositionExclusive int64, batchSize int) ([]domain.Event, error)

	GetStreamHeader(ctx context.Context, domainName, streamID string) (*domain.StreamHeader, error)
	GetMaxStreamVersion(ctx context.Context, domainName, streamID string) (int32, error)
	GetMinGlobalPosition(ctx context.Context) (int64, bool, error)
}

// ArchiveStore is the subset of hot-store operations the archive
// coordinator needs beyond HotStore: candidate discovery and the
// archive-and-{keep,delete}/hard-delete sub-protocols (spec §4.5).
type ArchiveStore interface {
	// CandidateHeaders returns headers matching the candidate query:
	// (retention_mode in {ColdArchivable, FullHistory} and cutoff set and
	// not deleted) or (retention_mode = HardDeletable and is_deleted).
	CandidateHeaders(ctx context.Context) ([]domain.StreamHeader, error)

	// EventsUpToCutoff returns hot events for the stream with
	// stream_version <= cutoff, ordered by global_position.
	EventsUpToCutoff(ctx context.Context, domainName, streamID string, cutoff int32) ([]domain.Event, error)

	// DeleteEventsInRange deletes hot events for (domain, streamID) with
	// global_position in [minPos, maxPos]. Used by archive-and-delete.
	DeleteEventsInRange(ctx context.Context, domainName, streamID string, minPos, maxPos int64) error

	// HardDeleteStream deletes all events and the header for (domain,
	// streamID) in one transaction. Irreversible.
	HardDeleteStream(ctx context.Context, domainName, streamID string) error
}

// HotDelete names the hot-store range an archive-and-delete commit must
// erase once its segment is durably registered (spec §4.5 step 7).
type HotDelete struct {
	Domain      string
	StreamID    string
	MinPosition int64
	MaxPosition int64
}

// SegmentRegistry is the authoritative list of committed cold segments
// (spec §4.3). CommitSegment enforces the non-overlap invariant inside
// the same transaction that inserts the row.
type SegmentRegistry interface {
	GetActiveSegments(ctx context.Context) ([]domain.ArchiveSegment, error)

	// CommitSegment checks for overlap against existing active segments
	// first (spec §4.5 step 4); only if none is found does it invoke
	// writeFile (step 5), insert the registry row (step 6), and — only for
	// archive-and-delete, when del is non-nil — delete the hot range named
	// by del (step 7), all within the same transaction (steps 3-8).
	// Returns ok=false (no error) and performs neither writeFile nor the
	// hot delete when an overlap was found — "no file is written" and no
	// hot events are deleted either. del is nil for archive-and-keep,
	// which never deletes hot events.
	CommitSegment(ctx context.Context, seg domain.ArchiveSegment, writeFile func() error, del *HotDelete) (ok bool, err error)
}

// SnapshotStore persists opaque per-stream snapshots and advances the
// archive cutoff (spec §4.4).
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap domain.Snapshot) error
	GetLatestSnapshot(ctx context.Context, streamID string) (*domain.Snapshot, error)

	// TryAdvanceArchiveCutoff sets the header's archive_cutoff_version to
	// newCutoff only if unset or strictly less. Returns whether it moved.
	TryAdvanceArchiveCutoff(ctx context.Context, domainName, streamID string, newCutoff int32) (advanced bool, err error)
}

// ConnectionProvider produces short-lived handles to the backing store
// and owns schema lifecycle concerns the core does not specify (table
// DDL is explicitly out of scope, spec §1); it exists so the composition
// root can close pools cleanly.
type ConnectionProvider interface {
	HotStore
	ArchiveStore
	SegmentRegistry
	SnapshotStore

	Close()
}

// SaveSnapshotAndAdvanceCutoff is the composite operation from spec §4.4:
// save, then try-advance; a try-advance that returns false is not an
// error — the snapshot is already durable either way.
func SaveSnapshotAndAdvanceCutoff(ctx context.Context, s SnapshotStore, domainName, streamID string, version int32, payload []byte, newCutoff int32) (advanced bool, err error) {
	if err := s.SaveSnapshot(ctx, domain.Snapshot{
		StreamID:      streamID,
		StreamVersion: version,
		Payload:       payload,
	}); err != nil {
		return false, err
	}
	return s.TryAdvanceArchiveCutoff(ctx, domainName, streamID, newCutoff)
}
