// Package domain holds the data model shared by every storage component:
// events, stream headers, snapshots and archive segments.
//
// Import Path: eventcore.dev/eventcore/internal/domain
package domain

import "time"

// ExpectedVersion encodes the three optimistic-concurrency modes an
// append call may request.
type ExpectedVersion int32

const (
	// ExpectedNew asserts the stream does not yet exist.
	ExpectedNew ExpectedVersion = 0
	// ExpectedAny disables the concurrency check entirely.
	ExpectedAny ExpectedVersion = -1
)

// RetentionMode selects how the archive coordinator treats a stream.
type RetentionMode string

const (
	// RetentionDefault streams are never selected as archive candidates.
	RetentionDefault RetentionMode = "Default"
	// RetentionFullHistory streams are archived but the hot copy is kept.
	RetentionFullHistory RetentionMode = "FullHistory"
	// RetentionColdArchivable streams are archived and the hot copy deleted.
	RetentionColdArchivable RetentionMode = "ColdArchivable"
	// RetentionHardDeletable streams are erased entirely once is_deleted is set.
	RetentionHardDeletable RetentionMode = "HardDeletable"
)

// NewEvent is the caller-supplied shape of one event within an append
// batch, before the hot store assigns stream_version/global_position.
type NewEvent struct {
	StreamNamespace string
	EventType       string
	Payload         []byte
	Metadata        []byte
}

// Event is a fully persisted, immutable fact.
type Event struct {
	GlobalPosition  int64
	Domain          string
	StreamID        string
	StreamVersion   int32
	StreamNamespace string
	EventType       string
	Payload         []byte
	Metadata        []byte
	CreatedUTC      time.Time
}

// StreamHeader is the one-row-per-stream bookkeeping record.
type StreamHeader struct {
	Domain               string
	StreamID             string
	LastVersion          int32
	LastPosition         int64
	RetentionMode        RetentionMode
	IsDeleted            bool
	ArchiveCutoffVersion *int32
	ArchivedAt           *time.Time
}

// CutoffSet reports whether the header has an archive cutoff.
func (h *StreamHeader) CutoffSet() bool {
	return h.ArchiveCutoffVersion != nil
}

// Snapshot is the last-writer-wins, latest-only per-stream snapshot blob.
type Snapshot struct {
	StreamID      string
	StreamVersion int32
	Payload       []byte
	CreatedUTC    time.Time
}

// SegmentStatus distinguishes active (readable) segments from anything else.
type SegmentStatus int32

// SegmentActive is the only status that participates in reads.
const SegmentActive SegmentStatus = 1

// ArchiveSegment is one committed cold NDJSON file and its registry row.
type ArchiveSegment struct {
	SegmentID       int64
	MinPosition     int64
	MaxPosition     int64
	FileName        string
	Status          SegmentStatus
	StreamNamespace string
}

// Overlaps reports whether two segments' inclusive position ranges intersect.
func (s ArchiveSegment) Overlaps(other ArchiveSegment) bool {
	return s.MinPosition <= other.MaxPosition && s.MaxPosition >= other.MinPosition
}
