// Package feed implements the combined event feed (spec §4.6): a merge
// iterator interleaving the cold NDJSON archive (filtered by the active
// segment set) and the hot relational store into one deduplicated,
// monotonically increasing-by-global-position sequence.
//
// Import Path: eventcore.dev/eventcore/internal/feed
package feed

import (
	"context"
	"fmt"

	"eventcore.dev/eventcore/internal/archive"
	"eventcore.dev/eventcore/internal/domain"
	coreerrors "eventcore.dev/eventcore/internal/pkg/errors"
	"eventcore.dev/eventcore/internal/store"
)

// Feed merges a cold archive.Store and a hot store.HotStore into one
// forward cursor, per the two-cursor merge algorithm of spec §4.6.
type Feed struct {
	cold archiveReader
	hot  store.HotStore
}

// archiveReader is the subset of archive.Store the feed depends on,
// narrowed so tests can substitute a fake without a real filesystem.
type archiveReader interface {
	ReadAllForwards(domainName string, fromExclusive int64, batchSize int) ([]domain.Event, int64, error)
}

var _ archiveReader = (*archive.Store)(nil)

// New constructs a Feed over the given cold and hot sources.
func New(cold archiveReader, hot store.HotStore) *Feed {
	return &Feed{cold: cold, hot: hot}
}

// Cursor is the resumable read position that NewCursor returns.
// ReadAllForwards advances it in place, so passing the same Cursor to the
// next call continues the sequence. Cursor is not safe for concurrent
// use. The active-segment set it filters cold events against is the
// snapshot NewCursor took; it is not refreshed per call.
type Cursor struct {
	activeSegments []domain.ArchiveSegment
	position       int64
}

// NewCursor snapshots the active segment set once (spec §4.6 step 1) and
// returns a Cursor starting at fromPositionExclusive.
func NewCursor(ctx context.Context, registry store.SegmentRegistry, fromPositionExclusive int64) (*Cursor, error) {
	segments, err := registry.GetActiveSegments(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot active segments: %w", err)
	}
	return &Cursor{activeSegments: segments, position: fromPositionExclusive}, nil
}

// Position reports the cursor's current global position.
func (c *Cursor) Position() int64 { return c.position }

func (c *Cursor) isActive(pos int64) bool {
	for _, seg := range c.activeSegments {
		if pos >= seg.MinPosition && pos <= seg.MaxPosition {
			return true
		}
	}
	return false
}

// ReadAllForwards produces up to batchSize merged events starting from
// the cursor's current position, advancing it in place. Each call reads
// one page from each underlying source and performs the two-cursor
// merge-with-dedup from spec §4.6: on a tie, the cold event wins and
// both sides advance.
func (f *Feed) ReadAllForwards(ctx context.Context, c *Cursor, domainName, namespace string, batchSize int) ([]domain.Event, error) {
	if !domain.ValidateBatchSize(batchSize) {
		return nil, coreerrors.NewInvalidArgument("batch_size", "must be in [1, 10000]")
	}

	coldEvents, coldCursor, err := f.cold.ReadAllForwards(domainName, c.position, batchSize)
	if err != nil {
		return nil, fmt.Errorf("read cold cursor: %w", err)
	}
	filteredColdEvents := filterActive(coldEvents, c)

	hotEvents, err := f.hot.ReadAllForwards(ctx, domainName, namespace, c.position, batchSize)
	if err != nil {
		return nil, fmt.Errorf("read hot cursor: %w", err)
	}

	merged := make([]domain.Event, 0, batchSize)
	ci, hi := 0, 0
	for len(merged) < batchSize && (ci < len(filteredColdEvents) || hi < len(hotEvents)) {
		switch {
		case ci >= len(filteredColdEvents):
			merged = append(merged, hotEvents[hi])
			hi++
		case hi >= len(hotEvents):
			merged = append(merged, filteredColdEvents[ci])
			ci++
		case filteredColdEvents[ci].GlobalPosition == hotEvents[hi].GlobalPosition:
			merged = append(merged, filteredColdEvents[ci])
			ci++
			hi++
		case filteredColdEvents[ci].GlobalPosition < hotEvents[hi].GlobalPosition:
			merged = append(merged, filteredColdEvents[ci])
			ci++
		default:
			merged = append(merged, hotEvents[hi])
			hi++
		}
	}

	switch {
	case len(merged) > 0:
		c.position = merged[len(merged)-1].GlobalPosition
	case len(coldEvents) > 0:
		// The whole cold page was filtered out (an orphaned or superseded
		// segment) and no hot events fell in the same window, so nothing
		// was merged — but the cold cursor still made real progress.
		// Advance to its raw, pre-filter position so the next call doesn't
		// rescan the same exhausted cold page forever.
		c.position = coldCursor
	}

	return merged, nil
}

func filterActive(events []domain.Event, c *Cursor) []domain.Event {
	filtered := events[:0:0]
	for _, e := range events {
		if c.isActive(e.GlobalPosition) {
			filtered = append(filtered, e)
		}
	}
	return filtered
}
