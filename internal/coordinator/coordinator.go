// Package coordinator implements the archive coordinator (spec §4.5):
// traversal of candidate stream headers and dispatch to one of four
// retention behaviors, each guarded by the segment registry's overlap
// check.
//
// Import Path: eventcore.dev/eventcore/internal/coordinator
package coordinator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"eventcore.dev/eventcore/internal/archive"
	"eventcore.dev/eventcore/internal/domain"
	"eventcore.dev/eventcore/internal/pkg/logger"
	"eventcore.dev/eventcore/internal/pkg/worker"
	"eventcore.dev/eventcore/internal/store"
)

// Store is the capability surface the coordinator needs: archive
// operations and the segment registry, both narrowed from
// store.ConnectionProvider.
type Store interface {
	store.ArchiveStore
	store.SegmentRegistry
}

// Coordinator runs archive() over every candidate stream (spec §4.5).
// Per-stream work fans out through an Archive worker pool; correctness
// across concurrently-processed streams is enforced by the segment
// registry's overlap check, not by pool isolation (§5: "serializes per
// segment via the overlap check inside its transaction").
type Coordinator struct {
	store   Store
	archive *archive.Store
	pools   *worker.Pools
}

// New constructs a Coordinator over the given store and cold archive,
// fanning per-stream work out through pools.
func New(s Store, coldArchive *archive.Store, pools *worker.Pools) *Coordinator {
	return &Coordinator{store: s, archive: coldArchive, pools: pools}
}

// Result summarizes one archive() run, useful for logging and for the
// periodic job wrapper (internal/archivejob) to report outcomes.
type Result struct {
	RunID            string
	CandidatesSeen   int
	SegmentsWritten  int
	StreamsHardDeleted int
	Skipped          int
	Errors           []error
}

// Archive implements the archive() contract (spec §4.5): it never
// raises on a well-formed per-stream operation's failure, accumulating
// errors in the result instead; a crash mid-operation leaves the system
// consistent because every sub-protocol commits atomically or not at
// all.
func (c *Coordinator) Archive(ctx context.Context) (*Result, error) {
	runID := uuid.NewString()
	result := &Result{RunID: runID}

	candidates, err := c.store.CandidateHeaders(ctx)
	if err != nil {
		return nil, fmt.Errorf("list archive candidates: %w", err)
	}
	result.CandidatesSeen = len(candidates)

	logger.Info("archive run starting",
		zap.String("run_id", runID),
		zap.Int("candidates", len(candidates)),
	)

	type outcome struct {
		wrote       bool
		hardDeleted bool
		skipped     bool
		err         error
	}
	outcomes := make(chan outcome, len(candidates))

	for _, header := range candidates {
		header := header
		task := func(taskCtx context.Context) {
			wrote, hardDeleted, skipped, err := c.processStream(taskCtx, header)
			outcomes <- outcome{wrote: wrote, hardDeleted: hardDeleted, skipped: skipped, err: err}
		}
		if c.pools != nil {
			if err := c.pools.Archive.Submit(ctx, task); err != nil {
				outcomes <- outcome{err: fmt.Errorf("submit stream %s/%s: %w", header.Domain, header.StreamID, err)}
			}
			continue
		}
		task(ctx)
	}

	for range candidates {
		o := <-outcomes
		switch {
		case o.err != nil:
			result.Errors = append(result.Errors, o.err)
		case o.hardDeleted:
			result.StreamsHardDeleted++
		case o.wrote:
			result.SegmentsWritten++
		case o.skipped:
			result.Skipped++
		}
	}

	logger.Info("archive run complete",
		zap.String("run_id", runID),
		zap.Int("segments_written", result.SegmentsWritten),
		zap.Int("hard_deleted", result.StreamsHardDeleted),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", len(result.Errors)),
	)

	return result, nil
}

// processStream applies the retention-mode state machine from spec
// §4.5's table to a single candidate header.
func (c *Coordinator) processStream(ctx context.Context, header domain.StreamHeader) (wrote, hardDeleted, skipped bool, err error) {
	switch header.RetentionMode {
	case domain.RetentionHardDeletable:
		if !header.IsDeleted {
			return false, false, true, nil
		}
		if err := c.store.HardDeleteStream(ctx, header.Domain, header.StreamID); err != nil {
			return false, false, false, fmt.Errorf("hard-delete %s/%s: %w", header.Domain, header.StreamID, err)
		}
		return false, true, false, nil

	case domain.RetentionColdArchivable, domain.RetentionFullHistory:
		if !header.CutoffSet() {
			return false, false, true, nil
		}
		wrote, err := c.archiveAndMaybeDelete(ctx, header, header.RetentionMode == domain.RetentionColdArchivable)
		if err != nil {
			return false, false, false, fmt.Errorf("archive %s/%s: %w", header.Domain, header.StreamID, err)
		}
		return wrote, false, !wrote, nil

	default:
		return false, false, true, nil
	}
}

// archiveAndMaybeDelete implements the archive-and-keep / archive-and-delete
// common sub-protocol (spec §4.5).
func (c *Coordinator) archiveAndMaybeDelete(ctx context.Context, header domain.StreamHeader, deleteHot bool) (bool, error) {
	events, err := c.store.EventsUpToCutoff(ctx, header.Domain, header.StreamID, *header.ArchiveCutoffVersion)
	if err != nil {
		return false, fmt.Errorf("read events up to cutoff: %w", err)
	}
	if len(events) == 0 {
		return false, nil
	}

	minPos := events[0].GlobalPosition
	maxPos := events[len(events)-1].GlobalPosition
	namespace := events[0].StreamNamespace
	fileName := archive.FileName(minPos, maxPos)

	var del *store.HotDelete
	if deleteHot {
		del = &store.HotDelete{
			Domain:      header.Domain,
			StreamID:    header.StreamID,
			MinPosition: minPos,
			MaxPosition: maxPos,
		}
	}

	// CommitSegment runs the overlap check, the file write, the registry
	// insert, and (when del is set) the hot-range delete all inside one
	// transaction (spec §4.5 steps 3-8), so a crash between steps never
	// strands archived events in the hot store nor deletes hot events
	// whose segment never got committed.
	ok, err := c.store.CommitSegment(ctx, domain.ArchiveSegment{
		MinPosition:     minPos,
		MaxPosition:     maxPos,
		FileName:        fileName,
		Status:          domain.SegmentActive,
		StreamNamespace: namespace,
	}, func() error {
		_, writeErr := c.archive.WriteSegment(header.Domain, events)
		return writeErr
	}, del)
	if err != nil {
		return false, fmt.Errorf("commit segment: %w", err)
	}
	if !ok {
		logger.Info("segment overlap detected, skipping commit",
			zap.String("domain", header.Domain),
			zap.String("stream_id", header.StreamID),
			zap.Int64("min_position", minPos),
			zap.Int64("max_position", maxPos),
		)
		return false, nil
	}

	return true, nil
}
