// Package archivejob wires the archive coordinator's archive() run into
// a River periodic job, so it runs on a schedule instead of requiring a
// host application to poll it manually.
//
// Import Path: eventcore.dev/eventcore/internal/archivejob
package archivejob

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"eventcore.dev/eventcore/internal/coordinator"
	"eventcore.dev/eventcore/internal/pkg/logger"
)

// ArchiveRunArgs is a periodic/triggered job that runs one archive()
// pass. Zero-value args: one archive run covers every candidate stream,
// there is nothing to parameterize per spec §4.5.
type ArchiveRunArgs struct{}

// Kind returns the job kind identifier for archive runs.
func (ArchiveRunArgs) Kind() string { return "archive_run" }

// InsertOpts ensures at most one archive run is queued within the same
// minute; a trigger arriving while one is already pending is a no-op
// rather than a pile-up.
func (ArchiveRunArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 3,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: time.Minute,
			ByQueue:  true,
		},
	}
}

// Worker runs the archive coordinator's archive() pass as a River job.
type Worker struct {
	river.WorkerDefaults[ArchiveRunArgs]
	coord *coordinator.Coordinator
}

// NewWorker constructs the River worker around a Coordinator.
func NewWorker(coord *coordinator.Coordinator) *Worker {
	return &Worker{coord: coord}
}

// Work runs one archive() pass and logs the summarized result. Per-stream
// failures are accumulated inside the Result, not returned as a job
// failure, matching the archive() contract's "never raises on per-stream
// failure" guarantee (spec §4.5); a failure to even list candidates is a
// genuine job failure and is returned so River retries it.
func (w *Worker) Work(ctx context.Context, _ *river.Job[ArchiveRunArgs]) error {
	if w.coord == nil {
		return fmt.Errorf("archive job worker is not initialized")
	}

	result, err := w.coord.Archive(ctx)
	if err != nil {
		return fmt.Errorf("archive run: %w", err)
	}

	logger.Info("scheduled archive run completed",
		zap.String("run_id", result.RunID),
		zap.Int("candidates_seen", result.CandidatesSeen),
		zap.Int("segments_written", result.SegmentsWritten),
		zap.Int("streams_hard_deleted", result.StreamsHardDeleted),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", len(result.Errors)),
	)
	for _, perStreamErr := range result.Errors {
		logger.Warn("archive run: per-stream failure", zap.Error(perStreamErr))
	}

	return nil
}

// PeriodicInterval builds the river.PeriodicJob that triggers an archive
// run on the configured interval (config.RiverConfig.ArchiveInterval).
func PeriodicInterval(interval time.Duration) *river.PeriodicJob {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) {
			return ArchiveRunArgs{}, nil
		},
		&river.PeriodicJobOpts{RunOnStart: false},
	)
}
