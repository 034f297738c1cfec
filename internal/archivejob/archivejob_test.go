package archivejob

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/stretchr/testify/require"

	"eventcore.dev/eventcore/internal/archive"
	"eventcore.dev/eventcore/internal/coordinator"
	"eventcore.dev/eventcore/internal/domain"
	"eventcore.dev/eventcore/internal/pkg/logger"
	"eventcore.dev/eventcore/internal/store"
)

func init() {
	_ = logger.Init("error", "json")
}

type fakeStore struct {
	candidates    []domain.StreamHeader
	candidatesErr error
}

func (f *fakeStore) CandidateHeaders(context.Context) ([]domain.StreamHeader, error) {
	if f.candidatesErr != nil {
		return nil, f.candidatesErr
	}
	return f.candidates, nil
}

func (f *fakeStore) EventsUpToCutoff(context.Context, string, string, int32) ([]domain.Event, error) {
	return nil, nil
}

func (f *fakeStore) DeleteEventsInRange(context.Context, string, string, int64, int64) error { return nil }

func (f *fakeStore) HardDeleteStream(context.Context, string, string) error { return nil }

func (f *fakeStore) GetActiveSegments(context.Context) ([]domain.ArchiveSegment, error) { return nil, nil }

func (f *fakeStore) CommitSegment(context.Context, domain.ArchiveSegment, func() error, *store.HotDelete) (bool, error) {
	return true, nil
}

var _ coordinator.Store = (*fakeStore)(nil)

func mustArchiveStore(t *testing.T) *archive.Store {
	t.Helper()
	s, err := archive.Open(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestArchiveRunArgs_KindAndInsertOpts(t *testing.T) {
	args := ArchiveRunArgs{}
	require.Equal(t, "archive_run", args.Kind())

	opts := args.InsertOpts()
	require.Equal(t, river.QueueDefault, opts.Queue)
	require.Equal(t, time.Minute, opts.UniqueOpts.ByPeriod)
	require.True(t, opts.UniqueOpts.ByQueue)
}

func TestWork_SuccessfulRunReturnsNoErrorRegardlessOfSkips(t *testing.T) {
	fake := &fakeStore{candidates: []domain.StreamHeader{
		{Domain: "orders", StreamID: "s1", RetentionMode: domain.RetentionDefault},
	}}
	coord := coordinator.New(fake, mustArchiveStore(t), nil)
	worker := NewWorker(coord)

	err := worker.Work(context.Background(), &river.Job[ArchiveRunArgs]{Args: ArchiveRunArgs{}})
	require.NoError(t, err)
}

func TestWork_CandidateListingFailureIsReturnedForRetry(t *testing.T) {
	fake := &fakeStore{candidatesErr: errors.New("db down")}
	coord := coordinator.New(fake, mustArchiveStore(t), nil)
	worker := NewWorker(coord)

	err := worker.Work(context.Background(), &river.Job[ArchiveRunArgs]{Args: ArchiveRunArgs{}})
	require.Error(t, err)
}

func TestWork_NilCoordinatorFailsFast(t *testing.T) {
	worker := NewWorker(nil)
	err := worker.Work(context.Background(), &river.Job[ArchiveRunArgs]{Args: ArchiveRunArgs{}})
	require.Error(t, err)
}

func TestPeriodicInterval_DefaultsWhenNonPositive(t *testing.T) {
	job := PeriodicInterval(0)
	require.NotNil(t, job)
}

func TestPeriodicInterval_UsesGivenInterval(t *testing.T) {
	job := PeriodicInterval(10 * time.Minute)
	require.NotNil(t, job)
}
