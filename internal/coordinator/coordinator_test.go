package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"eventcore.dev/eventcore/internal/archive"
	"eventcore.dev/eventcore/internal/domain"
	"eventcore.dev/eventcore/internal/pkg/logger"
	"eventcore.dev/eventcore/internal/store"
)

func init() {
	_ = logger.Init("error", "json")
}

type fakeStore struct {
	mu sync.Mutex

	candidates []domain.StreamHeader
	events     map[string][]domain.Event // key: domain+"/"+streamID

	hardDeleted     []string
	deletedRanges   []string
	committedSegs   []domain.ArchiveSegment
	overlapStreamID string // if set, CommitSegment reports an overlap for a segment whose StreamNamespace equals it
	commitErr       error
	candidatesErr   error
	eventsErr       error
}

func key(domainName, streamID string) string { return domainName + "/" + streamID }

func (f *fakeStore) CandidateHeaders(context.Context) ([]domain.StreamHeader, error) {
	if f.candidatesErr != nil {
		return nil, f.candidatesErr
	}
	return f.candidates, nil
}

func (f *fakeStore) EventsUpToCutoff(_ context.Context, domainName, streamID string, _ int32) ([]domain.Event, error) {
	if f.eventsErr != nil {
		return nil, f.eventsErr
	}
	return f.events[key(domainName, streamID)], nil
}

func (f *fakeStore) DeleteEventsInRange(_ context.Context, domainName, streamID string, minPos, maxPos int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedRanges = append(f.deletedRanges, key(domainName, streamID))
	return nil
}

func (f *fakeStore) HardDeleteStream(_ context.Context, domainName, streamID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hardDeleted = append(f.hardDeleted, key(domainName, streamID))
	return nil
}

func (f *fakeStore) GetActiveSegments(context.Context) ([]domain.ArchiveSegment, error) {
	return nil, nil
}

func (f *fakeStore) CommitSegment(_ context.Context, seg domain.ArchiveSegment, writeFile func() error, del *store.HotDelete) (bool, error) {
	if f.commitErr != nil {
		return false, f.commitErr
	}
	// simulate overlap detection for a designated stream, exercising the
	// "no file is written, no hot delete" contract.
	if f.overlapStreamID != "" && seg.StreamNamespace == f.overlapStreamID {
		return false, nil
	}
	if err := writeFile(); err != nil {
		return false, err
	}
	f.mu.Lock()
	f.committedSegs = append(f.committedSegs, seg)
	if del != nil {
		f.deletedRanges = append(f.deletedRanges, key(del.Domain, del.StreamID))
	}
	f.mu.Unlock()
	return true, nil
}

var _ Store = (*fakeStore)(nil)

func cutoff(v int32) *int32 { return &v }

func TestArchive_HardDeletableNotYetDeletedIsSkipped(t *testing.T) {
	fake := &fakeStore{
		candidates: []domain.StreamHeader{
			{Domain: "orders", StreamID: "s1", RetentionMode: domain.RetentionHardDeletable, IsDeleted: false},
		},
	}
	c := New(fake, mustArchiveStore(t), nil)

	result, err := c.Archive(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Skipped)
	require.Empty(t, fake.hardDeleted)
}

func TestArchive_HardDeletableDeletedIsHardDeleted(t *testing.T) {
	fake := &fakeStore{
		candidates: []domain.StreamHeader{
			{Domain: "orders", StreamID: "s1", RetentionMode: domain.RetentionHardDeletable, IsDeleted: true},
		},
	}
	c := New(fake, mustArchiveStore(t), nil)

	result, err := c.Archive(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.StreamsHardDeleted)
	require.Equal(t, []string{"orders/s1"}, fake.hardDeleted)
}

func TestArchive_NoCutoffIsSkipped(t *testing.T) {
	fake := &fakeStore{
		candidates: []domain.StreamHeader{
			{Domain: "orders", StreamID: "s1", RetentionMode: domain.RetentionColdArchivable},
		},
	}
	c := New(fake, mustArchiveStore(t), nil)

	result, err := c.Archive(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Skipped)
}

func TestArchive_ColdArchivableWritesSegmentAndDeletesHot(t *testing.T) {
	header := domain.StreamHeader{Domain: "orders", StreamID: "s1", RetentionMode: domain.RetentionColdArchivable, ArchiveCutoffVersion: cutoff(2)}
	events := []domain.Event{
		{GlobalPosition: 1, Domain: "orders", StreamID: "s1", StreamVersion: 1, StreamNamespace: "ns", EventType: "Created"},
		{GlobalPosition: 2, Domain: "orders", StreamID: "s1", StreamVersion: 2, StreamNamespace: "ns", EventType: "Updated"},
	}
	fake := &fakeStore{
		candidates: []domain.StreamHeader{header},
		events:     map[string][]domain.Event{"orders/s1": events},
	}
	c := New(fake, mustArchiveStore(t), nil)

	result, err := c.Archive(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.SegmentsWritten)
	require.Len(t, fake.committedSegs, 1)
	require.Equal(t, []string{"orders/s1"}, fake.deletedRanges)
}

func TestArchive_FullHistoryWritesSegmentButKeepsHot(t *testing.T) {
	header := domain.StreamHeader{Domain: "orders", StreamID: "s1", RetentionMode: domain.RetentionFullHistory, ArchiveCutoffVersion: cutoff(1)}
	events := []domain.Event{
		{GlobalPosition: 1, Domain: "orders", StreamID: "s1", StreamVersion: 1, StreamNamespace: "ns", EventType: "Created"},
	}
	fake := &fakeStore{
		candidates: []domain.StreamHeader{header},
		events:     map[string][]domain.Event{"orders/s1": events},
	}
	c := New(fake, mustArchiveStore(t), nil)

	result, err := c.Archive(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.SegmentsWritten)
	require.Empty(t, fake.deletedRanges, "FullHistory must keep the hot copy")
}

func TestArchive_DefaultModeIsNeverACandidateButIfSeenIsSkipped(t *testing.T) {
	fake := &fakeStore{
		candidates: []domain.StreamHeader{
			{Domain: "orders", StreamID: "s1", RetentionMode: domain.RetentionDefault},
		},
	}
	c := New(fake, mustArchiveStore(t), nil)

	result, err := c.Archive(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Skipped)
}

func TestArchive_OverlapDetectedWritesNoFileAndIsNotAnError(t *testing.T) {
	header := domain.StreamHeader{Domain: "orders", StreamID: "s1", RetentionMode: domain.RetentionColdArchivable, ArchiveCutoffVersion: cutoff(1)}
	events := []domain.Event{
		{GlobalPosition: 1, Domain: "orders", StreamID: "s1", StreamVersion: 1, StreamNamespace: "dup-ns", EventType: "Created"},
	}
	fake := &fakeStore{
		candidates:      []domain.StreamHeader{header},
		events:          map[string][]domain.Event{"orders/s1": events},
		overlapStreamID: "dup-ns",
	}
	archiveStore := mustArchiveStore(t)
	c := New(fake, archiveStore, nil)

	result, err := c.Archive(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, result.SegmentsWritten)
	require.Equal(t, 1, result.Skipped)
	require.Empty(t, fake.committedSegs)
	require.Empty(t, fake.deletedRanges, "overlap must skip the hot delete along with the file write")

	_, _, ok, err := archiveStore.GetRange()
	require.NoError(t, err)
	require.False(t, ok, "no file should have been written when overlap was detected")
}

func TestArchive_PerStreamErrorIsAccumulatedNotRaised(t *testing.T) {
	archivableHeader := domain.StreamHeader{Domain: "orders", StreamID: "s2", RetentionMode: domain.RetentionColdArchivable, ArchiveCutoffVersion: cutoff(1)}
	fake := &fakeStore{
		candidates: []domain.StreamHeader{archivableHeader},
		eventsErr:  errors.New("read failed"),
	}
	c := New(fake, mustArchiveStore(t), nil)

	result, err := c.Archive(context.Background())
	require.NoError(t, err, "Archive itself must not fail on a per-stream error")
	require.Len(t, result.Errors, 1)
}

func TestArchive_CandidateListingFailureIsReturnedAsError(t *testing.T) {
	fake := &fakeStore{candidatesErr: errors.New("db unreachable")}
	c := New(fake, mustArchiveStore(t), nil)

	_, err := c.Archive(context.Background())
	require.Error(t, err)
}

func mustArchiveStore(t *testing.T) *archive.Store {
	t.Helper()
	s, err := archive.Open(t.TempDir())
	require.NoError(t, err)
	return s
}
