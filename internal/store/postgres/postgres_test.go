package postgres

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"eventcore.dev/eventcore/internal/config"
	"eventcore.dev/eventcore/internal/domain"
	coreerrors "eventcore.dev/eventcore/internal/pkg/errors"
	"eventcore.dev/eventcore/internal/pkg/logger"
	"eventcore.dev/eventcore/internal/store"
	"eventcore.dev/eventcore/internal/testutil"
)

func init() {
	_ = logger.Init("error", "json")
}

// newTestStore opens a Store against an isolated schema on the PostgreSQL
// instance named by TEST_DATABASE_URL/DATABASE_URL. The test fails when
// neither is set, since this package's correctness inherently depends
// on real transaction isolation (serializable writes, FOR UPDATE locking)
// that no in-process fake can stand in for.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := testutil.OpenSchemaDSN(t, "eventcore")
	u, err := url.Parse(dsn)
	require.NoError(t, err)
	schema := u.Query().Get("search_path")

	ctx := context.Background()
	s, err := Open(ctx, config.DatabaseConfig{ConnectionString: dsn, MaxConns: 5, MinConns: 1}, config.StoreConfig{Name: "test", SchemaName: schema})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.EnsureSchema(ctx))
	return s
}

func TestAppend_NewStreamAssignsVersionsFromOne(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lastVersion, err := s.Append(ctx, "orders", "s1", domain.ExpectedNew, []domain.NewEvent{
		{StreamNamespace: "ns", EventType: "Created", Payload: []byte("a")},
		{StreamNamespace: "ns", EventType: "Updated", Payload: []byte("b")},
	}, domain.RetentionColdArchivable)
	require.NoError(t, err)
	require.Equal(t, int32(2), lastVersion)

	events, err := s.ReadStream(ctx, "orders", "s1", "", 1, 100)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, int32(1), events[0].StreamVersion)
	require.Equal(t, int32(2), events[1].StreamVersion)
}

func TestAppend_ExpectedNewRejectsExistingStream(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, "orders", "s1", domain.ExpectedNew, []domain.NewEvent{
		{StreamNamespace: "ns", EventType: "Created"},
	}, domain.RetentionColdArchivable)
	require.NoError(t, err)

	_, err = s.Append(ctx, "orders", "s1", domain.ExpectedNew, []domain.NewEvent{
		{StreamNamespace: "ns", EventType: "Created"},
	}, domain.RetentionColdArchivable)
	require.ErrorIs(t, err, coreerrors.ErrConcurrencyConflict)
}

func TestAppend_ExactVersionMismatchIsConcurrencyConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, "orders", "s1", domain.ExpectedNew, []domain.NewEvent{
		{StreamNamespace: "ns", EventType: "Created"},
	}, domain.RetentionColdArchivable)
	require.NoError(t, err)

	_, err = s.Append(ctx, "orders", "s1", domain.ExpectedVersion(9), []domain.NewEvent{
		{StreamNamespace: "ns", EventType: "Updated"},
	}, domain.RetentionColdArchivable)
	require.ErrorIs(t, err, coreerrors.ErrConcurrencyConflict)
}

func TestAppend_ExpectedAnyNeverConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Append(ctx, "orders", "s1", domain.ExpectedAny, []domain.NewEvent{
			{StreamNamespace: "ns", EventType: "Created"},
		}, domain.RetentionColdArchivable)
		require.NoError(t, err)
	}

	version, err := s.GetMaxStreamVersion(ctx, "orders", "s1")
	require.NoError(t, err)
	require.Equal(t, int32(3), version)
}

func TestAppend_IsDeletedRejectsFurtherAppends(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, "orders", "s1", domain.ExpectedNew, []domain.NewEvent{
		{StreamNamespace: "ns", EventType: "Created"},
	}, domain.RetentionHardDeletable)
	require.NoError(t, err)

	_, err = s.pool.Exec(ctx, `UPDATE `+s.table("streams")+` SET is_deleted = true WHERE domain = $1 AND stream_id = $2`, "orders", "s1")
	require.NoError(t, err)

	_, err = s.Append(ctx, "orders", "s1", domain.ExpectedAny, []domain.NewEvent{
		{StreamNamespace: "ns", EventType: "Updated"},
	}, domain.RetentionHardDeletable)
	require.ErrorIs(t, err, coreerrors.ErrStreamClosed)
}

func TestReadAllForwards_GlobalOrderAcrossStreams(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, "orders", "s1", domain.ExpectedNew, []domain.NewEvent{{StreamNamespace: "ns", EventType: "A"}}, domain.RetentionColdArchivable)
	require.NoError(t, err)
	_, err = s.Append(ctx, "orders", "s2", domain.ExpectedNew, []domain.NewEvent{{StreamNamespace: "ns", EventType: "B"}}, domain.RetentionColdArchivable)
	require.NoError(t, err)

	events, err := s.ReadAllForwards(ctx, "orders", "", 0, 100)
	require.NoError(t, err)
	require.Len(t, events, 2)
	for i := 1; i < len(events); i++ {
		require.Greater(t, events[i].GlobalPosition, events[i-1].GlobalPosition)
	}
}

func TestCandidateHeaders_MatchesStateMachineQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, "d", "never", domain.ExpectedNew, []domain.NewEvent{{StreamNamespace: "ns", EventType: "E"}}, domain.RetentionDefault)
	require.NoError(t, err)

	_, err = s.Append(ctx, "d", "with-cutoff", domain.ExpectedNew, []domain.NewEvent{{StreamNamespace: "ns", EventType: "E"}}, domain.RetentionColdArchivable)
	require.NoError(t, err)
	advanced, err := s.TryAdvanceArchiveCutoff(ctx, "d", "with-cutoff", 1)
	require.NoError(t, err)
	require.True(t, advanced)

	candidates, err := s.CandidateHeaders(ctx)
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, c := range candidates {
		seen[c.StreamID] = true
	}
	require.True(t, seen["with-cutoff"])
	require.False(t, seen["never"])
}

func TestCommitSegment_RejectsOverlapAndSkipsFileWrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var writeCalls int
	ok, err := s.CommitSegment(ctx, domain.ArchiveSegment{MinPosition: 1, MaxPosition: 10, FileName: "a", Status: domain.SegmentActive}, func() error {
		writeCalls++
		return nil
	}, nil)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.CommitSegment(ctx, domain.ArchiveSegment{MinPosition: 5, MaxPosition: 15, FileName: "b", Status: domain.SegmentActive}, func() error {
		writeCalls++
		return nil
	}, nil)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 1, writeCalls, "writeFile must not run for the overlapping segment")
}

func TestCommitSegment_DeleteHotRunsInSameTransactionAsInsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, "orders", "s1", domain.ExpectedNew, []domain.NewEvent{
		{StreamNamespace: "ns", EventType: "A"},
		{StreamNamespace: "ns", EventType: "B"},
	}, domain.RetentionColdArchivable)
	require.NoError(t, err)

	events, err := s.ReadStream(ctx, "orders", "s1", "", 1, 100)
	require.NoError(t, err)
	require.Len(t, events, 2)
	minPos, maxPos := events[0].GlobalPosition, events[1].GlobalPosition

	ok, err := s.CommitSegment(ctx, domain.ArchiveSegment{
		MinPosition: minPos, MaxPosition: maxPos, FileName: "events.ndjson", Status: domain.SegmentActive,
	}, func() error { return nil }, &store.HotDelete{Domain: "orders", StreamID: "s1", MinPosition: minPos, MaxPosition: maxPos})
	require.NoError(t, err)
	require.True(t, ok)

	remaining, err := s.ReadStream(ctx, "orders", "s1", "", 1, 100)
	require.NoError(t, err)
	require.Empty(t, remaining, "hot delete must have run as part of the same committed transaction as the segment insert")
}

func TestSnapshotAndCutoff_AdvanceIsMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, "orders", "s1", domain.ExpectedNew, []domain.NewEvent{{StreamNamespace: "ns", EventType: "E"}}, domain.RetentionColdArchivable)
	require.NoError(t, err)

	require.NoError(t, s.SaveSnapshot(ctx, domain.Snapshot{StreamID: "s1", StreamVersion: 1, Payload: []byte("snap")}))

	advanced, err := s.TryAdvanceArchiveCutoff(ctx, "orders", "s1", 1)
	require.NoError(t, err)
	require.True(t, advanced)

	advanced, err = s.TryAdvanceArchiveCutoff(ctx, "orders", "s1", 0)
	require.NoError(t, err)
	require.False(t, advanced)

	snap, err := s.GetLatestSnapshot(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, int32(1), snap.StreamVersion)
}

func TestHardDeleteStream_RemovesEventsAndHeader(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, "orders", "s1", domain.ExpectedNew, []domain.NewEvent{{StreamNamespace: "ns", EventType: "E"}}, domain.RetentionHardDeletable)
	require.NoError(t, err)

	require.NoError(t, s.HardDeleteStream(ctx, "orders", "s1"))

	header, err := s.GetStreamHeader(ctx, "orders", "s1")
	require.NoError(t, err)
	require.Nil(t, header)
}
