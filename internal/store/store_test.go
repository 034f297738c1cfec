package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"eventcore.dev/eventcore/internal/domain"
)

type fakeSnapshotStore struct {
	saved        []domain.Snapshot
	saveErr      error
	advanceErr   error
	advanceCalls []int32
	advanceOK    bool
}

func (f *fakeSnapshotStore) SaveSnapshot(_ context.Context, snap domain.Snapshot) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, snap)
	return nil
}

func (f *fakeSnapshotStore) GetLatestSnapshot(context.Context, string) (*domain.Snapshot, error) {
	if len(f.saved) == 0 {
		return nil, nil
	}
	last := f.saved[len(f.saved)-1]
	return &last, nil
}

func (f *fakeSnapshotStore) TryAdvanceArchiveCutoff(_ context.Context, _, _ string, newCutoff int32) (bool, error) {
	f.advanceCalls = append(f.advanceCalls, newCutoff)
	if f.advanceErr != nil {
		return false, f.advanceErr
	}
	return f.advanceOK, nil
}

var _ SnapshotStore = (*fakeSnapshotStore)(nil)

func TestSaveSnapshotAndAdvanceCutoff_SavesThenAdvances(t *testing.T) {
	fake := &fakeSnapshotStore{advanceOK: true}

	advanced, err := SaveSnapshotAndAdvanceCutoff(context.Background(), fake, "orders", "s1", 10, []byte("payload"), 10)
	require.NoError(t, err)
	require.True(t, advanced)
	require.Len(t, fake.saved, 1)
	require.Equal(t, int32(10), fake.saved[0].StreamVersion)
	require.Equal(t, []int32{10}, fake.advanceCalls)
}

func TestSaveSnapshotAndAdvanceCutoff_FalseAdvanceIsNotAnError(t *testing.T) {
	fake := &fakeSnapshotStore{advanceOK: false}

	advanced, err := SaveSnapshotAndAdvanceCutoff(context.Background(), fake, "orders", "s1", 5, nil, 3)
	require.NoError(t, err)
	require.False(t, advanced)
}

func TestSaveSnapshotAndAdvanceCutoff_SaveErrorSkipsAdvance(t *testing.T) {
	fake := &fakeSnapshotStore{saveErr: errors.New("disk full")}

	advanced, err := SaveSnapshotAndAdvanceCutoff(context.Background(), fake, "orders", "s1", 5, nil, 3)
	require.Error(t, err)
	require.False(t, advanced)
	require.Empty(t, fake.advanceCalls, "must not try to advance cutoff when the snapshot save failed")
}

func TestSaveSnapshotAndAdvanceCutoff_AdvanceErrorPropagates(t *testing.T) {
	fake := &fakeSnapshotStore{advanceErr: errors.New("conflict")}

	_, err := SaveSnapshotAndAdvanceCutoff(context.Background(), fake, "orders", "s1", 5, nil, 3)
	require.Error(t, err)
}
