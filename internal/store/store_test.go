package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(":memory:", nil)
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, s.Close()) })

	return s
}

func TestDeviceIDStableAcrossCalls(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.DeviceID(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := s.DeviceID(ctx)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestLastChangeIDDefaultsToZero(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.LastChangeID(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), id)

	require.NoError(t, s.SetLastChangeID(ctx, 42))

	id, err = s.LastChangeID(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(42), id)
}

func TestFileStateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	got, err := s.GetFile(ctx, "notes.txt")
	require.NoError(t, err)
	require.Nil(t, got)

	want := FileState{RelPath: "notes.txt", Size: 12, Mtime: 1000, CRC32: 0x1c291ca3, ServerRev: 1}
	require.NoError(t, s.UpsertFile(ctx, want))

	got, err = s.GetFile(ctx, "notes.txt")
	require.NoError(t, err)
	require.Equal(t, want, *got)

	require.NoError(t, s.DeleteFile(ctx, "notes.txt"))

	got, err = s.GetFile(ctx, "notes.txt")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestListFiles(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertFile(ctx, FileState{RelPath: "a.txt", Size: 1, Mtime: 1, CRC32: 1, ServerRev: 1}))
	require.NoError(t, s.UpsertFile(ctx, FileState{RelPath: "b.txt", Size: 2, Mtime: 2, CRC32: 2, ServerRev: 1}))

	files, err := s.ListFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 2)
}
