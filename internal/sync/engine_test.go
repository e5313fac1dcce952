package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/i-z-z-y/wpdrive-client/internal/pathutil"
	"github.com/i-z-z-y/wpdrive-client/internal/store"
	"github.com/i-z-z-y/wpdrive-client/internal/wpapi"
)

func newTestEngine(t *testing.T, client Client) (*Engine, *store.Store, string) {
	t.Helper()

	root := t.TempDir()

	st, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })

	cfg := Config{
		Root:           root,
		Ignore:         []string{".wpdrive/**"},
		ChunkSizeMB:    32,
		MinChunkSizeMB: 4,
		DeviceLabel:    "test-device",
	}

	e, err := New(cfg, client, st, nil)
	require.NoError(t, err)

	return e, st, root
}

func TestFreshUpload(t *testing.T) {
	client := newFakeClient()
	e, st, root := newTestEngine(t, client)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hello world!"), 0o644))

	require.NoError(t, e.SyncOnce(ctx))

	require.Equal(t, []string{"notes.txt"}, client.uploadInitCalls)
	require.Equal(t, []int64{0}, client.chunkOffsets)

	fs, err := st.GetFile(ctx, "notes.txt")
	require.NoError(t, err)
	require.NotNil(t, fs)
	require.Equal(t, int64(12), fs.Size)
	require.Equal(t, int64(1), fs.ServerRev)
}

func TestEchoSuppression(t *testing.T) {
	client := newFakeClient()
	e, st, _ := newTestEngine(t, client)
	ctx := context.Background()

	require.NoError(t, st.SetLastChangeID(ctx, 5))

	deviceID, err := st.DeviceID(ctx)
	require.NoError(t, err)

	client.changesPages = [][]wpapi.RemoteChange{
		{{ChangeID: 6, Action: wpapi.ActionUpsert, RelPath: "a.bin", DeviceID: deviceID}},
	}

	require.NoError(t, e.SyncOnce(ctx))

	id, err := st.LastChangeID(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(6), id)
}

func TestRemoteOverwriteWithCleanLocal(t *testing.T) {
	client := newFakeClient()
	e, st, root := newTestEngine(t, client)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("abc"), 0o644))
	crcA, err := pathutil.CRC32File(filepath.Join(root, "a.txt"))
	require.NoError(t, err)

	require.NoError(t, st.UpsertFile(ctx, store.FileState{RelPath: "a.txt", Size: 3, Mtime: mtimeOf(t, root, "a.txt"), CRC32: crcA, ServerRev: 1}))

	client.downloadContent["a.txt"] = []byte("abcd")

	client.changesPages = [][]wpapi.RemoteChange{
		{{ChangeID: 2, Action: wpapi.ActionUpsert, RelPath: "a.txt", Rev: 2, Size: 4, Mtime: 1700000000, CRC32: "3984772369"}},
	}

	require.NoError(t, e.SyncOnce(ctx))

	content, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "abcd", string(content))

	fs, err := st.GetFile(ctx, "a.txt")
	require.NoError(t, err)
	require.Equal(t, int64(2), fs.ServerRev)

	matches, _ := filepath.Glob(filepath.Join(root, "a (conflict*"))
	require.Empty(t, matches)
}

func TestRemoteOverwriteWithLocallyModifiedCreatesConflictCopy(t *testing.T) {
	client := newFakeClient()
	e, st, root := newTestEngine(t, client)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("abc"), 0o644))
	crcA, err := pathutil.CRC32File(filepath.Join(root, "a.txt"))
	require.NoError(t, err)

	// State reflects an older revision: the recorded mtime is stale, which
	// forces the CRC fast-path check, and the recorded CRC doesn't match
	// the file's real content either, revealing a genuine local edit.
	require.NoError(t, st.UpsertFile(ctx, store.FileState{RelPath: "a.txt", Size: 3, Mtime: mtimeOf(t, root, "a.txt") - 100, CRC32: crcA ^ 0xff, ServerRev: 1}))

	client.downloadContent["a.txt"] = []byte("remote-bytes")

	client.changesPages = [][]wpapi.RemoteChange{
		{{ChangeID: 2, Action: wpapi.ActionUpsert, RelPath: "a.txt", Rev: 2, Size: int64(len("remote-bytes")), Mtime: 1700000000}},
	}

	require.NoError(t, e.SyncOnce(ctx))

	matches, _ := filepath.Glob(filepath.Join(root, "a (conflict*"))
	require.Len(t, matches, 1)

	content, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "remote-bytes", string(content))
}

func TestChunkBackoffHalvesUntilSuccess(t *testing.T) {
	client := newFakeClient()
	client.chunkFailuresUntil[0] = 2 // fail at 32MB, fail at 16MB, succeed at 8MB
	client.chunkFailureStatus = 413

	e, _, root := newTestEngine(t, client)
	ctx := context.Background()

	data := make([]byte, 96*1024*1024)
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.bin"), data, 0o644))

	require.NoError(t, e.SyncOnce(ctx))

	// First three attempts at offset 0 (32MB fail, 16MB fail, 8MB ok),
	// then 8MB chunks for the remaining 88MB: 11 more calls.
	require.Len(t, client.chunkOffsets, 3+11)
	require.Equal(t, int64(0), client.chunkOffsets[0])
	require.Equal(t, int64(0), client.chunkOffsets[1])
	require.Equal(t, int64(0), client.chunkOffsets[2])
}

func TestLocalDeletePushesRemoteDelete(t *testing.T) {
	client := newFakeClient()
	e, st, _ := newTestEngine(t, client)
	ctx := context.Background()

	require.NoError(t, st.UpsertFile(ctx, store.FileState{RelPath: "gone.txt", Size: 1, Mtime: 1, CRC32: 1, ServerRev: 4}))

	require.NoError(t, e.SyncOnce(ctx))

	require.Equal(t, []string{"gone.txt"}, client.deletedPaths)

	fs, err := st.GetFile(ctx, "gone.txt")
	require.NoError(t, err)
	require.Nil(t, fs)
}

func mtimeOf(t *testing.T, root, relPath string) int64 {
	t.Helper()

	info, err := os.Stat(filepath.Join(root, relPath))
	require.NoError(t, err)

	return info.ModTime().Unix()
}
