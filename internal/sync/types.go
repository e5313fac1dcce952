// Package sync implements the pull-then-push sync cycle:
// applying remote changes, then scanning and pushing local changes,
// with adaptive chunked uploads and conflict-preserving renames.
package sync

import (
	"context"
	"io"

	"github.com/i-z-z-y/wpdrive-client/internal/store"
	"github.com/i-z-z-y/wpdrive-client/internal/wpapi"
)

// LocalFileInfo is the transient, per-scan view of a file.
type LocalFileInfo struct {
	AbsPath string
	Size    int64
	Mtime   int64
	CRC32   uint32
	// crcValid tracks whether CRC32 has been computed yet, so
	// pushOneFile does not rehash a file the upload planner already
	// hashed.
	crcValid bool
}

// Client is the subset of the remote API the engine consumes. Defined
// here (the consumer) rather than in wpapi, per "accept interfaces,
// return structs": tests inject a fake implementation.
type Client interface {
	Changes(ctx context.Context, since int64, limit int) (*wpapi.ChangesResponse, error)
	UploadInit(ctx context.Context, relPath string, size, mtime int64, crc32 uint32, baseRev int64, deviceID, deviceLabel string) (*wpapi.UploadInitResponse, error)
	UploadChunk(ctx context.Context, uploadID string, offset int64, data []byte) error
	UploadFinalize(ctx context.Context, uploadID string) (*wpapi.UploadFinalizeResponse, error)
	Delete(ctx context.Context, relPath, deviceID string) error
	DownloadStream(ctx context.Context, relPath string) (io.ReadCloser, error)
}

var _ Client = (*wpapi.Client)(nil)

// Store is the subset of the state store the engine consumes.
type Store interface {
	LastChangeID(ctx context.Context) (int64, error)
	SetLastChangeID(ctx context.Context, id int64) error
	DeviceID(ctx context.Context) (string, error)
	GetFile(ctx context.Context, relPath string) (*store.FileState, error)
	UpsertFile(ctx context.Context, fs store.FileState) error
	DeleteFile(ctx context.Context, relPath string) error
	ListFiles(ctx context.Context) ([]store.FileState, error)
	Checkpoint(ctx context.Context) error
}

var _ Store = (*store.Store)(nil)
