package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/i-z-z-y/wpdrive-client/internal/conflictname"
	"github.com/i-z-z-y/wpdrive-client/internal/pathutil"
	"github.com/i-z-z-y/wpdrive-client/internal/store"
	"github.com/i-z-z-y/wpdrive-client/internal/wpapi"
)

const bytesPerMiB = 1024 * 1024

// pushOneFile uploads one local file, adaptively halving the chunk
// size on a transient server error and retrying at the same offset.
func (e *Engine) pushOneFile(ctx context.Context, relPath string, info *LocalFileInfo) error {
	if !info.crcValid {
		crc, err := pathutil.CRC32File(info.AbsPath)
		if err != nil {
			return err
		}

		info.CRC32 = crc
		info.crcValid = true
	}

	state, err := e.store.GetFile(ctx, relPath)
	if err != nil {
		return err
	}

	var baseRev int64
	if state != nil {
		baseRev = state.ServerRev
	}

	deviceID, err := e.store.DeviceID(ctx)
	if err != nil {
		return err
	}

	e.logger.Info("sync: uploading", "rel_path", relPath, "base_rev", baseRev)

	init, err := e.client.UploadInit(ctx, relPath, info.Size, info.Mtime, info.CRC32, baseRev, deviceID, e.deviceLabel())
	if err != nil {
		return fmt.Errorf("upload_init: %w", err)
	}

	if err := e.uploadChunks(ctx, init.UploadID, info); err != nil {
		return err
	}

	fin, err := e.client.UploadFinalize(ctx, init.UploadID)
	if err != nil {
		return fmt.Errorf("upload_finalize: %w", err)
	}

	finalRelPath, finalAbsPath, err := e.applyServerRename(relPath, fin.RelPath)
	if err != nil {
		return err
	}

	return e.refreshStateAfterUpload(ctx, finalRelPath, finalAbsPath, fin.Rev)
}

// uploadChunks performs the adaptive chunked upload loop: on a
// transient APIError status it halves the chunk size (floored at
// MinChunkSizeMB) and retries the same offset; any other error, or a
// failure already at the floor, propagates.
func (e *Engine) uploadChunks(ctx context.Context, uploadID string, info *LocalFileInfo) error {
	chunkMB := e.cfg.ChunkSizeMB
	if chunkMB <= 0 {
		chunkMB = 32
	}

	minMB := e.cfg.MinChunkSizeMB
	if minMB <= 0 {
		minMB = 4
	}

	f, err := os.Open(info.AbsPath)
	if err != nil {
		return fmt.Errorf("opening %s for upload: %w", info.AbsPath, err)
	}
	defer f.Close()

	var offset int64

	for offset < info.Size {
		want := int64(chunkMB) * bytesPerMiB
		if remaining := info.Size - offset; want > remaining {
			want = remaining
		}

		data := make([]byte, want)

		if _, err := f.ReadAt(data, offset); err != nil {
			return fmt.Errorf("reading chunk at offset %d: %w", offset, err)
		}

		err := e.client.UploadChunk(ctx, uploadID, offset, data)
		if err == nil {
			offset += int64(len(data))
			continue
		}

		var apiErr *wpapi.APIError
		if errors.As(err, &apiErr) && apiErr.Retryable() {
			newMB := chunkMB / 2
			if newMB < minMB {
				newMB = minMB
			}

			if newMB < 1 {
				newMB = 1
			}

			if newMB < chunkMB {
				e.logger.Warn("sync: chunk upload failed, backing off",
					"status", apiErr.StatusCode, "from_mb", chunkMB, "to_mb", newMB)

				chunkMB = newMB

				continue
			}
		}

		return fmt.Errorf("upload_chunk at offset %d: %w", offset, err)
	}

	return nil
}

// applyServerRename honors a server-decided conflict rename: if the
// finalized rel_path differs from what was requested, the local file
// is moved to match, invoking the conflict namer if the destination
// is already occupied.
func (e *Engine) applyServerRename(requestedRelPath, serverRelPath string) (relPath, absPath string, err error) {
	if serverRelPath == requestedRelPath || serverRelPath == "" {
		return requestedRelPath, filepath.Join(e.cfg.Root, filepath.FromSlash(requestedRelPath)), nil
	}

	src := filepath.Join(e.cfg.Root, filepath.FromSlash(requestedRelPath))
	dstRel := serverRelPath
	dst := filepath.Join(e.cfg.Root, filepath.FromSlash(dstRel))

	if _, statErr := os.Stat(dst); statErr == nil {
		dstRel = conflictname.Resolve(serverRelPath, e.deviceLabel(), time.Now(), func(candidate string) bool {
			_, err := os.Stat(filepath.Join(e.cfg.Root, filepath.FromSlash(candidate)))
			return err == nil
		})
		dst = filepath.Join(e.cfg.Root, filepath.FromSlash(dstRel))
	}

	if err := pathutil.EnsureDir(filepath.Dir(dst)); err != nil {
		return "", "", err
	}

	e.logger.Info("sync: server conflict rename", "requested", requestedRelPath, "final", dstRel)

	if _, statErr := os.Stat(src); statErr == nil {
		if err := os.Rename(src, dst); err != nil {
			return "", "", fmt.Errorf("renaming %s to server-decided path %s: %w", src, dstRel, err)
		}
	}

	return dstRel, dst, nil
}

func (e *Engine) refreshStateAfterUpload(ctx context.Context, relPath, absPath string, rev int64) error {
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("stat %s after upload: %w", absPath, err)
	}

	crc, err := pathutil.CRC32File(absPath)
	if err != nil {
		return err
	}

	return e.store.UpsertFile(ctx, store.FileState{
		RelPath:   relPath,
		Size:      info.Size(),
		Mtime:     info.ModTime().Unix(),
		CRC32:     crc,
		ServerRev: rev,
	})
}
