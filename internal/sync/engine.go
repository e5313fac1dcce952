package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/multierr"

	"github.com/i-z-z-y/wpdrive-client/internal/conflictname"
	"github.com/i-z-z-y/wpdrive-client/internal/pathutil"
	"github.com/i-z-z-y/wpdrive-client/internal/scan"
	"github.com/i-z-z-y/wpdrive-client/internal/store"
	"github.com/i-z-z-y/wpdrive-client/internal/wpapi"
)

// changesPageLimit is the page size passed to Changes while paging
// through the remote change log.
const changesPageLimit = 500

// Config configures one Engine instance.
type Config struct {
	Root           string
	Ignore         []string
	ChunkSizeMB    int
	MinChunkSizeMB int
	DeviceLabel    string
}

// Engine runs one sync cycle: pull, then push.
type Engine struct {
	cfg     Config
	client  Client
	store   Store
	scanner *scan.Scanner
	logger  *slog.Logger

	controlDir string
	tmpDir     string
}

// New builds an Engine. The caller owns client/store lifecycle.
func New(cfg Config, client Client, st Store, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	scanner, err := scan.New(cfg.Ignore, logger)
	if err != nil {
		return nil, fmt.Errorf("sync: building scanner: %w", err)
	}

	controlDir := filepath.Join(cfg.Root, ".wpdrive")
	tmpDir := filepath.Join(controlDir, "tmp")

	if err := pathutil.EnsureDir(tmpDir); err != nil {
		return nil, err
	}

	return &Engine{
		cfg:        cfg,
		client:     client,
		store:      st,
		scanner:    scanner,
		logger:     logger,
		controlDir: controlDir,
		tmpDir:     tmpDir,
	}, nil
}

// SyncOnce runs exactly one pull-then-push cycle.
func (e *Engine) SyncOnce(ctx context.Context) error {
	if _, err := os.Stat(e.cfg.Root); err != nil {
		return fmt.Errorf("sync: root does not exist: %w", err)
	}

	e.logger.Info("sync: cycle starting", "root", e.cfg.Root)

	if err := e.pullChanges(ctx); err != nil {
		return fmt.Errorf("sync: pull phase: %w", err)
	}

	if err := e.pushLocalChanges(ctx); err != nil {
		return fmt.Errorf("sync: push phase: %w", err)
	}

	if err := e.store.Checkpoint(ctx); err != nil {
		e.logger.Warn("sync: wal checkpoint failed", "error", err)
	}

	e.logger.Info("sync: cycle complete")

	return nil
}

// deviceLabel resolves the label used in conflict file names, falling
// back to the local hostname when none is configured.
func (e *Engine) deviceLabel() string {
	if e.cfg.DeviceLabel != "" {
		return e.cfg.DeviceLabel
	}

	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}

	return "device"
}

// -----------------------------------------------------------------
// Pull phase
// -----------------------------------------------------------------

func (e *Engine) pullChanges(ctx context.Context) error {
	since, err := e.store.LastChangeID(ctx)
	if err != nil {
		return err
	}

	nextSince := since
	e.logger.Info("sync: pulling changes", "since", since)

	for {
		page, err := e.client.Changes(ctx, nextSince, changesPageLimit)
		if err != nil {
			return fmt.Errorf("fetching changes since %d: %w", nextSince, err)
		}

		if len(page.Changes) == 0 {
			break
		}

		deviceID, err := e.store.DeviceID(ctx)
		if err != nil {
			return err
		}

		for _, ch := range page.Changes {
			if ch.DeviceID != "" && ch.DeviceID == deviceID {
				nextSince = ch.ChangeID
				if err := e.store.SetLastChangeID(ctx, nextSince); err != nil {
					return err
				}
				continue
			}

			if ch.RelPath == "" {
				nextSince = ch.ChangeID
				if err := e.store.SetLastChangeID(ctx, nextSince); err != nil {
					return err
				}
				continue
			}

			switch ch.Action {
			case wpapi.ActionUpsert:
				if err := e.applyRemoteUpsert(ctx, ch); err != nil {
					return fmt.Errorf("applying remote upsert %s: %w", ch.RelPath, err)
				}
			case wpapi.ActionDelete:
				if err := e.applyRemoteDelete(ctx, ch); err != nil {
					return fmt.Errorf("applying remote delete %s: %w", ch.RelPath, err)
				}
			default:
				nextSince = ch.ChangeID
				if err := e.store.SetLastChangeID(ctx, nextSince); err != nil {
					return err
				}
				continue
			}

			// The change applied cleanly: advance and durably persist the
			// cursor past it immediately, so a later failure in this same
			// batch only loses progress on the change that actually failed.
			nextSince = ch.ChangeID
			if err := e.store.SetLastChangeID(ctx, nextSince); err != nil {
				return err
			}
		}
	}

	if nextSince != since {
		e.logger.Info("sync: pulled changes", "last_change_id", nextSince)
	}

	return nil
}

func (e *Engine) applyRemoteUpsert(ctx context.Context, ch wpapi.RemoteChange) error {
	absPath := filepath.Join(e.cfg.Root, filepath.FromSlash(ch.RelPath))

	if err := pathutil.EnsureDir(filepath.Dir(absPath)); err != nil {
		return err
	}

	remoteCRC, err := parseCRC32(ch.CRC32)
	if err != nil {
		return fmt.Errorf("parsing remote crc32 %q: %w", ch.CRC32, err)
	}

	if err := e.stashIfLocallyModified(ctx, ch.RelPath, absPath); err != nil {
		return err
	}

	tmpPath := filepath.Join(e.tmpDir, filepath.Base(absPath)+".download.part")
	if err := os.RemoveAll(tmpPath); err != nil {
		return fmt.Errorf("clearing stale temp file %s: %w", tmpPath, err)
	}

	e.logger.Info("sync: downloading", "rel_path", ch.RelPath, "rev", ch.Rev)

	if err := e.downloadToTemp(ctx, ch.RelPath, tmpPath); err != nil {
		return err
	}

	gotCRC, err := pathutil.CRC32File(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return err
	}

	if remoteCRC != 0 && gotCRC != remoteCRC {
		os.Remove(tmpPath)
		return fmt.Errorf("crc mismatch downloading %s: expected %d got %d", ch.RelPath, remoteCRC, gotCRC)
	}

	os.Remove(absPath)

	if err := os.Rename(tmpPath, absPath); err != nil {
		return fmt.Errorf("replacing %s with downloaded content: %w", absPath, err)
	}

	mtime := time.Unix(ch.Mtime, 0)
	_ = os.Chtimes(absPath, mtime, mtime)

	return e.store.UpsertFile(ctx, store.FileState{
		RelPath:   ch.RelPath,
		Size:      ch.Size,
		Mtime:     ch.Mtime,
		CRC32:     gotCRC,
		ServerRev: ch.Rev,
	})
}

// stashIfLocallyModified moves absPath to a conflict copy when its
// current (size, mtime, crc32) has diverged from the recorded
// FileState, preserving unpushed local work before it gets overwritten.
func (e *Engine) stashIfLocallyModified(ctx context.Context, relPath, absPath string) error {
	state, err := e.store.GetFile(ctx, relPath)
	if err != nil {
		return err
	}

	if state == nil {
		return nil
	}

	info, statErr := os.Stat(absPath)
	if statErr != nil {
		return nil // target doesn't exist locally yet
	}

	curSize := info.Size()
	curMtime := info.ModTime().Unix()

	if curSize == state.Size && curMtime == state.Mtime {
		return nil
	}

	curCRC, err := pathutil.CRC32File(absPath)
	if err != nil {
		return err
	}

	if curCRC == state.CRC32 {
		return nil
	}

	return e.moveToConflict(absPath, relPath, "local modified vs state; stashing conflict")
}

func (e *Engine) downloadToTemp(ctx context.Context, relPath, tmpPath string) error {
	body, err := e.client.DownloadStream(ctx, relPath)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", relPath, err)
	}
	defer body.Close()

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp file %s: %w", tmpPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, body); err != nil {
		return fmt.Errorf("writing temp file %s: %w", tmpPath, err)
	}

	return nil
}

func (e *Engine) applyRemoteDelete(ctx context.Context, ch wpapi.RemoteChange) error {
	absPath := filepath.Join(e.cfg.Root, filepath.FromSlash(ch.RelPath))

	if _, err := os.Stat(absPath); errors.Is(err, os.ErrNotExist) {
		return e.store.DeleteFile(ctx, ch.RelPath)
	}

	localCRC, err := pathutil.CRC32File(absPath)
	if err != nil {
		return err
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", absPath, err)
	}

	deletedCRC, crcErr := parseCRC32(ch.DeletedCRC32)
	tombstoneMatches := crcErr == nil && ch.DeletedCRC32 != "" && ch.DeletedSize != nil &&
		localCRC == deletedCRC && info.Size() == *ch.DeletedSize

	if tombstoneMatches {
		e.logger.Info("sync: deleting (matched tombstone)", "rel_path", ch.RelPath)

		if err := os.Remove(absPath); err != nil {
			return fmt.Errorf("removing %s: %w", absPath, err)
		}
	} else {
		if err := e.moveToConflict(absPath, ch.RelPath, "delete mismatch; preserving as conflict"); err != nil {
			return err
		}
	}

	return e.store.DeleteFile(ctx, ch.RelPath)
}

func (e *Engine) moveToConflict(absPath, relPath, reason string) error {
	conflictRel := conflictname.Resolve(relPath, e.deviceLabel(), time.Now(), func(candidate string) bool {
		_, err := os.Stat(filepath.Join(e.cfg.Root, filepath.FromSlash(candidate)))
		return err == nil
	})

	conflictAbs := filepath.Join(e.cfg.Root, filepath.FromSlash(conflictRel))

	if err := pathutil.EnsureDir(filepath.Dir(conflictAbs)); err != nil {
		return err
	}

	e.logger.Info("sync: "+reason, "rel_path", relPath, "conflict_path", conflictRel)

	if err := os.Rename(absPath, conflictAbs); err != nil {
		return fmt.Errorf("moving %s to conflict copy %s: %w", absPath, conflictRel, err)
	}

	return nil
}

// -----------------------------------------------------------------
// Push phase
// -----------------------------------------------------------------

func (e *Engine) pushLocalChanges(ctx context.Context) error {
	current, err := e.scanner.Scan(e.cfg.Root)
	if err != nil {
		return fmt.Errorf("scanning root: %w", err)
	}

	toUpload, err := e.planUploads(ctx, current)
	if err != nil {
		return err
	}

	toDelete, err := e.planDeletes(ctx, current)
	if err != nil {
		return err
	}

	if len(toUpload) == 0 && len(toDelete) == 0 {
		e.logger.Info("sync: no local changes to push")
		return nil
	}

	var errs error

	for _, relPath := range sortedKeys(toUpload) {
		if err := e.pushOneFile(ctx, relPath, toUpload[relPath]); err != nil {
			e.logger.Error("sync: push failed for file", "rel_path", relPath, "error", err)
			errs = multierr.Append(errs, fmt.Errorf("pushing %s: %w", relPath, err))
		}
	}

	for _, relPath := range toDelete {
		if err := e.pushOneDelete(ctx, relPath); err != nil {
			e.logger.Error("sync: push failed for delete", "rel_path", relPath, "error", err)
			errs = multierr.Append(errs, fmt.Errorf("deleting %s: %w", relPath, err))
		}
	}

	return errs
}

func (e *Engine) planUploads(ctx context.Context, current scan.Result) (map[string]*LocalFileInfo, error) {
	toUpload := map[string]*LocalFileInfo{}

	for _, relPath := range current.SortedPaths() {
		absPath := current[relPath]

		info, err := os.Stat(absPath)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", absPath, err)
		}

		lfi := &LocalFileInfo{AbsPath: absPath, Size: info.Size(), Mtime: info.ModTime().Unix()}

		state, err := e.store.GetFile(ctx, relPath)
		if err != nil {
			return nil, err
		}

		if state == nil {
			toUpload[relPath] = lfi
			continue
		}

		if lfi.Size == state.Size && lfi.Mtime == state.Mtime {
			continue
		}

		crc, err := pathutil.CRC32File(absPath)
		if err != nil {
			return nil, err
		}

		lfi.CRC32 = crc
		lfi.crcValid = true

		if crc != state.CRC32 {
			toUpload[relPath] = lfi
			continue
		}

		// Content unchanged, only (size, mtime) drifted: refresh the
		// state row so the cheap fast path succeeds next cycle without
		// recomputing the CRC.
		if err := e.store.UpsertFile(ctx, store.FileState{
			RelPath:   relPath,
			Size:      lfi.Size,
			Mtime:     lfi.Mtime,
			CRC32:     state.CRC32,
			ServerRev: state.ServerRev,
		}); err != nil {
			return nil, err
		}
	}

	return toUpload, nil
}

func (e *Engine) planDeletes(ctx context.Context, current scan.Result) ([]string, error) {
	files, err := e.store.ListFiles(ctx)
	if err != nil {
		return nil, err
	}

	var toDelete []string

	for _, fs := range files {
		if _, ok := current[fs.RelPath]; !ok {
			toDelete = append(toDelete, fs.RelPath)
		}
	}

	sort.Strings(toDelete)

	return toDelete, nil
}

func (e *Engine) pushOneDelete(ctx context.Context, relPath string) error {
	e.logger.Info("sync: deleting remote", "rel_path", relPath)

	deviceID, err := e.store.DeviceID(ctx)
	if err != nil {
		return err
	}

	if err := e.client.Delete(ctx, relPath, deviceID); err != nil {
		return err
	}

	return e.store.DeleteFile(ctx, relPath)
}

func sortedKeys(m map[string]*LocalFileInfo) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

func parseCRC32(s string) (uint32, error) {
	if s == "" {
		return 0, nil
	}

	var v uint64

	_, err := fmt.Sscanf(s, "%d", &v)
	if err != nil {
		return 0, err
	}

	return uint32(v), nil
}
