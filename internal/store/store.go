// Package store implements the crash-consistent durable state store:
// FileState rows keyed by rel_path, and a Meta key/value table holding
// last_change_id and device_id.
package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// walJournalSizeLimit caps how large the WAL file is allowed to grow
// before SQLite truncates it back down on checkpoint.
const walJournalSizeLimit = 64 * 1024 * 1024

// FileState is the durable row for one rel_path.
type FileState struct {
	RelPath   string
	Size      int64
	Mtime     int64
	CRC32     uint32
	ServerRev int64
}

// metaLastChangeID and metaDeviceID are the reserved Meta keys.
const (
	metaLastChangeID = "last_change_id"
	metaDeviceID     = "device_id"
)

// Store is the durable state backend the sync engine reads and writes.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	stmts statements
}

type statements struct {
	getMeta    *sql.Stmt
	setMeta    *sql.Stmt
	getFile    *sql.Stmt
	upsertFile *sql.Stmt
	deleteFile *sql.Stmt
	listFiles  *sql.Stmt
}

// stmtDef maps a SQL string to the prepared statement pointer it
// populates, eliminating repetitive error handling across Open.
type stmtDef struct {
	dest **sql.Stmt
	sql  string
	name string
}

const (
	sqlGetMeta    = `SELECT value FROM meta WHERE key = ?`
	sqlSetMeta    = `INSERT INTO meta(key, value) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	sqlGetFile    = `SELECT size, mtime, crc32, server_rev FROM files WHERE rel_path = ?`
	sqlUpsertFile = `INSERT INTO files(rel_path, size, mtime, crc32, server_rev) VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(rel_path) DO UPDATE SET
			size = excluded.size, mtime = excluded.mtime, crc32 = excluded.crc32, server_rev = excluded.server_rev`
	sqlDeleteFile = `DELETE FROM files WHERE rel_path = ?`
	sqlListFiles  = `SELECT rel_path, size, mtime, crc32, server_rev FROM files`
)

// Open opens (creating if absent) the SQLite-backed store at dbPath,
// sets WAL pragmas, runs embedded migrations, and prepares statements.
// dbPath may be ":memory:" for tests.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("opening state database", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", dbPath, err)
	}

	ctx := context.Background()

	if err := setPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger}

	if err := s.prepare(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: preparing statements: %w", err)
	}

	logger.Info("state database ready", "path", dbPath)

	return s, nil
}

// setPragmas configures SQLite for WAL mode with synchronous=NORMAL.
func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []struct {
		stmt string
		desc string
	}{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = NORMAL", "synchronous NORMAL"},
		{"PRAGMA foreign_keys = ON", "foreign keys"},
		{fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit), "journal size limit"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.stmt); err != nil {
			return fmt.Errorf("store: set pragma %s: %w", p.desc, err)
		}
	}

	return nil
}

func (s *Store) prepare(ctx context.Context) error {
	defs := []stmtDef{
		{&s.stmts.getMeta, sqlGetMeta, "getMeta"},
		{&s.stmts.setMeta, sqlSetMeta, "setMeta"},
		{&s.stmts.getFile, sqlGetFile, "getFile"},
		{&s.stmts.upsertFile, sqlUpsertFile, "upsertFile"},
		{&s.stmts.deleteFile, sqlDeleteFile, "deleteFile"},
		{&s.stmts.listFiles, sqlListFiles, "listFiles"},
	}

	for i := range defs {
		stmt, err := s.db.PrepareContext(ctx, defs[i].sql)
		if err != nil {
			return fmt.Errorf("store: prepare %s: %w", defs[i].name, err)
		}

		*defs[i].dest = stmt
	}

	return nil
}

// Close releases prepared statements and the underlying connection.
func (s *Store) Close() error {
	for _, stmt := range []*sql.Stmt{
		s.stmts.getMeta, s.stmts.setMeta, s.stmts.getFile,
		s.stmts.upsertFile, s.stmts.deleteFile, s.stmts.listFiles,
	} {
		if stmt != nil {
			stmt.Close()
		}
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: closing: %w", err)
	}

	return nil
}

// GetMeta returns the value for key, or ("", false) if unset.
func (s *Store) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var value string

	err := s.stmts.getMeta.QueryRowContext(ctx, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("store: get meta %s: %w", key, err)
	}

	return value, true, nil
}

// SetMeta durably upserts key=value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	if _, err := s.stmts.setMeta.ExecContext(ctx, key, value); err != nil {
		return fmt.Errorf("store: set meta %s: %w", key, err)
	}

	return nil
}

// LastChangeID returns the durable cursor into the remote change log,
// defaulting to 0 when unset.
func (s *Store) LastChangeID(ctx context.Context) (int64, error) {
	value, ok, err := s.GetMeta(ctx, metaLastChangeID)
	if err != nil {
		return 0, err
	}

	if !ok {
		return 0, nil
	}

	var id int64
	if _, err := fmt.Sscanf(value, "%d", &id); err != nil {
		return 0, fmt.Errorf("store: parsing last_change_id %q: %w", value, err)
	}

	return id, nil
}

// SetLastChangeID durably advances the cursor.
func (s *Store) SetLastChangeID(ctx context.Context, id int64) error {
	return s.SetMeta(ctx, metaLastChangeID, fmt.Sprintf("%d", id))
}

// DeviceID returns the stable per-root device identifier, generating
// and persisting a fresh random one on first use.
func (s *Store) DeviceID(ctx context.Context) (string, error) {
	value, ok, err := s.GetMeta(ctx, metaDeviceID)
	if err != nil {
		return "", err
	}

	if ok {
		return value, nil
	}

	raw := uuid.New()
	id := hex.EncodeToString(raw[:])

	if err := s.SetMeta(ctx, metaDeviceID, id); err != nil {
		return "", err
	}

	return id, nil
}

// GetFile returns the FileState for relPath, or (nil, nil) if absent —
// the store's not-found convention throughout this package.
func (s *Store) GetFile(ctx context.Context, relPath string) (*FileState, error) {
	var fs FileState
	fs.RelPath = relPath

	err := s.stmts.getFile.QueryRowContext(ctx, relPath).Scan(&fs.Size, &fs.Mtime, &fs.CRC32, &fs.ServerRev)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("store: get file %s: %w", relPath, err)
	}

	return &fs, nil
}

// UpsertFile durably writes fs, creating or replacing the row.
func (s *Store) UpsertFile(ctx context.Context, fs FileState) error {
	_, err := s.stmts.upsertFile.ExecContext(ctx, fs.RelPath, fs.Size, fs.Mtime, fs.CRC32, fs.ServerRev)
	if err != nil {
		return fmt.Errorf("store: upsert file %s: %w", fs.RelPath, err)
	}

	return nil
}

// DeleteFile removes the FileState row for relPath, if any.
func (s *Store) DeleteFile(ctx context.Context, relPath string) error {
	if _, err := s.stmts.deleteFile.ExecContext(ctx, relPath); err != nil {
		return fmt.Errorf("store: delete file %s: %w", relPath, err)
	}

	return nil
}

// ListFiles returns every FileState row, in no particular order;
// callers sort as needed.
func (s *Store) ListFiles(ctx context.Context) ([]FileState, error) {
	rows, err := s.stmts.listFiles.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list files: %w", err)
	}
	defer rows.Close()

	var out []FileState

	for rows.Next() {
		var fs FileState
		if err := rows.Scan(&fs.RelPath, &fs.Size, &fs.Mtime, &fs.CRC32, &fs.ServerRev); err != nil {
			return nil, fmt.Errorf("store: scanning file row: %w", err)
		}

		out = append(out, fs)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating file rows: %w", err)
	}

	return out, nil
}

// Checkpoint truncates the WAL file back into the main database file,
// useful after a large batch of writes (e.g. a full initial sync).
func (s *Store) Checkpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("store: checkpoint: %w", err)
	}

	return nil
}
