// Package sqlite implements the store capability interfaces
// (eventcore.dev/eventcore/internal/store) over an embedded, single-file
// SQLite database via database/sql and mattn/go-sqlite3. It exists for
// the embedded-backend variant spec §9 requires alongside the
// server-backed relational one: same capability interfaces, a different
// tagged variant at the composition root.
//
// Import Path: eventcore.dev/eventcore/internal/store/sqlite
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"eventcore.dev/eventcore/internal/config"
	"eventcore.dev/eventcore/internal/domain"
	coreerrors "eventcore.dev/eventcore/internal/pkg/errors"
	"eventcore.dev/eventcore/internal/pkg/logger"
	"eventcore.dev/eventcore/internal/store"
)

// Store is the sqlite-backed ConnectionProvider.
//
// SQLite serializes writers at the connection-pool level (a single
// writer connection, WAL mode for concurrent readers); the per-stream
// header lock the postgres backend takes with SELECT ... FOR UPDATE is
// instead provided by appendMu, since SQLite has no row-level locking
// primitive compatible with BEGIN IMMEDIATE across goroutines.
type Store struct {
	db     *sql.DB
	prefix string
	appendMu sync.Mutex
}

// Open creates (or attaches to) the SQLite file named by
// dbCfg.ConnectionString ("" means in-memory, used by tests).
func Open(ctx context.Context, dbCfg config.DatabaseConfig, storeCfg config.StoreConfig) (*Store, error) {
	dsn := dbCfg.ConnectionString
	if dsn == "" {
		dsn = ":memory:"
	}
	dsn += "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer connection, per mattn/go-sqlite3 concurrency guidance

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	logger.Info("sqlite store connected", zap.String("store_name", storeCfg.Name))

	return &Store{db: db, prefix: storeCfg.Name}, nil
}

func (s *Store) Close() {
	s.db.Close()
}

func (s *Store) table(name string) string {
	return fmt.Sprintf(`"%s_%s"`, s.prefix, name)
}

// EnsureSchema creates the four logical tables if absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			domain           TEXT NOT NULL,
			stream_id        TEXT NOT NULL,
			stream_version   INTEGER NOT NULL,
			global_position  INTEGER PRIMARY KEY AUTOINCREMENT,
			stream_namespace TEXT NOT NULL DEFAULT '',
			event_type       TEXT NOT NULL,
			payload          BLOB NOT NULL,
			metadata         BLOB,
			created_utc      TEXT NOT NULL,
			UNIQUE (domain, stream_id, stream_version)
		)`, s.table("events")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			domain                 TEXT NOT NULL,
			stream_id              TEXT NOT NULL,
			last_version           INTEGER NOT NULL DEFAULT 0,
			last_position          INTEGER NOT NULL DEFAULT 0,
			retention_mode         TEXT NOT NULL,
			is_deleted             INTEGER NOT NULL DEFAULT 0,
			archive_cutoff_version INTEGER,
			archived_at            TEXT,
			PRIMARY KEY (domain, stream_id)
		)`, s.table("streams")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			stream_id      TEXT PRIMARY KEY,
			stream_version INTEGER NOT NULL,
			payload        BLOB NOT NULL,
			created_utc    TEXT NOT NULL
		)`, s.table("snapshots")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			segment_id       INTEGER PRIMARY KEY AUTOINCREMENT,
			min_position     INTEGER NOT NULL,
			max_position     INTEGER NOT NULL,
			file_name        TEXT NOT NULL,
			status           INTEGER NOT NULL,
			stream_namespace TEXT NOT NULL DEFAULT '',
			UNIQUE (min_position, max_position)
		)`, s.table("archive_segments")),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Append implements store.HotStore.Append. appendMu plays the role of
// the postgres backend's SELECT ... FOR UPDATE header lock: it is held
// for the duration of the transaction, so two concurrent Append calls
// against this *Store never interleave their read-modify-write of the
// header, matching the per-stream-serialization contract of spec §5
// (a single *Store process is the only writer SQLite realistically
// supports, so this also coincides with "per-stream" in practice).
func (s *Store) Append(ctx context.Context, domainName, streamID string, expected domain.ExpectedVersion, events []domain.NewEvent, defaultRetentionMode domain.RetentionMode) (int32, error) {
	if !domain.ValidateDomain(domainName) {
		return 0, coreerrors.NewInvalidArgument("domain", "must be non-empty and <= 100 chars")
	}
	if !domain.ValidateStreamID(streamID) {
		return 0, coreerrors.NewInvalidArgument("stream_id", "must be non-empty and <= 200 chars")
	}
	if len(events) == 0 {
		return 0, coreerrors.NewInvalidArgument("events", "batch must not be empty")
	}
	for _, e := range events {
		if e.StreamNamespace == "" {
			return 0, coreerrors.NewInvalidArgument("stream_namespace", "must be non-empty")
		}
		if e.EventType == "" {
			return 0, coreerrors.NewInvalidArgument("event_type", "must be non-empty")
		}
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: 0})
	if err != nil {
		return 0, coreerrors.NewBackend(fmt.Errorf("begin append tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	header, err := s.readHeader(ctx, tx, domainName, streamID, defaultRetentionMode)
	if err != nil {
		return 0, coreerrors.NewBackend(fmt.Errorf("read header: %w", err))
	}

	if header.IsDeleted {
		return 0, coreerrors.NewStreamClosed(domainName, streamID)
	}
	if expected != domain.ExpectedAny && int32(expected) != header.LastVersion {
		return 0, coreerrors.NewConcurrencyConflict(streamID, int64(expected), int64(header.LastVersion))
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	lastVersion := header.LastVersion
	var lastPosition int64

	for _, e := range events {
		lastVersion++
		res, err := tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (domain, stream_id, stream_version, stream_namespace, event_type, payload, metadata, created_utc)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, s.table("events")),
			domainName, streamID, lastVersion, e.StreamNamespace, e.EventType, e.Payload, nullableBytes(e.Metadata), now,
		)
		if err != nil {
			if isUniqueViolation(err) {
				actual, probeErr := s.GetMaxStreamVersion(ctx, domainName, streamID)
				if probeErr != nil {
					return 0, coreerrors.NewBackend(fmt.Errorf("re-probe version after race: %w", probeErr))
				}
				return 0, coreerrors.NewConcurrencyConflict(streamID, int64(expected), int64(actual))
			}
			return 0, coreerrors.NewBackend(fmt.Errorf("insert event: %w", err))
		}
		lastPosition, err = res.LastInsertId()
		if err != nil {
			return 0, coreerrors.NewBackend(fmt.Errorf("read last insert id: %w", err))
		}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (domain, stream_id, last_version, last_position, retention_mode, is_deleted)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT (domain, stream_id) DO UPDATE SET
			last_version = excluded.last_version,
			last_position = excluded.last_position`, s.table("streams")),
		domainName, streamID, lastVersion, lastPosition, string(header.RetentionMode),
	); err != nil {
		return 0, coreerrors.NewBackend(fmt.Errorf("upsert header: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return 0, coreerrors.NewBackend(fmt.Errorf("commit append tx: %w", err))
	}

	return lastVersion, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) readHeader(ctx context.Context, q queryRower, domainName, streamID string, defaultRetentionMode domain.RetentionMode) (*domain.StreamHeader, error) {
	h := &domain.StreamHeader{Domain: domainName, StreamID: streamID, RetentionMode: defaultRetentionMode}
	var retentionMode string
	var isDeleted int
	var cutoff sql.NullInt64
	var archivedAt sql.NullString

	row := q.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT last_version, last_position, retention_mode, is_deleted, archive_cutoff_version, archived_at
		FROM %s WHERE domain = ? AND stream_id = ?`, s.table("streams")),
		domainName, streamID,
	)
	err := row.Scan(&h.LastVersion, &h.LastPosition, &retentionMode, &isDeleted, &cutoff, &archivedAt)
	switch {
	case err == nil:
		h.RetentionMode = domain.RetentionMode(retentionMode)
		h.IsDeleted = isDeleted != 0
		if cutoff.Valid {
			v := int32(cutoff.Int64)
			h.ArchiveCutoffVersion = &v
		}
		if archivedAt.Valid {
			t, parseErr := time.Parse(time.RFC3339Nano, archivedAt.String)
			if parseErr == nil {
				h.ArchivedAt = &t
			}
		}
		return h, nil
	case errors.Is(err, sql.ErrNoRows):
		return h, nil
	default:
		return nil, err
	}
}

// ReadStream implements store.HotStore.ReadStream.
func (s *Store) ReadStream(ctx context.Context, domainName, streamID, namespace string, fromVersionInclusive int32, maxCount int) ([]domain.Event, error) {
	if !domain.ValidateBatchSize(maxCount) {
		return nil, coreerrors.NewInvalidArgument("max_count", "must be in [1, 10000]")
	}

	query := fmt.Sprintf(`
		SELECT global_position, domain, stream_id, stream_version, stream_namespace, event_type, payload, metadata, created_utc
		FROM %s WHERE domain = ? AND stream_id = ? AND stream_version >= ?`, s.table("events"))
	args := []any{domainName, streamID, fromVersionInclusive}
	if namespace != "" {
		query += " AND stream_namespace = ?"
		args = append(args, namespace)
	}
	query += " ORDER BY stream_version ASC LIMIT ?"
	args = append(args, maxCount)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, coreerrors.NewBackend(fmt.Errorf("read_stream query: %w", err))
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ReadAllForwards implements store.HotStore.ReadAllForwards: one
// independent read-only transaction per page.
func (s *Store) ReadAllForwards(ctx context.Context, domainName, namespace string, fromPositionExclusive int64, batchSize int) ([]domain.Event, error) {
	if !domain.ValidateBatchSize(batchSize) {
		return nil, coreerrors.NewInvalidArgument("batch_size", "must be in [1, 10000]")
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, coreerrors.NewBackend(fmt.Errorf("begin read_all_forwards tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf(`
		SELECT global_position, domain, stream_id, stream_version, stream_namespace, event_type, payload, metadata, created_utc
		FROM %s WHERE global_position > ?`, s.table("events"))
	args := []any{fromPositionExclusive}
	if domainName != "" {
		query += " AND domain = ?"
		args = append(args, domainName)
	}
	if namespace != "" {
		query += " AND stream_namespace = ?"
		args = append(args, namespace)
	}
	query += " ORDER BY global_position ASC LIMIT ?"
	args = append(args, batchSize)

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, coreerrors.NewBackend(fmt.Errorf("read_all_forwards query: %w", err))
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	return events, tx.Commit()
}

// GetStreamHeader implements store.HotStore.GetStreamHeader.
func (s *Store) GetStreamHeader(ctx context.Context, domainName, streamID string) (*domain.StreamHeader, error) {
	h, err := s.readHeader(ctx, s.db, domainName, streamID, "")
	if err != nil {
		return nil, coreerrors.NewBackend(fmt.Errorf("get_stream_header: %w", err))
	}
	if h.LastVersion == 0 && h.RetentionMode == "" {
		return nil, nil
	}
	return h, nil
}

// GetMaxStreamVersion implements store.HotStore.GetMaxStreamVersion.
func (s *Store) GetMaxStreamVersion(ctx context.Context, domainName, streamID string) (int32, error) {
	var version int32
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COALESCE(MAX(stream_version), 0) FROM %s WHERE domain = ? AND stream_id = ?`, s.table("events")),
		domainName, streamID,
	).Scan(&version)
	if err != nil {
		return 0, coreerrors.NewBackend(fmt.Errorf("get_max_stream_version: %w", err))
	}
	return version, nil
}

// GetMinGlobalPosition implements store.HotStore.GetMinGlobalPosition.
func (s *Store) GetMinGlobalPosition(ctx context.Context) (int64, bool, error) {
	var pos sql.NullInt64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT MIN(global_position) FROM %s`, s.table("events"))).Scan(&pos)
	if err != nil {
		return 0, false, coreerrors.NewBackend(fmt.Errorf("get_min_global_position: %w", err))
	}
	if !pos.Valid {
		return 0, false, nil
	}
	return pos.Int64, true, nil
}

// CandidateHeaders implements store.ArchiveStore.CandidateHeaders.
func (s *Store) CandidateHeaders(ctx context.Context) ([]domain.StreamHeader, error) {
	query := fmt.Sprintf(`
		SELECT domain, stream_id, last_version, last_position, retention_mode, is_deleted, archive_cutoff_version, archived_at
		FROM %s
		WHERE (retention_mode IN (?, ?) AND archive_cutoff_version IS NOT NULL AND is_deleted = 0)
		   OR (retention_mode = ? AND is_deleted = 1)
	`, s.table("streams"))

	rows, err := s.db.QueryContext(ctx, query, string(domain.RetentionColdArchivable), string(domain.RetentionFullHistory), string(domain.RetentionHardDeletable))
	if err != nil {
		return nil, coreerrors.NewBackend(fmt.Errorf("candidate_headers query: %w", err))
	}
	defer rows.Close()

	var headers []domain.StreamHeader
	for rows.Next() {
		var h domain.StreamHeader
		var retentionMode string
		var isDeleted int
		var cutoff sql.NullInt64
		var archivedAt sql.NullString
		if err := rows.Scan(&h.Domain, &h.StreamID, &h.LastVersion, &h.LastPosition, &retentionMode, &isDeleted, &cutoff, &archivedAt); err != nil {
			return nil, coreerrors.NewBackend(fmt.Errorf("scan candidate header: %w", err))
		}
		h.RetentionMode = domain.RetentionMode(retentionMode)
		h.IsDeleted = isDeleted != 0
		if cutoff.Valid {
			v := int32(cutoff.Int64)
			h.ArchiveCutoffVersion = &v
		}
		headers = append(headers, h)
	}
	return headers, rows.Err()
}

// EventsUpToCutoff implements store.ArchiveStore.EventsUpToCutoff.
func (s *Store) EventsUpToCutoff(ctx context.Context, domainName, streamID string, cutoff int32) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT global_position, domain, stream_id, stream_version, stream_namespace, event_type, payload, metadata, created_utc
		FROM %s WHERE domain = ? AND stream_id = ? AND stream_version <= ?
		ORDER BY global_position ASC`, s.table("events")),
		domainName, streamID, cutoff,
	)
	if err != nil {
		return nil, coreerrors.NewBackend(fmt.Errorf("events_up_to_cutoff query: %w", err))
	}
	defer rows.Close()
	return scanEvents(rows)
}

// DeleteEventsInRange implements store.ArchiveStore.DeleteEventsInRange.
func (s *Store) DeleteEventsInRange(ctx context.Context, domainName, streamID string, minPos, maxPos int64) error {
	return s.deleteEventsInRange(ctx, s.db, domainName, streamID, minPos, maxPos)
}

// execer is satisfied by both *sql.DB and *sql.Tx, letting
// deleteEventsInRange run either standalone or inside CommitSegment's
// transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) deleteEventsInRange(ctx context.Context, ex execer, domainName, streamID string, minPos, maxPos int64) error {
	_, err := ex.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE domain = ? AND stream_id = ? AND global_position BETWEEN ? AND ?`, s.table("events")),
		domainName, streamID, minPos, maxPos,
	)
	if err != nil {
		return coreerrors.NewBackend(fmt.Errorf("delete_events_in_range: %w", err))
	}
	return nil
}

// HardDeleteStream implements store.ArchiveStore.HardDeleteStream.
func (s *Store) HardDeleteStream(ctx context.Context, domainName, streamID string) error {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return coreerrors.NewBackend(fmt.Errorf("begin hard_delete tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE domain = ? AND stream_id = ?`, s.table("events")), domainName, streamID); err != nil {
		return coreerrors.NewBackend(fmt.Errorf("hard_delete events: %w", err))
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE domain = ? AND stream_id = ?`, s.table("streams")), domainName, streamID); err != nil {
		return coreerrors.NewBackend(fmt.Errorf("hard_delete header: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return coreerrors.NewBackend(fmt.Errorf("commit hard_delete tx: %w", err))
	}
	return nil
}

// GetActiveSegments implements store.SegmentRegistry.GetActiveSegments.
func (s *Store) GetActiveSegments(ctx context.Context) ([]domain.ArchiveSegment, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT segment_id, min_position, max_position, file_name, status, stream_namespace
		FROM %s WHERE status = ? ORDER BY min_position ASC`, s.table("archive_segments")),
		int32(domain.SegmentActive),
	)
	if err != nil {
		return nil, coreerrors.NewBackend(fmt.Errorf("get_active_segments query: %w", err))
	}
	defer rows.Close()

	var segments []domain.ArchiveSegment
	for rows.Next() {
		var seg domain.ArchiveSegment
		var status int32
		if err := rows.Scan(&seg.SegmentID, &seg.MinPosition, &seg.MaxPosition, &seg.FileName, &status, &seg.StreamNamespace); err != nil {
			return nil, coreerrors.NewBackend(fmt.Errorf("scan segment: %w", err))
		}
		seg.Status = domain.SegmentStatus(status)
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// CommitSegment implements store.SegmentRegistry.CommitSegment: the
// overlap check, the file write, the insert, and — for archive-and-delete,
// when del is non-nil — the hot-range delete all share one transaction
// (spec §4.5 steps 3-8), serialized by appendMu since SQLite has only one
// writer connection anyway. writeFile only runs once the overlap check
// has passed; the delete runs on this same tx, not through a caller
// callback, since it is a store-internal operation.
func (s *Store) CommitSegment(ctx context.Context, seg domain.ArchiveSegment, writeFile func() error, del *store.HotDelete) (bool, error) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, coreerrors.NewBackend(fmt.Errorf("begin commit_segment tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	var overlapping int
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*) FROM %s WHERE status = ? AND min_position <= ? AND max_position >= ?`, s.table("archive_segments")),
		int32(domain.SegmentActive), seg.MaxPosition, seg.MinPosition,
	).Scan(&overlapping)
	if err != nil {
		return false, coreerrors.NewBackend(fmt.Errorf("overlap check: %w", err))
	}
	if overlapping > 0 {
		return false, nil
	}

	if err := writeFile(); err != nil {
		return false, fmt.Errorf("write segment file: %w", err)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (min_position, max_position, file_name, status, stream_namespace)
		VALUES (?, ?, ?, ?, ?)`, s.table("archive_segments")),
		seg.MinPosition, seg.MaxPosition, seg.FileName, int32(domain.SegmentActive), seg.StreamNamespace,
	); err != nil {
		return false, coreerrors.NewBackend(fmt.Errorf("insert segment: %w", err))
	}

	if del != nil {
		if err := s.deleteEventsInRange(ctx, tx, del.Domain, del.StreamID, del.MinPosition, del.MaxPosition); err != nil {
			return false, fmt.Errorf("delete archived hot events: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, coreerrors.NewBackend(fmt.Errorf("commit commit_segment tx: %w", err))
	}
	return true, nil
}

// SaveSnapshot implements store.SnapshotStore.SaveSnapshot.
func (s *Store) SaveSnapshot(ctx context.Context, snap domain.Snapshot) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (stream_id, stream_version, payload, created_utc)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (stream_id) DO UPDATE SET
			stream_version = excluded.stream_version,
			payload = excluded.payload,
			created_utc = excluded.created_utc`, s.table("snapshots")),
		snap.StreamID, snap.StreamVersion, snap.Payload, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return coreerrors.NewBackend(fmt.Errorf("save_snapshot: %w", err))
	}
	return nil
}

// GetLatestSnapshot implements store.SnapshotStore.GetLatestSnapshot.
func (s *Store) GetLatestSnapshot(ctx context.Context, streamID string) (*domain.Snapshot, error) {
	snap := &domain.Snapshot{StreamID: streamID}
	var createdUTC string
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT stream_version, payload, created_utc FROM %s WHERE stream_id = ?`, s.table("snapshots")),
		streamID,
	).Scan(&snap.StreamVersion, &snap.Payload, &createdUTC)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, coreerrors.NewBackend(fmt.Errorf("get_latest_snapshot: %w", err))
	}
	t, err := time.Parse(time.RFC3339Nano, createdUTC)
	if err == nil {
		snap.CreatedUTC = t
	}
	return snap, nil
}

// TryAdvanceArchiveCutoff implements store.SnapshotStore.TryAdvanceArchiveCutoff.
func (s *Store) TryAdvanceArchiveCutoff(ctx context.Context, domainName, streamID string, newCutoff int32) (bool, error) {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET archive_cutoff_version = ?, archived_at = ?
		WHERE domain = ? AND stream_id = ?
		  AND (archive_cutoff_version IS NULL OR archive_cutoff_version < ?)`, s.table("streams")),
		newCutoff, time.Now().UTC().Format(time.RFC3339Nano), domainName, streamID, newCutoff,
	)
	if err != nil {
		return false, coreerrors.NewBackend(fmt.Errorf("try_advance_archive_cutoff: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, coreerrors.NewBackend(fmt.Errorf("try_advance_archive_cutoff rows affected: %w", err))
	}
	return affected > 0, nil
}

type rowsScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanEvents(rows rowsScanner) ([]domain.Event, error) {
	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		var metadata []byte
		var createdUTC string
		if err := rows.Scan(&e.GlobalPosition, &e.Domain, &e.StreamID, &e.StreamVersion, &e.StreamNamespace, &e.EventType, &e.Payload, &metadata, &createdUTC); err != nil {
			return nil, coreerrors.NewBackend(fmt.Errorf("scan event: %w", err))
		}
		e.Metadata = metadata
		if t, err := time.Parse(time.RFC3339Nano, createdUTC); err == nil {
			e.CreatedUTC = t
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
