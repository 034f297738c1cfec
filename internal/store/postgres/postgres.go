// Package postgres implements the store capability interfaces
// (eventcore.dev/eventcore/internal/store) over PostgreSQL via pgx.
//
// Coding standard (ADR-0012 in the teacher, carried forward): a single
// shared pgxpool.Pool backs every operation; no separate database/sql
// pool is opened alongside it.
//
// Import Path: eventcore.dev/eventcore/internal/store/postgres
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"eventcore.dev/eventcore/internal/config"
	"eventcore.dev/eventcore/internal/domain"
	coreerrors "eventcore.dev/eventcore/internal/pkg/errors"
	"eventcore.dev/eventcore/internal/pkg/logger"
	"eventcore.dev/eventcore/internal/store"
)

// Store is the postgres-backed ConnectionProvider.
type Store struct {
	pool   *pgxpool.Pool
	schema string
	prefix string
}

// Open creates the connection pool and verifies connectivity. Table DDL
// is not owned by this package (spec explicitly scopes it to the host
// application); EnsureSchema provisions the minimal tables needed by the
// four logical entities for environments that want the core to manage
// its own schema (tests, single-binary deployments).
func Open(ctx context.Context, dbCfg config.DatabaseConfig, storeCfg config.StoreConfig) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(dbCfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	poolConfig.MaxConns = dbCfg.MaxConns
	poolConfig.MinConns = dbCfg.MinConns
	poolConfig.MaxConnLifetime = dbCfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = dbCfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = time.Minute

	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET timezone = 'UTC'")
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	schema := storeCfg.SchemaName
	if schema == "" {
		schema = "public"
	}

	logger.Info("postgres store connected",
		zap.String("store_name", storeCfg.Name),
		zap.String("schema", schema),
		zap.Int32("max_conns", dbCfg.MaxConns),
	)

	return &Store{pool: pool, schema: schema, prefix: storeCfg.Name}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) table(name string) string {
	return fmt.Sprintf(`"%s"."%s_%s"`, s.schema, s.prefix, name)
}

// EnsureSchema creates the four logical tables if absent. Not part of
// the store capability interfaces; a composition root (or test helper)
// calls it once at startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, s.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			domain           text NOT NULL,
			stream_id        text NOT NULL,
			stream_version   integer NOT NULL,
			global_position  bigserial,
			stream_namespace text NOT NULL DEFAULT '',
			event_type       text NOT NULL,
			payload          bytea NOT NULL,
			metadata         bytea,
			created_utc      timestamptz NOT NULL,
			PRIMARY KEY (domain, stream_id, stream_version)
		)`, s.table("events")),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s_global_position_idx ON %s (global_position)`, s.prefix, s.table("events")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			domain                  text NOT NULL,
			stream_id               text NOT NULL,
			last_version            integer NOT NULL DEFAULT 0,
			last_position           bigint NOT NULL DEFAULT 0,
			retention_mode          text NOT NULL,
			is_deleted              boolean NOT NULL DEFAULT false,
			archive_cutoff_version  integer,
			archived_at             timestamptz,
			PRIMARY KEY (domain, stream_id)
		)`, s.table("streams")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			stream_id      text PRIMARY KEY,
			stream_version integer NOT NULL,
			payload        bytea NOT NULL,
			created_utc    timestamptz NOT NULL
		)`, s.table("snapshots")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			segment_id        bigserial PRIMARY KEY,
			min_position      bigint NOT NULL,
			max_position      bigint NOT NULL,
			file_name         text NOT NULL,
			status            integer NOT NULL,
			stream_namespace  text NOT NULL DEFAULT '',
			UNIQUE (min_position, max_position)
		)`, s.table("archive_segments")),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Append implements store.HotStore.Append (spec §4.1).
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

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return 0, coreerrors.NewBackend(fmt.Errorf("begin append tx: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	header, err := s.lockHeaderForUpdate(ctx, tx, domainName, streamID, defaultRetentionMode)
	if err != nil {
		return 0, coreerrors.NewBackend(fmt.Errorf("lock header: %w", err))
	}

	if header.IsDeleted {
		return 0, coreerrors.NewStreamClosed(domainName, streamID)
	}
	if expected != domain.ExpectedAny && int32(expected) != header.LastVersion {
		return 0, coreerrors.NewConcurrencyConflict(streamID, int64(expected), int64(header.LastVersion))
	}

	now := time.Now().UTC()
	lastVersion := header.LastVersion
	var lastPosition int64

	for _, e := range events {
		lastVersion++
		row := tx.QueryRow(ctx, fmt.Sprintf(`
			INSERT INTO %s (domain, stream_id, stream_version, stream_namespace, event_type, payload, metadata, created_utc)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING global_position`, s.table("events")),
			domainName, streamID, lastVersion, e.StreamNamespace, e.EventType, e.Payload, nullableBytes(e.Metadata), now,
		)
		if err := row.Scan(&lastPosition); err != nil {
			if isUniqueViolation(err) {
				actual, probeErr := s.GetMaxStreamVersion(context.WithoutCancel(ctx), domainName, streamID)
				if probeErr != nil {
					return 0, coreerrors.NewBackend(fmt.Errorf("re-probe version after race: %w", probeErr))
				}
				return 0, coreerrors.NewConcurrencyConflict(streamID, int64(expected), int64(actual))
			}
			return 0, coreerrors.NewBackend(fmt.Errorf("insert event: %w", err))
		}
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (domain, stream_id, last_version, last_position, retention_mode, is_deleted)
		VALUES ($1, $2, $3, $4, $5, false)
		ON CONFLICT (domain, stream_id) DO UPDATE SET
			last_version = EXCLUDED.last_version,
			last_position = EXCLUDED.last_position
		`, s.table("streams")),
		domainName, streamID, lastVersion, lastPosition, string(header.RetentionMode),
	); err != nil {
		return 0, coreerrors.NewBackend(fmt.Errorf("upsert header: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, coreerrors.NewBackend(fmt.Errorf("commit append tx: %w", err))
	}

	return lastVersion, nil
}

// lockHeaderForUpdate reads the stream header with an intent-to-write
// lock, or synthesizes a zero-value header (retention mode from the
// caller-supplied default, since the policy provider lives above this
// package) if the stream has never been appended to.
func (s *Store) lockHeaderForUpdate(ctx context.Context, tx pgx.Tx, domainName, streamID string, defaultRetentionMode domain.RetentionMode) (*domain.StreamHeader, error) {
	row := tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT last_version, last_position, retention_mode, is_deleted, archive_cutoff_version, archived_at
		FROM %s WHERE domain = $1 AND stream_id = $2 FOR UPDATE`, s.table("streams")),
		domainName, streamID,
	)

	h := &domain.StreamHeader{Domain: domainName, StreamID: streamID, RetentionMode: defaultRetentionMode}
	var cutoff *int32
	var archivedAt *time.Time
	var retentionMode string
	err := row.Scan(&h.LastVersion, &h.LastPosition, &retentionMode, &h.IsDeleted, &cutoff, &archivedAt)
	switch {
	case err == nil:
		h.RetentionMode = domain.RetentionMode(retentionMode)
		h.ArchiveCutoffVersion = cutoff
		h.ArchivedAt = archivedAt
		return h, nil
	case errors.Is(err, pgx.ErrNoRows):
		return h, nil
	default:
		return nil, err
	}
}

// ReadStream implements store.HotStore.ReadStream (spec §4.1).
func (s *Store) ReadStream(ctx context.Context, domainName, streamID, namespace string, fromVersionInclusive int32, maxCount int) ([]domain.Event, error) {
	if !domain.ValidateBatchSize(maxCount) {
		return nil, coreerrors.NewInvalidArgument("max_count", "must be in [1, 10000]")
	}

	query := fmt.Sprintf(`
		SELECT global_position, domain, stream_id, stream_version, stream_namespace, event_type, payload, metadata, created_utc
		FROM %s
		WHERE domain = $1 AND stream_id = $2 AND stream_version >= $3
	`, s.table("events"))
	args := []any{domainName, streamID, fromVersionInclusive}
	if namespace != "" {
		query += fmt.Sprintf(" AND stream_namespace = $%d", len(args)+1)
		args = append(args, namespace)
	}
	query += fmt.Sprintf(" ORDER BY stream_version ASC LIMIT $%d", len(args)+1)
	args = append(args, maxCount)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, coreerrors.NewBackend(fmt.Errorf("read_stream query: %w", err))
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ReadAllForwards implements store.HotStore.ReadAllForwards (spec §4.1):
// one independent read-only transaction per page.
func (s *Store) ReadAllForwards(ctx context.Context, domainName, namespace string, fromPositionExclusive int64, batchSize int) ([]domain.Event, error) {
	if !domain.ValidateBatchSize(batchSize) {
		return nil, coreerrors.NewInvalidArgument("batch_size", "must be in [1, 10000]")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, coreerrors.NewBackend(fmt.Errorf("begin read_all_forwards tx: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := fmt.Sprintf(`
		SELECT global_position, domain, stream_id, stream_version, stream_namespace, event_type, payload, metadata, created_utc
		FROM %s WHERE global_position > $1
	`, s.table("events"))
	args := []any{fromPositionExclusive}
	if domainName != "" {
		query += fmt.Sprintf(" AND domain = $%d", len(args)+1)
		args = append(args, domainName)
	}
	if namespace != "" {
		query += fmt.Sprintf(" AND stream_namespace = $%d", len(args)+1)
		args = append(args, namespace)
	}
	query += fmt.Sprintf(" ORDER BY global_position ASC LIMIT $%d", len(args)+1)
	args = append(args, batchSize)

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, coreerrors.NewBackend(fmt.Errorf("read_all_forwards query: %w", err))
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	return events, tx.Commit(ctx)
}

// GetStreamHeader implements store.HotStore.GetStreamHeader.
func (s *Store) GetStreamHeader(ctx context.Context, domainName, streamID string) (*domain.StreamHeader, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT last_version, last_position, retention_mode, is_deleted, archive_cutoff_version, archived_at
		FROM %s WHERE domain = $1 AND stream_id = $2`, s.table("streams")),
		domainName, streamID,
	)
	h := &domain.StreamHeader{Domain: domainName, StreamID: streamID}
	var retentionMode string
	err := row.Scan(&h.LastVersion, &h.LastPosition, &retentionMode, &h.IsDeleted, &h.ArchiveCutoffVersion, &h.ArchivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, coreerrors.NewBackend(fmt.Errorf("get_stream_header: %w", err))
	}
	h.RetentionMode = domain.RetentionMode(retentionMode)
	return h, nil
}

// GetMaxStreamVersion implements store.HotStore.GetMaxStreamVersion.
func (s *Store) GetMaxStreamVersion(ctx context.Context, domainName, streamID string) (int32, error) {
	var version int32
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT COALESCE(MAX(stream_version), 0) FROM %s WHERE domain = $1 AND stream_id = $2`, s.table("events")),
		domainName, streamID,
	).Scan(&version)
	if err != nil {
		return 0, coreerrors.NewBackend(fmt.Errorf("get_max_stream_version: %w", err))
	}
	return version, nil
}

// GetMinGlobalPosition implements store.HotStore.GetMinGlobalPosition.
func (s *Store) GetMinGlobalPosition(ctx context.Context) (int64, bool, error) {
	var pos *int64
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT MIN(global_position) FROM %s`, s.table("events"))).Scan(&pos)
	if err != nil {
		return 0, false, coreerrors.NewBackend(fmt.Errorf("get_min_global_position: %w", err))
	}
	if pos == nil {
		return 0, false, nil
	}
	return *pos, true, nil
}

// CandidateHeaders implements store.ArchiveStore.CandidateHeaders (spec §4.5).
func (s *Store) CandidateHeaders(ctx context.Context) ([]domain.StreamHeader, error) {
	query := fmt.Sprintf(`
		SELECT domain, stream_id, last_version, last_position, retention_mode, is_deleted, archive_cutoff_version, archived_at
		FROM %s
		WHERE (retention_mode IN ($1, $2) AND archive_cutoff_version IS NOT NULL AND is_deleted = false)
		   OR (retention_mode = $3 AND is_deleted = true)
	`, s.table("streams"))

	rows, err := s.pool.Query(ctx, query, string(domain.RetentionColdArchivable), string(domain.RetentionFullHistory), string(domain.RetentionHardDeletable))
	if err != nil {
		return nil, coreerrors.NewBackend(fmt.Errorf("candidate_headers query: %w", err))
	}
	defer rows.Close()

	var headers []domain.StreamHeader
	for rows.Next() {
		var h domain.StreamHeader
		var retentionMode string
		if err := rows.Scan(&h.Domain, &h.StreamID, &h.LastVersion, &h.LastPosition, &retentionMode, &h.IsDeleted, &h.ArchiveCutoffVersion, &h.ArchivedAt); err != nil {
			return nil, coreerrors.NewBackend(fmt.Errorf("scan candidate header: %w", err))
		}
		h.RetentionMode = domain.RetentionMode(retentionMode)
		headers = append(headers, h)
	}
	return headers, rows.Err()
}

// EventsUpToCutoff implements store.ArchiveStore.EventsUpToCutoff.
func (s *Store) EventsUpToCutoff(ctx context.Context, domainName, streamID string, cutoff int32) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT global_position, domain, stream_id, stream_version, stream_namespace, event_type, payload, metadata, created_utc
		FROM %s WHERE domain = $1 AND stream_id = $2 AND stream_version <= $3
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
	return s.deleteEventsInRange(ctx, s.pool, domainName, streamID, minPos, maxPos)
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx, letting
// deleteEventsInRange run either standalone or inside CommitSegment's
// transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *Store) deleteEventsInRange(ctx context.Context, ex execer, domainName, streamID string, minPos, maxPos int64) error {
	_, err := ex.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE domain = $1 AND stream_id = $2 AND global_position BETWEEN $3 AND $4`, s.table("events")),
		domainName, streamID, minPos, maxPos,
	)
	if err != nil {
		return coreerrors.NewBackend(fmt.Errorf("delete_events_in_range: %w", err))
	}
	return nil
}

// HardDeleteStream implements store.ArchiveStore.HardDeleteStream (spec §4.5).
func (s *Store) HardDeleteStream(ctx context.Context, domainName, streamID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return coreerrors.NewBackend(fmt.Errorf("begin hard_delete tx: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE domain = $1 AND stream_id = $2`, s.table("events")), domainName, streamID); err != nil {
		return coreerrors.NewBackend(fmt.Errorf("hard_delete events: %w", err))
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE domain = $1 AND stream_id = $2`, s.table("streams")), domainName, streamID); err != nil {
		return coreerrors.NewBackend(fmt.Errorf("hard_delete header: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return coreerrors.NewBackend(fmt.Errorf("commit hard_delete tx: %w", err))
	}
	return nil
}

// GetActiveSegments implements store.SegmentRegistry.GetActiveSegments.
func (s *Store) GetActiveSegments(ctx context.Context) ([]domain.ArchiveSegment, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT segment_id, min_position, max_position, file_name, status, stream_namespace
		FROM %s WHERE status = $1 ORDER BY min_position ASC`, s.table("archive_segments")),
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

// CommitSegment implements store.SegmentRegistry.CommitSegment (spec §4.5
// steps 3-8: the overlap check, the file write, the insert, and — for
// archive-and-delete — the hot-range delete all share one transaction.
// writeFile only runs once the overlap check has passed, and the hot
// delete (when del is non-nil) only runs once the insert has succeeded,
// so a crash between the two operations can never strand archived events
// in the hot store with no active segment covering them, nor delete hot
// events whose segment insert didn't happen. The delete itself runs on
// this same tx rather than through a caller-supplied callback, since
// unlike writeFile it is a store-internal operation that must not run on
// a separate connection/transaction.
func (s *Store) CommitSegment(ctx context.Context, seg domain.ArchiveSegment, writeFile func() error, del *store.HotDelete) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return false, coreerrors.NewBackend(fmt.Errorf("begin commit_segment tx: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var overlapping int
	err = tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT COUNT(*) FROM %s WHERE status = $1 AND min_position <= $2 AND max_position >= $3`, s.table("archive_segments")),
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

	if _, err := tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (min_position, max_position, file_name, status, stream_namespace)
		VALUES ($1, $2, $3, $4, $5)`, s.table("archive_segments")),
		seg.MinPosition, seg.MaxPosition, seg.FileName, int32(domain.SegmentActive), seg.StreamNamespace,
	); err != nil {
		return false, coreerrors.NewBackend(fmt.Errorf("insert segment: %w", err))
	}

	if del != nil {
		if err := s.deleteEventsInRange(ctx, tx, del.Domain, del.StreamID, del.MinPosition, del.MaxPosition); err != nil {
			return false, fmt.Errorf("delete archived hot events: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, coreerrors.NewBackend(fmt.Errorf("commit commit_segment tx: %w", err))
	}
	return true, nil
}

// SaveSnapshot implements store.SnapshotStore.SaveSnapshot (spec §4.4).
func (s *Store) SaveSnapshot(ctx context.Context, snap domain.Snapshot) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (stream_id, stream_version, payload, created_utc)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (stream_id) DO UPDATE SET
			stream_version = EXCLUDED.stream_version,
			payload = EXCLUDED.payload,
			created_utc = EXCLUDED.created_utc`, s.table("snapshots")),
		snap.StreamID, snap.StreamVersion, snap.Payload, time.Now().UTC(),
	)
	if err != nil {
		return coreerrors.NewBackend(fmt.Errorf("save_snapshot: %w", err))
	}
	return nil
}

// GetLatestSnapshot implements store.SnapshotStore.GetLatestSnapshot.
func (s *Store) GetLatestSnapshot(ctx context.Context, streamID string) (*domain.Snapshot, error) {
	snap := &domain.Snapshot{StreamID: streamID}
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT stream_version, payload, created_utc FROM %s WHERE stream_id = $1`, s.table("snapshots")),
		streamID,
	).Scan(&snap.StreamVersion, &snap.Payload, &snap.CreatedUTC)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, coreerrors.NewBackend(fmt.Errorf("get_latest_snapshot: %w", err))
	}
	return snap, nil
}

// TryAdvanceArchiveCutoff implements store.SnapshotStore.TryAdvanceArchiveCutoff
// (spec §4.4): a single conditional atomic update.
func (s *Store) TryAdvanceArchiveCutoff(ctx context.Context, domainName, streamID string, newCutoff int32) (bool, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET archive_cutoff_version = $1, archived_at = $2
		WHERE domain = $3 AND stream_id = $4
		  AND (archive_cutoff_version IS NULL OR archive_cutoff_version < $1)`, s.table("streams")),
		newCutoff, time.Now().UTC(), domainName, streamID,
	)
	if err != nil {
		return false, coreerrors.NewBackend(fmt.Errorf("try_advance_archive_cutoff: %w", err))
	}
	return tag.RowsAffected() > 0, nil
}

func scanEvents(rows pgx.Rows) ([]domain.Event, error) {
	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		var metadata []byte
		if err := rows.Scan(&e.GlobalPosition, &e.Domain, &e.StreamID, &e.StreamVersion, &e.StreamNamespace, &e.EventType, &e.Payload, &metadata, &e.CreatedUTC); err != nil {
			return nil, coreerrors.NewBackend(fmt.Errorf("scan event: %w", err))
		}
		e.Metadata = metadata
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
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
