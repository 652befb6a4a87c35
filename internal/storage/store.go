package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the durable operations shared by the data layer. It is
// partitioned into the actions, content, analytics, settings, and cache
// namespaces.
type Store interface {
	AddAction(ctx context.Context, a *Action) error
	ListActions(ctx context.Context) ([]Action, error)
	UpdateActionRetry(ctx context.Context, id string, retryCount int, lastErr string) error
	DeleteAction(ctx context.Context, id string) error

	UpsertContent(ctx context.Context, c *ContentRecord) error
	GetContent(ctx context.Context, id string) (*ContentRecord, error)
	ListUnsyncedContent(ctx context.Context) ([]ContentRecord, error)
	MarkContentSynced(ctx context.Context, id string) error

	SaveBatch(ctx context.Context, b *BatchRecord, maxBatches int) (int64, error)
	ListBatches(ctx context.Context) ([]BatchRecord, error)
	UpdateBatchRetry(ctx context.Context, id string, retryCount int) error
	DeleteBatch(ctx context.Context, id string) error

	PutSetting(ctx context.Context, key, value string) error
	GetSetting(ctx context.Context, key string) (*Setting, error)

	ReplaceCacheEntries(ctx context.Context, rows []CacheRow) error
	LoadCacheEntries(ctx context.Context) ([]CacheRow, error)

	Prune(ctx context.Context, olderThan time.Time) (*PruneResult, error)
	PurgeAll(ctx context.Context) error
	GetStats(ctx context.Context) (*Stats, error)
	Close() error
}

// SQLiteStore implements Store backed by a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time

	// Prepared statements
	insertAction  *sql.Stmt
	deleteAction  *sql.Stmt
	upsertContent *sql.Stmt
	getContent    *sql.Stmt
	putSetting    *sql.Stmt
	getSetting    *sql.Stmt
}

// NewSQLiteStore creates a new SQLiteStore from an already-opened and migrated database.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, now: time.Now}

	if err := s.prepareStatements(); err != nil {
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	return s, nil
}

// SetClock replaces the time source used for generated timestamps.
func (s *SQLiteStore) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.insertAction, err = s.db.Prepare(`
		INSERT INTO actions (id, kind, endpoint, method, headers, body, created_at, retry_count, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}

	s.deleteAction, err = s.db.Prepare(`DELETE FROM actions WHERE id = ?`)
	if err != nil {
		return err
	}

	s.upsertContent, err = s.db.Prepare(`
		INSERT INTO content (id, title, content, type, status, last_modified, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			type = excluded.type,
			status = excluded.status,
			last_modified = excluded.last_modified,
			synced = excluded.synced
	`)
	if err != nil {
		return err
	}

	s.getContent, err = s.db.Prepare(`
		SELECT id, title, content, type, status, last_modified, synced
		FROM content WHERE id = ?
	`)
	if err != nil {
		return err
	}

	s.putSetting, err = s.db.Prepare(`
		INSERT INTO settings (key, value, last_modified) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, last_modified = excluded.last_modified
	`)
	if err != nil {
		return err
	}

	s.getSetting, err = s.db.Prepare(`SELECT key, value, last_modified FROM settings WHERE key = ?`)
	if err != nil {
		return err
	}

	return nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v).UTC()
}

// ── Actions ──────────────────────────────────────────────────────

// AddAction persists a new action. ID and CreatedAt are filled in when
// empty; Seq is set from the insertion order.
func (s *SQLiteStore) AddAction(ctx context.Context, a *Action) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}

	headers := a.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	encoded, err := json.Marshal(headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}

	res, err := s.insertAction.ExecContext(ctx,
		a.ID, a.Kind, a.Endpoint, a.Method, string(encoded), a.Body,
		toMillis(a.CreatedAt), a.RetryCount, a.LastError,
	)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}

	a.Seq, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read action seq: %w", err)
	}
	return nil
}

// ListActions returns all pending actions in insertion order.
func (s *SQLiteStore) ListActions(ctx context.Context) ([]Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, kind, endpoint, method, headers, body, created_at, retry_count, last_error
		FROM actions ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	actions := []Action{}
	for rows.Next() {
		var a Action
		var headers string
		var createdAt int64
		if err := rows.Scan(
			&a.Seq, &a.ID, &a.Kind, &a.Endpoint, &a.Method, &headers,
			&a.Body, &createdAt, &a.RetryCount, &a.LastError,
		); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		if err := json.Unmarshal([]byte(headers), &a.Headers); err != nil {
			return nil, fmt.Errorf("decode headers for action %s: %w", a.ID, err)
		}
		a.CreatedAt = fromMillis(createdAt)
		actions = append(actions, a)
	}

	return actions, rows.Err()
}

// UpdateActionRetry records a failed replay attempt.
func (s *SQLiteStore) UpdateActionRetry(ctx context.Context, id string, retryCount int, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE actions SET retry_count = ?, last_error = ? WHERE id = ?",
		retryCount, lastErr, id,
	)
	if err != nil {
		return fmt.Errorf("update action: %w", err)
	}
	return expectAffected(res, "action", id)
}

// DeleteAction removes an action by ID.
func (s *SQLiteStore) DeleteAction(ctx context.Context, id string) error {
	res, err := s.deleteAction.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("delete action: %w", err)
	}
	return expectAffected(res, "action", id)
}

// ── Content ──────────────────────────────────────────────────────

// UpsertContent inserts or replaces a content shadow.
func (s *SQLiteStore) UpsertContent(ctx context.Context, c *ContentRecord) error {
	if c.ID == "" {
		return fmt.Errorf("content id is required")
	}
	if _, err := s.upsertContent.ExecContext(ctx,
		c.ID, c.Title, c.Content, c.Type, c.Status, c.LastModified, c.Synced,
	); err != nil {
		return fmt.Errorf("upsert content: %w", err)
	}
	return nil
}

// GetContent retrieves one content shadow by ID.
func (s *SQLiteStore) GetContent(ctx context.Context, id string) (*ContentRecord, error) {
	var c ContentRecord
	err := s.getContent.QueryRowContext(ctx, id).Scan(
		&c.ID, &c.Title, &c.Content, &c.Type, &c.Status, &c.LastModified, &c.Synced,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("content %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get content: %w", err)
	}
	return &c, nil
}

// ListUnsyncedContent returns every shadow still flagged synced=false.
func (s *SQLiteStore) ListUnsyncedContent(ctx context.Context) ([]ContentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, content, type, status, last_modified, synced
		FROM content WHERE synced = 0 ORDER BY last_modified ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query content: %w", err)
	}
	defer rows.Close()

	records := []ContentRecord{}
	for rows.Next() {
		var c ContentRecord
		if err := rows.Scan(&c.ID, &c.Title, &c.Content, &c.Type, &c.Status, &c.LastModified, &c.Synced); err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		records = append(records, c)
	}
	return records, rows.Err()
}

// MarkContentSynced flips the synced flag on a shadow.
func (s *SQLiteStore) MarkContentSynced(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE content SET synced = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("mark content synced: %w", err)
	}
	return expectAffected(res, "content", id)
}

// ── Analytics batches ────────────────────────────────────────────

// SaveBatch inserts or updates a batch, then drops the oldest batches so
// that at most maxBatches remain. It returns the number dropped. A
// non-positive maxBatches disables the cap.
func (s *SQLiteStore) SaveBatch(ctx context.Context, b *BatchRecord, maxBatches int) (int64, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now()
	}
	if b.SizeBytes == 0 {
		b.SizeBytes = int64(len(b.Payload))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO analytics_batches (id, payload, event_count, created_at, retry_count, size_bytes)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload,
			event_count = excluded.event_count,
			retry_count = excluded.retry_count,
			size_bytes = excluded.size_bytes
	`, b.ID, b.Payload, b.EventCount, toMillis(b.CreatedAt), b.RetryCount, b.SizeBytes)
	if err != nil {
		return 0, fmt.Errorf("insert batch: %w", err)
	}

	var dropped int64
	if maxBatches > 0 {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM analytics_batches WHERE seq NOT IN (
				SELECT seq FROM analytics_batches ORDER BY seq DESC LIMIT ?
			)
		`, maxBatches)
		if err != nil {
			return 0, fmt.Errorf("trim batches: %w", err)
		}
		dropped, err = res.RowsAffected()
		if err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit batch: %w", err)
	}
	return dropped, nil
}

// ListBatches returns stored batches oldest first.
func (s *SQLiteStore) ListBatches(ctx context.Context) ([]BatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payload, event_count, created_at, retry_count, size_bytes
		FROM analytics_batches ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	batches := []BatchRecord{}
	for rows.Next() {
		var b BatchRecord
		var createdAt int64
		if err := rows.Scan(&b.ID, &b.Payload, &b.EventCount, &createdAt, &b.RetryCount, &b.SizeBytes); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		b.CreatedAt = fromMillis(createdAt)
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// UpdateBatchRetry records another failed delivery attempt.
func (s *SQLiteStore) UpdateBatchRetry(ctx context.Context, id string, retryCount int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE analytics_batches SET retry_count = ? WHERE id = ?", retryCount, id,
	)
	if err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	return expectAffected(res, "batch", id)
}

// DeleteBatch removes a delivered batch.
func (s *SQLiteStore) DeleteBatch(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM analytics_batches WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	return expectAffected(res, "batch", id)
}

// ── Settings ─────────────────────────────────────────────────────

// PutSetting stores value under key, stamping the modification time.
func (s *SQLiteStore) PutSetting(ctx context.Context, key, value string) error {
	if _, err := s.putSetting.ExecContext(ctx, key, value, toMillis(s.now())); err != nil {
		return fmt.Errorf("put setting: %w", err)
	}
	return nil
}

// GetSetting reads one setting.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (*Setting, error) {
	var st Setting
	var modified int64
	err := s.getSetting.QueryRowContext(ctx, key).Scan(&st.Key, &st.Value, &modified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("setting %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("get setting: %w", err)
	}
	st.LastModified = fromMillis(modified)
	return &st, nil
}

// ── Cache entries ────────────────────────────────────────────────

// ReplaceCacheEntries atomically swaps the persisted cache for rows.
func (s *SQLiteStore) ReplaceCacheEntries(ctx context.Context, rows []CacheRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM cache_entries"); err != nil {
		return fmt.Errorf("clear cache entries: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cache_entries (key, data, created_at, expires_at, size_bytes, access_count,
			last_accessed_at, priority, tags, compressed, encrypted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare cache insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		tags := r.Tags
		if tags == nil {
			tags = []string{}
		}
		encoded, err := json.Marshal(tags)
		if err != nil {
			return fmt.Errorf("marshal tags: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			r.Key, r.Data, toMillis(r.CreatedAt), toMillis(r.ExpiresAt), r.SizeBytes, r.AccessCount,
			toMillis(r.LastAccessedAt), r.Priority, string(encoded), r.Compressed, r.Encrypted,
		); err != nil {
			return fmt.Errorf("insert cache entry %s: %w", r.Key, err)
		}
	}

	return tx.Commit()
}

// LoadCacheEntries returns every persisted cache row.
func (s *SQLiteStore) LoadCacheEntries(ctx context.Context) ([]CacheRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, data, created_at, expires_at, size_bytes, access_count,
			last_accessed_at, priority, tags, compressed, encrypted
		FROM cache_entries
	`)
	if err != nil {
		return nil, fmt.Errorf("query cache entries: %w", err)
	}
	defer rows.Close()

	out := []CacheRow{}
	for rows.Next() {
		var r CacheRow
		var created, expires, accessed int64
		var tags string
		if err := rows.Scan(
			&r.Key, &r.Data, &created, &expires, &r.SizeBytes, &r.AccessCount,
			&accessed, &r.Priority, &tags, &r.Compressed, &r.Encrypted,
		); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
			return nil, fmt.Errorf("decode tags for %s: %w", r.Key, err)
		}
		r.CreatedAt = fromMillis(created)
		r.ExpiresAt = fromMillis(expires)
		r.LastAccessedAt = fromMillis(accessed)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ── Maintenance ──────────────────────────────────────────────────

// Prune deletes actions and batches created before olderThan, along with
// persisted cache rows that have already expired.
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Time) (*PruneResult, error) {
	cutoff := toMillis(olderThan)
	result := &PruneResult{}

	res, err := s.db.ExecContext(ctx, "DELETE FROM actions WHERE created_at < ?", cutoff)
	if err != nil {
		return nil, fmt.Errorf("prune actions: %w", err)
	}
	if result.Actions, err = res.RowsAffected(); err != nil {
		return nil, err
	}

	res, err = s.db.ExecContext(ctx, "DELETE FROM analytics_batches WHERE created_at < ?", cutoff)
	if err != nil {
		return nil, fmt.Errorf("prune batches: %w", err)
	}
	if result.Batches, err = res.RowsAffected(); err != nil {
		return nil, err
	}

	res, err = s.db.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE expires_at > 0 AND expires_at <= ?", toMillis(s.now()),
	)
	if err != nil {
		return nil, fmt.Errorf("prune cache entries: %w", err)
	}
	if result.CacheEntries, err = res.RowsAffected(); err != nil {
		return nil, err
	}

	return result, nil
}

// PurgeAll deletes every row in every namespace. Applied migrations are kept.
func (s *SQLiteStore) PurgeAll(ctx context.Context) error {
	stmts := []string{
		"DELETE FROM actions",
		"DELETE FROM content",
		"DELETE FROM analytics_batches",
		"DELETE FROM settings",
		"DELETE FROM cache_entries",
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("purge (%s): %w", stmt, err)
		}
	}
	return nil
}

// GetStats returns aggregate statistics about the database.
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	counts := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM actions", &stats.PendingActions},
		{"SELECT COUNT(*) FROM content", &stats.ContentRecords},
		{"SELECT COUNT(*) FROM content WHERE synced = 0", &stats.UnsyncedContent},
		{"SELECT COUNT(*) FROM analytics_batches", &stats.OfflineBatches},
		{"SELECT COALESCE(SUM(event_count), 0) FROM analytics_batches", &stats.OfflineEvents},
		{"SELECT COUNT(*) FROM settings", &stats.Settings},
		{"SELECT COUNT(*) FROM cache_entries", &stats.CacheEntries},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("stats (%s): %w", c.query, err)
		}
	}

	if stats.PendingActions > 0 {
		var oldest int64
		if err := s.db.QueryRowContext(ctx, "SELECT MIN(created_at) FROM actions").Scan(&oldest); err != nil {
			return nil, fmt.Errorf("oldest action: %w", err)
		}
		stats.OldestAction = fromMillis(oldest)
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return nil, fmt.Errorf("page count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return nil, fmt.Errorf("page size: %w", err)
	}
	stats.DatabaseSizeBytes = pageCount * pageSize

	return stats, nil
}

// Close releases all prepared statements. The underlying *sql.DB is NOT
// closed; that is the caller's responsibility.
func (s *SQLiteStore) Close() error {
	stmts := []*sql.Stmt{
		s.insertAction, s.deleteAction, s.upsertContent,
		s.getContent, s.putSetting, s.getSetting,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}
	return nil
}

func expectAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
