package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	logx "autopost/pkg/logx"
)

//go:embed migrations_sqlite.sql
var sqliteMigrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := sqliteMigrationsFS.ReadFile("migrations_sqlite.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- content pool ----

func (s *sqliteStore) AddContent(ctx context.Context, c ContentItem) (int64, error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO content_items(platform, title, media_url, priority, confidence, posted, created_at)
		 VALUES(?,?,?,?,?,?,?)`,
		string(c.Platform), c.Title, nullStr(c.MediaURL), c.Priority, c.Confidence,
		boolInt(c.Posted), c.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) ListEligible(ctx context.Context, platforms ...Platform) ([]ContentItem, error) {
	q := `SELECT id, platform, title, COALESCE(media_url,''), priority, confidence, posted, created_at
		 FROM content_items
		 WHERE posted = 0`
	var args []any
	if len(platforms) > 0 {
		q += " AND platform IN (?" + strings.Repeat(",?", len(platforms)-1) + ")"
		for _, p := range platforms {
			args = append(args, string(p))
		}
	}
	q += " ORDER BY priority DESC, confidence DESC, created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanContent(rows)
}

func (s *sqliteStore) Content(ctx context.Context, id int64) (*ContentItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, platform, title, COALESCE(media_url,''), priority, confidence, posted, created_at
		 FROM content_items WHERE id = ?`, id)
	c, err := scanContentRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ---- slots ----

func (s *sqliteStore) CreateSlot(ctx context.Context, sl Slot) (int64, error) {
	if sl.Status == "" {
		sl.Status = StatusPending
	}
	if sl.UpdatedAt.IsZero() {
		sl.UpdatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO slots(content_id, platform, scheduled_at, slot_index, status, updated_at, fail_reason)
		 VALUES(?,?,?,?,?,?,NULL)`,
		nullID(sl.ContentID), string(sl.Platform), sl.ScheduledAt.UnixMilli(),
		sl.SlotIndex, string(sl.Status), sl.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) SlotIndexesOn(ctx context.Context, from, to time.Time) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT slot_index FROM slots WHERE scheduled_at >= ? AND scheduled_at < ?`,
		from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int]bool{}
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, err
		}
		out[idx] = true
	}
	return out, rows.Err()
}

func (s *sqliteStore) FindDueSlots(ctx context.Context, from, to time.Time) ([]Slot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content_id, platform, scheduled_at, slot_index, status, updated_at, COALESCE(fail_reason,'')
		 FROM slots
		 WHERE status = ? AND scheduled_at >= ? AND scheduled_at <= ?
		 ORDER BY scheduled_at ASC, id ASC`,
		string(StatusPending), from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSlots(rows)
}

// TryClaim wins iff the conditional UPDATE touches exactly one row.
// Concurrent callers race on the status predicate, not on a lock.
func (s *sqliteStore) TryClaim(ctx context.Context, slotID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE slots SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(StatusPosting), time.Now().UnixMilli(), slotID, string(StatusPending))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqliteStore) RecordPosted(ctx context.Context, slotID, contentID int64, postedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var platform string
	err = tx.QueryRowContext(ctx, `SELECT platform FROM slots WHERE id = ?`, slotID).Scan(&platform)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	// A slot must be in posting state, with content assigned, to finish.
	res, err := tx.ExecContext(ctx,
		`UPDATE slots SET status = ?, updated_at = ?, fail_reason = NULL
		 WHERE id = ? AND status = ? AND content_id IS NOT NULL`,
		string(StatusPosted), postedAt.UnixMilli(), slotID, string(StatusPosting))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n != 1 {
		return fmt.Errorf("slot %d not in claimable state", slotID)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO posted_records(id, slot_id, content_id, platform, posted_at)
		 VALUES(?,?,?,?,?)`,
		uuid.NewString(), slotID, contentID, platform, postedAt.UnixMilli()); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE content_items SET posted = 1 WHERE id = ?`, contentID); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *sqliteStore) RevertToPending(ctx context.Context, slotID int64, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE slots SET status = ?, updated_at = ?, fail_reason = ?
		 WHERE id = ? AND status = ?`,
		string(StatusPending), time.Now().UnixMilli(), nullStr(reason),
		slotID, string(StatusPosting))
	return err
}

func (s *sqliteStore) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM slots WHERE status = ?`, string(StatusPending)).Scan(&n)
	return n, err
}

func (s *sqliteStore) NextPendingSlot(ctx context.Context, now time.Time) (*Slot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content_id, platform, scheduled_at, slot_index, status, updated_at, COALESCE(fail_reason,'')
		 FROM slots
		 WHERE status = ? AND scheduled_at >= ?
		 ORDER BY scheduled_at ASC, id ASC LIMIT 1`,
		string(StatusPending), now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	slots, err := scanSlots(rows)
	if err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		return nil, nil
	}
	return &slots[0], nil
}

func (s *sqliteStore) RecentPlatforms(ctx context.Context, since time.Time) (map[Platform]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT platform FROM posted_records WHERE posted_at >= ?`,
		since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[Platform]bool{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out[Platform(p)] = true
	}
	return out, rows.Err()
}

// ---- scan helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContentRow(row rowScanner) (*ContentItem, error) {
	var c ContentItem
	var platform string
	var posted int
	var createdMS int64
	if err := row.Scan(&c.ID, &platform, &c.Title, &c.MediaURL, &c.Priority, &c.Confidence, &posted, &createdMS); err != nil {
		return nil, err
	}
	c.Platform = Platform(platform)
	c.Posted = posted != 0
	c.CreatedAt = time.UnixMilli(createdMS)
	return &c, nil
}

func scanContent(rows *sql.Rows) ([]ContentItem, error) {
	var out []ContentItem
	for rows.Next() {
		c, err := scanContentRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanSlots(rows *sql.Rows) ([]Slot, error) {
	var out []Slot
	for rows.Next() {
		var sl Slot
		var contentID sql.NullInt64
		var platform, status string
		var schedMS, updMS int64
		if err := rows.Scan(&sl.ID, &contentID, &platform, &schedMS, &sl.SlotIndex, &status, &updMS, &sl.FailReason); err != nil {
			return nil, err
		}
		if contentID.Valid {
			id := contentID.Int64
			sl.ContentID = &id
		}
		sl.Platform = Platform(platform)
		sl.Status = Status(status)
		sl.ScheduledAt = time.UnixMilli(schedMS)
		sl.UpdatedAt = time.UnixMilli(updMS)
		out = append(out, sl)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullID(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
