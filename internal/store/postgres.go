package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	logx "autopost/pkg/logx"
)

//go:embed migrations_postgres.sql
var postgresMigrationsFS embed.FS

type postgresStore struct {
	db  *sql.DB
	log logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("postgres url is required")
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	st := &postgresStore{db: db, log: log}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("postgres store connected")
	return st, nil
}

// newPostgresWith wraps an existing handle; used by tests with sqlmock.
func newPostgresWith(db *sql.DB, log logx.Logger) *postgresStore {
	return &postgresStore{db: db, log: log}
}

func platformStrings(platforms []Platform) []string {
	out := make([]string, len(platforms))
	for i, p := range platforms {
		out[i] = string(p)
	}
	return out
}

func (s *postgresStore) migrate(ctx context.Context) error {
	b, err := postgresMigrationsFS.ReadFile("migrations_postgres.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *postgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- content pool ----

func (s *postgresStore) AddContent(ctx context.Context, c ContentItem) (int64, error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO content_items(platform, title, media_url, priority, confidence, posted, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		string(c.Platform), c.Title, nullStr(c.MediaURL), c.Priority, c.Confidence,
		c.Posted, c.CreatedAt,
	).Scan(&id)
	return id, err
}

func (s *postgresStore) ListEligible(ctx context.Context, platforms ...Platform) ([]ContentItem, error) {
	q := `SELECT id, platform, title, COALESCE(media_url,''), priority, confidence, posted, created_at
		 FROM content_items
		 WHERE posted = FALSE`
	var args []any
	if len(platforms) > 0 {
		q += " AND platform = ANY($1)"
		args = append(args, pq.Array(platformStrings(platforms)))
	}
	q += " ORDER BY priority DESC, confidence DESC, created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ContentItem
	for rows.Next() {
		c, err := scanPGContent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *postgresStore) Content(ctx context.Context, id int64) (*ContentItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, platform, title, COALESCE(media_url,''), priority, confidence, posted, created_at
		 FROM content_items WHERE id = $1`, id)
	c, err := scanPGContent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ---- slots ----

func (s *postgresStore) CreateSlot(ctx context.Context, sl Slot) (int64, error) {
	if sl.Status == "" {
		sl.Status = StatusPending
	}
	if sl.UpdatedAt.IsZero() {
		sl.UpdatedAt = time.Now()
	}
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO slots(content_id, platform, scheduled_at, slot_index, status, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6) RETURNING id`,
		nullID(sl.ContentID), string(sl.Platform), sl.ScheduledAt, sl.SlotIndex,
		string(sl.Status), sl.UpdatedAt,
	).Scan(&id)
	return id, err
}

func (s *postgresStore) SlotIndexesOn(ctx context.Context, from, to time.Time) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT slot_index FROM slots WHERE scheduled_at >= $1 AND scheduled_at < $2`,
		from, to)
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

func (s *postgresStore) FindDueSlots(ctx context.Context, from, to time.Time) ([]Slot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content_id, platform, scheduled_at, slot_index, status, updated_at, COALESCE(fail_reason,'')
		 FROM slots
		 WHERE status = $1 AND scheduled_at >= $2 AND scheduled_at <= $3
		 ORDER BY scheduled_at ASC, id ASC`,
		string(StatusPending), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPGSlots(rows)
}

// TryClaim takes a transactional row lock so the status check and the
// transition commit or roll back together. Exactly one concurrent
// caller observes status=pending inside the lock.
func (s *postgresStore) TryClaim(ctx context.Context, slotID int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM slots WHERE id = $1 FOR UPDATE`, slotID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if Status(status) != StatusPending {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE slots SET status = $1, updated_at = $2 WHERE id = $3`,
		string(StatusPosting), time.Now(), slotID); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *postgresStore) RecordPosted(ctx context.Context, slotID, contentID int64, postedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var platform string
	err = tx.QueryRowContext(ctx, `SELECT platform FROM slots WHERE id = $1`, slotID).Scan(&platform)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE slots SET status = $1, updated_at = $2, fail_reason = NULL
		 WHERE id = $3 AND status = $4 AND content_id IS NOT NULL`,
		string(StatusPosted), postedAt, slotID, string(StatusPosting))
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
		 VALUES($1,$2,$3,$4,$5)`,
		uuid.NewString(), slotID, contentID, platform, postedAt); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE content_items SET posted = TRUE WHERE id = $1`, contentID); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *postgresStore) RevertToPending(ctx context.Context, slotID int64, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE slots SET status = $1, updated_at = $2, fail_reason = $3
		 WHERE id = $4 AND status = $5`,
		string(StatusPending), time.Now(), nullStr(reason), slotID, string(StatusPosting))
	return err
}

func (s *postgresStore) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM slots WHERE status = $1`, string(StatusPending)).Scan(&n)
	return n, err
}

func (s *postgresStore) NextPendingSlot(ctx context.Context, now time.Time) (*Slot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content_id, platform, scheduled_at, slot_index, status, updated_at, COALESCE(fail_reason,'')
		 FROM slots
		 WHERE status = $1 AND scheduled_at >= $2
		 ORDER BY scheduled_at ASC, id ASC LIMIT 1`,
		string(StatusPending), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	slots, err := scanPGSlots(rows)
	if err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		return nil, nil
	}
	return &slots[0], nil
}

func (s *postgresStore) RecentPlatforms(ctx context.Context, since time.Time) (map[Platform]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT platform FROM posted_records WHERE posted_at >= $1`, since)
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

// ---- scan helpers (timestamptz columns scan straight into time.Time) ----

func scanPGContent(row rowScanner) (*ContentItem, error) {
	var c ContentItem
	var platform string
	if err := row.Scan(&c.ID, &platform, &c.Title, &c.MediaURL, &c.Priority, &c.Confidence, &c.Posted, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Platform = Platform(platform)
	return &c, nil
}

func scanPGSlots(rows *sql.Rows) ([]Slot, error) {
	var out []Slot
	for rows.Next() {
		var sl Slot
		var contentID sql.NullInt64
		var platform, status string
		if err := rows.Scan(&sl.ID, &contentID, &platform, &sl.ScheduledAt, &sl.SlotIndex, &status, &sl.UpdatedAt, &sl.FailReason); err != nil {
			return nil, err
		}
		if contentID.Valid {
			id := contentID.Int64
			sl.ContentID = &id
		}
		sl.Platform = Platform(platform)
		sl.Status = Status(status)
		out = append(out, sl)
	}
	return out, rows.Err()
}
