package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	logx "autopost/pkg/logx"
)

func newMockStore(t *testing.T) (*postgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return newPostgresWith(db, logx.Nop()), mock
}

func TestPostgresTryClaimWins(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM slots WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending"))
	mock.ExpectExec(`UPDATE slots SET status = \$1, updated_at = \$2 WHERE id = \$3`).
		WithArgs("posting", sqlmock.AnyArg(), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ok, err := st.TryClaim(context.Background(), 42)
	if err != nil {
		t.Fatalf("TryClaim: %v", err)
	}
	if !ok {
		t.Fatal("TryClaim = false, want true")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresTryClaimLosesWhenAlreadyClaimed(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM slots WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("posting"))
	mock.ExpectRollback()

	ok, err := st.TryClaim(context.Background(), 42)
	if err != nil {
		t.Fatalf("TryClaim: %v", err)
	}
	if ok {
		t.Fatal("TryClaim = true for already-claimed slot")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresTryClaimMissingSlot(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM slots WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}))
	mock.ExpectRollback()

	ok, err := st.TryClaim(context.Background(), 7)
	if err != nil {
		t.Fatalf("TryClaim: %v", err)
	}
	if ok {
		t.Fatal("TryClaim = true for missing slot")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresRecordPostedTransaction(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)
	postedAt := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT platform FROM slots WHERE id = \$1`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"platform"}).AddRow("reddit"))
	mock.ExpectExec(`UPDATE slots SET status = \$1, updated_at = \$2, fail_reason = NULL`).
		WithArgs("posted", postedAt, int64(5), "posting").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO posted_records`).
		WithArgs(sqlmock.AnyArg(), int64(5), int64(100), "reddit", postedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE content_items SET posted = TRUE WHERE id = \$1`).
		WithArgs(int64(100)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := st.RecordPosted(context.Background(), 5, 100, postedAt); err != nil {
		t.Fatalf("RecordPosted: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresRecordPostedRollsBackOnStaleClaim(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)
	postedAt := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT platform FROM slots WHERE id = \$1`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"platform"}).AddRow("reddit"))
	mock.ExpectExec(`UPDATE slots SET status = \$1, updated_at = \$2, fail_reason = NULL`).
		WithArgs("posted", postedAt, int64(5), "posting").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	if err := st.RecordPosted(context.Background(), 5, 100, postedAt); err == nil {
		t.Fatal("RecordPosted succeeded on stale claim, want error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
