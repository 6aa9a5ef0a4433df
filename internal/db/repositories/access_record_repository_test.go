package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/scriptgate/scriptgate/internal/db/models"
)

var accessRecordCols = []string{
	"id", "account_id", "username", "ip_address", "origin_page",
	"user_agent", "granted", "message", "created_at",
}

func newAccessRecordRepo(t *testing.T) (*AccessRecordRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAccessRecordRepository(sqlx.NewDb(db, "sqlmock")), mock
}

// ---------------------------------------------------------------------------
// CreateAccessRecord
// ---------------------------------------------------------------------------

func TestCreateAccessRecord_UnresolvedAccount(t *testing.T) {
	repo, mock := newAccessRecordRepo(t)
	mock.ExpectExec("INSERT INTO access_records").
		WithArgs(sqlmock.AnyArg(), nil, "bob", "10.0.0.1", "unknown", "", false,
			"account not found", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec := &models.AccessRecord{
		Username:   "bob",
		IPAddress:  "10.0.0.1",
		OriginPage: "unknown",
		Message:    strPtr("account not found"),
	}
	if err := repo.CreateAccessRecord(context.Background(), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID == "" || rec.CreatedAt.IsZero() {
		t.Errorf("record not stamped: %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateAccessRecord_DBError(t *testing.T) {
	repo, mock := newAccessRecordRepo(t)
	mock.ExpectExec("INSERT INTO access_records").WillReturnError(errDB)

	if err := repo.CreateAccessRecord(context.Background(), &models.AccessRecord{Username: "x"}); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// ListAccessRecords
// ---------------------------------------------------------------------------

func TestListAccessRecords_NoFilters(t *testing.T) {
	repo, mock := newAccessRecordRepo(t)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM access_records WHERE 1=1$").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery("SELECT id.*FROM access_records WHERE 1=1 ORDER BY created_at DESC LIMIT \\$1 OFFSET \\$2").
		WithArgs(20, 0).
		WillReturnRows(sqlmock.NewRows(accessRecordCols).
			AddRow("r-2", "acc-1", "alice", "1.2.3.4", "https://a.example/", "curl", false, "no credits remaining", time.Now()).
			AddRow("r-1", "acc-1", "alice", "1.2.3.4", "https://a.example/", "curl", true, "last credit consumed", time.Now().Add(-time.Minute)))

	records, total, err := repo.ListAccessRecords(context.Background(), models.AccessRecordFilter{}, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 || len(records) != 2 {
		t.Fatalf("got total=%d len=%d, want 2/2", total, len(records))
	}
	if records[0].Granted || !records[1].Granted {
		t.Errorf("granted flags = %v/%v, want false/true", records[0].Granted, records[1].Granted)
	}
	if records[0].AccountID == nil || *records[0].AccountID != "acc-1" {
		t.Errorf("AccountID = %v, want acc-1", records[0].AccountID)
	}
}

func TestListAccessRecords_AllFilters(t *testing.T) {
	repo, mock := newAccessRecordRepo(t)
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 31, 23, 59, 59, 0, time.UTC)
	granted := true

	mock.ExpectQuery("SELECT COUNT.*created_at >= \\$1 AND created_at <= \\$2 AND username ILIKE \\$3 AND granted = \\$4").
		WithArgs(from, to, "%ALI%", true).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT id.*LIMIT \\$5 OFFSET \\$6").
		WithArgs(from, to, "%ALI%", true, 10, 10).
		WillReturnRows(sqlmock.NewRows(accessRecordCols))

	records, total, err := repo.ListAccessRecords(context.Background(), models.AccessRecordFilter{
		From:     &from,
		To:       &to,
		Username: "ALI",
		Granted:  &granted,
	}, 10, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 0 || len(records) != 0 {
		t.Errorf("got total=%d len=%d, want 0/0", total, len(records))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestListAccessRecords_CountError(t *testing.T) {
	repo, mock := newAccessRecordRepo(t)
	mock.ExpectQuery("SELECT COUNT").WillReturnError(errDB)

	if _, _, err := repo.ListAccessRecords(context.Background(), models.AccessRecordFilter{}, 20, 0); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// GetStats / GetDailyUsage
// ---------------------------------------------------------------------------

func TestGetStats(t *testing.T) {
	repo, mock := newAccessRecordRepo(t)
	mock.ExpectQuery("SELECT\\s+COUNT\\(\\*\\) AS total_attempts").
		WillReturnRows(sqlmock.NewRows([]string{
			"total_attempts", "recent_attempts", "distinct_accounts", "granted_attempts", "denied_attempts",
		}).AddRow(10, 4, 3, 7, 3))
	mock.ExpectQuery("SELECT username, COUNT\\(\\*\\) AS attempts").
		WillReturnRows(sqlmock.NewRows([]string{"username", "attempts"}).
			AddRow("root", 6).
			AddRow("alice", 3))

	stats, err := repo.GetStats(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.TotalAttempts != 10 || stats.RecentAttempts != 4 || stats.DistinctAccounts != 3 {
		t.Errorf("stats = %+v, want 10/4/3", stats)
	}
	if stats.GrantedAttempts != 7 || stats.DeniedAttempts != 3 {
		t.Errorf("granted/denied = %d/%d, want 7/3", stats.GrantedAttempts, stats.DeniedAttempts)
	}
	if len(stats.TopUsers) != 2 || stats.TopUsers[0].Username != "root" {
		t.Errorf("TopUsers = %+v, want root first", stats.TopUsers)
	}
}

func TestGetStats_AggregateError(t *testing.T) {
	repo, mock := newAccessRecordRepo(t)
	mock.ExpectQuery("SELECT").WillReturnError(errDB)

	if _, err := repo.GetStats(context.Background()); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestGetDailyUsage(t *testing.T) {
	repo, mock := newAccessRecordRepo(t)
	today := time.Now().Truncate(24 * time.Hour)
	mock.ExpectQuery("generate_series").
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{"day", "granted", "denied"}).
			AddRow(today.Add(-24*time.Hour), 0, 0).
			AddRow(today, 5, 1))

	usage, err := repo.GetDailyUsage(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(usage) != 2 || usage[1].Granted != 5 || usage[1].Denied != 1 {
		t.Errorf("usage = %+v, want two days ending 5/1", usage)
	}
}

// ---------------------------------------------------------------------------
// PurgeAccessRecords
// ---------------------------------------------------------------------------

func TestPurgeAccessRecords(t *testing.T) {
	repo, mock := newAccessRecordRepo(t)
	mock.ExpectExec("DELETE FROM access_records").
		WillReturnResult(sqlmock.NewResult(0, 42))

	n, err := repo.PurgeAccessRecords(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 42 {
		t.Errorf("purged = %d, want 42", n)
	}
}

func TestPurgeAccessRecords_DBError(t *testing.T) {
	repo, mock := newAccessRecordRepo(t)
	mock.ExpectExec("DELETE FROM access_records").WillReturnError(errDB)

	if _, err := repo.PurgeAccessRecords(context.Background()); err == nil {
		t.Error("expected error, got nil")
	}
}
