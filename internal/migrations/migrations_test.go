package migrations

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestLoadMigrationsSortsAndPairsUpDown(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000002_two.up.sql":   {Data: []byte("SELECT 2;")},
		"sql/000002_two.down.sql": {Data: []byte("SELECT -2;")},
		"sql/000001_one.up.sql":   {Data: []byte("SELECT 1;")},
		"sql/000001_one.down.sql": {Data: []byte("SELECT -1;")},
	}

	items, err := loadMigrations(fsys)
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d", len(items))
	}
	if items[0].Version != 1 || items[1].Version != 2 {
		t.Fatalf("unexpected migration order: %+v", items)
	}
}

func TestLoadMigrationsErrorsWhenDownMissing(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000001_one.up.sql": {Data: []byte("SELECT 1;")},
	}
	_, err := loadMigrations(fsys)
	if err == nil {
		t.Fatal("expected error for missing down migration")
	}
	if !strings.Contains(err.Error(), "missing down SQL") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadMigrationsParsesNames(t *testing.T) {
	items, err := loadMigrations(NewRunner().fsys)
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d", len(items))
	}
	if items[0].Name != "query_views" || items[1].Name != "reader_role" {
		t.Fatalf("names = %q, %q", items[0].Name, items[1].Name)
	}
}

func TestUpAppliesOnlyPendingMigrations(t *testing.T) {
	db, mock := newSQLMock(t)
	runner := NewRunnerWithFS(testFS())

	expectState(mock, 1)
	expectStepPrologue(mock, 2, false)
	mock.ExpectExec(regexp.QuoteMeta("CREATE VIEW two AS SELECT 2;")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO drugquery_schema_migrations \(version, name\) VALUES \(\$1, \$2\)`).
		WithArgs(int64(2), "two").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := runner.Up(context.Background(), db, 0)
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if applied != 1 {
		t.Fatalf("applied = %d", applied)
	}
	assertSQLMock(t, mock)
}

func TestUpHonorsSteps(t *testing.T) {
	db, mock := newSQLMock(t)
	runner := NewRunnerWithFS(testFS())

	expectState(mock)
	expectStepPrologue(mock, 1, false)
	mock.ExpectExec(regexp.QuoteMeta("CREATE VIEW one AS SELECT 1;")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO drugquery_schema_migrations`).
		WithArgs(int64(1), "one").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := runner.Up(context.Background(), db, 1)
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if applied != 1 {
		t.Fatalf("applied = %d", applied)
	}
	assertSQLMock(t, mock)
}

func TestUpSkipsStepAppliedConcurrently(t *testing.T) {
	db, mock := newSQLMock(t)
	runner := NewRunnerWithFS(testFS())

	expectState(mock, 1)
	expectStepPrologue(mock, 2, true)
	mock.ExpectCommit()

	if _, err := runner.Up(context.Background(), db, 0); err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestUpRollsBackFailedMigration(t *testing.T) {
	db, mock := newSQLMock(t)
	runner := NewRunnerWithFS(testFS())

	expectState(mock)
	expectStepPrologue(mock, 1, false)
	mock.ExpectExec(regexp.QuoteMeta("CREATE VIEW one AS SELECT 1;")).WillReturnError(errors.New(`relation "structures" does not exist`))
	mock.ExpectRollback()

	applied, err := runner.Up(context.Background(), db, 0)
	if err == nil || !strings.Contains(err.Error(), "apply migration 1") {
		t.Fatalf("Up() error = %v", err)
	}
	if applied != 0 {
		t.Fatalf("applied = %d", applied)
	}
	assertSQLMock(t, mock)
}

func TestDownRollsBackLatest(t *testing.T) {
	db, mock := newSQLMock(t)
	runner := NewRunnerWithFS(testFS())

	expectState(mock, 1, 2)
	expectStepPrologue(mock, 2, true)
	mock.ExpectExec(regexp.QuoteMeta("DROP VIEW two;")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM drugquery_schema_migrations WHERE version = \$1`).
		WithArgs(int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rolledBack, err := runner.Down(context.Background(), db, 0)
	if err != nil {
		t.Fatalf("Down() error = %v", err)
	}
	if rolledBack != 1 {
		t.Fatalf("rolledBack = %d", rolledBack)
	}
	assertSQLMock(t, mock)
}

func TestDownFailsForUnknownAppliedVersion(t *testing.T) {
	db, mock := newSQLMock(t)
	runner := NewRunnerWithFS(testFS())

	expectState(mock, 1, 2, 9)

	_, err := runner.Down(context.Background(), db, 1)
	if err == nil || !strings.Contains(err.Error(), "applied migration 9 is missing") {
		t.Fatalf("Down() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestStatusReportsAppliedAndPending(t *testing.T) {
	db, mock := newSQLMock(t)
	runner := NewRunnerWithFS(testFS())

	expectState(mock, 1)

	statuses, err := runner.Status(context.Background(), db)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	want := []Status{{Version: 1, Name: "one", Applied: true}, {Version: 2, Name: "two", Applied: false}}
	if len(statuses) != len(want) {
		t.Fatalf("statuses = %#v", statuses)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("statuses[%d] = %#v, want %#v", i, statuses[i], want[i])
		}
	}
	assertSQLMock(t, mock)
}

func TestLoadMigrationsRejectsMismatchedNames(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000001_one.up.sql":   {Data: []byte("SELECT 1;")},
		"sql/000001_uno.down.sql": {Data: []byte("SELECT -1;")},
	}
	if _, err := loadMigrations(fsys); err == nil || !strings.Contains(err.Error(), "mismatched names") {
		t.Fatalf("loadMigrations() error = %v", err)
	}
}

func expectState(mock sqlmock.Sqlmock, applied ...int64) {
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS drugquery_schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	rows := sqlmock.NewRows([]string{"version"})
	for _, version := range applied {
		rows.AddRow(version)
	}
	mock.ExpectQuery(`SELECT version FROM drugquery_schema_migrations`).WillReturnRows(rows)
}

func expectStepPrologue(mock sqlmock.Sqlmock, version int64, present bool) {
	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(\$1\)`).
		WithArgs(advisoryLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM drugquery_schema_migrations WHERE version = \$1\)`).
		WithArgs(version).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(present))
}

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"sql/000001_one.up.sql":   {Data: []byte("CREATE VIEW one AS SELECT 1;")},
		"sql/000001_one.down.sql": {Data: []byte("DROP VIEW one;")},
		"sql/000002_two.up.sql":   {Data: []byte("CREATE VIEW two AS SELECT 2;")},
		"sql/000002_two.down.sql": {Data: []byte("DROP VIEW two;")},
	}
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
