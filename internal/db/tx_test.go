package db

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/hpungsan/syllabus/internal/errors"
)

func TestWithTx_Commit(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer sqlDB.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO settings").
		WithArgs("source_root", "/notes").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err = WithTx(context.Background(), sqlDB, func(q Querier) error {
		return SetSetting(context.Background(), q, SettingSourceRoot, "/notes")
	})
	if err != nil {
		t.Fatalf("WithTx() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestWithTx_RollbackOnError(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer sqlDB.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO settings").WillReturnError(stderrors.New("disk I/O error"))
	mock.ExpectRollback()

	err = WithTx(context.Background(), sqlDB, func(q Querier) error {
		return SetSetting(context.Background(), q, SettingSourceRoot, "/notes")
	})
	if !errors.Is(err, errors.ErrInternal) {
		t.Errorf("WithTx() error = %v, want INTERNAL", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestWithTx_PassesCallbackErrorThrough(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer sqlDB.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	want := errors.NewConflict("stale inventory")
	err = WithTx(context.Background(), sqlDB, func(q Querier) error {
		return want
	})
	if err != want {
		t.Errorf("WithTx() error = %v, want %v", err, want)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestWithTx_BeginFailure(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer sqlDB.Close()

	mock.ExpectBegin().WillReturnError(stderrors.New("database is locked"))

	called := false
	err = WithTx(context.Background(), sqlDB, func(q Querier) error {
		called = true
		return nil
	})
	if !errors.Is(err, errors.ErrInternal) {
		t.Errorf("WithTx() error = %v, want INTERNAL", err)
	}
	if called {
		t.Error("callback ran without a transaction")
	}
}
