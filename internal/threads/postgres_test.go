package threads

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	scanFunc func(dest ...any) error
}

func (r *fakeRow) Scan(dest ...any) error {
	return r.scanFunc(dest...)
}

type fakeDBTX struct {
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
}

func (d *fakeDBTX) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if d.execFunc != nil {
		return d.execFunc(ctx, sql, args...)
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (d *fakeDBTX) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, nil
}

func (d *fakeDBTX) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if d.queryRowFunc != nil {
		return d.queryRowFunc(ctx, sql, args...)
	}
	return &fakeRow{scanFunc: func(...any) error { return pgx.ErrNoRows }}
}

func TestPostgresStoreGetThread(t *testing.T) {
	t.Parallel()

	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	var gotArgs []any
	store := NewPostgresStore(&fakeDBTX{
		queryRowFunc: func(_ context.Context, sql string, args ...any) pgx.Row {
			gotArgs = args
			return &fakeRow{scanFunc: func(dest ...any) error {
				*dest[0].(*string) = "instagram"
				*dest[1].(*string) = "42"
				*dest[2].(*string) = "7"
				*dest[3].(*string) = "asst_1"
				*dest[4].(*string) = "thread_a"
				*dest[5].(*time.Time) = created
				return nil
			}}
		},
	})

	thread, err := store.GetThread(context.Background(), testKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if thread.Key != testKey || thread.ThreadID != "thread_a" || !thread.CreatedAt.Equal(created) {
		t.Fatalf("unexpected thread: %+v", thread)
	}
	if len(gotArgs) != 3 || gotArgs[0] != "instagram" || gotArgs[1] != "42" || gotArgs[2] != "7" {
		t.Fatalf("unexpected query args: %v", gotArgs)
	}
}

func TestPostgresStoreGetThreadNotFound(t *testing.T) {
	t.Parallel()

	store := NewPostgresStore(&fakeDBTX{})
	if _, err := store.GetThread(context.Background(), testKey); !errors.Is(err, ErrThreadNotFound) {
		t.Fatalf("expected ErrThreadNotFound, got %v", err)
	}
}

func TestPostgresStoreSaveThread(t *testing.T) {
	t.Parallel()

	var gotSQL string
	store := NewPostgresStore(&fakeDBTX{
		execFunc: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			gotSQL = sql
			if len(args) != 7 || args[5] != "thread_a" {
				t.Errorf("unexpected args: %v", args)
			}
			return pgconn.NewCommandTag("INSERT 0 1"), nil
		},
	})
	if err := store.SaveThread(context.Background(), Thread{Key: testKey, AssistantID: "asst_1", ThreadID: "thread_a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(gotSQL, "ON CONFLICT") {
		t.Fatalf("insert must not overwrite existing threads: %s", gotSQL)
	}
}

func TestPostgresStoreSaveThreadConflict(t *testing.T) {
	t.Parallel()

	store := NewPostgresStore(&fakeDBTX{
		execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		},
	})
	err := store.SaveThread(context.Background(), Thread{Key: testKey, AssistantID: "asst_1", ThreadID: "thread_b"})
	if !errors.Is(err, ErrThreadExists) {
		t.Fatalf("expected ErrThreadExists, got %v", err)
	}
}

func TestPostgresStoreSaveThreadError(t *testing.T) {
	t.Parallel()

	store := NewPostgresStore(&fakeDBTX{
		execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, errors.New("connection reset")
		},
	})
	err := store.SaveThread(context.Background(), Thread{Key: testKey, AssistantID: "asst_1", ThreadID: "thread_b"})
	if err == nil || errors.Is(err, ErrThreadExists) {
		t.Fatalf("expected wrapped database error, got %v", err)
	}
}
